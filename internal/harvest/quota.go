package harvest

import (
	"sync"

	"github.com/JakeFAU/stackharvest/internal/codec"
	"github.com/JakeFAU/stackharvest/internal/metrics"
)

// Quota defaults match the upstream's daily allowance for keyed requests.
const (
	DefaultInitialQuota   = 10000
	DefaultQuotaThreshold = 50
)

// QuotaTracker holds the last quota_remaining reported upstream. It is safe
// for concurrent use by answer workers.
type QuotaTracker struct {
	mu        sync.Mutex
	remaining int
	threshold int
}

// NewQuotaTracker creates a tracker starting at initial. Non-positive
// arguments fall back to the defaults.
func NewQuotaTracker(initial, threshold int) *QuotaTracker {
	if initial <= 0 {
		initial = DefaultInitialQuota
	}
	if threshold <= 0 {
		threshold = DefaultQuotaThreshold
	}
	metrics.SetQuotaRemaining(initial)
	return &QuotaTracker{remaining: initial, threshold: threshold}
}

// Update reads quota_remaining from a decoded response when present.
// It reports whether the value changed the tracker.
func (q *QuotaTracker) Update(resp codec.Value) bool {
	v := resp.Field("quota_remaining")
	n, ok := v.AsInt()
	if !ok {
		return false
	}
	q.mu.Lock()
	q.remaining = int(n)
	q.mu.Unlock()
	metrics.SetQuotaRemaining(int(n))
	return true
}

// Remaining returns the last known quota.
func (q *QuotaTracker) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.remaining
}

// Threshold returns the safety threshold.
func (q *QuotaTracker) Threshold() int {
	return q.threshold
}

// Low reports whether the remaining quota is below the safety threshold.
func (q *QuotaTracker) Low() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.remaining < q.threshold
}

// CallBudget caps the number of network calls a run may make. A zero limit
// means unlimited.
type CallBudget struct {
	mu    sync.Mutex
	limit int
	used  int
}

// NewCallBudget returns a budget of limit calls.
func NewCallBudget(limit int) *CallBudget {
	if limit < 0 {
		limit = 0
	}
	return &CallBudget{limit: limit}
}

// Take consumes one call and reports whether it was available.
func (b *CallBudget) Take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit > 0 && b.used >= b.limit {
		return false
	}
	b.used++
	return true
}

// Used returns the number of calls consumed.
func (b *CallBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Exhausted reports whether no calls remain.
func (b *CallBudget) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit > 0 && b.used >= b.limit
}
