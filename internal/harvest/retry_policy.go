package harvest

import (
	"math"
	"time"
)

// Retry defaults: one initial attempt plus three retries per page.
const (
	DefaultMaxRetries          = 3
	DefaultRateLimitCooldown   = 60 * time.Second
	DefaultServerErrorCooldown = 5 * time.Second
)

// RetryPolicy decides whether a failed page call is retried and how long to
// cool down first. Only rate-limited and server-error outcomes are retried.
type RetryPolicy struct {
	MaxRetries          int
	RateLimitCooldown   time.Duration
	ServerErrorCooldown time.Duration
	// BackoffFactor multiplies the cooldown on each further retry of the same
	// page. Values <= 1 keep the cooldown fixed.
	BackoffFactor float64
	MaxCooldown   time.Duration
}

// NewRetryPolicy returns the fixed-cooldown policy used by default.
func NewRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:          DefaultMaxRetries,
		RateLimitCooldown:   DefaultRateLimitCooldown,
		ServerErrorCooldown: DefaultServerErrorCooldown,
		BackoffFactor:       1,
	}
}

// ShouldRetry reports whether an outcome of kind may be retried after
// retries earlier retries of the same page.
func (p RetryPolicy) ShouldRetry(kind OutcomeKind, retries int) bool {
	if kind != OutcomeRateLimited && kind != OutcomeServerError {
		return false
	}
	return retries < p.MaxRetries
}

// Cooldown returns the wait before retry number retry (0-based) after kind.
func (p RetryPolicy) Cooldown(kind OutcomeKind, retry int) time.Duration {
	base := p.ServerErrorCooldown
	if kind == OutcomeRateLimited {
		base = p.RateLimitCooldown
	}
	if base <= 0 {
		return 0
	}
	if p.BackoffFactor <= 1 || retry <= 0 {
		return base
	}
	delay := float64(base) * math.Pow(p.BackoffFactor, float64(retry))
	if p.MaxCooldown > 0 && delay > float64(p.MaxCooldown) {
		return p.MaxCooldown
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
