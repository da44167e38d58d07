package harvest

import (
	"context"
	"time"
)

// Transport issues one GET and classifies the result. It never retries.
type Transport interface {
	Get(ctx context.Context, url string) Outcome
}

// RateLimiter gates every upstream call. Implementations are shared by all
// workers of a run.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// Clock supplies wall time and context-aware sleeps.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Checkpointer persists a snapshot of the accumulated result. It must not
// retain or mutate the slice.
type Checkpointer interface {
	Save(ctx context.Context, questions []Question) error
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

type noopLimiter struct{}

func (noopLimiter) Wait(ctx context.Context) error { return ctx.Err() }
