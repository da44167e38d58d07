package harvest

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/stackharvest/internal/codec"
	"github.com/JakeFAU/stackharvest/internal/metrics"
	"github.com/JakeFAU/stackharvest/internal/telemetry"
)

// PageSpec describes one logical paginated query.
type PageSpec struct {
	// Name labels logs, metrics and spans ("questions", "answers").
	Name string
	// Query builds the URL for a 1-based page.
	Query    func(page, pageSize int) string
	Limit    int // 0 means unlimited
	PageSize int
	// Guard, when set, is consulted before every page after the first. A
	// non-empty StopReason ends the fetch.
	Guard func() StopReason
}

// PageResult is what a paginated fetch produced and why it stopped.
type PageResult struct {
	Items []codec.Value
	Pages int
	Stop  StopReason
}

// PagerConfig wires a Pager.
type PagerConfig struct {
	Transport   Transport
	Limiter     RateLimiter
	Clock       Clock
	Quota       *QuotaTracker
	Budget      *CallBudget
	Retry       RetryPolicy
	PageDelay   time.Duration
	LenientJSON bool
	Logger      *zap.Logger
	Tracer      trace.Tracer
}

// Pager drives repeated transport calls across the pages of a query.
type Pager struct {
	transport Transport
	limiter   RateLimiter
	clock     Clock
	quota     *QuotaTracker
	budget    *CallBudget
	retry     RetryPolicy
	pageDelay time.Duration
	decoder   codec.Decoder
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewPager validates cfg and fills in defaults for optional collaborators.
func NewPager(cfg PagerConfig) (*Pager, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrInvalidConfig)
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("%w: clock is required", ErrInvalidConfig)
	}
	if cfg.PageDelay < 0 {
		return nil, fmt.Errorf("%w: page delay must be >= 0", ErrInvalidConfig)
	}
	if cfg.Retry.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries must be >= 0", ErrInvalidConfig)
	}
	p := &Pager{
		transport: cfg.Transport,
		limiter:   cfg.Limiter,
		clock:     cfg.Clock,
		quota:     cfg.Quota,
		budget:    cfg.Budget,
		retry:     cfg.Retry,
		pageDelay: cfg.PageDelay,
		decoder:   codec.Decoder{Lenient: cfg.LenientJSON},
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
	}
	if p.limiter == nil {
		p.limiter = noopLimiter{}
	}
	if p.quota == nil {
		p.quota = NewQuotaTracker(0, 0)
	}
	if p.budget == nil {
		p.budget = NewCallBudget(0)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.tracer == nil {
		p.tracer = telemetry.Tracer()
	}
	return p, nil
}

// Quota exposes the tracker shared by every fetch of this pager.
func (p *Pager) Quota() *QuotaTracker { return p.quota }

// Budget exposes the call budget shared by every fetch of this pager.
func (p *Pager) Budget() *CallBudget { return p.budget }

// FetchPages collects every item of spec in arrival order, capped at spec.Limit.
// The only error returned is context cancellation; every other failure is a
// stop reason alongside the items accumulated so far.
func (p *Pager) FetchPages(ctx context.Context, spec PageSpec) (PageResult, error) {
	var items []codec.Value
	res, err := p.Each(ctx, spec, func(_ int, page []codec.Value) error {
		items = append(items, page...)
		return nil
	})
	res.Items = items
	return res, err
}

// Each streams the items of every page to fn, already capped at spec.Limit.
// An error from fn ends the fetch and is returned as is.
func (p *Pager) Each(ctx context.Context, spec PageSpec, fn func(page int, items []codec.Value) error) (PageResult, error) {
	if spec.Query == nil {
		return PageResult{Stop: StopFatal}, fmt.Errorf("%w: page query is required", ErrInvalidConfig)
	}
	logger := p.logger.With(zap.String("endpoint", spec.Name))
	var (
		res       PageResult
		delivered int
	)
	finish := func(stop StopReason, err error) (PageResult, error) {
		res.Stop = stop
		metrics.ObserveFetchStop(spec.Name, string(stop))
		logger.Debug("paginated fetch finished",
			zap.String("stop", string(stop)),
			zap.Int("pages", res.Pages),
			zap.Int("items", delivered),
		)
		return res, err
	}

	for page := 1; ; page++ {
		if page > 1 {
			if spec.Guard != nil {
				if stop := spec.Guard(); stop != "" {
					return finish(stop, nil)
				}
			}
			if err := p.clock.Sleep(ctx, p.pageDelay); err != nil {
				return finish(StopCanceled, err)
			}
		}

		resp, stop, err := p.fetchPage(ctx, spec, page)
		if err != nil || stop != "" {
			return finish(stop, err)
		}
		res.Pages++

		items := resp.Field("items").Items()
		hasMore := resp.Field("has_more").BoolOr(false)
		logger.Info("fetched page",
			zap.Int("page", page),
			zap.Int("items", len(items)),
			zap.Bool("has_more", hasMore),
			zap.Int("quota_remaining", p.quota.Remaining()),
		)
		if len(items) == 0 {
			return finish(StopEmptyPage, nil)
		}
		if spec.Limit > 0 && delivered+len(items) > spec.Limit {
			items = items[:spec.Limit-delivered]
		}
		if err := fn(page, items); err != nil {
			return finish(StopCanceled, err)
		}
		delivered += len(items)
		if spec.Limit > 0 && delivered >= spec.Limit {
			return finish(StopLimitReached, nil)
		}
		if !hasMore {
			return finish(StopExhausted, nil)
		}
	}
}

// fetchPage performs one page with bounded retry. A non-empty StopReason
// means the fetch must end; the error is set only on cancellation.
func (p *Pager) fetchPage(ctx context.Context, spec PageSpec, page int) (codec.Value, StopReason, error) {
	ctx, span := p.tracer.Start(ctx, "harvest.page", trace.WithAttributes(
		attribute.String("harvest.endpoint", spec.Name),
		attribute.Int("harvest.page", page),
	))
	defer span.End()

	url := spec.Query(page, spec.PageSize)
	logger := p.logger.With(zap.String("endpoint", spec.Name), zap.Int("page", page))
	stopWith := func(stop StopReason, err error) (codec.Value, StopReason, error) {
		span.SetAttributes(attribute.String("harvest.stop", string(stop)))
		if stop.Partial() {
			span.SetStatus(codes.Error, string(stop))
		}
		return codec.Null(), stop, err
	}

	for retries := 0; ; retries++ {
		if err := ctx.Err(); err != nil {
			return stopWith(StopCanceled, err)
		}
		if p.budget.Exhausted() {
			logger.Warn("call budget exhausted", zap.Int("calls", p.budget.Used()))
			return stopWith(StopBudgetExhausted, nil)
		}
		if err := p.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stopWith(StopCanceled, ctxErr)
			}
			// The limiter refuses waits that would overrun the deadline.
			return stopWith(StopCanceled, fmt.Errorf("%w: %w", context.DeadlineExceeded, err))
		}
		// Only calls that actually go out count against the budget.
		if !p.budget.Take() {
			logger.Warn("call budget exhausted", zap.Int("calls", p.budget.Used()))
			return stopWith(StopBudgetExhausted, nil)
		}

		out := p.transport.Get(ctx, url)
		metrics.ObserveUpstreamRequest(spec.Name, out.Kind.String(), out.Duration)
		span.AddEvent("attempt", trace.WithAttributes(
			attribute.String("harvest.outcome", out.Kind.String()),
			attribute.Int("http.status_code", out.StatusCode),
		))

		switch out.Kind {
		case OutcomeSuccess:
			v, err := p.decoder.Decode(out.Body)
			if err != nil {
				logger.Warn("malformed response, treating as no items", zap.Error(err), zap.Int("bytes", len(out.Body)))
				return stopWith(StopMalformed, nil)
			}
			p.quota.Update(v)
			return v, "", nil
		case OutcomeFatal:
			if err := ctx.Err(); err != nil {
				return stopWith(StopCanceled, err)
			}
			logger.Warn("fatal transport error, abandoning fetch",
				zap.Int("status", out.StatusCode),
				zap.Error(out.Err),
			)
			return stopWith(StopFatal, nil)
		}

		if !p.retry.ShouldRetry(out.Kind, retries) {
			logger.Warn("retries exhausted, abandoning fetch",
				zap.String("outcome", out.Kind.String()),
				zap.Int("status", out.StatusCode),
				zap.Int("attempts", retries+1),
			)
			return stopWith(StopRetriesExhausted, nil)
		}
		wait := p.retry.Cooldown(out.Kind, retries)
		metrics.ObserveRetry(spec.Name, out.Kind.String())
		logger.Warn("recoverable upstream failure, cooling down",
			zap.String("outcome", out.Kind.String()),
			zap.Int("status", out.StatusCode),
			zap.Duration("wait", wait),
			zap.Int("retry", retries+1),
		)
		if err := p.clock.Sleep(ctx, wait); err != nil {
			return stopWith(StopCanceled, err)
		}
	}
}
