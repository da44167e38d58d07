package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/stackharvest/internal/codec"
	"github.com/JakeFAU/stackharvest/internal/id/uuid"
	"github.com/JakeFAU/stackharvest/internal/metrics"
	"github.com/JakeFAU/stackharvest/internal/stackexchange"
	"github.com/JakeFAU/stackharvest/internal/telemetry"
)

// Harvest defaults.
const (
	DefaultPerYear                = 500
	DefaultItemDelay              = 50 * time.Millisecond
	DefaultFinalCheckpointTimeout = 30 * time.Second
)

// ErrRunInProgress is returned when a Harvester is asked to start a second run.
var ErrRunInProgress = errors.New("harvest: run already in progress")

// Options tune what a run asks for and how fast it goes.
type Options struct {
	Tag            string
	PageSize       int
	AnswerPageSize int
	// MinScore restricts yearly windows to questions scoring at least this much.
	MinScore      *int
	ItemDelay     time.Duration
	AnswerWorkers int
	// FinalCheckpointTimeout bounds the last write when the run context is already done.
	FinalCheckpointTimeout time.Duration
}

// Config wires a Harvester.
type Config struct {
	Pager        *Pager
	Queries      *stackexchange.Builder
	Checkpointer Checkpointer
	Clock        Clock
	IDs          IDGenerator
	Logger       *zap.Logger
	Tracer       trace.Tracer
	Options      Options
}

// Harvester orchestrates flat and yearly harvests. It runs one harvest at a time.
type Harvester struct {
	pager        *Pager
	queries      *stackexchange.Builder
	checkpointer Checkpointer
	clock        Clock
	ids          IDGenerator
	logger       *zap.Logger
	tracer       trace.Tracer
	opts         Options

	running atomic.Bool
	mu      sync.Mutex
	state   State
}

// New validates cfg and returns a Harvester.
func New(cfg Config) (*Harvester, error) {
	if cfg.Pager == nil {
		return nil, fmt.Errorf("%w: pager is required", ErrInvalidConfig)
	}
	if cfg.Queries == nil {
		return nil, fmt.Errorf("%w: query builder is required", ErrInvalidConfig)
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("%w: clock is required", ErrInvalidConfig)
	}
	opts := cfg.Options
	if opts.PageSize <= 0 {
		opts.PageSize = stackexchange.MaxPageSize
	}
	if opts.AnswerPageSize <= 0 {
		opts.AnswerPageSize = stackexchange.MaxPageSize
	}
	if opts.ItemDelay < 0 {
		return nil, fmt.Errorf("%w: item delay must be >= 0", ErrInvalidConfig)
	}
	if opts.AnswerWorkers <= 0 {
		opts.AnswerWorkers = 1
	}
	if opts.FinalCheckpointTimeout <= 0 {
		opts.FinalCheckpointTimeout = DefaultFinalCheckpointTimeout
	}
	h := &Harvester{
		pager:        cfg.Pager,
		queries:      cfg.Queries,
		checkpointer: cfg.Checkpointer,
		clock:        cfg.Clock,
		ids:          cfg.IDs,
		logger:       cfg.Logger,
		tracer:       cfg.Tracer,
		opts:         opts,
		state:        StateNotStarted,
	}
	if h.ids == nil {
		h.ids = uuid.New()
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.tracer == nil {
		h.tracer = telemetry.Tracer()
	}
	return h, nil
}

// State returns the current state of the state machine.
func (h *Harvester) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Harvester) setState(logger *zap.Logger, next State, fields ...zap.Field) {
	h.mu.Lock()
	prev := h.state
	h.state = next
	h.mu.Unlock()
	if prev == next {
		return
	}
	logger.Info("harvest state", append([]zap.Field{
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
	}, fields...)...)
}

// RunFlat harvests up to target top-voted questions for the configured tag,
// each with all of its answers. It checkpoints after every question page and
// once more at the end.
//
// Failures below the page level end the fetch early but never fail the run:
// the returned questions are whatever was accumulated and the report says
// why it stopped. The error is non-nil only for invalid arguments or when the
// final checkpoint cannot be written.
func (h *Harvester) RunFlat(ctx context.Context, target int) ([]Question, Report, error) {
	if target <= 0 {
		return nil, Report{}, fmt.Errorf("%w: target must be > 0", ErrInvalidConfig)
	}
	r, err := h.begin(ModeFlat)
	if err != nil {
		return nil, Report{}, err
	}
	defer h.running.Store(false)

	ctx, span := h.tracer.Start(ctx, "harvest.run", trace.WithAttributes(
		attribute.String("harvest.run_id", r.id),
		attribute.String("harvest.mode", string(ModeFlat)),
		attribute.Int("harvest.target", target),
	))
	defer span.End()

	h.setState(r.logger, StateFetchingWindow)
	query := stackexchange.QuestionQuery{Tag: h.opts.Tag, Sort: "votes", Order: "desc"}
	wr, err := r.collect(ctx, query, target, nil, true)
	r.report.Windows = append(r.report.Windows, wr)
	r.noteStop(wr.Stop, err)

	return r.finish(ctx, span)
}

// RunYearly harvests up to perYear top-voted questions for each calendar year
// in fromYear..toYear, tagging each question with its year. A checkpoint is
// written after every window; the run halts after the window in progress
// once the quota drops below the safety threshold.
func (h *Harvester) RunYearly(ctx context.Context, fromYear, toYear, perYear int) ([]Question, Report, error) {
	windows, err := YearWindows(fromYear, toYear)
	if err != nil {
		return nil, Report{}, err
	}
	if perYear <= 0 {
		perYear = DefaultPerYear
	}
	r, err := h.begin(ModeYearly)
	if err != nil {
		return nil, Report{}, err
	}
	defer h.running.Store(false)

	ctx, span := h.tracer.Start(ctx, "harvest.run", trace.WithAttributes(
		attribute.String("harvest.run_id", r.id),
		attribute.String("harvest.mode", string(ModeYearly)),
		attribute.Int("harvest.from_year", fromYear),
		attribute.Int("harvest.to_year", toYear),
		attribute.Int("harvest.per_year", perYear),
	))
	defer span.End()

	for _, w := range windows {
		if ctx.Err() != nil {
			r.canceled = true
			break
		}
		wr, err := r.window(ctx, w, perYear)
		r.report.Windows = append(r.report.Windows, wr)
		r.noteStop(wr.Stop, err)
		if r.canceled || r.budgetOut {
			break
		}
		if h.pager.Quota().Low() {
			r.logger.Warn("quota critically low, halting run",
				zap.Int("year", w.Year),
				zap.Int("quota_remaining", h.pager.Quota().Remaining()),
				zap.Int("threshold", h.pager.Quota().Threshold()),
			)
			r.halted = true
			break
		}
	}

	return r.finish(ctx, span)
}

func (h *Harvester) begin(mode Mode) (*run, error) {
	if !h.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	id, err := h.ids.NewID()
	if err != nil {
		h.running.Store(false)
		return nil, fmt.Errorf("run id: %w", err)
	}
	h.mu.Lock()
	h.state = StateNotStarted
	h.mu.Unlock()
	r := &run{
		h:      h,
		id:     id,
		start:  h.clock.Now(),
		logger: h.logger.With(zap.String("run_id", id), zap.String("mode", string(mode))),
		report: Report{RunID: id, Mode: mode},
	}
	r.logger.Info("harvest starting",
		zap.String("tag", h.opts.Tag),
		zap.Int("page_size", h.opts.PageSize),
		zap.Int("answer_workers", h.opts.AnswerWorkers),
		zap.Int("quota_remaining", h.pager.Quota().Remaining()),
	)
	return r, nil
}

// run holds the mutable state of a single harvest.
type run struct {
	h       *Harvester
	id      string
	start   time.Time
	logger  *zap.Logger
	result  []Question
	answers int
	report  Report

	canceled  bool
	halted    bool
	budgetOut bool
}

func (r *run) window(ctx context.Context, w FetchWindow, perYear int) (WindowReport, error) {
	h := r.h
	ctx, span := h.tracer.Start(ctx, "harvest.window", trace.WithAttributes(
		attribute.Int("harvest.year", w.Year),
		attribute.Int64("harvest.from", w.From),
		attribute.Int64("harvest.to", w.To),
	))
	defer span.End()

	logger := r.logger.With(zap.Int("year", w.Year))
	h.setState(logger, StateFetchingWindow)
	year := w.Year
	query := stackexchange.QuestionQuery{
		Tag:      h.opts.Tag,
		Sort:     "votes",
		Order:    "desc",
		MinScore: h.opts.MinScore,
		FromDate: w.From,
		// The upstream todate is inclusive.
		ToDate: w.LastSecond(),
	}
	wr, err := r.collect(ctx, query, perYear, &year, false)
	span.SetAttributes(
		attribute.Int("harvest.questions", wr.Questions),
		attribute.String("harvest.stop", string(wr.Stop)),
	)
	if wr.Partial {
		span.SetStatus(codes.Error, string(wr.Stop))
	}
	logger.Info("window finished",
		zap.Int("questions", wr.Questions),
		zap.Int("answers", wr.Answers),
		zap.String("stop", string(wr.Stop)),
		zap.Int("total", len(r.result)),
	)
	if err != nil {
		// The final checkpoint covers a canceled window.
		return wr, err
	}
	h.setState(logger, StateCheckpointing)
	wr.Checkpoint = r.checkpoint(ctx, "window")
	return wr, nil
}

// collect fetches one question listing and enriches every item with its answers.
func (r *run) collect(ctx context.Context, query stackexchange.QuestionQuery, limit int, year *int, checkpointEachPage bool) (WindowReport, error) {
	h := r.h
	wr := WindowReport{}
	if year != nil {
		wr.Year = *year
	}
	spec := PageSpec{
		Name:     "questions",
		Query:    h.queries.Questions(query),
		Limit:    limit,
		PageSize: h.opts.PageSize,
		Guard:    h.guard,
	}
	res, err := h.pager.Each(ctx, spec, func(_ int, items []codec.Value) error {
		batch, answers, partial, err := r.enrich(ctx, items, year)
		r.result = append(r.result, batch...)
		r.answers += answers
		wr.Questions += len(batch)
		wr.Answers += answers
		wr.Partial = wr.Partial || partial
		metrics.AddCollected(len(batch), answers)
		if err != nil {
			return err
		}
		if checkpointEachPage {
			h.setState(r.logger, StateCheckpointing)
			if ckErr := r.checkpoint(ctx, "page"); ckErr != nil {
				wr.Checkpoint = ckErr
			}
			h.setState(r.logger, StateFetchingWindow)
		}
		return nil
	})
	wr.Stop = res.Stop
	wr.Partial = wr.Partial || res.Stop.Partial()
	return wr, err
}

// guard stops question pagination once quota or call budget run low.
func (h *Harvester) guard() StopReason {
	if h.pager.Quota().Low() {
		return StopQuotaLow
	}
	if h.pager.Budget().Exhausted() {
		return StopBudgetExhausted
	}
	return ""
}

// enrich maps a page of items to questions and attaches their answers. On
// cancellation it returns the questions completed so far.
func (r *run) enrich(ctx context.Context, items []codec.Value, year *int) ([]Question, int, bool, error) {
	h := r.h
	h.setState(r.logger, StateFetchingSubResource, zap.Int("questions", len(items)))
	defer h.setState(r.logger, StateFetchingWindow)

	if h.opts.AnswerWorkers > 1 {
		return r.enrichParallel(ctx, items, year)
	}
	out := make([]Question, 0, len(items))
	answers := 0
	partial := false
	for i, item := range items {
		if i > 0 {
			if err := h.clock.Sleep(ctx, h.opts.ItemDelay); err != nil {
				return out, answers, partial, err
			}
		}
		q, stop, err := r.question(ctx, item, year)
		if err != nil {
			return out, answers, partial, err
		}
		partial = partial || r.noteAnswerStop(stop)
		answers += len(q.Answers)
		out = append(out, q)
	}
	return out, answers, partial, nil
}

func (r *run) enrichParallel(ctx context.Context, items []codec.Value, year *int) ([]Question, int, bool, error) {
	h := r.h
	questions := make([]Question, len(items))
	stops := make([]StopReason, len(items))
	done := make([]bool, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.opts.AnswerWorkers)
	for i, item := range items {
		g.Go(func() error {
			q, stop, err := r.question(gctx, item, year)
			if err != nil {
				return err
			}
			questions[i], stops[i], done[i] = q, stop, true
			return h.clock.Sleep(gctx, h.opts.ItemDelay)
		})
	}
	err := g.Wait()

	out := make([]Question, 0, len(items))
	answers := 0
	partial := false
	for i := range items {
		if !done[i] {
			continue
		}
		partial = partial || r.noteAnswerStop(stops[i])
		answers += len(questions[i].Answers)
		out = append(out, questions[i])
	}
	return out, answers, partial, err
}

// question maps one item and fetches all of its answers.
func (r *run) question(ctx context.Context, item codec.Value, year *int) (Question, StopReason, error) {
	h := r.h
	q := QuestionFromValue(item)
	res, err := h.pager.FetchPages(ctx, PageSpec{
		Name:     "answers",
		Query:    h.queries.Answers(q.ID),
		PageSize: h.opts.AnswerPageSize,
	})
	if err != nil {
		return Question{}, res.Stop, err
	}
	q.Answers = AnswersFromValues(res.Items)
	for i := range q.Answers {
		if q.Answers[i].ParentID == 0 {
			q.Answers[i].ParentID = q.ID
		}
	}
	q.CollectedAt = h.clock.Now().UnixMilli()
	if year != nil {
		y := *year
		q.YearGroup = &y
	}
	return q, res.Stop, nil
}

// noteAnswerStop records run-level consequences of an answer fetch and
// reports whether it left the question incomplete.
func (r *run) noteAnswerStop(stop StopReason) bool {
	if stop == StopBudgetExhausted {
		r.budgetOut = true
	}
	if stop.Partial() {
		r.logger.Debug("answers incomplete", zap.String("stop", string(stop)))
		return true
	}
	return false
}

func (r *run) noteStop(stop StopReason, err error) {
	switch {
	case err != nil || stop == StopCanceled:
		r.canceled = true
	case stop == StopQuotaLow:
		r.halted = true
	case stop == StopBudgetExhausted:
		r.budgetOut = true
	}
}

// checkpoint saves a snapshot of the result. A finished run context is
// replaced by a short-lived one so the write still happens.
func (r *run) checkpoint(ctx context.Context, reason string) error {
	h := r.h
	if h.checkpointer == nil {
		return nil
	}
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), h.opts.FinalCheckpointTimeout)
		defer cancel()
	}
	snapshot := r.result[:len(r.result):len(r.result)]
	if err := h.checkpointer.Save(ctx, snapshot); err != nil {
		r.logger.Error("checkpoint failed", zap.String("reason", reason), zap.Int("questions", len(snapshot)), zap.Error(err))
		return err
	}
	r.logger.Info("checkpoint written", zap.String("reason", reason), zap.Int("questions", len(snapshot)))
	return nil
}

func (r *run) finish(ctx context.Context, span trace.Span) ([]Question, Report, error) {
	h := r.h
	final := StateDone
	switch {
	case r.canceled || ctx.Err() != nil:
		final = StateCanceled
	case r.halted:
		final = StateHaltedOnQuota
	case r.budgetOut:
		final = StateBudgetExhausted
	}

	h.setState(r.logger, StateCheckpointing)
	ckErr := r.checkpoint(ctx, "final")
	h.setState(r.logger, final)

	rep := r.report
	rep.State = final
	rep.Questions = len(r.result)
	rep.Answers = r.answers
	rep.Calls = h.pager.Budget().Used()
	rep.Quota = h.pager.Quota().Remaining()
	rep.Duration = h.clock.Now().Sub(r.start)
	rep.CheckpointErr = ckErr
	rep.Partial = final != StateDone
	for _, w := range rep.Windows {
		rep.Partial = rep.Partial || w.Partial
	}

	span.SetAttributes(
		attribute.String("harvest.state", string(final)),
		attribute.Int("harvest.questions", rep.Questions),
		attribute.Int("harvest.answers", rep.Answers),
		attribute.Bool("harvest.partial", rep.Partial),
	)
	r.logger.Info("harvest finished",
		zap.String("state", string(final)),
		zap.Int("questions", rep.Questions),
		zap.Int("answers", rep.Answers),
		zap.Int("calls", rep.Calls),
		zap.Int("quota_remaining", rep.Quota),
		zap.Bool("partial", rep.Partial),
		zap.Duration("duration", rep.Duration),
	)

	if ckErr != nil {
		span.SetStatus(codes.Error, "final checkpoint failed")
		return r.result, rep, fmt.Errorf("final checkpoint: %w", ckErr)
	}
	return r.result, rep, nil
}
