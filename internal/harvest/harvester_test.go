package harvest_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/stackharvest/internal/harvest"
)

type staticIDs struct{}

func (staticIDs) NewID() (string, error) { return "run-1", nil }

type harness struct {
	transport *fakeTransport
	clock     *fakeClock
	ckpt      *fakeCheckpointer
	harvester *harvest.Harvester
}

func newHarness(t *testing.T, tr *fakeTransport, quota *harvest.QuotaTracker, tracer trace.Tracer, mutate func(*harvest.Options)) *harness {
	t.Helper()
	clk := newFakeClock()
	pager, err := harvest.NewPager(harvest.PagerConfig{
		Transport: tr,
		Clock:     clk,
		Quota:     quota,
		Retry:     harvest.NewRetryPolicy(),
		Logger:    zaptest.NewLogger(t),
		Tracer:    tracer,
	})
	require.NoError(t, err)

	opts := harvest.Options{Tag: "java", PageSize: 2, AnswerPageSize: 100}
	if mutate != nil {
		mutate(&opts)
	}
	ckpt := &fakeCheckpointer{}
	h, err := harvest.New(harvest.Config{
		Pager:        pager,
		Queries:      stubQueries(t),
		Checkpointer: ckpt,
		Clock:        clk,
		IDs:          staticIDs{},
		Logger:       zaptest.NewLogger(t),
		Tracer:       tracer,
		Options:      opts,
	})
	require.NoError(t, err)
	return &harness{transport: tr, clock: clk, ckpt: ckpt, harvester: h}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	_, err := harvest.New(harvest.Config{})
	require.ErrorIs(t, err, harvest.ErrInvalidConfig)

	h := newHarness(t, &fakeTransport{}, nil, nil, nil)
	_, _, err = h.harvester.RunFlat(context.Background(), 0)
	require.ErrorIs(t, err, harvest.ErrInvalidConfig)
	_, _, err = h.harvester.RunYearly(context.Background(), 2012, 2010, 10)
	require.ErrorIs(t, err, harvest.ErrInvalidConfig)
	assert.Equal(t, harvest.StateNotStarted, h.harvester.State())
}

func TestRunFlat_CollectsTargetWithAnswers(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{questions: []harvest.Outcome{
		success(pageBody(questionItems(1, 2), true, 990)),
		success(pageBody(questionItems(3, 4), true, 980)),
		success(pageBody(questionItems(5, 6), false, 970)),
	}}
	h := newHarness(t, tr, nil, nil, nil)

	questions, report, err := h.harvester.RunFlat(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, questionIDs(questions))
	for _, q := range questions {
		require.NotNil(t, q.Answers)
		require.Len(t, q.Answers, 1)
		assert.Equal(t, q.ID*10, q.Answers[0].ID)
		assert.Equal(t, q.ID, q.Answers[0].ParentID)
		assert.Positive(t, q.CollectedAt)
		assert.Nil(t, q.YearGroup)
	}

	qCalls := tr.questionCalls()
	require.Len(t, qCalls, 3)
	assert.Contains(t, qCalls[0], "tagged=java")
	assert.Contains(t, qCalls[0], "sort=votes")
	assert.Len(t, tr.Calls(), 8, "three question pages plus one answer call per kept question")

	assert.Equal(t, harvest.StateDone, report.State)
	assert.Equal(t, harvest.StateDone, h.harvester.State())
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, harvest.ModeFlat, report.Mode)
	assert.Equal(t, 5, report.Questions)
	assert.Equal(t, 5, report.Answers)
	assert.Equal(t, 8, report.Calls)
	assert.Equal(t, 970, report.Quota)
	assert.False(t, report.Partial)
	require.Len(t, report.Windows, 1)
	assert.Equal(t, harvest.StopLimitReached, report.Windows[0].Stop)

	assert.Equal(t, 4, h.ckpt.count(), "one checkpoint per page plus the final one")
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, questionIDs(h.ckpt.last(t)))
	assert.Len(t, h.ckpt.snapshots[0], 2)
}

func TestRunFlat_ParallelAnswerWorkersKeepOrder(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{questions: []harvest.Outcome{
		success(pageBody(questionItems(1, 2, 3, 4), false, -1)),
	}}
	h := newHarness(t, tr, nil, nil, func(o *harvest.Options) {
		o.PageSize = 4
		o.AnswerWorkers = 3
	})

	questions, report, err := h.harvester.RunFlat(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, questionIDs(questions))
	for _, q := range questions {
		require.Len(t, q.Answers, 1)
		assert.Equal(t, q.ID, q.Answers[0].ParentID)
	}
	assert.Equal(t, harvest.StateDone, report.State)
	assert.Equal(t, harvest.StopExhausted, report.Windows[0].Stop)
}

func TestRunYearly_TagsEachWindow(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{questions: []harvest.Outcome{
		success(pageBody(questionItems(1), true, -1)),
		success(pageBody(questionItems(2), true, -1)),
		success(pageBody(questionItems(3), true, -1)),
	}}
	minScore := 5
	h := newHarness(t, tr, nil, nil, func(o *harvest.Options) { o.MinScore = &minScore })

	questions, report, err := h.harvester.RunYearly(context.Background(), 2010, 2012, 1)
	require.NoError(t, err)

	require.Len(t, questions, 3)
	for i, q := range questions {
		require.NotNil(t, q.YearGroup)
		assert.Equal(t, 2010+i, *q.YearGroup)
	}

	qCalls := tr.questionCalls()
	require.Len(t, qCalls, 3)
	assert.Contains(t, qCalls[0], "fromdate=1262304000")
	assert.Contains(t, qCalls[0], "todate=1293839999")
	assert.Contains(t, qCalls[0], "min=5")
	assert.Contains(t, qCalls[2], "fromdate=1325376000")

	assert.Equal(t, harvest.StateDone, report.State)
	assert.Equal(t, harvest.ModeYearly, report.Mode)
	require.Len(t, report.Windows, 3)
	for i, w := range report.Windows {
		assert.Equal(t, 2010+i, w.Year)
		assert.Equal(t, harvest.StopLimitReached, w.Stop)
		assert.Equal(t, 1, w.Questions)
	}
	assert.Equal(t, 4, h.ckpt.count(), "one checkpoint per window plus the final one")
	assert.Len(t, h.ckpt.snapshots[0], 1)
	assert.Len(t, h.ckpt.last(t), 3)
}

func TestRunYearly_HaltsWhenQuotaLow(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{questions: []harvest.Outcome{
		success(pageBody(questionItems(1), false, 40)),
	}}
	h := newHarness(t, tr, harvest.NewQuotaTracker(1000, 50), nil, nil)

	questions, report, err := h.harvester.RunYearly(context.Background(), 2010, 2012, 500)
	require.NoError(t, err)

	require.Len(t, questions, 1)
	assert.Equal(t, 2010, *questions[0].YearGroup)
	assert.Len(t, tr.Calls(), 2, "one question page and one answer page")
	assert.Equal(t, harvest.StateHaltedOnQuota, report.State)
	assert.True(t, report.Partial)
	assert.Equal(t, 40, report.Quota)
	require.Len(t, report.Windows, 1)
	assert.Equal(t, 2, h.ckpt.count(), "the halted window is still checkpointed")
	assert.Len(t, h.ckpt.snapshots[0], 1)
}

func TestRunFlat_CanceledMidRunStillCheckpoints(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := &fakeTransport{
		questions: []harvest.Outcome{success(pageBody(questionItems(1, 2), true, -1))},
		onCall: func(url string) (harvest.Outcome, bool) {
			if strings.Contains(url, "/questions/2/answers") {
				cancel()
				return harvest.Outcome{Kind: harvest.OutcomeFatal, Err: context.Canceled}, true
			}
			return harvest.Outcome{}, false
		},
	}
	h := newHarness(t, tr, nil, nil, nil)

	questions, report, err := h.harvester.RunFlat(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, questionIDs(questions), "the in-flight question is dropped")
	assert.Equal(t, harvest.StateCanceled, report.State)
	assert.True(t, report.Partial)
	require.Equal(t, 1, h.ckpt.count())
	assert.NoError(t, h.ckpt.ctxErrs[0], "final checkpoint runs on a live context")
	assert.Len(t, h.ckpt.last(t), 1)
}

func TestRunFlat_BudgetExhausted(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{questions: []harvest.Outcome{
		success(pageBody(questionItems(1, 2), true, -1)),
		success(pageBody(questionItems(3, 4), true, -1)),
	}}
	clk := newFakeClock()
	pager, err := harvest.NewPager(harvest.PagerConfig{
		Transport: tr,
		Clock:     clk,
		Budget:    harvest.NewCallBudget(3),
		Retry:     harvest.NewRetryPolicy(),
	})
	require.NoError(t, err)
	h, err := harvest.New(harvest.Config{
		Pager:   pager,
		Queries: stubQueries(t),
		Clock:   clk,
		Options: harvest.Options{Tag: "java", PageSize: 2},
	})
	require.NoError(t, err)

	questions, report, err := h.RunFlat(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, questionIDs(questions))
	assert.Equal(t, harvest.StateBudgetExhausted, report.State)
	assert.Equal(t, 3, report.Calls)
	assert.True(t, report.Partial)
}

func TestRunFlat_FinalCheckpointFailure(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{questions: []harvest.Outcome{
		success(pageBody(questionItems(1), false, -1)),
	}}
	h := newHarness(t, tr, nil, nil, nil)
	diskFull := errors.New("disk full")
	h.ckpt.err = diskFull

	questions, report, err := h.harvester.RunFlat(context.Background(), 5)
	require.ErrorIs(t, err, diskFull)
	assert.Len(t, questions, 1, "results are returned alongside the error")
	assert.ErrorIs(t, report.CheckpointErr, diskFull)
}

func TestRunFlat_PageCheckpointFailureIsReported(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{questions: []harvest.Outcome{
		success(pageBody(questionItems(1, 2), true, -1)),
		success(pageBody(questionItems(3), false, -1)),
	}}
	h := newHarness(t, tr, nil, nil, nil)
	diskFull := errors.New("disk full")
	h.ckpt.err = diskFull
	h.ckpt.failFirst = 1

	questions, report, err := h.harvester.RunFlat(context.Background(), 5)
	require.NoError(t, err, "the final checkpoint succeeded")
	assert.Len(t, questions, 3)
	assert.NoError(t, report.CheckpointErr)
	require.Len(t, report.Windows, 1)
	assert.ErrorIs(t, report.Windows[0].Checkpoint, diskFull)
	assert.Equal(t, 3, h.ckpt.count(), "two page checkpoints plus the final one")
}

func TestRun_EmitsSpans(t *testing.T) {
	t.Parallel()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	tr := &fakeTransport{questions: []harvest.Outcome{
		success(pageBody(questionItems(1), false, -1)),
	}}
	h := newHarness(t, tr, nil, provider.Tracer("test"), nil)
	_, _, err := h.harvester.RunYearly(context.Background(), 2020, 2020, 10)
	require.NoError(t, err)

	names := map[string]int{}
	for _, span := range recorder.Ended() {
		names[span.Name()]++
	}
	assert.Equal(t, 1, names["harvest.run"])
	assert.Equal(t, 1, names["harvest.window"])
	assert.Equal(t, 2, names["harvest.page"], "one question page and one answer page")
}
