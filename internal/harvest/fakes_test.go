package harvest_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/stackharvest/internal/codec"
	"github.com/JakeFAU/stackharvest/internal/harvest"
	"github.com/JakeFAU/stackharvest/internal/stackexchange"
)

// fakeTransport replays scripted question pages and synthesizes one answer
// per question.
type fakeTransport struct {
	mu        sync.Mutex
	questions []harvest.Outcome
	fallback  *harvest.Outcome
	onCall    func(url string) (harvest.Outcome, bool)
	calls     []string
}

func (f *fakeTransport) Get(_ context.Context, rawURL string) harvest.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	if f.onCall != nil {
		if out, ok := f.onCall(rawURL); ok {
			return out
		}
	}
	if id, ok := answerQuestionID(rawURL); ok {
		ans := codec.ObjectValue(codec.NewObject().
			Set("answer_id", codec.Int(id*10)).
			Set("body", codec.String("answer body")).
			Set("score", codec.Int(id)).
			Set("is_accepted", codec.Bool(true)))
		return success(pageBody([]codec.Value{ans}, false, -1))
	}
	if len(f.questions) == 0 {
		if f.fallback != nil {
			return *f.fallback
		}
		return success(pageBody(nil, false, -1))
	}
	out := f.questions[0]
	f.questions = f.questions[1:]
	return out
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) questionCalls() []string {
	var out []string
	for _, c := range f.Calls() {
		if _, ok := answerQuestionID(c); !ok {
			out = append(out, c)
		}
	}
	return out
}

func answerQuestionID(rawURL string) (int64, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || !strings.HasSuffix(u.Path, "/answers") {
		return 0, false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	return id, err == nil
}

func pageBody(items []codec.Value, hasMore bool, quota int) []byte {
	obj := codec.NewObject().
		Set("items", codec.Array(items...)).
		Set("has_more", codec.Bool(hasMore))
	if quota >= 0 {
		obj.Set("quota_remaining", codec.Int(int64(quota)))
	}
	return codec.EncodeCompact(codec.ObjectValue(obj))
}

func success(body []byte) harvest.Outcome {
	return harvest.Outcome{Kind: harvest.OutcomeSuccess, StatusCode: http.StatusOK, Body: body}
}

func status(code int) harvest.Outcome {
	return harvest.Outcome{Kind: harvest.ClassifyStatus(code), StatusCode: code, Err: errors.New(http.StatusText(code))}
}

func questionItem(id int64) codec.Value {
	return codec.ObjectValue(codec.NewObject().
		Set("question_id", codec.Int(id)).
		Set("title", codec.String("question "+strconv.FormatInt(id, 10))).
		Set("body", codec.String("<p>body</p>")).
		Set("tags", codec.Array(codec.String("java"), codec.String("generics"))).
		Set("creation_date", codec.Int(1262304000+id)).
		Set("score", codec.Int(100-id)).
		Set("view_count", codec.Int(1000)).
		Set("answer_count", codec.Int(1)).
		Set("is_answered", codec.Bool(true)).
		Set("owner", codec.ObjectValue(codec.NewObject().
			Set("user_id", codec.Int(7)).
			Set("display_name", codec.String("asker")).
			Set("reputation", codec.Int(1500)))))
}

func questionItems(ids ...int64) []codec.Value {
	out := make([]codec.Value, 0, len(ids))
	for _, id := range ids {
		out = append(out, questionItem(id))
	}
	return out
}

func itemIDs(items []codec.Value) []int64 {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, it.Field("question_id").IntOr(-1))
	}
	return out
}

func questionIDs(qs []harvest.Question) []int64 {
	out := make([]int64, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.ID)
	}
	return out
}

// fakeClock advances virtual time instead of sleeping.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) sleepsOf(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sleeps {
		if s == d {
			n++
		}
	}
	return n
}

// fakeCheckpointer records every snapshot it is handed.
type fakeCheckpointer struct {
	mu        sync.Mutex
	snapshots [][]harvest.Question
	ctxErrs   []error
	err       error
	// failFirst makes only the first n saves return err.
	failFirst int
}

func (f *fakeCheckpointer) Save(ctx context.Context, questions []harvest.Question) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, append([]harvest.Question(nil), questions...))
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.failFirst > 0 && len(f.snapshots) > f.failFirst {
		return nil
	}
	return f.err
}

func (f *fakeCheckpointer) last(t *testing.T) []harvest.Question {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.snapshots)
	return f.snapshots[len(f.snapshots)-1]
}

func (f *fakeCheckpointer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snapshots)
}

func stubQueries(t *testing.T) *stackexchange.Builder {
	t.Helper()
	b, err := stackexchange.New(stackexchange.Config{BaseURL: "http://stub.invalid/2.3", Filter: stackexchange.DefaultFilter})
	require.NoError(t, err)
	return b
}

func questionsQuery(page, pageSize int) string {
	return "http://stub.invalid/2.3/questions?page=" + strconv.Itoa(page) + "&pagesize=" + strconv.Itoa(pageSize)
}
