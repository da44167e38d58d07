package stackexchange_test

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/stackharvest/internal/stackexchange"
)

func parse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestQuestionsURL(t *testing.T) {
	t.Parallel()
	b, err := stackexchange.New(stackexchange.Config{Key: "secret", Filter: stackexchange.DefaultFilter})
	require.NoError(t, err)

	minScore := 5
	query := b.Questions(stackexchange.QuestionQuery{
		Tag:      "java",
		MinScore: &minScore,
		FromDate: 1262304000,
		ToDate:   1293839999,
	})
	u := parse(t, query(3, 50))

	assert.Equal(t, "api.stackexchange.com", u.Host)
	assert.Equal(t, "/2.3/questions", u.Path)
	q := u.Query()
	assert.Equal(t, "3", q.Get("page"))
	assert.Equal(t, "50", q.Get("pagesize"))
	assert.Equal(t, "votes", q.Get("sort"))
	assert.Equal(t, "desc", q.Get("order"))
	assert.Equal(t, "java", q.Get("tagged"))
	assert.Equal(t, "stackoverflow", q.Get("site"))
	assert.Equal(t, "!nNPvSNdWme", q.Get("filter"))
	assert.Equal(t, "5", q.Get("min"))
	assert.Equal(t, "1262304000", q.Get("fromdate"))
	assert.Equal(t, "1293839999", q.Get("todate"))
	assert.Equal(t, "secret", q.Get("key"))
}

func TestQuestionsURLOmitsUnsetScope(t *testing.T) {
	t.Parallel()
	b, err := stackexchange.New(stackexchange.Config{BaseURL: "http://127.0.0.1:9999/api/", Site: "superuser"})
	require.NoError(t, err)

	u := parse(t, b.Questions(stackexchange.QuestionQuery{})(0, 500))
	assert.Equal(t, "/api/questions", u.Path)
	q := u.Query()
	assert.Equal(t, "1", q.Get("page"))
	assert.Equal(t, "100", q.Get("pagesize"))
	assert.Equal(t, "superuser", q.Get("site"))
	for _, key := range []string{"tagged", "min", "fromdate", "todate", "key", "filter"} {
		assert.False(t, q.Has(key), key)
	}
}

func TestAnswersURL(t *testing.T) {
	t.Parallel()
	b, err := stackexchange.New(stackexchange.Config{})
	require.NoError(t, err)

	u := parse(t, b.Answers(11227809)(2, 100))
	assert.Equal(t, "/2.3/questions/11227809/answers", u.Path)
	q := u.Query()
	assert.Equal(t, "creation", q.Get("sort"))
	assert.Equal(t, "asc", q.Get("order"))
	assert.Equal(t, "2", q.Get("page"))
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"ftp://example.com", "not a url", "https://", "::"} {
		_, err := stackexchange.New(stackexchange.Config{BaseURL: raw})
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, stackexchange.ErrInvalidBaseURL), raw)
	}
}

func TestClampPageSize(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 100, stackexchange.ClampPageSize(0))
	assert.Equal(t, 1, stackexchange.ClampPageSize(1))
	assert.Equal(t, 100, stackexchange.ClampPageSize(1000))
}
