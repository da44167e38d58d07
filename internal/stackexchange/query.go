// Package stackexchange builds request URLs for the Stack Exchange 2.3 API.
package stackexchange

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Defaults for the public API.
const (
	DefaultBaseURL = "https://api.stackexchange.com/2.3"
	DefaultSite    = "stackoverflow"
	DefaultFilter  = "!nNPvSNdWme"
	MaxPageSize    = 100
)

// ErrInvalidBaseURL is returned when the configured endpoint cannot be used.
var ErrInvalidBaseURL = errors.New("stackexchange: invalid base url")

// Config controls the parameters sent with every request.
type Config struct {
	BaseURL string
	Site    string
	Filter  string
	Key     string
}

// Builder produces page-addressable URLs for questions and answers.
type Builder struct {
	base   *url.URL
	site   string
	filter string
	key    string
}

// New validates cfg and returns a Builder.
func New(cfg Config) (*Builder, error) {
	raw := cfg.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q needs an http(s) scheme and host", ErrInvalidBaseURL, raw)
	}
	site := cfg.Site
	if site == "" {
		site = DefaultSite
	}
	return &Builder{base: u, site: site, filter: cfg.Filter, key: cfg.Key}, nil
}

// QuestionQuery scopes a question listing.
type QuestionQuery struct {
	Tag   string
	Sort  string // votes, creation, activity
	Order string // desc, asc
	// MinScore applies the upstream min parameter to the sort field when set.
	MinScore *int
	// FromDate and ToDate are inclusive epoch seconds; zero omits them.
	FromDate int64
	ToDate   int64
}

// Questions returns a page URL builder for /questions.
func (b *Builder) Questions(q QuestionQuery) func(page, pageSize int) string {
	return func(page, pageSize int) string {
		params := b.common(page, pageSize)
		params.Set("sort", orDefault(q.Sort, "votes"))
		params.Set("order", orDefault(q.Order, "desc"))
		if q.Tag != "" {
			params.Set("tagged", q.Tag)
		}
		if q.MinScore != nil {
			params.Set("min", strconv.Itoa(*q.MinScore))
		}
		if q.FromDate > 0 {
			params.Set("fromdate", strconv.FormatInt(q.FromDate, 10))
		}
		if q.ToDate > 0 {
			params.Set("todate", strconv.FormatInt(q.ToDate, 10))
		}
		return b.build("questions", params)
	}
}

// Answers returns a page URL builder for /questions/{id}/answers, oldest first.
func (b *Builder) Answers(questionID int64) func(page, pageSize int) string {
	return func(page, pageSize int) string {
		params := b.common(page, pageSize)
		params.Set("sort", "creation")
		params.Set("order", "asc")
		return b.build("questions/"+strconv.FormatInt(questionID, 10)+"/answers", params)
	}
}

func (b *Builder) common(page, pageSize int) url.Values {
	if page < 1 {
		page = 1
	}
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("pagesize", strconv.Itoa(ClampPageSize(pageSize)))
	params.Set("site", b.site)
	if b.filter != "" {
		params.Set("filter", b.filter)
	}
	if b.key != "" {
		params.Set("key", b.key)
	}
	return params
}

func (b *Builder) build(path string, params url.Values) string {
	u := *b.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + path
	u.RawQuery = params.Encode()
	return u.String()
}

// ClampPageSize keeps n within the upstream's accepted 1..100.
func ClampPageSize(n int) int {
	switch {
	case n <= 0:
		return MaxPageSize
	case n > MaxPageSize:
		return MaxPageSize
	default:
		return n
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
