// Package collytransport implements harvest.Transport using gocolly.
package collytransport

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/stackharvest/internal/harvest"
)

// Transport defaults.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultDialTimeout = 15 * time.Second
	DefaultMaxBodySize = 64 << 20
	DefaultUserAgent   = "stackharvest/1.0"
)

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	DialTimeout time.Duration
	// MaxBodySize truncates larger bodies; 0 selects the default.
	MaxBodySize int
}

// Transport performs single GETs against the upstream API. It never retries;
// that is the pager's job.
type Transport struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Transport.
func New(cfg Config) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	// Retries hit the same URL, so revisits must be allowed.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport(cfg.DialTimeout))
	c.SetRequestTimeout(cfg.Timeout)
	c.MaxBodySize = cfg.MaxBodySize
	c.UserAgent = cfg.UserAgent

	return &Transport{cfg: cfg, baseCollector: c}
}

// response accumulates what the collector callbacks saw for one visit.
type response struct {
	status int
	body   []byte
	err    error
}

// Get executes one GET and classifies the result.
func (t *Transport) Get(ctx context.Context, url string) harvest.Outcome {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return harvest.Outcome{Kind: harvest.OutcomeFatal, Err: err}
	}

	var resp response
	collector := t.buildCollector(ctx, &resp)
	if err := t.runCollector(ctx, collector, url); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// The visit may still be running; resp is not safe to read.
			return harvest.Outcome{Kind: harvest.OutcomeFatal, Err: ctxErr, Duration: time.Since(start)}
		}
		if resp.err == nil {
			resp.err = err
		}
	}
	out := classify(ctx, resp)
	out.Duration = time.Since(start)
	return out
}

func (t *Transport) buildCollector(ctx context.Context, resp *response) *colly.Collector {
	collector := t.baseCollector.Clone()
	collector.Context = ctx
	configureCollectorHooks(collector, resp)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, resp *response) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
		r.Headers.Set("Accept-Encoding", "gzip")
	})

	hooks.OnResponse(func(r *colly.Response) {
		resp.status = r.StatusCode
		resp.body = append([]byte(nil), r.Body...)
	})

	// Non-2xx statuses arrive here with the response populated; network
	// failures arrive with status 0.
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			resp.status = r.StatusCode
			resp.body = append([]byte(nil), r.Body...)
		}
		resp.err = err
	})
}

func (t *Transport) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly get canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func classify(ctx context.Context, resp response) harvest.Outcome {
	if err := ctx.Err(); err != nil {
		return harvest.Outcome{Kind: harvest.OutcomeFatal, StatusCode: resp.status, Err: err}
	}
	if resp.status == 0 {
		err := resp.err
		if err == nil {
			err = errors.New("no response")
		}
		return harvest.Outcome{Kind: harvest.OutcomeFatal, Err: fmt.Errorf("request failed: %w", err)}
	}

	kind := harvest.ClassifyStatus(resp.status)
	out := harvest.Outcome{Kind: kind, StatusCode: resp.status, Body: resp.body}
	if kind != harvest.OutcomeSuccess {
		out.Err = fmt.Errorf("upstream status %d: %w", resp.status, orStatusText(resp))
		return out
	}
	body, err := maybeGunzip(resp.body)
	if err != nil {
		return harvest.Outcome{Kind: harvest.OutcomeFatal, StatusCode: resp.status, Err: err}
	}
	out.Body = body
	return out
}

func orStatusText(resp response) error {
	if resp.err != nil {
		return resp.err
	}
	return errors.New(http.StatusText(resp.status))
}

// maybeGunzip decompresses a body the collector left compressed, which happens
// when the server omits Content-Encoding.
func maybeGunzip(body []byte) ([]byte, error) {
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gzip header: %w", err)
	}
	defer func() { _ = zr.Close() }()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip body: %w", err)
	}
	return out, nil
}

func newHTTPTransport(dialTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
