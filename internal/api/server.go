package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/stackharvest/internal/codec"
	"github.com/JakeFAU/stackharvest/internal/harvest"
	"github.com/JakeFAU/stackharvest/internal/metrics"
)

// Query defaults.
const (
	DefaultTrendYears   = 3
	DefaultCooccurrence = 10
	DefaultPitfalls     = 8
	DefaultQuestions    = 10

	defaultRequestTimeout = 60 * time.Second
)

// LoadFunc reads the dataset the server analyses.
type LoadFunc func(ctx context.Context) ([]harvest.Question, error)

// Config wires a Server.
type Config struct {
	// Source names the dataset in reload responses, e.g. a checkpoint path.
	Source         string
	Load           LoadFunc
	Logger         *zap.Logger
	Now            func() time.Time
	RequestTimeout time.Duration
}

// Server answers analysis queries over a cached question set.
type Server struct {
	router chi.Router
	source string
	load   LoadFunc
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	questions []harvest.Question
	loaded    bool
}

// NewServer constructs a Server with middleware and routes. No data is
// served until Reload succeeds.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Load == nil {
		return nil, errors.New("api: load func is required")
	}
	s := &Server{
		source: cfg.Source,
		load:   cfg.Load,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.stats)
		r.Get("/trends", s.trends)
		r.Get("/cooccurrence", s.cooccurrence)
		r.Get("/pitfalls", s.pitfalls)
		r.Get("/solvability", s.solvability)
		r.Get("/questions", s.listQuestions)
		r.Post("/reload", s.reload)
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Reload re-reads the dataset and swaps it in. On failure the previous
// dataset stays in place.
func (s *Server) Reload(ctx context.Context) (int, error) {
	questions, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.questions = questions
	s.loaded = true
	s.mu.Unlock()
	s.logger.Info("dataset loaded", zap.String("source", s.source), zap.Int("questions", len(questions)))
	return len(questions), nil
}

// dataset returns the cached questions, or false when nothing usable is loaded.
func (s *Server) dataset() ([]harvest.Question, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.questions, s.loaded && len(s.questions) > 0
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, codec.ObjectValue(codec.NewObject().Set("status", codec.String("ok"))))
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	n, err := s.Reload(r.Context())
	if err != nil {
		s.logger.Warn("dataset reload failed", zap.String("source", s.source), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, codec.ObjectValue(codec.NewObject().
		Set("status", codec.String("loaded")).
		Set("source", codec.String(s.source)).
		Set("collected", codec.Int(int64(n)))))
}

// withData runs fn with the dataset and parsed integer parameter, answering
// 404 when nothing is loaded and 400 for a malformed parameter.
func (s *Server) withData(param string, def int, fn func([]harvest.Question, int) codec.Value) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := intParam(r, param, def)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		questions, ok := s.dataset()
		if !ok {
			writeError(w, http.StatusNotFound, "no data loaded")
			return
		}
		writeJSON(w, http.StatusOK, fn(questions, n))
	}
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	s.withData("", 0, func(qs []harvest.Question, _ int) codec.Value {
		return statsValue(qs)
	})(w, r)
}

func (s *Server) trends(w http.ResponseWriter, r *http.Request) {
	s.withData("years", DefaultTrendYears, func(qs []harvest.Question, years int) codec.Value {
		return trendsValue(qs, years, s.now())
	})(w, r)
}

func (s *Server) cooccurrence(w http.ResponseWriter, r *http.Request) {
	s.withData("topN", DefaultCooccurrence, cooccurrenceValue)(w, r)
}

func (s *Server) pitfalls(w http.ResponseWriter, r *http.Request) {
	s.withData("topN", DefaultPitfalls, pitfallsValue)(w, r)
}

func (s *Server) solvability(w http.ResponseWriter, r *http.Request) {
	s.withData("", 0, func(qs []harvest.Question, _ int) codec.Value {
		return solvabilityValue(qs)
	})(w, r)
}

func (s *Server) listQuestions(w http.ResponseWriter, r *http.Request) {
	s.withData("limit", DefaultQuestions, func(qs []harvest.Question, limit int) codec.Value {
		if limit < len(qs) {
			qs = qs[:limit]
		}
		return harvest.QuestionsValue(qs)
	})(w, r)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	if name == "" {
		return def, nil
	}
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload codec.Value) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := append(codec.EncodeCompact(payload), '\n')
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, codec.ObjectValue(codec.NewObject().Set("error", codec.String(msg))))
}
