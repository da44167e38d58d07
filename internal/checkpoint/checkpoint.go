// Package checkpoint persists harvest snapshots as pretty-printed JSON
// arrays and reads them back.
package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/JakeFAU/stackharvest/internal/codec"
	"github.com/JakeFAU/stackharvest/internal/harvest"
	"github.com/JakeFAU/stackharvest/internal/metrics"
)

// ContentType is recorded on stores that keep object metadata.
const ContentType = "application/json; charset=utf-8"

var (
	// ErrEmptyPath is returned when no checkpoint path is configured.
	ErrEmptyPath = errors.New("checkpoint: path is required")
	// ErrNotArray is returned when a checkpoint does not hold a JSON array.
	ErrNotArray = errors.New("checkpoint: top-level value is not an array")
)

// BlobStore accepts whole-object writes.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// BlobReader opens stored objects.
type BlobReader interface {
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}

// Target is a named store a checkpoint is written to.
type Target struct {
	Name  string
	Store BlobStore
}

// Config wires a Writer.
type Config struct {
	// Path is the object path written in every store.
	Path    string
	Primary Target
	// Mirrors receive a copy after the primary write succeeds. Their failures
	// are logged and counted but never fail a save.
	Mirrors []Target
	Logger  *zap.Logger
}

// Writer saves snapshots to a primary store and optional mirrors.
type Writer struct {
	path    string
	primary Target
	mirrors []Target
	logger  *zap.Logger
}

// NewWriter validates cfg.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Path == "" {
		return nil, ErrEmptyPath
	}
	if cfg.Primary.Store == nil {
		return nil, fmt.Errorf("checkpoint: primary store is required")
	}
	w := &Writer{
		path:    cfg.Path,
		primary: cfg.Primary,
		logger:  cfg.Logger,
	}
	if w.primary.Name == "" {
		w.primary.Name = "primary"
	}
	for i, m := range cfg.Mirrors {
		if m.Store == nil {
			continue
		}
		if m.Name == "" {
			m.Name = fmt.Sprintf("mirror-%d", i)
		}
		w.mirrors = append(w.mirrors, m)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w, nil
}

// Path returns the object path written on every save.
func (w *Writer) Path() string { return w.path }

// Save encodes questions and replaces the stored checkpoint.
func (w *Writer) Save(ctx context.Context, questions []harvest.Question) error {
	start := time.Now()
	data := Encode(questions)

	uri, err := w.primary.Store.PutObject(ctx, w.path, ContentType, bytes.NewReader(data))
	metrics.ObserveCheckpoint(w.primary.Name, err, len(data))
	if err != nil {
		return fmt.Errorf("write %s checkpoint: %w", w.primary.Name, err)
	}
	w.logger.Debug("checkpoint stored",
		zap.String("store", w.primary.Name),
		zap.String("uri", uri),
		zap.Int("questions", len(questions)),
		zap.String("size", humanize.Bytes(uint64(len(data)))),
		zap.Duration("took", time.Since(start)),
	)

	for _, m := range w.mirrors {
		uri, err := m.Store.PutObject(ctx, w.path, ContentType, bytes.NewReader(data))
		metrics.ObserveCheckpoint(m.Name, err, len(data))
		if err != nil {
			w.logger.Warn("checkpoint mirror failed", zap.String("store", m.Name), zap.Error(err))
			continue
		}
		w.logger.Debug("checkpoint mirrored", zap.String("store", m.Name), zap.String("uri", uri))
	}
	return nil
}

// Encode renders questions in checkpoint form.
func Encode(questions []harvest.Question) []byte {
	data := codec.Encode(harvest.QuestionsValue(questions))
	return append(data, '\n')
}

// Decode parses a checkpoint strictly.
func Decode(data []byte) ([]harvest.Question, error) {
	v, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if v.Kind() != codec.KindArray {
		return nil, fmt.Errorf("%w: found %s", ErrNotArray, v.Kind())
	}
	return harvest.QuestionsFromValue(v), nil
}

// Load reads and decodes the checkpoint stored at path.
func Load(ctx context.Context, store BlobReader, path string) ([]harvest.Question, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	rc, err := store.GetObject(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return Decode(data)
}
