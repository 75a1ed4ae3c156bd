// Package sink buffers result records and appends them to a durable
// backend, with a terminal final push.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/sweep/internal/ir"
)

// ErrSinkClosed is returned by Push and FinalPush after a successful
// FinalPush.
var ErrSinkClosed = errors.New("sink is closed")

// Writer is an append-only backend. Append must be idempotent for
// records it has already stored (same ID), because a failed batch is
// retried whole.
type Writer interface {
	Append(ctx context.Context, table string, recs []ir.Record) error
	Close() error
}

// Defaults for New.
const (
	DefaultBatchSize = 16
	DefaultMaxTries  = 5
)

// Sink accumulates records for one table and writes them in batches.
//
// A batch that still fails after the retry budget stays buffered and the
// error is returned; the sink never drops a record on its own.
//
// Thread-safety: safe for concurrent use.
type Sink struct {
	mu         sync.Mutex
	table      string
	writer     Writer
	buf        []ir.Record
	batchSize  int
	maxTries   uint
	newBackOff func() backoff.BackOff
	releases   []func(context.Context) error
	closed     bool
	written    int
}

// Option configures a Sink.
type Option func(*Sink)

// WithBatchSize sets how many records are buffered before a write.
// 1 writes every record immediately.
func WithBatchSize(n int) Option {
	return func(s *Sink) {
		s.batchSize = n
	}
}

// WithMaxTries bounds the write attempts per batch.
func WithMaxTries(n uint) Option {
	return func(s *Sink) {
		s.maxTries = n
	}
}

// WithBackOff sets the retry schedule factory. A fresh BackOff is made
// for every batch.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(s *Sink) {
		s.newBackOff = f
	}
}

// WithRelease registers a hook run by FinalPush after the last write,
// e.g. shutting down the pool.
func WithRelease(fn func(context.Context) error) Option {
	return func(s *Sink) {
		s.releases = append(s.releases, fn)
	}
}

// New creates a sink writing to table through w.
func New(table string, w Writer, opts ...Option) (*Sink, error) {
	if table == "" {
		return nil, fmt.Errorf("new sink: table is required")
	}
	if w == nil {
		return nil, fmt.Errorf("new sink: writer is required")
	}

	s := &Sink{
		table:     table,
		writer:    w,
		batchSize: DefaultBatchSize,
		maxTries:  DefaultMaxTries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.batchSize < 1 {
		return nil, fmt.Errorf("new sink: batch size must be >= 1, got %d", s.batchSize)
	}
	if s.maxTries < 1 {
		s.maxTries = 1
	}
	return s, nil
}

// Table returns the table records are written to.
func (s *Sink) Table() string {
	return s.table
}

// Push buffers rec, stamping it with the sink's table, and writes the
// buffer once it reaches the batch size.
func (s *Sink) Push(ctx context.Context, rec ir.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	rec.Table = s.table
	s.buf = append(s.buf, rec)
	if len(s.buf) < s.batchSize {
		return nil
	}
	return s.flushLocked(ctx)
}

// FinalPush writes everything still buffered, closes the writer and runs
// the release hooks. It is terminal: afterwards Push and FinalPush fail
// with ErrSinkClosed. If the last write fails the sink stays open with
// its buffer intact, so FinalPush may be retried.
func (s *Sink) FinalPush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if err := s.flushLocked(ctx); err != nil {
		return err
	}
	s.closed = true

	var errs []error
	if err := s.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}
	for _, release := range s.releases {
		if err := release(ctx); err != nil {
			errs = append(errs, fmt.Errorf("release: %w", err))
		}
	}

	slog.Info("sink finalized", "table", s.table, "records", s.written)
	return errors.Join(errs...)
}

// Pending returns the number of buffered, unwritten records.
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Written returns the number of records durably appended.
func (s *Sink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *Sink) flushLocked(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}

	batch := s.buf
	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		return struct{}{}, s.writer.Append(ctx, s.table, batch)
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("sink write failed, retrying",
			"table", s.table,
			"records", len(batch),
			"attempt", attempt,
			"wait", wait,
			"error", err)
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return fmt.Errorf("append %d records to %s after %d attempts: %w", len(batch), s.table, attempt, err)
	}

	s.written += len(batch)
	s.buf = nil
	return nil
}
