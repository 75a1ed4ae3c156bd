package testutil

import (
	"context"
	"sync"

	"github.com/roach88/sweep/internal/ir"
	"github.com/roach88/sweep/internal/sink"
)

// MemorySink keeps records in memory and enforces the push/final-push
// contract of sink.Sink.
type MemorySink struct {
	mu          sync.Mutex
	records     []ir.Record
	finalPushes int
	closed      bool
	failAfter   int
	pushErr     error
}

// NewMemorySink creates an open, empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{failAfter: -1}
}

// FailPushAfter makes Push fail with err once n records are stored.
func (s *MemorySink) FailPushAfter(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
	s.pushErr = err
}

// Push stores rec.
func (s *MemorySink) Push(_ context.Context, rec ir.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return sink.ErrSinkClosed
	}
	if s.failAfter >= 0 && len(s.records) >= s.failAfter {
		return s.pushErr
	}
	s.records = append(s.records, rec)
	return nil
}

// FinalPush closes the sink.
func (s *MemorySink) FinalPush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return sink.ErrSinkClosed
	}
	s.closed = true
	s.finalPushes++
	return nil
}

// Records returns the stored records in push order.
func (s *MemorySink) Records() []ir.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ir.Record(nil), s.records...)
}

// Closed reports whether FinalPush has run.
func (s *MemorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// FinalPushes returns how many times FinalPush succeeded.
func (s *MemorySink) FinalPushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalPushes
}
