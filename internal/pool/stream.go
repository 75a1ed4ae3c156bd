package pool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Stream is a growable completion stream over registered handles.
//
// Completions may arrive before their handle is registered; they are
// parked until Register catches up. AwaitNext returns each registered
// handle exactly once, in the order the tasks finished. Once returned,
// the handle is released: the stream drops the completion and any later
// delivery or registration for it is refused.
//
// Released handles are remembered as a low-water mark plus the sparse set
// of IDs above it, so memory follows the number of tasks finishing out of
// order rather than the length of the run.
//
// Register and Deliver are safe from any goroutine. AwaitNext must have
// a single consumer.
type Stream struct {
	mu       sync.Mutex
	watched  map[uint64]struct{}
	parked   map[uint64]Completion
	queued   map[uint64]struct{}
	released map[uint64]struct{} // released IDs above releasedThrough
	closed   bool

	// releasedThrough is the highest ID such that every ID in
	// 1..releasedThrough has been released.
	releasedThrough uint64

	ready    *fifo[Completion]
	awaiting atomic.Bool
}

// NewStream creates an empty stream.
func NewStream() *Stream {
	return &Stream{
		watched:  make(map[uint64]struct{}),
		parked:   make(map[uint64]Completion),
		queued:   make(map[uint64]struct{}),
		released: make(map[uint64]struct{}),
		ready:    newFIFO[Completion](),
	}
}

// Register adds handles to the watched set. Registering a handle that is
// already watched is a no-op. It does not disturb a concurrent AwaitNext.
func (s *Stream) Register(handles ...Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}
	for _, h := range handles {
		if s.isReleased(h.ID) {
			return ErrReleased
		}
	}

	for _, h := range handles {
		if _, ok := s.watched[h.ID]; ok {
			continue
		}
		s.watched[h.ID] = struct{}{}
		if c, ok := s.parked[h.ID]; ok {
			delete(s.parked, h.ID)
			s.queued[h.ID] = struct{}{}
			s.ready.Push(c)
		}
	}
	return nil
}

// Deliver hands a finished task to the stream. Duplicate deliveries and
// deliveries for released handles are dropped.
func (s *Stream) Deliver(c Completion) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := c.Handle.ID
	if s.isReleased(id) {
		slog.Debug("dropping completion for released handle", "handle", c.Handle.String())
		return
	}
	_, isParked := s.parked[id]
	_, isQueued := s.queued[id]
	if isParked || isQueued {
		slog.Debug("dropping duplicate completion", "handle", c.Handle.String())
		return
	}
	if _, ok := s.watched[id]; ok {
		s.queued[id] = struct{}{}
		s.ready.Push(c)
		return
	}
	s.parked[id] = c
}

// AwaitNext blocks until a registered handle finishes and returns its
// completion. It fails with ErrNoOutstanding when nothing is registered
// and pending, and with ctx.Err() on cancellation.
func (s *Stream) AwaitNext(ctx context.Context) (Completion, error) {
	if !s.awaiting.CompareAndSwap(false, true) {
		return Completion{}, ErrConcurrentAwait
	}
	defer s.awaiting.Store(false)

	for {
		if c, ok := s.ready.TryPop(); ok {
			s.release(c.Handle)
			return c, nil
		}

		s.mu.Lock()
		closed, pending := s.closed, len(s.watched)
		s.mu.Unlock()
		if closed {
			return Completion{}, ErrStreamClosed
		}
		if pending == 0 {
			return Completion{}, ErrNoOutstanding
		}

		select {
		case <-ctx.Done():
			return Completion{}, ctx.Err()
		case <-s.ready.Wait():
		}
	}
}

func (s *Stream) release(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watched, h.ID)
	delete(s.queued, h.ID)
	s.released[h.ID] = struct{}{}
	for {
		next := s.releasedThrough + 1
		if _, ok := s.released[next]; !ok {
			break
		}
		delete(s.released, next)
		s.releasedThrough = next
	}
}

// isReleased must be called with mu held.
func (s *Stream) isReleased(id uint64) bool {
	if id != 0 && id <= s.releasedThrough {
		return true
	}
	_, ok := s.released[id]
	return ok
}

// Outstanding returns the number of registered handles not yet returned
// by AwaitNext.
func (s *Stream) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watched)
}

// Close fails pending and future AwaitNext calls with ErrStreamClosed.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.ready.Close()
}
