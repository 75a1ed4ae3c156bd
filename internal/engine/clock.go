package engine

import "sync/atomic"

// Clock is a monotonic logical clock. The coordinator stamps each
// submission and each persisted record with Next(), so record order in
// the sink follows completion order without relying on wall time.
//
// Thread-safety: Clock is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}
