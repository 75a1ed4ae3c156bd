package pool

import "errors"

var (
	// ErrPoolClosed is returned by Submit after Shutdown.
	ErrPoolClosed = errors.New("pool is shut down")

	// ErrReleased is returned when registering a handle whose result was
	// already retrieved.
	ErrReleased = errors.New("handle already released")

	// ErrNoOutstanding is returned by AwaitNext when no registered handle
	// is still pending, so waiting would block forever.
	ErrNoOutstanding = errors.New("no outstanding handles")

	// ErrConcurrentAwait is returned when AwaitNext is entered while
	// another call is still waiting.
	ErrConcurrentAwait = errors.New("concurrent AwaitNext")

	// ErrStreamClosed is returned by a Stream after Close.
	ErrStreamClosed = errors.New("completion stream closed")
)
