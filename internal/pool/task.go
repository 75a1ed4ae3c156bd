package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/sweep/internal/dataset"
	"github.com/roach88/sweep/internal/ir"
)

// EvalFunc is a user-supplied evaluation callable. It may be arbitrarily
// expensive and may fail; a returned error or a panic becomes a failed
// completion.
type EvalFunc func(ctx context.Context, env Env) (ir.Result, error)

// Env is what a task sees while it runs.
type Env struct {
	// Params is a private copy of the submitted parameter set.
	Params ir.ParameterSet

	// Datasets gives copy-on-read access to broadcast reference data.
	// Nil when the pool was built without datasets.
	Datasets DatasetReader
}

// DatasetReader is satisfied by *dataset.Cache.
type DatasetReader interface {
	Get(name string) (*dataset.Dataset, error)
}

// Handle is the opaque identity of one submitted task. IDs are positive
// and a dispatcher hands them out in increasing order from 1.
type Handle struct {
	ID uint64
}

func (h Handle) String() string {
	return fmt.Sprintf("task-%d", h.ID)
}

// Completion is one finished task.
type Completion struct {
	Handle Handle

	// Params is the parameter set the task was submitted with, not an
	// echo from the callable, so the coordinator can always re-derive
	// the task's correlation key.
	Params ir.ParameterSet

	Result   ir.Result
	Err      error
	Duration time.Duration
}

// Failed reports whether the task raised or returned an error.
func (c Completion) Failed() bool {
	return c.Err != nil
}

// PanicError wraps a value recovered from a panicking EvalFunc.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("evaluation panicked: %v", e.Value)
}
