package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/sweep/internal/ir"
	"github.com/roach88/sweep/internal/pool"
)

// Submission is one task received by a ScriptedPool.
type Submission struct {
	Handle     pool.Handle
	Params     ir.ParameterSet
	Registered bool
	Completed  bool

	fn pool.EvalFunc
}

// ScriptedPool is a synchronous Dispatcher and CompletionStream.
//
// Tasks run inside AwaitNext, one per call, so the test decides the
// completion order: each call completes the outstanding task whose
// parameters match the next entry of the order, and falls back to
// submission order once the order is used up.
type ScriptedPool struct {
	mu          sync.Mutex
	submissions []*Submission
	order       []string
	orderIdx    int
	failures    map[string]error
	returned    []pool.Completion
	redeliver   []pool.Completion
	closed      bool
	submitErr   error
	failSubmit  int
	parallelism int
	maxOut      int
	datasets    pool.DatasetReader
}

// NewScriptedPool creates a pool that completes tasks in the given order.
func NewScriptedPool(order ...ir.ParameterSet) *ScriptedPool {
	p := &ScriptedPool{failures: make(map[string]error), failSubmit: -1}
	for _, params := range order {
		p.order = append(p.order, canonical(params))
	}
	return p
}

func canonical(params ir.ParameterSet) string {
	b, err := ir.MarshalCanonical(params.Object())
	if err != nil {
		panic(fmt.Sprintf("testutil: params not canonical: %v", err))
	}
	return string(b)
}

// FailWith makes the task for params complete with err instead of running.
func (p *ScriptedPool) FailWith(params ir.ParameterSet, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[canonical(params)] = err
}

// FailSubmitAt makes the n-th Submit call (0-based) return err.
func (p *ScriptedPool) FailSubmitAt(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failSubmit = n
	p.submitErr = err
}

// SetParallelism sets the value reported by Parallelism.
func (p *ScriptedPool) SetParallelism(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.parallelism = n
}

// SetDatasets sets the reader passed to tasks.
func (p *ScriptedPool) SetDatasets(r pool.DatasetReader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.datasets = r
}

// Redeliver makes the next AwaitNext return the n-th completion already
// returned (0-based) a second time, as a misbehaving remote pool would.
func (p *ScriptedPool) Redeliver(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.redeliver = append(p.redeliver, p.returned[n])
}

// Parallelism implements the optional capacity hint.
func (p *ScriptedPool) Parallelism() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parallelism
}

// Submit records the task. It never runs it.
func (p *ScriptedPool) Submit(_ context.Context, fn pool.EvalFunc, params ir.ParameterSet) (pool.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return pool.Handle{}, pool.ErrPoolClosed
	}
	if p.failSubmit == len(p.submissions) {
		p.failSubmit = -1
		return pool.Handle{}, p.submitErr
	}

	sub := &Submission{
		Handle: pool.Handle{ID: uint64(len(p.submissions) + 1)},
		Params: params.Clone(),
		fn:     fn,
	}
	p.submissions = append(p.submissions, sub)
	return sub.Handle, nil
}

// Register marks handles as watched.
func (p *ScriptedPool) Register(handles ...pool.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, h := range handles {
		if h.ID == 0 || int(h.ID) > len(p.submissions) {
			return fmt.Errorf("register unknown handle %s", h)
		}
		sub := p.submissions[h.ID-1]
		if sub.Completed {
			return pool.ErrReleased
		}
		sub.Registered = true
	}
	p.maxOut = max(p.maxOut, p.outstandingLocked())
	return nil
}

// AwaitNext runs and returns the next scripted completion.
func (p *ScriptedPool) AwaitNext(ctx context.Context) (pool.Completion, error) {
	if err := ctx.Err(); err != nil {
		return pool.Completion{}, err
	}

	p.mu.Lock()
	if len(p.redeliver) > 0 {
		c := p.redeliver[0]
		p.redeliver = p.redeliver[1:]
		p.mu.Unlock()
		return c, nil
	}

	sub, err := p.pickLocked()
	if err != nil {
		p.mu.Unlock()
		return pool.Completion{}, err
	}
	sub.Completed = true
	failure, failing := p.failures[canonical(sub.Params)]
	datasets := p.datasets
	p.mu.Unlock()

	c := pool.Completion{Handle: sub.Handle, Params: sub.Params.Clone(), Duration: time.Millisecond}
	if failing {
		c.Err = failure
	} else {
		c.Result, c.Err = runTask(ctx, sub.fn, pool.Env{Params: sub.Params.Clone(), Datasets: datasets})
	}

	p.mu.Lock()
	p.returned = append(p.returned, c)
	p.mu.Unlock()
	return c, nil
}

func (p *ScriptedPool) pickLocked() (*Submission, error) {
	if p.outstandingLocked() == 0 {
		return nil, pool.ErrNoOutstanding
	}

	if p.orderIdx < len(p.order) {
		want := p.order[p.orderIdx]
		for _, sub := range p.submissions {
			if sub.Registered && !sub.Completed && canonical(sub.Params) == want {
				p.orderIdx++
				return sub, nil
			}
		}
		return nil, fmt.Errorf("scripted completion %s is not outstanding", want)
	}

	for _, sub := range p.submissions {
		if sub.Registered && !sub.Completed {
			return sub, nil
		}
	}
	return nil, pool.ErrNoOutstanding
}

func (p *ScriptedPool) outstandingLocked() int {
	n := 0
	for _, sub := range p.submissions {
		if sub.Registered && !sub.Completed {
			n++
		}
	}
	return n
}

func runTask(ctx context.Context, fn pool.EvalFunc, env pool.Env) (res ir.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &pool.PanicError{Value: r}
		}
	}()
	return fn(ctx, env)
}

// Shutdown closes the pool to further submissions.
func (p *ScriptedPool) Shutdown(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Submissions returns a snapshot of every task submitted so far.
func (p *ScriptedPool) Submissions() []Submission {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Submission, len(p.submissions))
	for i, sub := range p.submissions {
		out[i] = *sub
	}
	return out
}

// MaxOutstanding returns the largest number of registered, unfinished
// tasks observed at any Register call.
func (p *ScriptedPool) MaxOutstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxOut
}
