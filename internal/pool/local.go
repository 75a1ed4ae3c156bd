package pool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/sweep/internal/ir"
)

const tracerName = "github.com/roach88/sweep/internal/pool"

type task struct {
	handle Handle
	fn     EvalFunc
	params ir.ParameterSet
	link   trace.Link
}

// LocalPool runs tasks on a fixed set of in-process worker goroutines.
//
// Submit never blocks: tasks queue in an unbounded FIFO until a worker
// is free. Every completion, including failures and recovered panics,
// is delivered to the pool's Stream so no slot is ever lost.
//
// Thread-safety: all methods are safe from any goroutine.
type LocalPool struct {
	workers  int
	tasks    *fifo[task]
	stream   *Stream
	datasets DatasetReader
	tracer   trace.Tracer

	nextID  atomic.Uint64
	running atomic.Int64

	mu       sync.Mutex
	closed   bool
	group    *errgroup.Group
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// Option configures a LocalPool.
type Option func(*LocalPool)

// WithDatasets makes broadcast datasets available to every task.
func WithDatasets(r DatasetReader) Option {
	return func(p *LocalPool) {
		p.datasets = r
	}
}

// WithTracerProvider sets the provider for per-task spans.
// Default: the global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *LocalPool) {
		p.tracer = tp.Tracer(tracerName)
	}
}

// WithStream delivers completions to s instead of a private stream.
func WithStream(s *Stream) Option {
	return func(p *LocalPool) {
		p.stream = s
	}
}

// NewLocalPool starts a pool with the given number of workers.
func NewLocalPool(workers int, opts ...Option) (*LocalPool, error) {
	if workers < 1 {
		return nil, fmt.Errorf("new pool: workers must be >= 1, got %d", workers)
	}

	p := &LocalPool{
		workers: workers,
		tasks:   newFIFO[task](),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.stream == nil {
		p.stream = NewStream()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		p.group.Go(func() error {
			return p.work(ctx)
		})
	}

	slog.Debug("pool started", "workers", workers)
	return p, nil
}

// Submit schedules fn(params) and returns immediately.
// It fails with ErrPoolClosed after Shutdown.
func (p *LocalPool) Submit(ctx context.Context, fn EvalFunc, params ir.ParameterSet) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	if fn == nil {
		return Handle{}, fmt.Errorf("submit: nil evaluation function")
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return Handle{}, ErrPoolClosed
	}

	h := Handle{ID: p.nextID.Add(1)}
	t := task{
		handle: h,
		fn:     fn,
		params: params.Clone(),
		link:   trace.LinkFromContext(ctx),
	}
	if !p.tasks.Push(t) {
		return Handle{}, ErrPoolClosed
	}
	return h, nil
}

// Stream returns the stream completions are delivered to.
func (p *LocalPool) Stream() *Stream {
	return p.stream
}

// Parallelism returns the number of workers.
func (p *LocalPool) Parallelism() int {
	return p.workers
}

// Running returns the number of tasks currently executing.
func (p *LocalPool) Running() int {
	return int(p.running.Load())
}

// Shutdown stops accepting tasks and waits for queued and running tasks
// to finish. If ctx expires first, task contexts are cancelled and
// ctx.Err() is returned. Calling Shutdown more than once is safe.
func (p *LocalPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.tasks.Close()

	done := make(chan error, 1)
	go func() {
		done <- p.group.Wait()
	}()

	select {
	case err := <-done:
		p.stopOnce.Do(p.cancel)
		slog.Debug("pool stopped")
		return err
	case <-ctx.Done():
		running := p.Running()
		p.stopOnce.Do(p.cancel)
		slog.Warn("pool shutdown timed out, cancelling tasks", "running", running)
		return fmt.Errorf("pool shutdown with %d tasks running: %w", running, ctx.Err())
	}
}

func (p *LocalPool) work(ctx context.Context) error {
	for {
		if t, ok := p.tasks.TryPop(); ok {
			p.execute(ctx, t)
			continue
		}
		if p.tasks.Drained() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-p.tasks.Wait():
		}
	}
}

func (p *LocalPool) execute(ctx context.Context, t task) {
	p.running.Add(1)
	defer p.running.Add(-1)

	ctx, span := p.tracer.Start(ctx, "pool.evaluate",
		trace.WithLinks(t.link),
		trace.WithAttributes(
			attribute.Int64("sweep.handle", int64(t.handle.ID)),
			attribute.Int("sweep.params", len(t.params)),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := invoke(ctx, t.fn, Env{Params: t.params.Clone(), Datasets: p.datasets})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	p.stream.Deliver(Completion{
		Handle:   t.handle,
		Params:   t.params,
		Result:   res,
		Err:      err,
		Duration: time.Since(start),
	})
}

// invoke runs fn, converting a panic into a *PanicError.
func invoke(ctx context.Context, fn EvalFunc, env Env) (res ir.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx, env)
}
