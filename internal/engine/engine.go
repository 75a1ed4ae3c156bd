package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/sweep/internal/ir"
	"github.com/roach88/sweep/internal/pool"
)

// Oracle proposes parameter sets and consumes measured outcomes.
// An empty, error-free Suggest result means the oracle is exhausted.
type Oracle interface {
	Suggest(ctx context.Context, count int) ([]ir.Suggestion, error)
	Report(ctx context.Context, ref string, m ir.Measurement) error
}

// Dispatcher schedules an evaluation without blocking.
type Dispatcher interface {
	Submit(ctx context.Context, fn pool.EvalFunc, params ir.ParameterSet) (pool.Handle, error)
}

// CompletionStream delivers finished work in completion order.
type CompletionStream interface {
	Register(handles ...pool.Handle) error
	AwaitNext(ctx context.Context) (pool.Completion, error)
}

// ResultSink accepts records until FinalPush.
type ResultSink interface {
	Push(ctx context.Context, rec ir.Record) error
	FinalPush(ctx context.Context) error
}

// parallelism is implemented by dispatchers that know their capacity.
type parallelism interface {
	Parallelism() int
}

// outstanding is implemented by streams that can count registered
// handles not yet returned.
type outstanding interface {
	Outstanding() int
}

// Summary describes a finished (or aborted) run.
type Summary struct {
	RunID          string
	State          State
	Budget         int
	PrimingWidth   int
	Submitted      int
	Completed      int
	Failed         int
	Discarded      int
	Unresolved     int
	ReportFailures int
	MaxInFlight    int
	Exhausted      bool
}

// Coordinator is the replenishment loop.
//
// Thread-safety model:
//   - Run(): must be called from exactly one goroutine, once
//   - Summary(): safe only after Run returns
//
// INVARIANTS:
//   - at most one PendingWork per CorrelationKey
//   - every submitted key is retired exactly once
//   - submitted never exceeds the budget
//   - FinalPush is called only with an empty registry
type Coordinator struct {
	oracle     Oracle
	dispatcher Dispatcher
	stream     CompletionStream
	sink       ResultSink
	fn         pool.EvalFunc

	keyer    *Keyer
	registry *Registry
	clock    *Clock
	budget   Budget
	priming  int
	runID    string
	runIDGen RunIDGenerator

	budgetTotal int
	metrics     *Metrics
	observer    Observer
	tracer      trace.Tracer

	state     State
	exhausted bool
	oracleErr error
	started   bool
	sum       Summary
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBudget sets the total evaluation budget. Default: DefaultBudget.
func WithBudget(total int) Option {
	return func(c *Coordinator) {
		c.budgetTotal = total
	}
}

// WithPrimingWidth sets how many units are submitted before the first
// completion is consumed. Default: the dispatcher's Parallelism(), else
// DefaultPrimingWidth.
func WithPrimingWidth(n int) Option {
	return func(c *Coordinator) {
		c.priming = n
	}
}

// WithRunID fixes the run ID.
func WithRunID(id string) Option {
	return func(c *Coordinator) {
		c.runID = id
	}
}

// WithRunIDGenerator sets the run ID source. Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(c *Coordinator) {
		c.runIDGen = g
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithObserver registers a synchronous event callback.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observer = o
	}
}

// WithTracerProvider sets the provider for the run span.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) {
		c.tracer = tp.Tracer("github.com/roach88/sweep/internal/engine")
	}
}

// New creates a Coordinator that evaluates fn over oracle suggestions.
func New(
	oracle Oracle,
	dispatcher Dispatcher,
	stream CompletionStream,
	sink ResultSink,
	fn pool.EvalFunc,
	opts ...Option,
) (*Coordinator, error) {
	if oracle == nil || dispatcher == nil || stream == nil || sink == nil || fn == nil {
		return nil, fmt.Errorf("new coordinator: oracle, dispatcher, stream, sink and fn are required")
	}

	c := &Coordinator{
		oracle:      oracle,
		dispatcher:  dispatcher,
		stream:      stream,
		sink:        sink,
		fn:          fn,
		keyer:       NewKeyer(),
		registry:    NewRegistry(),
		clock:       NewClock(),
		budgetTotal: DefaultBudget,
		runIDGen:    UUIDv7Generator{},
		tracer:      otel.Tracer("github.com/roach88/sweep/internal/engine"),
	}
	for _, opt := range opts {
		opt(c)
	}

	budget, err := NewBudget(c.budgetTotal)
	if err != nil {
		return nil, fmt.Errorf("new coordinator: %w", err)
	}
	c.budget = budget

	if c.priming == 0 {
		c.priming = DefaultPrimingWidth
		if p, ok := dispatcher.(parallelism); ok && p.Parallelism() > 0 {
			c.priming = p.Parallelism()
		}
	}
	if c.priming < 0 {
		return nil, fmt.Errorf("new coordinator: priming width must be >= 0, got %d", c.priming)
	}
	if c.runID == "" {
		c.runID = c.runIDGen.Generate()
	}

	c.sum = Summary{RunID: c.runID, Budget: c.budget.Total(), PrimingWidth: c.priming}
	return c, nil
}

// RunID returns the identifier stamped on this run's records.
func (c *Coordinator) RunID() string {
	return c.runID
}

// Schema returns the correlation key schema, once captured.
func (c *Coordinator) Schema() []string {
	return c.keyer.Schema()
}

// Run drives the loop from PRIMING to DONE and returns the run summary.
//
// Fatal conditions return a *RuntimeError immediately, without the final
// push; results buffered in the sink at that point are not flushed. An
// oracle Suggest failure is not immediate: the loop drains, final-pushes,
// and then returns an ORACLE_FAILED error.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	if c.started {
		return c.sum, fmt.Errorf("coordinator run %s already started", c.runID)
	}
	c.started = true

	ctx, span := c.tracer.Start(ctx, "coordinator.run", trace.WithAttributes(
		attribute.String("sweep.run_id", c.runID),
		attribute.Int("sweep.budget", c.budget.Total()),
		attribute.Int("sweep.priming", c.priming),
	))
	defer span.End()

	slog.Info("sweep starting",
		"run_id", c.runID,
		"budget", c.budget.Total(),
		"priming", c.priming)

	if err := c.run(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("sweep aborted",
			"run_id", c.runID,
			"state", c.state.String(),
			"in_flight", c.registry.Len(),
			"error", err)
		return c.Summary(), err
	}

	sum := c.Summary()
	span.SetAttributes(
		attribute.Int("sweep.submitted", sum.Submitted),
		attribute.Int("sweep.completed", sum.Completed),
	)
	slog.Info("sweep finished",
		"run_id", c.runID,
		"submitted", sum.Submitted,
		"completed", sum.Completed,
		"failed", sum.Failed,
		"discarded", sum.Discarded,
		"unresolved", sum.Unresolved)

	if c.oracleErr != nil {
		err := newRuntimeError(ErrCodeOracleFailed, c.runID, "", "oracle stopped suggesting", c.oracleErr)
		span.SetStatus(codes.Error, err.Error())
		return sum, err
	}
	return sum, nil
}

func (c *Coordinator) run(ctx context.Context) error {
	c.transition(StatePriming)
	if err := c.request(ctx, min(c.priming, c.budget.Total())); err != nil {
		return err
	}
	if c.exhausted || !c.budget.Allows(c.sum.Completed, c.registry.Len()) {
		c.transition(StateDraining)
	} else {
		c.transition(StateSteady)
	}

	for c.registry.Len() > 0 {
		// Every in-flight key holds a registered handle until its
		// completion is returned.
		if o, ok := c.stream.(outstanding); ok {
			if n := o.Outstanding(); n < c.registry.Len() {
				return c.diverged(fmt.Sprintf("only %d outstanding handles", n), nil)
			}
		}
		comp, err := c.stream.AwaitNext(ctx)
		if err != nil {
			if errors.Is(err, pool.ErrNoOutstanding) {
				return c.diverged("no outstanding handles", err)
			}
			return newRuntimeError(ErrCodeInterrupted, c.runID, "", "awaiting completion", err)
		}
		if err := c.handle(ctx, comp); err != nil {
			return err
		}
	}

	if err := c.sink.FinalPush(ctx); err != nil {
		return newRuntimeError(ErrCodeSinkFailed, c.runID, "", "final push", err)
	}
	c.transition(StateDone)
	return nil
}

// diverged reports in-flight keys the stream can no longer deliver.
func (c *Coordinator) diverged(reason string, cause error) error {
	keys := c.registry.Keys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = string(k)
	}
	msg := fmt.Sprintf("%d keys in flight [%s] but %s", len(keys), strings.Join(names, " "), reason)
	return newRuntimeError(ErrCodeRegistryDiverged, c.runID, "", msg, cause)
}

// handle processes one completion.
func (c *Coordinator) handle(ctx context.Context, comp pool.Completion) error {
	key, err := c.keyer.Derive(comp.Params)
	var pw *PendingWork
	if err == nil {
		pw, _ = c.registry.Lookup(key)
	}
	if pw == nil || pw.Handle != comp.Handle {
		c.sum.Unresolved++
		c.metrics.unresolve()
		slog.Warn("unresolved completion",
			"run_id", c.runID,
			"handle", comp.Handle.String(),
			"key", string(key),
			"error", err)
		c.emit(Event{Kind: EventUnresolved, Key: key})
		return nil
	}

	rec, meas := c.record(pw, comp)
	c.sum.Completed++
	if meas.Failed {
		c.sum.Failed++
		slog.Warn("evaluation failed",
			"run_id", c.runID,
			"key", string(key),
			"reason", meas.Reason)
	}

	if err := c.sink.Push(ctx, rec); err != nil {
		return newRuntimeError(ErrCodeSinkFailed, c.runID, key, "push result", err)
	}
	if err := c.oracle.Report(ctx, pw.Suggestion.Ref, meas); err != nil {
		c.sum.ReportFailures++
		c.metrics.reportFailed()
		slog.Warn("oracle report failed",
			"run_id", c.runID,
			"key", string(key),
			"ref", pw.Suggestion.Ref,
			"error", err)
	}
	c.registry.Retire(key)

	c.metrics.complete(string(rec.Outcome), comp.Duration.Seconds(), c.registry.Len())
	slog.Debug("completion retired",
		"run_id", c.runID,
		"key", string(key),
		"outcome", string(rec.Outcome),
		"in_flight", c.registry.Len(),
		"completed", c.sum.Completed)
	c.emit(Event{Kind: EventComplete, Key: key, Ref: pw.Suggestion.Ref, Failed: meas.Failed})

	if c.state != StateSteady {
		return nil
	}
	if c.exhausted || !c.budget.Allows(c.sum.Completed, c.registry.Len()) {
		c.transition(StateDraining)
		return nil
	}
	return c.request(ctx, 1)
}

// request asks the oracle for count suggestions and submits each one
// that passes the dedup guard and the budget rule.
func (c *Coordinator) request(ctx context.Context, count int) error {
	if count < 1 {
		return nil
	}

	suggestions, err := c.oracle.Suggest(ctx, count)
	if err != nil {
		c.oracleErr = err
		c.markExhausted()
		slog.Error("oracle suggest failed, draining",
			"run_id", c.runID,
			"error", err)
		return nil
	}
	if len(suggestions) == 0 {
		c.markExhausted()
		slog.Info("oracle exhausted, draining",
			"run_id", c.runID,
			"completed", c.sum.Completed)
		return nil
	}

	// Discarded duplicates leave their slot open, so the remaining budget
	// is re-read for each suggestion.
	for i, s := range suggestions {
		if c.budget.Remaining(c.sum.Completed, c.registry.Len()) == 0 {
			slog.Warn("dropping suggestions beyond budget",
				"run_id", c.runID,
				"dropped", len(suggestions)-i,
				"first_ref", s.Ref)
			break
		}
		if err := c.submit(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) markExhausted() {
	c.exhausted = true
	c.sum.Exhausted = true
	c.emit(Event{Kind: EventExhausted})
	if c.state == StateSteady {
		c.transition(StateDraining)
	}
}

// submit applies the dedup guard and dispatches s.
func (c *Coordinator) submit(ctx context.Context, s ir.Suggestion) error {
	key, err := c.keyer.Derive(s.Params)
	if err != nil {
		return newRuntimeError(ErrCodeSchemaMismatch, c.runID, "",
			fmt.Sprintf("suggestion %s", s.Ref), err)
	}

	if c.registry.Has(key) {
		c.sum.Discarded++
		c.metrics.discard()
		slog.Warn("discarding duplicate suggestion",
			"run_id", c.runID,
			"key", string(key),
			"ref", s.Ref)
		c.emit(Event{Kind: EventDiscard, Key: key, Ref: s.Ref})
		return nil
	}

	h, err := c.dispatcher.Submit(ctx, c.fn, s.Params)
	if err != nil {
		return newRuntimeError(ErrCodeSubmitFailed, c.runID, key, "submit", err)
	}
	if err := c.stream.Register(h); err != nil {
		return newRuntimeError(ErrCodeSubmitFailed, c.runID, key, "register handle", err)
	}

	pw := &PendingWork{Key: key, Handle: h, Suggestion: s, Seq: c.clock.Next()}
	if err := c.registry.Add(pw); err != nil {
		return newRuntimeError(ErrCodeRegistryDiverged, c.runID, key, "add to registry", err)
	}

	c.sum.Submitted++
	c.sum.MaxInFlight = max(c.sum.MaxInFlight, c.registry.Len())
	c.metrics.submit(c.registry.Len())
	slog.Debug("work submitted",
		"run_id", c.runID,
		"key", string(key),
		"handle", h.String(),
		"in_flight", c.registry.Len())
	c.emit(Event{Kind: EventSubmit, Key: key, Ref: s.Ref})
	return nil
}

// record builds the persisted record and the oracle measurement for a
// resolved completion. A completion with an error, no metrics, or a
// non-finite metric is a failure.
func (c *Coordinator) record(pw *PendingWork, comp pool.Completion) (ir.Record, ir.Measurement) {
	seq := c.clock.Next()
	keyHash := pw.Key.Hash()

	rec := ir.Record{
		ID:            ir.RecordID(c.runID, keyHash, seq),
		RunID:         c.runID,
		Seq:           seq,
		Key:           string(pw.Key),
		KeyHash:       keyHash,
		SuggestionRef: pw.Suggestion.Ref,
		Params:        comp.Params,
		Metrics:       map[string]float64{},
		Observables:   comp.Result.Observables,
		Outcome:       ir.OutcomeSuccess,
		DurationMS:    comp.Duration.Milliseconds(),
	}

	reason := failureReason(comp)
	if reason != "" {
		rec.Outcome = ir.OutcomeFailed
		rec.Error = reason
		return rec, ir.Measurement{Metrics: map[string]float64{}, Failed: true, Reason: reason}
	}

	meas := ir.Measurement{Metrics: make(map[string]float64, len(comp.Result.Metrics))}
	for name, v := range comp.Result.Metrics {
		rec.Metrics[name] = v
		meas.Metrics[name] = v
	}
	return rec, meas
}

func failureReason(comp pool.Completion) string {
	if comp.Err != nil {
		return comp.Err.Error()
	}
	if len(comp.Result.Metrics) == 0 {
		return "evaluation returned no metrics"
	}
	for _, name := range ir.SortNames(metricNames(comp.Result.Metrics)) {
		v := comp.Result.Metrics[name]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Sprintf("non-finite metric %q", name)
		}
	}
	return ""
}

func metricNames(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	return names
}

func (c *Coordinator) transition(s State) {
	if c.state == s {
		return
	}
	slog.Info("coordinator state",
		"run_id", c.runID,
		"from", c.state.String(),
		"to", s.String(),
		"in_flight", c.registry.Len(),
		"completed", c.sum.Completed)
	c.state = s
	c.sum.State = s
	c.metrics.setState(s, c.registry.Len())
	c.emit(Event{Kind: EventState})
}

func (c *Coordinator) emit(ev Event) {
	if c.observer == nil {
		return
	}
	ev.State = c.state
	ev.InFlight = c.registry.Len()
	ev.Completed = c.sum.Completed
	ev.Submitted = c.sum.Submitted
	c.observer(ev)
}

// Summary returns the counters gathered so far.
func (c *Coordinator) Summary() Summary {
	return c.sum
}
