package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/sweep/internal/engine"
	"github.com/roach88/sweep/internal/ir"
	"github.com/roach88/sweep/internal/pool"
	"github.com/roach88/sweep/internal/testutil"
)

// ScenarioRunID is stamped on every record a scenario produces, so traces
// and record IDs are stable across runs.
const ScenarioRunID = "run-scenario"

// TraceEvent is one coordinator event with its suggestion label resolved.
type TraceEvent struct {
	Kind      string `json:"kind"`
	State     string `json:"state"`
	Label     string `json:"label,omitempty"`
	Failed    bool   `json:"failed,omitempty"`
	InFlight  int    `json:"in_flight"`
	Completed int    `json:"completed"`
	Submitted int    `json:"submitted"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool

	// Summary holds the coordinator's counters at the end of the run.
	Summary engine.Summary

	// Err is the error Coordinator.Run returned, nil for a clean run.
	Err error

	// Trace contains every coordinator event in emission order.
	Trace []TraceEvent

	// Records are the results the sink accepted, in push order.
	Records []ir.Record

	// FinalPushes counts successful final pushes.
	FinalPushes int

	// Errors contains assertion failure messages. Empty if Pass is true.
	Errors []string

	sink *testutil.MemorySink
}

// AddError records an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// ErrorCode returns the runtime error code of a failed run, or "".
func (r *Result) ErrorCode() string {
	var rtErr *engine.RuntimeError
	if errors.As(r.Err, &rtErr) {
		return string(rtErr.Code)
	}
	if r.Err != nil {
		return "UNKNOWN"
	}
	return ""
}

// Run executes a scenario and evaluates its assertions.
// The returned error covers scenarios that cannot be set up; a run that
// ends in a runtime error is reported through Result.Err.
func Run(scenario *Scenario) (*Result, error) {
	params := make(map[string]ir.ParameterSet, len(scenario.Suggestions))
	script := make([]ir.Suggestion, 0, len(scenario.Suggestions))
	for _, step := range scenario.Suggestions {
		ps, err := step.parameterSet()
		if err != nil {
			return nil, err
		}
		params[step.Label] = ps
		script = append(script, ir.Suggestion{Ref: step.Label, Params: ps})
	}
	labels := labelIndex(scenario.Suggestions, params)

	oracle := testutil.NewScriptedOracle(script...)
	if scenario.SuggestErrorAfter != nil {
		oracle.FailSuggestAfter(*scenario.SuggestErrorAfter, errors.New("injected oracle failure"))
	}
	if scenario.ReportError {
		oracle.FailReports(errors.New("injected report failure"))
	}

	order := make([]ir.ParameterSet, 0, len(scenario.CompletionOrder))
	for _, label := range scenario.CompletionOrder {
		order = append(order, params[label])
	}
	p := testutil.NewScriptedPool(order...)
	for _, label := range scenario.Fail {
		p.FailWith(params[label], fmt.Errorf("injected failure for %s", label))
	}

	sink := testutil.NewMemorySink()
	if scenario.SinkErrorAfter != nil {
		sink.FailPushAfter(*scenario.SinkErrorAfter, errors.New("injected sink failure"))
	}

	result := &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}, sink: sink}
	completions := 0
	observer := func(ev engine.Event) {
		result.Trace = append(result.Trace, TraceEvent{
			Kind:      string(ev.Kind),
			State:     ev.State.String(),
			Label:     labels.resolve(ev),
			Failed:    ev.Failed,
			InFlight:  ev.InFlight,
			Completed: ev.Completed,
			Submitted: ev.Submitted,
		})
		if ev.Kind == engine.EventComplete {
			completions++
			if completions == scenario.RedeliverAfter {
				p.Redeliver(0)
			}
		}
	}

	opts := []engine.Option{
		engine.WithBudget(scenario.Budget),
		engine.WithRunIDGenerator(engine.NewFixedGenerator(ScenarioRunID)),
		engine.WithObserver(observer),
	}
	if scenario.Priming > 0 {
		opts = append(opts, engine.WithPrimingWidth(scenario.Priming))
	}

	coord, err := engine.New(oracle, p, p, sink, sumParams, opts...)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	result.Summary, result.Err = coord.Run(context.Background())
	result.Records = sink.Records()
	result.FinalPushes = sink.FinalPushes()

	for _, a := range scenario.Assertions {
		if err := evaluate(result, scenario, a); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

// sumParams scores a parameter set as the sum of its numeric values.
func sumParams(_ context.Context, env pool.Env) (ir.Result, error) {
	total := 0.0
	for _, name := range env.Params.Names() {
		if f, err := env.Params.Float(name); err == nil {
			total += f
		}
	}
	return ir.Result{Metrics: map[string]float64{"score": total}}, nil
}

// labeler maps correlation keys back to the first label that produced them.
type labeler map[engine.CorrelationKey]string

func labelIndex(steps []SuggestionStep, params map[string]ir.ParameterSet) labeler {
	keyer := engine.NewKeyer()
	out := make(labeler, len(steps))
	for _, step := range steps {
		key, err := keyer.Derive(params[step.Label])
		if err != nil {
			continue
		}
		if _, ok := out[key]; !ok {
			out[key] = step.Label
		}
	}
	return out
}

func (l labeler) resolve(ev engine.Event) string {
	if ev.Ref != "" {
		return ev.Ref
	}
	if label, ok := l[ev.Key]; ok {
		return label
	}
	return string(ev.Key)
}

// RenderTrace formats a result as text, one event per line, followed by
// the run summary. This is the golden file format.
func RenderTrace(r *Result) []byte {
	var buf strings.Builder
	for _, ev := range r.Trace {
		switch engine.EventKind(ev.Kind) {
		case engine.EventState:
			fmt.Fprintf(&buf, "state %s", ev.State)
		case engine.EventComplete:
			outcome := "ok"
			if ev.Failed {
				outcome = "failed"
			}
			fmt.Fprintf(&buf, "complete %s %s", ev.Label, outcome)
		case engine.EventExhausted:
			buf.WriteString("exhausted")
		default:
			fmt.Fprintf(&buf, "%s %s", ev.Kind, ev.Label)
		}
		fmt.Fprintf(&buf, " in_flight=%d completed=%d\n", ev.InFlight, ev.Completed)
	}

	s := r.Summary
	fmt.Fprintf(&buf, "summary submitted=%d completed=%d failed=%d discarded=%d unresolved=%d max_in_flight=%d\n",
		s.Submitted, s.Completed, s.Failed, s.Discarded, s.Unresolved, s.MaxInFlight)
	fmt.Fprintf(&buf, "final_push %d\n", r.FinalPushes)
	if code := r.ErrorCode(); code != "" {
		fmt.Fprintf(&buf, "error %s\n", code)
	}
	return []byte(buf.String())
}
