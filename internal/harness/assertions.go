package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/sweep/internal/ir"
	"github.com/roach88/sweep/internal/sink"
	"github.com/roach88/sweep/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes the rendered trace to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s %s in_flight=%d completed=%d\n",
			i+1, ev.Kind, ev.State, ev.Label, ev.InFlight, ev.Completed)
	}
	return buf.String()
}

func evaluate(r *Result, s *Scenario, a Assertion) error {
	switch a.Type {
	case AssertSummary:
		return assertSummary(r, a)
	case AssertStateOrder:
		return assertStateOrder(r, a)
	case AssertEventOrder:
		return assertEventOrder(r, a)
	case AssertEventCount:
		return assertEventCount(r, a)
	case AssertBudgetBound:
		return assertBudgetBound(r, s)
	case AssertRecords:
		return assertRecords(r, a)
	case AssertRunError:
		return assertRunError(r, a)
	case AssertFinalPush:
		return assertFinalPush(r, a)
	case AssertSinkClosed:
		return assertSinkClosed(r)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func summaryValue(r *Result, name string) int {
	s := r.Summary
	switch name {
	case "submitted":
		return s.Submitted
	case "completed":
		return s.Completed
	case "failed":
		return s.Failed
	case "discarded":
		return s.Discarded
	case "unresolved":
		return s.Unresolved
	case "report_failures":
		return s.ReportFailures
	case "max_in_flight":
		return s.MaxInFlight
	default:
		return -1
	}
}

// assertSummary compares the named counters; unnamed counters are ignored.
func assertSummary(r *Result, a Assertion) error {
	var mismatches []string
	for _, name := range sortedKeys(a.Expect) {
		if got := summaryValue(r, name); got != a.Expect[name] {
			mismatches = append(mismatches, fmt.Sprintf("%s=%d (want %d)", name, got, a.Expect[name]))
		}
	}
	if len(mismatches) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertSummary,
		Expected: fmt.Sprintf("%v", a.Expect),
		Actual:   strings.Join(mismatches, ", "),
		Trace:    r.Trace,
	}
}

func assertStateOrder(r *Result, a Assertion) error {
	var got []string
	for _, ev := range r.Trace {
		if ev.Kind == "state" {
			got = append(got, ev.State)
		}
	}
	if slices.Equal(got, a.States) {
		return nil
	}
	return &AssertionError{
		Type:     AssertStateOrder,
		Expected: strings.Join(a.States, " -> "),
		Actual:   strings.Join(got, " -> "),
		Trace:    r.Trace,
	}
}

func labelsOf(r *Result, kind string) []string {
	var out []string
	for _, ev := range r.Trace {
		if ev.Kind == kind {
			out = append(out, ev.Label)
		}
	}
	return out
}

// assertEventOrder requires the labels of every event of a kind to match
// exactly; an empty label list asserts there were none.
func assertEventOrder(r *Result, a Assertion) error {
	got := labelsOf(r, a.Kind)
	if slices.Equal(got, a.Labels) {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventOrder,
		Expected: fmt.Sprintf("%s events %v", a.Kind, a.Labels),
		Actual:   fmt.Sprintf("%s events %v", a.Kind, got),
		Trace:    r.Trace,
	}
}

func assertEventCount(r *Result, a Assertion) error {
	got := len(labelsOf(r, a.Kind))
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventCount,
		Expected: fmt.Sprintf("%d %s events", a.Count, a.Kind),
		Actual:   fmt.Sprintf("%d %s events", got, a.Kind),
		Trace:    r.Trace,
	}
}

// assertBudgetBound checks every event snapshot against the budget and the
// priming width. A zero priming width only bounds by the budget.
func assertBudgetBound(r *Result, s *Scenario) error {
	for i, ev := range r.Trace {
		if ev.Completed+ev.InFlight > s.Budget {
			return &AssertionError{
				Type:     AssertBudgetBound,
				Expected: fmt.Sprintf("completed + in_flight <= %d", s.Budget),
				Actual:   fmt.Sprintf("event %d: %d + %d", i+1, ev.Completed, ev.InFlight),
				Trace:    r.Trace,
			}
		}
		if s.Priming > 0 && ev.InFlight > s.Priming {
			return &AssertionError{
				Type:     AssertBudgetBound,
				Expected: fmt.Sprintf("in_flight <= %d", s.Priming),
				Actual:   fmt.Sprintf("event %d: in_flight=%d", i+1, ev.InFlight),
				Trace:    r.Trace,
			}
		}
	}
	return nil
}

func assertRecords(r *Result, a Assertion) error {
	f := store.Filter{RunID: ScenarioRunID, Outcome: ir.Outcome(a.Outcome)}
	if len(a.Where) > 0 {
		f.Params = make(map[string]ir.IRValue, len(a.Where))
		for name, raw := range a.Where {
			v, err := ir.FromAny(raw)
			if err != nil {
				return fmt.Errorf("records: where %q: %w", name, err)
			}
			f.Params[name] = v
		}
	}

	got := 0
	for _, rec := range r.Records {
		if f.Match(rec) {
			got++
		}
	}
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertRecords,
		Expected: fmt.Sprintf("%d records (outcome=%q where=%v)", a.Count, a.Outcome, a.Where),
		Actual:   fmt.Sprintf("%d records", got),
		Trace:    r.Trace,
	}
}

func assertRunError(r *Result, a Assertion) error {
	if got := r.ErrorCode(); got != a.Code {
		return &AssertionError{
			Type:     AssertRunError,
			Expected: fmt.Sprintf("error code %q", a.Code),
			Actual:   fmt.Sprintf("error code %q (%v)", got, r.Err),
			Trace:    r.Trace,
		}
	}
	return nil
}

func assertFinalPush(r *Result, a Assertion) error {
	if r.FinalPushes == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalPush,
		Expected: fmt.Sprintf("%d final pushes", a.Count),
		Actual:   fmt.Sprintf("%d final pushes", r.FinalPushes),
		Trace:    r.Trace,
	}
}

// assertSinkClosed pushes one more record after the run and requires the
// sink to refuse it without storing anything.
func assertSinkClosed(r *Result) error {
	before := len(r.sink.Records())
	err := r.sink.Push(context.Background(), ir.Record{ID: "late", RunID: ScenarioRunID})
	after := len(r.sink.Records())

	if errors.Is(err, sink.ErrSinkClosed) && after == before {
		return nil
	}
	return &AssertionError{
		Type:     AssertSinkClosed,
		Expected: "push after final push fails with ErrSinkClosed",
		Actual:   fmt.Sprintf("err=%v, records %d -> %d", err, before, after),
		Trace:    r.Trace,
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
