package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sweep/internal/engine"
	"github.com/roach88/sweep/internal/ir"
)

// Scenario defines a scripted sweep run.
// The oracle hands out Suggestions in order, the pool completes work in
// CompletionOrder, and the assertions check what the coordinator did.
type Scenario struct {
	// Name uniquely identifies this scenario and its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Priming is the number of suggestions requested up front.
	// Zero leaves the coordinator default in place.
	Priming int `yaml:"priming,omitempty"`

	// Budget is the total number of evaluations allowed.
	Budget int `yaml:"budget"`

	// Suggestions is the oracle's script. The oracle returns empty
	// batches once it runs out.
	Suggestions []SuggestionStep `yaml:"suggestions"`

	// CompletionOrder lists suggestion labels in the order their
	// evaluations finish. Work not listed completes in submission order
	// after the listed entries are used up.
	CompletionOrder []string `yaml:"completion_order,omitempty"`

	// Fail lists suggestion labels whose evaluations return an error.
	Fail []string `yaml:"fail,omitempty"`

	// RedeliverAfter makes the pool deliver the first completion a second
	// time once this many completions have been handled. The replay is
	// only read while work is still in flight.
	RedeliverAfter int `yaml:"redeliver_after,omitempty"`

	// SuggestErrorAfter makes the oracle fail once this many suggestions
	// have been issued.
	SuggestErrorAfter *int `yaml:"suggest_error_after,omitempty"`

	// SinkErrorAfter makes the sink fail once this many records are stored.
	SinkErrorAfter *int `yaml:"sink_error_after,omitempty"`

	// ReportError makes every oracle report fail.
	ReportError bool `yaml:"report_error,omitempty"`

	// Assertions validate the trace, summary and stored records.
	Assertions []Assertion `yaml:"assertions"`
}

// SuggestionStep is one scripted oracle suggestion.
type SuggestionStep struct {
	// Label names the suggestion in traces and is used as its oracle ref.
	Label string `yaml:"label"`

	// Params are converted to ir.IRValue types; YAML integers stay
	// integers and YAML floats stay floats.
	Params map[string]any `yaml:"params"`
}

func (s SuggestionStep) parameterSet() (ir.ParameterSet, error) {
	ps := make(ir.ParameterSet, len(s.Params))
	for name, raw := range s.Params {
		v, err := ir.FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("suggestion %s param %q: %w", s.Label, name, err)
		}
		ps[name] = v
	}
	return ps, nil
}

// Assertion validates one aspect of a finished run.
type Assertion struct {
	// Type selects the check; see the Assert* constants.
	Type string `yaml:"type"`

	// Expect maps summary counter names to expected values (summary).
	Expect map[string]int `yaml:"expect,omitempty"`

	// States is the expected state sequence (state_order).
	States []string `yaml:"states,omitempty"`

	// Kind is the event kind (event_order, event_count).
	Kind string `yaml:"kind,omitempty"`

	// Labels is the expected label sequence (event_order).
	Labels []string `yaml:"labels,omitempty"`

	// Count is the expected number of matches (event_count, records,
	// final_push).
	Count int `yaml:"count,omitempty"`

	// Outcome filters records by outcome (records).
	Outcome string `yaml:"outcome,omitempty"`

	// Where filters records by parameter value (records).
	Where map[string]any `yaml:"where,omitempty"`

	// Code is the expected runtime error code, empty for a clean run
	// (run_error).
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertSummary     = "summary"
	AssertStateOrder  = "state_order"
	AssertEventOrder  = "event_order"
	AssertEventCount  = "event_count"
	AssertBudgetBound = "budget_bound"
	AssertRecords     = "records"
	AssertRunError    = "run_error"
	AssertFinalPush   = "final_push"
	AssertSinkClosed  = "sink_closed"
)

var summaryCounters = map[string]bool{
	"submitted":       true,
	"completed":       true,
	"failed":          true,
	"discarded":       true,
	"unresolved":      true,
	"report_failures": true,
	"max_in_flight":   true,
}

var eventKinds = map[string]bool{
	string(engine.EventState):      true,
	string(engine.EventSubmit):     true,
	string(engine.EventDiscard):    true,
	string(engine.EventComplete):   true,
	string(engine.EventUnresolved): true,
	string(engine.EventExhausted):  true,
}

var stateNames = map[string]bool{
	engine.StatePriming.String():  true,
	engine.StateSteady.String():   true,
	engine.StateDraining.String(): true,
	engine.StateDone.String():     true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields so "assertion:" is not silently ignored
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Budget < 1 {
		return fmt.Errorf("budget must be >= 1, got %d", s.Budget)
	}
	if s.Priming < 0 {
		return fmt.Errorf("priming must be >= 0, got %d", s.Priming)
	}
	if s.RedeliverAfter < 0 {
		return fmt.Errorf("redeliver_after must be >= 0, got %d", s.RedeliverAfter)
	}
	if s.SuggestErrorAfter != nil && *s.SuggestErrorAfter < 0 {
		return fmt.Errorf("suggest_error_after must be >= 0")
	}
	if s.SinkErrorAfter != nil && *s.SinkErrorAfter < 0 {
		return fmt.Errorf("sink_error_after must be >= 0")
	}

	labels := make(map[string]bool, len(s.Suggestions))
	for i, step := range s.Suggestions {
		if step.Label == "" {
			return fmt.Errorf("suggestion %d: label is required", i)
		}
		if labels[step.Label] {
			return fmt.Errorf("suggestion %d: duplicate label %q", i, step.Label)
		}
		if len(step.Params) == 0 {
			return fmt.Errorf("suggestion %s: params are required", step.Label)
		}
		labels[step.Label] = true
	}
	for _, label := range s.CompletionOrder {
		if !labels[label] {
			return fmt.Errorf("completion_order: unknown label %q", label)
		}
	}
	for _, label := range s.Fail {
		if !labels[label] {
			return fmt.Errorf("fail: unknown label %q", label)
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertion %d: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertSummary:
		if len(a.Expect) == 0 {
			return fmt.Errorf("summary requires expect")
		}
		for name := range a.Expect {
			if !summaryCounters[name] {
				return fmt.Errorf("summary: unknown counter %q", name)
			}
		}
	case AssertStateOrder:
		if len(a.States) == 0 {
			return fmt.Errorf("state_order requires states")
		}
		for _, st := range a.States {
			if !stateNames[st] {
				return fmt.Errorf("state_order: unknown state %q", st)
			}
		}
	case AssertEventOrder, AssertEventCount:
		if !eventKinds[a.Kind] {
			return fmt.Errorf("%s: unknown event kind %q", a.Type, a.Kind)
		}
	case AssertRecords:
		if a.Outcome != "" && a.Outcome != string(ir.OutcomeSuccess) && a.Outcome != string(ir.OutcomeFailed) {
			return fmt.Errorf("records: unknown outcome %q", a.Outcome)
		}
	case AssertBudgetBound, AssertRunError, AssertFinalPush, AssertSinkClosed:
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
