package ir

import (
	"encoding/json"
	"fmt"
)

// ParameterSet is the named input of one evaluation.
// It is treated as immutable once submitted.
type ParameterSet map[string]IRValue

// Names returns the parameter names in canonical order.
func (p ParameterSet) Names() []string {
	return SortNames(keysOf(p))
}

// Clone returns a deep copy.
func (p ParameterSet) Clone() ParameterSet {
	if p == nil {
		return nil
	}
	out := make(ParameterSet, len(p))
	for k, v := range p {
		out[k] = Clone(v)
	}
	return out
}

// Object views the set as an IRObject without copying.
func (p ParameterSet) Object() IRObject {
	return IRObject(p)
}

// Float returns a numeric parameter as float64.
func (p ParameterSet) Float(name string) (float64, error) {
	v, ok := p[name]
	if !ok {
		return 0, fmt.Errorf("parameter %q missing", name)
	}
	f, ok := AsFloat(v)
	if !ok {
		return 0, fmt.Errorf("parameter %q is %T, not numeric", name, v)
	}
	return f, nil
}

// Text returns a string parameter.
func (p ParameterSet) Text(name string) (string, error) {
	v, ok := p[name]
	if !ok {
		return "", fmt.Errorf("parameter %q missing", name)
	}
	s, ok := v.(IRString)
	if !ok {
		return "", fmt.Errorf("parameter %q is %T, not a string", name, v)
	}
	return string(s), nil
}

// MarshalJSON implements json.Marshaler.
func (p ParameterSet) MarshalJSON() ([]byte, error) {
	return IRObject(p).MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *ParameterSet) UnmarshalJSON(data []byte) error {
	var obj IRObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*p = ParameterSet(obj)
	return nil
}

// Suggestion is one proposal from a suggestion oracle.
// Ref identifies it when the outcome is reported back.
type Suggestion struct {
	Ref    string       `json:"ref"`
	Params ParameterSet `json:"params"`
}

// Measurement is the outcome reported back to the oracle.
type Measurement struct {
	Metrics map[string]float64 `json:"metrics"`
	Failed  bool               `json:"failed"`
	Reason  string             `json:"reason,omitempty"`
}

// Result is what an evaluation callable returns: at least one named
// metric plus optional non-numeric observables.
type Result struct {
	Metrics     map[string]float64 `json:"metrics"`
	Observables IRObject           `json:"observables,omitempty"`
}

// Outcome classifies a persisted record.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Record is one append-only entry in a result table.
type Record struct {
	ID            string             `json:"id"`
	Table         string             `json:"table"`
	RunID         string             `json:"run_id"`
	Seq           int64              `json:"seq"`
	Key           string             `json:"key"`
	KeyHash       string             `json:"key_hash"`
	SuggestionRef string             `json:"suggestion_ref"`
	Params        ParameterSet       `json:"params"`
	Metrics       map[string]float64 `json:"metrics"`
	Observables   IRObject           `json:"observables,omitempty"`
	Outcome       Outcome            `json:"outcome"`
	Error         string             `json:"error,omitempty"`
	DurationMS    int64              `json:"duration_ms"`
}

// Run describes one coordinator run for the runs table.
type Run struct {
	ID        string `json:"id"`
	Study     string `json:"study"`
	Table     string `json:"table"`
	Objective string `json:"objective"`
	Budget    int    `json:"budget"`
	Priming   int    `json:"priming"`
	Version   string `json:"version"`
}

// ParamType is the kind of a search-space dimension.
type ParamType string

const (
	ParamFloat       ParamType = "float"
	ParamInt         ParamType = "int"
	ParamDiscrete    ParamType = "discrete"
	ParamCategorical ParamType = "categorical"
)

// ValidParamTypes lists the accepted parameter types.
var ValidParamTypes = map[ParamType]bool{
	ParamFloat:       true,
	ParamInt:         true,
	ParamDiscrete:    true,
	ParamCategorical: true,
}

// ParamSpec is one search-space dimension.
// Float and int use Min/Max; discrete and categorical use Values.
type ParamSpec struct {
	Name   string    `json:"name"`
	Type   ParamType `json:"type"`
	Min    float64   `json:"min,omitempty"`
	Max    float64   `json:"max,omitempty"`
	Values []IRValue `json:"values,omitempty"`
}

// Goal is the optimisation direction of a metric.
type Goal string

const (
	GoalMaximize Goal = "maximize"
	GoalMinimize Goal = "minimize"
)

// MetricSpec names the metric an oracle optimises.
type MetricSpec struct {
	Name string `json:"name"`
	Goal Goal   `json:"goal"`
}

// Better reports whether a beats b under the goal.
func (m MetricSpec) Better(a, b float64) bool {
	if m.Goal == GoalMinimize {
		return a < b
	}
	return a > b
}

// StudySpec is a compiled study definition.
type StudySpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Table       string      `json:"table"`
	Objective   string      `json:"objective"`
	Oracle      string      `json:"oracle"`
	Budget      int         `json:"budget"`
	Priming     int         `json:"priming"`
	Seed        int64       `json:"seed"`
	Metric      MetricSpec  `json:"metric"`
	Params      []ParamSpec `json:"params"`
}
