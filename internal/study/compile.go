// Package study loads CUE study definitions and compiles them to
// ir.StudySpec.
package study

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/sweep/internal/ir"
	"github.com/roach88/sweep/internal/oracle"
	"github.com/roach88/sweep/internal/store"
)

// Compile parses a CUE value into a StudySpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the study struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`study: xyz: { ... }`)
//	spec, err := Compile(v.LookupPath(cue.ParsePath("study.xyz")))
func Compile(v cue.Value) (*ir.StudySpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.StudySpec{Oracle: "random"}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = labels[len(labels)-1].String()
	}

	var err error
	if spec.Description, err = optionalString(v, "description"); err != nil {
		return nil, err
	}
	if spec.Table, err = requiredString(v, "table"); err != nil {
		return nil, err
	}
	if spec.Objective, err = requiredString(v, "objective"); err != nil {
		return nil, err
	}
	if o, err := optionalString(v, "oracle"); err != nil {
		return nil, err
	} else if o != "" {
		spec.Oracle = o
	}

	budget, err := optionalInt(v, "budget")
	if err != nil {
		return nil, err
	}
	spec.Budget = int(budget)
	priming, err := optionalInt(v, "priming")
	if err != nil {
		return nil, err
	}
	spec.Priming = int(priming)
	if spec.Seed, err = optionalInt(v, "seed"); err != nil {
		return nil, err
	}

	if spec.Metric, err = parseMetric(v); err != nil {
		return nil, err
	}
	if spec.Params, err = parseParams(v); err != nil {
		return nil, err
	}

	if err := validate(v, spec); err != nil {
		return nil, err
	}
	return spec, nil
}

func validate(v cue.Value, spec *ir.StudySpec) error {
	if err := store.ValidateTable(spec.Table); err != nil {
		return &CompileError{Field: "table", Message: err.Error(), Pos: v.LookupPath(cue.ParsePath("table")).Pos()}
	}
	if spec.Oracle != "grid" && spec.Oracle != "random" {
		return &CompileError{
			Field:   "oracle",
			Message: fmt.Sprintf("unknown oracle %q (want grid or random)", spec.Oracle),
			Pos:     v.LookupPath(cue.ParsePath("oracle")).Pos(),
		}
	}
	if spec.Budget < 0 {
		return &CompileError{Field: "budget", Message: "budget must not be negative", Pos: v.LookupPath(cue.ParsePath("budget")).Pos()}
	}
	if spec.Priming < 0 {
		return &CompileError{Field: "priming", Message: "priming must not be negative", Pos: v.LookupPath(cue.ParsePath("priming")).Pos()}
	}
	if err := oracle.ValidateSpace(spec.Params); err != nil {
		return &CompileError{Field: "params", Message: err.Error(), Pos: v.LookupPath(cue.ParsePath("params")).Pos()}
	}
	return nil
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	if s == "" {
		return "", &CompileError{Field: field, Message: field + " must not be empty", Pos: fv.Pos()}
	}
	return s, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalInt(v cue.Value, field string) (int64, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, nil
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return n, nil
}

func parseMetric(v cue.Value) (ir.MetricSpec, error) {
	mv := v.LookupPath(cue.ParsePath("metric"))
	if !mv.Exists() {
		return ir.MetricSpec{}, &CompileError{Field: "metric", Message: "metric is required", Pos: v.Pos()}
	}

	name, err := requiredString(mv, "name")
	if err != nil {
		return ir.MetricSpec{}, err
	}
	metric := ir.MetricSpec{Name: name, Goal: ir.GoalMaximize}

	goal, err := optionalString(mv, "goal")
	if err != nil {
		return ir.MetricSpec{}, err
	}
	switch ir.Goal(goal) {
	case "":
	case ir.GoalMaximize, ir.GoalMinimize:
		metric.Goal = ir.Goal(goal)
	default:
		return ir.MetricSpec{}, &CompileError{
			Field:   "metric.goal",
			Message: fmt.Sprintf("goal must be maximize or minimize, got %q", goal),
			Pos:     mv.LookupPath(cue.ParsePath("goal")).Pos(),
		}
	}
	return metric, nil
}

// parseParams reads the search space in declaration order.
func parseParams(v cue.Value) ([]ir.ParamSpec, error) {
	pv := v.LookupPath(cue.ParsePath("params"))
	if !pv.Exists() {
		return nil, &CompileError{Field: "params", Message: "params are required", Pos: v.Pos()}
	}

	iter, err := pv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var params []ir.ParamSpec
	for iter.Next() {
		p, err := parseParam(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	if len(params) == 0 {
		return nil, &CompileError{Field: "params", Message: "at least one parameter is required", Pos: pv.Pos()}
	}
	return params, nil
}

func parseParam(name string, v cue.Value) (ir.ParamSpec, error) {
	p := ir.ParamSpec{Name: name}

	typ, err := requiredString(v, "type")
	if err != nil {
		return p, err
	}
	p.Type = ir.ParamType(typ)
	if !ir.ValidParamTypes[p.Type] {
		return p, &CompileError{
			Field:   "params." + name + ".type",
			Message: fmt.Sprintf("unknown parameter type %q (want float, int, discrete or categorical)", typ),
			Pos:     v.LookupPath(cue.ParsePath("type")).Pos(),
		}
	}

	switch p.Type {
	case ir.ParamFloat, ir.ParamInt:
		if p.Min, err = requiredNumber(v, name, "min"); err != nil {
			return p, err
		}
		if p.Max, err = requiredNumber(v, name, "max"); err != nil {
			return p, err
		}
	default:
		if p.Values, err = parseValues(v, name); err != nil {
			return p, err
		}
	}
	return p, nil
}

func requiredNumber(v cue.Value, param, field string) (float64, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, &CompileError{
			Field:   "params." + param + "." + field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	f, err := fv.Float64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return f, nil
}

func parseValues(v cue.Value, param string) ([]ir.IRValue, error) {
	lv := v.LookupPath(cue.ParsePath("values"))
	if !lv.Exists() {
		return nil, &CompileError{
			Field:   "params." + param + ".values",
			Message: "values are required",
			Pos:     v.Pos(),
		}
	}
	iter, err := lv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var vals []ir.IRValue
	for iter.Next() {
		val, err := scalar(iter.Value())
		if err != nil {
			return nil, err
		}
		vals = append(vals, val)
	}
	return vals, nil
}

// scalar converts a concrete CUE scalar, keeping ints and floats apart.
func scalar(v cue.Value) (ir.IRValue, error) {
	switch v.Kind() {
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRInt(n), nil
	case cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRFloat(f), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	default:
		return nil, &CompileError{
			Field:   "values",
			Message: fmt.Sprintf("unsupported value kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
