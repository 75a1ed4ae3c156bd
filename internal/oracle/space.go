package oracle

import (
	"fmt"

	"github.com/roach88/sweep/internal/ir"
)

// ValidateSpace checks a search space: unique names, known types, a
// non-empty range for float and int, and values for discrete and
// categorical dimensions.
func ValidateSpace(params []ir.ParamSpec) error {
	if len(params) == 0 {
		return fmt.Errorf("search space has no parameters")
	}
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if p.Name == "" {
			return fmt.Errorf("parameter with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("parameter %q declared twice", p.Name)
		}
		seen[p.Name] = true

		if !ir.ValidParamTypes[p.Type] {
			return fmt.Errorf("parameter %q: unknown type %q", p.Name, p.Type)
		}
		switch p.Type {
		case ir.ParamFloat:
			if !(p.Min < p.Max) {
				return fmt.Errorf("parameter %q: min %v must be below max %v", p.Name, p.Min, p.Max)
			}
		case ir.ParamInt:
			if p.Min != float64(int64(p.Min)) || p.Max != float64(int64(p.Max)) {
				return fmt.Errorf("parameter %q: int bounds must be whole numbers", p.Name)
			}
			if p.Min > p.Max {
				return fmt.Errorf("parameter %q: min %v exceeds max %v", p.Name, p.Min, p.Max)
			}
		case ir.ParamDiscrete:
			if len(p.Values) == 0 {
				return fmt.Errorf("parameter %q: discrete parameter needs values", p.Name)
			}
			for _, v := range p.Values {
				if _, ok := ir.AsFloat(v); !ok {
					return fmt.Errorf("parameter %q: discrete value %T is not numeric", p.Name, v)
				}
			}
		case ir.ParamCategorical:
			if len(p.Values) == 0 {
				return fmt.Errorf("parameter %q: categorical parameter needs values", p.Name)
			}
		}
	}
	return nil
}

// gridValues enumerates the values of one dimension. Float ranges have
// no finite enumeration.
func gridValues(p ir.ParamSpec) ([]ir.IRValue, error) {
	switch p.Type {
	case ir.ParamInt:
		lo, hi := int64(p.Min), int64(p.Max)
		vals := make([]ir.IRValue, 0, hi-lo+1)
		for i := lo; i <= hi; i++ {
			vals = append(vals, ir.IRInt(i))
		}
		return vals, nil
	case ir.ParamDiscrete, ir.ParamCategorical:
		return p.Values, nil
	default:
		return nil, fmt.Errorf("parameter %q: %s ranges cannot be enumerated by a grid", p.Name, p.Type)
	}
}
