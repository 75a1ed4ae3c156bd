package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/sweep/internal/ir"
)

// marshalParams converts a parameter set to canonical JSON TEXT.
func marshalParams(p ir.ParameterSet) (string, error) {
	data, err := ir.MarshalCanonical(p.Object())
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	return string(data), nil
}

// marshalMetrics converts metrics to canonical JSON TEXT. Failed records
// carry an empty object.
func marshalMetrics(m map[string]float64) (string, error) {
	obj := make(ir.IRObject, len(m))
	for name, v := range m {
		obj[name] = ir.IRFloat(v)
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal metrics: %w", err)
	}
	return string(data), nil
}

// marshalObservables converts observables to canonical JSON TEXT.
func marshalObservables(obs ir.IRObject) (string, error) {
	if obs == nil {
		return "{}", nil
	}
	data, err := ir.MarshalCanonical(obs)
	if err != nil {
		return "", fmt.Errorf("marshal observables: %w", err)
	}
	return string(data), nil
}

// unmarshalParams uses IRObject.UnmarshalJSON, which keeps the int/float
// distinction and avoids float64 precision loss for large integers.
func unmarshalParams(data string) (ir.ParameterSet, error) {
	var p ir.ParameterSet
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	return p, nil
}

func unmarshalMetrics(data string) (map[string]float64, error) {
	m := map[string]float64{}
	if data == "" || data == "{}" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal metrics: %w", err)
	}
	return m, nil
}

func unmarshalObservables(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal observables: %w", err)
	}
	return obj, nil
}
