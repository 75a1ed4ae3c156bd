package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/sweep/internal/ir"
)

// CorrelationKey identifies one dispatched unit of work: the canonical
// JSON array of its parameter values, ordered by the run's schema.
// Example: [2.5,-1,0.3,"g"] for names [w x y z].
type CorrelationKey string

// Hash returns the fixed-width digest used as the storage key.
func (k CorrelationKey) Hash() string {
	return ir.KeyHash(string(k))
}

// Keyer derives correlation keys. The first Derive call fixes the schema
// (sorted parameter names) for the lifetime of the Keyer; later parameter
// sets must carry exactly those names.
//
// Not safe for concurrent use; it is owned by the coordinator loop.
type Keyer struct {
	schema []string
}

// NewKeyer creates a Keyer with no schema yet.
func NewKeyer() *Keyer {
	return &Keyer{}
}

// Schema returns a copy of the captured schema, or nil before first use.
func (k *Keyer) Schema() []string {
	return slices.Clone(k.schema)
}

// Derive projects params onto the schema and encodes the tuple.
// Equal values always give equal keys, and distinct values under the
// schema give distinct keys.
func (k *Keyer) Derive(params ir.ParameterSet) (CorrelationKey, error) {
	names := params.Names()
	if len(names) == 0 {
		return "", fmt.Errorf("derive key: empty parameter set")
	}

	if k.schema == nil {
		k.schema = names
	} else if !slices.Equal(k.schema, names) {
		return "", &SchemaMismatchError{Expected: k.Schema(), Got: names}
	}

	tuple := make(ir.IRArray, len(k.schema))
	for i, name := range k.schema {
		tuple[i] = params[name]
	}
	b, err := ir.MarshalCanonical(tuple)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}
	return CorrelationKey(b), nil
}

// SchemaMismatchError is a usage error: a parameter set whose names
// differ from the schema captured on first use.
type SchemaMismatchError struct {
	Expected []string
	Got      []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("parameter names [%s] do not match key schema [%s]",
		strings.Join(e.Got, " "), strings.Join(e.Expected, " "))
}
