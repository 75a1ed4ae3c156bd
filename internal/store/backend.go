package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/sweep/internal/ir"
)

// ErrNotFound is returned when a table holds no matching record.
var ErrNotFound = errors.New("no matching record")

// Backend is an append-only result store.
type Backend interface {
	// Append stores recs in table. Records whose ID is already stored
	// are skipped, so a retried batch never duplicates rows.
	Append(ctx context.Context, table string, recs []ir.Record) error

	// WriteRun records run metadata. Idempotent on run ID.
	WriteRun(ctx context.Context, run ir.Run) error

	// ReadResults returns the records of table that match f.
	ReadResults(ctx context.Context, table string, f Filter) ([]ir.Record, error)

	// Best returns the successful record with the best value of metric.
	// Ties go to the earliest record.
	Best(ctx context.Context, table string, metric ir.MetricSpec) (ir.Record, error)

	// Tables lists the tables that hold at least one record.
	Tables(ctx context.Context) ([]string, error)

	Close() error
}

// Kind names a backend implementation.
type Kind string

const (
	KindSQLite Kind = "sqlite"
	KindBadger Kind = "badger"
)

// OpenBackend opens the backend of the given kind at path. For SQLite
// path is a database file; for Badger it is a directory.
func OpenBackend(kind Kind, path string) (Backend, error) {
	switch kind {
	case KindSQLite, "":
		return Open(path)
	case KindBadger:
		cfg := DefaultBadgerConfig()
		cfg.Path = path
		return OpenBadger(cfg)
	default:
		return nil, fmt.Errorf("unknown store backend %q (want %s or %s)", kind, KindSQLite, KindBadger)
	}
}

// Filter selects records. Zero fields match everything.
type Filter struct {
	RunID   string
	Outcome ir.Outcome
	// Params must all be present with equal values. Numbers compare
	// by value, so 2 matches 2.0.
	Params map[string]ir.IRValue
	// Limit caps the number of records returned; 0 means no cap.
	Limit int
}

// Match reports whether rec satisfies f, ignoring Limit.
func (f Filter) Match(rec ir.Record) bool {
	if f.RunID != "" && rec.RunID != f.RunID {
		return false
	}
	if f.Outcome != "" && rec.Outcome != f.Outcome {
		return false
	}
	for name, want := range f.Params {
		got, ok := rec.Params[name]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b ir.IRValue) bool {
	if fa, ok := ir.AsFloat(a); ok {
		fb, ok := ir.AsFloat(b)
		return ok && fa == fb
	}
	ca, errA := ir.MarshalCanonical(a)
	cb, errB := ir.MarshalCanonical(b)
	return errA == nil && errB == nil && string(ca) == string(cb)
}

// ParseFilterParams parses name=value pairs. Values are read as JSON
// literals when possible (1, 2.5, true, "x") and as bare strings
// otherwise.
func ParseFilterParams(pairs []string) (map[string]ir.IRValue, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]ir.IRValue, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("filter %q: want name=value", pair)
		}
		v, err := ir.UnmarshalIRValue([]byte(raw))
		if err != nil {
			v = ir.IRString(raw)
		}
		out[name] = v
	}
	return out, nil
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// ValidateTable checks that name can be used as a result table.
func ValidateTable(name string) error {
	if !tableName.MatchString(name) {
		return fmt.Errorf("invalid table name %q: use letters, digits, '_', '.' or '-', starting with a letter or '_'", name)
	}
	return nil
}
