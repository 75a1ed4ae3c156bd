package engine

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/roach88/sweep/internal/ir"
	"github.com/roach88/sweep/internal/pool"
)

// PendingWork is one in-flight submission.
type PendingWork struct {
	Key        CorrelationKey
	Handle     pool.Handle
	Suggestion ir.Suggestion
	Seq        int64 // logical time of submission
}

// Registry maps correlation keys to in-flight work. At most one entry
// exists per key, and each entry is retired exactly once.
//
// Not safe for concurrent use. A design with several coordinators
// sharing one registry would need a mutex around every method.
type Registry struct {
	entries map[CorrelationKey]*PendingWork
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[CorrelationKey]*PendingWork)}
}

// Add records pw. It fails with *DuplicateKeyError if pw.Key is already
// in flight.
func (r *Registry) Add(pw *PendingWork) error {
	if _, ok := r.entries[pw.Key]; ok {
		return &DuplicateKeyError{Key: pw.Key}
	}
	r.entries[pw.Key] = pw
	return nil
}

// Has reports whether key is in flight.
func (r *Registry) Has(key CorrelationKey) bool {
	_, ok := r.entries[key]
	return ok
}

// Lookup returns the in-flight entry for key.
func (r *Registry) Lookup(key CorrelationKey) (*PendingWork, bool) {
	pw, ok := r.entries[key]
	return pw, ok
}

// Retire removes and returns the entry for key. A second Retire of the
// same key returns false.
func (r *Registry) Retire(key CorrelationKey) (*PendingWork, bool) {
	pw, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	return pw, ok
}

// Len returns the number of in-flight entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Keys returns the in-flight keys in submission order.
func (r *Registry) Keys() []CorrelationKey {
	pending := make([]*PendingWork, 0, len(r.entries))
	for _, pw := range r.entries {
		pending = append(pending, pw)
	}
	slices.SortFunc(pending, func(a, b *PendingWork) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	keys := make([]CorrelationKey, len(pending))
	for i, pw := range pending {
		keys[i] = pw.Key
	}
	return keys
}

// DuplicateKeyError is returned when a key is added while already in
// flight.
type DuplicateKeyError struct {
	Key CorrelationKey
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("key %s already in flight", e.Key)
}
