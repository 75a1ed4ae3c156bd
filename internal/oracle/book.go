package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/sweep/internal/ir"
)

var (
	// ErrUnknownSuggestion is returned when a report names a ref the
	// oracle never issued.
	ErrUnknownSuggestion = errors.New("unknown suggestion")

	// ErrAlreadyReported is returned for a second report of one ref.
	ErrAlreadyReported = errors.New("suggestion already reported")

	// ErrNoTrials is returned by Best before any successful report.
	ErrNoTrials = errors.New("no successful trials")
)

// Trial is one issued suggestion and, once reported, its measurement.
type Trial struct {
	Ref         string
	Params      ir.ParameterSet
	Measurement ir.Measurement
	Reported    bool
}

// Book records the trials of one oracle.
//
// Thread-safety: safe for concurrent use.
type Book struct {
	mu     sync.Mutex
	metric ir.MetricSpec
	trials map[string]*Trial
	order  []string
}

// NewBook creates a book ranking trials by metric.
func NewBook(metric ir.MetricSpec) *Book {
	return &Book{metric: metric, trials: make(map[string]*Trial)}
}

// issue records params as a new trial and returns its suggestion.
func (b *Book) issue(params ir.ParameterSet) ir.Suggestion {
	b.mu.Lock()
	defer b.mu.Unlock()

	ref := fmt.Sprintf("trial-%d", len(b.order))
	b.trials[ref] = &Trial{Ref: ref, Params: params.Clone()}
	b.order = append(b.order, ref)
	return ir.Suggestion{Ref: ref, Params: params}
}

// Report records the measurement for ref.
func (b *Book) Report(_ context.Context, ref string, m ir.Measurement) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.trials[ref]
	if !ok {
		return fmt.Errorf("report %s: %w", ref, ErrUnknownSuggestion)
	}
	if t.Reported {
		return fmt.Errorf("report %s: %w", ref, ErrAlreadyReported)
	}
	t.Measurement = m
	t.Reported = true
	return nil
}

// Best returns the successful trial with the best metric value.
// Ties go to the trial issued first.
func (b *Book) Best() (Trial, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		best  *Trial
		value float64
	)
	for _, ref := range b.order {
		t := b.trials[ref]
		if !t.Reported || t.Measurement.Failed {
			continue
		}
		v, ok := t.Measurement.Metrics[b.metric.Name]
		if !ok {
			continue
		}
		if best == nil || b.metric.Better(v, value) {
			best, value = t, v
		}
	}
	if best == nil {
		return Trial{}, ErrNoTrials
	}
	return *best, nil
}

// Trials returns every trial in issue order.
func (b *Book) Trials() []Trial {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Trial, len(b.order))
	for i, ref := range b.order {
		out[i] = *b.trials[ref]
	}
	return out
}

// Metric returns the metric trials are ranked by.
func (b *Book) Metric() ir.MetricSpec {
	return b.metric
}
