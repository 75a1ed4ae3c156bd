package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/sweep/internal/ir"
)

// Report is one measurement received by a ScriptedOracle.
type Report struct {
	Ref         string
	Measurement ir.Measurement
}

// ScriptedOracle hands out a fixed sequence of suggestions and records
// every report. When the script runs out it returns empty batches.
//
// Thread-safety: safe for concurrent use.
type ScriptedOracle struct {
	mu         sync.Mutex
	script     []ir.Suggestion
	next       int
	issued     map[string]bool
	reports    []Report
	requests   []int
	failAfter  int
	suggestErr error
	reportErr  error
}

// NewScriptedOracle creates an oracle that returns script in order.
func NewScriptedOracle(script ...ir.Suggestion) *ScriptedOracle {
	return &ScriptedOracle{
		script:    script,
		issued:    make(map[string]bool),
		failAfter: -1,
	}
}

// Suggestions wraps parameter sets as suggestions with refs s0, s1, ...
func Suggestions(params ...ir.ParameterSet) []ir.Suggestion {
	out := make([]ir.Suggestion, len(params))
	for i, p := range params {
		out[i] = ir.Suggestion{Ref: fmt.Sprintf("s%d", i), Params: p}
	}
	return out
}

// FailSuggestAfter makes Suggest return err once n suggestions have been
// issued.
func (o *ScriptedOracle) FailSuggestAfter(n int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failAfter = n
	o.suggestErr = err
}

// FailReports makes every Report return err (after recording it).
func (o *ScriptedOracle) FailReports(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reportErr = err
}

// Suggest returns up to count suggestions from the script.
func (o *ScriptedOracle) Suggest(_ context.Context, count int) ([]ir.Suggestion, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.requests = append(o.requests, count)
	if o.failAfter >= 0 && o.next >= o.failAfter {
		return nil, o.suggestErr
	}

	end := min(o.next+count, len(o.script))
	if o.failAfter >= 0 {
		end = min(end, o.failAfter)
	}
	batch := make([]ir.Suggestion, 0, end-o.next)
	for _, s := range o.script[o.next:end] {
		batch = append(batch, ir.Suggestion{Ref: s.Ref, Params: s.Params.Clone()})
		o.issued[s.Ref] = true
	}
	o.next = end
	return batch, nil
}

// Report records a measurement. Refs that were never issued are errors.
func (o *ScriptedOracle) Report(_ context.Context, ref string, m ir.Measurement) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.issued[ref] {
		return fmt.Errorf("report for unknown suggestion %q", ref)
	}
	o.reports = append(o.reports, Report{Ref: ref, Measurement: m})
	return o.reportErr
}

// Reports returns the recorded reports in arrival order.
func (o *ScriptedOracle) Reports() []Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Report(nil), o.reports...)
}

// Requests returns the count argument of every Suggest call.
func (o *ScriptedOracle) Requests() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.requests...)
}

// Issued returns how many suggestions have been handed out.
func (o *ScriptedOracle) Issued() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.next
}
