// Package harness runs scripted sweep scenarios against the coordinator.
//
// A scenario fixes everything the real components leave to chance: the
// oracle's suggestions, the order in which evaluations complete, which of
// them fail, and which completions the pool delivers twice. The harness
// drives the coordinator with scripted doubles, records every loop event,
// and checks the trace against assertions and golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: steady_state
//	description: "What this scenario validates"
//	priming: 4
//	budget: 10
//	suggestions:
//	  - label: k0
//	    params: { i: 0 }
//	  - label: k1
//	    params: { i: 1 }
//	completion_order: [k1, k0]
//	fail: [k1]
//	redeliver_after: 1
//	assertions:
//	  - type: summary
//	    expect: { submitted: 2, completed: 2 }
//	  - type: state_order
//	    states: [PRIMING, STEADY, DRAINING, DONE]
//
// Labels name suggestions in the trace. Two suggestions with the same
// params are duplicates even when their labels differ.
//
// # Assertion Types
//
//   - summary: compares run counters (submitted, completed, failed, ...)
//   - state_order: the exact sequence of loop states entered
//   - event_order: the labels of every event of one kind, in order
//   - event_count: how many events of one kind were emitted
//   - budget_bound: completed + in flight never exceeds the budget, and
//     in flight never exceeds the priming width
//   - records: how many persisted records match an outcome and params
//   - run_error: the runtime error code the run returned, if any
//   - final_push: how many times the sink was final-pushed
//   - sink_closed: a push after the run is rejected and persists nothing
//
// # Golden Files
//
// Every scenario's trace renders to text, one event per line, and is
// compared against testdata/golden/<name>.golden:
//
//	go test ./internal/harness -update
package harness
