// Package engine implements the sweep coordinator: the replenishment loop
// that keeps a worker pool busy with oracle suggestions until an
// evaluation budget is spent.
//
// ARCHITECTURE:
//
// Single-writer loop:
// One goroutine (the caller of Coordinator.Run) owns the in-flight
// Registry, the Keyer schema and every counter. Workers never touch
// coordinator state; they only deliver completions to the stream. The
// loop suspends in exactly one place, CompletionStream.AwaitNext.
//
// States:
//
//	PRIMING   submit min(priming width, budget) suggestions up front
//	STEADY    one completion out, one suggestion in
//	DRAINING  budget or oracle exhausted; consume what is in flight
//	DONE      registry empty, sink final-pushed
//
// Per completion the loop derives the key, resolves it in the registry,
// pushes the record to the sink, reports the measurement to the oracle,
// retires the entry and, while STEADY, refills one slot if
// completed + in-flight < budget. A suggestion whose key is already in
// flight is discarded without consuming budget.
//
// Sequence numbers come from a logical Clock, never from wall time.
package engine
