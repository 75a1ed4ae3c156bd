// Package testutil provides deterministic stand-ins for the coordinator's
// collaborators: a scripted oracle, a synchronous pool whose completion
// order is chosen by the test, and an in-memory sink.
package testutil
