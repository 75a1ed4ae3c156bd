package engine

import "fmt"

// DefaultBudget is the evaluation budget used when none is configured.
const DefaultBudget = 60

// DefaultPrimingWidth is used when neither the caller nor the dispatcher
// supplies a parallelism figure.
const DefaultPrimingWidth = 8

// Budget bounds the total number of evaluations in a run.
//
// Every submission decision uses the same comparison:
//
//	completed + inFlight < total
//
// Priming and refill share it, so a run never submits more than total
// units, and duplicates (which are never submitted) never count.
type Budget struct {
	total int
}

// NewBudget creates a budget of total evaluations.
func NewBudget(total int) (Budget, error) {
	if total < 1 {
		return Budget{}, fmt.Errorf("budget must be >= 1, got %d", total)
	}
	return Budget{total: total}, nil
}

// Allows reports whether one more unit may be submitted.
func (b Budget) Allows(completed, inFlight int) bool {
	return completed+inFlight < b.total
}

// Remaining returns how many more units may be submitted.
func (b Budget) Remaining(completed, inFlight int) int {
	return max(0, b.total-completed-inFlight)
}

// Total returns the configured budget.
func (b Budget) Total() int {
	return b.total
}
