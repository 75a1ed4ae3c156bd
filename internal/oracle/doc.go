// Package oracle provides the built-in suggestion oracles.
//
// An oracle proposes parameter sets with Suggest and receives the
// measured outcome of each with Report. Returning an empty batch from
// Suggest means the oracle has nothing left to propose.
//
// Grid walks the cartesian product of the search space. Random samples
// it uniformly from a seeded generator. Both keep a Book of every trial
// so the best one can be reported at the end of a run. RateLimited
// bounds how often any oracle is asked for suggestions.
package oracle
