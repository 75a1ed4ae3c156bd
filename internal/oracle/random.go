package oracle

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/roach88/sweep/internal/ir"
)

// Random samples the space uniformly. Float ranges are half-open
// [min, max); int ranges include both bounds. The same seed always
// yields the same sequence.
type Random struct {
	*Book

	mu     sync.Mutex
	params []ir.ParamSpec
	rng    *rand.Rand
	limit  int
	issued int
}

// RandomOption configures a Random oracle.
type RandomOption func(*Random)

// WithLimit stops the oracle after n suggestions. 0 means unlimited.
func WithLimit(n int) RandomOption {
	return func(r *Random) {
		r.limit = n
	}
}

// NewRandom creates a random oracle over params.
func NewRandom(params []ir.ParamSpec, metric ir.MetricSpec, seed int64, opts ...RandomOption) (*Random, error) {
	if err := ValidateSpace(params); err != nil {
		return nil, fmt.Errorf("new random: %w", err)
	}
	r := &Random{
		Book:   NewBook(metric),
		params: params,
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Suggest draws count parameter sets.
func (r *Random) Suggest(ctx context.Context, count int) ([]ir.Suggestion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.limit > 0 {
		count = min(count, r.limit-r.issued)
	}
	out := make([]ir.Suggestion, 0, max(count, 0))
	for range count {
		params := make(ir.ParameterSet, len(r.params))
		for _, p := range r.params {
			params[p.Name] = r.sample(p)
		}
		out = append(out, r.issue(params))
		r.issued++
	}
	return out, nil
}

func (r *Random) sample(p ir.ParamSpec) ir.IRValue {
	switch p.Type {
	case ir.ParamFloat:
		return ir.IRFloat(p.Min + r.rng.Float64()*(p.Max-p.Min))
	case ir.ParamInt:
		lo, hi := int64(p.Min), int64(p.Max)
		return ir.IRInt(lo + r.rng.Int64N(hi-lo+1))
	default:
		return ir.Clone(p.Values[r.rng.IntN(len(p.Values))])
	}
}
