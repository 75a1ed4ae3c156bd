package oracle

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/roach88/sweep/internal/ir"
)

// Oracle is the interface the coordinator drives.
type Oracle interface {
	Suggest(ctx context.Context, count int) ([]ir.Suggestion, error)
	Report(ctx context.Context, ref string, m ir.Measurement) error
}

// Tracker is an Oracle that keeps its trials.
type Tracker interface {
	Oracle
	Best() (Trial, error)
	Trials() []Trial
	Metric() ir.MetricSpec
}

// RateLimited allows at most perSecond Suggest calls per second (with a
// burst of one) to reach the wrapped oracle. Report is not limited.
type RateLimited struct {
	Tracker
	limiter *rate.Limiter
}

// NewRateLimited wraps inner. perSecond must be positive.
func NewRateLimited(inner Tracker, perSecond float64) (*RateLimited, error) {
	if perSecond <= 0 {
		return nil, fmt.Errorf("suggest rate must be positive, got %v", perSecond)
	}
	return &RateLimited{
		Tracker: inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}, nil
}

// Suggest waits for the limiter, then asks the wrapped oracle.
func (r *RateLimited) Suggest(ctx context.Context, count int) ([]ir.Suggestion, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("suggest: %w", err)
	}
	return r.Tracker.Suggest(ctx, count)
}

// New builds the oracle a study names: "grid" or "random".
func New(spec *ir.StudySpec) (Tracker, error) {
	switch spec.Oracle {
	case "grid":
		return NewGrid(spec.Params, spec.Metric)
	case "random", "":
		return NewRandom(spec.Params, spec.Metric, spec.Seed)
	default:
		return nil, fmt.Errorf("unknown oracle %q (want grid or random)", spec.Oracle)
	}
}
