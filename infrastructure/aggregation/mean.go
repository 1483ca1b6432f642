package aggregation

import "github.com/ahrav/go-tally/internal/domain"

var _ domain.Aggregator = Mean{}

// Mean averages the per-judge subtotals. It is the default rule: each
// judge contributes equally regardless of how many judges scored.
type Mean struct{}

// Name returns "mean".
func (Mean) Name() string { return RuleMean }

// Aggregate returns the arithmetic mean of subtotals.
func (Mean) Aggregate(subtotals []float64) (float64, error) {
	if err := checkFinite(subtotals); err != nil {
		return 0, err
	}
	return Sum(subtotals) / float64(len(subtotals)), nil
}
