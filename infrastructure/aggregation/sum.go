package aggregation

import "github.com/ahrav/go-tally/internal/domain"

var _ domain.Aggregator = SumRule{}

// SumRule adds the per-judge subtotals, so totals grow with the size of
// the panel.
type SumRule struct{}

// Name returns "sum".
func (SumRule) Name() string { return RuleSum }

// Aggregate returns the sum of subtotals.
func (SumRule) Aggregate(subtotals []float64) (float64, error) {
	if err := checkFinite(subtotals); err != nil {
		return 0, err
	}
	return Sum(subtotals), nil
}
