package aggregation

import "github.com/ahrav/go-tally/internal/domain"

var _ domain.Aggregator = MedianRule{}

// MedianRule takes the median of the per-judge subtotals. A single
// outlying judge cannot move the result on panels of three or more.
//
// Concurrency: MedianRule is stateless and safe for concurrent use.
type MedianRule struct{}

// Name returns "median".
func (MedianRule) Name() string { return RuleMedian }

// Aggregate returns the median of subtotals. The input slice is not
// reordered.
func (MedianRule) Aggregate(subtotals []float64) (float64, error) {
	if err := checkFinite(subtotals); err != nil {
		return 0, err
	}
	return Median(subtotals), nil
}
