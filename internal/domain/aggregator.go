package domain

// Aggregator defines the interface for combining per-judge subtotals into
// a contestant's category total. Implementations provide different
// aggregation rules such as arithmetic mean, plain sum, or median.
type Aggregator interface {
	// Name returns the rule name used in configuration, e.g. "mean".
	Name() string

	// Aggregate combines the per-judge subtotals of one contestant.
	// The subtotals are ordered by judge id so that floating-point
	// summation is reproducible across calls.
	//
	// The method should handle edge cases such as:
	//   - Empty subtotal lists (return an error; callers treat a contestant
	//     without scores as a zero total and do not call Aggregate)
	//   - NaN or infinite values (return an error)
	//
	// Example:
	//
	//	subtotals := []float64{27.5, 28.0, 26.5}
	//	total, err := aggregator.Aggregate(subtotals)
	Aggregate(subtotals []float64) (float64, error)
}
