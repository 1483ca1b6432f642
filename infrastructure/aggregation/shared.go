// Package aggregation provides the rules that combine per-judge subtotals
// into a contestant total, plus the rounding and median helpers shared by
// the tabulator.
package aggregation

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// Common errors returned by aggregation rules.
var (
	// ErrNoScores is returned when no subtotals are provided for aggregation.
	ErrNoScores = errors.New("no scores provided for aggregation")

	// ErrInvalidScore is returned when a subtotal is NaN or infinite.
	ErrInvalidScore = errors.New("invalid score")

	// ErrUnknownRule is returned when a rule name is not registered.
	ErrUnknownRule = errors.New("unknown aggregation rule")
)

// checkFinite validates that every value is a finite number. NaN and Inf
// values would corrupt sums and comparisons downstream.
func checkFinite(values []float64) error {
	if len(values) == 0 {
		return ErrNoScores
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w at index %d: %f", ErrInvalidScore, i, v)
		}
	}
	return nil
}

// Round rounds v half away from zero to the given number of decimal
// places. Negative places are treated as zero.
func Round(v float64, places int) float64 {
	if places < 0 {
		places = 0
	}
	pow := math.Pow10(places)
	return math.Round(v*pow) / pow
}

// Median returns the statistical median of values without modifying the
// input:
//   - Odd count: the middle value after sorting
//   - Even count: the arithmetic mean of the two middle values
//
// An empty slice returns 0.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Sum adds values in slice order. Callers pass values in a fixed order so
// the floating-point result is reproducible.
func Sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}
