package ports

import (
	"context"
	"time"

	"github.com/ahrav/go-tally/internal/domain"
)

// SignatureVerifier decides whether a typed signature matches the signer's
// account record.
// Implementations must be deterministic and free of shared mutable state so
// they can be called from any goroutine.
type SignatureVerifier interface {
	// Verify reports whether asserted matches the user's preferred name, or
	// the full name when no preferred name is set. A mismatch is not an
	// error; callers translate false into *domain.SignatureMismatchError.
	//
	// Example:
	//
	//	if !verifier.Verify(user, "J. Smith") {
	//	    // reject the certification
	//	}
	Verify(user domain.User, asserted string) bool

	// Explain returns the normalized names that were compared and their
	// edit distance, for audit display.
	Explain(user domain.User, asserted string) SignatureExplanation
}

// SignatureExplanation describes one signature comparison.
type SignatureExplanation struct {
	Expected string `json:"expected"`
	Asserted string `json:"asserted"`
	Distance int    `json:"distance"`
	Match    bool   `json:"match"`
}

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus,
// OpenTelemetry, or custom monitoring solutions.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	// This is useful for tracking events like submissions, rejections, etc.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	// This is useful for tracking values like pending judge certifications.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	// This is useful for tracking distributions like contestant totals.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// Observer wraps engine operations in tracing spans.
type Observer interface {
	// Start opens a span named op and returns a derived context plus a
	// function that ends the span, recording err when it is non-nil.
	Start(ctx context.Context, op string, attrs map[string]string) (context.Context, func(err error))
}

// Clock supplies timestamps for scores, signatures and audit entries.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns UTC wall-clock time.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })
