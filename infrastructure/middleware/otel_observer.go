package middleware

import (
	"context"
	"errors"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

var _ ports.Observer = (*OTelObserver)(nil)

// OTelObserver wraps engine operations in OpenTelemetry spans. Rejections
// that are part of normal operation (a locked score, a duplicate
// certification) are recorded as span events and leave the span status
// unset; only internal failures mark the span as an error.
type OTelObserver struct {
	tracer trace.Tracer
}

// NewOTelObserver creates an observer. A nil tracer uses the global
// provider.
func NewOTelObserver(tracer trace.Tracer) *OTelObserver {
	if tracer == nil {
		tracer = otel.Tracer("github.com/ahrav/go-tally")
	}
	return &OTelObserver{tracer: tracer}
}

// Start implements ports.Observer.
func (o *OTelObserver) Start(
	ctx context.Context,
	op string,
	attrs map[string]string,
) (context.Context, func(error)) {
	ctx, span := o.tracer.Start(ctx, "tally."+op)

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		span.SetAttributes(attribute.String("tally."+k, attrs[k]))
	}

	return ctx, func(err error) {
		defer span.End()

		kind := domain.Kind(err)
		span.SetAttributes(attribute.String("tally.outcome", kind))
		switch {
		case err == nil:
			span.SetStatus(codes.Ok, "")
		case kind == "internal" || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		default:
			span.AddEvent("tally.rejected", trace.WithAttributes(
				attribute.String("kind", kind),
				attribute.String("error", err.Error()),
			))
		}
	}
}
