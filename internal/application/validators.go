package application

import (
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-tally/infrastructure/aggregation"
	"github.com/ahrav/go-tally/internal/domain"
)

// registerConfigValidators registers the engine's custom struct tags:
// aggrule, role and metricname.
func registerConfigValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("aggrule", validateAggregationRule); err != nil {
		return fmt.Errorf("failed to register aggrule validator: %w", err)
	}
	if err := v.RegisterValidation("role", validateRole); err != nil {
		return fmt.Errorf("failed to register role validator: %w", err)
	}
	if err := v.RegisterValidation("metricname", validateMetricName); err != nil {
		return fmt.Errorf("failed to register metricname validator: %w", err)
	}
	return nil
}

// validateAggregationRule accepts the built-in rule names.
func validateAggregationRule(fl validator.FieldLevel) bool {
	return slices.Contains(aggregation.NewRegistry().SupportedRules(), fl.Field().String())
}

// validateRole accepts the role claims known to the engine.
func validateRole(fl validator.FieldLevel) bool {
	return domain.Role(fl.Field().String()).Valid()
}

// validateMetricName accepts Prometheus metric name fragments:
// [a-zA-Z_][a-zA-Z0-9_]*.
func validateMetricName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	for i, ch := range name {
		switch {
		case ch == '_', ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
