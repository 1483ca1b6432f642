package testutils

import (
	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-tally/internal/domain"
)

// NewScenarioValidator creates the validator used for scenario files. It
// understands the "role" tag in addition to the built-in rules.
func NewScenarioValidator() *validator.Validate {
	v := validator.New()
	// The tag name is a constant; registration cannot fail.
	_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return domain.Role(fl.Field().String()).Valid()
	})
	return v
}
