package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds returned by the scoring and certification engine. Every typed
// error below unwraps to exactly one of these sentinels so callers can
// branch with errors.Is without depending on the concrete type.
var (
	// ErrValidation indicates that a score or request failed input validation.
	ErrValidation = errors.New("validation failed")

	// ErrLocked indicates a score write after the judge certified the
	// subcategory that contains the criterion.
	ErrLocked = errors.New("scores locked by judge certification")

	// ErrNotAssigned indicates that a judge is not on the roster for the
	// subcategory being scored or certified.
	ErrNotAssigned = errors.New("judge not assigned to subcategory")

	// ErrAlreadyCertified indicates that the requested certification level
	// is already present on the record.
	ErrAlreadyCertified = errors.New("already certified")

	// ErrRole indicates that the acting user's role claim does not permit
	// the requested operation.
	ErrRole = errors.New("role not permitted")

	// ErrSignatureMismatch indicates that the typed signature name does not
	// match the signer's name on file.
	ErrSignatureMismatch = errors.New("signature does not match account name")

	// ErrPrecondition indicates that the record is in the wrong state for
	// the requested transition.
	ErrPrecondition = errors.New("certification precondition not met")

	// ErrConfiguration indicates a data-setup problem upstream of any user
	// action, such as a subcategory with no assigned judges.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound indicates that a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
)

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// Unwrap returns ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// AddErrorf adds a formatted error message to the validation error.
func (e *ValidationError) AddErrorf(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}

// LockedError is returned when a judge tries to change a score in a
// subcategory they have already certified, or whose totals are signed.
type LockedError struct {
	JudgeID       string
	SubcategoryID string
}

// Error implements the error interface for LockedError.
func (e *LockedError) Error() string {
	return fmt.Sprintf("scores locked: judge=%s, subcategory=%s", e.JudgeID, e.SubcategoryID)
}

// Unwrap returns ErrLocked.
func (e *LockedError) Unwrap() error { return ErrLocked }

// NotAssignedError is returned when a judge acts on a subcategory they are
// not rostered for.
type NotAssignedError struct {
	JudgeID       string
	SubcategoryID string
}

// Error implements the error interface for NotAssignedError.
func (e *NotAssignedError) Error() string {
	return fmt.Sprintf("judge not assigned: judge=%s, subcategory=%s", e.JudgeID, e.SubcategoryID)
}

// Unwrap returns ErrNotAssigned.
func (e *NotAssignedError) Unwrap() error { return ErrNotAssigned }

// AlreadyCertifiedError is returned when the requested level is already
// present. Re-certification requires an explicit revocation first.
type AlreadyCertifiedError struct {
	SubcategoryID string
	Level         Level
	// JudgeID is set for judge-level certifications.
	JudgeID string
	State   State
}

// Error implements the error interface for AlreadyCertifiedError.
func (e *AlreadyCertifiedError) Error() string {
	if e.JudgeID != "" {
		return fmt.Sprintf("already certified: level=%s, judge=%s, subcategory=%s",
			e.Level, e.JudgeID, e.SubcategoryID)
	}
	return fmt.Sprintf("already certified: level=%s, subcategory=%s, state=%s",
		e.Level, e.SubcategoryID, e.State)
}

// Unwrap returns ErrAlreadyCertified.
func (e *AlreadyCertifiedError) Unwrap() error { return ErrAlreadyCertified }

// RoleError is returned when the actor's role claim does not permit the
// operation.
type RoleError struct {
	UserID    string
	Role      Role
	Operation string
	Allowed   []Role
}

// Error implements the error interface for RoleError.
func (e *RoleError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, r := range e.Allowed {
		allowed[i] = string(r)
	}
	return fmt.Sprintf("role not permitted: operation=%s, user=%s, role=%s, allowed=[%s]",
		e.Operation, e.UserID, e.Role, strings.Join(allowed, ","))
}

// Unwrap returns ErrRole.
func (e *RoleError) Unwrap() error { return ErrRole }

// SignatureMismatchError is returned when a typed signature does not match
// the signer's name on file. Distance is the edit distance between the
// normalized names and exists for audit display only.
type SignatureMismatchError struct {
	UserID   string
	Asserted string
	Distance int
}

// Error implements the error interface for SignatureMismatchError.
func (e *SignatureMismatchError) Error() string {
	return fmt.Sprintf("signature mismatch: user=%s, asserted=%q, distance=%d",
		e.UserID, e.Asserted, e.Distance)
}

// Unwrap returns ErrSignatureMismatch.
func (e *SignatureMismatchError) Unwrap() error { return ErrSignatureMismatch }

// PreconditionError is returned when the record is not in a state that
// allows the requested transition.
type PreconditionError struct {
	SubcategoryID string
	Level         Level
	State         State
	Reason        string
}

// Error implements the error interface for PreconditionError.
func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed: level=%s, subcategory=%s, state=%s: %s",
		e.Level, e.SubcategoryID, e.State, e.Reason)
}

// Unwrap returns ErrPrecondition.
func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// ConfigurationError reports a data-setup problem such as a subcategory
// with zero assigned judges or a category missing a required score cap.
type ConfigurationError struct {
	// Subject names the misconfigured entity, e.g. "subcategory/s1".
	Subject string
	Reason  string
}

// Error implements the error interface for ConfigurationError.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Subject, e.Reason)
}

// Unwrap returns ErrConfiguration.
func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// NotFoundError is returned when a referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface for NotFoundError.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: id=%s", e.Entity, e.ID)
}

// Unwrap returns ErrNotFound.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Kind classifies err into a short stable label for metrics and logs.
// It returns "ok" for nil and "internal" for anything that is not one of
// the engine's error kinds.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrLocked):
		return "locked"
	case errors.Is(err, ErrNotAssigned):
		return "not_assigned"
	case errors.Is(err, ErrAlreadyCertified):
		return "already_certified"
	case errors.Is(err, ErrRole):
		return "role"
	case errors.Is(err, ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, ErrPrecondition):
		return "precondition"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
