package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		err := NewValidationError("Score")
		err.AddError("judge_id is required")

		assert.Equal(t, "validation error for Score: judge_id is required", err.Error())
		assert.True(t, err.HasErrors(), "Should have errors")
		assert.Len(t, err.Errors, 1, "Should have one error")
	})

	t.Run("multiple errors", func(t *testing.T) {
		err := NewValidationError("Score")
		err.AddError("judge_id is required")
		err.AddErrorf("value %g outside [0, %g]", 11.0, 10.0)

		assert.Contains(t, err.Error(), "validation errors for Score")
		assert.Equal(t, "value 11 outside [0, 10]", err.Errors[1])
	})

	t.Run("no errors", func(t *testing.T) {
		err := NewValidationError("Config")

		assert.False(t, err.HasErrors(), "Should not have errors")
		assert.Empty(t, err.Errors, "Errors slice should be empty")
	})
}

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     string
		wantMsg  string
	}{
		{
			name:     "validation",
			err:      &ValidationError{Entity: "Score", Errors: []string{"bad"}},
			sentinel: ErrValidation,
			kind:     "validation",
			wantMsg:  "validation error for Score: bad",
		},
		{
			name:     "locked",
			err:      &LockedError{JudgeID: "j1", SubcategoryID: "s1"},
			sentinel: ErrLocked,
			kind:     "locked",
			wantMsg:  "scores locked: judge=j1, subcategory=s1",
		},
		{
			name:     "not assigned",
			err:      &NotAssignedError{JudgeID: "j9", SubcategoryID: "s1"},
			sentinel: ErrNotAssigned,
			kind:     "not_assigned",
			wantMsg:  "judge not assigned: judge=j9, subcategory=s1",
		},
		{
			name:     "already certified judge",
			err:      &AlreadyCertifiedError{SubcategoryID: "s1", Level: LevelJudge, JudgeID: "j1"},
			sentinel: ErrAlreadyCertified,
			kind:     "already_certified",
			wantMsg:  "already certified: level=judge, judge=j1, subcategory=s1",
		},
		{
			name:     "already certified tally",
			err:      &AlreadyCertifiedError{SubcategoryID: "s1", Level: LevelTally, State: StateTallyCertified},
			sentinel: ErrAlreadyCertified,
			kind:     "already_certified",
			wantMsg:  "already certified: level=tally, subcategory=s1, state=TALLY_CERTIFIED",
		},
		{
			name: "role",
			err: &RoleError{
				UserID: "u1", Role: RoleJudge, Operation: "CertifyTotals",
				Allowed: []Role{RoleTallyMaster},
			},
			sentinel: ErrRole,
			kind:     "role",
			wantMsg:  "role not permitted: operation=CertifyTotals, user=u1, role=judge, allowed=[tally_master]",
		},
		{
			name:     "signature mismatch",
			err:      &SignatureMismatchError{UserID: "u1", Asserted: "Jon Smith", Distance: 1},
			sentinel: ErrSignatureMismatch,
			kind:     "signature_mismatch",
			wantMsg:  `signature mismatch: user=u1, asserted="Jon Smith", distance=1`,
		},
		{
			name:     "precondition",
			err:      &PreconditionError{SubcategoryID: "s1", Level: LevelFinal, State: StateOpen, Reason: "tally certification required"},
			sentinel: ErrPrecondition,
			kind:     "precondition",
			wantMsg:  "precondition failed: level=final, subcategory=s1, state=OPEN: tally certification required",
		},
		{
			name:     "configuration",
			err:      &ConfigurationError{Subject: "subcategory/s1", Reason: "no judges assigned"},
			sentinel: ErrConfiguration,
			kind:     "configuration",
			wantMsg:  "configuration error: subcategory/s1: no judges assigned",
		},
		{
			name:     "not found",
			err:      &NotFoundError{Entity: "criterion", ID: "k1"},
			sentinel: ErrNotFound,
			kind:     "not_found",
			wantMsg:  "criterion not found: id=k1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
			assert.True(t, errors.Is(tt.err, tt.sentinel), "Should unwrap to sentinel")
			assert.Equal(t, tt.kind, Kind(tt.err))

			wrapped := fmt.Errorf("service: %w", tt.err)
			assert.True(t, errors.Is(wrapped, tt.sentinel), "Wrapped error should still match")
			assert.Equal(t, tt.kind, Kind(wrapped))
		})
	}
}

func TestKind(t *testing.T) {
	assert.Equal(t, "ok", Kind(nil))
	assert.Equal(t, "internal", Kind(errors.New("disk full")))
}

func TestErrorsAsExtractsDetails(t *testing.T) {
	err := fmt.Errorf("certify: %w", &NotAssignedError{JudgeID: "j4", SubcategoryID: "s2"})

	var target *NotAssignedError
	if assert.True(t, errors.As(err, &target)) {
		assert.Equal(t, "j4", target.JudgeID)
		assert.Equal(t, "s2", target.SubcategoryID)
	}
}
