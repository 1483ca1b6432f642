package domain

import (
	"math"
	"strings"
	"time"
)

// ScoreKey is the uniqueness key of a score. A second submission with the
// same key overwrites the first.
type ScoreKey struct {
	JudgeID      string `json:"judge_id"`
	ContestantID string `json:"contestant_id"`
	CriterionID  string `json:"criterion_id"`
}

// Score is one judge's rating of one contestant against one criterion.
type Score struct {
	JudgeID       string    `json:"judge_id"`
	ContestantID  string    `json:"contestant_id"`
	CriterionID   string    `json:"criterion_id"`
	CategoryID    string    `json:"category_id"`
	SubcategoryID string    `json:"subcategory_id"`
	Value         float64   `json:"value"`
	Comment       string    `json:"comment,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Key returns the uniqueness key of s.
func (s Score) Key() ScoreKey {
	return ScoreKey{JudgeID: s.JudgeID, ContestantID: s.ContestantID, CriterionID: s.CriterionID}
}

// ScoreInput is the caller-supplied part of a score submission.
type ScoreInput struct {
	JudgeID      string  `json:"judge_id" yaml:"judge_id"`
	ContestantID string  `json:"contestant_id" yaml:"contestant_id"`
	CriterionID  string  `json:"criterion_id" yaml:"criterion_id"`
	Value        float64 `json:"value" yaml:"value"`
	Comment      string  `json:"comment,omitempty" yaml:"comment"`
}

// Validate checks the input against the criterion it targets.
func (in ScoreInput) Validate(criterion Criterion) error {
	verr := NewValidationError("Score")
	if strings.TrimSpace(in.JudgeID) == "" {
		verr.AddError("judge_id is required")
	}
	if strings.TrimSpace(in.ContestantID) == "" {
		verr.AddError("contestant_id is required")
	}
	if strings.TrimSpace(in.CriterionID) == "" {
		verr.AddError("criterion_id is required")
	}
	switch {
	case math.IsNaN(in.Value) || math.IsInf(in.Value, 0):
		verr.AddErrorf("value must be a finite number, got %f", in.Value)
	case in.Value < 0 || in.Value > criterion.MaxScore:
		verr.AddErrorf("value %g outside [0, %g] for criterion %s", in.Value, criterion.MaxScore, criterion.ID)
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// ScoreFilter selects scores for a snapshot read. Empty fields match
// everything.
type ScoreFilter struct {
	CategoryID     string
	SubcategoryIDs []string
	JudgeID        string
	ContestantID   string
}

// Matches reports whether s satisfies the filter.
func (f ScoreFilter) Matches(s Score) bool {
	if f.CategoryID != "" && s.CategoryID != f.CategoryID {
		return false
	}
	if f.JudgeID != "" && s.JudgeID != f.JudgeID {
		return false
	}
	if f.ContestantID != "" && s.ContestantID != f.ContestantID {
		return false
	}
	if len(f.SubcategoryIDs) > 0 {
		for _, id := range f.SubcategoryIDs {
			if s.SubcategoryID == id {
				return true
			}
		}
		return false
	}
	return true
}

// Scope selects what a tabulation covers: a whole category, or a group
// of subcategories that all belong to one category.
type Scope struct {
	CategoryID     string   `json:"category_id,omitempty" yaml:"category_id"`
	SubcategoryIDs []string `json:"subcategory_ids,omitempty" yaml:"subcategory_ids"`
}

// Filter converts the scope into a score filter.
func (s Scope) Filter() ScoreFilter {
	return ScoreFilter{CategoryID: s.CategoryID, SubcategoryIDs: s.SubcategoryIDs}
}
