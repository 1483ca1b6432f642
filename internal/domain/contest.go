// Package domain contains pure, dependency-free domain models and types
// for the scoring and certification engine.
package domain

import "strings"

// Role is the role claim a caller asserts for an operation. The engine
// never looks up a "current user"; every operation receives an explicit
// Actor built by the session layer.
type Role string

// Roles known to the engine.
const (
	RoleJudge       Role = "judge"
	RoleTallyMaster Role = "tally_master"
	RoleAuditor     Role = "auditor"
	RoleBoard       Role = "board"
	RoleAdmin       Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleJudge, RoleTallyMaster, RoleAuditor, RoleBoard, RoleAdmin:
		return true
	}
	return false
}

// Actor is the authenticated (userID, roleClaim) pair supplied by the
// identity provider for a single call.
type Actor struct {
	UserID string `json:"user_id" yaml:"user_id"`
	Role   Role   `json:"role" yaml:"role"`
}

// HasRole reports whether the actor's role is one of roles.
func (a Actor) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// User is the account record used for signature checks.
type User struct {
	ID            string `json:"id" yaml:"id"`
	FullName      string `json:"full_name" yaml:"full_name"`
	PreferredName string `json:"preferred_name,omitempty" yaml:"preferred_name"`
	Role          Role   `json:"role" yaml:"role"`
}

// DisplayName returns the preferred name when set, else the full name.
func (u User) DisplayName() string {
	if strings.TrimSpace(u.PreferredName) != "" {
		return u.PreferredName
	}
	return u.FullName
}

// Category groups subcategories and criteria and carries the optional
// score cap applied to aggregate totals.
type Category struct {
	ID        string `json:"id" yaml:"id"`
	ContestID string `json:"contest_id" yaml:"contest_id"`
	Name      string `json:"name" yaml:"name"`

	// ScoreCap is the maximum total a contestant may reach in this
	// category. Nil means uncapped.
	ScoreCap *float64 `json:"score_cap,omitempty" yaml:"score_cap"`

	// AggregationRule overrides the engine default when non-empty.
	AggregationRule string `json:"aggregation_rule,omitempty" yaml:"aggregation_rule"`
}

// Subcategory is the finest-grained unit that receives its own
// certification chain.
type Subcategory struct {
	ID         string `json:"id" yaml:"id"`
	CategoryID string `json:"category_id" yaml:"category_id"`
	ContestID  string `json:"contest_id" yaml:"contest_id"`
	Name       string `json:"name" yaml:"name"`
}

// Ref returns the record key for this subcategory.
func (s Subcategory) Ref() SubcategoryRef {
	return SubcategoryRef{
		ContestID:     s.ContestID,
		CategoryID:    s.CategoryID,
		SubcategoryID: s.ID,
	}
}

// SubcategoryRef scopes a certification record to one
// (contest, category, subcategory) tuple.
type SubcategoryRef struct {
	ContestID     string `json:"contest_id"`
	CategoryID    string `json:"category_id"`
	SubcategoryID string `json:"subcategory_id"`
}

// Criterion is a single scored dimension with a positive maximum.
type Criterion struct {
	ID            string  `json:"id" yaml:"id"`
	CategoryID    string  `json:"category_id" yaml:"category_id"`
	SubcategoryID string  `json:"subcategory_id" yaml:"subcategory_id"`
	Name          string  `json:"name" yaml:"name"`
	Order         int     `json:"order" yaml:"order"`
	MaxScore      float64 `json:"max_score" yaml:"max_score"`
}
