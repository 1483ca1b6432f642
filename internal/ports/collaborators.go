package ports

import (
	"context"

	"github.com/ahrav/go-tally/internal/domain"
)

// Catalog provides category, subcategory and criterion configuration.
// It is owned by the surrounding contest application and read-only here.
type Catalog interface {
	Category(ctx context.Context, categoryID string) (domain.Category, error)
	Subcategory(ctx context.Context, subcategoryID string) (domain.Subcategory, error)
	Criterion(ctx context.Context, criterionID string) (domain.Criterion, error)

	// ListSubcategories returns the subcategories of a category ordered
	// by id.
	ListSubcategories(ctx context.Context, categoryID string) ([]domain.Subcategory, error)

	// ListCriteria returns the criteria of a category ordered by
	// (Order, ID).
	ListCriteria(ctx context.Context, categoryID string) ([]domain.Criterion, error)
}

// Roster provides judge assignments and the contestants entered in a
// category.
type Roster interface {
	// AssignedJudges returns the judge ids assigned to a subcategory,
	// sorted and without duplicates.
	AssignedJudges(ctx context.Context, subcategoryID string) ([]string, error)

	// Contestants returns the contestant ids entered in a category, sorted.
	Contestants(ctx context.Context, categoryID string) ([]string, error)
}

// Directory resolves account records for signature checks.
type Directory interface {
	User(ctx context.Context, userID string) (domain.User, error)
}
