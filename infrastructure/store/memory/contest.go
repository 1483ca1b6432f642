package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

var (
	_ ports.Catalog   = (*Contest)(nil)
	_ ports.Roster    = (*Contest)(nil)
	_ ports.Directory = (*Contest)(nil)
)

// Contest holds the contest configuration owned by the surrounding
// application: categories, subcategories, criteria, judge assignments,
// contestant entries and user accounts. Set* methods seed it.
type Contest struct {
	mu sync.RWMutex

	categories    map[string]domain.Category
	subcategories map[string]domain.Subcategory
	criteria      map[string]domain.Criterion
	judges        map[string][]string
	contestants   map[string][]string
	users         map[string]domain.User
}

// NewContest creates an empty contest configuration.
func NewContest() *Contest {
	return &Contest{
		categories:    make(map[string]domain.Category),
		subcategories: make(map[string]domain.Subcategory),
		criteria:      make(map[string]domain.Criterion),
		judges:        make(map[string][]string),
		contestants:   make(map[string][]string),
		users:         make(map[string]domain.User),
	}
}

func (c *Contest) SetCategory(category domain.Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.categories[strings.TrimSpace(category.ID)] = category
}

func (c *Contest) SetSubcategory(sub domain.Subcategory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subcategories[strings.TrimSpace(sub.ID)] = sub
}

func (c *Contest) SetCriterion(criterion domain.Criterion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.criteria[strings.TrimSpace(criterion.ID)] = criterion
}

func (c *Contest) SetUser(user domain.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[strings.TrimSpace(user.ID)] = user
}

// AssignJudges replaces the roster of a subcategory.
func (c *Contest) AssignJudges(subcategoryID string, judgeIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.judges[strings.TrimSpace(subcategoryID)] = sortedUnique(judgeIDs)
}

// SetContestants replaces the contestants entered in a category.
func (c *Contest) SetContestants(categoryID string, contestantIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contestants[strings.TrimSpace(categoryID)] = sortedUnique(contestantIDs)
}

func sortedUnique(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (c *Contest) Category(_ context.Context, categoryID string) (domain.Category, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	category, ok := c.categories[strings.TrimSpace(categoryID)]
	if !ok {
		return domain.Category{}, &domain.NotFoundError{Entity: "category", ID: categoryID}
	}
	return category, nil
}

func (c *Contest) Subcategory(_ context.Context, subcategoryID string) (domain.Subcategory, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sub, ok := c.subcategories[strings.TrimSpace(subcategoryID)]
	if !ok {
		return domain.Subcategory{}, &domain.NotFoundError{Entity: "subcategory", ID: subcategoryID}
	}
	return sub, nil
}

func (c *Contest) Criterion(_ context.Context, criterionID string) (domain.Criterion, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	criterion, ok := c.criteria[strings.TrimSpace(criterionID)]
	if !ok {
		return domain.Criterion{}, &domain.NotFoundError{Entity: "criterion", ID: criterionID}
	}
	return criterion, nil
}

func (c *Contest) ListSubcategories(_ context.Context, categoryID string) ([]domain.Subcategory, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.Subcategory
	for _, sub := range c.subcategories {
		if sub.CategoryID == categoryID {
			out = append(out, sub)
		}
	}
	slices.SortFunc(out, func(a, b domain.Subcategory) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (c *Contest) ListCriteria(_ context.Context, categoryID string) ([]domain.Criterion, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.Criterion
	for _, criterion := range c.criteria {
		if criterion.CategoryID == categoryID {
			out = append(out, criterion)
		}
	}
	slices.SortFunc(out, func(a, b domain.Criterion) int {
		if n := cmp.Compare(a.Order, b.Order); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (c *Contest) AssignedJudges(_ context.Context, subcategoryID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.judges[strings.TrimSpace(subcategoryID)]), nil
}

func (c *Contest) Contestants(_ context.Context, categoryID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.contestants[strings.TrimSpace(categoryID)]), nil
}

func (c *Contest) User(_ context.Context, userID string) (domain.User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	user, ok := c.users[strings.TrimSpace(userID)]
	if !ok {
		return domain.User{}, &domain.NotFoundError{Entity: "user", ID: userID}
	}
	return user, nil
}
