package aggregation

import (
	"fmt"
	"slices"
	"sync"

	"github.com/ahrav/go-tally/internal/domain"
)

// Built-in rule names.
const (
	RuleMean   = "mean"
	RuleSum    = "sum"
	RuleMedian = "median"
)

// Registry resolves aggregation rules by the names used in configuration
// and on categories. It comes with mean, sum and median registered and may
// be extended at runtime.
type Registry struct {
	// mu protects concurrent access to the rules map.
	mu    sync.RWMutex
	rules map[string]domain.Aggregator
}

// NewRegistry creates a registry with the built-in rules.
func NewRegistry() *Registry {
	r := &Registry{rules: make(map[string]domain.Aggregator)}
	for _, a := range []domain.Aggregator{Mean{}, SumRule{}, MedianRule{}} {
		r.rules[a.Name()] = a
	}
	return r
}

// Get returns the rule registered under name.
func (r *Registry) Get(name string) (domain.Aggregator, error) {
	r.mu.RLock()
	a, ok := r.rules[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRule, name)
	}
	return a, nil
}

// Register adds or replaces a rule under its own name.
func (r *Registry) Register(a domain.Aggregator) error {
	if a == nil {
		return fmt.Errorf("aggregator cannot be nil")
	}
	if a.Name() == "" {
		return fmt.Errorf("aggregator name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[a.Name()] = a
	return nil
}

// SupportedRules returns the registered rule names in sorted order.
func (r *Registry) SupportedRules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.rules))
	for name := range r.rules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
