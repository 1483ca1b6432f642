// Package testutils loads, generates and replays contest scenarios. A
// scenario is a YAML description of one contest (categories,
// subcategories, criteria, users, judge assignments and contestants)
// followed by a list of actions to run against an engine. Scenarios drive
// the end-to-end tests and the tally_replay command.
package testutils

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-tally/infrastructure/store/memory"
	"github.com/ahrav/go-tally/internal/application"
	"github.com/ahrav/go-tally/internal/domain"
)

// Scenario is the root of a scenario file.
type Scenario struct {
	// Name identifies the scenario in reports.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Contest is the contest id shared by every category.
	Contest string `yaml:"contest" json:"contest" validate:"required"`

	Categories []CategorySpec `yaml:"categories" json:"categories" validate:"required,min=1,dive"`
	Users      []domain.User  `yaml:"users" json:"users" validate:"dive"`
	Actions    []Action       `yaml:"actions" json:"actions" validate:"dive"`
}

// CategorySpec describes one category and everything inside it.
type CategorySpec struct {
	ID              string            `yaml:"id" json:"id" validate:"required"`
	Name            string            `yaml:"name" json:"name"`
	ScoreCap        *float64          `yaml:"score_cap" json:"score_cap,omitempty"`
	AggregationRule string            `yaml:"aggregation_rule" json:"aggregation_rule,omitempty"`
	Contestants     []string          `yaml:"contestants" json:"contestants"`
	Subcategories   []SubcategorySpec `yaml:"subcategories" json:"subcategories" validate:"required,min=1,dive"`
}

// SubcategorySpec describes a subcategory with its judges and criteria.
type SubcategorySpec struct {
	ID       string          `yaml:"id" json:"id" validate:"required"`
	Name     string          `yaml:"name" json:"name"`
	Judges   []string        `yaml:"judges" json:"judges"`
	Criteria []CriterionSpec `yaml:"criteria" json:"criteria" validate:"dive"`
}

// CriterionSpec describes one criterion.
type CriterionSpec struct {
	ID       string  `yaml:"id" json:"id" validate:"required"`
	Name     string  `yaml:"name" json:"name"`
	MaxScore float64 `yaml:"max_score" json:"max_score" validate:"gt=0"`
}

// Op names an action.
type Op string

// Supported actions.
const (
	OpSubmit        Op = "submit"
	OpCertifyJudge  Op = "certify_judge"
	OpCertifyTotals Op = "certify_totals"
	OpCertifyFinal  Op = "certify_final"
	OpRevoke        Op = "revoke"
	OpTabulate      Op = "tabulate"
	OpStatus        Op = "status"
	OpReview        Op = "review"
)

// Action is one step of a scenario.
type Action struct {
	Op    Op           `yaml:"op" json:"op" validate:"required,oneof=submit certify_judge certify_totals certify_final revoke tabulate status review"`
	Actor domain.Actor `yaml:"actor" json:"actor"`

	Score       *domain.ScoreInput         `yaml:"score" json:"score,omitempty" validate:"required_if=Op submit"`
	Subcategory string                     `yaml:"subcategory" json:"subcategory,omitempty"`
	Signature   string                     `yaml:"signature" json:"signature,omitempty"`
	Revoke      *application.RevokeRequest `yaml:"revoke" json:"revoke,omitempty" validate:"required_if=Op revoke"`
	Scope       *domain.Scope              `yaml:"scope" json:"scope,omitempty"`

	// Expect is the error kind the action should produce, as reported by
	// domain.Kind. Empty means "ok".
	Expect string `yaml:"expect" json:"expect,omitempty"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(bytes.NewReader(data))
}

// ParseScenario decodes and validates a scenario. Unknown fields are
// rejected.
func ParseScenario(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}
	if err := ValidateScenario(&sc); err != nil {
		return nil, fmt.Errorf("scenario validation failed: %w", err)
	}
	return &sc, nil
}

// ValidateScenario checks struct tags and cross references: ids are
// unique and every judge and action refers to something that exists.
func ValidateScenario(sc *Scenario) error {
	if sc == nil {
		return fmt.Errorf("scenario is nil")
	}
	v := NewScenarioValidator()
	if err := v.Struct(sc); err != nil {
		return err
	}

	users := make(map[string]domain.User, len(sc.Users))
	for _, u := range sc.Users {
		if _, dup := users[u.ID]; dup {
			return fmt.Errorf("duplicate user id %q", u.ID)
		}
		if err := v.Var(string(u.Role), "required,role"); err != nil {
			return fmt.Errorf("user %q has invalid role %q: %w", u.ID, u.Role, err)
		}
		users[u.ID] = u
	}

	seen := make(map[string]string)
	claim := func(kind, id string) error {
		if prev, dup := seen[kind+"/"+id]; dup {
			return fmt.Errorf("duplicate %s id %q (first seen in %s)", kind, id, prev)
		}
		seen[kind+"/"+id] = kind
		return nil
	}
	subs := make(map[string]bool)
	for _, cat := range sc.Categories {
		if err := claim("category", cat.ID); err != nil {
			return err
		}
		for _, sub := range cat.Subcategories {
			if err := claim("subcategory", sub.ID); err != nil {
				return err
			}
			subs[sub.ID] = true
			for _, j := range sub.Judges {
				if _, ok := users[j]; !ok {
					return fmt.Errorf("subcategory %s: judge %q is not a user", sub.ID, j)
				}
			}
			for _, c := range sub.Criteria {
				if err := claim("criterion", c.ID); err != nil {
					return err
				}
			}
		}
	}

	for i, a := range sc.Actions {
		switch a.Op {
		case OpCertifyJudge, OpCertifyTotals, OpCertifyFinal, OpStatus:
			if !subs[a.Subcategory] {
				return fmt.Errorf("action %d (%s): unknown subcategory %q", i, a.Op, a.Subcategory)
			}
		case OpTabulate, OpReview:
			if a.Scope == nil {
				return fmt.Errorf("action %d (%s): scope is required", i, a.Op)
			}
		}
	}
	return nil
}

// Seed builds the in-memory contest described by sc.
func Seed(sc *Scenario) *memory.Contest {
	contest := memory.NewContest()
	for _, u := range sc.Users {
		contest.SetUser(u)
	}
	for _, cat := range sc.Categories {
		contest.SetCategory(domain.Category{
			ID:              cat.ID,
			ContestID:       sc.Contest,
			Name:            cat.Name,
			ScoreCap:        cat.ScoreCap,
			AggregationRule: cat.AggregationRule,
		})
		contest.SetContestants(cat.ID, cat.Contestants...)
		for _, sub := range cat.Subcategories {
			contest.SetSubcategory(domain.Subcategory{
				ID:         sub.ID,
				CategoryID: cat.ID,
				ContestID:  sc.Contest,
				Name:       sub.Name,
			})
			contest.AssignJudges(sub.ID, sub.Judges...)
			for i, c := range sub.Criteria {
				contest.SetCriterion(domain.Criterion{
					ID:            c.ID,
					CategoryID:    cat.ID,
					SubcategoryID: sub.ID,
					Name:          c.Name,
					Order:         i,
					MaxScore:      c.MaxScore,
				})
			}
		}
	}
	return contest
}
