package testutils

import (
	"fmt"
	"math/rand/v2"

	"github.com/ahrav/go-tally/infrastructure/aggregation"
	"github.com/ahrav/go-tally/internal/application"
	"github.com/ahrav/go-tally/internal/domain"
)

// Names used for generated accounts. The tally master signs with an
// initial to exercise the lenient signature match.
var (
	firstNames = []string{"Avery", "Blake", "Casey", "Devon", "Emery", "Finley", "Harper", "Jordan", "Kai", "Logan"}
	lastNames  = []string{"Adler", "Brooks", "Castillo", "Dunn", "Ellis", "Fischer", "Greene", "Hayes", "Ito", "Jensen"}
)

// GenerateOptions sizes a generated scenario.
type GenerateOptions struct {
	Categories      int
	Subcategories   int
	Criteria        int
	Judges          int
	Contestants     int
	ScoreCap        float64
	CriterionMax    float64
	AggregationRule string
}

// DefaultGenerateOptions returns a small contest: one category with two
// subcategories, three criteria each, three judges and five contestants.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		Categories:      1,
		Subcategories:   2,
		Criteria:        3,
		Judges:          3,
		Contestants:     5,
		ScoreCap:        150,
		CriterionMax:    30,
		AggregationRule: aggregation.RuleMean,
	}
}

// GenerateScenario builds a complete scenario deterministically from
// seed: every judge scores every contestant on every criterion, certifies,
// and each subcategory then receives tally and final sign-offs followed by
// a tabulation of the category.
func GenerateScenario(opts GenerateOptions, seed uint64) *Scenario {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	sc := &Scenario{
		Name:    fmt.Sprintf("generated-%d", seed),
		Contest: fmt.Sprintf("contest-%d", seed),
	}

	tally := domain.User{ID: "tally-master", FullName: "Morgan Tally", Role: domain.RoleTallyMaster}
	auditor := domain.User{ID: "auditor", FullName: "Robin Audit", Role: domain.RoleAuditor}
	sc.Users = append(sc.Users, tally, auditor)

	judges := make([]string, 0, opts.Judges)
	for j := range opts.Judges {
		id := fmt.Sprintf("judge-%02d", j+1)
		judges = append(judges, id)
		sc.Users = append(sc.Users, domain.User{
			ID:       id,
			FullName: firstNames[rng.IntN(len(firstNames))] + " " + lastNames[rng.IntN(len(lastNames))],
			Role:     domain.RoleJudge,
		})
	}

	var certifications []Action
	for c := range opts.Categories {
		cat := CategorySpec{
			ID:              fmt.Sprintf("cat-%02d", c+1),
			Name:            fmt.Sprintf("Category %d", c+1),
			AggregationRule: opts.AggregationRule,
		}
		if opts.ScoreCap > 0 {
			limit := opts.ScoreCap
			cat.ScoreCap = &limit
		}
		for p := range opts.Contestants {
			cat.Contestants = append(cat.Contestants, fmt.Sprintf("%s-p%02d", cat.ID, p+1))
		}

		for s := range opts.Subcategories {
			sub := SubcategorySpec{
				ID:     fmt.Sprintf("%s-sub-%02d", cat.ID, s+1),
				Name:   fmt.Sprintf("Subcategory %d", s+1),
				Judges: judges,
			}
			for k := range opts.Criteria {
				sub.Criteria = append(sub.Criteria, CriterionSpec{
					ID:       fmt.Sprintf("%s-k%02d", sub.ID, k+1),
					Name:     fmt.Sprintf("Criterion %d", k+1),
					MaxScore: opts.CriterionMax,
				})
			}
			cat.Subcategories = append(cat.Subcategories, sub)

			for _, judge := range judges {
				actor := domain.Actor{UserID: judge, Role: domain.RoleJudge}
				for _, contestant := range cat.Contestants {
					for _, crit := range sub.Criteria {
						// Half-point steps keep sums exact in binary.
						value := float64(rng.IntN(int(crit.MaxScore*2)+1)) / 2
						sc.Actions = append(sc.Actions, Action{
							Op:    OpSubmit,
							Actor: actor,
							Score: &domain.ScoreInput{
								JudgeID:      judge,
								ContestantID: contestant,
								CriterionID:  crit.ID,
								Value:        value,
							},
						})
					}
				}
				certifications = append(certifications, Action{Op: OpCertifyJudge, Actor: actor, Subcategory: sub.ID})
			}
			certifications = append(certifications,
				Action{
					Op:          OpCertifyTotals,
					Actor:       domain.Actor{UserID: tally.ID, Role: tally.Role},
					Subcategory: sub.ID,
					Signature:   "M. Tally",
				},
				Action{
					Op:          OpCertifyFinal,
					Actor:       domain.Actor{UserID: auditor.ID, Role: auditor.Role},
					Subcategory: sub.ID,
					Signature:   auditor.FullName,
				},
			)
		}
		sc.Categories = append(sc.Categories, cat)
	}

	sc.Actions = append(sc.Actions, certifications...)

	// Scores are locked once certified.
	if len(sc.Categories) > 0 && len(judges) > 0 {
		cat := sc.Categories[0]
		crit := cat.Subcategories[0].Criteria[0]
		sc.Actions = append(sc.Actions, Action{
			Op:    OpSubmit,
			Actor: domain.Actor{UserID: judges[0], Role: domain.RoleJudge},
			Score: &domain.ScoreInput{
				JudgeID:      judges[0],
				ContestantID: cat.Contestants[0],
				CriterionID:  crit.ID,
				Value:        0,
			},
			Expect: "locked",
		})
	}

	for _, cat := range sc.Categories {
		sc.Actions = append(sc.Actions, Action{Op: OpTabulate, Scope: &domain.Scope{CategoryID: cat.ID}})
	}
	return sc
}

// RevokeAction returns an admin revocation of level on subcategoryID.
func RevokeAction(adminID, subcategoryID string, level domain.Level, reason string) Action {
	return Action{
		Op:    OpRevoke,
		Actor: domain.Actor{UserID: adminID, Role: domain.RoleAdmin},
		Revoke: &application.RevokeRequest{
			SubcategoryID: subcategoryID,
			Level:         level,
			Reason:        reason,
		},
	}
}
