package application

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ahrav/go-tally/infrastructure/aggregation"
	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

// Tabulator turns a snapshot of raw scores into ranked category totals.
// It never writes and never caches: every call reads a fresh snapshot, so
// a score write is visible to the next tabulation.
//
// Tabulate is a pure function of the snapshot, the catalog and the
// configuration. Identical inputs produce identical output, including
// floating-point rounding, because every summation runs in a fixed order.
type Tabulator struct {
	catalog ports.Catalog
	roster  ports.Roster
	scores  ports.ScoreStore
	rules   *aggregation.Registry
	cfg     TabulationConfig
}

// NewTabulator creates a Tabulator. A nil rules registry uses the built-in
// rules.
func NewTabulator(
	catalog ports.Catalog,
	roster ports.Roster,
	scores ports.ScoreStore,
	rules *aggregation.Registry,
	cfg TabulationConfig,
) *Tabulator {
	if rules == nil {
		rules = aggregation.NewRegistry()
	}
	return &Tabulator{catalog: catalog, roster: roster, scores: scores, rules: rules, cfg: cfg}
}

// Tabulate returns one result per contestant in scope, sorted by rank.
//
// Algorithm:
//  1. Resolve the scope to a single category and its aggregation rule
//  2. Read one snapshot of the scope's scores
//  3. Per contestant and judge, sum criterion values in criterion-id order
//     and round the subtotal
//  4. Aggregate the subtotals, round, and clamp to the category cap
//  5. Rank by total, then by the tie-break chain
//
// Missing or partial scores never fail; contestants entered in the
// category without any scores get a zero total.
func (t *Tabulator) Tabulate(ctx context.Context, scope domain.Scope) ([]domain.TabulationResult, error) {
	results, _, err := t.tabulate(ctx, scope)
	return results, err
}

// tabulate also returns the snapshot the results were computed from, so
// projections can show raw scores that agree with the totals.
func (t *Tabulator) tabulate(
	ctx context.Context,
	scope domain.Scope,
) ([]domain.TabulationResult, []domain.Score, error) {
	category, err := t.resolveCategory(ctx, scope)
	if err != nil {
		return nil, nil, err
	}
	if err := t.checkCap(category); err != nil {
		return nil, nil, err
	}

	ruleName := t.cfg.AggregationRule
	if category.AggregationRule != "" {
		ruleName = category.AggregationRule
	}
	rule, err := t.rules.Get(ruleName)
	if err != nil {
		return nil, nil, &domain.ConfigurationError{Subject: "category/" + category.ID, Reason: err.Error()}
	}

	filter := domain.ScoreFilter{CategoryID: category.ID, SubcategoryIDs: scope.SubcategoryIDs}
	snapshot, err := t.scores.SnapshotScores(ctx, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot scores: %w", err)
	}
	entered, err := t.roster.Contestants(ctx, category.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load contestants: %w", err)
	}

	results, err := t.compute(category, rule, snapshot, entered)
	if err != nil {
		return nil, nil, err
	}
	return results, snapshot, nil
}

// resolveCategory maps a scope onto exactly one category.
func (t *Tabulator) resolveCategory(ctx context.Context, scope domain.Scope) (domain.Category, error) {
	categoryID := strings.TrimSpace(scope.CategoryID)
	if categoryID == "" && len(scope.SubcategoryIDs) == 0 {
		verr := domain.NewValidationError("Scope")
		verr.AddError("category_id or subcategory_ids is required")
		return domain.Category{}, verr
	}

	for _, id := range scope.SubcategoryIDs {
		sub, err := t.catalog.Subcategory(ctx, id)
		if err != nil {
			return domain.Category{}, err
		}
		switch {
		case categoryID == "":
			categoryID = sub.CategoryID
		case sub.CategoryID != categoryID:
			return domain.Category{}, &domain.ConfigurationError{
				Subject: "scope",
				Reason:  fmt.Sprintf("subcategory %s belongs to category %s, scope spans %s",
					sub.ID, sub.CategoryID, categoryID),
			}
		}
	}
	return t.catalog.Category(ctx, categoryID)
}

func (t *Tabulator) checkCap(category domain.Category) error {
	switch {
	case category.ScoreCap == nil && t.cfg.RequireScoreCap:
		return &domain.ConfigurationError{Subject: "category/" + category.ID, Reason: "score cap required"}
	case category.ScoreCap != nil && !(*category.ScoreCap > 0):
		return &domain.ConfigurationError{
			Subject: "category/" + category.ID,
			Reason:  fmt.Sprintf("score cap must be positive, got %g", *category.ScoreCap),
		}
	}
	return nil
}

// compute is the pure part of Tabulate.
func (t *Tabulator) compute(
	category domain.Category,
	rule domain.Aggregator,
	snapshot []domain.Score,
	entered []string,
) ([]domain.TabulationResult, error) {
	places := t.cfg.RoundingPlaces

	// contestant -> judge -> scores
	byContestant := make(map[string]map[string][]domain.Score)
	all := make([]float64, 0, len(snapshot))
	for _, s := range snapshot {
		judges, ok := byContestant[s.ContestantID]
		if !ok {
			judges = make(map[string][]domain.Score)
			byContestant[s.ContestantID] = judges
		}
		judges[s.JudgeID] = append(judges[s.JudgeID], s)
		all = append(all, s.Value)
	}
	for _, id := range entered {
		if _, ok := byContestant[id]; !ok {
			byContestant[id] = nil
		}
	}
	scopeMedian := aggregation.Median(all)

	results := make([]domain.TabulationResult, 0, len(byContestant))
	for contestantID, judges := range byContestant {
		res := domain.TabulationResult{
			ContestantID:   contestantID,
			CategoryID:     category.ID,
			JudgeSubtotals: make(map[string]float64, len(judges)),
		}

		judgeIDs := make([]string, 0, len(judges))
		for id := range judges {
			judgeIDs = append(judgeIDs, id)
		}
		slices.Sort(judgeIDs)

		subtotals := make([]float64, 0, len(judgeIDs))
		var valueSum float64
		for _, judgeID := range judgeIDs {
			scores := judges[judgeID]
			slices.SortFunc(scores, func(a, b domain.Score) int {
				if c := cmp.Compare(a.CriterionID, b.CriterionID); c != 0 {
					return c
				}
				return cmp.Compare(a.SubcategoryID, b.SubcategoryID)
			})

			var subtotal float64
			for _, s := range scores {
				subtotal += s.Value
				valueSum += s.Value
				if s.Value < scopeMedian {
					res.ScoresBelowMedian++
				}
			}
			subtotal = aggregation.Round(subtotal, places)
			res.JudgeSubtotals[judgeID] = subtotal
			subtotals = append(subtotals, subtotal)
			res.ScoreCount += len(scores)
		}
		res.JudgeCount = len(judgeIDs)

		if len(subtotals) > 0 {
			total, err := rule.Aggregate(subtotals)
			if err != nil {
				return nil, fmt.Errorf("aggregate contestant %s: %w", contestantID, err)
			}
			res.RawTotal = aggregation.Round(total, places)
			res.AveragePerJudge = aggregation.Round(aggregation.Sum(subtotals)/float64(len(subtotals)), places)
			res.AveragePerCriterion = valueSum / float64(res.ScoreCount)
		}
		res.Total = res.RawTotal
		if category.ScoreCap != nil && res.RawTotal > *category.ScoreCap {
			res.Total = *category.ScoreCap
			res.Clamped = true
		}
		results = append(results, res)
	}

	rank(results)
	return results, nil
}

// rank sorts results and assigns ranks and tie-break labels. Ties on total
// are broken by (a) higher average per-criterion score, (b) fewer scores
// strictly below the scope median, (c) ascending contestant id. Because
// contestant ids are unique every contestant gets a distinct rank.
func rank(results []domain.TabulationResult) {
	slices.SortFunc(results, func(a, b domain.TabulationResult) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}
		if c := cmp.Compare(b.AveragePerCriterion, a.AveragePerCriterion); c != 0 {
			return c
		}
		if c := cmp.Compare(a.ScoresBelowMedian, b.ScoresBelowMedian); c != 0 {
			return c
		}
		return cmp.Compare(a.ContestantID, b.ContestantID)
	})

	for i := range results {
		results[i].Rank = i + 1
		if i == 0 {
			continue
		}
		prev, cur := results[i-1], results[i]
		switch {
		case prev.Total != cur.Total:
			results[i].TieBreak = domain.TieBreakNone
		case prev.AveragePerCriterion != cur.AveragePerCriterion:
			results[i].TieBreak = domain.TieBreakAverage
		case prev.ScoresBelowMedian != cur.ScoresBelowMedian:
			results[i].TieBreak = domain.TieBreakBelowMedian
		default:
			results[i].TieBreak = domain.TieBreakContestantID
		}
	}
}
