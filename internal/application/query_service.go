package application

import (
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

// JudgeStatus is one assigned judge's row in a certification status.
type JudgeStatus struct {
	JudgeID     string     `json:"judge_id"`
	Certified   bool       `json:"certified"`
	CertifiedAt *time.Time `json:"certified_at,omitempty"`
}

// CertificationStatus is the display projection of one certification
// record.
type CertificationStatus struct {
	Ref           domain.SubcategoryRef `json:"ref"`
	State         domain.State          `json:"state"`
	Version       int64                 `json:"version"`
	Judges        []JudgeStatus         `json:"judges"`
	PendingJudges []string              `json:"pending_judges"`
	Tally         *domain.Signature     `json:"tally,omitempty"`
	Final         *domain.Signature     `json:"final,omitempty"`

	// ConfigurationError is set when the subcategory cannot progress
	// because of a setup problem, such as an empty roster.
	ConfigurationError string `json:"configuration_error,omitempty"`

	LastRevocation *domain.AuditEntry `json:"last_revocation,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// ContestantScores is one row of a score review: values keyed by
// criterion id, then judge id.
type ContestantScores struct {
	ContestantID string                        `json:"contestant_id"`
	Values       map[string]map[string]float64 `json:"values"`
}

// ScoreReview is the per contestant, per criterion, per judge matrix for a
// scope, together with the tabulation computed from the same snapshot.
type ScoreReview struct {
	Scope    domain.Scope              `json:"scope"`
	Criteria []domain.Criterion        `json:"criteria"`
	Judges   []string                  `json:"judges"`
	Rows     []ContestantScores        `json:"rows"`
	Results  []domain.TabulationResult `json:"results"`
}

// Dashboard summarizes every subcategory of a category.
type Dashboard struct {
	CategoryID    string                `json:"category_id"`
	Subcategories []CertificationStatus `json:"subcategories"`
	ByState       map[domain.State]int  `json:"by_state"`
	Misconfigured int                   `json:"misconfigured"`
}

// QueryService builds read-only projections. Nothing here writes.
type QueryService struct {
	catalog     ports.Catalog
	roster      ports.Roster
	store       ports.Store
	tabulator   *Tabulator
	concurrency int
}

// NewQueryService creates a QueryService. concurrency bounds TabulateMany
// and is raised to 1 when smaller.
func NewQueryService(
	catalog ports.Catalog,
	roster ports.Roster,
	store ports.Store,
	tabulator *Tabulator,
	concurrency int,
) *QueryService {
	return &QueryService{
		catalog:     catalog,
		roster:      roster,
		store:       store,
		tabulator:   tabulator,
		concurrency: max(1, concurrency),
	}
}

// GetCertificationStatus returns the status projection for a subcategory.
func (q *QueryService) GetCertificationStatus(ctx context.Context, subcategoryID string) (CertificationStatus, error) {
	sub, err := q.catalog.Subcategory(ctx, subcategoryID)
	if err != nil {
		return CertificationStatus{}, err
	}
	rec, err := q.store.GetCertification(ctx, sub.ID)
	if err != nil {
		return CertificationStatus{}, fmt.Errorf("load certification: %w", err)
	}
	assigned, err := q.roster.AssignedJudges(ctx, sub.ID)
	if err != nil {
		return CertificationStatus{}, fmt.Errorf("load roster: %w", err)
	}
	audit, err := q.store.ListAudit(ctx, sub.ID)
	if err != nil {
		return CertificationStatus{}, fmt.Errorf("load audit: %w", err)
	}

	status := CertificationStatus{
		Ref:           sub.Ref(),
		State:         rec.State,
		Version:       rec.Version,
		Judges:        make([]JudgeStatus, 0, len(assigned)),
		PendingJudges: rec.PendingJudges(assigned),
		Tally:         rec.Tally,
		Final:         rec.Final,
		UpdatedAt:     rec.UpdatedAt,
	}
	for _, id := range assigned {
		js := JudgeStatus{JudgeID: id}
		if jc, ok := rec.JudgeCertified(id); ok {
			at := jc.CertifiedAt
			js.Certified, js.CertifiedAt = true, &at
		}
		status.Judges = append(status.Judges, js)
	}
	if len(assigned) == 0 {
		status.ConfigurationError = noJudgesAssigned(sub.ID).Error()
	}
	for i := len(audit) - 1; i >= 0; i-- {
		if audit[i].Action == domain.AuditRevoked {
			entry := audit[i]
			status.LastRevocation = &entry
			break
		}
	}
	return status, nil
}

// ScoreReview returns the raw score matrix and the tabulation for scope,
// both computed from one snapshot.
func (q *QueryService) ScoreReview(ctx context.Context, scope domain.Scope) (ScoreReview, error) {
	results, snapshot, err := q.tabulator.tabulate(ctx, scope)
	if err != nil {
		return ScoreReview{}, err
	}

	categoryID := scope.CategoryID
	if categoryID == "" {
		sub, err := q.catalog.Subcategory(ctx, scope.SubcategoryIDs[0])
		if err != nil {
			return ScoreReview{}, err
		}
		categoryID = sub.CategoryID
	}
	criteria, err := q.catalog.ListCriteria(ctx, categoryID)
	if err != nil {
		return ScoreReview{}, fmt.Errorf("load criteria: %w", err)
	}
	if len(scope.SubcategoryIDs) > 0 {
		criteria = slices.DeleteFunc(criteria, func(c domain.Criterion) bool {
			return !slices.Contains(scope.SubcategoryIDs, c.SubcategoryID)
		})
	}

	rows := make(map[string]*ContestantScores)
	var judges []string
	for _, s := range snapshot {
		row, ok := rows[s.ContestantID]
		if !ok {
			row = &ContestantScores{ContestantID: s.ContestantID, Values: make(map[string]map[string]float64)}
			rows[s.ContestantID] = row
		}
		if row.Values[s.CriterionID] == nil {
			row.Values[s.CriterionID] = make(map[string]float64)
		}
		row.Values[s.CriterionID][s.JudgeID] = s.Value
		judges = append(judges, s.JudgeID)
	}
	slices.Sort(judges)

	review := ScoreReview{
		Scope:    scope,
		Criteria: criteria,
		Judges:   slices.Compact(judges),
		Rows:     make([]ContestantScores, 0, len(results)),
		Results:  results,
	}
	// Rows follow rank order.
	for _, r := range results {
		if row, ok := rows[r.ContestantID]; ok {
			review.Rows = append(review.Rows, *row)
		} else {
			review.Rows = append(review.Rows, ContestantScores{ContestantID: r.ContestantID})
		}
	}
	return review, nil
}

// CertificationDashboard returns the status of every subcategory in a
// category with counts by state.
func (q *QueryService) CertificationDashboard(ctx context.Context, categoryID string) (Dashboard, error) {
	if _, err := q.catalog.Category(ctx, categoryID); err != nil {
		return Dashboard{}, err
	}
	subs, err := q.catalog.ListSubcategories(ctx, categoryID)
	if err != nil {
		return Dashboard{}, fmt.Errorf("list subcategories: %w", err)
	}

	dash := Dashboard{
		CategoryID:    categoryID,
		Subcategories: make([]CertificationStatus, 0, len(subs)),
		ByState:       make(map[domain.State]int),
	}
	for _, sub := range subs {
		status, err := q.GetCertificationStatus(ctx, sub.ID)
		if err != nil {
			return Dashboard{}, err
		}
		dash.Subcategories = append(dash.Subcategories, status)
		dash.ByState[status.State]++
		if status.ConfigurationError != "" {
			dash.Misconfigured++
		}
	}
	return dash, nil
}

// TabulateMany tabulates several scopes with bounded concurrency. Results
// are returned in the order of scopes. The first failure or a cancelled
// context aborts the batch.
func (q *QueryService) TabulateMany(ctx context.Context, scopes []domain.Scope) ([][]domain.TabulationResult, error) {
	out := make([][]domain.TabulationResult, len(scopes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.concurrency)
	for i, scope := range scopes {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results, err := q.tabulator.Tabulate(gctx, scope)
			if err != nil {
				return fmt.Errorf("scope %d: %w", i, err)
			}
			out[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AuditTrail returns the audit entries for a subcategory in order.
func (q *QueryService) AuditTrail(ctx context.Context, subcategoryID string) ([]domain.AuditEntry, error) {
	if _, err := q.catalog.Subcategory(ctx, subcategoryID); err != nil {
		return nil, err
	}
	return q.store.ListAudit(ctx, subcategoryID)
}
