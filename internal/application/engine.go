// Package application orchestrates score submission, tabulation and the
// certification chain on top of the ports defined in internal/ports.
//
// The Engine type is the entry point. It wires the individual services
// together and wraps every operation with tracing, metrics and structured
// logging so that callers see one consistent surface.
package application

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ahrav/go-tally/infrastructure/aggregation"
	"github.com/ahrav/go-tally/infrastructure/logging"
	"github.com/ahrav/go-tally/infrastructure/signature"
	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

// Metric names recorded by the engine.
const (
	metricOperations      = "operations"
	metricTotalsClamped   = "totals_clamped"
	metricPendingJudges   = "pending_judges"
	metricContestantTotal = "contestant_total"
)

// Dependencies are the collaborators handed to NewEngine. Catalog, Roster,
// Directory and Store are required; everything else has a default.
type Dependencies struct {
	Catalog   ports.Catalog
	Roster    ports.Roster
	Directory ports.Directory
	Store     ports.Store

	// Verifier defaults to a signature.Verifier built from Config.Signature.
	Verifier ports.SignatureVerifier
	// Rules defaults to the built-in aggregation rules.
	Rules    *aggregation.Registry
	Observer ports.Observer
	Metrics  ports.MetricsCollector
	Clock    ports.Clock
	Logger   *zap.Logger
}

// Engine is the scoring and certification engine.
type Engine struct {
	scores        *ScoreService
	tabulator     *Tabulator
	certification *CertificationService
	queries       *QueryService

	observer ports.Observer
	metrics  ports.MetricsCollector
	logger   *zap.Logger
}

// NewEngine validates cfg and builds an Engine from deps.
func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("engine: catalog is required")
	case deps.Roster == nil:
		return nil, errors.New("engine: roster is required")
	case deps.Directory == nil:
		return nil, errors.New("engine: directory is required")
	case deps.Store == nil:
		return nil, errors.New("engine: store is required")
	}

	if deps.Verifier == nil {
		deps.Verifier = signature.NewVerifier(cfg.Signature)
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Rules == nil {
		deps.Rules = aggregation.NewRegistry()
	}
	if _, err := deps.Rules.Get(cfg.Tabulation.AggregationRule); err != nil {
		return nil, &domain.ConfigurationError{Subject: "tabulation", Reason: err.Error()}
	}

	tab := NewTabulator(deps.Catalog, deps.Roster, deps.Store, deps.Rules, cfg.Tabulation)
	return &Engine{
		scores: NewScoreService(deps.Catalog, deps.Roster, deps.Store, cfg.Submission,
			deps.Clock, deps.Logger.Named("scores")),
		tabulator: tab,
		certification: NewCertificationService(deps.Catalog, deps.Roster, deps.Directory, deps.Store,
			deps.Verifier, cfg.Roles, deps.Clock, deps.Logger.Named("certification")),
		queries:  NewQueryService(deps.Catalog, deps.Roster, deps.Store, tab, cfg.Bulk.Concurrency),
		observer: deps.Observer,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}, nil
}

// observe opens a span for op and returns a function that closes it and
// records latency and outcome.
func (e *Engine) observe(ctx context.Context, op string, attrs map[string]string) (context.Context, func(error)) {
	start := time.Now()
	ctx, end := e.observer.Start(ctx, op, attrs)
	return ctx, func(err error) {
		outcome := domain.Kind(err)
		e.metrics.RecordLatency(op, time.Since(start), map[string]string{"outcome": outcome})
		e.metrics.RecordCounter(metricOperations, 1, map[string]string{"operation": op, "outcome": outcome})
		if outcome == "internal" {
			logging.FromContext(ctx, e.logger).Error("operation failed", zap.String("operation", op), zap.Error(err))
		}
		end(err)
	}
}

// SubmitScore stores a judge's score.
func (e *Engine) SubmitScore(ctx context.Context, actor domain.Actor, in domain.ScoreInput) (_ domain.Score, err error) {
	ctx, done := e.observe(ctx, "submit_score", map[string]string{
		"actor":      actor.UserID,
		"contestant": in.ContestantID,
		"criterion":  in.CriterionID,
	})
	defer func() { done(err) }()
	return e.scores.SubmitScore(ctx, actor, in)
}

// GetScore returns the score stored under key.
func (e *Engine) GetScore(ctx context.Context, key domain.ScoreKey) (_ domain.Score, _ bool, err error) {
	ctx, done := e.observe(ctx, "get_score", nil)
	defer func() { done(err) }()
	return e.scores.GetScore(ctx, key)
}

// ListScores returns the scores matching filter from one snapshot.
func (e *Engine) ListScores(ctx context.Context, filter domain.ScoreFilter) (_ []domain.Score, err error) {
	ctx, done := e.observe(ctx, "list_scores", map[string]string{"category": filter.CategoryID})
	defer func() { done(err) }()
	return e.scores.ListScores(ctx, filter)
}

// Tabulate ranks the contestants in scope.
func (e *Engine) Tabulate(ctx context.Context, scope domain.Scope) (_ []domain.TabulationResult, err error) {
	ctx, done := e.observe(ctx, "tabulate", map[string]string{"category": scope.CategoryID})
	defer func() { done(err) }()

	results, err := e.tabulator.Tabulate(ctx, scope)
	if err != nil {
		return nil, err
	}
	e.recordResults(results)
	return results, nil
}

// TabulateMany tabulates several scopes with bounded parallelism.
func (e *Engine) TabulateMany(ctx context.Context, scopes []domain.Scope) (_ [][]domain.TabulationResult, err error) {
	ctx, done := e.observe(ctx, "tabulate_many", map[string]string{"scopes": strconv.Itoa(len(scopes))})
	defer func() { done(err) }()

	out, err := e.queries.TabulateMany(ctx, scopes)
	if err != nil {
		return nil, err
	}
	for _, results := range out {
		e.recordResults(results)
	}
	return out, nil
}

func (e *Engine) recordResults(results []domain.TabulationResult) {
	for _, r := range results {
		labels := map[string]string{"category": r.CategoryID}
		e.metrics.RecordHistogram(metricContestantTotal, r.Total, labels)
		if r.Clamped {
			e.metrics.RecordCounter(metricTotalsClamped, 1, labels)
		}
	}
}

// CertifyAsJudge records the acting judge's certification.
func (e *Engine) CertifyAsJudge(ctx context.Context, actor domain.Actor, subcategoryID string) (_ domain.CertificationRecord, err error) {
	ctx, done := e.observe(ctx, "certify_judge", map[string]string{"actor": actor.UserID, "subcategory": subcategoryID})
	defer func() { done(err) }()

	rec, err := e.certification.CertifyAsJudge(ctx, actor, subcategoryID)
	if err != nil {
		return domain.CertificationRecord{}, err
	}
	e.recordPending(ctx, subcategoryID, rec)
	return rec, nil
}

// CertifyTotals applies the Tally Master sign-off.
func (e *Engine) CertifyTotals(
	ctx context.Context,
	actor domain.Actor,
	subcategoryID string,
	assertedName string,
) (_ domain.CertificationRecord, err error) {
	ctx, done := e.observe(ctx, "certify_totals", map[string]string{"actor": actor.UserID, "subcategory": subcategoryID})
	defer func() { done(err) }()
	return e.certification.CertifyTotals(ctx, actor, subcategoryID, assertedName)
}

// CertifyFinal applies the Auditor/Board sign-off.
func (e *Engine) CertifyFinal(
	ctx context.Context,
	actor domain.Actor,
	subcategoryID string,
	assertedName string,
) (_ domain.CertificationRecord, err error) {
	ctx, done := e.observe(ctx, "certify_final", map[string]string{"actor": actor.UserID, "subcategory": subcategoryID})
	defer func() { done(err) }()
	return e.certification.CertifyFinal(ctx, actor, subcategoryID, assertedName)
}

// RevokeCertification clears a certification level and everything above it.
func (e *Engine) RevokeCertification(ctx context.Context, actor domain.Actor, req RevokeRequest) (_ domain.CertificationRecord, err error) {
	ctx, done := e.observe(ctx, "revoke_certification", map[string]string{
		"actor":       actor.UserID,
		"subcategory": req.SubcategoryID,
		"level":       string(req.Level),
	})
	defer func() { done(err) }()

	rec, err := e.certification.RevokeCertification(ctx, actor, req)
	if err != nil {
		return domain.CertificationRecord{}, err
	}
	e.recordPending(ctx, req.SubcategoryID, rec)
	return rec, nil
}

// recordPending updates the pending-judges gauge. Roster errors only skip
// the gauge.
func (e *Engine) recordPending(ctx context.Context, subcategoryID string, rec domain.CertificationRecord) {
	status, err := e.queries.GetCertificationStatus(ctx, subcategoryID)
	if err != nil {
		e.logger.Debug("pending judges gauge skipped", zap.String("subcategory_id", subcategoryID), zap.Error(err))
		return
	}
	e.metrics.RecordGauge(metricPendingJudges, float64(len(status.PendingJudges)),
		map[string]string{"subcategory": subcategoryID, "state": string(rec.State)})
}

// GetCertificationStatus returns the status projection of a subcategory.
func (e *Engine) GetCertificationStatus(ctx context.Context, subcategoryID string) (_ CertificationStatus, err error) {
	ctx, done := e.observe(ctx, "certification_status", map[string]string{"subcategory": subcategoryID})
	defer func() { done(err) }()
	return e.queries.GetCertificationStatus(ctx, subcategoryID)
}

// ScoreReview returns the score matrix and tabulation for scope.
func (e *Engine) ScoreReview(ctx context.Context, scope domain.Scope) (_ ScoreReview, err error) {
	ctx, done := e.observe(ctx, "score_review", map[string]string{"category": scope.CategoryID})
	defer func() { done(err) }()
	return e.queries.ScoreReview(ctx, scope)
}

// CertificationDashboard summarizes the certification state of a category.
func (e *Engine) CertificationDashboard(ctx context.Context, categoryID string) (_ Dashboard, err error) {
	ctx, done := e.observe(ctx, "certification_dashboard", map[string]string{"category": categoryID})
	defer func() { done(err) }()
	return e.queries.CertificationDashboard(ctx, categoryID)
}

// AuditTrail returns the certification audit entries for a subcategory.
func (e *Engine) AuditTrail(ctx context.Context, subcategoryID string) (_ []domain.AuditEntry, err error) {
	ctx, done := e.observe(ctx, "audit_trail", map[string]string{"subcategory": subcategoryID})
	defer func() { done(err) }()
	return e.queries.AuditTrail(ctx, subcategoryID)
}

type nopObserver struct{}

func (nopObserver) Start(ctx context.Context, _ string, _ map[string]string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

type nopMetrics struct{}

func (nopMetrics) RecordLatency(string, time.Duration, map[string]string) {}
func (nopMetrics) RecordCounter(string, float64, map[string]string)   {}
func (nopMetrics) RecordGauge(string, float64, map[string]string)     {}
func (nopMetrics) RecordHistogram(string, float64, map[string]string) {}
