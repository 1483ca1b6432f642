package application

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

// ScoreService accepts and reads back raw judge scores.
type ScoreService struct {
	catalog ports.Catalog
	roster  ports.Roster
	store   ports.ScoreStore
	pacer   *judgePacer
	clock   ports.Clock
	logger  *zap.Logger
}

// NewScoreService creates a ScoreService. A zero SubmissionConfig disables
// pacing; a nil clock uses ports.SystemClock and a nil logger is replaced
// by a no-op logger.
func NewScoreService(
	catalog ports.Catalog,
	roster ports.Roster,
	store ports.ScoreStore,
	pacing SubmissionConfig,
	clock ports.Clock,
	logger *zap.Logger,
) *ScoreService {
	if clock == nil {
		clock = ports.SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScoreService{
		catalog: catalog,
		roster:  roster,
		store:   store,
		pacer:   newJudgePacer(pacing),
		clock:   clock,
		logger:  logger,
	}
}

// SubmitScore validates in and stores it, overwriting any earlier score
// with the same (judge, contestant, criterion) key.
//
// Error Conditions:
//   - *domain.RoleError when the actor is not the judge named in the input
//   - *domain.ValidationError for missing ids or an out-of-range value
//   - *domain.NotFoundError for an unknown criterion or subcategory
//   - *domain.NotAssignedError when the judge is not on the roster
//   - *domain.LockedError when the judge has certified the subcategory
//
// The lock check runs inside the store write, so a certification cannot
// slip in between the check and the write.
func (s *ScoreService) SubmitScore(ctx context.Context, actor domain.Actor, in domain.ScoreInput) (domain.Score, error) {
	if actor.Role != domain.RoleJudge || actor.UserID != in.JudgeID {
		return domain.Score{}, &domain.RoleError{
			UserID:    actor.UserID,
			Role:      actor.Role,
			Operation: "SubmitScore",
			Allowed:   []domain.Role{domain.RoleJudge},
		}
	}

	if strings.TrimSpace(in.CriterionID) == "" {
		return domain.Score{}, in.Validate(domain.Criterion{})
	}
	criterion, err := s.catalog.Criterion(ctx, in.CriterionID)
	if err != nil {
		return domain.Score{}, fmt.Errorf("load criterion: %w", err)
	}
	if err := in.Validate(criterion); err != nil {
		return domain.Score{}, err
	}

	sub, err := s.catalog.Subcategory(ctx, criterion.SubcategoryID)
	if err != nil {
		return domain.Score{}, fmt.Errorf("load subcategory: %w", err)
	}
	assigned, err := s.roster.AssignedJudges(ctx, sub.ID)
	if err != nil {
		return domain.Score{}, fmt.Errorf("load roster: %w", err)
	}
	if !slices.Contains(assigned, in.JudgeID) {
		return domain.Score{}, &domain.NotAssignedError{JudgeID: in.JudgeID, SubcategoryID: sub.ID}
	}

	if err := s.pacer.wait(ctx, in.JudgeID); err != nil {
		return domain.Score{}, err
	}

	score := domain.Score{
		JudgeID:       in.JudgeID,
		ContestantID:  in.ContestantID,
		CriterionID:   criterion.ID,
		CategoryID:    sub.CategoryID,
		SubcategoryID: sub.ID,
		Value:         in.Value,
		Comment:       in.Comment,
		UpdatedAt:     s.clock.Now(),
	}
	stored, err := s.store.UpsertScore(ctx, score, func(rec domain.CertificationRecord) error {
		if rec.ScoresLocked(in.JudgeID) {
			return &domain.LockedError{JudgeID: in.JudgeID, SubcategoryID: sub.ID}
		}
		return nil
	})
	if err != nil {
		return domain.Score{}, err
	}

	s.logger.Debug("score stored",
		zap.String("judge_id", stored.JudgeID),
		zap.String("contestant_id", stored.ContestantID),
		zap.String("criterion_id", stored.CriterionID),
		zap.Float64("value", stored.Value),
	)
	return stored, nil
}

// GetScore returns the stored score for the key, if any.
func (s *ScoreService) GetScore(ctx context.Context, key domain.ScoreKey) (domain.Score, bool, error) {
	return s.store.GetScore(ctx, key)
}

// ListScores returns every score matching filter from one snapshot.
func (s *ScoreService) ListScores(ctx context.Context, filter domain.ScoreFilter) ([]domain.Score, error) {
	return s.store.SnapshotScores(ctx, filter)
}

// judgePacer keeps one token bucket per judge. Submissions wait for a
// token rather than failing; cancelling the context ends the wait.
type judgePacer struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newJudgePacer(cfg SubmissionConfig) *judgePacer {
	if cfg.RatePerSecond <= 0 {
		return nil
	}
	return &judgePacer{
		limit:    rate.Limit(cfg.RatePerSecond),
		burst:    max(1, cfg.Burst),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (p *judgePacer) wait(ctx context.Context, judgeID string) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	l, ok := p.limiters[judgeID]
	if !ok {
		l = rate.NewLimiter(p.limit, p.burst)
		p.limiters[judgeID] = l
	}
	p.mu.Unlock()

	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("submission pacing: %w", err)
	}
	return nil
}
