// Package memory provides an in-process implementation of the engine's
// store and collaborator ports. It backs tests, the replay tool, and
// single-node deployments that do not need durability.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

var _ ports.Store = (*Store)(nil)

// recordSlot holds one certification record behind its own lock. Score
// writes take the read lock; certification updates take the write lock.
type recordSlot struct {
	mu     sync.RWMutex
	record domain.CertificationRecord
}

// Store keeps scores, certification records and the audit trail in maps.
//
// Lock order is always slot.mu before Store.mu. Store.mu is only held for
// short map operations, so writes to different scores and updates to
// different subcategories never wait on each other for long.
type Store struct {
	mu sync.RWMutex

	scores  map[domain.ScoreKey]domain.Score
	records map[string]*recordSlot
	audit   map[string][]domain.AuditEntry
}

// NewStore creates an empty store seeded with scores.
func NewStore(seed []domain.Score) *Store {
	scores := make(map[domain.ScoreKey]domain.Score, len(seed))
	for _, s := range seed {
		scores[s.Key()] = s
	}
	return &Store{
		scores:  scores,
		records: make(map[string]*recordSlot),
		audit:   make(map[string][]domain.AuditEntry),
	}
}

func (s *Store) slot(ref domain.SubcategoryRef) *recordSlot {
	id := strings.TrimSpace(ref.SubcategoryID)

	s.mu.RLock()
	sl, ok := s.records[id]
	s.mu.RUnlock()
	if ok {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok = s.records[id]; ok {
		return sl
	}
	sl = &recordSlot{record: domain.NewCertificationRecord(ref)}
	s.records[id] = sl
	return sl
}

// UpsertScore stores score under its key after guard accepts the current
// certification record of the score's subcategory.
func (s *Store) UpsertScore(ctx context.Context, score domain.Score, guard ports.ScoreGuard) (domain.Score, error) {
	if err := ctx.Err(); err != nil {
		return domain.Score{}, err
	}

	sl := s.slot(domain.SubcategoryRef{CategoryID: score.CategoryID, SubcategoryID: score.SubcategoryID})
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	if guard != nil {
		if err := guard(sl.record.Clone()); err != nil {
			return domain.Score{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.scores[score.Key()]; ok {
		score.CreatedAt = existing.CreatedAt
	} else if score.CreatedAt.IsZero() {
		score.CreatedAt = score.UpdatedAt
	}
	s.scores[score.Key()] = score
	return score, nil
}

// GetScore returns the score stored under key.
func (s *Store) GetScore(_ context.Context, key domain.ScoreKey) (domain.Score, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.scores[key]
	return score, ok, nil
}

// SnapshotScores copies every matching score under a single read lock.
// The result is ordered by (subcategory, contestant, judge, criterion).
func (s *Store) SnapshotScores(ctx context.Context, filter domain.ScoreFilter) ([]domain.Score, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]domain.Score, 0, len(s.scores))
	for _, score := range s.scores {
		if filter.Matches(score) {
			out = append(out, score)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, compareScores)
	return out, nil
}

func compareScores(a, b domain.Score) int {
	if c := strings.Compare(a.SubcategoryID, b.SubcategoryID); c != 0 {
		return c
	}
	if c := strings.Compare(a.ContestantID, b.ContestantID); c != 0 {
		return c
	}
	if c := strings.Compare(a.JudgeID, b.JudgeID); c != 0 {
		return c
	}
	return strings.Compare(a.CriterionID, b.CriterionID)
}

// certificationTx stages changes for one UpdateCertification call.
type certificationTx struct {
	current domain.CertificationRecord
	staged  *domain.CertificationRecord
	audit   []domain.AuditEntry
}

func (tx *certificationTx) Record() domain.CertificationRecord { return tx.current.Clone() }

func (tx *certificationTx) Put(record domain.CertificationRecord) {
	r := record.Clone()
	tx.staged = &r
}

func (tx *certificationTx) AppendAudit(entry domain.AuditEntry) error {
	tx.audit = append(tx.audit, entry)
	return nil
}

// UpdateCertification runs fn under the subcategory's exclusive lock and
// commits the staged record and audit entries together.
func (s *Store) UpdateCertification(
	ctx context.Context,
	ref domain.SubcategoryRef,
	fn func(tx ports.CertificationTx) error,
) (domain.CertificationRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.CertificationRecord{}, err
	}

	sl := s.slot(ref)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if ref.ContestID != "" {
		sl.record.Ref = ref
	}
	tx := &certificationTx{current: sl.record.Clone()}
	if err := fn(tx); err != nil {
		return domain.CertificationRecord{}, err
	}
	if tx.staged == nil {
		return sl.record.Clone(), nil
	}

	next := *tx.staged
	if err := next.CheckInvariants(); err != nil {
		return domain.CertificationRecord{}, ports.NewStoreError("UpdateCertification", ref.SubcategoryID,
			fmt.Errorf("%w: %w", ports.ErrInvariantViolated, err))
	}
	next.Ref = sl.record.Ref
	next.Version = sl.record.Version + 1
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	for _, entry := range tx.audit {
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if entry.SubcategoryID == "" {
			entry.SubcategoryID = ref.SubcategoryID
		}
		s.audit[ref.SubcategoryID] = append(s.audit[ref.SubcategoryID], entry)
	}
	s.mu.Unlock()

	sl.record = next
	return next.Clone(), nil
}

// GetCertification returns the current record for subcategoryID.
func (s *Store) GetCertification(_ context.Context, subcategoryID string) (domain.CertificationRecord, error) {
	s.mu.RLock()
	sl, ok := s.records[strings.TrimSpace(subcategoryID)]
	s.mu.RUnlock()
	if !ok {
		return domain.NewCertificationRecord(domain.SubcategoryRef{SubcategoryID: subcategoryID}), nil
	}

	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.record.Clone(), nil
}

// ListAudit returns the audit entries for subcategoryID in commit order.
func (s *Store) ListAudit(_ context.Context, subcategoryID string) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.audit[strings.TrimSpace(subcategoryID)]), nil
}
