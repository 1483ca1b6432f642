package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

var _ ports.Store = (*Store)(nil)

// PostgreSQL error codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeQueryCanceled        = "57014"
)

// Store is the PostgreSQL implementation of ports.Store.
type Store struct {
	db          *gorm.DB
	logger      *zap.Logger
	maxAttempts int
}

// NewStore creates a Store. Transactions aborted by a serialization
// failure or deadlock are retried up to maxAttempts times in total.
func NewStore(db *gorm.DB, logger *zap.Logger, maxAttempts int) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger, maxAttempts: max(1, maxAttempts)}
}

// dbError marks failures that came from the database rather than from a
// caller's callback or guard.
type dbError struct{ err error }

func (e *dbError) Error() string { return e.err.Error() }
func (e *dbError) Unwrap() error { return e.err }

func dbErr(err error) error {
	if err == nil {
		return nil
	}
	return &dbError{err: err}
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isRetryable(err error) bool {
	switch pgCode(err) {
	case codeSerializationFailure, codeDeadlockDetected:
		return true
	}
	return false
}

// classify tags database errors with the matching ports sentinel.
func classify(err error) error {
	code := pgCode(err)
	switch {
	case code == codeUniqueViolation:
		return fmt.Errorf("%w: %w", ports.ErrConflict, err)
	case code == codeQueryCanceled:
		return fmt.Errorf("%w: %w", ports.ErrTimeout, err)
	case strings.HasPrefix(code, "08"):
		return fmt.Errorf("%w: %w", ports.ErrStoreUnavailable, err)
	}
	return err
}

// inTx runs fn in a transaction and retries it on retryable conflicts.
// Errors returned by fn that did not come from the database are passed
// through unchanged.
func (s *Store) inTx(ctx context.Context, op, key string, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}

		var dbe *dbError
		if !errors.As(err, &dbe) {
			return err
		}
		if !isRetryable(dbe.err) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return s.logError(op, key, attempt, classify(dbe.err))
		}
		s.logger.Debug("transaction conflict, retrying",
			zap.String("operation", op),
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.String("code", pgCode(dbe.err)),
		)
	}
	return s.logError(op, key, s.maxAttempts, fmt.Errorf("%w: %w", ports.ErrConflict, err))
}

func (s *Store) logError(op, key string, attempts int, err error) error {
	s.logger.Error("tally store operation failed",
		zap.String("event", "tally_store_"+op+"_failed"),
		zap.String("layer", "adapter"),
		zap.String("key", key),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	serr := ports.NewStoreError(op, key, err)
	serr.Attempts = attempts
	return serr
}

// ensureRecord creates an OPEN record row for ref if none exists, so there
// is always a row to lock.
func ensureRecord(tx *gorm.DB, ref domain.SubcategoryRef) error {
	row := certificationModel{
		SubcategoryID: ref.SubcategoryID,
		ContestID:     ref.ContestID,
		CategoryID:    ref.CategoryID,
		State:         string(domain.StateOpen),
	}
	return dbErr(tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subcategory_id"}},
		DoNothing: true,
	}).Create(&row).Error)
}

// lockRecord reads the record row with the given lock strength ("SHARE"
// or "UPDATE") together with its judge certifications.
func lockRecord(tx *gorm.DB, subcategoryID, strength string) (domain.CertificationRecord, error) {
	var row certificationModel
	if err := tx.Clauses(clause.Locking{Strength: strength}).
		Where("subcategory_id = ?", subcategoryID).
		First(&row).Error; err != nil {
		return domain.CertificationRecord{}, dbErr(err)
	}
	var judges []judgeCertificationModel
	if err := tx.Where("subcategory_id = ?", subcategoryID).
		Order("judge_id ASC").
		Find(&judges).Error; err != nil {
		return domain.CertificationRecord{}, dbErr(err)
	}
	return row.toEntity(judges), nil
}

// UpsertScore implements ports.ScoreStore. The guard runs while the
// subcategory's record row is held FOR SHARE.
func (s *Store) UpsertScore(ctx context.Context, score domain.Score, guard ports.ScoreGuard) (domain.Score, error) {
	if score.CreatedAt.IsZero() {
		score.CreatedAt = score.UpdatedAt
	}
	row := scoreModelFromEntity(score)
	key := strings.Join([]string{score.JudgeID, score.ContestantID, score.CriterionID}, "/")

	var stored scoreModel
	err := s.inTx(ctx, "upsert_score", key, func(tx *gorm.DB) error {
		ref := domain.SubcategoryRef{CategoryID: score.CategoryID, SubcategoryID: score.SubcategoryID}
		if err := ensureRecord(tx, ref); err != nil {
			return err
		}
		rec, err := lockRecord(tx, score.SubcategoryID, "SHARE")
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(rec); err != nil {
				return err
			}
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "judge_id"}, {Name: "contestant_id"}, {Name: "criterion_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"category_id", "subcategory_id", "value", "comment", "updated_at",
			}),
		}).Create(&row).Error; err != nil {
			return dbErr(err)
		}
		return dbErr(tx.Where("judge_id = ? AND contestant_id = ? AND criterion_id = ?",
			score.JudgeID, score.ContestantID, score.CriterionID).
			First(&stored).Error)
	})
	if err != nil {
		return domain.Score{}, err
	}
	return stored.toEntity(), nil
}

// GetScore implements ports.ScoreStore.
func (s *Store) GetScore(ctx context.Context, key domain.ScoreKey) (domain.Score, bool, error) {
	var row scoreModel
	err := s.db.WithContext(ctx).
		Where("judge_id = ? AND contestant_id = ? AND criterion_id = ?",
			key.JudgeID, key.ContestantID, key.CriterionID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Score{}, false, nil
		}
		return domain.Score{}, false, s.logError("get_score", key.JudgeID+"/"+key.ContestantID+"/"+key.CriterionID, 1, err)
	}
	return row.toEntity(), true, nil
}

// SnapshotScores implements ports.ScoreStore. A single SELECT reads from
// one MVCC snapshot.
func (s *Store) SnapshotScores(ctx context.Context, filter domain.ScoreFilter) ([]domain.Score, error) {
	q := s.db.WithContext(ctx).Model(&scoreModel{})
	if filter.CategoryID != "" {
		q = q.Where("category_id = ?", filter.CategoryID)
	}
	if len(filter.SubcategoryIDs) > 0 {
		q = q.Where("subcategory_id IN ?", filter.SubcategoryIDs)
	}
	if filter.JudgeID != "" {
		q = q.Where("judge_id = ?", filter.JudgeID)
	}
	if filter.ContestantID != "" {
		q = q.Where("contestant_id = ?", filter.ContestantID)
	}

	var rows []scoreModel
	if err := q.Order("subcategory_id ASC, contestant_id ASC, judge_id ASC, criterion_id ASC").
		Find(&rows).Error; err != nil {
		return nil, s.logError("snapshot_scores", filter.CategoryID, 1, err)
	}
	out := make([]domain.Score, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

// certificationTx stages one UpdateCertification change.
type certificationTx struct {
	current domain.CertificationRecord
	staged  *domain.CertificationRecord
	audit   []domain.AuditEntry
}

func (t *certificationTx) Record() domain.CertificationRecord { return t.current.Clone() }

func (t *certificationTx) Put(record domain.CertificationRecord) {
	r := record.Clone()
	t.staged = &r
}

func (t *certificationTx) AppendAudit(entry domain.AuditEntry) error {
	t.audit = append(t.audit, entry)
	return nil
}

// UpdateCertification implements ports.CertificationStore. The record row
// is held FOR UPDATE for the whole callback, and the record, its judge
// certifications and the staged audit entries commit in one transaction.
func (s *Store) UpdateCertification(
	ctx context.Context,
	ref domain.SubcategoryRef,
	fn func(tx ports.CertificationTx) error,
) (domain.CertificationRecord, error) {
	var committed domain.CertificationRecord
	err := s.inTx(ctx, "update_certification", ref.SubcategoryID, func(tx *gorm.DB) error {
		if err := ensureRecord(tx, ref); err != nil {
			return err
		}
		current, err := lockRecord(tx, ref.SubcategoryID, "UPDATE")
		if err != nil {
			return err
		}
		if ref.ContestID != "" {
			current.Ref = ref
		}

		stage := &certificationTx{current: current.Clone()}
		if err := fn(stage); err != nil {
			return err
		}
		if stage.staged == nil {
			committed = current
			return nil
		}

		next := *stage.staged
		if err := next.CheckInvariants(); err != nil {
			return ports.NewStoreError("update_certification", ref.SubcategoryID,
				fmt.Errorf("%w: %w", ports.ErrInvariantViolated, err))
		}
		next.Ref = current.Ref
		next.Version = current.Version + 1

		model := certificationModelFromEntity(next)
		if err := tx.Save(&model).Error; err != nil {
			return dbErr(err)
		}
		if err := tx.Where("subcategory_id = ?", ref.SubcategoryID).
			Delete(&judgeCertificationModel{}).Error; err != nil {
			return dbErr(err)
		}
		if judges := judgeModelsFromEntity(next); len(judges) > 0 {
			if err := tx.Create(&judges).Error; err != nil {
				return dbErr(err)
			}
		}
		for _, entry := range stage.audit {
			if entry.ID == "" {
				entry.ID = uuid.NewString()
			}
			if entry.SubcategoryID == "" {
				entry.SubcategoryID = ref.SubcategoryID
			}
			row := auditModelFromEntity(entry)
			if err := tx.Create(&row).Error; err != nil {
				return dbErr(err)
			}
		}
		committed = next
		return nil
	})
	if err != nil {
		return domain.CertificationRecord{}, err
	}
	return committed, nil
}

// GetCertification implements ports.CertificationStore.
func (s *Store) GetCertification(ctx context.Context, subcategoryID string) (domain.CertificationRecord, error) {
	var row certificationModel
	err := s.db.WithContext(ctx).Where("subcategory_id = ?", subcategoryID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.NewCertificationRecord(domain.SubcategoryRef{SubcategoryID: subcategoryID}), nil
		}
		return domain.CertificationRecord{}, s.logError("get_certification", subcategoryID, 1, err)
	}

	var judges []judgeCertificationModel
	if err := s.db.WithContext(ctx).
		Where("subcategory_id = ?", subcategoryID).
		Order("judge_id ASC").
		Find(&judges).Error; err != nil {
		return domain.CertificationRecord{}, s.logError("get_certification", subcategoryID, 1, err)
	}
	return row.toEntity(judges), nil
}

// ListAudit implements ports.AuditLog.
func (s *Store) ListAudit(ctx context.Context, subcategoryID string) ([]domain.AuditEntry, error) {
	var rows []auditModel
	if err := s.db.WithContext(ctx).
		Where("subcategory_id = ?", subcategoryID).
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, s.logError("list_audit", subcategoryID, 1, err)
	}
	out := make([]domain.AuditEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}
