package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "deadlock", err: fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40P01"}), want: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}},
		{name: "plain error", err: errors.New("boom")},
		{name: "nil", err: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: ports.ErrConflict},
		{name: "statement timeout", err: &pgconn.PgError{Code: "57014"}, want: ports.ErrTimeout},
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, want: ports.ErrStoreUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			assert.ErrorIs(t, err, tt.want)
			var pgErr *pgconn.PgError
			assert.ErrorAs(t, err, &pgErr)
		})
	}

	plain := errors.New("syntax error")
	assert.Same(t, plain, classify(plain))
}

func TestDBErr(t *testing.T) {
	assert.NoError(t, dbErr(nil))

	base := &pgconn.PgError{Code: "40001"}
	err := dbErr(base)
	var dbe *dbError
	require.ErrorAs(t, err, &dbe)
	var pgErr *pgconn.PgError
	assert.ErrorAs(t, err, &pgErr)
}

func TestGormLogger_Trace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := newGormLogger(zap.New(core))
	sql := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(context.Background(), time.Now(), sql, gorm.ErrRecordNotFound)
	assert.Zero(t, logs.Len(), "record not found is not an error")

	l.Trace(context.Background(), time.Now(), sql, errors.New("connection reset"))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[0].Level)

	l.Trace(context.Background(), time.Now().Add(-time.Second), sql, nil)
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "slow query", logs.All()[1].Message)

	quiet := l.LogMode(gormlogger.Silent)
	quiet.Trace(context.Background(), time.Now(), sql, errors.New("ignored"))
	assert.Equal(t, 2, logs.Len())
}

// openTestDB connects to the database named by TALLY_POSTGRES_DSN, or
// skips the test.
func openTestDB(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TALLY_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TALLY_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	db, err := Open(ctx, dsn, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, db))
	t.Cleanup(func() { _ = Close(db) })
	return NewStore(db, zap.NewNop(), 5)
}

func TestStore_Integration(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	sub := "sub-" + uuid.NewString()
	ref := domain.SubcategoryRef{ContestID: "c", CategoryID: "cat-" + sub, SubcategoryID: sub}
	now := time.Now().UTC().Truncate(time.Microsecond)

	newScore := func(judge string, v float64) domain.Score {
		return domain.Score{
			JudgeID:       judge + "-" + sub,
			ContestantID:  "p1",
			CriterionID:   "c1",
			CategoryID:    ref.CategoryID,
			SubcategoryID: sub,
			Value:         v,
			UpdatedAt:     now,
		}
	}

	t.Run("upsert preserves created_at", func(t *testing.T) {
		first, err := store.UpsertScore(ctx, newScore("j1", 10), nil)
		require.NoError(t, err)

		s := newScore("j1", 12)
		s.UpdatedAt = now.Add(time.Minute)
		second, err := store.UpsertScore(ctx, s, nil)
		require.NoError(t, err)
		assert.Equal(t, first.CreatedAt, second.CreatedAt)
		assert.Equal(t, 12.0, second.Value)

		scores, err := store.SnapshotScores(ctx, domain.ScoreFilter{CategoryID: ref.CategoryID})
		require.NoError(t, err)
		assert.Len(t, scores, 1)
	})

	t.Run("guard rejection writes nothing", func(t *testing.T) {
		_, err := store.UpsertScore(ctx, newScore("j2", 5), func(domain.CertificationRecord) error {
			return &domain.LockedError{JudgeID: "j2", SubcategoryID: sub}
		})
		assert.ErrorIs(t, err, domain.ErrLocked)

		_, ok, err := store.GetScore(ctx, newScore("j2", 5).Key())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("certification commits record and audit", func(t *testing.T) {
		signedAt := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
		rec, err := store.UpdateCertification(ctx, ref, func(tx ports.CertificationTx) error {
			r := tx.Record()
			if err := r.CertifyJudge("j1", []string{"j1"}, signedAt); err != nil {
				return err
			}
			tx.Put(r)
			return tx.AppendAudit(domain.AuditEntry{Action: domain.AuditJudgeCertified, Level: domain.LevelJudge, RecordedAt: now})
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StateJudgesCertified, rec.State)
		assert.Equal(t, int64(1), rec.Version)

		got, err := store.GetCertification(ctx, sub)
		require.NoError(t, err)
		assert.Equal(t, rec.Judges, got.Judges)
		assert.Equal(t, ref, got.Ref)
		assert.True(t, signedAt.Equal(rec.UpdatedAt), "committed updated_at = %v", rec.UpdatedAt)
		assert.True(t, signedAt.Equal(got.UpdatedAt), "stored updated_at = %v", got.UpdatedAt)

		trail, err := store.ListAudit(ctx, sub)
		require.NoError(t, err)
		require.Len(t, trail, 1)
		assert.NotEmpty(t, trail[0].ID)
	})

	t.Run("callback error rolls back", func(t *testing.T) {
		sentinel := errors.New("rejected")
		_, err := store.UpdateCertification(ctx, ref, func(tx ports.CertificationTx) error {
			r := tx.Record()
			r.Judges = nil
			tx.Put(r)
			_ = tx.AppendAudit(domain.AuditEntry{Action: domain.AuditRevoked})
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)

		got, err := store.GetCertification(ctx, sub)
		require.NoError(t, err)
		assert.Len(t, got.Judges, 1)
		trail, err := store.ListAudit(ctx, sub)
		require.NoError(t, err)
		assert.Len(t, trail, 1)
	})

	t.Run("concurrent updates serialize", func(t *testing.T) {
		const writers = 8
		var wg sync.WaitGroup
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.UpdateCertification(ctx, ref, func(tx ports.CertificationTx) error {
					tx.Put(tx.Record())
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := store.GetCertification(ctx, sub)
		require.NoError(t, err)
		assert.Equal(t, int64(1+writers), got.Version)
	})
}
