// Package postgres implements the engine's store ports on PostgreSQL via
// gorm. Certification records are locked with SELECT ... FOR UPDATE and
// score writes take a shared lock on the same row, so a judge
// certification and a score write for that judge can never interleave.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ahrav/go-tally/internal/ports"
)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  newGormLogger(logger),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w: %w", ports.ErrStoreUnavailable, err)
	}
	return db, nil
}

// Migrate creates or updates the engine's tables.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(
		&scoreModel{},
		&certificationModel{},
		&judgeCertificationModel{},
		&auditModel{},
	); err != nil {
		return fmt.Errorf("migrate tally schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
