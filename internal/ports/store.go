// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the system testable.
package ports

import (
	"context"

	"github.com/ahrav/go-tally/internal/domain"
)

// ScoreGuard is evaluated by the store while it holds a shared lock on the
// certification record of the score's subcategory. Returning an error
// aborts the write. Certification writes on the same record wait until the
// guarded write commits, so a guard that passes cannot be invalidated
// before the score is stored.
type ScoreGuard func(record domain.CertificationRecord) error

// ScoreStore holds raw per-criterion scores.
type ScoreStore interface {
	// UpsertScore inserts or overwrites the score with the same
	// (judge, contestant, criterion) key. CreatedAt of an existing row is
	// preserved; UpdatedAt is taken from score. The stored row is returned.
	// Writes to one key are serialized; writes to different keys proceed
	// in parallel.
	UpsertScore(ctx context.Context, score domain.Score, guard ScoreGuard) (domain.Score, error)

	// GetScore returns the score for key and whether it exists.
	GetScore(ctx context.Context, key domain.ScoreKey) (domain.Score, bool, error)

	// SnapshotScores returns every score matching filter as observed at a
	// single point in time. A concurrent write is either fully visible or
	// not visible at all.
	SnapshotScores(ctx context.Context, filter domain.ScoreFilter) ([]domain.Score, error)
}

// CertificationTx is the view of one certification record handed to an
// UpdateCertification callback. Nothing is persisted unless the callback
// returns nil.
type CertificationTx interface {
	// Record returns a copy of the record as read under the exclusive lock.
	// A record that was never written is returned in the OPEN state.
	Record() domain.CertificationRecord

	// Put stages the new record contents.
	Put(record domain.CertificationRecord)

	// AppendAudit stages an audit entry. It is committed atomically with
	// the staged record.
	AppendAudit(entry domain.AuditEntry) error
}

// CertificationStore persists certification records.
type CertificationStore interface {
	// UpdateCertification runs fn while holding an exclusive lock on the
	// record for ref.SubcategoryID. Calls for the same subcategory
	// serialize; calls for different subcategories do not block each
	// other. The committed record is returned.
	UpdateCertification(
		ctx context.Context,
		ref domain.SubcategoryRef,
		fn func(tx CertificationTx) error,
	) (domain.CertificationRecord, error)

	// GetCertification returns the current record for subcategoryID, or an
	// OPEN record with a zero Version when none has been written.
	GetCertification(ctx context.Context, subcategoryID string) (domain.CertificationRecord, error)
}

// AuditLog exposes the append-only certification audit trail.
type AuditLog interface {
	// ListAudit returns the entries for subcategoryID in recording order.
	ListAudit(ctx context.Context, subcategoryID string) ([]domain.AuditEntry, error)
}

// Store is the durable transactional store consumed by the engine.
type Store interface {
	ScoreStore
	CertificationStore
	AuditLog
}
