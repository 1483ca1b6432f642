package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

// RevokeRequest asks for a certification level to be cleared.
type RevokeRequest struct {
	SubcategoryID string       `json:"subcategory_id" yaml:"subcategory_id"`
	Level         domain.Level `json:"level" yaml:"level"`
	Reason        string       `json:"reason" yaml:"reason"`
	// JudgeID limits a judge-level revocation to one judge. Empty clears
	// every judge certification.
	JudgeID string `json:"judge_id,omitempty" yaml:"judge_id"`
}

// CertificationService runs the sign-off chain Judge -> Tally Master ->
// Auditor/Board. Checks that need no record (role, signature) run first;
// everything that depends on the record or the roster runs inside the
// store's per-record transaction, together with the audit entry.
type CertificationService struct {
	catalog   ports.Catalog
	roster    ports.Roster
	directory ports.Directory
	store     ports.CertificationStore
	verifier  ports.SignatureVerifier
	roles     RolePolicy
	clock     ports.Clock
	logger    *zap.Logger
}

// NewCertificationService creates a CertificationService.
func NewCertificationService(
	catalog ports.Catalog,
	roster ports.Roster,
	directory ports.Directory,
	store ports.CertificationStore,
	verifier ports.SignatureVerifier,
	roles RolePolicy,
	clock ports.Clock,
	logger *zap.Logger,
) *CertificationService {
	if clock == nil {
		clock = ports.SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CertificationService{
		catalog:   catalog,
		roster:    roster,
		directory: directory,
		store:     store,
		verifier:  verifier,
		roles:     roles,
		clock:     clock,
		logger:    logger,
	}
}

// CertifyAsJudge records the acting judge's certification of their scores
// in a subcategory. Once certified, the judge's scores there are locked.
func (s *CertificationService) CertifyAsJudge(
	ctx context.Context,
	actor domain.Actor,
	subcategoryID string,
) (domain.CertificationRecord, error) {
	if err := requireRole(actor, "CertifyAsJudge", []domain.Role{domain.RoleJudge}); err != nil {
		return domain.CertificationRecord{}, s.rejected("CertifyAsJudge", actor, subcategoryID, err)
	}

	rec, err := s.transition(ctx, actor, subcategoryID, func(r *domain.CertificationRecord, assigned []string, now time.Time) (domain.AuditEntry, error) {
		if err := r.CertifyJudge(actor.UserID, assigned, now); err != nil {
			return domain.AuditEntry{}, err
		}
		return domain.AuditEntry{Action: domain.AuditJudgeCertified, Level: domain.LevelJudge}, nil
	})
	if err != nil {
		return domain.CertificationRecord{}, s.rejected("CertifyAsJudge", actor, subcategoryID, err)
	}

	s.logger.Info("judge certified",
		zap.String("subcategory_id", subcategoryID),
		zap.String("judge_id", actor.UserID),
		zap.String("state", string(rec.State)),
	)
	return rec, nil
}

// CertifyTotals applies the Tally Master sign-off. assertedName is the
// signature typed by the signer.
func (s *CertificationService) CertifyTotals(
	ctx context.Context,
	actor domain.Actor,
	subcategoryID string,
	assertedName string,
) (domain.CertificationRecord, error) {
	sig, err := s.signature(ctx, actor, "CertifyTotals", s.roles.Tally, assertedName)
	if err != nil {
		return domain.CertificationRecord{}, s.rejected("CertifyTotals", actor, subcategoryID, err)
	}

	rec, err := s.transition(ctx, actor, subcategoryID, func(r *domain.CertificationRecord, assigned []string, now time.Time) (domain.AuditEntry, error) {
		sig.SignedAt = now
		if err := r.CertifyTotals(sig, assigned); err != nil {
			return domain.AuditEntry{}, err
		}
		return domain.AuditEntry{Action: domain.AuditTotalsCertified, Level: domain.LevelTally}, nil
	})
	if err != nil {
		return domain.CertificationRecord{}, s.rejected("CertifyTotals", actor, subcategoryID, err)
	}

	s.logger.Info("totals certified",
		zap.String("subcategory_id", subcategoryID),
		zap.String("signer_id", actor.UserID),
	)
	return rec, nil
}

// CertifyFinal applies the Auditor/Board sign-off.
func (s *CertificationService) CertifyFinal(
	ctx context.Context,
	actor domain.Actor,
	subcategoryID string,
	assertedName string,
) (domain.CertificationRecord, error) {
	sig, err := s.signature(ctx, actor, "CertifyFinal", s.roles.Final, assertedName)
	if err != nil {
		return domain.CertificationRecord{}, s.rejected("CertifyFinal", actor, subcategoryID, err)
	}

	rec, err := s.transition(ctx, actor, subcategoryID, func(r *domain.CertificationRecord, assigned []string, now time.Time) (domain.AuditEntry, error) {
		if len(assigned) == 0 {
			return domain.AuditEntry{}, noJudgesAssigned(subcategoryID)
		}
		sig.SignedAt = now
		if err := r.CertifyFinal(sig); err != nil {
			return domain.AuditEntry{}, err
		}
		return domain.AuditEntry{Action: domain.AuditFinalCertified, Level: domain.LevelFinal}, nil
	})
	if err != nil {
		return domain.CertificationRecord{}, s.rejected("CertifyFinal", actor, subcategoryID, err)
	}

	s.logger.Info("final certified",
		zap.String("subcategory_id", subcategoryID),
		zap.String("signer_id", actor.UserID),
	)
	return rec, nil
}

// RevokeCertification clears req.Level and every level above it. The
// audit entry is committed in the same transaction; if it cannot be
// written nothing changes.
func (s *CertificationService) RevokeCertification(
	ctx context.Context,
	actor domain.Actor,
	req RevokeRequest,
) (domain.CertificationRecord, error) {
	if err := requireRole(actor, "RevokeCertification", s.roles.Revocation); err != nil {
		return domain.CertificationRecord{}, s.rejected("RevokeCertification", actor, req.SubcategoryID, err)
	}
	reason := strings.TrimSpace(req.Reason)
	verr := domain.NewValidationError("Revocation")
	if reason == "" {
		verr.AddError("reason is required")
	}
	if !req.Level.Valid() {
		verr.AddErrorf("unknown level %q", req.Level)
	}
	if req.JudgeID != "" && req.Level != domain.LevelJudge {
		verr.AddError("judge_id is only valid for judge-level revocation")
	}
	if verr.HasErrors() {
		return domain.CertificationRecord{}, s.rejected("RevokeCertification", actor, req.SubcategoryID, verr)
	}

	rec, err := s.transition(ctx, actor, req.SubcategoryID, func(r *domain.CertificationRecord, assigned []string, now time.Time) (domain.AuditEntry, error) {
		if err := r.Revoke(req.Level, req.JudgeID, assigned, now); err != nil {
			return domain.AuditEntry{}, err
		}
		return domain.AuditEntry{
			Action:        domain.AuditRevoked,
			Level:         req.Level,
			TargetJudgeID: req.JudgeID,
			Reason:        reason,
		}, nil
	})
	if err != nil {
		return domain.CertificationRecord{}, s.rejected("RevokeCertification", actor, req.SubcategoryID, err)
	}

	s.logger.Info("certification revoked",
		zap.String("subcategory_id", req.SubcategoryID),
		zap.String("level", string(req.Level)),
		zap.String("target_judge_id", req.JudgeID),
		zap.String("actor_id", actor.UserID),
		zap.String("reason", reason),
		zap.String("state", string(rec.State)),
	)
	return rec, nil
}

// transitionFunc applies one change to r and describes it for the audit
// trail. The caller fills in actor, states and timestamps.
type transitionFunc func(r *domain.CertificationRecord, assigned []string, now time.Time) (domain.AuditEntry, error)

// transition runs fn inside the record transaction. The roster is read
// inside the transaction so every transition sees the current assignment.
func (s *CertificationService) transition(
	ctx context.Context,
	actor domain.Actor,
	subcategoryID string,
	fn transitionFunc,
) (domain.CertificationRecord, error) {
	sub, err := s.catalog.Subcategory(ctx, subcategoryID)
	if err != nil {
		return domain.CertificationRecord{}, fmt.Errorf("load subcategory: %w", err)
	}

	return s.store.UpdateCertification(ctx, sub.Ref(), func(tx ports.CertificationTx) error {
		assigned, err := s.roster.AssignedJudges(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("load roster: %w", err)
		}

		now := s.clock.Now()
		r := tx.Record()
		before := r.State
		entry, err := fn(&r, assigned, now)
		if err != nil {
			return err
		}
		r.UpdatedAt = now
		tx.Put(r)

		entry.SubcategoryID = sub.ID
		entry.ActorID = actor.UserID
		entry.ActorRole = actor.Role
		entry.StateBefore = before
		entry.StateAfter = r.State
		entry.RecordedAt = now
		if err := tx.AppendAudit(entry); err != nil {
			return fmt.Errorf("append audit entry: %w", err)
		}
		return nil
	})
}

// signature checks the role and the typed name for a tally or final
// sign-off and returns the signature to record.
func (s *CertificationService) signature(
	ctx context.Context,
	actor domain.Actor,
	operation string,
	allowed []domain.Role,
	assertedName string,
) (domain.Signature, error) {
	if err := requireRole(actor, operation, allowed); err != nil {
		return domain.Signature{}, err
	}
	user, err := s.directory.User(ctx, actor.UserID)
	if err != nil {
		return domain.Signature{}, fmt.Errorf("load signer: %w", err)
	}
	if !s.verifier.Verify(user, assertedName) {
		exp := s.verifier.Explain(user, assertedName)
		return domain.Signature{}, &domain.SignatureMismatchError{
			UserID:   user.ID,
			Asserted: assertedName,
			Distance: exp.Distance,
		}
	}
	return domain.Signature{
		SignerID:   actor.UserID,
		SignerName: strings.Join(strings.Fields(assertedName), " "),
		SignerRole: actor.Role,
	}, nil
}

// rejected logs a refused operation at debug level and returns err.
func (s *CertificationService) rejected(operation string, actor domain.Actor, subcategoryID string, err error) error {
	level := zap.DebugLevel
	if domain.Kind(err) == "internal" {
		level = zap.ErrorLevel
	}
	s.logger.Log(level, "certification rejected",
		zap.String("operation", operation),
		zap.String("subcategory_id", subcategoryID),
		zap.String("actor_id", actor.UserID),
		zap.String("role", string(actor.Role)),
		zap.String("kind", domain.Kind(err)),
		zap.Error(err),
	)
	return err
}

func requireRole(actor domain.Actor, operation string, allowed []domain.Role) error {
	if actor.HasRole(allowed...) {
		return nil
	}
	return &domain.RoleError{UserID: actor.UserID, Role: actor.Role, Operation: operation, Allowed: allowed}
}

func noJudgesAssigned(subcategoryID string) error {
	return &domain.ConfigurationError{Subject: "subcategory/" + subcategoryID, Reason: "no judges assigned"}
}
