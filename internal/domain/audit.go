package domain

import "time"

// AuditAction names an entry in the certification audit trail.
type AuditAction string

// Audit actions.
const (
	AuditJudgeCertified  AuditAction = "judge_certified"
	AuditTotalsCertified AuditAction = "totals_certified"
	AuditFinalCertified  AuditAction = "final_certified"
	AuditRevoked         AuditAction = "revoked"
)

// AuditEntry is one append-only line of the certification audit trail.
// Entries are written in the same transaction as the change they describe.
type AuditEntry struct {
	ID            string      `json:"id"`
	SubcategoryID string      `json:"subcategory_id"`
	Action        AuditAction `json:"action"`
	Level         Level       `json:"level"`
	ActorID       string      `json:"actor_id"`
	ActorRole     Role        `json:"actor_role"`
	// TargetJudgeID is set for judge-level revocations of a single judge.
	TargetJudgeID string    `json:"target_judge_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	StateBefore   State     `json:"state_before"`
	StateAfter    State     `json:"state_after"`
	RecordedAt    time.Time `json:"recorded_at"`
}
