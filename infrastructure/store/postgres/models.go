package postgres

import (
	"time"

	"github.com/ahrav/go-tally/internal/domain"
)

// Timestamps come from the engine clock, so gorm's automatic time tracking
// is off for every model.
type scoreModel struct {
	JudgeID       string    `gorm:"column:judge_id;primaryKey"`
	ContestantID  string    `gorm:"column:contestant_id;primaryKey"`
	CriterionID   string    `gorm:"column:criterion_id;primaryKey"`
	CategoryID    string    `gorm:"column:category_id;index:idx_scores_scope"`
	SubcategoryID string    `gorm:"column:subcategory_id;index:idx_scores_scope"`
	Value         float64   `gorm:"column:value"`
	Comment       string    `gorm:"column:comment"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (scoreModel) TableName() string {
	return "scores"
}

func scoreModelFromEntity(s domain.Score) scoreModel {
	return scoreModel{
		JudgeID:       s.JudgeID,
		ContestantID:  s.ContestantID,
		CriterionID:   s.CriterionID,
		CategoryID:    s.CategoryID,
		SubcategoryID: s.SubcategoryID,
		Value:         s.Value,
		Comment:       s.Comment,
		CreatedAt:     s.CreatedAt.UTC(),
		UpdatedAt:     s.UpdatedAt.UTC(),
	}
}

func (m scoreModel) toEntity() domain.Score {
	return domain.Score{
		JudgeID:       m.JudgeID,
		ContestantID:  m.ContestantID,
		CriterionID:   m.CriterionID,
		CategoryID:    m.CategoryID,
		SubcategoryID: m.SubcategoryID,
		Value:         m.Value,
		Comment:       m.Comment,
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
}

// certificationModel is one row per subcategory. Signatures are flattened
// into nullable columns.
type certificationModel struct {
	SubcategoryID string `gorm:"column:subcategory_id;primaryKey"`
	ContestID     string `gorm:"column:contest_id"`
	CategoryID    string `gorm:"column:category_id;index"`
	State         string `gorm:"column:state"`

	TallySignerID   *string    `gorm:"column:tally_signer_id"`
	TallySignerName *string    `gorm:"column:tally_signer_name"`
	TallySignerRole *string    `gorm:"column:tally_signer_role"`
	TallySignedAt   *time.Time `gorm:"column:tally_signed_at"`

	FinalSignerID   *string    `gorm:"column:final_signer_id"`
	FinalSignerName *string    `gorm:"column:final_signer_name"`
	FinalSignerRole *string    `gorm:"column:final_signer_role"`
	FinalSignedAt   *time.Time `gorm:"column:final_signed_at"`

	Version   int64     `gorm:"column:version"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (certificationModel) TableName() string {
	return "certification_records"
}

type judgeCertificationModel struct {
	SubcategoryID string    `gorm:"column:subcategory_id;primaryKey"`
	JudgeID       string    `gorm:"column:judge_id;primaryKey"`
	CertifiedAt   time.Time `gorm:"column:certified_at"`
}

func (judgeCertificationModel) TableName() string {
	return "judge_certifications"
}

// auditModel rows are only ever inserted. Seq gives a total order within
// the table.
type auditModel struct {
	Seq           int64     `gorm:"column:seq;primaryKey;autoIncrement"`
	ID            string    `gorm:"column:id;uniqueIndex"`
	SubcategoryID string    `gorm:"column:subcategory_id;index"`
	Action        string    `gorm:"column:action"`
	Level         string    `gorm:"column:level"`
	ActorID       string    `gorm:"column:actor_id"`
	ActorRole     string    `gorm:"column:actor_role"`
	TargetJudgeID string    `gorm:"column:target_judge_id"`
	Reason        string    `gorm:"column:reason"`
	StateBefore   string    `gorm:"column:state_before"`
	StateAfter    string    `gorm:"column:state_after"`
	RecordedAt    time.Time `gorm:"column:recorded_at"`
}

func (auditModel) TableName() string {
	return "certification_audit"
}

func certificationModelFromEntity(r domain.CertificationRecord) certificationModel {
	m := certificationModel{
		SubcategoryID: r.Ref.SubcategoryID,
		ContestID:     r.Ref.ContestID,
		CategoryID:    r.Ref.CategoryID,
		State:         string(r.State),
		Version:       r.Version,
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.Tally != nil {
		m.TallySignerID, m.TallySignerName, m.TallySignerRole, m.TallySignedAt = flattenSignature(*r.Tally)
	}
	if r.Final != nil {
		m.FinalSignerID, m.FinalSignerName, m.FinalSignerRole, m.FinalSignedAt = flattenSignature(*r.Final)
	}
	return m
}

func flattenSignature(sig domain.Signature) (*string, *string, *string, *time.Time) {
	role := string(sig.SignerRole)
	at := sig.SignedAt.UTC()
	return &sig.SignerID, &sig.SignerName, &role, &at
}

func signatureFromColumns(id, name, role *string, at *time.Time) *domain.Signature {
	if id == nil {
		return nil
	}
	sig := &domain.Signature{SignerID: *id}
	if name != nil {
		sig.SignerName = *name
	}
	if role != nil {
		sig.SignerRole = domain.Role(*role)
	}
	if at != nil {
		sig.SignedAt = at.UTC()
	}
	return sig
}

func (m certificationModel) toEntity(judges []judgeCertificationModel) domain.CertificationRecord {
	r := domain.CertificationRecord{
		Ref: domain.SubcategoryRef{
			ContestID:     m.ContestID,
			CategoryID:    m.CategoryID,
			SubcategoryID: m.SubcategoryID,
		},
		State:     domain.State(m.State),
		Tally:     signatureFromColumns(m.TallySignerID, m.TallySignerName, m.TallySignerRole, m.TallySignedAt),
		Final:     signatureFromColumns(m.FinalSignerID, m.FinalSignerName, m.FinalSignerRole, m.FinalSignedAt),
		Version:   m.Version,
		UpdatedAt: m.UpdatedAt.UTC(),
	}
	if r.State == "" {
		r.State = domain.StateOpen
	}
	if len(judges) > 0 {
		r.Judges = make([]domain.JudgeCertification, 0, len(judges))
		for _, j := range judges {
			r.Judges = append(r.Judges, domain.JudgeCertification{JudgeID: j.JudgeID, CertifiedAt: j.CertifiedAt.UTC()})
		}
	}
	return r
}

func judgeModelsFromEntity(r domain.CertificationRecord) []judgeCertificationModel {
	out := make([]judgeCertificationModel, 0, len(r.Judges))
	for _, j := range r.Judges {
		out = append(out, judgeCertificationModel{
			SubcategoryID: r.Ref.SubcategoryID,
			JudgeID:       j.JudgeID,
			CertifiedAt:   j.CertifiedAt.UTC(),
		})
	}
	return out
}

func auditModelFromEntity(e domain.AuditEntry) auditModel {
	return auditModel{
		ID:            e.ID,
		SubcategoryID: e.SubcategoryID,
		Action:        string(e.Action),
		Level:         string(e.Level),
		ActorID:       e.ActorID,
		ActorRole:     string(e.ActorRole),
		TargetJudgeID: e.TargetJudgeID,
		Reason:        e.Reason,
		StateBefore:   string(e.StateBefore),
		StateAfter:    string(e.StateAfter),
		RecordedAt:    e.RecordedAt.UTC(),
	}
}

func (m auditModel) toEntity() domain.AuditEntry {
	return domain.AuditEntry{
		ID:            m.ID,
		SubcategoryID: m.SubcategoryID,
		Action:        domain.AuditAction(m.Action),
		Level:         domain.Level(m.Level),
		ActorID:       m.ActorID,
		ActorRole:     domain.Role(m.ActorRole),
		TargetJudgeID: m.TargetJudgeID,
		Reason:        m.Reason,
		StateBefore:   domain.State(m.StateBefore),
		StateAfter:    domain.State(m.StateAfter),
		RecordedAt:    m.RecordedAt.UTC(),
	}
}
