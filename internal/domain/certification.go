package domain

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// State is the sign-off state of a subcategory certification record.
type State string

// Record states in the order they must be reached.
const (
	StateOpen            State = "OPEN"
	StateJudgesCertified State = "JUDGES_CERTIFIED"
	StateTallyCertified  State = "TALLY_CERTIFIED"
	StateFinalCertified  State = "FINAL_CERTIFIED"
)

func (s State) rank() int {
	switch s {
	case StateJudgesCertified:
		return 1
	case StateTallyCertified:
		return 2
	case StateFinalCertified:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether s has reached other.
func (s State) AtLeast(other State) bool { return s.rank() >= other.rank() }

// Level names one of the three certification levels.
type Level string

// Certification levels.
const (
	LevelJudge Level = "judge"
	LevelTally Level = "tally"
	LevelFinal Level = "final"
)

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	return l == LevelJudge || l == LevelTally || l == LevelFinal
}

// JudgeCertification records one judge's attestation.
type JudgeCertification struct {
	JudgeID     string    `json:"judge_id"`
	CertifiedAt time.Time `json:"certified_at"`
}

// Signature is a Tally Master or Auditor/Board sign-off.
type Signature struct {
	SignerID   string    `json:"signer_id"`
	SignerName string    `json:"signer_name"`
	SignerRole Role      `json:"signer_role"`
	SignedAt   time.Time `json:"signed_at"`
}

// CertificationRecord is the unit of sign-off for one subcategory. Its
// methods are the state machine: each either applies a complete transition
// or returns an error and leaves the record untouched.
type CertificationRecord struct {
	Ref   SubcategoryRef `json:"ref"`
	State State          `json:"state"`

	// Judges is kept sorted by JudgeID.
	Judges []JudgeCertification `json:"judges"`
	Tally  *Signature           `json:"tally,omitempty"`
	Final  *Signature           `json:"final,omitempty"`

	// Version increments on every committed change.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCertificationRecord returns an OPEN record for ref.
func NewCertificationRecord(ref SubcategoryRef) CertificationRecord {
	return CertificationRecord{Ref: ref, State: StateOpen}
}

// Clone returns a deep copy of r.
func (r CertificationRecord) Clone() CertificationRecord {
	out := r
	out.Judges = slices.Clone(r.Judges)
	if r.Tally != nil {
		t := *r.Tally
		out.Tally = &t
	}
	if r.Final != nil {
		f := *r.Final
		out.Final = &f
	}
	return out
}

// JudgeCertified returns the certification for judgeID if present.
func (r CertificationRecord) JudgeCertified(judgeID string) (JudgeCertification, bool) {
	i, ok := slices.BinarySearchFunc(r.Judges, judgeID, func(jc JudgeCertification, id string) int {
		return cmp.Compare(jc.JudgeID, id)
	})
	if !ok {
		return JudgeCertification{}, false
	}
	return r.Judges[i], true
}

// ScoresLocked reports whether judgeID may no longer change scores in the
// subcategory. Scores lock per judge on judge certification and for every
// judge, including ones assigned later, once totals are signed.
func (r CertificationRecord) ScoresLocked(judgeID string) bool {
	if r.Tally != nil || r.State.AtLeast(StateTallyCertified) {
		return true
	}
	_, ok := r.JudgeCertified(judgeID)
	return ok
}

// PendingJudges returns the assigned judges that have not certified, in
// the order given.
func (r CertificationRecord) PendingJudges(assigned []string) []string {
	pending := make([]string, 0, len(assigned))
	for _, id := range assigned {
		if _, ok := r.JudgeCertified(id); !ok {
			pending = append(pending, id)
		}
	}
	return pending
}

// coversAll reports whether every assigned judge has certified. An empty
// roster never counts as covered.
func (r CertificationRecord) coversAll(assigned []string) bool {
	return len(assigned) > 0 && len(r.PendingJudges(assigned)) == 0
}

// CertifyJudge records judgeID's certification and advances to
// JUDGES_CERTIFIED when the full roster has certified.
func (r *CertificationRecord) CertifyJudge(judgeID string, assigned []string, at time.Time) error {
	if len(assigned) == 0 {
		return r.noJudgesError()
	}
	if !slices.Contains(assigned, judgeID) {
		return &NotAssignedError{JudgeID: judgeID, SubcategoryID: r.Ref.SubcategoryID}
	}
	if _, ok := r.JudgeCertified(judgeID); ok {
		return &AlreadyCertifiedError{
			SubcategoryID: r.Ref.SubcategoryID,
			Level:         LevelJudge,
			JudgeID:       judgeID,
			State:         r.State,
		}
	}

	i, _ := slices.BinarySearchFunc(r.Judges, judgeID, func(jc JudgeCertification, id string) int {
		return cmp.Compare(jc.JudgeID, id)
	})
	r.Judges = slices.Insert(r.Judges, i, JudgeCertification{JudgeID: judgeID, CertifiedAt: at})
	if r.State == StateOpen && r.coversAll(assigned) {
		r.State = StateJudgesCertified
	}
	r.UpdatedAt = at
	return nil
}

// CertifyTotals applies the Tally Master sign-off. The roster is checked
// again so a judge added after the record advanced blocks the sign-off.
func (r *CertificationRecord) CertifyTotals(sig Signature, assigned []string) error {
	if len(assigned) == 0 {
		return r.noJudgesError()
	}
	if r.State.AtLeast(StateTallyCertified) {
		return &AlreadyCertifiedError{SubcategoryID: r.Ref.SubcategoryID, Level: LevelTally, State: r.State}
	}
	if r.State != StateJudgesCertified || !r.coversAll(assigned) {
		pending := r.PendingJudges(assigned)
		return &PreconditionError{
			SubcategoryID: r.Ref.SubcategoryID,
			Level:         LevelTally,
			State:         r.State,
			Reason: fmt.Sprintf("%d of %d assigned judges certified",
				len(assigned)-len(pending), len(assigned)),
		}
	}

	r.Tally = &sig
	r.State = StateTallyCertified
	r.UpdatedAt = sig.SignedAt
	return nil
}

// CertifyFinal applies the Auditor/Board sign-off.
func (r *CertificationRecord) CertifyFinal(sig Signature) error {
	if r.State == StateFinalCertified {
		return &AlreadyCertifiedError{SubcategoryID: r.Ref.SubcategoryID, Level: LevelFinal, State: r.State}
	}
	if r.State != StateTallyCertified || r.Tally == nil {
		return &PreconditionError{
			SubcategoryID: r.Ref.SubcategoryID,
			Level:         LevelFinal,
			State:         r.State,
			Reason:        "tally certification required",
		}
	}

	r.Final = &sig
	r.State = StateFinalCertified
	r.UpdatedAt = sig.SignedAt
	return nil
}

// Revoke clears level and every level above it. For LevelJudge a
// non-empty judgeID clears only that judge; an empty judgeID clears all
// judge certifications.
func (r *CertificationRecord) Revoke(level Level, judgeID string, assigned []string, at time.Time) error {
	nothing := func() error {
		return &PreconditionError{
			SubcategoryID: r.Ref.SubcategoryID,
			Level:         level,
			State:         r.State,
			Reason:        "no certification to revoke",
		}
	}

	switch level {
	case LevelFinal:
		if r.Final == nil {
			return nothing()
		}
		r.Final = nil
		r.State = StateTallyCertified
	case LevelTally:
		if r.Tally == nil {
			return nothing()
		}
		r.Tally, r.Final = nil, nil
		r.State = r.judgeState(assigned)
	case LevelJudge:
		if judgeID != "" {
			i := slices.IndexFunc(r.Judges, func(jc JudgeCertification) bool { return jc.JudgeID == judgeID })
			if i < 0 {
				return nothing()
			}
			r.Judges = slices.Delete(r.Judges, i, i+1)
		} else {
			if len(r.Judges) == 0 {
				return nothing()
			}
			r.Judges = nil
		}
		r.Tally, r.Final = nil, nil
		r.State = r.judgeState(assigned)
	default:
		verr := NewValidationError("Revocation")
		verr.AddErrorf("unknown level %q", level)
		return verr
	}
	r.UpdatedAt = at
	return nil
}

func (r CertificationRecord) judgeState(assigned []string) State {
	if r.coversAll(assigned) {
		return StateJudgesCertified
	}
	return StateOpen
}

func (r CertificationRecord) noJudgesError() error {
	return &ConfigurationError{
		Subject: "subcategory/" + r.Ref.SubcategoryID,
		Reason:  "no judges assigned",
	}
}

// CheckInvariants verifies the structural ordering guarantees: a final
// sign-off needs a tally sign-off, a tally sign-off needs judge
// certifications, and State agrees with the stored sign-offs.
func (r CertificationRecord) CheckInvariants() error {
	switch {
	case r.Final != nil && r.Tally == nil:
		return fmt.Errorf("record %s: final certification without tally certification", r.Ref.SubcategoryID)
	case r.Tally != nil && len(r.Judges) == 0:
		return fmt.Errorf("record %s: tally certification without judge certifications", r.Ref.SubcategoryID)
	case r.Final != nil && r.State != StateFinalCertified:
		return fmt.Errorf("record %s: final signature present in state %s", r.Ref.SubcategoryID, r.State)
	case r.Final == nil && r.Tally != nil && r.State != StateTallyCertified:
		return fmt.Errorf("record %s: tally signature present in state %s", r.Ref.SubcategoryID, r.State)
	case r.Tally == nil && r.State.AtLeast(StateTallyCertified):
		return fmt.Errorf("record %s: state %s without tally signature", r.Ref.SubcategoryID, r.State)
	}
	return nil
}
