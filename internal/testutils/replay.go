package testutils

import (
	"context"
	"fmt"

	"github.com/ahrav/go-tally/internal/application"
	"github.com/ahrav/go-tally/internal/domain"
)

// Engine is the part of application.Engine that a replay drives.
type Engine interface {
	SubmitScore(ctx context.Context, actor domain.Actor, in domain.ScoreInput) (domain.Score, error)
	CertifyAsJudge(ctx context.Context, actor domain.Actor, subcategoryID string) (domain.CertificationRecord, error)
	CertifyTotals(ctx context.Context, actor domain.Actor, subcategoryID, assertedName string) (domain.CertificationRecord, error)
	CertifyFinal(ctx context.Context, actor domain.Actor, subcategoryID, assertedName string) (domain.CertificationRecord, error)
	RevokeCertification(ctx context.Context, actor domain.Actor, req application.RevokeRequest) (domain.CertificationRecord, error)
	Tabulate(ctx context.Context, scope domain.Scope) ([]domain.TabulationResult, error)
	GetCertificationStatus(ctx context.Context, subcategoryID string) (application.CertificationStatus, error)
	ScoreReview(ctx context.Context, scope domain.Scope) (application.ScoreReview, error)
}

var _ Engine = (*application.Engine)(nil)

// Outcome is the result of one replayed action.
type Outcome struct {
	Index    int    `json:"index"`
	Op       Op     `json:"op"`
	ActorID  string `json:"actor_id,omitempty"`
	Kind     string `json:"kind"`
	Expected string `json:"expected"`
	Passed   bool   `json:"passed"`
	Error    string `json:"error,omitempty"`
	Result   any    `json:"result,omitempty"`
}

// Report collects the outcomes of a replay.
type Report struct {
	Scenario string    `json:"scenario"`
	Outcomes []Outcome `json:"outcomes"`
	Failures int       `json:"failures"`
}

// Replay runs the scenario's actions in order against eng. An action whose
// error kind differs from its Expect counts as a failure; the replay keeps
// going. Only a cancelled context stops it early.
func Replay(ctx context.Context, eng Engine, sc *Scenario) (Report, error) {
	report := Report{Scenario: sc.Name, Outcomes: make([]Outcome, 0, len(sc.Actions))}

	for i, a := range sc.Actions {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result, err := run(ctx, eng, a)
		expected := a.Expect
		if expected == "" {
			expected = "ok"
		}
		out := Outcome{
			Index:    i,
			Op:       a.Op,
			ActorID:  a.Actor.UserID,
			Kind:     domain.Kind(err),
			Expected: expected,
			Result:   result,
		}
		if err != nil {
			out.Error = err.Error()
			out.Result = nil
		}
		out.Passed = out.Kind == out.Expected
		if !out.Passed {
			report.Failures++
		}
		report.Outcomes = append(report.Outcomes, out)
	}
	return report, nil
}

func run(ctx context.Context, eng Engine, a Action) (any, error) {
	switch a.Op {
	case OpSubmit:
		return eng.SubmitScore(ctx, a.Actor, *a.Score)
	case OpCertifyJudge:
		return eng.CertifyAsJudge(ctx, a.Actor, a.Subcategory)
	case OpCertifyTotals:
		return eng.CertifyTotals(ctx, a.Actor, a.Subcategory, a.Signature)
	case OpCertifyFinal:
		return eng.CertifyFinal(ctx, a.Actor, a.Subcategory, a.Signature)
	case OpRevoke:
		return eng.RevokeCertification(ctx, a.Actor, *a.Revoke)
	case OpTabulate:
		return eng.Tabulate(ctx, *a.Scope)
	case OpStatus:
		return eng.GetCertificationStatus(ctx, a.Subcategory)
	case OpReview:
		return eng.ScoreReview(ctx, *a.Scope)
	default:
		return nil, fmt.Errorf("unsupported op %q", a.Op)
	}
}
