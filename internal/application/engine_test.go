package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ahrav/go-tally/infrastructure/logging"
	"github.com/ahrav/go-tally/infrastructure/store/memory"
	"github.com/ahrav/go-tally/internal/domain"
)

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	contest := memory.NewContest()
	store := memory.NewStore(nil)

	tests := []struct {
		name string
		deps Dependencies
	}{
		{name: "missing catalog", deps: Dependencies{Roster: contest, Directory: contest, Store: store}},
		{name: "missing roster", deps: Dependencies{Catalog: contest, Directory: contest, Store: store}},
		{name: "missing directory", deps: Dependencies{Catalog: contest, Roster: contest, Store: store}},
		{name: "missing store", deps: Dependencies{Catalog: contest, Roster: contest, Directory: contest}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(DefaultConfig(), tt.deps)
			assert.Error(t, err)
		})
	}

	t.Run("invalid config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Tabulation.AggregationRule = "geometric"
		_, err := NewEngine(cfg, Dependencies{Catalog: contest, Roster: contest, Directory: contest, Store: store})
		assert.Error(t, err)
	})
}

func TestEngine_ThreeJudgeTabulation(t *testing.T) {
	f := newFixture(t)
	f.seedScores(t)

	results, err := f.engine.Tabulate(context.Background(), domain.Scope{CategoryID: testCategory})
	require.NoError(t, err)
	require.Len(t, results, 3)

	p1 := results[0]
	assert.Equal(t, "p1", p1.ContestantID)
	assert.Equal(t, 1, p1.Rank)
	assert.Equal(t, 95.0, p1.RawTotal)
	assert.Equal(t, 90.0, p1.Total)
	assert.True(t, p1.Clamped)
	assert.Equal(t, map[string]float64{"j1": 90, "j2": 95, "j3": 100}, p1.JudgeSubtotals)
	assert.Equal(t, 3, p1.JudgeCount)
	assert.Equal(t, 9, p1.ScoreCount)
	assert.Zero(t, p1.ScoresBelowMedian)

	p2 := results[1]
	assert.Equal(t, "p2", p2.ContestantID)
	assert.Equal(t, 60.0, p2.Total)
	assert.False(t, p2.Clamped)
	assert.Equal(t, 9, p2.ScoresBelowMedian)
	assert.Equal(t, domain.TieBreakNone, p2.TieBreak)

	p3 := results[2]
	assert.Equal(t, "p3", p3.ContestantID)
	assert.Zero(t, p3.Total)
	assert.Zero(t, p3.JudgeCount)
	assert.Equal(t, 3, p3.Rank)

	assert.Equal(t, 1.0, f.metrics.counter(metricTotalsClamped))
}

func TestEngine_TabulateIsDeterministic(t *testing.T) {
	f := newFixture(t)
	f.seedScores(t)

	first, err := f.engine.Tabulate(context.Background(), domain.Scope{CategoryID: testCategory})
	require.NoError(t, err)
	for range 5 {
		again, err := f.engine.Tabulate(context.Background(), domain.Scope{CategoryID: testCategory})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEngine_ResubmitOverwrites(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "j1", "p1", "c1", 10)
	f.submit(t, "j1", "p1", "c1", 12)

	scores, err := f.engine.ListScores(context.Background(), domain.ScoreFilter{CategoryID: testCategory})
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, 12.0, scores[0].Value)

	got, ok, err := f.engine.GetScore(context.Background(), domain.ScoreKey{JudgeID: "j1", ContestantID: "p1", CriterionID: "c1"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 12.0, got.Value)
}

func TestEngine_SubmitScoreRejections(t *testing.T) {
	f := newFixture(t)
	f.contest.SetUser(domain.User{ID: "j4", FullName: "Drew Park", Role: domain.RoleJudge})

	tests := []struct {
		name  string
		actor domain.Actor
		in    domain.ScoreInput
		want  error
	}{
		{
			name:  "value above criterion maximum",
			actor: judge1,
			in:    domain.ScoreInput{JudgeID: "j1", ContestantID: "p1", CriterionID: "c1", Value: 41},
			want:  domain.ErrValidation,
		},
		{
			name:  "negative value",
			actor: judge1,
			in:    domain.ScoreInput{JudgeID: "j1", ContestantID: "p1", CriterionID: "c1", Value: -1},
			want:  domain.ErrValidation,
		},
		{
			name:  "missing contestant",
			actor: judge1,
			in:    domain.ScoreInput{JudgeID: "j1", CriterionID: "c1", Value: 1},
			want:  domain.ErrValidation,
		},
		{
			name:  "unknown criterion",
			actor: judge1,
			in:    domain.ScoreInput{JudgeID: "j1", ContestantID: "p1", CriterionID: "c9", Value: 1},
			want:  domain.ErrNotFound,
		},
		{
			name:  "judge not on roster",
			actor: domain.Actor{UserID: "j4", Role: domain.RoleJudge},
			in:    domain.ScoreInput{JudgeID: "j4", ContestantID: "p1", CriterionID: "c1", Value: 1},
			want:  domain.ErrNotAssigned,
		},
		{
			name:  "submitting for another judge",
			actor: judge2,
			in:    domain.ScoreInput{JudgeID: "j1", ContestantID: "p1", CriterionID: "c1", Value: 1},
			want:  domain.ErrRole,
		},
		{
			name:  "tally master cannot score",
			actor: tallyMaster,
			in:    domain.ScoreInput{JudgeID: "tm", ContestantID: "p1", CriterionID: "c1", Value: 1},
			want:  domain.ErrRole,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.SubmitScore(context.Background(), tt.actor, tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEngine_JudgeCertificationLocksScores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.submit(t, "j1", "p1", "c1", 10)

	rec, err := f.engine.CertifyAsJudge(ctx, judge1, testSubcategory)
	require.NoError(t, err)
	assert.Equal(t, domain.StateOpen, rec.State)

	_, err = f.engine.SubmitScore(ctx, judge1, domain.ScoreInput{JudgeID: "j1", ContestantID: "p1", CriterionID: "c1", Value: 11})
	var locked *domain.LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, "j1", locked.JudgeID)

	// Other judges are unaffected.
	f.submit(t, "j2", "p1", "c1", 15)

	got, _, err := f.engine.GetScore(ctx, domain.ScoreKey{JudgeID: "j1", ContestantID: "p1", CriterionID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 10.0, got.Value)

	_, err = f.engine.CertifyAsJudge(ctx, judge1, testSubcategory)
	assert.ErrorIs(t, err, domain.ErrAlreadyCertified)

	assert.Equal(t, 2.0, f.metrics.gauge(metricPendingJudges+"/"+testSubcategory))
}

func TestEngine_FullCertificationChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedScores(t)

	_, err := f.engine.CertifyAsJudge(ctx, judge1, testSubcategory)
	require.NoError(t, err)
	_, err = f.engine.CertifyAsJudge(ctx, judge2, testSubcategory)
	require.NoError(t, err)

	_, err = f.engine.CertifyTotals(ctx, tallyMaster, testSubcategory, "Jane Smith")
	assert.ErrorIs(t, err, domain.ErrPrecondition, "tally needs every judge")

	_, err = f.engine.CertifyFinal(ctx, auditor, testSubcategory, "Alex Rivera")
	assert.ErrorIs(t, err, domain.ErrPrecondition, "final needs tally")

	rec, err := f.engine.CertifyAsJudge(ctx, judge3, testSubcategory)
	require.NoError(t, err)
	assert.Equal(t, domain.StateJudgesCertified, rec.State)

	rec, err = f.engine.CertifyTotals(ctx, tallyMaster, testSubcategory, "J. Smith")
	require.NoError(t, err)
	assert.Equal(t, domain.StateTallyCertified, rec.State)
	require.NotNil(t, rec.Tally)
	assert.Equal(t, "tm", rec.Tally.SignerID)
	assert.Equal(t, "J. Smith", rec.Tally.SignerName)

	_, err = f.engine.CertifyTotals(ctx, tallyMaster, testSubcategory, "Jane Smith")
	assert.ErrorIs(t, err, domain.ErrAlreadyCertified)

	rec, err = f.engine.CertifyFinal(ctx, auditor, testSubcategory, "alex rivera")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFinalCertified, rec.State)
	require.NoError(t, rec.CheckInvariants())

	trail, err := f.engine.AuditTrail(ctx, testSubcategory)
	require.NoError(t, err)
	require.Len(t, trail, 5)
	assert.Equal(t, domain.AuditFinalCertified, trail[4].Action)
	assert.Equal(t, domain.StateTallyCertified, trail[4].StateBefore)
	assert.Equal(t, domain.StateFinalCertified, trail[4].StateAfter)
}

func TestEngine_SignatureAndRoleChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.certifyAllJudges(t)

	tests := []struct {
		name     string
		actor    domain.Actor
		asserted string
		want     error
	}{
		{name: "wrong first name", actor: tallyMaster, asserted: "Jon Smith", want: domain.ErrSignatureMismatch},
		{name: "wrong last name", actor: tallyMaster, asserted: "Jane Smyth", want: domain.ErrSignatureMismatch},
		{name: "empty signature", actor: tallyMaster, asserted: "  ", want: domain.ErrSignatureMismatch},
		{name: "judge cannot sign totals", actor: judge1, asserted: "Morgan Lee", want: domain.ErrRole},
		{name: "auditor cannot sign totals", actor: auditor, asserted: "Alex Rivera", want: domain.ErrRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CertifyTotals(ctx, tt.actor, testSubcategory, tt.asserted)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	var mismatch *domain.SignatureMismatchError
	_, err := f.engine.CertifyTotals(ctx, tallyMaster, testSubcategory, "Jon Smith")
	require.ErrorAs(t, err, &mismatch)
	assert.Positive(t, mismatch.Distance)

	status, err := f.engine.GetCertificationStatus(ctx, testSubcategory)
	require.NoError(t, err)
	assert.Equal(t, domain.StateJudgesCertified, status.State, "rejected sign-offs change nothing")

	_, err = f.engine.CertifyFinal(ctx, tallyMaster, testSubcategory, "Jane Smith")
	assert.ErrorIs(t, err, domain.ErrRole)

	assert.Positive(t, f.metrics.counter(metricOperations+"/certify_totals/signature_mismatch"))
	assert.Positive(t, f.metrics.counter(metricOperations+"/certify_totals/role"))
}

func TestEngine_ConcurrentCertifyTotalsHasOneWinner(t *testing.T) {
	f := newFixture(t)
	f.certifyAllJudges(t)

	const callers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		already   int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.CertifyTotals(context.Background(), tallyMaster, testSubcategory, "Jane Smith")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrAlreadyCertified):
				already++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, already)

	trail, err := f.engine.AuditTrail(context.Background(), testSubcategory)
	require.NoError(t, err)
	var tallies int
	for _, e := range trail {
		if e.Action == domain.AuditTotalsCertified {
			tallies++
		}
	}
	assert.Equal(t, 1, tallies)
}

func TestEngine_SignedTotalsLockLateJudges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedScores(t)
	f.certifyAllJudges(t)

	_, err := f.engine.CertifyTotals(ctx, tallyMaster, testSubcategory, "Jane Smith")
	require.NoError(t, err)
	_, err = f.engine.CertifyFinal(ctx, auditor, testSubcategory, "Alex Rivera")
	require.NoError(t, err)

	before, err := f.engine.Tabulate(ctx, domain.Scope{CategoryID: testCategory})
	require.NoError(t, err)

	f.contest.AssignJudges(testSubcategory, "j1", "j2", "j3", "j4")
	judge4 := domain.Actor{UserID: "j4", Role: domain.RoleJudge}
	late := domain.ScoreInput{JudgeID: "j4", ContestantID: "p2", CriterionID: "c1", Value: 0}

	_, err = f.engine.SubmitScore(ctx, judge4, late)
	var locked *domain.LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, "j4", locked.JudgeID)
	assert.Equal(t, testSubcategory, locked.SubcategoryID)

	after, err := f.engine.Tabulate(ctx, domain.Scope{CategoryID: testCategory})
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, found, err := f.engine.GetScore(ctx, domain.ScoreKey{JudgeID: "j4", ContestantID: "p2", CriterionID: "c1"})
	require.NoError(t, err)
	assert.False(t, found)

	// Revoking the totals reopens scoring for the judge who never certified.
	_, err = f.engine.RevokeCertification(ctx, admin, RevokeRequest{
		SubcategoryID: testSubcategory,
		Level:         domain.LevelTally,
		Reason:        "late judge added",
	})
	require.NoError(t, err)

	_, err = f.engine.SubmitScore(ctx, judge4, late)
	require.NoError(t, err)

	_, err = f.engine.SubmitScore(ctx, judge1, domain.ScoreInput{JudgeID: "j1", ContestantID: "p2", CriterionID: "c1", Value: 0})
	assert.ErrorIs(t, err, domain.ErrLocked, "judge certification still holds")
}

func TestEngine_RosterChangeBlocksTally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.certifyAllJudges(t)

	f.contest.AssignJudges(testSubcategory, "j1", "j2", "j3", "j4")

	_, err := f.engine.CertifyTotals(ctx, tallyMaster, testSubcategory, "Jane Smith")
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	status, err := f.engine.GetCertificationStatus(ctx, testSubcategory)
	require.NoError(t, err)
	assert.Equal(t, []string{"j4"}, status.PendingJudges)
}

func TestEngine_Revocation(t *testing.T) {
	ctx := context.Background()

	t.Run("tally revocation clears tally and final", func(t *testing.T) {
		f := newFixture(t)
		f.certifyAllJudges(t)
		_, err := f.engine.CertifyTotals(ctx, tallyMaster, testSubcategory, "Jane Smith")
		require.NoError(t, err)
		_, err = f.engine.CertifyFinal(ctx, auditor, testSubcategory, "Alex Rivera")
		require.NoError(t, err)

		rec, err := f.engine.RevokeCertification(ctx, admin, RevokeRequest{
			SubcategoryID: testSubcategory,
			Level:         domain.LevelTally,
			Reason:        "transcription error on p2",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StateJudgesCertified, rec.State)
		assert.Nil(t, rec.Tally)
		assert.Nil(t, rec.Final)
		assert.Len(t, rec.Judges, 3)

		status, err := f.engine.GetCertificationStatus(ctx, testSubcategory)
		require.NoError(t, err)
		require.NotNil(t, status.LastRevocation)
		assert.Equal(t, "transcription error on p2", status.LastRevocation.Reason)
		assert.Equal(t, domain.StateFinalCertified, status.LastRevocation.StateBefore)
		assert.Equal(t, "adm", status.LastRevocation.ActorID)

		// The chain can be completed again.
		_, err = f.engine.CertifyTotals(ctx, tallyMaster, testSubcategory, "Jane Smith")
		require.NoError(t, err)
	})

	t.Run("single judge revocation unlocks that judge", func(t *testing.T) {
		f := newFixture(t)
		f.certifyAllJudges(t)

		rec, err := f.engine.RevokeCertification(ctx, admin, RevokeRequest{
			SubcategoryID: testSubcategory,
			Level:         domain.LevelJudge,
			JudgeID:       "j2",
			Reason:        "missed contestant",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StateOpen, rec.State)
		_, ok := rec.JudgeCertified("j2")
		assert.False(t, ok)

		f.submit(t, "j2", "p3", "c1", 22)

		_, err = f.engine.SubmitScore(ctx, judge1, domain.ScoreInput{JudgeID: "j1", ContestantID: "p3", CriterionID: "c1", Value: 1})
		assert.ErrorIs(t, err, domain.ErrLocked)
	})

	t.Run("rejections", func(t *testing.T) {
		f := newFixture(t)
		f.certifyAllJudges(t)

		tests := []struct {
			name  string
			actor domain.Actor
			req   RevokeRequest
			want  error
		}{
			{
				name:  "reason required",
				actor: admin,
				req:   RevokeRequest{SubcategoryID: testSubcategory, Level: domain.LevelJudge, Reason: "  "},
				want:  domain.ErrValidation,
			},
			{
				name:  "unknown level",
				actor: admin,
				req:   RevokeRequest{SubcategoryID: testSubcategory, Level: "board", Reason: "x"},
				want:  domain.ErrValidation,
			},
			{
				name:  "judge id with tally level",
				actor: admin,
				req:   RevokeRequest{SubcategoryID: testSubcategory, Level: domain.LevelTally, JudgeID: "j1", Reason: "x"},
				want:  domain.ErrValidation,
			},
			{
				name:  "nothing to revoke",
				actor: admin,
				req:   RevokeRequest{SubcategoryID: testSubcategory, Level: domain.LevelFinal, Reason: "x"},
				want:  domain.ErrPrecondition,
			},
			{
				name:  "tally master may not revoke",
				actor: tallyMaster,
				req:   RevokeRequest{SubcategoryID: testSubcategory, Level: domain.LevelJudge, Reason: "x"},
				want:  domain.ErrRole,
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.engine.RevokeCertification(ctx, tt.actor, tt.req)
				assert.ErrorIs(t, err, tt.want)
			})
		}

		trail, err := f.engine.AuditTrail(ctx, testSubcategory)
		require.NoError(t, err)
		assert.Len(t, trail, 3, "rejected revocations write no audit entry")
	})
}

func TestEngine_NoJudgesAssigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.contest.AssignJudges(testSubcategory)

	_, err := f.engine.CertifyAsJudge(ctx, judge1, testSubcategory)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = f.engine.CertifyTotals(ctx, tallyMaster, testSubcategory, "Jane Smith")
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = f.engine.CertifyFinal(ctx, auditor, testSubcategory, "Alex Rivera")
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	// Revocation only needs something to revoke.
	_, err = f.engine.RevokeCertification(ctx, admin, RevokeRequest{
		SubcategoryID: testSubcategory,
		Level:         domain.LevelJudge,
		Reason:        "roster cleared",
	})
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	// Tabulation does not depend on the roster of judges.
	results, err := f.engine.Tabulate(ctx, domain.Scope{SubcategoryIDs: []string{testSubcategory}})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Zero(t, r.Total)
	}

	dash, err := f.engine.CertificationDashboard(ctx, testCategory)
	require.NoError(t, err)
	assert.Equal(t, 1, dash.Misconfigured)
	assert.Equal(t, 1, dash.ByState[domain.StateOpen])
	assert.NotEmpty(t, dash.Subcategories[0].ConfigurationError)
}

func TestEngine_TabulateManyCancelled(t *testing.T) {
	f := newFixture(t)
	f.seedScores(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.TabulateMany(ctx, []domain.Scope{
		{CategoryID: testCategory},
		{SubcategoryIDs: []string{testSubcategory}},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_TabulateMany(t *testing.T) {
	f := newFixture(t)
	f.seedScores(t)

	out, err := f.engine.TabulateMany(context.Background(), []domain.Scope{
		{CategoryID: testCategory},
		{SubcategoryIDs: []string{testSubcategory}},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, out[0], out[1])
}

type failingSnapshotStore struct {
	*memory.Store
	err error
}

func (s failingSnapshotStore) SnapshotScores(context.Context, domain.ScoreFilter) ([]domain.Score, error) {
	return nil, s.err
}

func TestEngine_InternalFailureLogsToContextLogger(t *testing.T) {
	contest := memory.NewContest()
	contest.SetCategory(domain.Category{ID: testCategory, ContestID: testContest, Name: "Vocal"})
	contest.SetSubcategory(domain.Subcategory{ID: testSubcategory, CategoryID: testCategory, ContestID: testContest})
	contest.AssignJudges(testSubcategory, "j1")
	contest.SetContestants(testCategory, "p1")

	engineCore, engineLogs := observer.New(zapcore.DebugLevel)
	engine, err := NewEngine(DefaultConfig(), Dependencies{
		Catalog:   contest,
		Roster:    contest,
		Directory: contest,
		Store:     failingSnapshotStore{Store: memory.NewStore(nil), err: errors.New("disk full")},
		Logger:    zap.New(engineCore),
	})
	require.NoError(t, err)

	reqCore, reqLogs := observer.New(zapcore.DebugLevel)
	ctx := logging.WithLogger(context.Background(), zap.New(reqCore).With(zap.String("request", "r-1")))

	_, err = engine.Tabulate(ctx, domain.Scope{CategoryID: testCategory})
	require.Error(t, err)
	assert.Equal(t, "internal", domain.Kind(err))

	assert.Zero(t, engineLogs.Len())
	entries := reqLogs.FilterMessage("operation failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "tabulate", entries[0].ContextMap()["operation"])
	assert.Equal(t, "r-1", entries[0].ContextMap()["request"])
}
