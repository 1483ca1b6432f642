package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-tally/infrastructure/store/memory"
	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

const (
	testContest     = "spring-2026"
	testCategory    = "vocal"
	testSubcategory = "vocal-solo"
)

var (
	judge1      = domain.Actor{UserID: "j1", Role: domain.RoleJudge}
	judge2      = domain.Actor{UserID: "j2", Role: domain.RoleJudge}
	judge3      = domain.Actor{UserID: "j3", Role: domain.RoleJudge}
	tallyMaster = domain.Actor{UserID: "tm", Role: domain.RoleTallyMaster}
	auditor     = domain.Actor{UserID: "aud", Role: domain.RoleAuditor}
	admin       = domain.Actor{UserID: "adm", Role: domain.RoleAdmin}
)

func ptr(v float64) *float64 { return &v }

// fixture is a seeded in-memory contest: one category with a 90 point cap,
// one subcategory with three criteria worth 40 points each, three judges,
// and three contestants.
type fixture struct {
	contest *memory.Contest
	store   *memory.Store
	engine  *Engine
	metrics *recordingMetrics
}

type fixtureOption func(*Config, *domain.Category)

func withConfig(fn func(*Config)) fixtureOption {
	return func(c *Config, _ *domain.Category) { fn(c) }
}

func withCategory(fn func(*domain.Category)) fixtureOption {
	return func(_ *Config, cat *domain.Category) { fn(cat) }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := DefaultConfig()
	category := domain.Category{
		ID:        testCategory,
		ContestID: testContest,
		Name:      "Vocal",
		ScoreCap:  ptr(90),
	}
	for _, opt := range opts {
		opt(&cfg, &category)
	}

	contest := memory.NewContest()
	contest.SetCategory(category)
	contest.SetSubcategory(domain.Subcategory{
		ID:         testSubcategory,
		CategoryID: testCategory,
		ContestID:  testContest,
		Name:       "Solo",
	})
	for i, id := range []string{"c1", "c2", "c3"} {
		contest.SetCriterion(domain.Criterion{
			ID:            id,
			CategoryID:    testCategory,
			SubcategoryID: testSubcategory,
			Name:          "Criterion " + id,
			Order:         i,
			MaxScore:      40,
		})
	}
	contest.AssignJudges(testSubcategory, "j1", "j2", "j3")
	contest.SetContestants(testCategory, "p1", "p2", "p3")

	contest.SetUser(domain.User{ID: "j1", FullName: "Morgan Lee", Role: domain.RoleJudge})
	contest.SetUser(domain.User{ID: "j2", FullName: "Sam Ortiz", Role: domain.RoleJudge})
	contest.SetUser(domain.User{ID: "j3", FullName: "Riley Chen", Role: domain.RoleJudge})
	contest.SetUser(domain.User{ID: "tm", FullName: "Jane Smith", Role: domain.RoleTallyMaster})
	contest.SetUser(domain.User{ID: "aud", FullName: "Alex Rivera", Role: domain.RoleAuditor})
	contest.SetUser(domain.User{ID: "adm", FullName: "Pat Quinn", Role: domain.RoleAdmin})

	store := memory.NewStore(nil)
	metrics := newRecordingMetrics()
	now := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	engine, err := NewEngine(cfg, Dependencies{
		Catalog:   contest,
		Roster:    contest,
		Directory: contest,
		Store:     store,
		Metrics:   metrics,
		Clock:     ports.ClockFunc(func() time.Time { return now }),
	})
	require.NoError(t, err)

	return &fixture{contest: contest, store: store, engine: engine, metrics: metrics}
}

func (f *fixture) submit(t *testing.T, judge, contestant, criterion string, value float64) {
	t.Helper()
	_, err := f.engine.SubmitScore(context.Background(),
		domain.Actor{UserID: judge, Role: domain.RoleJudge},
		domain.ScoreInput{JudgeID: judge, ContestantID: contestant, CriterionID: criterion, Value: value},
	)
	require.NoError(t, err)
}

// seedScores enters the three judge scenario: p1 has subtotals 90, 95 and
// 100 (mean 95, above the cap), p2 has 60 from every judge, p3 has no
// scores.
func (f *fixture) seedScores(t *testing.T) {
	t.Helper()
	p1 := map[string][3]float64{
		"j1": {30, 30, 30},
		"j2": {32, 32, 31},
		"j3": {33, 33, 34},
	}
	for judge, values := range p1 {
		for i, v := range values {
			f.submit(t, judge, "p1", []string{"c1", "c2", "c3"}[i], v)
		}
	}
	for _, judge := range []string{"j1", "j2", "j3"} {
		for _, c := range []string{"c1", "c2", "c3"} {
			f.submit(t, judge, "p2", c, 20)
		}
	}
}

func (f *fixture) certifyAllJudges(t *testing.T) {
	t.Helper()
	for _, j := range []domain.Actor{judge1, judge2, judge3} {
		_, err := f.engine.CertifyAsJudge(context.Background(), j, testSubcategory)
		require.NoError(t, err)
	}
}

// recordingMetrics is a MetricsCollector that keeps every call.
type recordingMetrics struct {
	mu         sync.Mutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
	latencies  map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
		latencies:  make(map[string]int),
	}
}

func (m *recordingMetrics) RecordLatency(op string, _ time.Duration, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies[op]++
}

func (m *recordingMetrics) RecordCounter(metric string, v float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := metric
	if op, ok := labels["operation"]; ok {
		key += "/" + op + "/" + labels["outcome"]
	}
	m.counters[key] += v
}

func (m *recordingMetrics) RecordGauge(metric string, v float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[metric+"/"+labels["subcategory"]] = v
}

func (m *recordingMetrics) RecordHistogram(metric string, v float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms[metric] = append(m.histograms[metric], v)
}

func (m *recordingMetrics) counter(key string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key]
}

func (m *recordingMetrics) gauge(key string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[key]
}
