package monitoring

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelproof/xaibench/internal/jobs"
	"github.com/modelproof/xaibench/internal/model"
	"github.com/modelproof/xaibench/internal/quality"
	"github.com/modelproof/xaibench/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "monitoring_test.db")
	s, err := store.NewSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedModel(t *testing.T, st store.Store) *model.Model {
	t.Helper()
	ctx := context.Background()

	ds := &model.Dataset{
		ID:       "ds-credit",
		Name:     "credit-sample",
		Features: []string{"debt_ratio", "utilization"},
		Rows:     [][]float64{{0.4, 0.7}, {0.1, 0.2}},
	}
	require.NoError(t, st.CreateDataset(ctx, ds))

	params, err := json.Marshal(map[string]any{
		"weights": map[string]float64{"debt_ratio": 1.5, "utilization": 0.8},
		"bias":    -0.2,
	})
	require.NoError(t, err)

	m := &model.Model{
		ID:        uuid.New().String(),
		Name:      "credit-logistic",
		Family:    model.FamilyLinear,
		DatasetID: ds.ID,
		Status:    model.ModelStatusCompleted,
		Params:    params,
	}
	require.NoError(t, st.CreateModel(ctx, m))
	return m
}

func seedExplanation(t *testing.T, st store.Store, modelID string, method model.Method, createdAt time.Time) *model.Explanation {
	t.Helper()
	exp := &model.Explanation{
		ID:      uuid.New().String(),
		ModelID: modelID,
		Method:  method,
		Scope:   model.Scope{Kind: model.ScopeGlobal},
		Contributions: map[string]float64{
			"debt_ratio":  0.42,
			"utilization": -0.13,
		},
		BaseValue:  0.31,
		SampleSize: 100,
		CacheKey:   uuid.New().String(),
		CreatedAt:  createdAt,
	}
	require.NoError(t, st.CreateExplanation(context.Background(), exp))
	return exp
}

// stubStatser returns fixed job counts.
type stubStatser struct {
	stats jobs.Stats
}

func (s *stubStatser) Stats() jobs.Stats { return s.stats }

// stubScorer returns canned per-method scores.
type stubScorer struct {
	scores map[model.Method]float64
	err    error
}

func (s *stubScorer) Score(_ context.Context, exp *model.Explanation) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.scores[exp.Method], nil
}

func TestCollector_EmptyStore(t *testing.T) {
	st := newTestStore(t)
	c := NewCollector(st, nil, nil)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.ExplanationsTotal)
	assert.Equal(t, 0.0, snap.JobFailRate)
	assert.Empty(t, snap.QualityByMethod)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_JobStats(t *testing.T) {
	st := newTestStore(t)
	js := &stubStatser{stats: jobs.Stats{
		Queued:    1,
		Running:   2,
		Completed: 6,
		Failed:    2,
		Cancelled: 1,
		CacheHits: 4,
	}}

	c := NewCollector(st, js, nil)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.JobsQueued)
	assert.Equal(t, 2, snap.JobsRunning)
	assert.Equal(t, 6, snap.JobsCompleted)
	assert.Equal(t, 2, snap.JobsFailed)
	assert.Equal(t, 1, snap.JobsCancelled)
	assert.InDelta(t, 0.25, snap.JobFailRate, 0.001) // 2 failed / 8 finished
	assert.Equal(t, int64(4), snap.CacheHits)
	assert.InDelta(t, 0.4, snap.CacheHitRate, 0.001) // 4 hits / (4+6) served
}

func TestCollector_ExplanationsByMethodWithinWindow(t *testing.T) {
	st := newTestStore(t)
	m := seedModel(t, st)
	now := time.Now().UTC()

	seedExplanation(t, st, m.ID, model.MethodSHAP, now.Add(-1*time.Hour))
	seedExplanation(t, st, m.ID, model.MethodSHAP, now.Add(-2*time.Hour))
	seedExplanation(t, st, m.ID, model.MethodLIME, now.Add(-3*time.Hour))
	// Outside lookback window, must be filtered out.
	seedExplanation(t, st, m.ID, model.MethodLIME, now.Add(-48*time.Hour))

	c := NewCollector(st, nil, nil)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.ExplanationsTotal)
	assert.Equal(t, 2, snap.ExplanationsByMethod[model.MethodSHAP])
	assert.Equal(t, 1, snap.ExplanationsByMethod[model.MethodLIME])
}

func TestCollector_QualityMeansPerMethod(t *testing.T) {
	st := newTestStore(t)
	m := seedModel(t, st)
	now := time.Now().UTC()

	seedExplanation(t, st, m.ID, model.MethodSHAP, now.Add(-1*time.Hour))
	seedExplanation(t, st, m.ID, model.MethodSHAP, now.Add(-2*time.Hour))
	seedExplanation(t, st, m.ID, model.MethodLIME, now.Add(-3*time.Hour))

	scorer := &stubScorer{scores: map[model.Method]float64{
		model.MethodSHAP: 0.8,
		model.MethodLIME: 0.5,
	}}

	c := NewCollector(st, nil, scorer)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	require.Len(t, snap.QualityByMethod, 2)
	assert.InDelta(t, 0.8, snap.QualityByMethod[model.MethodSHAP], 0.001)
	assert.InDelta(t, 0.5, snap.QualityByMethod[model.MethodLIME], 0.001)
}

func TestCollector_UnscorableArtifactSkipped(t *testing.T) {
	st := newTestStore(t)
	m := seedModel(t, st)
	now := time.Now().UTC()

	seedExplanation(t, st, m.ID, model.MethodSHAP, now.Add(-1*time.Hour))

	scorer := &stubScorer{err: eris.New("degenerate explanation")}

	c := NewCollector(st, nil, scorer)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.ExplanationsTotal)
	assert.Empty(t, snap.QualityByMethod)
}

func TestCollector_FailureRateZeroFinished(t *testing.T) {
	st := newTestStore(t)
	js := &stubStatser{stats: jobs.Stats{Queued: 2, Running: 1}}

	c := NewCollector(st, js, nil)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 0.0, snap.JobFailRate)
	assert.Equal(t, 0.0, snap.CacheHitRate)
}

func TestEvaluatorScorer_ScoresArtifact(t *testing.T) {
	st := newTestStore(t)
	m := seedModel(t, st)
	exp := seedExplanation(t, st, m.ID, model.MethodSHAP, time.Now().UTC())

	scorer := NewEvaluatorScorer(st, quality.NewEvaluator(quality.WithRounds(1)))
	score, err := scorer.Score(context.Background(), exp)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}
