package leaderboard

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelproof/xaibench/internal/model"
	"github.com/modelproof/xaibench/internal/quality"
	"github.com/modelproof/xaibench/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "leaderboard_test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedDataset(t *testing.T, s store.Store) *model.Dataset {
	t.Helper()
	ds := &model.Dataset{
		ID:       "ds-credit",
		Name:     "synthetic credit risk",
		Features: []string{"a", "b"},
		Rows: [][]float64{
			{1.0, 0.1}, {0.8, 0.3}, {-0.5, 0.7}, {0.2, -0.9},
			{1.3, 0.4}, {-1.1, 0.2}, {0.6, -0.3}, {0.0, 0.5},
		},
	}
	require.NoError(t, s.CreateDataset(context.Background(), ds))
	return ds
}

func seedLinearModel(t *testing.T, s store.Store, id string, aucROC float64) *model.Model {
	t.Helper()
	params, err := json.Marshal(map[string]any{
		"weights": map[string]float64{"a": 2.0, "b": -1.0},
		"bias":    0.0,
	})
	require.NoError(t, err)
	m := &model.Model{
		ID:        id,
		Name:      id,
		Family:    model.FamilyLinear,
		DatasetID: "ds-credit",
		Status:    model.ModelStatusCompleted,
		Params:    params,
		Metrics:   &model.PerformanceMetrics{AUCROC: aucROC, F1Score: 0.8},
	}
	require.NoError(t, s.CreateModel(context.Background(), m))
	return m
}

func seedExplanation(t *testing.T, s store.Store, modelID string) *model.Explanation {
	t.Helper()
	e := &model.Explanation{
		ID:            uuid.New().String(),
		ModelID:       modelID,
		Method:        model.MethodSHAP,
		Scope:         model.Scope{Kind: model.ScopeGlobal},
		Contributions: map[string]float64{"a": 0.4, "b": -0.2},
		BaseValue:     0.5,
		SampleSize:    8,
		CacheKey:      uuid.New().String(),
	}
	require.NoError(t, s.CreateExplanation(context.Background(), e))
	return e
}

func TestBuild_RanksByComposite(t *testing.T) {
	s := newTestStore(t)
	seedDataset(t, s)
	seedLinearModel(t, s, "m-weak", 0.70)
	seedLinearModel(t, s, "m-strong", 0.95)

	b := New(s, quality.NewEvaluator(quality.WithRounds(1)))
	entries, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "m-strong", entries[0].ModelID)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "m-weak", entries[1].ModelID)
	assert.Equal(t, 2, entries[1].Rank)
	assert.Greater(t, entries[0].Composite, entries[1].Composite)
}

func TestBuild_QualityLiftsComposite(t *testing.T) {
	s := newTestStore(t)
	seedDataset(t, s)
	seedLinearModel(t, s, "m-explained", 0.80)
	seedLinearModel(t, s, "m-bare", 0.80)
	seedExplanation(t, s, "m-explained")

	b := New(s, quality.NewEvaluator(quality.WithRounds(1)))
	entries, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byID := map[string]model.LeaderboardEntry{}
	for _, e := range entries {
		byID[e.ModelID] = e
	}
	explained := byID["m-explained"]
	bare := byID["m-bare"]

	assert.Contains(t, explained.MethodQuality, model.MethodSHAP)
	assert.Empty(t, bare.MethodQuality)
	assert.Greater(t, explained.Composite, bare.Composite)
	assert.Equal(t, 1, explained.Rank)
}

func TestBuild_EmptyStore(t *testing.T) {
	b := New(newTestStore(t), quality.NewEvaluator(quality.WithRounds(1)))
	entries, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestComposite_NoQuality(t *testing.T) {
	assert.InDelta(t, 0.6*0.9, composite(0.9, nil), 1e-9)
	assert.InDelta(t, 0.6*0.9+0.4*0.5,
		composite(0.9, map[model.Method]float64{model.MethodSHAP: 0.5}), 1e-9)
}
