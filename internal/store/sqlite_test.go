package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelproof/xaibench/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "xaibench_test.db")
	s, err := NewSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testModel(t *testing.T) *model.Model {
	t.Helper()
	params, err := json.Marshal(map[string]any{
		"weights": map[string]float64{"debt_ratio": 1.5},
		"bias":    -0.2,
	})
	require.NoError(t, err)
	return &model.Model{
		ID:        uuid.New().String(),
		Name:      "credit-logistic",
		Family:    model.FamilyLinear,
		DatasetID: "ds-credit",
		Status:    model.ModelStatusCompleted,
		Params:    params,
		Metrics: &model.PerformanceMetrics{
			AUCROC:  0.91,
			F1Score: 0.84,
		},
	}
}

func testExplanation(modelID string) *model.Explanation {
	return &model.Explanation{
		ID:      uuid.New().String(),
		ModelID: modelID,
		Method:  model.MethodSHAP,
		Scope:   model.Scope{Kind: model.ScopeGlobal},
		Contributions: map[string]float64{
			"debt_ratio":  0.42,
			"utilization": -0.13,
		},
		BaseValue:  0.31,
		SampleSize: 100,
		CacheKey:   uuid.New().String(),
	}
}

func TestSQLiteStore_ModelRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	m := testModel(t)
	require.NoError(t, s.CreateModel(ctx, m))

	got, err := s.GetModel(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, model.FamilyLinear, got.Family)
	assert.Equal(t, model.ModelStatusCompleted, got.Status)
	require.NotNil(t, got.Metrics)
	assert.InDelta(t, 0.91, got.Metrics.AUCROC, 1e-9)
	assert.JSONEq(t, string(m.Params), string(got.Params))
}

func TestSQLiteStore_GetModel_NotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	_, err := s.GetModel(context.Background(), "no-such-model")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListModels_Filter(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	linear := testModel(t)
	require.NoError(t, s.CreateModel(ctx, linear))

	tree := testModel(t)
	tree.ID = uuid.New().String()
	tree.Name = "credit-gbm"
	tree.Family = model.FamilyTree
	require.NoError(t, s.CreateModel(ctx, tree))

	all, err := s.ListModels(ctx, ModelFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	trees, err := s.ListModels(ctx, ModelFilter{Family: model.FamilyTree})
	require.NoError(t, err)
	require.Len(t, trees, 1)
	assert.Equal(t, "credit-gbm", trees[0].Name)

	limited, err := s.ListModels(ctx, ModelFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteStore_DatasetRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	d := &model.Dataset{
		ID:       "ds-credit",
		Name:     "synthetic credit risk",
		Features: []string{"debt_ratio", "utilization", "age"},
		Rows: [][]float64{
			{0.4, 0.7, 34},
			{0.1, 0.2, 51},
		},
	}
	require.NoError(t, s.CreateDataset(ctx, d))

	got, err := s.GetDataset(ctx, "ds-credit")
	require.NoError(t, err)
	assert.Equal(t, d.Features, got.Features)
	assert.Equal(t, d.Rows, got.Rows)
}

func TestSQLiteStore_GetDataset_NotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	_, err := s.GetDataset(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ExplanationRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	m := testModel(t)
	require.NoError(t, s.CreateModel(ctx, m))

	e := testExplanation(m.ID)
	require.NoError(t, s.CreateExplanation(ctx, e))

	got, err := s.GetExplanation(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Contributions, got.Contributions)
	assert.Equal(t, model.ScopeGlobal, got.Scope.Kind)
	assert.Zero(t, got.Scope.Instance)
	assert.InDelta(t, 0.31, got.BaseValue, 1e-9)
	assert.EqualValues(t, 0, got.CacheHits)
}

func TestSQLiteStore_ExplanationLocalScope(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	m := testModel(t)
	require.NoError(t, s.CreateModel(ctx, m))

	e := testExplanation(m.ID)
	e.Scope = model.Scope{Kind: model.ScopeLocal, Instance: 7}
	e.Probability = 0.83
	require.NoError(t, s.CreateExplanation(ctx, e))

	got, err := s.GetExplanation(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScopeLocal, got.Scope.Kind)
	assert.Equal(t, 7, got.Scope.Instance)
	assert.InDelta(t, 0.83, got.Probability, 1e-9)
}

func TestSQLiteStore_GetExplanationByCacheKey(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	m := testModel(t)
	require.NoError(t, s.CreateModel(ctx, m))

	e := testExplanation(m.ID)
	require.NoError(t, s.CreateExplanation(ctx, e))

	got, err := s.GetExplanationByCacheKey(ctx, e.CacheKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.ID, got.ID)

	// Miss returns nil, nil rather than an error.
	miss, err := s.GetExplanationByCacheKey(ctx, "unknown-key")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestSQLiteStore_IncrementCacheHits(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	m := testModel(t)
	require.NoError(t, s.CreateModel(ctx, m))

	e := testExplanation(m.ID)
	require.NoError(t, s.CreateExplanation(ctx, e))

	require.NoError(t, s.IncrementCacheHits(ctx, e.ID))
	require.NoError(t, s.IncrementCacheHits(ctx, e.ID))

	got, err := s.GetExplanation(ctx, e.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.CacheHits)
}

func TestSQLiteStore_IncrementCacheHits_NotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	err := s.IncrementCacheHits(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListExplanationsByModel(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	m := testModel(t)
	require.NoError(t, s.CreateModel(ctx, m))

	first := testExplanation(m.ID)
	require.NoError(t, s.CreateExplanation(ctx, first))

	second := testExplanation(m.ID)
	second.Method = model.MethodLIME
	require.NoError(t, s.CreateExplanation(ctx, second))

	list, err := s.ListExplanationsByModel(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	none, err := s.ListExplanationsByModel(ctx, "other-model")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_DuplicateCacheKeyRejected(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	m := testModel(t)
	require.NoError(t, s.CreateModel(ctx, m))

	e := testExplanation(m.ID)
	require.NoError(t, s.CreateExplanation(ctx, e))

	dup := testExplanation(m.ID)
	dup.CacheKey = e.CacheKey
	assert.Error(t, s.CreateExplanation(ctx, dup))
}
