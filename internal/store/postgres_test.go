package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetModel_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, name, family, dataset_id, status, params, metrics, created_at FROM models WHERE id = \$1`).
		WithArgs("nonexistent-model").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetModel(context.Background(), "nonexistent-model")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetExplanationByCacheKey_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM explanations WHERE cache_key = \$1`).
		WithArgs("unknown-key").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetExplanationByCacheKey(context.Background(), "unknown-key")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateModel_Insert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO models`).
		WithArgs(pgxmock.AnyArg(), "credit-gbm", "tree", "ds-credit", "completed",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	m := testModel(t)
	m.Name = "credit-gbm"
	m.Family = "tree"
	require.NoError(t, s.CreateModel(context.Background(), m))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateExplanation_Insert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO explanations`).
		WithArgs(pgxmock.AnyArg(), "model-1", "shap", pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	e := testExplanation("model-1")
	require.NoError(t, s.CreateExplanation(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementCacheHits(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE explanations SET cache_hits = cache_hits \+ 1 WHERE id = \$1`).
		WithArgs("exp-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.IncrementCacheHits(context.Background(), "exp-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementCacheHits_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE explanations SET cache_hits = cache_hits \+ 1 WHERE id = \$1`).
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.IncrementCacheHits(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListModels_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"id", "name", "family", "dataset_id", "status", "params", "metrics", "created_at"})
	mock.ExpectQuery(`SELECT id, name, family, dataset_id, status, params, metrics, created_at FROM models`).
		WithArgs(100).
		WillReturnRows(rows)

	models, err := s.ListModels(context.Background(), ModelFilter{})
	require.NoError(t, err)
	assert.Empty(t, models)
	assert.NoError(t, mock.ExpectationsWereMet())
}
