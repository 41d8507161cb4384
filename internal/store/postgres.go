package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/modelproof/xaibench/internal/model"
)

// pgxPool is the subset of pgxpool.Pool the store uses. It is also
// satisfied by pgxmock.PgxPoolIface for unit testing.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool pgxPool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"get_model":          `SELECT id, name, family, dataset_id, status, params, metrics, created_at FROM models WHERE id = $1`,
	"get_explanation":    `SELECT id, model_id, method, scope, contributions, base_value, probability, sample_size, cache_key, cache_hits, created_at FROM explanations WHERE id = $1`,
	"get_by_cache_key":   `SELECT id, model_id, method, scope, contributions, base_value, probability, sample_size, cache_key, cache_hits, created_at FROM explanations WHERE cache_key = $1`,
	"increment_hits":     `UPDATE explanations SET cache_hits = cache_hits + 1 WHERE id = $1`,
	"insert_explanation": `INSERT INTO explanations (id, model_id, method, scope, contributions, base_value, probability, sample_size, cache_key, cache_hits, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS models (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	family     TEXT NOT NULL,
	dataset_id TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'completed',
	params     JSONB NOT NULL,
	metrics    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS datasets (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	features   JSONB NOT NULL,
	rows       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS explanations (
	id            TEXT PRIMARY KEY,
	model_id      TEXT NOT NULL REFERENCES models(id),
	method        TEXT NOT NULL,
	scope         JSONB NOT NULL,
	contributions JSONB NOT NULL,
	base_value    DOUBLE PRECISION NOT NULL,
	probability   DOUBLE PRECISION,
	sample_size   INTEGER NOT NULL,
	cache_key     TEXT NOT NULL UNIQUE,
	cache_hits    BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_models_family ON models(family);
CREATE INDEX IF NOT EXISTS idx_models_status ON models(status);
CREATE INDEX IF NOT EXISTS idx_explanations_model_id ON explanations(model_id);
CREATE INDEX IF NOT EXISTS idx_explanations_cache_key ON explanations(cache_key);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateModel(ctx context.Context, m *model.Model) error {
	metricsJSON, err := json.Marshal(m.Metrics)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal metrics")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO models (id, name, family, dataset_id, status, params, metrics, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.Name, string(m.Family), m.DatasetID, string(m.Status),
		string(m.Params), string(metricsJSON), m.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert model %s", m.ID)
}

func (s *PostgresStore) GetModel(ctx context.Context, modelID string) (*model.Model, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, family, dataset_id, status, params, metrics, created_at FROM models WHERE id = $1`,
		modelID,
	)
	m, err := scanPgModel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: model %s", modelID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get model %s", modelID)
	}
	return m, nil
}

func (s *PostgresStore) ListModels(ctx context.Context, filter ModelFilter) ([]model.Model, error) {
	query := `SELECT id, name, family, dataset_id, status, params, metrics, created_at FROM models WHERE 1=1`
	var args []any
	arg := 0

	next := func() string {
		arg++
		return "$" + strconv.Itoa(arg)
	}
	if filter.Family != "" {
		query += ` AND family = ` + next()
		args = append(args, string(filter.Family))
	}
	if filter.Status != "" {
		query += ` AND status = ` + next()
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + next()
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ` + next()
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list models")
	}
	defer rows.Close()

	var models []model.Model
	for rows.Next() {
		m, err := scanPgModel(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan model")
		}
		models = append(models, *m)
	}
	return models, eris.Wrap(rows.Err(), "postgres: list models iterate")
}

func (s *PostgresStore) CreateDataset(ctx context.Context, d *model.Dataset) error {
	featuresJSON, err := json.Marshal(d.Features)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal features")
	}
	rowsJSON, err := json.Marshal(d.Rows)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal rows")
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO datasets (id, name, features, rows, created_at) VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.Name, string(featuresJSON), string(rowsJSON), d.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert dataset %s", d.ID)
}

func (s *PostgresStore) GetDataset(ctx context.Context, datasetID string) (*model.Dataset, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, features, rows, created_at FROM datasets WHERE id = $1`,
		datasetID,
	)

	var d model.Dataset
	var featuresJSON, rowsJSON string
	err := row.Scan(&d.ID, &d.Name, &featuresJSON, &rowsJSON, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: dataset %s", datasetID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get dataset %s", datasetID)
	}
	if err := json.Unmarshal([]byte(featuresJSON), &d.Features); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal features")
	}
	if err := json.Unmarshal([]byte(rowsJSON), &d.Rows); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal rows")
	}
	return &d, nil
}

func (s *PostgresStore) CreateExplanation(ctx context.Context, e *model.Explanation) error {
	scopeJSON, err := json.Marshal(e.Scope)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal scope")
	}
	contribJSON, err := json.Marshal(e.Contributions)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal contributions")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO explanations (id, model_id, method, scope, contributions, base_value, probability, sample_size, cache_key, cache_hits, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.ModelID, string(e.Method), string(scopeJSON), string(contribJSON),
		e.BaseValue, e.Probability, e.SampleSize, e.CacheKey, e.CacheHits, e.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert explanation %s", e.ID)
}

func (s *PostgresStore) GetExplanation(ctx context.Context, explanationID string) (*model.Explanation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, model_id, method, scope, contributions, base_value, probability, sample_size, cache_key, cache_hits, created_at FROM explanations WHERE id = $1`,
		explanationID,
	)
	e, err := scanPgExplanation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: explanation %s", explanationID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get explanation %s", explanationID)
	}
	return e, nil
}

func (s *PostgresStore) GetExplanationByCacheKey(ctx context.Context, cacheKey string) (*model.Explanation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, model_id, method, scope, contributions, base_value, probability, sample_size, cache_key, cache_hits, created_at FROM explanations WHERE cache_key = $1`,
		cacheKey,
	)
	e, err := scanPgExplanation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get explanation by cache key")
	}
	return e, nil
}

func (s *PostgresStore) ListExplanationsByModel(ctx context.Context, modelID string) ([]model.Explanation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, model_id, method, scope, contributions, base_value, probability, sample_size, cache_key, cache_hits, created_at
		 FROM explanations WHERE model_id = $1 ORDER BY created_at DESC`,
		modelID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list explanations for model %s", modelID)
	}
	defer rows.Close()

	var out []model.Explanation
	for rows.Next() {
		e, err := scanPgExplanation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan explanation")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list explanations iterate")
}

func (s *PostgresStore) IncrementCacheHits(ctx context.Context, explanationID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE explanations SET cache_hits = cache_hits + 1 WHERE id = $1`,
		explanationID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment cache hits %s", explanationID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "explanation %s", explanationID)
	}
	return nil
}

func scanPgModel(row pgx.Row) (*model.Model, error) {
	var m model.Model
	var family, status, params string
	var metricsJSON *string

	if err := row.Scan(&m.ID, &m.Name, &family, &m.DatasetID, &status, &params, &metricsJSON, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Family = model.ModelFamily(family)
	m.Status = model.ModelStatus(status)
	m.Params = json.RawMessage(params)
	if metricsJSON != nil && *metricsJSON != "" {
		if err := json.Unmarshal([]byte(*metricsJSON), &m.Metrics); err != nil {
			return nil, eris.Wrap(err, "unmarshal metrics")
		}
	}
	return &m, nil
}

func scanPgExplanation(row pgx.Row) (*model.Explanation, error) {
	var e model.Explanation
	var method, scopeJSON, contribJSON string

	if err := row.Scan(&e.ID, &e.ModelID, &method, &scopeJSON, &contribJSON,
		&e.BaseValue, &e.Probability, &e.SampleSize, &e.CacheKey, &e.CacheHits, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Method = model.Method(method)
	if err := json.Unmarshal([]byte(scopeJSON), &e.Scope); err != nil {
		return nil, eris.Wrap(err, "unmarshal scope")
	}
	if err := json.Unmarshal([]byte(contribJSON), &e.Contributions); err != nil {
		return nil, eris.Wrap(err, "unmarshal contributions")
	}
	return &e, nil
}
