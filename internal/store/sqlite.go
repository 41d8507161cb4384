package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/modelproof/xaibench/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS models (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	family     TEXT NOT NULL,
	dataset_id TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'completed',
	params     TEXT NOT NULL,
	metrics    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS datasets (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	features   TEXT NOT NULL,
	rows       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS explanations (
	id            TEXT PRIMARY KEY,
	model_id      TEXT NOT NULL REFERENCES models(id),
	method        TEXT NOT NULL,
	scope         TEXT NOT NULL,
	contributions TEXT NOT NULL,
	base_value    REAL NOT NULL,
	probability   REAL,
	sample_size   INTEGER NOT NULL,
	cache_key     TEXT NOT NULL,
	cache_hits    INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_models_family ON models(family);
CREATE INDEX IF NOT EXISTS idx_models_status ON models(status);
CREATE INDEX IF NOT EXISTS idx_explanations_model_id ON explanations(model_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_explanations_cache_key ON explanations(cache_key);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateModel(ctx context.Context, m *model.Model) error {
	metricsJSON, err := json.Marshal(m.Metrics)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal metrics")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO models (id, name, family, dataset_id, status, params, metrics, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, string(m.Family), m.DatasetID, string(m.Status),
		string(m.Params), string(metricsJSON), m.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert model %s", m.ID)
}

func (s *SQLiteStore) GetModel(ctx context.Context, modelID string) (*model.Model, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, family, dataset_id, status, params, metrics, created_at
		 FROM models WHERE id = ?`,
		modelID,
	)
	m, err := scanModel(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: model %s", modelID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get model %s", modelID)
	}
	return m, nil
}

func (s *SQLiteStore) ListModels(ctx context.Context, filter ModelFilter) ([]model.Model, error) {
	query := `SELECT id, name, family, dataset_id, status, params, metrics, created_at
		 FROM models WHERE 1=1`
	var args []any

	if filter.Family != "" {
		query += ` AND family = ?`
		args = append(args, string(filter.Family))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list models")
	}
	defer rows.Close()

	var models []model.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan model")
		}
		models = append(models, *m)
	}
	return models, eris.Wrap(rows.Err(), "sqlite: list models iterate")
}

func (s *SQLiteStore) CreateDataset(ctx context.Context, d *model.Dataset) error {
	featuresJSON, err := json.Marshal(d.Features)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal features")
	}
	rowsJSON, err := json.Marshal(d.Rows)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal rows")
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO datasets (id, name, features, rows, created_at) VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.Name, string(featuresJSON), string(rowsJSON), d.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert dataset %s", d.ID)
}

func (s *SQLiteStore) GetDataset(ctx context.Context, datasetID string) (*model.Dataset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, features, rows, created_at FROM datasets WHERE id = ?`,
		datasetID,
	)

	var d model.Dataset
	var featuresJSON, rowsJSON string
	err := row.Scan(&d.ID, &d.Name, &featuresJSON, &rowsJSON, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: dataset %s", datasetID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get dataset %s", datasetID)
	}
	if err := json.Unmarshal([]byte(featuresJSON), &d.Features); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal features")
	}
	if err := json.Unmarshal([]byte(rowsJSON), &d.Rows); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal rows")
	}
	return &d, nil
}

func (s *SQLiteStore) CreateExplanation(ctx context.Context, e *model.Explanation) error {
	scopeJSON, err := json.Marshal(e.Scope)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal scope")
	}
	contribJSON, err := json.Marshal(e.Contributions)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal contributions")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO explanations (id, model_id, method, scope, contributions, base_value,
		 probability, sample_size, cache_key, cache_hits, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ModelID, string(e.Method), string(scopeJSON), string(contribJSON),
		e.BaseValue, e.Probability, e.SampleSize, e.CacheKey, e.CacheHits, e.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert explanation %s", e.ID)
}

func (s *SQLiteStore) GetExplanation(ctx context.Context, explanationID string) (*model.Explanation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, model_id, method, scope, contributions, base_value, probability,
		 sample_size, cache_key, cache_hits, created_at
		 FROM explanations WHERE id = ?`,
		explanationID,
	)
	e, err := scanExplanation(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: explanation %s", explanationID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get explanation %s", explanationID)
	}
	return e, nil
}

func (s *SQLiteStore) GetExplanationByCacheKey(ctx context.Context, cacheKey string) (*model.Explanation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, model_id, method, scope, contributions, base_value, probability,
		 sample_size, cache_key, cache_hits, created_at
		 FROM explanations WHERE cache_key = ?`,
		cacheKey,
	)
	e, err := scanExplanation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get explanation by cache key")
	}
	return e, nil
}

func (s *SQLiteStore) ListExplanationsByModel(ctx context.Context, modelID string) ([]model.Explanation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, model_id, method, scope, contributions, base_value, probability,
		 sample_size, cache_key, cache_hits, created_at
		 FROM explanations WHERE model_id = ? ORDER BY created_at DESC`,
		modelID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list explanations for model %s", modelID)
	}
	defer rows.Close()

	var out []model.Explanation
	for rows.Next() {
		e, err := scanExplanation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan explanation")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list explanations iterate")
}

func (s *SQLiteStore) IncrementCacheHits(ctx context.Context, explanationID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE explanations SET cache_hits = cache_hits + 1 WHERE id = ?`,
		explanationID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment cache hits %s", explanationID)
	}
	return checkRowsAffected(res, "explanation", explanationID)
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanModel(row scanner) (*model.Model, error) {
	var m model.Model
	var family, status, params string
	var metricsJSON sql.NullString

	if err := row.Scan(&m.ID, &m.Name, &family, &m.DatasetID, &status, &params, &metricsJSON, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Family = model.ModelFamily(family)
	m.Status = model.ModelStatus(status)
	m.Params = json.RawMessage(params)
	if metricsJSON.Valid && metricsJSON.String != "" {
		if err := json.Unmarshal([]byte(metricsJSON.String), &m.Metrics); err != nil {
			return nil, eris.Wrap(err, "unmarshal metrics")
		}
	}
	return &m, nil
}

func scanExplanation(row scanner) (*model.Explanation, error) {
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

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
