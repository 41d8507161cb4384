package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/modelproof/xaibench/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = eris.New("store: not found")

// ModelFilter specifies criteria for listing registered models.
type ModelFilter struct {
	Family model.ModelFamily `json:"family,omitempty"`
	Status model.ModelStatus `json:"status,omitempty"`
	Limit  int               `json:"limit,omitempty"`
	Offset int               `json:"offset,omitempty"`
}

// Store defines the persistence interface for the benchmarking service.
type Store interface {
	// Models
	CreateModel(ctx context.Context, m *model.Model) error
	GetModel(ctx context.Context, modelID string) (*model.Model, error)
	ListModels(ctx context.Context, filter ModelFilter) ([]model.Model, error)

	// Datasets
	CreateDataset(ctx context.Context, d *model.Dataset) error
	GetDataset(ctx context.Context, datasetID string) (*model.Dataset, error)

	// Explanations
	CreateExplanation(ctx context.Context, e *model.Explanation) error
	GetExplanation(ctx context.Context, explanationID string) (*model.Explanation, error)
	GetExplanationByCacheKey(ctx context.Context, cacheKey string) (*model.Explanation, error)
	ListExplanationsByModel(ctx context.Context, modelID string) ([]model.Explanation, error)
	IncrementCacheHits(ctx context.Context, explanationID string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
