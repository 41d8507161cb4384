package model

import (
	"encoding/json"
	"time"
)

// ModelFamily tags a trained model with the capability class that drives
// attribution strategy selection.
type ModelFamily string

const (
	// FamilyTree covers gradient-boosted and bagged tree ensembles.
	FamilyTree ModelFamily = "tree"
	// FamilyLinear covers logistic regression and other linear scorers.
	FamilyLinear ModelFamily = "linear"
	// FamilyBlackbox covers models we can only query through predictions.
	FamilyBlackbox ModelFamily = "blackbox"
)

// ModelStatus represents a model's lifecycle state.
type ModelStatus string

const (
	ModelStatusTraining  ModelStatus = "training"
	ModelStatusCompleted ModelStatus = "completed"
	ModelStatusFailed    ModelStatus = "failed"
)

// PerformanceMetrics holds evaluation metrics recorded at training time.
type PerformanceMetrics struct {
	AUCROC          float64 `json:"auc_roc" yaml:"auc_roc"`
	AUCPR           float64 `json:"auc_pr" yaml:"auc_pr"`
	F1Score         float64 `json:"f1_score" yaml:"f1_score"`
	Precision       float64 `json:"precision" yaml:"precision"`
	Recall          float64 `json:"recall" yaml:"recall"`
	Accuracy        float64 `json:"accuracy" yaml:"accuracy"`
	TrainingSeconds float64 `json:"training_time_seconds" yaml:"training_time_seconds"`
	ModelSizeMB     float64 `json:"model_size_mb" yaml:"model_size_mb"`
}

// Model is a trained risk classifier registered with the benchmark.
// Params carries the serialized predictor parameters (weights or trees);
// the explain package knows how to decode them per family.
type Model struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Family    ModelFamily         `json:"family"`
	DatasetID string              `json:"dataset_id"`
	Status    ModelStatus         `json:"status"`
	Params    json.RawMessage     `json:"params,omitempty"`
	Metrics   *PerformanceMetrics `json:"metrics,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

// Dataset is a sample matrix used as attribution background data.
// Rows are row-major: Rows[i][j] is the value of Features[j] for instance i.
type Dataset struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Features  []string    `json:"features"`
	Rows      [][]float64 `json:"rows"`
	CreatedAt time.Time   `json:"created_at"`
}
