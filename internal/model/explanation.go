package model

import "time"

// Method identifies an attribution method.
type Method string

const (
	// MethodSHAP uses exact tree-path attribution for tree ensembles and a
	// sampling-based Shapley estimate for everything else.
	MethodSHAP Method = "shap"
	// MethodLIME fits a locally-weighted linear surrogate; always
	// model-agnostic.
	MethodLIME Method = "lime"
)

// ScopeKind distinguishes population-level from instance-level explanations.
type ScopeKind string

const (
	ScopeGlobal ScopeKind = "global"
	ScopeLocal  ScopeKind = "local"
)

// Scope describes what an explanation covers. Instance is only meaningful
// for local scope and indexes into the dataset's sample matrix.
type Scope struct {
	Kind     ScopeKind `json:"kind"`
	Instance int       `json:"instance,omitempty"`
}

// JobConfig holds the attribution configuration. CheckAdditivity is a
// diagnostic flag that does not affect the computed contributions and is
// therefore excluded from the cache key.
type JobConfig struct {
	SampleSize      int     `json:"sample_size"`
	Permutations    int     `json:"permutations,omitempty"`
	Perturbations   int     `json:"perturbations,omitempty"`
	KernelWidth     float64 `json:"kernel_width,omitempty"`
	CheckAdditivity bool    `json:"check_additivity,omitempty"`
}

// JobState is the lifecycle state of an explanation job.
//
// queued → running → {completed, failed}; queued|running → cancelled.
// Terminal states are final.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

// JobError is the structured error carried by a failed job. Class matches
// the error taxonomy (model_not_found, attribution_failed, ...).
type JobError struct {
	Class   string `json:"class"`
	Message string `json:"message"`
}

// ExplanationJob is the pollable handle for an attribution request.
type ExplanationJob struct {
	ID            string     `json:"id"`
	ModelID       string     `json:"model_id"`
	Method        Method     `json:"method"`
	Scope         Scope      `json:"scope"`
	Config        JobConfig  `json:"config"`
	State         JobState   `json:"state"`
	Progress      float64    `json:"progress"`
	CacheKey      string     `json:"cache_key"`
	ExplanationID string     `json:"explanation_id,omitempty"`
	Error         *JobError  `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Explanation is the computed attribution artifact. Immutable once created;
// CacheHits is the only field mutated afterwards, and only through the cache.
type Explanation struct {
	ID            string             `json:"id"`
	ModelID       string             `json:"model_id"`
	Method        Method             `json:"method"`
	Scope         Scope              `json:"scope"`
	Contributions map[string]float64 `json:"contributions"`
	BaseValue     float64            `json:"base_value"`
	Probability   float64            `json:"probability,omitempty"`
	SampleSize    int                `json:"sample_size"`
	CacheKey      string             `json:"cache_key"`
	CacheHits     int64              `json:"cache_hits"`
	CreatedAt     time.Time          `json:"created_at"`
}
