package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/modelproof/xaibench/internal/jobs"
	"github.com/modelproof/xaibench/internal/model"
	"github.com/modelproof/xaibench/internal/quality"
	"github.com/modelproof/xaibench/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Job metrics (in-process, all states).
	JobsQueued    int     `json:"jobs_queued"`
	JobsRunning   int     `json:"jobs_running"`
	JobsCompleted int     `json:"jobs_completed"`
	JobsFailed    int     `json:"jobs_failed"`
	JobsCancelled int     `json:"jobs_cancelled"`
	JobFailRate   float64 `json:"job_fail_rate"`

	// Cache metrics.
	CacheHits    int64   `json:"cache_hits"`
	CacheHitRate float64 `json:"cache_hit_rate"`

	// Explanation artifacts created within the lookback window.
	ExplanationsTotal    int                      `json:"explanations_total"`
	ExplanationsByMethod map[model.Method]int     `json:"explanations_by_method"`
	QualityByMethod      map[model.Method]float64 `json:"quality_by_method,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// JobStatser abstracts the orchestrator's job accounting.
type JobStatser interface {
	Stats() jobs.Stats
}

// QualityScorer returns the overall quality score for an explanation
// artifact. Implementations may be expensive; the collector only invokes
// them for artifacts inside the lookback window.
type QualityScorer interface {
	Score(ctx context.Context, exp *model.Explanation) (float64, error)
}

// Collector gathers metrics from the orchestrator and the store.
type Collector struct {
	store  store.Store
	jobs   JobStatser
	scorer QualityScorer
}

// NewCollector creates a new metrics collector. scorer may be nil, in which
// case quality means are omitted from snapshots.
func NewCollector(st store.Store, js JobStatser, scorer QualityScorer) *Collector {
	return &Collector{store: st, jobs: js, scorer: scorer}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		ExplanationsByMethod: make(map[model.Method]int),
		LookbackHours:        lookbackHours,
		CollectedAt:          time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	// Job state counts from the orchestrator.
	if c.jobs != nil {
		stats := c.jobs.Stats()
		snap.JobsQueued = stats.Queued
		snap.JobsRunning = stats.Running
		snap.JobsCompleted = stats.Completed
		snap.JobsFailed = stats.Failed
		snap.JobsCancelled = stats.Cancelled
		snap.CacheHits = stats.CacheHits

		finished := stats.Completed + stats.Failed
		if finished > 0 {
			snap.JobFailRate = float64(stats.Failed) / float64(finished)
		}
		served := stats.CacheHits + int64(stats.Completed)
		if served > 0 {
			snap.CacheHitRate = float64(stats.CacheHits) / float64(served)
		}
	}

	// Explanation artifacts within the window, grouped by method.
	models, err := c.store.ListModels(ctx, store.ModelFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list models")
	}

	qualitySums := make(map[model.Method]float64)
	qualityCounts := make(map[model.Method]int)

	for _, m := range models {
		exps, err := c.store.ListExplanationsByModel(ctx, m.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: list explanations for model %s", m.ID)
		}
		for i := range exps {
			exp := &exps[i]
			if exp.CreatedAt.Before(cutoff) {
				continue
			}
			snap.ExplanationsTotal++
			snap.ExplanationsByMethod[exp.Method]++

			if c.scorer == nil {
				continue
			}
			score, err := c.scorer.Score(ctx, exp)
			if err != nil {
				// A single unscorable artifact must not fail the whole
				// snapshot; it is simply excluded from the mean.
				continue
			}
			qualitySums[exp.Method] += score
			qualityCounts[exp.Method]++
		}
	}

	if len(qualityCounts) > 0 {
		snap.QualityByMethod = make(map[model.Method]float64, len(qualityCounts))
		for method, n := range qualityCounts {
			snap.QualityByMethod[method] = qualitySums[method] / float64(n)
		}
	}

	return snap, nil
}

// EvaluatorScorer adapts the quality evaluator to the QualityScorer
// interface, resolving the model and dataset for each artifact.
type EvaluatorScorer struct {
	store     store.Store
	evaluator *quality.Evaluator
}

// NewEvaluatorScorer creates a QualityScorer backed by the quality evaluator.
func NewEvaluatorScorer(st store.Store, evaluator *quality.Evaluator) *EvaluatorScorer {
	return &EvaluatorScorer{store: st, evaluator: evaluator}
}

// Score computes the overall quality score for the given artifact.
func (s *EvaluatorScorer) Score(ctx context.Context, exp *model.Explanation) (float64, error) {
	m, err := s.store.GetModel(ctx, exp.ModelID)
	if err != nil {
		return 0, eris.Wrapf(err, "monitoring: get model %s", exp.ModelID)
	}
	ds, err := s.store.GetDataset(ctx, m.DatasetID)
	if err != nil {
		return 0, eris.Wrapf(err, "monitoring: get dataset %s", m.DatasetID)
	}
	metrics, err := s.evaluator.Evaluate(ctx, m, ds, exp)
	if err != nil {
		return 0, eris.Wrap(err, "monitoring: evaluate quality")
	}
	return metrics.OverallQuality, nil
}
