// Package leaderboard builds a read-only ranking of registered models that
// blends predictive performance with explanation quality. The projection is
// recomputed on every fetch and never persisted.
package leaderboard

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/modelproof/xaibench/internal/model"
	"github.com/modelproof/xaibench/internal/quality"
	"github.com/modelproof/xaibench/internal/store"
)

const (
	weightPerformance = 0.6
	weightQuality     = 0.4
)

// Builder assembles leaderboard entries from the store.
type Builder struct {
	store     store.Store
	evaluator *quality.Evaluator
	log       *zap.Logger
	limit     int
}

// Option configures the Builder.
type Option func(*Builder)

// WithLogger sets the logger. Defaults to zap.L().
func WithLogger(log *zap.Logger) Option {
	return func(b *Builder) { b.log = log }
}

// WithLimit caps the number of returned entries.
func WithLimit(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.limit = n
		}
	}
}

// New creates a Builder.
func New(st store.Store, evaluator *quality.Evaluator, opts ...Option) *Builder {
	b := &Builder{
		store:     st,
		evaluator: evaluator,
		log:       zap.L(),
		limit:     50,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build ranks all registered models by a blend of AUC-ROC and the mean of
// each model's best per-method explanation quality. Models without any
// completed explanation rank on performance alone.
func (b *Builder) Build(ctx context.Context) ([]model.LeaderboardEntry, error) {
	models, err := b.store.ListModels(ctx, store.ModelFilter{Limit: b.limit})
	if err != nil {
		return nil, eris.Wrap(err, "leaderboard: list models")
	}

	entries := make([]model.LeaderboardEntry, 0, len(models))
	for i := range models {
		m := &models[i]
		entry := model.LeaderboardEntry{
			ModelID:       m.ID,
			ModelName:     m.Name,
			Family:        m.Family,
			MethodQuality: map[model.Method]float64{},
		}
		if m.Metrics != nil {
			entry.AUCROC = m.Metrics.AUCROC
			entry.F1Score = m.Metrics.F1Score
		}

		if err := b.fillQuality(ctx, m, &entry); err != nil {
			b.log.Warn("leaderboard: quality evaluation failed, ranking on performance only",
				zap.String("model_id", m.ID), zap.Error(err))
		}

		entry.Composite = composite(entry.AUCROC, entry.MethodQuality)
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Composite != entries[j].Composite {
			return entries[i].Composite > entries[j].Composite
		}
		return entries[i].ModelID < entries[j].ModelID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// fillQuality records the best overall quality per attribution method.
func (b *Builder) fillQuality(ctx context.Context, m *model.Model, entry *model.LeaderboardEntry) error {
	explanations, err := b.store.ListExplanationsByModel(ctx, m.ID)
	if err != nil {
		return eris.Wrapf(err, "leaderboard: list explanations %s", m.ID)
	}
	if len(explanations) == 0 {
		return nil
	}

	ds, err := b.store.GetDataset(ctx, m.DatasetID)
	if err != nil {
		return eris.Wrapf(err, "leaderboard: load dataset %s", m.DatasetID)
	}

	for i := range explanations {
		exp := &explanations[i]
		q, err := b.evaluator.Evaluate(ctx, m, ds, exp)
		if err != nil {
			b.log.Warn("leaderboard: skipping unscorable explanation",
				zap.String("explanation_id", exp.ID), zap.Error(err))
			continue
		}
		if best, ok := entry.MethodQuality[exp.Method]; !ok || q.OverallQuality > best {
			entry.MethodQuality[exp.Method] = q.OverallQuality
		}
	}
	return nil
}

// composite blends performance with mean per-method quality. Without any
// scored explanation only the performance term contributes.
func composite(aucROC float64, methodQuality map[model.Method]float64) float64 {
	if len(methodQuality) == 0 {
		return weightPerformance * aucROC
	}
	sum := 0.0
	for _, q := range methodQuality {
		sum += q
	}
	meanQuality := sum / float64(len(methodQuality))
	return weightPerformance*aucROC + weightQuality*meanQuality
}
