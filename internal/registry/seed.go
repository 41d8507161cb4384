package registry

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/modelproof/xaibench/internal/store"
)

// SeedResult summarizes what a Seed call persisted.
type SeedResult struct {
	DatasetID      string
	DatasetSkipped bool
	ModelsCreated  []string
	ModelsSkipped  []string
}

// Seed persists the fixture's dataset and models. Existing entities are
// left untouched and reported as skipped, so seeding is safe to repeat.
func Seed(ctx context.Context, st store.Store, fix *Fixture) (*SeedResult, error) {
	if err := fix.Validate(); err != nil {
		return nil, err
	}

	res := &SeedResult{DatasetID: fix.Dataset.ID}
	log := zap.L().With(zap.String("component", "registry"))

	_, err := st.GetDataset(ctx, fix.Dataset.ID)
	switch {
	case err == nil:
		res.DatasetSkipped = true
		log.Info("seed: dataset already present", zap.String("dataset_id", fix.Dataset.ID))
	case errors.Is(err, store.ErrNotFound):
		ds := fix.Dataset.Materialize()
		if err := st.CreateDataset(ctx, ds); err != nil {
			return nil, eris.Wrapf(err, "registry: seed dataset %s", ds.ID)
		}
		log.Info("seed: dataset created",
			zap.String("dataset_id", ds.ID),
			zap.Int("rows", len(ds.Rows)),
			zap.Int("features", len(ds.Features)),
		)
	default:
		return nil, eris.Wrapf(err, "registry: check dataset %s", fix.Dataset.ID)
	}

	for i := range fix.Models {
		mf := &fix.Models[i]

		_, err := st.GetModel(ctx, mf.ID)
		switch {
		case err == nil:
			res.ModelsSkipped = append(res.ModelsSkipped, mf.ID)
			log.Info("seed: model already present", zap.String("model_id", mf.ID))
			continue
		case errors.Is(err, store.ErrNotFound):
		default:
			return nil, eris.Wrapf(err, "registry: check model %s", mf.ID)
		}

		m, err := mf.Model(fix.Dataset.ID)
		if err != nil {
			return nil, err
		}
		if err := st.CreateModel(ctx, m); err != nil {
			return nil, eris.Wrapf(err, "registry: seed model %s", m.ID)
		}
		res.ModelsCreated = append(res.ModelsCreated, m.ID)
		log.Info("seed: model created",
			zap.String("model_id", m.ID),
			zap.String("family", string(m.Family)),
		)
	}

	return res, nil
}
