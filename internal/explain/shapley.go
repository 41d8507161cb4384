package explain

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/modelproof/xaibench/internal/model"
)

const defaultPermutations = 16

// treePathProvider attributes margin changes along each tree's decision
// path. Exact and fast, but only applicable to tree ensembles whose
// internal nodes carry expected values.
type treePathProvider struct{}

func (treePathProvider) Method() model.Method { return model.MethodSHAP }

func (treePathProvider) Explain(ctx context.Context, req Request) (*Result, error) {
	ens, err := decodeEnsemble(req.Model.Params)
	if err != nil {
		return nil, err
	}

	rng := newRNG(req.Seed)
	instances, err := instancesFor(req, rng)
	if err != nil {
		return nil, err
	}

	nf := len(req.Dataset.Features)
	acc := make([]float64, nf)
	row := make([]float64, nf)

	for _, inst := range instances {
		if err := checkpoint(ctx, req.Checkpoint); err != nil {
			return nil, err
		}
		clear(row)
		copy(row, inst)
		ens.pathContributions(row, acc)
	}
	n := float64(len(instances))
	for j := range acc {
		acc[j] /= n
	}

	res := &Result{
		Contributions: contributionsToMap(req.Dataset.Features, acc),
		BaseValue:     meanPrediction(ens, req.Dataset.Rows),
		SampleSize:    len(instances),
	}
	if req.Scope.Kind == model.ScopeLocal {
		res.Probability = ens.Predict(instances[0])
	}
	return res, nil
}

// samplingShapProvider estimates Shapley values by Monte-Carlo permutation
// sampling against background rows drawn from the dataset. Model-agnostic;
// used when shap is requested for non-tree families.
type samplingShapProvider struct{}

func (samplingShapProvider) Method() model.Method { return model.MethodSHAP }

func (samplingShapProvider) Explain(ctx context.Context, req Request) (*Result, error) {
	pred, err := NewPredictor(req.Model, req.Dataset.Features)
	if err != nil {
		return nil, err
	}

	rng := newRNG(req.Seed)
	instances, err := instancesFor(req, rng)
	if err != nil {
		return nil, err
	}

	perms := req.Config.Permutations
	if perms <= 0 {
		perms = defaultPermutations
	}
	nf := len(req.Dataset.Features)
	background := req.Dataset.Rows
	if len(background) == 0 {
		return nil, eris.New("explain: empty sample matrix")
	}

	acc := make([]float64, nf)
	z := make([]float64, nf)

	for _, inst := range instances {
		if err := checkpoint(ctx, req.Checkpoint); err != nil {
			return nil, err
		}
		for p := 0; p < perms; p++ {
			bg := background[rng.IntN(len(background))]
			clear(z)
			copy(z, bg)
			prev := pred.Predict(z)
			for _, f := range rng.Perm(nf) {
				if f < len(inst) {
					z[f] = inst[f]
				}
				cur := pred.Predict(z)
				acc[f] += cur - prev
				prev = cur
			}
		}
	}

	total := float64(len(instances) * perms)
	for j := range acc {
		acc[j] /= total
	}

	res := &Result{
		Contributions: contributionsToMap(req.Dataset.Features, acc),
		BaseValue:     meanPrediction(pred, background),
		SampleSize:    len(instances),
	}
	if req.Scope.Kind == model.ScopeLocal {
		res.Probability = pred.Predict(instances[0])
	}
	return res, nil
}

func checkpoint(ctx context.Context, cp Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cp != nil {
		return cp()
	}
	return nil
}
