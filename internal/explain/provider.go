package explain

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"

	"github.com/modelproof/xaibench/internal/model"
)

// Checkpoint is the cooperative cancellation hook. Providers call it at
// safe points (between instances, between permutation rounds) and abort
// with its error when the owning job has been cancelled.
type Checkpoint func() error

// Request carries everything a provider needs for one attribution run.
// Seed fixes the sampling RNG so identical requests produce identical
// artifacts.
type Request struct {
	Model      *model.Model
	Dataset    *model.Dataset
	Scope      model.Scope
	Config     model.JobConfig
	Seed       uint64
	Checkpoint Checkpoint
}

// Result is the raw attribution output before it becomes an Explanation.
type Result struct {
	Contributions map[string]float64
	BaseValue     float64
	Probability   float64
	SampleSize    int
}

// Provider computes per-feature contributions for a model over a sample
// matrix. Implementations must be deterministic for a fixed seed and
// sample size.
type Provider interface {
	Method() model.Method
	Explain(ctx context.Context, req Request) (*Result, error)
}

// ForModel selects the attribution strategy for a (method, family) pair.
// Tree ensembles get exact path attribution for shap; everything else
// falls back to the sampling estimator. lime is always model-agnostic.
func ForModel(method model.Method, family model.ModelFamily) (Provider, error) {
	switch method {
	case model.MethodSHAP:
		if family == model.FamilyTree {
			return &treePathProvider{}, nil
		}
		if family == model.FamilyLinear || family == model.FamilyBlackbox {
			return &samplingShapProvider{}, nil
		}
	case model.MethodLIME:
		if family == model.FamilyTree || family == model.FamilyLinear || family == model.FamilyBlackbox {
			return &surrogateProvider{}, nil
		}
	}
	return nil, eris.Wrapf(ErrUnsupportedMethod, "method=%s family=%s", method, family)
}

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// sampleIndices draws up to n distinct row indices without replacement.
func sampleIndices(rng *rand.Rand, total, n int) []int {
	if n >= total {
		idx := make([]int, total)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	perm := rng.Perm(total)
	return perm[:n]
}

// instancesFor resolves the rows a request explains: the single indexed
// row for local scope, a seeded sample for global scope.
func instancesFor(req Request, rng *rand.Rand) ([][]float64, error) {
	rows := req.Dataset.Rows
	if req.Scope.Kind == model.ScopeLocal {
		if req.Scope.Instance < 0 || req.Scope.Instance >= len(rows) {
			return nil, eris.Wrapf(ErrInstanceOutOfRange, "index %d, matrix has %d rows", req.Scope.Instance, len(rows))
		}
		return [][]float64{rows[req.Scope.Instance]}, nil
	}
	n := req.Config.SampleSize
	if n <= 0 {
		n = len(rows)
	}
	picked := sampleIndices(rng, len(rows), n)
	out := make([][]float64, len(picked))
	for i, p := range picked {
		out[i] = rows[p]
	}
	return out, nil
}

// featureStats returns per-column mean and standard deviation of the
// sample matrix.
func featureStats(rows [][]float64, cols int) (mean, std []float64) {
	mean = make([]float64, cols)
	std = make([]float64, cols)
	if len(rows) == 0 {
		return mean, std
	}
	for _, r := range rows {
		for j := 0; j < cols && j < len(r); j++ {
			mean[j] += r[j]
		}
	}
	for j := range mean {
		mean[j] /= float64(len(rows))
	}
	for _, r := range rows {
		for j := 0; j < cols && j < len(r); j++ {
			d := r[j] - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / float64(len(rows)))
	}
	return mean, std
}

// meanPrediction is the base value: expected model output over the sample.
func meanPrediction(p Predictor, rows [][]float64) float64 {
	if len(rows) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rows {
		sum += p.Predict(r)
	}
	return sum / float64(len(rows))
}

// contributionsToMap binds a contribution vector to feature names.
func contributionsToMap(features []string, vals []float64) map[string]float64 {
	out := make(map[string]float64, len(features))
	for i, f := range features {
		if i < len(vals) {
			out[f] = vals[i]
		}
	}
	return out
}
