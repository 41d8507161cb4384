package explain

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"

	"github.com/modelproof/xaibench/internal/model"
)

const (
	defaultPerturbations = 200
	defaultKernelWidth   = 0.75
	ridgeLambda          = 1e-3
)

// surrogateProvider fits a locally-weighted linear model around each
// explained instance: perturb, predict, weight by proximity, solve ridge
// least squares. The surrogate's coefficients are the contributions.
type surrogateProvider struct{}

func (surrogateProvider) Method() model.Method { return model.MethodLIME }

func (surrogateProvider) Explain(ctx context.Context, req Request) (*Result, error) {
	pred, err := NewPredictor(req.Model, req.Dataset.Features)
	if err != nil {
		return nil, err
	}

	rng := newRNG(req.Seed)
	instances, err := instancesFor(req, rng)
	if err != nil {
		return nil, err
	}

	nf := len(req.Dataset.Features)
	_, std := featureStats(req.Dataset.Rows, nf)
	for j := range std {
		if std[j] == 0 {
			std[j] = 1
		}
	}

	perturbs := req.Config.Perturbations
	if perturbs <= 0 {
		perturbs = defaultPerturbations
	}
	if perturbs <= nf {
		return nil, eris.Errorf("explain: %d perturbations cannot fit %d features", perturbs, nf)
	}
	kernel := req.Config.KernelWidth
	if kernel <= 0 {
		kernel = defaultKernelWidth * math.Sqrt(float64(nf))
	}

	acc := make([]float64, nf)
	for _, inst := range instances {
		if err := checkpoint(ctx, req.Checkpoint); err != nil {
			return nil, err
		}
		coefs, err := fitLocalSurrogate(pred, inst, std, perturbs, kernel, rng)
		if err != nil {
			return nil, err
		}
		for j := range acc {
			acc[j] += coefs[j]
		}
	}
	for j := range acc {
		acc[j] /= float64(len(instances))
	}

	res := &Result{
		Contributions: contributionsToMap(req.Dataset.Features, acc),
		BaseValue:     meanPrediction(pred, req.Dataset.Rows),
		SampleSize:    len(instances),
	}
	if req.Scope.Kind == model.ScopeLocal {
		res.Probability = pred.Predict(instances[0])
	}
	return res, nil
}

// fitLocalSurrogate draws Gaussian perturbations around x (scaled by each
// feature's std), weights them with an RBF kernel on standardized distance,
// and solves the weighted ridge system for the surrogate coefficients.
func fitLocalSurrogate(pred Predictor, x, std []float64, n int, kernel float64, rng *rand.Rand) ([]float64, error) {
	nf := len(std)
	deltas := make([][]float64, n)
	weights := make([]float64, n)
	targets := make([]float64, n)

	row := make([]float64, nf)
	for k := 0; k < n; k++ {
		d := make([]float64, nf)
		var dist2 float64
		for j := 0; j < nf; j++ {
			d[j] = rng.NormFloat64() // standardized offset
			dist2 += d[j] * d[j]
		}
		clear(row)
		copy(row, x)
		for j := 0; j < nf && j < len(x); j++ {
			row[j] = x[j] + d[j]*std[j]
		}
		deltas[k] = d
		weights[k] = math.Exp(-dist2 / (kernel * kernel))
		targets[k] = pred.Predict(row)
	}

	// Normal equations: (DᵀWD + λI) β = DᵀW y.
	a := make([][]float64, nf)
	b := make([]float64, nf)
	for i := range a {
		a[i] = make([]float64, nf)
	}
	for k := 0; k < n; k++ {
		w := weights[k]
		for i := 0; i < nf; i++ {
			wi := w * deltas[k][i]
			b[i] += wi * targets[k]
			for j := i; j < nf; j++ {
				a[i][j] += wi * deltas[k][j]
			}
		}
	}
	for i := 0; i < nf; i++ {
		a[i][i] += ridgeLambda
		for j := 0; j < i; j++ {
			a[i][j] = a[j][i]
		}
	}

	coefs, ok := solveLinearSystem(a, b)
	if !ok {
		return nil, eris.New("explain: singular surrogate system")
	}
	return coefs, nil
}

// solveLinearSystem performs Gaussian elimination with partial pivoting.
func solveLinearSystem(a [][]float64, b []float64) ([]float64, bool) {
	n := len(b)
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < n; r++ {
			f := a[r][col] / a[col][col]
			for c := col; c < n; c++ {
				a[r][c] -= f * a[col][c]
			}
			b[r] -= f * b[col]
		}
	}
	x := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		sum := b[r]
		for c := r + 1; c < n; c++ {
			sum -= a[r][c] * x[c]
		}
		x[r] = sum / a[r][r]
	}
	return x, true
}
