// Package quality evaluates explanation artifacts along three dimensions:
// faithfulness (does removing important features move the model output the
// way the attribution says it should), robustness (does the attribution
// survive input noise), and complexity (is the attribution mass concentrated
// enough to read). Scores are recomputed on demand; they are cheap relative
// to attribution and never cached.
package quality

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/modelproof/xaibench/internal/cache"
	"github.com/modelproof/xaibench/internal/explain"
	"github.com/modelproof/xaibench/internal/model"
)

const (
	defaultRounds  = 10
	defaultEpsilon = 0.05
	maxRemovals    = 5

	// outputDelta below this counts a removal step as "no measurable
	// change" and excludes it from the faithfulness ratio.
	outputDelta = 1e-9

	weightFaithfulness = 0.4
	weightRobustness   = 0.3
	weightComplexity   = 0.3

	// effectiveMassShare is the attribution mass the top-k features must
	// cover to count as the effective feature set.
	effectiveMassShare = 0.9
)

// Evaluator computes quality metrics for completed explanations.
type Evaluator struct {
	rounds  int
	epsilon float64
	log     *zap.Logger
}

// Option configures the Evaluator.
type Option func(*Evaluator)

// WithRounds sets the number of robustness perturbation rounds.
func WithRounds(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.rounds = n
		}
	}
}

// WithEpsilon sets the perturbation scale as a fraction of per-feature std.
func WithEpsilon(eps float64) Option {
	return func(e *Evaluator) {
		if eps > 0 {
			e.epsilon = eps
		}
	}
}

// WithLogger sets the logger. Defaults to zap.L().
func WithLogger(log *zap.Logger) Option {
	return func(e *Evaluator) { e.log = log }
}

// NewEvaluator creates an Evaluator with the given options.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		rounds:  defaultRounds,
		epsilon: defaultEpsilon,
		log:     zap.L(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate scores one explanation against its live model and dataset.
func (e *Evaluator) Evaluate(ctx context.Context, m *model.Model, ds *model.Dataset, exp *model.Explanation) (*model.QualityMetrics, error) {
	pred, err := explain.NewPredictor(m, ds.Features)
	if err != nil {
		return nil, eris.Wrap(err, "quality: build predictor")
	}

	rows, err := evaluationRows(ds, exp)
	if err != nil {
		return nil, err
	}

	faith := e.faithfulness(pred, ds.Features, rows, exp.Contributions)

	robust, err := e.robustness(ctx, m, ds, exp)
	if err != nil {
		return nil, err
	}

	complexity := e.complexity(exp.Contributions)

	overall := weightFaithfulness*faith.Score +
		weightRobustness*robust.Score +
		weightComplexity*complexity.Score
	overall = math.Max(0, math.Min(1, overall))

	e.log.Debug("quality: evaluated",
		zap.String("explanation_id", exp.ID),
		zap.Float64("faithfulness", faith.Score),
		zap.Float64("robustness", robust.Score),
		zap.Float64("complexity", complexity.Score),
		zap.Float64("overall", overall))

	return &model.QualityMetrics{
		ExplanationID:  exp.ID,
		Faithfulness:   faith,
		Robustness:     robust,
		Complexity:     complexity,
		OverallQuality: overall,
		SampleSize:     len(rows),
	}, nil
}

// faithfulness zeroes out the top-|contribution| features one at a time and
// scores the fraction of removals that move the mean output in the direction
// the attribution predicts. Removals with no measurable output change are
// excluded; with no scorable step the result is the indifferent 0.5.
func (e *Evaluator) faithfulness(pred explain.Predictor, features []string, rows [][]float64, contributions map[string]float64) model.FaithfulnessScore {
	ranked := rankByMagnitude(contributions)
	if len(ranked) > maxRemovals {
		ranked = ranked[:maxRemovals]
	}

	featureIdx := make(map[string]int, len(features))
	for i, name := range features {
		featureIdx[name] = i
	}

	base := meanOutput(pred, rows)

	var favorable, counted, excluded int
	for _, name := range ranked {
		col, ok := featureIdx[name]
		if !ok {
			continue
		}
		perturbed := withColumnSet(rows, col, 0)
		delta := base - meanOutput(pred, perturbed)

		if math.Abs(delta) < outputDelta {
			excluded++
			continue
		}
		counted++
		// Removing a positive contributor should lower the output;
		// removing a negative one should raise it.
		if (contributions[name] > 0) == (delta > 0) {
			favorable++
		}
	}

	score := 0.5
	if counted > 0 {
		score = float64(favorable) / float64(counted)
	}
	return model.FaithfulnessScore{Score: score, Steps: counted, Excluded: excluded}
}

// robustness re-explains the same request against noise-perturbed copies of
// the dataset and reports 1/(1+mean pairwise distance) between the resulting
// attribution vectors. A single round is degenerate and short-circuits to a
// perfect score. Any failed round discards the metric.
func (e *Evaluator) robustness(ctx context.Context, m *model.Model, ds *model.Dataset, exp *model.Explanation) (model.RobustnessScore, error) {
	if e.rounds <= 1 {
		return model.RobustnessScore{Score: 1.0, Std: 0.0, Rounds: e.rounds}, nil
	}

	provider, err := explain.ForModel(exp.Method, m.Family)
	if err != nil {
		return model.RobustnessScore{}, eris.Wrap(err, "quality: robustness provider")
	}

	seed := cache.Seed(exp.CacheKey)
	rng := rand.New(rand.NewPCG(seed, seed^0xa5a5a5a5a5a5a5a5))
	_, std := featureSpread(ds.Rows, len(ds.Features))

	cfg := model.JobConfig{
		SampleSize:    exp.SampleSize,
		Perturbations: 0,
	}

	vectors := make([][]float64, 0, e.rounds)
	for round := 0; round < e.rounds; round++ {
		noisy := &model.Dataset{
			ID:       ds.ID,
			Name:     ds.Name,
			Features: ds.Features,
			Rows:     perturbRows(ds.Rows, std, e.epsilon, rng),
		}

		res, err := provider.Explain(ctx, explain.Request{
			Model:   m,
			Dataset: noisy,
			Scope:   exp.Scope,
			Config:  cfg,
			Seed:    seed,
		})
		if err != nil {
			return model.RobustnessScore{}, eris.Wrapf(err, "quality: robustness round %d", round)
		}
		vectors = append(vectors, vectorize(ds.Features, res.Contributions))
	}

	distances := pairwiseDistances(vectors)
	meanDist := mean(distances)
	score := 1.0 / (1.0 + meanDist)

	return model.RobustnessScore{
		Score:  score,
		Std:    stddev(distances, meanDist),
		Rounds: e.rounds,
	}, nil
}

// complexity scores the concentration of attribution mass: the Gini
// coefficient of |contribution| plus a sparsity term from the effective
// feature count (smallest k whose top-k mass reaches 90%).
func (e *Evaluator) complexity(contributions map[string]float64) model.ComplexityScore {
	mags := make([]float64, 0, len(contributions))
	for _, v := range contributions {
		mags = append(mags, math.Abs(v))
	}
	if len(mags) == 0 {
		return model.ComplexityScore{}
	}
	sort.Float64s(mags)

	total := 0.0
	for _, v := range mags {
		total += v
	}

	gini := 0.0
	if total > 0 {
		n := float64(len(mags))
		weighted := 0.0
		for i, v := range mags {
			weighted += float64(i+1) * v
		}
		gini = (2*weighted)/(n*total) - (n+1)/n
	}

	effective := len(mags)
	if total > 0 {
		cum := 0.0
		for i := len(mags) - 1; i >= 0; i-- {
			cum += mags[i]
			if cum >= effectiveMassShare*total {
				effective = len(mags) - i
				break
			}
		}
	}

	sparsity := 1.0 - float64(effective)/float64(len(mags))
	score := 0.5*gini + 0.5*sparsity
	score = math.Max(0, math.Min(1, score))

	return model.ComplexityScore{
		Score:             score,
		Gini:              gini,
		EffectiveFeatures: effective,
		Sparsity:          sparsity,
	}
}

// evaluationRows picks the rows faithfulness runs against: the single
// instance for local scope, the leading sample otherwise.
func evaluationRows(ds *model.Dataset, exp *model.Explanation) ([][]float64, error) {
	if exp.Scope.Kind == model.ScopeLocal {
		if exp.Scope.Instance < 0 || exp.Scope.Instance >= len(ds.Rows) {
			return nil, eris.Wrapf(explain.ErrInstanceOutOfRange,
				"quality: instance %d of %d rows", exp.Scope.Instance, len(ds.Rows))
		}
		return [][]float64{ds.Rows[exp.Scope.Instance]}, nil
	}

	n := exp.SampleSize
	if n <= 0 || n > len(ds.Rows) {
		n = len(ds.Rows)
	}
	return ds.Rows[:n], nil
}

func rankByMagnitude(contributions map[string]float64) []string {
	names := make([]string, 0, len(contributions))
	for name := range contributions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		mi, mj := math.Abs(contributions[names[i]]), math.Abs(contributions[names[j]])
		if mi != mj {
			return mi > mj
		}
		return names[i] < names[j]
	})
	return names
}

func meanOutput(pred explain.Predictor, rows [][]float64) float64 {
	if len(rows) == 0 {
		return 0
	}
	sum := 0.0
	for _, row := range rows {
		sum += pred.Predict(row)
	}
	return sum / float64(len(rows))
}

func columnMeans(rows [][]float64, cols int) []float64 {
	means := make([]float64, cols)
	if len(rows) == 0 {
		return means
	}
	for _, row := range rows {
		for c := 0; c < cols && c < len(row); c++ {
			means[c] += row[c]
		}
	}
	for c := range means {
		means[c] /= float64(len(rows))
	}
	return means
}

func withColumnSet(rows [][]float64, col int, value float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		cp := make([]float64, len(row))
		copy(cp, row)
		if col < len(cp) {
			cp[col] = value
		}
		out[i] = cp
	}
	return out
}

func featureSpread(rows [][]float64, cols int) (mean, std []float64) {
	mean = columnMeans(rows, cols)
	std = make([]float64, cols)
	if len(rows) < 2 {
		for c := range std {
			std[c] = 1
		}
		return mean, std
	}
	for _, row := range rows {
		for c := 0; c < cols && c < len(row); c++ {
			d := row[c] - mean[c]
			std[c] += d * d
		}
	}
	for c := range std {
		std[c] = math.Sqrt(std[c] / float64(len(rows)-1))
		if std[c] == 0 {
			std[c] = 1
		}
	}
	return mean, std
}

func perturbRows(rows [][]float64, std []float64, epsilon float64, rng *rand.Rand) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		cp := make([]float64, len(row))
		for c, v := range row {
			scale := 1.0
			if c < len(std) {
				scale = std[c]
			}
			cp[c] = v + rng.NormFloat64()*epsilon*scale
		}
		out[i] = cp
	}
	return out
}

func vectorize(features []string, contributions map[string]float64) []float64 {
	out := make([]float64, len(features))
	for i, name := range features {
		out[i] = contributions[name]
	}
	return out
}

func pairwiseDistances(vectors [][]float64) []float64 {
	var out []float64
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			out = append(out, euclidean(vectors[i], vectors[j]))
		}
	}
	return out
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stddev(vals []float64, m float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vals)-1))
}
