package explain

import (
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"

	"github.com/modelproof/xaibench/internal/model"
)

// Predictor scores a single feature vector laid out in dataset feature
// order and returns the probability of the positive (risk) class.
type Predictor interface {
	Predict(row []float64) float64
}

// NewPredictor decodes a model's stored parameters into a Predictor.
// The features slice fixes the column order for name-addressed params.
func NewPredictor(m *model.Model, features []string) (Predictor, error) {
	switch m.Family {
	case model.FamilyLinear, model.FamilyBlackbox:
		return newLinearPredictor(m.Params, features)
	case model.FamilyTree:
		ens, err := decodeEnsemble(m.Params)
		if err != nil {
			return nil, err
		}
		return ens, nil
	default:
		return nil, eris.Wrapf(ErrMalformedParams, "unknown family %q", m.Family)
	}
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

type linearParams struct {
	Weights map[string]float64 `json:"weights"`
	Bias    float64            `json:"bias"`
}

// linearPredictor is a logistic scorer over named weights.
type linearPredictor struct {
	weights []float64
	bias    float64
}

func newLinearPredictor(raw json.RawMessage, features []string) (*linearPredictor, error) {
	var p linearParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, eris.Wrap(ErrMalformedParams, err.Error())
	}
	if len(p.Weights) == 0 {
		return nil, eris.Wrap(ErrMalformedParams, "no weights")
	}
	lp := &linearPredictor{
		weights: make([]float64, len(features)),
		bias:    p.Bias,
	}
	for i, f := range features {
		lp.weights[i] = p.Weights[f]
	}
	return lp, nil
}

func (p *linearPredictor) Predict(row []float64) float64 {
	z := p.bias
	for i, w := range p.weights {
		if i < len(row) {
			z += w * row[i]
		}
	}
	return sigmoid(z)
}

// treeNode is one node of a regression tree. Value holds the expected
// subtree output for every node, not just leaves; tree-path attribution
// depends on internal node values being populated.
type treeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
	Leaf      bool    `json:"leaf"`
}

type tree struct {
	Nodes []treeNode `json:"nodes"`
}

// ensemble is an additive tree model: sum of per-tree outputs plus a base
// score, squashed through a sigmoid.
type ensemble struct {
	BaseScore float64 `json:"base_score"`
	Trees     []tree  `json:"trees"`
}

func decodeEnsemble(raw json.RawMessage) (*ensemble, error) {
	var e ensemble
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, eris.Wrap(ErrMalformedParams, err.Error())
	}
	if len(e.Trees) == 0 {
		return nil, eris.Wrap(ErrMalformedParams, "no trees")
	}
	for ti, t := range e.Trees {
		if len(t.Nodes) == 0 {
			return nil, eris.Wrapf(ErrMalformedParams, "tree %d has no nodes", ti)
		}
	}
	return &e, nil
}

// margin returns the raw additive score before the sigmoid.
func (e *ensemble) margin(row []float64) float64 {
	z := e.BaseScore
	for i := range e.Trees {
		z += e.Trees[i].output(row)
	}
	return z
}

func (e *ensemble) Predict(row []float64) float64 {
	return sigmoid(e.margin(row))
}

func (t *tree) output(row []float64) float64 {
	idx := 0
	for {
		n := t.Nodes[idx]
		if n.Leaf {
			return n.Value
		}
		if n.Feature < len(row) && row[n.Feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
}

// pathContributions accumulates per-feature margin deltas along the
// decision path of each tree: when the walk steps from a node to a child,
// the change in expected value is attributed to the split feature.
func (e *ensemble) pathContributions(row []float64, out []float64) {
	for i := range e.Trees {
		t := &e.Trees[i]
		idx := 0
		for {
			n := t.Nodes[idx]
			if n.Leaf {
				break
			}
			next := n.Right
			if n.Feature < len(row) && row[n.Feature] <= n.Threshold {
				next = n.Left
			}
			if n.Feature < len(out) {
				out[n.Feature] += t.Nodes[next].Value - n.Value
			}
			idx = next
		}
	}
}
