// Package compare measures agreement between two attribution methods run on
// the same model and scope: rank correlation over the union of their top
// features, top-k overlap, and per-feature sign disagreements.
package compare

import (
	"fmt"
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/modelproof/xaibench/internal/model"
)

// ErrIncompatible rejects comparison of explanations that differ in model
// or scope.
var ErrIncompatible = eris.New("compare: explanations are not comparable")

const topN = 20

var agreementKs = []int{5, 10}

// Explanations compares two completed attribution artifacts. Both must
// explain the same model and scope; the comparison is symmetric apart from
// the method_a/method_b labels.
func Explanations(a, b *model.Explanation) (*model.ComparisonResult, error) {
	if a.ModelID != b.ModelID {
		return nil, eris.Wrapf(ErrIncompatible, "models %s and %s", a.ModelID, b.ModelID)
	}
	if a.Scope != b.Scope {
		return nil, eris.Wrapf(ErrIncompatible, "scopes %s and %s", a.Scope.Kind, b.Scope.Kind)
	}

	topA := topFeatures(a.Contributions, topN)
	topB := topFeatures(b.Contributions, topN)

	union := unionOf(topA, topB)
	ranksA := rankOver(union, a.Contributions)
	ranksB := rankOver(union, b.Contributions)

	rho := spearman(ranksA, ranksB)
	p := spearmanPValue(rho, len(union))

	agreement := make(map[string]float64, len(agreementKs))
	for _, k := range agreementKs {
		agreement[agreementKey(k)] = topKAgreement(topA, topB, k)
	}

	return &model.ComparisonResult{
		ModelID:           a.ModelID,
		Scope:             a.Scope,
		MethodA:           a.Method,
		MethodB:           b.Method,
		CommonFeatures:    intersectionCount(topA, topB),
		TopKAgreement:     agreement,
		RankCorrelation:   rho,
		PValue:            p,
		SignDisagreements: signDisagreements(a.Contributions, b.Contributions),
	}, nil
}

// topFeatures ranks features by |contribution| descending, ties broken by
// name so the ordering is deterministic.
func topFeatures(contributions map[string]float64, n int) []string {
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
	if len(names) > n {
		names = names[:n]
	}
	return names
}

func unionOf(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, name := range a {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	for _, name := range b {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// rankOver assigns 1-based ranks to the union features: present features
// rank by |contribution| descending, absent ones rank last in name order.
func rankOver(union []string, contributions map[string]float64) []float64 {
	present := make([]string, 0, len(union))
	absent := make([]string, 0)
	for _, name := range union {
		if _, ok := contributions[name]; ok {
			present = append(present, name)
		} else {
			absent = append(absent, name)
		}
	}
	sort.Slice(present, func(i, j int) bool {
		mi, mj := math.Abs(contributions[present[i]]), math.Abs(contributions[present[j]])
		if mi != mj {
			return mi > mj
		}
		return present[i] < present[j]
	})
	sort.Strings(absent)

	rank := make(map[string]float64, len(union))
	for i, name := range present {
		rank[name] = float64(i + 1)
	}
	for i, name := range absent {
		rank[name] = float64(len(present) + i + 1)
	}

	out := make([]float64, len(union))
	for i, name := range union {
		out[i] = rank[name]
	}
	return out
}

// spearman is Pearson correlation over rank vectors. Ranks are distinct by
// construction, so no tie correction is needed.
func spearman(a, b []float64) float64 {
	n := len(a)
	if n < 2 {
		return 0
	}
	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// spearmanPValue is the two-sided p-value from the t-distribution
// approximation t = r·sqrt((n−2)/(1−r²)) with n−2 degrees of freedom.
func spearmanPValue(rho float64, n int) float64 {
	if n < 3 {
		return 1
	}
	if rho >= 1 || rho <= -1 {
		return 0
	}
	df := float64(n - 2)
	t := rho * math.Sqrt(df/(1-rho*rho))
	return 2 * studentTailProb(math.Abs(t), df)
}

// studentTailProb is P(T > t) for the Student t-distribution, computed via
// the regularized incomplete beta function.
func studentTailProb(t, df float64) float64 {
	x := df / (df + t*t)
	return 0.5 * regIncompleteBeta(df/2, 0.5, x)
}

// regIncompleteBeta evaluates I_x(a, b) with the standard continued
// fraction expansion.
func regIncompleteBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	lnBeta, _ := math.Lgamma(a + b)
	lnA, _ := math.Lgamma(a)
	lnB, _ := math.Lgamma(b)
	front := math.Exp(lnBeta - lnA - lnB + a*math.Log(x) + b*math.Log(1-x))

	if x < (a+1)/(a+b+2) {
		return front * betaContinuedFraction(a, b, x) / a
	}
	return 1 - front*betaContinuedFraction(b, a, 1-x)/b
}

func betaContinuedFraction(a, b, x float64) float64 {
	const (
		maxIter = 200
		eps     = 3e-14
		tiny    = 1e-30
	)

	qab := a + b
	qap := a + 1
	qam := a - 1
	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < tiny {
		d = tiny
	}
	d = 1 / d
	h := d

	for m := 1; m <= maxIter; m++ {
		m2 := float64(2 * m)
		aa := float64(m) * (b - float64(m)) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		h *= d * c

		aa = -(a + float64(m)) * (qab + float64(m)) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < eps {
			break
		}
	}
	return h
}

func topKAgreement(topA, topB []string, k int) float64 {
	setA := make(map[string]struct{}, k)
	for i, name := range topA {
		if i >= k {
			break
		}
		setA[name] = struct{}{}
	}
	overlap := 0
	for i, name := range topB {
		if i >= k {
			break
		}
		if _, ok := setA[name]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(k)
}

func agreementKey(k int) string {
	return fmt.Sprintf("top_%d", k)
}

func intersectionCount(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, name := range a {
		set[name] = struct{}{}
	}
	n := 0
	for _, name := range b {
		if _, ok := set[name]; ok {
			n++
		}
	}
	return n
}

// signDisagreements lists features present in both explanations whose
// contributions carry opposite signs, sorted by name. Zero contributions
// never disagree.
func signDisagreements(a, b map[string]float64) []string {
	var out []string
	for name, va := range a {
		vb, ok := b[name]
		if !ok {
			continue
		}
		if va*vb < 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
