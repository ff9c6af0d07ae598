package timeseries

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"dvhanalytics/pkg/cohortstats"
)

// Comparison holds the p-values shown when two groups are followed over
// time. A test that could not be run is NaN.
type Comparison struct {
	NormalA float64
	NormalB float64

	// TTest is the two-sided pooled-variance two sample t-test.
	TTest float64

	// RankSum is the two-sided Wilcoxon rank-sum test.
	RankSum float64
}

// CompareGroups tests two samples for normality and for a difference in
// location. Either group may be too small for some tests; those results
// are NaN.
func CompareGroups(a, b []float64) Comparison {
	c := Comparison{
		NormalA: normalP(a),
		NormalB: normalP(b),
		TTest:   math.NaN(),
		RankSum: math.NaN(),
	}
	if len(a) == 0 || len(b) == 0 {
		return c
	}
	if _, p, err := TTest(a, b); err == nil {
		c.TTest = p
	}
	_, c.RankSum = RankSum(a, b)
	return c
}

func normalP(x []float64) float64 {
	_, p, err := cohortstats.NormalTest(x)
	if err != nil {
		return math.NaN()
	}
	return p
}

// TTest is Student's two sample t-test assuming equal variances.
func TTest(a, b []float64) (t, p float64, err error) {
	na, nb := float64(len(a)), float64(len(b))
	df := na + nb - 2
	if len(a) < 1 || len(b) < 1 || df < 1 {
		return 0, 0, fmt.Errorf("t-test on %d and %d values: %w", len(a), len(b), cohortstats.ErrInsufficientData)
	}
	ma, va := meanVariance(a)
	mb, vb := meanVariance(b)
	pooled := ((na-1)*va + (nb-1)*vb) / df
	se := math.Sqrt(pooled * (1/na + 1/nb))
	if se == 0 {
		return 0, 0, cohortstats.ErrNoVariation
	}
	t = (ma - mb) / se
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return t, 2 * dist.Survival(math.Abs(t)), nil
}

func meanVariance(x []float64) (mean, variance float64) {
	if len(x) == 1 {
		return x[0], 0
	}
	return stat.MeanVariance(x, nil)
}

// RankSum is the Wilcoxon rank-sum test with the normal approximation and
// no tie correction.
func RankSum(a, b []float64) (z, p float64) {
	na, nb := float64(len(a)), float64(len(b))
	all := append(append([]float64(nil), a...), b...)
	ranks := rank(all)

	s := 0.0
	for _, r := range ranks[:len(a)] {
		s += r
	}
	expected := na * (na + nb + 1) / 2
	z = (s - expected) / math.Sqrt(na*nb*(na+nb+1)/12)
	return z, 2 * distuv.UnitNormal.Survival(math.Abs(z))
}

// rank returns 1-based ranks with ties given their average rank.
func rank(x []float64) []float64 {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return x[idx[i]] < x[idx[j]] })

	ranks := make([]float64, len(x))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && x[idx[j+1]] == x[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}
	return ranks
}
