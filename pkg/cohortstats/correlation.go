package cohortstats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"dvhanalytics/internal/models"
)

// MinNormalTestSize is the smallest sample NormalTest accepts.
const MinNormalTestSize = 8

// Pair is the Pearson correlation of two variables over the records where
// both are present. R and P are NaN when fewer than three such records
// exist or either variable is constant over them.
type Pair struct {
	X, Y string
	R    float64
	P    float64
	N    int
}

// Correlation holds every unordered pair of the requested variables and a
// per-variable normality p-value. Normality is informational only; a
// variable whose normality could not be tested has a NaN entry.
type Correlation struct {
	Variables  []string
	Pairs      []Pair
	NormalityP map[string]float64
}

// Pair returns the entry for x and y in either order.
func (c *Correlation) Pair(x, y string) (Pair, bool) {
	for _, p := range c.Pairs {
		if (p.X == x && p.Y == y) || (p.X == y && p.Y == x) {
			return p, true
		}
	}
	return Pair{}, false
}

// CorrelationMatrix computes pairwise Pearson r with its two-sided p-value
// for every unordered pair of vars.
func (s *Set) CorrelationMatrix(vars []string) (*Correlation, error) {
	series := make([][]models.Number, len(vars))
	for i, name := range vars {
		v, ok := s.data[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
		}
		series[i] = v.Values
	}

	out := &Correlation{
		Variables:  append([]string(nil), vars...),
		NormalityP: make(map[string]float64, len(vars)),
	}
	for i, name := range vars {
		_, p, err := NormalTest(models.Present(series[i]))
		if err != nil {
			p = math.NaN()
		}
		out.NormalityP[name] = p
	}

	for i := 0; i < len(vars); i++ {
		for j := i + 1; j < len(vars); j++ {
			x, y := pairwisePresent(series[i], series[j])
			r, p := Pearson(x, y)
			out.Pairs = append(out.Pairs, Pair{X: vars[i], Y: vars[j], R: r, P: p, N: len(x)})
		}
	}
	return out, nil
}

func pairwisePresent(a, b []models.Number) (x, y []float64) {
	for i := range a {
		if a[i].Valid && b[i].Valid {
			x = append(x, a[i].Value)
			y = append(y, b[i].Value)
		}
	}
	return x, y
}

// Pearson returns the correlation coefficient of x and y and its two-sided
// p-value from Student's t with n-2 degrees of freedom.
func Pearson(x, y []float64) (r, p float64) {
	n := len(x)
	if n < 3 || n != len(y) {
		return math.NaN(), math.NaN()
	}
	r = stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return r, math.NaN()
	}
	// rounding can push |r| just past 1
	r = math.Max(-1, math.Min(1, r))
	if math.Abs(r) == 1 {
		return r, 0
	}
	df := float64(n - 2)
	t := r * math.Sqrt(df/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return r, 2 * dist.Survival(math.Abs(t))
}

// NormalTest is D'Agostino and Pearson's omnibus test of normality. It
// combines the skewness and kurtosis z-scores into K², which is chi-squared
// with two degrees of freedom under the null hypothesis.
func NormalTest(x []float64) (k2, p float64, err error) {
	n := float64(len(x))
	if len(x) < MinNormalTestSize {
		return 0, 0, fmt.Errorf("normal test needs %d values, got %d: %w", MinNormalTestSize, len(x), ErrInsufficientData)
	}
	m2 := stat.Moment(2, x, nil)
	if m2 == 0 {
		return 0, 0, ErrNoVariation
	}
	zs := skewZ(stat.Moment(3, x, nil)/math.Pow(m2, 1.5), n)
	zk := kurtosisZ(stat.Moment(4, x, nil)/(m2*m2), n)

	k2 = zs*zs + zk*zk
	return k2, distuv.ChiSquared{K: 2}.Survival(k2), nil
}

// skewZ transforms the sample skewness b1 into an approximately standard
// normal score.
func skewZ(b1, n float64) float64 {
	y := b1 * math.Sqrt((n+1)*(n+3)/(6*(n-2)))
	beta2 := 3 * (n*n + 27*n - 70) * (n + 1) * (n + 3) /
		((n - 2) * (n + 5) * (n + 7) * (n + 9))
	w2 := -1 + math.Sqrt(2*(beta2-1))
	delta := 1 / math.Sqrt(0.5*math.Log(w2))
	alpha := math.Sqrt(2 / (w2 - 1))
	if y == 0 {
		y = 1
	}
	ya := y / alpha
	return delta * math.Log(ya+math.Sqrt(ya*ya+1))
}

// kurtosisZ transforms the sample (Pearson) kurtosis b2 into an
// approximately standard normal score.
func kurtosisZ(b2, n float64) float64 {
	e := 3 * (n - 1) / (n + 1)
	varb2 := 24 * n * (n - 2) * (n - 3) / ((n + 1) * (n + 1) * (n + 3) * (n + 5))
	x := (b2 - e) / math.Sqrt(varb2)
	sqrtBeta1 := 6 * (n*n - 5*n + 2) / ((n + 7) * (n + 9)) *
		math.Sqrt(6*(n+3)*(n+5)/(n*(n-2)*(n-3)))
	a := 6 + 8/sqrtBeta1*(2/sqrtBeta1+math.Sqrt(1+4/(sqrtBeta1*sqrtBeta1)))
	term1 := 1 - 2/(9*a)
	denom := 1 + x*math.Sqrt(2/(a-4))
	if denom == 0 {
		return math.NaN()
	}
	term2 := math.Copysign(math.Cbrt((1-2/a)/math.Abs(denom)), denom)
	return (term1 - term2) / math.Sqrt(2/(9*a))
}
