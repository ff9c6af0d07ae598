package regression

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ProbPlot pairs the ordered values of a sample with the normal quantiles
// of Filliben's order statistic medians.
type ProbPlot struct {
	Theoretical []float64
	Ordered     []float64

	// Slope and Intercept describe the least squares line of Ordered on
	// Theoretical.
	Slope     float64
	Intercept float64
}

// NewProbPlot builds the normal probability plot of values.
func NewProbPlot(values []float64) ProbPlot {
	n := len(values)
	pp := ProbPlot{
		Theoretical: make([]float64, n),
		Ordered:     append([]float64(nil), values...),
	}
	if n == 0 {
		return pp
	}
	sort.Float64s(pp.Ordered)

	medians := make([]float64, n)
	last := math.Pow(0.5, 1/float64(n))
	medians[n-1] = last
	medians[0] = 1 - last
	for i := 1; i < n-1; i++ {
		medians[i] = (float64(i+1) - 0.3175) / (float64(n) + 0.365)
	}
	for i, m := range medians {
		pp.Theoretical[i] = distuv.UnitNormal.Quantile(m)
	}

	if n > 1 {
		pp.Intercept, pp.Slope = stat.LinearRegression(pp.Theoretical, pp.Ordered, nil, false)
	}
	return pp
}

// TrendLine returns the end points of the fitted line at the smallest and
// largest theoretical quantile.
func (pp ProbPlot) TrendLine() (x, y [2]float64) {
	if len(pp.Theoretical) == 0 {
		return x, y
	}
	x = [2]float64{floats.Min(pp.Theoretical), floats.Max(pp.Theoretical)}
	for i := range x {
		y[i] = pp.Intercept + pp.Slope*x[i]
	}
	return x, y
}
