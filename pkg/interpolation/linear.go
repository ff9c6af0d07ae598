// Package interpolation provides the one-dimensional numeric helpers the
// dose-volume engine is built on: clamped piecewise-linear interpolation,
// evenly spaced axes, finite-difference gradients and percentiles.
package interpolation

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
)

// Interp evaluates the piecewise-linear function through (xp, fp) at every
// point of x. Points left of xp[0] take fp[0] and points right of the last
// knot take the last fp, so the result never extrapolates.
//
// xp must be strictly increasing.
func Interp(x, xp, fp []float64) ([]float64, error) {
	if len(xp) != len(fp) {
		return nil, fmt.Errorf("interp: %d knots but %d values", len(xp), len(fp))
	}
	if len(xp) == 0 {
		return nil, fmt.Errorf("interp: no knots")
	}

	out := make([]float64, len(x))
	if len(xp) == 1 {
		for i := range out {
			out[i] = fp[0]
		}
		return out, nil
	}

	for i := 1; i < len(xp); i++ {
		if !(xp[i] > xp[i-1]) {
			return nil, fmt.Errorf("interp: knots not strictly increasing at %d", i)
		}
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(xp, fp); err != nil {
		return nil, fmt.Errorf("interp: %w", err)
	}
	for i, v := range x {
		out[i] = pl.Predict(v)
	}
	return out, nil
}

// Between interpolates a single point on the segment (x0, y0)-(x1, y1).
// x0 and x1 may be in either order; a degenerate segment returns y0.
func Between(x, x0, x1, y0, y1 float64) float64 {
	if x0 == x1 {
		return y0
	}
	return y0 + (x-x0)*(y1-y0)/(x1-x0)
}

// Linspace returns n evenly spaced values from lo to hi inclusive.
func Linspace(lo, hi float64, n int) []float64 {
	switch {
	case n <= 0:
		return []float64{}
	case n == 1:
		return []float64{lo}
	}
	return floats.Span(make([]float64, n), lo, hi)
}

// Gradient returns the derivative estimate of y on a unit-spaced grid:
// central differences inside, one-sided differences at both ends.
func Gradient(y []float64) []float64 {
	n := len(y)
	g := make([]float64, n)
	if n < 2 {
		return g
	}
	g[0] = y[1] - y[0]
	g[n-1] = y[n-1] - y[n-2]
	for i := 1; i < n-1; i++ {
		g[i] = (y[i+1] - y[i-1]) / 2
	}
	return g
}

// Diff returns the consecutive differences y[i+1]-y[i].
func Diff(y []float64) []float64 {
	if len(y) < 2 {
		return []float64{}
	}
	d := make([]float64, len(y)-1)
	for i := range d {
		d[i] = y[i+1] - y[i]
	}
	return d
}

// Percentile returns the p-th percentile (0-100) of data using linear
// interpolation between closest ranks. data is not modified. An empty
// input yields NaN.
func Percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	return SortedPercentile(sorted, p)
}

// SortedPercentile is Percentile for data already in ascending order.
func SortedPercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	p = math.Max(0, math.Min(100, p))
	h := float64(n-1) * p / 100
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}
