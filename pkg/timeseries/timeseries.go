// Package timeseries follows a variable over simulation date: a moving
// average of daily means, a percentile band, a histogram of the values, and
// statistical comparison of two groups.
package timeseries

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"dvhanalytics/internal/models"
	"dvhanalytics/pkg/cohortstats"
	"dvhanalytics/pkg/interpolation"
)

// Defaults used when the caller passes zero.
const (
	DefaultAverageLength = 5
	DefaultPercentile    = 90.0
	DefaultHistogramBins = 10
)

// ErrEmptySeries is returned when no record has both a date and a value.
var ErrEmptySeries = errors.New("no dated values")

// Collapsed merges points sharing a date. Sum is the sum of the values on
// each date and Weight the number of points merged.
type Collapsed struct {
	X      []float64
	Sum    []float64
	Weight []int
}

// CollapseIntoSingleDates merges consecutive points with equal x. x must be
// in ascending order.
func CollapseIntoSingleDates(x, y []float64) Collapsed {
	var c Collapsed
	for i := range x {
		last := len(c.X) - 1
		if last >= 0 && x[i] == c.X[last] {
			c.Sum[last] += y[i]
			c.Weight[last]++
			continue
		}
		c.X = append(c.X, x[i])
		c.Sum = append(c.Sum, y[i])
		c.Weight = append(c.Weight, 1)
	}
	return c
}

// MovingAverage averages the daily means over a look-back window of
// avgLen dates. The first output point is at the avgLen-th date.
func MovingAverage(c Collapsed, avgLen int) (x, y []float64) {
	if avgLen < 1 {
		avgLen = 1
	}
	cumsum := make([]float64, len(c.X)+1)
	for i := range c.X {
		cumsum[i+1] = cumsum[i] + c.Sum[i]/float64(c.Weight[i])
		if i+1 >= avgLen {
			x = append(x, c.X[i])
			y = append(y, (cumsum[i+1]-cumsum[i+1-avgLen])/float64(avgLen))
		}
	}
	return x, y
}

// Bounds is a percentile band around the median.
type Bounds struct {
	Lower  float64
	Median float64
	Upper  float64
}

// PercentileBounds returns the band holding the central percentile
// percent of y: the (50 ± percentile/2)-th percentiles.
func PercentileBounds(y []float64, percentile float64) Bounds {
	sorted := append([]float64(nil), y...)
	sort.Float64s(sorted)
	return Bounds{
		Lower:  interpolation.SortedPercentile(sorted, 50-percentile/2),
		Median: interpolation.SortedPercentile(sorted, 50),
		Upper:  interpolation.SortedPercentile(sorted, 50+percentile/2),
	}
}

// Histogram counts y into bins of equal width spanning its range. When all
// values are equal the range is widened by 0.5 on each side.
func Histogram(y []float64, bins int) (centers, counts []float64) {
	if len(y) == 0 || bins < 1 {
		return nil, nil
	}
	sorted := append([]float64(nil), y...)
	sort.Float64s(sorted)
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	dividers := floats.Span(make([]float64, bins+1), lo, hi)
	// the last bin includes its right edge
	dividers[bins] = math.Nextafter(hi, math.Inf(1))

	counts = stat.Histogram(nil, dividers, sorted, nil)
	centers = make([]float64, bins)
	for i := range centers {
		centers[i] = lo + (float64(i)+0.5)*(hi-lo)/float64(bins)
	}
	return centers, counts
}

// Point is one dated value.
type Point struct {
	Date  float64
	Value float64
	MRN   string
	UID   string
}

// Trend is a variable followed over time.
type Trend struct {
	Variable string
	Points   []Point

	TrendX []float64
	TrendY []float64

	Bounds Bounds
}

// Options tune NewTrend. Zero fields take the package defaults.
type Options struct {
	AverageLength int
	Percentile    float64
}

// NewTrend builds the trend of a variable of s. Records without a date or
// without a value are left out.
func NewTrend(s *cohortstats.Set, variable string, opts Options) (*Trend, error) {
	if opts.AverageLength <= 0 {
		opts.AverageLength = DefaultAverageLength
	}
	if opts.Percentile <= 0 {
		opts.Percentile = DefaultPercentile
	}
	series, err := s.Series(variable)
	if err != nil {
		return nil, err
	}
	points := datedPoints(series.Values, s.SimStudyDates(), s.MRNs(), s.UIDs())
	if len(points) == 0 {
		return nil, fmt.Errorf("%s: %w", variable, ErrEmptySeries)
	}

	x := make([]float64, len(points))
	y := make([]float64, len(points))
	for i, p := range points {
		x[i], y[i] = p.Date, p.Value
	}
	tr := &Trend{Variable: variable, Points: points, Bounds: PercentileBounds(y, opts.Percentile)}
	tr.TrendX, tr.TrendY = MovingAverage(CollapseIntoSingleDates(x, y), opts.AverageLength)
	return tr, nil
}

// Values returns the trend's values in date order.
func (t *Trend) Values() []float64 {
	out := make([]float64, len(t.Points))
	for i, p := range t.Points {
		out[i] = p.Value
	}
	return out
}

func datedPoints(values, dates []models.Number, mrns, uids []string) []Point {
	var points []Point
	for i := range values {
		if !values[i].Valid || !dates[i].Valid {
			continue
		}
		points = append(points, Point{Date: dates[i].Value, Value: values[i].Value, MRN: mrns[i], UID: uids[i]})
	}
	sort.SliceStable(points, func(a, b int) bool { return points[a].Date < points[b].Date })
	return points
}
