// Package controlchart computes individuals control charts: a center line
// and control limits from the average moving range of a series ordered by
// simulation date.
package controlchart

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"dvhanalytics/internal/models"
	"dvhanalytics/pkg/cohortstats"
	"dvhanalytics/pkg/regression"
)

const (
	// D2 scales the average two-point moving range to a standard deviation.
	D2 = 1.128

	// DefaultStdDevs is the usual width of the control band.
	DefaultStdDevs = 3.0
)

// ErrInsufficientData is returned for series with fewer than two values.
var ErrInsufficientData = errors.New("control limits need at least two values")

// Limits are the center line and the upper and lower control limits.
type Limits struct {
	Center float64
	UCL    float64
	LCL    float64
}

// Contains reports whether v lies within [LCL, UCL].
func (l Limits) Contains(v float64) bool {
	return v >= l.LCL && v <= l.UCL
}

// GetControlLimits returns
//
//	center = mean(y)
//	ucl, lcl = center ± stdDevs · mean(|yᵢ - yᵢ₋₁|) / D2
func GetControlLimits(y []float64, stdDevs float64) (Limits, error) {
	if len(y) < 2 {
		return Limits{}, fmt.Errorf("%d values: %w", len(y), ErrInsufficientData)
	}
	center := stat.Mean(y, nil)
	mr := 0.0
	for i := 1; i < len(y); i++ {
		mr += math.Abs(y[i] - y[i-1])
	}
	mr /= float64(len(y) - 1)

	half := stdDevs * mr / D2
	return Limits{Center: center, UCL: center + half, LCL: center - half}, nil
}

// Point is one charted record.
type Point struct {
	// Index is the 1-based position of the record in simulation date order.
	Index int
	Value float64

	MRN  string
	UID  string
	Date models.Number

	OutOfControl bool
}

// Chart is a charted series with its limits.
type Chart struct {
	Variable string
	Limits   Limits
	Points   []Point
}

// OutOfControl returns the points outside the control limits.
func (c *Chart) OutOfControl() []Point {
	var out []Point
	for _, p := range c.Points {
		if p.OutOfControl {
			out = append(out, p)
		}
	}
	return out
}

// Values returns the charted values in chart order.
func (c *Chart) Values() []float64 {
	out := make([]float64, len(c.Points))
	for i, p := range c.Points {
		out[i] = p.Value
	}
	return out
}

// NewChart charts a variable of s over study index. Records are ordered by
// simulation date, records without a date last; records missing the
// variable keep their index but are not charted.
func NewChart(s *cohortstats.Set, variable string, stdDevs float64) (*Chart, error) {
	series, err := s.Series(variable)
	if err != nil {
		return nil, err
	}
	uids, mrns, dates := s.UIDs(), s.MRNs(), s.SimStudyDates()

	var points []Point
	for rank, i := range dateOrder(dates) {
		if !series.Values[i].Valid {
			continue
		}
		points = append(points, Point{
			Index: rank + 1,
			Value: series.Values[i].Value,
			MRN:   mrns[i],
			UID:   uids[i],
			Date:  dates[i],
		})
	}
	return newChart(variable, points, stdDevs)
}

// NewAdjustedChart regresses y on xs and charts the residuals over study
// index, so that variation explained by the predictors does not trigger
// the limits. The fit is returned alongside the chart.
func NewAdjustedChart(s *cohortstats.Set, y string, xs []string, stdDevs float64) (*Chart, *regression.Result, error) {
	d, err := s.XAndY(y, xs)
	if err != nil {
		return nil, nil, err
	}
	fit, err := regression.Fit(d.X, d.Y)
	if err != nil {
		return nil, nil, err
	}

	points := make([]Point, 0, d.Rows())
	for rank, i := range dateOrder(d.Dates) {
		points = append(points, Point{
			Index: rank + 1,
			Value: fit.Residuals[i],
			MRN:   d.MRNs[i],
			UID:   d.UIDs[i],
			Date:  d.Dates[i],
		})
	}
	chart, err := newChart(y+" residuals", points, stdDevs)
	if err != nil {
		return nil, nil, err
	}
	return chart, fit, nil
}

func newChart(variable string, points []Point, stdDevs float64) (*Chart, error) {
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	limits, err := GetControlLimits(values, stdDevs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", variable, err)
	}
	for i := range points {
		points[i].OutOfControl = !limits.Contains(points[i].Value)
	}
	return &Chart{Variable: variable, Limits: limits, Points: points}, nil
}

// dateOrder returns record indices sorted by date, missing dates last.
func dateOrder(dates []models.Number) []int {
	idx := make([]int, len(dates))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		da, db := dates[idx[a]], dates[idx[b]]
		if da.Valid != db.Valid {
			return da.Valid
		}
		return da.Valid && da.Value < db.Value
	})
	return idx
}
