package dosevolume

import (
	"fmt"
	"sort"

	"github.com/montanaflynn/stats"

	"dvhanalytics/internal/models"
	"dvhanalytics/pkg/interpolation"
)

// StatKind names a per-bin aggregate over a cohort.
type StatKind string

const (
	StatMin    StatKind = "min"
	StatQ1     StatKind = "q1"
	StatMean   StatKind = "mean"
	StatMedian StatKind = "median"
	StatQ3     StatKind = "q3"
	StatMax    StatKind = "max"
	StatStd    StatKind = "std"
)

// StatCurves is the standard set of population DVHs.
type StatCurves struct {
	// XAxis is the dose of each bin: cGy for absolute dose, fraction of
	// prescription for relative dose.
	XAxis []float64

	Min    []float64
	Q1     []float64
	Mean   []float64
	Median []float64
	Q3     []float64
	Max    []float64
}

// PercentileCurve returns, for each dose bin, the given percentile (0-100)
// of that bin across all records.
func PercentileCurve(c *models.Cohort, percentile float64) []float64 {
	return reduce(recordBins(c), c.BinCount, func(col []float64) float64 {
		sort.Float64s(col)
		return interpolation.SortedPercentile(col, percentile)
	})
}

// StatCurve returns a single population DVH of the given kind. binsPerRx
// sets the resolution of the relative dose axis; zero or less uses
// DefaultResampledBinCount.
func StatCurve(c *models.Cohort, kind StatKind, doseScale, volumeScale models.Scale, binsPerRx int) ([]float64, error) {
	fn, err := statFunc(kind)
	if err != nil {
		return nil, err
	}
	_, rows, err := scaledBins(c, doseScale, volumeScale, binsPerRx)
	if err != nil {
		return nil, err
	}
	return reduce(rows, rowLen(rows), fn), nil
}

// StandardStatCurves returns min, q1, mean, median, q3 and max population
// DVHs. Relative dose first resamples every record onto a common
// percent-of-prescription axis; absolute volume scales each record by its
// structure volume. binsPerRx is as for StatCurve.
func StandardStatCurves(c *models.Cohort, doseScale, volumeScale models.Scale, binsPerRx int) (*StatCurves, error) {
	x, rows, err := scaledBins(c, doseScale, volumeScale, binsPerRx)
	if err != nil {
		return nil, err
	}
	n := rowLen(rows)
	out := &StatCurves{XAxis: x}
	for kind, dst := range map[StatKind]*[]float64{
		StatMin:    &out.Min,
		StatQ1:     &out.Q1,
		StatMean:   &out.Mean,
		StatMedian: &out.Median,
		StatQ3:     &out.Q3,
		StatMax:    &out.Max,
	} {
		fn, _ := statFunc(kind)
		*dst = reduce(rows, n, fn)
	}
	return out, nil
}

// ToAbsoluteVolume multiplies each record's row by its structure volume.
// Records without a volume become all zero.
func ToAbsoluteVolume(c *models.Cohort, rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		vol := c.Records[i].VolumeCC.Or(0)
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = v * vol
		}
		out[i] = scaled
	}
	return out
}

func scaledBins(c *models.Cohort, doseScale, volumeScale models.Scale, binsPerRx int) ([]float64, [][]float64, error) {
	if !c.HasData() || c.BinCount == 0 {
		return nil, nil, ErrEmptyCohort
	}

	var (
		x    []float64
		rows [][]float64
	)
	if doseScale == models.Relative {
		if binsPerRx <= 0 {
			binsPerRx = DefaultResampledBinCount
		}
		r, err := Resample(c, binsPerRx)
		if err != nil {
			return nil, nil, err
		}
		x, rows = r.XAxis, r.Bins
	} else {
		x, rows = XAxis(c), recordBins(c)
	}

	if volumeScale == models.Absolute {
		rows = ToAbsoluteVolume(c, rows)
	}
	return x, rows, nil
}

func statFunc(kind StatKind) (func([]float64) float64, error) {
	var fn func(stats.Float64Data) (float64, error)
	switch kind {
	case StatMin:
		fn = stats.Min
	case StatMax:
		fn = stats.Max
	case StatMean:
		fn = stats.Mean
	case StatMedian:
		fn = stats.Median
	case StatStd:
		fn = stats.StandardDeviationPopulation
	case StatQ1, StatQ3:
		p := 25.0
		if kind == StatQ3 {
			p = 75
		}
		return func(col []float64) float64 {
			sort.Float64s(col)
			return interpolation.SortedPercentile(col, p)
		}, nil
	default:
		return nil, fmt.Errorf("unknown stat %q", kind)
	}
	return func(col []float64) float64 {
		v, _ := fn(col)
		return v
	}, nil
}

func recordBins(c *models.Cohort) [][]float64 {
	rows := make([][]float64, c.Count())
	for i := range c.Records {
		rows[i] = c.Records[i].Bins
	}
	return rows
}

func rowLen(rows [][]float64) int {
	if len(rows) == 0 {
		return 0
	}
	return len(rows[0])
}

// reduce applies fn to each bin's column of values across all rows. fn
// receives a scratch slice it may reorder.
func reduce(rows [][]float64, n int, fn func([]float64) float64) []float64 {
	out := make([]float64, n)
	if len(rows) == 0 {
		return out
	}
	col := make([]float64, len(rows))
	for j := 0; j < n; j++ {
		for i, row := range rows {
			col[i] = row[j]
		}
		out[j] = fn(col)
	}
	return out
}
