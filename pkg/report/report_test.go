package report

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"dvhanalytics/internal/models"
	"dvhanalytics/pkg/cohortstats"
	"dvhanalytics/pkg/controlchart"
	"dvhanalytics/pkg/dosevolume"
	"dvhanalytics/pkg/regression"
	"dvhanalytics/pkg/timeseries"
)

func TestRenderSummary(t *testing.T) {
	out := RenderSummary(dosevolume.Summary{
		StudyCount: 2,
		DVHCount:   3,
		RxDose:     dosevolume.Range{Min: 60, Mean: 70, Max: 79.2, Count: 2},
	})
	assert.Contains(t, out, "Query Summary")
	assert.Contains(t, out, "Studies")
	assert.Contains(t, out, "79.20")
	assert.Contains(t, out, "Volume (cm³)")
}

func TestRenderEndpoints(t *testing.T) {
	s, err := cohortstats.New([]string{"u1", "u2"}, []string{"m1", "m2"}, []models.Number{models.Missing(), models.Missing()})
	require.NoError(t, err)
	require.NoError(t, s.AddVariable("D_95%", []models.Number{models.Num(71.234), models.Missing()}, "Gy"))

	out, err := RenderEndpoints(s, []string{"D_95%"})
	require.NoError(t, err)
	assert.Contains(t, out, "71.23")
	assert.Contains(t, out, "None")
	assert.Contains(t, out, "m2")

	_, err = RenderEndpoints(s, []string{"V_20Gy"})
	assert.ErrorIs(t, err, cohortstats.ErrUnknownVariable)
}

func TestRenderRegression(t *testing.T) {
	x := mat.NewDense(5, 1, []float64{1, 2, 3, 4, 5})
	res, err := regression.Fit(x, []float64{2.2, 2.8, 3.6, 4.5, 5.1})
	require.NoError(t, err)

	out := RenderRegression("Mean Dose", []string{"Volume"}, res)
	assert.Contains(t, out, "Mean Dose")
	assert.Contains(t, out, "y-int")
	assert.Contains(t, out, "1.39")
	assert.Contains(t, out, "25.00")
	assert.Contains(t, out, "N = 5")
}

func TestRenderControlChart(t *testing.T) {
	chart := &controlchart.Chart{
		Variable: "Volume",
		Limits:   controlchart.Limits{Center: 10, UCL: 13, LCL: 7},
		Points: []controlchart.Point{
			{Index: 1, Value: 10, MRN: "m1"},
			{Index: 2, Value: 14, MRN: "m2", OutOfControl: true},
		},
	}
	out := RenderControlChart(chart)
	assert.Contains(t, out, "Control Chart: Volume")
	assert.Contains(t, out, "out of control")
	assert.Contains(t, out, "14.00")
	assert.Contains(t, out, "13.00")
}

func TestRenderCorrelation(t *testing.T) {
	out := RenderCorrelation(&cohortstats.Correlation{
		Variables:  []string{"a", "b"},
		Pairs:      []cohortstats.Pair{{X: "a", Y: "b", R: 0.8, P: 0.2, N: 5}},
		NormalityP: map[string]float64{"a": math.NaN(), "b": 0.5},
	})
	assert.Contains(t, out, "0.80")
	assert.Contains(t, out, "0.2")
	assert.Contains(t, out, "normality")
	assert.Contains(t, out, "-")
}

func TestRenderTrend(t *testing.T) {
	tr := &timeseries.Trend{
		Variable: "EUD",
		Points:   make([]timeseries.Point, 4),
		Bounds:   timeseries.Bounds{Lower: 1, Median: 2, Upper: 3},
	}
	out := RenderTrend(tr, nil)
	assert.Contains(t, out, "Time Series: EUD")
	assert.NotContains(t, out, "t-test")

	out = RenderTrend(tr, &timeseries.Comparison{NormalA: math.NaN(), NormalB: math.NaN(), TTest: 0.1056, RankSum: 0.0495})
	assert.Contains(t, out, "t-test p")
	assert.Contains(t, out, "0.106")
}
