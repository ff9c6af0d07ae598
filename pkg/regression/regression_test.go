package regression

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func column(vs ...float64) *mat.Dense {
	return mat.NewDense(len(vs), 1, vs)
}

func TestFitSimpleLinear(t *testing.T) {
	x := column(1, 2, 3, 4, 5)
	y := []float64{2.2, 2.8, 3.6, 4.5, 5.1}

	res, err := Fit(x, y)
	require.NoError(t, err)

	assert.InDelta(t, 1.39, res.Intercept, 1e-9)
	assert.InDelta(t, 0.75, res.Coefficients[0], 1e-9)
	assert.InDelta(t, 0.0054, res.MSE, 1e-12)
	assert.InDelta(t, 0.9952229299363057, res.RSquared, 1e-9)

	assert.InDelta(t, 0.09949874371066204, res.StdErr[0], 1e-9)
	assert.InDelta(t, 0.03, res.StdErr[1], 1e-9)
	assert.InDelta(t, 13.970025632103042, res.TValues[0], 1e-6)
	assert.InDelta(t, 25, res.TValues[1], 1e-6)
	assert.InDelta(t, 0.0007941920131213642, res.PValues[0], 1e-7)
	assert.InDelta(t, 0.00014033138995750427, res.PValues[1], 1e-7)

	// with one predictor F = t² and both tests agree
	assert.InDelta(t, 625, res.FStat, 1e-6)
	assert.InDelta(t, res.PValues[1], res.FPValue, 1e-7)
	assert.Equal(t, 1, res.DFModel)
	assert.Equal(t, 3, res.DFError)

	assert.InDeltaSlice(t, []float64{0.06, -0.09, -0.04, 0.11, -0.04}, res.Residuals, 1e-9)
	for i := range y {
		assert.InDelta(t, y[i], res.Predictions[i]+res.Residuals[i], 1e-12)
	}
}

func TestFitIsDeterministic(t *testing.T) {
	x := mat.NewDense(6, 2, []float64{
		1, 3,
		2, 1,
		3, 4,
		4, 1,
		5, 5,
		6, 9,
	})
	y := []float64{3, 4, 7, 6, 10, 14}

	a, err := Fit(x, y)
	require.NoError(t, err)
	b, err := Fit(x, y)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFitSingularMatrix(t *testing.T) {
	// second column is twice the first
	x := mat.NewDense(4, 2, []float64{1, 2, 2, 4, 3, 6, 4, 8})
	_, err := Fit(x, []float64{1, 2, 3, 5})

	var sme *SingularMatrixError
	require.True(t, errors.As(err, &sme), "got %v", err)

	// a constant predictor is collinear with the intercept
	_, err = Fit(column(2, 2, 2, 2), []float64{1, 2, 3, 4})
	assert.True(t, errors.As(err, &sme))
}

func TestFitInsufficientData(t *testing.T) {
	_, err := Fit(column(1, 2), []float64{1, 2})
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = Fit(column(1, 2, 3), []float64{1, 2})
	assert.Error(t, err)
}

func TestProbPlot(t *testing.T) {
	pp := NewProbPlot([]float64{0.06, -0.09, -0.04, 0.11, -0.04})

	assert.Equal(t, []float64{-0.09, -0.04, -0.04, 0.06, 0.11}, pp.Ordered)
	require.Len(t, pp.Theoretical, 5)
	assert.InDelta(t, 0, pp.Theoretical[2], 1e-12)
	assert.InDelta(t, -pp.Theoretical[4], pp.Theoretical[0], 1e-12)
	assert.InDelta(t, -pp.Theoretical[3], pp.Theoretical[1], 1e-12)
	assert.Less(t, pp.Theoretical[0], pp.Theoretical[1])

	// Filliben's median for the largest of five is 0.5^(1/5)
	assert.InDelta(t, 1.1290, pp.Theoretical[4], 1e-3)

	x, y := pp.TrendLine()
	assert.Equal(t, pp.Theoretical[0], x[0])
	assert.Equal(t, pp.Theoretical[4], x[1])
	assert.Less(t, y[0], y[1])
	assert.Greater(t, pp.Slope, 0.0)

	empty := NewProbPlot(nil)
	assert.Empty(t, empty.Theoretical)
}

func TestBackwardElimination(t *testing.T) {
	// y depends on x1 only; x2 is noise
	x := mat.NewDense(8, 2, []float64{
		1, 5,
		2, 3,
		3, 8,
		4, 1,
		5, 7,
		6, 2,
		7, 6,
		8, 4,
	})
	y := []float64{2.1, 3.9, 6.2, 7.8, 10.1, 12.0, 13.8, 16.1}

	m, err := NewModel(x, y, []string{"x1", "x2"})
	require.NoError(t, err)

	name, p := m.WorstPValue()
	assert.Equal(t, "x2", name)
	assert.Greater(t, p, DefaultPThreshold)

	removed, err := m.BackwardElimination(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"x2"}, removed)
	assert.Equal(t, []string{"x1"}, m.Names())
	assert.Len(t, m.Result().Coefficients, 1)
	assert.InDelta(t, 2, m.Result().Coefficients[0], 0.1)

	// a single predictor is never removed
	removed, err = m.BackwardElimination(1e-300)
	require.NoError(t, err)
	assert.Empty(t, removed)
	name, err = m.RemoveWorstPValue()
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestNewModelNameMismatch(t *testing.T) {
	_, err := NewModel(column(1, 2, 3), []float64{1, 2, 3}, []string{"a", "b"})
	assert.Error(t, err)
}

func TestRSquaredConvention(t *testing.T) {
	assert.Equal(t, 1.0, rSquared(0, 0))
	assert.Equal(t, 0.0, rSquared(1, 0))
	assert.False(t, math.IsNaN(rSquared(1, 2)))
}
