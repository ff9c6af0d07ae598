package radbio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dvhanalytics/internal/models"
)

func TestCalcEUDStepHistogram(t *testing.T) {
	// differential volume is 0.5 at the 150 cGy and 250 cGy bin centers,
	// so with a = 1 the EUD is the mean dose of 200 cGy
	got := CalcEUD([]float64{1, 1, 1, 0, 0}, 1, 100)
	assert.InDelta(t, 2.0, got, 1e-12)
}

func TestCalcEUDLargeAApproachesMaxDose(t *testing.T) {
	bins := []float64{1, 1, 1, 0, 0}

	mean := CalcEUD(bins, 1, 100)
	high := CalcEUD(bins, 40, 100)

	assert.Greater(t, high, mean)
	assert.LessOrEqual(t, high, 2.5)
}

func TestCalcEUDRoundsInCentigray(t *testing.T) {
	// with a = 2: sqrt(0.5*150² + 0.5*250²) = 206.155... cGy
	got := CalcEUD([]float64{1, 1, 1, 0, 0}, 2, 100)
	assert.Equal(t, math.Round(206.15528128088303*100)/100/100, got)
}

func TestCalcTCP(t *testing.T) {
	assert.InDelta(t, 0.5, CalcTCP(1, 2, 2), 1e-12)
	assert.InDelta(t, 1/(1+math.Pow(0.5, 8)), CalcTCP(2, 30, 60), 1e-12)
	assert.Less(t, CalcTCP(1, 60, 30), 0.5)

	_, err := CheckedTCP(1, 2, 0)
	assert.ErrorIs(t, err, ErrZeroEUD)
	p, err := CheckedTCP(1, 2, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p, 1e-12)
}

func TestParamsValidate(t *testing.T) {
	assert.ErrorIs(t, Params{A: 0}.Validate(), ErrInvalidA)
	assert.NoError(t, Params{A: -10}.Validate())
}

func TestEvaluateTreatsZeroEUDAsNotComputable(t *testing.T) {
	eud, prob := Evaluate([]float64{0, 0, 0}, 100, Params{A: 1, Gamma50: 1, TD50: 2})
	assert.Equal(t, models.Num(0), eud)
	assert.False(t, prob.Valid)

	eud, prob = Evaluate([]float64{1, 1, 1, 0, 0}, 100, Params{A: 0})
	assert.False(t, eud.Valid)
	assert.False(t, prob.Valid)
}

func TestApplyStoresColumns(t *testing.T) {
	c, err := models.NewCohort(100, []models.Record{
		{MRN: "a", Bins: []float64{1, 1, 1, 0, 0}},
		{MRN: "b", Bins: []float64{0, 0, 0, 0, 0}},
	})
	require.NoError(t, err)

	res, err := Apply(c, Params{A: 1, Gamma50: 1, TD50: 2})
	require.NoError(t, err)

	assert.Equal(t, models.Num(2), res.EUD[0])
	assert.Equal(t, models.Num(0.5), res.NTCPorTCP[0])
	assert.False(t, res.NTCPorTCP[1].Valid)

	col, ok := c.Column(EUDColumn)
	require.True(t, ok)
	assert.Equal(t, res.EUD, col)
	_, ok = c.Column(NTCPColumn)
	assert.True(t, ok)

	_, err = Apply(c, Params{})
	assert.ErrorIs(t, err, ErrInvalidA)
}
