// Package regression fits ordinary least squares models with an intercept
// and reports the diagnostics used to judge them: standard errors, t and F
// tests, R², residuals and a normal probability plot of the residuals.
//
// Fit is a pure function of its inputs; fitting the same data twice gives
// identical results.
package regression

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrInsufficientData is returned when there are not more observations
// than coefficients.
var ErrInsufficientData = errors.New("regression needs more observations than coefficients")

// SingularMatrixError reports a design matrix whose normal equations
// cannot be inverted, typically collinear or constant predictors.
type SingularMatrixError struct {
	Err error
}

func (e *SingularMatrixError) Error() string {
	return fmt.Sprintf("singular design matrix: %v", e.Err)
}

func (e *SingularMatrixError) Unwrap() error {
	return e.Err
}

// Result is the immutable outcome of one fit.
type Result struct {
	// N is the number of observations, P the number of predictors.
	N, P int

	Intercept    float64
	Coefficients []float64

	// StdErr, TValues and PValues have P+1 entries; index 0 is the
	// intercept.
	StdErr  []float64
	TValues []float64
	PValues []float64

	RSquared float64

	// MSE is the mean squared residual over all N observations.
	MSE float64

	FStat   float64
	FPValue float64
	DFModel int
	DFError int

	Predictions []float64
	Residuals   []float64

	// ProbPlot compares the sorted residuals with normal quantiles.
	ProbPlot ProbPlot

	// XTrendProb and YTrendProb are the end points of the least squares
	// line through the probability plot.
	XTrendProb [2]float64
	YTrendProb [2]float64
}

// PredictorPValues returns the p-values of the predictors, without the
// intercept.
func (r *Result) PredictorPValues() []float64 {
	return r.PValues[1:]
}

// Fit regresses y on the columns of x plus an intercept.
//
// Standard errors come from σ²·diag((AᵀA)⁻¹), where A is x with a leading
// column of ones and σ² the residual sum of squares over N-P-1. A singular
// AᵀA is reported as a *SingularMatrixError.
func Fit(x mat.Matrix, y []float64) (*Result, error) {
	n, p := x.Dims()
	if n != len(y) {
		return nil, fmt.Errorf("design matrix has %d rows, y has %d values", n, len(y))
	}
	k := p + 1
	if n <= k {
		return nil, fmt.Errorf("%d observations, %d coefficients: %w", n, k, ErrInsufficientData)
	}

	a := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		a.Set(i, 0, 1)
		for j := 0; j < p; j++ {
			a.Set(i, j+1, x.At(i, j))
		}
	}

	var ata, inv mat.Dense
	ata.Mul(a.T(), a)
	if err := inv.Inverse(&ata); err != nil {
		return nil, &SingularMatrixError{Err: err}
	}

	yv := mat.NewVecDense(n, append([]float64(nil), y...))
	var aty, beta, pred mat.VecDense
	aty.MulVec(a.T(), yv)
	beta.MulVec(&inv, &aty)
	pred.MulVec(a, &beta)

	res := &Result{
		N:            n,
		P:            p,
		Intercept:    beta.AtVec(0),
		Coefficients: make([]float64, p),
		StdErr:       make([]float64, k),
		TValues:      make([]float64, k),
		PValues:      make([]float64, k),
		DFModel:      p,
		DFError:      n - k,
		Predictions:  make([]float64, n),
		Residuals:    make([]float64, n),
	}
	for j := 0; j < p; j++ {
		res.Coefficients[j] = beta.AtVec(j + 1)
	}
	for i := 0; i < n; i++ {
		res.Predictions[i] = pred.AtVec(i)
		res.Residuals[i] = y[i] - res.Predictions[i]
	}

	ssRes := floats.Dot(res.Residuals, res.Residuals)
	mean := stat.Mean(y, nil)
	ssTot := 0.0
	for _, v := range y {
		ssTot += (v - mean) * (v - mean)
	}
	res.MSE = ssRes / float64(n)
	res.RSquared = rSquared(ssRes, ssTot)

	sigma2 := ssRes / float64(res.DFError)
	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(res.DFError)}
	for j := 0; j < k; j++ {
		res.StdErr[j] = math.Sqrt(sigma2 * inv.At(j, j))
		res.TValues[j] = beta.AtVec(j) / res.StdErr[j]
		res.PValues[j] = 2 * tdist.Survival(math.Abs(res.TValues[j]))
	}

	res.FStat = ((ssTot - ssRes) / float64(res.DFModel)) / (ssRes / float64(res.DFError))
	res.FPValue = distuv.F{D1: float64(res.DFModel), D2: float64(res.DFError)}.Survival(res.FStat)

	res.ProbPlot = NewProbPlot(res.Residuals)
	res.XTrendProb, res.YTrendProb = res.ProbPlot.TrendLine()
	return res, nil
}

func rSquared(ssRes, ssTot float64) float64 {
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}
