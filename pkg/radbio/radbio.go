// Package radbio computes radiobiological summaries of a single DVH:
// generalized equivalent uniform dose (EUD) and the logistic tumour control
// / normal tissue complication probability built on it.
package radbio

import (
	"errors"
	"math"

	"dvhanalytics/internal/models"
	"dvhanalytics/pkg/interpolation"
)

// Column names under which Apply stores its results.
const (
	EUDColumn  = "EUD"
	NTCPColumn = "NTCP or TCP"
	EUDUnits   = "Gy"
	NTCPUnits  = ""
)

var (
	// ErrInvalidA is returned for an EUD a-value of zero.
	ErrInvalidA = errors.New("EUD a-value must be non-zero")

	// ErrZeroEUD is returned when TCP/NTCP is requested for an EUD of zero.
	ErrZeroEUD = errors.New("EUD must be non-zero")
)

// Params are the model parameters for one structure.
type Params struct {
	// A is the volume-effect parameter of the EUD power law.
	A float64 `yaml:"eudA"`

	// Gamma50 is the normalized slope of the dose response at 50%.
	Gamma50 float64 `yaml:"gamma50"`

	// TD50 is TD50 for normal tissue or TCD50 for tumour, in Gy.
	TD50 float64 `yaml:"td50"`
}

// Validate checks the preconditions CalcEUD leaves to its caller.
func (p Params) Validate() error {
	if p.A == 0 {
		return ErrInvalidA
	}
	return nil
}

// CalcEUD returns the EUD in Gy of a cumulative histogram with bins of
// binWidth cGy:
//
//	EUD = (Σ vᵢ · Dᵢᵃ)^(1/a)
//
// vᵢ is the differential volume (the negative gradient of the cumulative
// histogram) and Dᵢ = i·binWidth − binWidth/2 the dose at bin i. The cGy
// result is rounded to 2 decimals before conversion to Gy.
//
// The caller must ensure a != 0.
func CalcEUD(bins []float64, a float64, binWidth int) float64 {
	v := interpolation.Gradient(bins)
	w := float64(binWidth)

	sum := 0.0
	for i, dv := range v {
		if dv == 0 {
			continue
		}
		center := float64(i)*w - w/2
		sum += -dv * math.Pow(center, a)
	}
	eud := math.Pow(sum, 1/a)
	return math.Round(eud*100) / 100 / 100
}

// CalcTCP returns the logistic dose response
//
//	1 / (1 + (td50 / eud)^(4·gamma50))
//
// used for both TCP (td50 = TCD50) and NTCP (td50 = TD50). The caller must
// ensure eud != 0.
func CalcTCP(gamma50, td50, eud float64) float64 {
	return 1 / (1 + math.Pow(td50/eud, 4*gamma50))
}

// CheckedTCP is CalcTCP with the eud precondition enforced.
func CheckedTCP(gamma50, td50, eud float64) (float64, error) {
	if eud == 0 {
		return 0, ErrZeroEUD
	}
	return CalcTCP(gamma50, td50, eud), nil
}

// Result holds the per-record output of Apply. Values that could not be
// computed are missing.
type Result struct {
	EUD       []models.Number
	NTCPorTCP []models.Number
}

// Evaluate computes EUD and NTCP/TCP for one histogram. Non-finite results
// and a zero EUD are reported as missing rather than as errors.
func Evaluate(bins []float64, binWidth int, p Params) (eud, prob models.Number) {
	if p.A == 0 {
		return models.Missing(), models.Missing()
	}
	e := CalcEUD(bins, p.A, binWidth)
	if math.IsNaN(e) || math.IsInf(e, 0) {
		return models.Missing(), models.Missing()
	}
	eud = models.Num(e)
	if e == 0 {
		return eud, models.Missing()
	}
	t := CalcTCP(p.Gamma50, p.TD50, e)
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return eud, models.Missing()
	}
	return eud, models.Num(math.Round(t*1000) / 1000)
}

// Apply evaluates every record independently and stores the results as the
// EUD and NTCP/TCP cohort columns. An invalid a-value is a caller error and
// is returned before anything is stored.
func Apply(c *models.Cohort, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	res := &Result{
		EUD:       make([]models.Number, c.Count()),
		NTCPorTCP: make([]models.Number, c.Count()),
	}
	for i := range c.Records {
		res.EUD[i], res.NTCPorTCP[i] = Evaluate(c.Records[i].Bins, c.BinWidth, p)
	}
	if err := c.SetColumn(EUDColumn, res.EUD); err != nil {
		return nil, err
	}
	if err := c.SetColumn(NTCPColumn, res.NTCPorTCP); err != nil {
		return nil, err
	}
	return res, nil
}
