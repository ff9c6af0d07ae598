package dosevolume

import (
	"fmt"
	"math"

	"dvhanalytics/internal/models"
	"dvhanalytics/pkg/interpolation"
)

// DefaultResampledBinCount is the number of output bins per 100% of
// prescription.
const DefaultResampledBinCount = 5000

// Resampled holds histograms mapped onto a shared relative-dose axis.
type Resampled struct {
	// XAxis is the bin center as a fraction of prescription dose.
	XAxis []float64

	// Bins holds one resampled histogram per record, in record order.
	Bins [][]float64
}

// Resample rescales every record's dose axis by its own prescription so
// that bin k corresponds to k/binsPerRx of the prescription, then linearly
// interpolates each record onto that shared axis.
//
// The axis is long enough to cover the full histogram of the record with
// the smallest prescription. Records without a prescription resample to
// all-zero rows.
func Resample(c *models.Cohort, binsPerRx int) (*Resampled, error) {
	if binsPerRx <= 0 {
		return nil, fmt.Errorf("resampled bin count must be positive, got %d", binsPerRx)
	}
	if !c.HasData() || c.BinCount == 0 {
		return nil, ErrEmptyCohort
	}

	minRx := math.Inf(1)
	for i := range c.Records {
		if rx := c.Records[i].RxDoseGy; rx.Valid && rx.Value > 0 {
			minRx = math.Min(minRx, rx.Value)
		}
	}
	if math.IsInf(minRx, 1) {
		return nil, ErrNoPrescription
	}

	maxDoseCGy := float64(c.BinCount * c.BinWidth)
	n := int(maxDoseCGy / (minRx * 100) * float64(binsPerRx))
	if n < 1 {
		n = 1
	}

	doseAxis := make([]float64, c.BinCount)
	for i := range doseAxis {
		doseAxis[i] = float64(i * c.BinWidth)
	}

	out := &Resampled{
		XAxis: make([]float64, n),
		Bins:  make([][]float64, c.Count()),
	}
	for k := range out.XAxis {
		out.XAxis[k] = (float64(k) + 0.5) / float64(binsPerRx)
	}

	target := make([]float64, n)
	for i := range c.Records {
		rec := &c.Records[i]
		if !rec.RxDoseGy.Valid || rec.RxDoseGy.Value <= 0 {
			out.Bins[i] = make([]float64, n)
			continue
		}
		rxCGy := rec.RxDoseGy.Value * 100
		for k := range target {
			target[k] = float64(k) * rxCGy / float64(binsPerRx)
		}
		row, err := interpolation.Interp(target, doseAxis, rec.Bins)
		if err != nil {
			return nil, fmt.Errorf("resample record %d: %w", i, err)
		}
		out.Bins[i] = row
	}
	return out, nil
}
