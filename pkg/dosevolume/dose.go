// Package dosevolume answers dose and volume queries against normalized
// dose-volume histograms, for a single histogram or a whole cohort, and
// builds population curves (percentiles, min/mean/max, quartiles).
//
// Doses are in Gy unless stated otherwise, bin widths in cGy, and single
// histogram volumes are fractions in [0, 1].
package dosevolume

import (
	"errors"
	"math"

	"dvhanalytics/internal/models"
	"dvhanalytics/pkg/interpolation"
)

var (
	// ErrEmptyCohort is returned by aggregate operations on a cohort with
	// no records or no bins.
	ErrEmptyCohort = errors.New("cohort has no DVH data")

	// ErrNoPrescription is returned when a relative-dose operation needs at
	// least one record with a prescription dose and finds none.
	ErrNoPrescription = errors.New("no record has a prescription dose")
)

// DoseToVolume returns the minimum dose in Gy received by relVolume (a
// fraction) of the structure.
//
// When relVolume is below the histogram's last bin the maximum dose the
// histogram can represent is returned instead of extrapolating. Otherwise
// the dose is interpolated between the last bin at or above relVolume and
// the first bin below it.
func DoseToVolume(bins []float64, relVolume float64, binWidth int) float64 {
	n := len(bins)
	if n == 0 {
		return 0
	}
	maxDose := float64(n*binWidth) / 100
	if relVolume < bins[n-1] {
		return maxDose
	}

	high := -1
	for i, v := range bins {
		if v < relVolume {
			high = i
			break
		}
	}
	switch high {
	case -1:
		// the histogram never drops below relVolume
		return maxDose
	case 0:
		return 0
	}

	index := interpolation.Between(relVolume, bins[high-1], bins[high], float64(high-1), float64(high))
	return index * float64(binWidth) / 100
}

// VolumeOfDose returns the fraction of the structure receiving at least
// dose Gy. Doses past the end of the histogram return the last bin.
func VolumeOfDose(bins []float64, dose float64, binWidth int) float64 {
	n := len(bins)
	if n == 0 {
		return 0
	}
	pos := dose * 100 / float64(binWidth)
	if pos <= 0 {
		return bins[0]
	}
	lo, hi := math.Floor(pos), math.Ceil(pos)
	if int(hi) >= n {
		return bins[n-1]
	}
	return interpolation.Between(pos, lo, hi, bins[int(lo)], bins[int(hi)])
}

// GetDoseToVolume evaluates DoseToVolume for every record.
//
// volume is a fraction when volumeScale is Relative and cm³ otherwise.
// With doseScale Relative the result is a percentage of the record's
// prescription. Records without a volume (for absolute input) or without a
// prescription (for relative output) yield 0.
func GetDoseToVolume(c *models.Cohort, volume float64, volumeScale, doseScale models.Scale) []float64 {
	doses := make([]float64, c.Count())
	for i := range c.Records {
		rec := &c.Records[i]

		relVolume := volume
		if volumeScale == models.Absolute {
			if !rec.VolumeCC.NonZero() {
				continue
			}
			relVolume = volume / rec.VolumeCC.Value
		}

		dose := DoseToVolume(rec.Bins, relVolume, c.BinWidth)
		if doseScale == models.Relative {
			if !rec.RxDoseGy.NonZero() {
				continue
			}
			dose = dose * 100 / rec.RxDoseGy.Value
		}
		doses[i] = dose
	}
	return doses
}

// GetVolumeOfDose evaluates VolumeOfDose for every record.
//
// dose is in Gy when doseScale is Absolute and a fraction of the record's
// prescription otherwise. With volumeScale Absolute the result is in cm³,
// else in percent. Records without a prescription yield 0 for relative
// input.
func GetVolumeOfDose(c *models.Cohort, dose float64, doseScale, volumeScale models.Scale) []float64 {
	volumes := make([]float64, c.Count())
	for i := range c.Records {
		rec := &c.Records[i]

		doseGy := dose
		if doseScale == models.Relative {
			if !rec.RxDoseGy.NonZero() {
				continue
			}
			doseGy = dose * rec.RxDoseGy.Value
		}

		v := VolumeOfDose(rec.Bins, doseGy, c.BinWidth)
		if volumeScale == models.Absolute {
			v *= rec.VolumeCC.Or(0)
		} else {
			v *= 100
		}
		volumes[i] = v
	}
	return volumes
}

// XAxis returns the dose in cGy at the center of each bin.
func XAxis(c *models.Cohort) []float64 {
	w := float64(c.BinWidth)
	x := make([]float64, c.BinCount)
	for i := range x {
		x[i] = (float64(i) + 0.5) * w
	}
	return x
}
