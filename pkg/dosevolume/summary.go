package dosevolume

import (
	"github.com/montanaflynn/stats"

	"dvhanalytics/internal/models"
)

// Range is the min, mean and max of a per-record scalar. Count is the
// number of records that had a value.
type Range struct {
	Min, Mean, Max float64
	Count          int
}

// Summary describes a queried cohort.
type Summary struct {
	StudyCount            int
	DVHCount              int
	InstitutionalROICount int
	PhysicianROICount     int
	ROITypeCount          int

	RxDose   Range
	Volume   Range
	MinDose  Range
	MeanDose Range
	MaxDose  Range
}

// Summarize collects counts and scalar ranges for a cohort.
func Summarize(c *models.Cohort) Summary {
	inst := make(map[string]struct{})
	phys := make(map[string]struct{})
	types := make(map[string]struct{})
	for i := range c.Records {
		inst[c.Records[i].InstitutionalROI] = struct{}{}
		phys[c.Records[i].PhysicianROI] = struct{}{}
		types[c.Records[i].ROIType] = struct{}{}
	}

	return Summary{
		StudyCount:            c.StudyCount(),
		DVHCount:              c.Count(),
		InstitutionalROICount: len(inst),
		PhysicianROICount:     len(phys),
		ROITypeCount:          len(types),
		RxDose:                rangeOf(c.Scalar("rx_dose")),
		Volume:                rangeOf(c.Scalar("volume")),
		MinDose:               rangeOf(c.Scalar("min_dose")),
		MeanDose:              rangeOf(c.Scalar("mean_dose")),
		MaxDose:               rangeOf(c.Scalar("max_dose")),
	}
}

func rangeOf(values []models.Number) Range {
	data := stats.Float64Data(models.Present(values))
	if data.Len() == 0 {
		return Range{}
	}
	lo, _ := data.Min()
	mean, _ := data.Mean()
	hi, _ := data.Max()
	return Range{Min: lo, Mean: mean, Max: hi, Count: data.Len()}
}
