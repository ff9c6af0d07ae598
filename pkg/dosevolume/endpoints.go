package dosevolume

import (
	"golang.org/x/sync/errgroup"

	"dvhanalytics/internal/models"
)

// Endpoint evaluates one endpoint definition over the cohort. Relative
// inputs are given in percent.
func Endpoint(c *models.Cohort, def models.EndpointDef) []float64 {
	x := def.InputValue
	if def.InputScale == models.Relative {
		x /= 100
	}
	if def.Output == models.VolumeQuantity {
		return GetVolumeOfDose(c, x, def.InputScale, def.OutputScale)
	}
	return GetDoseToVolume(c, x, def.InputScale, def.OutputScale)
}

// CalculateEndpoints evaluates every definition and stores each result as
// a cohort column named by the endpoint's label. Definitions are evaluated
// concurrently, at most workers at a time; zero or less means no limit.
// The cohort's bins are only read.
func CalculateEndpoints(c *models.Cohort, defs []models.EndpointDef, workers int) error {
	results := make([][]float64, len(defs))

	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, def := range defs {
		i, def := i, def
		g.Go(func() error {
			results[i] = Endpoint(c, def)
			return nil
		})
	}
	_ = g.Wait()

	for i, def := range defs {
		if err := c.SetColumn(def.Label(), models.Numbers(results[i])); err != nil {
			return err
		}
	}
	return nil
}
