// Package analysis runs the DVH pipeline: it loads a cohort from a data
// source, evaluates the configured endpoints and radiobiology, builds the
// per-record variable set and answers statistical queries on it.
package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"dvhanalytics/internal/models"
	"dvhanalytics/pkg/cohortstats"
	"dvhanalytics/pkg/config"
	"dvhanalytics/pkg/controlchart"
	"dvhanalytics/pkg/datasource"
	"dvhanalytics/pkg/dosevolume"
	"dvhanalytics/pkg/histogram"
	"dvhanalytics/pkg/radbio"
	"dvhanalytics/pkg/regression"
	"dvhanalytics/pkg/timeseries"
)

// ErrNotLoaded is returned by queries made before Load and Process.
var ErrNotLoaded = errors.New("analysis: cohort not loaded")

// Params holds the pipeline configuration.
type Params struct {
	// Config supplies bin stride, endpoints, radbio and statistics
	// parameters. Nil means config.DefaultConfig().
	Config *config.Config

	// Source provides the DVH, plan and beam rows.
	Source datasource.Source

	// Logger receives one entry per pipeline step. The zero value
	// discards output.
	Logger zerolog.Logger
}

// Analyzer holds one queried cohort and everything derived from it.
//
// The pipeline consists of:
// 1. Loading the matching rows and decoding their histograms
// 2. Evaluating the configured DVH endpoints
// 3. Evaluating EUD and NTCP/TCP
// 4. Building the per-record variable set
//
// An Analyzer is not safe for concurrent use.
type Analyzer struct {
	params *Params
	cfg    *config.Config
	log    zerolog.Logger

	dataset  *datasource.Dataset
	cohort   *models.Cohort
	failures []*histogram.RecordError
	set      *cohortstats.Set
}

// NewAnalyzer creates an analyzer for params.
func NewAnalyzer(params *Params) *Analyzer {
	cfg := params.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Analyzer{params: params, cfg: cfg, log: params.Logger}
}

// Load queries the source and builds the cohort. Rows whose histogram
// cannot be decoded are skipped and reported by Failures.
func (a *Analyzer) Load(ctx context.Context, q datasource.Query) error {
	if a.params.Source == nil {
		return errors.New("analysis: no data source")
	}

	a.log.Info().Msg("Step 1: Loading DVHs...")
	ds, err := a.params.Source.Load(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}

	opts := histogram.Options{
		BinStride: a.cfg.Histogram.BinStride,
		Delimiter: a.cfg.Histogram.Delimiter,
		Workers:   a.cfg.Histogram.Workers,
	}
	cohort, failures, err := histogram.BuildLenient(ds.DVHs, opts, a.log)
	if err != nil {
		return fmt.Errorf("failed to build cohort: %w", err)
	}

	a.dataset, a.cohort, a.failures, a.set = ds, cohort, failures, nil
	a.log.Info().
		Int("dvhs", cohort.Count()).
		Int("studies", cohort.StudyCount()).
		Int("skipped", len(failures)).
		Msg("cohort loaded")
	return nil
}

// Process evaluates endpoints and radiobiology on the loaded cohort and
// builds the variable set.
func (a *Analyzer) Process(ctx context.Context) error {
	if a.cohort == nil {
		return ErrNotLoaded
	}

	a.log.Info().Int("endpoints", len(a.cfg.Endpoints)).Msg("Step 2: Calculating endpoints...")
	if err := dosevolume.CalculateEndpoints(a.cohort, a.cfg.Endpoints, a.cfg.Histogram.Workers); err != nil {
		return fmt.Errorf("failed to calculate endpoints: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.log.Info().
		Float64("a", a.cfg.Radbio.A).
		Float64("gamma50", a.cfg.Radbio.Gamma50).
		Float64("td50", a.cfg.Radbio.TD50).
		Msg("Step 3: Calculating EUD and NTCP/TCP...")
	if _, err := radbio.Apply(a.cohort, a.cfg.Radbio); err != nil {
		return fmt.Errorf("failed to apply radbio: %w", err)
	}

	a.log.Info().Msg("Step 4: Building variable set...")
	set, err := cohortstats.FromCohort(a.cohort, a.dataset.Tables)
	if err != nil {
		return fmt.Errorf("failed to build variable set: %w", err)
	}
	removed, err := set.UpdateEndpointsAndRadbio(a.cohort, a.cfg.Endpoints)
	if err != nil {
		return fmt.Errorf("failed to add derived variables: %w", err)
	}
	for _, name := range removed {
		a.log.Debug().Str("variable", name).Msg("removed variable without variation")
	}
	a.set = set
	a.log.Info().Int("variables", len(set.Variables())).Msg("analysis ready")
	return nil
}

// Run loads and processes in one call.
func (a *Analyzer) Run(ctx context.Context, q datasource.Query) error {
	if err := a.Load(ctx, q); err != nil {
		return err
	}
	return a.Process(ctx)
}

// Cohort returns the loaded cohort.
func (a *Analyzer) Cohort() *models.Cohort {
	return a.cohort
}

// Set returns the variable set built by Process.
func (a *Analyzer) Set() *cohortstats.Set {
	return a.set
}

// Failures returns the rows skipped by Load.
func (a *Analyzer) Failures() []*histogram.RecordError {
	return a.failures
}

// Summary describes the loaded cohort.
func (a *Analyzer) Summary() (dosevolume.Summary, error) {
	if a.cohort == nil {
		return dosevolume.Summary{}, ErrNotLoaded
	}
	return dosevolume.Summarize(a.cohort), nil
}

// StatCurves returns the population DVHs of the loaded cohort.
func (a *Analyzer) StatCurves(doseScale, volumeScale models.Scale) (*dosevolume.StatCurves, error) {
	if a.cohort == nil {
		return nil, ErrNotLoaded
	}
	return dosevolume.StandardStatCurves(a.cohort, doseScale, volumeScale, a.cfg.Histogram.ResampledBinCount)
}

// EndpointNames returns the labels of the configured endpoints that
// survived validation, followed by the radbio variables.
func (a *Analyzer) EndpointNames() []string {
	if a.set == nil {
		return nil
	}
	var names []string
	for _, def := range a.cfg.Endpoints {
		if a.set.Has(def.Label()) {
			names = append(names, def.Label())
		}
	}
	return names
}

// RadbioNames returns the EUD and NTCP/TCP variables present in the set.
func (a *Analyzer) RadbioNames() []string {
	if a.set == nil {
		return nil
	}
	var names []string
	for _, n := range []string{radbio.EUDColumn, radbio.NTCPColumn} {
		if a.set.Has(n) {
			names = append(names, n)
		}
	}
	return names
}

// RegressionReport is a fitted model with the predictors removed by
// backward elimination, if it ran.
type RegressionReport struct {
	Y       string
	Names   []string
	Removed []string
	Result  *regression.Result
	Design  *cohortstats.Design
}

// Regression fits y on xs over the complete records. Backward elimination
// runs when enabled in the configuration.
func (a *Analyzer) Regression(y string, xs []string) (*RegressionReport, error) {
	if a.set == nil {
		return nil, ErrNotLoaded
	}
	d, err := a.set.XAndY(y, xs)
	if err != nil {
		return nil, err
	}
	model, err := regression.NewModel(d.X, d.Y, d.Names)
	if err != nil {
		return nil, err
	}

	rep := &RegressionReport{Y: y, Design: d}
	if a.cfg.Regression.BackwardElimination {
		rep.Removed, err = model.BackwardElimination(a.cfg.Regression.PThreshold)
		if err != nil {
			return nil, err
		}
		for _, name := range rep.Removed {
			a.log.Debug().Str("variable", name).Msg("backward elimination removed predictor")
		}
	}
	rep.Names = model.Names()
	rep.Result = model.Result()
	a.log.Info().
		Str("y", y).
		Int("n", rep.Result.N).
		Float64("r2", rep.Result.RSquared).
		Msg("regression fitted")
	return rep, nil
}

// ControlChart charts variable over study index. With adjust predictors
// the residuals of a regression on them are charted instead.
func (a *Analyzer) ControlChart(variable string, adjust []string) (*controlchart.Chart, *regression.Result, error) {
	if a.set == nil {
		return nil, nil, ErrNotLoaded
	}
	if len(adjust) > 0 {
		return controlchart.NewAdjustedChart(a.set, variable, adjust, a.cfg.ControlChart.StdDevs)
	}
	chart, err := controlchart.NewChart(a.set, variable, a.cfg.ControlChart.StdDevs)
	return chart, nil, err
}

// Correlation computes the correlation matrix of vars. No vars means every
// variable of the set.
func (a *Analyzer) Correlation(vars []string) (*cohortstats.Correlation, error) {
	if a.set == nil {
		return nil, ErrNotLoaded
	}
	if len(vars) == 0 {
		vars = a.set.Variables()
	}
	return a.set.CorrelationMatrix(vars)
}

// Trend follows variable over simulation date.
func (a *Analyzer) Trend(variable string) (*timeseries.Trend, error) {
	if a.set == nil {
		return nil, ErrNotLoaded
	}
	return timeseries.NewTrend(a.set, variable, timeseries.Options{
		AverageLength: a.cfg.ControlChart.AverageLength,
		Percentile:    a.cfg.ControlChart.Percentile,
	})
}
