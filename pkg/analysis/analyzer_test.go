package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dvhanalytics/internal/models"
	"dvhanalytics/pkg/config"
	"dvhanalytics/pkg/datasource"
	"dvhanalytics/pkg/dosevolume"
	"dvhanalytics/pkg/radbio"
)

type fakeSource struct {
	ds     *datasource.Dataset
	err    error
	query  datasource.Query
	closed bool
}

func (f *fakeSource) Load(_ context.Context, q datasource.Query) (*datasource.Dataset, error) {
	f.query = q
	return f.ds, f.err
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

// dvhString returns a cumulative histogram with n full bins followed by a
// zero bin.
func dvhString(n int) string {
	parts := make([]string, n+1)
	for i := 0; i < n; i++ {
		parts[i] = "100"
	}
	parts[n] = "0"
	return strings.Join(parts, ",")
}

func testDataset() *datasource.Dataset {
	volumes := []float64{40, 43, 46, 49, 52, 55}
	meanDoses := []float64{10.1, 12.3, 13.8, 16.2, 18.1, 19.7}
	maxDoses := []float64{60, 72, 65, 70, 61, 68}

	ds := &datasource.Dataset{}
	for i := range volumes {
		ds.DVHs = append(ds.DVHs, models.RawRecord{
			MRN:              fmt.Sprintf("m%d", i),
			StudyInstanceUID: fmt.Sprintf("u%d", i),
			ROIName:          "Rectum",
			ROIType:          "OAR",
			PhysicianROI:     "rectum",
			DVHString:        dvhString(3 + i),
			VolumeCC:         models.Num(volumes[i]),
			RxDoseGy:         models.Num(70),
			SimStudyDate:     fmt.Sprintf("2020-01-0%d", i+1),
			Scalars: map[string]models.Number{
				"mean_dose": models.Num(meanDoses[i]),
				"max_dose":  models.Num(maxDoses[i]),
			},
		})
	}
	ds.DVHs = append(ds.DVHs, models.RawRecord{MRN: "bad", StudyInstanceUID: "ux", DVHString: "a,b", SimStudyDate: "None"})
	return ds
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Histogram.BinStride = 1
	cfg.Endpoints = []models.EndpointDef{
		{Output: models.DoseQuantity, InputValue: 50, InputScale: models.Relative, OutputScale: models.Absolute},
	}
	return cfg
}

func newTestAnalyzer(t *testing.T, cfg *config.Config) *Analyzer {
	t.Helper()
	a := NewAnalyzer(&Params{Config: cfg, Source: &fakeSource{ds: testDataset()}, Logger: zerolog.Nop()})
	require.NoError(t, a.Run(context.Background(), datasource.Query{PhysicianROI: "rectum"}))
	return a
}

func TestAnalyzerRun(t *testing.T) {
	a := newTestAnalyzer(t, testConfig())

	assert.Equal(t, 6, a.Cohort().Count())
	require.Len(t, a.Failures(), 1)
	assert.Equal(t, "bad", a.Failures()[0].MRN)

	set := a.Set()
	require.NotNil(t, set)
	for _, name := range []string{"ROI Volume", "ROI Mean Dose", "ROI Max Dose", "D_50%", radbio.EUDColumn} {
		assert.True(t, set.Has(name), name)
	}
	// constant across the cohort
	assert.False(t, set.Has("Rx Dose"))

	assert.Equal(t, []string{"D_50%"}, a.EndpointNames())
	assert.Contains(t, a.RadbioNames(), radbio.EUDColumn)

	d50, err := set.Series("D_50%")
	require.NoError(t, err)
	// three full 1 cGy bins then zero: 50% is crossed at 2.5 cGy
	assert.InDelta(t, 0.025, d50.Values[0].Value, 1e-9)
	assert.Equal(t, "Gy", d50.Units)

	summary, err := a.Summary()
	require.NoError(t, err)
	assert.Equal(t, 6, summary.StudyCount)
	assert.InDelta(t, 47.5, summary.Volume.Mean, 1e-9)
}

func TestAnalyzerPassesQuery(t *testing.T) {
	src := &fakeSource{ds: testDataset()}
	a := NewAnalyzer(&Params{Source: src, Config: testConfig()})
	require.NoError(t, a.Load(context.Background(), datasource.Query{ROIType: "OAR", MRNs: []string{"m1"}}))
	assert.Equal(t, "OAR", src.query.ROIType)
	assert.Equal(t, []string{"m1"}, src.query.MRNs)
}

func TestAnalyzerQueries(t *testing.T) {
	a := newTestAnalyzer(t, testConfig())

	rep, err := a.Regression("ROI Mean Dose", []string{"ROI Volume"})
	require.NoError(t, err)
	assert.Equal(t, 6, rep.Result.N)
	assert.Equal(t, []string{"ROI Volume"}, rep.Names)
	assert.Empty(t, rep.Removed)
	assert.Greater(t, rep.Result.RSquared, 0.95)

	chart, fit, err := a.ControlChart("ROI Volume", nil)
	require.NoError(t, err)
	assert.Nil(t, fit)
	require.Len(t, chart.Points, 6)
	assert.Equal(t, "m0", chart.Points[0].MRN)

	adjusted, fit, err := a.ControlChart("ROI Mean Dose", []string{"ROI Volume"})
	require.NoError(t, err)
	require.NotNil(t, fit)
	assert.Equal(t, "ROI Mean Dose residuals", adjusted.Variable)

	corr, err := a.Correlation([]string{"ROI Volume", "ROI Mean Dose"})
	require.NoError(t, err)
	pair, ok := corr.Pair("ROI Mean Dose", "ROI Volume")
	require.True(t, ok)
	assert.Greater(t, pair.R, 0.95)

	all, err := a.Correlation(nil)
	require.NoError(t, err)
	assert.Equal(t, a.Set().Variables(), all.Variables)

	tr, err := a.Trend("ROI Volume")
	require.NoError(t, err)
	assert.Len(t, tr.Points, 6)

	curves, err := a.StatCurves(models.Absolute, models.Relative)
	require.NoError(t, err)
	assert.Len(t, curves.Mean, a.Cohort().BinCount)
}

func TestAnalyzerBackwardElimination(t *testing.T) {
	cfg := testConfig()
	cfg.Regression.BackwardElimination = true
	a := newTestAnalyzer(t, cfg)

	rep, err := a.Regression("ROI Mean Dose", []string{"ROI Volume", "ROI Max Dose"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ROI Max Dose"}, rep.Removed)
	assert.Equal(t, []string{"ROI Volume"}, rep.Names)
	assert.Len(t, rep.Result.Coefficients, 1)
}

func TestAnalyzerNotLoaded(t *testing.T) {
	a := NewAnalyzer(&Params{Source: &fakeSource{}})

	assert.ErrorIs(t, a.Process(context.Background()), ErrNotLoaded)
	_, err := a.Summary()
	assert.ErrorIs(t, err, ErrNotLoaded)
	_, err = a.Regression("a", []string{"b"})
	assert.ErrorIs(t, err, ErrNotLoaded)
	_, _, err = a.ControlChart("a", nil)
	assert.ErrorIs(t, err, ErrNotLoaded)
	_, err = a.Correlation(nil)
	assert.ErrorIs(t, err, ErrNotLoaded)
	_, err = a.Trend("a")
	assert.ErrorIs(t, err, ErrNotLoaded)
	assert.Nil(t, a.EndpointNames())
}

func TestAnalyzerLoadErrors(t *testing.T) {
	a := NewAnalyzer(&Params{Source: &fakeSource{err: datasource.ErrNoRecords}})
	assert.ErrorIs(t, a.Load(context.Background(), datasource.Query{}), datasource.ErrNoRecords)

	a = NewAnalyzer(&Params{})
	assert.Error(t, a.Load(context.Background(), datasource.Query{}))

	onlyBad := &datasource.Dataset{DVHs: []models.RawRecord{{MRN: "bad", DVHString: "x"}}}
	a = NewAnalyzer(&Params{Source: &fakeSource{ds: onlyBad}})
	assert.Error(t, a.Load(context.Background(), datasource.Query{}))
}

func TestAnalyzerInvalidRadbio(t *testing.T) {
	cfg := testConfig()
	cfg.Radbio.A = 0
	a := NewAnalyzer(&Params{Config: cfg, Source: &fakeSource{ds: testDataset()}})
	require.NoError(t, a.Load(context.Background(), datasource.Query{}))
	assert.ErrorIs(t, a.Process(context.Background()), radbio.ErrInvalidA)
}

func TestSubmitWait(t *testing.T) {
	a := NewAnalyzer(&Params{Config: testConfig(), Source: &fakeSource{ds: testDataset()}})
	task := Submit(context.Background(), func(ctx context.Context) (int, error) {
		if err := a.Run(ctx, datasource.Query{}); err != nil {
			return 0, err
		}
		return a.Cohort().Count(), nil
	})
	n, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestSubmitErrorAndPanic(t *testing.T) {
	boom := errors.New("boom")
	_, err := Submit(context.Background(), func(context.Context) (string, error) {
		return "", boom
	}).Wait(context.Background())
	assert.ErrorIs(t, err, boom)

	_, err = Submit(context.Background(), func(context.Context) (string, error) {
		panic("singular")
	}).Wait(context.Background())
	assert.ErrorContains(t, err, "singular")
}

func TestTaskWaitCancelled(t *testing.T) {
	release := make(chan struct{})
	task := Submit(context.Background(), func(context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := task.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-task.Done()
	n, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAnalyzerStatCurvesUseResampledBinCount(t *testing.T) {
	cfg := testConfig()
	cfg.Histogram.ResampledBinCount = 70000
	a := newTestAnalyzer(t, cfg)

	curves, err := a.StatCurves(models.Relative, models.Relative)
	require.NoError(t, err)
	want, err := dosevolume.StandardStatCurves(a.Cohort(), models.Relative, models.Relative, 70000)
	require.NoError(t, err)
	assert.Len(t, curves.XAxis, len(want.XAxis))

	def, err := dosevolume.StandardStatCurves(a.Cohort(), models.Relative, models.Relative, 0)
	require.NoError(t, err)
	assert.Greater(t, len(curves.XAxis), len(def.XAxis))
}
