package export

import (
	"bytes"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/mat"

	"dvhanalytics/internal/models"
	"dvhanalytics/pkg/cohortstats"
	"dvhanalytics/pkg/controlchart"
	"dvhanalytics/pkg/dosevolume"
	"dvhanalytics/pkg/regression"
)

func testSet(t *testing.T) *cohortstats.Set {
	t.Helper()
	day := func(s string) models.Number {
		d, ok := models.ParseDate(s)
		return models.DateNumber(d, ok)
	}
	s, err := cohortstats.New(
		[]string{"u1", "u2", "u3"},
		[]string{"m1", "m2", "m3"},
		[]models.Number{day("2020-01-02"), models.Missing(), day("2020-03-04")},
	)
	require.NoError(t, err)
	require.NoError(t, s.AddVariable("Rx Dose", []models.Number{models.Num(70), models.Num(79.2), models.Missing()}, "Gy"))
	require.NoError(t, s.AddVariable("Birth Date", []models.Number{day("1950-05-06"), models.Missing(), models.Missing()}, ""))
	return s
}

func readCSV(t *testing.T, s string) [][]string {
	t.Helper()
	r := csv.NewReader(strings.NewReader(s))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteSeriesCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSeriesCSV(&buf, testSet(t), []string{"Rx Dose", "Birth Date"}))

	rows := readCSV(t, buf.String())
	assert.Equal(t, [][]string{
		{"MRN", "Study Instance UID", "Simulation Date", "Rx Dose (Gy)", "Birth Date"},
		{"m1", "u1", "2020-01-02", "70.00", "1950-05-06"},
		{"m2", "u2", "None", "79.20", "None"},
		{"m3", "u3", "2020-03-04", "None", "None"},
	}, rows)
}

func TestWriteSeriesCSVUnknownVariable(t *testing.T) {
	var buf bytes.Buffer
	err := WriteSeriesCSV(&buf, testSet(t), []string{"Nope"})
	assert.ErrorIs(t, err, cohortstats.ErrUnknownVariable)
}

func TestWriteRegressionCSV(t *testing.T) {
	x := mat.NewDense(5, 1, []float64{1, 2, 3, 4, 5})
	res, err := regression.Fit(x, []float64{2.2, 2.8, 3.6, 4.5, 5.1})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteRegressionCSV(&buf, "Mean Dose", []string{"Volume"}, res))

	rows := readCSV(t, buf.String())
	assert.Equal(t, []string{"Variable", "Coef", "Std. Err.", "t-value", "p-value"}, rows[0])
	assert.Equal(t, []string{"y-int", "1.39", "0.10"}, rows[1][:3])
	assert.Equal(t, []string{"Volume", "0.75", "0.03", "25.00"}, rows[2][:4])
	assert.Contains(t, rows, []string{"Dependent", "Mean Dose"})
	assert.Contains(t, rows, []string{"N", "5"})
	assert.Contains(t, rows, []string{"MSE", "0.0054"})
	assert.Contains(t, rows, []string{"DF error", "3"})
}

func TestWriteControlChartCSV(t *testing.T) {
	s := testSet(t)
	require.NoError(t, s.AddVariable("Volume", []models.Number{models.Num(10), models.Num(12), models.Num(9)}, "cm³"))
	chart, err := controlchart.NewChart(s, "Volume", controlchart.DefaultStdDevs)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteControlChartCSV(&buf, chart))

	rows := readCSV(t, buf.String())
	require.Len(t, rows, 4)
	assert.Equal(t, "Volume", rows[0][4])
	// records are charted in simulation date order, undated last
	assert.Equal(t, []string{"1", "m1", "u1", "2020-01-02", "10.00"}, rows[1][:5])
	assert.Equal(t, []string{"2", "m3", "u3", "2020-03-04", "9.00"}, rows[2][:5])
	assert.Equal(t, []string{"3", "m2", "u2", "None", "12.00"}, rows[3][:5])
	assert.Equal(t, "false", rows[1][8])
}

func TestCurvesSheet(t *testing.T) {
	sh := CurvesSheet(&dosevolume.StatCurves{
		XAxis: []float64{0.5, 1.5},
		Min:   []float64{1, 0.2},
		Q1:    []float64{1, 0.3},
		Mean:  []float64{1, 0.45},
		Max:   []float64{1, 0.9},
	})
	require.Len(t, sh.Rows, 2)
	assert.Equal(t, []string{"1.50", "0.20", "0.30", "0.45", "", "", "0.90"}, sh.Rows[1])
}

func TestWriteWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.xlsx")
	series, err := SeriesSheet(testSet(t), []string{"Rx Dose"})
	require.NoError(t, err)
	other := Sheet{Name: "Notes", Headers: []string{"k", "v"}, Rows: [][]string{{"a", "NaN"}}}
	require.NoError(t, WriteWorkbook(path, series, other))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Variables", "Notes"}, f.GetSheetList())
	rows, err := f.GetRows("Variables")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Rx Dose (Gy)", rows[0][3])
	assert.Equal(t, "79.2", rows[2][3])

	notes, err := f.GetRows("Notes")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "NaN"}, notes[1])
}

func TestWriteWorkbookNoSheets(t *testing.T) {
	assert.Error(t, WriteWorkbook(filepath.Join(t.TempDir(), "empty.xlsx")))
}

func TestWriterSave(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, FormatBoth)
	require.NoError(t, err)

	sh := Sheet{Name: "Control Chart", Headers: []string{"a"}, Rows: [][]string{{"1"}}}
	paths, err := w.Save("volume", sh)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "volume_control_chart.csv"),
		filepath.Join(dir, "volume.xlsx"),
	}, paths)
	assert.FileExists(t, paths[0])
	assert.FileExists(t, paths[1])

	_, err = NewWriter(dir, "pdf")
	assert.Error(t, err)
}
