// Package export writes computed series, regression results and control
// charts as CSV files or as sheets of one XLSX workbook.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"dvhanalytics/internal/models"
	"dvhanalytics/pkg/cohortstats"
	"dvhanalytics/pkg/controlchart"
	"dvhanalytics/pkg/dosevolume"
	"dvhanalytics/pkg/regression"
)

// Decimals is the precision of every exported float.
const Decimals = 2

// Output formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatBoth = "both"
)

// Sheet is one exported table.
type Sheet struct {
	Name    string
	Headers []string
	Rows    [][]string
}

// SeriesSheet lays out the named variables row-per-record next to the
// record's MRN, study UID and simulation date. Date variables are written
// as ISO dates.
func SeriesSheet(s *cohortstats.Set, names []string) (Sheet, error) {
	sh := Sheet{
		Name:    "Variables",
		Headers: []string{"MRN", "Study Instance UID", cohortstats.SimulationDate},
	}
	series := make([]models.Series, len(names))
	for i, name := range names {
		v, err := s.Series(name)
		if err != nil {
			return Sheet{}, err
		}
		series[i] = v
		sh.Headers = append(sh.Headers, s.AxisTitle(name))
	}

	mrns, uids, dates := s.MRNs(), s.UIDs(), s.SimStudyDates()
	for i := 0; i < s.Count(); i++ {
		row := []string{mrns[i], uids[i], models.FormatDate(dates[i])}
		for _, v := range series {
			row = append(row, formatValue(v.Values[i], v.Date))
		}
		sh.Rows = append(sh.Rows, row)
	}
	return sh, nil
}

// RegressionSheet lists the coefficient table of a fit of y on names
// followed by the model statistics.
func RegressionSheet(y string, names []string, r *regression.Result) Sheet {
	sh := Sheet{
		Name:    "Regression",
		Headers: []string{"Variable", "Coef", "Std. Err.", "t-value", "p-value"},
	}
	coef := append([]float64{r.Intercept}, r.Coefficients...)
	labels := append([]string{"y-int"}, names...)
	for i, label := range labels {
		sh.Rows = append(sh.Rows, []string{
			label,
			formatFloat(coef[i]),
			formatFloat(r.StdErr[i]),
			formatFloat(r.TValues[i]),
			strconv.FormatFloat(r.PValues[i], 'g', 4, 64),
		})
	}
	sh.Rows = append(sh.Rows,
		[]string{},
		[]string{"Dependent", y},
		[]string{"N", strconv.Itoa(r.N)},
		[]string{"R²", strconv.FormatFloat(r.RSquared, 'f', 4, 64)},
		[]string{"MSE", strconv.FormatFloat(r.MSE, 'f', 4, 64)},
		[]string{"F-stat", formatFloat(r.FStat)},
		[]string{"F p-value", strconv.FormatFloat(r.FPValue, 'g', 4, 64)},
		[]string{"DF model", strconv.Itoa(r.DFModel)},
		[]string{"DF error", strconv.Itoa(r.DFError)},
	)
	return sh
}

// ControlChartSheet lists each charted point with its limits.
func ControlChartSheet(c *controlchart.Chart) Sheet {
	sh := Sheet{
		Name:    "Control Chart",
		Headers: []string{"Index", "MRN", "Study Instance UID", cohortstats.SimulationDate, c.Variable, "Center", "UCL", "LCL", "Out of Control"},
	}
	for _, p := range c.Points {
		sh.Rows = append(sh.Rows, []string{
			strconv.Itoa(p.Index),
			p.MRN,
			p.UID,
			models.FormatDate(p.Date),
			formatFloat(p.Value),
			formatFloat(c.Limits.Center),
			formatFloat(c.Limits.UCL),
			formatFloat(c.Limits.LCL),
			strconv.FormatBool(p.OutOfControl),
		})
	}
	return sh
}

// CurvesSheet lists the population DVHs bin by bin.
func CurvesSheet(sc *dosevolume.StatCurves) Sheet {
	sh := Sheet{
		Name:    "DVH Stats",
		Headers: []string{"Dose", "Min", "Q1", "Mean", "Median", "Q3", "Max"},
	}
	for i, x := range sc.XAxis {
		row := []string{formatFloat(x)}
		for _, curve := range [][]float64{sc.Min, sc.Q1, sc.Mean, sc.Median, sc.Q3, sc.Max} {
			if i < len(curve) {
				row = append(row, formatFloat(curve[i]))
			} else {
				row = append(row, "")
			}
		}
		sh.Rows = append(sh.Rows, row)
	}
	return sh
}

// WriteCSV writes the sheet's header and rows.
func WriteCSV(w io.Writer, sh Sheet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(sh.Headers); err != nil {
		return err
	}
	for _, row := range sh.Rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSeriesCSV writes the named variables as CSV.
func WriteSeriesCSV(w io.Writer, s *cohortstats.Set, names []string) error {
	sh, err := SeriesSheet(s, names)
	if err != nil {
		return err
	}
	return WriteCSV(w, sh)
}

// WriteRegressionCSV writes a regression result as CSV.
func WriteRegressionCSV(w io.Writer, y string, names []string, r *regression.Result) error {
	return WriteCSV(w, RegressionSheet(y, names, r))
}

// WriteControlChartCSV writes a control chart as CSV.
func WriteControlChartCSV(w io.Writer, c *controlchart.Chart) error {
	return WriteCSV(w, ControlChartSheet(c))
}

// WriteWorkbook saves every sheet into one XLSX file. The first sheet
// replaces the default Sheet1.
func WriteWorkbook(path string, sheets ...Sheet) error {
	if len(sheets) == 0 {
		return fmt.Errorf("workbook %s: no sheets", path)
	}
	f := excelize.NewFile()
	defer f.Close()

	for i, sh := range sheets {
		name := sheetName(sh.Name, i)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return err
		}

		for c, h := range sh.Headers {
			cell, _ := excelize.CoordinatesToCellName(c+1, 1)
			if err := f.SetCellValue(name, cell, h); err != nil {
				return err
			}
		}
		for r, row := range sh.Rows {
			for c, v := range row {
				cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
				if err := f.SetCellValue(name, cell, cellValue(v)); err != nil {
					return err
				}
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return f.SaveAs(path)
}

// Writer saves sheets under a directory in the configured format.
type Writer struct {
	dir    string
	format string
}

// NewWriter returns a writer for dir. An empty format means CSV.
func NewWriter(dir, format string) (*Writer, error) {
	switch format {
	case "":
		format = FormatCSV
	case FormatCSV, FormatXLSX, FormatBoth:
	default:
		return nil, fmt.Errorf("unknown export format %q (must be csv, xlsx, or both)", format)
	}
	return &Writer{dir: dir, format: format}, nil
}

// Save writes one CSV file per sheet named base_<sheet>.csv and/or a
// base.xlsx workbook holding every sheet. It returns the written paths.
func (w *Writer) Save(base string, sheets ...Sheet) ([]string, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return nil, err
	}

	var paths []string
	if w.format == FormatCSV || w.format == FormatBoth {
		for i, sh := range sheets {
			path := filepath.Join(w.dir, fmt.Sprintf("%s_%s.csv", base, fileSlug(sheetName(sh.Name, i))))
			if err := writeCSVFile(path, sh); err != nil {
				return paths, err
			}
			paths = append(paths, path)
		}
	}
	if w.format == FormatXLSX || w.format == FormatBoth {
		path := filepath.Join(w.dir, base+".xlsx")
		if err := WriteWorkbook(path, sheets...); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeCSVFile(path string, sh Sheet) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := WriteCSV(file, sh); err != nil {
		return err
	}
	return file.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', Decimals, 64)
}

func formatValue(n models.Number, date bool) string {
	if date {
		return models.FormatDate(n)
	}
	return n.Format(Decimals)
}

// cellValue stores numeric text as a number so spreadsheets can chart it.
func cellValue(s string) any {
	if v, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
		return v
	}
	return s
}

func sheetName(name string, i int) string {
	if name == "" {
		return fmt.Sprintf("Sheet%d", i+1)
	}
	// Excel limits sheet names to 31 characters
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}

func fileSlug(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}
