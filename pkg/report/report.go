// Package report renders analysis results as console tables.
package report

import (
	"fmt"
	"math"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"dvhanalytics/internal/models"
	"dvhanalytics/pkg/cohortstats"
	"dvhanalytics/pkg/controlchart"
	"dvhanalytics/pkg/dosevolume"
	"dvhanalytics/pkg/regression"
	"dvhanalytics/pkg/timeseries"
)

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetTitle("%s", title)
	// variable names are case sensitive
	style := table.StyleDefault
	style.Format.Header = text.FormatDefault
	style.Format.Footer = text.FormatDefault
	t.SetStyle(style)
	return t
}

func f2(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func pval(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'g', 3, 64)
}

// RenderSummary renders the cohort counts and scalar ranges.
func RenderSummary(s dosevolume.Summary) string {
	t := newTable("Query Summary")
	t.AppendRows([]table.Row{
		{"Studies", s.StudyCount},
		{"DVHs", s.DVHCount},
		{"Institutional ROIs", s.InstitutionalROICount},
		{"Physician ROIs", s.PhysicianROICount},
		{"ROI Types", s.ROITypeCount},
	})
	t.AppendSeparator()
	t.AppendRow(table.Row{"", "Min", "Mean", "Max", "N"})
	for _, r := range []struct {
		name string
		rng  dosevolume.Range
	}{
		{"Rx Dose (Gy)", s.RxDose},
		{"Volume (cm³)", s.Volume},
		{"Min Dose (Gy)", s.MinDose},
		{"Mean Dose (Gy)", s.MeanDose},
		{"Max Dose (Gy)", s.MaxDose},
	} {
		if r.rng.Count == 0 {
			t.AppendRow(table.Row{r.name, "-", "-", "-", 0})
			continue
		}
		t.AppendRow(table.Row{r.name, f2(r.rng.Min), f2(r.rng.Mean), f2(r.rng.Max), r.rng.Count})
	}
	return t.Render()
}

// RenderEndpoints renders per-record values of the named variables, such
// as DVH endpoints or EUD and NTCP/TCP.
func RenderEndpoints(s *cohortstats.Set, names []string) (string, error) {
	t := newTable("Endpoints")
	header := table.Row{"MRN", cohortstats.SimulationDate}
	series := make([]models.Series, len(names))
	for i, name := range names {
		v, err := s.Series(name)
		if err != nil {
			return "", err
		}
		series[i] = v
		header = append(header, s.AxisTitle(name))
	}
	t.AppendHeader(header)

	mrns, dates := s.MRNs(), s.SimStudyDates()
	for i := 0; i < s.Count(); i++ {
		row := table.Row{mrns[i], models.FormatDate(dates[i])}
		for _, v := range series {
			row = append(row, v.Values[i].Format(2))
		}
		t.AppendRow(row)
	}
	return t.Render(), nil
}

// RenderRegression renders the coefficient table and model statistics of a
// fit of y on names.
func RenderRegression(y string, names []string, r *regression.Result) string {
	t := newTable("Multi-Variable Regression: " + y)
	t.AppendHeader(table.Row{"", "Coef", "Std. Err.", "t-value", "p-value"})
	t.AppendRow(table.Row{"y-int", f2(r.Intercept), f2(r.StdErr[0]), f2(r.TValues[0]), pval(r.PValues[0])})
	for i, name := range names {
		t.AppendRow(table.Row{name, f2(r.Coefficients[i]), f2(r.StdErr[i+1]), f2(r.TValues[i+1]), pval(r.PValues[i+1])})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("N = %d", r.N),
		fmt.Sprintf("R² = %.3f", r.RSquared),
		fmt.Sprintf("MSE = %.3f", r.MSE),
		fmt.Sprintf("F = %s", f2(r.FStat)),
		fmt.Sprintf("p = %s", pval(r.FPValue)),
	})
	return t.Render()
}

// RenderControlChart renders the limits and the out-of-control points.
func RenderControlChart(c *controlchart.Chart) string {
	t := newTable("Control Chart: " + c.Variable)
	t.AppendHeader(table.Row{"#", "MRN", cohortstats.SimulationDate, "Value", ""})
	for _, p := range c.Points {
		flag := ""
		if p.OutOfControl {
			flag = text.FgRed.Sprint("out of control")
		}
		t.AppendRow(table.Row{p.Index, p.MRN, models.FormatDate(p.Date), f2(p.Value), flag})
	}
	t.AppendFooter(table.Row{
		"",
		fmt.Sprintf("Center %s", f2(c.Limits.Center)),
		fmt.Sprintf("UCL %s", f2(c.Limits.UCL)),
		fmt.Sprintf("LCL %s", f2(c.Limits.LCL)),
		fmt.Sprintf("%d out", len(c.OutOfControl())),
	})
	return t.Render()
}

// RenderCorrelation renders every pair with its Pearson r and p-value, and
// the normality p-value of each variable.
func RenderCorrelation(c *cohortstats.Correlation) string {
	t := newTable("Correlation")
	t.AppendHeader(table.Row{"X", "Y", "r", "p-value", "N"})
	for _, p := range c.Pairs {
		t.AppendRow(table.Row{p.X, p.Y, f2(p.R), pval(p.P), p.N})
	}
	t.AppendSeparator()
	for _, v := range c.Variables {
		t.AppendRow(table.Row{v, "normality", "", pval(c.NormalityP[v]), ""})
	}
	return t.Render()
}

// RenderTrend renders the trend band of a variable and, when given, the
// comparison of two groups of its values.
func RenderTrend(tr *timeseries.Trend, cmp *timeseries.Comparison) string {
	t := newTable("Time Series: " + tr.Variable)
	t.AppendRows([]table.Row{
		{"Points", len(tr.Points)},
		{"Median", f2(tr.Bounds.Median)},
		{"Lower bound", f2(tr.Bounds.Lower)},
		{"Upper bound", f2(tr.Bounds.Upper)},
	})
	if cmp != nil {
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"Normal test p (group 1)", pval(cmp.NormalA)},
			{"Normal test p (group 2)", pval(cmp.NormalB)},
			{"t-test p", pval(cmp.TTest)},
			{"Rank-sum p", pval(cmp.RankSum)},
		})
	}
	return t.Render()
}
