package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dvhanalytics/internal/models"
	"dvhanalytics/pkg/config"
	"dvhanalytics/pkg/export"
	"dvhanalytics/pkg/report"
	"dvhanalytics/pkg/timeseries"
)

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "dvhstats",
		Short:         "Cohort statistics for stored dose-volume histograms",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	a.bindFlags(rootCmd)

	rootCmd.AddCommand(summaryCmd(a))
	rootCmd.AddCommand(variablesCmd(a))
	rootCmd.AddCommand(endpointsCmd(a))
	rootCmd.AddCommand(radbioCmd(a))
	rootCmd.AddCommand(regressionCmd(a))
	rootCmd.AddCommand(controlChartCmd(a))
	rootCmd.AddCommand(correlationCmd(a))
	rootCmd.AddCommand(trendCmd(a))
	rootCmd.AddCommand(initConfigCmd())
	return rootCmd
}

func summaryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Count the queried DVHs and summarize their doses and volumes",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.run(cmd, nil)
			if err != nil {
				return err
			}
			summary, err := s.analyzer.Summary()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.RenderSummary(summary))

			relDose, _ := cmd.Flags().GetBool("relative-dose")
			absVolume, _ := cmd.Flags().GetBool("absolute-volume")
			doseScale, volumeScale := models.Absolute, models.Relative
			if relDose {
				doseScale = models.Relative
			}
			if absVolume {
				volumeScale = models.Absolute
			}
			curves, err := s.analyzer.StatCurves(doseScale, volumeScale)
			if err != nil {
				return err
			}
			return a.save(cmd, s, "dvh_stats", export.CurvesSheet(curves))
		},
	}
	cmd.Flags().Bool("relative-dose", false, "Export population DVHs against percent of prescription")
	cmd.Flags().Bool("absolute-volume", false, "Export population DVHs in cm³")
	return cmd
}

func variablesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "variables",
		Short: "List the variables available for statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.run(cmd, nil)
			if err != nil {
				return err
			}
			set := s.analyzer.Set()
			for _, name := range set.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), set.AxisTitle(name))
			}
			return nil
		},
	}
}

func endpointsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpoints",
		Short: "Evaluate DVH endpoints such as D_95% or V_20Gy",
		Long: `Evaluate DVH endpoints for every queried DVH.

Endpoints come from the configuration file unless given with --endpoint,
e.g. --endpoint D_95% --endpoint D_2cc --endpoint V_20Gy --endpoint V_100%.
Append :rel or :abs to choose the output scale (default absolute).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, _ := cmd.Flags().GetStringSlice("endpoint")
			defs, err := parseEndpoints(specs)
			if err != nil {
				return err
			}
			s, err := a.run(cmd, func(cfg *config.Config) {
				if len(defs) > 0 {
					cfg.Endpoints = defs
				}
			})
			if err != nil {
				return err
			}
			return a.showVariables(cmd, s, "endpoints", s.analyzer.EndpointNames())
		},
	}
	cmd.Flags().StringSlice("endpoint", nil, "Endpoint short-hand (repeatable)")
	return cmd
}

func radbioCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "radbio",
		Short: "Calculate EUD and NTCP or TCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.run(cmd, func(cfg *config.Config) {
				if cmd.Flags().Changed("eud-a") {
					cfg.Radbio.A, _ = cmd.Flags().GetFloat64("eud-a")
				}
				if cmd.Flags().Changed("gamma50") {
					cfg.Radbio.Gamma50, _ = cmd.Flags().GetFloat64("gamma50")
				}
				if cmd.Flags().Changed("td50") {
					cfg.Radbio.TD50, _ = cmd.Flags().GetFloat64("td50")
				}
			})
			if err != nil {
				return err
			}
			return a.showVariables(cmd, s, "radbio", s.analyzer.RadbioNames())
		},
	}
	cmd.Flags().Float64("eud-a", 0, "EUD volume-effect parameter a")
	cmd.Flags().Float64("gamma50", 0, "Normalized dose-response slope at 50%")
	cmd.Flags().Float64("td50", 0, "TD50 or TCD50 in Gy")
	return cmd
}

func (a *app) showVariables(cmd *cobra.Command, s *session, base string, names []string) error {
	out, err := report.RenderEndpoints(s.analyzer.Set(), names)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)

	sheet, err := export.SeriesSheet(s.analyzer.Set(), names)
	if err != nil {
		return err
	}
	return a.save(cmd, s, base, sheet)
}

func regressionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regression",
		Short: "Fit a multi-variable linear regression",
		RunE: func(cmd *cobra.Command, args []string) error {
			y, _ := cmd.Flags().GetString("y")
			xs, _ := cmd.Flags().GetStringSlice("x")
			backward, _ := cmd.Flags().GetBool("backward")
			pThreshold, _ := cmd.Flags().GetFloat64("p-threshold")

			s, err := a.run(cmd, func(cfg *config.Config) {
				if backward {
					cfg.Regression.BackwardElimination = true
				}
				if pThreshold > 0 {
					cfg.Regression.PThreshold = pThreshold
				}
			})
			if err != nil {
				return err
			}
			rep, err := s.analyzer.Regression(y, xs)
			if err != nil {
				return err
			}
			if len(rep.Removed) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed by backward elimination: %s\n", strings.Join(rep.Removed, ", "))
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.RenderRegression(y, rep.Names, rep.Result))
			return a.save(cmd, s, "regression", export.RegressionSheet(y, rep.Names, rep.Result))
		},
	}
	cmd.Flags().String("y", "", "Dependent variable")
	cmd.Flags().StringSlice("x", nil, "Independent variable (repeatable)")
	cmd.Flags().Bool("backward", false, "Run backward elimination")
	cmd.Flags().Float64("p-threshold", 0, "p-value above which backward elimination drops a variable")
	_ = cmd.MarkFlagRequired("y")
	_ = cmd.MarkFlagRequired("x")
	return cmd
}

func controlChartCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "control-chart",
		Short: "Chart a variable over study index with control limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			variable, _ := cmd.Flags().GetString("variable")
			adjust, _ := cmd.Flags().GetStringSlice("adjust")
			stdDevs, _ := cmd.Flags().GetFloat64("std-devs")

			s, err := a.run(cmd, func(cfg *config.Config) {
				if stdDevs > 0 {
					cfg.ControlChart.StdDevs = stdDevs
				}
			})
			if err != nil {
				return err
			}
			chart, _, err := s.analyzer.ControlChart(variable, adjust)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.RenderControlChart(chart))
			return a.save(cmd, s, "control_chart", export.ControlChartSheet(chart))
		},
	}
	cmd.Flags().String("variable", "", "Variable to chart")
	cmd.Flags().StringSlice("adjust", nil, "Chart residuals after regressing on these variables")
	cmd.Flags().Float64("std-devs", 0, "Control limit half-width in standard deviations")
	_ = cmd.MarkFlagRequired("variable")
	return cmd
}

func correlationCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correlation",
		Short: "Pearson correlation of every pair of variables",
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, _ := cmd.Flags().GetStringSlice("vars")
			s, err := a.run(cmd, nil)
			if err != nil {
				return err
			}
			corr, err := s.analyzer.Correlation(vars)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.RenderCorrelation(corr))
			return nil
		},
	}
	cmd.Flags().StringSlice("vars", nil, "Variables to correlate (default all)")
	return cmd
}

func trendCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Follow a variable over simulation date",
		RunE: func(cmd *cobra.Command, args []string) error {
			variable, _ := cmd.Flags().GetString("variable")
			split, _ := cmd.Flags().GetString("split")

			var splitDay models.Number
			if split != "" {
				d, ok := models.ParseDate(split)
				if !ok {
					return fmt.Errorf("invalid --split date %q", split)
				}
				splitDay = models.DateNumber(d, true)
			}

			s, err := a.run(cmd, nil)
			if err != nil {
				return err
			}
			tr, err := s.analyzer.Trend(variable)
			if err != nil {
				return err
			}

			var cmp *timeseries.Comparison
			if splitDay.Valid {
				var before, after []float64
				for _, p := range tr.Points {
					if p.Date < splitDay.Value {
						before = append(before, p.Value)
					} else {
						after = append(after, p.Value)
					}
				}
				c := timeseries.CompareGroups(before, after)
				cmp = &c
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.RenderTrend(tr, cmp))
			return nil
		},
	}
	cmd.Flags().String("variable", "", "Variable to follow")
	cmd.Flags().String("split", "", "Compare the values before and after this date")
	_ = cmd.MarkFlagRequired("variable")
	return cmd
}

func initConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a configuration file with default values",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("path")
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created default configuration file: %s\n", path)
			return nil
		},
	}
	cmd.Flags().String("path", "dvhstats.yaml", "Where to write the configuration")
	return cmd
}
