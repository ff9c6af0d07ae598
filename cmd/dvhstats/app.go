package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"dvhanalytics/internal/logging"
	"dvhanalytics/internal/models"
	"dvhanalytics/pkg/analysis"
	"dvhanalytics/pkg/config"
	"dvhanalytics/pkg/datasource"
	"dvhanalytics/pkg/export"
)

// app holds the flags shared by every subcommand.
type app struct {
	configPath  string
	envFile     string
	csvDir      string
	databaseURL string
	verbose     bool
	export      bool

	query datasource.Query
}

func (a *app) bindFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", "dvhstats.yaml", "Path to configuration file")
	f.StringVar(&a.envFile, "env", ".env", "Path to .env file with DVHA_* overrides")
	f.StringVar(&a.csvDir, "csv-dir", "", "Directory with DVHs.csv, Plans.csv, Rxs.csv and Beams.csv")
	f.StringVar(&a.databaseURL, "database-url", "", "PostgreSQL connection string")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	f.BoolVar(&a.export, "export", false, "Write results to the configured output directory")

	f.StringVar(&a.query.ROIName, "roi-name", "", "Filter by ROI name")
	f.StringVar(&a.query.ROIType, "roi-type", "", "Filter by ROI type")
	f.StringVar(&a.query.InstitutionalROI, "institutional-roi", "", "Filter by institutional ROI")
	f.StringVar(&a.query.PhysicianROI, "physician-roi", "", "Filter by physician ROI")
	f.StringSliceVar(&a.query.MRNs, "mrn", nil, "Filter by MRN (repeatable)")
}

// config loads the file, applies the environment and then the flags.
func (a *app) config() (*config.Config, error) {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(a.envFile); err != nil {
		return nil, err
	}
	if a.csvDir != "" {
		cfg.Source.Kind = config.SourceCSV
		cfg.Source.CSVDir = a.csvDir
	}
	if a.databaseURL != "" {
		cfg.Source.Kind = config.SourcePostgres
		cfg.Source.DatabaseURL = a.databaseURL
	}
	if a.verbose {
		cfg.Output.Verbose = true
	}
	return cfg, nil
}

func openSource(ctx context.Context, cfg *config.Config, log zerolog.Logger) (datasource.Source, error) {
	switch cfg.Source.Kind {
	case config.SourcePostgres:
		return datasource.NewPostgresSource(ctx, datasource.PostgresConfig{
			DatabaseURL: cfg.Source.DatabaseURL,
			MaxConns:    cfg.Source.MaxConns,
			MinConns:    cfg.Source.MinConns,
		}, log)
	case config.SourceCSV:
		return datasource.NewCSVSource(cfg.Source.CSVDir, log)
	}
	return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
}

// session is a loaded and processed cohort.
type session struct {
	cfg      *config.Config
	log      zerolog.Logger
	analyzer *analysis.Analyzer
}

// run loads the queried cohort and processes it. tweak may adjust the
// configuration after the flags are applied.
func (a *app) run(cmd *cobra.Command, tweak func(*config.Config)) (*session, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	if tweak != nil {
		tweak(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	log := logging.New(cfg.Output.Verbose)

	ctx := cmd.Context()
	src, err := openSource(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	an, err := analyze(ctx, cfg, src, log, a.query)
	if err != nil {
		return nil, err
	}
	for _, f := range an.Failures() {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipped DVH %d (%s %s): %v\n", f.Index, f.MRN, f.ROI, f.Err)
	}
	return &session{cfg: cfg, log: log, analyzer: an}, nil
}

// analyze runs the analyzer in the background and owns src: the task
// closes it once it returns, even when ctx ends the wait first.
func analyze(ctx context.Context, cfg *config.Config, src datasource.Source, log zerolog.Logger, q datasource.Query) (*analysis.Analyzer, error) {
	an := analysis.NewAnalyzer(&analysis.Params{Config: cfg, Source: src, Logger: log})
	task := analysis.Submit(ctx, func(ctx context.Context) (*analysis.Analyzer, error) {
		defer func() {
			if err := src.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close data source")
			}
		}()
		return an, an.Run(ctx, q)
	})
	return task.Wait(ctx)
}

// save exports sheets when --export is set.
func (a *app) save(cmd *cobra.Command, s *session, base string, sheets ...export.Sheet) error {
	if !a.export {
		return nil
	}
	w, err := export.NewWriter(s.cfg.Output.Dir, s.cfg.Output.Format)
	if err != nil {
		return err
	}
	paths, err := w.Save(base, sheets...)
	if err != nil {
		return err
	}
	for _, p := range paths {
		s.log.Info().Str("path", p).Msg("exported")
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", p)
	}
	return nil
}

func parseEndpoints(specs []string) ([]models.EndpointDef, error) {
	defs := make([]models.EndpointDef, 0, len(specs))
	for _, s := range specs {
		def, err := models.ParseEndpoint(s)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}
