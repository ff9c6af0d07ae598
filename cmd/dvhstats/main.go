// Command dvhstats queries stored dose-volume histograms and runs the
// cohort statistics on them: endpoints, radiobiology, regression, control
// charts, correlation and time series.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"dvhanalytics/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log := logging.New(false)
		log.Error().Err(err).Msg("dvhstats failed")
		stop()
		os.Exit(1)
	}
}
