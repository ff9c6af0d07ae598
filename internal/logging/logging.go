// Package logging builds the zerolog logger shared by the CLI and the
// analysis pipeline.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a JSON logger on stderr at info level. Verbose switches to a
// human-readable console writer at debug level.
func New(verbose bool) zerolog.Logger {
	return NewWithWriter(os.Stderr, verbose)
}

// NewWithWriter is New writing to w.
func NewWithWriter(w io.Writer, verbose bool) zerolog.Logger {
	if verbose {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		return zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	}
	return zerolog.New(w).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}
