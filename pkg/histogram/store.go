// Package histogram turns the raw DVH rows delivered by the storage layer
// into a normalized, zero-padded Cohort.
//
// Stored histograms always use 1 cGy bins. A bin stride is applied while
// loading (every Nth value is kept) to reduce memory, so the resulting
// cohort's bin width in cGy equals the stride.
package histogram

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"dvhanalytics/internal/models"
)

// DefaultBinStride keeps every 5th cGy value.
const DefaultBinStride = 5

// DefaultDelimiter separates values in a stored histogram string.
const DefaultDelimiter = ","

// ErrNoValidRecords is returned by BuildLenient when nothing could be loaded.
var ErrNoValidRecords = errors.New("no valid DVH records")

// RecordError describes one row whose histogram could not be parsed.
type RecordError struct {
	Index int
	MRN   string
	ROI   string
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d (mrn %s, roi %s): %v", e.Index, e.MRN, e.ROI, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// DataError reports every row of a load that failed to parse.
type DataError struct {
	Failures []*RecordError
}

func (e *DataError) Error() string {
	if len(e.Failures) == 1 {
		return "invalid DVH data: " + e.Failures[0].Error()
	}
	return fmt.Sprintf("invalid DVH data: %d records failed to parse, first: %v", len(e.Failures), e.Failures[0])
}

// Indices returns the record indices that failed, in ascending order.
func (e *DataError) Indices() []int {
	out := make([]int, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Index
	}
	return out
}

// Options controls how raw histogram strings are decoded.
type Options struct {
	// BinStride keeps every BinStride-th 1 cGy value.
	BinStride int

	// Delimiter separates values in the stored string.
	Delimiter string

	// Workers bounds the number of rows parsed concurrently.
	// Zero means one per CPU.
	Workers int
}

// DefaultOptions returns the load options used when none are configured.
func DefaultOptions() Options {
	return Options{
		BinStride: DefaultBinStride,
		Delimiter: DefaultDelimiter,
	}
}

func (o Options) normalized() (Options, error) {
	if o.BinStride <= 0 {
		return o, fmt.Errorf("bin stride must be positive, got %d", o.BinStride)
	}
	if o.Delimiter == "" {
		o.Delimiter = DefaultDelimiter
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	return o, nil
}

// Build loads rows with the default delimiter and the given bin stride.
// Any unparseable histogram fails the whole load with a *DataError naming
// every offending row. No rows yields a valid empty cohort.
func Build(rows []models.RawRecord, binStride int) (*models.Cohort, error) {
	opts := DefaultOptions()
	opts.BinStride = binStride
	return BuildWith(rows, opts)
}

// BuildWith is Build with explicit options.
func BuildWith(rows []models.RawRecord, opts Options) (*models.Cohort, error) {
	opts, err := opts.normalized()
	if err != nil {
		return nil, err
	}

	records, failures := parseAll(rows, opts)
	if len(failures) > 0 {
		return nil, &DataError{Failures: failures}
	}
	return assemble(records, opts.BinStride)
}

// BuildLenient loads every row it can. Rows that fail to parse are logged
// and skipped, and returned alongside the cohort so callers can report
// them. An input with no loadable row is a hard failure.
func BuildLenient(rows []models.RawRecord, opts Options, logger zerolog.Logger) (*models.Cohort, []*RecordError, error) {
	opts, err := opts.normalized()
	if err != nil {
		return nil, nil, err
	}

	records, failures := parseAll(rows, opts)
	for _, f := range failures {
		logger.Warn().
			Int("record", f.Index).
			Str("mrn", f.MRN).
			Str("roi", f.ROI).
			Err(f.Err).
			Msg("skipping unparseable DVH")
	}

	kept := make([]models.Record, 0, len(records))
	for i := range records {
		if records[i].Bins != nil {
			kept = append(kept, records[i])
		}
	}
	if len(kept) == 0 {
		if len(failures) > 0 {
			return nil, failures, fmt.Errorf("%w: %w", ErrNoValidRecords, &DataError{Failures: failures})
		}
		return nil, nil, ErrNoValidRecords
	}

	cohort, err := assemble(kept, opts.BinStride)
	if err != nil {
		return nil, failures, err
	}
	logger.Debug().
		Int("loaded", cohort.Count()).
		Int("skipped", len(failures)).
		Int("bins", cohort.BinCount).
		Msg("cohort built")
	return cohort, failures, nil
}

// parseAll decodes every row concurrently. A failed row leaves a record
// with nil Bins at its index.
func parseAll(rows []models.RawRecord, opts Options) ([]models.Record, []*RecordError) {
	records := make([]models.Record, len(rows))
	errs := make([]*RecordError, len(rows))

	var g errgroup.Group
	g.SetLimit(opts.Workers)
	for i := range rows {
		i := i
		g.Go(func() error {
			rec, err := parseRecord(rows[i], opts)
			if err != nil {
				errs[i] = &RecordError{Index: i, MRN: rows[i].MRN, ROI: rows[i].ROIName, Err: err}
				return nil
			}
			records[i] = rec
			return nil
		})
	}
	_ = g.Wait()

	var failures []*RecordError
	for _, e := range errs {
		if e != nil {
			failures = append(failures, e)
		}
	}
	return records, failures
}

func parseRecord(row models.RawRecord, opts Options) (models.Record, error) {
	bins, err := ParseBins(row.DVHString, opts.Delimiter, opts.BinStride)
	if err != nil {
		return models.Record{}, err
	}
	Normalize(bins)

	date, ok := models.ParseDate(row.SimStudyDate)
	return models.Record{
		MRN:              row.MRN,
		StudyInstanceUID: row.StudyInstanceUID,
		ROIName:          row.ROIName,
		ROIType:          row.ROIType,
		InstitutionalROI: row.InstitutionalROI,
		PhysicianROI:     row.PhysicianROI,
		Bins:             bins,
		VolumeCC:         row.VolumeCC,
		RxDoseGy:         row.RxDoseGy,
		SimStudyDate:     date,
		HasSimStudyDate:  ok,
		Scalars:          row.Scalars,
	}, nil
}

// ParseBins splits a stored histogram string and keeps every stride-th
// value, starting with the first. Negative and non-finite volumes are
// rejected.
func ParseBins(s, delimiter string, stride int) ([]float64, error) {
	if stride <= 0 {
		return nil, fmt.Errorf("bin stride must be positive, got %d", stride)
	}
	parts := strings.Split(s, delimiter)
	bins := make([]float64, 0, len(parts)/stride+1)
	for i := 0; i < len(parts); i += stride {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return nil, fmt.Errorf("bin %d: %w", i, err)
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("bin %d: invalid volume %g", i, v)
		}
		bins = append(bins, v)
	}
	return bins, nil
}

// Normalize divides bins in place by their maximum. An all-zero histogram
// is left untouched.
func Normalize(bins []float64) {
	maxValue := 0.0
	for _, v := range bins {
		if v > maxValue {
			maxValue = v
		}
	}
	if maxValue <= 0 {
		return
	}
	for i := range bins {
		bins[i] /= maxValue
	}
}

// assemble zero-pads every record to the longest histogram.
func assemble(records []models.Record, binWidth int) (*models.Cohort, error) {
	binCount := 0
	for i := range records {
		if n := len(records[i].Bins); n > binCount {
			binCount = n
		}
	}
	for i := range records {
		if pad := binCount - len(records[i].Bins); pad > 0 {
			records[i].Bins = append(records[i].Bins, make([]float64, pad)...)
		}
	}
	return models.NewCohort(binWidth, records)
}
