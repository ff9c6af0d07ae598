package datasource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Table export file names inside a CSV directory.
const (
	DVHsFile  = "DVHs.csv"
	PlansFile = "Plans.csv"
	RxsFile   = "Rxs.csv"
	BeamsFile = "Beams.csv"
)

// CSVSource reads table exports from a directory. DVHs.csv is required;
// the other tables are optional.
type CSVSource struct {
	dir    string
	logger zerolog.Logger
}

// NewCSVSource returns a source reading from dir.
func NewCSVSource(dir string, logger zerolog.Logger) (*CSVSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("csv source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("csv source: %s is not a directory", dir)
	}
	return &CSVSource{dir: dir, logger: logger}, nil
}

// Load reads the tables and returns the DVHs matching q with the plan,
// prescription and beam rows of their studies.
func (s *CSVSource) Load(ctx context.Context, q Query) (*Dataset, error) {
	dvhs, err := s.read(DVHsFile, true)
	if err != nil {
		return nil, err
	}
	plans, err := s.read(PlansFile, false)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ds := &Dataset{DVHs: join(dvhs, plans, q)}
	if len(ds.DVHs) == 0 {
		return nil, ErrNoRecords
	}
	uids := ds.UIDs()

	rxs, err := s.read(RxsFile, false)
	if err != nil {
		return nil, err
	}
	beams, err := s.read(BeamsFile, false)
	if err != nil {
		return nil, err
	}
	ds.Tables.Plans = restrict(plans, uids)
	ds.Tables.Rxs = restrict(rxs, uids)
	ds.Tables.Beams = restrict(beams, uids)

	s.logger.Debug().
		Str("dir", s.dir).
		Int("dvhs", len(ds.DVHs)).
		Int("plans", len(ds.Tables.Plans)).
		Int("beams", len(ds.Tables.Beams)).
		Msg("loaded csv tables")
	return ds, nil
}

// Close implements Source.
func (s *CSVSource) Close() error {
	return nil
}

func (s *CSVSource) read(name string, required bool) ([]map[string]string, error) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	rows, err := ReadTable(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return rows, nil
}

// ReadTable parses a CSV table with a header row into one map per row,
// keyed by the lower-cased column name. Short rows leave the trailing
// columns empty.
func ReadTable(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var rows []map[string]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
}
