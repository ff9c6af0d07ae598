package cohortstats

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"dvhanalytics/internal/models"
)

// Design is a regression input built from complete records only.
type Design struct {
	// X has one row per kept record and one column per predictor, in the
	// order of Names.
	X *mat.Dense
	Y []float64

	YName string
	Names []string

	// Indices are the kept records' positions in the set; UIDs, MRNs and
	// Dates are aligned with the rows of X.
	Indices []int
	UIDs    []string
	MRNs    []string
	Dates   []models.Number
}

// Rows returns the number of complete records.
func (d *Design) Rows() int {
	return len(d.Y)
}

// XAndY builds the design matrix for regressing y on xs. A record missing
// any of the requested variables is dropped from every returned slice.
func (s *Set) XAndY(y string, xs []string) (*Design, error) {
	if len(xs) == 0 {
		return nil, fmt.Errorf("no predictors for %q: %w", y, ErrInsufficientData)
	}
	cols := make([][]models.Number, 0, len(xs)+1)
	for _, name := range append([]string{y}, xs...) {
		v, ok := s.data[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
		}
		cols = append(cols, v.Values)
	}

	dates := s.SimStudyDates()
	d := &Design{YName: y, Names: append([]string(nil), xs...)}
	var data []float64
	for i := range s.uids {
		if !complete(cols, i) {
			continue
		}
		d.Y = append(d.Y, cols[0][i].Value)
		for _, col := range cols[1:] {
			data = append(data, col[i].Value)
		}
		d.Indices = append(d.Indices, i)
		d.UIDs = append(d.UIDs, s.uids[i])
		d.MRNs = append(d.MRNs, s.mrns[i])
		d.Dates = append(d.Dates, dates[i])
	}
	if len(d.Y) == 0 {
		return nil, fmt.Errorf("no complete records for %q: %w", y, ErrInsufficientData)
	}
	d.X = mat.NewDense(len(d.Y), len(xs), data)
	return d, nil
}

func complete(cols [][]models.Number, i int) bool {
	for _, col := range cols {
		if !col[i].Valid {
			return false
		}
	}
	return true
}
