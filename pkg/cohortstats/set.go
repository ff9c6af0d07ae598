// Package cohortstats assembles named per-record variable series from a
// cohort and its plan and beam tables, and provides the pairwise and
// design-matrix views the regression and control-chart layers consume.
//
// A Set is not safe for concurrent mutation; callers serialize
// AddVariable, RemoveVariable and Validate.
package cohortstats

import (
	"errors"
	"fmt"
	"strings"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"

	"dvhanalytics/internal/models"
	"dvhanalytics/pkg/radbio"
)

var (
	// ErrUnknownVariable is returned for a variable name the set does not hold.
	ErrUnknownVariable = errors.New("unknown variable")

	// ErrInsufficientData is returned when too few complete records remain
	// for a computation.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrNoVariation is returned for a series with zero variance.
	ErrNoVariation = errors.New("series has no variation")
)

// Row is one row of a plan-level or beam-level table, already parsed at the
// storage boundary.
type Row struct {
	StudyInstanceUID string
	Values           map[string]models.Number
}

// Tables holds the non-DVH tables a Set draws variables from. Plans and
// Rxs contribute one value per plan, Beams one value per beam.
type Tables struct {
	Plans []Row
	Rxs   []Row
	Beams []Row
}

// Set is an ordered collection of variable series aligned with the records
// of a cohort.
type Set struct {
	uids  []string
	mrns  []string
	order []string
	data  map[string]*models.Series
}

// New returns a Set for records identified by uids and mrns. dates holds
// each record's simulation date (days since the Unix epoch) and becomes the
// Simulation Date series.
func New(uids, mrns []string, dates []models.Number) (*Set, error) {
	if len(mrns) != len(uids) || len(dates) != len(uids) {
		return nil, fmt.Errorf("cohortstats: %w (%d uids, %d mrns, %d dates)",
			models.ErrLengthMismatch, len(uids), len(mrns), len(dates))
	}
	s := &Set{
		uids: append([]string(nil), uids...),
		mrns: append([]string(nil), mrns...),
		data: make(map[string]*models.Series),
	}
	if err := s.AddVariable(SimulationDate, dates, ""); err != nil {
		return nil, err
	}
	return s, nil
}

// FromCohort maps every catalog variable onto the cohort's records and
// drops the constant ones.
//
// DVH variables come from the records themselves; plan and prescription
// variables from the first row with the record's study UID. Beam variables
// with stored aggregates take that aggregate over the plan's beams; other
// beam variables expand into "(Min)", "(Mean)", "(Median)" and "(Max)"
// series.
func FromCohort(c *models.Cohort, tables Tables) (*Set, error) {
	s, err := New(c.UIDs(), c.MRNs(), c.SimStudyDates())
	if err != nil {
		return nil, err
	}

	plans := indexRows(tables.Plans)
	rxs := indexRows(tables.Rxs)
	beams := indexRows(tables.Beams)

	for _, v := range Catalog() {
		switch v.Table {
		case TableDVHs:
			err = s.AddVariable(v.Name, c.Scalar(v.Field), v.Units)
		case TablePlans, TableRxs:
			if v.Name == SimulationDate {
				continue
			}
			if v.Field == "rx_dose" {
				err = s.AddVariable(v.Name, c.Scalar(v.Field), v.Units)
				break
			}
			src := plans
			if v.Table == TableRxs {
				src = rxs
			}
			err = s.AddVariable(v.Name, s.planValues(src, v.Field), v.Units)
		case TableBeams:
			err = s.addBeamVariable(v, beams)
		}
		if err != nil {
			return nil, err
		}
	}
	s.Validate()
	return s, nil
}

func indexRows(rows []Row) map[string][]Row {
	out := make(map[string][]Row)
	for _, r := range rows {
		out[r.StudyInstanceUID] = append(out[r.StudyInstanceUID], r)
	}
	return out
}

func (s *Set) planValues(rows map[string][]Row, field string) []models.Number {
	out := make([]models.Number, len(s.uids))
	for i, uid := range s.uids {
		if r := rows[uid]; len(r) > 0 {
			out[i] = r[0].Values[field]
		}
	}
	return out
}

var beamStats = []struct {
	key   string
	label string
	fn    func(stats.Float64Data) (float64, error)
}{
	{"min", "Min", stats.Min},
	{"mean", "Mean", stats.Mean},
	{"median", "Median", stats.Median},
	{"max", "Max", stats.Max},
}

func (s *Set) addBeamVariable(v Variable, beams map[string][]Row) error {
	if isAggregatedBeam(v.Name) {
		lower := strings.ToLower(v.Name)
		for _, st := range beamStats {
			if strings.Contains(lower, st.key) {
				return s.AddVariable(v.Name, s.beamValues(beams, v.Field, st.fn), v.Units)
			}
		}
		return nil
	}
	for _, st := range beamStats {
		name := fmt.Sprintf("%s (%s)", v.Name, st.label)
		if err := s.AddVariable(name, s.beamValues(beams, v.Field, st.fn), v.Units); err != nil {
			return err
		}
	}
	return nil
}

func (s *Set) beamValues(beams map[string][]Row, field string, fn func(stats.Float64Data) (float64, error)) []models.Number {
	out := make([]models.Number, len(s.uids))
	for i, uid := range s.uids {
		var values stats.Float64Data
		for _, r := range beams[uid] {
			if n := r.Values[field]; n.Valid {
				values = append(values, n.Value)
			}
		}
		if len(values) == 0 {
			continue
		}
		if agg, err := fn(values); err == nil {
			out[i] = models.Num(agg)
		}
	}
	return out
}

// Count returns the number of records every series is aligned with.
func (s *Set) Count() int {
	return len(s.uids)
}

// UIDs returns the study instance UID of each record.
func (s *Set) UIDs() []string {
	return append([]string(nil), s.uids...)
}

// MRNs returns the MRN of each record.
func (s *Set) MRNs() []string {
	return append([]string(nil), s.mrns...)
}

// SimStudyDates returns the Simulation Date series.
func (s *Set) SimStudyDates() []models.Number {
	if d, ok := s.data[SimulationDate]; ok {
		return d.Values
	}
	return make([]models.Number, len(s.uids))
}

// AddVariable stores a series, replacing any series of the same name.
func (s *Set) AddVariable(name string, values []models.Number, units string) error {
	if len(values) != len(s.uids) {
		return fmt.Errorf("variable %q: %w (%d values, %d records)", name, models.ErrLengthMismatch, len(values), len(s.uids))
	}
	if _, ok := s.data[name]; !ok {
		s.order = append(s.order, name)
	}
	s.data[name] = &models.Series{
		Name:   name,
		Units:  units,
		Values: append([]models.Number(nil), values...),
		Date:   IsDate(name),
	}
	return nil
}

// RemoveVariable drops a series. Removing a variable that is not present
// does nothing.
func (s *Set) RemoveVariable(name string) {
	if _, ok := s.data[name]; !ok {
		return
	}
	delete(s.data, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Validate removes every series without at least two distinct present
// values. Date series are kept unless they hold no value at all,
// and Simulation Date is always kept. It returns the removed names.
func (s *Set) Validate() []string {
	var removed []string
	for _, name := range s.Names() {
		if name == SimulationDate {
			continue
		}
		values := models.Present(s.data[name].Values)
		if IsDate(name) {
			if len(values) == 0 {
				removed = append(removed, name)
			}
			continue
		}
		if isConstant(values) {
			removed = append(removed, name)
		}
	}
	for _, name := range removed {
		s.RemoveVariable(name)
	}
	return removed
}

func isConstant(values []float64) bool {
	if len(values) < 2 {
		return true
	}
	return floats.Max(values) == floats.Min(values)
}

// UpdateEndpointsAndRadbio refreshes the derived variables after endpoints
// or radiobiology have been recalculated on c. Every endpoint in defs with a
// cohort column is added, any other D_ or V_ variable is removed as stale,
// and the EUD and NTCP or TCP columns are added when present. The set is
// re-validated and the removed names are returned.
func (s *Set) UpdateEndpointsAndRadbio(c *models.Cohort, defs []models.EndpointDef) ([]string, error) {
	current := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		label := def.Label()
		current[label] = struct{}{}
		values, ok := c.Column(label)
		if !ok {
			continue
		}
		if err := s.AddVariable(label, values, def.OutputUnits()); err != nil {
			return nil, err
		}
	}

	for _, name := range s.Names() {
		if !strings.HasPrefix(name, "D_") && !strings.HasPrefix(name, "V_") {
			continue
		}
		if _, ok := current[name]; !ok {
			s.RemoveVariable(name)
		}
	}

	for _, col := range []struct{ name, units string }{
		{radbio.EUDColumn, radbio.EUDUnits},
		{radbio.NTCPColumn, radbio.NTCPUnits},
	} {
		values, ok := c.Column(col.name)
		if !ok {
			continue
		}
		if err := s.AddVariable(col.name, values, col.units); err != nil {
			return nil, err
		}
	}
	return s.Validate(), nil
}

// Series returns a copy of the named series.
func (s *Set) Series(name string) (models.Series, error) {
	v, ok := s.data[name]
	if !ok {
		return models.Series{}, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	out := *v
	out.Values = append([]models.Number(nil), v.Values...)
	return out, nil
}

// Has reports whether the named series is present.
func (s *Set) Has(name string) bool {
	_, ok := s.data[name]
	return ok
}

// Names returns every series name in insertion order, Simulation Date
// included.
func (s *Set) Names() []string {
	return append([]string(nil), s.order...)
}

// Variables returns the names usable as regression or correlation
// variables.
func (s *Set) Variables() []string {
	out := make([]string, 0, len(s.order))
	for _, n := range s.order {
		if n != SimulationDate {
			out = append(out, n)
		}
	}
	return out
}

// ControlChartVariables returns the names that can be charted over study
// index.
func (s *Set) ControlChartVariables() []string {
	return s.Names()
}

// AxisTitle returns the variable name with its units, e.g. "Rx Dose (Gy)".
func (s *Set) AxisTitle(name string) string {
	if v, ok := s.data[name]; ok && v.Units != "" {
		return fmt.Sprintf("%s (%s)", name, v.Units)
	}
	return name
}
