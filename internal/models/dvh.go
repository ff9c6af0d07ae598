package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrLengthMismatch is returned when a per-record column does not have one
// value per cohort record.
var ErrLengthMismatch = errors.New("column length does not match record count")

// Scale selects absolute or relative units for a dose or volume.
type Scale int

const (
	// Absolute means Gy for dose and cm³ for volume.
	Absolute Scale = iota
	// Relative means percent of prescription for dose and percent (or
	// fraction, on input) of structure volume for volume.
	Relative
)

func (s Scale) String() string {
	if s == Relative {
		return "relative"
	}
	return "absolute"
}

// ParseScale parses "absolute" or "relative".
func ParseScale(s string) (Scale, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "absolute", "abs", "":
		return Absolute, nil
	case "relative", "rel", "%":
		return Relative, nil
	}
	return Absolute, fmt.Errorf("unknown scale %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Scale) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scale) UnmarshalText(text []byte) error {
	v, err := ParseScale(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// RawRecord is one DVHs row joined with its plan, exactly as the storage
// layer hands it over. DVHString holds the 1 cGy histogram as delimited text.
type RawRecord struct {
	MRN              string
	StudyInstanceUID string
	ROIName          string
	ROIType          string
	InstitutionalROI string
	PhysicianROI     string

	DVHString string

	VolumeCC Number
	RxDoseGy Number

	// SimStudyDate is an ISO date string or the "None" sentinel.
	SimStudyDate string

	// Scalars holds the remaining numeric DVHs columns keyed by column name
	// (min_dose, mean_dose, max_dose, surface_area, ...).
	Scalars map[string]Number
}

// Record is one ROI's normalized dose-volume histogram for one plan.
type Record struct {
	MRN              string
	StudyInstanceUID string
	ROIName          string
	ROIType          string
	InstitutionalROI string
	PhysicianROI     string

	// Bins is the fraction of the structure volume receiving at least the
	// dose of each bin; index 0 is dose 0. The maximum is 1 unless the raw
	// histogram was all zero.
	Bins []float64

	VolumeCC Number
	RxDoseGy Number

	SimStudyDate    time.Time
	HasSimStudyDate bool

	Scalars map[string]Number
}

// Scalar returns a numeric column of the record. The volume and rx dose are
// reachable under their storage names too.
func (r *Record) Scalar(name string) Number {
	switch name {
	case "volume", "volume_cc":
		return r.VolumeCC
	case "rx_dose", "rx_dose_gy":
		return r.RxDoseGy
	}
	if r.Scalars == nil {
		return Missing()
	}
	return r.Scalars[name]
}

// Cohort is an ordered collection of records sharing one bin width and one
// bin count. Bin data is fixed at construction; derived per-record columns
// (endpoints, EUD, NTCP/TCP) are added afterwards with SetColumn.
type Cohort struct {
	// BinWidth is the dose-bin resolution in cGy.
	BinWidth int

	// BinCount is the length of every record's Bins.
	BinCount int

	Records []Record

	columns     map[string][]Number
	columnOrder []string
}

// NewCohort checks that every record has the same number of bins and
// returns the cohort. An empty record list is a valid, empty cohort.
func NewCohort(binWidth int, records []Record) (*Cohort, error) {
	if binWidth <= 0 {
		return nil, fmt.Errorf("bin width must be positive, got %d", binWidth)
	}
	c := &Cohort{
		BinWidth: binWidth,
		Records:  records,
		columns:  make(map[string][]Number),
	}
	if len(records) > 0 {
		c.BinCount = len(records[0].Bins)
	}
	for i := range records {
		if len(records[i].Bins) != c.BinCount {
			return nil, fmt.Errorf("record %d has %d bins, expected %d", i, len(records[i].Bins), c.BinCount)
		}
	}
	return c, nil
}

// Count returns the number of records.
func (c *Cohort) Count() int {
	return len(c.Records)
}

// HasData reports whether the cohort holds any record.
func (c *Cohort) HasData() bool {
	return len(c.Records) > 0
}

// StudyCount returns the number of distinct study instance UIDs.
func (c *Cohort) StudyCount() int {
	seen := make(map[string]struct{}, len(c.Records))
	for i := range c.Records {
		seen[c.Records[i].StudyInstanceUID] = struct{}{}
	}
	return len(seen)
}

// UIDs returns the study instance UID of each record, in record order.
func (c *Cohort) UIDs() []string {
	out := make([]string, len(c.Records))
	for i := range c.Records {
		out[i] = c.Records[i].StudyInstanceUID
	}
	return out
}

// MRNs returns the MRN of each record, in record order.
func (c *Cohort) MRNs() []string {
	out := make([]string, len(c.Records))
	for i := range c.Records {
		out[i] = c.Records[i].MRN
	}
	return out
}

// Scalar returns the named numeric column across all records.
func (c *Cohort) Scalar(name string) []Number {
	out := make([]Number, len(c.Records))
	for i := range c.Records {
		out[i] = c.Records[i].Scalar(name)
	}
	return out
}

// SimStudyDates returns each record's simulation date as days since the
// Unix epoch.
func (c *Cohort) SimStudyDates() []Number {
	out := make([]Number, len(c.Records))
	for i := range c.Records {
		out[i] = DateNumber(c.Records[i].SimStudyDate, c.Records[i].HasSimStudyDate)
	}
	return out
}

// SetColumn stores a derived per-record column, replacing any column with
// the same name.
func (c *Cohort) SetColumn(name string, values []Number) error {
	if len(values) != len(c.Records) {
		return fmt.Errorf("column %q: %w (%d values, %d records)", name, ErrLengthMismatch, len(values), len(c.Records))
	}
	if c.columns == nil {
		c.columns = make(map[string][]Number)
	}
	if _, ok := c.columns[name]; !ok {
		c.columnOrder = append(c.columnOrder, name)
	}
	c.columns[name] = values
	return nil
}

// Column returns a derived column.
func (c *Cohort) Column(name string) ([]Number, bool) {
	v, ok := c.columns[name]
	return v, ok
}

// RemoveColumn drops a derived column; unknown names are ignored.
func (c *Cohort) RemoveColumn(name string) {
	if _, ok := c.columns[name]; !ok {
		return
	}
	delete(c.columns, name)
	for i, n := range c.columnOrder {
		if n == name {
			c.columnOrder = append(c.columnOrder[:i], c.columnOrder[i+1:]...)
			break
		}
	}
}

// Columns returns the derived column names in insertion order.
func (c *Cohort) Columns() []string {
	return append([]string(nil), c.columnOrder...)
}

// Series is a named per-record variable used by the statistics layer.
// Values has one entry per cohort record; missing values stay in place.
type Series struct {
	Name   string
	Units  string
	Values []Number

	// Date marks series holding dates (days since the Unix epoch).
	Date bool
}

// Quantity is what an endpoint reports.
type Quantity int

const (
	// DoseQuantity reports the minimum dose to a given volume (D_x).
	DoseQuantity Quantity = iota
	// VolumeQuantity reports the volume receiving a given dose (V_x).
	VolumeQuantity
)

func (q Quantity) String() string {
	if q == VolumeQuantity {
		return "volume"
	}
	return "dose"
}

// MarshalText implements encoding.TextMarshaler.
func (q Quantity) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *Quantity) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "dose", "d":
		*q = DoseQuantity
	case "volume", "v":
		*q = VolumeQuantity
	default:
		return fmt.Errorf("unknown endpoint output %q", text)
	}
	return nil
}

// EndpointDef describes one DVH endpoint such as D_95% or V_20Gy.
//
// InputValue is a volume for dose endpoints and a dose for volume
// endpoints. Relative inputs are given in percent.
type EndpointDef struct {
	Name        string   `yaml:"name,omitempty"`
	Output      Quantity `yaml:"output"`
	InputValue  float64  `yaml:"inputValue"`
	InputScale  Scale    `yaml:"inputScale"`
	OutputScale Scale    `yaml:"outputScale"`
}

// Label returns the short-hand name of the endpoint, e.g. "D_2cc",
// "D_95%", "V_20Gy" or "V_100%". An explicit Name wins.
func (d EndpointDef) Label() string {
	if d.Name != "" {
		return d.Name
	}
	value := strconv.FormatFloat(d.InputValue, 'f', -1, 64)
	units := "%"
	if d.InputScale == Absolute {
		units = "cc"
		if d.Output == VolumeQuantity {
			units = "Gy"
		}
	}
	prefix := "D_"
	if d.Output == VolumeQuantity {
		prefix = "V_"
	}
	return prefix + value + units
}

// OutputUnits returns the display unit of the endpoint's values.
func (d EndpointDef) OutputUnits() string {
	if d.OutputScale == Relative {
		return "%"
	}
	if d.Output == VolumeQuantity {
		return "cm³"
	}
	return "Gy"
}

// ParseEndpoint reads the short-hand produced by Label: "D_95%", "D_2cc",
// "V_20Gy" or "V_100%". A ":rel" or ":abs" suffix selects the output
// scale, absolute by default.
func ParseEndpoint(s string) (EndpointDef, error) {
	var def EndpointDef
	label, scale, hasScale := strings.Cut(strings.TrimSpace(s), ":")
	if hasScale {
		v, err := ParseScale(scale)
		if err != nil {
			return def, err
		}
		def.OutputScale = v
	}

	switch {
	case strings.HasPrefix(label, "D_"):
		def.Output = DoseQuantity
	case strings.HasPrefix(label, "V_"):
		def.Output = VolumeQuantity
	default:
		return def, fmt.Errorf("endpoint %q must start with D_ or V_", s)
	}
	rest := label[2:]

	units := map[Quantity]string{DoseQuantity: "cc", VolumeQuantity: "Gy"}[def.Output]
	switch {
	case strings.HasSuffix(rest, "%"):
		def.InputScale = Relative
		rest = strings.TrimSuffix(rest, "%")
	case strings.HasSuffix(rest, units):
		def.InputScale = Absolute
		rest = strings.TrimSuffix(rest, units)
	default:
		return def, fmt.Errorf("endpoint %q must end in %% or %s", s, units)
	}

	v, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return def, fmt.Errorf("endpoint %q: %w", s, err)
	}
	def.InputValue = v
	return def, nil
}
