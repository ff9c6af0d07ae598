package models

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Number is a float that may be missing.
//
// The storage layer marks missing numeric values with the literal string
// "None". That sentinel is resolved once, at the boundary, by ParseNumber;
// everything past the boundary works with Valid.
type Number struct {
	Value float64
	Valid bool
}

// Num returns a present Number.
func Num(v float64) Number {
	return Number{Value: v, Valid: true}
}

// Missing returns an absent Number.
func Missing() Number {
	return Number{}
}

// Or returns the value, or def when the number is missing.
func (n Number) Or(def float64) float64 {
	if !n.Valid {
		return def
	}
	return n.Value
}

// NonZero reports whether the number is present and different from zero.
func (n Number) NonZero() bool {
	return n.Valid && n.Value != 0
}

// String renders the number the way the storage layer writes it,
// "None" when missing.
func (n Number) String() string {
	if !n.Valid {
		return "None"
	}
	return strconv.FormatFloat(n.Value, 'f', -1, 64)
}

// Format renders the number with a fixed number of decimals.
func (n Number) Format(decimals int) string {
	if !n.Valid {
		return "None"
	}
	return strconv.FormatFloat(n.Value, 'f', decimals, 64)
}

// ParseNumber converts a storage column into a Number. Empty strings,
// "None"/"null" sentinels, unparseable text and non-finite values are all
// reported as missing rather than as an error.
func ParseNumber(s string) Number {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "none", "null", "nan":
		return Missing()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return Missing()
	}
	return Num(v)
}

// Numbers wraps every value of vs as a present Number.
func Numbers(vs []float64) []Number {
	out := make([]Number, len(vs))
	for i, v := range vs {
		out[i] = Num(v)
	}
	return out
}

// Present returns the values of ns that are not missing, in order.
func Present(ns []Number) []float64 {
	out := make([]float64, 0, len(ns))
	for _, n := range ns {
		if n.Valid {
			out = append(out, n.Value)
		}
	}
	return out
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"20060102",
	"2006/01/02",
}

// ParseDate parses a plan date column. The second result is false for the
// "None" sentinel and for anything that is not a recognised date.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DateNumber converts a date into a Number holding days since the Unix
// epoch, so dates can travel through numeric variable series.
func DateNumber(t time.Time, ok bool) Number {
	if !ok {
		return Missing()
	}
	return Num(float64(t.Unix()) / 86400)
}

// FormatDate renders a Number produced by DateNumber as an ISO date, or
// "None" when missing.
func FormatDate(n Number) string {
	if !n.Valid {
		return "None"
	}
	return time.Unix(int64(math.Round(n.Value*86400)), 0).UTC().Format("2006-01-02")
}
