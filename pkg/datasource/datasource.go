// Package datasource is the boundary to the DVH database. It reads the DVHs,
// Plans, Rxs and Beams tables, resolves the "None" sentinel into missing
// values and hands the rows to the analysis core as typed records.
package datasource

import (
	"context"
	"errors"
	"strings"

	"dvhanalytics/internal/models"
	"dvhanalytics/pkg/cohortstats"
)

// ErrNoRecords is returned when a query matches no DVH.
var ErrNoRecords = errors.New("query matched no DVHs")

// Source loads the records matching a query.
type Source interface {
	Load(ctx context.Context, q Query) (*Dataset, error)
	Close() error
}

// Query selects DVHs. Empty fields match everything; the remaining fields
// must all match.
type Query struct {
	ROIName          string
	ROIType          string
	InstitutionalROI string
	PhysicianROI     string
	MRNs             []string
}

// Match reports whether a DVH row satisfies the query.
func (q Query) Match(r *models.RawRecord) bool {
	if !matchField(q.ROIName, r.ROIName) ||
		!matchField(q.ROIType, r.ROIType) ||
		!matchField(q.InstitutionalROI, r.InstitutionalROI) ||
		!matchField(q.PhysicianROI, r.PhysicianROI) {
		return false
	}
	if len(q.MRNs) == 0 {
		return true
	}
	for _, m := range q.MRNs {
		if m == r.MRN {
			return true
		}
	}
	return false
}

func matchField(want, got string) bool {
	return want == "" || strings.EqualFold(want, got)
}

// Dataset is the result of a query: one raw record per DVH, already joined
// with its plan, and the plan-level and beam-level tables of the same
// studies.
type Dataset struct {
	DVHs   []models.RawRecord
	Tables cohortstats.Tables
}

// UIDs returns the distinct study UIDs of the dataset's DVHs in first-seen
// order.
func (d *Dataset) UIDs() []string {
	seen := make(map[string]struct{})
	var out []string
	for i := range d.DVHs {
		uid := d.DVHs[i].StudyInstanceUID
		if _, ok := seen[uid]; ok {
			continue
		}
		seen[uid] = struct{}{}
		out = append(out, uid)
	}
	return out
}

// Column names shared by every table.
const (
	colMRN = "mrn"
	colUID = "study_instance_uid"
)

// DVHs columns that are not numeric scalars.
var dvhTextColumns = map[string]bool{
	colMRN:              true,
	colUID:              true,
	"roi_name":          true,
	"roi_type":          true,
	"institutional_roi": true,
	"physician_roi":     true,
	"dvh_string":        true,
	"roi_coord_string":  true,
	"dth_string":        true,
	"import_time_stamp": true,
	"volume":            true,
	"volume_cc":         true,
}

// rawRecord converts a DVHs row joined with its plan's rx_dose and
// sim_study_date. Missing or unparseable scalars become missing values.
func rawRecord(row map[string]string) models.RawRecord {
	r := models.RawRecord{
		MRN:              row[colMRN],
		StudyInstanceUID: row[colUID],
		ROIName:          row["roi_name"],
		ROIType:          row["roi_type"],
		InstitutionalROI: row["institutional_roi"],
		PhysicianROI:     row["physician_roi"],
		DVHString:        row["dvh_string"],
		VolumeCC:         models.ParseNumber(firstOf(row, "volume", "volume_cc")),
		RxDoseGy:         models.ParseNumber(row["rx_dose"]),
		SimStudyDate:     row["sim_study_date"],
		Scalars:          make(map[string]models.Number),
	}
	if r.SimStudyDate == "" {
		r.SimStudyDate = "None"
	}
	for k, v := range row {
		if dvhTextColumns[k] || k == "rx_dose" || k == "sim_study_date" {
			continue
		}
		r.Scalars[k] = models.ParseNumber(v)
	}
	return r
}

// tableRow converts a Plans, Rxs or Beams row. Dates become days since the
// Unix epoch so they can be charted like any other variable.
func tableRow(row map[string]string) cohortstats.Row {
	out := cohortstats.Row{
		StudyInstanceUID: row[colUID],
		Values:           make(map[string]models.Number, len(row)),
	}
	for k, v := range row {
		if k == colUID || k == colMRN {
			continue
		}
		out.Values[k] = parseValue(v)
	}
	return out
}

func parseValue(s string) models.Number {
	if n := models.ParseNumber(s); n.Valid {
		return n
	}
	return models.DateNumber(models.ParseDate(s))
}

func firstOf(row map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok {
			return v
		}
	}
	return ""
}

// join attaches each DVH row's plan columns and filters by q.
func join(dvhs []map[string]string, plans []map[string]string, q Query) []models.RawRecord {
	byUID := make(map[string]map[string]string, len(plans))
	for _, p := range plans {
		if _, ok := byUID[p[colUID]]; !ok {
			byUID[p[colUID]] = p
		}
	}
	var out []models.RawRecord
	for _, d := range dvhs {
		if p, ok := byUID[d[colUID]]; ok {
			d["rx_dose"] = p["rx_dose"]
			d["sim_study_date"] = p["sim_study_date"]
		}
		r := rawRecord(d)
		if q.Match(&r) {
			out = append(out, r)
		}
	}
	return out
}

// restrict keeps the rows of studies in uids.
func restrict(rows []map[string]string, uids []string) []cohortstats.Row {
	keep := make(map[string]struct{}, len(uids))
	for _, u := range uids {
		keep[u] = struct{}{}
	}
	var out []cohortstats.Row
	for _, r := range rows {
		if _, ok := keep[r[colUID]]; ok {
			out = append(out, tableRow(r))
		}
	}
	return out
}
