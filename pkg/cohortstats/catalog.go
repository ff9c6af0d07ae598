package cohortstats

import (
	"sort"
	"strings"
)

// Table names of the storage layer.
const (
	TableDVHs  = "DVHs"
	TablePlans = "Plans"
	TableRxs   = "Rxs"
	TableBeams = "Beams"
)

// SimulationDate is the series every Set carries; it orders control charts
// and time series.
const SimulationDate = "Simulation Date"

// Variable maps a display name to a numeric storage column.
type Variable struct {
	Name  string
	Table string
	Field string
	Units string
}

// aggregatedBeamPrefixes are beam quantities stored once per aggregate
// (Min, Mean, Median, Max); the display name selects the aggregate taken
// over a plan's beams.
var aggregatedBeamPrefixes = []string{
	"Beam Complexity",
	"Beam Area",
	"Control Point MU",
	"Beam Perimeter",
	"Beam Energy",
}

var catalog = []Variable{
	{"Age", TablePlans, "age", ""},
	{"Beam Energy Min", TableBeams, "beam_energy_min", ""},
	{"Beam Energy Max", TableBeams, "beam_energy_max", ""},
	{"Birth Date", TablePlans, "birth_date", ""},
	{"Planned Fractions", TablePlans, "fxs", ""},
	{"Rx Dose", TablePlans, "rx_dose", "Gy"},
	{"Rx Isodose", TableRxs, "rx_percent", "%"},
	{SimulationDate, TablePlans, "sim_study_date", ""},
	{"Total Plan MU", TablePlans, "total_mu", "MU"},
	{"Fraction Dose", TableRxs, "fx_dose", "Gy"},
	{"Beam Dose", TableBeams, "beam_dose", "Gy"},
	{"Beam MU", TableBeams, "beam_mu", ""},
	{"Control Point Count", TableBeams, "control_point_count", ""},
	{"SSD", TableBeams, "ssd", "cm"},
	{"ROI Min Dose", TableDVHs, "min_dose", "Gy"},
	{"ROI Mean Dose", TableDVHs, "mean_dose", "Gy"},
	{"ROI Max Dose", TableDVHs, "max_dose", "Gy"},
	{"ROI Volume", TableDVHs, "volume", "cm³"},
	{"ROI Surface Area", TableDVHs, "surface_area", "cm²"},
	{"ROI Spread X", TableDVHs, "spread_x", "cm"},
	{"ROI Spread Y", TableDVHs, "spread_y", "cm"},
	{"ROI Spread Z", TableDVHs, "spread_z", "cm"},
	{"PTV Distance (Min)", TableDVHs, "dist_to_ptv_min", "cm"},
	{"PTV Distance (Mean)", TableDVHs, "dist_to_ptv_mean", "cm"},
	{"PTV Distance (Median)", TableDVHs, "dist_to_ptv_median", "cm"},
	{"PTV Distance (Max)", TableDVHs, "dist_to_ptv_max", "cm"},
	{"PTV Distance (Centroids)", TableDVHs, "dist_to_ptv_centroids", "cm"},
	{"PTV Overlap", TableDVHs, "ptv_overlap", "cm³"},
	{"Scan Spots", TableBeams, "scan_spot_count", ""},
	{"Beam MU per deg", TableBeams, "beam_mu_per_deg", ""},
	{"Beam MU per control point", TableBeams, "beam_mu_per_cp", ""},
	{"ROI Cross-Section Max", TableDVHs, "cross_section_max", "cm²"},
	{"ROI Cross-Section Median", TableDVHs, "cross_section_median", "cm²"},
	{"Toxicity Grade", TableDVHs, "toxicity_grade", ""},
	{"ROI Centroid to Isocenter (Min)", TableDVHs, "centroid_dist_to_iso_min", "cm"},
	{"ROI Centroid to Isocenter (Max)", TableDVHs, "centroid_dist_to_iso_max", "cm"},
	{"Plan Complexity", TablePlans, "complexity", ""},
	{"Beam Complexity (Min)", TableBeams, "complexity_min", ""},
	{"Beam Complexity (Mean)", TableBeams, "complexity_mean", ""},
	{"Beam Complexity (Median)", TableBeams, "complexity_median", ""},
	{"Beam Complexity (Max)", TableBeams, "complexity_max", ""},
	{"Beam Area (Min)", TableBeams, "area_min", "cm²"},
	{"Beam Area (Mean)", TableBeams, "area_mean", "cm²"},
	{"Beam Area (Median)", TableBeams, "area_median", "cm²"},
	{"Beam Area (Max)", TableBeams, "area_max", "cm²"},
	{"Beam Perimeter (Min)", TableBeams, "perim_min", "cm"},
	{"Beam Perimeter (Mean)", TableBeams, "perim_mean", "cm"},
	{"Beam Perimeter (Median)", TableBeams, "perim_median", "cm"},
	{"Beam Perimeter (Max)", TableBeams, "perim_max", "cm"},
	{"Fx Group Beam Count", TableBeams, "fx_grp_beam_count", ""},
	{"Control Point MU (Min)", TableBeams, "cp_mu_min", ""},
	{"Control Point MU (Mean)", TableBeams, "cp_mu_mean", ""},
	{"Control Point MU (Median)", TableBeams, "cp_mu_median", ""},
	{"Control Point MU (Max)", TableBeams, "cp_mu_max", ""},
	{"PTV Cross-Section Max", TablePlans, "ptv_cross_section_max", "cm²"},
	{"PTV Cross-Section Median", TablePlans, "ptv_cross_section_median", "cm²"},
	{"PTV Spread X", TablePlans, "ptv_spread_x", "cm"},
	{"PTV Spread Y", TablePlans, "ptv_spread_y", "cm"},
	{"PTV Spread Z", TablePlans, "ptv_spread_z", "cm"},
	{"PTV Surface Area", TablePlans, "ptv_surface_area", "cm²"},
	{"PTV Volume", TablePlans, "ptv_volume", "cm³"},
}

// Catalog returns the numeric variable catalog sorted by display name.
func Catalog() []Variable {
	out := append([]Variable(nil), catalog...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup finds a catalog entry by display name.
func Lookup(name string) (Variable, bool) {
	for _, v := range catalog {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// IsDate reports whether a variable holds dates.
func IsDate(name string) bool {
	return strings.Contains(name, "Date")
}

func isAggregatedBeam(name string) bool {
	for _, p := range aggregatedBeamPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
