// Package validate rejects records whose address names a jurisdiction other
// than the one the source serves. Validation fails open: an address with no
// recognizable jurisdiction is accepted.
package validate

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/permit-cli/internal/model"
)

var codeRegex = regexp.MustCompile(`,\s*([A-Z]{2})(?:\s|,|$)`)

var stateNames = map[string]string{
	"ALABAMA":              "AL",
	"ALASKA":               "AK",
	"ARIZONA":              "AZ",
	"ARKANSAS":             "AR",
	"CALIFORNIA":           "CA",
	"COLORADO":             "CO",
	"CONNECTICUT":          "CT",
	"DELAWARE":             "DE",
	"FLORIDA":              "FL",
	"GEORGIA":              "GA",
	"HAWAII":               "HI",
	"IDAHO":                "ID",
	"ILLINOIS":             "IL",
	"INDIANA":              "IN",
	"IOWA":                 "IA",
	"KANSAS":               "KS",
	"KENTUCKY":             "KY",
	"LOUISIANA":            "LA",
	"MAINE":                "ME",
	"MARYLAND":             "MD",
	"MASSACHUSETTS":        "MA",
	"MICHIGAN":             "MI",
	"MINNESOTA":            "MN",
	"MISSISSIPPI":          "MS",
	"MISSOURI":             "MO",
	"MONTANA":              "MT",
	"NEBRASKA":             "NE",
	"NEVADA":               "NV",
	"NEW HAMPSHIRE":        "NH",
	"NEW JERSEY":           "NJ",
	"NEW MEXICO":           "NM",
	"NEW YORK":             "NY",
	"NORTH CAROLINA":       "NC",
	"NORTH DAKOTA":         "ND",
	"OHIO":                 "OH",
	"OKLAHOMA":             "OK",
	"OREGON":               "OR",
	"PENNSYLVANIA":         "PA",
	"RHODE ISLAND":         "RI",
	"SOUTH CAROLINA":       "SC",
	"SOUTH DAKOTA":         "SD",
	"TENNESSEE":            "TN",
	"TEXAS":                "TX",
	"UTAH":                 "UT",
	"VERMONT":              "VT",
	"VIRGINIA":             "VA",
	"WASHINGTON":           "WA",
	"WEST VIRGINIA":        "WV",
	"WISCONSIN":            "WI",
	"WYOMING":              "WY",
	"DISTRICT OF COLUMBIA": "DC",
}

type name struct {
	folded string
	code   string
}

// Validator checks addresses against an expected jurisdiction code.
type Validator struct {
	names []name
}

// New returns a Validator that knows the US state names plus extra, a map of
// full jurisdiction name to code (e.g. "Riverton" -> "RV").
func New(extra map[string]string) *Validator {
	v := &Validator{}
	add := func(full, code string) {
		folded := v.words(full)
		if folded == "" || code == "" {
			return
		}
		v.names = append(v.names, name{folded: folded, code: strings.ToUpper(strings.TrimSpace(code))})
	}
	for full, code := range stateNames {
		add(full, code)
	}
	for full, code := range extra {
		add(full, code)
	}
	// Longest names first so "West Virginia" wins over "Virginia".
	sort.Slice(v.names, func(i, j int) bool {
		if len(v.names[i].folded) != len(v.names[j].folded) {
			return len(v.names[i].folded) > len(v.names[j].folded)
		}
		return v.names[i].folded < v.names[j].folded
	})
	return v
}

var defaultValidator = New(nil)

// Validate reports whether address is consistent with expected using the
// default name table.
func Validate(address, expected string) bool {
	return defaultValidator.Validate(address, expected)
}

// Validate reports whether address is consistent with expected. Empty
// addresses, "N/A", and addresses without a recognizable jurisdiction pass.
func (v *Validator) Validate(address, expected string) bool {
	found, ok := v.Extract(address)
	if !ok {
		return true
	}
	want := strings.ToUpper(strings.TrimSpace(expected))
	if want == "" || found == want {
		return true
	}
	zap.L().Warn("validate: jurisdiction mismatch",
		zap.String("address", address),
		zap.String("found", found),
		zap.String("expected", want),
	)
	return false
}

// Extract returns the jurisdiction code named in address. The last
// ", XX" code wins; otherwise a full jurisdiction name is looked up.
func (v *Validator) Extract(address string) (string, bool) {
	address = strings.TrimSpace(norm.NFKC.String(address))
	if address == "" || strings.EqualFold(address, "N/A") {
		return "", false
	}

	if m := codeRegex.FindAllStringSubmatch(address, -1); len(m) > 0 {
		return m[len(m)-1][1], true
	}

	text := " " + v.words(address) + " "
	for _, n := range v.names {
		if strings.Contains(text, " "+n.folded+" ") {
			return n.code, true
		}
	}
	return "", false
}

// words case-folds s and collapses it to single-space separated words. A
// Caser is stateful, so each call builds its own.
func (v *Validator) words(s string) string {
	s = cases.Fold().String(norm.NFKC.String(s))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

// FilterRecords keeps the records whose address passes Validate and returns
// the number rejected.
func (v *Validator) FilterRecords(records []model.Record, expected string) ([]model.Record, int) {
	out := make([]model.Record, 0, len(records))
	for _, r := range records {
		if v.Validate(r.Address, expected) {
			out = append(out, r)
		}
	}
	return out, len(records) - len(out)
}
