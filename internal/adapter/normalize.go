package adapter

import (
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/permit-cli/internal/model"
)

// dateLayouts are tried in order by ParseDate.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04:05",
	"2006/01/02",
	"02-01-2006",
	"01-02-2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

// ParseDate parses the date formats seen across permit portals, including
// epoch milliseconds. It returns the zero time when nothing matches.
func ParseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}

	if isDigits(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}
		}
		switch {
		case len(s) >= 12:
			return time.UnixMilli(n).UTC()
		case len(s) >= 9:
			return time.Unix(n, 0).UTC()
		}
		return time.Time{}
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ParseValue parses a currency amount such as "$1,234.50". Unparseable or
// empty input yields zero.
func ParseValue(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// WithSuffix appends suffix (e.g. ", Phoenix, AZ") to addresses that do not
// already end with it.
func WithSuffix(address, suffix string) string {
	address = strings.TrimSpace(address)
	if address == "" || suffix == "" {
		return address
	}
	trimmed := strings.TrimSpace(suffix)
	if strings.HasSuffix(strings.ToUpper(address), strings.ToUpper(strings.TrimLeft(trimmed, ", "))) {
		return address
	}
	return address + suffix
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// builder turns raw field lookups into normalized Records.
type builder struct {
	fields model.FieldMap
	suffix string
	now    func() time.Time
}

// build creates a record from get, which resolves a field reference to a raw
// string value.
func (b builder) build(get func(ref string) string) model.Record {
	lookup := func(ref string) string {
		if ref == "" {
			return ""
		}
		return strings.TrimSpace(get(ref))
	}
	r := model.Record{
		Identifier:     lookup(b.fields.Identifier),
		Address:        WithSuffix(lookup(b.fields.Address), b.suffix),
		Category:       lookup(b.fields.Category),
		EstimatedValue: ParseValue(lookup(b.fields.Value)),
		IssuedAt:       ParseDate(lookup(b.fields.IssuedAt)),
		Status:         lookup(b.fields.Status),
	}
	return r.Normalize(b.now())
}

// cutoff returns the oldest issue date kept for a daysBack window.
func cutoff(now time.Time, daysBack int) time.Time {
	if daysBack <= 0 {
		return time.Time{}
	}
	return model.TruncateDay(now).AddDate(0, 0, -daysBack)
}
