package fetcher

import (
	"strconv"
	"strings"
)

// Table is a decoded tabular document: one header row plus data rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// Index resolves a column reference to a position. A reference is either a
// header name (case-insensitive, surrounding space ignored) or a zero-based
// column number. It returns -1 when the column does not exist.
func (t *Table) Index(ref string) int {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return -1
	}
	for i, h := range t.Header {
		if strings.EqualFold(strings.TrimSpace(h), ref) {
			return i
		}
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 0 {
		return n
	}
	return -1
}

// Cell returns the value of column ref in row, or "" when absent.
func (t *Table) Cell(row []string, ref string) string {
	i := t.Index(ref)
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
