package fetcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTable_Index(t *testing.T) {
	tbl := &Table{Header: []string{" Permit # ", "Address", "Value"}}
	assert.Equal(t, 0, tbl.Index("permit #"))
	assert.Equal(t, 2, tbl.Index("VALUE"))
	assert.Equal(t, 1, tbl.Index("1"))
	assert.Equal(t, -1, tbl.Index("missing"))
	assert.Equal(t, -1, tbl.Index(""))
}

func TestTable_Cell(t *testing.T) {
	tbl := &Table{Header: []string{"a", "b"}}
	row := []string{" x ", "y"}
	assert.Equal(t, "x", tbl.Cell(row, "a"))
	assert.Equal(t, "", tbl.Cell(row, "7"))
	assert.Equal(t, "", tbl.Cell(row, "zzz"))
}
