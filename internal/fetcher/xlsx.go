package fetcher

import (
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/permit-cli/internal/resilience"
)

// XLSXOptions configures the XLSX parser.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	HeaderRow  int    // zero-based row holding the header
}

// ReadXLSXTable decodes an in-memory XLSX workbook into a Table. At most
// maxRows data rows are kept when maxRows > 0.
func ReadXLSXTable(data []byte, opts XLSXOptions, maxRows int) (*Table, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, resilience.NewError(resilience.KindParse, "fetcher: xlsx open", err)
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}
	if opts.HeaderRow >= len(sheet.Rows) {
		return nil, resilience.Errorf(resilience.KindParse, "fetcher: xlsx", "header row %d out of range (sheet has %d rows)", opts.HeaderRow, len(sheet.Rows))
	}

	t := &Table{Header: rowToStrings(sheet.Rows[opts.HeaderRow])}
	for _, row := range sheet.Rows[opts.HeaderRow+1:] {
		cells := rowToStrings(row)
		if isBlankRow(cells) {
			continue
		}
		t.Rows = append(t.Rows, cells)
		if maxRows > 0 && len(t.Rows) >= maxRows {
			break
		}
	}
	return t, nil
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, resilience.Errorf(resilience.KindParse, "fetcher: xlsx", "sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, resilience.Errorf(resilience.KindParse, "fetcher: xlsx", "sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
