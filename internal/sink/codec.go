package sink

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/permit-cli/internal/fetcher"
	"github.com/sells-group/permit-cli/internal/model"
)

// Snapshot file formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Columns is the fixed snapshot column order.
var Columns = []string{"permit_number", "address", "type", "value", "issued_date", "status"}

// row is the on-disk shape of a record.
type row struct {
	PermitNumber string `csv:"permit_number"`
	Address      string `csv:"address"`
	Type         string `csv:"type"`
	Value        string `csv:"value"`
	IssuedDate   string `csv:"issued_date"`
	Status       string `csv:"status"`
}

func (r row) cells() []string {
	return []string{r.PermitNumber, r.Address, r.Type, r.Value, r.IssuedDate, r.Status}
}

func toRow(rec model.Record) row {
	return row{
		PermitNumber: rec.Identifier,
		Address:      rec.Address,
		Type:         rec.Category,
		Value:        FormatValue(rec.EstimatedValue),
		IssuedDate:   formatDate(rec),
		Status:       rec.Status,
	}
}

func formatDate(rec model.Record) string {
	if rec.IssuedAt.IsZero() {
		return ""
	}
	return rec.IssuedAt.Format(model.DateLayout)
}

func fromRow(r row) (model.Record, error) {
	rec := model.Record{
		Identifier:     r.PermitNumber,
		Address:        r.Address,
		Category:       r.Type,
		EstimatedValue: ParseValue(r.Value),
		Status:         r.Status,
	}
	if s := strings.TrimSpace(r.IssuedDate); s != "" {
		t, err := time.Parse(model.DateLayout, s)
		if err != nil {
			return model.Record{}, eris.Wrapf(err, "sink: issued_date for %s", r.PermitNumber)
		}
		rec.IssuedAt = t
	}
	return rec, nil
}

// FormatValue renders an amount as US currency, e.g. "$1,234.00".
func FormatValue(v float64) string {
	return message.NewPrinter(language.AmericanEnglish).Sprintf("$%.2f", v)
}

// ParseValue reverses FormatValue. Unparseable input yields zero.
func ParseValue(s string) float64 {
	s = strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(s))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// Encode renders records in format.
func Encode(format string, records []model.Record) ([]byte, error) {
	switch format {
	case FormatCSV:
		return encodeCSV(records)
	case FormatXLSX:
		return encodeXLSX(records)
	}
	return nil, eris.Errorf("sink: unknown format %q", format)
}

// Decode parses a snapshot file in format.
func Decode(format string, data []byte) ([]model.Record, error) {
	switch format {
	case FormatCSV:
		return decodeCSV(data)
	case FormatXLSX:
		return decodeXLSX(data)
	}
	return nil, eris.Errorf("sink: unknown format %q", format)
}

func encodeCSV(records []model.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	enc := csvutil.NewEncoder(w)
	if err := enc.EncodeHeader(row{}); err != nil {
		return nil, eris.Wrap(err, "sink: encode csv header")
	}
	for _, rec := range records {
		if err := enc.Encode(toRow(rec)); err != nil {
			return nil, eris.Wrapf(err, "sink: encode csv row %s", rec.Identifier)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, eris.Wrap(err, "sink: flush csv")
	}
	return buf.Bytes(), nil
}

func decodeCSV(data []byte) ([]model.Record, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(bytes.NewReader(data)))
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sink: read csv header")
	}

	var out []model.Record
	for {
		var r row
		if err := dec.Decode(&r); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, eris.Wrap(err, "sink: decode csv row")
		}
		rec, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func encodeXLSX(records []model.Record) ([]byte, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("permits")
	if err != nil {
		return nil, eris.Wrap(err, "sink: add xlsx sheet")
	}
	header := sheet.AddRow()
	for _, c := range Columns {
		header.AddCell().SetString(c)
	}
	for _, rec := range records {
		r := sheet.AddRow()
		for _, c := range toRow(rec).cells() {
			r.AddCell().SetString(c)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, eris.Wrap(err, "sink: write xlsx")
	}
	return buf.Bytes(), nil
}

func decodeXLSX(data []byte) ([]model.Record, error) {
	tbl, err := fetcher.ReadXLSXTable(data, fetcher.XLSXOptions{}, 0)
	if err != nil {
		return nil, eris.Wrap(err, "sink: read xlsx")
	}
	out := make([]model.Record, 0, len(tbl.Rows))
	for _, cells := range tbl.Rows {
		rec, err := fromRow(row{
			PermitNumber: tbl.Cell(cells, "permit_number"),
			Address:      tbl.Cell(cells, "address"),
			Type:         tbl.Cell(cells, "type"),
			Value:        tbl.Cell(cells, "value"),
			IssuedDate:   tbl.Cell(cells, "issued_date"),
			Status:       tbl.Cell(cells, "status"),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
