package adapter

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/permit-cli/internal/model"
	"github.com/sells-group/permit-cli/internal/resilience"
)

func docDesc(endpoint, format string) model.SourceDescriptor {
	return model.SourceDescriptor{
		ID:           "tucson",
		Jurisdiction: "AZ",
		Strategy:     model.StrategyStaticDocument,
		Endpoint:     endpoint,
		Format:       format,
		Fields: model.FieldMap{
			Identifier: "Permit #",
			Address:    "Address",
			Category:   "Type",
			Value:      "Value",
			IssuedAt:   "Issued",
		},
	}
}

func serve(body []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(body) //nolint:errcheck
	}))
}

func TestDocument_CSV_FiltersByDaysBack(t *testing.T) {
	srv := serve([]byte("Permit #,Address,Type,Value,Issued\n" +
		"T-1,1 Main St,POOL,\"$12,000\",06/10/2025\n" +
		"T-2,2 Main St,SOLAR,,01/01/2024\n" +
		"T-3,3 Main St,REMODEL,900,\n"))
	defer srv.Close()

	a, err := New(docDesc(srv.URL+"/permits.csv", ""), testDeps())
	require.NoError(t, err)

	recs, err := a.Fetch(context.Background(), 100, 30)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "T-1", recs[0].Identifier)
	assert.Equal(t, 12000.0, recs[0].EstimatedValue)
	assert.Equal(t, "T-3", recs[1].Identifier)
	assert.Equal(t, model.TruncateDay(fixedNow), recs[1].IssuedAt)
}

func TestDocument_CSV_MaxRecords(t *testing.T) {
	srv := serve([]byte("Permit #,Address\nA,1\nB,2\nC,3\n"))
	defer srv.Close()

	a, err := New(docDesc(srv.URL+"/x.csv", ""), testDeps())
	require.NoError(t, err)
	recs, err := a.Fetch(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestDocument_HTMLTable(t *testing.T) {
	page := `<html><body>
<table id="nav"><tr><td>menu</td></tr></table>
<table class="permits">
  <tr><th>Permit #</th><th>Address</th><th>Type</th><th>Value</th><th>Issued</th></tr>
  <tr><td>H-1</td><td>10  Elm
  St</td><td>ADDITION</td><td>$5,000</td><td>2025-06-01</td></tr>
  <tr><td>H-2</td><td>11 Elm St</td><td>POOL</td><td></td><td>2025-06-02</td></tr>
</table></body></html>`
	srv := serve([]byte(page))
	defer srv.Close()

	desc := docDesc(srv.URL+"/permits", "html")
	desc.Selector = "table.permits"
	a, err := New(desc, testDeps())
	require.NoError(t, err)

	recs, err := a.Fetch(context.Background(), 100, 90)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "10 Elm St", recs[0].Address)
	assert.Equal(t, 5000.0, recs[0].EstimatedValue)
}

func TestHTMLTable_PositionalColumns(t *testing.T) {
	tbl, err := HTMLTable([]byte(`<table><tr><td>No</td><td>Where</td></tr><tr><td>P1</td><td>1 A St</td></tr></table>`), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"No", "Where"}, tbl.Header)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "1 A St", tbl.Cell(tbl.Rows[0], "1"))
}

func TestHTMLTable_NoTableIsParseError(t *testing.T) {
	_, err := HTMLTable([]byte(`<html><body><p>Service unavailable</p></body></html>`), "table.permits")
	require.Error(t, err)
	assert.Equal(t, resilience.KindParse, resilience.Classify(err))
}

func TestDocument_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sh, err := f.AddSheet("Permits")
	require.NoError(t, err)
	for _, row := range [][]string{
		{"Permit #", "Address", "Type", "Value", "Issued"},
		{"X-1", "4 Birch Rd", "NEW", "100000", "2025-06-03"},
	} {
		r := sh.AddRow()
		for _, v := range row {
			r.AddCell().SetString(v)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	srv := serve(buf.Bytes())
	defer srv.Close()

	a, err := New(docDesc(srv.URL+"/issued.xlsx", ""), testDeps())
	require.NoError(t, err)
	recs, err := a.Fetch(context.Background(), 100, 90)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "X-1", recs[0].Identifier)
	assert.Equal(t, 100000.0, recs[0].EstimatedValue)
}

func TestDocumentFormat(t *testing.T) {
	tests := []struct {
		endpoint, format, want string
	}{
		{"https://x.gov/a.csv", "", FormatCSV},
		{"ftp://x.gov/pub/a.xlsx", "", FormatXLSX},
		{"https://x.gov/report.aspx", "", FormatHTML},
		{"https://x.gov/download?id=1", "CSV", FormatCSV},
	}
	for _, tt := range tests {
		got, err := documentFormat(model.SourceDescriptor{Endpoint: tt.endpoint, Format: tt.format})
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.endpoint)
	}

	_, err := documentFormat(model.SourceDescriptor{Endpoint: "https://x.gov/a", Format: "pdf"})
	require.Error(t, err)
}
