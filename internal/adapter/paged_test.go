package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/permit-cli/internal/model"
	"github.com/sells-group/permit-cli/internal/resilience"
)

func socrataDesc(endpoint string) model.SourceDescriptor {
	return model.SourceDescriptor{
		ID:           "phoenix",
		Jurisdiction: "AZ",
		Strategy:     model.StrategyPagedAPI,
		Dialect:      "socrata",
		Endpoint:     endpoint,
		DateField:    "issue_date",
		PageSize:     2,
		Fields: model.FieldMap{
			Identifier: "permit_num",
			Address:    "address",
			Category:   "permit_type",
			Value:      "valuation",
			IssuedAt:   "issue_date",
			Status:     "status",
		},
		AddressSuffix: ", Phoenix, AZ",
	}
}

// socrataServer serves total rows, honoring $limit and $offset.
func socrataServer(t *testing.T, total int, calls *[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		*calls = append(*calls, q.Get("$offset")+"/"+q.Get("$limit"))
		limit, _ := strconv.Atoi(q.Get("$limit"))
		offset, _ := strconv.Atoi(q.Get("$offset"))
		var items []string
		for i := offset; i < total && i < offset+limit; i++ {
			items = append(items, fmt.Sprintf(`{"permit_num":"BP-%d","address":"%d Elm St","permit_type":"REMODEL","valuation":"1500.25","issue_date":"2025-06-01T00:00:00.000","status":"Issued"}`, i, i+1))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "[%s]", strings.Join(items, ","))
	}))
}

func TestPagedAPI_Socrata_PagesUntilShortPage(t *testing.T) {
	var calls []string
	srv := socrataServer(t, 5, &calls)
	defer srv.Close()

	a, err := New(socrataDesc(srv.URL), testDeps())
	require.NoError(t, err)

	recs, err := a.Fetch(context.Background(), 100, 90)
	require.NoError(t, err)
	require.Len(t, recs, 5)
	assert.Equal(t, []string{"0/2", "2/2", "4/2"}, calls)

	first := recs[0]
	assert.Equal(t, "BP-0", first.Identifier)
	assert.Equal(t, "1 Elm St, Phoenix, AZ", first.Address)
	assert.Equal(t, "REMODEL", first.Category)
	assert.Equal(t, 1500.25, first.EstimatedValue)
	assert.Equal(t, "2025-06-01", first.IssuedAt.Format(model.DateLayout))
	assert.Equal(t, "Issued", first.Status)
}

func TestPagedAPI_Socrata_StopsAtMaxRecords(t *testing.T) {
	var calls []string
	srv := socrataServer(t, 50, &calls)
	defer srv.Close()

	a, err := New(socrataDesc(srv.URL), testDeps())
	require.NoError(t, err)

	recs, err := a.Fetch(context.Background(), 3, 90)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
	assert.Equal(t, []string{"0/2", "2/1"}, calls)
}

func TestPagedAPI_EmptyFirstPageIsNotAnError(t *testing.T) {
	var calls []string
	srv := socrataServer(t, 0, &calls)
	defer srv.Close()

	a, err := New(socrataDesc(srv.URL), testDeps())
	require.NoError(t, err)

	recs, err := a.Fetch(context.Background(), 100, 90)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Len(t, calls, 1)
}

func TestPagedAPI_Socrata_Where(t *testing.T) {
	var where, order string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		where = r.URL.Query().Get("$where")
		order = r.URL.Query().Get("$order")
		w.Write([]byte("[]")) //nolint:errcheck
	}))
	defer srv.Close()

	a, err := New(socrataDesc(srv.URL), testDeps())
	require.NoError(t, err)
	_, err = a.Fetch(context.Background(), 10, 30)
	require.NoError(t, err)
	assert.Equal(t, "issue_date >= '2025-05-16T00:00:00'", where)
	assert.Equal(t, "issue_date DESC", order)
}

func TestPagedAPI_InvalidJSONIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>maintenance</html>")) //nolint:errcheck
	}))
	defer srv.Close()

	a, err := New(socrataDesc(srv.URL), testDeps())
	require.NoError(t, err)
	_, err = a.Fetch(context.Background(), 10, 30)
	require.Error(t, err)
	assert.Equal(t, resilience.KindParse, resilience.Classify(err))
}

func TestPagedAPI_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	a, err := New(socrataDesc(srv.URL), testDeps())
	require.NoError(t, err)
	_, err = a.Fetch(context.Background(), 10, 30)
	require.Error(t, err)
	assert.Equal(t, resilience.KindNotFound, resilience.Classify(err))
}

func TestPagedAPI_ArcGIS(t *testing.T) {
	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		offsets = append(offsets, q.Get("resultOffset"))
		assert.Equal(t, "json", q.Get("f"))
		assert.Equal(t, "ISSUED >= DATE '2025-05-16'", q.Get("where"))
		if q.Get("resultOffset") == "0" {
			w.Write([]byte(`{"features":[{"attributes":{"PERMIT":"A-1","ADDR":"5 Oak Ave","ISSUED":1748736000000,"VALUE":25000}}]}`)) //nolint:errcheck
			return
		}
		w.Write([]byte(`{"features":[]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	desc := model.SourceDescriptor{
		ID: "mesa", Jurisdiction: "AZ", Strategy: model.StrategyPagedAPI,
		Dialect: "arcgis", Endpoint: srv.URL + "/FeatureServer/0/query", DateField: "ISSUED", PageSize: 1,
		Fields: model.FieldMap{Identifier: "PERMIT", Address: "ADDR", IssuedAt: "ISSUED", Value: "VALUE"},
	}
	a, err := New(desc, testDeps())
	require.NoError(t, err)

	recs, err := a.Fetch(context.Background(), 100, 30)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"0", "1"}, offsets)
	assert.Equal(t, "2025-06-01", recs[0].IssuedAt.Format(model.DateLayout))
	assert.Equal(t, 25000.0, recs[0].EstimatedValue)
}

func TestArcGIS_ErrorBody(t *testing.T) {
	_, err := arcgis{}.Items([]byte(`{"error":{"code":499,"message":"Token Required"}}`))
	require.Error(t, err)
	assert.Equal(t, resilience.KindPermanent, resilience.Classify(err))

	_, err = arcgis{}.Items([]byte(`{"error":{"code":500,"message":"busy"}}`))
	assert.Equal(t, resilience.KindTransient, resilience.Classify(err))

	_, err = arcgis{}.Items([]byte(`{"fields":[]}`))
	assert.Equal(t, resilience.KindParse, resilience.Classify(err))
}

func TestPagedAPI_Carto(t *testing.T) {
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query().Get("q"))
		w.Write([]byte(`{"rows":[{"permitnumber":"C-1","address":"9 Pine St","permitissuedate":"2025-06-02T00:00:00Z"}],"total_rows":1}`)) //nolint:errcheck
	}))
	defer srv.Close()

	desc := model.SourceDescriptor{
		ID: "philadelphia", Jurisdiction: "PA", Strategy: model.StrategyPagedAPI,
		Dialect: "carto", Endpoint: srv.URL + "/api/v2/sql", Table: "permits", DateField: "permitissuedate",
		Fields: model.FieldMap{Identifier: "permitnumber", Address: "address", IssuedAt: "permitissuedate"},
	}
	a, err := New(desc, testDeps())
	require.NoError(t, err)

	recs, err := a.Fetch(context.Background(), 5000, 30)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Len(t, queries, 1)
	assert.Equal(t, "SELECT * FROM permits WHERE permitissuedate >= '2025-05-16' ORDER BY permitissuedate DESC LIMIT 1000 OFFSET 0", queries[0])
}

func TestCarto_RequiresTable(t *testing.T) {
	_, err := carto{}.PageURL(PageQuery{Endpoint: "https://x.carto.com/api/v2/sql", Limit: 10})
	require.Error(t, err)
	assert.Equal(t, resilience.KindPermanent, resilience.Classify(err))
}

func TestNew_ConfigErrors(t *testing.T) {
	base := socrataDesc("https://data.example.gov/resource/abcd.json")

	bad := base
	bad.Dialect = "graphql"
	_, err := New(bad, testDeps())
	require.Error(t, err)
	assert.Equal(t, resilience.KindPermanent, resilience.Classify(err))

	bad = base
	bad.Fields.Identifier = ""
	_, err = New(bad, testDeps())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fields.identifier")

	bad = base
	bad.Strategy = "browser"
	_, err = New(bad, testDeps())
	require.Error(t, err)

	_, err = New(base, Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fetcher")
}

func TestPagedAPI_Headers(t *testing.T) {
	t.Setenv("TEST_APP_TOKEN", "tok-123")
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-App-Token")
		w.Write([]byte("[]")) //nolint:errcheck
	}))
	defer srv.Close()

	desc := socrataDesc(srv.URL)
	desc.Headers = map[string]string{"X-App-Token": "${TEST_APP_TOKEN}"}
	a, err := New(desc, testDeps())
	require.NoError(t, err)
	_, err = a.Fetch(context.Background(), 10, 30)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", got)
}
