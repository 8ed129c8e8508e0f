package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/permit-cli/internal/model"
	"github.com/sells-group/permit-cli/internal/resilience"
)

const searchPage = `<html><body>
<form id="aspnetForm" method="post" action="/Cap/CapHome.aspx?module=Building">
  <input type="hidden" name="__VIEWSTATE" value="vs-1" />
  <input type="hidden" name="__EVENTVALIDATION" value="ev-1" />
  <input type="text" name="ctl00$StartDate" />
</form></body></html>`

func gridPage(rows [][]string, next string) string {
	body := `<html><body><form id="aspnetForm" action="/Cap/CapHome.aspx?module=Building">
<input type="hidden" name="__VIEWSTATE" value="vs-2" />
<table class="ACA_GridView"><tr><th>Record</th><th>Address</th><th>Type</th><th>Date</th><th>Status</th></tr>`
	for _, r := range rows {
		body += "<tr>"
		for _, c := range r {
			body += "<td>" + c + "</td>"
		}
		body += "</tr>"
	}
	body += `</table>`
	if next != "" {
		body += `<a class="aca_pagination_PrevNext" href="` + next + `">Next &gt;</a>`
	}
	return body + `</form></body></html>`
}

func sessionDesc(endpoint string) model.SourceDescriptor {
	return model.SourceDescriptor{
		ID:           "lakeside",
		Jurisdiction: "CA",
		Strategy:     model.StrategyInteractiveSession,
		Endpoint:     endpoint,
		Session: model.SessionSettings{
			SearchPath:   "/Cap/CapHome.aspx?module=Building",
			Form:         map[string]string{"ctl00$StartDate": "{{from}}", "ctl00$EndDate": "{{to}}"},
			NextSelector: "a.aca_pagination_PrevNext",
		},
		AddressSuffix: ", Lakeside, CA",
	}
}

func TestSession_SearchAndPostBackPaging(t *testing.T) {
	var posts []map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/Cap/CapHome.aspx", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.SetCookie(w, &http.Cookie{Name: "ASP.NET_SessionId", Value: "abc"})
			fmt.Fprint(w, searchPage)
			return
		}
		if c, err := r.Cookie("ASP.NET_SessionId"); assert.NoError(t, err) {
			assert.Equal(t, "abc", c.Value)
		}
		assert.NoError(t, r.ParseForm())
		posts = append(posts, map[string]string{
			"viewstate": r.PostForm.Get("__VIEWSTATE"),
			"start":     r.PostForm.Get("ctl00$StartDate"),
			"end":       r.PostForm.Get("ctl00$EndDate"),
			"target":    r.PostForm.Get("__EVENTTARGET"),
		})
		if r.PostForm.Get("__EVENTTARGET") == "" {
			fmt.Fprint(w, gridPage([][]string{
				{"BLD-1", "1 Lake Dr", "Residential", "06/01/2025", "Issued"},
				{"BLD-2", "2 Lake Dr", "Commercial", "06/02/2025", "Issued"},
			}, "javascript:__doPostBack('ctl00$Pager','Page$2')"))
			return
		}
		fmt.Fprint(w, gridPage([][]string{
			{"BLD-3", "3 Lake Dr", "Pool", "06/03/2025", "Finaled"},
		}, ""))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a, err := New(sessionDesc(srv.URL), testDeps())
	require.NoError(t, err)

	recs, err := a.Fetch(context.Background(), 100, 30)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "BLD-1", recs[0].Identifier)
	assert.Equal(t, "1 Lake Dr, Lakeside, CA", recs[0].Address)
	assert.Equal(t, "Residential", recs[0].Category)
	assert.Equal(t, "2025-06-01", recs[0].IssuedAt.Format(model.DateLayout))
	assert.Equal(t, "Finaled", recs[2].Status)

	require.Len(t, posts, 2)
	assert.Equal(t, "vs-1", posts[0]["viewstate"])
	assert.Equal(t, "05/16/2025", posts[0]["start"])
	assert.Equal(t, "06/15/2025", posts[0]["end"])
	assert.Equal(t, "vs-2", posts[1]["viewstate"])
	assert.Equal(t, "ctl00$Pager", posts[1]["target"])
}

func TestSession_MaxRecordsStopsPaging(t *testing.T) {
	var postCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, searchPage)
			return
		}
		postCount++
		fmt.Fprint(w, gridPage([][]string{
			{"A", "1 St", "x", "06/01/2025", "Issued"},
			{"B", "2 St", "x", "06/01/2025", "Issued"},
		}, "javascript:__doPostBack('next','')"))
	}))
	defer srv.Close()

	a, err := New(sessionDesc(srv.URL), testDeps())
	require.NoError(t, err)
	recs, err := a.Fetch(context.Background(), 1, 30)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, 1, postCount)
}

func TestSession_NoFormIsParseError(t *testing.T) {
	srv := serve([]byte(`<html><body>Down for maintenance</body></html>`))
	defer srv.Close()

	a, err := New(sessionDesc(srv.URL), testDeps())
	require.NoError(t, err)
	_, err = a.Fetch(context.Background(), 10, 30)
	require.Error(t, err)
	assert.Equal(t, resilience.KindParse, resilience.Classify(err))
}

func TestSession_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a, err := New(sessionDesc(srv.URL), testDeps())
	require.NoError(t, err)
	_, err = a.Fetch(context.Background(), 10, 30)
	require.Error(t, err)
	assert.Equal(t, resilience.KindTransient, resilience.Classify(err))
}

func TestNewSession_InvalidEndpoint(t *testing.T) {
	_, err := New(model.SourceDescriptor{ID: "x", Strategy: model.StrategyInteractiveSession, Endpoint: "not a url"}, testDeps())
	require.Error(t, err)
	assert.Equal(t, resilience.KindPermanent, resilience.Classify(err))
}

func TestSession_DropsRowsBeforeWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, searchPage)
			return
		}
		fmt.Fprint(w, gridPage([][]string{
			{"NEW-1", "1 Lake Dr", "Residential", "06/10/2025", "Issued"},
			{"OLD-1", "9 Lake Dr", "Residential", "01/04/2024", "Finaled"},
		}, ""))
	}))
	defer srv.Close()

	a, err := New(sessionDesc(srv.URL), testDeps())
	require.NoError(t, err)
	recs, err := a.Fetch(context.Background(), 100, 30)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "NEW-1", recs[0].Identifier)
}

func TestSession_RateLimitSlowsHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	deps := testDeps()
	lim := deps.Limiters.LimiterFor(srv.URL)
	before := lim.Limit()

	a, err := New(sessionDesc(srv.URL), deps)
	require.NoError(t, err)
	_, err = a.Fetch(context.Background(), 10, 30)
	require.Error(t, err)
	assert.Equal(t, resilience.KindRateLimited, resilience.Classify(err))
	assert.Less(t, float64(lim.Limit()), float64(before))
}
