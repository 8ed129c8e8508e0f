package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/permit-cli/internal/health"
	"github.com/sells-group/permit-cli/internal/model"
	"github.com/sells-group/permit-cli/internal/permitsync"
)

type fakeRunner struct {
	got [][]string
	err error
}

func (f *fakeRunner) RunCycle(_ context.Context, opts permitsync.RunOpts) (*model.Summary, error) {
	f.got = append(f.got, opts.Sources)
	if f.err != nil {
		return nil, f.err
	}
	ids := opts.Sources
	if len(ids) == 0 {
		ids = []string{"phoenix", "riverton"}
	}
	s := &model.Summary{CycleID: "cycle-1", StartedAt: time.Date(2025, 6, 15, 5, 0, 0, 0, time.UTC)}
	for _, id := range ids {
		s.Results = append(s.Results, model.RunResult{Source: id, Outcome: model.OutcomeSuccess, Live: model.LiveOK, Records: 3, Attempts: 1})
	}
	return s, nil
}

type fakeHealth map[string]health.Status

func (f fakeHealth) CheckHealth(_ context.Context, source string) (health.Status, error) {
	st, ok := f[source]
	if !ok {
		return health.Status{}, errors.New("log unavailable")
	}
	return st, nil
}

func testRouter(runner *fakeRunner, hc fakeHealth) http.Handler {
	return buildRouter(context.Background(), runner, hc, func() []string { return []string{"phoenix", "riverton"} })
}

func allHealthy() fakeHealth {
	return fakeHealth{
		"phoenix":  {Source: "phoenix", Healthy: true, Detail: "last success: 2025-06-15T05:00:00Z"},
		"riverton": {Source: "riverton", Healthy: true, Detail: "last success: 2025-06-15T05:00:00Z"},
	}
}

func TestRouter_HealthOK(t *testing.T) {
	h := testRouter(&fakeRunner{}, allHealthy())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body struct {
		Status    string          `json:"status"`
		Unhealthy int             `json:"unhealthy"`
		Sources   []health.Status `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Zero(t, body.Unhealthy)
	assert.Len(t, body.Sources, 2)
}

func TestRouter_HealthDegraded(t *testing.T) {
	hc := allHealthy()
	hc["riverton"] = health.Status{Source: "riverton", Healthy: false, Detail: "no successful runs recorded"}
	h := testRouter(&fakeRunner{}, hc)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"degraded"`)
	assert.Contains(t, rr.Body.String(), `"unhealthy":1`)
}

func TestRouter_HealthError(t *testing.T) {
	h := testRouter(&fakeRunner{}, fakeHealth{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "log unavailable")
}

func TestRouter_SourceHealth(t *testing.T) {
	h := testRouter(&fakeRunner{}, allHealthy())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sources/phoenix/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var st health.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, "phoenix", st.Source)
	assert.True(t, st.Healthy)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sources/atlantis/health", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_PostCycles(t *testing.T) {
	runner := &fakeRunner{}
	h := testRouter(runner, allHealthy())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/cycles", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var s model.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &s))
	assert.Equal(t, "cycle-1", s.CycleID)
	assert.Len(t, s.Results, 2)
	assert.Equal(t, [][]string{nil}, runner.got)
}

func TestRouter_PostCyclesWithBody(t *testing.T) {
	runner := &fakeRunner{}
	h := testRouter(runner, allHealthy())

	req := httptest.NewRequest(http.MethodPost, "/cycles", bytes.NewBufferString(`{"sources":["riverton"]}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, [][]string{{"riverton"}}, runner.got)
}

func TestRouter_PostCyclesBadBody(t *testing.T) {
	h := testRouter(&fakeRunner{}, allHealthy())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/cycles", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_PostCycleSource(t *testing.T) {
	runner := &fakeRunner{}
	h := testRouter(runner, allHealthy())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/cycles/phoenix", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, [][]string{{"phoenix"}}, runner.got)
}

func TestRouter_PostCycleUnknownSource(t *testing.T) {
	runner := &fakeRunner{err: eris.Wrapf(permitsync.ErrUnknownSource, "permitsync: get %q", "atlantis")}
	h := testRouter(runner, allHealthy())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/cycles/atlantis", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "unknown source")
}

func TestRouter_CORSPreflight(t *testing.T) {
	h := testRouter(&fakeRunner{}, allHealthy())

	req := httptest.NewRequest(http.MethodOptions, "/cycles", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
