package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/healthsynth/internal/catalog"
	"codeberg.org/mutker/healthsynth/internal/joblog"
	"codeberg.org/mutker/healthsynth/internal/orchestrator"
	"codeberg.org/mutker/healthsynth/internal/server"
	"codeberg.org/mutker/healthsynth/internal/store"
	"codeberg.org/mutker/healthsynth/internal/store/memory"
	"codeberg.org/mutker/healthsynth/internal/telemetry"
	"codeberg.org/mutker/healthsynth/internal/timerange"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedStore holds deletes until release is closed.
type gatedStore struct {
	*memory.Storage
	release chan struct{}
}

func (g *gatedStore) Delete(ctx context.Context, t store.SampleType, r timerange.Range) error {
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.Storage.Delete(ctx, t, r)
}

type fixture struct {
	srv  *server.Server
	ts   *httptest.Server
	orch *orchestrator.Orchestrator
	sink *joblog.Sink
}

func newFixture(t *testing.T, st store.Store, authorize bool) *fixture {
	t.Helper()

	cat, err := catalog.New(catalog.Default())
	require.NoError(t, err)

	sink := joblog.New()
	rec := telemetry.NewService(telemetry.Config{Enabled: true})
	orch := orchestrator.New(st, cat, sink,
		orchestrator.WithRecorder(rec),
		orchestrator.WithDays(1),
		orchestrator.WithLocation(time.UTC),
	)
	if authorize {
		require.NoError(t, orch.Authorize(context.Background()))
	}

	srv := server.New(orch, cat, sink,
		server.WithRecorder(rec),
		server.WithDefaults(orchestrator.Request{Selection: map[string]bool{
			"Steps": false, "Heart Rate": false, "Active Energy": false,
		}}),
	)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})

	return &fixture{srv: srv, ts: ts, orch: orch, sink: sink}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (f *fixture) waitDone(t *testing.T) server.StatusResponse {
	t.Helper()
	var status server.StatusResponse
	require.Eventually(t, func() bool {
		resp := f.do(t, http.MethodGet, "/v1/status", "")
		status = decode[server.StatusResponse](t, resp)
		return status.LastRun != nil && status.LastRun.State == orchestrator.StateDone
	}, 5*time.Second, 10*time.Millisecond)
	return status
}

func TestGenerateStartsRun(t *testing.T) {
	st := memory.New(store.Grants{})
	f := newFixture(t, st, true)

	resp := f.do(t, http.MethodPost, "/v1/generate", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	run := decode[server.RunResponse](t, resp)
	assert.Equal(t, "started", run.Status)
	assert.Equal(t, orchestrator.PhaseGenerate, run.Kind)

	status := f.waitDone(t)
	assert.True(t, status.Authorized)
	assert.Equal(t, orchestrator.PhaseGenerate, status.LastRun.Kind)
	assert.ElementsMatch(t,
		[]string{"HRV", "Resting Heart Rate", "Respiratory Rate", "Body Temperature", "Sleep"},
		status.LastRun.Metrics)
	assert.NotEmpty(t, st.Samples())

	lines := f.sink.Lines()
	assert.Contains(t, lines[len(lines)-1], "Finished generating")

	metrics := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
	body, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `healthsynth_jobs_total{phase="generate",status="ok",type="resting_heart_rate"} 1`)
}

func TestGenerateWithBodyOverrides(t *testing.T) {
	st := memory.New(store.Grants{})
	f := newFixture(t, st, true)

	resp := f.do(t, http.MethodPost, "/v1/generate",
		`{"from":"2024-01-01","to":"2024-01-02","selection":{"Resting Heart Rate":true,"HRV":false,"Respiratory Rate":false,"Body Temperature":false,"Sleep":false}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	status := f.waitDone(t)
	assert.Equal(t, []string{"Resting Heart Rate"}, status.LastRun.Metrics)
	assert.Equal(t, 2, status.LastRun.Days)
	assert.Equal(t, 2, status.LastRun.Generate.Samples)
}

func TestBodySelectionMergesOverDefaults(t *testing.T) {
	f := newFixture(t, memory.New(store.Grants{}), true)

	resp := f.do(t, http.MethodPost, "/v1/generate", `{"selection":{"HRV":false}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	status := f.waitDone(t)
	assert.ElementsMatch(t,
		[]string{"Resting Heart Rate", "Respiratory Rate", "Body Temperature", "Sleep"},
		status.LastRun.Metrics)
	assert.NotContains(t, status.LastRun.Metrics, "Steps")

	// The defaults themselves are untouched by the previous body.
	resp = f.do(t, http.MethodPost, "/v1/generate", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		s := decode[server.StatusResponse](t, f.do(t, http.MethodGet, "/v1/status", ""))
		return s.LastRun != nil && s.LastRun.State == orchestrator.StateDone && len(s.LastRun.Metrics) == 5
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunRequestErrors(t *testing.T) {
	f := newFixture(t, memory.New(store.Grants{}), true)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"from":`},
		{"half window", `{"from":"2024-01-01"}`},
		{"bad date", `{"from":"yesterday","to":"today"}`},
		{"reversed", `{"from":"2024-01-05","to":"2024-01-01"}`},
		{"unknown metric", `{"selection":{"Blood Glucose":true}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/v1/generate", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestUnauthorizedRunIsForbidden(t *testing.T) {
	f := newFixture(t, memory.New(store.Grants{Allow: []store.SampleType{store.StepCount}}), false)

	resp := f.do(t, http.MethodPost, "/v1/delete", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	errResp := decode[server.ErrorResponse](t, resp)
	assert.Equal(t, string(orchestrator.ErrUnauthorized), errResp.Code)

	resp = f.do(t, http.MethodPost, "/v1/authorize", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAuthorizeEndpoint(t *testing.T) {
	f := newFixture(t, memory.New(store.Grants{}), false)

	resp := f.do(t, http.MethodPost, "/v1/authorize", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[server.StatusResponse](t, resp)
	assert.True(t, status.Authorized)
	assert.Equal(t, orchestrator.StateIdle, status.State)
}

func TestConcurrentRunConflicts(t *testing.T) {
	gated := &gatedStore{Storage: memory.New(store.Grants{}), release: make(chan struct{})}
	f := newFixture(t, gated, true)

	resp := f.do(t, http.MethodPost, "/v1/delete", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/generate", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(gated.release)
	status := f.waitDone(t)
	assert.Equal(t, orchestrator.PhaseDelete, status.LastRun.Kind)
	assert.Equal(t, len(catalog.Default()), status.LastRun.Delete.Succeeded)
}

func TestCatalogSelection(t *testing.T) {
	f := newFixture(t, memory.New(store.Grants{}), true)

	resp := f.do(t, http.MethodGet, "/v1/catalog", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	metrics := decode[[]catalog.Metric](t, resp)
	assert.Len(t, metrics, len(catalog.Default()))

	resp = f.do(t, http.MethodPut, "/v1/catalog/Sleep", `{"selected":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := decode[catalog.Metric](t, resp)
	assert.False(t, m.Selected)

	resp = f.do(t, http.MethodPut, "/v1/catalog/Blood%20Glucose", `{"selected":true}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/v1/catalog/Steps", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogSnapshotAndClear(t *testing.T) {
	f := newFixture(t, memory.New(store.Grants{}), true)
	f.sink.Append("hello")

	resp := f.do(t, http.MethodGet, "/v1/log", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	logResp := decode[server.LogResponse](t, resp)
	require.Len(t, logResp.Entries, 2)
	assert.Equal(t, "hello", logResp.Entries[1].Line)

	resp = f.do(t, http.MethodDelete, "/v1/log", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, f.sink.Len())
}

func TestLogStream(t *testing.T) {
	f := newFixture(t, memory.New(store.Grants{}), true)

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/v1/log/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first joblog.Entry
	require.NoError(t, conn.ReadJSON(&first))
	assert.Contains(t, first.Line, "Authorized")

	require.Eventually(t, func() bool {
		resp := f.do(t, http.MethodGet, "/healthz", "")
		return decode[server.HealthResponse](t, resp).Streams == 1
	}, time.Second, 10*time.Millisecond)

	f.sink.Append("live line")
	var next joblog.Entry
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "live line", next.Line)
	assert.Equal(t, first.Seq+1, next.Seq)

	f.sink.Clear()
	var cleared joblog.Entry
	require.NoError(t, conn.ReadJSON(&cleared))
	assert.True(t, cleared.Cleared)
}

func TestHealthAndDisabledMetrics(t *testing.T) {
	cat, err := catalog.New(catalog.Default())
	require.NoError(t, err)
	sink := joblog.New()
	orch := orchestrator.New(memory.New(store.Grants{}), cat, sink)
	srv := server.New(orch, cat, sink)
	defer srv.Close()

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/generate", bytes.NewReader(nil)))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	f := newFixture(t, memory.New(store.Grants{}), true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}
