package monitor

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/db"
	"github.com/banshee-data/presence.report/internal/geom"
	"github.com/banshee-data/presence.report/internal/pipeline"
	"github.com/banshee-data/presence.report/internal/session"
	"github.com/banshee-data/presence.report/internal/vision"
)

func testServer(t *testing.T, archive *db.DB) (*WebServer, *pipeline.Runner) {
	t.Helper()
	scn := &vision.Scenario{W: 100, H: 100, Frames: 1}
	r, err := pipeline.NewRunner(pipeline.Options{
		Source:   scn,
		Detector: scn,
		RunID:    uuid.NewString(),
	})
	require.NoError(t, err)
	return NewWebServer(WebServerConfig{Address: "127.0.0.1:0", Runner: r, Archive: archive}), r
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	ws, _ := testServer(t, nil)
	mux := ws.setupRoutes()

	rec := doJSON(t, mux, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ok", got["status"])
	assert.Equal(t, false, got["running"])
	assert.NotEmpty(t, got["run_id"])
}

func TestPipelineStartStop(t *testing.T) {
	ws, r := testServer(t, nil)
	mux := ws.setupRoutes()

	rec := doJSON(t, mux, http.MethodGet, "/api/pipeline/start", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/pipeline/start", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// single-frame scenario; worker exits on EOF on its own
	require.Eventually(t, func() bool { return !r.Running() }, 5*time.Second, 10*time.Millisecond)

	rec = doJSON(t, mux, http.MethodPost, "/api/pipeline/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPipelineRestart(t *testing.T) {
	ws, r := testServer(t, nil)
	mux := ws.setupRoutes()

	rec := doJSON(t, mux, http.MethodGet, "/api/pipeline/restart", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/pipeline/restart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "restarted")

	// restart while the worker is down still yields a fresh empty run
	require.Eventually(t, func() bool { return !r.Running() }, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, r.Sessions().AllSessions())
}

func TestStartWhileRunningConflicts(t *testing.T) {
	ws, r := testServer(t, nil)
	mux := ws.setupRoutes()

	require.NoError(t, r.Start())
	defer r.Stop()
	if r.Running() {
		rec := doJSON(t, mux, http.MethodPost, "/api/pipeline/start", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	}
}

func TestLinesRoundTrip(t *testing.T) {
	ws, r := testServer(t, nil)
	mux := ws.setupRoutes()

	rec := doJSON(t, mux, http.MethodPost, "/api/lines", []map[string]float64{
		{"x1": 0, "y1": 50, "x2": 100, "y2": 50},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, r.Lines(), 1)
	assert.Equal(t, geom.Point{X: 0, Y: 50}, r.Lines()[0].P1)

	rec = doJSON(t, mux, http.MethodGet, "/api/lines", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var specs []map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &specs))
	require.Len(t, specs, 1)
	assert.Equal(t, 50.0, specs[0]["y1"])
}

func TestLinesRejectDegenerate(t *testing.T) {
	ws, r := testServer(t, nil)
	mux := ws.setupRoutes()

	rec := doJSON(t, mux, http.MethodPost, "/api/lines", []map[string]float64{
		{"x1": 5, "y1": 5, "x2": 5, "y2": 5},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, r.Lines())
}

func TestZonesValidation(t *testing.T) {
	ws, r := testServer(t, nil)
	mux := ws.setupRoutes()

	rec := doJSON(t, mux, http.MethodPost, "/api/zones", []map[string]interface{}{
		{"name": "shelf", "points": []map[string]float64{{"x": 0, "y": 0}, {"x": 1, "y": 0}, {"x": 1, "y": 1}}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/zones", []map[string]interface{}{
		{"name": "shelf", "points": []map[string]float64{
			{"x": 0, "y": 0}, {"x": 10, "y": 0}, {"x": 10, "y": 10}, {"x": 0, "y": 10},
		}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, r.Zones(), 1)
	assert.Equal(t, "shelf", r.Zones()[0].Name)
}

func TestZonesDelete(t *testing.T) {
	ws, r := testServer(t, nil)
	mux := ws.setupRoutes()

	rec := doJSON(t, mux, http.MethodPost, "/api/zones", []map[string]interface{}{
		{"name": "shelf_a", "points": []map[string]float64{
			{"x": 0, "y": 0}, {"x": 10, "y": 0}, {"x": 10, "y": 10}, {"x": 0, "y": 10},
		}},
		{"name": "shelf_b", "points": []map[string]float64{
			{"x": 20, "y": 0}, {"x": 30, "y": 0}, {"x": 30, "y": 10}, {"x": 20, "y": 10},
		}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodDelete, "/api/zones?name=shelf_a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, r.Zones(), 1)
	assert.Equal(t, "shelf_b", r.Zones()[0].Name)

	rec = doJSON(t, mux, http.MethodDelete, "/api/zones?name=shelf_a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, mux, http.MethodDelete, "/api/zones", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndexPage(t *testing.T) {
	ws, _ := testServer(t, nil)
	mux := ws.setupRoutes()

	rec := doJSON(t, mux, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Presence Pipeline")

	rec = doJSON(t, mux, http.MethodGet, "/nonsense", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParamsPatch(t *testing.T) {
	ws, r := testServer(t, nil)
	mux := ws.setupRoutes()

	rec := doJSON(t, mux, http.MethodPost, "/api/params", map[string]interface{}{
		"confidence_threshold": 0.7,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.7, r.Tuning().GetConfidenceThreshold())
	// untouched fields keep their values
	assert.Equal(t, 0.3, r.Tuning().GetIoUMatchThreshold())

	rec = doJSON(t, mux, http.MethodPost, "/api/params", map[string]interface{}{
		"confidence_threshold": 7.0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0.7, r.Tuning().GetConfidenceThreshold())
}

func TestSessionsEndpoints(t *testing.T) {
	ws, r := testServer(t, nil)
	mux := ws.setupRoutes()

	rec := doJSON(t, mux, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/sessions/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "{}", rec.Body.String())

	now := time.Now()
	r.Publisher().Publish(&pipeline.Snapshot{
		Seq: 1,
		Active: map[int]*session.Session{
			1: {SessionID: "CUST_001", EntryTime: &now, Events: []string{session.EventEntry}},
		},
	})
	rec = doJSON(t, mux, http.MethodGet, "/api/sessions/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "CUST_001")
}

func TestFrameEndpoint(t *testing.T) {
	ws, r := testServer(t, nil)
	mux := ws.setupRoutes()

	rec := doJSON(t, mux, http.MethodGet, "/api/frame", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	r.Publisher().Publish(&pipeline.Snapshot{Seq: 1, JPEG: []byte{0xff, 0xd8, 0xff, 0xd9}})
	rec = doJSON(t, mux, http.MethodGet, "/api/frame", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xd9}, rec.Body.Bytes())
}

func TestReportEndpointsWithoutArchive(t *testing.T) {
	ws, _ := testServer(t, nil)
	mux := ws.setupRoutes()

	for _, path := range []string{"/api/report", "/api/report/summary", "/api/report/histogram"} {
		rec := doJSON(t, mux, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestReportSummaryFromArchive(t *testing.T) {
	archive, err := db.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })
	require.NoError(t, archive.MigrateUp("../../migrations"))

	ws, r := testServer(t, archive)
	mux := ws.setupRoutes()

	entry := time.Now().Add(-time.Minute)
	exit := entry.Add(30 * time.Second)
	require.NoError(t, archive.ArchiveSession(r.RunID(), 1, &session.Session{
		SessionID: "CUST_001",
		EntryTime: &entry,
		ExitTime:  &exit,
		Events:    []string{session.EventEntry, session.EventExit},
	}))

	rec := doJSON(t, mux, http.MethodGet, "/api/report/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary db.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.SessionCount)
	assert.InDelta(t, 30000, summary.Duration.P50Ms, 1)

	rec = doJSON(t, mux, http.MethodGet, "/api/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	rec = doJSON(t, mux, http.MethodGet, "/api/report/histogram", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
}

func TestHistogramNoSessions(t *testing.T) {
	archive, err := db.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })
	require.NoError(t, archive.MigrateUp("../../migrations"))

	ws, _ := testServer(t, archive)
	mux := ws.setupRoutes()

	rec := doJSON(t, mux, http.MethodGet, "/api/report/histogram", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
