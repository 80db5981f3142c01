// Package monitor is the HTTP surface of the presence pipeline:
// pipeline control, line/zone/tuning configuration, session queries,
// the annotated frame stream and the dwell report charts.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/db"
	"github.com/banshee-data/presence.report/internal/geom"
	"github.com/banshee-data/presence.report/internal/httputil"
	"github.com/banshee-data/presence.report/internal/pipeline"
	"github.com/banshee-data/presence.report/internal/region"
	"github.com/banshee-data/presence.report/internal/version"
)

// WebServer handles the HTTP interface for the presence pipeline.
type WebServer struct {
	address string
	runner  *pipeline.Runner
	archive *db.DB
	server  *http.Server
}

// WebServerConfig contains configuration options for the web server.
// Archive may be nil; the report endpoints then return 503.
type WebServerConfig struct {
	Address string
	Runner  *pipeline.Runner
	Archive *db.DB
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(cfg WebServerConfig) *WebServer {
	ws := &WebServer{
		address: cfg.Address,
		runner:  cfg.Runner,
		archive: cfg.Archive,
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}
	return ws
}

// Start begins the HTTP server in a goroutine and handles graceful shutdown
// when the context is cancelled.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", ws.handleIndex)
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/pipeline/start", ws.handlePipelineStart)
	mux.HandleFunc("/api/pipeline/stop", ws.handlePipelineStop)
	mux.HandleFunc("/api/pipeline/restart", ws.handlePipelineRestart)
	mux.HandleFunc("/api/lines", ws.handleLines)
	mux.HandleFunc("/api/zones", ws.handleZones)
	mux.HandleFunc("/api/params", ws.handleParams)
	mux.HandleFunc("/api/sessions", ws.handleSessions)
	mux.HandleFunc("/api/sessions/active", ws.handleActiveSessions)
	mux.HandleFunc("/api/frame", ws.handleFrame)
	mux.HandleFunc("/stream", ws.handleStream)
	mux.HandleFunc("/ws", ws.handleWebSocket)
	mux.HandleFunc("/api/report", ws.handleDwellChart)
	mux.HandleFunc("/api/report/summary", ws.handleReportSummary)
	mux.HandleFunc("/api/report/histogram", ws.handleDurationHistogram)

	return mux
}

func (ws *WebServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")

	pipelineStatus := "stopped"
	if ws.runner.Running() {
		pipelineStatus = "running"
	}
	archiveStatus := "disabled"
	if ws.archive != nil {
		archiveStatus = "enabled"
	}

	fmt.Fprintf(w, `
<!DOCTYPE html>
<html>
<head><title>Presence Pipeline</title></head>
<body>
	<h1>Presence Pipeline</h1>
	<p>Run ID: %s</p>
	<p>Pipeline: %s</p>
	<p>Session archive: %s</p>
	<ul>
		<li><a href="/health">Health check</a></li>
		<li><a href="/stream">Live stream</a></li>
		<li><a href="/api/sessions">Sessions</a></li>
		<li><a href="/api/report">Dwell report</a></li>
	</ul>
</body>
</html>`, ws.runner.RunID(), pipelineStatus, archiveStatus)
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":  "ok",
		"version": version.Version,
		"running": ws.runner.Running(),
		"run_id":  ws.runner.RunID(),
	})
}

func (ws *WebServer) handlePipelineStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := ws.runner.Start(); err != nil {
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "started", "run_id": ws.runner.RunID()})
}

func (ws *WebServer) handlePipelineRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := ws.runner.Restart(); err != nil {
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "restarted", "run_id": ws.runner.RunID()})
}

func (ws *WebServer) handlePipelineStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	ws.runner.Stop()
	httputil.WriteJSONOK(w, map[string]string{"status": "stopped"})
}

// lineSpec is the wire form of one crossing line.
type lineSpec struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (ws *WebServer) handleLines(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		lines := ws.runner.Lines()
		specs := make([]lineSpec, len(lines))
		for i, l := range lines {
			specs[i] = lineSpec{X1: l.P1.X, Y1: l.P1.Y, X2: l.P2.X, Y2: l.P2.Y}
		}
		httputil.WriteJSONOK(w, specs)
	case http.MethodPost:
		var specs []lineSpec
		if err := json.NewDecoder(r.Body).Decode(&specs); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid lines payload: %v", err))
			return
		}
		lines := make([]geom.Line, len(specs))
		for i, s := range specs {
			if s.X1 == s.X2 && s.Y1 == s.Y2 {
				httputil.BadRequest(w, fmt.Sprintf("line %d is degenerate", i))
				return
			}
			lines[i] = geom.Line{P1: geom.Point{X: s.X1, Y: s.Y1}, P2: geom.Point{X: s.X2, Y: s.Y2}}
		}
		ws.runner.SetLines(lines)
		httputil.WriteJSONOK(w, map[string]int{"lines": len(lines)})
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (ws *WebServer) handleZones(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, ws.runner.Zones())
	case http.MethodPost:
		var specs []region.Zone
		if err := json.NewDecoder(r.Body).Decode(&specs); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid zones payload: %v", err))
			return
		}
		zones := make([]region.Zone, 0, len(specs))
		for _, s := range specs {
			z, err := region.NewZone(s.Name, s.Points)
			if err != nil {
				httputil.BadRequest(w, err.Error())
				return
			}
			zones = append(zones, z)
		}
		ws.runner.SetZones(zones)
		httputil.WriteJSONOK(w, map[string]int{"zones": len(zones)})
	case http.MethodDelete:
		name := r.URL.Query().Get("name")
		if name == "" {
			httputil.BadRequest(w, "name query parameter is required")
			return
		}
		zones := ws.runner.Zones()
		kept := make([]region.Zone, 0, len(zones))
		for _, z := range zones {
			if z.Name != name {
				kept = append(kept, z)
			}
		}
		if len(kept) == len(zones) {
			httputil.NotFound(w, fmt.Sprintf("no zone named %q", name))
			return
		}
		ws.runner.SetZones(kept)
		httputil.WriteJSONOK(w, map[string]int{"zones": len(kept)})
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (ws *WebServer) handleParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, ws.runner.Tuning())
	case http.MethodPost:
		patch := config.EmptyTuningConfig()
		if err := json.NewDecoder(r.Body).Decode(patch); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid params payload: %v", err))
			return
		}
		if err := ws.runner.UpdateTuning(patch); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, ws.runner.Tuning())
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, ws.runner.Sessions().AllSessions())
}

func (ws *WebServer) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap := ws.runner.Publisher().Latest()
	if snap == nil {
		httputil.WriteJSONOK(w, map[string]interface{}{})
		return
	}
	httputil.WriteJSONOK(w, snap.Active)
}
