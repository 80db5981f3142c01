package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/presence.report/internal/httputil"
)

// runIDFromQuery resolves the run to report on; defaults to the live run.
func (ws *WebServer) runIDFromQuery(r *http.Request) string {
	if id := r.URL.Query().Get("run_id"); id != "" {
		return id
	}
	return ws.runner.RunID()
}

// handleReportSummary returns session and dwell percentiles for a run
// from the archive.
func (ws *WebServer) handleReportSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.archive == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "session archive not configured")
		return
	}
	summary, err := ws.archive.Summarize(ws.runIDFromQuery(r))
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to summarize run: %v", err))
		return
	}
	httputil.WriteJSONOK(w, summary)
}

// handleDwellChart renders per-zone dwell percentiles as an ECharts bar
// chart (HTML). Debugging-only endpoint; the real dashboard consumes
// /api/report/summary.
func (ws *WebServer) handleDwellChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.archive == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "session archive not configured")
		return
	}
	runID := ws.runIDFromQuery(r)
	summary, err := ws.archive.Summarize(runID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to summarize run: %v", err))
		return
	}

	names := make([]string, 0, len(summary.Zones))
	for name := range summary.Zones {
		names = append(names, name)
	}
	sort.Strings(names)

	p50 := make([]opts.BarData, len(names))
	p85 := make([]opts.BarData, len(names))
	p95 := make([]opts.BarData, len(names))
	for i, name := range names {
		stats := summary.Zones[name]
		p50[i] = opts.BarData{Value: stats.P50Ms / 1000}
		p85[i] = opts.BarData{Value: stats.P85Ms / 1000}
		p95[i] = opts.BarData{Value: stats.P95Ms / 1000}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Zone Dwell", Theme: "dark", Width: "1100px", Height: "650px"}),
		charts.WithTitleOpts(opts.Title{Title: "Zone Dwell (seconds)", Subtitle: fmt.Sprintf("run=%s sessions=%d", runID, summary.SessionCount)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).
		AddSeries("p50", p50).
		AddSeries("p85", p85).
		AddSeries("p95", p95,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleDurationHistogram renders a PNG histogram of session durations.
func (ws *WebServer) handleDurationHistogram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.archive == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "session archive not configured")
		return
	}
	sessions, err := ws.archive.ListSessions(ws.runIDFromQuery(r))
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list sessions: %v", err))
		return
	}
	if len(sessions) == 0 {
		httputil.NotFound(w, "no archived sessions for run")
		return
	}

	values := make(plotter.Values, len(sessions))
	for i, s := range sessions {
		values[i] = float64(s.DurationMs) / 1000
	}

	p := plot.New()
	p.Title.Text = "Session Duration"
	p.X.Label.Text = "seconds"
	p.Y.Label.Text = "sessions"

	bins := 16
	if len(values) < bins {
		bins = len(values)
	}
	hist, err := plotter.NewHist(values, bins)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to build histogram: %v", err))
		return
	}
	p.Add(hist)

	wt, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render histogram: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to write histogram: %v", err))
	}
}
