package monitor

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/presence.report/internal/httputil"
	"github.com/banshee-data/presence.report/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the dashboard is served from anywhere on the LAN
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleFrame serves the most recent annotated frame as a single JPEG.
func (ws *WebServer) handleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap := ws.runner.Publisher().Latest()
	if snap == nil || len(snap.JPEG) == 0 {
		httputil.NotFound(w, "no frame available")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(snap.JPEG)))
	_, _ = w.Write(snap.JPEG)
}

// handleStream serves annotated frames as an MJPEG multipart stream.
// Each reader tracks the last sequence it wrote and waits for newer
// snapshots; slow readers skip frames rather than lagging behind.
func (ws *WebServer) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	const boundary = "presenceframe"
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.WriteHeader(http.StatusOK)

	pub := ws.runner.Publisher()
	var lastSeq uint64
	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		snap := pub.Next(lastSeq, pipeline.DefaultWait)
		if snap == nil || snap.Seq <= lastSeq || len(snap.JPEG) == 0 {
			// nothing new inside the wait window; poll again so a
			// disconnected client is noticed
			if snap != nil {
				lastSeq = snap.Seq
			}
			continue
		}
		lastSeq = snap.Seq

		if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(snap.JPEG)); err != nil {
			return
		}
		if _, err := w.Write(snap.JPEG); err != nil {
			return
		}
		if _, err := fmt.Fprint(w, "\r\n"); err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleWebSocket pushes one JSON snapshot per processed frame to the
// client. The JPEG payload is stripped; clients wanting pixels use the
// MJPEG stream.
func (ws *WebServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// drain client messages so pings and close frames are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pub := ws.runner.Publisher()
	var lastSeq uint64
	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		snap := pub.Next(lastSeq, pipeline.DefaultWait)
		if snap == nil || snap.Seq <= lastSeq {
			continue
		}
		lastSeq = snap.Seq

		if err := conn.WriteJSON(snap); err != nil {
			return
		}
	}
}
