package vision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/banshee-data/presence.report/internal/geom"
	"github.com/banshee-data/presence.report/internal/httputil"
	"github.com/banshee-data/presence.report/internal/monitoring"
)

// InferenceClient talks to the model-serving sidecar that runs the
// person detector and the re-identification embedder. It implements both
// Detector and Embedder.
//
// The sidecar protocol is JPEG-in/JSON-out:
//
//	POST {endpoint}/detect?conf=0.5   body: image/jpeg
//	  -> {"detections": [{"x1":..,"y1":..,"x2":..,"y2":..,"confidence":..}]}
//	POST {endpoint}/embed             body: image/jpeg (person crop)
//	  -> {"embedding": [256 floats]}
//	GET  {endpoint}/health
//	  -> {"status": "ok", "device": "CPU"}
type InferenceClient struct {
	endpoint string
	client   httputil.HTTPClient

	mu         sync.RWMutex
	healthy    bool
	lastHealth time.Time
}

// NewInferenceClient creates a client for the given sidecar endpoint.
// Passing a nil HTTP client selects a standard client with a timeout
// suited to per-frame inference calls.
func NewInferenceClient(endpoint string, client httputil.HTTPClient) *InferenceClient {
	if client == nil {
		client = httputil.NewStandardClient(&http.Client{Timeout: 10 * time.Second})
	}
	return &InferenceClient{
		endpoint: endpoint,
		client:   client,
	}
}

type detectResponse struct {
	Detections []struct {
		X1         float64 `json:"x1"`
		Y1         float64 `json:"y1"`
		X2         float64 `json:"x2"`
		Y2         float64 `json:"y2"`
		Confidence float64 `json:"confidence"`
	} `json:"detections"`
	InferenceMs float64 `json:"inference_ms"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type healthResponse struct {
	Status string `json:"status"`
	Device string `json:"device"`
}

// Detect posts the frame to the sidecar and returns person detections at
// or above confThreshold.
func (c *InferenceClient) Detect(frame *Frame, confThreshold float64) ([]Detection, error) {
	if frame == nil || frame.Image == nil {
		return nil, nil
	}

	body, err := encodeJPEG(frame.Image)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	u := fmt.Sprintf("%s/detect?conf=%s", c.endpoint, url.QueryEscape(fmt.Sprintf("%.3f", confThreshold)))
	resp, err := c.client.Post(u, "image/jpeg", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("detect request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detect returned %d: %s", resp.StatusCode, b)
	}

	var dr detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("decode detect response: %w", err)
	}

	dets := make([]Detection, 0, len(dr.Detections))
	for _, d := range dr.Detections {
		if d.Confidence < confThreshold {
			continue
		}
		dets = append(dets, Detection{
			Box:        geom.Box{X1: d.X1, Y1: d.Y1, X2: d.X2, Y2: d.Y2},
			Confidence: d.Confidence,
		})
	}
	return dets, nil
}

// Embed posts the crop of frame bounded by box and returns the
// appearance embedding. Any failure — empty crop, transport error, bad
// response — yields the zero vector, never an error: a person who cannot
// be embedded should become a new identity, not crash the frame loop.
func (c *InferenceClient) Embed(frame *Frame, box geom.Box) []float32 {
	crop := cropImage(frame, box)
	if crop == nil {
		return ZeroEmbedding()
	}

	body, err := encodeJPEG(crop)
	if err != nil {
		monitoring.Logf("embed: encode crop failed: %v", err)
		return ZeroEmbedding()
	}

	resp, err := c.client.Post(c.endpoint+"/embed", "image/jpeg", bytes.NewReader(body))
	if err != nil {
		monitoring.Logf("embed: request failed: %v", err)
		return ZeroEmbedding()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		monitoring.Logf("embed: sidecar returned %d", resp.StatusCode)
		return ZeroEmbedding()
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		monitoring.Logf("embed: decode response failed: %v", err)
		return ZeroEmbedding()
	}
	if len(er.Embedding) != EmbeddingDim {
		monitoring.Logf("embed: unexpected dimension %d", len(er.Embedding))
		return ZeroEmbedding()
	}
	return er.Embedding
}

// Healthy reports whether the sidecar answered a health probe within the
// last 30 seconds, probing again when the cached result is stale.
func (c *InferenceClient) Healthy() bool {
	c.mu.RLock()
	fresh := time.Since(c.lastHealth) < 30*time.Second
	healthy := c.healthy
	c.mu.RUnlock()
	if fresh {
		return healthy
	}

	ok := c.probeHealth()
	c.mu.Lock()
	c.healthy = ok
	c.lastHealth = time.Now()
	c.mu.Unlock()
	return ok
}

func (c *InferenceClient) probeHealth() bool {
	resp, err := c.client.Get(c.endpoint + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var hr healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return false
	}
	return hr.Status == "ok"
}

// cropImage extracts the sub-image of frame bounded by box, clamped to
// the frame. Returns nil for empty or fully out-of-frame boxes.
func cropImage(frame *Frame, box geom.Box) image.Image {
	if frame == nil || frame.Image == nil {
		return nil
	}
	bounds := frame.Image.Bounds()
	r := image.Rect(int(box.X1), int(box.Y1), int(box.X2), int(box.Y2)).Intersect(bounds)
	if r.Empty() {
		return nil
	}

	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	if si, ok := frame.Image.(subImager); ok {
		return si.SubImage(r)
	}

	// Fallback copy for image types without SubImage.
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			out.Set(x-r.Min.X, y-r.Min.Y, frame.Image.At(x, y))
		}
	}
	return out
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
