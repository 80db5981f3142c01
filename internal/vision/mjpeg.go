package vision

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/presence.report/internal/httputil"
)

// MJPEGSource reads frames from a multipart/x-mixed-replace JPEG stream,
// the format most IP cameras expose. The connection is opened on the
// first Read so construction never blocks.
type MJPEGSource struct {
	endpoint string
	client   httputil.HTTPClient

	mu     sync.Mutex
	body   io.ReadCloser
	parts  *multipart.Reader
	seq    uint64
	closed bool
}

// NewMJPEGSource builds a source for the given stream URL. A nil client
// uses http.DefaultClient.
func NewMJPEGSource(endpoint string, client httputil.HTTPClient) *MJPEGSource {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &MJPEGSource{endpoint: endpoint, client: client}
}

func (s *MJPEGSource) connect() error {
	resp, err := s.client.Get(s.endpoint)
	if err != nil {
		return fmt.Errorf("connect to camera stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("camera stream returned status %d", resp.StatusCode)
	}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		resp.Body.Close()
		return fmt.Errorf("parse camera content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		return fmt.Errorf("camera stream is not multipart MJPEG (got %s)", mediaType)
	}
	s.body = resp.Body
	s.parts = multipart.NewReader(resp.Body, params["boundary"])
	return nil
}

// Read blocks until the next JPEG part arrives and decodes it. It
// returns io.EOF when the stream ends or the source is closed.
func (s *MJPEGSource) Read() (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, io.EOF
	}
	if s.parts == nil {
		if err := s.connect(); err != nil {
			return nil, err
		}
	}

	part, err := s.parts.NextPart()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read camera stream part: %w", err)
	}
	data, err := io.ReadAll(part)
	part.Close()
	if err != nil {
		return nil, fmt.Errorf("read camera frame: %w", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode camera frame: %w", err)
	}

	s.seq++
	return &Frame{Seq: s.seq, Time: time.Now(), Image: img}, nil
}

// Close terminates the stream connection. Further Reads return io.EOF.
func (s *MJPEGSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.body != nil {
		err := s.body.Close()
		s.body = nil
		s.parts = nil
		return err
	}
	return nil
}

var _ FrameSource = (*MJPEGSource)(nil)
