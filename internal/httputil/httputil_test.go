package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSONOK(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]int{"count": 3})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}
	var body map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	if body["count"] != 3 {
		t.Errorf("body = %v, want count=3", body)
	}
}

func TestWriteJSONError(t *testing.T) {
	rec := httptest.NewRecorder()
	BadRequest(rec, "zone must have exactly 4 points")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	if !strings.Contains(body["error"], "4 points") {
		t.Errorf("error message = %q", body["error"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	MethodNotAllowed(rec)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestMockHTTPClientReplaysResponses(t *testing.T) {
	mock := &MockHTTPClient{
		Responses: []MockResponse{
			{Status: 200, Body: `{"ok":true}`},
			{Status: 500, Body: "boom"},
		},
	}

	resp, err := mock.Get("http://inference.local/detect")
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 || string(b) != `{"ok":true}` {
		t.Errorf("first response = %d %q", resp.StatusCode, b)
	}

	resp, err = mock.Get("http://inference.local/detect")
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 500 {
		t.Errorf("second response status = %d, want 500", resp.StatusCode)
	}

	// Last response repeats once exhausted.
	resp, _ = mock.Get("http://inference.local/detect")
	resp.Body.Close()
	if resp.StatusCode != 500 {
		t.Errorf("third response status = %d, want repeated 500", resp.StatusCode)
	}

	if mock.RequestCount() != 3 {
		t.Errorf("RequestCount = %d, want 3", mock.RequestCount())
	}
}

func TestMockHTTPClientError(t *testing.T) {
	wantErr := errors.New("connection refused")
	mock := &MockHTTPClient{Responses: []MockResponse{{Err: wantErr}}}

	_, err := mock.Post("http://inference.local/embed", "image/jpeg", strings.NewReader("x"))
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}
