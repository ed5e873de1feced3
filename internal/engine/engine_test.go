package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func weightsFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.bin")
	if err := os.WriteFile(path, make([]byte, size), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func streamServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateBeforeInitialize(t *testing.T) {
	e := New("http://127.0.0.1:1", "test", nil)
	_, err := e.Generate(context.Background(), "hi")
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("err = %v, want ErrNotInitialized", err)
	}
}

func TestInitializeRejectsTruncatedWeights(t *testing.T) {
	e := New("http://127.0.0.1:1", "test", nil)
	if err := e.Initialize(weightsFile(t, 10), 1024); err == nil {
		t.Error("Initialize accepted weights below the minimum size")
	}
	if e.Ready() {
		t.Error("Ready() = true after failed Initialize")
	}
}

func TestGenerateConcatenatesStream(t *testing.T) {
	srv := streamServer(t, []string{
		`{"response":"Hello","done":false}`,
		`{"response":", ","done":false}`,
		`{"response":"world","done":true}`,
	})
	e := New(srv.URL, "test", nil)
	if err := e.Initialize(weightsFile(t, 2048), 1024); err != nil {
		t.Fatal(err)
	}

	got, err := e.Generate(context.Background(), "greet")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Hello, world" {
		t.Errorf("Generate() = %q, want %q", got, "Hello, world")
	}
}

func TestGenerateServerError(t *testing.T) {
	srv := streamServer(t, []string{
		`{"response":"","done":false}`,
		`{"error":"model crashed"}`,
	})
	e := New(srv.URL, "test", nil)
	if err := e.Initialize(weightsFile(t, 2048), 1024); err != nil {
		t.Fatal(err)
	}

	_, err := e.Generate(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "model crashed") {
		t.Errorf("err = %v, want model crashed", err)
	}
}

func TestGenerateTruncatedStream(t *testing.T) {
	srv := streamServer(t, []string{
		`{"response":"partial","done":false}`,
	})
	e := New(srv.URL, "test", nil)
	if err := e.Initialize(weightsFile(t, 2048), 1024); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Generate(context.Background(), "x"); err == nil {
		t.Error("Generate accepted a stream that never sent done=true")
	}
}

func TestCloseIdempotent(t *testing.T) {
	e := New("http://127.0.0.1:1", "test", nil)
	if err := e.Initialize(weightsFile(t, 2048), 1024); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Generate(context.Background(), "x"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("err after Close = %v, want ErrNotInitialized", err)
	}
	// A closed handle stays closed even if Initialize is retried.
	if err := e.Initialize(weightsFile(t, 2048), 1024); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Initialize after Close = %v, want ErrNotInitialized", err)
	}
}

func TestCaptioner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req captionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Images) != 1 || req.Images[0] == "" {
			t.Errorf("images = %v, want one base64 payload", req.Images)
		}
		if req.Stream {
			t.Error("caption requested a streamed response")
		}
		_ = json.NewEncoder(w).Encode(captionResponse{Response: " cat, sofa, window "})
	}))
	defer srv.Close()

	img := filepath.Join(t.TempDir(), "img.jpg")
	if err := os.WriteFile(img, []byte("not-really-a-jpeg"), 0o600); err != nil {
		t.Fatal(err)
	}

	c := NewVisionCaptioner(srv.URL, "vision")
	got, err := c.Caption(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	if got != "cat, sofa, window" {
		t.Errorf("Caption() = %q, want trimmed labels", got)
	}
}
