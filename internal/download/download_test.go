package download

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func servePayload(t *testing.T, payload []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "model.bin", time.Now(), bytes.NewReader(payload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func drain(ch <-chan Progress) Progress {
	var last Progress
	for p := range ch {
		last = p
	}
	return last
}

func TestFetchSuccess(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), minTFLiteSize+1)
	srv := servePayload(t, payload)
	d := New(t.TempDir(), nil, nil)

	final := drain(d.Fetch(context.Background(), srv.URL, "vision.tflite"))
	if final.Status != StatusCompleted {
		t.Fatalf("final status = %s (%v), want COMPLETED", final.Status, final.Err)
	}
	if final.Percent != 100 {
		t.Errorf("final percent = %d, want 100", final.Percent)
	}

	got, err := os.ReadFile(d.FilePath("vision.tflite"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("downloaded file differs from payload (%d vs %d bytes)", len(got), len(payload))
	}
	if !d.IsDownloaded("vision.tflite") {
		t.Error("IsDownloaded() = false after completed fetch")
	}
}

// TestFetchMissingContentLength verifies no destination file is created when
// the server does not advertise a size: with nothing to preallocate, the
// fetch fails before touching disk.
func TestFetchMissingContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	d := New(t.TempDir(), nil, nil)

	final := drain(d.Fetch(context.Background(), srv.URL, "model.bin"))
	if final.Status != StatusFailed {
		t.Fatalf("final status = %s, want FAILED", final.Status)
	}
	if _, err := os.Stat(d.FilePath("model.bin")); !os.IsNotExist(err) {
		t.Error("destination file exists after failed probe, want none")
	}
}

func TestFetchShortCircuitsWhenComplete(t *testing.T) {
	payload := bytes.Repeat([]byte("y"), minTFLiteSize+1)
	srv := servePayload(t, payload)
	d := New(t.TempDir(), nil, nil)

	if final := drain(d.Fetch(context.Background(), srv.URL, "vision.tflite")); final.Status != StatusCompleted {
		t.Fatalf("first fetch: %s (%v)", final.Status, final.Err)
	}

	// Second fetch must not hit the network at all.
	srv.Close()
	final := drain(d.Fetch(context.Background(), srv.URL, "vision.tflite"))
	if final.Status != StatusCompleted {
		t.Errorf("second fetch = %s, want COMPLETED without network", final.Status)
	}
}

func TestPartialWithoutMarkerNotDownloaded(t *testing.T) {
	d := New(t.TempDir(), nil, nil)
	if err := os.WriteFile(d.FilePath("model.bin"), bytes.Repeat([]byte("z"), minWeightsSize+1), 0o600); err != nil {
		t.Fatal(err)
	}
	if d.IsDownloaded("model.bin") {
		t.Error("IsDownloaded() = true for file without completion marker")
	}
}

func TestCancelLeavesNoMarker(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), minTFLiteSize+1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			http.ServeContent(w, r, "model.bin", time.Now(), bytes.NewReader(payload))
			return
		}
		// Trickle the body so the cancel lands mid-transfer.
		w.Header().Set("Content-Length", "2097153")
		w.WriteHeader(http.StatusOK)
		for off := 0; off < len(payload); off += 1024 {
			end := off + 1024
			if end > len(payload) {
				end = len(payload)
			}
			if _, err := w.Write(payload[off:end]); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer srv.Close()

	d := New(t.TempDir(), nil, nil)
	ch := d.Fetch(context.Background(), srv.URL, "vision.tflite")
	time.Sleep(20 * time.Millisecond)
	d.Cancel()

	final := drain(ch)
	if final.Status != StatusFailed {
		t.Fatalf("final status = %s, want FAILED after cancel", final.Status)
	}
	if _, err := os.Stat(d.markerPath("vision.tflite")); !os.IsNotExist(err) {
		t.Error("marker exists after cancelled fetch")
	}
}

func TestStatusTransitions(t *testing.T) {
	allowed := [][2]Status{
		{StatusIdle, StatusDownloading},
		{StatusIdle, StatusCompleted},
		{StatusIdle, StatusFailed},
		{StatusDownloading, StatusCompleted},
		{StatusDownloading, StatusFailed},
		{StatusFailed, StatusDownloading},
		{StatusCompleted, StatusDownloading},
	}
	for _, pair := range allowed {
		if !CanTransition(pair[0], pair[1]) {
			t.Errorf("CanTransition(%s, %s) = false, want true", pair[0], pair[1])
		}
	}
	forbidden := [][2]Status{
		{StatusCompleted, StatusFailed},
		{StatusFailed, StatusCompleted},
		{StatusDownloading, StatusIdle},
	}
	for _, pair := range forbidden {
		if CanTransition(pair[0], pair[1]) {
			t.Errorf("CanTransition(%s, %s) = true, want false", pair[0], pair[1])
		}
	}
}

// TestTrackerRefusesIllegalJumps drives the lifecycle tracker through a
// terminal state and checks it can neither regress nor flip to the other
// terminal.
func TestTrackerRefusesIllegalJumps(t *testing.T) {
	tr := &tracker{cur: StatusIdle}
	if got := tr.to(StatusDownloading); got != StatusDownloading {
		t.Fatalf("to(DOWNLOADING) = %s", got)
	}
	if got := tr.to(StatusFailed); got != StatusFailed {
		t.Fatalf("to(FAILED) = %s", got)
	}
	if got := tr.to(StatusCompleted); got != StatusFailed {
		t.Errorf("to(COMPLETED) after FAILED = %s, want FAILED to hold", got)
	}
	if got := tr.to(StatusIdle); got != StatusFailed {
		t.Errorf("to(IDLE) after FAILED = %s, want FAILED to hold", got)
	}
}

// TestFetchStatusSequenceLegal consumes every sample of a fetch and checks
// each consecutive status pair is either a hold or a legal transition.
func TestFetchStatusSequenceLegal(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), minTFLiteSize+1)
	srv := servePayload(t, payload)
	d := New(t.TempDir(), nil, nil)

	prev := StatusIdle
	for p := range d.Fetch(context.Background(), srv.URL, "vision.tflite") {
		if p.Status != prev && !CanTransition(prev, p.Status) {
			t.Fatalf("illegal status transition %s -> %s", prev, p.Status)
		}
		prev = p.Status
	}
	if prev != StatusCompleted {
		t.Errorf("final status = %s, want COMPLETED", prev)
	}
}

// TestFinalSampleDoesNotBlockOnCancelledContext simulates a consumer that
// abandoned the channel: nothing reads, and the context is already dead.
// The terminal send must return instead of stranding the goroutine.
func TestFinalSampleDoesNotBlockOnCancelledContext(t *testing.T) {
	d := New(t.TempDir(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		ch := make(chan Progress) // unbuffered, never read
		d.emitFinal(ctx, ch, Progress{Status: StatusFailed})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emitFinal blocked on an abandoned channel")
	}
}
