package download

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/matheus3301/hybridmind/internal/bus"
	"go.uber.org/zap"
)

const (
	progressInterval = 200 * time.Millisecond
	markerSuffix     = ".complete"

	// Files smaller than these cannot be real model weights, regardless of
	// what the server claimed.
	minWeightsSize = 10 << 20
	minTFLiteSize  = 2 << 20
)

// Progress is one sample of a running download.
type Progress struct {
	Status     Status
	Percent    int
	Downloaded int64
	Total      int64
	Err        error
}

// Downloader fetches model files into a local directory. Space is reserved
// up front by truncating the destination to the full advertised size, so a
// download never dies halfway through on a full disk. A sidecar marker file
// records successful completion; a destination without its marker is a
// partial and gets re-fetched.
type Downloader struct {
	dir       string
	client    *http.Client
	bus       *bus.Bus
	logger    *zap.Logger
	cancelled atomic.Bool
}

func New(dir string, b *bus.Bus, logger *zap.Logger) *Downloader {
	return &Downloader{
		dir: dir,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
		bus:    b,
		logger: logger,
	}
}

// FilePath returns where the named model lives on disk.
func (d *Downloader) FilePath(name string) string {
	return filepath.Join(d.dir, name)
}

func (d *Downloader) markerPath(name string) string {
	return d.FilePath(name) + markerSuffix
}

// IsDownloaded reports whether the named model finished downloading and is
// plausibly sized.
func (d *Downloader) IsDownloaded(name string) bool {
	info, err := os.Stat(d.FilePath(name))
	if err != nil {
		return false
	}
	if _, err := os.Stat(d.markerPath(name)); err != nil {
		return false
	}
	return info.Size() >= minPlausibleSize(name)
}

// Cancel aborts the in-flight fetch at the next read boundary. The partial
// file is left in place for inspection; the absent marker keeps it from being
// treated as complete.
func (d *Downloader) Cancel() {
	d.cancelled.Store(true)
}

// Fetch downloads url into the directory as name, streaming Progress samples
// on the returned channel roughly every 200ms. The channel closes after a
// terminal COMPLETED or FAILED sample. An already-completed model short
// circuits to COMPLETED without touching the network.
func (d *Downloader) Fetch(ctx context.Context, url, name string) <-chan Progress {
	out := make(chan Progress, 8)
	d.cancelled.Store(false)
	go func() {
		defer close(out)
		d.fetch(ctx, url, name, out)
	}()
	return out
}

func (d *Downloader) fetch(ctx context.Context, url, name string, out chan<- Progress) {
	tr := &tracker{cur: StatusIdle}

	if d.IsDownloaded(name) {
		info, _ := os.Stat(d.FilePath(name))
		d.emitFinal(ctx, out, Progress{Status: tr.to(StatusCompleted), Percent: 100, Downloaded: info.Size(), Total: info.Size()})
		return
	}

	total, err := d.probeSize(ctx, url)
	if err != nil {
		d.fail(ctx, out, tr, name, err)
		return
	}

	dest := d.FilePath(name)
	// Stale partials and markers from a previous attempt.
	_ = os.Remove(dest)
	_ = os.Remove(d.markerPath(name))

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		d.fail(ctx, out, tr, name, err)
		return
	}
	defer func() { _ = f.Close() }()

	// Reserve the full size before a single byte arrives.
	if err := f.Truncate(total); err != nil {
		_ = os.Remove(dest)
		d.fail(ctx, out, tr, name, fmt.Errorf("preallocate %d bytes: %w", total, err))
		return
	}

	d.emit(out, Progress{Status: tr.to(StatusDownloading), Total: total})

	written, err := d.transfer(ctx, url, f, total, out)
	if err != nil {
		d.fail(ctx, out, tr, name, err)
		return
	}
	if written != total {
		d.fail(ctx, out, tr, name, fmt.Errorf("short transfer: %d of %d bytes", written, total))
		return
	}
	info, err := os.Stat(dest)
	if err != nil || info.Size() != total {
		d.fail(ctx, out, tr, name, fmt.Errorf("size mismatch after transfer"))
		return
	}

	if err := os.WriteFile(d.markerPath(name), nil, 0o600); err != nil {
		d.fail(ctx, out, tr, name, err)
		return
	}

	if d.logger != nil {
		d.logger.Info("download completed", zap.String("name", name), zap.Int64("bytes", total))
	}
	d.emitFinal(ctx, out, Progress{Status: tr.to(StatusCompleted), Percent: 100, Downloaded: total, Total: total})
}

// probeSize asks the server for the full payload size. A server that does
// not advertise Content-Length cannot be preallocated against and is
// rejected before any file is created.
func (d *Downloader) probeSize(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("probe: unexpected status %s", resp.Status)
	}
	if resp.ContentLength <= 0 {
		return 0, fmt.Errorf("server did not report content length")
	}
	return resp.ContentLength, nil
}

func (d *Downloader) transfer(ctx context.Context, url string, f *os.File, total int64, out chan<- Progress) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", total-1))
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("transfer: unexpected status %s", resp.Status)
	}

	var written atomic.Int64
	sampler := time.NewTicker(progressInterval)
	defer sampler.Stop()
	samplerDone := make(chan struct{})
	defer close(samplerDone)
	go func() {
		for {
			select {
			case <-sampler.C:
				n := written.Load()
				d.emit(out, Progress{
					Status:     StatusDownloading,
					Percent:    int(n * 100 / total),
					Downloaded: n,
					Total:      total,
				})
			case <-samplerDone:
				return
			}
		}
	}()

	buf := make([]byte, 128<<10)
	var off int64
	for {
		if d.cancelled.Load() {
			return off, fmt.Errorf("cancelled")
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.WriteAt(buf[:n], off); werr != nil {
				return off, werr
			}
			off += int64(n)
			written.Store(off)
		}
		if rerr == io.EOF {
			return off, nil
		}
		if rerr != nil {
			return off, rerr
		}
	}
}

func (d *Downloader) fail(ctx context.Context, out chan<- Progress, tr *tracker, name string, err error) {
	if d.logger != nil {
		d.logger.Warn("download failed", zap.String("name", name), zap.Error(err))
	}
	d.emitFinal(ctx, out, Progress{Status: tr.to(StatusFailed), Err: err})
}

// emit drops the sample if the consumer is behind; only terminal samples
// get delivery guarantees.
func (d *Downloader) emit(out chan<- Progress, p Progress) {
	select {
	case out <- p:
	default:
	}
	d.publish(p)
}

// emitFinal blocks until the terminal sample is taken, but gives up when the
// context dies so an abandoned consumer with a full buffer cannot strand the
// fetch goroutine. The bus copy goes out either way.
func (d *Downloader) emitFinal(ctx context.Context, out chan<- Progress, p Progress) {
	select {
	case out <- p:
	case <-ctx.Done():
	}
	d.publish(p)
}

func (d *Downloader) publish(p Progress) {
	if d.bus != nil {
		d.bus.Publish(bus.Event{Kind: "download.progress", Timestamp: time.Now(), Payload: p})
	}
}

func minPlausibleSize(name string) int64 {
	if strings.HasSuffix(name, ".tflite") {
		return minTFLiteSize
	}
	return minWeightsSize
}
