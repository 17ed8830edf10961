package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/fruitsalade/deltaupdate/internal/metrics"
	"github.com/fruitsalade/deltaupdate/pkg/fetch"
	"github.com/fruitsalade/deltaupdate/pkg/hasher"
	"github.com/fruitsalade/deltaupdate/pkg/retry"
)

// Failure classes. Every error returned by DownloadAndVerify wraps at most
// one of these, or is a context error or local I/O error.
var (
	ErrIntegrity = errors.New("blob integrity check failed")
	ErrTransport = errors.New("blob transfer failed")
	ErrStalled   = errors.New("blob transfer stalled")
)

// DefaultStallTimeout is how long a transfer may go without receiving
// bytes before it is abandoned.
const DefaultStallTimeout = 60 * time.Second

// Config configures a Downloader.
type Config struct {
	// StallTimeout of zero means DefaultStallTimeout; negative disables it.
	StallTimeout time.Duration
	// Retry applies to transport and stall failures only. Zero value means
	// a single attempt.
	Retry retry.Config
}

// Downloader fetches gzip blobs and writes their verified contents.
type Downloader struct {
	fetcher      fetch.Fetcher
	stallTimeout time.Duration
	retryConfig  retry.Config
}

// NewDownloader creates a downloader using f for transfers.
func NewDownloader(f fetch.Fetcher, cfg Config) *Downloader {
	if cfg.StallTimeout == 0 {
		cfg.StallTimeout = DefaultStallTimeout
	}
	return &Downloader{
		fetcher:      f,
		stallTimeout: cfg.StallTimeout,
		retryConfig:  cfg.Retry,
	}
}

// DownloadAndVerify makes targetPath hold content hashing to expectedHash.
// An existing target that already matches is left alone without any
// transfer. Otherwise remoteURL is fetched, gunzipped, hashed and written
// to a temp file beside the target, and only renamed into place if the
// hash matches. On failure no target is created and no temp file remains.
func (d *Downloader) DownloadAndVerify(ctx context.Context, expectedHash, remoteURL, targetPath string) error {
	start := time.Now()

	got, err := hasher.HashFile(targetPath)
	if err == nil && got == expectedHash {
		metrics.RecordBlobDownload(metrics.ResultCached, 0, time.Since(start))
		return nil
	}
	if err == nil {
		// A non-matching target is never left behind, even if the fetch fails.
		if err := os.Remove(targetPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale target: %w", err)
		}
	}

	metrics.DownloadStarted()
	defer metrics.DownloadFinished()

	var written int64
	err = retry.Do(ctx, d.retryConfig, func() error {
		n, err := d.attempt(ctx, expectedHash, remoteURL, targetPath)
		written += n
		if retryable(err) {
			return retry.Retryable(err)
		}
		return err
	})
	var re retry.RetryableError
	if errors.As(err, &re) {
		err = re.Err
	}

	metrics.RecordBlobDownload(resultLabel(err), written, time.Since(start))
	return err
}

func (d *Downloader) attempt(ctx context.Context, expectedHash, remoteURL, targetPath string) (int64, error) {
	xferCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wd := newWatchdog(d.stallTimeout, cancel)
	defer wd.stop()

	body, err := d.fetcher.Fetch(xferCtx, remoteURL)
	if err != nil {
		switch {
		case wd.fired():
			return 0, fmt.Errorf("%w: %s: no response within %s", ErrStalled, remoteURL, d.stallTimeout)
		case ctx.Err() != nil:
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer body.Close()

	src := &trackingReader{r: body, wd: wd}
	fail := func(err error) error {
		switch {
		case wd.fired():
			return fmt.Errorf("%w: %s: idle for %s", ErrStalled, remoteURL, d.stallTimeout)
		case ctx.Err() != nil:
			return ctx.Err()
		case src.err != nil:
			return fmt.Errorf("%w: read %s: %w", ErrTransport, remoteURL, src.err)
		}
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return fmt.Errorf("write temp file: %w", err)
		}
		return fmt.Errorf("%w: %s: bad gzip stream: %w", ErrIntegrity, remoteURL, err)
	}

	zr, err := gzip.NewReader(src)
	if err != nil {
		return 0, fail(err)
	}
	defer zr.Close()

	tmp, err := os.CreateTemp(filepath.Dir(targetPath), filepath.Base(targetPath)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), zr)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		return n, fmt.Errorf("close temp file: %w", cerr)
	}
	if err != nil {
		return n, fail(err)
	}

	if got := hex.EncodeToString(h.Sum(nil)); got != expectedHash {
		return n, fmt.Errorf("%w: %s: expected %s, got %s", ErrIntegrity, remoteURL, expectedHash, got)
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		return n, fmt.Errorf("rename temp file: %w", err)
	}
	committed = true
	return n, nil
}

func retryable(err error) bool {
	if !errors.Is(err, ErrTransport) && !errors.Is(err, ErrStalled) {
		return false
	}
	// A definite "not there" will not change on retry.
	var statusErr *fetch.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode < 500 {
		return false
	}
	return true
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultVerified
	case errors.Is(err, ErrIntegrity):
		return metrics.ResultIntegrity
	case errors.Is(err, ErrStalled):
		return metrics.ResultStalled
	case errors.Is(err, ErrTransport):
		return metrics.ResultTransport
	}
	return metrics.ResultError
}

// watchdog calls onStall when kick is not called within timeout.
type watchdog struct {
	timeout time.Duration
	timer   *time.Timer
	stalled atomic.Bool
}

func newWatchdog(timeout time.Duration, onStall func()) *watchdog {
	w := &watchdog{timeout: timeout}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() {
			w.stalled.Store(true)
			onStall()
		})
	}
	return w
}

func (w *watchdog) kick() {
	if w.timer != nil && !w.stalled.Load() {
		w.timer.Reset(w.timeout)
	}
}

func (w *watchdog) fired() bool {
	return w.stalled.Load()
}

func (w *watchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

// trackingReader records transport read errors so they can be told apart
// from decompression errors, and feeds the watchdog.
type trackingReader struct {
	r   io.Reader
	wd  *watchdog
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.wd.kick()
	}
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}
