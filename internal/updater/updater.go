// Package updater coordinates an update cycle: check the remote manifest,
// download and verify the changed blobs, validate the staged package and
// hand off to the installer.
//
// Every operation reports failures as a "failed" event plus a false/nil
// result; nothing escapes the operation as an error.
package updater

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fruitsalade/deltaupdate/internal/events"
	"github.com/fruitsalade/deltaupdate/internal/logging"
	"github.com/fruitsalade/deltaupdate/internal/metrics"
	"github.com/fruitsalade/deltaupdate/pkg/blobcache"
	"github.com/fruitsalade/deltaupdate/pkg/download"
	"github.com/fruitsalade/deltaupdate/pkg/fetch"
	"github.com/fruitsalade/deltaupdate/pkg/hasher"
	"github.com/fruitsalade/deltaupdate/pkg/manifest"
	"github.com/fruitsalade/deltaupdate/pkg/models"
	"github.com/fruitsalade/deltaupdate/pkg/tree"
)

var (
	// ErrNoUpdate is reported when an operation has nothing to work on.
	ErrNoUpdate = errors.New("nothing to update")
	// ErrIntegrityCheck is reported when staged blobs do not match the diff.
	ErrIntegrityCheck = errors.New("installation check difference failed")
)

// Operation names used in events and logs.
const (
	OpCheck    = "check"
	OpDownload = "download"
	OpValidate = "validate"
	OpInstall  = "install"
)

// BlobLookup reports blobs that are already available locally so they are
// not queued at all.
type BlobLookup interface {
	Has(hash string) bool
}

// Config configures an Updater.
type Config struct {
	ManifestURL    string
	BaseURL        string // blob base; derived from the manifest when empty
	CurrentVersion string
	ExePath        string
	InstallDir     string // defaults to the directory of ExePath
	TempDir        string // blob cache and diff record location
	ConfigName     string // diff record name without extension
	InstallerPath  string
	RunAsAdmin     bool
	Hasher         hasher.Options
	Concurrency    int
	Download       download.Config
	// ForwardInstallerOutput publishes installer stdout lines as events.
	ForwardInstallerOutput bool
}

// Option customizes an Updater.
type Option func(*Updater)

// WithFetcher sets how manifests and blobs are fetched.
func WithFetcher(f fetch.Fetcher) Option {
	return func(u *Updater) { u.fetcher = f }
}

// WithManifest uses m instead of fetching ManifestURL.
func WithManifest(m *models.Manifest) Option {
	return func(u *Updater) { u.manifest = m }
}

// WithBlobLookup skips blobs the lookup reports as present.
func WithBlobLookup(l BlobLookup) Option {
	return func(u *Updater) { u.lookup = l }
}

// WithLauncher replaces the installer launcher.
func WithLauncher(l Launcher) Option {
	return func(u *Updater) { u.launcher = l }
}

// WithBroadcaster publishes events on b instead of a private broadcaster.
func WithBroadcaster(b *events.Broadcaster) Option {
	return func(u *Updater) { u.events = b }
}

// Updater runs update operations. Diff sets are passed explicitly between
// operations; the Updater keeps no per-cycle state and is safe for
// concurrent use on different temp directories.
type Updater struct {
	cfg        Config
	fetcher    fetch.Fetcher
	manifest   *models.Manifest
	lookup     BlobLookup
	launcher   Launcher
	events     *events.Broadcaster
	cache      *blobcache.Cache
	downloader *download.Downloader
	forwarders sync.WaitGroup
}

// New creates an Updater. The temp directory is created if missing.
func New(cfg Config, opts ...Option) (*Updater, error) {
	if cfg.InstallDir == "" && cfg.ExePath != "" {
		cfg.InstallDir = filepath.Dir(cfg.ExePath)
	}
	if cfg.ConfigName == "" {
		cfg.ConfigName = "update-config"
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 5
	}

	u := &Updater{cfg: cfg}
	for _, opt := range opts {
		opt(u)
	}

	var errs []error
	if cfg.CurrentVersion == "" {
		errs = append(errs, errors.New("current version is required"))
	}
	if cfg.ExePath == "" {
		errs = append(errs, errors.New("exe path is required"))
	}
	if cfg.TempDir == "" {
		errs = append(errs, errors.New("temp dir is required"))
	}
	if cfg.ManifestURL == "" && u.manifest == nil {
		errs = append(errs, errors.New("manifest url is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if u.fetcher == nil {
		web := fetch.NewHTTP(fetch.HTTPConfig{})
		u.fetcher = fetch.NewMux().
			Handle("http", web).
			Handle("https", web).
			Handle("file", fetch.File{})
	}
	if u.launcher == nil {
		u.launcher = ProcessLauncher{}
	}
	if u.events == nil {
		u.events = events.NewBroadcaster()
	}

	cache, err := blobcache.New(cfg.TempDir)
	if err != nil {
		return nil, err
	}
	u.cache = cache
	u.downloader = download.NewDownloader(u.fetcher, cfg.Download)
	return u, nil
}

// Events returns the broadcaster operations publish on.
func (u *Updater) Events() *events.Broadcaster {
	return u.events
}

// Cache returns the blob cache in the temp directory.
func (u *Updater) Cache() *blobcache.Cache {
	return u.cache
}

// DiffRecordPath is where the diff record for this updater lives.
func (u *Updater) DiffRecordPath() string {
	return manifest.DiffRecordPath(u.cfg.TempDir, u.cfg.ConfigName)
}

// CheckForUpdates compares the installed tree with the remote manifest.
// It returns (nil, false) when the manifest is not strictly newer or on
// failure. Otherwise it writes the diff record and returns the diff and
// whether it has any entries.
func (u *Updater) CheckForUpdates(ctx context.Context) (*models.DiffSet, bool) {
	ctx = withCycle(ctx)
	log := logging.WithContext(ctx)

	m, err := u.loadManifest(ctx)
	if err != nil {
		metrics.RecordCheck("error")
		u.fail(ctx, OpCheck, err)
		return nil, false
	}

	newer, err := manifest.Newer(m.Version, u.cfg.CurrentVersion)
	if err != nil {
		metrics.RecordCheck("error")
		u.fail(ctx, OpCheck, err)
		return nil, false
	}
	if !newer {
		metrics.RecordCheck("current")
		log.Info("already up to date",
			logging.String("installed", u.cfg.CurrentVersion),
			logging.String("available", m.Version))
		return nil, false
	}

	if err := os.MkdirAll(u.cfg.TempDir, 0755); err != nil {
		metrics.RecordCheck("error")
		u.fail(ctx, OpCheck, fmt.Errorf("create temp dir: %w", err))
		return nil, false
	}

	start := time.Now()
	local, err := hasher.Fingerprint(u.cfg.InstallDir, u.cfg.Hasher)
	if errors.Is(err, fs.ErrNotExist) {
		// Nothing installed yet: every remote file is added.
		log.Info("install dir missing, treating as fresh install", logging.String("dir", u.cfg.InstallDir))
		local, err = nil, nil
	}
	if err != nil {
		metrics.RecordCheck("error")
		u.fail(ctx, OpCheck, fmt.Errorf("fingerprint install dir: %w", err))
		return nil, false
	}
	metrics.RecordFingerprint(tree.CountNodes(local), time.Since(start))

	diff := tree.Diff(local, m.Hash)
	metrics.SetDiffSize(len(diff.Added), len(diff.Changed))

	if err := manifest.WriteDiffRecord(u.DiffRecordPath(), diff); err != nil {
		metrics.RecordCheck("error")
		u.fail(ctx, OpCheck, err)
		return nil, false
	}

	outcome := "current"
	if diff.Len() > 0 {
		outcome = "update"
	}
	metrics.RecordCheck(outcome)
	log.Info("update check complete",
		logging.String("installed", u.cfg.CurrentVersion),
		logging.String("available", m.Version),
		logging.Int("added", len(diff.Added)),
		logging.Int("changed", len(diff.Changed)),
		logging.Duration("fingerprint", time.Since(start)))
	return diff, diff.Len() > 0
}

// DownloadUpdate fetches and verifies one blob per distinct hash in diff
// into the temp directory. It returns true only if every blob verified.
func (u *Updater) DownloadUpdate(ctx context.Context, diff *models.DiffSet) bool {
	ctx = withCycle(ctx)
	log := logging.WithContext(ctx)

	if diff.Empty() {
		u.fail(ctx, OpDownload, ErrNoUpdate)
		return false
	}

	if err := os.MkdirAll(u.cfg.TempDir, 0755); err != nil {
		u.fail(ctx, OpDownload, fmt.Errorf("create temp dir: %w", err))
		return false
	}
	if n, err := u.cache.CleanTemp(); err != nil {
		log.Warn("could not clean stale temp files", logging.Err(err))
	} else if n > 0 {
		log.Debug("removed stale temp files", logging.Int("count", n))
	}

	base, err := u.baseURL(ctx)
	if err != nil {
		u.fail(ctx, OpDownload, err)
		return false
	}

	summary, err := json.Marshal(diff)
	if err != nil {
		u.fail(ctx, OpDownload, fmt.Errorf("encode diff: %w", err))
		return false
	}
	u.publish(ctx, events.Event{Status: events.StatusInit, Op: OpDownload, Message: string(summary)})

	hashes := diff.UniqueHashes()
	if u.lookup != nil {
		pending := hashes[:0:0]
		for _, h := range hashes {
			if !u.lookup.Has(h) {
				pending = append(pending, h)
			}
		}
		if skipped := len(hashes) - len(pending); skipped > 0 {
			log.Info("skipping blobs already present", logging.Int("count", skipped))
		}
		hashes = pending
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	q := download.NewQueue(u.cfg.Concurrency, nil)
	for _, h := range hashes {
		q.Submit(func() {
			u.publish(ctx, events.Event{
				Status:  events.StatusDownloading,
				Op:      OpDownload,
				Hash:    h,
				Message: "downloading " + h,
			})
			err := u.downloader.DownloadAndVerify(ctx, h, manifest.BlobURL(base, h), u.cache.Path(h))
			if err != nil {
				log.Warn("blob download failed", logging.String("hash", h), logging.Err(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("blob %s: %w", h, err))
				mu.Unlock()
			}
		})
	}

	if err := q.Wait(ctx); err != nil {
		q.Stop()
		// In-flight tasks see the same cancellation and return promptly.
		_ = q.Wait(context.Background())
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	if err := errors.Join(errs...); err != nil {
		u.fail(ctx, OpDownload, err)
		return false
	}

	log.Info("update downloaded", logging.Int("blobs", len(hashes)), logging.String("base_url", base))
	u.publish(ctx, events.Event{
		Status:  events.StatusFinished,
		Op:      OpDownload,
		Message: fmt.Sprintf("downloaded %d blobs", len(hashes)),
	})
	return true
}

// ValidateDiffPackageIntegrity reports whether every entry of diff has a
// verified blob in the temp directory. A nil diff is recomputed with
// CheckForUpdates.
func (u *Updater) ValidateDiffPackageIntegrity(ctx context.Context, diff *models.DiffSet) bool {
	ctx = withCycle(ctx)
	log := logging.WithContext(ctx)

	if diff == nil {
		diff, _ = u.CheckForUpdates(ctx)
		if diff == nil {
			u.fail(ctx, OpValidate, ErrNoUpdate)
			return false
		}
	}

	for _, e := range diff.All() {
		if !u.cache.Has(e.Hash) {
			log.Info("staged blob missing or corrupt",
				logging.String("path", e.FilePath),
				logging.String("hash", e.Hash))
			return false
		}
	}
	return true
}

// Install launches the installer. Unless force is set, the staged package
// must validate first; a failed validation has no side effects. Install
// does not wait for the installer.
func (u *Updater) Install(ctx context.Context, diff *models.DiffSet, force bool) bool {
	ctx = withCycle(ctx)
	log := logging.WithContext(ctx)

	if !force && !u.ValidateDiffPackageIntegrity(ctx, diff) {
		metrics.RecordInstall(false)
		u.failMessage(ctx, OpInstall, "Installation check difference failed", ErrIntegrityCheck)
		return false
	}

	if diff != nil {
		if err := manifest.WriteDiffRecord(u.DiffRecordPath(), diff); err != nil {
			metrics.RecordInstall(false)
			u.fail(ctx, OpInstall, err)
			return false
		}
	}

	h := Handoff{
		ExePath:        u.cfg.ExePath,
		UpdateTempPath: u.cfg.TempDir,
		ConfigFileName: manifest.DiffRecordName(u.cfg.ConfigName),
		ExePID:         os.Getpid(),
		RunAsAdmin:     u.cfg.RunAsAdmin,
	}
	if err := h.Validate(); err != nil {
		metrics.RecordInstall(false)
		u.fail(ctx, OpInstall, fmt.Errorf("handoff: %w", err))
		return false
	}

	var out io.WriteCloser
	if u.cfg.ForwardInstallerOutput {
		out = u.installerOutput(ctx)
	}
	if err := u.launcher.Launch(u.cfg.InstallerPath, h, out); err != nil {
		if out != nil {
			out.Close()
		}
		metrics.RecordInstall(false)
		u.fail(ctx, OpInstall, err)
		return false
	}

	metrics.RecordInstall(true)
	log.Info("installer launched",
		logging.String("installer", u.cfg.InstallerPath),
		logging.Bool("admin", u.cfg.RunAsAdmin),
		logging.Bool("forced", force))
	u.publish(ctx, events.Event{Status: events.StatusFinished, Op: OpInstall, Message: "installer launched"})
	return true
}

func (u *Updater) loadManifest(ctx context.Context) (*models.Manifest, error) {
	if u.manifest != nil {
		if err := manifest.Validate(u.manifest); err != nil {
			return nil, err
		}
		return u.manifest, nil
	}
	return manifest.Load(ctx, u.fetcher, u.cfg.ManifestURL)
}

func (u *Updater) baseURL(ctx context.Context) (string, error) {
	if u.cfg.BaseURL != "" {
		return fetch.NormalizeBase(u.cfg.BaseURL), nil
	}
	m, err := u.loadManifest(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve base url: %w", err)
	}
	base := manifest.ResolveBaseURL("", u.cfg.ManifestURL, m)
	if base == "" || base == "/" {
		return "", errors.New("base url is not configured and cannot be derived from the manifest url")
	}
	return base, nil
}

// installerOutput returns a writer whose lines become installer events.
func (u *Updater) installerOutput(ctx context.Context) io.WriteCloser {
	pr, pw := io.Pipe()
	u.forwarders.Add(1)
	go func() {
		defer u.forwarders.Done()
		sc := bufio.NewScanner(pr)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			u.publish(ctx, events.Event{
				Status:  events.StatusFinished,
				Op:      OpInstall,
				Source:  "installer",
				Message: line,
			})
		}
		pr.CloseWithError(sc.Err())
	}()
	return pw
}

func (u *Updater) publish(ctx context.Context, e events.Event) {
	e.CycleID = logging.CycleID(ctx)
	u.events.Publish(e)
}

func (u *Updater) fail(ctx context.Context, op string, err error) {
	u.failMessage(ctx, op, err.Error(), err)
}

func (u *Updater) failMessage(ctx context.Context, op, msg string, err error) {
	logging.WithContext(ctx).Error(op+" failed", logging.String("op", op), logging.Err(err))
	u.publish(ctx, events.Event{
		Status:  events.StatusFailed,
		Op:      op,
		Message: msg,
		Err:     err,
	})
}

func withCycle(ctx context.Context) context.Context {
	if logging.CycleID(ctx) != "" {
		return ctx
	}
	return logging.WithCycle(ctx, logging.NewCycleID())
}
