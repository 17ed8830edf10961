package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/deltaupdate/internal/config"
	"github.com/fruitsalade/deltaupdate/internal/events"
	"github.com/fruitsalade/deltaupdate/internal/logging"
	"github.com/fruitsalade/deltaupdate/internal/metrics"
	"github.com/fruitsalade/deltaupdate/internal/output"
	"github.com/fruitsalade/deltaupdate/internal/updater"
	"github.com/fruitsalade/deltaupdate/pkg/blobcache"
	"github.com/fruitsalade/deltaupdate/pkg/download"
	"github.com/fruitsalade/deltaupdate/pkg/fetch"
	"github.com/fruitsalade/deltaupdate/pkg/retry"
)

// flagKeys maps global flags onto config keys.
var flagKeys = map[string]string{
	"manifest-url":    config.KeyManifestURL,
	"current-version": config.KeyCurrentVersion,
	"install-dir":     config.KeyInstallDir,
	"temp-dir":        config.KeyTempDir,
	"log-level":       config.KeyLogLevel,
	"log-format":      config.KeyLogFormat,
}

// loadConfig merges flags over the config file and environment, then
// initializes logging from the result.
func (o *options) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	overrides := make(map[string]any)
	for name, key := range flagKeys {
		if f := cmd.Flag(name); f != nil && f.Changed {
			overrides[key] = f.Value.String()
		}
	}

	opts := []config.Option{config.WithOverrides(overrides)}
	if o.configPath != "" {
		opts = append(opts, config.WithConfigFile(o.configPath))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, err
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return cfg, nil
}

// session is one command invocation against an Updater.
type session struct {
	ctx   context.Context
	cfg   *config.Config
	u     *updater.Updater
	cache *blobcache.Cache

	mu     sync.Mutex
	failed error
}

// failure returns the most recent failure reported by the updater.
func (s *session) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// withSession loads and validates config, wires the updater and runs fn
// with a context cancelled on SIGINT or SIGTERM.
func (o *options) withSession(cmd *cobra.Command, fn func(s *session) error) error {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logging.Sync()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// One cycle ID for every operation this command runs.
	ctx = logging.WithCycle(ctx, logging.NewCycleID())

	stopMetrics := startMetrics(cfg.MetricsAddr)
	defer stopMetrics()

	f, err := newFetcher(ctx, cfg)
	if err != nil {
		return err
	}
	cache, err := blobcache.New(cfg.TempDir)
	if err != nil {
		return err
	}

	u, err := updater.New(updater.Config{
		ManifestURL:    cfg.ManifestURL,
		BaseURL:        cfg.BaseURL,
		CurrentVersion: cfg.CurrentVersion,
		ExePath:        cfg.ExePath,
		InstallDir:     cfg.InstallDir,
		TempDir:        cfg.TempDir,
		ConfigName:     cfg.ConfigName,
		InstallerPath:  cfg.InstallerPath,
		RunAsAdmin:     cfg.RunAsAdmin,
		Hasher:         cfg.HasherOptions(),
		Concurrency:    cfg.Concurrency,
		Download: download.Config{
			StallTimeout: cfg.StallTimeout,
			Retry:        retryConfig(cfg.RetryAttempts),
		},
		ForwardInstallerOutput: true,
	},
		updater.WithFetcher(f),
		updater.WithBlobLookup(cache),
	)
	if err != nil {
		return err
	}

	s := &session{ctx: ctx, cfg: cfg, u: u, cache: cache}
	u.Events().OnEvent(func(e events.Event) {
		if e.Status != events.StatusFailed {
			return
		}
		err := e.Err
		if err == nil {
			err = errors.New(e.Message)
		}
		s.mu.Lock()
		s.failed = err
		s.mu.Unlock()
	})
	o.printEvents(u.Events())

	return fn(s)
}

// newFetcher routes http, https and file URLs, plus s3 when the config
// points at S3.
func newFetcher(ctx context.Context, cfg *config.Config) (fetch.Fetcher, error) {
	web := fetch.NewHTTP(fetch.HTTPConfig{
		Timeout:   cfg.HTTPTimeout,
		AuthToken: cfg.AuthToken,
	})
	mux := fetch.NewMux().
		Handle("http", web).
		Handle("https", web).
		Handle("file", fetch.File{})

	if usesS3(cfg) {
		client, err := fetch.NewS3Client(ctx, s3Config(cfg))
		if err != nil {
			return nil, err
		}
		mux.Handle("s3", fetch.NewS3(client))
	}
	return mux, nil
}

func usesS3(cfg *config.Config) bool {
	return cfg.S3Endpoint != "" ||
		fetch.Scheme(cfg.ManifestURL) == "s3" ||
		fetch.Scheme(cfg.BaseURL) == "s3"
}

func s3Config(cfg *config.Config) fetch.S3Config {
	return fetch.S3Config{
		Endpoint:     cfg.S3Endpoint,
		Region:       cfg.S3Region,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		UsePathStyle: cfg.S3PathStyle,
	}
}

// retryConfig turns an attempt count into a backoff policy.
func retryConfig(attempts int) retry.Config {
	if attempts <= 1 {
		return retry.Once()
	}
	rc := retry.DefaultConfig()
	rc.MaxAttempts = attempts
	return rc
}

// startMetrics serves /metrics on addr until the returned func is called.
// An empty addr disables it.
func startMetrics(addr string) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logging.Info("metrics server listening", logging.String("addr", addr))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", logging.Err(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// printEvents writes progress to stderr: one line per event in text mode,
// one JSON object per line otherwise.
func (o *options) printEvents(b *events.Broadcaster) {
	var mu sync.Mutex
	b.OnEvent(func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()

		if o.out != nil && o.out.Format() != output.FormatText {
			if data, err := events.MarshalEvent(e); err == nil {
				fmt.Fprintln(o.stderr, string(data))
			}
			return
		}
		fmt.Fprintln(o.stderr, formatEvent(e))
	})
}

func formatEvent(e events.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-11s", e.Status)
	if e.Op != "" {
		b.WriteString(" " + e.Op)
	}
	switch {
	case e.Status == events.StatusInit:
		b.WriteString(": started")
	case e.Source != "":
		fmt.Fprintf(&b, " [%s] %s", e.Source, e.Message)
	case e.Message != "":
		b.WriteString(": " + e.Message)
	}
	return b.String()
}
