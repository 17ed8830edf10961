// Package config loads updater configuration from defaults, an optional
// config file and UPDATER_* environment variables, in that order of
// precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fruitsalade/deltaupdate/pkg/hasher"
)

const envPrefix = "UPDATER"

const (
	KeyManifestURL    = "manifest_url"
	KeyBaseURL        = "base_url"
	KeyAuthToken      = "auth_token"
	KeyCurrentVersion = "current_version"
	KeyExePath        = "exe_path"
	KeyInstallDir     = "install_dir"
	KeyTempDir        = "temp_dir"
	KeyConfigName     = "config_name"
	KeyInstallerPath  = "installer_path"
	KeyRunAsAdmin     = "run_as_admin"
	KeyExcludeFiles   = "exclude_files"
	KeyExcludeDirs    = "exclude_dirs"
	KeyHashSorted     = "hash_sorted"
	KeyConcurrency    = "concurrency"
	KeyRetryAttempts  = "retry_attempts"
	KeyStallTimeout   = "stall_timeout"
	KeyHTTPTimeout    = "http_timeout"
	KeyS3Endpoint     = "s3_endpoint"
	KeyS3Region       = "s3_region"
	KeyS3AccessKey    = "s3_access_key"
	KeyS3SecretKey    = "s3_secret_key"
	KeyS3PathStyle    = "s3_path_style"
	KeyLogLevel       = "log_level"
	KeyLogFormat      = "log_format"
	KeyMetricsAddr    = "metrics_addr"
)

// Config holds all updater configuration.
type Config struct {
	// Update source
	ManifestURL string `mapstructure:"manifest_url"`
	BaseURL     string `mapstructure:"base_url"`
	AuthToken   string `mapstructure:"auth_token"`

	// Installed application
	CurrentVersion string   `mapstructure:"current_version"`
	ExePath        string   `mapstructure:"exe_path"`
	InstallDir     string   `mapstructure:"install_dir"`
	ExcludeFiles   []string `mapstructure:"exclude_files"`
	ExcludeDirs    []string `mapstructure:"exclude_dirs"`
	HashSorted     bool     `mapstructure:"hash_sorted"`

	// Staging and handoff
	TempDir       string `mapstructure:"temp_dir"`
	ConfigName    string `mapstructure:"config_name"`
	InstallerPath string `mapstructure:"installer_path"`
	RunAsAdmin    bool   `mapstructure:"run_as_admin"`

	// Downloads
	Concurrency   int           `mapstructure:"concurrency"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	StallTimeout  time.Duration `mapstructure:"stall_timeout"`
	HTTPTimeout   time.Duration `mapstructure:"http_timeout"`

	// S3 source (s3:// manifest and blob URLs)
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Region    string `mapstructure:"s3_region"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3PathStyle bool   `mapstructure:"s3_path_style"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Metrics listener; empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type loadSettings struct {
	configFile string
	overrides  map[string]any
}

// Option configures Load.
type Option func(*loadSettings)

// WithConfigFile merges a yaml/toml/json file. A missing file is an error
// when set explicitly.
func WithConfigFile(path string) Option {
	return func(s *loadSettings) {
		s.configFile = path
	}
}

// WithOverrides applies values that win over every other source, typically
// from CLI flags.
func WithOverrides(overrides map[string]any) Option {
	return func(s *loadSettings) {
		s.overrides = overrides
	}
}

// Load builds a Config. It does not validate update-specific fields; call
// Validate before running an update.
func Load(opts ...Option) (*Config, error) {
	settings := loadSettings{}
	for _, opt := range opts {
		opt(&settings)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if settings.configFile != "" {
		if err := mergeConfigFile(v, settings.configFile); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	for k, val := range settings.overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDerived()
	return &cfg, nil
}

// Validate checks the fields needed to check, download and install.
func (c *Config) Validate() error {
	var errs []error
	if c.ManifestURL == "" {
		errs = append(errs, errors.New("manifest_url is required"))
	}
	if c.CurrentVersion == "" {
		errs = append(errs, errors.New("current_version is required"))
	}
	if c.ExePath == "" {
		errs = append(errs, errors.New("exe_path is required"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.ConfigName == "" || strings.ContainsAny(c.ConfigName, `/\`) {
		errs = append(errs, fmt.Errorf("config_name %q must be a plain file name", c.ConfigName))
	}
	if err := c.HasherOptions().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// HasherOptions returns the fingerprint options for the install directory.
func (c *Config) HasherOptions() hasher.Options {
	return hasher.Options{
		ExcludeFiles: c.ExcludeFiles,
		ExcludeDirs:  c.ExcludeDirs,
		Sorted:       c.HashSorted,
	}
}

func (c *Config) applyDerived() {
	if c.ExePath == "" {
		if exe, err := os.Executable(); err == nil {
			c.ExePath = exe
		}
	}
	if c.InstallDir == "" && c.ExePath != "" {
		c.InstallDir = filepath.Dir(c.ExePath)
	}
	if c.TempDir == "" {
		c.TempDir = filepath.Join(os.TempDir(), "deltaupdate")
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyManifestURL, "")
	v.SetDefault(KeyBaseURL, "")
	v.SetDefault(KeyAuthToken, "")
	v.SetDefault(KeyCurrentVersion, "")
	v.SetDefault(KeyExePath, "")
	v.SetDefault(KeyInstallDir, "")
	v.SetDefault(KeyTempDir, "")
	v.SetDefault(KeyConfigName, "update-config")
	v.SetDefault(KeyInstallerPath, "")
	v.SetDefault(KeyRunAsAdmin, false)
	v.SetDefault(KeyExcludeFiles, []string{})
	v.SetDefault(KeyExcludeDirs, []string{})
	v.SetDefault(KeyHashSorted, false)
	v.SetDefault(KeyConcurrency, 5)
	v.SetDefault(KeyRetryAttempts, 1)
	v.SetDefault(KeyStallTimeout, 60*time.Second)
	v.SetDefault(KeyHTTPTimeout, 30*time.Second)
	v.SetDefault(KeyS3Endpoint, "")
	v.SetDefault(KeyS3Region, "us-east-1")
	v.SetDefault(KeyS3AccessKey, "")
	v.SetDefault(KeyS3SecretKey, "")
	v.SetDefault(KeyS3PathStyle, false)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")
	v.SetDefault(KeyMetricsAddr, "")
}

func mergeConfigFile(v *viper.Viper, path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config file %s does not exist", path)
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	switch ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."); ext {
	case "yml", "yaml":
		v.SetConfigType("yaml")
	case "json", "toml":
		v.SetConfigType(ext)
	default:
		v.SetConfigType("yaml")
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
