// Package config provides the sync configuration: where the remote store lives,
// how it is reached, how often automatic sync runs, and the cached result of the
// last connection test.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/promptsync/internal/syncerr"
	"github.com/stacklok/promptsync/internal/telemetry"
)

const (
	// EnvPrefix is the prefix of environment variables read by the CLI
	EnvPrefix = "PROMPTSYNC"

	// DefaultSyncIntervalMinutes is the interval between automatic background syncs.
	DefaultSyncIntervalMinutes = 15

	// DefaultDebounce is the quiet period after a local change before a sync runs.
	DefaultDebounce = 3 * time.Second

	// DefaultLockTTL bounds how long a crashed device can block others.
	DefaultLockTTL = 5 * time.Minute

	// DefaultTombstoneRetention is how long soft deletes are kept in snapshots.
	DefaultTombstoneRetention = 30 * 24 * time.Hour

	// DefaultRequestTimeout bounds every remote call.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultAPIAddress is the loopback address of the control API.
	DefaultAPIAddress = "127.0.0.1:7420"
)

// Provider selects the remote store binding.
type Provider string

const (
	// ProviderWebDAV syncs through a WebDAV server.
	ProviderWebDAV Provider = "webdav"
	// ProviderICloud syncs through an OS-synced folder such as iCloud Drive.
	ProviderICloud Provider = "icloud"
	// ProviderS3 syncs through an S3-compatible bucket.
	ProviderS3 Provider = "s3"
)

// Option configures the config loader
type Option func(*loaderConfig) error

type loaderConfig struct {
	path string
}

// WithConfigPath sets the path of the configuration file.
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		realPath := filepath.Clean(path)
		if _, err := os.Lstat(realPath); err == nil {
			// Resolve symlinks to prevent symlink attacks.
			resolved, err := filepath.EvalSymlinks(realPath)
			if err != nil {
				return fmt.Errorf("failed to evaluate symlinks: %w", err)
			}
			realPath = resolved
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config is the sync configuration.
type Config struct {
	Enabled             bool     `yaml:"enabled"`
	AutoSync            bool     `yaml:"autoSync"`
	SyncIntervalMinutes int      `yaml:"syncIntervalMinutes"`
	Provider            Provider `yaml:"provider,omitempty"`

	// SyncRoot is the directory under the remote that holds the sync files.
	SyncRoot   string `yaml:"syncRoot,omitempty"`
	DeviceName string `yaml:"deviceName,omitempty"`

	WebDAV *WebDAVConfig `yaml:"webdav,omitempty"`
	ICloud *FolderConfig `yaml:"icloud,omitempty"`
	S3     *S3Config     `yaml:"s3,omitempty"`

	ConnectionStatus `yaml:",inline"`

	LocalStore LocalStoreConfig  `yaml:"localStore,omitempty"`
	StateDir   string            `yaml:"stateDir,omitempty"`
	Tuning     TuningConfig      `yaml:"tuning,omitempty"`
	API        APIConfig         `yaml:"api,omitempty"`
	Telemetry  *telemetry.Config `yaml:"telemetry,omitempty"`
}

// WebDAVConfig defines the WebDAV server connection
type WebDAVConfig struct {
	ServerURL string `yaml:"serverUrl"`
	Username  string `yaml:"username,omitempty"`
	// Password is accepted for convenience; prefer the keyring or PasswordFile.
	Password     string `yaml:"password,omitempty"`
	PasswordFile string `yaml:"passwordFile,omitempty"`
	UseKeyring   bool   `yaml:"useKeyring,omitempty"`
}

// FolderConfig defines an OS-synced folder
type FolderConfig struct {
	// CustomPath overrides the platform's iCloud Drive folder.
	CustomPath string `yaml:"customPath,omitempty"`
}

// S3Config defines an S3-compatible bucket
type S3Config struct {
	Endpoint            string `yaml:"endpoint"`
	Bucket              string `yaml:"bucket"`
	Prefix              string `yaml:"prefix,omitempty"`
	Region              string `yaml:"region,omitempty"`
	AccessKeyID         string `yaml:"accessKeyId,omitempty"`
	SecretAccessKey     string `yaml:"secretAccessKey,omitempty"`
	SecretAccessKeyFile string `yaml:"secretAccessKeyFile,omitempty"`
	UseKeyring          bool   `yaml:"useKeyring,omitempty"`
	UseSSL              bool   `yaml:"useSSL,omitempty"`
}

// ConnectionStatus caches the result of the last connection test. It is only
// trusted while ConfigHash matches the current connection settings.
type ConnectionStatus struct {
	ConnectionTested   bool       `yaml:"connectionTested"`
	ConnectionValid    bool       `yaml:"connectionValid"`
	ConnectionMessage  string     `yaml:"connectionMessage,omitempty"`
	ConnectionTestedAt *time.Time `yaml:"connectionTestedAt,omitempty"`
	ConfigHash         string     `yaml:"configHash,omitempty"`
}

// LocalStoreConfig defines the local database
type LocalStoreConfig struct {
	Path string `yaml:"path,omitempty"`
}

// TuningConfig holds the sync engine timings
type TuningConfig struct {
	Debounce           time.Duration `yaml:"debounce,omitempty"`
	LockTTL            time.Duration `yaml:"lockTTL,omitempty"`
	TombstoneRetention time.Duration `yaml:"tombstoneRetention,omitempty"`
	RequestTimeout     time.Duration `yaml:"requestTimeout,omitempty"`
	Retry              RetryConfig   `yaml:"retry,omitempty"`
}

// RetryConfig holds the retry policy for remote operations
type RetryConfig struct {
	MaxRetries int           `yaml:"maxRetries,omitempty"`
	BaseDelay  time.Duration `yaml:"baseDelay,omitempty"`
	MaxDelay   time.Duration `yaml:"maxDelay,omitempty"`
	Multiplier float64       `yaml:"multiplier,omitempty"`
}

// APIConfig defines the local control API
type APIConfig struct {
	Address string `yaml:"address,omitempty"`
}

// Default returns a disabled configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		AutoSync:            true,
		SyncIntervalMinutes: DefaultSyncIntervalMinutes,
	}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads and validates the configuration file. A missing file yields
// the default configuration.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}
	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates YAML configuration.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, syncerr.Wrap(syncerr.CodeConfiguration, err, "failed to parse YAML config")
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes the configuration to path atomically.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.SyncIntervalMinutes == 0 {
		c.SyncIntervalMinutes = DefaultSyncIntervalMinutes
	}
	if c.Tuning.Debounce == 0 {
		c.Tuning.Debounce = DefaultDebounce
	}
	if c.Tuning.LockTTL == 0 {
		c.Tuning.LockTTL = DefaultLockTTL
	}
	if c.Tuning.TombstoneRetention == 0 {
		c.Tuning.TombstoneRetention = DefaultTombstoneRetention
	}
	if c.Tuning.RequestTimeout == 0 {
		c.Tuning.RequestTimeout = DefaultRequestTimeout
	}
	if c.API.Address == "" {
		c.API.Address = DefaultAPIAddress
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	if c.WebDAV != nil {
		w := *c.WebDAV
		out.WebDAV = &w
	}
	if c.ICloud != nil {
		f := *c.ICloud
		out.ICloud = &f
	}
	if c.S3 != nil {
		s := *c.S3
		out.S3 = &s
	}
	if c.ConnectionTestedAt != nil {
		at := *c.ConnectionTestedAt
		out.ConnectionTestedAt = &at
	}
	if c.Telemetry != nil {
		tel := *c.Telemetry
		out.Telemetry = &tel
	}
	return &out
}

// SyncInterval returns the background sync interval.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMinutes) * time.Minute
}

// Validate checks the configuration. Connection settings are only required once
// sync is enabled.
func (c *Config) Validate() error {
	if c.SyncIntervalMinutes < 1 {
		return configError("syncIntervalMinutes: must be at least 1")
	}
	if c.Tuning.Retry.MaxRetries < 0 {
		return configError("tuning.retry.maxRetries: must not be negative")
	}
	if c.Tuning.Retry.Multiplier != 0 && c.Tuning.Retry.Multiplier < 1 {
		return configError("tuning.retry.multiplier: must be at least 1")
	}
	if err := c.Telemetry.Validate(); err != nil {
		return syncerr.Wrap(syncerr.CodeConfiguration, err, "telemetry")
	}
	if !c.Enabled {
		return nil
	}

	switch c.Provider {
	case ProviderWebDAV:
		return validateWebDAV(c.WebDAV, "webdav")
	case ProviderICloud:
		return validateFolder(c.ICloud, "icloud")
	case ProviderS3:
		return validateS3(c.S3, "s3")
	case "":
		return configError("provider: field is required when sync is enabled")
	default:
		return configError("provider: unsupported provider %q (must be webdav, icloud or s3)", c.Provider)
	}
}

func validateWebDAV(w *WebDAVConfig, prefix string) error {
	if w == nil {
		return configError("%s: section is required", prefix)
	}
	if w.ServerURL == "" {
		return configError("%s.serverUrl: field is required", prefix)
	}
	u, err := url.Parse(w.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return configError("%s.serverUrl: must be an http or https URL", prefix)
	}
	if w.Username == "" {
		return configError("%s.username: field is required", prefix)
	}
	return nil
}

func validateFolder(f *FolderConfig, prefix string) error {
	if f == nil || f.CustomPath == "" {
		// the platform default is resolved at connect time
		return nil
	}
	if !filepath.IsAbs(f.CustomPath) {
		return configError("%s.customPath: must be an absolute path", prefix)
	}
	return nil
}

func validateS3(s *S3Config, prefix string) error {
	if s == nil {
		return configError("%s: section is required", prefix)
	}
	if s.Endpoint == "" {
		return configError("%s.endpoint: field is required", prefix)
	}
	if s.Bucket == "" {
		return configError("%s.bucket: field is required", prefix)
	}
	if s.AccessKeyID == "" {
		return configError("%s.accessKeyId: field is required", prefix)
	}
	return nil
}

func configError(format string, args ...any) error {
	return syncerr.New(syncerr.CodeConfiguration, format, args...)
}

// ComputeConfigHash hashes the settings that decide which remote is used and how
// it is reached. Editing any of them invalidates the cached connection status.
func (c *Config) ComputeConfigHash() string {
	var b strings.Builder
	fmt.Fprintf(&b, "provider=%s\nroot=%s\n", c.Provider, c.SyncRoot)
	if w := c.WebDAV; w != nil {
		fmt.Fprintf(&b, "webdav=%s|%s|%s|%s|%t\n", w.ServerURL, w.Username, w.Password, w.PasswordFile, w.UseKeyring)
	}
	if f := c.ICloud; f != nil {
		fmt.Fprintf(&b, "icloud=%s\n", f.CustomPath)
	}
	if s := c.S3; s != nil {
		fmt.Fprintf(&b, "s3=%s|%s|%s|%s|%s|%s|%s|%t|%t\n", s.Endpoint, s.Bucket, s.Prefix, s.Region,
			s.AccessKeyID, s.SecretAccessKey, s.SecretAccessKeyFile, s.UseKeyring, s.UseSSL)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ConnectionKnownValid reports whether the cached connection test passed for the
// current settings.
func (c *Config) ConnectionKnownValid() bool {
	return c.ConnectionTested && c.ConnectionValid && c.ConfigHash == c.ComputeConfigHash()
}

// RecordConnection stores a connection test result for the current settings.
func (c *Config) RecordConnection(valid bool, message string, at time.Time) {
	c.ConnectionTested = true
	c.ConnectionValid = valid
	c.ConnectionMessage = message
	c.ConnectionTestedAt = &at
	c.ConfigHash = c.ComputeConfigHash()
}

// InvalidateConnection forgets the cached connection test.
func (c *Config) InvalidateConnection() {
	c.ConnectionStatus = ConnectionStatus{}
}
