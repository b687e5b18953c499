// Package config provides configuration loading and management for the sync engine.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/bimsync/internal/parserruntime"
	"github.com/stacklok/bimsync/internal/sources"
	pkgsync "github.com/stacklok/bimsync/internal/sync"
	"github.com/stacklok/bimsync/internal/telemetry"
	"github.com/stacklok/bimsync/internal/translation"
)

const (
	// EnvPrefix is the prefix of environment variables read by the CLI
	EnvPrefix = "BIMSYNC"

	// DefaultServerAddress is the listen address of the daemon status API
	DefaultServerAddress = ":8080"

	// DefaultRecheckInterval is how often watches of sources without push are re-synced
	DefaultRecheckInterval = 10 * time.Minute

	// configRelPath is the config file location under the XDG config home
	configRelPath = "bimsync/config.yaml"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// DefaultConfigPath returns the existing config file under $XDG_CONFIG_HOME or the XDG config dirs
func DefaultConfigPath() (string, error) {
	path, err := xdg.SearchConfigFile(configRelPath)
	if err != nil {
		return "", fmt.Errorf("no config file found (looked for %s in the XDG config directories): %w", configRelPath, err)
	}
	return path, nil
}

// Config represents the root configuration structure
type Config struct {
	Sources     []SourceConfig     `yaml:"sources"`
	Translation *TranslationConfig `yaml:"translation,omitempty"`
	Runtime     *RuntimeConfig     `yaml:"runtime,omitempty"`
	Discovery   *DiscoveryConfig   `yaml:"discovery,omitempty"`
	Watches     []WatchConfig      `yaml:"watches,omitempty"`
	Server      *ServerConfig      `yaml:"server,omitempty"`
	Results     *ResultsConfig     `yaml:"results,omitempty"`
	Telemetry   *telemetry.Config  `yaml:"telemetry,omitempty"`
}

// SourceConfig defines one external source
type SourceConfig struct {
	// Name is the identifier used by watches and the CLI
	Name string `yaml:"name"`

	// Kind is acc or collab
	Kind string `yaml:"kind"`

	// BaseURL is the API root of the source
	BaseURL string `yaml:"baseUrl"`

	// Credential describes where the bearer token comes from
	Credential CredentialConfig `yaml:"credential"`
}

// CredentialConfig defines how a source credential is obtained.
// Exactly one of File, Env or OAuth2 must be set.
type CredentialConfig struct {
	// File is a path to a file holding the token
	File string `yaml:"file,omitempty"`

	// Env is the name of an environment variable holding the token
	Env string `yaml:"env,omitempty"`

	// OAuth2 obtains the token with the client credentials grant
	OAuth2 *OAuth2Config `yaml:"oauth2,omitempty"`
}

// OAuth2Config defines a two-legged client credentials flow
type OAuth2Config struct {
	TokenURL        string   `yaml:"tokenUrl"`
	ClientIDEnv     string   `yaml:"clientIdEnv"`
	ClientSecretEnv string   `yaml:"clientSecretEnv"`
	Scopes          []string `yaml:"scopes,omitempty"`
}

// TranslationConfig defines the polling policy; empty fields keep the defaults
type TranslationConfig struct {
	InitialBackoff string  `yaml:"initialBackoff,omitempty"`
	MaxBackoff     string  `yaml:"maxBackoff,omitempty"`
	MaxAttempts    int     `yaml:"maxAttempts,omitempty"`
	Timeout        string  `yaml:"timeout,omitempty"`
	Jitter         float64 `yaml:"jitter,omitempty"`
}

// RuntimeConfig defines where the parser runtime is fetched from
type RuntimeConfig struct {
	URL         string `yaml:"url"`
	Digest      string `yaml:"digest,omitempty"`
	MaxAttempts int    `yaml:"maxAttempts,omitempty"`
	RetryDelay  string `yaml:"retryDelay,omitempty"`
	Timeout     string `yaml:"timeout,omitempty"`
}

// DiscoveryConfig defines the retry policy of version discovery
type DiscoveryConfig struct {
	MaxRetries      *int   `yaml:"maxRetries,omitempty"`
	InitialInterval string `yaml:"initialInterval,omitempty"`
	MaxInterval     string `yaml:"maxInterval,omitempty"`
}

// WatchConfig is an item the daemon keeps in sync
type WatchConfig struct {
	// Source is the name of a configured source
	Source string `yaml:"source"`
	ItemID string `yaml:"itemId"`
	// RecheckInterval re-syncs sources without push, e.g. "10m"
	RecheckInterval string `yaml:"recheckInterval,omitempty"`
}

// ServerConfig defines the daemon status API
type ServerConfig struct {
	Address string `yaml:"address,omitempty"`
}

// ResultsConfig enables storing the latest result of every synced item on disk
type ResultsConfig struct {
	Dir string `yaml:"dir,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
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

	// Read the entire file into memory
	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML content
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	// Validate the config
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Source returns the source configuration with the given name
func (c *Config) Source(name string) (*SourceConfig, error) {
	for i := range c.Sources {
		if c.Sources[i].Name == name {
			return &c.Sources[i], nil
		}
	}
	return nil, fmt.Errorf("source %q is not configured", name)
}

// GetServerAddress returns the status API address, using the default if not specified
func (c *Config) GetServerAddress() string {
	if c.Server == nil || c.Server.Address == "" {
		return DefaultServerAddress
	}
	return c.Server.Address
}

// GetResultsDir returns the results directory, or "" when results are only logged
func (c *Config) GetResultsDir() string {
	if c.Results == nil {
		return ""
	}
	return c.Results.Dir
}

// ExternalSource builds the engine value for this source
func (s *SourceConfig) ExternalSource() (sources.ExternalSource, error) {
	kind, err := sources.ParseKind(s.Kind)
	if err != nil {
		return sources.ExternalSource{}, err
	}
	return sources.NewExternalSource(kind, s.BaseURL, s.Name)
}

// TranslationPolicy returns the tracker configuration with defaults applied
func (c *Config) TranslationPolicy() (translation.Config, error) {
	cfg := translation.DefaultConfig()
	t := c.Translation
	if t == nil {
		return cfg, nil
	}

	var err error
	if cfg.InitialBackoff, err = durationOr(t.InitialBackoff, cfg.InitialBackoff); err != nil {
		return cfg, fmt.Errorf("translation.initialBackoff: %w", err)
	}
	if cfg.MaxBackoff, err = durationOr(t.MaxBackoff, cfg.MaxBackoff); err != nil {
		return cfg, fmt.Errorf("translation.maxBackoff: %w", err)
	}
	if cfg.Timeout, err = durationOr(t.Timeout, cfg.Timeout); err != nil {
		return cfg, fmt.Errorf("translation.timeout: %w", err)
	}
	if t.MaxAttempts != 0 {
		cfg.MaxAttempts = t.MaxAttempts
	}
	if t.Jitter != 0 {
		cfg.Jitter = t.Jitter
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("translation: %w", err)
	}
	return cfg, nil
}

// RuntimePolicy returns the runtime loader configuration. ok is false when no runtime is configured.
func (c *Config) RuntimePolicy() (cfg parserruntime.Config, ok bool, err error) {
	r := c.Runtime
	if r == nil || r.URL == "" {
		return parserruntime.Config{}, false, nil
	}

	cfg = parserruntime.DefaultConfig(r.URL)
	cfg.Digest = r.Digest
	if r.MaxAttempts != 0 {
		cfg.MaxAttempts = r.MaxAttempts
	}
	if cfg.RetryDelay, err = durationOr(r.RetryDelay, cfg.RetryDelay); err != nil {
		return cfg, true, fmt.Errorf("runtime.retryDelay: %w", err)
	}
	if cfg.Timeout, err = durationOr(r.Timeout, cfg.Timeout); err != nil {
		return cfg, true, fmt.Errorf("runtime.timeout: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, true, err
	}
	return cfg, true, nil
}

// DiscoveryPolicy returns the discovery retry policy with defaults applied
func (c *Config) DiscoveryPolicy() (pkgsync.DiscoveryConfig, error) {
	cfg := pkgsync.DefaultDiscoveryConfig()
	d := c.Discovery
	if d == nil {
		return cfg, nil
	}

	if d.MaxRetries != nil {
		if *d.MaxRetries < 0 {
			return cfg, fmt.Errorf("discovery.maxRetries must not be negative")
		}
		cfg.MaxRetries = *d.MaxRetries
	}
	var err error
	if cfg.InitialInterval, err = durationOr(d.InitialInterval, cfg.InitialInterval); err != nil {
		return cfg, fmt.Errorf("discovery.initialInterval: %w", err)
	}
	if cfg.MaxInterval, err = durationOr(d.MaxInterval, cfg.MaxInterval); err != nil {
		return cfg, fmt.Errorf("discovery.maxInterval: %w", err)
	}
	return cfg, nil
}

// GetRecheckInterval returns the watch re-sync interval, using the default if not specified
func (w *WatchConfig) GetRecheckInterval() time.Duration {
	d, err := durationOr(w.RecheckInterval, DefaultRecheckInterval)
	if err != nil {
		return DefaultRecheckInterval
	}
	return d
}

// durationOr parses value, returning fallback when value is empty
func durationOr(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("must be a valid duration (e.g., '30s', '5m'): %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", value)
	}
	return d, nil
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	// Validate at least one source is configured
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}

	sourceNames := make(map[string]bool)
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if sourceNames[src.Name] {
			return fmt.Errorf("sources[%d]: duplicate source name '%s'", i, src.Name)
		}
		sourceNames[src.Name] = true

		if err := validateSourceConfig(src, fmt.Sprintf("sources[%d] (%s)", i, src.Name)); err != nil {
			return err
		}
	}

	for i, w := range c.Watches {
		prefix := fmt.Sprintf("watches[%d]", i)
		if !sourceNames[w.Source] {
			return fmt.Errorf("%s: unknown source '%s'", prefix, w.Source)
		}
		if w.ItemID == "" {
			return fmt.Errorf("%s: itemId is required", prefix)
		}
		if _, err := durationOr(w.RecheckInterval, DefaultRecheckInterval); err != nil {
			return fmt.Errorf("%s: recheckInterval %w", prefix, err)
		}
	}

	var errs []error
	if _, err := c.TranslationPolicy(); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := c.RuntimePolicy(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.DiscoveryPolicy(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	return errors.Join(errs...)
}

// validateSourceConfig validates a single source configuration
func validateSourceConfig(src *SourceConfig, prefix string) error {
	if _, err := sources.ParseKind(src.Kind); err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}

	if src.BaseURL == "" {
		return fmt.Errorf("%s: baseUrl is required", prefix)
	}
	u, err := url.Parse(src.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: baseUrl must be an absolute http(s) URL, got %q", prefix, src.BaseURL)
	}

	return validateCredentialConfig(&src.Credential, prefix)
}

// validateCredentialConfig ensures exactly one credential source is configured
func validateCredentialConfig(cred *CredentialConfig, prefix string) error {
	count := 0
	if cred.File != "" {
		count++
	}
	if cred.Env != "" {
		count++
	}
	if cred.OAuth2 != nil {
		count++
	}

	if count == 0 {
		return fmt.Errorf("%s: one of credential.file, credential.env or credential.oauth2 must be specified", prefix)
	}
	if count > 1 {
		return fmt.Errorf("%s: only one of credential.file, credential.env or credential.oauth2 may be specified", prefix)
	}

	if o := cred.OAuth2; o != nil {
		if o.TokenURL == "" {
			return fmt.Errorf("%s: credential.oauth2.tokenUrl is required", prefix)
		}
		if o.ClientIDEnv == "" || o.ClientSecretEnv == "" {
			return fmt.Errorf("%s: credential.oauth2.clientIdEnv and clientSecretEnv are required", prefix)
		}
	}
	if strings.Contains(cred.Env, "=") {
		return fmt.Errorf("%s: credential.env must be a variable name", prefix)
	}
	return nil
}
