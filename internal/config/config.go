// Package config loads sprig configuration with precedence:
// defaults → YAML file → environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Remote   RemoteConfig   `yaml:"remote"`
	Sync     SyncConfig     `yaml:"sync"`
	Retry    RetryConfig    `yaml:"retry"`
	Media    MediaConfig    `yaml:"media"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains settings for the localhost status API.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains local store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RemoteConfig contains the remote backend's RPC settings.
type RemoteConfig struct {
	URL           string   `yaml:"url"`
	APIKey        string   `yaml:"-"` // env-only, never in YAML
	SchemaVersion int      `yaml:"schema_version"`
	Timeout       Duration `yaml:"timeout"`
}

// SyncConfig contains sync engine settings.
type SyncConfig struct {
	UserID          string   `yaml:"user_id"`
	MinInterval     Duration `yaml:"min_interval"`
	Interval        Duration `yaml:"interval"` // periodic sync in serve mode
	MergeWindow     Duration `yaml:"merge_window"`
	MutexTimeout    Duration `yaml:"mutex_timeout"`
	ConcurrentCalls int      `yaml:"concurrent_calls"`
}

// RetryConfig contains retry executor settings.
type RetryConfig struct {
	MaxRetries int      `yaml:"max_retries"`
	BaseDelay  Duration `yaml:"base_delay"`
	MaxDelay   Duration `yaml:"max_delay"`
	Timeout    Duration `yaml:"timeout"`
}

// MediaConfig contains S3-compatible media offload settings.
// An empty bucket disables offload; media payloads are then stripped to
// reference markers only.
type MediaConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"-"` // env-only, never in YAML
	SecretKey string `yaml:"-"` // env-only, never in YAML
	UseSSL    bool   `yaml:"use_ssl"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("SPRIG_CONFIG_PATH", "config/sprig.yaml")

	// Missing file is not an error; defaults apply
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8787,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/sprig.db",
		},
		Remote: RemoteConfig{
			SchemaVersion: 1,
			Timeout:       Duration(30 * time.Second),
		},
		Sync: SyncConfig{
			MinInterval:     Duration(30 * time.Second),
			Interval:        Duration(5 * time.Minute),
			MergeWindow:     Duration(10 * time.Minute),
			MutexTimeout:    Duration(30 * time.Second),
			ConcurrentCalls: 5,
		},
		Retry: RetryConfig{
			MaxRetries: 5,
			BaseDelay:  Duration(1 * time.Second),
			MaxDelay:   Duration(30 * time.Second),
			Timeout:    Duration(5 * time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SPRIG_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SPRIG_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Remote
	if v := os.Getenv("SPRIG_REMOTE_URL"); v != "" {
		cfg.Remote.URL = v
	}
	if v := os.Getenv("SPRIG_API_KEY"); v != "" {
		cfg.Remote.APIKey = v
	}
	if v := os.Getenv("SPRIG_SCHEMA_VERSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Remote.SchemaVersion = n
		}
	}
	if v := os.Getenv("SPRIG_REMOTE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Remote.Timeout = Duration(d)
		}
	}

	// Sync
	if v := os.Getenv("SPRIG_USER_ID"); v != "" {
		cfg.Sync.UserID = v
	}
	if v := os.Getenv("SPRIG_SYNC_MIN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.MinInterval = Duration(d)
		}
	}
	if v := os.Getenv("SPRIG_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.Interval = Duration(d)
		}
	}
	if v := os.Getenv("SPRIG_MERGE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.MergeWindow = Duration(d)
		}
	}
	if v := os.Getenv("SPRIG_CONCURRENT_CALLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.ConcurrentCalls = n
		}
	}

	// Retry
	if v := os.Getenv("SPRIG_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxRetries = n
		}
	}
	if v := os.Getenv("SPRIG_RETRY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retry.Timeout = Duration(d)
		}
	}

	// Media
	if v := os.Getenv("SPRIG_MEDIA_ENDPOINT"); v != "" {
		cfg.Media.Endpoint = v
	}
	if v := os.Getenv("SPRIG_MEDIA_BUCKET"); v != "" {
		cfg.Media.Bucket = v
	}
	if v := os.Getenv("SPRIG_MEDIA_ACCESS_KEY"); v != "" {
		cfg.Media.AccessKey = v
	}
	if v := os.Getenv("SPRIG_MEDIA_SECRET_KEY"); v != "" {
		cfg.Media.SecretKey = v
	}
	if v := os.Getenv("SPRIG_MEDIA_USE_SSL"); v != "" {
		cfg.Media.UseSSL = v == "true" || v == "1"
	}

	// Log
	if v := os.Getenv("SPRIG_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SPRIG_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set.
// In dev mode (SPRIG_DEV_MODE=true), remote validation is skipped so the
// engine can run against a local stub.
func (c *Config) validate() error {
	if os.Getenv("SPRIG_DEV_MODE") == "true" {
		return nil
	}

	if c.Remote.URL == "" {
		return errors.New("remote.url (or SPRIG_REMOTE_URL) is required")
	}
	if c.Remote.APIKey == "" {
		return errors.New("SPRIG_API_KEY is required")
	}
	if c.Sync.ConcurrentCalls < 1 {
		return errors.New("sync.concurrent_calls must be at least 1")
	}
	if c.Retry.MaxRetries < 1 {
		return errors.New("retry.max_retries must be at least 1")
	}
	if c.Media.Bucket != "" && c.Media.Endpoint == "" {
		return errors.New("media.endpoint is required when media.bucket is set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
