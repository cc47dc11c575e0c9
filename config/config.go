// ABOUTME: Layered configuration for the sync engine and its surfaces
// ABOUTME: Defaults, XDG config.yaml, .env, and FIELDSYNC_ environment variables via viper
package config

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. FIELDSYNC_REMOTE_URL.
const EnvPrefix = "FIELDSYNC"

// Remote store kinds.
const (
	RemoteHTTP   = "http"
	RemoteMemory = "memory"
)

type RemoteConfig struct {
	Kind    string        `mapstructure:"kind"`
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SyncConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	BackoffBase        time.Duration `mapstructure:"backoff_base"`
	BackoffCap         time.Duration `mapstructure:"backoff_cap"`
	CompletedRetention time.Duration `mapstructure:"completed_retention"`
	RecordRetention    time.Duration `mapstructure:"record_retention"`
	StuckAfter         time.Duration `mapstructure:"stuck_after"`
}

type ProbeConfig struct {
	// Address is a host:port dialed to decide reachability. Empty means the
	// device is assumed online.
	Address  string        `mapstructure:"address"`
	Interval time.Duration `mapstructure:"interval"`
}

type CacheConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	StaleRetention time.Duration `mapstructure:"stale_retention"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	File   string `mapstructure:"file"`
	Format string `mapstructure:"format"`
}

// Config is the resolved configuration.
type Config struct {
	DBPath   string       `mapstructure:"db_path"`
	CacheDir string       `mapstructure:"cache_dir"`
	DeviceID string       `mapstructure:"device_id"`
	OwnerID  string       `mapstructure:"owner_id"`
	Remote   RemoteConfig `mapstructure:"remote"`
	Sync     SyncConfig   `mapstructure:"sync"`
	Probe    ProbeConfig  `mapstructure:"probe"`
	Cache    CacheConfig  `mapstructure:"cache"`
	Log      LogConfig    `mapstructure:"log"`
}

// ConfigDir returns the XDG config directory for fieldsync.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, "fieldsync")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", filepath.Join(xdg.DataHome, "fieldsync", "fieldsync.db"))
	v.SetDefault("cache_dir", filepath.Join(xdg.CacheHome, "fieldsync", "metrics"))
	v.SetDefault("device_id", "")
	v.SetDefault("owner_id", "")

	v.SetDefault("remote.kind", RemoteHTTP)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 30*time.Second)

	v.SetDefault("sync.interval", 15*time.Minute)
	v.SetDefault("sync.max_attempts", 5)
	v.SetDefault("sync.backoff_base", time.Second)
	v.SetDefault("sync.backoff_cap", time.Hour)
	v.SetDefault("sync.completed_retention", 7*24*time.Hour)
	v.SetDefault("sync.record_retention", 90*24*time.Hour)
	v.SetDefault("sync.stuck_after", 10*time.Minute)

	v.SetDefault("probe.address", "")
	v.SetDefault("probe.interval", 30*time.Second)

	v.SetDefault("cache.ttl", 15*time.Minute)
	v.SetDefault("cache.stale_retention", 7*24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.format", "text")
}

// Loader resolves configuration and can watch the file for changes.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader prepares a loader for the config file at path, or the default
// location when path is empty.
func NewLoader(path string) *Loader {
	if path == "" {
		path = DefaultPath()
	}
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v, path: path}
}

// Path is the config file location.
func (l *Loader) Path() string {
	return l.path
}

// Load reads .env, the config file if present, and environment overrides.
func (l *Loader) Load() (*Config, error) {
	// .env only fills variables that are not already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := l.v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config %s: %w", l.path, err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch calls onChange with the re-resolved config whenever the file changes.
// Invalid edits are reported through onError and otherwise ignored.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Load resolves configuration from the given file path (or the default).
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Validate rejects settings the sync engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	switch c.Remote.Kind {
	case RemoteHTTP, RemoteMemory:
	default:
		errs = append(errs, fmt.Errorf("remote.kind must be %q or %q, got %q", RemoteHTTP, RemoteMemory, c.Remote.Kind))
	}
	if c.Remote.Timeout <= 0 {
		errs = append(errs, errors.New("remote.timeout must be positive"))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, errors.New("sync.interval must be positive"))
	}
	if c.Sync.MaxAttempts < 1 {
		errs = append(errs, errors.New("sync.max_attempts must be at least 1"))
	}
	if c.Sync.BackoffBase <= 0 {
		errs = append(errs, errors.New("sync.backoff_base must be positive"))
	}
	if c.Sync.BackoffCap < c.Sync.BackoffBase {
		errs = append(errs, errors.New("sync.backoff_cap must not be below sync.backoff_base"))
	}
	if c.Probe.Interval <= 0 {
		errs = append(errs, errors.New("probe.interval must be positive"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}
	switch c.Log.Format {
	case "text", "json", "logfmt":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text, json, or logfmt, got %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// RemoteConfigured reports whether a remote store is usable.
func (c *Config) RemoteConfigured() bool {
	return c.Remote.Kind == RemoteMemory || c.Remote.URL != ""
}

// persisted is the subset written by Save. Durations are kept as strings so
// the file stays hand-editable.
type persisted struct {
	DBPath   string `yaml:"db_path"`
	DeviceID string `yaml:"device_id"`
	OwnerID  string `yaml:"owner_id,omitempty"`
	Remote   struct {
		Kind    string `yaml:"kind"`
		URL     string `yaml:"url,omitempty"`
		Timeout string `yaml:"timeout"`
	} `yaml:"remote"`
	Sync struct {
		Interval    string `yaml:"interval"`
		MaxAttempts int    `yaml:"max_attempts"`
	} `yaml:"sync"`
	Probe struct {
		Address string `yaml:"address,omitempty"`
	} `yaml:"probe"`
}

// Save writes the identity and connection settings to path. The remote token
// is never written; supply it through FIELDSYNC_REMOTE_TOKEN.
func Save(path string, cfg *Config) error {
	var p persisted
	p.DBPath = cfg.DBPath
	p.DeviceID = cfg.DeviceID
	p.OwnerID = cfg.OwnerID
	p.Remote.Kind = cfg.Remote.Kind
	p.Remote.URL = cfg.Remote.URL
	p.Remote.Timeout = cfg.Remote.Timeout.String()
	p.Sync.Interval = cfg.Sync.Interval.String()
	p.Sync.MaxAttempts = cfg.Sync.MaxAttempts
	p.Probe.Address = cfg.Probe.Address

	data, err := yaml.Marshal(&p)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// GenerateDeviceID generates a new ULID identifying this device.
func GenerateDeviceID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
