// Package config loads taskmirror settings from defaults, a TOML file,
// TASKMIRROR_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// FileName is the config file name searched for in the config paths.
const FileName = "taskmirror.toml"

// EnvPrefix prefixes every environment override (TASKMIRROR_USER_ID, ...).
const EnvPrefix = "TASKMIRROR"

// Remote kinds.
const (
	RemoteNone        = "none"
	RemoteDocDB       = "docdb"
	RemoteHTTP        = "http"
	RemoteGoogleTasks = "googletasks"
)

// Config is the full taskmirror configuration.
type Config struct {
	// DataDir holds tasks.json and todos.json.
	DataDir string `mapstructure:"data_dir" toml:"data_dir"`

	// UserID selects the remote users/{uid} document tree.
	UserID string `mapstructure:"user_id" toml:"user_id"`

	Remote    RemoteConfig    `mapstructure:"remote" toml:"remote"`
	Probe     ProbeConfig     `mapstructure:"probe" toml:"probe"`
	Dashboard DashboardConfig `mapstructure:"dashboard" toml:"dashboard"`
	Log       LogConfig       `mapstructure:"log" toml:"log"`
}

// RemoteConfig selects and configures the cloud store.
type RemoteConfig struct {
	// Kind is one of none, docdb, http, googletasks.
	Kind string `mapstructure:"kind" toml:"kind"`

	// DSN is the SQLite path for the docdb store.
	DSN string `mapstructure:"dsn" toml:"dsn"`

	// URL and Token address a `tm serve` document server.
	URL       string  `mapstructure:"url" toml:"url"`
	Token     string  `mapstructure:"token" toml:"token"`
	RateLimit float64 `mapstructure:"rate_limit" toml:"rate_limit"`

	// CredentialsFile and TokenFile are the OAuth client and token JSON
	// files for the googletasks store.
	CredentialsFile string `mapstructure:"credentials_file" toml:"credentials_file"`
	TokenFile       string `mapstructure:"token_file" toml:"token_file"`
}

// ProbeConfig controls connectivity probing.
type ProbeConfig struct {
	Interval time.Duration `mapstructure:"interval" toml:"interval"`
	Timeout  time.Duration `mapstructure:"timeout" toml:"timeout"`
}

// DashboardConfig controls the websocket status feed. Port 0 disables it.
type DashboardConfig struct {
	Port int `mapstructure:"port" toml:"port"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level      string `mapstructure:"level" toml:"level"`
	File       string `mapstructure:"file" toml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days"`
}

// Home returns the taskmirror home directory: $TASKMIRROR_HOME, or
// ~/.config/taskmirror.
func Home() string {
	if h := os.Getenv(EnvPrefix + "_HOME"); h != "" {
		return h
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "taskmirror")
	}
	return ".taskmirror"
}

// Default returns the built-in configuration.
func Default() *Config {
	home := Home()
	return &Config{
		DataDir: filepath.Join(home, "data"),
		UserID:  "demo_user",
		Remote: RemoteConfig{
			Kind:      RemoteNone,
			DSN:       filepath.Join(home, "remote.db"),
			RateLimit: 20,
		},
		Probe: ProbeConfig{
			Interval: 15 * time.Second,
			Timeout:  5 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// NewViper returns a viper instance seeded with defaults and environment
// bindings. Callers bind flags to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Default()

	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("user_id", d.UserID)
	v.SetDefault("remote.kind", d.Remote.Kind)
	v.SetDefault("remote.dsn", d.Remote.DSN)
	v.SetDefault("remote.url", d.Remote.URL)
	v.SetDefault("remote.token", d.Remote.Token)
	v.SetDefault("remote.rate_limit", d.Remote.RateLimit)
	v.SetDefault("remote.credentials_file", d.Remote.CredentialsFile)
	v.SetDefault("remote.token_file", d.Remote.TokenFile)
	v.SetDefault("probe.interval", d.Probe.Interval)
	v.SetDefault("probe.timeout", d.Probe.Timeout)
	v.SetDefault("dashboard.port", d.Dashboard.Port)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads configFile (or searches the default locations when empty) into
// v and decodes the result. A missing config file is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("toml")
		v.AddConfigPath(Home())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Remote.DSN = expandHome(cfg.Remote.DSN)
	cfg.Remote.CredentialsFile = expandHome(cfg.Remote.CredentialsFile)
	cfg.Remote.TokenFile = expandHome(cfg.Remote.TokenFile)
	cfg.Log.File = expandHome(cfg.Log.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	switch c.Remote.Kind {
	case RemoteNone, RemoteDocDB, RemoteHTTP, RemoteGoogleTasks:
	default:
		return fmt.Errorf("remote.kind must be one of none, docdb, http, googletasks (got %q)", c.Remote.Kind)
	}
	if c.Probe.Interval <= 0 {
		return fmt.Errorf("probe.interval must be positive (got %s)", c.Probe.Interval)
	}
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe.timeout must be positive (got %s)", c.Probe.Timeout)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port must be between 0 and 65535 (got %d)", c.Dashboard.Port)
	}
	return nil
}

// RemoteConfigured reports whether the selected remote has what it needs to
// connect. An unconfigured remote means the engine runs offline.
func (c *Config) RemoteConfigured() bool {
	switch c.Remote.Kind {
	case RemoteDocDB:
		return c.Remote.DSN != ""
	case RemoteHTTP:
		return c.Remote.URL != ""
	case RemoteGoogleTasks:
		return fileExists(c.Remote.CredentialsFile) && fileExists(c.Remote.TokenFile)
	default:
		return false
	}
}

// WriteDefault writes cfg as TOML to path, refusing to overwrite.
func WriteDefault(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

const header = `# taskmirror configuration
#
# remote.kind selects the cloud store:
#   none        - local only, status stays Offline
#   docdb       - SQLite document database at remote.dsn
#   http        - a "tm serve" document server at remote.url
#   googletasks - Google Tasks, using remote.credentials_file and remote.token_file
#
# Every key can be overridden with TASKMIRROR_<KEY>, e.g. TASKMIRROR_REMOTE_KIND.

`

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}
