// Package config loads runtime settings from a YAML file and DH_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/destinyhacking/app/backend/internal/errors"
	"github.com/destinyhacking/app/backend/internal/sync/scheduler"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DH_"

// Config is the full runtime configuration.
type Config struct {
	DataDir   string               `yaml:"data_dir"`
	API       APIConfig            `yaml:"api"`
	Queue     QueueConfig          `yaml:"queue"`
	Streak    StreakConfig         `yaml:"streak"`
	Log       LogConfig            `yaml:"log"`
	Server    ServerConfig         `yaml:"server"`
	Reminders []scheduler.Reminder `yaml:"reminders"`
}

// APIConfig points at the app backend.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// QueueConfig tunes retries and the replay scheduler.
type QueueConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	DrainInterval time.Duration `yaml:"drain_interval"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	DrainTimeout  time.Duration `yaml:"drain_timeout"`
}

// StreakConfig holds streak calculation settings.
type StreakConfig struct {
	// Timezone is an IANA name. Empty means the host zone.
	Timezone string `yaml:"timezone"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// ServerConfig holds the local API settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() Config {
	return Config{
		DataDir: defaultDataDir(),
		API: APIConfig{
			BaseURL: "http://localhost:3000",
			Timeout: 30 * time.Second,
		},
		Queue: QueueConfig{
			MaxRetries:    3,
			DrainInterval: 1 * time.Minute,
			ProbeInterval: 30 * time.Second,
			DrainTimeout:  5 * time.Minute,
		},
		Log:    LogConfig{Level: "info"},
		Server: ServerConfig{Addr: "127.0.0.1:8787"},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "destiny")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".destiny"
	}
	return filepath.Join(home, ".local", "state", "destiny")
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(errors.ErrConfigInvalid, "read config file", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrap(errors.ErrConfigInvalid, "parse "+path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from DH_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(errors.ErrConfigInvalid, EnvPrefix+name, err)
		}
		*dst = d
		return nil
	}

	str("DATA_DIR", &c.DataDir)
	str("API_BASE_URL", &c.API.BaseURL)
	str("API_TOKEN", &c.API.Token)
	str("STREAK_TIMEZONE", &c.Streak.Timezone)
	str("LOG_LEVEL", &c.Log.Level)
	str("SERVER_ADDR", &c.Server.Addr)

	if v, ok := lookup(EnvPrefix + "QUEUE_MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(errors.ErrConfigInvalid, EnvPrefix+"QUEUE_MAX_RETRIES", err)
		}
		c.Queue.MaxRetries = n
	}

	for name, dst := range map[string]*time.Duration{
		"API_TIMEOUT":          &c.API.Timeout,
		"QUEUE_DRAIN_INTERVAL": &c.Queue.DrainInterval,
		"QUEUE_PROBE_INTERVAL": &c.Queue.ProbeInterval,
		"QUEUE_DRAIN_TIMEOUT":  &c.Queue.DrainTimeout,
	} {
		if err := dur(name, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate reports the first invalid field as a CONFIG_INVALID error.
func (c Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.New(errors.ErrConfigInvalid, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.DataDir) == "" {
		return invalid("data_dir is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("api.base_url %q must be an http(s) URL", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return invalid("api.timeout must be positive")
	}
	if c.Queue.MaxRetries < 1 {
		return invalid("queue.max_retries must be at least 1, got %d", c.Queue.MaxRetries)
	}
	if c.Queue.DrainInterval <= 0 || c.Queue.ProbeInterval <= 0 || c.Queue.DrainTimeout <= 0 {
		return invalid("queue intervals must be positive")
	}
	if _, err := c.Location(); err != nil {
		return invalid("streak.timezone %q: %v", c.Streak.Timezone, err)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if c.Server.Addr == "" {
		return invalid("server.addr is required")
	}

	seen := make(map[string]bool, len(c.Reminders))
	for _, r := range c.Reminders {
		if err := r.Validate(); err != nil {
			return errors.Wrap(errors.ErrConfigInvalid, "reminders", err)
		}
		if seen[r.ID] {
			return invalid("duplicate reminder id %q", r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

// Location resolves Streak.Timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Streak.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Streak.Timezone)
}
