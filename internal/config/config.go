package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// UpstreamConfig tunes the status API client.
type UpstreamConfig struct {
	URL               string        `yaml:"url"`
	RequestTimeoutStr string        `yaml:"request_timeout"`
	RequestTimeout    time.Duration `yaml:"-"`
}

// PollConfig tunes the fetch cycle.
type PollConfig struct {
	IntervalStr        string        `yaml:"interval"`
	Interval           time.Duration `yaml:"-"`
	ServiceOpen        string        `yaml:"service_open"`
	ServiceClose       string        `yaml:"service_close"`
	ReferenceMaxAgeStr string        `yaml:"reference_max_age"`
	ReferenceMaxAge    time.Duration `yaml:"-"`
	FailureThreshold   int           `yaml:"failure_threshold"`
}

// DatabaseConfig tunes the pool and reconnect policy.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBaseStr    string        `yaml:"retry_base"`
	RetryBase       time.Duration `yaml:"-"`
	RetryMaxStr     string        `yaml:"retry_max"`
	RetryMax        time.Duration `yaml:"-"`
	PingIntervalStr string        `yaml:"ping_interval"`
	PingInterval    time.Duration `yaml:"-"`
}

// IPCConfig tunes the master socket and proxy calls.
type IPCConfig struct {
	Socket         string        `yaml:"socket"`
	CallTimeoutStr string        `yaml:"call_timeout"`
	CallTimeout    time.Duration `yaml:"-"`
}

// OpsConfig tunes the operator HTTP surface.
type OpsConfig struct {
	Listen    string `yaml:"listen"`
	JWTSecret string `yaml:"jwt_secret"`
}

// DebugConfig enables fault injection. Hot-reloadable.
type DebugConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ChaosFactor float64 `yaml:"chaos_factor"`
}

// Config is the full process configuration.
type Config struct {
	Upstream UpstreamConfig `yaml:"upstream"`
	Poll     PollConfig     `yaml:"poll"`
	Database DatabaseConfig `yaml:"database"`
	IPC      IPCConfig      `yaml:"ipc"`
	Ops      OpsConfig      `yaml:"ops"`
	Metrics  struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`
	Debug DebugConfig `yaml:"debug"`
}

// Load reads the YAML file (optional) and applies env fallbacks. Durations
// are given as Go duration strings ("45s", "2m").
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if cfg.Upstream.URL == "" {
		cfg.Upstream.URL = os.Getenv("METRO_UPSTREAM_URL")
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = os.Getenv("DATABASE_URL")
	}
	if cfg.IPC.Socket == "" {
		cfg.IPC.Socket = getenvDefault("METRO_IPC_SOCKET", "/tmp/metrobot-db.sock")
	}
	if cfg.Ops.Listen == "" {
		cfg.Ops.Listen = getenvDefault("METRO_OPS_LISTEN", ":8080")
	}
	if cfg.Ops.JWTSecret == "" {
		cfg.Ops.JWTSecret = os.Getenv("METRO_JWT_SECRET")
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = getenvDefault("METRO_METRICS_LISTEN", ":9090")
	}
	if cfg.Poll.ServiceOpen == "" {
		cfg.Poll.ServiceOpen = getenvDefault("METRO_SERVICE_OPEN", "05:00")
	}
	if cfg.Poll.ServiceClose == "" {
		cfg.Poll.ServiceClose = getenvDefault("METRO_SERVICE_CLOSE", "00:30")
	}
	if cfg.Poll.FailureThreshold == 0 {
		cfg.Poll.FailureThreshold = getenvIntDefault("METRO_FAILURE_THRESHOLD", 5)
	}
	if !cfg.Debug.Enabled {
		cfg.Debug.Enabled = os.Getenv("METRO_DEBUG") == "1"
	}

	var err error
	if cfg.Upstream.RequestTimeout, err = parseDuration(cfg.Upstream.RequestTimeoutStr, 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.Poll.Interval, err = parseDuration(cfg.Poll.IntervalStr, time.Minute); err != nil {
		return cfg, err
	}
	if cfg.Poll.ReferenceMaxAge, err = parseDuration(cfg.Poll.ReferenceMaxAgeStr, time.Hour); err != nil {
		return cfg, err
	}
	if cfg.Database.RetryBase, err = parseDuration(cfg.Database.RetryBaseStr, time.Second); err != nil {
		return cfg, err
	}
	if cfg.Database.RetryMax, err = parseDuration(cfg.Database.RetryMaxStr, time.Minute); err != nil {
		return cfg, err
	}
	if cfg.Database.PingInterval, err = parseDuration(cfg.Database.PingIntervalStr, 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.IPC.CallTimeout, err = parseDuration(cfg.IPC.CallTimeoutStr, 10*time.Second); err != nil {
		return cfg, err
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Upstream.URL == "" {
		return errors.New("config: upstream url required")
	}
	if c.Database.DSN == "" {
		return errors.New("config: database dsn required")
	}
	if _, _, err := ParseClock(c.Poll.ServiceOpen); err != nil {
		return fmt.Errorf("config: service_open: %w", err)
	}
	if _, _, err := ParseClock(c.Poll.ServiceClose); err != nil {
		return fmt.Errorf("config: service_close: %w", err)
	}
	return nil
}

// ParseClock parses an "HH:MM" wall-clock value.
func ParseClock(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: bad duration %q: %w", value, err)
	}
	return d, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
