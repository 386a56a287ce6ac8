package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the TARS dashboard engine.
type Config struct {
	Port      int             `yaml:"port"`
	Version   string          `yaml:"version"`
	LogLevel  string          `yaml:"log_level"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Status    StatusConfig    `yaml:"status"`
	Polling   PollingConfig   `yaml:"polling"`
	Sessions  SessionConfig   `yaml:"sessions"`
	Chat      ChatConfig      `yaml:"chat"`
	CORS      CORSConfig      `yaml:"cors"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type DashboardConfig struct {
	// Password is the shared secret that unlocks the dashboard.
	Password  string    `yaml:"password"`
	StartDate time.Time `yaml:"start_date"`
}

type StatusConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	// WatchPath is the collector's local output file. When set, writes to it
	// trigger an immediate refresh of every visible session.
	WatchPath string        `yaml:"watch_path"`
	Debounce  time.Duration `yaml:"debounce"`
}

type PollingConfig struct {
	RefreshInterval   time.Duration `yaml:"refresh_interval"`
	JitterInterval    time.Duration `yaml:"jitter_interval"`
	JitterProbability float64       `yaml:"jitter_probability"`
	ClockInterval     time.Duration `yaml:"clock_interval"`
	RefreshCooldown   time.Duration `yaml:"refresh_cooldown"`
}

type SessionConfig struct {
	// DBPath selects SQLite-backed session storage. Empty keeps sessions in memory.
	DBPath        string        `yaml:"db_path"`
	Expiry        time.Duration `yaml:"expiry"`
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	CookieName    string        `yaml:"cookie_name"`
	CookieSecure  bool          `yaml:"cookie_secure"`
}

type ChatConfig struct {
	TelegramBot string `yaml:"telegram_bot"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Port:     8080,
		Version:  "2.1.0",
		LogLevel: "info",
		Dashboard: DashboardConfig{
			Password:  "harsha_tars",
			StartDate: time.Date(2026, time.January, 26, 0, 0, 0, 0, time.UTC),
		},
		Status: StatusConfig{
			Endpoint: "http://localhost:8000/api/status.json",
			Timeout:  15 * time.Second,
			Debounce: 200 * time.Millisecond,
		},
		Polling: PollingConfig{
			RefreshInterval:   30 * time.Second,
			JitterInterval:    15 * time.Second,
			JitterProbability: 0.4,
			ClockInterval:     time.Minute,
			RefreshCooldown:   500 * time.Millisecond,
		},
		Sessions: SessionConfig{
			Expiry:        24 * time.Hour,
			IdleTTL:       30 * time.Minute,
			SweepInterval: time.Minute,
			CookieName:    "tars_sid",
		},
		Chat: ChatConfig{
			TelegramBot: "tars_assistant_bot",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "tars-dashboard",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// TARS_CONFIG (if any), then environment variables.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv("TARS_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envInt("TARS_PORT", c.Port)
	c.Version = envStr("TARS_VERSION", c.Version)
	c.LogLevel = envStr("TARS_LOG_LEVEL", c.LogLevel)

	c.Dashboard.Password = envStr("TARS_PASSWORD", c.Dashboard.Password)
	c.Dashboard.StartDate = envDate("TARS_START_DATE", c.Dashboard.StartDate)

	c.Status.Endpoint = envStr("TARS_STATUS_ENDPOINT", c.Status.Endpoint)
	c.Status.Timeout = envDuration("TARS_STATUS_TIMEOUT", c.Status.Timeout)
	c.Status.WatchPath = envStr("TARS_STATUS_WATCH_PATH", c.Status.WatchPath)

	c.Polling.RefreshInterval = envDuration("TARS_REFRESH_INTERVAL", c.Polling.RefreshInterval)
	c.Polling.JitterInterval = envDuration("TARS_JITTER_INTERVAL", c.Polling.JitterInterval)
	c.Polling.JitterProbability = envFloat("TARS_JITTER_PROBABILITY", c.Polling.JitterProbability)

	c.Sessions.DBPath = envStr("TARS_SESSION_DB", c.Sessions.DBPath)
	c.Sessions.IdleTTL = envDuration("TARS_SESSION_IDLE_TTL", c.Sessions.IdleTTL)
	c.Sessions.CookieSecure = envBool("TARS_COOKIE_SECURE", c.Sessions.CookieSecure)

	c.Chat.TelegramBot = envStr("TARS_TELEGRAM_BOT", c.Chat.TelegramBot)
	if v := os.Getenv("TARS_CORS_ORIGINS"); v != "" {
		c.CORS.AllowedOrigins = splitList(v)
	}

	c.Telemetry.Enabled = envBool("OTEL_ENABLED", c.Telemetry.Enabled)
	c.Telemetry.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = envStr("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Dashboard.Password == "" {
		return fmt.Errorf("config: dashboard password must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if p := c.Polling.JitterProbability; p < 0 || p > 1 {
		return fmt.Errorf("config: jitter probability %v outside [0, 1]", p)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func envDate(key string, fallback time.Time) time.Time {
	if v := os.Getenv(key); v != "" {
		if t, err := time.Parse(time.DateOnly, v); err == nil {
			return t
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
