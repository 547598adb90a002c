package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/AgentOS/navigator/internal/navigation"
)

// Engine kinds.
const (
	EngineFetch  = "fetch"
	EngineChrome = "chrome"
)

// ErrUnsupportedFormat is returned by LoadFile for unknown file extensions.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Logging    LogConfig        `yaml:"logging" toml:"logging"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" toml:"rate_limit"`
	Navigation NavigationConfig `yaml:"navigation" toml:"navigation"`
	Engine     EngineConfig     `yaml:"engine" toml:"engine"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000" yaml:"port" toml:"port"`
	Host string `envconfig:"HOST" default:"0.0.0.0" yaml:"host" toml:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"rps" toml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled" toml:"enabled"`
}

// NavigationConfig tunes the timeout ladder. Durations are in milliseconds.
type NavigationConfig struct {
	DefaultTimeoutMS    int `envconfig:"NAV_DEFAULT_TIMEOUT_MS" default:"30000" yaml:"default_timeout_ms" toml:"default_timeout_ms"`
	SoftMultiplier      int `envconfig:"NAV_SOFT_MULTIPLIER" default:"1" yaml:"soft_multiplier" toml:"soft_multiplier"`
	HardMultiplier      int `envconfig:"NAV_HARD_MULTIPLIER" default:"2" yaml:"hard_multiplier" toml:"hard_multiplier"`
	HeartbeatIntervalMS int `envconfig:"NAV_HEARTBEAT_INTERVAL_MS" default:"5000" yaml:"heartbeat_interval_ms" toml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMS  int `envconfig:"NAV_HEARTBEAT_TIMEOUT_MS" default:"10000" yaml:"heartbeat_timeout_ms" toml:"heartbeat_timeout_ms"`
	GracePeriodMS       int `envconfig:"NAV_GRACE_PERIOD_MS" default:"5000" yaml:"grace_period_ms" toml:"grace_period_ms"`
	MitigationTimeoutMS int `envconfig:"NAV_MITIGATION_TIMEOUT_MS" default:"2000" yaml:"mitigation_timeout_ms" toml:"mitigation_timeout_ms"`
	MaxRetries          int `envconfig:"NAV_MAX_RETRIES" default:"2" yaml:"max_retries" toml:"max_retries"`
}

// EngineConfig selects and tunes the page engine.
type EngineConfig struct {
	Kind             string `envconfig:"ENGINE_KIND" default:"fetch" yaml:"kind" toml:"kind"`
	UserAgent        string `envconfig:"ENGINE_USER_AGENT" default:"AgentOS-Navigator/1.0" yaml:"user_agent" toml:"user_agent"`
	RequestTimeoutMS int    `envconfig:"ENGINE_REQUEST_TIMEOUT_MS" default:"20000" yaml:"request_timeout_ms" toml:"request_timeout_ms"`
	SandboxPool      int    `envconfig:"ENGINE_SANDBOX_POOL" default:"4" yaml:"sandbox_pool" toml:"sandbox_pool"`
	ScriptTimeoutMS  int    `envconfig:"ENGINE_SCRIPT_TIMEOUT_MS" default:"5000" yaml:"script_timeout_ms" toml:"script_timeout_ms"`
	RequestsPerHost  int    `envconfig:"ENGINE_REQUESTS_PER_HOST" default:"10" yaml:"requests_per_host" toml:"requests_per_host"`
	ChromeBin        string `envconfig:"CHROME_BIN" yaml:"chrome_bin" toml:"chrome_bin"`
	ChromeDebugURL   string `envconfig:"CHROME_DEBUGGER_URL" yaml:"chrome_debugger_url" toml:"chrome_debugger_url"`
	ChromeHeadless   bool   `envconfig:"CHROME_HEADLESS" default:"true" yaml:"chrome_headless" toml:"chrome_headless"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile loads the environment configuration and overlays the YAML or TOML
// file at path. Keys missing from the file keep their environment value.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Navigation: NavigationConfig{
			DefaultTimeoutMS:    30000,
			SoftMultiplier:      1,
			HardMultiplier:      2,
			HeartbeatIntervalMS: 5000,
			HeartbeatTimeoutMS:  10000,
			GracePeriodMS:       5000,
			MitigationTimeoutMS: 2000,
			MaxRetries:          2,
		},
		Engine: EngineConfig{
			Kind:             EngineFetch,
			UserAgent:        "AgentOS-Navigator/1.0",
			RequestTimeoutMS: 20000,
			SandboxPool:      4,
			ScriptTimeoutMS:  5000,
			RequestsPerHost:  10,
			ChromeHeadless:   true,
		},
	}
}

// Validate rejects settings the navigator cannot run with.
func (c *Config) Validate() error {
	n := c.Navigation
	if n.DefaultTimeoutMS <= 0 || n.HeartbeatIntervalMS <= 0 || n.HeartbeatTimeoutMS <= 0 {
		return fmt.Errorf("invalid config: navigation timeouts must be positive")
	}
	if n.SoftMultiplier <= 0 || n.HardMultiplier < n.SoftMultiplier {
		return fmt.Errorf("invalid config: hard multiplier %d must be >= soft multiplier %d", n.HardMultiplier, n.SoftMultiplier)
	}
	if n.MaxRetries < 0 {
		return fmt.Errorf("invalid config: max retries %d is negative", n.MaxRetries)
	}
	switch c.Engine.Kind {
	case EngineFetch, EngineChrome:
	default:
		return fmt.Errorf("invalid config: unknown engine kind %q", c.Engine.Kind)
	}
	return nil
}

// NavigationOptions converts the navigation section into controller options.
func (c *Config) NavigationOptions() navigation.Options {
	n := c.Navigation
	opts := navigation.DefaultOptions()
	opts.DefaultTimeout = millis(n.DefaultTimeoutMS)
	opts.SoftMultiplier = n.SoftMultiplier
	opts.HardMultiplier = n.HardMultiplier
	opts.HeartbeatInterval = millis(n.HeartbeatIntervalMS)
	opts.HeartbeatTimeout = millis(n.HeartbeatTimeoutMS)
	opts.GracePeriod = millis(n.GracePeriodMS)
	opts.MitigationTimeout = millis(n.MitigationTimeoutMS)
	opts.MaxRetries = n.MaxRetries
	return opts
}

// RequestTimeout returns the engine request timeout.
func (e EngineConfig) RequestTimeout() time.Duration { return millis(e.RequestTimeoutMS) }

// ScriptTimeout returns the engine script timeout.
func (e EngineConfig) ScriptTimeout() time.Duration { return millis(e.ScriptTimeoutMS) }

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
