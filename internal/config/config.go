// Package config loads librarylink settings: defaults, then an optional YAML
// file, then LIBRARYLINK_* environment variables. Command-line flags are
// applied on top by the commands.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL = "http://193.136.62.24"
	envPrefix      = "LIBRARYLINK_"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	BaseURL        string          `yaml:"base_url"`
	Timeout        time.Duration   `yaml:"timeout"`
	DedupeInflight bool            `yaml:"dedupe_inflight"`
	Log            LogConfig       `yaml:"log"`
	Telemetry      TelemetryConfig `yaml:"telemetry"`
	Sandbox        SandboxConfig   `yaml:"sandbox"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TelemetryConfig struct {
	// Endpoint is the OTLP/HTTP collector URL. Empty disables export.
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

type SandboxConfig struct {
	Addr string `yaml:"addr"`
	// DatabaseURL selects the Postgres store. Empty keeps state in memory.
	DatabaseURL     string        `yaml:"database_url"`
	LoanPeriod      time.Duration `yaml:"loan_period"`
	ExtensionPeriod time.Duration `yaml:"extension_period"`
	// WritesPerMinute limits mutating requests; zero means unlimited.
	WritesPerMinute int `yaml:"writes_per_minute"`
	// CoverUpstream is a library service to fetch cover images from.
	CoverUpstream string      `yaml:"cover_upstream"`
	Faults        FaultConfig `yaml:"faults"`
}

// FaultConfig makes the sandbox misbehave on a share of requests. Rates run
// from 0 (never) to 1 (always).
type FaultConfig struct {
	Latency       time.Duration `yaml:"latency"`
	LatencyRate   float64       `yaml:"latency_rate"`
	FailureRate   float64       `yaml:"failure_rate"`
	FailureStatus int           `yaml:"failure_status"`
}

func Default() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 30 * time.Second,
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "librarylink",
		},
		Sandbox: SandboxConfig{
			Addr:            ":8080",
			LoanPeriod:      14 * 24 * time.Hour,
			ExtensionPeriod: 7 * 24 * time.Hour,
		},
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	c.BaseURL = getEnv("BASE_URL", c.BaseURL)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Telemetry.Endpoint = getEnv("TELEMETRY_ENDPOINT", c.Telemetry.Endpoint)
	c.Telemetry.ServiceName = getEnv("TELEMETRY_SERVICE_NAME", c.Telemetry.ServiceName)
	c.Sandbox.Addr = getEnv("SANDBOX_ADDR", c.Sandbox.Addr)
	c.Sandbox.DatabaseURL = getEnv("SANDBOX_DATABASE_URL", c.Sandbox.DatabaseURL)
	c.Sandbox.CoverUpstream = getEnv("SANDBOX_COVER_UPSTREAM", c.Sandbox.CoverUpstream)

	var err error
	if c.Timeout, err = durationEnv("TIMEOUT", c.Timeout); err != nil {
		return err
	}
	if c.Sandbox.LoanPeriod, err = durationEnv("SANDBOX_LOAN_PERIOD", c.Sandbox.LoanPeriod); err != nil {
		return err
	}
	if c.Sandbox.ExtensionPeriod, err = durationEnv("SANDBOX_EXTENSION_PERIOD", c.Sandbox.ExtensionPeriod); err != nil {
		return err
	}
	if v := getEnv("DEDUPE_INFLIGHT", ""); v != "" {
		if c.DedupeInflight, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("%w: %sDEDUPE_INFLIGHT: %v", ErrInvalidConfig, envPrefix, err)
		}
	}
	if v := getEnv("SANDBOX_WRITES_PER_MINUTE", ""); v != "" {
		if c.Sandbox.WritesPerMinute, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("%w: %sSANDBOX_WRITES_PER_MINUTE: %v", ErrInvalidConfig, envPrefix, err)
		}
	}
	return nil
}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: base_url %q must be an http(s) URL", ErrInvalidConfig, c.BaseURL)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidConfig)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log.level %q", ErrInvalidConfig, c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalidConfig, c.Log.Format)
	}
	if c.Sandbox.WritesPerMinute < 0 {
		return fmt.Errorf("%w: sandbox.writes_per_minute must not be negative", ErrInvalidConfig)
	}
	if c.Sandbox.CoverUpstream != "" {
		if u, err := url.Parse(c.Sandbox.CoverUpstream); err != nil || u.Host == "" {
			return fmt.Errorf("%w: sandbox.cover_upstream %q must be a URL", ErrInvalidConfig, c.Sandbox.CoverUpstream)
		}
	}
	f := c.Sandbox.Faults
	if f.LatencyRate < 0 || f.LatencyRate > 1 || f.FailureRate < 0 || f.FailureRate > 1 {
		return fmt.Errorf("%w: sandbox fault rates must be between 0 and 1", ErrInvalidConfig)
	}
	if f.FailureStatus != 0 && (f.FailureStatus < 400 || f.FailureStatus > 599) {
		return fmt.Errorf("%w: sandbox.faults.failure_status %d is not an error status", ErrInvalidConfig, f.FailureStatus)
	}
	if c.Sandbox.LoanPeriod <= 0 || c.Sandbox.ExtensionPeriod <= 0 {
		return fmt.Errorf("%w: sandbox loan and extension periods must be positive", ErrInvalidConfig)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(envPrefix + key); exists {
		return value
	}
	return defaultValue
}

func durationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, envPrefix, key, err)
	}
	return d, nil
}
