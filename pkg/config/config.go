// Package config loads hacpd settings from an optional YAML file and the
// environment. Environment variables win over the file, the file wins over
// the defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audit     AuditConfig     `yaml:"audit"`
	Redis     RedisConfig     `yaml:"redis"`
	Events    EventsConfig    `yaml:"events"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	LogLevel  string          `yaml:"log_level"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// DefaultPlan is used for webhook deliveries that carry no plan.
	DefaultPlan string `yaml:"default_plan"`
	// PlanHeader names a header set by a trusted proxy. When set, rate
	// limits use the plan from that header instead of the request body.
	PlanHeader string `yaml:"plan_header"`
}

type AuditConfig struct {
	// Driver is "postgres" or "sqlite". Empty DSN disables the audit log.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	DedupTTL time.Duration `yaml:"dedup_ttl"`
}

type EventsConfig struct {
	// Transport is "nats", "kafka" or "none".
	Transport        string   `yaml:"transport"`
	NATSURL          string   `yaml:"nats_url"`
	KafkaBrokers     []string `yaml:"kafka_brokers"`
	ActionsTopic     string   `yaml:"actions_topic"`
	EscalationsTopic string   `yaml:"escalations_topic"`
}

type DispatchConfig struct {
	CRMHookURL       string        `yaml:"crm_hook_url"`
	AIRelayURL       string        `yaml:"ai_relay_url"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxAttempts      int           `yaml:"max_attempts"`
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// RateLimitConfig holds per-minute analyze limits keyed by tier level
// ("T1".."T4"). A zero limit disables limiting for that tier.
type RateLimitConfig struct {
	Window time.Duration  `yaml:"window"`
	Limits map[string]int `yaml:"limits"`
}

type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	PrometheusURL string `yaml:"prometheus_url"`
	ServiceName   string `yaml:"service_name"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
			DefaultPlan:     "free",
		},
		Audit: AuditConfig{Driver: "postgres"},
		Redis: RedisConfig{DedupTTL: 24 * time.Hour},
		Events: EventsConfig{
			Transport:        "none",
			NATSURL:          "nats://localhost:4222",
			KafkaBrokers:     []string{"localhost:9092"},
			ActionsTopic:     "hacp.actions",
			EscalationsTopic: "hacp.escalations",
		},
		Dispatch: DispatchConfig{
			Timeout:          10 * time.Second,
			MaxAttempts:      3,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Window: time.Minute,
			Limits: map[string]int{"T1": 30, "T2": 120, "T3": 600, "T4": 0},
		},
		Telemetry: TelemetryConfig{
			PrometheusURL: "http://prometheus:9090",
			ServiceName:   "hacpd",
		},
		LogLevel: "info",
	}
}

// Load reads the file named by HACP_CONFIG (default config.yaml) when it
// exists, then applies environment overrides and validates the result.
func Load() (*Config, error) {
	path := os.Getenv("HACP_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Audit.DSN = v
	}
	if v := os.Getenv("AUDIT_DRIVER"); v != "" {
		c.Audit.Driver = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("EVENTS_TRANSPORT"); v != "" {
		c.Events.Transport = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Events.KafkaBrokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CRM_HOOK_URL"); v != "" {
		c.Dispatch.CRMHookURL = v
	}
	if v := os.Getenv("AI_RELAY_URL"); v != "" {
		c.Dispatch.AIRelayURL = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("PROMETHEUS_URL"); v != "" {
		c.Telemetry.PrometheusURL = v
	}
	if v := os.Getenv("PLAN_HEADER"); v != "" {
		c.Server.PlanHeader = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Audit.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("audit.driver %q: want postgres or sqlite", c.Audit.Driver))
	}
	switch c.Events.Transport {
	case "nats", "kafka", "none":
	default:
		errs = append(errs, fmt.Errorf("events.transport %q: want nats, kafka or none", c.Events.Transport))
	}
	if c.Dispatch.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("dispatch.max_attempts must be at least 1"))
	}
	for level, limit := range c.RateLimit.Limits {
		if limit < 0 {
			errs = append(errs, fmt.Errorf("rate_limit.limits.%s is negative", level))
		}
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.window must be positive"))
	}
	return errors.Join(errs...)
}

// Level parses LogLevel for slog, defaulting to info.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
