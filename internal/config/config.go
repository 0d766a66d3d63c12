package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string        `yaml:"listen_addr"`
	DB         DBConfig      `yaml:"db"`
	Redis      RedisConfig   `yaml:"redis"`
	Session    SessionConfig `yaml:"session"`
	RosterPath string        `yaml:"roster_path"`
	Notify     NotifyConfig  `yaml:"notify"`
	Auth       AuthConfig    `yaml:"auth"`
	RateLimit  RateLimit     `yaml:"rate_limit"`
	LogLevel   string        `yaml:"log_level"`
}

type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig enables the shared session store and the cross-instance
// identity lock when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SessionConfig struct {
	TTLMinutes int `yaml:"ttl_minutes"`
}

type NotifyConfig struct {
	WebhookURL          string `yaml:"webhook_url"`
	WebhookToken        string `yaml:"webhook_token"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
}

type AuthConfig struct {
	DevToken string            `yaml:"dev_token"`
	Tokens   map[string]string `yaml:"tokens"`
}

// RateLimit applies to POST /v1/messages. Zero disables it.
type RateLimit struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

func Load(path string) (Config, error) {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}

	switch c.DB.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("db.driver must be sqlite or postgres, got %q", c.DB.Driver)
	}
	if c.DB.Driver != "" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.driver is set")
	}

	if c.Session.TTLMinutes < 0 {
		return fmt.Errorf("session.ttl_minutes must not be negative")
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	if c.RateLimit.PerSecond > 0 && c.RateLimit.Burst == 0 {
		return fmt.Errorf("rate_limit.burst is required when rate_limit.per_second is set")
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}

	return nil
}

// SessionTTL returns the configured session TTL, or zero for the default.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}

func (c Config) NotifyPollInterval() time.Duration {
	return time.Duration(c.Notify.PollIntervalSeconds) * time.Second
}
