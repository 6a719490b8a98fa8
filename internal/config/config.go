package config

import "time"

type Config struct {
	Environment string `mapstructure:"environment" yaml:"environment"`
	Port        int    `mapstructure:"port" yaml:"port"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`

	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	Queue      QueueConfig      `mapstructure:"queue" yaml:"queue"`
	Worker     WorkerConfig     `mapstructure:"worker" yaml:"worker"`
	Alerting   AlertingConfig   `mapstructure:"alerting" yaml:"alerting"`
	Escalation EscalationConfig `mapstructure:"escalation" yaml:"escalation"`
	Sweeper    SweeperConfig    `mapstructure:"sweeper" yaml:"sweeper"`
	Channels   ChannelsConfig   `mapstructure:"channels" yaml:"channels"`
	Monitoring MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring"`
}

// DatabaseConfig is the MySQL-compatible durable store.
type DatabaseConfig struct {
	Host     string            `mapstructure:"host" yaml:"host"`
	Port     int               `mapstructure:"port" yaml:"port"`
	User     string            `mapstructure:"user" yaml:"user"`
	Password string            `mapstructure:"password" yaml:"password"`
	Name     string            `mapstructure:"name" yaml:"name"`
	TLS      bool              `mapstructure:"tls" yaml:"tls"`
	Params   map[string]string `mapstructure:"params" yaml:"params"`
}

// CacheConfig is the Redis/Valkey node holding cooldown keys and the queue.
type CacheConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	TTL      int    `mapstructure:"ttl" yaml:"ttl"` // seconds
}

type QueueConfig struct {
	MaxAttempts       int `mapstructure:"max_attempts" yaml:"max_attempts"`
	BackoffBaseMs     int `mapstructure:"backoff_base_ms" yaml:"backoff_base_ms"`
	KeepCompleted     int `mapstructure:"keep_completed" yaml:"keep_completed"`
	KeepFailed        int `mapstructure:"keep_failed" yaml:"keep_failed"`
	RetentionAgeSec   int `mapstructure:"retention_age_sec" yaml:"retention_age_sec"`
	AdHocDedupTTLSec  int `mapstructure:"adhoc_dedup_ttl_sec" yaml:"adhoc_dedup_ttl_sec"`
}

type WorkerConfig struct {
	Concurrency    int `mapstructure:"concurrency" yaml:"concurrency"`
	RateLimit      int `mapstructure:"rate_limit" yaml:"rate_limit"`             // executions per window
	RateWindowSec  int `mapstructure:"rate_window_sec" yaml:"rate_window_sec"`   // rolling window
	ProbeTimeoutMs int `mapstructure:"probe_timeout_ms" yaml:"probe_timeout_ms"` // per outbound probe
}

type AlertingConfig struct {
	CooldownTTLSec    int `mapstructure:"cooldown_ttl_sec" yaml:"cooldown_ttl_sec"`
	DispatchTimeoutMs int `mapstructure:"dispatch_timeout_ms" yaml:"dispatch_timeout_ms"`
}

type EscalationConfig struct {
	SigningSecret    string `mapstructure:"signing_secret" yaml:"signing_secret"`
	LevelTimeoutMin  int    `mapstructure:"level_timeout_min" yaml:"level_timeout_min"`
	PublicBaseURL    string `mapstructure:"public_base_url" yaml:"public_base_url"`
}

type SweeperConfig struct {
	EscalationSchedule string `mapstructure:"escalation_schedule" yaml:"escalation_schedule"`
	PlanExpirySchedule string `mapstructure:"plan_expiry_schedule" yaml:"plan_expiry_schedule"`
}

// ChannelsConfig holds the built-in notification channel endpoints. Per-org
// channels from the store take precedence; these act as global fallbacks.
type ChannelsConfig struct {
	Slack   WebhookChannelConfig `mapstructure:"slack" yaml:"slack"`
	Teams   WebhookChannelConfig `mapstructure:"teams" yaml:"teams"`
	Webhook WebhookChannelConfig `mapstructure:"webhook" yaml:"webhook"`
}

type WebhookChannelConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
}

type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	MetricsPath string `mapstructure:"metrics_path" yaml:"metrics_path"`
}

func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

func (c AlertingConfig) CooldownTTL() time.Duration {
	return time.Duration(c.CooldownTTLSec) * time.Second
}

func (c EscalationConfig) LevelTimeout() time.Duration {
	return time.Duration(c.LevelTimeoutMin) * time.Minute
}

func (c WorkerConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}

func (c WorkerConfig) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSec) * time.Second
}

func (c QueueConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

func (c QueueConfig) RetentionAge() time.Duration {
	return time.Duration(c.RetentionAgeSec) * time.Second
}

func (c QueueConfig) AdHocDedupTTL() time.Duration {
	return time.Duration(c.AdHocDedupTTLSec) * time.Second
}

func (c AlertingConfig) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutMs) * time.Millisecond
}
