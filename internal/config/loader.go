package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Load loads configuration with priority order:
// 1. Environment variables
// 2. Configuration file (config.yaml)
// 3. Default values
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/siteguard/")
	v.AddConfigPath("./configs/")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("SITEGUARD")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars and defaults
	}

	overrideWithEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")

	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.name", "siteguard")

	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 300)

	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base_ms", 2000)
	v.SetDefault("queue.keep_completed", 200)
	v.SetDefault("queue.keep_failed", 500)
	v.SetDefault("queue.retention_age_sec", 86400)
	v.SetDefault("queue.adhoc_dedup_ttl_sec", 30)

	v.SetDefault("worker.concurrency", 8)
	v.SetDefault("worker.rate_limit", 120)
	v.SetDefault("worker.rate_window_sec", 60)
	v.SetDefault("worker.probe_timeout_ms", 15000)

	v.SetDefault("alerting.cooldown_ttl_sec", 900)
	v.SetDefault("alerting.dispatch_timeout_ms", 10000)

	v.SetDefault("escalation.level_timeout_min", 30)
	v.SetDefault("escalation.public_base_url", "http://localhost:8080")

	v.SetDefault("sweeper.escalation_schedule", "*/5 * * * *")
	v.SetDefault("sweeper.plan_expiry_schedule", "0 * * * *")

	v.SetDefault("channels.slack.enabled", false)
	v.SetDefault("channels.teams.enabled", false)
	v.SetDefault("channels.webhook.enabled", false)

	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")
}

// overrideWithEnvVars handles the short-form environment variables used by
// container deployments.
func overrideWithEnvVars(v *viper.Viper) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("port", p)
		}
	}

	if env := os.Getenv("ENVIRONMENT"); env != "" {
		v.Set("environment", env)
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		v.Set("log_level", logLevel)
	}

	if addr := os.Getenv("CACHE_ADDR"); addr != "" {
		v.Set("cache.addr", addr)
	}

	if ttl := os.Getenv("CACHE_TTL"); ttl != "" {
		if t, err := strconv.Atoi(ttl); err == nil {
			v.Set("cache.ttl", t)
		}
	}

	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		v.Set("database.host", dbHost)
	}

	if dbPass := os.Getenv("DB_PASSWORD"); dbPass != "" {
		v.Set("database.password", dbPass)
	}

	if secret := os.Getenv("ESCALATION_SIGNING_SECRET"); secret != "" {
		v.Set("escalation.signing_secret", secret)
	}

	if slackWebhook := os.Getenv("SLACK_WEBHOOK_URL"); slackWebhook != "" {
		v.Set("channels.slack.webhook_url", slackWebhook)
		v.Set("channels.slack.enabled", true)
	}

	if teamsWebhook := os.Getenv("TEAMS_WEBHOOK_URL"); teamsWebhook != "" {
		v.Set("channels.teams.webhook_url", teamsWebhook)
		v.Set("channels.teams.enabled", true)
	}
}

func validateConfig(config *Config) error {
	if config.Cache.Addr == "" {
		return fmt.Errorf("a cache node address is required")
	}

	if config.Port < 1 || config.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", config.Port)
	}

	validLogLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLogLevels, config.LogLevel) {
		return fmt.Errorf("invalid log level: %s", config.LogLevel)
	}

	validEnvironments := []string{"development", "staging", "production", "test"}
	if !contains(validEnvironments, config.Environment) {
		return fmt.Errorf("invalid environment: %s", config.Environment)
	}

	if config.Cache.TTL < 1 {
		return fmt.Errorf("cache TTL must be at least 1 second")
	}

	if config.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1")
	}

	if config.Worker.RateLimit < 1 || config.Worker.RateWindowSec < 1 {
		return fmt.Errorf("worker rate limit and window must be positive")
	}

	if config.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue max attempts must be at least 1")
	}

	if config.Alerting.CooldownTTLSec < 1 {
		return fmt.Errorf("alert cooldown TTL must be at least 1 second")
	}

	if config.Escalation.LevelTimeoutMin < 1 {
		return fmt.Errorf("escalation level timeout must be at least 1 minute")
	}

	if config.Environment == "production" && config.Escalation.SigningSecret == "" {
		return fmt.Errorf("escalation signing secret is required in production")
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
