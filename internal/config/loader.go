package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "consultd.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CONSULTD_PORT")
	setString(&cfg.Server.CORSOrigin, "CONSULTD_CORS_ORIGIN")
	setFloat64(&cfg.Server.RateRPS, "CONSULTD_RATE_RPS")
	setInt(&cfg.Server.RateBurst, "CONSULTD_RATE_BURST")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CONSULTD_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CONSULTD_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CONSULTD_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CONSULTD_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CONSULTD_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.Logging.Level, "CONSULTD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CONSULTD_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CONSULTD_LOG_ASYNC")

	setInt64(&cfg.Cache.MaxSizeMB, "CONSULTD_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.DecisionTTL, "CONSULTD_CACHE_DECISION_TTL")

	setInt(&cfg.Breaker.MaxFailures, "CONSULTD_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CONSULTD_BREAKER_TIMEOUT")

	setBool(&cfg.Otel.Enabled, "CONSULTD_OTEL_ENABLED")
	setString(&cfg.Otel.Endpoint, "CONSULTD_OTEL_ENDPOINT")

	setString(&cfg.Notifiers.SlackWebhookURL, "CONSULTD_SLACK_WEBHOOK_URL")
	setString(&cfg.Notifiers.DiscordWebhookURL, "CONSULTD_DISCORD_WEBHOOK_URL")
	setString(&cfg.Notifiers.Email.Host, "CONSULTD_SMTP_HOST")
	setInt(&cfg.Notifiers.Email.Port, "CONSULTD_SMTP_PORT")
	setString(&cfg.Notifiers.Email.From, "CONSULTD_SMTP_FROM")
	setString(&cfg.Notifiers.Email.Password, "CONSULTD_SMTP_PASSWORD")
	setInt(&cfg.Notifiers.MaxConcurrent, "CONSULTD_NOTIFY_MAX_CONCURRENT")

	setBool(&cfg.Auth.Enabled, "CONSULTD_AUTH_ENABLED")
	setInt(&cfg.Auth.BcryptCost, "CONSULTD_AUTH_BCRYPT_COST")

	setDuration(&cfg.Consultation.DefaultTimeout, "CONSULTD_DEFAULT_TIMEOUT")
	setDuration(&cfg.Consultation.CriticalTimeout, "CONSULTD_CRITICAL_TIMEOUT")
	setDuration(&cfg.Consultation.EscalationTimeout, "CONSULTD_ESCALATION_TIMEOUT")
	setDuration(&cfg.Consultation.StaleSessionAge, "CONSULTD_STALE_SESSION_AGE")
	setDuration(&cfg.Consultation.CleanupInterval, "CONSULTD_CLEANUP_INTERVAL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Server.RateRPS <= 0 || cfg.Server.RateBurst < 1 {
		return errors.New("server.rate_rps and server.rate_burst must be positive")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Consultation.DefaultTimeout <= 0 {
		return errors.New("consultation.default_timeout must be positive")
	}
	if cfg.Consultation.CriticalTimeout <= 0 {
		return errors.New("consultation.critical_timeout must be positive")
	}
	for typ, d := range cfg.Consultation.TypeTimeouts {
		if d <= 0 {
			return fmt.Errorf("consultation.type_timeouts[%s] must be positive", typ)
		}
	}
	if cfg.Auth.Enabled && len(cfg.Auth.KeyHashes) == 0 {
		return errors.New("auth.key_hashes is required when auth is enabled")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
