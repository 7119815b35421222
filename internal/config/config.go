package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port                       string   `env:"RELEASEPULSE_PORT" envDefault:"8080"`
	DatabaseURL                string   `env:"DATABASE_URL"`
	PostgresHost               string   `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort               string   `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser               string   `env:"POSTGRES_USER" envDefault:"releasepulse"`
	PostgresPassword           string   `env:"POSTGRES_PASSWORD" envDefault:"releasepulse"`
	PostgresDB                 string   `env:"POSTGRES_DB" envDefault:"releasepulse"`
	RedisHost                  string   `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort                  string   `env:"REDIS_PORT" envDefault:"6379"`
	ReplayQueueName            string   `env:"REPLAY_QUEUE_NAME" envDefault:"replay-jobs"`
	AlertQueueName             string   `env:"ALERT_QUEUE_NAME" envDefault:"health-alerts"`
	CacheTTLSeconds            int      `env:"CACHE_TTL_SECONDS" envDefault:"60"`
	CORSAllowedOrigins         []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	IngestAPIKey               string   `env:"INGEST_API_KEY"`
	InternalAPIKey             string   `env:"INTERNAL_API_KEY"`
	RecordingTokenSecret       string   `env:"RECORDING_TOKEN_SECRET"`
	RecordingTokenTTLSeconds   int      `env:"RECORDING_TOKEN_TTL_SECONDS" envDefault:"300"`
	RateLimitRequestsPerSec    float64  `env:"RATE_LIMIT_REQUESTS_PER_SEC" envDefault:"25"`
	RateLimitBurst             int      `env:"RATE_LIMIT_BURST" envDefault:"50"`
	AutoCleanupIntervalMinutes int      `env:"AUTO_CLEANUP_INTERVAL_MINUTES" envDefault:"0"`
	HealthCheckIntervalMinutes int      `env:"HEALTH_CHECK_INTERVAL_MINUTES" envDefault:"0"`
	RetentionDays              int      `env:"RETENTION_DAYS" envDefault:"90"`
	AlertWebhookURL            string   `env:"ALERT_WEBHOOK_URL"`
	AlertWebhookAuthHeader     string   `env:"ALERT_WEBHOOK_AUTH_HEADER"`
	ThresholdsFile             string   `env:"THRESHOLDS_FILE"`
	S3Region                   string   `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint                 string   `env:"S3_ENDPOINT"`
	S3AccessKey                string   `env:"S3_ACCESS_KEY"`
	S3SecretKey                string   `env:"S3_SECRET_KEY"`
	S3Bucket                   string   `env:"S3_BUCKET"`
	OTelEndpoint               string   `env:"RELEASEPULSE_OTEL_ENDPOINT"`
}

func Load() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.CORSAllowedOrigins = normalizeOrigins(cfg.CORSAllowedOrigins)
	if strings.TrimSpace(cfg.RecordingTokenSecret) == "" {
		cfg.RecordingTokenSecret = strings.TrimSpace(cfg.InternalAPIKey)
	}
	return cfg, nil
}

func (c Config) ListenAddr() string {
	return ":" + c.Port
}

func (c Config) PostgresURL() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.PostgresUser,
		c.PostgresPassword,
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDB,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func normalizeOrigins(values []string) []string {
	result := make([]string, 0, len(values))
	for _, item := range values {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}

	if len(result) == 0 {
		return []string{"*"}
	}
	return result
}
