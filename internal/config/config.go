package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Provider   ProviderConfig
	Payments   PaymentsConfig
	Resilience ResilienceConfig
	Secrets    SecretsConfig
	Logger     LoggerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int
	Host        string
	MetricsPort int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// ProviderConfig holds payment provider configuration
type ProviderConfig struct {
	BaseURL string
	// APIKey authenticates outbound provider calls. May be overridden from
	// Secrets Manager at startup.
	APIKey string
	// WebhookSecret verifies inbound webhook signatures.
	WebhookSecret string
	Timeout       time.Duration
}

// PaymentsConfig holds the business tunables of the payment lifecycle.
type PaymentsConfig struct {
	// VarianceThresholdPct is the auto-charge gate as a percentage (20 means
	// a final amount within 20% of the authorization charges immediately).
	VarianceThresholdPct int
	// GracePeriod is the payment-failure recovery window.
	GracePeriod time.Duration
	// CronSecret authenticates scheduler calls to the /cron endpoints.
	CronSecret string
	// BatchSize caps sweep and retry batch sizes.
	BatchSize int32
}

// ResilienceConfig holds the provider call-path tunables.
type ResilienceConfig struct {
	BreakerMaxFailures   int
	BreakerFailureWindow time.Duration
	BreakerCoolDown      time.Duration
	QuotaRequestsPerSec  int
	MaxAttempts          int
}

// SecretsConfig controls optional AWS Secrets Manager lookups.
type SecretsConfig struct {
	// Enabled switches secret fetching on; when off, env values are used
	// as-is.
	Enabled bool
	Region  string
	// SecretID names the JSON secret holding provider credentials.
	SecretID string
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// LoadFromEnv loads configuration from environment variables. A local .env
// file is honored when present.
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnvAsInt("SERVER_PORT", 8080),
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			MetricsPort: getEnvAsInt("METRICS_PORT", 9090),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "booking_payments"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		},
		Provider: ProviderConfig{
			BaseURL:       getEnv("PROVIDER_BASE_URL", "https://api.sandbox.payments.example.com"),
			APIKey:        getEnv("PROVIDER_API_KEY", ""),
			WebhookSecret: getEnv("PROVIDER_WEBHOOK_SECRET", ""),
			Timeout:       time.Duration(getEnvAsInt("PROVIDER_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Payments: PaymentsConfig{
			VarianceThresholdPct: getEnvAsInt("PAYMENTS_VARIANCE_THRESHOLD_PCT", 20),
			GracePeriod:          time.Duration(getEnvAsInt("PAYMENTS_GRACE_PERIOD_HOURS", 48)) * time.Hour,
			CronSecret:           getEnv("CRON_SECRET", ""),
			BatchSize:            int32(getEnvAsInt("PAYMENTS_BATCH_SIZE", 100)),
		},
		Resilience: ResilienceConfig{
			BreakerMaxFailures:   getEnvAsInt("BREAKER_MAX_FAILURES", 5),
			BreakerFailureWindow: time.Duration(getEnvAsInt("BREAKER_FAILURE_WINDOW_SECONDS", 120)) * time.Second,
			BreakerCoolDown:      time.Duration(getEnvAsInt("BREAKER_COOLDOWN_SECONDS", 60)) * time.Second,
			QuotaRequestsPerSec:  getEnvAsInt("QUOTA_REQUESTS_PER_SECOND", 100),
			MaxAttempts:          getEnvAsInt("PROVIDER_MAX_ATTEMPTS", 3),
		},
		Secrets: SecretsConfig{
			Enabled:  getEnvAsBool("SECRETS_MANAGER_ENABLED", false),
			Region:   getEnv("AWS_REGION", "us-east-1"),
			SecretID: getEnv("SECRETS_MANAGER_SECRET_ID", "booking-payments/provider"),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.Provider.APIKey == "" && !cfg.Secrets.Enabled {
		return nil, fmt.Errorf("PROVIDER_API_KEY is required when Secrets Manager is disabled")
	}
	if cfg.Provider.WebhookSecret == "" && !cfg.Secrets.Enabled {
		return nil, fmt.Errorf("PROVIDER_WEBHOOK_SECRET is required when Secrets Manager is disabled")
	}
	if cfg.Payments.CronSecret == "" {
		return nil, fmt.Errorf("CRON_SECRET is required")
	}
	if cfg.Payments.VarianceThresholdPct < 0 || cfg.Payments.VarianceThresholdPct > 100 {
		return nil, fmt.Errorf("PAYMENTS_VARIANCE_THRESHOLD_PCT must be between 0 and 100")
	}

	return cfg, nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
