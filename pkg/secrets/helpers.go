package secrets

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"
)

// LoadString loads a secret as a string with optional fallback
func LoadString(ctx context.Context, m Manager, key, fallback string) string {
	value, err := m.GetSecret(ctx, key)
	if err != nil || value == "" {
		return fallback
	}
	return value
}

// LoadStringRequired loads a required secret (fails if not found)
func LoadStringRequired(ctx context.Context, m Manager, key string) (string, error) {
	value, err := m.GetSecret(ctx, key)
	if err != nil {
		return "", fmt.Errorf("required secret %s not found: %w", key, err)
	}
	if value == "" {
		return "", fmt.Errorf("required secret %s is empty", key)
	}
	return value, nil
}

// ServiceSecrets holds the credentials the service needs at startup.
type ServiceSecrets struct {
	DatabaseURL    string
	OpsToken       string
	WebhookSecret  string
	SendGridAPIKey string
	SentryDSN      string
	AMQPURL        string
	RedisURL       string
}

// LoadServiceSecrets resolves every service secret, keeping the value in
// defaults for any key the backend does not have.
func LoadServiceSecrets(ctx context.Context, m Manager, defaults ServiceSecrets) ServiceSecrets {
	return ServiceSecrets{
		DatabaseURL:    LoadString(ctx, m, "DATABASE_URL", defaults.DatabaseURL),
		OpsToken:       LoadString(ctx, m, "OPS_TOKEN", defaults.OpsToken),
		WebhookSecret:  LoadString(ctx, m, "WEBHOOK_SECRET", defaults.WebhookSecret),
		SendGridAPIKey: LoadString(ctx, m, "SENDGRID_API_KEY", defaults.SendGridAPIKey),
		SentryDSN:      LoadString(ctx, m, "SENTRY_DSN", defaults.SentryDSN),
		AMQPURL:        LoadString(ctx, m, "AMQP_URL", defaults.AMQPURL),
		RedisURL:       LoadString(ctx, m, "REDIS_URL", defaults.RedisURL),
	}
}

// AutoDetectBackend determines the secrets backend from environment
func AutoDetectBackend() string {
	// Check if AWS Secrets Manager is enabled
	if getEnvBool("AWS_SECRETS_MANAGER_ENABLED") {
		return "aws-secrets-manager"
	}

	// Check if running in AWS (has AWS-specific env vars)
	if os.Getenv("AWS_REGION") != "" && os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "aws-secrets-manager"
	}

	return "env"
}

// AutoDetectConfig creates a config with auto-detected backend
func AutoDetectConfig() Config {
	cfg := DefaultConfig()
	cfg.Backend = AutoDetectBackend()
	cfg.Prefix = os.Getenv("AWS_SECRETS_PREFIX")
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}
	if d, err := time.ParseDuration(os.Getenv("SECRETS_CACHE_DURATION")); err == nil && d > 0 {
		cfg.CacheDuration = d
	}
	return cfg
}

func getEnvBool(key string) bool {
	value := os.Getenv(key)
	if value == "" {
		return false
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false
	}
	return parsed
}
