package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"

	"github.com/jordanlanch/leadguard/pkg/logger"
)

// Manager defines the interface for secrets management
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// RefreshCache forces a refresh of the cache
	RefreshCache(ctx context.Context) error
}

// ErrNotFound is returned when a secret does not exist in the backend.
var ErrNotFound = errors.New("secret not found")

// Config holds secrets manager configuration
type Config struct {
	Backend       string        // "env" or "aws-secrets-manager"
	AWSRegion     string        // AWS region for Secrets Manager
	Prefix        string        // prepended to every key looked up in AWS
	CacheDuration time.Duration // How long to cache secrets
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Backend:       "env",
		AWSRegion:     "eu-central-1",
		CacheDuration: 5 * time.Minute,
	}
}

// NewManager creates a new secrets manager based on configuration
func NewManager(cfg Config, log logger.Logger) (Manager, error) {
	if log == nil {
		log = logger.Nop()
	}
	switch cfg.Backend {
	case "aws-secrets-manager", "aws":
		sess, err := session.NewSession(&aws.Config{
			Region: aws.String(cfg.AWSRegion),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS session: %w", err)
		}
		log.Info("using AWS Secrets Manager", "region", cfg.AWSRegion, "prefix", cfg.Prefix)
		return NewAWSSecretsManager(secretsmanager.New(sess), cfg, log), nil
	case "env", "environment":
		log.Debug("using environment variables for secrets")
		return EnvironmentManager{}, nil
	default:
		return nil, fmt.Errorf("unsupported secrets backend: %s", cfg.Backend)
	}
}

// EnvironmentManager reads secrets straight from the process environment.
type EnvironmentManager struct{}

// GetSecret retrieves a secret from environment variables
func (EnvironmentManager) GetSecret(_ context.Context, key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return value, nil
}

// RefreshCache is a no-op; the environment is always read live.
func (EnvironmentManager) RefreshCache(context.Context) error {
	return nil
}

// AWSSecretsManager loads secrets from AWS Secrets Manager
type AWSSecretsManager struct {
	client  secretsmanageriface.SecretsManagerAPI
	cache   map[string]cachedSecret
	cacheMu sync.RWMutex
	config  Config
	log     logger.Logger
	now     func() time.Time
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// NewAWSSecretsManager wraps an existing Secrets Manager client.
func NewAWSSecretsManager(client secretsmanageriface.SecretsManagerAPI, cfg Config, log logger.Logger) *AWSSecretsManager {
	if log == nil {
		log = logger.Nop()
	}
	return &AWSSecretsManager{
		client: client,
		cache:  make(map[string]cachedSecret),
		config: cfg,
		log:    log,
		now:    time.Now,
	}
}

// GetSecret retrieves a secret from AWS Secrets Manager
func (m *AWSSecretsManager) GetSecret(ctx context.Context, key string) (string, error) {
	// Check cache first
	if value, ok := m.getCached(key); ok {
		return value, nil
	}

	result, err := m.client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(m.config.Prefix + key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == secretsmanager.ErrCodeResourceNotFoundException {
			return "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return "", fmt.Errorf("failed to get secret %s: %w", key, err)
	}
	if result.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", key)
	}

	m.setCached(key, *result.SecretString)
	m.log.Debug("loaded secret from AWS Secrets Manager", "key", key)

	return *result.SecretString, nil
}

// RefreshCache forces a reload of all cached secrets
func (m *AWSSecretsManager) RefreshCache(context.Context) error {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	m.cache = make(map[string]cachedSecret)
	return nil
}

func (m *AWSSecretsManager) getCached(key string) (string, bool) {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()

	cached, ok := m.cache[key]
	if !ok || m.now().After(cached.expiresAt) {
		return "", false
	}
	return cached.value, true
}

func (m *AWSSecretsManager) setCached(key, value string) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	m.cache[key] = cachedSecret{
		value:     value,
		expiresAt: m.now().Add(m.config.CacheDuration),
	}
}
