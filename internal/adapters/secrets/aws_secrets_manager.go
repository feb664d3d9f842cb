package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/zap"
)

// ProviderSecrets is the JSON shape of the provider credential secret.
type ProviderSecrets struct {
	APIKey        string `json:"api_key"`
	WebhookSecret string `json:"webhook_secret"`
}

// Manager fetches secrets from AWS Secrets Manager at startup. Secrets are
// read once during wiring, not on the request path, so there is no cache.
type Manager struct {
	client *secretsmanager.Client
	logger *zap.Logger
}

// NewManager creates a Secrets Manager client for the region
func NewManager(ctx context.Context, region string, logger *zap.Logger) (*Manager, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &Manager{
		client: secretsmanager.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// FetchProviderSecrets retrieves and decodes the provider credential secret.
func (m *Manager) FetchProviderSecrets(ctx context.Context, secretID string) (*ProviderSecrets, error) {
	out, err := m.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &secretID,
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %q: %w", secretID, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %q has no string value", secretID)
	}

	var secrets ProviderSecrets
	if err := json.Unmarshal([]byte(*out.SecretString), &secrets); err != nil {
		return nil, fmt.Errorf("decode secret %q: %w", secretID, err)
	}
	if secrets.APIKey == "" || secrets.WebhookSecret == "" {
		return nil, fmt.Errorf("secret %q is missing api_key or webhook_secret", secretID)
	}

	m.logger.Info("Loaded provider credentials from Secrets Manager",
		zap.String("secret_id", secretID))
	return &secrets, nil
}
