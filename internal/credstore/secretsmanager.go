package credstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// SecretsManagerClientAPI defines the subset of AWS Secrets Manager used by
// the store. This allows for mocking in tests.
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
}

// SecretsManagerStore keeps the record in AWS Secrets Manager as a JSON
// SecretString.
type SecretsManagerStore struct {
	client      SecretsManagerClientAPI
	region      string
	endpoint    string // Optional custom endpoint for LocalStack or testing
	description string
}

// SecretsManagerOption is a functional option for configuring the store
type SecretsManagerOption func(*SecretsManagerStore)

// WithSecretsManagerClient sets a custom Secrets Manager client (for testing)
func WithSecretsManagerClient(client SecretsManagerClientAPI) SecretsManagerOption {
	return func(s *SecretsManagerStore) {
		s.client = client
	}
}

// NewSecretsManagerStore creates a Secrets Manager backed store.
//
// Recognised settings: region, endpoint, access_key_id, secret_access_key,
// description.
func NewSecretsManagerStore(settings map[string]interface{}, opts ...SecretsManagerOption) (*SecretsManagerStore, error) {
	s := &SecretsManagerStore{
		region:      stringSetting(settings, "region", "us-west-2"),
		endpoint:    stringSetting(settings, "endpoint", ""),
		description: stringSetting(settings, "description", DefaultDescription),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		cfg, err := loadAWSConfig(s.region, settings)
		if err != nil {
			return nil, err
		}

		var clientOpts []func(*secretsmanager.Options)
		if s.endpoint != "" {
			endpoint := s.endpoint
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		s.client = secretsmanager.NewFromConfig(cfg, clientOpts...)
	}

	return s, nil
}

// loadAWSConfig builds an SDK config for region, honouring optional static
// credentials (LocalStack/testing).
func loadAWSConfig(region string, settings map[string]interface{}) (aws.Config, error) {
	configOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}

	accessKeyID := stringSetting(settings, "access_key_id", "")
	secretAccessKey := stringSetting(settings, "secret_access_key", "")
	if accessKeyID != "" && secretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}
	if profile := stringSetting(settings, "profile", ""); profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(profile))
	}

	cfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// Name returns the backend name
func (s *SecretsManagerStore) Name() string {
	return "aws.secretsmanager"
}

// Get reads the record from the secret's current version.
func (s *SecretsManagerStore) Get(ctx context.Context, name string) (Record, error) {
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		if isSecretsManagerNotFound(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, &StoreError{Backend: s.Name(), Op: "get", Name: name, Err: err}
	}

	var raw string
	switch {
	case result.SecretString != nil:
		raw = *result.SecretString
	case result.SecretBinary != nil:
		raw = string(result.SecretBinary)
	default:
		return Record{}, ErrNotFound
	}

	rec, err := Unmarshal(raw)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Record{}, &StoreError{Backend: s.Name(), Op: "get", Name: name, Err: err}
	}
	return rec, err
}

// Put writes a new secret version, creating the secret first if it does
// not exist.
func (s *SecretsManagerStore) Put(ctx context.Context, name string, rec Record) error {
	secretString, err := Marshal(rec)
	if err != nil {
		return &StoreError{Backend: s.Name(), Op: "put", Name: name, Err: err}
	}

	_, err = s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(name),
	})
	switch {
	case err == nil:
		_, err = s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
			SecretId:     aws.String(name),
			SecretString: aws.String(secretString),
		})
	case isSecretsManagerNotFound(err):
		_, err = s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
			Name:         aws.String(name),
			SecretString: aws.String(secretString),
			Description:  aws.String(s.description),
		})
	}
	if err != nil {
		return &StoreError{Backend: s.Name(), Op: "put", Name: name, Err: err}
	}
	return nil
}

// Validate checks that credentials can list secrets.
func (s *SecretsManagerStore) Validate(ctx context.Context) error {
	_, err := s.client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{
		MaxResults: aws.Int32(1),
	})
	if err != nil {
		return &StoreError{Backend: s.Name(), Op: "validate", Err: err}
	}
	return nil
}

func isSecretsManagerNotFound(err error) bool {
	var resourceNotFound *types.ResourceNotFoundException
	return errors.As(err, &resourceNotFound)
}

// NewSecretsManagerStoreFactory adapts NewSecretsManagerStore to the registry.
func NewSecretsManagerStoreFactory(settings map[string]interface{}) (Store, error) {
	return NewSecretsManagerStore(settings)
}
