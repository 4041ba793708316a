package credstore

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SSMClientAPI defines the subset of SSM Parameter Store used by the store.
// This allows for mocking in tests
type SSMClientAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	DescribeParameters(ctx context.Context, params *ssm.DescribeParametersInput, optFns ...func(*ssm.Options)) (*ssm.DescribeParametersOutput, error)
}

// SSMStore keeps the record in a SecureString parameter.
type SSMStore struct {
	client      SSMClientAPI
	prefix      string
	keyID       string
	description string
}

// SSMOption is a functional option for configuring the SSM store
type SSMOption func(*SSMStore)

// WithSSMClient sets a custom SSM client (for testing)
func WithSSMClient(client SSMClientAPI) SSMOption {
	return func(s *SSMStore) {
		s.client = client
	}
}

// NewSSMStore creates a Parameter Store backed store.
//
// Recognised settings: region, profile, parameter_prefix, kms_key_id,
// description, access_key_id, secret_access_key, endpoint.
func NewSSMStore(settings map[string]interface{}, opts ...SSMOption) (*SSMStore, error) {
	s := &SSMStore{
		prefix:      stringSetting(settings, "parameter_prefix", ""),
		keyID:       stringSetting(settings, "kms_key_id", ""),
		description: stringSetting(settings, "description", DefaultDescription),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		cfg, err := loadAWSConfig(stringSetting(settings, "region", "us-west-2"), settings)
		if err != nil {
			return nil, err
		}
		var clientOpts []func(*ssm.Options)
		if endpoint := stringSetting(settings, "endpoint", ""); endpoint != "" {
			clientOpts = append(clientOpts, func(o *ssm.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		s.client = ssm.NewFromConfig(cfg, clientOpts...)
	}

	return s, nil
}

// Name returns the backend name
func (s *SSMStore) Name() string {
	return "aws.ssm"
}

func (s *SSMStore) parameterName(name string) string {
	if s.prefix == "" {
		return name
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + strings.TrimPrefix(name, "/")
}

// Get reads and decrypts the parameter.
func (s *SSMStore) Get(ctx context.Context, name string) (Record, error) {
	paramName := s.parameterName(name)
	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(paramName),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, &StoreError{Backend: s.Name(), Op: "get", Name: paramName, Err: err}
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return Record{}, ErrNotFound
	}

	rec, err := Unmarshal(*result.Parameter.Value)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Record{}, &StoreError{Backend: s.Name(), Op: "get", Name: paramName, Err: err}
	}
	return rec, err
}

// Put writes the parameter with Overwrite set, so it creates or replaces.
func (s *SSMStore) Put(ctx context.Context, name string, rec Record) error {
	paramName := s.parameterName(name)
	value, err := Marshal(rec)
	if err != nil {
		return &StoreError{Backend: s.Name(), Op: "put", Name: paramName, Err: err}
	}

	input := &ssm.PutParameterInput{
		Name:        aws.String(paramName),
		Value:       aws.String(value),
		Type:        types.ParameterTypeSecureString,
		Overwrite:   aws.Bool(true),
		Description: aws.String(s.description),
	}
	if s.keyID != "" {
		input.KeyId = aws.String(s.keyID)
	}

	if _, err := s.client.PutParameter(ctx, input); err != nil {
		return &StoreError{Backend: s.Name(), Op: "put", Name: paramName, Err: err}
	}
	return nil
}

// Validate checks that credentials can describe parameters.
func (s *SSMStore) Validate(ctx context.Context) error {
	_, err := s.client.DescribeParameters(ctx, &ssm.DescribeParametersInput{
		MaxResults: aws.Int32(1),
	})
	if err != nil {
		return &StoreError{Backend: s.Name(), Op: "validate", Err: err}
	}
	return nil
}

// NewSSMStoreFactory adapts NewSSMStore to the registry.
func NewSSMStoreFactory(settings map[string]interface{}) (Store, error) {
	return NewSSMStore(settings)
}
