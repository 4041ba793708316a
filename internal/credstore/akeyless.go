package credstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	akeyless "github.com/akeylesslabs/akeyless-go/v3"

	dserrors "github.com/systmms/gatewayauth/internal/errors"
)

// DefaultAkeylessURL is the public Akeyless API endpoint.
const DefaultAkeylessURL = "https://api.akeyless.io"

// ErrAkeylessNotFound is what AkeylessClientAPI implementations return for
// a missing item.
var ErrAkeylessNotFound = errors.New("akeyless item not found")

// AkeylessClientAPI is the subset of the Akeyless V2 API the store uses.
type AkeylessClientAPI interface {
	Authenticate(ctx context.Context) (token string, ttl time.Duration, err error)
	GetSecretValue(ctx context.Context, token, name string) (string, error)
	CreateSecret(ctx context.Context, token, name, value, description string) error
	UpdateSecretValue(ctx context.Context, token, name, value string) error
}

// AkeylessStore keeps the record as a static secret in Akeyless.
type AkeylessStore struct {
	client      AkeylessClientAPI
	description string

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// AkeylessOption configures the store.
type AkeylessOption func(*AkeylessStore)

// WithAkeylessClient sets a custom client (for testing)
func WithAkeylessClient(client AkeylessClientAPI) AkeylessOption {
	return func(s *AkeylessStore) {
		s.client = client
	}
}

// NewAkeylessStore creates an Akeyless backed store.
//
// Required settings: access_id. Optional: gateway_url, access_type
// (api_key, aws_iam, azure_ad, gcp), access_key, azure_object_id,
// gcp_audience, description.
func NewAkeylessStore(settings map[string]interface{}, opts ...AkeylessOption) (*AkeylessStore, error) {
	s := &AkeylessStore{
		description: stringSetting(settings, "description", DefaultDescription),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client != nil {
		return s, nil
	}

	auth := akeylessAuth{
		accessID:      stringSetting(settings, "access_id", ""),
		accessType:    stringSetting(settings, "access_type", "api_key"),
		accessKey:     stringSetting(settings, "access_key", ""),
		azureObjectID: stringSetting(settings, "azure_object_id", ""),
		gcpAudience:   stringSetting(settings, "gcp_audience", ""),
	}
	if auth.accessID == "" {
		return nil, dserrors.ConfigError{
			Field:      "store.access_id",
			Message:    "access_id is required for the akeyless store",
			Suggestion: "Set store.access_id to the Akeyless auth method access ID (p-xxxx)",
		}
	}
	if auth.accessType == "api_key" && auth.accessKey == "" {
		return nil, dserrors.ConfigError{
			Field:      "store.access_key",
			Message:    "access_key is required when access_type is api_key",
			Suggestion: "Set store.access_key or choose access_type aws_iam, azure_ad or gcp",
		}
	}

	s.client = newAkeylessSDKClient(stringSetting(settings, "gateway_url", DefaultAkeylessURL), auth)
	return s, nil
}

// Name returns "akeyless".
func (s *AkeylessStore) Name() string {
	return "akeyless"
}

// token returns a cached access token, authenticating when it is missing
// or about to expire.
func (s *AkeylessStore) token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && time.Now().Before(s.expiresAt) {
		return s.accessToken, nil
	}

	tok, ttl, err := s.client.Authenticate(ctx)
	if err != nil {
		return "", err
	}
	s.accessToken = tok
	s.expiresAt = time.Now().Add(ttl)
	return tok, nil
}

// Get reads the record from the secret's latest version.
func (s *AkeylessStore) Get(ctx context.Context, name string) (Record, error) {
	tok, err := s.token(ctx)
	if err != nil {
		return Record{}, &StoreError{Backend: s.Name(), Op: "auth", Name: name, Err: err}
	}

	raw, err := s.client.GetSecretValue(ctx, tok, name)
	if err != nil {
		if isAkeylessNotFound(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, &StoreError{Backend: s.Name(), Op: "get", Name: name, Err: err}
	}

	rec, err := Unmarshal(raw)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Record{}, &StoreError{Backend: s.Name(), Op: "get", Name: name, Err: err}
	}
	return rec, err
}

// Put updates the secret value, creating the secret when it does not exist.
func (s *AkeylessStore) Put(ctx context.Context, name string, rec Record) error {
	value, err := Marshal(rec)
	if err != nil {
		return &StoreError{Backend: s.Name(), Op: "put", Name: name, Err: err}
	}

	tok, err := s.token(ctx)
	if err != nil {
		return &StoreError{Backend: s.Name(), Op: "auth", Name: name, Err: err}
	}

	err = s.client.UpdateSecretValue(ctx, tok, name, value)
	if isAkeylessNotFound(err) {
		err = s.client.CreateSecret(ctx, tok, name, value, s.description)
	}
	if err != nil {
		return &StoreError{Backend: s.Name(), Op: "put", Name: name, Err: err}
	}
	return nil
}

// Validate checks that the configured auth method can log in.
func (s *AkeylessStore) Validate(ctx context.Context) error {
	if _, err := s.token(ctx); err != nil {
		return &StoreError{Backend: s.Name(), Op: "validate", Err: err}
	}
	return nil
}

func isAkeylessNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAkeylessNotFound) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "itemNotFound") || strings.Contains(msg, "ItemNotFound")
}

// NewAkeylessStoreFactory adapts NewAkeylessStore to the registry.
func NewAkeylessStoreFactory(settings map[string]interface{}) (Store, error) {
	return NewAkeylessStore(settings)
}

type akeylessAuth struct {
	accessID      string
	accessType    string
	accessKey     string
	azureObjectID string
	gcpAudience   string
}

// akeylessSDKClient implements AkeylessClientAPI with the official SDK.
type akeylessSDKClient struct {
	api  *akeyless.APIClient
	auth akeylessAuth
}

func newAkeylessSDKClient(url string, auth akeylessAuth) *akeylessSDKClient {
	configuration := akeyless.NewConfiguration()
	configuration.Servers = []akeyless.ServerConfiguration{{URL: url}}
	return &akeylessSDKClient{api: akeyless.NewAPIClient(configuration), auth: auth}
}

// Authenticate logs in with the configured access type. Akeyless tokens
// last 30 minutes; the store refreshes after 25.
func (c *akeylessSDKClient) Authenticate(ctx context.Context) (string, time.Duration, error) {
	body := akeyless.NewAuthWithDefaults()
	body.SetAccessId(c.auth.accessID)

	switch c.auth.accessType {
	case "api_key", "":
		body.SetAccessKey(c.auth.accessKey)
	case "aws_iam", "azure_ad", "gcp":
		body.SetAccessType(c.auth.accessType)
		if c.auth.azureObjectID != "" {
			body.SetCloudId(c.auth.azureObjectID)
		}
		if c.auth.gcpAudience != "" {
			body.SetGcpAudience(c.auth.gcpAudience)
		}
	default:
		return "", 0, fmt.Errorf("unsupported access_type %q", c.auth.accessType)
	}

	res, _, err := c.api.V2Api.Auth(ctx).Body(*body).Execute()
	if err != nil {
		return "", 0, fmt.Errorf("%s authentication failed: %w", c.auth.accessType, akeylessError(err))
	}
	return res.GetToken(), 25 * time.Minute, nil
}

func (c *akeylessSDKClient) GetSecretValue(ctx context.Context, token, name string) (string, error) {
	body := akeyless.NewGetSecretValue([]string{name})
	body.SetToken(token)

	res, _, err := c.api.V2Api.GetSecretValue(ctx).Body(*body).Execute()
	if err != nil {
		return "", akeylessError(err)
	}
	value, ok := res[name]
	if !ok {
		return "", ErrAkeylessNotFound
	}
	return fmt.Sprint(value), nil
}

func (c *akeylessSDKClient) CreateSecret(ctx context.Context, token, name, value, description string) error {
	body := akeyless.NewCreateSecret(name, value)
	body.SetToken(token)
	body.SetDescription(description)

	_, _, err := c.api.V2Api.CreateSecret(ctx).Body(*body).Execute()
	return akeylessError(err)
}

func (c *akeylessSDKClient) UpdateSecretValue(ctx context.Context, token, name, value string) error {
	body := akeyless.NewUpdateSecretVal(name, value)
	body.SetToken(token)

	_, _, err := c.api.V2Api.UpdateSecretVal(ctx).Body(*body).Execute()
	return akeylessError(err)
}

// akeylessError maps the SDK's item-not-found response to
// ErrAkeylessNotFound and attaches the response body to other failures.
func akeylessError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr interface{ Body() []byte }
	if errors.As(err, &apiErr) {
		body := string(apiErr.Body())
		if strings.Contains(body, "ItemNotFound") || strings.Contains(body, "itemNotFound") {
			return fmt.Errorf("%w: %s", ErrAkeylessNotFound, body)
		}
		if body != "" {
			return fmt.Errorf("%w: %s", err, body)
		}
	}
	return err
}
