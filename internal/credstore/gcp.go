package credstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	dserrors "github.com/systmms/gatewayauth/internal/errors"
)

// GCPSecretManagerClientAPI is the subset of the Secret Manager client the
// store uses.
type GCPSecretManagerClientAPI interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.SecretVersion, error)
	CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest, opts ...gax.CallOption) (*secretmanagerpb.Secret, error)
}

// GCPSecretManagerStore keeps the record as the latest version of a Google
// Cloud secret.
type GCPSecretManagerStore struct {
	client    GCPSecretManagerClientAPI
	projectID string
}

// GCPOption configures the GCP store.
type GCPOption func(*GCPSecretManagerStore)

// WithGCPClient sets a custom client (for testing)
func WithGCPClient(client GCPSecretManagerClientAPI) GCPOption {
	return func(s *GCPSecretManagerStore) {
		s.client = client
	}
}

// NewGCPSecretManagerStore creates a Secret Manager backed store.
//
// Recognised settings: project_id, service_account_key_path,
// impersonate_service_account.
func NewGCPSecretManagerStore(settings map[string]interface{}, opts ...GCPOption) (*GCPSecretManagerStore, error) {
	s := &GCPSecretManagerStore{
		projectID: stringSetting(settings, "project_id", gcpProjectFromEnv()),
	}
	if s.projectID == "" {
		return nil, dserrors.ConfigError{
			Field:      "store.project_id",
			Message:    "project_id is required for GCP Secret Manager",
			Suggestion: "Set project_id in config or GOOGLE_CLOUD_PROJECT environment variable",
		}
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		client, err := newGCPClient(settings)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCP Secret Manager client: %w", err)
		}
		s.client = client
	}

	return s, nil
}

func newGCPClient(settings map[string]interface{}) (*secretmanager.Client, error) {
	ctx := context.Background()
	var clientOptions []option.ClientOption

	if keyPath := stringSetting(settings, "service_account_key_path", ""); keyPath != "" {
		if strings.HasPrefix(keyPath, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			keyPath = filepath.Join(home, keyPath[2:])
		}
		clientOptions = append(clientOptions, option.WithCredentialsFile(keyPath))
	}

	if target := stringSetting(settings, "impersonate_service_account", ""); target != "" {
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: target,
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create impersonated credentials: %w", err)
		}
		clientOptions = append(clientOptions, option.WithTokenSource(ts))
	}

	return secretmanager.NewClient(ctx, clientOptions...)
}

func gcpProjectFromEnv() string {
	for _, key := range []string{"GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT", "GCP_PROJECT"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// Name returns the backend name
func (s *GCPSecretManagerStore) Name() string {
	return "gcp.secretmanager"
}

func (s *GCPSecretManagerStore) secretPath(name string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", s.projectID, name)
}

// Get reads the latest version.
func (s *GCPSecretManagerStore) Get(ctx context.Context, name string) (Record, error) {
	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: s.secretPath(name) + "/versions/latest",
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Record{}, ErrNotFound
		}
		return Record{}, &StoreError{Backend: s.Name(), Op: "get", Name: name, Err: err}
	}
	if resp.GetPayload() == nil || len(resp.GetPayload().GetData()) == 0 {
		return Record{}, ErrNotFound
	}

	rec, err := Unmarshal(string(resp.GetPayload().GetData()))
	if err != nil && err != ErrNotFound {
		return Record{}, &StoreError{Backend: s.Name(), Op: "get", Name: name, Err: err}
	}
	return rec, err
}

// Put adds a version, creating the secret with automatic replication when
// it does not exist yet.
func (s *GCPSecretManagerStore) Put(ctx context.Context, name string, rec Record) error {
	data, err := Marshal(rec)
	if err != nil {
		return &StoreError{Backend: s.Name(), Op: "put", Name: name, Err: err}
	}

	add := &secretmanagerpb.AddSecretVersionRequest{
		Parent:  s.secretPath(name),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(data)},
	}

	_, err = s.client.AddSecretVersion(ctx, add)
	if status.Code(err) == codes.NotFound {
		_, err = s.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
			Parent:   "projects/" + s.projectID,
			SecretId: name,
			Secret: &secretmanagerpb.Secret{
				Replication: &secretmanagerpb.Replication{
					Replication: &secretmanagerpb.Replication_Automatic_{
						Automatic: &secretmanagerpb.Replication_Automatic{},
					},
				},
			},
		})
		if err == nil {
			_, err = s.client.AddSecretVersion(ctx, add)
		}
	}
	if err != nil {
		return &StoreError{Backend: s.Name(), Op: "put", Name: name, Err: err}
	}
	return nil
}

// NewGCPSecretManagerStoreFactory adapts NewGCPSecretManagerStore to the registry.
func NewGCPSecretManagerStoreFactory(settings map[string]interface{}) (Store, error) {
	return NewGCPSecretManagerStore(settings)
}
