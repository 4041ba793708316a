package fakes

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FakeGCPSecretManagerClient keeps the latest payload per secret resource
// name (projects/X/secrets/Y).
type FakeGCPSecretManagerClient struct {
	mu sync.Mutex

	// Secrets maps secret resource names to whether they exist
	Secrets map[string]bool
	// Latest maps secret resource names to the latest payload
	Latest map[string][]byte
	// Versions counts versions added per secret
	Versions map[string]int
	// Errors maps secret resource names to errors to return
	Errors map[string]error
}

// NewFakeGCPSecretManagerClient creates an empty fake.
func NewFakeGCPSecretManagerClient() *FakeGCPSecretManagerClient {
	return &FakeGCPSecretManagerClient{
		Secrets:  make(map[string]bool),
		Latest:   make(map[string][]byte),
		Versions: make(map[string]int),
		Errors:   make(map[string]error),
	}
}

// AddSecretVersionData seeds a secret with one version.
func (f *FakeGCPSecretManagerClient) AddSecretVersionData(secretName string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[secretName] = true
	f.Latest[secretName] = data
	f.Versions[secretName]++
}

// AccessSecretVersion mocks the AccessSecretVersion operation
func (f *FakeGCPSecretManagerClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	secretName := req.GetName()
	if idx := strings.Index(secretName, "/versions/"); idx >= 0 {
		secretName = secretName[:idx]
	}
	if err, ok := f.Errors[secretName]; ok {
		return nil, err
	}
	data, ok := f.Latest[secretName]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "Secret [%s] not found or has no versions", secretName)
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    fmt.Sprintf("%s/versions/%d", secretName, f.Versions[secretName]),
		Payload: &secretmanagerpb.SecretPayload{Data: data},
	}, nil
}

// AddSecretVersion mocks the AddSecretVersion operation
func (f *FakeGCPSecretManagerClient) AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.SecretVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parent := req.GetParent()
	if err, ok := f.Errors[parent]; ok {
		return nil, err
	}
	if !f.Secrets[parent] {
		return nil, status.Errorf(codes.NotFound, "Secret [%s] not found", parent)
	}
	f.Latest[parent] = req.GetPayload().GetData()
	f.Versions[parent]++
	return &secretmanagerpb.SecretVersion{
		Name:  fmt.Sprintf("%s/versions/%d", parent, f.Versions[parent]),
		State: secretmanagerpb.SecretVersion_ENABLED,
	}, nil
}

// CreateSecret mocks the CreateSecret operation
func (f *FakeGCPSecretManagerClient) CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest, opts ...gax.CallOption) (*secretmanagerpb.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.GetParent() + "/secrets/" + req.GetSecretId()
	if f.Secrets[name] {
		return nil, status.Errorf(codes.AlreadyExists, "Secret [%s] already exists", name)
	}
	f.Secrets[name] = true
	return &secretmanagerpb.Secret{Name: name, Replication: req.GetSecret().GetReplication()}, nil
}
