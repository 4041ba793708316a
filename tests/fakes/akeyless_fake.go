package fakes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/systmms/gatewayauth/internal/credstore"
)

// FakeAkeylessClient is an in-memory Akeyless V2 API.
type FakeAkeylessClient struct {
	mu sync.Mutex

	// Secrets maps item names to their current value
	Secrets map[string]string
	// Descriptions records the description passed to CreateSecret
	Descriptions map[string]string
	// Errors maps item names to errors returned by every call for that name
	Errors map[string]error
	// AuthErr, when set, fails Authenticate
	AuthErr error
	// TokenTTL is the lifetime reported for issued tokens. Zero means 25m.
	TokenTTL time.Duration

	authCalls int
	issued    map[string]bool
}

// NewFakeAkeylessClient creates an empty fake.
func NewFakeAkeylessClient() *FakeAkeylessClient {
	return &FakeAkeylessClient{
		Secrets:      make(map[string]string),
		Descriptions: make(map[string]string),
		Errors:       make(map[string]error),
		issued:       make(map[string]bool),
	}
}

// Authenticate issues a new access token.
func (f *FakeAkeylessClient) Authenticate(ctx context.Context) (string, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.AuthErr != nil {
		return "", 0, f.AuthErr
	}
	f.authCalls++
	token := fmt.Sprintf("t-%d", f.authCalls)
	f.issued[token] = true

	ttl := f.TokenTTL
	if ttl == 0 {
		ttl = 25 * time.Minute
	}
	return token, ttl, nil
}

// AuthCalls returns how many times Authenticate succeeded.
func (f *FakeAkeylessClient) AuthCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls
}

func (f *FakeAkeylessClient) check(token, name string) error {
	if !f.issued[token] {
		return errors.New("akeyless: unauthorized access token")
	}
	return f.Errors[name]
}

// GetSecretValue mocks the get-secret-value operation
func (f *FakeAkeylessClient) GetSecretValue(ctx context.Context, token, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(token, name); err != nil {
		return "", err
	}
	v, ok := f.Secrets[name]
	if !ok {
		return "", credstore.ErrAkeylessNotFound
	}
	return v, nil
}

// CreateSecret mocks the create-secret operation
func (f *FakeAkeylessClient) CreateSecret(ctx context.Context, token, name, value, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(token, name); err != nil {
		return err
	}
	if _, ok := f.Secrets[name]; ok {
		return fmt.Errorf("akeyless: item %s already exists", name)
	}
	f.Secrets[name] = value
	f.Descriptions[name] = description
	return nil
}

// UpdateSecretValue mocks the update-secret-val operation
func (f *FakeAkeylessClient) UpdateSecretValue(ctx context.Context, token, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(token, name); err != nil {
		return err
	}
	if _, ok := f.Secrets[name]; !ok {
		return credstore.ErrAkeylessNotFound
	}
	f.Secrets[name] = value
	return nil
}
