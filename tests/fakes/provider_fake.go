package fakes

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/systmms/gatewayauth/internal/identity"
)

// FakeIdentityProvider is a manual fake implementation of identity.Provider.
//
// It hands out the configured tokens in order and repeats the last one.
// A configured error wins over tokens.
//
// Example usage:
//
//	fake := fakes.NewFakeIdentityProvider("password").
//	    WithTokens("tok-1", "tok-2")
//
//	reg := identity.NewRegistry()
//	reg.Register("fake.password", fake.Factory())
type FakeIdentityProvider struct {
	name string

	tokens []string
	err    error
	delay  time.Duration

	calls    int
	settings map[string]interface{}

	mu sync.Mutex
}

// NewFakeIdentityProvider creates a provider that has no tokens yet.
func NewFakeIdentityProvider(name string) *FakeIdentityProvider {
	return &FakeIdentityProvider{name: name}
}

// WithTokens sets the tokens returned by successive Exchange calls.
func (f *FakeIdentityProvider) WithTokens(tokens ...string) *FakeIdentityProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = tokens
	return f
}

// WithError makes every Exchange fail with err.
func (f *FakeIdentityProvider) WithError(err error) *FakeIdentityProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	return f
}

// WithUnavailable makes the provider report that ambient identity is not
// granted in this environment.
func (f *FakeIdentityProvider) WithUnavailable() *FakeIdentityProvider {
	return f.WithError(identity.ErrWorkloadIdentityUnavailable)
}

// WithDelay makes Exchange wait before answering, honouring ctx.
func (f *FakeIdentityProvider) WithDelay(d time.Duration) *FakeIdentityProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
	return f
}

// Name returns the configured name.
func (f *FakeIdentityProvider) Name() string {
	return f.name
}

// Exchange returns the next token.
func (f *FakeIdentityProvider) Exchange(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	delay := f.delay
	err := f.err
	tokens := f.tokens
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	if err != nil {
		return "", err
	}
	if len(tokens) == 0 {
		return "", errors.New("fake provider has no tokens")
	}
	if n > len(tokens) {
		n = len(tokens)
	}
	return tokens[n-1], nil
}

// CallCount returns how many times Exchange was called.
func (f *FakeIdentityProvider) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Settings returns what the registry factory was called with.
func (f *FakeIdentityProvider) Settings() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

// Factory adapts the fake to identity.Registry. Every Create returns this
// same instance and records the settings it was given.
func (f *FakeIdentityProvider) Factory() identity.Factory {
	return func(settings map[string]interface{}) (identity.Provider, error) {
		f.mu.Lock()
		f.settings = settings
		f.mu.Unlock()
		return f, nil
	}
}
