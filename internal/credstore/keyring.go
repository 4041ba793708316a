package credstore

import (
	"context"
	"errors"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the keyring service the record is filed under.
const DefaultKeyringService = "gatewayauth"

// KeyringStore keeps the record in the OS keyring (Secret Service,
// macOS Keychain, Windows Credential Manager). Intended for developer
// machines.
type KeyringStore struct {
	service string
}

// NewKeyringStore creates a keyring backed store.
//
// Recognised settings: service.
func NewKeyringStore(settings map[string]interface{}) *KeyringStore {
	return &KeyringStore{service: stringSetting(settings, "service", DefaultKeyringService)}
}

// Name returns the backend name
func (k *KeyringStore) Name() string {
	return "keyring"
}

// Get reads the record stored for account name.
func (k *KeyringStore) Get(_ context.Context, name string) (Record, error) {
	raw, err := keyring.Get(k.service, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, &StoreError{Backend: k.Name(), Op: "get", Name: name, Err: err}
	}

	rec, err := Unmarshal(raw)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Record{}, &StoreError{Backend: k.Name(), Op: "get", Name: name, Err: err}
	}
	return rec, err
}

// Put overwrites the record stored for account name.
func (k *KeyringStore) Put(_ context.Context, name string, rec Record) error {
	raw, err := Marshal(rec)
	if err == nil {
		err = keyring.Set(k.service, name, raw)
	}
	if err != nil {
		return &StoreError{Backend: k.Name(), Op: "put", Name: name, Err: err}
	}
	return nil
}

// NewKeyringStoreFactory adapts NewKeyringStore to the registry.
func NewKeyringStoreFactory(settings map[string]interface{}) (Store, error) {
	return NewKeyringStore(settings), nil
}
