package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned by Use after Destroy.
var ErrDestroyed = errors.New("credential destroyed")

// Credential holds one sensitive string sealed in a memguard enclave.
// The zero value and a Credential built from "" both report Empty.
type Credential struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// NewCredential seals value. memguard refuses empty buffers, so an empty
// value produces an empty Credential rather than an enclave.
func NewCredential(value string) *Credential {
	c := &Credential{}
	if value == "" {
		return c
	}
	c.enclave = memguard.NewEnclave([]byte(value))
	return c
}

// Empty reports whether the credential has no value.
func (c *Credential) Empty() bool {
	if c == nil {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enclave == nil
}

// Use decrypts the credential, passes the plaintext to fn, and wipes the
// decrypted buffer when fn returns. fn must not retain the string.
func (c *Credential) Use(fn func(plain string) error) error {
	if c == nil {
		return fn("")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.destroyed {
		return ErrDestroyed
	}
	if c.enclave == nil {
		return fn("")
	}

	locked, err := c.enclave.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()

	return fn(locked.String())
}

// Destroy drops the enclave. Idempotent.
func (c *Credential) Destroy() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enclave = nil
	c.destroyed = true
}

// Purge wipes every memguard buffer in the process. Call once at exit.
func Purge() {
	memguard.Purge()
}
