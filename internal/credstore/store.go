// Package credstore persists the single credential record the token broker
// owns. Backends are interchangeable key/value secret stores; each one
// stores the record as a small JSON document under a configured name.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	dserrors "github.com/systmms/gatewayauth/internal/errors"
)

// DefaultKeyID is written as bearer_key when none is configured.
const DefaultKeyID = "mcp_server_bearer_token"

// DefaultDescription is used when a backend has to create the secret.
const DefaultDescription = "MCP Server Cognito credentials with bearer key and token"

// ErrNotFound is returned by Get when no usable record exists under the name.
var ErrNotFound = errors.New("credential record not found")

// Record is the persisted credential. At most one exists per deployment.
type Record struct {
	KeyID string
	Token string
}

// Store gets and puts the credential record. Put is create-or-update and
// overwrites the whole record; there is no delete.
type Store interface {
	Name() string
	Get(ctx context.Context, name string) (Record, error)
	Put(ctx context.Context, name string, rec Record) error
}

// Validator is implemented by stores that can check reachability without
// touching the record.
type Validator interface {
	Validate(ctx context.Context) error
}

// StoreError wraps a backend failure other than not-found.
type StoreError struct {
	Backend string
	Op      string // "get", "put", "validate"
	Name    string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %s %q: %v", e.Backend, e.Op, e.Name, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is lets callers test for the shared store failure kind.
func (e *StoreError) Is(target error) bool {
	return target == dserrors.ErrStore
}

type wireRecord struct {
	BearerKey   string `json:"bearer_key"`
	BearerToken string `json:"bearer_token"`
}

// Marshal encodes a record in the persisted wire form.
func Marshal(rec Record) (string, error) {
	keyID := rec.KeyID
	if keyID == "" {
		keyID = DefaultKeyID
	}
	data, err := json.Marshal(wireRecord{BearerKey: keyID, BearerToken: rec.Token})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Unmarshal decodes the wire form. A document without a bearer_token, or
// with an empty one, decodes to ErrNotFound.
func Unmarshal(raw string) (Record, error) {
	if !gjson.Valid(raw) {
		return Record{}, fmt.Errorf("credential record is not valid JSON")
	}

	token := gjson.Get(raw, "bearer_token")
	if !token.Exists() || token.String() == "" {
		return Record{}, ErrNotFound
	}

	return Record{
		KeyID: gjson.Get(raw, "bearer_key").String(),
		Token: token.String(),
	}, nil
}
