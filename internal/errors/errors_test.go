package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/gatewayauth/internal/errors"
)

// TestUserErrorFormatting verifies UserError displays properly
func TestUserErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.UserError{
		Message:    "Operation failed",
		Details:    "Connection timeout",
		Suggestion: "Check network connectivity",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "Operation failed")
	assert.Contains(t, errMsg, "Connection timeout")
	assert.Contains(t, errMsg, "Check network connectivity")
}

// TestConfigErrorFormatting verifies ConfigError displays with context
func TestConfigErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.ConfigError{
		Field:      "password_exchange.client_id",
		Value:      "",
		Message:    "client_id is required",
		Suggestion: "Set the Cognito app client id",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "password_exchange.client_id")
	assert.Contains(t, errMsg, "client_id is required")
	assert.Contains(t, errMsg, "Cognito app client id")
	assert.True(t, errors.IsConfigError(fmt.Errorf("wrapped: %w", err)))
}

func TestRequestErrorMatchesKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		kind  error
		match []error
		miss  []error
	}{
		{
			name:  "exhausted",
			kind:  errors.ErrRetriesExhausted,
			match: []error{errors.ErrRetriesExhausted},
			miss:  []error{errors.ErrTransient, errors.ErrAuthRejected},
		},
		{
			name:  "no token",
			kind:  errors.ErrNoTokenAvailable,
			match: []error{errors.ErrNoTokenAvailable},
			miss:  []error{errors.ErrRetriesExhausted},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := fmt.Errorf("outer: %w", &errors.RequestError{
				Kind:       tt.kind,
				Op:         "POST /mcp",
				StatusCode: 403,
				Attempts:   2,
				LastError:  "Invalid Bearer token",
			})
			for _, m := range tt.match {
				assert.ErrorIs(t, err, m)
			}
			for _, m := range tt.miss {
				assert.NotErrorIs(t, err, m)
			}
		})
	}
}

func TestRequestErrorMessage(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("dial tcp: connection refused")
	err := &errors.RequestError{
		Kind:       errors.ErrTransient,
		Op:         "GET https://gw/health",
		StatusCode: 503,
		Attempts:   3,
		LastError:  cause.Error(),
		Err:        cause,
	}

	msg := err.Error()
	assert.Contains(t, msg, "3 attempt(s)")
	assert.Contains(t, msg, "last status 503")
	assert.Contains(t, msg, "connection refused")
	require.ErrorIs(t, err, cause)
}

func TestProviderErrorSuggestions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		provider string
		err      error
		want     string
	}{
		{"cognito", stderrors.New("operation error: NotAuthorizedException: Incorrect username or password."), "USER_PASSWORD_AUTH"},
		{"aws.secretsmanager", stderrors.New("AccessDeniedException: no"), "IAM permissions"},
		{"agentcore", stderrors.New("Workload access token has not been set"), "password_exchange"},
		{"anything", stderrors.New("i/o timeout"), "timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			t.Parallel()
			err := errors.ProviderError(tt.provider, "exchange", tt.err)
			assert.Contains(t, err.Error(), tt.want)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestSimplifyErrorKeepsTypedErrors(t *testing.T) {
	t.Parallel()

	reqErr := &errors.RequestError{Kind: errors.ErrAuthRejected, Op: "x", Attempts: 1}
	assert.Same(t, reqErr, errors.SimplifyError(reqErr))

	simplified := errors.SimplifyError(fmt.Errorf("load: %w", stderrors.New("yaml: line 3: bad indent")))
	assert.True(t, errors.IsConfigError(simplified))

	assert.Nil(t, errors.SimplifyError(nil))
}
