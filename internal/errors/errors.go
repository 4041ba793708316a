package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Failure kinds shared by the broker, the transport, and the tool loader.
// Callers branch on these with errors.Is.
var (
	// ErrNoTokenAvailable means every token source failed. Terminal.
	ErrNoTokenAvailable = errors.New("no source produced a token")

	// ErrAuthRejected means the remote side actively refused a token.
	ErrAuthRejected = errors.New("token rejected by remote")

	// ErrTransient covers network failures, timeouts and 5xx responses.
	ErrTransient = errors.New("transient failure")

	// ErrStore means the secret store could not be read or written.
	ErrStore = errors.New("secret store failure")

	// ErrRetriesExhausted means the attempt budget ran out.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrRequestRejected is a definitive non-auth failure (e.g. 400, 404). Never retried.
	ErrRequestRejected = errors.New("request rejected")
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context.
// It is terminal: nothing that returns a ConfigError is retried.
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce ConfigError
	return errors.As(err, &ce)
}

// RequestError is the typed failure surfaced by authenticated calls. It carries
// enough context for an operator to decide whether to alert.
type RequestError struct {
	// Kind is one of the sentinel errors above.
	Kind       error
	Op         string
	StatusCode int
	Attempts   int
	LastError  string
	Err        error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (last status %d)", e.StatusCode)
	}
	if e.LastError != "" {
		msg += ": " + e.LastError
	}
	return msg
}

// Is matches the sentinel stored in Kind.
func (e *RequestError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// ProviderError enhances provider-specific errors with context
func ProviderError(provider string, operation string, err error) error {
	suggestion := getProviderSuggestion(provider, err)

	return UserError{
		Message:    fmt.Sprintf("%s provider error during %s", provider, operation),
		Suggestion: suggestion,
		Err:        err,
	}
}

// getProviderSuggestion returns helpful suggestions based on provider and error
func getProviderSuggestion(provider string, err error) string {
	errStr := err.Error()

	switch provider {
	case "cognito":
		if strings.Contains(errStr, "NotAuthorizedException") {
			return "Check the Cognito username and password, and that USER_PASSWORD_AUTH is enabled on the app client"
		}
		if strings.Contains(errStr, "UserNotFoundException") {
			return "Verify the Cognito user exists in the user pool behind the configured client_id"
		}
		if strings.Contains(errStr, "ResourceNotFoundException") {
			return "Verify cognito client_id and region"
		}

	case "agentcore":
		if strings.Contains(errStr, "Workload access token") {
			return "Workload identity is only granted inside the AgentCore runtime; configure password_exchange for other environments"
		}

	case "aws", "aws.secretsmanager", "aws.ssm":
		if strings.Contains(errStr, "credentials") || strings.Contains(errStr, "authorization") {
			return "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
		}
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for secretsmanager:GetSecretValue and secretsmanager:PutSecretValue"
		}
		if strings.Contains(errStr, "ResourceNotFoundException") {
			return "Verify the secret name and region. List secrets with: 'aws secretsmanager list-secrets'"
		}
		if strings.Contains(errStr, "ThrottlingException") {
			return "AWS rate limit exceeded. Wait a moment and try again"
		}
	}

	// Generic suggestions
	if strings.Contains(errStr, "timeout") {
		return "The operation timed out. Check your network connection and try again"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network and gateway_url"
	}

	return ""
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Unwrap to get the root cause
	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	// Already a user-friendly error
	if _, ok := err.(UserError); ok {
		return err
	}
	if _, ok := err.(ConfigError); ok {
		return err
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return err
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	return err
}
