package logging

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecretRedaction(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "secret is redacted",
			input:    "my-secret-password",
			expected: "[REDACTED]",
		},
		{
			name:     "empty secret is still redacted",
			input:    "",
			expected: "[REDACTED]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Secret(tt.input).String())
			assert.Equal(t, tt.expected, Secret(tt.input).GoString())
		})
	}
}

func TestLoggerWritesLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, true)

	logger.Info("info %s", "message")
	logger.Warn("warn message")
	logger.Error("error message")
	logger.Debug("debug message")

	out := buf.String()
	assert.Contains(t, out, "✓ info message")
	assert.Contains(t, out, "⚠ warn message")
	assert.Contains(t, out, "✗ error message")
	assert.Contains(t, out, "[DEBUG] debug message")
	assert.NotContains(t, out, "\033[")
}

func TestLoggerDebugDisabled(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false)

	logger.Debug("hidden")
	assert.Empty(t, buf.String())
	assert.False(t, logger.IsDebug())
}

func TestSecretNeverReachesOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, true)

	token := "eyJraWQiOiJ0ZXN0In0.payload.signature"
	logger.Info("token=%s", Secret(token))
	logger.Debug("token=%#v", Secret(token))
	logger.Info("token=%s", Fingerprint(token))

	assert.NotContains(t, buf.String(), token)
	assert.Equal(t, 2, strings.Count(buf.String(), "[REDACTED]"))
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("token-a").String()
	b := Fingerprint("token-b").String()

	assert.True(t, strings.HasPrefix(a, "tok:"))
	assert.Len(t, a, len("tok:")+8)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Fingerprint("token-a").String())
	assert.Equal(t, "tok:<none>", Fingerprint("").String())
	assert.Equal(t, a, fmt.Sprintf("%#v", Fingerprint("token-a")))
}

func TestRedactFunction(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		secrets  []string
		expected string
	}{
		{
			name:     "single secret redacted",
			input:    "The password is secret123",
			secrets:  []string{"secret123"},
			expected: "The password is [REDACTED]",
		},
		{
			name:     "empty secret ignored",
			input:    "This has no secrets",
			secrets:  []string{""},
			expected: "This has no secrets",
		},
		{
			name:     "short secret ignored",
			input:    "Short secret: ab",
			secrets:  []string{"ab"},
			expected: "Short secret: ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Redact(tt.input, tt.secrets))
		})
	}
}
