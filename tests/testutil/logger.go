package testutil

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/gatewayauth/internal/logging"
)

// lockedBuffer is a bytes.Buffer safe for concurrent writers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// TestLogger captures log output for validation in tests.
//
// It embeds a real *logging.Logger so it can be handed to any component,
// and records everything written so tests can check that tokens and
// passwords never reach the logs.
//
// Example usage:
//
//	logger := NewTestLogger(t)
//	b, _ := broker.New(broker.Config{Logger: logger.Logger})
//	...
//	logger.AssertNotContains(t, "s3cret-token")
type TestLogger struct {
	*logging.Logger
	out *lockedBuffer
}

// NewTestLogger creates a TestLogger with debug output enabled.
func NewTestLogger(t *testing.T) *TestLogger {
	t.Helper()

	out := &lockedBuffer{}
	return &TestLogger{Logger: logging.NewWithWriter(out, true), out: out}
}

// GetOutput returns everything logged so far.
func (l *TestLogger) GetOutput() string {
	return l.out.String()
}

// AssertContains asserts that the log output contains substr.
func (l *TestLogger) AssertContains(t *testing.T, substr string) {
	t.Helper()

	assert.Contains(t, l.GetOutput(), substr, "Expected log output to contain %q", substr)
}

// AssertNotContains asserts that the log output does NOT contain substr.
func (l *TestLogger) AssertNotContains(t *testing.T, substr string) {
	t.Helper()

	assert.NotContains(t, l.GetOutput(), substr, "Expected log output to NOT contain %q", substr)
}

// AssertLogCount asserts how many lines were logged at level.
//
// Level markers:
//   - Info: "✓"
//   - Warn: "⚠"
//   - Error: "✗"
//   - Debug: "[DEBUG]"
func (l *TestLogger) AssertLogCount(t *testing.T, level string, count int) {
	t.Helper()

	var marker string
	switch level {
	case "info":
		marker = "✓ "
	case "warn":
		marker = "⚠ "
	case "error":
		marker = "✗ "
	case "debug":
		marker = "[DEBUG] "
	default:
		t.Fatalf("Unknown log level: %s", level)
	}

	n := 0
	for _, line := range strings.Split(l.GetOutput(), "\n") {
		if strings.HasPrefix(line, marker) {
			n++
		}
	}
	assert.Equal(t, count, n, "Expected %d %s line(s)", count, level)
}
