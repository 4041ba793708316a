package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Logger provides leveled logging with redaction support
type Logger struct {
	debug   bool
	noColor bool

	mu  sync.Mutex
	out io.Writer
}

// New creates a new logger instance writing to stderr
func New(debug, noColor bool) *Logger {
	return &Logger{
		debug:   debug,
		noColor: noColor,
		out:     os.Stderr,
	}
}

// NewWithWriter creates a logger writing to w. Colour is always disabled.
func NewWithWriter(w io.Writer, debug bool) *Logger {
	return &Logger{
		debug:   debug,
		noColor: true,
		out:     w,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWithWriter(io.Discard, false)
}

// IsDebug reports whether debug output is enabled.
func (l *Logger) IsDebug() bool {
	return l.debug
}

func (l *Logger) write(color, plain, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.noColor {
		fmt.Fprintf(l.out, "%s %s\n", color, msg)
	} else {
		fmt.Fprintf(l.out, "%s %s\n", plain, msg)
	}
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.write("\033[32m✓\033[0m", "✓", fmt.Sprintf(format, args...))
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write("\033[33m⚠\033[0m", "⚠", fmt.Sprintf(format, args...))
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.write("\033[31m✗\033[0m", "✗", fmt.Sprintf(format, args...))
}

// Debug logs a debug message if debug mode is enabled
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.write("\033[36m[DEBUG]\033[0m", "[DEBUG]", fmt.Sprintf(format, args...))
}

// Secret represents a value that should be redacted in logs
type Secret string

// String implements the Stringer interface, always returning a redacted value
func (s Secret) String() string {
	return "[REDACTED]"
}

// GoString implements the GoStringer interface for %#v formatting
func (s Secret) GoString() string {
	return "[REDACTED]"
}

// Fingerprint identifies a token in logs without revealing it: the first
// eight hex characters of its SHA-256. Two log lines with the same
// fingerprint refer to the same token.
type Fingerprint string

// String returns "tok:<8 hex>" or "tok:<none>" for an empty token.
func (f Fingerprint) String() string {
	if f == "" {
		return "tok:<none>"
	}
	sum := sha256.Sum256([]byte(f))
	return "tok:" + hex.EncodeToString(sum[:4])
}

// GoString matches String so %#v cannot leak the token.
func (f Fingerprint) GoString() string {
	return f.String()
}

// Redact replaces sensitive values in a string with [REDACTED]
func Redact(s string, secrets []string) string {
	result := s
	for _, secret := range secrets {
		if secret != "" && len(secret) > 3 { // Only redact non-trivial secrets
			result = strings.ReplaceAll(result, secret, "[REDACTED]")
		}
	}
	return result
}
