// Package execenv runs a child process with a bearer token injected into
// its environment.
package execenv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	dserrors "github.com/systmms/gatewayauth/internal/errors"
	"github.com/systmms/gatewayauth/internal/logging"
	"github.com/systmms/gatewayauth/internal/secure"
)

// DefaultTokenVar is the variable the token is exported as.
const DefaultTokenVar = "GATEWAY_BEARER_TOKEN"

// Executor runs commands with an injected token.
type Executor struct {
	logger *logging.Logger
}

// New creates a new executor
func New(logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Executor{logger: logger}
}

// Options configures command execution
type Options struct {
	Command []string
	// Token is exported as TokenVar. It is only decrypted while the
	// environment is built.
	Token    *secure.Credential
	TokenVar string
	// Extra variables, e.g. the gateway URL.
	Environment map[string]string
	// KeepExisting leaves variables already set in the parent untouched.
	KeepExisting bool
	WorkingDir   string
	Timeout      time.Duration

	Stdin          io.Reader
	Stdout, Stderr io.Writer
}

// ExitError reports a child that ran and exited non-zero.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
}

// Exec runs the command and waits for it.
func (e *Executor) Exec(ctx context.Context, opts Options) error {
	if len(opts.Command) == 0 {
		return dserrors.UserError{
			Message:    "No command specified",
			Suggestion: "Provide a command after -- (e.g., gatewayauth exec -- curl $GATEWAY_URL)",
		}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	name := opts.Command[0]
	if _, err := exec.LookPath(name); err != nil {
		return dserrors.UserError{
			Message:    fmt.Sprintf("Command not found: %s", name),
			Details:    err.Error(),
			Suggestion: "Check that the command is installed and on PATH",
			Err:        err,
		}
	}

	tokenVar := opts.TokenVar
	if tokenVar == "" {
		tokenVar = DefaultTokenVar
	}

	var env []string
	err := opts.Token.Use(func(plain string) error {
		vars := make(map[string]string, len(opts.Environment)+1)
		for k, v := range opts.Environment {
			vars[k] = v
		}
		vars[tokenVar] = plain
		env = buildEnvironment(os.Environ(), vars, opts.KeepExisting)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}

	cmd := exec.CommandContext(ctx, name, opts.Command[1:]...)
	cmd.Env = env
	cmd.Dir = opts.WorkingDir
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	e.logger.Debug("Executing %s with %s set", strings.Join(opts.Command, " "), tokenVar)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Command: name, Code: exitErr.ExitCode()}
		}
		return dserrors.UserError{
			Message:    fmt.Sprintf("Failed to run %s", name),
			Details:    err.Error(),
			Suggestion: "Check the command output above for details",
			Err:        err,
		}
	}
	return nil
}

// buildEnvironment merges vars into the parent environment. Injected
// values win unless keepExisting is set.
func buildEnvironment(parent []string, vars map[string]string, keepExisting bool) []string {
	envMap := make(map[string]string, len(parent)+len(vars))
	for _, kv := range parent {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envMap[k] = v
		}
	}

	for k, v := range vars {
		if _, exists := envMap[k]; exists && keepExisting {
			continue
		}
		envMap[k] = v
	}

	result := make([]string, 0, len(envMap))
	for k, v := range envMap {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}
