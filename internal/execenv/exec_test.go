package execenv

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/gatewayauth/internal/errors"
	"github.com/systmms/gatewayauth/internal/secure"
)

func TestBuildEnvironment(t *testing.T) {
	t.Parallel()

	parent := []string{"PATH=/bin", "GATEWAY_BEARER_TOKEN=old", "MALFORMED"}

	tests := []struct {
		name         string
		keepExisting bool
		want         []string
	}{
		{
			name: "injected values win",
			want: []string{"GATEWAY_BEARER_TOKEN=new", "GATEWAY_URL=https://gw", "PATH=/bin"},
		},
		{
			name:         "keep existing",
			keepExisting: true,
			want:         []string{"GATEWAY_BEARER_TOKEN=old", "GATEWAY_URL=https://gw", "PATH=/bin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := buildEnvironment(parent, map[string]string{
				"GATEWAY_BEARER_TOKEN": "new",
				"GATEWAY_URL":          "https://gw",
			}, tt.keepExisting)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecInjectsToken(t *testing.T) {
	t.Setenv("GATEWAY_BEARER_TOKEN", "from-parent")

	token := secure.NewCredential("tok-123")
	defer token.Destroy()

	var out bytes.Buffer
	err := New(nil).Exec(context.Background(), Options{
		Command:     []string{"sh", "-c", `printf '%s|%s' "$GATEWAY_BEARER_TOKEN" "$GATEWAY_URL"`},
		Token:       token,
		Environment: map[string]string{"GATEWAY_URL": "https://gw"},
		Stdout:      &out,
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-123|https://gw", out.String())
}

func TestExecCustomVariable(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := New(nil).Exec(context.Background(), Options{
		Command:  []string{"sh", "-c", `printf '%s' "$MCP_TOKEN"`},
		Token:    secure.NewCredential("tok-456"),
		TokenVar: "MCP_TOKEN",
		Stdout:   &out,
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-456", out.String())
}

func TestExecExitCode(t *testing.T) {
	t.Parallel()

	err := New(nil).Exec(context.Background(), Options{
		Command: []string{"sh", "-c", "exit 3"},
		Token:   secure.NewCredential("tok"),
	})

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
}

func TestExecErrors(t *testing.T) {
	t.Parallel()

	t.Run("empty command", func(t *testing.T) {
		t.Parallel()
		err := New(nil).Exec(context.Background(), Options{})
		var userErr dserrors.UserError
		require.True(t, errors.As(err, &userErr))
		assert.Contains(t, userErr.Message, "No command specified")
	})

	t.Run("command not found", func(t *testing.T) {
		t.Parallel()
		err := New(nil).Exec(context.Background(), Options{
			Command: []string{"gatewayauth-no-such-command"},
			Token:   secure.NewCredential("tok"),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Command not found")
	})

	t.Run("destroyed token", func(t *testing.T) {
		t.Parallel()
		token := secure.NewCredential("tok")
		token.Destroy()
		err := New(nil).Exec(context.Background(), Options{
			Command: []string{"sh", "-c", "true"},
			Token:   token,
		})
		assert.ErrorIs(t, err, secure.ErrDestroyed)
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		err := New(nil).Exec(context.Background(), Options{
			Command: []string{"sh", "-c", "sleep 5"},
			Token:   secure.NewCredential("tok"),
			Timeout: 50 * time.Millisecond,
		})
		require.Error(t, err)
	})
}
