package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/gatewayauth/internal/validator"
)

type staticProber validator.Outcome

func (p staticProber) Probe(context.Context, string, string) validator.Outcome {
	return validator.Outcome(p)
}

type staticProvider string

func (p staticProvider) Name() string                             { return "static" }
func (p staticProvider) Exchange(context.Context) (string, error) { return string(p), nil }

func TestMachineTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		cfg   Config
		start state
		want  []state
		token string
	}{
		{
			name:  "inline valid",
			cfg:   Config{InlineToken: "a", GatewayURL: "https://gw", Validator: staticProber(validator.Classify(200, nil))},
			start: resolving,
			want:  []state{resolving, validating, done},
			token: "a",
		},
		{
			name: "inline rejected",
			cfg: Config{
				InlineToken: "a", GatewayURL: "https://gw",
				Validator:        staticProber(validator.Classify(403, nil)),
				PasswordExchange: staticProvider("b"),
			},
			start: resolving,
			want:  []state{resolving, validating, refreshing, done},
			token: "b",
		},
		{
			name:  "exchange only",
			cfg:   Config{PasswordExchange: staticProvider("b")},
			start: resolving,
			want:  []state{resolving, resolving, resolving, resolving, done},
			token: "b",
		},
		{
			name:  "nothing configured",
			cfg:   Config{},
			start: resolving,
			want:  []state{resolving, resolving, resolving, resolving, resolving, failed},
		},
		{
			name:  "revalidation starts at validating",
			cfg:   Config{GatewayURL: "https://gw", Validator: staticProber(validator.Classify(503, nil))},
			start: validating,
			want:  []state{validating, done},
			token: "x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := New(tt.cfg)
			require.NoError(t, err)

			m := &machine{b: b, state: tt.start, resolution: tt.start == resolving}
			if tt.start == validating {
				m.candidate = Result{Token: "x", Source: ConfigSupplied}
			}
			res, _ := m.run(context.Background())
			assert.Equal(t, tt.want, m.trace)
			assert.Equal(t, tt.token, res.Token)
		})
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "refreshing", refreshing.String())
	assert.Equal(t, "password_exchange", PasswordExchange.String())
	assert.Equal(t, "caller", CallerSupplied.String())
}
