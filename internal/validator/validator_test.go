package validator_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/systmms/gatewayauth/internal/validator"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		kind      validator.Kind
		transient bool
	}{
		{"ok", 200, `{"jsonrpc":"2.0","id":"1","result":{}}`, validator.Valid, false},
		{"accepted", 202, "", validator.Valid, false},
		{"marker in 200", 200, `{"error":{"message":"Invalid Bearer token"}}`, validator.AuthRejected, false},
		{"forbidden", 403, "", validator.AuthRejected, false},
		{"unauthorized", 401, "", validator.AuthRejected, false},
		{"marker in 400", 400, "Invalid Bearer token supplied", validator.AuthRejected, false},
		{"marker in 500 ignored", 500, "Invalid Bearer token", validator.OtherError, true},
		{"bad request", 400, `{"error":{"message":"malformed"}}`, validator.OtherError, false},
		{"not found", 404, "", validator.OtherError, false},
		{"request timeout", 408, "", validator.OtherError, true},
		{"throttled", 429, "", validator.OtherError, true},
		{"server error", 500, "", validator.OtherError, true},
		{"bad gateway", 502, "<html>", validator.OtherError, true},
		{"redirect", 302, "", validator.OtherError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			first := validator.Classify(tt.status, []byte(tt.body))
			assert.Equal(t, tt.kind, first.Kind)
			assert.Equal(t, tt.transient, first.Transient)
			assert.Equal(t, tt.status, first.StatusCode)

			// Same input, same outcome.
			for i := 0; i < 3; i++ {
				assert.Equal(t, first, validator.Classify(tt.status, []byte(tt.body)))
			}
		})
	}
}

func TestClassifyDetail(t *testing.T) {
	t.Parallel()

	out := validator.Classify(400, []byte(`{"jsonrpc":"2.0","error":{"code":-32600,"message":"bad params"}}`))
	assert.Equal(t, "bad params", out.Detail)
	assert.Equal(t, "rejected (status 400): bad params", out.String())

	out = validator.Classify(503, []byte("  upstream down \n"))
	assert.Equal(t, "upstream down", out.Detail)
	assert.Equal(t, "transient", out.Label())
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	out := validator.ClassifyError(errors.New("dial tcp 127.0.0.1:1: connect: connection refused"))
	assert.Equal(t, validator.OtherError, out.Kind)
	assert.True(t, out.Transient)

	out = validator.ClassifyError(context.DeadlineExceeded)
	assert.True(t, out.Transient)

	out = validator.ClassifyError(context.Canceled)
	assert.False(t, out.Transient)
}

func TestProbeRequestShape(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotHeader http.Header
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	v := validator.New(validator.ProbeConfig{}, validator.WithHTTPClient(srv.Client()))
	out := v.Probe(context.Background(), "tok-123", srv.URL+"/")
	require.Equal(t, validator.Valid, out.Kind)

	assert.Equal(t, "/mcp", gotPath)
	assert.Equal(t, "Bearer tok-123", gotHeader.Get("Authorization"))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "application/json, text/event-stream", gotHeader.Get("Accept"))

	body := string(gotBody)
	assert.Equal(t, "2.0", gjson.Get(body, "jsonrpc").String())
	assert.Equal(t, "initialize", gjson.Get(body, "method").String())
	assert.Equal(t, "2024-11-05", gjson.Get(body, "params.protocolVersion").String())
	assert.True(t, gjson.Get(body, "params.capabilities").IsObject())
	assert.Equal(t, "robot-agentic-ai", gjson.Get(body, "params.clientInfo.name").String())
	assert.Equal(t, "1.0.0", gjson.Get(body, "params.clientInfo.version").String())
}

func TestProbeOutcomes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			w.WriteHeader(http.StatusOK)
		case "Bearer marker":
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, `{"error":{"message":"Invalid Bearer token"}}`)
		case "Bearer slow":
			time.Sleep(200 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		case "Bearer broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	v := validator.New(validator.ProbeConfig{Timeout: 50 * time.Millisecond}, validator.WithHTTPClient(srv.Client()))
	ctx := context.Background()

	assert.Equal(t, validator.Valid, v.Probe(ctx, "good", srv.URL).Kind)
	assert.Equal(t, validator.AuthRejected, v.Probe(ctx, "marker", srv.URL).Kind)
	assert.Equal(t, validator.AuthRejected, v.Probe(ctx, "expired", srv.URL).Kind)

	out := v.Probe(ctx, "broken", srv.URL)
	assert.Equal(t, validator.OtherError, out.Kind)
	assert.True(t, out.Transient)

	out = v.Probe(ctx, "slow", srv.URL)
	assert.Equal(t, validator.OtherError, out.Kind)
	assert.True(t, out.Transient, "timeout must not be treated as a rejection")
}

func TestProbeUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out := validator.New(validator.ProbeConfig{Timeout: time.Second}).Probe(context.Background(), "t", url)
	assert.Equal(t, validator.OtherError, out.Kind)
	assert.True(t, out.Transient)
	assert.Error(t, out.Err)
}
