package testutil

import (
	"os"
	"testing"
)

// gatewayEnvVars are the variables config.Load reads.
var gatewayEnvVars = []string{
	"GATEWAYAUTH_BEARER_TOKEN",
	"GATEWAYAUTH_GATEWAY_URL",
	"GATEWAYAUTH_SECRET_NAME",
	"GATEWAYAUTH_REGION",
	"GATEWAYAUTH_REQUEST_TIMEOUT",
	"GATEWAYAUTH_MAX_RETRIES",
	"GATEWAYAUTH_COGNITO_PASSWORD",
	"AGENTCORE_WORKLOAD_ACCESS_TOKEN",
}

// SetupTestEnv sets environment variables for the duration of a test.
// t.Setenv restores the previous values, so callers must not use
// t.Parallel.
//
// Example usage:
//
//	testutil.SetupTestEnv(t, map[string]string{
//	    "GATEWAYAUTH_GATEWAY_URL": "https://gw.example.com",
//	})
func SetupTestEnv(t *testing.T, vars map[string]string) {
	t.Helper()

	for key, value := range vars {
		t.Setenv(key, value)
	}
}

// ClearGatewayEnv unsets every variable the loader reads so a developer's
// shell cannot leak into a test.
func ClearGatewayEnv(t *testing.T) {
	t.Helper()

	for _, key := range gatewayEnvVars {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("Failed to unset environment variable %s: %v", key, err)
		}
	}
}
