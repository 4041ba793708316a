package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// AssertNoSecretLeak verifies that none of secrets appear in output.
//
// Example usage:
//
//	AssertNoSecretLeak(t, logger.GetOutput(), []string{"password123", "tok-abc"})
func AssertNoSecretLeak(t *testing.T, output string, secrets []string) {
	t.Helper()

	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		assert.NotContains(t, output, secret,
			"Secret %q should not appear in output", secret)
	}
}

// AssertErrorContains verifies that an error occurred and contains a substring.
//
// Example usage:
//
//	err := someOperation()
//	AssertErrorContains(t, err, "connection failed")
func AssertErrorContains(t *testing.T, err error, substr string) {
	t.Helper()

	assert.Error(t, err, "Expected an error to occur")
	if err != nil {
		assert.Contains(t, err.Error(), substr,
			"Error message should contain %q", substr)
	}
}
