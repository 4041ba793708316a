// Package testutil provides shared helpers for gatewayauth tests.
//
// This file implements the credential store contract suite. Every backend
// must behave the same way for the broker: missing records are ErrNotFound,
// Put creates or overwrites the whole record, and concurrent access is safe.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/gatewayauth/internal/credstore"
)

// StoreTestCase defines a store under test.
type StoreTestCase struct {
	// Name is a descriptive name for this test case (usually the backend name)
	Name string

	// Store is the backend under test. It must start empty for RecordName.
	Store credstore.Store

	// RecordName is the secret name used by the suite
	RecordName string

	// SkipConcurrency skips the concurrency test if true
	SkipConcurrency bool
}

// RunStoreContractTests runs the contract suite against tc.Store:
//   - Get on a missing record returns ErrNotFound
//   - Put then Get round-trips KeyID and Token
//   - Put overwrites an existing record
//   - an empty KeyID is written as the default key id
//   - concurrent Put/Get does not race
//
// Example usage:
//
//	testutil.RunStoreContractTests(t, testutil.StoreTestCase{
//	    Name:       "memory",
//	    Store:      credstore.NewMemoryStore(),
//	    RecordName: "mcp/creds",
//	})
func RunStoreContractTests(t *testing.T, tc StoreTestCase) {
	t.Helper()

	require.NotNil(t, tc.Store, "Store cannot be nil")
	require.NotEmpty(t, tc.Name, "Test case name cannot be empty")
	if tc.RecordName == "" {
		tc.RecordName = "contract-record"
	}

	ctx := context.Background()

	t.Run("Name", func(t *testing.T) {
		assert.NotEmpty(t, tc.Store.Name())
		assert.Equal(t, tc.Store.Name(), tc.Store.Name(), "Name() must be stable")
	})

	t.Run("MissingRecord", func(t *testing.T) {
		_, err := tc.Store.Get(ctx, tc.RecordName+"-missing")
		assert.ErrorIs(t, err, credstore.ErrNotFound)
	})

	t.Run("PutThenGet", func(t *testing.T) {
		rec := credstore.Record{KeyID: "k1", Token: "token-one"}
		require.NoError(t, tc.Store.Put(ctx, tc.RecordName, rec))

		got, err := tc.Store.Get(ctx, tc.RecordName)
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, tc.Store.Put(ctx, tc.RecordName, credstore.Record{KeyID: "k1", Token: "token-one"}))
		require.NoError(t, tc.Store.Put(ctx, tc.RecordName, credstore.Record{KeyID: "k2", Token: "token-two"}))

		got, err := tc.Store.Get(ctx, tc.RecordName)
		require.NoError(t, err)
		assert.Equal(t, "token-two", got.Token)
		assert.Equal(t, "k2", got.KeyID)
	})

	t.Run("DefaultKeyID", func(t *testing.T) {
		require.NoError(t, tc.Store.Put(ctx, tc.RecordName, credstore.Record{Token: "token-three"}))

		got, err := tc.Store.Get(ctx, tc.RecordName)
		require.NoError(t, err)
		assert.Equal(t, credstore.DefaultKeyID, got.KeyID)
	})

	if tc.SkipConcurrency {
		return
	}

	t.Run("Concurrency", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				errs <- tc.Store.Put(ctx, tc.RecordName, credstore.Record{KeyID: "k", Token: fmt.Sprintf("token-%d", i)})
			}(i)
			go func() {
				defer wg.Done()
				_, err := tc.Store.Get(ctx, tc.RecordName)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}
	})
}
