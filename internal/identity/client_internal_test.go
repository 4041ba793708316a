package identity

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentCoreClientBuiltOnceUnderConcurrency(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIDTEST")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	t.Setenv("AWS_CONFIG_FILE", t.TempDir()+"/config")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", t.TempDir()+"/credentials")

	p := NewAgentCoreProvider(map[string]interface{}{"region": "us-west-2"})

	const workers = 8
	clients := make([]AgentCoreClientAPI, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.awsClient(context.Background())
			assert.NoError(t, err)
			clients[i] = c
		}(i)
	}
	wg.Wait()

	require.NotNil(t, clients[0])
	for _, c := range clients[1:] {
		assert.Same(t, clients[0], c)
	}
}

func TestAzureCredentialBuiltOnceUnderConcurrency(t *testing.T) {
	t.Parallel()

	p, err := NewAzureManagedIdentityProvider(map[string]interface{}{"scope": "api://gw/.default"})
	require.NoError(t, err)

	const workers = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		built = map[interface{}]bool{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred, err := p.tokenCredential()
			assert.NoError(t, err)
			mu.Lock()
			built[cred] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, built, 1)
}
