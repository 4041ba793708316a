package credstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/zalando/go-keyring"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/systmms/gatewayauth/internal/credstore"
	dserrors "github.com/systmms/gatewayauth/internal/errors"
	"github.com/systmms/gatewayauth/tests/fakes"
	"github.com/systmms/gatewayauth/tests/testutil"
)

func TestRecordWireFormat(t *testing.T) {
	t.Parallel()

	raw, err := credstore.Marshal(credstore.Record{Token: "abc"})
	require.NoError(t, err)
	assert.Equal(t, credstore.DefaultKeyID, gjson.Get(raw, "bearer_key").String())
	assert.Equal(t, "abc", gjson.Get(raw, "bearer_token").String())

	tests := []struct {
		name    string
		raw     string
		want    credstore.Record
		wantErr error
	}{
		{"full", `{"bearer_key":"k","bearer_token":"t"}`, credstore.Record{KeyID: "k", Token: "t"}, nil},
		{"extra fields ignored", `{"bearer_token":"t","other":1}`, credstore.Record{Token: "t"}, nil},
		{"missing token", `{"bearer_key":"k"}`, credstore.Record{}, credstore.ErrNotFound},
		{"empty token", `{"bearer_key":"k","bearer_token":""}`, credstore.Record{}, credstore.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := credstore.Unmarshal(tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = credstore.Unmarshal("not json")
	require.Error(t, err)
	assert.NotErrorIs(t, err, credstore.ErrNotFound)
}

func TestMemoryStoreContract(t *testing.T) {
	testutil.RunStoreContractTests(t, testutil.StoreTestCase{
		Name:       "memory",
		Store:      credstore.NewMemoryStore(),
		RecordName: "mcp/creds",
	})
}

func TestSecretsManagerStoreContract(t *testing.T) {
	fake := fakes.NewFakeSecretsManagerClient()
	store, err := credstore.NewSecretsManagerStore(nil, credstore.WithSecretsManagerClient(fake))
	require.NoError(t, err)

	testutil.RunStoreContractTests(t, testutil.StoreTestCase{
		Name:       "aws.secretsmanager",
		Store:      store,
		RecordName: "mcp/creds",
	})
}

func TestSecretsManagerStoreCreatesWithDescription(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeSecretsManagerClient()
	store, err := credstore.NewSecretsManagerStore(
		map[string]interface{}{"description": "gateway creds"},
		credstore.WithSecretsManagerClient(fake),
	)
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "new-secret", credstore.Record{Token: "t1"}))
	assert.Equal(t, "gateway creds", fake.Descriptions["new-secret"])

	raw, ok := fake.SecretString("new-secret")
	require.True(t, ok)
	assert.Equal(t, "t1", gjson.Get(raw, "bearer_token").String())
}

func TestSecretsManagerStoreErrors(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeSecretsManagerClient()
	fake.AddError("denied", errors.New("AccessDeniedException: not allowed"))
	fake.AddSecretString("garbage", "{{{")
	fake.AddSecretString("tokenless", `{"bearer_key":"k"}`)

	store, err := credstore.NewSecretsManagerStore(nil, credstore.WithSecretsManagerClient(fake))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Get(ctx, "denied")
	assert.ErrorIs(t, err, dserrors.ErrStore)
	assert.NotErrorIs(t, err, credstore.ErrNotFound)

	_, err = store.Get(ctx, "garbage")
	assert.ErrorIs(t, err, dserrors.ErrStore)

	_, err = store.Get(ctx, "tokenless")
	assert.ErrorIs(t, err, credstore.ErrNotFound)

	err = store.Put(ctx, "denied", credstore.Record{Token: "x"})
	assert.ErrorIs(t, err, dserrors.ErrStore)
}

func TestSecretsManagerStoreValidate(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeSecretsManagerClient()
	store, err := credstore.NewSecretsManagerStore(nil, credstore.WithSecretsManagerClient(fake))
	require.NoError(t, err)
	require.NoError(t, store.Validate(context.Background()))

	fake.ListSecretsFunc = func(context.Context, *secretsmanager.ListSecretsInput) (*secretsmanager.ListSecretsOutput, error) {
		return nil, errors.New("no credentials")
	}
	assert.ErrorIs(t, store.Validate(context.Background()), dserrors.ErrStore)
}

func TestSSMStoreContract(t *testing.T) {
	fake := fakes.NewFakeSSMClient()
	store, err := credstore.NewSSMStore(map[string]interface{}{"parameter_prefix": "/gateway/"}, credstore.WithSSMClient(fake))
	require.NoError(t, err)

	testutil.RunStoreContractTests(t, testutil.StoreTestCase{
		Name:       "aws.ssm",
		Store:      store,
		RecordName: "creds",
	})

	_, ok := fake.Parameters["/gateway/creds"]
	assert.True(t, ok, "prefix should be applied to the parameter name")
	assert.Equal(t, ssmtypes.ParameterTypeSecureString, fake.Types["/gateway/creds"])
}

func TestSSMStoreErrors(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeSSMClient()
	fake.Errors["broken"] = errors.New("ThrottlingException")
	store, err := credstore.NewSSMStore(nil, credstore.WithSSMClient(fake))
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "broken")
	assert.ErrorIs(t, err, dserrors.ErrStore)
	require.NoError(t, store.Validate(context.Background()))
}

func TestGCPStoreContract(t *testing.T) {
	fake := fakes.NewFakeGCPSecretManagerClient()
	store, err := credstore.NewGCPSecretManagerStore(
		map[string]interface{}{"project_id": "proj"},
		credstore.WithGCPClient(fake),
	)
	require.NoError(t, err)

	testutil.RunStoreContractTests(t, testutil.StoreTestCase{
		Name:       "gcp.secretmanager",
		Store:      store,
		RecordName: "mcp-creds",
	})

	assert.True(t, fake.Secrets["projects/proj/secrets/mcp-creds"])
	assert.GreaterOrEqual(t, fake.Versions["projects/proj/secrets/mcp-creds"], 3)
}

func TestGCPStoreRequiresProject(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GCLOUD_PROJECT", "")
	t.Setenv("GCP_PROJECT", "")

	_, err := credstore.NewGCPSecretManagerStore(nil, credstore.WithGCPClient(fakes.NewFakeGCPSecretManagerClient()))
	require.Error(t, err)
	assert.True(t, dserrors.IsConfigError(err))
}

func TestGCPStorePermissionDenied(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeGCPSecretManagerClient()
	fake.Errors["projects/proj/secrets/locked"] = status.Error(codes.PermissionDenied, "denied")
	store, err := credstore.NewGCPSecretManagerStore(map[string]interface{}{"project_id": "proj"}, credstore.WithGCPClient(fake))
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "locked")
	assert.ErrorIs(t, err, dserrors.ErrStore)
}

func TestAzureStoreContract(t *testing.T) {
	fake := fakes.NewFakeAzureKeyVaultClient()
	store, err := credstore.NewAzureKeyVaultStore(
		map[string]interface{}{"vault_url": "https://unit.vault.azure.net/"},
		credstore.WithAzureClient(fake),
	)
	require.NoError(t, err)

	testutil.RunStoreContractTests(t, testutil.StoreTestCase{
		Name:       "azure.keyvault",
		Store:      store,
		RecordName: "mcp-creds",
	})
	assert.Equal(t, "application/json", fake.ContentTypes["mcp-creds"])
}

func TestAzureStoreRejectsBadURL(t *testing.T) {
	t.Parallel()

	for _, u := range []string{"", "http://insecure.vault.azure.net"} {
		_, err := credstore.NewAzureKeyVaultStore(
			map[string]interface{}{"vault_url": u},
			credstore.WithAzureClient(fakes.NewFakeAzureKeyVaultClient()),
		)
		require.Error(t, err, u)
		assert.True(t, dserrors.IsConfigError(err), u)
	}
}

func TestKeyringStoreContract(t *testing.T) {
	keyring.MockInit()

	testutil.RunStoreContractTests(t, testutil.StoreTestCase{
		Name:            "keyring",
		Store:           credstore.NewKeyringStore(nil),
		RecordName:      "mcp",
		SkipConcurrency: true,
	})
}

func TestBoltStoreContract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "creds.db")
	store, err := credstore.OpenBoltStore(path, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	testutil.RunStoreContractTests(t, testutil.StoreTestCase{
		Name:       "file",
		Store:      store,
		RecordName: "mcp",
	})
}

func TestBoltStorePersistsAcrossOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "creds.db")
	ctx := context.Background()

	store, err := credstore.OpenBoltStore(path, time.Second)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "mcp", credstore.Record{KeyID: "k", Token: "persisted"}))
	require.NoError(t, store.Close())

	reopened, err := credstore.OpenBoltStore(path, time.Second)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "mcp")
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Token)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := credstore.NewRegistry()
	assert.Equal(t, []string{
		"akeyless", "aws.secretsmanager", "aws.ssm", "azure.keyvault", "file",
		"gcp.secretmanager", "keyring", "memory", "sql",
	}, r.Types())

	store, err := r.Create("memory", nil)
	require.NoError(t, err)
	assert.Equal(t, "memory", store.Name())

	store, err = r.Create("file", map[string]interface{}{
		"path":         filepath.Join(t.TempDir(), "r.db"),
		"open_timeout": "2s",
	})
	require.NoError(t, err)
	assert.Equal(t, "file", store.Name())
	require.NoError(t, store.(*credstore.BoltStore).Close())

	_, err = r.Create("vault", nil)
	require.Error(t, err)
	assert.True(t, dserrors.IsConfigError(err))
}

func TestAkeylessStoreContract(t *testing.T) {
	fake := fakes.NewFakeAkeylessClient()
	store, err := credstore.NewAkeylessStore(nil, credstore.WithAkeylessClient(fake))
	require.NoError(t, err)

	testutil.RunStoreContractTests(t, testutil.StoreTestCase{
		Name:       "akeyless",
		Store:      store,
		RecordName: "/gateway/mcp-creds",
	})

	assert.Equal(t, credstore.DefaultDescription, fake.Descriptions["/gateway/mcp-creds"])
	assert.Equal(t, 1, fake.AuthCalls(), "access token must be reused while valid")
}

func TestAkeylessStoreReauthenticatesAfterExpiry(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeAkeylessClient()
	fake.TokenTTL = -time.Second
	store, err := credstore.NewAkeylessStore(nil, credstore.WithAkeylessClient(fake))
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "creds", credstore.Record{Token: "a"}))
	_, err = store.Get(context.Background(), "creds")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.AuthCalls())
}

func TestAkeylessStoreErrors(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeAkeylessClient()
	fake.Errors["denied"] = errors.New("akeyless: permission denied")
	fake.Secrets["tokenless"] = `{"bearer_key":"k"}`
	store, err := credstore.NewAkeylessStore(map[string]interface{}{"description": "gw"}, credstore.WithAkeylessClient(fake))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Get(ctx, "denied")
	assert.ErrorIs(t, err, dserrors.ErrStore)
	assert.NotErrorIs(t, err, credstore.ErrNotFound)

	_, err = store.Get(ctx, "tokenless")
	assert.ErrorIs(t, err, credstore.ErrNotFound)

	assert.ErrorIs(t, store.Put(ctx, "denied", credstore.Record{Token: "x"}), dserrors.ErrStore)

	require.NoError(t, store.Put(ctx, "new", credstore.Record{Token: "x"}))
	assert.Equal(t, "gw", fake.Descriptions["new"])

	fake.AuthErr = errors.New("invalid access key")
	other, err := credstore.NewAkeylessStore(nil, credstore.WithAkeylessClient(fake))
	require.NoError(t, err)
	err = other.Validate(ctx)
	assert.ErrorIs(t, err, dserrors.ErrStore)
	assert.Contains(t, err.Error(), "invalid access key")
}

func TestAkeylessStoreSettings(t *testing.T) {
	t.Parallel()

	_, err := credstore.NewAkeylessStore(nil)
	require.Error(t, err)
	assert.True(t, dserrors.IsConfigError(err))
	assert.Contains(t, err.Error(), "store.access_id")

	_, err = credstore.NewAkeylessStore(map[string]interface{}{"access_id": "p-123"})
	assert.Contains(t, err.Error(), "store.access_key")

	store, err := credstore.NewAkeylessStore(map[string]interface{}{"access_id": "p-123", "access_type": "aws_iam"})
	require.NoError(t, err)
	assert.Equal(t, "akeyless", store.Name())

	r := credstore.NewRegistry()
	store2, err := r.Create("akeyless", map[string]interface{}{"access_id": "p-123", "access_key": "k"})
	require.NoError(t, err)
	assert.Equal(t, "akeyless", store2.Name())
}

func TestStoreErrorMessage(t *testing.T) {
	t.Parallel()

	err := &credstore.StoreError{Backend: "aws.ssm", Op: "get", Name: "/x", Err: errors.New("boom")}
	assert.Equal(t, `aws.ssm get "/x": boom`, err.Error())
	assert.ErrorIs(t, err, dserrors.ErrStore)

	err = &credstore.StoreError{Backend: "aws.ssm", Op: "validate", Err: errors.New("boom")}
	assert.Equal(t, "aws.ssm validate: boom", err.Error())
}
