package broker_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/gatewayauth/internal/broker"
	"github.com/systmms/gatewayauth/internal/credstore"
	dserrors "github.com/systmms/gatewayauth/internal/errors"
	"github.com/systmms/gatewayauth/internal/identity"
	"github.com/systmms/gatewayauth/internal/validator"
	"github.com/systmms/gatewayauth/tests/testutil"
)

const (
	gateway    = "https://gateway.example.com"
	secretName = "mcp/creds"
)

// recordingStore wraps a MemoryStore and counts calls.
type recordingStore struct {
	*credstore.MemoryStore

	mu     sync.Mutex
	gets   int
	puts   int
	getErr error
	putErr error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: credstore.NewMemoryStore()}
}

func (s *recordingStore) Get(ctx context.Context, name string) (credstore.Record, error) {
	s.mu.Lock()
	s.gets++
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return credstore.Record{}, err
	}
	return s.MemoryStore.Get(ctx, name)
}

func (s *recordingStore) Put(ctx context.Context, name string, rec credstore.Record) error {
	s.mu.Lock()
	s.puts++
	err := s.putErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.Put(ctx, name, rec)
}

func (s *recordingStore) counts() (gets, puts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.puts
}

// fakeProvider returns tokens in order, then repeats the last.
type fakeProvider struct {
	name string

	mu     sync.Mutex
	tokens []string
	err    error
	calls  int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Exchange(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	i := p.calls - 1
	if i >= len(p.tokens) {
		i = len(p.tokens) - 1
	}
	return p.tokens[i], nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// tokenProber accepts tokens in the valid set, rejects the rest, and
// reports a transient failure for tokens in the unreachable set.
type tokenProber struct {
	mu          sync.Mutex
	valid       map[string]bool
	unreachable map[string]bool
	probed      []string
}

func (p *tokenProber) Probe(_ context.Context, token, endpoint string) validator.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probed = append(p.probed, token)
	switch {
	case p.unreachable[token]:
		return validator.ClassifyError(errors.New("connection refused"))
	case p.valid[token]:
		return validator.Classify(200, nil)
	default:
		return validator.Classify(403, nil)
	}
}

func (p *tokenProber) probes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.probed...)
}

type fixture struct {
	store    *recordingStore
	workload *fakeProvider
	password *fakeProvider
	prober   *tokenProber
}

func newFixture() *fixture {
	return &fixture{
		store:    newRecordingStore(),
		workload: &fakeProvider{name: "workload", err: identity.ErrWorkloadIdentityUnavailable},
		password: &fakeProvider{name: "password", tokens: []string{"pw-1", "pw-2", "pw-3"}},
		prober:   &tokenProber{valid: map[string]bool{}, unreachable: map[string]bool{}},
	}
}

func (f *fixture) broker(t *testing.T, inline string) *broker.Broker {
	t.Helper()
	b, err := broker.New(broker.Config{
		InlineToken:      inline,
		GatewayURL:       gateway,
		SecretName:       secretName,
		KeyID:            "mcp_server_bearer_token",
		Store:            f.store,
		Validator:        f.prober,
		WorkloadIdentity: f.workload,
		PasswordExchange: f.password,
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) stored(t *testing.T) string {
	t.Helper()
	rec, err := f.store.MemoryStore.Get(context.Background(), secretName)
	require.NoError(t, err)
	return rec.Token
}

func TestResolveValidInlineTokenTouchesNothingElse(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.prober.valid["inline"] = true

	token, err := f.broker(t, "inline").Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "inline", token)

	gets, puts := f.store.counts()
	assert.Zero(t, gets)
	assert.Zero(t, puts)
	assert.Zero(t, f.workload.callCount())
	assert.Zero(t, f.password.callCount())
}

func TestResolveStoredValidToken(t *testing.T) {
	t.Parallel()

	f := newFixture()
	require.NoError(t, f.store.MemoryStore.Put(context.Background(), secretName, credstore.Record{Token: "stored"}))
	f.prober.valid["stored"] = true

	res, err := f.broker(t, "").ResolveResult(context.Background())
	require.NoError(t, err)
	assert.Equal(t, broker.Result{Token: "stored", Source: broker.SecretStore}, res)
	assert.Zero(t, f.password.callCount())
	assert.Zero(t, f.workload.callCount())
}

func TestResolveColdStartTriesWorkloadBeforePassword(t *testing.T) {
	t.Parallel()

	t.Run("workload succeeds", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		f.workload.err = nil
		f.workload.tokens = []string{"wl-1"}

		res, err := f.broker(t, "").ResolveResult(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "wl-1", res.Token)
		assert.Equal(t, broker.WorkloadIdentity, res.Source)
		assert.Zero(t, f.password.callCount())
		assert.Equal(t, "wl-1", f.stored(t))
		assert.Empty(t, f.prober.probes(), "exchanged tokens are not probed")
	})

	t.Run("workload unavailable", func(t *testing.T) {
		t.Parallel()
		f := newFixture()

		res, err := f.broker(t, "").ResolveResult(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "pw-1", res.Token)
		assert.Equal(t, broker.PasswordExchange, res.Source)
		assert.Equal(t, 1, f.workload.callCount())
		assert.Equal(t, 1, f.password.callCount())
		assert.Equal(t, "pw-1", f.stored(t))

		rec, err := f.store.MemoryStore.Get(context.Background(), secretName)
		require.NoError(t, err)
		assert.Equal(t, "mcp_server_bearer_token", rec.KeyID)
	})
}

func TestResolveAllSourcesFail(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.password.err = &identity.AuthError{Provider: "password", Reason: "bad password"}

	_, err := f.broker(t, "").Resolve(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, dserrors.ErrNoTokenAvailable)
	assert.ErrorIs(t, err, identity.ErrWorkloadIdentityUnavailable)
	assert.True(t, identity.IsAuthError(err))
	assert.ErrorIs(t, err, credstore.ErrNotFound)
}

func TestResolveStoreReadFailureFallsThrough(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.getErr = &credstore.StoreError{Backend: "memory", Op: "get", Err: errors.New("throttled")}

	token, err := f.broker(t, "").Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pw-1", token)
}

func TestRevalidationSkipsWorkloadIdentity(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.workload.err = nil
	f.workload.tokens = []string{"wl-1"}
	require.NoError(t, f.store.MemoryStore.Put(context.Background(), secretName, credstore.Record{Token: "expired"}))

	res, err := f.broker(t, "").ResolveResult(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pw-1", res.Token)
	assert.Equal(t, broker.SecretStore, res.Source)
	assert.True(t, res.Refreshed)
	assert.Zero(t, f.workload.callCount())
	assert.Equal(t, 1, f.password.callCount())
	assert.Equal(t, "pw-1", f.stored(t))
}

func TestValidateAndRefresh(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		setup       func(f *fixture)
		want        string
		wantPuts    int
		wantRefresh int
	}{
		{
			name:  "valid token unchanged",
			setup: func(f *fixture) { f.prober.valid["tok"] = true },
			want:  "tok",
		},
		{
			name:        "rejected token replaced and persisted",
			setup:       func(f *fixture) {},
			want:        "pw-1",
			wantPuts:    1,
			wantRefresh: 1,
		},
		{
			name:        "exchange failure keeps original",
			setup:       func(f *fixture) { f.password.err = errors.New("cognito down") },
			want:        "tok",
			wantRefresh: 1,
		},
		{
			name:  "probe failure is not an auth failure",
			setup: func(f *fixture) { f.prober.unreachable["tok"] = true },
			want:  "tok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture()
			tt.setup(f)

			got := f.broker(t, "").ValidateAndRefresh(context.Background(), "tok")
			assert.Equal(t, tt.want, got)

			_, puts := f.store.counts()
			assert.Equal(t, tt.wantPuts, puts)
			assert.Equal(t, tt.wantRefresh, f.password.callCount())
			assert.Zero(t, f.workload.callCount())
		})
	}
}

func TestValidateAndRefreshLabelsCallerToken(t *testing.T) {
	t.Parallel()

	f := newFixture()
	logger := testutil.NewTestLogger(t)
	b, err := broker.New(broker.Config{
		InlineToken:      "inline-tok",
		GatewayURL:       gateway,
		SecretName:       secretName,
		Store:            f.store,
		Validator:        f.prober,
		PasswordExchange: f.password,
		Logger:           logger.Logger,
	})
	require.NoError(t, err)

	assert.Equal(t, "pw-1", b.ValidateAndRefresh(context.Background(), "caller-tok"))
	logger.AssertContains(t, "Token from caller was rejected")
	logger.AssertNotContains(t, "from config")
	logger.AssertNotContains(t, "caller-tok")

	_, err = broker.ParseSourceKind(broker.CallerSupplied.String())
	assert.Error(t, err, "caller tokens cannot be named in an order")
	assert.Error(t, broker.ValidateOrder([]broker.SourceKind{broker.CallerSupplied}))
}

func TestValidationSkippedWithoutGateway(t *testing.T) {
	t.Parallel()

	f := newFixture()
	b, err := broker.New(broker.Config{
		InlineToken:      "inline",
		PasswordExchange: f.password,
		Validator:        f.prober,
	})
	require.NoError(t, err)

	token, err := b.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "inline", token)
	assert.Empty(t, f.prober.probes())
}

func TestForceRefreshPersistsAndResolveSeesIt(t *testing.T) {
	t.Parallel()

	f := newFixture()
	require.NoError(t, f.store.MemoryStore.Put(context.Background(), secretName, credstore.Record{Token: "old"}))
	f.prober.valid["old"] = true
	f.prober.valid["pw-1"] = true
	b := f.broker(t, "")

	token, err := b.ForceRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pw-1", token)
	assert.Zero(t, f.workload.callCount())

	resolved, err := b.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pw-1", resolved)
}

func TestForceRefreshFailures(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.password.err = &identity.AuthError{Provider: "password", Reason: "nope"}
	_, err := f.broker(t, "").ForceRefresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, dserrors.ErrNoTokenAvailable)
	assert.True(t, identity.IsAuthError(err))

	b, err := broker.New(broker.Config{})
	require.NoError(t, err)
	_, err = b.ForceRefresh(context.Background())
	require.Error(t, err)
	assert.True(t, dserrors.IsConfigError(err))
}

func TestStoreWriteFailureIsNotEscalated(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.putErr = &credstore.StoreError{Backend: "memory", Op: "put", Err: errors.New("access denied")}

	token, err := f.broker(t, "").ForceRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pw-1", token)

	token, err = f.broker(t, "").Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pw-2", token)
}

func TestResolveWithRetry(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.password.err = errors.New("cognito down")
	b := f.broker(t, "")

	_, err := b.ResolveWithRetry(context.Background(), 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, dserrors.ErrNoTokenAvailable)
	assert.Equal(t, 3, f.password.callCount())

	_, err = b.ResolveWithRetry(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, 4, f.password.callCount(), "attempts below 1 run once")
}

func TestNewRequiresSecretNameWithStore(t *testing.T) {
	t.Parallel()

	_, err := broker.New(broker.Config{Store: credstore.NewMemoryStore()})
	require.Error(t, err)
	assert.True(t, dserrors.IsConfigError(err))
}

func TestCustomOrder(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.workload.err = nil
	f.workload.tokens = []string{"wl-1"}

	b, err := broker.New(broker.Config{
		SecretName:       secretName,
		Store:            f.store,
		WorkloadIdentity: f.workload,
		PasswordExchange: f.password,
		Order:            []broker.SourceKind{broker.SecretStore, broker.PasswordExchange},
	})
	require.NoError(t, err)

	res, err := b.ResolveResult(context.Background())
	require.NoError(t, err)
	assert.Equal(t, broker.PasswordExchange, res.Source)
	assert.Zero(t, f.workload.callCount(), "omitted source is never tried")
}

func TestNewRejectsInvalidOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		order []broker.SourceKind
		want  string
	}{
		{"reversed", []broker.SourceKind{broker.PasswordExchange, broker.WorkloadIdentity}, "out of order"},
		{"duplicate", []broker.SourceKind{broker.SecretStore, broker.SecretStore}, "more than once"},
		{"duplicate after others", []broker.SourceKind{broker.ConfigSupplied, broker.PasswordExchange, broker.ConfigSupplied}, "out of order"},
		{"unknown", []broker.SourceKind{broker.SourceKind(9)}, "unknown token source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := broker.New(broker.Config{Order: tt.order})
			require.Error(t, err)
			assert.True(t, dserrors.IsConfigError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateOrder(t *testing.T) {
	t.Parallel()

	valid := [][]broker.SourceKind{
		broker.DefaultOrder,
		{broker.ConfigSupplied},
		{broker.SecretStore, broker.PasswordExchange},
		{broker.ConfigSupplied, broker.WorkloadIdentity},
		nil,
	}
	for _, order := range valid {
		assert.NoError(t, broker.ValidateOrder(order), "%v", order)
	}
	assert.Error(t, broker.ValidateOrder([]broker.SourceKind{broker.WorkloadIdentity, broker.SecretStore}))
}

func TestParseSourceKind(t *testing.T) {
	t.Parallel()

	for _, s := range broker.DefaultOrder {
		got, err := broker.ParseSourceKind(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := broker.ParseSourceKind("vault")
	assert.Error(t, err)
}
