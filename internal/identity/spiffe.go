package identity

import (
	"context"
	"os"

	"github.com/spiffe/go-spiffe/v2/svid/jwtsvid"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
)

// SPIFFESocketEnv is the standard Workload API address variable.
const SPIFFESocketEnv = "SPIFFE_ENDPOINT_SOCKET"

// JWTSVIDFetcher fetches a JWT-SVID for an audience.
type JWTSVIDFetcher func(ctx context.Context, addr, audience string) (string, error)

// SPIFFEProvider presents a JWT-SVID from the SPIFFE Workload API as the
// bearer token.
type SPIFFEProvider struct {
	audience string
	addr     string
	fetch    JWTSVIDFetcher
}

// SPIFFEOption configures the provider.
type SPIFFEOption func(*SPIFFEProvider)

// WithJWTSVIDFetcher replaces the Workload API call (for testing)
func WithJWTSVIDFetcher(fetch JWTSVIDFetcher) SPIFFEOption {
	return func(p *SPIFFEProvider) {
		p.fetch = fetch
	}
}

// NewSPIFFEProvider creates a workload-identity provider.
//
// Required settings: audience. Optional: socket (defaults to
// SPIFFE_ENDPOINT_SOCKET).
func NewSPIFFEProvider(settings map[string]interface{}, opts ...SPIFFEOption) (*SPIFFEProvider, error) {
	p := &SPIFFEProvider{
		audience: stringSetting(settings, "audience", ""),
		addr:     stringSetting(settings, "socket", os.Getenv(SPIFFESocketEnv)),
		fetch:    fetchJWTSVID,
	}
	if p.audience == "" {
		return nil, missingFields("workload_identity", []string{"audience"},
			"Set audience to the identifier the gateway expects in the SVID")
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func fetchJWTSVID(ctx context.Context, addr, audience string) (string, error) {
	svid, err := workloadapi.FetchJWTSVID(ctx, jwtsvid.Params{Audience: audience}, workloadapi.WithAddr(addr))
	if err != nil {
		return "", err
	}
	return svid.Marshal(), nil
}

// Name returns "spiffe".
func (p *SPIFFEProvider) Name() string {
	return "spiffe"
}

// Exchange fetches a JWT-SVID. No socket, or an unreachable agent, means
// the runtime granted no identity.
func (p *SPIFFEProvider) Exchange(ctx context.Context) (string, error) {
	if p.addr == "" {
		return "", unavailable(p.Name(), nil)
	}
	token, err := p.fetch(ctx, p.addr, p.audience)
	if err != nil {
		return "", unavailable(p.Name(), err)
	}
	return token, nil
}

// NewSPIFFEProviderFactory adapts NewSPIFFEProvider to the registry.
func NewSPIFFEProviderFactory(settings map[string]interface{}) (Provider, error) {
	return NewSPIFFEProvider(settings)
}
