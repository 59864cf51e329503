package helseid

import (
	"context"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
)

// DiscoverTokenEndpoint reads the token endpoint from the authority's
// OpenID Connect discovery document (/.well-known/openid-configuration).
//
// The issuer in the document must match authority.
func DiscoverTokenEndpoint(ctx context.Context, authority string, httpClient *http.Client) (string, error) {
	if httpClient != nil {
		ctx = oidc.ClientContext(ctx, httpClient)
	}

	provider, err := oidc.NewProvider(ctx, authority)
	if err != nil {
		return "", WrapDiscoveryError(err, "failed to discover HelseId endpoints")
	}

	var endpoints struct {
		TokenEndpoint string `json:"token_endpoint"`
	}
	if err := provider.Claims(&endpoints); err != nil {
		return "", WrapDiscoveryError(err, "failed to read discovery document")
	}
	if endpoints.TokenEndpoint == "" {
		return "", NewDiscoveryError("discovery document has no token_endpoint")
	}

	return endpoints.TokenEndpoint, nil
}
