package dpop

import "github.com/go-jose/go-jose/v4"

const (
	// TypeDPoP is the required typ header value for DPoP proofs.
	TypeDPoP = "dpop+jwt"

	// HeaderName is the HTTP request header carrying the proof.
	HeaderName = "DPoP"

	// NonceHeaderName is the HTTP response header carrying a server nonce.
	NonceHeaderName = "DPoP-Nonce"

	// AuthorizationScheme prefixes DPoP bound access tokens in the Authorization header.
	AuthorizationScheme = "DPoP"
)

// Reserved claim names. These are always set by Build.
const (
	ClaimJTI   = "jti"
	ClaimHTM   = "htm"
	ClaimHTU   = "htu"
	ClaimIAT   = "iat"
	ClaimNonce = "nonce"
	ClaimATH   = "ath"
)

var reservedClaims = []string{ClaimJTI, ClaimHTM, ClaimHTU, ClaimIAT, ClaimNonce, ClaimATH}

// SupportedAlgorithms are the proof signing algorithms accepted by Verify.
var SupportedAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
}
