package dpop

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/information-sharing-networks/slash-messenger/internal/crypto"
)

type options struct {
	nonce       string
	accessToken string
	claims      map[string]any
	now         func() time.Time
}

// Option configures a proof built by Build
type Option func(*options)

// WithNonce adds the server provided nonce claim.
func WithNonce(nonce string) Option {
	return func(o *options) { o.nonce = nonce }
}

// WithAccessToken binds the proof to an access token by adding the ath claim.
func WithAccessToken(accessToken string) Option {
	return func(o *options) { o.accessToken = accessToken }
}

// WithClaims adds extra payload claims. Reserved claim names are ignored.
// Calling WithClaims more than once merges the claims, later values replacing earlier ones.
func WithClaims(claims map[string]any) Option {
	return func(o *options) {
		if o.claims == nil {
			o.claims = make(map[string]any, len(claims))
		}
		for k, v := range claims {
			o.claims[k] = v
		}
	}
}

// WithClock sets the clock used for the iat claim.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Build creates a signed DPoP proof for an HTTP request.
//
// Parameters:
//   - key: the proof key; its public half is embedded in the jwk header
//   - method: HTTP method used exactly as provided
//   - uri: full request URL; query and fragment are removed for the htu claim
//
// Returns the compact serialized JWT.
func Build(key *crypto.SigningKey, method, uri string, opts ...Option) (string, error) {
	if key == nil || key.Signer() == nil {
		return "", NewProofConstructionError("proof key is nil")
	}
	if method == "" {
		return "", NewProofConstructionError("HTTP method is required")
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	htu, err := NormalizeURI(uri)
	if err != nil {
		return "", WrapProofConstructionError(err, "failed to normalize URI")
	}

	publicJWK, err := PublicJWK(key)
	if err != nil {
		return "", err
	}

	signerOpts := (&jose.SignerOptions{}).WithType(TypeDPoP).WithHeader("jwk", publicJWK)

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: key.Algorithm(), Key: key.Signer()}, signerOpts)
	if err != nil {
		return "", WrapProofConstructionError(err, "failed to create signer")
	}

	claims := make(map[string]any, len(o.claims)+len(reservedClaims))
	for k, v := range o.claims {
		claims[k] = v
	}
	for _, name := range reservedClaims {
		delete(claims, name)
	}

	claims[ClaimJTI] = uuid.NewString()
	claims[ClaimHTM] = method
	claims[ClaimHTU] = htu
	claims[ClaimIAT] = o.now().Unix()
	if o.nonce != "" {
		claims[ClaimNonce] = o.nonce
	}
	if o.accessToken != "" {
		claims[ClaimATH] = crypto.AccessTokenHash(o.accessToken)
	}

	proof, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", WrapProofConstructionError(err, "failed to serialize proof")
	}

	return proof, nil
}

// PublicJWK returns the public half of the proof key as a JWK.
//
// RSA keys carry kty, n, e and alg. EC keys carry kty, crv, x and y.
func PublicJWK(key *crypto.SigningKey) (jose.JSONWebKey, error) {
	switch pub := key.Public().(type) {
	case *rsa.PublicKey:
		return jose.JSONWebKey{Key: pub, Algorithm: string(key.Algorithm())}, nil
	case *ecdsa.PublicKey:
		return jose.JSONWebKey{Key: pub}, nil
	default:
		return jose.JSONWebKey{}, NewUnsupportedKeyTypeError(fmt.Sprintf("unsupported proof key type %T (expected RSA or EC)", pub))
	}
}

// NormalizeURI normalizes a URI per RFC 9449 Section 4.2:
//   - Lowercase scheme and host
//   - Keep path exactly as-is
//   - Remove query string and fragment
//   - Remove default port (443 for https, 80 for http)
//
// Returns an error if the URI is empty or missing scheme/host.
func NormalizeURI(rawURI string) (string, error) {
	if rawURI == "" {
		return "", fmt.Errorf("URL cannot be empty")
	}

	parsed, err := url.Parse(rawURI)
	if err != nil {
		return "", err
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("URL must have scheme and host")
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())

	port := parsed.Port()
	if port != "" {
		isDefaultPort := (scheme == "https" && port == "443") || (scheme == "http" && port == "80")
		if !isDefaultPort {
			host = net.JoinHostPort(host, port)
		}
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}

	return scheme + "://" + host + path, nil
}
