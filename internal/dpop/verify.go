package dpop

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/information-sharing-networks/slash-messenger/internal/crypto"
)

// maxProofSize is the maximum accepted size of a DPoP proof in bytes.
const maxProofSize = 16 * 1024

// DefaultMaxProofAge is the accepted difference between a proof's iat and the verifier's clock.
const DefaultMaxProofAge = 60 * time.Second

// VerifyOptions are the request properties a proof must match
type VerifyOptions struct {
	// Method and URI of the request carrying the proof
	Method string
	URI    string

	// AccessToken, when set, must match the ath claim
	AccessToken string

	// Nonce, when set, must match the nonce claim
	Nonce string

	// MaxAge bounds the iat claim in both directions. Defaults to DefaultMaxProofAge.
	MaxAge time.Duration

	// Now defaults to time.Now
	Now func() time.Time
}

// VerifiedProof is a proof that passed Verify
type VerifiedProof struct {
	// PublicKey is the key embedded in the jwk header (*rsa.PublicKey or *ecdsa.PublicKey)
	PublicKey any

	// Thumbprint is the RFC 7638 thumbprint of PublicKey ("jkt")
	Thumbprint string

	// Claims is the full proof payload
	Claims map[string]any
}

// Verify checks a DPoP proof's signature against its embedded key and
// the proof's claims against the request described by opts.
//
// Validation order:
//  1. size, JWS structure and algorithm
//  2. typ header is "dpop+jwt" and jwk header holds a public key
//  3. signature verifies with the jwk header key
//  4. jti is present, htm and htu match the request
//  5. iat is within MaxAge of now
//  6. nonce matches when one is required (ErrCodeInvalidNonce)
//  7. ath matches when an access token is presented
func Verify(proof string, opts VerifyOptions) (*VerifiedProof, error) {
	if proof == "" {
		return nil, NewInvalidProofError("proof is missing")
	}
	if len(proof) > maxProofSize {
		return nil, NewInvalidProofError("proof exceeds maximum size")
	}

	jws, err := jose.ParseSigned(proof, SupportedAlgorithms)
	if err != nil {
		return nil, WrapInvalidProofError(err, "failed to parse proof")
	}
	if len(jws.Signatures) != 1 {
		return nil, NewInvalidProofError("proof must have exactly one signature")
	}

	header := jws.Signatures[0].Header
	if typ, _ := header.ExtraHeaders[jose.HeaderType].(string); typ != TypeDPoP {
		return nil, NewInvalidProofError(fmt.Sprintf("typ must be %q", TypeDPoP))
	}
	if header.JSONWebKey == nil {
		return nil, NewInvalidProofError("jwk header is required")
	}
	if !header.JSONWebKey.IsPublic() {
		return nil, NewInvalidProofError("jwk header must not contain a private key")
	}

	payload, err := jws.Verify(header.JSONWebKey)
	if err != nil {
		return nil, WrapInvalidProofError(err, "invalid proof signature")
	}

	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, WrapInvalidProofError(err, "invalid JSON in payload")
	}

	if jti, _ := claims[ClaimJTI].(string); jti == "" {
		return nil, NewInvalidProofError("jti claim is required")
	}

	if htm, _ := claims[ClaimHTM].(string); htm != opts.Method {
		return nil, NewInvalidProofError(fmt.Sprintf("htm %q does not match request method %q", htm, opts.Method))
	}

	htu, _ := claims[ClaimHTU].(string)
	proofURI, err := NormalizeURI(htu)
	if err != nil {
		return nil, WrapInvalidProofError(err, "invalid htu claim")
	}
	requestURI, err := NormalizeURI(opts.URI)
	if err != nil {
		return nil, WrapInvalidProofError(err, "invalid request URI")
	}
	if proofURI != requestURI {
		return nil, NewInvalidProofError(fmt.Sprintf("htu %q does not match request URI %q", proofURI, requestURI))
	}

	if err := checkIssuedAt(claims, opts); err != nil {
		return nil, err
	}

	if opts.Nonce != "" {
		nonce, _ := claims[ClaimNonce].(string)
		if nonce == "" {
			return nil, NewInvalidNonceError("nonce claim is required")
		}
		if subtle.ConstantTimeCompare([]byte(nonce), []byte(opts.Nonce)) != 1 {
			return nil, NewInvalidNonceError("nonce claim is not valid")
		}
	}

	if opts.AccessToken != "" {
		ath, _ := claims[ClaimATH].(string)
		if ath == "" {
			return nil, NewInvalidProofError("ath claim is required")
		}
		if subtle.ConstantTimeCompare([]byte(ath), []byte(crypto.AccessTokenHash(opts.AccessToken))) != 1 {
			return nil, NewInvalidProofError("ath claim does not match access token")
		}
	}

	thumbprint, err := crypto.PublicKeyThumbprint(header.JSONWebKey.Key)
	if err != nil {
		return nil, WrapInvalidProofError(err, "failed to compute key thumbprint")
	}

	return &VerifiedProof{
		PublicKey:  header.JSONWebKey.Key,
		Thumbprint: thumbprint,
		Claims:     claims,
	}, nil
}

func checkIssuedAt(claims map[string]any, opts VerifyOptions) error {
	iatValue, ok := claims[ClaimIAT].(float64)
	if !ok || iatValue <= 0 {
		return NewInvalidProofError("iat claim must be a positive number")
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	maxAge := opts.MaxAge
	if maxAge == 0 {
		maxAge = DefaultMaxProofAge
	}

	skew := now().Sub(time.Unix(int64(iatValue), 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > maxAge {
		return NewInvalidProofError(fmt.Sprintf("iat is outside the accepted window of %s", maxAge))
	}
	return nil
}
