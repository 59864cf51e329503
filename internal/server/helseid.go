package server

// helseid.go emulates the HelseId endpoints used by the messenger: discovery
// and a client credentials token endpoint with private_key_jwt client
// authentication and DPoP bound tokens.

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/information-sharing-networks/slash-messenger/internal/dpop"
	"github.com/information-sharing-networks/slash-messenger/internal/logger"
)

const (
	clientAssertionType        = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	grantTypeClientCredentials = "client_credentials"

	// AccessTokenAudience is the aud claim of issued access tokens
	AccessTokenAudience = "nhn:slash"

	defaultTokenLifetime = 300 * time.Second

	// assertionLeeway is the accepted clock skew for client assertions
	assertionLeeway = 5 * time.Second
)

// discoveryDocument is the subset of OpenID provider metadata the stub publishes
type discoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	DPoPSigningAlgValuesSupported     []string `json:"dpop_signing_alg_values_supported"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// accessTokenClaims are the claims of an issued access token
type accessTokenClaims struct {
	jwt.Claims
	ClientID     string       `json:"client_id"`
	Scope        string       `json:"scope,omitempty"`
	Confirmation confirmation `json:"cnf"`
}

// confirmation binds a token to the thumbprint of the DPoP key (RFC 9449 section 6)
type confirmation struct {
	JKT string `json:"jkt"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	base := s.baseURL(r)

	algs := make([]string, 0, len(dpop.SupportedAlgorithms))
	for _, alg := range dpop.SupportedAlgorithms {
		algs = append(algs, string(alg))
	}

	respondWithJSON(w, r, http.StatusOK, discoveryDocument{
		Issuer:                            base,
		TokenEndpoint:                     base + TokenPath,
		JWKSURI:                           base + JWKSPath,
		GrantTypesSupported:               []string{grantTypeClientCredentials},
		TokenEndpointAuthMethodsSupported: []string{"private_key_jwt"},
		DPoPSigningAlgValuesSupported:     algs,
	})
}

// handleToken issues DPoP bound access tokens for the client credentials grant.
//
// The request must carry a client assertion signed with the configured client
// key and a DPoP proof. When nonces are required, a proof without the current
// nonce is answered with 400 use_dpop_nonce and a DPoP-Nonce header.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	reqLogger := logger.ContextRequestLogger(r.Context())

	if err := r.ParseForm(); err != nil {
		respondWithOAuthError(w, r, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	if grantType := r.PostForm.Get("grant_type"); grantType != grantTypeClientCredentials {
		respondWithOAuthError(w, r, http.StatusBadRequest, "unsupported_grant_type",
			fmt.Sprintf("grant type %q is not supported", grantType))
		return
	}
	if r.PostForm.Get("client_assertion_type") != clientAssertionType {
		respondWithOAuthError(w, r, http.StatusBadRequest, "invalid_client", "client_assertion_type must be "+clientAssertionType)
		return
	}

	base := s.baseURL(r)
	tokenEndpoint := base + TokenPath

	if err := s.verifyClientAssertion(r.PostForm.Get("client_assertion"), tokenEndpoint); err != nil {
		respondWithOAuthError(w, r, http.StatusBadRequest, "invalid_client", err.Error())
		return
	}
	if clientID := r.PostForm.Get("client_id"); clientID != "" && clientID != s.config.ClientID {
		respondWithOAuthError(w, r, http.StatusBadRequest, "invalid_client", "client_id does not match the client assertion")
		return
	}

	proof, err := dpop.Verify(r.Header.Get(dpop.HeaderName), dpop.VerifyOptions{
		Method: http.MethodPost,
		URI:    tokenEndpoint,
		Now:    s.now,
	})
	if err != nil {
		respondWithOAuthError(w, r, http.StatusBadRequest, "invalid_dpop_proof", err.Error())
		return
	}

	if s.config.RequireDPoPNonce {
		nonce, _ := proof.Claims[dpop.ClaimNonce].(string)
		if !s.nonces.Valid(nonce) {
			reqLogger.Debug("DPoP nonce missing or stale, sending challenge")
			w.Header().Set(dpop.NonceHeaderName, s.nonces.Current())
			respondWithOAuthError(w, r, http.StatusBadRequest, "use_dpop_nonce",
				"Authorization server requires nonce in DPoP proof")
			return
		}
	}

	jti, _ := proof.Claims[dpop.ClaimJTI].(string)
	if !s.replay.Add("proof:" + jti) {
		respondWithOAuthError(w, r, http.StatusBadRequest, "invalid_dpop_proof", "DPoP proof has already been used")
		return
	}

	scope := strings.Join(strings.Fields(r.PostForm.Get("scope")), " ")

	accessToken, lifetime, err := s.issueAccessToken(base, scope, proof.Thumbprint)
	if err != nil {
		reqLogger.Error("failed to issue access token", slog.String("error", err.Error()))
		respondWithOAuthError(w, r, http.StatusInternalServerError, "server_error", "failed to issue access token")
		return
	}

	reqLogger.Info("issued access token",
		slog.String("client_id", s.config.ClientID),
		slog.String("jkt", proof.Thumbprint),
		slog.Duration("lifetime", lifetime),
	)

	w.Header().Set("Cache-Control", "no-store")
	respondWithJSON(w, r, http.StatusOK, tokenResponse{
		AccessToken: accessToken,
		TokenType:   dpop.AuthorizationScheme,
		ExpiresIn:   int64(lifetime / time.Second),
		Scope:       scope,
	})
}

// verifyClientAssertion checks a private_key_jwt assertion (RFC 7523 section 3)
func (s *Server) verifyClientAssertion(assertion, tokenEndpoint string) error {
	if assertion == "" {
		return errors.New("client_assertion is required")
	}

	tok, err := jwt.ParseSigned(assertion, dpop.SupportedAlgorithms)
	if err != nil {
		return fmt.Errorf("malformed client assertion: %w", err)
	}

	var claims jwt.Claims
	if err := tok.Claims(s.keys.ClientPublicKey, &claims); err != nil {
		return fmt.Errorf("client assertion signature is not valid: %w", err)
	}

	if claims.Expiry == nil {
		return errors.New("client assertion has no exp claim")
	}
	if claims.ID == "" {
		return errors.New("client assertion has no jti claim")
	}
	err = claims.ValidateWithLeeway(jwt.Expected{
		Issuer:      s.config.ClientID,
		Subject:     s.config.ClientID,
		AnyAudience: jwt.Audience{tokenEndpoint},
		Time:        s.now(),
	}, assertionLeeway)
	if err != nil {
		return fmt.Errorf("client assertion rejected: %w", err)
	}

	if !s.replay.Add("assertion:" + claims.ID) {
		return errors.New("client assertion has already been used")
	}
	return nil
}

func (s *Server) tokenLifetime() time.Duration {
	if s.config.TokenLifetime > 0 {
		return s.config.TokenLifetime
	}
	return defaultTokenLifetime
}

// issueAccessToken signs an access token bound to the DPoP key thumbprint jkt
func (s *Server) issueAccessToken(issuer, scope, jkt string) (string, time.Duration, error) {
	lifetime := s.tokenLifetime()
	now := s.now()

	claims := accessTokenClaims{
		Claims: jwt.Claims{
			Issuer:    issuer,
			Subject:   s.config.ClientID,
			Audience:  jwt.Audience{AccessTokenAudience},
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(lifetime)),
		},
		ClientID:     s.config.ClientID,
		Scope:        scope,
		Confirmation: confirmation{JKT: jkt},
	}

	token, err := jwt.Signed(s.tokenSigner).Claims(claims).Serialize()
	if err != nil {
		return "", 0, err
	}
	return token, lifetime, nil
}

// validateAccessToken verifies a token issued by issueAccessToken
func (s *Server) validateAccessToken(token, issuer string) (*accessTokenClaims, error) {
	tok, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return nil, fmt.Errorf("malformed access token: %w", err)
	}

	var claims accessTokenClaims
	if err := tok.Claims(&s.keys.TokenSigningKey.PublicKey, &claims); err != nil {
		return nil, fmt.Errorf("access token signature is not valid: %w", err)
	}

	err = claims.Claims.ValidateWithLeeway(jwt.Expected{
		Issuer:      issuer,
		AnyAudience: jwt.Audience{AccessTokenAudience},
		Time:        s.now(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("access token rejected: %w", err)
	}
	if claims.Confirmation.JKT == "" {
		return nil, errors.New("access token is not DPoP bound")
	}
	return &claims, nil
}
