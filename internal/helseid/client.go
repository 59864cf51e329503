package helseid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/information-sharing-networks/slash-messenger/internal/crypto"
	"github.com/information-sharing-networks/slash-messenger/internal/dpop"
)

const (
	// ClientAssertionType is the RFC 7523 assertion type for private_key_jwt client authentication
	ClientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

	// GrantTypeClientCredentials is the only grant used by the messenger
	GrantTypeClientCredentials = "client_credentials"

	// ErrorUseDPoPNonce is the token endpoint error asking the client to retry with a nonce
	ErrorUseDPoPNonce = "use_dpop_nonce"

	// clientAssertionLifetime bounds the exp claim of the client assertion
	clientAssertionLifetime = 60 * time.Second

	// maxTokenResponseSize limits how much of a token response is read
	maxTokenResponseSize = 1 << 20
)

// ClientConfig holds the HelseId client settings
type ClientConfig struct {
	// TokenEndpoint is the absolute URL of the HelseId token endpoint
	TokenEndpoint string

	// ClientID is the client id registered in HelseId
	ClientID string

	// Scopes are sent space separated in the scope parameter when not empty
	Scopes []string

	// HTTPClient defaults to a client with a 30 second timeout
	HTTPClient *http.Client

	// Logger defaults to slog.Default()
	Logger *slog.Logger

	// Now defaults to time.Now
	Now func() time.Time
}

// TokenResponse is the successful token endpoint response
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// tokenErrorResponse is the RFC 6749 section 5.2 error body
type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Client requests access tokens from the HelseId token endpoint.
type Client struct {
	config      ClientConfig
	identityKey *crypto.SigningKey
	httpClient  *http.Client
	logger      *slog.Logger
	now         func() time.Time
}

// NewClient creates a HelseId client.
//
// identityKey signs the client assertion and must be the key registered for ClientID.
func NewClient(config ClientConfig, identityKey *crypto.SigningKey) (*Client, error) {
	if strings.TrimSpace(config.TokenEndpoint) == "" {
		return nil, NewConfigurationError("token endpoint is required")
	}
	if _, err := dpop.NormalizeURI(config.TokenEndpoint); err != nil {
		return nil, NewConfigurationError(fmt.Sprintf("token endpoint %q is not an absolute URL", config.TokenEndpoint))
	}
	if strings.TrimSpace(config.ClientID) == "" {
		return nil, NewConfigurationError("client id is required")
	}
	if identityKey == nil {
		return nil, NewConfigurationError("identity signing key is required")
	}

	c := &Client{
		config:      config,
		identityKey: identityKey,
		httpClient:  config.HTTPClient,
		logger:      config.Logger,
		now:         config.Now,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}

	return c, nil
}

// TokenEndpoint returns the configured token endpoint
func (c *Client) TokenEndpoint() string { return c.config.TokenEndpoint }

// RequestToken performs a client credentials token request bound to proofKey.
//
// If HelseId responds with the use_dpop_nonce error and a DPoP-Nonce header,
// the request is rebuilt with the nonce and sent once more. Any other failure,
// including a second nonce challenge, is returned as ErrCodeTokenAcquisition.
func (c *Client) RequestToken(ctx context.Context, proofKey *crypto.SigningKey) (*TokenResponse, error) {
	if proofKey == nil {
		return nil, WrapTokenAcquisitionError(fmt.Errorf("proof key is nil"), "could not create client credentials token request")
	}

	c.logger.Debug("requesting access token from HelseId",
		slog.String("token_endpoint", c.config.TokenEndpoint),
		slog.String("client_id", c.config.ClientID),
	)

	resp, err := c.postTokenRequest(ctx, proofKey, "")
	if err != nil {
		return nil, err
	}

	if resp.errorCode == ErrorUseDPoPNonce && resp.nonce != "" {
		c.logger.Debug("HelseId requested a DPoP nonce, retrying token request")
		resp, err = c.postTokenRequest(ctx, proofKey, resp.nonce)
		if err != nil {
			return nil, err
		}
	}

	if resp.isError() {
		msg := resp.errorCode
		if msg == "" {
			msg = fmt.Sprintf("token endpoint returned HTTP %d", resp.statusCode)
		}
		if resp.errorDescription != "" {
			msg = msg + ": " + resp.errorDescription
		}
		return nil, NewTokenAcquisitionError(resp.statusCode, "could not get access token from HelseId: "+msg)
	}

	var token TokenResponse
	if err := json.Unmarshal(resp.body, &token); err != nil {
		return nil, WrapTokenAcquisitionError(err, "failed to parse token response")
	}
	if token.AccessToken == "" {
		return nil, NewTokenAcquisitionError(resp.statusCode, "no access token in the token response returned from HelseId")
	}
	if token.TokenType != "" && !strings.EqualFold(token.TokenType, dpop.AuthorizationScheme) {
		c.logger.Warn("HelseId issued a token that is not DPoP bound", slog.String("token_type", token.TokenType))
	}

	c.logger.Debug("received access token from HelseId", slog.Int64("expires_in", token.ExpiresIn))

	return &token, nil
}

type tokenHTTPResponse struct {
	statusCode       int
	body             []byte
	errorCode        string
	errorDescription string
	nonce            string
}

// isError reports an HTTP failure or a body carrying an OAuth error code
func (r *tokenHTTPResponse) isError() bool {
	return r.statusCode != http.StatusOK || r.errorCode != ""
}

func (c *Client) postTokenRequest(ctx context.Context, proofKey *crypto.SigningKey, nonce string) (*tokenHTTPResponse, error) {
	assertion, err := c.buildClientAssertion()
	if err != nil {
		return nil, WrapTokenAcquisitionError(err, "could not create client assertion")
	}

	var proofOpts []dpop.Option
	if nonce != "" {
		proofOpts = append(proofOpts, dpop.WithNonce(nonce))
	}
	proofOpts = append(proofOpts, dpop.WithClock(c.now))

	proof, err := dpop.Build(proofKey, http.MethodPost, c.config.TokenEndpoint, proofOpts...)
	if err != nil {
		return nil, WrapTokenAcquisitionError(err, "could not create DPoP proof for token request")
	}

	form := url.Values{}
	form.Set("client_id", c.config.ClientID)
	form.Set("client_assertion", assertion)
	form.Set("client_assertion_type", ClientAssertionType)
	form.Set("grant_type", GrantTypeClientCredentials)
	if len(c.config.Scopes) > 0 {
		form.Set("scope", strings.Join(c.config.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, WrapTokenAcquisitionError(err, "could not create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(dpop.HeaderName, proof)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, WrapTokenAcquisitionError(err, "could not get access token from HelseId")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, WrapTokenAcquisitionError(err, "failed to read token response")
	}

	out := &tokenHTTPResponse{
		statusCode: resp.StatusCode,
		body:       body,
		nonce:      resp.Header.Get(dpop.NonceHeaderName),
	}

	var errResp tokenErrorResponse
	if json.Unmarshal(body, &errResp) == nil {
		out.errorCode = errResp.Error
		out.errorDescription = errResp.ErrorDescription
	}

	return out, nil
}

// buildClientAssertion creates the private_key_jwt client assertion.
//
// iss and sub are the client id, aud is the token endpoint and the
// assertion is valid for 60 seconds from now.
func (c *Client) buildClientAssertion() (string, error) {
	signerOpts := (&jose.SignerOptions{}).WithType("JWT")
	if kid := c.identityKey.KeyID(); kid != "" {
		signerOpts = signerOpts.WithHeader("kid", kid)
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: c.identityKey.Algorithm(), Key: c.identityKey.Signer()}, signerOpts)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}

	now := c.now()
	claims := jwt.Claims{
		Issuer:    c.config.ClientID,
		Subject:   c.config.ClientID,
		Audience:  jwt.Audience{c.config.TokenEndpoint},
		ID:        strings.ReplaceAll(uuid.NewString(), "-", ""),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(clientAssertionLifetime)),
	}

	assertion, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize client assertion: %w", err)
	}

	return assertion, nil
}
