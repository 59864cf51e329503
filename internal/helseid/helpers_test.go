package helseid

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/information-sharing-networks/slash-messenger/internal/crypto"
	"github.com/information-sharing-networks/slash-messenger/internal/dpop"
)

const testClientID = "test-client"

func newTestKey(t *testing.T, kid string) *crypto.SigningKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	key, err := crypto.NewSigningKey(priv, kid, "")
	if err != nil {
		t.Fatalf("failed to create signing key: %v", err)
	}
	return key
}

// tokenServer is a minimal HelseId token endpoint
type tokenServer struct {
	t      *testing.T
	server *httptest.Server

	identityKey *crypto.SigningKey

	// requireNonce makes the server answer use_dpop_nonce until the proof carries nonce
	requireNonce bool
	nonce        string

	// alwaysChallenge returns use_dpop_nonce to every request
	alwaysChallenge bool

	// challengeStatus is the HTTP status of a nonce challenge, 400 when 0
	challengeStatus int

	// status and body override the success response when status != 0
	status int
	body   string

	expiresIn int64

	requests atomic.Int32

	mu              sync.Mutex
	proofThumbprint []string
	scopes          []string
}

func newTokenServer(t *testing.T, identityKey *crypto.SigningKey) *tokenServer {
	ts := &tokenServer{t: t, identityKey: identityKey, nonce: "nonce-1", expiresIn: 300}
	ts.server = httptest.NewServer(http.HandlerFunc(ts.handle))
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *tokenServer) endpoint() string { return ts.server.URL + "/connect/token" }

func (ts *tokenServer) recorded() (thumbprints, scopes []string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.proofThumbprint...), append([]string(nil), ts.scopes...)
}

func (ts *tokenServer) handle(w http.ResponseWriter, r *http.Request) {
	ts.requests.Add(1)

	if err := r.ParseForm(); err != nil {
		ts.t.Errorf("failed to parse form: %v", err)
	}

	for field, want := range map[string]string{
		"client_id":             testClientID,
		"grant_type":            GrantTypeClientCredentials,
		"client_assertion_type": ClientAssertionType,
	} {
		if got := r.PostForm.Get(field); got != want {
			ts.t.Errorf("%s = %q, want %q", field, got, want)
		}
	}

	ts.checkAssertion(r.PostForm.Get("client_assertion"))

	opts := dpop.VerifyOptions{Method: http.MethodPost, URI: ts.endpoint()}
	if ts.requireNonce || ts.alwaysChallenge {
		opts.Nonce = ts.nonce
	}
	verified, err := dpop.Verify(r.Header.Get(dpop.HeaderName), opts)
	if err != nil {
		var dpopErr *dpop.DPoPError
		if !errors.As(err, &dpopErr) || dpopErr.Code() != dpop.ErrCodeInvalidNonce {
			ts.t.Errorf("invalid DPoP proof: %v", err)
		}
		ts.challenge(w)
		return
	}
	if ts.alwaysChallenge {
		ts.challenge(w)
		return
	}

	ts.mu.Lock()
	ts.proofThumbprint = append(ts.proofThumbprint, verified.Thumbprint)
	ts.scopes = append(ts.scopes, r.PostForm.Get("scope"))
	ts.mu.Unlock()

	if ts.status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(ts.status)
		_, _ = w.Write([]byte(ts.body))
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: "access-token-" + time.Now().Format("150405.000000"),
		TokenType:   "DPoP",
		ExpiresIn:   ts.expiresIn,
	})
}

func (ts *tokenServer) challenge(w http.ResponseWriter) {
	status := ts.challengeStatus
	if status == 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set(dpop.NonceHeaderName, ts.nonce)
	writeJSON(w, status, map[string]string{"error": ErrorUseDPoPNonce})
}

func (ts *tokenServer) checkAssertion(assertion string) {
	tok, err := jwt.ParseSigned(assertion, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		ts.t.Errorf("failed to parse client assertion: %v", err)
		return
	}

	var claims jwt.Claims
	if err := tok.Claims(ts.identityKey.Public(), &claims); err != nil {
		ts.t.Errorf("client assertion not signed by identity key: %v", err)
		return
	}

	if err := claims.Validate(jwt.Expected{
		Issuer:      testClientID,
		Subject:     testClientID,
		AnyAudience: jwt.Audience{ts.endpoint()},
		Time:        time.Now(),
	}); err != nil {
		ts.t.Errorf("invalid client assertion claims: %v", err)
	}
	if claims.ID == "" || len(claims.ID) != 32 {
		ts.t.Errorf("jti = %q, want 32 hex characters", claims.ID)
	}
	if claims.Expiry == nil || claims.IssuedAt == nil || claims.Expiry.Time().Sub(claims.IssuedAt.Time()) != 60*time.Second {
		ts.t.Error("client assertion must expire 60 seconds after issue")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
