package dpop

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/information-sharing-networks/slash-messenger/internal/crypto"
)

var (
	rsaKeyOnce sync.Once
	rsaKey     *crypto.SigningKey
)

// parseProof decodes the header and payload of a proof without verifying it
func parseProof(proof string) (header, payload map[string]any, err error) {
	parts := strings.Split(proof, ".")
	if len(parts) != 3 {
		return nil, nil, fmt.Errorf("invalid JWT: expected 3 parts, got %d", len(parts))
	}
	for i, dst := range []*map[string]any{&header, &payload} {
		data, err := base64.RawURLEncoding.DecodeString(parts[i])
		if err != nil {
			return nil, nil, fmt.Errorf("decode part %d: %w", i, err)
		}
		if err := json.Unmarshal(data, dst); err != nil {
			return nil, nil, fmt.Errorf("unmarshal part %d: %w", i, err)
		}
	}
	return header, payload, nil
}

func testRSAKey(t *testing.T) *crypto.SigningKey {
	t.Helper()
	rsaKeyOnce.Do(func() {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("failed to generate RSA key: %v", err)
		}
		rsaKey, err = crypto.NewSigningKey(priv, "rsa-kid", "")
		if err != nil {
			t.Fatalf("failed to create signing key: %v", err)
		}
	})
	return rsaKey
}

func testECKey(t *testing.T) *crypto.SigningKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate EC key: %v", err)
	}
	key, err := crypto.NewSigningKey(priv, "", "")
	if err != nil {
		t.Fatalf("failed to create signing key: %v", err)
	}
	return key
}

func TestBuild_HeaderAndClaims(t *testing.T) {
	key := testRSAKey(t)
	fixed := time.Unix(1_700_000_000, 0)

	proof, err := Build(key, "POST", "https://api.example.no/message?x=1#frag",
		WithNonce("server-nonce"),
		WithAccessToken("access-token"),
		WithClock(func() time.Time { return fixed }),
	)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	header, payload, err := parseProof(proof)
	if err != nil {
		t.Fatalf("parseProof() error: %v", err)
	}

	if header["typ"] != TypeDPoP {
		t.Errorf("typ = %v, want %s", header["typ"], TypeDPoP)
	}
	if header["alg"] != "RS256" {
		t.Errorf("alg = %v, want RS256", header["alg"])
	}

	jwk, ok := header["jwk"].(map[string]any)
	if !ok {
		t.Fatalf("jwk header missing or wrong type: %T", header["jwk"])
	}
	for _, member := range []string{"kty", "n", "e", "alg"} {
		if _, ok := jwk[member]; !ok {
			t.Errorf("jwk is missing %q", member)
		}
	}
	for _, private := range []string{"d", "p", "q", "dp", "dq", "qi"} {
		if _, ok := jwk[private]; ok {
			t.Errorf("jwk contains private member %q", private)
		}
	}

	wantClaims := map[string]any{
		ClaimHTM:   "POST",
		ClaimHTU:   "https://api.example.no/message",
		ClaimIAT:   float64(fixed.Unix()),
		ClaimNonce: "server-nonce",
		ClaimATH:   crypto.AccessTokenHash("access-token"),
	}
	for name, want := range wantClaims {
		if payload[name] != want {
			t.Errorf("%s = %v, want %v", name, payload[name], want)
		}
	}
	if jti, _ := payload[ClaimJTI].(string); jti == "" {
		t.Error("jti is empty")
	}
}

func TestBuild_OptionalClaimsOmitted(t *testing.T) {
	proof, err := Build(testRSAKey(t), "GET", "https://api.example.no/keys")
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	_, payload, err := parseProof(proof)
	if err != nil {
		t.Fatalf("parseProof() error: %v", err)
	}
	if _, ok := payload[ClaimNonce]; ok {
		t.Error("nonce present without WithNonce")
	}
	if _, ok := payload[ClaimATH]; ok {
		t.Error("ath present without WithAccessToken")
	}
}

func TestBuild_UniqueJTI(t *testing.T) {
	key := testRSAKey(t)
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		proof, err := Build(key, "POST", "https://api.example.no/message")
		if err != nil {
			t.Fatalf("Build() error: %v", err)
		}
		_, payload, _ := parseProof(proof)
		jti := payload[ClaimJTI].(string)
		if seen[jti] {
			t.Fatalf("duplicate jti %s", jti)
		}
		seen[jti] = true
	}
}

// extra claims are carried, but cannot replace the reserved claims
func TestBuild_ReservedClaimsWin(t *testing.T) {
	proof, err := Build(testRSAKey(t), "POST", "https://api.example.no/message",
		WithNonce("real-nonce"),
		WithClaims(map[string]any{
			"msg_type": "Pasientdata",
			ClaimHTM:   "GET",
			ClaimHTU:   "https://attacker.example/",
			ClaimJTI:   "fixed",
			ClaimNonce: "fake-nonce",
			ClaimATH:   "fake-ath",
			ClaimIAT:   1,
		}),
	)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	_, payload, err := parseProof(proof)
	if err != nil {
		t.Fatalf("parseProof() error: %v", err)
	}

	if payload["msg_type"] != "Pasientdata" {
		t.Errorf("msg_type = %v, want Pasientdata", payload["msg_type"])
	}
	if payload[ClaimHTM] != "POST" {
		t.Errorf("htm = %v, want POST", payload[ClaimHTM])
	}
	if payload[ClaimHTU] != "https://api.example.no/message" {
		t.Errorf("htu = %v", payload[ClaimHTU])
	}
	if payload[ClaimJTI] == "fixed" {
		t.Error("jti was replaced by extra claim")
	}
	if payload[ClaimNonce] != "real-nonce" {
		t.Errorf("nonce = %v, want real-nonce", payload[ClaimNonce])
	}
	if _, ok := payload[ClaimATH]; ok {
		t.Error("ath was set from extra claims")
	}
	if payload[ClaimIAT] == float64(1) {
		t.Error("iat was replaced by extra claim")
	}
}

func TestBuild_ECKey(t *testing.T) {
	key := testECKey(t)

	proof, err := Build(key, "POST", "https://api.example.no/message")
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	header, _, err := parseProof(proof)
	if err != nil {
		t.Fatalf("parseProof() error: %v", err)
	}
	if header["alg"] != "ES256" {
		t.Errorf("alg = %v, want ES256", header["alg"])
	}
	jwk := header["jwk"].(map[string]any)
	for _, member := range []string{"kty", "crv", "x", "y"} {
		if _, ok := jwk[member]; !ok {
			t.Errorf("jwk is missing %q", member)
		}
	}
	if jwk["kty"] != "EC" {
		t.Errorf("kty = %v, want EC", jwk["kty"])
	}

	if _, err := Verify(proof, VerifyOptions{Method: "POST", URI: "https://api.example.no/message"}); err != nil {
		t.Errorf("Verify() error: %v", err)
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name   string
		key    *crypto.SigningKey
		method string
		uri    string
	}{
		{"nil key", nil, "POST", "https://api.example.no/"},
		{"empty method", testRSAKey(t), "", "https://api.example.no/"},
		{"relative uri", testRSAKey(t), "POST", "/message"},
		{"empty uri", testRSAKey(t), "POST", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.key, tt.method, tt.uri)
			var dpopErr *DPoPError
			if !errors.As(err, &dpopErr) {
				t.Fatalf("expected DPoPError, got %v", err)
			}
			if dpopErr.Code() != ErrCodeProofConstruction {
				t.Errorf("Code() = %q, want %q", dpopErr.Code(), ErrCodeProofConstruction)
			}
		})
	}
}

func TestNormalizeURI(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"strips query and fragment", "https://host.no/path?a=b#c", "https://host.no/path", false},
		{"lowercases scheme and host", "HTTPS://Host.NO/Path", "https://host.no/Path", false},
		{"removes default https port", "https://host.no:443/p", "https://host.no/p", false},
		{"keeps custom port", "http://127.0.0.1:8080/connect/token", "http://127.0.0.1:8080/connect/token", false},
		{"adds root path", "https://host.no", "https://host.no/", false},
		{"missing host", "/only/path", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURI(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("NormalizeURI(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	key := testRSAKey(t)
	const uri = "https://api.example.no/message"
	now := time.Now()

	proof, err := Build(key, "POST", uri, WithNonce("n-1"), WithAccessToken("token-1"))
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	wantThumbprint, err := crypto.PublicKeyThumbprint(key.Public())
	if err != nil {
		t.Fatalf("thumbprint error: %v", err)
	}

	tests := []struct {
		name     string
		proof    string
		opts     VerifyOptions
		wantCode ErrorCode
	}{
		{
			name:  "valid",
			proof: proof,
			opts:  VerifyOptions{Method: "POST", URI: uri + "?ignored=1", Nonce: "n-1", AccessToken: "token-1"},
		},
		{
			name:     "method mismatch",
			proof:    proof,
			opts:     VerifyOptions{Method: "GET", URI: uri},
			wantCode: ErrCodeInvalidProof,
		},
		{
			name:     "uri mismatch",
			proof:    proof,
			opts:     VerifyOptions{Method: "POST", URI: "https://api.example.no/keys"},
			wantCode: ErrCodeInvalidProof,
		},
		{
			name:     "nonce mismatch",
			proof:    proof,
			opts:     VerifyOptions{Method: "POST", URI: uri, Nonce: "n-2"},
			wantCode: ErrCodeInvalidNonce,
		},
		{
			name:     "access token mismatch",
			proof:    proof,
			opts:     VerifyOptions{Method: "POST", URI: uri, AccessToken: "other-token"},
			wantCode: ErrCodeInvalidProof,
		},
		{
			name:     "stale proof",
			proof:    proof,
			opts:     VerifyOptions{Method: "POST", URI: uri, Now: func() time.Time { return now.Add(10 * time.Minute) }},
			wantCode: ErrCodeInvalidProof,
		},
		{
			name:     "tampered signature",
			proof:    proof[:len(proof)-4] + "AAAA",
			opts:     VerifyOptions{Method: "POST", URI: uri},
			wantCode: ErrCodeInvalidProof,
		},
		{
			name:     "not a JWT",
			proof:    "abc",
			opts:     VerifyOptions{Method: "POST", URI: uri},
			wantCode: ErrCodeInvalidProof,
		},
		{
			name:     "empty",
			proof:    "",
			opts:     VerifyOptions{Method: "POST", URI: uri},
			wantCode: ErrCodeInvalidProof,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verified, err := Verify(tt.proof, tt.opts)
			if tt.wantCode != "" {
				var dpopErr *DPoPError
				if !errors.As(err, &dpopErr) {
					t.Fatalf("expected DPoPError, got %v", err)
				}
				if dpopErr.Code() != tt.wantCode {
					t.Errorf("Code() = %q, want %q (%v)", dpopErr.Code(), tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify() error: %v", err)
			}
			if verified.Thumbprint != wantThumbprint {
				t.Errorf("Thumbprint = %q, want %q", verified.Thumbprint, wantThumbprint)
			}
			if !strings.HasPrefix(verified.Claims[ClaimHTU].(string), "https://") {
				t.Errorf("unexpected htu %v", verified.Claims[ClaimHTU])
			}
		})
	}
}
