package crypto

import "testing"

func TestMessageHash(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		// SHA-256("") in base64url without padding
		{"empty", nil, "47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU"},
		// SHA-256("abc")
		{"abc", []byte("abc"), "ungWv48Bz-pBQUDeXa4iI7ADYaOWF3qctBD_YfIAFa0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MessageHash(tt.data); got != tt.want {
				t.Errorf("MessageHash() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAccessTokenHash(t *testing.T) {
	if got, want := AccessTokenHash("abc"), MessageHash([]byte("abc")); got != want {
		t.Errorf("AccessTokenHash() = %q, want %q", got, want)
	}

	// non-ASCII runes are replaced before hashing
	if got, want := AccessTokenHash("aøc"), MessageHash([]byte("a?c")); got != want {
		t.Errorf("AccessTokenHash() = %q, want %q", got, want)
	}
}

func TestVerifyMessageHash(t *testing.T) {
	data := []byte(`[{"id":1}]`)
	if err := VerifyMessageHash(data, MessageHash(data)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := VerifyMessageHash(data, MessageHash([]byte("tampered"))); err == nil {
		t.Error("expected error for mismatched hash")
	}
}
