// this file provides the SHA-256 digests carried in DPoP proofs.
//
//   1. msg_hash: digest of the plaintext message, so the receiver can check the decrypted content
//   2. ath: digest of the access token, binding the proof to the token (RFC 9449 section 4.2)
//
// Both are base64url encoded without padding.

package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// MessageHash returns the base64url (no padding) SHA-256 digest of data.
// Empty data is valid and hashes to the digest of the empty string.
func MessageHash(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// AccessTokenHash returns the "ath" value for an access token.
//
// The digest is taken over the ASCII encoding of the token.
// Runes outside the ASCII range are encoded as '?'.
func AccessTokenHash(accessToken string) string {
	ascii := make([]byte, 0, len(accessToken))
	for _, r := range accessToken {
		if r > 0x7f {
			r = '?'
		}
		ascii = append(ascii, byte(r))
	}
	return MessageHash(ascii)
}

// VerifyMessageHash checks that data matches the expected msg_hash value.
func VerifyMessageHash(data []byte, expectedHash string) error {
	if subtle.ConstantTimeCompare([]byte(MessageHash(data)), []byte(expectedHash)) != 1 {
		return NewHashError("message hash does not match decrypted content")
	}
	return nil
}
