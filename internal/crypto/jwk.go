// JWK (JSON Web Key) helpers
//
// these functions convert raw RSA keys to JWK format (and vice versa)
// Reference: https://datatracker.ietf.org/doc/html/rfc7517 (JSON Web Key standard)
//
// they are used by the keygen CLI to write DPoP proof keys, by the development
// receiver to read registered client keys, and to compute RFC 7638 thumbprints
// for binding access tokens to proof keys.

package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// RSAPublicKeyToJWK converts a RSA public key to JWK format
func RSAPublicKeyToJWK(publicKey *rsa.PublicKey, keyID string) (jwk.Key, error) {
	if publicKey == nil {
		return nil, fmt.Errorf("public key is nil")
	}
	if keyID == "" {
		return nil, fmt.Errorf("keyID is required")
	}

	key, err := jwk.Import(publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWK from RSA public key: %w", err)
	}

	if err := setSigningMetadata(key, keyID); err != nil {
		return nil, err
	}

	return key, nil
}

// RSAPrivateKeyToJWK converts an RSA private key to JWK format
func RSAPrivateKeyToJWK(privateKey *rsa.PrivateKey, keyID string) (jwk.Key, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("private key is nil")
	}
	if keyID == "" {
		return nil, fmt.Errorf("keyID is required")
	}

	key, err := jwk.Import(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWK from RSA private key: %w", err)
	}

	if err := setSigningMetadata(key, keyID); err != nil {
		return nil, err
	}

	return key, nil
}

func setSigningMetadata(key jwk.Key, keyID string) error {
	if err := key.Set(jwk.KeyIDKey, keyID); err != nil {
		return fmt.Errorf("failed to set key ID: %w", err)
	}

	if err := key.Set(jwk.AlgorithmKey, jwa.RS256()); err != nil {
		return fmt.Errorf("failed to set algorithm: %w", err)
	}

	if err := key.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
		return fmt.Errorf("failed to set key usage: %w", err)
	}

	return nil
}

// ReadPublicKeyFromJWKFile loads an RSA or EC public key from a JWK or JWK set file.
// If the file holds a private key, its public half is returned.
//
// Parameters:
//   - baseDir: The base directory to scope file access (e.g., "./keys")
//   - filename: The filename within the base directory (e.g., "client.public.jwk")
func ReadPublicKeyFromJWKFile(baseDir, filename string) (crypto.PublicKey, error) {
	root, err := os.OpenRoot(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open root directory %s: %w", baseDir, err)
	}
	defer root.Close()

	jsonBytes, err := root.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	key, err := jwk.ParseKey(jsonBytes)
	if err != nil {
		set, setErr := jwk.Parse(jsonBytes)
		if setErr != nil {
			return nil, fmt.Errorf("failed to parse JWK: %w", err)
		}
		var ok bool
		if key, ok = set.Key(0); !ok {
			return nil, fmt.Errorf("JWK set is empty")
		}
	}

	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("failed to export key: %w", err)
	}

	switch k := raw.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
		return k, nil
	case *rsa.PrivateKey:
		return &k.PublicKey, nil
	case *ecdsa.PrivateKey:
		return &k.PublicKey, nil
	default:
		alg, _ := key.Algorithm()
		return nil, fmt.Errorf("unsupported key with algorithm %v and type %T", alg, raw)
	}
}

// GenerateKeyIDFromRSAKey generates a key ID from an RSA public key using SHA-256 thumbprint.
// Returns the first 16 characters of the hex-encoded thumbprint.
func GenerateKeyIDFromRSAKey(publicKey *rsa.PublicKey) (string, error) {
	if publicKey == nil {
		return "", fmt.Errorf("public key is nil")
	}

	jwkKey, err := jwk.Import(publicKey)
	if err != nil {
		return "", fmt.Errorf("failed to import key: %w", err)
	}

	thumbprint, err := jwkKey.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to generate thumbprint: %w", err)
	}

	return fmt.Sprintf("%x", thumbprint)[:16], nil
}

// PublicKeyThumbprint returns the base64url encoded RFC 7638 SHA-256 thumbprint of a public key.
// This is the "jkt" value used to bind an access token to a DPoP proof key.
func PublicKeyThumbprint(publicKey crypto.PublicKey) (string, error) {
	jwkKey, err := jwk.Import(publicKey)
	if err != nil {
		return "", WrapKeyManagementError(err, "failed to import key")
	}

	thumbprint, err := jwkKey.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", WrapKeyManagementError(err, "failed to generate thumbprint")
	}

	return base64.RawURLEncoding.EncodeToString(thumbprint), nil
}
