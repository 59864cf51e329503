// this file defines the signing key used for HelseId client assertions and DPoP proofs.
//
// A SigningKey is resolved once at startup from a KeySource. The supported sources are:
//   - an X.509 certificate with its private key (PEM files or a PKCS#12 bundle)
//   - a private key in JWK format
//   - a HelseId client definition file, which embeds a private JWK
//
// RSA keys sign with RS256 unless the key specifies otherwise.
// EC keys sign with the ES algorithm that matches their curve.

package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// DefaultRSAAlgorithm is used when an RSA key does not name its own algorithm
const DefaultRSAAlgorithm = jose.RS256

// SigningKey is a private key with the metadata needed to sign JWTs.
type SigningKey struct {
	signer    crypto.Signer
	keyID     string
	algorithm jose.SignatureAlgorithm
}

// NewSigningKey creates a SigningKey from an RSA or EC private key.
//
// If algorithm is empty the default for the key type is used.
// An algorithm that does not fit the key type returns ErrCodeUnsupportedKeyType.
func NewSigningKey(privateKey any, keyID string, algorithm jose.SignatureAlgorithm) (*SigningKey, error) {
	switch key := privateKey.(type) {
	case *rsa.PrivateKey:
		if algorithm == "" {
			algorithm = DefaultRSAAlgorithm
		}
		switch algorithm {
		case jose.RS256, jose.RS384, jose.RS512, jose.PS256, jose.PS384, jose.PS512:
		default:
			return nil, NewUnsupportedKeyTypeError(fmt.Sprintf("algorithm %s cannot be used with an RSA key", algorithm))
		}
		return &SigningKey{signer: key, keyID: keyID, algorithm: algorithm}, nil

	case *ecdsa.PrivateKey:
		curveAlg, err := algorithmForCurve(key.Curve)
		if err != nil {
			return nil, err
		}
		if algorithm == "" {
			algorithm = curveAlg
		}
		if algorithm != curveAlg {
			return nil, NewUnsupportedKeyTypeError(fmt.Sprintf("algorithm %s cannot be used with curve %s", algorithm, key.Curve.Params().Name))
		}
		return &SigningKey{signer: key, keyID: keyID, algorithm: algorithm}, nil

	case nil:
		return nil, NewValidationError("private key is nil")

	default:
		return nil, NewUnsupportedKeyTypeError(fmt.Sprintf("unsupported key type %T (expected RSA or EC)", privateKey))
	}
}

func algorithmForCurve(curve elliptic.Curve) (jose.SignatureAlgorithm, error) {
	switch curve {
	case elliptic.P256():
		return jose.ES256, nil
	case elliptic.P384():
		return jose.ES384, nil
	case elliptic.P521():
		return jose.ES512, nil
	default:
		return "", NewUnsupportedKeyTypeError("unsupported elliptic curve")
	}
}

// Signer returns the private key. The concrete type is *rsa.PrivateKey or *ecdsa.PrivateKey.
func (k *SigningKey) Signer() crypto.Signer { return k.signer }

// Public returns the public half of the key.
func (k *SigningKey) Public() crypto.PublicKey { return k.signer.Public() }

// KeyID returns the key id, which may be empty.
func (k *SigningKey) KeyID() string { return k.keyID }

// Algorithm returns the JWS algorithm used when signing with this key.
func (k *SigningKey) Algorithm() jose.SignatureAlgorithm { return k.algorithm }

// KeySource is a configured origin of the signing key.
// The implementations are CertificateSource, JWKSource and ClientDefinitionSource.
type KeySource interface {
	signingKey() (*SigningKey, error)
}

// CertificateSource is a signing certificate and its private key.
// The certificate is validated with ValidateSigningCertificate before use.
type CertificateSource struct {
	Certificate *x509.Certificate
	PrivateKey  any
}

// JWKSource is a private key in JWK format.
type JWKSource struct {
	JWK []byte
}

// ClientDefinitionSource is a HelseId client definition with an embedded private JWK.
type ClientDefinitionSource struct {
	Definition *ClientDefinition
}

// LoadSigningKey resolves a KeySource into a SigningKey
func LoadSigningKey(source KeySource) (*SigningKey, error) {
	if source == nil {
		return nil, NewValidationError("no signing key source configured")
	}
	return source.signingKey()
}

func (s CertificateSource) signingKey() (*SigningKey, error) {
	if s.Certificate == nil {
		return nil, NewValidationError("certificate is nil")
	}
	if err := ValidateSigningCertificate(s.Certificate); err != nil {
		return nil, err
	}

	privateKey, ok := s.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, NewKeyValidationError(fmt.Sprintf("certificate private key is %T, expected an RSA key", s.PrivateKey))
	}
	if !privateKey.PublicKey.Equal(s.Certificate.PublicKey) {
		return nil, NewKeyValidationError("private key does not match the certificate")
	}

	return NewSigningKey(privateKey, CertificateThumbprint(s.Certificate), DefaultRSAAlgorithm)
}

func (s JWKSource) signingKey() (*SigningKey, error) {
	return ParseSigningJWK(s.JWK)
}

func (s ClientDefinitionSource) signingKey() (*SigningKey, error) {
	if s.Definition == nil {
		return nil, NewValidationError("client definition is nil")
	}
	if s.Definition.PrivateJWK == "" {
		return nil, NewValidationError("client definition does not contain a private key")
	}
	return ParseSigningJWK([]byte(s.Definition.PrivateJWK))
}

// CertificateThumbprint returns the upper case hex SHA-1 digest of the DER certificate.
// This is the key id HelseId associates with certificate based clients.
func CertificateThumbprint(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// ParseSigningJWK parses a private JWK, or the first key of a JWK set, into a SigningKey.
// The "kid" and "alg" members are used when present.
func ParseSigningJWK(data []byte) (*SigningKey, error) {
	if len(data) == 0 {
		return nil, NewValidationError("JWK is empty")
	}

	key, err := jwk.ParseKey(data)
	if err != nil {
		set, setErr := jwk.Parse(data)
		if setErr != nil {
			return nil, WrapKeyManagementError(err, "failed to parse JWK")
		}
		var ok bool
		if key, ok = set.Key(0); !ok {
			return nil, NewKeyManagementError("JWK set is empty")
		}
	}

	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, WrapKeyManagementError(err, "failed to export key")
	}

	keyID, _ := key.KeyID()

	var algorithm jose.SignatureAlgorithm
	if alg, ok := key.Algorithm(); ok {
		algorithm = jose.SignatureAlgorithm(alg.String())
	}

	switch raw.(type) {
	case *rsa.PrivateKey, *ecdsa.PrivateKey:
		return NewSigningKey(raw, keyID, algorithm)
	case *rsa.PublicKey, *ecdsa.PublicKey:
		return nil, NewKeyManagementError("JWK does not contain a private key")
	default:
		return nil, NewUnsupportedKeyTypeError(fmt.Sprintf("unsupported JWK key type %T (expected RSA or EC)", raw))
	}
}

// ReadSigningKeyFromJWKFile loads a private JWK file as a SigningKey
//
// Parameters:
//   - baseDir: The base directory to scope file access (e.g., "./keys")
//   - filename: The filename within the base directory (e.g., "dpop.jwk")
func ReadSigningKeyFromJWKFile(baseDir, filename string) (*SigningKey, error) {
	root, err := os.OpenRoot(baseDir)
	if err != nil {
		return nil, WrapKeyManagementError(err, fmt.Sprintf("failed to open root directory %s", baseDir))
	}
	defer root.Close()

	jsonBytes, err := root.ReadFile(filename)
	if err != nil {
		return nil, WrapKeyManagementError(err, "failed to read file")
	}

	return ParseSigningJWK(jsonBytes)
}

// GenerateRSAKeyPair generates a new RSA key pair with the specified bit size
// minimum key size is 2048 bits (4096 is recommended) - key size must be a multiple of 256
func GenerateRSAKeyPair(bits int) (*rsa.PrivateKey, error) {
	if bits < 2048 {
		return nil, fmt.Errorf("key size must be at least 2048 bits")
	}

	if bits%256 != 0 {
		return nil, fmt.Errorf("key size should be a multiple of 256")
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	return privateKey, nil
}

// SaveRSAPrivateKeyToJWKFile saves an RSA private key to a JWK file
// note the key is not encrypted
//
// Parameters:
//   - baseDir: The base directory to scope file access (e.g., "./keys")
//   - filename: The filename within the base directory (e.g., "dpop.jwk")
func SaveRSAPrivateKeyToJWKFile(privateKey *rsa.PrivateKey, keyID, baseDir, filename string) error {
	jwkKey, err := RSAPrivateKeyToJWK(privateKey, keyID)
	if err != nil {
		return fmt.Errorf("failed to create JWK: %w", err)
	}
	return writeJWK(jwkKey, baseDir, filename, 0600)
}

// SaveRSAPublicKeyToJWKFile saves an RSA public key to a JWK file
//
// Parameters:
//   - baseDir: The base directory to scope file access (e.g., "./keys")
//   - filename: The filename within the base directory (e.g., "dpop.public.jwk")
func SaveRSAPublicKeyToJWKFile(publicKey *rsa.PublicKey, keyID, baseDir, filename string) error {
	jwkKey, err := RSAPublicKeyToJWK(publicKey, keyID)
	if err != nil {
		return fmt.Errorf("failed to create JWK: %w", err)
	}
	return writeJWK(jwkKey, baseDir, filename, 0644)
}

// writes a single key, not a set, so the file content is usable as a privateJwk value
func writeJWK(key jwk.Key, baseDir, filename string, perm os.FileMode) error {
	jsonBytes, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JWK: %w", err)
	}

	root, err := os.OpenRoot(baseDir)
	if err != nil {
		return fmt.Errorf("failed to open root directory %s: %w", baseDir, err)
	}
	defer root.Close()

	if err := root.WriteFile(filename, jsonBytes, perm); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}
