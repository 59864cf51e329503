package crypto

// certificate.go - loading and validating the X.509 certificate HelseId uses to identify the client.

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pkcs12"
)

// ValidateSigningCertificate checks that a certificate can be used to sign client assertions.
//
// The certificate is rejected when:
//   - the public key is not RSA
//   - the key usage extension does not include digital signature (a missing extension is a failure)
//   - the certificate is not signed with SHA-256 with RSA
//
// All failures return ErrCodeKeyValidation.
func ValidateSigningCertificate(cert *x509.Certificate) error {
	if cert == nil {
		return NewKeyValidationError("certificate is nil")
	}

	if _, ok := cert.PublicKey.(*rsa.PublicKey); !ok {
		return NewKeyValidationError(fmt.Sprintf("certificate public key is %T, expected an RSA key", cert.PublicKey))
	}

	if cert.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		return NewKeyValidationError("certificate key usage does not include digital signature")
	}

	if cert.SignatureAlgorithm != x509.SHA256WithRSA {
		return NewKeyValidationError(fmt.Sprintf("certificate signature algorithm is %s, expected %s", cert.SignatureAlgorithm, x509.SHA256WithRSA))
	}

	return nil
}

// ParseCertificateChain parses one or more PEM encoded certificates.
// Non-certificate blocks are skipped. Certificates are returned in the order they appear.
func ParseCertificateChain(pemData []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	var block *pem.Block
	remaining := pemData

	for {
		block, remaining = pem.Decode(remaining)
		if block == nil {
			break
		}

		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, WrapKeyValidationError(err, "failed to parse certificate")
		}

		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		return nil, NewValidationError("no certificates found in PEM data")
	}

	return certs, nil
}

// ParsePrivateKeyPEM parses the first private key block in PEM data.
// PKCS#8 ("PRIVATE KEY"), PKCS#1 ("RSA PRIVATE KEY") and SEC 1 ("EC PRIVATE KEY") are supported.
func ParsePrivateKeyPEM(pemData []byte) (any, error) {
	remaining := pemData
	for {
		var block *pem.Block
		block, remaining = pem.Decode(remaining)
		if block == nil {
			return nil, NewValidationError("no private key found in PEM data")
		}

		switch block.Type {
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, WrapKeyManagementError(err, "failed to parse PKCS#8 private key")
			}
			return key, nil
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, WrapKeyManagementError(err, "failed to parse PKCS#1 private key")
			}
			return key, nil
		case "EC PRIVATE KEY":
			key, err := x509.ParseECPrivateKey(block.Bytes)
			if err != nil {
				return nil, WrapKeyManagementError(err, "failed to parse EC private key")
			}
			return key, nil
		}
	}
}

// ReadCertificateSourceFromPEMFiles loads a certificate and its private key from PEM files.
// The leaf certificate is the first certificate in certPath.
func ReadCertificateSourceFromPEMFiles(certPath, keyPath string) (*CertificateSource, error) {
	certPEM, err := readScopedFile(certPath)
	if err != nil {
		return nil, err
	}
	certs, err := ParseCertificateChain(certPEM)
	if err != nil {
		return nil, err
	}

	keyPEM, err := readScopedFile(keyPath)
	if err != nil {
		return nil, err
	}
	privateKey, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}

	return &CertificateSource{Certificate: certs[0], PrivateKey: privateKey}, nil
}

// ReadCertificateSourceFromPKCS12File loads a certificate and private key from a password protected .pfx/.p12 bundle.
func ReadCertificateSourceFromPKCS12File(path, password string) (*CertificateSource, error) {
	data, err := readScopedFile(path)
	if err != nil {
		return nil, err
	}

	privateKey, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, WrapKeyManagementError(err, "failed to decode PKCS#12 bundle")
	}

	switch privateKey.(type) {
	case *rsa.PrivateKey, *ecdsa.PrivateKey:
	default:
		return nil, NewUnsupportedKeyTypeError(fmt.Sprintf("unsupported PKCS#12 key type %T", privateKey))
	}

	return &CertificateSource{Certificate: cert, PrivateKey: privateKey}, nil
}

// readScopedFile reads a file with access scoped to its directory
func readScopedFile(path string) ([]byte, error) {
	dir := filepath.Dir(path)
	filename := filepath.Base(path)

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, WrapInternalError(err, fmt.Sprintf("failed to open directory %s", dir))
	}
	defer root.Close()

	data, err := root.ReadFile(filename)
	if err != nil {
		return nil, WrapInternalError(err, fmt.Sprintf("failed to read %s", path))
	}

	return data, nil
}

// ReadVerificationKeyFile loads a public key used to verify client signatures.
//
// The file may hold a JWK or JWK set, a PEM certificate (the leaf public key is
// returned) or a PEM "PUBLIC KEY" / "RSA PUBLIC KEY" block.
func ReadVerificationKeyFile(path string) (crypto.PublicKey, error) {
	data, err := readScopedFile(path)
	if err != nil {
		return nil, err
	}

	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return ReadPublicKeyFromJWKFile(filepath.Dir(path), filepath.Base(path))
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, NewValidationError(fmt.Sprintf("%s is neither a JWK nor PEM data", path))
	}
	if block.Type == "CERTIFICATE" {
		certs, err := ParseCertificateChain(data)
		if err != nil {
			return nil, err
		}
		return certs[0].PublicKey, nil
	}
	return ParseRecipientPublicKey(string(data))
}

// ReadRSAPrivateKeyPEMFile loads an RSA private key from a PEM file.
func ReadRSAPrivateKeyPEMFile(path string) (*rsa.PrivateKey, error) {
	data, err := readScopedFile(path)
	if err != nil {
		return nil, err
	}
	key, err := ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, NewUnsupportedKeyTypeError(fmt.Sprintf("expected an RSA private key, got %T", key))
	}
	return rsaKey, nil
}

// EncodeRSAPrivateKeyPEM encodes an RSA private key as a PKCS#8 "PRIVATE KEY" PEM block.
func EncodeRSAPrivateKeyPEM(privateKey *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, WrapKeyManagementError(err, "failed to marshal private key")
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}
