// hybrid.go - hybrid encryption of messages for Slash.
//
// A fresh 256 bit AES key encrypts the message with AES-CBC and PKCS#7 padding.
// The 16 byte IV is prepended to the ciphertext and the result is base64 (standard alphabet) encoded.
// The AES key is wrapped with RSA-OAEP (SHA-256) under the recipient's public key and base64url encoded without padding.
// The SHA-256 hash of the plaintext is sent alongside so the receiver can verify the decrypted content.

package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
)

const symmetricKeySize = 32

// EncryptedMessage is the output of EncryptMessage
type EncryptedMessage struct {
	// EncryptedContent is base64(IV || AES-CBC ciphertext)
	EncryptedContent string

	// EncryptedSymmetricKey is base64url(RSA-OAEP-SHA256(aes key))
	EncryptedSymmetricKey string

	// MessageHash is base64url(SHA-256(plaintext))
	MessageHash string
}

// ParseRecipientPublicKey parses a PEM encoded RSA public key.
// Both "PUBLIC KEY" (SubjectPublicKeyInfo) and "RSA PUBLIC KEY" (PKCS#1) blocks are accepted.
func ParseRecipientPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, NewEncryptionError("recipient public key is not PEM encoded")
	}

	switch block.Type {
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, WrapEncryptionError(err, "failed to parse recipient public key")
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, NewEncryptionError(fmt.Sprintf("recipient public key is %T, expected an RSA key", key))
		}
		return rsaKey, nil
	case "RSA PUBLIC KEY":
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, WrapEncryptionError(err, "failed to parse recipient public key")
		}
		return key, nil
	default:
		return nil, NewEncryptionError(fmt.Sprintf("unsupported PEM block type %q for recipient public key", block.Type))
	}
}

// EncodeRecipientPublicKey encodes an RSA public key as a "PUBLIC KEY" PEM block.
func EncodeRecipientPublicKey(publicKey *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return "", WrapInternalError(err, "failed to marshal public key")
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// EncryptMessage encrypts plaintext for the holder of the private half of recipientPublicKeyPEM.
//
// Every call uses a fresh AES key and IV.
func EncryptMessage(plaintext []byte, recipientPublicKeyPEM string) (*EncryptedMessage, error) {
	publicKey, err := ParseRecipientPublicKey(recipientPublicKeyPEM)
	if err != nil {
		return nil, err
	}

	key := make([]byte, symmetricKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, WrapEncryptionError(err, "failed to generate symmetric key")
	}

	content, err := encryptAESCBC(key, plaintext)
	if err != nil {
		return nil, err
	}

	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, publicKey, key, nil)
	if err != nil {
		return nil, WrapEncryptionError(err, "failed to encrypt symmetric key")
	}

	return &EncryptedMessage{
		EncryptedContent:      base64.StdEncoding.EncodeToString(content),
		EncryptedSymmetricKey: base64.RawURLEncoding.EncodeToString(wrappedKey),
		MessageHash:           MessageHash(plaintext),
	}, nil
}

// DecryptMessage reverses EncryptMessage and verifies the plaintext against messageHash.
//
// An empty messageHash skips the hash check.
func DecryptMessage(encryptedContent, encryptedSymmetricKey, messageHash string, privateKey *rsa.PrivateKey) ([]byte, error) {
	if privateKey == nil {
		return nil, NewDecryptionError("private key is nil")
	}

	wrappedKey, err := base64.RawURLEncoding.DecodeString(encryptedSymmetricKey)
	if err != nil {
		return nil, WrapDecryptionError(err, "encrypted symmetric key is not valid base64url")
	}

	key, err := rsa.DecryptOAEP(sha256.New(), nil, privateKey, wrappedKey, nil)
	if err != nil {
		return nil, WrapDecryptionError(err, "failed to decrypt symmetric key")
	}

	content, err := base64.StdEncoding.DecodeString(encryptedContent)
	if err != nil {
		return nil, WrapDecryptionError(err, "encrypted content is not valid base64")
	}

	plaintext, err := decryptAESCBC(key, content)
	if err != nil {
		return nil, err
	}

	if messageHash != "" {
		if err := VerifyMessageHash(plaintext, messageHash); err != nil {
			return nil, err
		}
	}

	return plaintext, nil
}

// encryptAESCBC returns IV || ciphertext
func encryptAESCBC(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, WrapEncryptionError(err, "failed to create cipher")
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))

	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, WrapEncryptionError(err, "failed to generate IV")
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

func decryptAESCBC(key, content []byte) ([]byte, error) {
	if len(content) < aes.BlockSize {
		return nil, NewDecryptionError("encrypted content is shorter than the IV")
	}

	iv, ciphertext := content[:aes.BlockSize], content[aes.BlockSize:]
	if len(ciphertext) == 0 {
		return []byte{}, nil
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, NewDecryptionError("encrypted content is not a multiple of the block size")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, WrapDecryptionError(err, "failed to create cipher")
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, NewDecryptionError("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, NewDecryptionError("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, NewDecryptionError("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
