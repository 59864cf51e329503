package crypto

import "fmt"

// Error represents a structured error from the crypto package
type Error interface {
	error
	Code() ErrorCode
	Unwrap() error
}

type ErrorCode string

const (
	ErrCodeValidation         ErrorCode = "validation"
	ErrCodeKeyValidation      ErrorCode = "key_validation"
	ErrCodeUnsupportedKeyType ErrorCode = "unsupported_key_type"
	ErrCodeEncryption         ErrorCode = "encryption"
	ErrCodeDecryption         ErrorCode = "decryption"
	ErrCodeInvalidHash        ErrorCode = "invalid_hash"
	ErrCodeKeyManagement      ErrorCode = "key_management"
	ErrCodeInternal           ErrorCode = "internal"
)

// CryptoError represents a structured error from the crypto package
type CryptoError struct {

	// code is the crypto error code
	code ErrorCode

	// message is a human-readable error message
	message string

	// wrapped is the optional underlying error
	wrapped error
}

func (e *CryptoError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *CryptoError) Code() ErrorCode { return e.code }
func (e *CryptoError) Unwrap() error   { return e.wrapped }

// NewValidationError creates a validation error for invalid input.
// Use this for errors related to missing required fields, bad format,
// invalid JSON or bad encoding.
//
// The returned error will have code ErrCodeValidation.
func NewValidationError(msg string) error {
	return &CryptoError{code: ErrCodeValidation, message: msg}
}

// WrapValidationError wraps an existing error as a validation error.
//
// The returned error will have code ErrCodeValidation.
func WrapValidationError(err error, msg string) error {
	return &CryptoError{code: ErrCodeValidation, message: msg, wrapped: err}
}

// NewKeyValidationError creates a key validation error.
// Use this when a signing certificate is rejected: the key is not RSA,
// the key usage does not permit digital signatures, or the certificate
// is not signed with SHA-256 with RSA.
//
// The returned error will have code ErrCodeKeyValidation.
func NewKeyValidationError(msg string) error {
	return &CryptoError{code: ErrCodeKeyValidation, message: msg}
}

// WrapKeyValidationError wraps an existing error as a key validation error.
//
// The returned error will have code ErrCodeKeyValidation.
func WrapKeyValidationError(err error, msg string) error {
	return &CryptoError{code: ErrCodeKeyValidation, message: msg, wrapped: err}
}

// NewUnsupportedKeyTypeError creates an error for keys that are neither RSA nor EC,
// or whose algorithm does not match the key type.
//
// The returned error will have code ErrCodeUnsupportedKeyType.
func NewUnsupportedKeyTypeError(msg string) error {
	return &CryptoError{code: ErrCodeUnsupportedKeyType, message: msg}
}

// NewEncryptionError creates an encryption error.
// Use this for malformed recipient keys and failures of the symmetric
// or asymmetric encryption primitives.
//
// The returned error will have code ErrCodeEncryption.
func NewEncryptionError(msg string) error {
	return &CryptoError{code: ErrCodeEncryption, message: msg}
}

// WrapEncryptionError wraps an existing error as an encryption error.
//
// The returned error will have code ErrCodeEncryption.
func WrapEncryptionError(err error, msg string) error {
	return &CryptoError{code: ErrCodeEncryption, message: msg, wrapped: err}
}

// NewDecryptionError creates a decryption error.
//
// The returned error will have code ErrCodeDecryption.
func NewDecryptionError(msg string) error {
	return &CryptoError{code: ErrCodeDecryption, message: msg}
}

// WrapDecryptionError wraps an existing error as a decryption error.
// Use this for bad base64, a symmetric key that cannot be unwrapped,
// or ciphertext with invalid padding.
//
// The returned error will have code ErrCodeDecryption.
func WrapDecryptionError(err error, msg string) error {
	return &CryptoError{code: ErrCodeDecryption, message: msg, wrapped: err}
}

// NewHashError creates an error for a plaintext that does not match the hash sent with it.
//
// The returned error will have code ErrCodeInvalidHash.
func NewHashError(msg string) error {
	return &CryptoError{code: ErrCodeInvalidHash, message: msg}
}

// NewKeyManagementError creates a key management error.
// Use this for errors related to key loading, key generation,
// invalid key format, or JWK parsing failures.
//
// The returned error will have code ErrCodeKeyManagement.
func NewKeyManagementError(msg string) error {
	return &CryptoError{code: ErrCodeKeyManagement, message: msg}
}

// WrapKeyManagementError wraps an existing error as a key management error,
// Use this for errors related to key loading, key generation,
// invalid key format, or JWK parsing failures.
//
// The returned error will have code ErrCodeKeyManagement.
func WrapKeyManagementError(err error, msg string) error {
	return &CryptoError{code: ErrCodeKeyManagement, message: msg, wrapped: err}
}

// WrapInternalError wraps an existing error as an internal error.
//
// The returned error will have code ErrCodeInternal.
func WrapInternalError(err error, msg string) error {
	return &CryptoError{code: ErrCodeInternal, message: msg, wrapped: err}
}
