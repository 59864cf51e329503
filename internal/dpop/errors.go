package dpop

import "fmt"

type ErrorCode string

const (
	ErrCodeUnsupportedKeyType ErrorCode = "unsupported_key_type"
	ErrCodeProofConstruction  ErrorCode = "proof_construction"
	ErrCodeInvalidProof       ErrorCode = "invalid_proof"
	ErrCodeInvalidNonce       ErrorCode = "invalid_nonce"
)

// DPoPError represents a structured error from the dpop package
type DPoPError struct {
	code    ErrorCode
	message string
	wrapped error
}

func (e *DPoPError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *DPoPError) Code() ErrorCode { return e.code }
func (e *DPoPError) Unwrap() error   { return e.wrapped }

// NewUnsupportedKeyTypeError is returned when the proof key is neither RSA nor EC.
func NewUnsupportedKeyTypeError(msg string) error {
	return &DPoPError{code: ErrCodeUnsupportedKeyType, message: msg}
}

// WrapProofConstructionError wraps a failure to build or sign a proof.
func WrapProofConstructionError(err error, msg string) error {
	return &DPoPError{code: ErrCodeProofConstruction, message: msg, wrapped: err}
}

// NewProofConstructionError creates a proof construction error.
func NewProofConstructionError(msg string) error {
	return &DPoPError{code: ErrCodeProofConstruction, message: msg}
}

// NewInvalidProofError is returned by Verify for proofs that fail validation.
func NewInvalidProofError(msg string) error {
	return &DPoPError{code: ErrCodeInvalidProof, message: msg}
}

// WrapInvalidProofError wraps a parse or signature failure found by Verify.
func WrapInvalidProofError(err error, msg string) error {
	return &DPoPError{code: ErrCodeInvalidProof, message: msg, wrapped: err}
}

// NewInvalidNonceError is returned by Verify when the nonce is missing or stale.
// Servers respond to it with a use_dpop_nonce challenge.
func NewInvalidNonceError(msg string) error {
	return &DPoPError{code: ErrCodeInvalidNonce, message: msg}
}
