package slash

import "fmt"

// ErrorCode identifies the stage of a message send that failed
type ErrorCode string

const (
	ErrCodeValidation        ErrorCode = "validation"
	ErrCodeKeyRetrieval      ErrorCode = "key_retrieval"
	ErrCodeEncryption        ErrorCode = "encryption"
	ErrCodeTokenAcquisition  ErrorCode = "token_acquisition"
	ErrCodeProofConstruction ErrorCode = "proof_construction"
	ErrCodeTransmission      ErrorCode = "transmission"

	// ErrCodeClient is used by Client for failed calls to the Slash API.
	// The service wraps these in a stage error.
	ErrCodeClient ErrorCode = "client"
)

// SlashError represents a structured error from the slash package
type SlashError struct {
	// code is the stage that failed
	code ErrorCode

	// message is a human-readable error message
	message string

	// wrapped is the optional underlying error
	wrapped error
}

func (e *SlashError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *SlashError) Code() ErrorCode { return e.code }
func (e *SlashError) Unwrap() error   { return e.wrapped }

// WrapValidationError wraps a validation failure.
func WrapValidationError(err error, msg string) error {
	return &SlashError{code: ErrCodeValidation, message: msg, wrapped: err}
}

// WrapKeyRetrievalError is returned when no recipient public key could be obtained.
func WrapKeyRetrievalError(err error, msg string) error {
	return &SlashError{code: ErrCodeKeyRetrieval, message: msg, wrapped: err}
}

// WrapEncryptionError wraps a failure to encrypt the message.
func WrapEncryptionError(err error, msg string) error {
	return &SlashError{code: ErrCodeEncryption, message: msg, wrapped: err}
}

// WrapTokenAcquisitionError wraps a failure to get an access token from HelseId.
func WrapTokenAcquisitionError(err error, msg string) error {
	return &SlashError{code: ErrCodeTokenAcquisition, message: msg, wrapped: err}
}

// WrapProofConstructionError wraps a failure to build the DPoP proof for the message request.
func WrapProofConstructionError(err error, msg string) error {
	return &SlashError{code: ErrCodeProofConstruction, message: msg, wrapped: err}
}

// WrapTransmissionError wraps a failure to send the message or read the response.
func WrapTransmissionError(err error, msg string) error {
	return &SlashError{code: ErrCodeTransmission, message: msg, wrapped: err}
}

// NewClientError creates an error for an unusable Slash API response.
func NewClientError(msg string) error {
	return &SlashError{code: ErrCodeClient, message: msg}
}

// WrapClientError wraps a failed call to the Slash API.
func WrapClientError(err error, msg string) error {
	return &SlashError{code: ErrCodeClient, message: msg, wrapped: err}
}
