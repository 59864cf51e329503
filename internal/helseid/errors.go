package helseid

import "fmt"

type ErrorCode string

const (
	ErrCodeConfiguration    ErrorCode = "configuration"
	ErrCodeTokenAcquisition ErrorCode = "token_acquisition"
	ErrCodeDiscovery        ErrorCode = "discovery"
	ErrCodeCache            ErrorCode = "cache"
)

// HelseIdError represents a structured error from the helseid package
type HelseIdError struct {
	code    ErrorCode
	message string
	wrapped error

	// StatusCode is the HTTP status of the token response, 0 if no response was received
	StatusCode int
}

func (e *HelseIdError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *HelseIdError) Code() ErrorCode { return e.code }
func (e *HelseIdError) Unwrap() error   { return e.wrapped }

// NewConfigurationError is returned for missing or invalid client settings.
func NewConfigurationError(msg string) error {
	return &HelseIdError{code: ErrCodeConfiguration, message: msg}
}

// NewTokenAcquisitionError creates a token acquisition error.
// Use this when HelseId rejects the token request or returns no access token.
//
// The returned error will have code ErrCodeTokenAcquisition.
func NewTokenAcquisitionError(statusCode int, msg string) error {
	return &HelseIdError{code: ErrCodeTokenAcquisition, message: msg, StatusCode: statusCode}
}

// WrapTokenAcquisitionError wraps a failure to build, send or parse the token request.
//
// The returned error will have code ErrCodeTokenAcquisition.
func WrapTokenAcquisitionError(err error, msg string) error {
	return &HelseIdError{code: ErrCodeTokenAcquisition, message: msg, wrapped: err}
}

// NewDiscoveryError is returned for a discovery document without the required endpoints.
func NewDiscoveryError(msg string) error {
	return &HelseIdError{code: ErrCodeDiscovery, message: msg}
}

// WrapDiscoveryError wraps a failure to read the OpenID Connect discovery document.
func WrapDiscoveryError(err error, msg string) error {
	return &HelseIdError{code: ErrCodeDiscovery, message: msg, wrapped: err}
}

// WrapCacheError wraps a token cache backend failure.
func WrapCacheError(err error, msg string) error {
	return &HelseIdError{code: ErrCodeCache, message: msg, wrapped: err}
}
