package slash

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrEmptyMessage        = errors.New("message is empty")
	ErrEmptyMessageType    = errors.New("message type is empty")
	ErrEmptyMessageVersion = errors.New("message version is empty")
	ErrInvalidJSON         = errors.New("message is not valid JSON")
	ErrNotArray            = errors.New("payload must be an array of objects")
)

// Validator checks a message before anything is sent.
type Validator interface {
	Validate(message []byte, messageType, messageVersion string) error
}

// ValidatorFunc adapts a function to the Validator interface
type ValidatorFunc func(message []byte, messageType, messageVersion string) error

func (f ValidatorFunc) Validate(message []byte, messageType, messageVersion string) error {
	return f(message, messageType, messageVersion)
}

// ValidateMessage is the default Validator.
//
// The message, type and version must not be blank and the message must be
// valid JSON with an array at the top level.
func ValidateMessage(message []byte, messageType, messageVersion string) error {
	if len(bytes.TrimSpace(message)) == 0 {
		return ErrEmptyMessage
	}
	if strings.TrimSpace(messageType) == "" {
		return ErrEmptyMessageType
	}
	if strings.TrimSpace(messageVersion) == "" {
		return ErrEmptyMessageVersion
	}

	if !json.Valid(message) {
		return ErrInvalidJSON
	}

	tok, err := json.NewDecoder(bytes.NewReader(message)).Token()
	if err != nil {
		return ErrInvalidJSON
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return ErrNotArray
	}
	return nil
}
