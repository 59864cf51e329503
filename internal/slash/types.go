package slash

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sender identity headers sent with every message
const (
	HeaderVendorName            = "x-vendor-name"
	HeaderSoftwareName          = "x-software-name"
	HeaderSoftwareVersion       = "x-software-version"
	HeaderExportSoftwareVersion = "x-export-software-version"
	HeaderDataExtractionDate    = "x-data-extraction-date"
	HeaderCorrelationID         = "X-Correlation-ID"
)

// DataExtractionDateLayout is the dd.MM.yyyy format of the x-data-extraction-date header
const DataExtractionDateLayout = "02.01.2006"

// DPoP claims that bind the proof to the encrypted message
const (
	ClaimMessageType           = "msg_type"
	ClaimMessageVersion        = "msg_version"
	ClaimMessageHash           = "msg_hash"
	ClaimEncryptedSymmetricKey = "enc_sym_key"
	ClaimEncryptionKeyID       = "enc_key_id"
)

// expirationLayouts are tried in order. Slash may omit the offset.
var expirationLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// PublicKeyInfo is a recipient public key published by Slash
type PublicKeyInfo struct {
	ID uuid.UUID `json:"id"`

	// PublicKey is the PEM encoded RSA public key
	PublicKey string `json:"publicKey"`

	ExpirationDate time.Time `json:"expirationDate"`
}

func (k *PublicKeyInfo) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID             uuid.UUID `json:"id"`
		PublicKey      string    `json:"publicKey"`
		ExpirationDate string    `json:"expirationDate"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	expires, err := parseExpirationDate(raw.ExpirationDate)
	if err != nil {
		return err
	}

	k.ID = raw.ID
	k.PublicKey = raw.PublicKey
	k.ExpirationDate = expires
	return nil
}

// parseExpirationDate reads a date without an offset as UTC
func parseExpirationDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range expirationLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised expiration date %q", value)
}

// EncryptedMessage is a message ready to be posted to Slash.
type EncryptedMessage struct {
	AccessToken string

	// DPoPProof is bound to AccessToken and to the encrypted payload
	DPoPProof string

	// Payload is the base64 encoded IV and ciphertext
	Payload string
}

// ProcessMessageError describes one problem Slash found with a message
type ProcessMessageError struct {
	ErrorCode    *int   `json:"errorCode"`
	PropertyName string `json:"propertyName"`
	ErrorMessage string `json:"errorMessage"`
	ErrorDetails string `json:"errorDetails"`
}

// ProcessMessageResponse is the JSON body returned by the message endpoint
type ProcessMessageResponse struct {
	Delivered bool                  `json:"delivered"`
	Errors    []ProcessMessageError `json:"errors"`
}

// SendMessageResponse is the result of a message send.
// CorrelationID is uuid.Nil when Slash did not return one.
type SendMessageResponse struct {
	CorrelationID uuid.UUID
	StatusCode    int
	ProcessMessageResponse
}
