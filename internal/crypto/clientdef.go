package crypto

import (
	"bytes"
	"encoding/json"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// TrimBOM removes a leading UTF-8 byte order mark.
func TrimBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, utf8BOM)
}

// ClientDefinition is the client configuration file downloaded from the HelseId self-service portal.
//
// The private key is held in PrivateJWK as a JSON string containing a JWK.
type ClientDefinition struct {
	ClientName     string   `json:"clientName"`
	Authority      string   `json:"authority"`
	ClientID       string   `json:"clientId"`
	GrantTypes     []string `json:"grantTypes"`
	Scopes         []string `json:"scopes"`
	SecretType     string   `json:"secretType"`
	RSAPrivateKey  string   `json:"rsaPrivateKey,omitempty"`
	RSAKeySizeBits int      `json:"rsaKeySizeBits,omitempty"`
	PrivateJWK     string   `json:"privateJwk"`
}

// ParseClientDefinition parses a HelseId client definition document
func ParseClientDefinition(data []byte) (*ClientDefinition, error) {
	var def ClientDefinition
	if err := json.Unmarshal(TrimBOM(data), &def); err != nil {
		return nil, WrapValidationError(err, "failed to parse client definition")
	}

	if def.ClientID == "" {
		return nil, NewValidationError("client definition is missing clientId")
	}
	if def.PrivateJWK == "" {
		return nil, NewValidationError("client definition is missing privateJwk")
	}

	return &def, nil
}

// ReadClientDefinitionFile loads a HelseId client definition from disk
func ReadClientDefinitionFile(path string) (*ClientDefinition, error) {
	data, err := readScopedFile(path)
	if err != nil {
		return nil, err
	}
	return ParseClientDefinition(data)
}
