package slash

import (
	"errors"
	"testing"
)

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name           string
		message        string
		messageType    string
		messageVersion string
		wantErr        error
	}{
		{name: "array of objects", message: `[{"a":1},{"b":2}]`, messageType: "T", messageVersion: "1.0"},
		{name: "empty array", message: `[]`, messageType: "T", messageVersion: "1.0"},
		{name: "leading whitespace", message: " \n[{\"a\":1}]", messageType: "T", messageVersion: "1.0"},
		{name: "empty message", message: "", messageType: "T", messageVersion: "1.0", wantErr: ErrEmptyMessage},
		{name: "blank message", message: "  \t", messageType: "T", messageVersion: "1.0", wantErr: ErrEmptyMessage},
		{name: "blank type", message: `[]`, messageType: " ", messageVersion: "1.0", wantErr: ErrEmptyMessageType},
		{name: "empty version", message: `[]`, messageType: "T", messageVersion: "", wantErr: ErrEmptyMessageVersion},
		{name: "invalid JSON", message: `[{"a":1}`, messageType: "T", messageVersion: "1.0", wantErr: ErrInvalidJSON},
		{name: "trailing data", message: `[] []`, messageType: "T", messageVersion: "1.0", wantErr: ErrInvalidJSON},
		{name: "object", message: `{"a":1}`, messageType: "T", messageVersion: "1.0", wantErr: ErrNotArray},
		{name: "string", message: `"text"`, messageType: "T", messageVersion: "1.0", wantErr: ErrNotArray},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage([]byte(tt.message), tt.messageType, tt.messageVersion)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateMessage() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
