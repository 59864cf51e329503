package slash

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:               baseURL,
		VendorName:            "Test Vendor",
		SoftwareName:          "Test Software",
		SoftwareVersion:       "1.0.0",
		ExportSoftwareVersion: "2.0.0",
		RetryInterval:         time.Millisecond,
		Logger:                slog.New(slog.DiscardHandler),
	}
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(testConfig(server.URL + "/"))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func assertErrorCode(t *testing.T, err error, want ErrorCode) {
	t.Helper()
	var slashErr *SlashError
	if !errors.As(err, &slashErr) {
		t.Fatalf("expected *SlashError, got %T: %v", err, err)
	}
	if slashErr.Code() != want {
		t.Errorf("error code = %s, want %s (%v)", slashErr.Code(), want, err)
	}
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing base URL", mutate: func(c *Config) { c.BaseURL = "" }},
		{name: "relative base URL", mutate: func(c *Config) { c.BaseURL = "/api/" }},
		{name: "missing vendor name", mutate: func(c *Config) { c.VendorName = " " }},
		{name: "missing software name", mutate: func(c *Config) { c.SoftwareName = "" }},
		{name: "missing software version", mutate: func(c *Config) { c.SoftwareVersion = "" }},
		{name: "missing export software version", mutate: func(c *Config) { c.ExportSoftwareVersion = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("https://slash.example.test/api/")
			tt.mutate(&cfg)

			_, err := NewClient(cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			assertErrorCode(t, err, ErrCodeClient)
		})
	}
}

func TestEndpointResolution(t *testing.T) {
	tests := []struct {
		name        string
		baseURL     string
		keys        string
		message     string
		wantKeys    string
		wantMessage string
	}{
		{
			name:        "defaults below base path",
			baseURL:     "https://slash.example.test/api/",
			wantKeys:    "https://slash.example.test/api/keys",
			wantMessage: "https://slash.example.test/api/message",
		},
		{
			name:        "base without trailing slash replaces the last segment",
			baseURL:     "https://slash.example.test/api",
			wantKeys:    "https://slash.example.test/keys",
			wantMessage: "https://slash.example.test/message",
		},
		{
			name:        "custom relative endpoints",
			baseURL:     "https://slash.example.test/api/",
			keys:        "v2/keys",
			message:     "v2/message",
			wantKeys:    "https://slash.example.test/api/v2/keys",
			wantMessage: "https://slash.example.test/api/v2/message",
		},
		{
			name:        "absolute endpoint path",
			baseURL:     "https://slash.example.test/api/",
			keys:        "/keys",
			wantKeys:    "https://slash.example.test/keys",
			wantMessage: "https://slash.example.test/api/message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(tt.baseURL)
			cfg.KeysEndpoint = tt.keys
			cfg.MessageEndpoint = tt.message

			client, err := NewClient(cfg)
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			if client.KeysURL() != tt.wantKeys {
				t.Errorf("KeysURL() = %q, want %q", client.KeysURL(), tt.wantKeys)
			}
			if client.MessageURL() != tt.wantMessage {
				t.Errorf("MessageURL() = %q, want %q", client.MessageURL(), tt.wantMessage)
			}
		})
	}
}

func TestListPublicKeysSortsLatestFirst(t *testing.T) {
	oldest, latest, middle := uuid.New(), uuid.New(), uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/keys" {
			t.Errorf("path = %q, want /keys", r.URL.Path)
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		fmt.Fprintf(w, `[
			{"id":%q,"publicKey":"k1","expirationDate":"2025-01-01T00:00:00"},
			{"id":%q,"publicKey":"k2","expirationDate":"2027-06-30T12:00:00Z"},
			{"id":%q,"publicKey":"k3","expirationDate":"2026-03-01"}
		]`, oldest, latest, middle)
	}))
	defer server.Close()

	keys, err := newTestClient(t, server).ListPublicKeys(context.Background())
	if err != nil {
		t.Fatalf("ListPublicKeys() error = %v", err)
	}

	want := []uuid.UUID{latest, middle, oldest}
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(keys), len(want))
	}
	for i, id := range want {
		if keys[i].ID != id {
			t.Errorf("keys[%d].ID = %s, want %s", i, keys[i].ID, id)
		}
	}
	if keys[0].PublicKey != "k2" {
		t.Errorf("keys[0].PublicKey = %q, want k2", keys[0].PublicKey)
	}
}

func TestListPublicKeysRetries(t *testing.T) {
	tests := []struct {
		name         string
		responses    []int
		body         string
		wantRequests int32
		wantErr      bool
	}{
		{
			name:         "recovers after server errors",
			responses:    []int{http.StatusServiceUnavailable, http.StatusInternalServerError, http.StatusOK},
			body:         `[{"id":"0b6f1f5e-4f6f-4a39-9f53-8f7e4f1f2a10","publicKey":"k","expirationDate":"2026-12-31"}]`,
			wantRequests: 3,
		},
		{
			name:         "gives up after max tries",
			responses:    []int{http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway, http.StatusOK},
			wantRequests: 3,
			wantErr:      true,
		},
		{
			name:         "client error is not retried",
			responses:    []int{http.StatusForbidden, http.StatusOK},
			wantRequests: 1,
			wantErr:      true,
		},
		{
			name:         "empty key list is not retried",
			responses:    []int{http.StatusOK, http.StatusOK},
			body:         `[]`,
			wantRequests: 1,
			wantErr:      true,
		},
		{
			name:         "invalid JSON is not retried",
			responses:    []int{http.StatusOK, http.StatusOK},
			body:         `{"keys":`,
			wantRequests: 1,
			wantErr:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := requests.Add(1)
				status := tt.responses[min(int(n), len(tt.responses))-1]
				w.WriteHeader(status)
				if status == http.StatusOK {
					_, _ = w.Write([]byte(tt.body))
				}
			}))
			defer server.Close()

			_, err := newTestClient(t, server).ListPublicKeys(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("ListPublicKeys() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				assertErrorCode(t, err, ErrCodeClient)
			}
			if got := requests.Load(); got != tt.wantRequests {
				t.Errorf("got %d requests, want %d", got, tt.wantRequests)
			}
		})
	}
}

func TestListPublicKeysEmptyMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server).ListPublicKeys(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no public keys were returned") {
		t.Errorf("got error %v, want no public keys error", err)
	}
}

func TestListPublicKeysContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newTestClient(t, server).ListPublicKeys(ctx); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestSendEncryptedMessage(t *testing.T) {
	correlationID := uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/message" {
			t.Errorf("got %s %s, want POST /message", r.Method, r.URL.Path)
		}

		wantHeaders := map[string]string{
			"Content-Type":              "text/plain; charset=utf-8",
			"Authorization":             "DPoP access-token",
			"DPoP":                      "proof",
			"x-vendor-name":             "Test Vendor",
			"x-software-name":           "Test Software",
			"x-software-version":        "1.0.0",
			"x-export-software-version": "2.0.0",
			"x-data-extraction-date":    "05.03.2026",
		}
		for name, want := range wantHeaders {
			if got := r.Header.Get(name); got != want {
				t.Errorf("header %s = %q, want %q", name, got, want)
			}
		}

		body, _ := io.ReadAll(r.Body)
		if string(body) != "ciphertext" {
			t.Errorf("body = %q, want ciphertext", body)
		}

		w.Header().Set(HeaderCorrelationID, correlationID.String())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"delivered":true,"errors":[]}`))
	}))
	defer server.Close()

	cfg := testConfig(server.URL + "/")
	cfg.Now = func() time.Time { return time.Date(2026, 3, 5, 23, 59, 0, 0, time.UTC) }
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	resp, err := client.SendEncryptedMessage(context.Background(), &EncryptedMessage{
		AccessToken: "access-token",
		DPoPProof:   "proof",
		Payload:     "ciphertext",
	})
	if err != nil {
		t.Fatalf("SendEncryptedMessage() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK || !resp.Delivered || len(resp.Errors) != 0 {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.CorrelationID != correlationID {
		t.Errorf("correlation id = %s, want %s", resp.CorrelationID, correlationID)
	}
}

func TestSendEncryptedMessageConfiguredExtractionDate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get(HeaderDataExtractionDate); got != "31.12.2025" {
			t.Errorf("x-data-extraction-date = %q, want 31.12.2025", got)
		}
		_, _ = w.Write([]byte(`{"delivered":true,"errors":[]}`))
	}))
	defer server.Close()

	cfg := testConfig(server.URL + "/")
	cfg.DataExtractionDate = time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if _, err := client.SendEncryptedMessage(context.Background(), &EncryptedMessage{
		AccessToken: "t", DPoPProof: "p", Payload: "c",
	}); err != nil {
		t.Fatalf("SendEncryptedMessage() error = %v", err)
	}
}

func TestSendEncryptedMessageResponses(t *testing.T) {
	tests := []struct {
		name              string
		status            int
		correlationHeader string
		body              string
		wantErr           bool
		wantCorrelationID uuid.UUID
		wantDelivered     bool
		wantErrors        int
	}{
		{
			name:              "rejected message is parsed",
			status:            http.StatusBadRequest,
			correlationHeader: "7d444840-9dc0-11d1-b245-5ffdce74fad2",
			body:              `{"delivered":false,"errors":[{"errorCode":1001,"propertyName":"x-vendor-name","errorMessage":"missing"}]}`,
			wantCorrelationID: uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2"),
			wantErrors:        1,
		},
		{
			name:          "missing correlation id gives nil uuid",
			status:        http.StatusOK,
			body:          `{"delivered":true,"errors":[]}`,
			wantDelivered: true,
		},
		{
			name:   "empty body",
			status: http.StatusAccepted,
		},
		{
			name:              "invalid correlation id",
			status:            http.StatusOK,
			correlationHeader: "not-a-uuid",
			body:              `{"delivered":true,"errors":[]}`,
			wantErr:           true,
		},
		{
			name:    "non JSON body",
			status:  http.StatusBadGateway,
			body:    `<html>bad gateway</html>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.correlationHeader != "" {
					w.Header().Set(HeaderCorrelationID, tt.correlationHeader)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			resp, err := newTestClient(t, server).SendEncryptedMessage(context.Background(), &EncryptedMessage{
				AccessToken: "t", DPoPProof: "p", Payload: "c",
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("SendEncryptedMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				assertErrorCode(t, err, ErrCodeClient)
				return
			}
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if resp.CorrelationID != tt.wantCorrelationID {
				t.Errorf("correlation id = %s, want %s", resp.CorrelationID, tt.wantCorrelationID)
			}
			if resp.Delivered != tt.wantDelivered {
				t.Errorf("delivered = %v, want %v", resp.Delivered, tt.wantDelivered)
			}
			if len(resp.Errors) != tt.wantErrors {
				t.Errorf("got %d errors, want %d", len(resp.Errors), tt.wantErrors)
			}
		})
	}
}

func TestSendEncryptedMessageRejectsIncompleteMessage(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer server.Close()
	client := newTestClient(t, server)

	for _, msg := range []*EncryptedMessage{
		nil,
		{DPoPProof: "p", Payload: "c"},
		{AccessToken: "t", Payload: "c"},
		{AccessToken: "t", DPoPProof: "p"},
	} {
		if _, err := client.SendEncryptedMessage(context.Background(), msg); err == nil {
			t.Errorf("expected error for %+v", msg)
		}
	}
	if requests.Load() != 0 {
		t.Errorf("got %d requests, want none", requests.Load())
	}
}
