package slash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/information-sharing-networks/slash-messenger/internal/dpop"
)

const (
	DefaultKeysEndpoint    = "keys"
	DefaultMessageEndpoint = "message"

	// DefaultMaxTries is the number of attempts made to list the public keys
	DefaultMaxTries = 3

	// maxResponseSize limits how much of a Slash response is read
	maxResponseSize = 1 << 20
)

// Config holds the Slash API settings.
type Config struct {
	// BaseURL is the absolute URL of the Slash API
	BaseURL string

	// KeysEndpoint and MessageEndpoint are resolved against BaseURL.
	// They default to DefaultKeysEndpoint and DefaultMessageEndpoint.
	KeysEndpoint    string
	MessageEndpoint string

	// Sender identity, sent as headers with every message
	VendorName            string
	SoftwareName          string
	SoftwareVersion       string
	ExportSoftwareVersion string

	// DataExtractionDate defaults to the current date when zero
	DataExtractionDate time.Time

	// MaxTries bounds the attempts made to list the public keys (default DefaultMaxTries)
	MaxTries uint

	// RetryInterval is the initial wait between attempts (default 500ms)
	RetryInterval time.Duration

	// HTTPClient defaults to a client with a 30 second timeout
	HTTPClient *http.Client

	// Logger defaults to slog.Default()
	Logger *slog.Logger

	// Now defaults to time.Now
	Now func() time.Time
}

// Client calls the Slash API.
type Client struct {
	config     Config
	keysURL    string
	messageURL string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient creates a Slash API client.
func NewClient(config Config) (*Client, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, NewClientError("slash base URL is required")
	}

	required := []struct {
		name  string
		value string
	}{
		{"vendor name", config.VendorName},
		{"software name", config.SoftwareName},
		{"software version", config.SoftwareVersion},
		{"export software version", config.ExportSoftwareVersion},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return nil, NewClientError(fmt.Sprintf("%s is required", r.name))
		}
	}

	if config.KeysEndpoint == "" {
		config.KeysEndpoint = DefaultKeysEndpoint
	}
	if config.MessageEndpoint == "" {
		config.MessageEndpoint = DefaultMessageEndpoint
	}
	if config.MaxTries == 0 {
		config.MaxTries = DefaultMaxTries
	}

	keysURL, err := resolveEndpoint(config.BaseURL, config.KeysEndpoint)
	if err != nil {
		return nil, err
	}
	messageURL, err := resolveEndpoint(config.BaseURL, config.MessageEndpoint)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:     config,
		keysURL:    keysURL,
		messageURL: messageURL,
		httpClient: config.HTTPClient,
		logger:     config.Logger,
		now:        config.Now,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// resolveEndpoint resolves endpoint against the base URL the way a browser
// resolves a relative link, so "keys" against "https://host/api/" is "https://host/api/keys".
func resolveEndpoint(baseURL, endpoint string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() || base.Host == "" {
		return "", NewClientError(fmt.Sprintf("slash base URL %q is not an absolute URL", baseURL))
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", WrapClientError(err, fmt.Sprintf("invalid slash endpoint %q", endpoint))
	}
	return base.ResolveReference(ref).String(), nil
}

// KeysURL returns the absolute URL of the public key endpoint
func (c *Client) KeysURL() string { return c.keysURL }

// MessageURL returns the absolute URL of the message endpoint.
// It is the htu of the DPoP proof sent with a message.
func (c *Client) MessageURL() string { return c.messageURL }

// ListPublicKeys returns the recipient public keys ordered by expiration date, latest first.
//
// Network failures and 5xx responses are retried with exponential backoff up
// to Config.MaxTries attempts. An unparseable or empty key list is not retried.
func (c *Client) ListPublicKeys(ctx context.Context) ([]PublicKeyInfo, error) {
	c.logger.Debug("retrieving public keys from Slash API", slog.String("url", c.keysURL))

	attempt := 0
	operation := func() ([]PublicKeyInfo, error) {
		attempt++
		return c.fetchPublicKeys(ctx)
	}

	expBackoff := backoff.NewExponentialBackOff()
	if c.config.RetryInterval > 0 {
		expBackoff.InitialInterval = c.config.RetryInterval
	}

	keys, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(c.config.MaxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn("retrying public key retrieval",
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()),
			)
		}),
	)
	if err != nil {
		// the last attempt may return the permanent wrapper unchanged
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		return nil, err
	}

	slices.SortStableFunc(keys, func(a, b PublicKeyInfo) int {
		return b.ExpirationDate.Compare(a.ExpirationDate)
	})

	c.logger.Debug("public keys retrieved from Slash API", slog.Int("count", len(keys)))
	return keys, nil
}

func (c *Client) fetchPublicKeys(ctx context.Context) ([]PublicKeyInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.keysURL, nil)
	if err != nil {
		return nil, backoff.Permanent(WrapClientError(err, "could not create public key request"))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(WrapClientError(err, "could not retrieve public keys from Slash"))
		}
		return nil, WrapClientError(err, "could not retrieve public keys from Slash")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, WrapClientError(err, "could not read public keys from Slash")
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, NewClientError(fmt.Sprintf("Slash returned %d for the public key request", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(NewClientError(fmt.Sprintf("Slash returned %d for the public key request", resp.StatusCode)))
	}

	var keys []PublicKeyInfo
	if err := json.Unmarshal(body, &keys); err != nil {
		return nil, backoff.Permanent(WrapClientError(err, "could not parse public keys from Slash API"))
	}
	if len(keys) == 0 {
		return nil, backoff.Permanent(NewClientError("no public keys were returned in the response from Slash API"))
	}
	return keys, nil
}

// SendEncryptedMessage posts an encrypted message to Slash.
//
// The response body is parsed whatever the status code, since Slash reports
// rejected messages in the body. A missing X-Correlation-ID header gives uuid.Nil.
func (c *Client) SendEncryptedMessage(ctx context.Context, message *EncryptedMessage) (*SendMessageResponse, error) {
	c.logger.Debug("sending message to Slash API", slog.String("url", c.messageURL))

	if err := validateEncryptedMessage(message); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messageURL, strings.NewReader(message.Payload))
	if err != nil {
		return nil, WrapClientError(err, "could not create message request")
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", dpop.AuthorizationScheme+" "+message.AccessToken)
	req.Header.Set(dpop.HeaderName, message.DPoPProof)
	req.Header.Set(HeaderVendorName, c.config.VendorName)
	req.Header.Set(HeaderSoftwareName, c.config.SoftwareName)
	req.Header.Set(HeaderSoftwareVersion, c.config.SoftwareVersion)
	req.Header.Set(HeaderExportSoftwareVersion, c.config.ExportSoftwareVersion)
	req.Header.Set(HeaderDataExtractionDate, c.dataExtractionDate())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, WrapClientError(err, "failed to send message to Slash API")
	}
	defer resp.Body.Close()

	result, err := parseSendResponse(resp)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("message sent to Slash API",
		slog.Int("status", result.StatusCode),
		slog.String("correlation_id", result.CorrelationID.String()),
		slog.Bool("delivered", result.Delivered),
	)
	return result, nil
}

func (c *Client) dataExtractionDate() string {
	if !c.config.DataExtractionDate.IsZero() {
		return c.config.DataExtractionDate.Format(DataExtractionDateLayout)
	}
	return c.now().Format(DataExtractionDateLayout)
}

func validateEncryptedMessage(message *EncryptedMessage) error {
	switch {
	case message == nil:
		return NewClientError("message is nil")
	case strings.TrimSpace(message.AccessToken) == "":
		return NewClientError("message access token is required")
	case strings.TrimSpace(message.DPoPProof) == "":
		return NewClientError("message DPoP proof is required")
	case strings.TrimSpace(message.Payload) == "":
		return NewClientError("message payload is required")
	}
	return nil
}

func parseSendResponse(resp *http.Response) (*SendMessageResponse, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, WrapClientError(err, "failed to read response from Slash API")
	}

	result := &SendMessageResponse{StatusCode: resp.StatusCode}

	if raw := strings.TrimSpace(resp.Header.Get(HeaderCorrelationID)); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, WrapClientError(err, "failed to parse correlation id from Slash API")
		}
		result.CorrelationID = id
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(body, &result.ProcessMessageResponse); err != nil {
		return nil, WrapClientError(err, fmt.Sprintf("failed to parse response from Slash API (status %d)", resp.StatusCode))
	}
	return result, nil
}
