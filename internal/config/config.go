package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/google/uuid"

	"github.com/information-sharing-networks/slash-messenger/internal/crypto"
)

// Token cache backends
const (
	TokenCacheMemory = "memory"
	TokenCacheRedis  = "redis"
)

// ClientEnvironment holds the slash-messenger CLI settings
type ClientEnvironment struct {
	Environment string `env:"ENVIRONMENT,default=dev"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	// HelseId settings. The token endpoint is discovered from the authority
	// unless HELSEID_TOKEN_ENDPOINT is set.
	HelseIdAuthority     string `env:"HELSEID_AUTHORITY"`
	HelseIdTokenEndpoint string `env:"HELSEID_TOKEN_ENDPOINT"`
	HelseIdClientID      string `env:"HELSEID_CLIENT_ID"`
	HelseIdScopes        string `env:"HELSEID_SCOPES"`

	// signing key source: a certificate (PEM with key file, or PKCS#12) or a HelseId client definition file.
	// The certificate is used when both are set.
	HelseIdCertificatePath      string `env:"HELSEID_CERTIFICATE_PATH"`
	HelseIdCertificateKeyPath   string `env:"HELSEID_CERTIFICATE_KEY_PATH"`
	HelseIdCertificatePassword  string `env:"HELSEID_CERTIFICATE_PASSWORD"`
	HelseIdClientDefinitionPath string `env:"HELSEID_CLIENT_DEFINITION_PATH"`

	// optional separate key for DPoP proofs
	DPoPProofJWKPath string `env:"DPOP_PROOF_JWK_PATH"`

	// Slash API settings
	SlashBaseURL                string `env:"SLASH_BASE_URL"`
	SlashKeysEndpoint           string `env:"SLASH_KEYS_ENDPOINT,default=keys"`
	SlashMessageEndpoint        string `env:"SLASH_MESSAGE_ENDPOINT,default=message"`
	SenderVendorName            string `env:"SENDER_VENDOR_NAME"`
	SenderSoftwareName          string `env:"SENDER_SOFTWARE_NAME"`
	SenderSoftwareVersion       string `env:"SENDER_SOFTWARE_VERSION"`
	SenderExportSoftwareVersion string `env:"SENDER_EXPORT_SOFTWARE_VERSION"`

	HTTPTimeout      time.Duration `env:"HTTP_TIMEOUT,default=30s"`
	TokenLockTimeout time.Duration `env:"TOKEN_LOCK_TIMEOUT,default=30s"`
	KeyFetchMaxTries int           `env:"KEY_FETCH_MAX_TRIES,default=3"`

	// token cache settings
	TokenCache     string `env:"TOKEN_CACHE,default=memory"`
	RedisAddr      string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB,default=0"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX,default=slash-messenger:"`
}

// ServerEnvironment holds the slash-stub development receiver settings
type ServerEnvironment struct {

	// http server settings
	Environment           string        `env:"ENVIRONMENT,default=dev"`
	Host                  string        `env:"HOST,default=0.0.0.0"`
	Port                  int           `env:"PORT,default=8080"`
	LogLevel              string        `env:"LOG_LEVEL,default=debug"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=10s"`
	ReadTimeout           time.Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout          time.Duration `env:"WRITE_TIMEOUT,default=15s"`
	IdleTimeout           time.Duration `env:"IDLE_TIMEOUT,default=60s"`
	RequestTimeout        time.Duration `env:"REQUEST_TIMEOUT,default=60s"`
	RateLimitRPS          int32         `env:"RATE_LIMIT_RPS,default=100"`
	RateLimitBurst        int32         `env:"RATE_LIMIT_BURST,default=200"`
	MaxRequestBodyBytes   int64         `env:"MAX_REQUEST_BODY_BYTES,default=1048576"`

	// PublicBaseURL is the issuer and the base of the endpoint URLs.
	// When empty it is derived from each request's scheme and Host header.
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`

	// emulated HelseId settings
	ClientID            string        `env:"CLIENT_ID,required=true"`
	ClientPublicKeyPath string        `env:"CLIENT_PUBLIC_KEY_PATH,required=true"`
	TokenLifetime       time.Duration `env:"TOKEN_LIFETIME,default=300s"`
	RequireDPoPNonce    bool          `env:"REQUIRE_DPOP_NONCE,default=true"`
	NonceLifetime       time.Duration `env:"NONCE_LIFETIME,default=5m"`

	// emulated Slash settings. A recipient key is generated at startup when no path is set.
	RecipientKeyPath     string        `env:"RECIPIENT_KEY_PATH"`
	RecipientKeyID       string        `env:"RECIPIENT_KEY_ID"`
	RecipientKeyLifetime time.Duration `env:"RECIPIENT_KEY_LIFETIME,default=8760h"`
}

var validEnvs = map[string]bool{
	"dev":     true,
	"test":    true,
	"prod":    true,
	"staging": true,
}

// NewClientConfig loads the CLI settings from the environment.
//
// Only the general settings are validated here; call ValidateSend before sending a message.
func NewClientConfig() (*ClientEnvironment, error) {
	var cfg ClientEnvironment

	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal environment variables: %w", err)
	}

	if !validEnvs[cfg.Environment] {
		return nil, fmt.Errorf("invalid ENVIRONMENT: %s", cfg.Environment)
	}
	return &cfg, nil
}

// Scopes returns HELSEID_SCOPES split on white space
func (c *ClientEnvironment) Scopes() []string {
	return strings.Fields(c.HelseIdScopes)
}

// UsesPKCS12 reports whether the certificate is a PKCS#12 bundle rather than PEM files
func (c *ClientEnvironment) UsesPKCS12() bool {
	return c.HelseIdCertificatePath != "" && c.HelseIdCertificateKeyPath == ""
}

// ApplyClientDefinition fills the client id, authority and scopes from a
// HelseId client definition where they are not set in the environment.
func (c *ClientEnvironment) ApplyClientDefinition(def *crypto.ClientDefinition) {
	if def == nil {
		return
	}
	if c.HelseIdClientID == "" {
		c.HelseIdClientID = def.ClientID
	}
	if c.HelseIdAuthority == "" && c.HelseIdTokenEndpoint == "" {
		c.HelseIdAuthority = def.Authority
	}
	if c.HelseIdScopes == "" {
		c.HelseIdScopes = strings.Join(def.Scopes, " ")
	}
}

// ValidateSend checks the settings needed to send a message
func (c *ClientEnvironment) ValidateSend() error {
	if c.HelseIdClientID == "" {
		return fmt.Errorf("HELSEID_CLIENT_ID is required")
	}
	if c.HelseIdAuthority == "" && c.HelseIdTokenEndpoint == "" {
		return fmt.Errorf("one of HELSEID_AUTHORITY or HELSEID_TOKEN_ENDPOINT is required")
	}
	for name, value := range map[string]string{
		"HELSEID_AUTHORITY":      c.HelseIdAuthority,
		"HELSEID_TOKEN_ENDPOINT": c.HelseIdTokenEndpoint,
		"SLASH_BASE_URL":         c.SlashBaseURL,
	} {
		if value == "" {
			continue
		}
		if err := validateAbsoluteURL(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.HelseIdCertificatePath == "" && c.HelseIdClientDefinitionPath == "" {
		return fmt.Errorf("one of HELSEID_CERTIFICATE_PATH or HELSEID_CLIENT_DEFINITION_PATH is required")
	}

	if c.SlashBaseURL == "" {
		return fmt.Errorf("SLASH_BASE_URL is required")
	}
	required := []struct {
		name  string
		value string
	}{
		{"SENDER_VENDOR_NAME", c.SenderVendorName},
		{"SENDER_SOFTWARE_NAME", c.SenderSoftwareName},
		{"SENDER_SOFTWARE_VERSION", c.SenderSoftwareVersion},
		{"SENDER_EXPORT_SOFTWARE_VERSION", c.SenderExportSoftwareVersion},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be greater than 0")
	}
	if c.TokenLockTimeout <= 0 {
		return fmt.Errorf("TOKEN_LOCK_TIMEOUT must be greater than 0")
	}
	if c.KeyFetchMaxTries < 1 {
		return fmt.Errorf("KEY_FETCH_MAX_TRIES must be at least 1")
	}

	switch c.TokenCache {
	case TokenCacheMemory:
	case TokenCacheRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when TOKEN_CACHE is %s", TokenCacheRedis)
		}
		if c.RedisDB < 0 {
			return fmt.Errorf("REDIS_DB must be 0 or greater")
		}
	default:
		return fmt.Errorf("invalid TOKEN_CACHE: %s (must be %s or %s)", c.TokenCache, TokenCacheMemory, TokenCacheRedis)
	}

	return nil
}

// NewServerConfig loads environment variables and returns a ServerEnvironment struct that contains the values
func NewServerConfig() (*ServerEnvironment, error) {
	var cfg ServerEnvironment

	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal environment variables: %w", err)
	}

	if err := validateServerConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateServerConfig checks for invalid settings
func validateServerConfig(cfg *ServerEnvironment) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if !validEnvs[cfg.Environment] {
		return fmt.Errorf("invalid ENVIRONMENT: %s", cfg.Environment)
	}
	if cfg.MaxRequestBodyBytes < 1 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be at least 1")
	}
	if cfg.TokenLifetime < time.Second {
		return fmt.Errorf("TOKEN_LIFETIME must be at least 1s")
	}
	if cfg.RequireDPoPNonce && cfg.NonceLifetime <= 0 {
		return fmt.Errorf("NONCE_LIFETIME must be greater than 0")
	}
	if cfg.PublicBaseURL != "" {
		if err := validateAbsoluteURL(cfg.PublicBaseURL); err != nil {
			return fmt.Errorf("PUBLIC_BASE_URL: %w", err)
		}
	}
	if cfg.RecipientKeyID != "" {
		if _, err := uuid.Parse(cfg.RecipientKeyID); err != nil {
			return fmt.Errorf("RECIPIENT_KEY_ID must be a UUID: %w", err)
		}
	}
	return nil
}

func validateAbsoluteURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", value)
	}
	return nil
}
