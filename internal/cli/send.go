package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/information-sharing-networks/slash-messenger/internal/config"
	"github.com/information-sharing-networks/slash-messenger/internal/crypto"
	"github.com/information-sharing-networks/slash-messenger/internal/helseid"
	"github.com/information-sharing-networks/slash-messenger/internal/slash"
)

var sendCmd = &cobra.Command{
	Use:   "send <message-file> <message-type> <message-version> [data-extraction-date]",
	Short: "Encrypt a JSON message and send it to Slash",
	Long: `Encrypt a JSON message with the current Slash public key and send it with a
DPoP bound HelseId access token.

The data extraction date is given as dd.MM.yyyy (or yyyy-MM-dd) and defaults to today.

Examples:
  slash-messenger send message.json T 1
  slash-messenger send message.json T 1 19.10.2026 --dpop-jwk ./keys/dpop.private.jwk`,
	Args: cobra.RangeArgs(3, 4),
	RunE: runSend,
}

var sendDPoPJWKPath string

func init() {
	sendCmd.Flags().StringVar(&sendDPoPJWKPath, "dpop-jwk", "", "private JWK used for DPoP proofs (default: DPOP_PROOF_JWK_PATH, then the HelseId signing key)")
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	message, err := readMessageFile(args[0])
	if err != nil {
		return err
	}
	messageType, messageVersion := args[1], args[2]

	var extractionDate time.Time
	if len(args) == 4 {
		extractionDate, err = parseDataExtractionDate(args[3])
		if err != nil {
			return err
		}
	}

	identityKey, err := loadIdentityKey(cfg)
	if err != nil {
		return fmt.Errorf("failed to load the HelseId signing key: %w", err)
	}
	if err := cfg.ValidateSend(); err != nil {
		return err
	}

	proofKeyPath := sendDPoPJWKPath
	if proofKeyPath == "" {
		proofKeyPath = cfg.DPoPProofJWKPath
	}
	proofKey, err := loadProofKey(proofKeyPath, identityKey)
	if err != nil {
		return fmt.Errorf("failed to load the DPoP key: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	tokenEndpoint := cfg.HelseIdTokenEndpoint
	if tokenEndpoint == "" {
		tokenEndpoint, err = helseid.DiscoverTokenEndpoint(ctx, cfg.HelseIdAuthority, httpClient)
		if err != nil {
			return err
		}
	}

	appLogger.Debug("sending message",
		slog.String("file", args[0]),
		slog.String("message_type", messageType),
		slog.String("message_version", messageVersion),
		slog.String("client_id", cfg.HelseIdClientID),
		slog.String("token_endpoint", tokenEndpoint),
		slog.String("slash_base_url", cfg.SlashBaseURL),
		slog.String("token_cache", cfg.TokenCache),
		slog.Bool("separate_proof_key", proofKey != identityKey),
	)

	helseIdClient, err := helseid.NewClient(helseid.ClientConfig{
		TokenEndpoint: tokenEndpoint,
		ClientID:      cfg.HelseIdClientID,
		Scopes:        cfg.Scopes(),
		HTTPClient:    httpClient,
		Logger:        appLogger,
	}, identityKey)
	if err != nil {
		return err
	}

	cache, closeCache, err := newTokenCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	tokens := helseid.NewTokenService(helseIdClient,
		helseid.WithCache(cache),
		helseid.WithLockTimeout(cfg.TokenLockTimeout),
		helseid.WithLogger(appLogger),
	)

	slashClient, err := slash.NewClient(slash.Config{
		BaseURL:               cfg.SlashBaseURL,
		KeysEndpoint:          cfg.SlashKeysEndpoint,
		MessageEndpoint:       cfg.SlashMessageEndpoint,
		VendorName:            cfg.SenderVendorName,
		SoftwareName:          cfg.SenderSoftwareName,
		SoftwareVersion:       cfg.SenderSoftwareVersion,
		ExportSoftwareVersion: cfg.SenderExportSoftwareVersion,
		DataExtractionDate:    extractionDate,
		MaxTries:              uint(cfg.KeyFetchMaxTries),
		HTTPClient:            httpClient,
		Logger:                appLogger,
	})
	if err != nil {
		return err
	}

	service, err := slash.NewService(slashClient, tokens, proofKey, slash.WithLogger(appLogger))
	if err != nil {
		return err
	}

	resp, err := service.PrepareAndSendMessage(ctx, message, messageType, messageVersion)
	if err != nil {
		appLogger.Error("failed to send message", slog.String("error", err.Error()))
		return err
	}

	printSendResult(cmd.OutOrStdout(), resp)

	if !resp.Delivered {
		return fmt.Errorf("message was not delivered (status %d)", resp.StatusCode)
	}
	return nil
}

// parseDataExtractionDate accepts dd.MM.yyyy and yyyy-MM-dd
func parseDataExtractionDate(value string) (time.Time, error) {
	for _, layout := range []string{slash.DataExtractionDateLayout, time.DateOnly} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid data extraction date %q (expected dd.MM.yyyy)", value)
}

// loadIdentityKey loads the key used to sign the HelseId client assertion.
// A configured certificate takes precedence over a client definition file.
// Settings from the client definition are applied to c.
func loadIdentityKey(c *config.ClientEnvironment) (*crypto.SigningKey, error) {
	switch {
	case c.HelseIdCertificatePath != "" && c.UsesPKCS12():
		source, err := crypto.ReadCertificateSourceFromPKCS12File(c.HelseIdCertificatePath, c.HelseIdCertificatePassword)
		if err != nil {
			return nil, err
		}
		return crypto.LoadSigningKey(*source)

	case c.HelseIdCertificatePath != "":
		source, err := crypto.ReadCertificateSourceFromPEMFiles(c.HelseIdCertificatePath, c.HelseIdCertificateKeyPath)
		if err != nil {
			return nil, err
		}
		return crypto.LoadSigningKey(*source)

	case c.HelseIdClientDefinitionPath != "":
		def, err := crypto.ReadClientDefinitionFile(c.HelseIdClientDefinitionPath)
		if err != nil {
			return nil, err
		}
		c.ApplyClientDefinition(def)
		return crypto.LoadSigningKey(crypto.ClientDefinitionSource{Definition: def})
	}

	return nil, fmt.Errorf("one of HELSEID_CERTIFICATE_PATH or HELSEID_CLIENT_DEFINITION_PATH is required")
}

// loadProofKey returns the key in the JWK file at path, or identityKey when path is empty
func loadProofKey(path string, identityKey *crypto.SigningKey) (*crypto.SigningKey, error) {
	if path == "" {
		return identityKey, nil
	}
	return crypto.ReadSigningKeyFromJWKFile(filepath.Dir(path), filepath.Base(path))
}

// newTokenCache returns the configured cache and a function that releases it.
// Redis keys are namespaced by client id.
func newTokenCache(ctx context.Context, c *config.ClientEnvironment) (helseid.TokenCache, func(), error) {
	if c.TokenCache != config.TokenCacheRedis {
		return helseid.NewMemoryTokenCache(nil), func() {}, nil
	}

	client := helseid.NewRedisClient(helseid.RedisConfig{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, helseid.WrapCacheError(err, fmt.Sprintf("failed to connect to redis at %s", c.RedisAddr))
	}

	closeFn := func() {
		if err := client.Close(); err != nil {
			appLogger.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	keyPrefix := c.RedisKeyPrefix + c.HelseIdClientID + ":"
	return helseid.NewRedisTokenCache(client, keyPrefix), closeFn, nil
}

// printSendResult writes the outcome of a send in a human readable form
func printSendResult(w io.Writer, resp *slash.SendMessageResponse) {
	fmt.Fprintf(w, "Correlation ID: %s\n", resp.CorrelationID)
	fmt.Fprintf(w, "Status:         %d\n", resp.StatusCode)
	fmt.Fprintf(w, "Delivered:      %t\n", resp.Delivered)
	fmt.Fprintf(w, "Errors:         %d\n", len(resp.Errors))

	for _, e := range resp.Errors {
		code := "-"
		if e.ErrorCode != nil {
			code = fmt.Sprintf("%d", *e.ErrorCode)
		}
		line := fmt.Sprintf("  [%s]", code)
		if e.PropertyName != "" {
			line += " " + e.PropertyName + ":"
		}
		line += " " + e.ErrorMessage
		if e.ErrorDetails != "" {
			line += " (" + e.ErrorDetails + ")"
		}
		fmt.Fprintln(w, line)
	}
}
