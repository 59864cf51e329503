package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/information-sharing-networks/slash-messenger/internal/config"
	"github.com/information-sharing-networks/slash-messenger/internal/logger"
	"github.com/information-sharing-networks/slash-messenger/internal/server"
	"github.com/information-sharing-networks/slash-messenger/internal/version"
)

// development receiver emulating the HelseId token endpoint and the Slash API
func main() {
	cmd := &cobra.Command{
		Use:   "slash-stub",
		Short: "Development HelseId and Slash receiver",
		Long: `slash-stub issues DPoP bound access tokens to one configured client, publishes
a recipient public key and decrypts the messages it receives.

It is for local development and testing only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	v := version.Get()
	cmd.Version = fmt.Sprintf("%s (built %s, commit %s)", v.Version, v.BuildDate, v.GitCommit)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.NewServerConfig()
	if err != nil {
		log.Printf("failed to load configuration: %v", err.Error())
		os.Exit(1)
	}

	appLogger := logger.InitLogger(logger.ParseLogLevel(cfg.LogLevel), cfg.Environment)

	appLogger.Info("Configuration loaded",
		slog.String("ENVIRONMENT", cfg.Environment),
		slog.String("HOST", cfg.Host),
		slog.Int("PORT", cfg.Port),
		slog.String("LOG_LEVEL", cfg.LogLevel),
		slog.String("PUBLIC_BASE_URL", cfg.PublicBaseURL),
		slog.String("CLIENT_ID", cfg.ClientID),
		slog.String("CLIENT_PUBLIC_KEY_PATH", cfg.ClientPublicKeyPath),
		slog.Duration("TOKEN_LIFETIME", cfg.TokenLifetime),
		slog.Bool("REQUIRE_DPOP_NONCE", cfg.RequireDPoPNonce),
		slog.Duration("NONCE_LIFETIME", cfg.NonceLifetime),
		slog.String("RECIPIENT_KEY_PATH", cfg.RecipientKeyPath),
		slog.Duration("RECIPIENT_KEY_LIFETIME", cfg.RecipientKeyLifetime),
		slog.Int64("MAX_REQUEST_BODY_BYTES", cfg.MaxRequestBodyBytes),
	)

	keys, err := server.LoadKeys(cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to load keys", slog.String("error", err.Error()))
		os.Exit(1)
	}

	appLogger.Info("Starting server",
		slog.String("version", version.Get().Version),
		slog.String("recipient_key_id", keys.RecipientKeyID.String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(cfg, keys, appLogger)
	if err != nil {
		appLogger.Error("Failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := srv.Start(ctx); err != nil {
		appLogger.Error("Server error", slog.String("error", err.Error()))
		return err
	}

	appLogger.Info("server shutdown complete")
	return nil
}
