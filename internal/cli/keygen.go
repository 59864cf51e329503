package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/information-sharing-networks/slash-messenger/internal/crypto"
)

// file naming convention - name.public.jwk and name.private.jwk
const (
	publicKeyFileNameFormat  = "%s.public.jwk"
	privateKeyFileNameFormat = "%s.private.jwk"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an RSA key pair in JWK format",
	Long: `Generate an RSA key pair for signing DPoP proofs.

The private key file can be passed to send with --dpop-jwk (or DPOP_PROOF_JWK_PATH).
The private key is not encrypted.

Example:
  slash-messenger keygen --outputdir ./keys --name dpop`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

var (
	keygenName      string
	keygenOutputDir string
	keygenSize      int
	keygenKID       string
)

func init() {
	keygenCmd.Flags().StringVarP(&keygenName, "name", "n", "dpop", "file name prefix for the key files")
	keygenCmd.Flags().StringVarP(&keygenOutputDir, "outputdir", "o", "", "Output directory for generated keys [required]")
	keygenCmd.Flags().IntVarP(&keygenSize, "size", "s", 2048, "RSA key size in bits (2048 or 4096)")
	keygenCmd.Flags().StringVarP(&keygenKID, "kid", "k", "", "Key ID (default: generated from the key thumbprint)")
	_ = keygenCmd.MarkFlagRequired("outputdir")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if keygenSize != 2048 && keygenSize != 4096 {
		return fmt.Errorf("invalid RSA key size: %d (must be 2048 or 4096)", keygenSize)
	}

	if err := os.MkdirAll(keygenOutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	appLogger.Debug("generating RSA key pair",
		slog.Int("key_size", keygenSize),
		slog.String("output_dir", keygenOutputDir))

	privateKey, err := crypto.GenerateRSAKeyPair(keygenSize)
	if err != nil {
		return err
	}

	keyID := keygenKID
	if keyID == "" {
		keyID, err = crypto.GenerateKeyIDFromRSAKey(&privateKey.PublicKey)
		if err != nil {
			return fmt.Errorf("failed to generate key ID: %w", err)
		}
	}

	out := cmd.OutOrStdout()

	publicFile := fmt.Sprintf(publicKeyFileNameFormat, keygenName)
	if err := crypto.SaveRSAPublicKeyToJWKFile(&privateKey.PublicKey, keyID, keygenOutputDir, publicFile); err != nil {
		return fmt.Errorf("failed to save public key: %w", err)
	}
	fmt.Fprintf(out, "Public JWK:  %s/%s (kid: %s)\n", keygenOutputDir, publicFile, keyID)

	privateFile := fmt.Sprintf(privateKeyFileNameFormat, keygenName)
	if err := crypto.SaveRSAPrivateKeyToJWKFile(privateKey, keyID, keygenOutputDir, privateFile); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}
	fmt.Fprintf(out, "Private JWK: %s/%s (kid: %s)\n", keygenOutputDir, privateFile, keyID)

	return nil
}
