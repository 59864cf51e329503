package server

import (
	"crypto/rsa"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/information-sharing-networks/slash-messenger/internal/config"
	"github.com/information-sharing-networks/slash-messenger/internal/crypto"
)

// recipientKeyBits is the size of generated recipient and token signing keys
const recipientKeyBits = 2048

// Keys holds the key material of the development receiver
type Keys struct {
	// ClientPublicKey verifies the client assertions of the configured client (*rsa.PublicKey or *ecdsa.PublicKey)
	ClientPublicKey any

	// RecipientKey decrypts the symmetric keys of received messages.
	// Its public half is published on the keys endpoint.
	RecipientKey        *rsa.PrivateKey
	RecipientKeyID      uuid.UUID
	RecipientKeyExpires time.Time

	// TokenSigningKey signs issued access tokens
	TokenSigningKey *rsa.PrivateKey
}

// LoadKeys reads the client public key and the recipient key named in cfg.
// Missing recipient and token signing keys are generated.
func LoadKeys(cfg *config.ServerEnvironment, logger *slog.Logger) (*Keys, error) {
	clientKey, err := crypto.ReadVerificationKeyFile(cfg.ClientPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load client public key: %w", err)
	}

	keys := &Keys{
		ClientPublicKey:     clientKey,
		RecipientKeyExpires: time.Now().Add(cfg.RecipientKeyLifetime).UTC(),
	}

	if cfg.RecipientKeyPath != "" {
		keys.RecipientKey, err = crypto.ReadRSAPrivateKeyPEMFile(cfg.RecipientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load recipient key: %w", err)
		}
	} else {
		logger.Warn("RECIPIENT_KEY_PATH not set, generating a recipient key that will not survive a restart")
		keys.RecipientKey, err = crypto.GenerateRSAKeyPair(recipientKeyBits)
		if err != nil {
			return nil, err
		}
	}

	keys.RecipientKeyID = uuid.New()
	if cfg.RecipientKeyID != "" {
		keys.RecipientKeyID, err = uuid.Parse(cfg.RecipientKeyID)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient key id: %w", err)
		}
	}

	keys.TokenSigningKey, err = crypto.GenerateRSAKeyPair(recipientKeyBits)
	if err != nil {
		return nil, err
	}

	return keys, nil
}

func (k *Keys) validate() error {
	switch {
	case k == nil:
		return fmt.Errorf("keys are required")
	case k.ClientPublicKey == nil:
		return fmt.Errorf("client public key is required")
	case k.RecipientKey == nil:
		return fmt.Errorf("recipient key is required")
	case k.RecipientKeyID == uuid.Nil:
		return fmt.Errorf("recipient key id is required")
	case k.TokenSigningKey == nil:
		return fmt.Errorf("token signing key is required")
	}
	return nil
}
