package slash

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/information-sharing-networks/slash-messenger/internal/crypto"
	"github.com/information-sharing-networks/slash-messenger/internal/dpop"
)

// KeyRegistry lists the recipient public keys. *Client implements it.
type KeyRegistry interface {
	ListPublicKeys(ctx context.Context) ([]PublicKeyInfo, error)
}

// KeySelector picks the key used to encrypt a message
type KeySelector interface {
	SelectKey(keys []PublicKeyInfo) (PublicKeyInfo, error)
}

// Encryptor encrypts a message for the selected recipient key
type Encryptor interface {
	Encrypt(plaintext []byte, key PublicKeyInfo) (*crypto.EncryptedMessage, error)
}

// TokenProvider returns a HelseId access token bound to proofKey.
// *helseid.TokenService implements it.
type TokenProvider interface {
	GetAccessToken(ctx context.Context, proofKey *crypto.SigningKey) (string, error)
}

// ProofBuilder creates the DPoP proof sent with a message
type ProofBuilder interface {
	BuildProof(accessToken string, binding ProofBinding) (string, error)
}

// MessageSender posts an encrypted message. *Client implements it.
type MessageSender interface {
	SendEncryptedMessage(ctx context.Context, message *EncryptedMessage) (*SendMessageResponse, error)
}

// ProofBinding holds the values that tie a DPoP proof to one encrypted message
type ProofBinding struct {
	MessageType           string
	MessageVersion        string
	MessageHash           string
	EncryptedSymmetricKey string

	// KeyID is the id of the recipient public key
	KeyID string
}

// Claims returns the binding as extra DPoP claims
func (b ProofBinding) Claims() map[string]any {
	return map[string]any{
		ClaimMessageType:           b.MessageType,
		ClaimMessageVersion:        b.MessageVersion,
		ClaimMessageHash:           b.MessageHash,
		ClaimEncryptedSymmetricKey: b.EncryptedSymmetricKey,
		ClaimEncryptionKeyID:       b.KeyID,
	}
}

// LatestKeySelector picks the key with the latest expiration date
type LatestKeySelector struct{}

func (LatestKeySelector) SelectKey(keys []PublicKeyInfo) (PublicKeyInfo, error) {
	if len(keys) == 0 {
		return PublicKeyInfo{}, NewClientError("no public keys to choose from")
	}
	latest := keys[0]
	for _, k := range keys[1:] {
		if k.ExpirationDate.After(latest.ExpirationDate) {
			latest = k
		}
	}
	return latest, nil
}

// HybridEncryptor encrypts with AES-256-CBC and wraps the key with RSA-OAEP
type HybridEncryptor struct{}

func (HybridEncryptor) Encrypt(plaintext []byte, key PublicKeyInfo) (*crypto.EncryptedMessage, error) {
	return crypto.EncryptMessage(plaintext, key.PublicKey)
}

// DPoPProofBuilder signs message proofs for a fixed message endpoint
type DPoPProofBuilder struct {
	Key        *crypto.SigningKey
	MessageURL string
}

func (b DPoPProofBuilder) BuildProof(accessToken string, binding ProofBinding) (string, error) {
	return dpop.Build(b.Key, http.MethodPost, b.MessageURL,
		dpop.WithAccessToken(accessToken),
		dpop.WithClaims(binding.Claims()),
	)
}

// Service prepares messages and sends them to Slash.
type Service struct {
	validator Validator
	registry  KeyRegistry
	selector  KeySelector
	encryptor Encryptor
	tokens    TokenProvider
	proofs    ProofBuilder
	sender    MessageSender
	proofKey  *crypto.SigningKey
	logger    *slog.Logger
}

// Option replaces the default implementation of a stage
type Option func(*Service)

// WithValidator replaces the input validation stage.
func WithValidator(v Validator) Option {
	return func(s *Service) { s.validator = v }
}

// WithKeyRegistry replaces the source of recipient public keys.
func WithKeyRegistry(r KeyRegistry) Option {
	return func(s *Service) { s.registry = r }
}

// WithKeySelector replaces the choice of recipient key.
func WithKeySelector(k KeySelector) Option {
	return func(s *Service) { s.selector = k }
}

// WithEncryptor replaces the message encryption stage.
func WithEncryptor(e Encryptor) Option {
	return func(s *Service) { s.encryptor = e }
}

// WithProofBuilder replaces the DPoP proof stage for the message request.
func WithProofBuilder(p ProofBuilder) Option {
	return func(s *Service) { s.proofs = p }
}

// WithMessageSender replaces the transmission stage.
func WithMessageSender(m MessageSender) Option {
	return func(s *Service) { s.sender = m }
}

// WithLogger sets the logger used for stage progress.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a Service.
//
// proofKey signs the DPoP proofs for both the token request and the message.
// It is the identity signing key unless a separate DPoP key is configured.
//
// client provides the default key registry, message sender and message proof
// builder. It may be nil when WithKeyRegistry, WithMessageSender and
// WithProofBuilder replace all three.
func NewService(client *Client, tokens TokenProvider, proofKey *crypto.SigningKey, opts ...Option) (*Service, error) {
	if tokens == nil {
		return nil, NewClientError("token provider is required")
	}
	if proofKey == nil {
		return nil, NewClientError("DPoP proof key is required")
	}

	s := &Service{
		validator: ValidatorFunc(ValidateMessage),
		selector:  LatestKeySelector{},
		encryptor: HybridEncryptor{},
		tokens:    tokens,
		proofKey:  proofKey,
	}
	for _, opt := range opts {
		opt(s)
	}

	if client != nil {
		if s.registry == nil {
			s.registry = client
		}
		if s.sender == nil {
			s.sender = client
		}
		if s.proofs == nil {
			s.proofs = DPoPProofBuilder{Key: proofKey, MessageURL: client.MessageURL()}
		}
		if s.logger == nil {
			s.logger = client.logger
		}
	}
	if s.registry == nil || s.sender == nil || s.proofs == nil {
		return nil, NewClientError("slash client is required unless the key registry, message sender and proof builder are all supplied")
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s, nil
}

// PrepareAndSendMessage validates, encrypts and sends a JSON message to Slash.
//
// The stages run in order and the first failure is returned as a *SlashError
// whose code names the stage and whose Unwrap returns the cause.
func (s *Service) PrepareAndSendMessage(ctx context.Context, message []byte, messageType, messageVersion string) (*SendMessageResponse, error) {
	logger := s.logger.With(slog.String("message_type", messageType), slog.String("message_version", messageVersion))
	logger.Debug("sending message to Slash API")

	logger.Debug("validating input")
	if err := s.validator.Validate(message, messageType, messageVersion); err != nil {
		return nil, WrapValidationError(err, "input validation failed")
	}

	logger.Debug("getting public key from Slash API")
	key, err := s.publicKey(ctx)
	if err != nil {
		return nil, WrapKeyRetrievalError(err, "could not get public key from Slash")
	}
	logger = logger.With(slog.String("key_id", key.ID.String()))

	logger.Debug("encrypting message")
	encrypted, err := s.encryptor.Encrypt(message, key)
	if err != nil {
		return nil, WrapEncryptionError(err, "could not encrypt message")
	}

	logger.Debug("getting access token from HelseId")
	accessToken, err := s.tokens.GetAccessToken(ctx, s.proofKey)
	if err != nil {
		return nil, WrapTokenAcquisitionError(err, "could not get access token from HelseId")
	}

	logger.Debug("creating DPoP proof")
	proof, err := s.proofs.BuildProof(accessToken, ProofBinding{
		MessageType:           messageType,
		MessageVersion:        messageVersion,
		MessageHash:           encrypted.MessageHash,
		EncryptedSymmetricKey: encrypted.EncryptedSymmetricKey,
		KeyID:                 key.ID.String(),
	})
	if err != nil {
		return nil, WrapProofConstructionError(err, "could not create DPoP proof")
	}

	logger.Debug("posting encrypted message")
	resp, err := s.sender.SendEncryptedMessage(ctx, &EncryptedMessage{
		AccessToken: accessToken,
		DPoPProof:   proof,
		Payload:     encrypted.EncryptedContent,
	})
	if err != nil {
		return nil, WrapTransmissionError(err, "could not send message to Slash API")
	}

	logger.Debug("message sent to Slash API",
		slog.String("correlation_id", resp.CorrelationID.String()),
		slog.Bool("delivered", resp.Delivered),
		slog.Int("errors", len(resp.Errors)),
	)
	return resp, nil
}

func (s *Service) publicKey(ctx context.Context) (PublicKeyInfo, error) {
	keys, err := s.registry.ListPublicKeys(ctx)
	if err != nil {
		return PublicKeyInfo{}, err
	}
	return s.selector.SelectKey(keys)
}
