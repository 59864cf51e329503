package server

// slash.go emulates the Slash API: the recipient key registry and the message
// endpoint. Received messages are decrypted, checked against the hash in the
// DPoP proof and kept in memory.

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/information-sharing-networks/slash-messenger/internal/crypto"
	"github.com/information-sharing-networks/slash-messenger/internal/dpop"
	"github.com/information-sharing-networks/slash-messenger/internal/logger"
)

// Message error codes returned in the errors list of a rejected message
const (
	ErrCodeMissingHeader  = 1001
	ErrCodeInvalidHeader  = 1002
	ErrCodeMissingClaim   = 1003
	ErrCodeUnknownKey     = 1004
	ErrCodeDecryption     = 1005
	ErrCodeHashMismatch   = 1006
	ErrCodeInvalidPayload = 1007
)

const correlationIDHeader = "X-Correlation-ID"

// senderHeaders must be present on every message
var senderHeaders = []string{
	"x-vendor-name",
	"x-software-name",
	"x-software-version",
	"x-export-software-version",
	"x-data-extraction-date",
}

// messageClaims bind the DPoP proof to the encrypted message
var messageClaims = []string{"msg_type", "msg_version", "msg_hash", "enc_sym_key", "enc_key_id"}

type publicKeyResponse struct {
	ID             uuid.UUID `json:"id"`
	PublicKey      string    `json:"publicKey"`
	ExpirationDate time.Time `json:"expirationDate"`
}

type messageError struct {
	ErrorCode    int    `json:"errorCode"`
	PropertyName string `json:"propertyName"`
	ErrorMessage string `json:"errorMessage"`
	ErrorDetails string `json:"errorDetails,omitempty"`
}

type messageResponse struct {
	Delivered bool           `json:"delivered"`
	Errors    []messageError `json:"errors"`
}

// ReceivedMessage is a message accepted by the message endpoint
type ReceivedMessage struct {
	CorrelationID         uuid.UUID
	ClientID              string
	MessageType           string
	MessageVersion        string
	KeyID                 string
	VendorName            string
	SoftwareName          string
	SoftwareVersion       string
	ExportSoftwareVersion string
	DataExtractionDate    time.Time
	Payload               []byte
	ReceivedAt            time.Time
}

// ReceivedMessages returns the messages accepted so far, oldest first
func (s *Server) ReceivedMessages() []ReceivedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ReceivedMessage(nil), s.received...)
}

// RecipientKeyID returns the id of the published recipient key
func (s *Server) RecipientKeyID() uuid.UUID { return s.keys.RecipientKeyID }

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	publicKey, err := crypto.EncodeRecipientPublicKey(&s.keys.RecipientKey.PublicKey)
	if err != nil {
		logger.ContextRequestLogger(r.Context()).Error("failed to encode recipient key", slog.String("error", err.Error()))
		http.Error(w, "failed to encode recipient key", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, r, http.StatusOK, []publicKeyResponse{{
		ID:             s.keys.RecipientKeyID,
		PublicKey:      publicKey,
		ExpirationDate: s.keys.RecipientKeyExpires,
	}})
}

// handleMessage accepts an encrypted message.
//
// Authentication failures (missing or invalid DPoP token or proof) return 401.
// Problems with the message itself return 400 with delivered false and one
// entry per problem. Every response carries a new X-Correlation-ID.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	correlationID := uuid.New()
	w.Header().Set(correlationIDHeader, correlationID.String())

	reqLogger := logger.ContextRequestLogger(r.Context()).With(slog.String("correlation_id", correlationID.String()))
	logger.ContextWithLogAttrs(r.Context(), slog.String("correlation_id", correlationID.String()))

	accessToken, ok := dpopAccessToken(r)
	if !ok {
		respondUnauthorized(w, r, "invalid_token", "a DPoP access token is required")
		return
	}

	base := s.baseURL(r)

	tokenClaims, err := s.validateAccessToken(accessToken, base)
	if err != nil {
		respondUnauthorized(w, r, "invalid_token", err.Error())
		return
	}

	proof, err := dpop.Verify(r.Header.Get(dpop.HeaderName), dpop.VerifyOptions{
		Method:      http.MethodPost,
		URI:         base + MessagePath,
		AccessToken: accessToken,
		Now:         s.now,
	})
	if err != nil {
		respondUnauthorized(w, r, "invalid_dpop_proof", err.Error())
		return
	}
	if proof.Thumbprint != tokenClaims.Confirmation.JKT {
		respondUnauthorized(w, r, "invalid_dpop_proof", "DPoP proof key does not match the access token binding")
		return
	}
	jti, _ := proof.Claims[dpop.ClaimJTI].(string)
	if !s.replay.Add("proof:" + jti) {
		respondUnauthorized(w, r, "invalid_dpop_proof", "DPoP proof has already been used")
		return
	}

	problems, extractionDate := checkSenderHeaders(r)
	claims, claimProblems := s.checkMessageClaims(proof.Claims)
	problems = append(problems, claimProblems...)
	if len(problems) > 0 {
		s.rejectMessage(w, r, reqLogger, problems)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	plaintext, err := crypto.DecryptMessage(strings.TrimSpace(string(body)), claims["enc_sym_key"], claims["msg_hash"], s.keys.RecipientKey)
	if err != nil {
		var cryptoErr *crypto.CryptoError
		if errors.As(err, &cryptoErr) && cryptoErr.Code() == crypto.ErrCodeInvalidHash {
			s.rejectMessage(w, r, reqLogger, []messageError{{
				ErrorCode:    ErrCodeHashMismatch,
				PropertyName: "msg_hash",
				ErrorMessage: "msg_hash does not match the decrypted message",
			}})
			return
		}
		s.rejectMessage(w, r, reqLogger, []messageError{{
			ErrorCode:    ErrCodeDecryption,
			PropertyName: "payload",
			ErrorMessage: "message could not be decrypted",
			ErrorDetails: err.Error(),
		}})
		return
	}

	if !isJSONArray(plaintext) {
		s.rejectMessage(w, r, reqLogger, []messageError{{
			ErrorCode:    ErrCodeInvalidPayload,
			PropertyName: "payload",
			ErrorMessage: "payload must be an array of objects",
		}})
		return
	}

	msg := ReceivedMessage{
		CorrelationID:         correlationID,
		ClientID:              tokenClaims.ClientID,
		MessageType:           claims["msg_type"],
		MessageVersion:        claims["msg_version"],
		KeyID:                 claims["enc_key_id"],
		VendorName:            r.Header.Get("x-vendor-name"),
		SoftwareName:          r.Header.Get("x-software-name"),
		SoftwareVersion:       r.Header.Get("x-software-version"),
		ExportSoftwareVersion: r.Header.Get("x-export-software-version"),
		DataExtractionDate:    extractionDate,
		Payload:               plaintext,
		ReceivedAt:            s.now(),
	}

	s.mu.Lock()
	s.received = append(s.received, msg)
	s.mu.Unlock()

	reqLogger.Info("message delivered",
		slog.String("client_id", msg.ClientID),
		slog.String("message_type", msg.MessageType),
		slog.String("message_version", msg.MessageVersion),
		slog.Int("payload_bytes", len(plaintext)),
	)

	respondWithJSON(w, r, http.StatusOK, messageResponse{Delivered: true, Errors: []messageError{}})
}

func (s *Server) rejectMessage(w http.ResponseWriter, r *http.Request, reqLogger *slog.Logger, problems []messageError) {
	for _, p := range problems {
		reqLogger.Info("message rejected",
			slog.Int("error_code", p.ErrorCode),
			slog.String("property", p.PropertyName),
			slog.String("message", p.ErrorMessage),
		)
	}
	respondWithJSON(w, r, http.StatusBadRequest, messageResponse{Delivered: false, Errors: problems})
}

// dpopAccessToken reads "Authorization: DPoP <token>"
func dpopAccessToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, dpop.AuthorizationScheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func checkSenderHeaders(r *http.Request) ([]messageError, time.Time) {
	var problems []messageError
	for _, name := range senderHeaders {
		if strings.TrimSpace(r.Header.Get(name)) == "" {
			problems = append(problems, messageError{
				ErrorCode:    ErrCodeMissingHeader,
				PropertyName: name,
				ErrorMessage: fmt.Sprintf("header %s is required", name),
			})
		}
	}

	var extractionDate time.Time
	if raw := r.Header.Get("x-data-extraction-date"); raw != "" {
		d, err := time.Parse("02.01.2006", raw)
		if err != nil {
			problems = append(problems, messageError{
				ErrorCode:    ErrCodeInvalidHeader,
				PropertyName: "x-data-extraction-date",
				ErrorMessage: "date must have the format dd.MM.yyyy",
				ErrorDetails: raw,
			})
		}
		extractionDate = d
	}
	return problems, extractionDate
}

func (s *Server) checkMessageClaims(proofClaims map[string]any) (map[string]string, []messageError) {
	claims := make(map[string]string, len(messageClaims))
	var problems []messageError
	for _, name := range messageClaims {
		value, _ := proofClaims[name].(string)
		if value == "" {
			problems = append(problems, messageError{
				ErrorCode:    ErrCodeMissingClaim,
				PropertyName: name,
				ErrorMessage: fmt.Sprintf("DPoP proof claim %s is required", name),
			})
			continue
		}
		claims[name] = value
	}

	if keyID, ok := claims["enc_key_id"]; ok && !strings.EqualFold(keyID, s.keys.RecipientKeyID.String()) {
		problems = append(problems, messageError{
			ErrorCode:    ErrCodeUnknownKey,
			PropertyName: "enc_key_id",
			ErrorMessage: "unknown recipient key",
			ErrorDetails: keyID,
		})
	}
	return claims, problems
}

func isJSONArray(data []byte) bool {
	if !json.Valid(data) {
		return false
	}
	tok, err := json.NewDecoder(bytes.NewReader(data)).Token()
	if err != nil {
		return false
	}
	delim, ok := tok.(json.Delim)
	return ok && delim == '['
}
