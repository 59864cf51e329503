package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/information-sharing-networks/slash-messenger/internal/logger"
)

// oauthError is the RFC 6749 section 5.2 error body
type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.ContextRequestLogger(r.Context()).Warn("failed to write response", slog.String("error", err.Error()))
	}
}

// respondWithOAuthError writes a token endpoint error and logs the reason
func respondWithOAuthError(w http.ResponseWriter, r *http.Request, status int, code, description string) {
	logger.ContextRequestLogger(r.Context()).Info("token request rejected",
		slog.String("error", code),
		slog.String("error_description", description),
	)
	logger.ContextWithLogAttrs(r.Context(), slog.String("oauth_error", code))

	w.Header().Set("Cache-Control", "no-store")
	respondWithJSON(w, r, status, oauthError{Error: code, ErrorDescription: description})
}

// respondUnauthorized rejects a resource request with a DPoP challenge (RFC 9449 section 7.1)
func respondUnauthorized(w http.ResponseWriter, r *http.Request, code, description string) {
	logger.ContextRequestLogger(r.Context()).Info("message request rejected",
		slog.String("error", code),
		slog.String("error_description", description),
	)
	logger.ContextWithLogAttrs(r.Context(), slog.String("auth_error", code))

	w.Header().Set("WWW-Authenticate", `DPoP error="`+code+`", algs="RS256 PS256 ES256"`)
	respondWithJSON(w, r, http.StatusUnauthorized, oauthError{Error: code, ErrorDescription: description})
}
