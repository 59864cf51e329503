package helseid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/information-sharing-networks/slash-messenger/internal/crypto"
)

const (
	// AccessTokenCacheKey is the cache key of the HelseId access token
	AccessTokenCacheKey = "HelseIdAccessToken"

	// ExpirySkew is subtracted from expires_in so a cached token is still valid when it reaches the resource server
	ExpirySkew = 30 * time.Second

	// DefaultLockTimeout bounds the wait for another caller's token request
	DefaultLockTimeout = 30 * time.Second
)

// TokenRequester performs a token request against HelseId.
// *Client implements it.
type TokenRequester interface {
	RequestToken(ctx context.Context, proofKey *crypto.SigningKey) (*TokenResponse, error)
}

// TokenService returns cached access tokens and requests new ones when needed.
type TokenService struct {
	requester   TokenRequester
	cache       TokenCache
	lock        *semaphore.Weighted
	lockTimeout time.Duration
	logger      *slog.Logger
}

// ServiceOption configures a TokenService
type ServiceOption func(*TokenService)

// WithCache replaces the default in-process cache.
func WithCache(cache TokenCache) ServiceOption {
	return func(s *TokenService) { s.cache = cache }
}

// WithLockTimeout sets how long a caller waits for the token request lock.
func WithLockTimeout(d time.Duration) ServiceOption {
	return func(s *TokenService) { s.lockTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *TokenService) { s.logger = logger }
}

// NewTokenService creates a TokenService. Each TokenService owns its lock,
// so instances sharing a cache may each issue one request concurrently.
func NewTokenService(requester TokenRequester, opts ...ServiceOption) *TokenService {
	s := &TokenService{
		requester:   requester,
		lock:        semaphore.NewWeighted(1),
		lockTimeout: DefaultLockTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewMemoryTokenCache(nil)
	}
	return s
}

// GetAccessToken returns a valid access token bound to proofKey.
//
// A cached token is returned without taking the lock. On a miss the caller
// waits for the lock, checks the cache again and only then requests a new
// token. The new token is cached for expires_in minus ExpirySkew; a token with
// a lifetime at or below the skew is returned but not cached.
func (s *TokenService) GetAccessToken(ctx context.Context, proofKey *crypto.SigningKey) (string, error) {
	s.logger.Debug("getting access token")

	if token, ok := s.cached(ctx); ok {
		s.logger.Debug("using cached access token")
		return token, nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	if err := s.lock.Acquire(lockCtx, 1); err != nil {
		if ctx.Err() != nil {
			return "", WrapTokenAcquisitionError(ctx.Err(), "requesting a new access token from HelseId failed")
		}
		return "", WrapTokenAcquisitionError(err, fmt.Sprintf("timed out after %s waiting for token request lock", s.lockTimeout))
	}
	defer s.lock.Release(1)

	if token, ok := s.cached(ctx); ok {
		s.logger.Debug("using access token cached by a concurrent request")
		return token, nil
	}

	resp, err := s.requester.RequestToken(ctx, proofKey)
	if err != nil {
		var helseIdErr *HelseIdError
		if errors.As(err, &helseIdErr) && helseIdErr.Code() == ErrCodeTokenAcquisition {
			return "", err
		}
		return "", WrapTokenAcquisitionError(err, "requesting a new access token from HelseId failed")
	}

	ttl := time.Duration(resp.ExpiresIn)*time.Second - ExpirySkew
	if ttl <= 0 {
		s.logger.Warn("access token lifetime is too short to cache", slog.Int64("expires_in", resp.ExpiresIn))
		return resp.AccessToken, nil
	}

	if err := s.cache.Set(ctx, AccessTokenCacheKey, resp.AccessToken, ttl); err != nil {
		s.logger.Warn("failed to cache access token", slog.String("error", err.Error()))
	}

	return resp.AccessToken, nil
}

// cached reports cache backend errors as a miss
func (s *TokenService) cached(ctx context.Context) (string, bool) {
	token, found, err := s.cache.Get(ctx, AccessTokenCacheKey)
	if err != nil {
		s.logger.Warn("failed to read access token cache", slog.String("error", err.Error()))
		return "", false
	}
	if !found || token == "" {
		return "", false
	}
	return token, true
}
