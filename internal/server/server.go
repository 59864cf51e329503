package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-jose/go-jose/v4"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/information-sharing-networks/slash-messenger/internal/config"
	"github.com/information-sharing-networks/slash-messenger/internal/crypto"
	"github.com/information-sharing-networks/slash-messenger/internal/dpop"
	"github.com/information-sharing-networks/slash-messenger/internal/server/handlers"
	mw "github.com/information-sharing-networks/slash-messenger/internal/server/middleware"
	"github.com/information-sharing-networks/slash-messenger/internal/version"
)

// Endpoint paths
const (
	DiscoveryPath = "/.well-known/openid-configuration"
	JWKSPath      = "/.well-known/openid-configuration/jwks"
	TokenPath     = "/connect/token"
	KeysPath      = "/keys"
	MessagePath   = "/message"
)

const defaultNonceLifetime = 5 * time.Minute

type Server struct {
	config *config.ServerEnvironment
	keys   *Keys
	logger *slog.Logger
	router *chi.Mux
	now    func() time.Time

	tokenSigner jose.Signer
	jwks        jwk.Set
	nonces      *nonceSource
	replay      *replayCache

	mu       sync.Mutex
	received []ReceivedMessage
}

// Option configures a Server
type Option func(*Server)

// WithClock replaces time.Now, used for token and proof lifetimes
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func NewServer(
	cfg *config.ServerEnvironment,
	keys *Keys,
	logger *slog.Logger,
	opts ...Option,
) (*Server, error) {
	if err := keys.validate(); err != nil {
		return nil, err
	}

	server := &Server{
		config: cfg,
		keys:   keys,
		logger: logger,
		router: chi.NewRouter(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(server)
	}

	if err := server.initTokenSigning(); err != nil {
		return nil, fmt.Errorf("failed to initialize token signing: %w", err)
	}

	nonceLifetime := cfg.NonceLifetime
	if nonceLifetime <= 0 {
		nonceLifetime = defaultNonceLifetime
	}
	server.nonces = newNonceSource(nonceLifetime, server.now)
	server.replay = newReplayCache(2*dpop.DefaultMaxProofAge, server.now)

	server.setupMiddleware()
	server.registerRoutes()

	return server, nil
}

// initTokenSigning creates the access token signer and the JWK set that publishes its public key
func (s *Server) initTokenSigning() error {
	kid, err := crypto.GenerateKeyIDFromRSAKey(&s.keys.TokenSigningKey.PublicKey)
	if err != nil {
		return err
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: s.keys.TokenSigningKey},
		(&jose.SignerOptions{}).WithType("at+jwt").WithHeader("kid", kid),
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	publicJWK, err := crypto.RSAPublicKeyToJWK(&s.keys.TokenSigningKey.PublicKey, kid)
	if err != nil {
		return err
	}
	set := jwk.NewSet()
	if err := set.AddKey(publicJWK); err != nil {
		return fmt.Errorf("failed to add key to JWK set: %w", err)
	}

	s.tokenSigner = signer
	s.jwks = set
	return nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogging(s.logger))
	s.router.Use(middleware.Recoverer)
	if s.config.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(s.config.RequestTimeout))
	}
	s.router.Use(mw.SecurityHeaders(s.config.Environment))
	s.router.Use(mw.RateLimit(s.config.RateLimitRPS, s.config.RateLimitBurst))
	if s.config.MaxRequestBodyBytes > 0 {
		s.router.Use(mw.RequestSizeLimit(s.config.MaxRequestBodyBytes))
	}
}

func (s *Server) registerRoutes() {
	v := version.Get()

	s.router.Get("/health", handlers.HandleHealth)
	s.router.Get("/version", handlers.HandleVersion(v.Version, v.BuildDate))

	// HelseId
	s.router.Get(DiscoveryPath, s.handleDiscovery)
	s.router.Get(JWKSPath, handlers.HandleJWKS(s.jwks))
	s.router.Post(TokenPath, s.handleToken)

	// Slash
	s.router.Get(KeysPath, s.handleListKeys)
	s.router.Post(MessagePath, s.handleMessage)
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler { return s.router }

// baseURL is the issuer and the prefix of every endpoint URL
func (s *Server) baseURL(r *http.Request) string {
	if s.config.PublicBaseURL != "" {
		return strings.TrimSuffix(s.config.PublicBaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

func (s *Server) Start(ctx context.Context) error {
	serverAddr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("service listening",
			slog.String("environment", s.config.Environment),
			slog.String("address", serverAddr))

		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.config.ServerShutdownTimeout)
	defer shutdownCancel()

	s.logger.Info("shutting down HTTP server")

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		s.logger.Warn("HTTP server shutdown error",
			slog.String("error", err.Error()))
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}
