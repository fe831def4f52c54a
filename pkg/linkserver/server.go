// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package linkserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/tokenbridge/pkg/linkserver/handlers"
	"github.com/stacklok/tokenbridge/pkg/linkserver/storage"
	"github.com/stacklok/tokenbridge/pkg/linkserver/token"
	"github.com/stacklok/tokenbridge/pkg/logger"
	"github.com/stacklok/tokenbridge/pkg/ratelimit"
	"github.com/stacklok/tokenbridge/pkg/session"
)

// Not sure if these values need to be configurable.
const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Server is the link server. It serves the protocol endpoints and owns the
// storage backend passed at construction.
type Server struct {
	logger  *slog.Logger
	store   storage.Store
	router  chi.Router
	limiter *ratelimit.Limiter
}

// Options bundles the dependencies of a Server.
type Options struct {
	// Config is the resolved server configuration. Required.
	Config Config

	// Store persists in-flight link requests. Required; the server takes
	// ownership and closes it on Close.
	Store storage.Store

	// Sessions resolves the authenticated browser user. Required.
	Sessions session.Resolver

	// Auth, when set, serves the browser login round-trip (/signin and
	// /auth/callback) against an upstream OIDC provider. When nil, /signin
	// redirects straight to link completion; only useful together with a
	// resolver that needs no login, such as session.StaticResolver in
	// local development.
	Auth *session.OIDCAuthenticator

	// Logger receives server log output. Defaults to slog.Default().
	Logger *slog.Logger
}

// New creates a link server.
func New(opts Options) (*Server, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.applyDefaults()

	if opts.Store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("session resolver is required")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	issuer, err := token.NewIssuer(token.IssuerConfig{
		Key:      cfg.SigningKey,
		KeyID:    cfg.KeyID,
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		Lifetime: cfg.TokenLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}

	h, err := handlers.New(handlers.Options{
		Logger:    log,
		Store:     opts.Store,
		Issuer:    issuer,
		Sessions:  opts.Sessions,
		ClientKey: cfg.ClientVerificationKey,
		LinkTTL:   cfg.LinkTTL,
		Dev:       cfg.Dev,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create handlers: %w", err)
	}

	s := &Server{
		logger:  log,
		store:   opts.Store,
		limiter: ratelimit.NewLimiter(),
	}
	s.router = s.routes(h, opts.Auth)

	return s, nil
}

// Handler returns the http.Handler serving all link server endpoints.
func (s *Server) Handler() http.Handler {
	return s.router
}

// routes builds the chi router with the server middleware stack.
func (s *Server) routes(h *handlers.Handler, auth *session.OIDCAuthenticator) chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Timeout(middlewareTimeout),
		ratelimit.Middleware(s.limiter, ratelimit.DefaultExemptPrefixes),
		headersMiddleware,
	)

	r.Get("/auth/initiate", h.InitiateHandler)
	r.Get("/auth/complete-link", h.CompleteLinkHandler)

	r.Get("/api/auth/token/{requestId}", h.StatusHandler)
	r.Post("/api/auth/token/{requestId}", h.ExchangeHandler)

	r.Get("/.well-known/jwks.json", h.JWKSHandler)

	if auth != nil {
		r.Get("/signin", auth.SignInHandler)
		r.Get("/auth/callback", auth.CallbackHandler)
	} else {
		// No upstream login configured; the resolver alone decides whether
		// a session exists.
		r.Get("/signin", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/auth/complete-link", http.StatusFound)
		})
	}

	r.Get("/success", h.SuccessHandler)
	r.Get("/error", h.ErrorPageHandler)
	r.Get("/health", h.HealthHandler)

	return r
}

func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// Serve starts the server on the given address and blocks until ctx is
// cancelled, then shuts down gracefully. It is assumed that the caller sets
// up appropriate signal handling.
func (s *Server) Serve(ctx context.Context, address string) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	logger.Infow("starting link server", "address", address)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped with error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("link server stopped")
	return nil
}

// Close releases resources held by the server, including the storage backend.
func (s *Server) Close() error {
	return s.store.Close()
}
