// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers implements the HTTP entry points of the linking protocol:
// initiation, completion, status polling, token exchange, and key discovery.
package handlers

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/stacklok/tokenbridge/pkg/linkserver/storage"
	"github.com/stacklok/tokenbridge/pkg/linkserver/token"
	"github.com/stacklok/tokenbridge/pkg/session"
)

// RequestIDCookieName is the cookie correlating the browser login with the
// native client's link request.
const RequestIDCookieName = "app.request-id"

// Handler serves the linking protocol endpoints.
type Handler struct {
	logger    *slog.Logger
	store     storage.Store
	issuer    *token.Issuer
	sessions  session.Resolver
	clientKey ed25519.PublicKey

	linkTTL time.Duration
	dev     bool

	loginPath   string
	successPath string
	errorPath   string
}

// Options bundles the dependencies and settings of a Handler.
type Options struct {
	// Logger receives request-scoped log output. Defaults to slog.Default().
	Logger *slog.Logger

	// Store persists in-flight link requests. Required.
	Store storage.Store

	// Issuer mints backend tokens at link completion. Required.
	Issuer *token.Issuer

	// Sessions resolves the authenticated browser user. Required.
	Sessions session.Resolver

	// ClientKey is the Ed25519 public key that admits initiation requests.
	// May be nil, in which case initiation always fails with a configuration
	// error; deployments are expected to set it.
	ClientKey ed25519.PublicKey

	// LinkTTL bounds every link request. Defaults to
	// storage.DefaultLinkRequestTTL.
	LinkTTL time.Duration

	// Dev disables the Secure cookie attribute for local development.
	Dev bool

	// LoginPath, SuccessPath, and ErrorPath are the browser redirect
	// targets. Defaults: /signin, /success, /error.
	LoginPath   string
	SuccessPath string
	ErrorPath   string
}

// New creates a Handler.
func New(opts Options) (*Handler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Issuer == nil {
		return nil, fmt.Errorf("token issuer is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("session resolver is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	linkTTL := opts.LinkTTL
	if linkTTL == 0 {
		linkTTL = storage.DefaultLinkRequestTTL
	}

	h := &Handler{
		logger:      logger,
		store:       opts.Store,
		issuer:      opts.Issuer,
		sessions:    opts.Sessions,
		clientKey:   opts.ClientKey,
		linkTTL:     linkTTL,
		dev:         opts.Dev,
		loginPath:   opts.LoginPath,
		successPath: opts.SuccessPath,
		errorPath:   opts.ErrorPath,
	}
	if h.loginPath == "" {
		h.loginPath = "/signin"
	}
	if h.successPath == "" {
		h.successPath = "/success"
	}
	if h.errorPath == "" {
		h.errorPath = "/error"
	}

	return h, nil
}

// writeJSON marshals v and writes it with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to encode response", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// errorResponse is the JSON error body for the API endpoints.
type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// writeError writes a JSON error body with the given status code.
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Status: "error", Message: message})
}

// redirectError sends the browser to the terminal error page with a status
// code and message. Browser-facing failures never surface raw 500 pages.
func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, code int, message string) {
	target := fmt.Sprintf("%s?code=%d&message=%s", h.errorPath, code, url.QueryEscape(message))
	http.Redirect(w, r, target, http.StatusFound)
}
