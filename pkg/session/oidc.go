// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"golang.org/x/oauth2"

	"github.com/stacklok/tokenbridge/pkg/logger"
)

// Cookie names used by the OIDC authenticator.
const (
	// userSessionName holds the authenticated user after a completed login.
	userSessionName = "tokenbridge.session"

	// flowSessionName holds the transient state of one login round-trip
	// (state, nonce, PKCE verifier). Cleared at callback time.
	flowSessionName = "tokenbridge.oauth-flow"
)

// flowSessionMaxAge bounds how long a login round-trip may take.
const flowSessionMaxAge = 600

// OIDCConfig configures the upstream identity provider integration.
type OIDCConfig struct {
	// IssuerURL is the OIDC issuer; endpoints are discovered from its
	// well-known configuration.
	IssuerURL string

	// ClientID and ClientSecret identify this service at the provider.
	ClientID     string
	ClientSecret string

	// RedirectURL is the externally reachable callback URL
	// (e.g. https://auth.example.com/auth/callback).
	RedirectURL string

	// Scopes requested from the provider; "openid" is always included.
	Scopes []string

	// SessionSecret authenticates the session cookies. Required, at least
	// 32 random bytes, consistent across replicas.
	SessionSecret []byte

	// SessionMaxAge is the browser session lifetime in seconds.
	// Defaults to one hour.
	SessionMaxAge int

	// Dev disables the Secure cookie attribute for local development.
	Dev bool
}

// Validate checks that the OIDC configuration is complete.
func (c *OIDCConfig) Validate() error {
	if c.IssuerURL == "" {
		return fmt.Errorf("issuer URL is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirect URL is required")
	}
	if len(c.SessionSecret) < 32 {
		return fmt.Errorf("session secret must be at least 32 bytes")
	}
	return nil
}

// OIDCAuthenticator implements Resolver against an upstream OIDC provider.
// It owns the signin and callback endpoints and the session cookies that
// correlate the two otherwise-stateless requests of the login round-trip.
type OIDCAuthenticator struct {
	oauthConfig oauth2.Config
	verifier    *oidc.IDTokenVerifier
	store       *sessions.CookieStore
	completeURL string
	dev         bool
}

// NewOIDCAuthenticator discovers the provider's endpoints and prepares the
// cookie store. completeURL is where the browser is sent after a successful
// login, typically the link completion endpoint.
func NewOIDCAuthenticator(ctx context.Context, cfg OIDCConfig, completeURL string) (*OIDCAuthenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("oidc config: %w", err)
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	scopes := []string{oidc.ScopeOpenID}
	for _, s := range cfg.Scopes {
		if s != oidc.ScopeOpenID {
			scopes = append(scopes, s)
		}
	}

	maxAge := cfg.SessionMaxAge
	if maxAge == 0 {
		maxAge = 3600
	}

	store := sessions.NewCookieStore(cfg.SessionSecret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   !cfg.Dev,
		SameSite: http.SameSiteLaxMode,
	}

	return &OIDCAuthenticator{
		oauthConfig: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		verifier:    provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		store:       store,
		completeURL: completeURL,
		dev:         cfg.Dev,
	}, nil
}

// SignInHandler handles GET /signin. It starts the authorization code flow
// with a fresh state, nonce, and PKCE verifier bound to the browser via the
// flow cookie.
func (a *OIDCAuthenticator) SignInHandler(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	nonce := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	flow, _ := a.store.Get(r, flowSessionName)
	flow.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   flowSessionMaxAge,
		HttpOnly: true,
		Secure:   !a.dev,
		SameSite: http.SameSiteLaxMode,
	}
	flow.Values["state"] = state
	flow.Values["nonce"] = nonce
	flow.Values["verifier"] = verifier
	if err := flow.Save(r, w); err != nil {
		logger.Errorw("failed to save login flow session", "error", err.Error())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	authURL := a.oauthConfig.AuthCodeURL(state,
		oauth2.S256ChallengeOption(oauth2.S256ChallengeFromVerifier(verifier)),
		oauth2.SetAuthURLParam("nonce", nonce),
	)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// CallbackHandler handles GET /auth/callback. It validates state, exchanges
// the code, verifies the ID token, establishes the user session, and sends
// the browser on to the link completion endpoint.
func (a *OIDCAuthenticator) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	flow, err := a.store.Get(r, flowSessionName)
	if err != nil {
		http.Error(w, "invalid login flow session", http.StatusBadRequest)
		return
	}

	state, _ := flow.Values["state"].(string)
	nonce, _ := flow.Values["nonce"].(string)
	verifier, _ := flow.Values["verifier"].(string)
	if state == "" || r.URL.Query().Get("state") != state {
		logger.Warn("oauth callback state mismatch")
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}

	// The flow cookie is single-use.
	flow.Options.MaxAge = -1
	_ = flow.Save(r, w)

	oauthToken, err := a.oauthConfig.Exchange(ctx, r.URL.Query().Get("code"), oauth2.VerifierOption(verifier))
	if err != nil {
		logger.Errorw("oauth code exchange failed", "error", err.Error())
		http.Error(w, "code exchange failed", http.StatusBadGateway)
		return
	}

	rawIDToken, ok := oauthToken.Extra("id_token").(string)
	if !ok {
		logger.Error("provider response missing id_token")
		http.Error(w, "missing id_token", http.StatusBadGateway)
		return
	}

	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		logger.Errorw("id token verification failed", "error", err.Error())
		http.Error(w, "invalid id_token", http.StatusUnauthorized)
		return
	}
	if idToken.Nonce != nonce {
		logger.Warn("id token nonce mismatch")
		http.Error(w, "nonce mismatch", http.StatusUnauthorized)
		return
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		logger.Errorw("failed to parse id token claims", "error", err.Error())
		http.Error(w, "invalid id_token claims", http.StatusBadGateway)
		return
	}

	sess, _ := a.store.Get(r, userSessionName)
	sess.Values["sub"] = idToken.Subject
	sess.Values["email"] = claims.Email
	sess.Values["name"] = claims.Name
	if err := sess.Save(r, w); err != nil {
		logger.Errorw("failed to save user session", "error", err.Error())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	logger.Infow("browser login completed", "subject", idToken.Subject)
	http.Redirect(w, r, a.completeURL, http.StatusFound)
}

// UserFromRequest implements Resolver by reading the user session cookie.
func (a *OIDCAuthenticator) UserFromRequest(r *http.Request) (*User, error) {
	sess, err := a.store.Get(r, userSessionName)
	if err != nil {
		return nil, ErrNoSession
	}

	sub, _ := sess.Values["sub"].(string)
	email, _ := sess.Values["email"].(string)
	name, _ := sess.Values["name"].(string)
	if sub == "" && email == "" {
		return nil, ErrNoSession
	}

	return &User{ID: sub, Email: email, Name: name}, nil
}
