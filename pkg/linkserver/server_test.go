// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package linkserver

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	linkcrypto "github.com/stacklok/tokenbridge/pkg/linkserver/crypto"
	"github.com/stacklok/tokenbridge/pkg/linkserver/storage"
	"github.com/stacklok/tokenbridge/pkg/session"
)

func newTestServer(t *testing.T) (*Server, ed25519.PrivateKey) {
	t.Helper()

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, signingPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	srv, err := New(Options{
		Config: Config{
			Issuer:                "https://auth.example.com",
			Audience:              "backend",
			SigningKey:            signingPriv,
			ClientVerificationKey: clientPub,
			Dev:                   true,
		},
		Store: storage.NewMemoryStore(storage.WithCleanupInterval(time.Hour)),
		Sessions: &session.StaticResolver{
			User: &session.User{ID: "user-123"},
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, srv.Close())
	})

	return srv, clientPriv
}

// TestLinkFlowEndToEnd drives the whole protocol through the assembled
// router: initiate, poll, complete in the browser, poll again, exchange,
// and verify the exchange cannot be replayed.
func TestLinkFlowEndToEnd(t *testing.T) {
	t.Parallel()

	srv, clientPriv := newTestServer(t)
	handler := srv.Handler()

	verifier := linkcrypto.GeneratePKCEVerifier()
	challenge := linkcrypto.ComputePKCEChallenge(verifier)
	signature := base64.RawURLEncoding.EncodeToString(ed25519.Sign(clientPriv, []byte(challenge)))

	// Native client opens the browser at the initiation URL.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/auth/initiate?rid=req-1&ch="+challenge+"&cs="+signature, nil))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/signin", rec.Header().Get("Location"))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	ridCookie := cookies[0]

	// Native client polls while the user logs in.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/token/req-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "pending_user_authentication", status.Status)

	// Browser finishes the login and lands on the completion endpoint with
	// the correlation cookie.
	req := httptest.NewRequest(http.MethodGet, "/auth/complete-link", nil)
	req.AddCookie(ridCookie)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/success", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/token/req-1", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ready_for_token_exchange", status.Status)

	// Native client redeems the token with its verifier.
	body, _ := json.Marshal(map[string]string{"code_verifier": verifier})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/token/req-1", strings.NewReader(string(body))))
	require.Equal(t, http.StatusOK, rec.Code)
	var exchange struct {
		Status      string `json:"status"`
		TokenType   string `json:"token_type"`
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exchange))
	assert.Equal(t, "success", exchange.Status)
	assert.Equal(t, "Bearer", exchange.TokenType)
	assert.NotEmpty(t, exchange.AccessToken)

	// The token is delivered at most once.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/token/req-1", strings.NewReader(string(body))))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServerSetsRateLimitHeaders(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestSignInFallbackWithoutUpstreamAuth(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/signin", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/complete-link", rec.Header().Get("Location"))
}

func TestNewRejectsIncompleteOptions(t *testing.T) {
	t.Parallel()

	_, signingPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	cfg := Config{
		Issuer:     "https://auth.example.com",
		Audience:   "backend",
		SigningKey: signingPriv,
	}

	_, err = New(Options{Config: cfg})
	assert.ErrorContains(t, err, "storage is required")

	_, err = New(Options{Config: cfg, Store: storage.NewMemoryStore()})
	assert.ErrorContains(t, err, "session resolver is required")

	_, err = New(Options{Config: Config{}, Store: storage.NewMemoryStore()})
	assert.ErrorContains(t, err, "invalid config")
}
