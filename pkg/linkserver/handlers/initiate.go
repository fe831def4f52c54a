// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"

	linkcrypto "github.com/stacklok/tokenbridge/pkg/linkserver/crypto"
	"github.com/stacklok/tokenbridge/pkg/linkserver/storage"
)

// InitiateHandler handles GET /auth/initiate.
//
// The native client directs the user's browser here with its chosen request
// ID (rid), PKCE code challenge (ch), and an Ed25519 signature over the
// challenge (cs). A valid signature admits the request: a PENDING entry is
// stored, the request ID is pinned to the browser via cookie, and the
// browser is redirected into the login flow.
func (h *Handler) InitiateHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	requestID := query.Get("rid")
	codeChallenge := query.Get("ch")
	clientSignature := query.Get("cs")

	if requestID == "" || codeChallenge == "" || clientSignature == "" {
		h.logger.Warn("initiate called with missing parameters")
		http.Error(w, "Missing required authentication parameters.", http.StatusBadRequest)
		return
	}

	valid, err := linkcrypto.VerifyClientSignature(codeChallenge, clientSignature, h.clientKey)
	if err != nil {
		if errors.Is(err, linkcrypto.ErrMalformedSignature) {
			h.logger.Warn("initiate called with malformed signature",
				"requestID", requestID,
				"error", err,
			)
			http.Error(w, "Invalid signature format.", http.StatusBadRequest)
			return
		}
		// Anything else means the server-side verification key is missing
		// or unusable.
		h.logger.Error("client signature verification is misconfigured",
			"error", err,
		)
		http.Error(w, "Server configuration error.", http.StatusInternalServerError)
		return
	}
	if !valid {
		h.logger.Warn("invalid client signature", "requestID", requestID)
		http.Error(w, "Invalid client signature.", http.StatusUnauthorized)
		return
	}

	// A reused request ID overwrites prior state; the client owns the ID
	// space and collisions are its problem.
	pending := &storage.LinkRequest{
		State:         storage.StatePending,
		CodeChallenge: codeChallenge,
	}
	if err := h.store.PutLinkRequest(r.Context(), requestID, pending, h.linkTTL); err != nil {
		h.logger.Error("failed to store pending link request",
			"requestID", requestID,
			"error", err,
		)
		http.Error(w, "Failed to store request state.", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     RequestIDCookieName,
		Value:    requestID,
		Path:     "/",
		MaxAge:   int(h.linkTTL.Seconds()),
		HttpOnly: true,
		Secure:   !h.dev,
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.Info("link request initiated", "requestID", requestID)
	http.Redirect(w, r, h.loginPath, http.StatusFound)
}
