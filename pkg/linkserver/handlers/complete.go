// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"

	"github.com/stacklok/tokenbridge/pkg/linkserver/storage"
	"github.com/stacklok/tokenbridge/pkg/session"
)

// CompleteLinkHandler handles GET /auth/complete-link.
//
// The browser lands here after the login flow finishes. The handler binds
// the authenticated user to the pending link request identified by the
// request ID cookie: it mints a backend token for the user's subject and
// transitions the cache entry to COMPLETED so the polling native client can
// pick the token up.
func (h *Handler) CompleteLinkHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := h.sessions.UserFromRequest(r)
	if err != nil {
		if !errors.Is(err, session.ErrNoSession) {
			h.logger.Error("session lookup failed", "error", err)
		}
		http.Redirect(w, r, h.loginPath+"?error=SessionExpiredForLink", http.StatusFound)
		return
	}

	cookie, err := r.Cookie(RequestIDCookieName)
	if err != nil || cookie.Value == "" {
		// The browser lost the correlation cookie. There is no way to
		// recover the request ID, so the flow is terminal.
		h.logger.Warn("request ID cookie missing at link completion")
		http.Redirect(w, r, h.errorPath+"?code=LINK_ID_MISSING", http.StatusFound)
		return
	}
	requestID := cookie.Value

	subject := user.Subject()
	if subject == "" {
		h.logger.Error("session carries no usable subject identifier")
		h.redirectError(w, r, http.StatusInternalServerError, "User identifier not found in session.")
		return
	}

	issued, err := h.issuer.Issue(ctx, subject)
	if err != nil {
		h.logger.Error("failed to mint backend token",
			"requestID", requestID,
			"error", err,
		)
		h.redirectError(w, r, http.StatusInternalServerError, "Failed to generate authentication token.")
		return
	}

	// The pending entry must already exist; completion never creates one
	// from scratch. An absent entry means the flow expired or was never
	// initiated through the front door.
	current, err := h.store.GetLinkRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.logger.Warn("no link request found at completion", "requestID", requestID)
			h.redirectError(w, r, http.StatusNotFound, "Request ID not found.")
			return
		}
		h.logger.Error("failed to load link request",
			"requestID", requestID,
			"error", err,
		)
		h.redirectError(w, r, http.StatusInternalServerError, "Failed to load request state.")
		return
	}

	completed := &storage.LinkRequest{
		State:         storage.StateCompleted,
		CodeChallenge: current.CodeChallenge,
		IssuedToken:   issued,
	}
	// Re-specifying the TTL here gives the completed token a fresh pickup
	// window instead of the remainder of the pending one.
	if err := h.store.PutLinkRequest(ctx, requestID, completed, h.linkTTL); err != nil {
		h.logger.Error("failed to store completed link request",
			"requestID", requestID,
			"error", err,
		)
		h.redirectError(w, r, http.StatusInternalServerError, "Failed to store authentication token.")
		return
	}

	// The cookie has served its purpose.
	http.SetCookie(w, &http.Cookie{
		Name:     RequestIDCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !h.dev,
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.Info("link request completed", "requestID", requestID, "subject", subject)
	http.Redirect(w, r, h.successPath, http.StatusFound)
}
