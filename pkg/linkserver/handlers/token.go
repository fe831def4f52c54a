// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	linkcrypto "github.com/stacklok/tokenbridge/pkg/linkserver/crypto"
	"github.com/stacklok/tokenbridge/pkg/linkserver/storage"
)

// maxExchangeBodySize bounds the exchange request body.
const maxExchangeBodySize = 4096

// Status values reported to the polling native client.
const (
	// StatusPending covers both "not yet initiated" and "expired". The two
	// are deliberately indistinguishable to the client.
	StatusPending = "pending"

	// StatusPendingUserAuthentication means the user has not finished the
	// browser login yet.
	StatusPendingUserAuthentication = "pending_user_authentication"

	// StatusReadyForTokenExchange means a token is waiting for pickup.
	StatusReadyForTokenExchange = "ready_for_token_exchange"
)

// statusResponse is the body of the polling endpoint.
type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// exchangeRequest is the body of the exchange endpoint.
type exchangeRequest struct {
	CodeVerifier string `json:"code_verifier"`
}

// exchangeResponse is the success body of the exchange endpoint.
type exchangeResponse struct {
	Status      string `json:"status"`
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
}

// StatusHandler handles GET /api/auth/token/{requestId}.
// It reports where the link request is in its lifecycle.
func (h *Handler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")
	if requestID == "" {
		h.writeError(w, http.StatusBadRequest, "Request ID is required.")
		return
	}

	current, err := h.store.GetLinkRequest(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeJSON(w, http.StatusOK, statusResponse{
				Status:  StatusPending,
				Message: "Request ID not found or expired.",
			})
			return
		}
		h.logger.Error("failed to load link request",
			"requestID", requestID,
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, "Failed to load request state.")
		return
	}

	switch current.State {
	case storage.StatePending:
		h.writeJSON(w, http.StatusOK, statusResponse{
			Status:  StatusPendingUserAuthentication,
			Message: "User authentication is pending. Please continue login process.",
		})
	case storage.StateCompleted:
		h.writeJSON(w, http.StatusOK, statusResponse{
			Status:  StatusReadyForTokenExchange,
			Message: "User authentication complete. Client can now request token via POST.",
		})
	default:
		// The store validates writes, so an unknown state is a server defect.
		h.logger.Error("unexpected link request state",
			"requestID", requestID,
			"state", string(current.State),
		)
		h.writeError(w, http.StatusInternalServerError, "Unexpected request state.")
	}
}

// ExchangeHandler handles POST /api/auth/token/{requestId}.
//
// The native client proves possession of the PKCE code verifier; on a match
// the stored backend token is returned exactly once and the link request is
// destroyed.
func (h *Handler) ExchangeHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID := chi.URLParam(r, "requestId")
	if requestID == "" {
		h.writeError(w, http.StatusBadRequest, "Request ID is required.")
		return
	}

	var body exchangeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxExchangeBodySize)).Decode(&body); err != nil {
		h.logger.Warn("invalid exchange request body", "requestID", requestID)
		h.writeError(w, http.StatusBadRequest, "Invalid request body: Must be JSON.")
		return
	}
	if body.CodeVerifier == "" {
		h.writeError(w, http.StatusBadRequest, "code_verifier is required.")
		return
	}

	current, err := h.store.GetLinkRequest(ctx, requestID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.logger.Error("failed to load link request",
			"requestID", requestID,
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, "Failed to load request state.")
		return
	}

	if current == nil || current.State != storage.StateCompleted || current.IssuedToken == "" {
		message := "Request ID not found, expired, or not in a valid state for token exchange."
		if current != nil {
			// A wrong-state entry is a dead end; fail closed and clean up
			// so it cannot be probed further.
			message = "User authentication not completed for this request ID."
			if err := h.store.DeleteLinkRequest(ctx, requestID); err != nil {
				h.logger.Error("failed to clean up link request",
					"requestID", requestID,
					"error", err,
				)
			}
		}
		h.logger.Warn("exchange rejected", "requestID", requestID)
		h.writeError(w, http.StatusForbidden, message)
		return
	}

	if !linkcrypto.VerifyPKCE(body.CodeVerifier, current.CodeChallenge) {
		// The entry survives a mismatch so a client that miscomputed can
		// retry with the right verifier, bounded only by the TTL.
		h.logger.Warn("PKCE verification failed", "requestID", requestID)
		h.writeError(w, http.StatusBadRequest, "Invalid code_verifier.")
		return
	}

	// Consume the entry before handing out the token: at most one delivery.
	if err := h.store.DeleteLinkRequest(ctx, requestID); err != nil {
		h.logger.Error("failed to consume link request",
			"requestID", requestID,
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, "Failed to complete token exchange.")
		return
	}

	h.logger.Info("token exchanged", "requestID", requestID)
	h.writeJSON(w, http.StatusOK, exchangeResponse{
		Status:      "success",
		TokenType:   "Bearer",
		AccessToken: current.IssuedToken,
	})
}
