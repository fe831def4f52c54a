// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// DefaultJWKSCacheMaxAge is the Cache-Control max-age for the JWKS endpoint
// (1 hour). This balances caching efficiency with timely key rotation
// propagation.
const DefaultJWKSCacheMaxAge = 3600

// JWKSHandler handles GET /.well-known/jwks.json.
// It publishes the public keys backend verifiers use to validate issued
// tokens; the key IDs here match the "kid" header of every minted token.
func (h *Handler) JWKSHandler(w http.ResponseWriter, _ *http.Request) {
	data, err := json.Marshal(h.issuer.PublicJWKS())
	if err != nil {
		h.logger.Error("failed to encode JWKS", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", DefaultJWKSCacheMaxAge))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(data)
}
