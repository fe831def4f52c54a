// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package linkserver assembles the cross-domain authentication bridge: the
// HTTP server that links a browser login to a native client's token request.
package linkserver

import (
	"crypto"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/stacklok/tokenbridge/pkg/linkserver/storage"
	"github.com/stacklok/tokenbridge/pkg/logger"
)

// Config is the pure configuration for the link server.
// All values must be fully resolved (no file paths, no env vars).
type Config struct {
	// Issuer is the issuer identifier included in the "iss" claim of
	// minted backend tokens and used to derive redirect URLs.
	Issuer string

	// Audience is the "aud" claim of minted backend tokens.
	Audience string

	// SigningKey is the private key used for signing backend tokens.
	SigningKey crypto.Signer

	// KeyID is the JWT "kid" header of minted tokens. If empty, a stable
	// RFC 7638 thumbprint of the public key is derived.
	KeyID string

	// ClientVerificationKey is the Ed25519 public key that admits link
	// initiation requests. If nil, initiation fails with a configuration
	// error at request time; deployments are expected to set it.
	ClientVerificationKey ed25519.PublicKey

	// TokenLifetime is the validity window of minted backend tokens.
	// If zero, defaults to 1 hour.
	TokenLifetime time.Duration

	// LinkTTL bounds every link request, from initiation to pickup.
	// If zero, defaults to storage.DefaultLinkRequestTTL.
	LinkTTL time.Duration

	// Dev disables the Secure cookie attribute for local development.
	Dev bool
}

// Validate checks that the Config is valid.
func (c *Config) Validate() error {
	logger.Debugw("validating link server config", "issuer", c.Issuer)

	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if c.Audience == "" {
		return fmt.Errorf("audience is required")
	}
	if c.SigningKey == nil {
		return fmt.Errorf("signing key is required")
	}
	if c.ClientVerificationKey != nil && len(c.ClientVerificationKey) != ed25519.PublicKeySize {
		return fmt.Errorf("client verification key must be %d bytes, got %d",
			ed25519.PublicKeySize, len(c.ClientVerificationKey))
	}
	if c.ClientVerificationKey == nil {
		logger.Warn("no client verification key configured; link initiation will be rejected")
	}

	return nil
}

// applyDefaults applies default values to the config where not set.
func (c *Config) applyDefaults() {
	if c.TokenLifetime == 0 {
		c.TokenLifetime = time.Hour
		logger.Debugw("applied default token lifetime", "duration", c.TokenLifetime)
	}
	if c.LinkTTL == 0 {
		c.LinkTTL = storage.DefaultLinkRequestTTL
		logger.Debugw("applied default link TTL", "duration", c.LinkTTL)
	}
}
