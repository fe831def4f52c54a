// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package token mints the short-lived backend tokens handed to native
// clients at the end of a successful linking flow.
package token

import (
	"context"
	"crypto"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"

	linkcrypto "github.com/stacklok/tokenbridge/pkg/linkserver/crypto"
)

// DefaultTokenLifetime is the default validity window for issued tokens.
// Tokens are meant to be picked up and used immediately, so the window is
// deliberately short.
const DefaultTokenLifetime = 5 * time.Minute

// IssuerConfig configures an Issuer. All values must be fully resolved;
// loading keys from files or the environment is the CLI layer's job.
type IssuerConfig struct {
	// Key is the asymmetric private key used for signing. Required.
	Key crypto.Signer

	// KeyID is the "kid" placed in the token header. It must match the key
	// published at the JWKS endpoint. If empty, an RFC 7638 thumbprint is
	// derived from the key.
	KeyID string

	// Issuer is the "iss" claim of issued tokens. Required.
	Issuer string

	// Audience is the "aud" claim of issued tokens. Required.
	Audience string

	// Lifetime is the token validity window. Defaults to DefaultTokenLifetime.
	Lifetime time.Duration
}

// Issuer signs backend tokens bound to an authenticated subject.
type Issuer struct {
	signingKey jwk.Key
	publicJWKS jwk.Set
	alg        jwa.SignatureAlgorithm
	issuer     string
	audience   string
	keyID      string
	lifetime   time.Duration
}

// NewIssuer validates the configuration and prepares the signing key.
// Configuration problems surface here so the process can fail fast at
// startup instead of per-request.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.Key == nil {
		return nil, fmt.Errorf("signing key is required")
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, fmt.Errorf("audience is required")
	}
	if cfg.Lifetime == 0 {
		cfg.Lifetime = DefaultTokenLifetime
	}

	algName, err := linkcrypto.DeriveAlgorithm(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to derive signing algorithm: %w", err)
	}
	alg, ok := jwa.LookupSignatureAlgorithm(algName)
	if !ok {
		return nil, fmt.Errorf("unknown signature algorithm %q", algName)
	}

	keyID := cfg.KeyID
	if keyID == "" {
		keyID, err = linkcrypto.DeriveKeyID(cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key ID: %w", err)
		}
	}

	signingKey, err := jwk.Import(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to import signing key: %w", err)
	}
	if err := signingKey.Set(jwk.KeyIDKey, keyID); err != nil {
		return nil, fmt.Errorf("failed to set key ID: %w", err)
	}
	if err := signingKey.Set(jwk.AlgorithmKey, algName); err != nil {
		return nil, fmt.Errorf("failed to set algorithm: %w", err)
	}
	if err := signingKey.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, fmt.Errorf("failed to set key usage: %w", err)
	}

	publicKey, err := jwk.PublicKeyOf(signingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	publicJWKS := jwk.NewSet()
	if err := publicJWKS.AddKey(publicKey); err != nil {
		return nil, fmt.Errorf("failed to build public JWKS: %w", err)
	}

	return &Issuer{
		signingKey: signingKey,
		publicJWKS: publicJWKS,
		alg:        alg,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		keyID:      keyID,
		lifetime:   cfg.Lifetime,
	}, nil
}

// Issue mints a signed token for the given subject. The header carries the
// algorithm and key ID matching the published JWKS.
func (i *Issuer) Issue(_ context.Context, subject string) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("subject is required")
	}

	now := time.Now()
	tok, err := jwt.NewBuilder().
		Subject(subject).
		Issuer(i.issuer).
		Audience([]string{i.audience}).
		IssuedAt(now).
		Expiration(now.Add(i.lifetime)).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(i.alg, i.signingKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return string(signed), nil
}

// KeyID returns the "kid" used in issued token headers.
func (i *Issuer) KeyID() string {
	return i.keyID
}

// Algorithm returns the signing algorithm name (e.g. "EdDSA", "ES256").
func (i *Issuer) Algorithm() string {
	return i.alg.String()
}

// PublicJWKS returns the key set served at the JWKS discovery endpoint.
// The set contains only public key material.
func (i *Issuer) PublicJWKS() jwk.Set {
	return i.publicJWKS
}
