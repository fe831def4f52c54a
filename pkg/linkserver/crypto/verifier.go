// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package crypto provides the cryptographic building blocks of the linking
// protocol: client signature verification, PKCE challenge computation, and
// signing key loading.
package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrInvalidPublicKey indicates the configured client verification key is
// missing or malformed. This is a server configuration error, distinct from
// a bad signature supplied by a client.
var ErrInvalidPublicKey = errors.New("invalid client verification public key")

// ErrMalformedSignature indicates the client-supplied signature could not be
// decoded or has the wrong length. This is a client input error, distinct
// from a signature that decodes cleanly but fails verification.
var ErrMalformedSignature = errors.New("malformed signature")

// DecodeClientPublicKey decodes a base64url-encoded Ed25519 public key.
// Any decode failure or length mismatch returns ErrInvalidPublicKey; the
// key comes from server configuration, so failures here are deployment
// problems rather than client errors.
func DecodeClientPublicKey(b64url string) (ed25519.PublicKey, error) {
	if b64url == "" {
		return nil, fmt.Errorf("%w: key is not configured", ErrInvalidPublicKey)
	}

	keyBytes, err := base64.RawURLEncoding.DecodeString(b64url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidPublicKey, ed25519.PublicKeySize, len(keyBytes))
	}

	return ed25519.PublicKey(keyBytes), nil
}

// VerifyClientSignature checks a detached Ed25519 signature over the raw
// UTF-8 bytes of the challenge string. The signature is base64url encoded.
//
// Malformed input fails closed with ErrMalformedSignature before the
// cryptographic check runs; a well-formed signature that does not verify
// returns (false, nil).
func VerifyClientSignature(challenge, signatureB64 string, publicKey ed25519.PublicKey) (bool, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidPublicKey, ed25519.PublicKeySize, len(publicKey))
	}

	signature, err := base64.RawURLEncoding.DecodeString(signatureB64)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrMalformedSignature, err)
	}
	if len(signature) != ed25519.SignatureSize {
		return false, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrMalformedSignature, ed25519.SignatureSize, len(signature))
	}

	return ed25519.Verify(publicKey, []byte(challenge), signature), nil
}
