// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides persistence for in-flight link requests.
//
// A link request tracks one attempt by a native client to obtain a backend
// token through a browser login. The store is the source of truth for the
// asynchronous handoff between the browser-facing handlers and the polling
// native client.
package storage

import (
	"context"
	"errors"
	"time"
)

// DefaultLinkRequestTTL is the default lifetime for a link request.
// An abandoned flow becomes unavailable to both polling and exchange
// once the TTL elapses.
const DefaultLinkRequestTTL = 5 * time.Minute

// ErrNotFound is returned when a link request does not exist or has expired.
// Callers cannot distinguish the two cases; that ambiguity is part of the
// protocol surface.
var ErrNotFound = errors.New("link request not found")

// State is the lifecycle tag of a link request.
type State string

const (
	// StatePending means the client initiated the flow and the user has not
	// finished authenticating in the browser yet.
	StatePending State = "PENDING"

	// StateCompleted means the browser login finished and a backend token is
	// waiting to be picked up via the exchange endpoint.
	StateCompleted State = "COMPLETED"
)

// LinkRequest is the state of one in-flight linking transaction, keyed by a
// client-chosen request ID.
//
// CodeChallenge is fixed when the pending entry is created and never mutated;
// only State and IssuedToken transition. IssuedToken is set exactly when
// State is StateCompleted.
type LinkRequest struct {
	State         State  `json:"state"`
	CodeChallenge string `json:"code_challenge"`
	IssuedToken   string `json:"issued_token,omitempty"`
}

// Validate checks structural consistency of a link request before it is
// written to the store.
func (r *LinkRequest) Validate() error {
	switch r.State {
	case StatePending:
		if r.IssuedToken != "" {
			return errors.New("pending link request must not carry a token")
		}
	case StateCompleted:
		if r.IssuedToken == "" {
			return errors.New("completed link request requires a token")
		}
	default:
		return errors.New("unknown link request state")
	}
	if r.CodeChallenge == "" {
		return errors.New("code challenge is required")
	}
	return nil
}

// Store persists link requests with per-entry TTLs.
//
// Implementations must guarantee that single-key operations are atomic with
// respect to each other and that an expired key reads as absent even before
// physical eviction runs. Operations on different keys must not contend
// beyond the store's own locking.
type Store interface {
	// PutLinkRequest stores a link request under the given request ID,
	// overwriting any existing entry. A zero ttl means DefaultLinkRequestTTL.
	// The TTL clock restarts on every put, so the completed write opens a
	// fresh pickup window.
	PutLinkRequest(ctx context.Context, requestID string, req *LinkRequest, ttl time.Duration) error

	// GetLinkRequest retrieves a link request.
	// Returns ErrNotFound if the entry is absent or expired.
	GetLinkRequest(ctx context.Context, requestID string) (*LinkRequest, error)

	// DeleteLinkRequest removes a link request. Deleting an absent entry is
	// not an error.
	DeleteLinkRequest(ctx context.Context, requestID string) error

	// Health reports whether the backing store is reachable.
	Health(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
