// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session resolves the authenticated browser user for the linking
// flow.
//
// The link completion phase needs to know who finished the browser login.
// That knowledge is carried by an opaque session cookie scoped to the
// browser; this package owns that cookie and hides the identity provider
// behind the Resolver interface.
package session

import (
	"errors"
	"net/http"
)

// ErrNoSession is returned when the request carries no valid authenticated
// session.
var ErrNoSession = errors.New("no authenticated session")

// User is the authenticated browser user as resolved from the session.
type User struct {
	// ID is the identity provider's stable subject identifier.
	ID string

	// Email is the user's email address, if the provider released it.
	Email string

	// Name is the user's display name, if the provider released it.
	Name string
}

// Subject returns the stable backend subject for this user: the provider
// subject ID, falling back to email. Empty when neither is present.
func (u *User) Subject() string {
	if u.ID != "" {
		return u.ID
	}
	return u.Email
}

// Resolver resolves the authenticated user from an incoming request.
type Resolver interface {
	// UserFromRequest returns the authenticated user for the request, or
	// ErrNoSession if the browser has no valid session.
	UserFromRequest(r *http.Request) (*User, error)
}

// StaticResolver resolves every request to a fixed user. Intended for tests
// and local development; never wire this into a production deployment.
type StaticResolver struct {
	User *User
}

// UserFromRequest returns the configured user, or ErrNoSession when unset.
func (s *StaticResolver) UserFromRequest(*http.Request) (*User, error) {
	if s.User == nil {
		return nil, ErrNoSession
	}
	return s.User, nil
}
