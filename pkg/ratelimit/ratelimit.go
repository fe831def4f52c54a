// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit implements an approximate floating-window request
// throttle per client address.
//
// The floating window is approximated from two adjacent fixed windows: the
// effective count is the current window's count plus the previous window's
// count weighted by how much of the previous window still overlaps the
// floating window. This gives sliding-window behavior with O(1) state per
// address.
package ratelimit

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Defaults for the floating window.
const (
	// DefaultWindow is the length of each fixed window.
	DefaultWindow = time.Minute

	// DefaultMaxRequests is the maximum number of requests allowed within a
	// floating window.
	DefaultMaxRequests = 20

	// maxTrackedAddresses bounds limiter memory; the least recently seen
	// addresses are evicted first.
	maxTrackedAddresses = 65536
)

// Result is the outcome of an admission check.
type Result struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Limit is the configured maximum for the floating window, for the
	// X-RateLimit-Limit header.
	Limit int

	// RetryAfter estimates how long the client should wait before retrying.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration
}

// windowData is the per-address counter state.
type windowData struct {
	previousCount int
	currentCount  int
	windowStart   time.Time
}

// Limiter throttles requests per client address using the approximate
// floating-window algorithm. It is safe for concurrent use.
//
// The limiter keeps its own address-keyed state and must not share storage
// with the link request store; admission control and protocol state have
// different lifetimes and failure domains.
type Limiter struct {
	mu      sync.Mutex
	entries *expirable.LRU[string, *windowData]

	window      time.Duration
	maxRequests int

	// now is swappable for tests.
	now func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithWindow sets the fixed window length.
func WithWindow(window time.Duration) Option {
	return func(l *Limiter) {
		l.window = window
	}
}

// WithMaxRequests sets the per-window request budget.
func WithMaxRequests(maxRequests int) Option {
	return func(l *Limiter) {
		l.maxRequests = maxRequests
	}
}

// withClock overrides the limiter's clock. Test use only.
func withClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a Limiter with the given options.
func NewLimiter(opts ...Option) *Limiter {
	l := &Limiter{
		window:      DefaultWindow,
		maxRequests: DefaultMaxRequests,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	// Entries idle for three full windows carry no weight and can be dropped.
	l.entries = expirable.NewLRU[string, *windowData](maxTrackedAddresses, nil, 3*l.window)

	return l
}

// Allow records a request from the given address and reports whether it is
// admitted. The request is counted even when rejected, so a client hammering
// a saturated limiter does not gain earlier readmission.
func (l *Limiter) Allow(addr string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	data, ok := l.entries.Get(addr)
	if !ok {
		data = &windowData{
			currentCount: 1,
			windowStart:  now,
		}
	} else {
		sinceStart := now.Sub(data.windowStart)
		switch {
		case sinceStart >= 2*l.window:
			// The previous window is entirely outside the floating window.
			data.previousCount = 0
			data.currentCount = 1
			data.windowStart = data.windowStart.Add(sinceStart.Truncate(l.window))
		case sinceStart >= l.window:
			// Roll over a single window boundary.
			data.previousCount = data.currentCount
			data.currentCount = 1
			data.windowStart = data.windowStart.Add(l.window)
		default:
			data.currentCount++
		}
	}

	elapsed := now.Sub(data.windowStart)
	weight := float64(l.window-elapsed) / float64(l.window)
	if weight < 0 {
		weight = 0
	}
	approximate := float64(data.currentCount) + float64(data.previousCount)*weight

	l.entries.Add(addr, data)

	if approximate > float64(l.maxRequests) {
		retryAfter := l.window - elapsed
		if retryAfter <= 0 {
			retryAfter = l.window / 2
		}
		return Result{
			Allowed:    false,
			Limit:      l.maxRequests,
			RetryAfter: retryAfter,
		}
	}

	return Result{
		Allowed: true,
		Limit:   l.maxRequests,
	}
}
