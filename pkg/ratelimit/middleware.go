// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/stacklok/tokenbridge/pkg/logger"
)

// DefaultExemptPrefixes are path prefixes that bypass admission control.
// Static assets are cheap to serve and would otherwise starve the API budget
// of browsers loading the login pages.
var DefaultExemptPrefixes = []string{"/assets/", "/favicon.ico"}

// Middleware returns an HTTP middleware enforcing the limiter per client
// address. Requests whose path matches an exempt prefix pass through
// uncounted. Place this behind a RealIP-style middleware when running behind
// a proxy so RemoteAddr reflects the actual client.
func Middleware(limiter *Limiter, exemptPrefixes []string) func(http.Handler) http.Handler {
	if exemptPrefixes == nil {
		exemptPrefixes = DefaultExemptPrefixes
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range exemptPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			result := limiter.Allow(clientAddr(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))

			if !result.Allowed {
				logger.Warnw("request rate limited",
					"path", r.URL.Path,
					"retryAfter", result.RetryAfter.String(),
				)
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr extracts the client address from the request, dropping the port.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
