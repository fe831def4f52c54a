// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"fmt"
	"html"
	"net/http"
)

// SuccessHandler handles GET /success, the terminal page shown in the
// browser after a completed link. The native client retrieves the token
// through the API; this page only tells the user they are done.
func (*Handler) SuccessHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>Login complete</title></head>
<body>
<h1>Login complete</h1>
<p>You can close this window and return to the application.</p>
</body>
</html>
`)
}

// ErrorPageHandler handles GET /error, the terminal error page. The code
// and message query parameters are informational only.
func (*Handler) ErrorPageHandler(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	message := r.URL.Query().Get("message")
	if message == "" {
		message = "Something went wrong during login."
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Login failed</title></head>
<body>
<h1>Login failed</h1>
<p>%s</p>
<p>Error code: %s</p>
</body>
</html>
`, html.EscapeString(message), html.EscapeString(code))
}

// HealthHandler handles GET /health. It reports store reachability so load
// balancers can take a replica with a dead store out of rotation.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Health(r.Context()); err != nil {
		h.logger.Error("health check failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
