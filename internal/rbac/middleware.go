// Package rbac gates routes on the capabilities cached in the session.
package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/taxdesk/taxdesk/internal/platform/httpx"
	"github.com/taxdesk/taxdesk/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Logger *slog.Logger
	// Forbidden renders the 403 page; http.Error is used when nil.
	Forbidden http.HandlerFunc
}

// RequireAuth sends anonymous requests to the login page.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shared.CurrentUserFromContext(r.Context()) == nil {
			httpx.RedirectToLogin(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAny ensures the current user has at least one of the required capabilities.
func (m Middleware) RequireAny(caps ...string) func(http.Handler) http.Handler {
	normalized := normalizeCapabilities(caps)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := shared.CurrentUserFromContext(r.Context())
			if user == nil {
				httpx.RedirectToLogin(w, r)
				return
			}
			if len(normalized) == 0 || hasAny(user, normalized) {
				next.ServeHTTP(w, r)
				return
			}
			m.deny(w, r, user, normalized)
		})
	}
}

// RequireAll ensures the current user has all required capabilities.
func (m Middleware) RequireAll(caps ...string) func(http.Handler) http.Handler {
	normalized := normalizeCapabilities(caps)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := shared.CurrentUserFromContext(r.Context())
			if user == nil {
				httpx.RedirectToLogin(w, r)
				return
			}
			for _, c := range normalized {
				if !user.Can(c) {
					m.deny(w, r, user, normalized)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, user *shared.CurrentUser, required []string) {
	if m.Logger != nil {
		m.Logger.Warn("rbac denied",
			slog.String("user", user.ID),
			slog.String("path", r.URL.Path),
			slog.String("required", strings.Join(required, ",")))
	}
	if m.Forbidden != nil {
		m.Forbidden(w, r)
		return
	}
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}

func normalizeCapabilities(caps []string) []string {
	seen := make(map[string]struct{}, len(caps))
	normalized := make([]string, 0, len(caps))
	for _, c := range caps {
		c = strings.TrimSpace(strings.ToLower(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		normalized = append(normalized, c)
	}
	return normalized
}

func hasAny(user *shared.CurrentUser, required []string) bool {
	for _, c := range required {
		if user.Can(c) {
			return true
		}
	}
	return false
}
