package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey int

const usernameKey contextKey = iota

func withUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey, username)
}

func usernameFrom(ctx context.Context) string {
	username, _ := ctx.Value(usernameKey).(string)
	return username
}

// requireSession admits requests carrying a valid session cookie. Others get
// a 401 JSON error when they accept JSON and a redirect to /login otherwise.
func (h *Handlers) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, ok := h.gate.Authenticate(r.Context(), r.Header)
		if !ok {
			if strings.Contains(r.Header.Get("Accept"), "application/json") {
				writeError(w, http.StatusUnauthorized, "Invalid session token")
				return
			}
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next(w, r.WithContext(withUsername(r.Context(), username)))
	}
}

// logRequests records each request at debug level.
func logRequests(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr),
		)
		next.ServeHTTP(w, r)
	})
}
