package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Tyrowin/messenger/internal/session"
)

// Validator resolves a session token to a username.
type Validator interface {
	Validate(ctx context.Context, token string) (string, error)
}

// Gate admits a connection only when its handshake carries a valid session
// cookie. It never tells the caller why a connection was refused.
type Gate struct {
	sessions Validator
	log      *slog.Logger
}

// NewGate returns a Gate backed by the given session validator.
func NewGate(sessions Validator, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{sessions: sessions, log: log.With(slog.String("component", "gate"))}
}

// Authenticate returns the username bound to the handshake's session cookie.
// ok is false when the header or cookie is missing or the session is invalid.
func (g *Gate) Authenticate(ctx context.Context, h http.Header) (string, bool) {
	token, ok := TokenFromHeader(h)
	if !ok {
		g.log.Debug("handshake without session cookie")
		return "", false
	}

	username, err := g.sessions.Validate(ctx, token)
	if err != nil {
		if !errors.Is(err, session.ErrNoSession) {
			g.log.Warn("session lookup failed", slog.String("error", err.Error()))
		}
		return "", false
	}
	return username, true
}
