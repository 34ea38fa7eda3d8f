// Package session issues, validates, and expires the opaque tokens that prove
// a user has logged in.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// CookieName is the name of the cookie carrying the session token.
const CookieName = "cpen322-session"

// DefaultTTL is the session lifetime used when none is configured.
const DefaultTTL = 10 * time.Minute

const tokenBytes = 32

// ErrNoSession is returned by Validate when the token is unknown or expired.
var ErrNoSession = errors.New("session: no such session")

// Session is the server-side record bound to a token.
type Session struct {
	Token     string    `json:"-"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store is implemented by every session backend.
type Store interface {
	// Create stores a new session for username that expires after ttl.
	Create(ctx context.Context, username string, ttl time.Duration) (Session, error)
	// Validate returns the username bound to token, or ErrNoSession.
	Validate(ctx context.Context, token string) (string, error)
	// Destroy removes the session. Unknown tokens are ignored.
	Destroy(ctx context.Context, token string) error
	Close() error
}

// NewToken returns 256 bits from crypto/rand, hex encoded.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SetCookie attaches the session token to the response with a max age
// matching the session lifetime.
func SetCookie(w http.ResponseWriter, s Session) {
	maxAge := int(time.Until(s.ExpiresAt).Round(time.Second) / time.Second)
	if maxAge <= 0 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    s.Token,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie instructs the client to drop the session cookie.
func ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
