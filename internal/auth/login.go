package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Tyrowin/messenger/internal/session"
	"github.com/Tyrowin/messenger/internal/storage"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

var validate = validator.New()

// Credentials is the login form.
type Credentials struct {
	Username string `validate:"required,max=64"`
	Password string `validate:"required,max=256"`
}

// UserLookup fetches a stored user credential.
type UserLookup interface {
	GetUser(ctx context.Context, username string) (storage.User, error)
}

// Authenticator checks credentials and opens sessions.
type Authenticator struct {
	users    UserLookup
	sessions session.Store
	ttl      time.Duration
	log      *slog.Logger
}

// NewAuthenticator returns an Authenticator issuing sessions that live for ttl.
func NewAuthenticator(users UserLookup, sessions session.Store, ttl time.Duration, log *slog.Logger) *Authenticator {
	if log == nil {
		log = slog.Default()
	}
	return &Authenticator{
		users:    users,
		sessions: sessions,
		ttl:      ttl,
		log:      log.With(slog.String("component", "auth")),
	}
}

// Login verifies the credentials and creates a session for the user.
func (a *Authenticator) Login(ctx context.Context, creds Credentials) (session.Session, error) {
	if err := validate.Struct(creds); err != nil {
		return session.Session{}, ErrInvalidCredentials
	}

	user, err := a.users.GetUser(ctx, creds.Username)
	if errors.Is(err, storage.ErrNotFound) {
		a.log.Info("login for unknown user", slog.String("user", creds.Username))
		return session.Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("look up user: %w", err)
	}

	if !CheckPassword(creds.Password, user.PasswordHash) {
		a.log.Info("login with wrong password", slog.String("user", creds.Username))
		return session.Session{}, ErrInvalidCredentials
	}

	s, err := a.sessions.Create(ctx, user.Username, a.ttl)
	if err != nil {
		return session.Session{}, fmt.Errorf("create session: %w", err)
	}
	a.log.Info("user logged in", slog.String("user", user.Username))
	return s, nil
}

// Logout destroys the session behind token.
func (a *Authenticator) Logout(ctx context.Context, token string) error {
	return a.sessions.Destroy(ctx, token)
}
