package session

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/messenger/internal/logging"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore(logging.Discard())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewTokenIsHexAndUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		token, err := NewToken()
		require.NoError(t, err)
		require.Len(t, token, 64)
		_, dup := seen[token]
		require.False(t, dup, "token collision")
		seen[token] = struct{}{}
	}
}

func TestCreateAndValidate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	s, err := store.Create(ctx, "alice", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "alice", s.Username)
	assert.Equal(t, time.Minute, s.ExpiresAt.Sub(s.CreatedAt))

	username, err := store.Validate(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestValidateUnknownToken(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Validate(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = store.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSessionExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	s, err := store.Create(ctx, "alice", 100*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	username, err := store.Validate(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	time.Sleep(100 * time.Millisecond)
	_, err = store.Validate(ctx, s.Token)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, 0, store.Len())
}

func TestTimerEvictsWithoutLookup(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create(context.Background(), "bob", 20*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestValidateRejectsPastDeadlineBeforeTimerFires(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	s, err := store.Create(ctx, "alice", time.Hour)
	require.NoError(t, err)

	store.now = func() time.Time { return s.ExpiresAt }
	_, err = store.Validate(ctx, s.Token)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestDestroyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	s, err := store.Create(ctx, "alice", time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Destroy(ctx, s.Token))
	require.NoError(t, store.Destroy(ctx, s.Token))
	require.NoError(t, store.Destroy(ctx, "unknown"))

	_, err = store.Validate(ctx, s.Token)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestDistinctSessionsPerLogin(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a, err := store.Create(ctx, "alice", time.Minute)
	require.NoError(t, err)
	b, err := store.Create(ctx, "bob", time.Minute)
	require.NoError(t, err)
	require.NotEqual(t, a.Token, b.Token)

	ua, err := store.Validate(ctx, a.Token)
	require.NoError(t, err)
	ub, err := store.Validate(ctx, b.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", ua)
	assert.Equal(t, "bob", ub)
}

func TestSetAndClearCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	SetCookie(rec, Session{Token: "abc", ExpiresAt: time.Now().Add(10 * time.Minute)})

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Equal(t, "abc", cookies[0].Value)
	assert.InDelta(t, 600, cookies[0].MaxAge, 1)
	assert.True(t, cookies[0].HttpOnly)

	rec = httptest.NewRecorder()
	ClearCookie(rec)
	cookies = rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "", cookies[0].Value)
	assert.Less(t, cookies[0].MaxAge, 0)
}
