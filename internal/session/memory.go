package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/messenger/internal/metrics"
)

type memoryEntry struct {
	session Session
	timer   *time.Timer
}

// MemoryStore keeps sessions in process memory and evicts each one with its
// own timer once its lifetime ends.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memoryEntry
	log      *slog.Logger
	now      func() time.Time
	newToken func() (string, error)
}

// NewMemoryStore returns an empty in-memory session store.
func NewMemoryStore(log *slog.Logger) *MemoryStore {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		log:      log.With(slog.String("component", "session")),
		now:      time.Now,
		newToken: NewToken,
	}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, username string, ttl time.Duration) (Session, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	token, err := m.newToken()
	if err != nil {
		return Session{}, err
	}

	now := m.now()
	s := Session{
		Token:     token,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	m.mu.Lock()
	entry := &memoryEntry{session: s}
	entry.timer = time.AfterFunc(ttl, func() { m.evict(token, entry) })
	m.sessions[token] = entry
	count := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsActive.Set(float64(count))
	m.log.Debug("session created",
		slog.String("user", username),
		slog.Time("expires_at", s.ExpiresAt),
	)
	return s, nil
}

// Validate implements Store. Expiry is timer driven, but an entry whose
// deadline has passed is never returned even if its timer has not fired yet.
func (m *MemoryStore) Validate(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrNoSession
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[token]
	if !ok {
		return "", ErrNoSession
	}
	if !m.now().Before(entry.session.ExpiresAt) {
		entry.timer.Stop()
		delete(m.sessions, token)
		metrics.SessionsActive.Set(float64(len(m.sessions)))
		return "", ErrNoSession
	}
	return entry.session.Username, nil
}

// Destroy implements Store.
func (m *MemoryStore) Destroy(_ context.Context, token string) error {
	m.mu.Lock()
	entry, ok := m.sessions[token]
	if ok {
		entry.timer.Stop()
		delete(m.sessions, token)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if ok {
		metrics.SessionsActive.Set(float64(count))
		m.log.Debug("session destroyed", slog.String("user", entry.session.Username))
	}
	return nil
}

// Len reports the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops every pending eviction timer and forgets all sessions.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for token, entry := range m.sessions {
		entry.timer.Stop()
		delete(m.sessions, token)
	}
	metrics.SessionsActive.Set(0)
	return nil
}

func (m *MemoryStore) evict(token string, entry *memoryEntry) {
	m.mu.Lock()
	current, ok := m.sessions[token]
	if ok && current == entry {
		delete(m.sessions, token)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if ok && current == entry {
		metrics.SessionsActive.Set(float64(count))
		m.log.Debug("session expired", slog.String("user", entry.session.Username))
	}
}
