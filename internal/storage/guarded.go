package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Tyrowin/messenger/internal/chat"
)

// GuardConfig bounds how long and how often the guarded store waits on a
// slow or failing backend.
type GuardConfig struct {
	Timeout        time.Duration
	MaxFailures    uint32
	BreakerTimeout time.Duration
	BreakerName    string
	HalfOpenProbes uint32
}

// Guarded decorates a Store with a per-call timeout and a circuit breaker.
// ErrNotFound and validation errors are answers, not failures, and never
// trip the breaker.
type Guarded struct {
	inner   Store
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	log     *slog.Logger
}

// NewGuarded wraps inner.
func NewGuarded(inner Store, cfg GuardConfig, log *slog.Logger) *Guarded {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.BreakerName == "" {
		cfg.BreakerName = "storage"
	}
	if cfg.HalfOpenProbes == 0 {
		cfg.HalfOpenProbes = 1
	}
	log = log.With(slog.String("component", "storage"))

	settings := gobreaker.Settings{
		Name:        cfg.BreakerName,
		MaxRequests: cfg.HalfOpenProbes,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful:  isAnswer,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("storage breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}
	return &Guarded{
		inner:   inner,
		timeout: cfg.Timeout,
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     log,
	}
}

func isAnswer(err error) bool {
	return err == nil ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidRoom) ||
		errors.Is(err, ErrInvalidBlock) ||
		errors.Is(err, ErrUserExists)
}

// State reports the breaker state.
func (g *Guarded) State() gobreaker.State {
	return g.breaker.State()
}

func guard[T any](g *Guarded, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	result, err := g.breaker.Execute(func() (interface{}, error) {
		return await(ctx, fn)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("breaker (%s): %w", g.breaker.Name(), err)
		}
		return zero, err
	}
	return result.(T), nil
}

type outcome[T any] struct {
	value T
	err   error
}

// await runs fn and returns early with ctx's error when ctx ends first, so
// backends that ignore ctx are bounded too.
func await[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	ch := make(chan outcome[T], 1)
	go func() {
		value, err := fn(ctx)
		ch <- outcome[T]{value: value, err: err}
	}()

	select {
	case out := <-ch:
		return out.value, out.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// ListRooms implements RoomStore.
func (g *Guarded) ListRooms(ctx context.Context) ([]chat.Room, error) {
	return guard(g, ctx, g.inner.ListRooms)
}

// GetRoom implements RoomStore.
func (g *Guarded) GetRoom(ctx context.Context, id string) (chat.Room, error) {
	return guard(g, ctx, func(ctx context.Context) (chat.Room, error) {
		return g.inner.GetRoom(ctx, id)
	})
}

// AddRoom implements RoomStore.
func (g *Guarded) AddRoom(ctx context.Context, room chat.Room) (chat.Room, error) {
	return guard(g, ctx, func(ctx context.Context) (chat.Room, error) {
		return g.inner.AddRoom(ctx, room)
	})
}

// AddConversation implements ConversationStore.
func (g *Guarded) AddConversation(ctx context.Context, block chat.Block) (chat.Block, error) {
	return guard(g, ctx, func(ctx context.Context) (chat.Block, error) {
		return g.inner.AddConversation(ctx, block)
	})
}

// LastConversationBefore implements ConversationStore.
func (g *Guarded) LastConversationBefore(ctx context.Context, roomID string, before time.Time) (chat.Block, error) {
	return guard(g, ctx, func(ctx context.Context) (chat.Block, error) {
		return g.inner.LastConversationBefore(ctx, roomID, before)
	})
}

// GetUser implements UserStore.
func (g *Guarded) GetUser(ctx context.Context, username string) (User, error) {
	return guard(g, ctx, func(ctx context.Context) (User, error) {
		return g.inner.GetUser(ctx, username)
	})
}

// AddUser implements UserStore.
func (g *Guarded) AddUser(ctx context.Context, user User) error {
	_, err := guard(g, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.inner.AddUser(ctx, user)
	})
	return err
}

// Close closes the wrapped store.
func (g *Guarded) Close() error {
	return g.inner.Close()
}
