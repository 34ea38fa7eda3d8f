// Package conversation buffers accepted chat messages per room and flushes
// them to durable storage as conversation blocks.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Tyrowin/messenger/internal/chat"
	"github.com/Tyrowin/messenger/internal/metrics"
	"github.com/Tyrowin/messenger/internal/storage"
)

// Policy decides what happens to a block whose persistence failed.
type Policy string

const (
	// PolicyDrop logs the failure and discards the block.
	PolicyDrop Policy = "drop"
	// PolicyRequeue retries with backoff, then puts the block's messages back
	// at the head of the room buffer.
	PolicyRequeue Policy = "requeue"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("conversation: batcher closed")

// Config tunes flushing.
type Config struct {
	// BlockSize is the buffer length that triggers a flush.
	BlockSize     int
	Policy        Policy
	MaxRetries    int
	RetryInterval time.Duration
	// MaxBuffered caps a room buffer once failed blocks are requeued.
	MaxBuffered int
}

// DefaultConfig flushes on every message and requeues failed blocks.
func DefaultConfig() Config {
	return Config{
		BlockSize:     1,
		Policy:        PolicyRequeue,
		MaxRetries:    3,
		RetryInterval: 200 * time.Millisecond,
		MaxBuffered:   1000,
	}
}

func (c Config) sanitized() Config {
	d := DefaultConfig()
	if c.BlockSize <= 0 {
		c.BlockSize = d.BlockSize
	}
	if c.Policy != PolicyDrop && c.Policy != PolicyRequeue {
		c.Policy = d.Policy
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.MaxBuffered < c.BlockSize {
		c.MaxBuffered = max(d.MaxBuffered, c.BlockSize)
	}
	return c
}

// Batcher accumulates messages per room. Buffers are swapped out under the
// mutex before persistence starts, so a message appended while a flush is in
// flight always lands in the fresh buffer.
type Batcher struct {
	mu       sync.Mutex
	buffers  map[string][]chat.Entry
	buffered int
	closed   bool

	store  Persister
	cfg    Config
	log    *slog.Logger
	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBatcher returns a Batcher persisting through store.
func NewBatcher(store Persister, cfg Config, log *slog.Logger) *Batcher {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Batcher{
		buffers: make(map[string][]chat.Entry),
		store:   store,
		cfg:     cfg.sanitized(),
		log:     log.With(slog.String("component", "batcher")),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Config returns the effective configuration.
func (b *Batcher) Config() Config {
	return b.cfg
}

// Track registers a room so that Tracked reports true for it.
func (b *Batcher) Track(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.buffers[roomID]; !ok {
		b.buffers[roomID] = []chat.Entry{}
	}
}

// Tracked reports whether the room has a buffer.
func (b *Batcher) Tracked(roomID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.buffers[roomID]
	return ok
}

// Pending returns a copy of the room's unflushed messages.
func (b *Batcher) Pending(roomID string) []chat.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]chat.Entry{}, b.buffers[roomID]...)
}

// Append adds entry to the room's buffer, creating the buffer if needed, and
// starts a flush once the buffer reaches the block size.
func (b *Batcher) Append(roomID string, entry chat.Entry) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	buf := append(b.buffers[roomID], entry)
	b.buffered++
	var snapshot []chat.Entry
	if len(buf) >= b.cfg.BlockSize {
		snapshot = buf
		buf = []chat.Entry{}
		b.buffered -= len(snapshot)
		b.wg.Add(1)
	}
	b.buffers[roomID] = buf
	buffered := b.buffered
	b.mu.Unlock()

	metrics.BufferedMessages.Set(float64(buffered))
	if snapshot != nil {
		b.flush(roomID, snapshot)
	}
	return nil
}

// Wait blocks until every in-flight flush has finished.
func (b *Batcher) Wait() {
	b.wg.Wait()
}

// Close flushes every non-empty buffer and waits for all flushes. When ctx
// ends first, pending retries are abandoned and ctx's error is returned.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	snapshots := make(map[string][]chat.Entry)
	for roomID, buf := range b.buffers {
		if len(buf) > 0 {
			snapshots[roomID] = buf
			b.buffers[roomID] = []chat.Entry{}
		}
	}
	b.buffered = 0
	b.wg.Add(len(snapshots))
	b.mu.Unlock()

	metrics.BufferedMessages.Set(0)
	for roomID, snapshot := range snapshots {
		b.flush(roomID, snapshot)
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		<-done
		return ctx.Err()
	}
}

// flush persists snapshot in the background. The caller must have added it to
// the wait group while holding the mutex.
func (b *Batcher) flush(roomID string, snapshot []chat.Entry) {
	block := chat.Block{
		RoomID:    roomID,
		Timestamp: b.now(),
		Messages:  snapshot,
	}
	go func() {
		defer b.wg.Done()
		b.persist(block)
	}()
}

func (b *Batcher) persist(block chat.Block) {
	log := b.log.With(slog.String("room_id", block.RoomID), slog.Int("count", len(block.Messages)))
	start := time.Now()

	err := b.save(block)
	metrics.FlushLatency.Observe(float64(time.Since(start).Milliseconds()))

	if err == nil {
		metrics.FlushesTotal.WithLabelValues("ok").Inc()
		log.Debug("conversation block persisted")
		return
	}

	metrics.FlushesTotal.WithLabelValues("failed").Inc()
	if b.cfg.Policy == PolicyDrop || errors.Is(err, storage.ErrInvalidBlock) {
		metrics.FlushesTotal.WithLabelValues("dropped").Inc()
		log.Error("failed to add conversation to store; block dropped", slog.String("error", err.Error()))
		return
	}
	b.requeue(block, err)
}

func (b *Batcher) save(block chat.Block) error {
	op := func() (chat.Block, error) {
		saved, err := b.store.AddConversation(b.ctx, block)
		if errors.Is(err, storage.ErrInvalidBlock) {
			return saved, backoff.Permanent(err)
		}
		return saved, err
	}

	if b.cfg.Policy == PolicyDrop {
		_, err := op()
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.cfg.RetryInterval
	policy.MaxInterval = 10 * b.cfg.RetryInterval

	_, err := backoff.Retry(b.ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(b.cfg.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			b.log.Warn("conversation flush failed; retrying",
				slog.String("room_id", block.RoomID),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", next),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("persist block for room %s: %w", block.RoomID, err)
	}
	return nil
}

// requeue puts a failed block's messages back at the head of the room buffer,
// ahead of anything appended while the flush was in flight.
func (b *Batcher) requeue(block chat.Block, cause error) {
	log := b.log.With(slog.String("room_id", block.RoomID))

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		metrics.FlushesTotal.WithLabelValues("dropped").Inc()
		log.Error("failed to add conversation to store during shutdown; block dropped",
			slog.Int("count", len(block.Messages)),
			slog.String("error", cause.Error()),
		)
		return
	}

	current := b.buffers[block.RoomID]
	merged := make([]chat.Entry, 0, len(block.Messages)+len(current))
	merged = append(merged, block.Messages...)
	merged = append(merged, current...)

	overflow := len(merged) - b.cfg.MaxBuffered
	if overflow > 0 {
		merged = merged[overflow:]
	}
	b.buffered += len(merged) - len(current)
	b.buffers[block.RoomID] = merged
	buffered := b.buffered
	b.mu.Unlock()

	metrics.BufferedMessages.Set(float64(buffered))
	metrics.FlushesTotal.WithLabelValues("requeued").Inc()
	log.Error("failed to add conversation to store; messages requeued",
		slog.Int("count", len(block.Messages)),
		slog.String("error", cause.Error()),
	)
	if overflow > 0 {
		log.Warn("room buffer full; oldest messages dropped", slog.Int("dropped", overflow))
	}
}
