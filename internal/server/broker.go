package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/messenger/internal/chat"
	"github.com/Tyrowin/messenger/internal/conversation"
	"github.com/Tyrowin/messenger/internal/metrics"
)

// Appender receives accepted messages for persistence.
type Appender interface {
	Tracked(roomID string) bool
	Append(roomID string, entry chat.Entry) error
}

// member is the broker's record of a live connection. The username comes
// from the session that admitted the connection and never from a payload.
type member struct {
	username string
	rooms    map[string]struct{}
}

var errBrokerClosed = errors.New("broker: shutting down")

type inbound struct {
	client  *Client
	payload []byte
}

// Broker owns the set of live connections and fans messages out to them.
// Membership changes and fan-out all run on the Run goroutine.
type Broker struct {
	members    map[*Client]*member
	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	inject     chan chat.Message

	scope    Scope
	appender Appender
	log      *slog.Logger
	now      func() time.Time

	mutex  sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// lifecycle guards started and stopped.
	lifecycle sync.Mutex
	started   bool
	stopped   bool
}

// NewBroker creates a Broker that hands accepted messages to appender.
func NewBroker(scope Scope, appender Appender, log *slog.Logger) *Broker {
	if log == nil {
		log = slog.Default()
	}
	if scope != ScopeRoom {
		scope = ScopeGlobal
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		members:    make(map[*Client]*member),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 64),
		inject:     make(chan chat.Message, 16),
		scope:      scope,
		appender:   appender,
		log:        log.With(slog.String("component", "broker")),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Len reports the number of live members.
func (b *Broker) Len() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.members)
}

// Register hands a freshly upgraded connection to the broker, which starts
// its pumps. It returns false once the broker is shutting down.
func (b *Broker) Register(client *Client) bool {
	select {
	case b.register <- client:
		return true
	case <-b.ctx.Done():
		return false
	}
}

// Inject fans out a synthetic message and appends it to its room's buffer,
// creating the buffer if the room is not tracked.
func (b *Broker) Inject(msg chat.Message) error {
	if b.ctx.Err() != nil {
		return errBrokerClosed
	}
	select {
	case b.inject <- msg:
		return nil
	case <-b.ctx.Done():
		return errBrokerClosed
	}
}

func (b *Broker) receive(client *Client, payload []byte) {
	select {
	case b.inbound <- inbound{client: client, payload: payload}:
	case <-b.ctx.Done():
	}
}

func (b *Broker) leave(client *Client) {
	select {
	case b.unregister <- client:
	case <-b.ctx.Done():
	}
}

// Run starts the broker's event loop. It returns after Shutdown, and at once
// when the loop is already running or the broker was shut down.
func (b *Broker) Run() {
	b.lifecycle.Lock()
	if b.started || b.stopped {
		b.lifecycle.Unlock()
		return
	}
	b.started = true
	b.lifecycle.Unlock()
	defer close(b.done)

	for {
		select {
		case <-b.ctx.Done():
			b.shutdownClients()
			return

		case client := <-b.register:
			b.handleRegister(client)

		case client := <-b.unregister:
			b.remove(client, "connection closed")

		case in := <-b.inbound:
			b.handleInbound(in)

		case msg := <-b.inject:
			b.handleInject(msg)
		}
	}
}

func (b *Broker) handleRegister(client *Client) {
	if client == nil {
		b.log.Warn("received nil client registration; skipping")
		return
	}

	rooms := make(map[string]struct{}, len(client.rooms))
	for _, roomID := range client.rooms {
		if roomID != "" {
			rooms[roomID] = struct{}{}
		}
	}

	b.mutex.Lock()
	b.members[client] = &member{username: client.username, rooms: rooms}
	count := len(b.members)
	b.mutex.Unlock()

	metrics.Connections.Set(float64(count))
	client.log.Info("client registered", slog.Int("total_clients", count))

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		client.writePump()
	}()
	go func() {
		defer b.wg.Done()
		client.readPump()
	}()
}

// remove drops client from the live set and closes its send queue, which
// makes the write pump close the connection.
func (b *Broker) remove(client *Client, reason string) {
	b.mutex.Lock()
	_, ok := b.members[client]
	if ok {
		delete(b.members, client)
	}
	count := len(b.members)
	b.mutex.Unlock()

	if !ok {
		return
	}
	close(client.send)
	metrics.Connections.Set(float64(count))
	client.log.Info("client unregistered", slog.String("reason", reason), slog.Int("total_clients", count))
}

func (b *Broker) handleInbound(in inbound) {
	m, ok := b.members[in.client]
	if !ok {
		return
	}
	log := in.client.log

	var payload chat.Inbound
	if err := json.Unmarshal(in.payload, &payload); err != nil {
		metrics.MessagesTotal.WithLabelValues("malformed").Inc()
		log.Warn("invalid message", slog.String("error", err.Error()))
		return
	}
	if payload.RoomID == "" {
		metrics.MessagesTotal.WithLabelValues("malformed").Inc()
		log.Warn("message without roomId")
		return
	}
	if payload.Text == nil {
		metrics.MessagesTotal.WithLabelValues("malformed").Inc()
		log.Warn("message without text", slog.String("room_id", payload.RoomID))
		return
	}

	m.rooms[payload.RoomID] = struct{}{}
	msg := chat.NewMessage(payload.RoomID, m.username, *payload.Text, b.now())
	metrics.MessagesTotal.WithLabelValues("accepted").Inc()
	b.broadcast(msg)

	if !b.appender.Tracked(msg.RoomID) {
		log.Warn("room not found; message not persisted", slog.String("room_id", msg.RoomID))
		return
	}
	b.append(msg)
}

func (b *Broker) handleInject(msg chat.Message) {
	metrics.MessagesTotal.WithLabelValues("injected").Inc()
	b.broadcast(msg)
	b.append(msg)
}

func (b *Broker) append(msg chat.Message) {
	if err := b.appender.Append(msg.RoomID, msg.Entry()); err != nil {
		level := slog.LevelError
		if errors.Is(err, conversation.ErrClosed) {
			level = slog.LevelWarn
		}
		b.log.Log(b.ctx, level, "failed to buffer message",
			slog.String("room_id", msg.RoomID),
			slog.String("error", err.Error()),
		)
	}
}

// broadcast delivers msg to every member in scope, the sender included.
// Members whose queue is full are removed without affecting the others.
func (b *Broker) broadcast(msg chat.Message) {
	payload, err := encodeMessage(msg)
	if err != nil {
		b.log.Error("failed to encode message", slog.String("error", err.Error()))
		return
	}

	var failed []*Client
	delivered := 0
	for client, m := range b.members {
		if b.scope == ScopeRoom {
			if _, subscribed := m.rooms[msg.RoomID]; !subscribed {
				continue
			}
		}
		if !safeSend(client, payload) {
			failed = append(failed, client)
			continue
		}
		delivered++
	}

	metrics.DeliveriesTotal.WithLabelValues("sent").Add(float64(delivered))
	metrics.DeliveriesTotal.WithLabelValues("dropped").Add(float64(len(failed)))
	b.log.Debug("broadcast message",
		slog.String("room_id", msg.RoomID),
		slog.Int("delivered", delivered),
		slog.Int("dropped", len(failed)),
	)

	for _, client := range failed {
		b.remove(client, "send buffer full")
	}
}

func safeSend(client *Client, payload []byte) bool {
	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// shutdownClients empties the live set and closes every connection.
func (b *Broker) shutdownClients() {
	b.mutex.Lock()
	clients := make([]*Client, 0, len(b.members))
	for client := range b.members {
		clients = append(clients, client)
		delete(b.members, client)
	}
	b.mutex.Unlock()

	for _, client := range clients {
		close(client.send)
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			client.log.Warn("error closing client connection", slog.String("error", err.Error()))
		}
	}

	b.log.Info("closed client connections", slog.Int("count", len(clients)))
}

// Shutdown stops the event loop, closes all connections, and waits for the
// pump goroutines to finish or for timeout to elapse.
func (b *Broker) Shutdown(timeout time.Duration) error {
	b.log.Info("initiating broker shutdown")
	b.lifecycle.Lock()
	b.stopped = true
	started := b.started
	b.lifecycle.Unlock()

	b.cancel()
	if started {
		<-b.done
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		metrics.Connections.Set(0)
		b.log.Info("broker shutdown completed")
		return nil
	case <-time.After(timeout):
		b.log.Warn("broker shutdown timeout reached; some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
