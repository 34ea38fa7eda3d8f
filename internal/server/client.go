package server

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/messenger/internal/metrics"
)

const (
	sendQueueSize = 256
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	writeWait     = 10 * time.Second
)

// ClientOptions carries the per-connection limits and initial room
// subscriptions.
type ClientOptions struct {
	MaxMessageSize int64
	RateLimit      RateLimitConfig
	Rooms          []string
}

// Client is one authenticated WebSocket connection. Its identity is fixed at
// handshake time.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	broker         *Broker
	username       string
	addr           string
	rooms          []string
	maxMessageSize int64
	rateLimiter    *rate.Limiter
	rateLimit      RateLimitConfig
	log            *slog.Logger
}

// NewClient wraps an upgraded connection for username. The send queue is
// buffered so that fan-out never blocks on a slow peer.
func NewClient(conn *websocket.Conn, broker *Broker, username, addr string, opts ClientOptions, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if conn != nil && opts.MaxMessageSize > 0 {
		conn.SetReadLimit(opts.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, sendQueueSize),
		broker:         broker,
		username:       username,
		addr:           addr,
		rooms:          append([]string(nil), opts.Rooms...),
		maxMessageSize: opts.MaxMessageSize,
		rateLimiter:    newRateLimiter(opts.RateLimit.Burst, opts.RateLimit.RefillInterval),
		rateLimit:      opts.RateLimit,
		log: log.With(
			slog.String("component", "client"),
			slog.String("remote_addr", addr),
			slog.String("user", username),
		),
	}
}

// Username returns the identity bound to the connection.
func (c *Client) Username() string {
	return c.username
}

// GetSendChan returns the client's outgoing queue.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("error setting initial read deadline", slog.String("error", err.Error()))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("error setting read deadline in pong handler", slog.String("error", err.Error()))
		}
		return nil
	})
}

// handleReadError logs the read failure and reports whether the read loop
// should stop.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("message exceeded maximum size", slog.Int64("max_bytes", c.maxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Debug("client disconnected", slog.String("reason", err.Error()))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("client connection closed", slog.String("reason", err.Error()))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("unexpected websocket close", slog.String("error", err.Error()))
	default:
		c.log.Warn("websocket read error", slog.String("error", err.Error()))
	}
	return true
}

func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
		c.log.Warn("rate limit exceeded; discarding message",
			slog.Int("burst", c.rateLimit.Burst),
			slog.Duration("interval", c.rateLimit.RefillInterval),
		)
		return false
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.broker.leave(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("error closing connection in read pump", slog.String("error", err.Error()))
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if c.handleReadError(err) {
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.broker.receive(c, rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error closing connection in write pump", slog.String("error", err.Error()))
	}
}

// handleMessage writes one outgoing frame and returns false if the connection
// should be closed.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline", slog.String("error", err.Error()))
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("error writing close message", slog.String("error", err.Error()))
	}
	return false
}

// writeTextMessage sends each queued message in its own frame so that every
// frame is exactly one JSON document.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.log.Warn("error writing message", slog.String("error", err.Error()))
		return false
	}
	return true
}

func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline for ping", slog.String("error", err.Error()))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn("error writing ping message", slog.String("error", err.Error()))
		return false
	}
	return true
}
