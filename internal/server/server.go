package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/messenger/internal/auth"
	"github.com/Tyrowin/messenger/internal/responder"
	"github.com/Tyrowin/messenger/internal/session"
	"github.com/Tyrowin/messenger/internal/storage"
)

// Buffers is the conversation batcher as seen by the server.
type Buffers interface {
	Appender
	RoomBuffers
}

// Deps are the collaborators a Server is assembled from.
type Deps struct {
	Config     Config
	Log        *slog.Logger
	Sessions   session.Store
	Users      auth.UserLookup
	Store      RoomConversations
	Buffers    Buffers
	Responders map[string]responder.Responder
}

// Server ties the broker to the HTTP handlers.
type Server struct {
	broker   *Broker
	handlers *Handlers
	log      *slog.Logger
}

// New assembles a Server. Call Start before serving Handler.
func New(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	cfg := deps.Config
	broker := NewBroker(cfg.Scope(), deps.Buffers, log)
	origins := newOriginPolicy(cfg.AllowedOrigins, log.With(slog.String("component", "origin")))

	h := &Handlers{
		cfg:        cfg,
		log:        log.With(slog.String("component", "http")),
		gate:       auth.NewGate(deps.Sessions, log),
		auth:       auth.NewAuthenticator(deps.Users, deps.Sessions, cfg.SessionTTL, log),
		store:      deps.Store,
		buffers:    deps.Buffers,
		broker:     broker,
		responders: deps.Responders,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		now: time.Now,
	}
	return &Server{broker: broker, handlers: h, log: log}
}

// Start runs the broker's event loop in its own goroutine.
func (s *Server) Start() {
	go s.broker.Run()
	s.log.Info("broker started and ready to manage websocket connections")
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return logRequests(s.log, SetupRoutes(s.handlers))
}

// Broker returns the server's broker.
func (s *Server) Broker() *Broker {
	return s.broker
}

// Shutdown closes every connection and waits up to timeout for the pumps.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.broker.Shutdown(timeout)
}

// SeedRooms tracks every stored room so that client messages for it are
// persisted.
func SeedRooms(ctx context.Context, rooms storage.RoomStore, buffers RoomBuffers) (int, error) {
	list, err := rooms.ListRooms(ctx)
	if err != nil {
		return 0, err
	}
	for _, room := range list {
		buffers.Track(room.ID)
	}
	return len(list), nil
}

// IsServerClosed reports whether err is the normal result of ListenAndServe
// after Shutdown.
func IsServerClosed(err error) bool {
	return errors.Is(err, http.ErrServerClosed)
}
