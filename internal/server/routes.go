package server

import (
	"net/http"

	"github.com/Tyrowin/messenger/internal/metrics"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
func SetupRoutes(h *Handlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", HealthHandler)
	mux.HandleFunc("GET /health", HealthHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /ws", h.WebSocket)

	mux.HandleFunc("POST /login", h.Login)
	mux.HandleFunc("GET /logout", h.requireSession(h.Logout))
	mux.HandleFunc("GET /profile", h.requireSession(h.Profile))

	mux.HandleFunc("GET /chat", h.requireSession(h.ListChats))
	mux.HandleFunc("POST /chat", h.requireSession(h.CreateChat))
	mux.HandleFunc("GET /chat/{room_id}", h.requireSession(h.GetChat))
	mux.HandleFunc("GET /chat/{room_id}/messages", h.requireSession(h.Messages))

	mux.HandleFunc("POST /roast", h.requireSession(h.Respond(ResponderRoast)))
	mux.HandleFunc("POST /factcheck", h.requireSession(h.Respond(ResponderFactcheck)))
	return mux
}
