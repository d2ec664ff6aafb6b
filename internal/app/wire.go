package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/attaboy/matchsync/internal/handler"
)

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	Engine handler.Engine
	// Stream serves the WebSocket change stream; nil leaves /ws unrouted.
	Stream      http.HandlerFunc
	CORSOrigins string
	Logger      *slog.Logger
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	syncHandler := handler.NewSyncHandler(deps.Engine)
	ticketHandler := handler.NewTicketHandler(deps.Engine)

	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(deps.Logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(deps.Logger))
	r.Use(handler.CORSWithOrigins(deps.CORSOrigins))

	// The upgrade response must not carry a JSON content type.
	if deps.Stream != nil {
		r.Get("/ws", deps.Stream)
	}

	r.Group(func(r chi.Router) {
		r.Use(handler.JSONContentType)

		r.Get("/health", handler.HealthHandler(deps.Engine))
		r.Get("/state", syncHandler.GetState)
		r.Post("/window", syncHandler.SelectWindow)

		r.Route("/fixtures", func(r chi.Router) {
			r.Get("/", syncHandler.ListFixtures)
			r.Get("/{id}", syncHandler.GetFixture)
			r.Post("/{id}/refresh", syncHandler.RefreshFixture)
		})

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", syncHandler.ListGroups)
			r.Post("/", syncHandler.SelectGroups)
		})

		r.Route("/live", func(r chi.Router) {
			r.Post("/start", syncHandler.StartLive)
			r.Post("/stop", syncHandler.StopLive)
		})

		r.Route("/tickets", func(r chi.Router) {
			r.Get("/", ticketHandler.ListTickets)
			r.Post("/", ticketHandler.CreateTicket)
			r.Get("/stats", ticketHandler.Stats)
			r.Post("/reload", ticketHandler.Reload)
			r.Get("/{id}", ticketHandler.GetTicket)
			r.Delete("/{id}", ticketHandler.DeleteTicket)
		})

		r.Post("/analyze", ticketHandler.Analyze)
	})

	return r
}
