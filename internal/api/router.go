package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/cmmgraph/internal/engine"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(eng *engine.Engine, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(eng)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Module registry.
	r.Get("/modules", h.ListModules)
	r.Get("/modules/query", h.QueryModules)

	// Graph definitions and execution.
	r.Get("/graphs", h.ListGraphs)
	r.Route("/graphs/{name}", func(r chi.Router) {
		r.Get("/", h.GetGraph)
		r.Put("/", h.PutGraph)
		r.Delete("/", h.DeleteGraph)
		r.Get("/dot", h.GraphText)
		r.Post("/run", h.RunGraph)
		r.Put("/nodes/{node}/options", h.SetNodeOptions)
	})

	// Device bindings.
	r.Get("/devices", h.ListDevices)
	r.Get("/devices/{id}", h.GetDevice)
	r.Put("/devices/{id}", h.BindDevice)
	r.Delete("/devices/{id}", h.UnbindDevice)

	r.Get("/cache", h.CacheStats)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
