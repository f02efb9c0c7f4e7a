// routes.go
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zoravur/reactable/pkg/reltable"
)

// SetupRoutes wires the REST and WebSocket surfaces over tables.
func SetupRoutes(tables *reltable.Registry, log *zap.Logger) http.Handler {
	ws := &WSHandler{Tables: tables, Log: log}
	h := &Handlers{Tables: tables, Log: log}

	r := chi.NewRouter()

	// Handle the WebSocket route before any global middleware that might
	// wrap the response writer — the upgrade needs the raw ResponseWriter.
	r.Get("/api/ws", ws.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(LoggingMiddleware(log))

		r.Route("/api", func(r chi.Router) {
			r.Get("/live", handleLiveQueries(tables))

			r.Route("/tables/{table}", func(r chi.Router) {
				r.Get("/find-many", h.HandleFindMany)
				r.Get("/find-unique", h.HandleFindUnique)
				r.Post("/insert", h.HandleInsert)
				r.Post("/upsert", h.HandleUpsert)
				r.Patch("/update", h.HandleUpdate)
				r.Delete("/delete", h.HandleDelete)
			})
		})
	})

	fs := http.FileServer(http.Dir("web"))
	r.Handle("/*", fs)

	return r
}
