package hub

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (h *Hub) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.handleWS)
	r.Get("/healthz", h.handleHealth)
	r.Get("/stats", h.handleStats)

	return r
}

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": h.ClientCount(),
		"paused":  h.Paused(),
	})
}

func (h *Hub) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.statsFn == nil {
		json.NewEncoder(w).Encode(map[string]any{})
		return
	}
	if err := json.NewEncoder(w).Encode(h.statsFn()); err != nil {
		h.logger.Error("encode stats", "error", err)
	}
}
