package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cs15tutor/engine/internal/api/recovery"
)

// NewRouter wires all routes with panic recovery.
func NewRouter(h *Handlers) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api", h.Chat).Methods(http.MethodPost)
	r.HandleFunc("/health-status", h.HealthStatus).Methods(http.MethodGet)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/analytics", h.Analytics).Methods(http.MethodGet)

	return recovery.Middleware(r)
}
