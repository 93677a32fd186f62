// Package serviceshandler serves the operational endpoints shared by both
// servers.
package serviceshandler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler serves /services/ping and /services/version.json.
type Handler struct {
	branch   string
	revision string
	log      *slog.Logger
}

func NewHandler(branch, revision string, log *slog.Logger) *Handler {
	return &Handler{branch: branch, revision: revision, log: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/services/ping", h.HandlePing)
	r.Get("/services/version.json", h.HandleVersion)
}

func (h *Handler) HandlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Cache-Control", "no-store")
	w.Header().Add("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte("OK\n")); err != nil {
		h.log.Info("error writing response", "err", err)
	}
}

func (h *Handler) HandleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Cache-Control", "no-store")
	w.Header().Add("Content-Type", "application/json; charset=utf-8")

	payload, err := json.Marshal(struct {
		Branch   string `json:"branch"`
		Revision string `json:"revision"`
	}{Branch: h.branch, Revision: h.revision})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if _, err := w.Write(payload); err != nil {
		h.log.Info("error writing response", "err", err)
	}
}
