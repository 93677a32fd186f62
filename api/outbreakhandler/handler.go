// Package outbreakhandler serves the QR outbreak submission endpoint used by
// public-health portals to flag venues as exposure sites.
package outbreakhandler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/exposafe/diagnosis-server/metrics"
	"github.com/exposafe/diagnosis-server/store"
	"github.com/exposafe/diagnosis-server/tokenauth"
	"github.com/exposafe/diagnosis-server/wire"
)

const (
	maxBodyBytes     = 1024
	locationIDLength = 36
)

// Handler serves /qr/new-event.
type Handler struct {
	store *store.Store
	auth  *tokenauth.Authenticator
	log   *slog.Logger
}

func NewHandler(s *store.Store, auth *tokenauth.Authenticator, log *slog.Logger) *Handler {
	return &Handler{store: s, auth: auth, log: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.HandleFunc("/qr/new-event", h.HandleNewEvent)
}

func (h *Handler) writeError(w http.ResponseWriter, code wire.OutbreakEventError, status int) {
	w.WriteHeader(status)
	resp := wire.OutbreakEventResponse{Error: code}
	if _, err := w.Write(resp.Marshal()); err != nil {
		h.log.Info("error writing response", "err", err)
	}
}

// HandleNewEvent records an outbreak event submitted by an authenticated
// portal.
func (h *Handler) HandleNewEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.log.Info("disallowed method", "method", r.Method)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	originator, err := h.auth.RegionFromRequest(r)
	if err != nil {
		h.log.Info("bad auth header")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Add("Content-Type", "application/x-protobuf")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.log.Warn("error reading request", "err", err)
		h.writeError(w, wire.OutbreakUnknown, http.StatusBadRequest)
		return
	}

	var submission wire.OutbreakEvent
	if err := submission.Unmarshal(data); err != nil {
		h.log.Warn("error unmarshalling request", "err", err)
		h.writeError(w, wire.OutbreakUnknown, http.StatusBadRequest)
		return
	}

	if len(submission.LocationID) != locationIDLength {
		h.log.Warn("location id is not valid")
		h.writeError(w, wire.OutbreakInvalidID, http.StatusBadRequest)
		return
	}

	if submission.StartTime.GetSeconds() < 1 || submission.EndTime.GetSeconds() < 1 {
		h.log.Warn("missing or invalid timestamp")
		h.writeError(w, wire.OutbreakMissingTimestamp, http.StatusBadRequest)
		return
	}

	if submission.EndTime.GetSeconds()-submission.StartTime.GetSeconds() < 1 {
		h.log.Warn("invalid time period")
		h.writeError(w, wire.OutbreakPeriodInvalid, http.StatusBadRequest)
		return
	}

	event := &store.OutbreakEvent{
		LocationID: submission.LocationID,
		Originator: originator,
		StartTime:  submission.StartTime.AsTime(),
		EndTime:    submission.EndTime.AsTime(),
		Severity:   submission.Severity,
	}
	if err := h.store.SaveOutbreakEvent(ctx, event); err != nil {
		h.log.Error("error saving outbreak event", "err", err)
		h.writeError(w, wire.OutbreakServerError, http.StatusBadRequest)
		return
	}

	metrics.OutbreakEventsSubmitted.Inc()

	resp := wire.OutbreakEventResponse{Error: wire.OutbreakNone}
	if _, err := w.Write(resp.Marshal()); err != nil {
		h.log.Info("error writing response", "err", err)
	}
}
