// Package claimhandler serves the one-time-code endpoints: code issuance for
// healthcare portals and code redemption for devices.
package claimhandler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/exposafe/diagnosis-server/config"
	"github.com/exposafe/diagnosis-server/metrics"
	"github.com/exposafe/diagnosis-server/store"
	"github.com/exposafe/diagnosis-server/tokenauth"
	"github.com/exposafe/diagnosis-server/wire"
)

const maxClaimBodyBytes = 256

// Handler serves /new-key-claim and /claim-key.
type Handler struct {
	store *store.Store
	auth  *tokenauth.Authenticator
	cfg   config.Config
	log   *slog.Logger
}

func NewHandler(s *store.Store, auth *tokenauth.Authenticator, cfg config.Config, log *slog.Logger) *Handler {
	return &Handler{store: s, auth: auth, cfg: cfg, log: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	// catch-all registrations: disallowed methods answer 401, not 405
	r.HandleFunc("/new-key-claim", h.HandleNewKeyClaim)
	r.HandleFunc("/new-key-claim/{hashID:[0-9a-z]{128}}", h.HandleNewKeyClaim)
	r.HandleFunc("/claim-key", h.HandleClaimKey)
}

// HandleNewKeyClaim issues an 8-digit one-time code bound to a fresh keypair.
// Callers authenticate with a bearer token mapped to their region; the code
// comes back as a text/plain body.
func (h *Handler) HandleNewKeyClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Add("Access-Control-Allow-Origin", h.cfg.CORSAllowOrigin)
		w.Header().Add("Access-Control-Allow-Methods", "POST")
		w.Header().Add("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, Referer, User-Agent")
		return
	}

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

	hashID := chi.URLParam(r, "hashID")

	code, err := h.store.NewKeyClaim(r.Context(), h.cfg.Region, originator, hashID)
	if errors.Is(err, store.ErrHashIDClaimed) {
		h.log.Info("hashID already claimed")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if err != nil {
		h.log.Error("error constructing new key claim", "err", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	metrics.CodesIssued.Inc()

	w.Header().Add("Access-Control-Allow-Origin", h.cfg.CORSAllowOrigin)
	w.Header().Add("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(code + "\n")); err != nil {
		h.log.Warn("error writing response", "err", err)
	}
}

// HandleClaimKey redeems a one-time code for the server half of the keypair.
// Requests and responses are serialized KeyClaim messages.
func (h *Handler) HandleClaimKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// never log the ip: it only lives transiently in the ban table
	ip := requestIP(r)

	triesRemaining, banDuration, err := h.store.CheckClaimKeyBan(ctx, ip)
	if err != nil {
		h.log.Error("database error checking claim-key ban", "err", err)
		h.writeError(w, wire.KeyClaimServerError, triesRemaining, 0, http.StatusInternalServerError)
		return
	}
	if triesRemaining == 0 {
		h.writeError(w, wire.KeyClaimTemporaryBan, 0, banDuration, http.StatusTooManyRequests)
		return
	}

	w.Header().Add("Content-Type", "application/x-protobuf")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxClaimBodyBytes))
	if err != nil {
		h.log.Warn("error reading request", "err", err)
		h.writeError(w, wire.KeyClaimUnknown, triesRemaining, 0, http.StatusBadRequest)
		return
	}

	var req wire.KeyClaimRequest
	if err := req.Unmarshal(data); err != nil {
		h.log.Warn("error unmarshalling request", "err", err)
		h.writeError(w, wire.KeyClaimUnknown, triesRemaining, 0, http.StatusBadRequest)
		return
	}

	// tolerate codes keyed in with spaces or dashes
	oneTimeCode := strings.ReplaceAll(req.OneTimeCode, " ", "")
	oneTimeCode = strings.ReplaceAll(oneTimeCode, "-", "")

	serverPub, err := h.store.ClaimKey(ctx, oneTimeCode, req.AppPublicKey)
	switch {
	case errors.Is(err, store.ErrInvalidKeyFormat):
		h.writeError(w, wire.KeyClaimInvalidKey, triesRemaining, 0, http.StatusBadRequest)
		return
	case errors.Is(err, store.ErrDuplicateKey):
		h.writeError(w, wire.KeyClaimInvalidKey, triesRemaining, 0, http.StatusUnauthorized)
		return
	case errors.Is(err, store.ErrInvalidOneTimeCode):
		metrics.ClaimFailures.Inc()
		triesRemaining, banDuration, ferr := h.store.ClaimKeyFailure(ctx, ip)
		if ferr != nil {
			h.log.Error("database error recording claim-key failure", "err", ferr)
			h.writeError(w, wire.KeyClaimServerError, triesRemaining, 0, http.StatusInternalServerError)
			return
		}
		h.writeError(w, wire.KeyClaimInvalidOneTimeCode, triesRemaining, banDuration, http.StatusUnauthorized)
		return
	case err != nil:
		h.log.Error("failure to claim key", "err", err)
		h.writeError(w, wire.KeyClaimServerError, triesRemaining, 0, http.StatusInternalServerError)
		return
	}

	metrics.CodesClaimed.Inc()

	resp := wire.KeyClaimResponse{
		ServerPublicKey: serverPub,
		TriesRemaining:  uint32(h.cfg.MaxConsecutiveClaimFailures),
	}
	if _, err := w.Write(resp.Marshal()); err != nil {
		h.log.Info("error writing response", "err", err)
	}

	if err := h.store.ClaimKeySuccess(ctx, ip); err != nil {
		h.log.Warn("error recording claim-key success", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code wire.KeyClaimError, triesRemaining int, banDuration time.Duration, status int) {
	resp := wire.KeyClaimResponse{
		Error:          code,
		TriesRemaining: uint32(triesRemaining),
	}
	if banDuration > 0 {
		resp.RemainingBanDuration = durationpb.New(banDuration)
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(status)
	if _, err := w.Write(resp.Marshal()); err != nil {
		h.log.Info("error writing response", "err", err)
	}
}

var numericPort = regexp.MustCompile("^[0-9]+$")

// requestIP returns the last X-FORWARDED-FOR hop, or the remote address with
// any port stripped.
func requestIP(r *http.Request) string {
	forwarded := r.Header.Get("X-FORWARDED-FOR")
	if forwarded != "" {
		hops := strings.Split(forwarded, ",")
		return strings.TrimSpace(hops[len(hops)-1])
	}
	parts := strings.Split(r.RemoteAddr, ":")
	if len(parts) == 2 && numericPort.MatchString(parts[1]) {
		return parts[0]
	}
	return r.RemoteAddr
}
