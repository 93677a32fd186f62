// Package uploadhandler serves the device-facing submission endpoints:
// encrypted diagnosis-key uploads and device event reports.
package uploadhandler

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/nacl/box"

	"github.com/exposafe/diagnosis-server/config"
	"github.com/exposafe/diagnosis-server/metrics"
	"github.com/exposafe/diagnosis-server/store"
	"github.com/exposafe/diagnosis-server/wire"
)

const (
	maxUploadBodyBytes = 1024
	maxEventBodyBytes  = 1024

	rollingPeriod           = 144
	maxTransmissionRisk     = 8
	maxUploadClockSkew      = 3600 // seconds
	maxKeySpanRollingCycles = rollingPeriod * 14
)

// Handler serves /upload, /event and /event/nonce.
type Handler struct {
	store *store.Store
	cfg   config.Config
	log   *slog.Logger
}

func NewHandler(s *store.Store, cfg config.Config, log *slog.Logger) *Handler {
	return &Handler{store: s, cfg: cfg, log: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/upload", h.HandleUpload)
	r.Post("/event", h.HandleEvent)
	r.HandleFunc("/event/nonce", h.HandleEventNonce)
}

func (h *Handler) writeUploadError(w http.ResponseWriter, code wire.EncryptedUploadError, status int) {
	w.WriteHeader(status)
	resp := wire.EncryptedUploadResponse{Error: code}
	if _, err := w.Write(resp.Marshal()); err != nil {
		h.log.Info("error writing response", "err", err)
	}
}

// HandleUpload accepts a box-sealed batch of temporary exposure keys from a
// device that previously claimed a keypair.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	w.Header().Add("Content-Type", "application/x-protobuf")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBodyBytes))
	if err != nil {
		h.log.Warn("error reading request", "err", err)
		h.writeUploadError(w, wire.UploadUnknown, http.StatusBadRequest)
		return
	}

	var req wire.EncryptedUploadRequest
	if err := req.Unmarshal(data); err != nil {
		h.log.Warn("error unmarshalling request", "err", err)
		h.writeUploadError(w, wire.UploadUnknown, http.StatusBadRequest)
		return
	}

	if len(req.ServerPublicKey) != wire.KeyLength {
		h.log.Warn("server public key was not expected length")
		h.writeUploadError(w, wire.UploadInvalidCryptoParameters, http.StatusBadRequest)
		return
	}

	serverPriv, err := h.store.PrivForPub(ctx, req.ServerPublicKey)
	if err != nil {
		h.log.Warn("failure to resolve client keypair", "err", err)
		h.writeUploadError(w, wire.UploadInvalidKeypair, http.StatusUnauthorized)
		return
	}

	nonce, err := wire.IntoNonce(req.Nonce)
	if err != nil {
		h.log.Warn("nonce was not expected length")
		h.writeUploadError(w, wire.UploadInvalidCryptoParameters, http.StatusBadRequest)
		return
	}

	appPubKey, err := wire.IntoKey(req.AppPublicKey)
	if err != nil {
		h.log.Warn("app public key was not expected length")
		h.writeUploadError(w, wire.UploadInvalidCryptoParameters, http.StatusBadRequest)
		return
	}

	privKey, err := wire.IntoKey(serverPriv)
	if err != nil {
		h.log.Error("server private key was not expected length")
		h.writeUploadError(w, wire.UploadServerError, http.StatusInternalServerError)
		return
	}

	plaintext, ok := box.Open(nil, req.Payload, nonce, appPubKey, privKey)
	if !ok {
		h.log.Warn("failure to decrypt payload")
		h.writeUploadError(w, wire.UploadDecryptionFailed, http.StatusBadRequest)
		return
	}

	var upload wire.Upload
	if err := upload.Unmarshal(plaintext); err != nil {
		h.log.Warn("error unmarshalling request payload", "err", err)
		h.writeUploadError(w, wire.UploadInvalidPayload, http.StatusBadRequest)
		return
	}

	if len(upload.Keys) == 0 {
		h.log.Warn("no keys provided")
		h.writeUploadError(w, wire.UploadNoKeysInPayload, http.StatusBadRequest)
		return
	}
	if len(upload.Keys) > h.cfg.MaxKeysInUpload {
		h.log.Warn("too many keys provided")
		h.writeUploadError(w, wire.UploadTooManyKeys, http.StatusBadRequest)
		return
	}

	ts := time.Unix(upload.Timestamp.GetSeconds(), 0)
	if math.Abs(time.Since(ts).Seconds()) > maxUploadClockSkew {
		h.log.Warn("invalid timestamp")
		h.writeUploadError(w, wire.UploadInvalidTimestamp, http.StatusBadRequest)
		return
	}

	if code, ok := validateKeys(upload.Keys); !ok {
		h.log.Warn("invalid key in upload")
		h.writeUploadError(w, code, http.StatusBadRequest)
		return
	}

	err = h.store.StoreKeys(ctx, req.AppPublicKey, upload.Keys)
	switch {
	case errors.Is(err, store.ErrKeypairExhausted):
		h.log.Warn("keypair quota consumed")
		h.writeUploadError(w, wire.UploadInvalidKeypair, http.StatusBadRequest)
		return
	case errors.Is(err, store.ErrInvalidKeypair):
		h.log.Warn("no keypair for app public key")
		h.writeUploadError(w, wire.UploadInvalidKeypair, http.StatusUnauthorized)
		return
	case err != nil:
		h.log.Error("failed to store diagnosis keys", "err", err)
		h.writeUploadError(w, wire.UploadServerError, http.StatusInternalServerError)
		return
	}

	metrics.KeysUploaded.Add(float64(len(upload.Keys)))

	resp := wire.EncryptedUploadResponse{Error: wire.UploadNone}
	if _, err := w.Write(resp.Marshal()); err != nil {
		h.log.Info("error writing response", "err", err)
	}
}

func validateKey(key *wire.TemporaryExposureKey) (wire.EncryptedUploadError, bool) {
	if key.RollingPeriod != rollingPeriod {
		return wire.UploadInvalidRollingPeriod, false
	}
	if len(key.KeyData) != wire.KeyDataLength {
		return wire.UploadInvalidKeyData, false
	}
	if key.RollingStartIntervalNumber == 0 {
		return wire.UploadInvalidRollingStartIntervalNumber, false
	}
	if key.TransmissionRiskLevel < 0 || key.TransmissionRiskLevel > maxTransmissionRisk {
		return wire.UploadInvalidTransmissionRiskLevel, false
	}
	return wire.UploadNone, true
}

func validateKeys(keys []*wire.TemporaryExposureKey) (wire.EncryptedUploadError, bool) {
	for _, key := range keys {
		if code, ok := validateKey(key); !ok {
			return code, false
		}
	}

	ints := make([]int, 0, len(keys))
	offset := int(keys[0].RollingStartIntervalNumber) % rollingPeriod
	for _, key := range keys {
		rsin := int(key.RollingStartIntervalNumber)
		if rsin%rollingPeriod != offset {
			return wire.UploadInvalidRollingStartIntervalNumber, false
		}
		ints = append(ints, rsin)
	}
	sort.Ints(ints)

	if ints[len(ints)-1]+rollingPeriod-ints[0] > maxKeySpanRollingCycles {
		return wire.UploadInvalidRollingStartIntervalNumber, false
	}

	lastEnd := 0
	for _, rsin := range ints {
		if rsin < lastEnd {
			return wire.UploadInvalidRollingStartIntervalNumber, false
		}
		lastEnd = rsin + rollingPeriod
	}
	return wire.UploadNone, true
}

func (h *Handler) writeEventError(w http.ResponseWriter, code wire.EventError, status int) {
	w.WriteHeader(status)
	resp := wire.EventResponse{Error: code}
	if _, err := w.Write(resp.Marshal()); err != nil {
		h.log.Info("error writing response", "err", err)
	}
}

// HandleEvent records a named device-side event tied to a claimed keypair.
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	w.Header().Add("Content-Type", "application/x-protobuf")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBodyBytes))
	if err != nil {
		h.log.Warn("error reading request", "err", err)
		h.writeEventError(w, wire.EventInvalidKeys, http.StatusBadRequest)
		return
	}

	var req wire.EventRequest
	if err := req.Unmarshal(data); err != nil {
		h.log.Warn("error unmarshalling request", "err", err)
		h.writeEventError(w, wire.EventInvalidKeys, http.StatusBadRequest)
		return
	}

	if len(req.ServerPublicKey) != wire.KeyLength {
		h.log.Warn("server public key was not expected length")
		h.writeEventError(w, wire.EventInvalidKeys, http.StatusBadRequest)
		return
	}

	if _, err := h.store.PrivForPub(ctx, req.ServerPublicKey); err != nil {
		h.log.Warn("failure to resolve client keypair", "err", err)
		h.writeEventError(w, wire.EventInvalidKeys, http.StatusUnauthorized)
		return
	}

	if _, err := wire.IntoKey(req.AppPublicKey); err != nil {
		h.log.Warn("app public key was not expected length")
		h.writeEventError(w, wire.EventInvalidKeys, http.StatusBadRequest)
		return
	}

	if req.Event != "" {
		h.log.Info("user event recorded", "userEvent", req.Event)
		if err := h.store.SaveMetricEvent(ctx, "", req.Event, store.DeviceTypeServer, 1); err != nil {
			h.log.Warn("unable to record event metric", "err", err)
		}
	}

	resp := wire.EventResponse{Error: wire.EventNone}
	if _, err := w.Write(resp.Marshal()); err != nil {
		h.log.Info("error writing response", "err", err)
	}
}

// HandleEventNonce issues a one-time nonce for subsequent event reports.
func (h *Handler) HandleEventNonce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.log.Info("disallowed method", "method", r.Method)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	nonce, err := h.store.NewEventNonce(r.Context())
	if err != nil {
		h.log.Error("error creating event nonce", "err", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Add("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(nonce + "\n")); err != nil {
		h.log.Info("error writing response", "err", err)
	}
}
