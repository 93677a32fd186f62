// Package retrievehandler serves the windowed export downloads: the
// date-number zip protocol consumed by current clients, the legacy
// length-delimited stream, outbreak event bundles and the exposure scoring
// configuration.
package retrievehandler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/exposafe/diagnosis-server/config"
	"github.com/exposafe/diagnosis-server/export"
	"github.com/exposafe/diagnosis-server/hmacauth"
	"github.com/exposafe/diagnosis-server/metrics"
	"github.com/exposafe/diagnosis-server/signing"
	"github.com/exposafe/diagnosis-server/store"
	"github.com/exposafe/diagnosis-server/timeutil"
)

const exposureConfigJSON = `{"minimumRiskScore":0,"attenuationLevelValues":[1,2,3,4,5,6,7,8],"attenuationWeight":50,"daysSinceLastExposureLevelValues":[1,2,3,4,5,6,7,8],"daysSinceLastExposureWeight":50,"durationLevelValues":[1,2,3,4,5,6,7,8],"durationWeight":50,"transmissionRiskLevelValues":[1,2,3,4,5,6,7,8],"transmissionRiskWeight":50}`

// Handler serves the retrieval routes.
type Handler struct {
	store  *store.Store
	auth   *hmacauth.Authenticator
	signer signing.Signer
	cfg    config.Config
	log    *slog.Logger
	now    func() time.Time
}

func NewHandler(s *store.Store, auth *hmacauth.Authenticator, signer signing.Signer, cfg config.Config, log *slog.Logger) *Handler {
	return &Handler{store: s, auth: auth, signer: signer, cfg: cfg, log: log, now: time.Now}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/retrieve-day/{date}/{hmac}", h.HandleRetrieveDay)
	r.Get("/retrieve-hour/{date}/{hour}/{hmac}", h.HandleRetrieveHour)
	r.Get("/retrieve/{region:[0-9]{3}}/{day:[0-9]{5}}/{auth}", h.HandleRetrievePeriod)
	r.Get("/qr/{region:[0-9]{3}}/{day:[0-9]{5}}/{auth}", h.HandleRetrieveOutbreaks)
	r.Get("/exposure-configuration/{region:[a-zA-Z0-9]+}.json", h.HandleExposureConfig)
}

func (h *Handler) fail(w http.ResponseWriter, logMsg, responseMsg string, status int) {
	if status == http.StatusInternalServerError {
		h.log.Error(logMsg)
	} else {
		h.log.Warn(logMsg)
	}
	if responseMsg == "" {
		responseMsg = logMsg
	}
	http.Error(w, responseMsg, status)
}

// HandleRetrieveDay serves all keys submitted during one UTC day in the
// legacy length-delimited stream.
func (h *Handler) HandleRetrieveDay(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if !h.auth.AuthenticateDay(date, chi.URLParam(r, "hmac")) {
		h.fail(w, "invalid auth parameter", "unauthorized", http.StatusUnauthorized)
		return
	}

	day, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		h.fail(w, "invalid date parameter", "", http.StatusBadRequest)
		return
	}

	dateNumber := timeutil.DateNumber(day)
	currentDateNumber := timeutil.DateNumber(h.now())
	switch {
	case dateNumber == currentDateNumber:
		h.fail(w, "request for current date", "use /retrieve-hour for today's data", http.StatusNotFound)
		return
	case dateNumber > currentDateNumber:
		h.fail(w, "request for future data", "cannot request future data", http.StatusNotFound)
		return
	case dateNumber < currentDateNumber-uint32(h.cfg.RetentionDays):
		h.fail(w, "request for too-old data", "requested data no longer valid", http.StatusGone)
		return
	}

	startHour := timeutil.HourNumberAtStartOfDate(dateNumber)
	// a past day is a closed window, so the response is cacheable
	h.serveKeys(w, r, startHour, startHour+timeutil.HoursInDay, day, day.Add(24*time.Hour), true)
}

// HandleRetrieveHour serves the keys submitted during a single past hour of
// today or yesterday.
func (h *Handler) HandleRetrieveHour(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	hourParam := chi.URLParam(r, "hour")
	if !h.auth.AuthenticateHour(date, hourParam, chi.URLParam(r, "hmac")) {
		h.fail(w, "invalid auth parameter", "unauthorized", http.StatusUnauthorized)
		return
	}

	day, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		h.fail(w, "invalid date parameter", "", http.StatusBadRequest)
		return
	}
	hour, err := strconv.ParseUint(hourParam, 10, 32)
	if err != nil || hour > 23 {
		h.fail(w, "invalid hour number", "", http.StatusBadRequest)
		return
	}

	dateNumber := timeutil.DateNumber(day)
	currentDateNumber := timeutil.DateNumber(h.now())
	if dateNumber != currentDateNumber && dateNumber != currentDateNumber-1 {
		h.fail(w, "request outside hourly window", "use /retrieve-day for data not from today or yesterday", http.StatusNotFound)
		return
	}

	hourNumber := timeutil.HourNumberAtStartOfDate(dateNumber) + uint32(hour)
	if hourNumber >= timeutil.HourNumber(h.now()) {
		h.fail(w, "request for current hour", "cannot serve data for current hour for privacy reasons", http.StatusNotFound)
		return
	}

	start := day.Add(time.Duration(hour) * time.Hour)
	h.serveKeys(w, r, hourNumber, hourNumber+1, start, start.Add(time.Hour), false)
}

func (h *Handler) serveKeys(w http.ResponseWriter, r *http.Request, startHour, endHour uint32, start, end time.Time, cacheable bool) {
	keys, err := h.store.FetchKeysForHours(r.Context(), h.cfg.Region, startHour, endHour, timeutil.CurrentRollingStartIntervalNumber())
	if err != nil {
		h.fail(w, "database error", "", http.StatusInternalServerError)
		return
	}

	builder := export.NewBuilder(h.signer, export.MaxBatchBytes)
	files, err := builder.Build(h.cfg.Region, keys, start, end)
	if err != nil {
		h.fail(w, "error building export", "", http.StatusInternalServerError)
		return
	}

	serializer := export.DelimitedSerializer{}
	w.Header().Add("Content-Type", serializer.ContentType())
	if cacheable {
		w.Header().Add("Cache-Control", "public, max-age=3600, max-stale=600")
	}
	if err := serializer.Serialize(w, files); err != nil {
		h.log.Info("error writing response", "err", err)
		return
	}
	metrics.ExportsServed.WithLabelValues("delimited").Inc()
}

// periodWindow resolves the {day} path parameter into the retrieval window,
// writing the failure response itself when the parameter is rejected.
func (h *Handler) periodWindow(w http.ResponseWriter, day string) (start, end time.Time, startHour, endHour uint32, ok bool) {
	var dateNumber uint32

	if h.cfg.EnablePeriodBundle && day == "00000" {
		endDate := timeutil.DateNumber(h.now()) - 1
		startDate := endDate - uint32(h.cfg.RetentionDays)

		dateNumber = endDate
		start = time.Unix(int64(startDate)*timeutil.SecondsInDay, 0)
		end = time.Unix(int64(endDate+1)*timeutil.SecondsInDay, 0)
		startHour = timeutil.HourNumberAtStartOfDate(startDate)
		endHour = timeutil.HourNumberAtStartOfDate(endDate) + timeutil.HoursInDay
	} else {
		parsed, err := strconv.ParseUint(day, 10, 32)
		if err != nil {
			h.fail(w, "invalid day parameter", "", http.StatusBadRequest)
			return start, end, 0, 0, false
		}
		dateNumber = uint32(parsed)
		start = time.Unix(int64(dateNumber)*timeutil.SecondsInDay, 0)
		end = time.Unix(int64(dateNumber+1)*timeutil.SecondsInDay, 0)
		startHour = timeutil.HourNumberAtStartOfDate(dateNumber)
		endHour = startHour + timeutil.HoursInDay
	}

	currentDateNumber := timeutil.DateNumber(h.now())
	switch {
	case dateNumber == currentDateNumber:
		h.fail(w, "request for current date", "cannot serve data for current period for privacy reasons", http.StatusNotFound)
		return start, end, 0, 0, false
	case dateNumber > currentDateNumber:
		h.fail(w, "request for future data", "cannot request future data", http.StatusNotFound)
		return start, end, 0, 0, false
	case dateNumber < currentDateNumber-uint32(h.cfg.RetentionDays):
		h.fail(w, "request for too-old data", "requested data no longer valid", http.StatusGone)
		return start, end, 0, 0, false
	}
	return start, end, startHour, endHour, true
}

// HandleRetrievePeriod serves one day (or, with the period bundle enabled,
// the whole retention window) as the signed zip envelope.
func (h *Handler) HandleRetrievePeriod(w http.ResponseWriter, r *http.Request) {
	region := chi.URLParam(r, "region")
	day := chi.URLParam(r, "day")
	if region != h.cfg.Region || !h.auth.AuthenticatePeriod(h.cfg.Region, day, chi.URLParam(r, "auth")) {
		h.fail(w, "invalid auth parameter", "unauthorized", http.StatusUnauthorized)
		return
	}

	start, end, startHour, endHour, ok := h.periodWindow(w, day)
	if !ok {
		return
	}

	keys, err := h.store.FetchKeysForHours(r.Context(), h.cfg.Region, startHour, endHour, timeutil.CurrentRollingStartIntervalNumber())
	if err != nil {
		h.fail(w, "database error", "", http.StatusInternalServerError)
		return
	}

	files, err := export.NewBuilder(h.signer, 0).Build(h.cfg.Region, keys, start, end)
	if err != nil {
		h.fail(w, "error building export", "", http.StatusInternalServerError)
		return
	}

	serializer := export.ZipSerializer{}
	w.Header().Add("Content-Type", serializer.ContentType())
	w.Header().Add("Cache-Control", "public, max-age=3600, max-stale=600")
	if err := serializer.Serialize(w, files); err != nil {
		h.log.Info("error writing response", "err", err)
		return
	}

	metrics.ExportsServed.WithLabelValues("zip").Inc()
	h.log.Info("wrote retrieval", "keys", len(keys))
}

// HandleRetrieveOutbreaks serves the outbreak events recorded in one
// retrieval window as a signed zip bundle.
func (h *Handler) HandleRetrieveOutbreaks(w http.ResponseWriter, r *http.Request) {
	region := chi.URLParam(r, "region")
	day := chi.URLParam(r, "day")
	if region != h.cfg.Region || !h.auth.AuthenticatePeriod(h.cfg.Region, day, chi.URLParam(r, "auth")) {
		h.fail(w, "invalid auth parameter", "unauthorized", http.StatusUnauthorized)
		return
	}

	start, end, _, _, ok := h.periodWindow(w, day)
	if !ok {
		return
	}

	events, err := h.store.FetchOutbreakEvents(r.Context(), start, end)
	if err != nil {
		h.fail(w, "database error", "", http.StatusInternalServerError)
		return
	}

	w.Header().Add("Content-Type", "application/zip")
	w.Header().Add("Cache-Control", "public, max-age=3600, max-stale=600")
	if err := export.SerializeOutbreakEvents(w, h.signer, events, start, end); err != nil {
		h.log.Info("error writing response", "err", err)
		return
	}

	metrics.ExportsServed.WithLabelValues("outbreak").Inc()
	h.log.Info("wrote outbreak retrieval", "locations", len(events))
}

// HandleExposureConfig serves the static risk-scoring configuration.
func (h *Handler) HandleExposureConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "application/json")
	fmt.Fprint(w, exposureConfigJSON)
}
