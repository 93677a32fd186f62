package retrievehandler

import (
	"archive/zip"
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/exposafe/diagnosis-server/config"
	"github.com/exposafe/diagnosis-server/hmacauth"
	"github.com/exposafe/diagnosis-server/signing"
	"github.com/exposafe/diagnosis-server/store"
	"github.com/exposafe/diagnosis-server/timeutil"
	"github.com/exposafe/diagnosis-server/wire"
)

var testHmacKey = bytes.Repeat([]byte{0x24}, 32)

type retrieveFixture struct {
	router chi.Router
	db     *gorm.DB
	store  *store.Store
}

func newRetrieveFixture(t *testing.T, cfg config.Config) *retrieveFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	s := store.New(db, cfg)
	require.NoError(t, s.Migrate())

	auth, err := hmacauth.New(hex.EncodeToString(testHmacKey))
	require.NoError(t, err)

	keyHex, err := signing.GenerateKey()
	require.NoError(t, err)
	signer, err := signing.NewSigner(keyHex)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(s, auth, signer, cfg, log)
	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	return &retrieveFixture{router: router, db: db, store: s}
}

func sign(parts ...string) string {
	mac := hmac.New(sha256.New, testHmacKey)
	for i, p := range parts {
		if i > 0 {
			mac.Write([]byte(":"))
		}
		mac.Write([]byte(p))
	}
	mac.Write([]byte(":" + strconv.Itoa(int(timeutil.HourNumber(time.Now())))))
	return hex.EncodeToString(mac.Sum(nil))
}

// insertKeys plants n diagnosis keys submitted at the given hour number.
func (f *retrieveFixture) insertKeys(t *testing.T, hourOfSubmission uint32, n int) {
	t.Helper()
	rsin := timeutil.CurrentRollingStartIntervalNumber() - 144
	for i := 0; i < n; i++ {
		key := store.DiagnosisKey{
			Region:                     "302",
			Originator:                 "test-originator",
			KeyData:                    bytes.Repeat([]byte{byte(hourOfSubmission), byte(i + 1)}, 8),
			RollingStartIntervalNumber: rsin,
			RollingPeriod:              144,
			TransmissionRiskLevel:      4,
			HourOfSubmission:           hourOfSubmission,
		}
		require.NoError(t, f.db.Create(&key).Error)
	}
}

func (f *retrieveFixture) get(t *testing.T, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// parseDelimitedExport reads the first length-prefixed frame of a legacy
// retrieval stream.
func parseDelimitedExport(t *testing.T, body []byte) *wire.TemporaryExposureKeyExport {
	t.Helper()
	require.GreaterOrEqual(t, len(body), 4)
	n := binary.BigEndian.Uint32(body)
	require.GreaterOrEqual(t, len(body), int(4+n))

	var exp wire.TemporaryExposureKeyExport
	require.NoError(t, exp.Unmarshal(body[4:4+n]))
	return &exp
}

func parseZipExport(t *testing.T, body []byte) *wire.TemporaryExposureKeyExport {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "export.bin", zr.File[0].Name)
	assert.Equal(t, "export.sig", zr.File[1].Name)

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	bin, err := io.ReadAll(rc)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(bin), 16)
	assert.Equal(t, "EK Export v1    ", string(bin[:16]))

	var exp wire.TemporaryExposureKeyExport
	require.NoError(t, exp.Unmarshal(bin[16:]))
	return &exp
}

func yesterday() (date string, dateNumber uint32) {
	dateNumber = timeutil.DateNumber(time.Now()) - 1
	date = time.Unix(int64(dateNumber)*timeutil.SecondsInDay, 0).UTC().Format("2006-01-02")
	return date, dateNumber
}

func TestRetrieveDay(t *testing.T) {
	f := newRetrieveFixture(t, config.Default())
	date, dateNumber := yesterday()
	f.insertKeys(t, timeutil.HourNumberAtStartOfDate(dateNumber)+3, 2)

	rec := f.get(t, "/retrieve-day/"+date+"/"+sign(date))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-protobuf; delimited=true", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=3600, max-stale=600", rec.Header().Get("Cache-Control"))

	exp := parseDelimitedExport(t, rec.Body.Bytes())
	assert.Equal(t, "302", exp.Region)
	assert.Len(t, exp.Keys, 2)
}

func TestRetrieveDayRejections(t *testing.T) {
	f := newRetrieveFixture(t, config.Default())
	date, _ := yesterday()

	rec := f.get(t, "/retrieve-day/"+date+"/"+hex.EncodeToString(bytes.Repeat([]byte{0x01}, 32)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	today := time.Now().UTC().Format("2006-01-02")
	rec = f.get(t, "/retrieve-day/"+today+"/"+sign(today))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "use /retrieve-hour for today's data")

	future := time.Now().UTC().Add(48 * time.Hour).Format("2006-01-02")
	rec = f.get(t, "/retrieve-day/"+future+"/"+sign(future))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "cannot request future data")

	old := time.Now().UTC().Add(-20 * 24 * time.Hour).Format("2006-01-02")
	rec = f.get(t, "/retrieve-day/"+old+"/"+sign(old))
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Contains(t, rec.Body.String(), "requested data no longer valid")

	garbled := "9999-99-99"
	rec = f.get(t, "/retrieve-day/"+garbled+"/"+sign(garbled))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid date parameter")
}

func TestRetrieveHour(t *testing.T) {
	f := newRetrieveFixture(t, config.Default())
	date, dateNumber := yesterday()
	f.insertKeys(t, timeutil.HourNumberAtStartOfDate(dateNumber), 1)

	rec := f.get(t, "/retrieve-hour/"+date+"/0/"+sign(date, "0"))
	require.Equal(t, http.StatusOK, rec.Code)

	// hourly windows border live data and stay uncached
	assert.Empty(t, rec.Header().Get("Cache-Control"))

	exp := parseDelimitedExport(t, rec.Body.Bytes())
	assert.Len(t, exp.Keys, 1)
}

func TestRetrieveHourRejections(t *testing.T) {
	f := newRetrieveFixture(t, config.Default())
	date, _ := yesterday()

	rec := f.get(t, "/retrieve-hour/"+date+"/24/"+sign(date, "24"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid hour number")

	old := time.Now().UTC().Add(-72 * time.Hour).Format("2006-01-02")
	rec = f.get(t, "/retrieve-hour/"+old+"/0/"+sign(old, "0"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "use /retrieve-day for data not from today or yesterday")

	now := time.Now().UTC()
	today := now.Format("2006-01-02")
	hour := strconv.Itoa(now.Hour())
	rec = f.get(t, "/retrieve-hour/"+today+"/"+hour+"/"+sign(today, hour))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "cannot serve data for current hour for privacy reasons")
}

func TestRetrievePeriod(t *testing.T) {
	f := newRetrieveFixture(t, config.Default())
	_, dateNumber := yesterday()
	day := fmt.Sprintf("%05d", dateNumber)
	f.insertKeys(t, timeutil.HourNumberAtStartOfDate(dateNumber)+5, 3)

	rec := f.get(t, "/retrieve/302/"+day+"/"+sign("302", day))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=3600, max-stale=600", rec.Header().Get("Cache-Control"))

	exp := parseZipExport(t, rec.Body.Bytes())
	assert.Equal(t, "302", exp.Region)
	assert.Len(t, exp.Keys, 3)
	assert.Equal(t, int32(1), exp.BatchNum)
	assert.Equal(t, int32(1), exp.BatchSize)
}

func TestRetrievePeriodRejections(t *testing.T) {
	f := newRetrieveFixture(t, config.Default())
	_, dateNumber := yesterday()
	day := fmt.Sprintf("%05d", dateNumber)

	// region mismatch
	rec := f.get(t, "/retrieve/999/"+day+"/"+sign("999", day))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// bad auth
	rec = f.get(t, "/retrieve/302/"+day+"/"+hex.EncodeToString(bytes.Repeat([]byte{0x02}, 32)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// current day
	today := fmt.Sprintf("%05d", timeutil.DateNumber(time.Now()))
	rec = f.get(t, "/retrieve/302/"+today+"/"+sign("302", today))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "cannot serve data for current period for privacy reasons")

	// beyond retention
	old := fmt.Sprintf("%05d", timeutil.DateNumber(time.Now())-20)
	rec = f.get(t, "/retrieve/302/"+old+"/"+sign("302", old))
	assert.Equal(t, http.StatusGone, rec.Code)

	// period bundle requests need the feature enabled; 00000 parses as day zero
	rec = f.get(t, "/retrieve/302/00000/"+sign("302", "00000"))
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestRetrievePeriodBundle(t *testing.T) {
	cfg := config.Default()
	cfg.EnablePeriodBundle = true
	f := newRetrieveFixture(t, cfg)

	_, dateNumber := yesterday()
	f.insertKeys(t, timeutil.HourNumberAtStartOfDate(dateNumber)+1, 2)
	f.insertKeys(t, timeutil.HourNumberAtStartOfDate(dateNumber-3)+1, 1)

	rec := f.get(t, "/retrieve/302/00000/"+sign("302", "00000"))
	require.Equal(t, http.StatusOK, rec.Code)

	exp := parseZipExport(t, rec.Body.Bytes())
	assert.Len(t, exp.Keys, 3)
}

func TestRetrieveOutbreaks(t *testing.T) {
	f := newRetrieveFixture(t, config.Default())
	_, dateNumber := yesterday()
	day := fmt.Sprintf("%05d", dateNumber)

	created := time.Unix(int64(dateNumber)*timeutil.SecondsInDay, 0).UTC().Add(6 * time.Hour)
	event := store.OutbreakEvent{
		LocationID: "123e4567-e89b-12d3-a456-426614174000",
		Originator: "428",
		StartTime:  created.Add(-time.Hour),
		EndTime:    created,
		Severity:   3,
		Created:    created,
	}
	require.NoError(t, f.db.Create(&event).Error)

	rec := f.get(t, "/qr/302/"+day+"/"+sign("302", day))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	bin, err := io.ReadAll(rc)
	require.NoError(t, err)

	var exp wire.OutbreakEventExport
	require.NoError(t, exp.Unmarshal(bin))
	require.Len(t, exp.Locations, 1)
	assert.Equal(t, event.LocationID, exp.Locations[0].LocationID)
	assert.Equal(t, event.Severity, exp.Locations[0].Severity)
}

func TestExposureConfiguration(t *testing.T) {
	f := newRetrieveFixture(t, config.Default())

	rec := f.get(t, "/exposure-configuration/302.json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"minimumRiskScore":0`)
}
