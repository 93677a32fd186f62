package store

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/exposafe/diagnosis-server/config"
	"github.com/exposafe/diagnosis-server/timeutil"
	"github.com/exposafe/diagnosis-server/wire"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	s := New(db, config.Default())
	require.NoError(t, s.Migrate())
	return s
}

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func TestNewKeyClaimAndClaimKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	code, err := s.NewKeyClaim(ctx, "302", "test-originator", "")
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9]{8}$`, code)

	appKey := testKey(0x01)
	serverPub, err := s.ClaimKey(ctx, code, appKey)
	require.NoError(t, err)
	assert.Len(t, serverPub, 32)

	// a code claims exactly once
	_, err = s.ClaimKey(ctx, code, testKey(0x02))
	assert.ErrorIs(t, err, ErrInvalidOneTimeCode)

	// an app key binds to exactly one keypair
	code2, err := s.NewKeyClaim(ctx, "302", "test-originator", "")
	require.NoError(t, err)
	_, err = s.ClaimKey(ctx, code2, appKey)
	assert.ErrorIs(t, err, ErrDuplicateKey)

	_, err = s.ClaimKey(ctx, "00000000", testKey(0x03))
	assert.ErrorIs(t, err, ErrInvalidOneTimeCode)

	_, err = s.ClaimKey(ctx, code2, []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKeyFormat)
}

func TestClaimKeyNormalizesCreated(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Date(2020, 7, 10, 17, 45, 12, 0, time.UTC)
	s.now = func() time.Time { return now }

	code, err := s.NewKeyClaim(ctx, "302", "test-originator", "")
	require.NoError(t, err)
	serverPub, err := s.ClaimKey(ctx, code, testKey(0x01))
	require.NoError(t, err)

	var kp EncryptionKeypair
	require.NoError(t, s.db.Where("server_public_key = ?", serverPub).First(&kp).Error)
	assert.Equal(t, timeutil.MostRecentUTCMidnight(now).Unix(), kp.Created.Unix())
	assert.Nil(t, kp.OneTimeCode)
}

func TestClaimKeyExpiredCode(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	issued := time.Now().Add(-25 * time.Hour)
	s.now = func() time.Time { return issued }
	code, err := s.NewKeyClaim(ctx, "302", "test-originator", "")
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.ClaimKey(ctx, code, testKey(0x01))
	assert.ErrorIs(t, err, ErrInvalidOneTimeCode)
}

func TestNewKeyClaimHashID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	hashID := fmt.Sprintf("%0128x", 0xbeef)

	code, err := s.NewKeyClaim(ctx, "302", "test-originator", hashID)
	require.NoError(t, err)

	// unclaimed hash id returns the same code instead of issuing a new one
	again, err := s.NewKeyClaim(ctx, "302", "test-originator", hashID)
	require.NoError(t, err)
	assert.Equal(t, code, again)

	_, err = s.ClaimKey(ctx, code, testKey(0x01))
	require.NoError(t, err)

	_, err = s.NewKeyClaim(ctx, "302", "test-originator", hashID)
	assert.ErrorIs(t, err, ErrHashIDClaimed)
}

func TestClaimKeyBan(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	identifier := "198.51.100.7"

	tries, banned, err := s.CheckClaimKeyBan(ctx, identifier)
	require.NoError(t, err)
	assert.Equal(t, s.cfg.MaxConsecutiveClaimFailures, tries)
	assert.Zero(t, banned)

	for i := 1; i < s.cfg.MaxConsecutiveClaimFailures; i++ {
		tries, banned, err = s.ClaimKeyFailure(ctx, identifier)
		require.NoError(t, err)
		assert.Equal(t, s.cfg.MaxConsecutiveClaimFailures-i, tries)
		assert.Zero(t, banned)
	}

	tries, banned, err = s.ClaimKeyFailure(ctx, identifier)
	require.NoError(t, err)
	assert.Zero(t, tries)
	assert.Greater(t, banned, time.Duration(0))

	// ban expires by wall clock
	s.now = func() time.Time { return time.Now().Add(s.cfg.ClaimBanDuration + time.Minute) }
	tries, banned, err = s.CheckClaimKeyBan(ctx, identifier)
	require.NoError(t, err)
	assert.Equal(t, s.cfg.MaxConsecutiveClaimFailures, tries)
	assert.Zero(t, banned)

	// and the next failure restarts the count
	tries, _, err = s.ClaimKeyFailure(ctx, identifier)
	require.NoError(t, err)
	assert.Equal(t, s.cfg.MaxConsecutiveClaimFailures-1, tries)

	s.now = time.Now
	require.NoError(t, s.ClaimKeySuccess(ctx, identifier))
	tries, _, err = s.CheckClaimKeyBan(ctx, identifier)
	require.NoError(t, err)
	assert.Equal(t, s.cfg.MaxConsecutiveClaimFailures, tries)
}

func claimedKeypair(t *testing.T, s *Store, appKey []byte) []byte {
	t.Helper()
	code, err := s.NewKeyClaim(context.Background(), "302", "test-originator", "")
	require.NoError(t, err)
	serverPub, err := s.ClaimKey(context.Background(), code, appKey)
	require.NoError(t, err)
	return serverPub
}

func uploadKeys(n int, first byte) []*wire.TemporaryExposureKey {
	rsin := timeutil.CurrentRollingStartIntervalNumber()
	keys := make([]*wire.TemporaryExposureKey, n)
	for i := range keys {
		keys[i] = &wire.TemporaryExposureKey{
			KeyData:                    bytes.Repeat([]byte{first + byte(i)}, 16),
			RollingStartIntervalNumber: timeutil.RollingStartIntervalNumberPlusDays(rsin, -i),
			RollingPeriod:              144,
			TransmissionRiskLevel:      3,
		}
	}
	return keys
}

func TestPrivForPub(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	serverPub := claimedKeypair(t, s, testKey(0x01))
	priv, err := s.PrivForPub(ctx, serverPub)
	require.NoError(t, err)
	assert.Len(t, priv, 32)

	_, err = s.PrivForPub(ctx, testKey(0x7f))
	assert.ErrorIs(t, err, ErrInvalidKeypair)

	_, err = s.PrivForPub(ctx, []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKeyFormat)

	// outside the validity window the keypair no longer resolves
	s.now = func() time.Time {
		return time.Now().Add(time.Duration(s.cfg.KeypairValidityDays)*24*time.Hour + 25*time.Hour)
	}
	_, err = s.PrivForPub(ctx, serverPub)
	assert.ErrorIs(t, err, ErrInvalidKeypair)
}

func TestStoreKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	appKey := testKey(0x01)
	claimedKeypair(t, s, appKey)

	keys := uploadKeys(3, 0x10)
	require.NoError(t, s.StoreKeys(ctx, appKey, keys))

	var count int64
	require.NoError(t, s.db.Model(&DiagnosisKey{}).Count(&count).Error)
	assert.EqualValues(t, 3, count)

	// re-uploading the same keys succeeds without consuming quota
	require.NoError(t, s.StoreKeys(ctx, appKey, keys))
	var kp EncryptionKeypair
	require.NoError(t, s.db.Where("app_public_key = ?", appKey).First(&kp).Error)
	assert.EqualValues(t, s.cfg.InitialRemainingKeys-3, kp.RemainingKeys)

	assert.ErrorIs(t, s.StoreKeys(ctx, testKey(0x02), keys), ErrInvalidKeypair)
}

func TestStoreKeysExhaustsQuota(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	appKey := testKey(0x01)
	claimedKeypair(t, s, appKey)

	require.NoError(t, s.StoreKeys(ctx, appKey, uploadKeys(s.cfg.InitialRemainingKeys, 0x10)))
	err := s.StoreKeys(ctx, appKey, uploadKeys(1, 0x80))
	assert.ErrorIs(t, err, ErrKeypairExhausted)
}

func TestFetchKeysForHours(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	appKey := testKey(0x01)
	claimedKeypair(t, s, appKey)
	require.NoError(t, s.StoreKeys(ctx, appKey, uploadKeys(3, 0x30)))

	hour := timeutil.HourNumber(time.Now())
	rsin := timeutil.CurrentRollingStartIntervalNumber()

	keys, err := s.FetchKeysForHours(ctx, "302", hour, hour+1, rsin)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	for i := 1; i < len(keys); i++ {
		assert.True(t, bytes.Compare(keys[i-1].KeyData, keys[i].KeyData) < 0,
			"results ordered by key material")
	}

	keys, err = s.FetchKeysForHours(ctx, "204", hour, hour+1, rsin)
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = s.FetchKeysForHours(ctx, "302", hour+1, hour+2, rsin)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestOutbreakEvents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ev := &OutbreakEvent{
		LocationID: "123456789012345678901234567890123456",
		Originator: "test-originator",
		StartTime:  time.Now().Add(-2 * time.Hour),
		EndTime:    time.Now().Add(-time.Hour),
		Severity:   2,
	}
	require.NoError(t, s.SaveOutbreakEvent(ctx, ev))
	assert.False(t, ev.Created.IsZero())

	events, err := s.FetchOutbreakEvents(ctx, time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev.LocationID, events[0].LocationID)

	events, err = s.FetchOutbreakEvents(ctx, time.Now().Add(time.Hour), time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventNonces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	nonce, err := s.NewEventNonce(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, nonce)

	other, err := s.NewEventNonce(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, nonce, other)
}

func TestMetricEvents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveMetricEvent(ctx, "test-originator", EventOTKClaimed, DeviceTypeServer, 1))
	require.NoError(t, s.SaveMetricEvent(ctx, "test-originator", EventOTKClaimed, DeviceTypeServer, 2))

	date := time.Now().UTC().Format("2006-01-02")
	count, err := s.MetricEventCount(ctx, "test-originator", EventOTKClaimed, DeviceTypeServer, date)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	count, err = s.MetricEventCount(ctx, "test-originator", EventOTKExpired, DeviceTypeServer, date)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestExpirySweeps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	past := time.Now().Add(-30 * 24 * time.Hour)
	s.now = func() time.Time { return past }

	_, err := s.NewKeyClaim(ctx, "302", "test-originator", "")
	require.NoError(t, err)

	claimedCode, err := s.NewKeyClaim(ctx, "302", "test-originator", "")
	require.NoError(t, err)
	_, err = s.ClaimKey(ctx, claimedCode, testKey(0x01))
	require.NoError(t, err)
	require.NoError(t, s.StoreKeys(ctx, testKey(0x01), uploadKeys(2, 0x10)))

	_, _, err = s.ClaimKeyFailure(ctx, "198.51.100.7")
	require.NoError(t, err)
	_, err = s.NewEventNonce(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SaveOutbreakEvent(ctx, &OutbreakEvent{
		LocationID: "123456789012345678901234567890123456",
		StartTime:  past.Add(-2 * time.Hour),
		EndTime:    past.Add(-time.Hour),
		Severity:   1,
	}))

	s.now = time.Now

	n, err := s.DeleteUnclaimedOneTimeCodes(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.DeleteOldEncryptionKeypairs(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.DeleteOldDiagnosisKeys(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = s.DeleteOldFailedClaimAttempts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.DeleteOldOutbreakEvents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.DeleteOldEventNonces(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestDeleteExhaustedKeypairs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	appKey := testKey(0x01)
	claimedKeypair(t, s, appKey)
	require.NoError(t, s.StoreKeys(ctx, appKey, uploadKeys(s.cfg.InitialRemainingKeys, 0x10)))

	n, err := s.DeleteExhaustedKeypairs(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestClaimKeyFailureConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	identifier := "203.0.113.9"

	sqlDB, err := s.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.MaxConsecutiveClaimFailures; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.ClaimKeyFailure(ctx, identifier)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// no increment is lost and the origin ends up banned
	tries, banned, err := s.CheckClaimKeyBan(ctx, identifier)
	require.NoError(t, err)
	assert.Zero(t, tries)
	assert.Greater(t, banned, time.Duration(0))
}

func TestClaimKeyConcurrentSameAppKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sqlDB, err := s.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	code1, err := s.NewKeyClaim(ctx, "302", "test-originator", "")
	require.NoError(t, err)
	code2, err := s.NewKeyClaim(ctx, "302", "test-originator", "")
	require.NoError(t, err)

	appKey := testKey(0x21)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, code := range []string{code1, code2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.ClaimKey(ctx, code, appKey)
		}()
	}
	wg.Wait()

	// exactly one claim wins; the loser sees the duplicate-key error, never
	// a generic failure
	var dups int
	for _, err := range errs {
		if err == nil {
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicateKey)
		dups++
	}
	assert.Equal(t, 1, dups)
}
