package store

import (
	"context"
	"time"

	"github.com/exposafe/diagnosis-server/timeutil"
)

// DeleteOldEncryptionKeypairs removes claimed keypairs past their validity
// window.
func (s *Store) DeleteOldEncryptionKeypairs(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-time.Duration(s.cfg.KeypairValidityDays) * 24 * time.Hour)
	res := s.db.WithContext(ctx).
		Where("one_time_code IS NULL AND created < ?", cutoff).
		Delete(&EncryptionKeypair{})
	return res.RowsAffected, res.Error
}

// DeleteUnclaimedOneTimeCodes removes codes that were never redeemed within
// their lifetime.
func (s *Store) DeleteUnclaimedOneTimeCodes(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.OneTimeCodeLifetime)
	res := s.db.WithContext(ctx).
		Where("one_time_code IS NOT NULL AND created < ?", cutoff).
		Delete(&EncryptionKeypair{})
	if res.Error == nil && res.RowsAffected > 0 {
		if err := s.SaveMetricEvent(ctx, "", EventOTKExpired, DeviceTypeServer, uint64(res.RowsAffected)); err != nil {
			return res.RowsAffected, err
		}
	}
	return res.RowsAffected, res.Error
}

// DeleteExhaustedKeypairs removes claimed keypairs whose upload quota has
// reached zero.
func (s *Store) DeleteExhaustedKeypairs(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("one_time_code IS NULL AND remaining_keys = 0").
		Delete(&EncryptionKeypair{})
	return res.RowsAffected, res.Error
}

// DeleteOldDiagnosisKeys removes keys submitted before the retention
// horizon: one full day past the oldest servable window.
func (s *Store) DeleteOldDiagnosisKeys(ctx context.Context) (int64, error) {
	oldestDate := timeutil.DateNumber(s.now()) - uint32(s.cfg.RetentionDays+1)
	horizon := timeutil.HourNumberAtStartOfDate(oldestDate)
	res := s.db.WithContext(ctx).
		Where("hour_of_submission < ?", horizon).
		Delete(&DiagnosisKey{})
	return res.RowsAffected, res.Error
}

// DeleteOldFailedClaimAttempts removes ban rows whose window has elapsed.
func (s *Store) DeleteOldFailedClaimAttempts(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.ClaimBanDuration)
	res := s.db.WithContext(ctx).
		Where("last_failure < ?", cutoff).
		Delete(&FailedClaimAttempt{})
	return res.RowsAffected, res.Error
}

// DeleteOldOutbreakEvents removes outbreak events past retention.
func (s *Store) DeleteOldOutbreakEvents(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	res := s.db.WithContext(ctx).
		Where("created < ?", cutoff).
		Delete(&OutbreakEvent{})
	return res.RowsAffected, res.Error
}

// DeleteOldEventNonces removes nonces past their lifetime.
func (s *Store) DeleteOldEventNonces(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.NonceLifetime)
	res := s.db.WithContext(ctx).
		Where("created < ?", cutoff).
		Delete(&EventNonce{})
	return res.RowsAffected, res.Error
}
