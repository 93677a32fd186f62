package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/nacl/box"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/exposafe/diagnosis-server/timeutil"
)

const codeGenerationAttempts = 5

var oneTimeCodeSpace = big.NewInt(100_000_000)

func generateOneTimeCode() (string, error) {
	n, err := rand.Int(rand.Reader, oneTimeCodeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%08d", n), nil
}

// NewKeyClaim generates a fresh keypair bound to a new one-time code. When
// hashID names an existing unclaimed row its code is returned instead of
// issuing a second one; a claimed hashID is refused.
func (s *Store) NewKeyClaim(ctx context.Context, region, originator, hashID string) (string, error) {
	if hashID != "" {
		var existing EncryptionKeypair
		err := s.db.WithContext(ctx).Where("hash_id = ?", hashID).First(&existing).Error
		switch {
		case err == nil && existing.OneTimeCode != nil:
			return *existing.OneTimeCode, nil
		case err == nil:
			return "", ErrHashIDClaimed
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return "", err
		}
	}

	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt < codeGenerationAttempts; attempt++ {
		code, err := generateOneTimeCode()
		if err != nil {
			return "", err
		}

		kp := EncryptionKeypair{
			ServerPublicKey:  pub[:],
			ServerPrivateKey: priv[:],
			OneTimeCode:      &code,
			Region:           region,
			Originator:       originator,
			RemainingKeys:    uint32(s.cfg.InitialRemainingKeys),
			Created:          s.now().UTC(),
		}
		if hashID != "" {
			kp.HashID = &hashID
		}

		if err := s.db.WithContext(ctx).Create(&kp).Error; err != nil {
			// code collision: retry with a fresh one
			lastErr = err
			continue
		}

		if err := s.saveMetricEvent(ctx, originator, EventOTKGenerated, 1); err != nil {
			return "", err
		}
		return code, nil
	}
	return "", fmt.Errorf("store: could not generate unique code: %w", lastErr)
}

// ClaimKey redeems a one-time code, binding the client's public key to the
// keypair. The state transition is a single guarded update so concurrent
// claims of the same code succeed at most once.
func (s *Store) ClaimKey(ctx context.Context, oneTimeCode string, appPublicKey []byte) ([]byte, error) {
	if len(appPublicKey) != 32 {
		return nil, ErrInvalidKeyFormat
	}

	var serverPublicKey []byte
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		var inUse int64
		if err := tx.Model(&EncryptionKeypair{}).Where("app_public_key = ?", appPublicKey).Count(&inUse).Error; err != nil {
			return err
		}
		if inUse > 0 {
			return ErrDuplicateKey
		}

		cutoff := s.now().Add(-s.cfg.OneTimeCodeLifetime)
		var kp EncryptionKeypair
		if err := tx.Where("one_time_code = ? AND created > ?", oneTimeCode, cutoff).First(&kp).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidOneTimeCode
			}
			return err
		}

		res := tx.Model(&EncryptionKeypair{}).
			Where("id = ? AND one_time_code = ?", kp.ID, oneTimeCode).
			Updates(map[string]interface{}{
				"one_time_code":  nil,
				"app_public_key": appPublicKey,
				"created":        timeutil.MostRecentUTCMidnight(s.now()),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidOneTimeCode
		}

		serverPublicKey = kp.ServerPublicKey
		return s.saveMetricEventTx(tx, kp.Originator, EventOTKClaimed, 1)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrInvalidOneTimeCode) {
			return nil, err
		}
		// a concurrent claim can bind the app key between the pre-check and
		// the update; the unique index reports that as a generic error
		if exists, checkErr := s.KeypairExists(ctx, appPublicKey); checkErr == nil && exists {
			return nil, ErrDuplicateKey
		}
		return nil, err
	}
	return serverPublicKey, nil
}

// CheckClaimKeyBan reports how many claim attempts an origin has left and,
// when banned, how long the ban still runs.
func (s *Store) CheckClaimKeyBan(ctx context.Context, identifier string) (int, time.Duration, error) {
	var fa FailedClaimAttempt
	err := s.db.WithContext(ctx).Where("identifier = ?", identifier).First(&fa).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.cfg.MaxConsecutiveClaimFailures, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return s.banState(fa)
}

// ClaimKeyFailure records a failed attempt and returns the updated ban state.
// A failure after the ban window restarts the count at one. The counter is
// bumped by a single upsert so concurrent failures for one origin never lose
// an increment.
func (s *Store) ClaimKeyFailure(ctx context.Context, identifier string) (int, time.Duration, error) {
	now := s.now()
	windowStart := now.Add(-s.cfg.ClaimBanDuration)

	row := FailedClaimAttempt{Identifier: identifier, Failures: 1, LastFailure: now}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "identifier"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"failures":     gorm.Expr("CASE WHEN last_failure <= ? THEN 1 ELSE failures + 1 END", windowStart),
			"last_failure": now,
		}),
	}).Create(&row).Error
	if err != nil {
		return 0, 0, err
	}

	var fa FailedClaimAttempt
	if err := s.db.WithContext(ctx).Where("identifier = ?", identifier).First(&fa).Error; err != nil {
		return 0, 0, err
	}
	return s.banState(fa)
}

// ClaimKeySuccess clears the failure counter for an origin.
func (s *Store) ClaimKeySuccess(ctx context.Context, identifier string) error {
	return s.db.WithContext(ctx).Delete(&FailedClaimAttempt{}, "identifier = ?", identifier).Error
}

func (s *Store) banState(fa FailedClaimAttempt) (int, time.Duration, error) {
	if int(fa.Failures) >= s.cfg.MaxConsecutiveClaimFailures {
		banEnd := fa.LastFailure.Add(s.cfg.ClaimBanDuration)
		if remaining := banEnd.Sub(s.now()); remaining > 0 {
			return 0, remaining, nil
		}
		return s.cfg.MaxConsecutiveClaimFailures, 0, nil
	}
	return s.cfg.MaxConsecutiveClaimFailures - int(fa.Failures), 0, nil
}
