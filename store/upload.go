package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/exposafe/diagnosis-server/timeutil"
	"github.com/exposafe/diagnosis-server/wire"
)

// PrivForPub resolves the server private key for an issued public key, as
// long as the keypair is still inside its validity window.
func (s *Store) PrivForPub(ctx context.Context, serverPublicKey []byte) ([]byte, error) {
	if len(serverPublicKey) != wire.KeyLength {
		return nil, ErrInvalidKeyFormat
	}

	cutoff := s.now().Add(-time.Duration(s.cfg.KeypairValidityDays) * 24 * time.Hour)
	var kp EncryptionKeypair
	err := s.db.WithContext(ctx).
		Where("server_public_key = ? AND created > ?", serverPublicKey, cutoff).
		First(&kp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidKeypair
	}
	if err != nil {
		return nil, err
	}
	return kp.ServerPrivateKey, nil
}

// KeypairExists reports whether an app public key is bound to any keypair.
func (s *Store) KeypairExists(ctx context.Context, appPublicKey []byte) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&EncryptionKeypair{}).
		Where("app_public_key = ?", appPublicKey).
		Count(&count).Error
	return count > 0, err
}

// StoreKeys persists an upload batch in one transaction: duplicate keys are
// ignored, and the keypair's quota is decremented by the rows actually
// inserted through a guarded update.
func (s *Store) StoreKeys(ctx context.Context, appPublicKey []byte, keys []*wire.TemporaryExposureKey) error {
	hourOfSubmission := timeutil.HourNumber(s.now())

	return s.withTx(ctx, func(tx *gorm.DB) error {
		var kp EncryptionKeypair
		err := tx.Where("app_public_key = ?", appPublicKey).First(&kp).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidKeypair
		}
		if err != nil {
			return err
		}

		if kp.RemainingKeys == 0 || uint32(len(keys)) > kp.RemainingKeys {
			if err := s.saveMetricEventTx(tx, kp.Originator, EventOTKExhausted, 1); err != nil {
				return err
			}
			return ErrKeypairExhausted
		}

		rows := make([]DiagnosisKey, 0, len(keys))
		for _, key := range keys {
			rows = append(rows, DiagnosisKey{
				Region:                     kp.Region,
				Originator:                 kp.Originator,
				KeyData:                    key.KeyData,
				RollingStartIntervalNumber: key.RollingStartIntervalNumber,
				RollingPeriod:              key.RollingPeriod,
				TransmissionRiskLevel:      key.TransmissionRiskLevel,
				HourOfSubmission:           hourOfSubmission,
			})
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
		if res.Error != nil {
			return res.Error
		}
		inserted := uint32(res.RowsAffected)
		if inserted == 0 {
			return nil
		}

		cas := tx.Model(&EncryptionKeypair{}).
			Where("id = ? AND remaining_keys >= ?", kp.ID, inserted).
			Update("remaining_keys", gorm.Expr("remaining_keys - ?", inserted))
		if cas.Error != nil {
			return cas.Error
		}
		if cas.RowsAffected == 0 {
			return ErrKeypairExhausted
		}

		return s.saveMetricEventTx(tx, kp.Originator, EventKeysUploaded, uint64(inserted))
	})
}
