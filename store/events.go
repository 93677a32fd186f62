package store

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const nonceBytes = 32

// NewEventNonce issues a random one-time nonce and persists it until the
// worker expires it.
func (s *Store) NewEventNonce(ctx context.Context) (string, error) {
	raw := make([]byte, nonceBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	nonce := base64.StdEncoding.EncodeToString(raw)

	row := EventNonce{Nonce: nonce, Created: s.now().UTC()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", err
	}
	return nonce, nil
}

// SaveMetricEvent increments the daily counter for one originator, event
// identifier and device type.
func (s *Store) SaveMetricEvent(ctx context.Context, originator, identifier, deviceType string, delta uint64) error {
	return s.saveMetric(s.db.WithContext(ctx), originator, identifier, deviceType, delta)
}

func (s *Store) saveMetricEvent(ctx context.Context, originator, identifier string, delta uint64) error {
	return s.saveMetric(s.db.WithContext(ctx), originator, identifier, DeviceTypeServer, delta)
}

func (s *Store) saveMetricEventTx(tx *gorm.DB, originator, identifier string, delta uint64) error {
	return s.saveMetric(tx, originator, identifier, DeviceTypeServer, delta)
}

func (s *Store) saveMetric(db *gorm.DB, originator, identifier, deviceType string, delta uint64) error {
	row := MetricEvent{
		Originator: originator,
		Identifier: identifier,
		DeviceType: deviceType,
		Date:       s.now().UTC().Format("2006-01-02"),
		Count:      delta,
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "originator"}, {Name: "identifier"}, {Name: "device_type"}, {Name: "date"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"count": gorm.Expr("count + ?", delta),
		}),
	}).Create(&row).Error
}

// MetricEventCount reads back one daily counter.
func (s *Store) MetricEventCount(ctx context.Context, originator, identifier, deviceType, date string) (uint64, error) {
	var row MetricEvent
	err := s.db.WithContext(ctx).
		Where("originator = ? AND identifier = ? AND device_type = ? AND date = ?", originator, identifier, deviceType, date).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Count, nil
}
