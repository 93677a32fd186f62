package store

import (
	"context"
	"time"

	"github.com/exposafe/diagnosis-server/timeutil"
)

// FetchKeysForHours returns the diagnosis keys submitted for a region within
// [startHour, endHour). Keys whose rolling start is older than the retention
// window relative to currentRSIN are excluded, and results are ordered by key
// material so the output never leaks insertion order.
func (s *Store) FetchKeysForHours(ctx context.Context, region string, startHour, endHour uint32, currentRSIN int32) ([]DiagnosisKey, error) {
	minRSIN := timeutil.RollingStartIntervalNumberPlusDays(currentRSIN, -s.cfg.RetentionDays)

	var keys []DiagnosisKey
	err := s.db.WithContext(ctx).
		Where("region = ? AND hour_of_submission >= ? AND hour_of_submission < ? AND rolling_start_interval_number > ?",
			region, startHour, endHour, minRSIN).
		Order("key_data").
		Find(&keys).Error
	return keys, err
}

// FetchOutbreakEvents returns the outbreak events recorded within
// [start, end).
func (s *Store) FetchOutbreakEvents(ctx context.Context, start, end time.Time) ([]OutbreakEvent, error) {
	var events []OutbreakEvent
	err := s.db.WithContext(ctx).
		Where("created >= ? AND created < ?", start, end).
		Order("location_id").
		Find(&events).Error
	return events, err
}

// SaveOutbreakEvent persists a submitted outbreak event stamped with the
// current time.
func (s *Store) SaveOutbreakEvent(ctx context.Context, event *OutbreakEvent) error {
	event.Created = s.now().UTC()
	return s.db.WithContext(ctx).Create(event).Error
}
