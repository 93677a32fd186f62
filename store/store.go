// Package store is the persistence layer: issued keypairs, diagnosis keys,
// claim-failure bans, outbreak events, event nonces and metric counters.
// Cross-row invariants (claim-exactly-once, quota decrement) are
// compare-and-swap updates checked through RowsAffected so they hold on both
// the postgres and sqlite dialects.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/exposafe/diagnosis-server/config"
)

var (
	ErrInvalidOneTimeCode = errors.New("store: no claimable code matches")
	ErrDuplicateKey       = errors.New("store: app public key already in use")
	ErrInvalidKeyFormat   = errors.New("store: key is not the expected length")
	ErrHashIDClaimed      = errors.New("store: hash id was already claimed")
	ErrInvalidKeypair     = errors.New("store: no valid keypair for key")
	ErrKeypairExhausted   = errors.New("store: keypair has no remaining keys")
	ErrTemporaryBan       = errors.New("store: origin is temporarily banned")
)

type Store struct {
	db  *gorm.DB
	cfg config.Config
	now func() time.Time
}

// Open connects to postgres and runs migrations.
func Open(dsn string, cfg config.Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	s := New(db, cfg)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// New wraps an existing gorm handle. Tests use this with an in-memory sqlite
// dialector.
func New(db *gorm.DB, cfg config.Config) *Store {
	return &Store{db: db, cfg: cfg, now: time.Now}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&EncryptionKeypair{},
		&DiagnosisKey{},
		&FailedClaimAttempt{},
		&OutbreakEvent{},
		&EventNonce{},
		&MetricEvent{},
	)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}
