// Package expiry is the background worker that removes expired rows: spent
// and stale keypairs, diagnosis keys past retention, elapsed bans, old
// outbreak events and event nonces.
package expiry

import (
	"context"
	"log/slog"
	"time"

	"github.com/exposafe/diagnosis-server/metrics"
	"github.com/exposafe/diagnosis-server/store"
)

type Worker struct {
	store    *store.Store
	interval time.Duration
	log      *slog.Logger
}

func New(s *store.Store, interval time.Duration, log *slog.Logger) *Worker {
	return &Worker{store: s, interval: interval, log: log}
}

// Run sweeps once immediately, then on every tick until the context is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.Sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("expiration worker stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs every deletion step, logging and continuing when one fails.
func (w *Worker) Sweep(ctx context.Context) {
	steps := []struct {
		table string
		fn    func(context.Context) (int64, error)
	}{
		{"encryption_keypairs", w.store.DeleteOldEncryptionKeypairs},
		{"one_time_codes", w.store.DeleteUnclaimedOneTimeCodes},
		{"exhausted_keypairs", w.store.DeleteExhaustedKeypairs},
		{"diagnosis_keys", w.store.DeleteOldDiagnosisKeys},
		{"failed_claim_attempts", w.store.DeleteOldFailedClaimAttempts},
		{"outbreak_events", w.store.DeleteOldOutbreakEvents},
		{"event_nonces", w.store.DeleteOldEventNonces},
	}

	for _, step := range steps {
		n, err := step.fn(ctx)
		if err != nil {
			w.log.Error("expiration step failed", "table", step.table, "err", err)
			continue
		}
		if n > 0 {
			w.log.Info("expired rows", "table", step.table, "rows", n)
			metrics.RowsExpired.WithLabelValues(step.table).Add(float64(n))
		}
	}
}
