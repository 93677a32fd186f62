package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/exposafe/diagnosis-server/config"
	"github.com/exposafe/diagnosis-server/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	s := store.New(db, config.Default())
	require.NoError(t, s.Migrate())
	return s
}

func TestSweepOnEmptyStore(t *testing.T) {
	w := New(newTestStore(t), time.Second, slog.Default())
	w.Sweep(context.Background())
}

func TestRunStopsOnCancel(t *testing.T) {
	w := New(newTestStore(t), 10*time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		assert.Fail(t, "worker did not stop after cancellation")
	}
}
