package push

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/kneadly/internal/booking/domain"
	"github.com/example/kneadly/internal/booking/repository"
)

type recordingSender struct {
	mu       sync.Mutex
	sent     []uuid.UUID
	failures int
}

func (s *recordingSender) Push(_ context.Context, userID uuid.UUID, _, _ string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("transport unavailable")
	}
	s.sent = append(s.sent, userID)
	return nil
}

func seedNotification(t *testing.T, store *repository.MemoryStore, userID uuid.UUID) domain.NotificationRecord {
	t.Helper()
	rec, err := store.CreateNotification(context.Background(), domain.NotificationRecord{
		UserID:    userID,
		Type:      "BOOKING_REQUEST",
		Title:     "New booking request",
		Body:      "Booking BK-000001 requested.",
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return rec
}

func TestProcessOnceDispatchesAndMarks(t *testing.T) {
	store := repository.NewMemoryStore()
	sender := &recordingSender{}
	userID := uuid.New()
	seedNotification(t, store, userID)

	w := NewWorker(store, sender, zap.NewNop(), WorkerConfig{})
	require.NoError(t, w.ProcessOnce(context.Background()))

	require.Equal(t, []uuid.UUID{userID}, sender.sent)
	pending, err := store.ListUndispatched(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestProcessOnceRetriesTransientFailure(t *testing.T) {
	store := repository.NewMemoryStore()
	sender := &recordingSender{failures: 2}
	seedNotification(t, store, uuid.New())

	w := NewWorker(store, sender, zap.NewNop(), WorkerConfig{RetryMax: 3})
	require.NoError(t, w.ProcessOnce(context.Background()))

	require.Len(t, sender.sent, 1)
}

func TestExhaustedRetriesStillMarkDispatched(t *testing.T) {
	store := repository.NewMemoryStore()
	sender := &recordingSender{failures: 100}
	seedNotification(t, store, uuid.New())

	w := NewWorker(store, sender, zap.NewNop(), WorkerConfig{RetryMax: 2})
	require.NoError(t, w.ProcessOnce(context.Background()))

	// At-most-once: the record is not retried on the next poll.
	pending, err := store.ListUndispatched(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, pending)
	require.Empty(t, sender.sent)
}

func TestRunStopsOnCancel(t *testing.T) {
	store := repository.NewMemoryStore()
	sender := &recordingSender{}
	w := NewWorker(store, sender, zap.NewNop(), WorkerConfig{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
