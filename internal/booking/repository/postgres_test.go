package repository_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/kneadly/internal/booking/domain"
	"github.com/example/kneadly/internal/booking/repository"
)

func startPostgres(t *testing.T, ctx context.Context) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	pg, err := postgrescontainer.Run(ctx, "postgres:16",
		postgrescontainer.WithDatabase("kneadly"),
		postgrescontainer.WithUsername("postgres"),
		postgrescontainer.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections")))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pg.Terminate(ctx))
	})

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newStore(t *testing.T, ctx context.Context) *repository.PostgresStore {
	t.Helper()
	store := repository.NewPostgresStore(startPostgres(t, ctx))
	require.NoError(t, store.Migrate(ctx))
	return store
}

func pendingBooking(providerID uuid.UUID, scheduledAt time.Time) domain.Booking {
	return domain.Booking{
		ID:          uuid.New(),
		CustomerID:  uuid.New(),
		ProviderID:  providerID,
		ServiceID:   uuid.New(),
		DurationMin: 60,
		AmountCents: 6000,
		ScheduledAt: scheduledAt,
		AddressText: "345 W 42nd St, New York",
		Location:    domain.GeoPoint{Lat: 40.758, Lng: -73.99},
		Status:      domain.StatusPending,
		CreatedAt:   time.Now().UTC(),
		Version:     1,
	}
}

func TestPostgresCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, ctx)
	providerID := uuid.New()
	at := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)

	created, err := store.CreateBooking(ctx, pendingBooking(providerID, at))
	require.NoError(t, err)
	require.Regexp(t, `^BK-\d{6}$`, created.Number)

	got, err := store.GetBookingByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.Number, got.Number)
	require.Equal(t, domain.StatusPending, got.Status)
	require.True(t, got.ScheduledAt.Equal(at))

	_, err = store.GetBookingByID(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresConcurrentCreatesSerialize(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, ctx)
	providerID := uuid.New()
	at := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)

	const attempts = 4
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.CreateBooking(ctx, pendingBooking(providerID, at))
		}(i)
	}
	wg.Wait()

	var successes int
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		var conflict *domain.ConflictError
		require.ErrorAs(t, err, &conflict)
		require.Equal(t, domain.ReasonScheduleConflict, conflict.Reason)
	}
	require.Equal(t, 1, successes)
}

func TestPostgresConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, ctx)
	at := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)

	created, err := store.CreateBooking(ctx, pendingBooking(uuid.New(), at))
	require.NoError(t, err)

	now := time.Now().UTC()
	accepted := created
	accepted.Status = domain.StatusAccepted
	accepted.AcceptedAt = &now
	updated, err := store.UpdateBookingStatus(ctx, accepted, domain.StatusPending)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAccepted, updated.Status)
	require.Greater(t, updated.Version, created.Version)

	// Stale precondition loses and learns the committed status.
	rejected := created
	rejected.Status = domain.StatusRejected
	rejected.Reason = "double submit"
	_, err = store.UpdateBookingStatus(ctx, rejected, domain.StatusPending)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, domain.ReasonStatusChanged, conflict.Reason)
	require.Equal(t, domain.StatusAccepted, conflict.Current)
}

func TestPostgresWindowQueries(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, ctx)
	providerID := uuid.New()
	at := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)

	created, err := store.CreateBooking(ctx, pendingBooking(providerID, at))
	require.NoError(t, err)

	overlapping, err := store.ActiveBookingsInWindow(ctx, providerID, at.Add(30*time.Minute), at.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, overlapping, 1)

	// Half-open: a window starting at the end does not overlap.
	overlapping, err = store.ActiveBookingsInWindow(ctx, providerID, at.Add(60*time.Minute), at.Add(120*time.Minute))
	require.NoError(t, err)
	require.Empty(t, overlapping)

	count, err := store.CountActiveBookingsOnDay(ctx, providerID, at.Truncate(24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// Cancelled bookings free the window.
	cancelled := created
	cancelled.Status = domain.StatusCancelled
	cancelled.Reason = "test"
	cancelled.CancelledBy = domain.RoleCustomer
	_, err = store.UpdateBookingStatus(ctx, cancelled, domain.StatusPending)
	require.NoError(t, err)

	overlapping, err = store.ActiveBookingsInWindow(ctx, providerID, at, at.Add(60*time.Minute))
	require.NoError(t, err)
	require.Empty(t, overlapping)
}

func TestPostgresBlockedDates(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, ctx)
	providerID := uuid.New()
	day := time.Now().UTC().Add(72 * time.Hour).Truncate(24 * time.Hour)

	created, err := store.CreateBlockedDate(ctx, domain.BlockedDate{
		ID:         uuid.New(),
		ProviderID: providerID,
		Date:       day,
		Reason:     "vacation",
		CreatedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)

	blocked, err := store.IsDateBlocked(ctx, providerID, day)
	require.NoError(t, err)
	require.True(t, blocked)

	// Unique index turns a duplicate into a date_blocked conflict.
	_, err = store.CreateBlockedDate(ctx, domain.BlockedDate{
		ID:         uuid.New(),
		ProviderID: providerID,
		Date:       day,
		CreatedAt:  time.Now().UTC(),
	})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, domain.ReasonDateBlocked, conflict.Reason)

	list, err := store.ListBlockedDates(ctx, providerID, time.Now().UTC().Truncate(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, store.DeleteBlockedDate(ctx, created.ID))
	blocked, err = store.IsDateBlocked(ctx, providerID, day)
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestPostgresNotifications(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, ctx)
	userID := uuid.New()

	first, err := store.CreateNotification(ctx, domain.NotificationRecord{
		UserID:    userID,
		Type:      "BOOKING_REQUEST",
		Title:     "New booking request",
		Body:      "Booking BK-000001 requested.",
		Data:      map[string]any{"booking_id": uuid.New().String()},
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	pending, err := store.ListUndispatched(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, store.MarkDispatched(ctx, []uuid.UUID{first.ID}))
	pending, err = store.ListUndispatched(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	records, err := store.ListNotifications(ctx, userID, true, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.NoError(t, store.MarkNotificationRead(ctx, userID, first.ID))
	records, err = store.ListNotifications(ctx, userID, true, 10)
	require.NoError(t, err)
	require.Empty(t, records)

	records, err = store.ListNotifications(ctx, userID, false, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.True(t, records[0].Read)
	require.NotNil(t, records[0].ReadAt)
}
