package location_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/kneadly/internal/booking/domain"
	"github.com/example/kneadly/internal/location"
)

func newRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client, mr
}

func TestProviderSnapshotRoundTrip(t *testing.T) {
	client, _ := newRedisClient(t)
	cache := location.NewCache(client)
	ctx := context.Background()
	providerID := uuid.New()

	_, ok, err := cache.GetProviderLocation(ctx, providerID)
	require.NoError(t, err)
	require.False(t, ok)

	point := domain.GeoPoint{Lat: 40.754912, Lng: -73.984183}
	require.NoError(t, cache.SetProviderLocation(ctx, providerID, point))

	snap, ok, err := cache.GetProviderLocation(ctx, providerID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, point, snap.Point)
	require.False(t, snap.UpdatedAt.IsZero())
}

func TestBookingSnapshotCarriesETA(t *testing.T) {
	client, _ := newRedisClient(t)
	cache := location.NewCache(client)
	ctx := context.Background()
	bookingID := uuid.New()

	point := domain.GeoPoint{Lat: 40.7074, Lng: -74.0113}
	require.NoError(t, cache.SetBookingLocation(ctx, bookingID, point, 17))

	snap, ok, err := cache.GetBookingLocation(ctx, bookingID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, point, snap.Point)
	require.Equal(t, 17, snap.ETAMinutes)
}

func TestWriteReplacesPriorSnapshot(t *testing.T) {
	client, _ := newRedisClient(t)
	cache := location.NewCache(client)
	ctx := context.Background()
	bookingID := uuid.New()

	require.NoError(t, cache.SetBookingLocation(ctx, bookingID, domain.GeoPoint{Lat: 1, Lng: 2}, 30))
	require.NoError(t, cache.SetBookingLocation(ctx, bookingID, domain.GeoPoint{Lat: 3, Lng: 4}, 8))

	snap, ok, err := cache.GetBookingLocation(ctx, bookingID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.GeoPoint{Lat: 3, Lng: 4}, snap.Point)
	require.Equal(t, 8, snap.ETAMinutes)
}

func TestSnapshotsExpireIndependently(t *testing.T) {
	client, mr := newRedisClient(t)
	cache := location.NewCache(client).WithTTLs(time.Minute, time.Hour)
	ctx := context.Background()
	providerID := uuid.New()
	bookingID := uuid.New()

	require.NoError(t, cache.SetProviderLocation(ctx, providerID, domain.GeoPoint{Lat: 1, Lng: 1}))
	require.NoError(t, cache.SetBookingLocation(ctx, bookingID, domain.GeoPoint{Lat: 2, Lng: 2}, 9))

	// Past the provider TTL but within the booking TTL.
	mr.FastForward(2 * time.Minute)

	_, ok, err := cache.GetProviderLocation(ctx, providerID)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = cache.GetBookingLocation(ctx, bookingID)
	require.NoError(t, err)
	require.True(t, ok)

	// Past the booking TTL: absence, not stale data.
	mr.FastForward(time.Hour)
	_, ok, err = cache.GetBookingLocation(ctx, bookingID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriteResetsTTL(t *testing.T) {
	client, mr := newRedisClient(t)
	cache := location.NewCache(client).WithTTLs(time.Minute, time.Hour)
	ctx := context.Background()
	providerID := uuid.New()

	require.NoError(t, cache.SetProviderLocation(ctx, providerID, domain.GeoPoint{Lat: 1, Lng: 1}))
	mr.FastForward(45 * time.Second)
	require.NoError(t, cache.SetProviderLocation(ctx, providerID, domain.GeoPoint{Lat: 1.1, Lng: 1.1}))
	mr.FastForward(45 * time.Second)

	snap, ok, err := cache.GetProviderLocation(ctx, providerID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.GeoPoint{Lat: 1.1, Lng: 1.1}, snap.Point)
}
