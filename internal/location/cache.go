package location

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/kneadly/internal/booking/domain"
)

const (
	providerKeyPrefix = "location:provider:"
	bookingKeyPrefix  = "location:booking:"

	// DefaultProviderTTL covers the gap between heartbeats from an online
	// provider app.
	DefaultProviderTTL = 5 * time.Minute
	// DefaultBookingTTL covers a full service window plus buffer.
	DefaultBookingTTL = 2 * time.Hour
)

// Cache stores last-known coordinates in Redis hashes with TTL expiry.
// Provider- and booking-keyed snapshots are independent namespaces; every
// write fully replaces the prior snapshot and resets its TTL. A read past
// the TTL returns absence, never stale data.
type Cache struct {
	client      redis.Cmdable
	providerTTL time.Duration
	bookingTTL  time.Duration
}

// NewCache constructs the cache with default TTLs.
func NewCache(client redis.Cmdable) *Cache {
	return &Cache{client: client, providerTTL: DefaultProviderTTL, bookingTTL: DefaultBookingTTL}
}

// WithTTLs overrides the namespace TTLs; non-positive values keep defaults.
func (c *Cache) WithTTLs(provider, booking time.Duration) *Cache {
	if provider > 0 {
		c.providerTTL = provider
	}
	if booking > 0 {
		c.bookingTTL = booking
	}
	return c
}

// SetProviderLocation replaces the provider's snapshot.
func (c *Cache) SetProviderLocation(ctx context.Context, providerID uuid.UUID, p domain.GeoPoint) error {
	return c.write(ctx, providerKeyPrefix+providerID.String(), p, 0, c.providerTTL)
}

// GetProviderLocation reads the provider's snapshot; ok is false after expiry.
func (c *Cache) GetProviderLocation(ctx context.Context, providerID uuid.UUID) (domain.LocationSnapshot, bool, error) {
	return c.read(ctx, providerKeyPrefix+providerID.String())
}

// SetBookingLocation replaces the booking's snapshot, carrying the last
// computed ETA in minutes (zero means unknown).
func (c *Cache) SetBookingLocation(ctx context.Context, bookingID uuid.UUID, p domain.GeoPoint, etaMinutes int) error {
	return c.write(ctx, bookingKeyPrefix+bookingID.String(), p, etaMinutes, c.bookingTTL)
}

// GetBookingLocation reads the booking's snapshot; ok is false after expiry.
func (c *Cache) GetBookingLocation(ctx context.Context, bookingID uuid.UUID) (domain.LocationSnapshot, bool, error) {
	return c.read(ctx, bookingKeyPrefix+bookingID.String())
}

func (c *Cache) write(ctx context.Context, key string, p domain.GeoPoint, etaMinutes int, ttl time.Duration) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]any{
			"lat":        strconv.FormatFloat(p.Lat, 'f', -1, 64),
			"lng":        strconv.FormatFloat(p.Lng, 'f', -1, 64),
			"eta":        strconv.Itoa(etaMinutes),
			"updated_at": strconv.FormatInt(time.Now().UTC().UnixMilli(), 10),
		})
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis write %s: %w", key, err)
	}
	return nil
}

func (c *Cache) read(ctx context.Context, key string) (domain.LocationSnapshot, bool, error) {
	data, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.LocationSnapshot{}, false, fmt.Errorf("redis read %s: %w", key, err)
	}
	if len(data) == 0 || data["lat"] == "" {
		return domain.LocationSnapshot{}, false, nil
	}
	lat, err := strconv.ParseFloat(data["lat"], 64)
	if err != nil {
		return domain.LocationSnapshot{}, false, fmt.Errorf("corrupt snapshot %s: %w", key, err)
	}
	lng, err := strconv.ParseFloat(data["lng"], 64)
	if err != nil {
		return domain.LocationSnapshot{}, false, fmt.Errorf("corrupt snapshot %s: %w", key, err)
	}
	eta, _ := strconv.Atoi(data["eta"])
	updatedMs, _ := strconv.ParseInt(data["updated_at"], 10, 64)
	return domain.LocationSnapshot{
		Point:      domain.GeoPoint{Lat: lat, Lng: lng},
		ETAMinutes: eta,
		UpdatedAt:  time.UnixMilli(updatedMs).UTC(),
	}, true, nil
}
