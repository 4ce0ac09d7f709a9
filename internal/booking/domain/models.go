package domain

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
)

// Role identifies which side of a booking an actor is on.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleProvider Role = "PROVIDER"
)

type BookingStatus string

const (
	StatusPending         BookingStatus = "PENDING"
	StatusAccepted        BookingStatus = "ACCEPTED"
	StatusProviderEnRoute BookingStatus = "PROVIDER_EN_ROUTE"
	StatusProviderArrived BookingStatus = "PROVIDER_ARRIVED"
	StatusInProgress      BookingStatus = "IN_PROGRESS"
	StatusCompleted       BookingStatus = "COMPLETED"
	StatusRejected        BookingStatus = "REJECTED"
	StatusCancelled       BookingStatus = "CANCELLED"
)

// Terminal reports whether no further transition may leave the status.
func (s BookingStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// ActiveStatuses are the statuses that occupy a provider's calendar.
var ActiveStatuses = []BookingStatus{
	StatusPending,
	StatusAccepted,
	StatusProviderEnRoute,
	StatusProviderArrived,
	StatusInProgress,
}

// transitions maps current status -> requested status -> the role allowed to
// request it. Anything absent from the map is illegal regardless of actor.
var transitions = map[BookingStatus]map[BookingStatus]Role{
	StatusPending: {
		StatusAccepted:  RoleProvider,
		StatusRejected:  RoleProvider,
		StatusCancelled: RoleCustomer,
	},
	StatusAccepted: {
		StatusProviderEnRoute: RoleProvider,
		StatusCancelled:       RoleCustomer,
	},
	StatusProviderEnRoute: {StatusProviderArrived: RoleProvider},
	StatusProviderArrived: {StatusInProgress: RoleProvider},
	StatusInProgress:      {StatusCompleted: RoleProvider},
}

// advance is the provider's forward chain after acceptance.
var advance = map[BookingStatus]BookingStatus{
	StatusAccepted:        StatusProviderEnRoute,
	StatusProviderEnRoute: StatusProviderArrived,
	StatusProviderArrived: StatusInProgress,
	StatusInProgress:      StatusCompleted,
}

// Next returns the provider's next forward status, if any.
func (s BookingStatus) Next() (BookingStatus, bool) {
	next, ok := advance[s]
	return next, ok
}

// ValidateTransition checks the requested edge against the graph. A missing
// edge yields a TransitionError; an existing edge requested by the wrong role
// yields ErrForbidden, so clients can tell "wrong state" from "wrong actor".
func ValidateTransition(current, requested BookingStatus, role Role) error {
	edges, ok := transitions[current]
	if !ok {
		return &TransitionError{Current: current, Requested: requested}
	}
	required, ok := edges[requested]
	if !ok {
		return &TransitionError{Current: current, Requested: requested}
	}
	if required != role {
		return ErrForbidden
	}
	return nil
}

// Durations a service session may run for, in minutes.
var AllowedDurations = []int{60, 90, 120}

func DurationAllowed(minutes int) bool {
	for _, d := range AllowedDurations {
		if d == minutes {
			return true
		}
	}
	return false
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Masked reduces the point to ~100m granularity (three decimals) for
// broadcast, keeping exact positions private to the location cache.
func (p GeoPoint) Masked() GeoPoint {
	return GeoPoint{
		Lat: math.Round(p.Lat*1000) / 1000,
		Lng: math.Round(p.Lng*1000) / 1000,
	}
}

type Booking struct {
	ID     uuid.UUID
	Number string

	CustomerID uuid.UUID
	ProviderID uuid.UUID
	ServiceID  uuid.UUID

	DurationMin int
	AmountCents int64
	ScheduledAt time.Time

	AddressText string
	Location    GeoPoint
	Notes       string

	Status      BookingStatus
	Reason      string
	CancelledBy Role

	CreatedAt   time.Time
	AcceptedAt  *time.Time
	RejectedAt  *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time

	Version int64
}

// End is the exclusive end of the booking's occupied window.
func (b Booking) End() time.Time {
	return b.ScheduledAt.Add(time.Duration(b.DurationMin) * time.Minute)
}

// Overlaps applies the half-open interval test: a window ending exactly when
// another starts does not overlap.
func (b Booking) Overlaps(start, end time.Time) bool {
	return b.ScheduledAt.Before(end) && start.Before(b.End())
}

// BlockedDate is a provider-owned calendar exclusion at day granularity.
type BlockedDate struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	Date       time.Time
	Reason     string
	CreatedAt  time.Time
}

// LocationSnapshot is the ephemeral last-known position of a provider or an
// in-progress booking. Staleness beyond the cache TTL reads as absence.
type LocationSnapshot struct {
	Point      GeoPoint
	ETAMinutes int
	UpdatedAt  time.Time
}

type NotificationRecord struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Type       string
	Title      string
	Body       string
	Data       map[string]any
	Read       bool
	ReadAt     *time.Time
	Dispatched bool
	CreatedAt  time.Time
}

type ChatMessage struct {
	ID        uuid.UUID `json:"id"`
	BookingID uuid.UUID `json:"booking_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	// RecipientID is the other party on the booking; fan-out notifies them.
	RecipientID uuid.UUID `json:"-"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// Event is what fan-out publishes to a logical topic.
type Event struct {
	Type      string         `json:"type"`
	BookingID uuid.UUID      `json:"booking_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ETA is a travel estimate between two points. DurationInTrafficSeconds is
// zero when no traffic-aware figure was available.
type ETA struct {
	DistanceMeters           int64
	DurationSeconds          int64
	DurationInTrafficSeconds int64
}

// Minutes returns the preferred duration rounded up to whole minutes,
// favouring the traffic-adjusted figure when present.
func (e ETA) Minutes() int {
	sec := e.DurationSeconds
	if e.DurationInTrafficSeconds > 0 {
		sec = e.DurationInTrafficSeconds
	}
	return int((sec + 59) / 60)
}

type Repository interface {
	CreateBooking(ctx context.Context, b Booking) (Booking, error)
	GetBookingByID(ctx context.Context, id uuid.UUID) (Booking, error)
	// UpdateBookingStatus commits b only if the stored status still equals
	// expected; otherwise it fails with a status-changed conflict.
	UpdateBookingStatus(ctx context.Context, b Booking, expected BookingStatus) (Booking, error)
	ListBookingsForUser(ctx context.Context, userID uuid.UUID, role Role, limit, offset int) ([]Booking, error)
	ActiveBookingsInWindow(ctx context.Context, providerID uuid.UUID, start, end time.Time) ([]Booking, error)
	CountActiveBookingsOnDay(ctx context.Context, providerID uuid.UUID, day time.Time) (int, error)

	CreateBlockedDate(ctx context.Context, d BlockedDate) (BlockedDate, error)
	GetBlockedDate(ctx context.Context, id uuid.UUID) (BlockedDate, error)
	DeleteBlockedDate(ctx context.Context, id uuid.UUID) error
	ListBlockedDates(ctx context.Context, providerID uuid.UUID, from time.Time) ([]BlockedDate, error)
	IsDateBlocked(ctx context.Context, providerID uuid.UUID, day time.Time) (bool, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n NotificationRecord) (NotificationRecord, error)
	ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]NotificationRecord, error)
	MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) error
	MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) error
	ListUndispatched(ctx context.Context, limit int) ([]NotificationRecord, error)
	MarkDispatched(ctx context.Context, ids []uuid.UUID) error
}

// LocationStore holds ephemeral snapshots in two independent namespaces with
// their own TTLs. Reads return ok=false once the TTL has elapsed.
type LocationStore interface {
	SetProviderLocation(ctx context.Context, providerID uuid.UUID, p GeoPoint) error
	GetProviderLocation(ctx context.Context, providerID uuid.UUID) (LocationSnapshot, bool, error)
	SetBookingLocation(ctx context.Context, bookingID uuid.UUID, p GeoPoint, etaMinutes int) error
	GetBookingLocation(ctx context.Context, bookingID uuid.UUID) (LocationSnapshot, bool, error)
}

// Catalog is the external provider-services collaborator. Price fails with
// ErrServiceNotOffered when the provider does not offer the service at the
// given duration.
type Catalog interface {
	Price(ctx context.Context, providerID, serviceID uuid.UUID, durationMin int) (int64, error)
}

// Broadcaster is the injected publish-to-topic capability used by fan-out.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, event Event) error
}

// PushSender is the fire-and-forget push transport. Failures are logged by
// callers, never propagated.
type PushSender interface {
	Push(ctx context.Context, userID uuid.UUID, title, body string, data map[string]any) error
}

// EventSink receives committed state changes for fan-out. Implementations
// must never block the calling transition or surface errors to it.
type EventSink interface {
	BookingTransition(ctx context.Context, b Booking, previous BookingStatus)
	LocationUpdate(ctx context.Context, bookingID uuid.UUID, p GeoPoint, etaMinutes int)
	ChatMessage(ctx context.Context, msg ChatMessage)
}

type ETAEstimator interface {
	Estimate(ctx context.Context, origin, destination GeoPoint, departAt time.Time) ETA
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
