package fanout

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

type captured struct {
	topic string
	event domain.Event
}

type stubBroadcaster struct {
	mu     sync.Mutex
	events []captured
	fail   bool
}

func (s *stubBroadcaster) Publish(_ context.Context, topic string, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broker down")
	}
	s.events = append(s.events, captured{topic: topic, event: event})
	return nil
}

func (s *stubBroadcaster) byType(t string) []captured {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []captured
	for _, c := range s.events {
		if c.event.Type == t {
			out = append(out, c)
		}
	}
	return out
}

func testBooking() domain.Booking {
	return domain.Booking{
		ID:          uuid.New(),
		Number:      "BK-000042",
		CustomerID:  uuid.New(),
		ProviderID:  uuid.New(),
		ServiceID:   uuid.New(),
		DurationMin: 60,
		ScheduledAt: time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC),
		Status:      domain.StatusPending,
	}
}

func TestCreationNotifiesProvider(t *testing.T) {
	broker := &stubBroadcaster{}
	store := repository.NewMemoryStore()
	f := New(broker, store, zap.NewNop())
	b := testBooking()

	f.BookingTransition(context.Background(), b, "")

	created := broker.byType(EventBookingNew)
	require.Len(t, created, 3) // booking topic + both user topics
	require.Equal(t, "booking."+b.ID.String(), created[0].topic)

	records, err := store.ListNotifications(context.Background(), b.ProviderID, false, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, NotifyBookingRequest, records[0].Type)
	require.False(t, records[0].Dispatched)

	none, err := store.ListNotifications(context.Background(), b.CustomerID, false, 10)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestAcceptedNotifiesCustomer(t *testing.T) {
	broker := &stubBroadcaster{}
	store := repository.NewMemoryStore()
	f := New(broker, store, zap.NewNop())
	b := testBooking()
	b.Status = domain.StatusAccepted

	f.BookingTransition(context.Background(), b, domain.StatusPending)

	records, err := store.ListNotifications(context.Background(), b.CustomerID, false, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, NotifyBookingAccepted, records[0].Type)
}

func TestCancelledNotifiesOtherParty(t *testing.T) {
	broker := &stubBroadcaster{}
	store := repository.NewMemoryStore()
	f := New(broker, store, zap.NewNop())

	b := testBooking()
	b.Status = domain.StatusCancelled
	b.CancelledBy = domain.RoleCustomer
	b.Reason = "plans changed"
	f.BookingTransition(context.Background(), b, domain.StatusAccepted)

	records, err := store.ListNotifications(context.Background(), b.ProviderID, false, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, NotifyBookingCancelled, records[0].Type)

	b2 := testBooking()
	b2.Status = domain.StatusCancelled
	b2.CancelledBy = domain.RoleProvider
	b2.Reason = "unavailable"
	f.BookingTransition(context.Background(), b2, domain.StatusAccepted)

	records, err = store.ListNotifications(context.Background(), b2.CustomerID, false, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestIntermediateTransitionsCreateNoNotification(t *testing.T) {
	broker := &stubBroadcaster{}
	store := repository.NewMemoryStore()
	f := New(broker, store, zap.NewNop())
	b := testBooking()
	b.Status = domain.StatusProviderEnRoute

	f.BookingTransition(context.Background(), b, domain.StatusAccepted)

	for _, id := range []uuid.UUID{b.CustomerID, b.ProviderID} {
		records, err := store.ListNotifications(context.Background(), id, false, 10)
		require.NoError(t, err)
		require.Empty(t, records)
	}
	require.Len(t, broker.byType(EventBookingUpdated), 3)
}

func TestLocationUpdateMasksCoordinates(t *testing.T) {
	broker := &stubBroadcaster{}
	f := New(broker, nil, zap.NewNop())
	bookingID := uuid.New()

	f.LocationUpdate(context.Background(), bookingID, domain.GeoPoint{Lat: 40.754912, Lng: -73.984183}, 12)

	events := broker.byType(EventProviderLocation)
	require.Len(t, events, 1)
	require.Equal(t, 40.755, events[0].event.Payload["lat"])
	require.Equal(t, -73.984, events[0].event.Payload["lng"])
	require.Equal(t, 12, events[0].event.Payload["eta_minutes"])
}

func TestBrokerFailureIsSwallowed(t *testing.T) {
	broker := &stubBroadcaster{fail: true}
	store := repository.NewMemoryStore()
	f := New(broker, store, zap.NewNop())
	b := testBooking()

	// Must not panic or block; the record is still written.
	f.BookingTransition(context.Background(), b, "")

	records, err := store.ListNotifications(context.Background(), b.ProviderID, false, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestChatMessagePublishesToBookingTopic(t *testing.T) {
	broker := &stubBroadcaster{}
	f := New(broker, nil, zap.NewNop())
	msg := domain.ChatMessage{
		ID:        uuid.New(),
		BookingID: uuid.New(),
		SenderID:  uuid.New(),
		Content:   "on my way",
		CreatedAt: time.Now().UTC(),
	}

	f.ChatMessage(context.Background(), msg)

	events := broker.byType(EventChatMessage)
	require.Len(t, events, 1)
	require.Equal(t, "booking."+msg.BookingID.String(), events[0].topic)
	require.Equal(t, "on my way", events[0].event.Payload["content"])
}

func TestChatMessageNotifiesRecipient(t *testing.T) {
	broker := &stubBroadcaster{}
	store := repository.NewMemoryStore()
	f := New(broker, store, zap.NewNop())
	msg := domain.ChatMessage{
		ID:          uuid.New(),
		BookingID:   uuid.New(),
		SenderID:    uuid.New(),
		RecipientID: uuid.New(),
		Content:     "running ten minutes late, sorry",
		CreatedAt:   time.Now().UTC(),
	}

	f.ChatMessage(context.Background(), msg)

	records, err := store.ListNotifications(context.Background(), msg.RecipientID, false, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, NotifyChatMessage, records[0].Type)
	require.Equal(t, msg.Content, records[0].Body)
	require.False(t, records[0].Dispatched)

	// The sender's inbox stays clean.
	none, err := store.ListNotifications(context.Background(), msg.SenderID, false, 10)
	require.NoError(t, err)
	require.Empty(t, none)

	// The push queue sees the record too.
	pending, err := store.ListUndispatched(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestChatMessageTruncatesLongPreview(t *testing.T) {
	broker := &stubBroadcaster{}
	store := repository.NewMemoryStore()
	f := New(broker, store, zap.NewNop())
	long := ""
	for i := 0; i < 30; i++ {
		long += "see you soon! "
	}
	msg := domain.ChatMessage{
		ID:          uuid.New(),
		BookingID:   uuid.New(),
		SenderID:    uuid.New(),
		RecipientID: uuid.New(),
		Content:     long,
		CreatedAt:   time.Now().UTC(),
	}

	f.ChatMessage(context.Background(), msg)

	records, err := store.ListNotifications(context.Background(), msg.RecipientID, false, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, records[0].Body, maxChatPreview)
	require.Equal(t, "...", records[0].Body[maxChatPreview-3:])
	// The topic event still carries the full message.
	events := broker.byType(EventChatMessage)
	require.Len(t, events, 1)
	require.Equal(t, long, events[0].event.Payload["content"])
}
