// Package fanout turns committed booking state changes into topic events and
// notification records. Delivery is at-most-once: a failed publish is counted
// and logged, never retried, and never surfaces to the transition that caused
// it.
package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/kneadly/internal/booking/domain"
)

// Event type names on the wire. Clients subscribe to `user.<id>` for their
// personal feed and `booking.<id>` while a booking is on screen.
const (
	EventBookingNew       = "booking:new"
	EventBookingUpdated   = "booking:updated"
	EventBookingCancelled = "booking:cancelled"
	EventChatMessage      = "chat:message"
	EventNotification     = "notification"
	EventProviderLocation = "location:provider"
)

// Notification types persisted for the in-app feed.
const (
	NotifyBookingRequest   = "BOOKING_REQUEST"
	NotifyBookingAccepted  = "BOOKING_ACCEPTED"
	NotifyBookingRejected  = "BOOKING_REJECTED"
	NotifyBookingCancelled = "BOOKING_CANCELLED"
	NotifyBookingCompleted = "BOOKING_COMPLETED"
	NotifyChatMessage      = "SYSTEM"
)

// maxChatPreview bounds the notification body for long messages.
const maxChatPreview = 100

// Fanout implements domain.EventSink. Notification records are persisted
// undispatched; the push worker is the only component that sends pushes.
type Fanout struct {
	broadcaster domain.Broadcaster
	store       domain.NotificationStore
	logger      *zap.Logger
}

// New builds a Fanout. A nil store disables notification records (tracking
// service runs this way).
func New(broadcaster domain.Broadcaster, store domain.NotificationStore, logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{broadcaster: broadcaster, store: store, logger: logger}
}

// BookingTransition publishes the state change to the booking topic and both
// parties' user topics, then records the notification the change warrants.
// previous is empty for a freshly created booking.
func (f *Fanout) BookingTransition(ctx context.Context, b domain.Booking, previous domain.BookingStatus) {
	eventType := EventBookingUpdated
	switch {
	case previous == "":
		eventType = EventBookingNew
	case b.Status == domain.StatusCancelled:
		eventType = EventBookingCancelled
	}

	event := domain.Event{
		Type:      eventType,
		BookingID: b.ID,
		Payload: map[string]any{
			"number":          b.Number,
			"status":          string(b.Status),
			"previous_status": string(previous),
			"scheduled_at":    b.ScheduledAt.UTC().Format(time.RFC3339),
		},
	}
	if b.Reason != "" {
		event.Payload["reason"] = b.Reason
	}

	f.publish(ctx, bookingTopic(b.ID), event)
	f.publish(ctx, userTopic(b.CustomerID), event)
	f.publish(ctx, userTopic(b.ProviderID), event)

	if recipient, kind, title, body, ok := notificationFor(b, previous); ok {
		f.notify(ctx, recipient, kind, title, body, map[string]any{
			"booking_id": b.ID.String(),
			"number":     b.Number,
		})
	}
}

// LocationUpdate broadcasts a masked position to the booking topic. Exact
// coordinates stay in the location cache.
func (f *Fanout) LocationUpdate(ctx context.Context, bookingID uuid.UUID, p domain.GeoPoint, etaMinutes int) {
	masked := p.Masked()
	f.publish(ctx, bookingTopic(bookingID), domain.Event{
		Type:      EventProviderLocation,
		BookingID: bookingID,
		Payload: map[string]any{
			"lat":         masked.Lat,
			"lng":         masked.Lng,
			"eta_minutes": etaMinutes,
		},
	})
}

// ChatMessage relays a message to the booking topic and records an inbox
// notification for the other party so the message reaches them even when the
// booking is off screen.
func (f *Fanout) ChatMessage(ctx context.Context, msg domain.ChatMessage) {
	f.publish(ctx, bookingTopic(msg.BookingID), domain.Event{
		Type:      EventChatMessage,
		BookingID: msg.BookingID,
		Payload: map[string]any{
			"id":         msg.ID.String(),
			"sender_id":  msg.SenderID.String(),
			"content":    msg.Content,
			"created_at": msg.CreatedAt.UTC().Format(time.RFC3339),
		},
	})

	if msg.RecipientID == uuid.Nil {
		return
	}
	f.notify(ctx, msg.RecipientID, NotifyChatMessage, "New message", chatPreview(msg.Content), map[string]any{
		"type":       "chat_message",
		"booking_id": msg.BookingID.String(),
		"sender_id":  msg.SenderID.String(),
	})
}

func chatPreview(content string) string {
	if len(content) <= maxChatPreview {
		return content
	}
	return content[:maxChatPreview-3] + "..."
}

func (f *Fanout) publish(ctx context.Context, topic string, event domain.Event) {
	if f.broadcaster == nil {
		return
	}
	if err := f.broadcaster.Publish(ctx, topic, event); err != nil {
		publishDropTotal.WithLabelValues(event.Type).Inc()
		f.logger.Warn("event dropped", zap.Error(err), zap.String("topic", topic), zap.String("type", event.Type))
		return
	}
	publishTotal.WithLabelValues(event.Type).Inc()
}

func (f *Fanout) notify(ctx context.Context, userID uuid.UUID, kind, title, body string, data map[string]any) {
	if f.store == nil {
		return
	}
	record := domain.NotificationRecord{
		UserID:    userID,
		Type:      kind,
		Title:     title,
		Body:      body,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	saved, err := f.store.CreateNotification(ctx, record)
	if err != nil {
		f.logger.Warn("notification record lost", zap.Error(err), zap.String("type", kind), zap.String("user_id", userID.String()))
		return
	}
	notificationTotal.WithLabelValues(kind).Inc()
	f.publish(ctx, userTopic(userID), domain.Event{
		Type: EventNotification,
		Payload: map[string]any{
			"id":    saved.ID.String(),
			"type":  kind,
			"title": title,
			"body":  body,
			"data":  data,
		},
	})
}

// notificationFor maps a transition to the party who should hear about it.
func notificationFor(b domain.Booking, previous domain.BookingStatus) (recipient uuid.UUID, kind, title, body string, ok bool) {
	switch {
	case previous == "" && b.Status == domain.StatusPending:
		return b.ProviderID, NotifyBookingRequest, "New booking request",
			fmt.Sprintf("Booking %s requested for %s.", b.Number, b.ScheduledAt.UTC().Format("Jan 2 15:04")), true
	case b.Status == domain.StatusAccepted:
		return b.CustomerID, NotifyBookingAccepted, "Booking accepted",
			fmt.Sprintf("Your booking %s was accepted.", b.Number), true
	case b.Status == domain.StatusRejected:
		return b.CustomerID, NotifyBookingRejected, "Booking declined",
			fmt.Sprintf("Your booking %s was declined: %s", b.Number, b.Reason), true
	case b.Status == domain.StatusCompleted:
		return b.CustomerID, NotifyBookingCompleted, "Booking completed",
			fmt.Sprintf("Booking %s is complete.", b.Number), true
	case b.Status == domain.StatusCancelled:
		other := b.ProviderID
		if b.CancelledBy == domain.RoleProvider {
			other = b.CustomerID
		}
		return other, NotifyBookingCancelled, "Booking cancelled",
			fmt.Sprintf("Booking %s was cancelled: %s", b.Number, b.Reason), true
	}
	return uuid.Nil, "", "", "", false
}

func bookingTopic(id uuid.UUID) string { return "booking." + id.String() }
func userTopic(id uuid.UUID) string    { return "user." + id.String() }
