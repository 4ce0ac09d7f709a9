package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/kneadly/internal/booking/domain"
	"github.com/example/kneadly/internal/booking/schedule"
)

// Service is the booking orchestrator: it validates an actor's intent against
// the transition graph, commits the change with an optimistic precondition,
// and schedules fan-out after commit. A committed transition is never rolled
// back by a downstream broadcast or notification failure.
type Service struct {
	repo      domain.Repository
	checker   *schedule.Checker
	catalog   domain.Catalog
	locations domain.LocationStore
	eta       domain.ETAEstimator
	events    domain.EventSink
	clock     domain.Clock
	logger    *zap.Logger
}

// New constructs a Service with the required collaborators. events and
// locations may be nil in degraded deployments; eta must not be nil when
// location updates are enabled.
func New(repo domain.Repository, checker *schedule.Checker, catalog domain.Catalog, locations domain.LocationStore, eta domain.ETAEstimator, events domain.EventSink, clock domain.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		checker:   checker,
		catalog:   catalog,
		locations: locations,
		eta:       eta,
		events:    events,
		clock:     clock,
		logger:    logger,
	}
}

// CreateBookingRequest carries a customer's intent to book a provider.
type CreateBookingRequest struct {
	CustomerID  uuid.UUID
	ProviderID  uuid.UUID
	ServiceID   uuid.UUID
	DurationMin int
	ScheduledAt time.Time
	AddressText string
	Location    domain.GeoPoint
	Notes       string
}

// CreateBooking validates the request, runs the conflict check and inserts
// the booking in PENDING. The repository re-validates the schedule inside its
// own critical section, so a concurrent create for the same slot loses with a
// schedule conflict rather than double-booking the provider.
func (s *Service) CreateBooking(ctx context.Context, req CreateBookingRequest) (domain.Booking, error) {
	if req.CustomerID == uuid.Nil || req.ProviderID == uuid.Nil || req.ServiceID == uuid.Nil {
		return domain.Booking{}, domain.Validationf("customer, provider and service are required")
	}
	if !domain.DurationAllowed(req.DurationMin) {
		return domain.Booking{}, domain.Validationf("unsupported duration %d", req.DurationMin)
	}
	if !req.ScheduledAt.After(s.clock.Now()) {
		return domain.Booking{}, domain.Validationf("scheduled time must be in the future")
	}
	if strings.TrimSpace(req.AddressText) == "" {
		return domain.Booking{}, domain.Validationf("address is required")
	}
	if req.Location.Lat == 0 && req.Location.Lng == 0 {
		return domain.Booking{}, domain.Validationf("destination coordinates are required")
	}

	if err := s.checker.CanBook(ctx, req.ProviderID, req.ServiceID, req.ScheduledAt, req.DurationMin); err != nil {
		return domain.Booking{}, err
	}

	amount, err := s.catalog.Price(ctx, req.ProviderID, req.ServiceID, req.DurationMin)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("price booking: %w", err)
	}

	booking := domain.Booking{
		ID:          uuid.New(),
		CustomerID:  req.CustomerID,
		ProviderID:  req.ProviderID,
		ServiceID:   req.ServiceID,
		DurationMin: req.DurationMin,
		AmountCents: amount,
		ScheduledAt: req.ScheduledAt.UTC(),
		AddressText: req.AddressText,
		Location:    req.Location,
		Notes:       req.Notes,
		Status:      domain.StatusPending,
		CreatedAt:   s.clock.Now(),
		Version:     1,
	}

	created, err := s.repo.CreateBooking(ctx, booking)
	if err != nil {
		return domain.Booking{}, err
	}

	s.dispatch(ctx, created, "")
	return created, nil
}

// GetBooking returns the booking if the actor is one of its parties.
func (s *Service) GetBooking(ctx context.Context, bookingID, actorID uuid.UUID) (domain.Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if b.CustomerID != actorID && b.ProviderID != actorID {
		return domain.Booking{}, domain.ErrForbidden
	}
	return b, nil
}

// ListBookings returns the actor's bookings, newest first.
func (s *Service) ListBookings(ctx context.Context, actorID uuid.UUID, role domain.Role, limit, offset int) ([]domain.Booking, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListBookingsForUser(ctx, actorID, role, limit, offset)
}

// Accept transitions PENDING -> ACCEPTED for the assigned provider.
func (s *Service) Accept(ctx context.Context, bookingID, providerID uuid.UUID) (domain.Booking, error) {
	return s.transition(ctx, bookingID, providerID, domain.RoleProvider, domain.StatusAccepted, "")
}

// Reject transitions PENDING -> REJECTED; a reason is mandatory.
func (s *Service) Reject(ctx context.Context, bookingID, providerID uuid.UUID, reason string) (domain.Booking, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.Booking{}, domain.Validationf("rejection reason is required")
	}
	return s.transition(ctx, bookingID, providerID, domain.RoleProvider, domain.StatusRejected, reason)
}

// Cancel lets the customer cancel while PENDING or ACCEPTED; once the
// provider is en route the service is physically underway and cancellation is
// refused by the transition graph.
func (s *Service) Cancel(ctx context.Context, bookingID, customerID uuid.UUID, reason string) (domain.Booking, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.Booking{}, domain.Validationf("cancellation reason is required")
	}
	return s.transition(ctx, bookingID, customerID, domain.RoleCustomer, domain.StatusCancelled, reason)
}

// Advance moves the booking one step along the provider's forward chain
// (ACCEPTED -> EN_ROUTE -> ARRIVED -> IN_PROGRESS -> COMPLETED).
func (s *Service) Advance(ctx context.Context, bookingID, providerID uuid.UUID) (domain.Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	next, ok := b.Status.Next()
	if !ok {
		return domain.Booking{}, &domain.TransitionError{Current: b.Status, Requested: b.Status}
	}
	return s.transition(ctx, bookingID, providerID, domain.RoleProvider, next, "")
}

// transition re-reads the booking, validates the edge for the actor, and
// commits conditionally on the status it read. When two actors race, the
// first valid committer wins and the loser observes a status_changed
// conflict.
func (s *Service) transition(ctx context.Context, bookingID, actorID uuid.UUID, role domain.Role, requested domain.BookingStatus, reason string) (domain.Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}

	switch role {
	case domain.RoleProvider:
		if b.ProviderID != actorID {
			return domain.Booking{}, domain.ErrForbidden
		}
	case domain.RoleCustomer:
		if b.CustomerID != actorID {
			return domain.Booking{}, domain.ErrForbidden
		}
	default:
		return domain.Booking{}, domain.ErrForbidden
	}

	if err := domain.ValidateTransition(b.Status, requested, role); err != nil {
		return domain.Booking{}, err
	}

	previous := b.Status
	now := s.clock.Now()
	b.Status = requested
	switch requested {
	case domain.StatusAccepted:
		b.AcceptedAt = &now
	case domain.StatusRejected:
		b.RejectedAt = &now
		b.Reason = reason
	case domain.StatusCancelled:
		b.CancelledAt = &now
		b.Reason = reason
		b.CancelledBy = role
	case domain.StatusInProgress:
		b.StartedAt = &now
	case domain.StatusCompleted:
		b.CompletedAt = &now
	}

	updated, err := s.repo.UpdateBookingStatus(ctx, b, previous)
	if err != nil {
		return domain.Booking{}, err
	}

	s.dispatch(ctx, updated, previous)
	return updated, nil
}

// UpdateLocation records the provider's position during an active job,
// computes a fresh ETA to the booking destination and schedules the masked
// broadcast. Exact coordinates stay in the location cache only.
func (s *Service) UpdateLocation(ctx context.Context, bookingID, providerID uuid.UUID, p domain.GeoPoint) (domain.LocationSnapshot, error) {
	b, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return domain.LocationSnapshot{}, err
	}
	if b.ProviderID != providerID {
		return domain.LocationSnapshot{}, domain.ErrForbidden
	}
	if b.Status.Terminal() || b.Status == domain.StatusPending {
		return domain.LocationSnapshot{}, domain.Validationf("booking is not active")
	}
	if s.locations == nil {
		return domain.LocationSnapshot{}, fmt.Errorf("location tracking disabled")
	}

	minutes := 0
	if s.eta != nil {
		minutes = s.eta.Estimate(ctx, p, b.Location, s.clock.Now()).Minutes()
	}

	if err := s.locations.SetProviderLocation(ctx, b.ProviderID, p); err != nil {
		s.logger.Warn("provider location write failed", zap.Error(err), zap.String("provider_id", b.ProviderID.String()))
	}
	if err := s.locations.SetBookingLocation(ctx, b.ID, p, minutes); err != nil {
		return domain.LocationSnapshot{}, fmt.Errorf("store booking location: %w", err)
	}

	if s.events != nil {
		go s.events.LocationUpdate(context.WithoutCancel(ctx), b.ID, p, minutes)
	}

	return domain.LocationSnapshot{Point: p, ETAMinutes: minutes, UpdatedAt: s.clock.Now()}, nil
}

// BookingLocation returns the cached snapshot for a booking. The customer
// sees masked coordinates; the provider who wrote them sees them exact.
// A snapshot past its TTL reads as not found, never as stale data.
func (s *Service) BookingLocation(ctx context.Context, bookingID, actorID uuid.UUID) (domain.LocationSnapshot, error) {
	b, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return domain.LocationSnapshot{}, err
	}
	if b.CustomerID != actorID && b.ProviderID != actorID {
		return domain.LocationSnapshot{}, domain.ErrForbidden
	}
	if s.locations == nil {
		return domain.LocationSnapshot{}, domain.ErrNotFound
	}
	snap, ok, err := s.locations.GetBookingLocation(ctx, bookingID)
	if err != nil {
		return domain.LocationSnapshot{}, fmt.Errorf("read booking location: %w", err)
	}
	if !ok {
		return domain.LocationSnapshot{}, domain.ErrNotFound
	}
	if actorID != b.ProviderID {
		snap.Point = snap.Point.Masked()
	}
	return snap, nil
}

// SendChatMessage relays a message between the booking's parties through the
// shared channel. Chat is open only while the booking is active, from
// acceptance until the session ends.
func (s *Service) SendChatMessage(ctx context.Context, bookingID, senderID uuid.UUID, content string) (domain.ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return domain.ChatMessage{}, domain.Validationf("message content is required")
	}
	b, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if b.CustomerID != senderID && b.ProviderID != senderID {
		return domain.ChatMessage{}, domain.ErrForbidden
	}
	if b.Status.Terminal() || b.Status == domain.StatusPending {
		return domain.ChatMessage{}, domain.Validationf("booking is not active")
	}
	recipient := b.ProviderID
	if senderID == b.ProviderID {
		recipient = b.CustomerID
	}
	msg := domain.ChatMessage{
		ID:          uuid.New(),
		BookingID:   bookingID,
		SenderID:    senderID,
		RecipientID: recipient,
		Content:     content,
		CreatedAt:   s.clock.Now(),
	}
	if s.events != nil {
		go s.events.ChatMessage(context.WithoutCancel(ctx), msg)
	}
	return msg, nil
}

// dispatch hands the committed transition to fan-out on a detached context so
// a slow or failing broadcast can never affect the response.
func (s *Service) dispatch(ctx context.Context, b domain.Booking, previous domain.BookingStatus) {
	if s.events == nil {
		return
	}
	go s.events.BookingTransition(context.WithoutCancel(ctx), b, previous)
}
