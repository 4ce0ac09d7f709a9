package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/kneadly/internal/booking/domain"
)

// MemoryStore implements domain.Repository and domain.NotificationStore in
// memory, suitable for tests and local demos. Its mutex doubles as the
// serialization point that closes the check-then-insert race for concurrent
// creates against the same provider.
type MemoryStore struct {
	mu            sync.RWMutex
	bookings      map[uuid.UUID]domain.Booking
	blocked       map[uuid.UUID]domain.BlockedDate
	notifications map[uuid.UUID]domain.NotificationRecord
	seq           int64
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:      make(map[uuid.UUID]domain.Booking),
		blocked:       make(map[uuid.UUID]domain.BlockedDate),
		notifications: make(map[uuid.UUID]domain.NotificationRecord),
	}
}

// CreateBooking assigns the display number and inserts the booking. The
// schedule is re-validated under the lock so two racing creates for the same
// slot cannot both commit.
func (m *MemoryStore) CreateBooking(_ context.Context, b domain.Booking) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.bookings {
		if existing.ProviderID == b.ProviderID && !existing.Status.Terminal() && existing.Overlaps(b.ScheduledAt, b.End()) {
			return domain.Booking{}, &domain.ConflictError{
				Reason: domain.ReasonScheduleConflict,
				Detail: fmt.Sprintf("overlaps booking %s", existing.Number),
			}
		}
	}

	m.seq++
	b.Number = fmt.Sprintf("BK-%06d", m.seq)
	m.bookings[b.ID] = b
	return b, nil
}

// GetBookingByID retrieves a booking.
func (m *MemoryStore) GetBookingByID(_ context.Context, id uuid.UUID) (domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return b, nil
}

// UpdateBookingStatus commits the new status only while the stored status
// still equals expected; the loser of a race observes a status_changed
// conflict carrying the committed status.
func (m *MemoryStore) UpdateBookingStatus(_ context.Context, b domain.Booking, expected domain.BookingStatus) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.bookings[b.ID]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	if existing.Status != expected {
		return domain.Booking{}, &domain.ConflictError{Reason: domain.ReasonStatusChanged, Current: existing.Status}
	}
	b.Version = existing.Version + 1
	m.bookings[b.ID] = b
	return b, nil
}

// ListBookingsForUser returns the actor's bookings newest first.
func (m *MemoryStore) ListBookingsForUser(_ context.Context, userID uuid.UUID, role domain.Role, limit, offset int) ([]domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Booking
	for _, b := range m.bookings {
		if (role == domain.RoleCustomer && b.CustomerID == userID) || (role == domain.RoleProvider && b.ProviderID == userID) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ActiveBookingsInWindow returns non-terminal bookings overlapping the
// half-open window [start, end).
func (m *MemoryStore) ActiveBookingsInWindow(_ context.Context, providerID uuid.UUID, start, end time.Time) ([]domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Booking
	for _, b := range m.bookings {
		if b.ProviderID == providerID && !b.Status.Terminal() && b.Overlaps(start, end) {
			out = append(out, b)
		}
	}
	return out, nil
}

// CountActiveBookingsOnDay counts non-terminal bookings scheduled on the UTC day.
func (m *MemoryStore) CountActiveBookingsOnDay(_ context.Context, providerID uuid.UUID, day time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	next := day.Add(24 * time.Hour)
	count := 0
	for _, b := range m.bookings {
		if b.ProviderID == providerID && !b.Status.Terminal() &&
			!b.ScheduledAt.Before(day) && b.ScheduledAt.Before(next) {
			count++
		}
	}
	return count, nil
}

// CreateBlockedDate inserts the exclusion, refusing duplicates per provider+day.
func (m *MemoryStore) CreateBlockedDate(_ context.Context, d domain.BlockedDate) (domain.BlockedDate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.blocked {
		if existing.ProviderID == d.ProviderID && existing.Date.Equal(d.Date) {
			return domain.BlockedDate{}, &domain.ConflictError{Reason: domain.ReasonDateBlocked, Detail: "date already blocked"}
		}
	}
	m.blocked[d.ID] = d
	return d, nil
}

// GetBlockedDate retrieves a blocked date.
func (m *MemoryStore) GetBlockedDate(_ context.Context, id uuid.UUID) (domain.BlockedDate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.blocked[id]
	if !ok {
		return domain.BlockedDate{}, domain.ErrNotFound
	}
	return d, nil
}

// DeleteBlockedDate removes a blocked date.
func (m *MemoryStore) DeleteBlockedDate(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocked[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.blocked, id)
	return nil
}

// ListBlockedDates returns the provider's blocked dates from the given day
// onward, ascending.
func (m *MemoryStore) ListBlockedDates(_ context.Context, providerID uuid.UUID, from time.Time) ([]domain.BlockedDate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.BlockedDate
	for _, d := range m.blocked {
		if d.ProviderID == providerID && !d.Date.Before(from) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// IsDateBlocked reports whether the provider blocked the UTC day.
func (m *MemoryStore) IsDateBlocked(_ context.Context, providerID uuid.UUID, day time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.blocked {
		if d.ProviderID == providerID && d.Date.Equal(day) {
			return true, nil
		}
	}
	return false, nil
}

// CreateNotification stores a notification record.
func (m *MemoryStore) CreateNotification(_ context.Context, n domain.NotificationRecord) (domain.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	m.notifications[n.ID] = n
	return n, nil
}

// ListNotifications returns the user's records newest first.
func (m *MemoryStore) ListNotifications(_ context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]domain.NotificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.NotificationRecord
	for _, n := range m.notifications {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkNotificationRead flips the read flag for the user's own record.
func (m *MemoryStore) MarkNotificationRead(_ context.Context, userID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.UserID != userID {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	n.Read = true
	n.ReadAt = &now
	m.notifications[id] = n
	return nil
}

// MarkAllNotificationsRead flips every unread record for the user.
func (m *MemoryStore) MarkAllNotificationsRead(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for id, n := range m.notifications {
		if n.UserID == userID && !n.Read {
			n.Read = true
			n.ReadAt = &now
			m.notifications[id] = n
		}
	}
	return nil
}

// ListUndispatched returns records not yet handed to the push transport,
// oldest first.
func (m *MemoryStore) ListUndispatched(_ context.Context, limit int) ([]domain.NotificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.NotificationRecord
	for _, n := range m.notifications {
		if !n.Dispatched {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkDispatched flags records as handed off.
func (m *MemoryStore) MarkDispatched(_ context.Context, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if n, ok := m.notifications[id]; ok {
			n.Dispatched = true
			m.notifications[id] = n
		}
	}
	return nil
}
