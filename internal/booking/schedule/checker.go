package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/kneadly/internal/booking/domain"
)

// Checker decides whether a provider can take a new booking, and manages the
// provider's blocked-date calendar.
type Checker struct {
	repo    domain.Repository
	catalog domain.Catalog
	clock   domain.Clock
}

// NewChecker constructs a Checker.
func NewChecker(repo domain.Repository, catalog domain.Catalog, clock domain.Clock) *Checker {
	return &Checker{repo: repo, catalog: catalog, clock: clock}
}

// CanBook validates the provider offers the service, the calendar day is not
// blocked, and no active booking overlaps the half-open window
// [scheduledAt, scheduledAt+duration). Exact boundary touches do not
// conflict. The decision is read-only and idempotent.
func (c *Checker) CanBook(ctx context.Context, providerID, serviceID uuid.UUID, scheduledAt time.Time, durationMin int) error {
	if _, err := c.catalog.Price(ctx, providerID, serviceID, durationMin); err != nil {
		if errors.Is(err, domain.ErrServiceNotOffered) {
			return &domain.ConflictError{Reason: domain.ReasonServiceNotOffered}
		}
		return fmt.Errorf("lookup offering: %w", err)
	}

	day := DayOf(scheduledAt)
	blocked, err := c.repo.IsDateBlocked(ctx, providerID, day)
	if err != nil {
		return fmt.Errorf("check blocked date: %w", err)
	}
	if blocked {
		return &domain.ConflictError{Reason: domain.ReasonDateBlocked}
	}

	start := scheduledAt.UTC()
	end := start.Add(time.Duration(durationMin) * time.Minute)
	overlapping, err := c.repo.ActiveBookingsInWindow(ctx, providerID, start, end)
	if err != nil {
		return fmt.Errorf("check schedule: %w", err)
	}
	if len(overlapping) > 0 {
		return &domain.ConflictError{
			Reason: domain.ReasonScheduleConflict,
			Detail: fmt.Sprintf("overlaps booking %s", overlapping[0].Number),
		}
	}
	return nil
}

// Block adds a calendar exclusion for the provider. Past dates, duplicates
// and days holding active bookings are refused.
func (c *Checker) Block(ctx context.Context, providerID uuid.UUID, date time.Time, reason string) (domain.BlockedDate, error) {
	day := DayOf(date)
	if day.Before(DayOf(c.clock.Now())) {
		return domain.BlockedDate{}, domain.Validationf("cannot block a past date")
	}

	blocked, err := c.repo.IsDateBlocked(ctx, providerID, day)
	if err != nil {
		return domain.BlockedDate{}, fmt.Errorf("check blocked date: %w", err)
	}
	if blocked {
		return domain.BlockedDate{}, &domain.ConflictError{Reason: domain.ReasonDateBlocked, Detail: "date already blocked"}
	}

	active, err := c.repo.CountActiveBookingsOnDay(ctx, providerID, day)
	if err != nil {
		return domain.BlockedDate{}, fmt.Errorf("count bookings: %w", err)
	}
	if active > 0 {
		return domain.BlockedDate{}, &domain.ConflictError{
			Reason: domain.ReasonScheduleConflict,
			Detail: "date has existing bookings",
		}
	}

	return c.repo.CreateBlockedDate(ctx, domain.BlockedDate{
		ID:         uuid.New(),
		ProviderID: providerID,
		Date:       day,
		Reason:     reason,
		CreatedAt:  c.clock.Now(),
	})
}

// Unblock removes a blocked date owned by the provider.
func (c *Checker) Unblock(ctx context.Context, providerID, blockedDateID uuid.UUID) error {
	d, err := c.repo.GetBlockedDate(ctx, blockedDateID)
	if err != nil {
		return err
	}
	if d.ProviderID != providerID {
		return domain.ErrForbidden
	}
	return c.repo.DeleteBlockedDate(ctx, blockedDateID)
}

// Upcoming lists the provider's blocked dates from today onward.
func (c *Checker) Upcoming(ctx context.Context, providerID uuid.UUID) ([]domain.BlockedDate, error) {
	return c.repo.ListBlockedDates(ctx, providerID, DayOf(c.clock.Now()))
}

// DayOf truncates a timestamp to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
