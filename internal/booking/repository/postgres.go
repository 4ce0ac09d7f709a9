package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/example/kneadly/internal/booking/domain"
)

// PostgresStore implements domain.Repository and domain.NotificationStore on
// PostgreSQL through database/sql.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the schema. The partial unique index on blocked dates and
// the conditional update below are the storage-level guarantees the core
// relies on.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE SEQUENCE IF NOT EXISTS booking_number_seq`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id UUID PRIMARY KEY,
			number TEXT NOT NULL UNIQUE,
			customer_id UUID NOT NULL,
			provider_id UUID NOT NULL,
			service_id UUID NOT NULL,
			duration_min INT NOT NULL,
			amount_cents BIGINT NOT NULL,
			scheduled_at TIMESTAMPTZ NOT NULL,
			address_text TEXT NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			lng DOUBLE PRECISION NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			cancelled_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			accepted_at TIMESTAMPTZ,
			rejected_at TIMESTAMPTZ,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			cancelled_at TIMESTAMPTZ,
			version BIGINT NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_provider_sched ON bookings (provider_id, scheduled_at)`,
		`CREATE TABLE IF NOT EXISTS blocked_dates (
			id UUID PRIMARY KEY,
			provider_id UUID NOT NULL,
			date DATE NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (provider_id, date)
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			data JSONB,
			read BOOLEAN NOT NULL DEFAULT FALSE,
			read_at TIMESTAMPTZ,
			dispatched BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const bookingColumns = `id, number, customer_id, provider_id, service_id, duration_min,
amount_cents, scheduled_at, address_text, lat, lng, notes, status, reason, cancelled_by,
created_at, accepted_at, rejected_at, started_at, completed_at, cancelled_at, version`

// CreateBooking inserts the booking inside a transaction holding a
// per-provider advisory lock, re-running the overlap check so two concurrent
// creates for the same slot serialize and the loser gets a schedule conflict.
func (p *PostgresStore) CreateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, b.ProviderID.String()); err != nil {
		return domain.Booking{}, fmt.Errorf("provider lock: %w", err)
	}

	var overlapNumber string
	err = tx.QueryRowContext(ctx, `
		SELECT number FROM bookings
		WHERE provider_id = $1
		  AND status NOT IN ('COMPLETED', 'REJECTED', 'CANCELLED')
		  AND scheduled_at < $3
		  AND scheduled_at + make_interval(mins => duration_min) > $2
		LIMIT 1`,
		b.ProviderID, b.ScheduledAt, b.End()).Scan(&overlapNumber)
	switch {
	case err == nil:
		return domain.Booking{}, &domain.ConflictError{
			Reason: domain.ReasonScheduleConflict,
			Detail: fmt.Sprintf("overlaps booking %s", overlapNumber),
		}
	case !errors.Is(err, sql.ErrNoRows):
		return domain.Booking{}, fmt.Errorf("overlap check: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, 'BK-' || lpad(nextval('booking_number_seq')::text, 6, '0'),
			$2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21)
		RETURNING number`,
		b.ID, b.CustomerID, b.ProviderID, b.ServiceID, b.DurationMin,
		b.AmountCents, b.ScheduledAt, b.AddressText, b.Location.Lat, b.Location.Lng,
		b.Notes, b.Status, b.Reason, string(b.CancelledBy),
		b.CreatedAt, b.AcceptedAt, b.RejectedAt, b.StartedAt, b.CompletedAt, b.CancelledAt,
		b.Version).Scan(&b.Number)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("insert booking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Booking{}, fmt.Errorf("commit booking: %w", err)
	}
	return b, nil
}

// GetBookingByID retrieves a booking.
func (p *PostgresStore) GetBookingByID(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Booking{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Booking{}, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// UpdateBookingStatus performs the conditional write: the row is touched only
// while its status still equals expected. Zero affected rows means another
// transition committed first (or the booking vanished).
func (p *PostgresStore) UpdateBookingStatus(ctx context.Context, b domain.Booking, expected domain.BookingStatus) (domain.Booking, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE bookings SET
			status = $3, reason = $4, cancelled_by = $5,
			accepted_at = $6, rejected_at = $7, started_at = $8,
			completed_at = $9, cancelled_at = $10, version = version + 1
		WHERE id = $1 AND status = $2`,
		b.ID, expected, b.Status, b.Reason, string(b.CancelledBy),
		b.AcceptedAt, b.RejectedAt, b.StartedAt, b.CompletedAt, b.CancelledAt)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("update booking: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Booking{}, fmt.Errorf("update booking: %w", err)
	}
	if affected == 0 {
		current, err := p.GetBookingByID(ctx, b.ID)
		if err != nil {
			return domain.Booking{}, err
		}
		return domain.Booking{}, &domain.ConflictError{Reason: domain.ReasonStatusChanged, Current: current.Status}
	}
	return p.GetBookingByID(ctx, b.ID)
}

// ListBookingsForUser returns the actor's bookings newest first.
func (p *PostgresStore) ListBookingsForUser(ctx context.Context, userID uuid.UUID, role domain.Role, limit, offset int) ([]domain.Booking, error) {
	column := "customer_id"
	if role == domain.RoleProvider {
		column = "provider_id"
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE `+column+` = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// ActiveBookingsInWindow returns non-terminal bookings overlapping [start, end).
func (p *PostgresStore) ActiveBookingsInWindow(ctx context.Context, providerID uuid.UUID, start, end time.Time) ([]domain.Booking, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE provider_id = $1
		  AND status NOT IN ('COMPLETED', 'REJECTED', 'CANCELLED')
		  AND scheduled_at < $3
		  AND scheduled_at + make_interval(mins => duration_min) > $2`,
		providerID, start, end)
	if err != nil {
		return nil, fmt.Errorf("window query: %w", err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// CountActiveBookingsOnDay counts non-terminal bookings scheduled on the UTC day.
func (p *PostgresStore) CountActiveBookingsOnDay(ctx context.Context, providerID uuid.UUID, day time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT count(*) FROM bookings
		WHERE provider_id = $1
		  AND status NOT IN ('COMPLETED', 'REJECTED', 'CANCELLED')
		  AND scheduled_at >= $2 AND scheduled_at < $3`,
		providerID, day, day.Add(24*time.Hour)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count bookings: %w", err)
	}
	return count, nil
}

// CreateBlockedDate inserts the exclusion; the unique index is the backstop
// against duplicate days racing past the read-side check.
func (p *PostgresStore) CreateBlockedDate(ctx context.Context, d domain.BlockedDate) (domain.BlockedDate, error) {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO blocked_dates (id, provider_id, date, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.ProviderID, d.Date, d.Reason, d.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.BlockedDate{}, &domain.ConflictError{Reason: domain.ReasonDateBlocked, Detail: "date already blocked"}
		}
		return domain.BlockedDate{}, fmt.Errorf("insert blocked date: %w", err)
	}
	return d, nil
}

// GetBlockedDate retrieves a blocked date.
func (p *PostgresStore) GetBlockedDate(ctx context.Context, id uuid.UUID) (domain.BlockedDate, error) {
	var d domain.BlockedDate
	err := p.db.QueryRowContext(ctx, `
		SELECT id, provider_id, date, reason, created_at FROM blocked_dates WHERE id = $1`, id).
		Scan(&d.ID, &d.ProviderID, &d.Date, &d.Reason, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BlockedDate{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.BlockedDate{}, fmt.Errorf("get blocked date: %w", err)
	}
	d.Date = d.Date.UTC()
	return d, nil
}

// DeleteBlockedDate removes a blocked date.
func (p *PostgresStore) DeleteBlockedDate(ctx context.Context, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM blocked_dates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete blocked date: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListBlockedDates returns the provider's blocked dates from the day onward.
func (p *PostgresStore) ListBlockedDates(ctx context.Context, providerID uuid.UUID, from time.Time) ([]domain.BlockedDate, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, provider_id, date, reason, created_at FROM blocked_dates
		WHERE provider_id = $1 AND date >= $2 ORDER BY date ASC`, providerID, from)
	if err != nil {
		return nil, fmt.Errorf("list blocked dates: %w", err)
	}
	defer rows.Close()
	var out []domain.BlockedDate
	for rows.Next() {
		var d domain.BlockedDate
		if err := rows.Scan(&d.ID, &d.ProviderID, &d.Date, &d.Reason, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan blocked date: %w", err)
		}
		d.Date = d.Date.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// IsDateBlocked reports whether the provider blocked the UTC day.
func (p *PostgresStore) IsDateBlocked(ctx context.Context, providerID uuid.UUID, day time.Time) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM blocked_dates WHERE provider_id = $1 AND date = $2)`,
		providerID, day).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("blocked date lookup: %w", err)
	}
	return exists, nil
}

// CreateNotification stores a notification record.
func (p *PostgresStore) CreateNotification(ctx context.Context, n domain.NotificationRecord) (domain.NotificationRecord, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	data, err := json.Marshal(n.Data)
	if err != nil {
		return domain.NotificationRecord{}, fmt.Errorf("encode payload: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, body, data, read, dispatched, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.UserID, n.Type, n.Title, n.Body, data, n.Read, n.Dispatched, n.CreatedAt)
	if err != nil {
		return domain.NotificationRecord{}, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns the user's records newest first.
func (p *PostgresStore) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]domain.NotificationRecord, error) {
	query := `SELECT id, user_id, type, title, body, data, read, read_at, dispatched, created_at
		FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND read = FALSE`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`
	rows, err := p.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// MarkNotificationRead flips the read flag for the user's own record.
func (p *PostgresStore) MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE, read_at = now()
		WHERE id = $1 AND user_id = $2 AND read = FALSE`, id, userID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkAllNotificationsRead flips every unread record for the user.
func (p *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE, read_at = now()
		WHERE user_id = $1 AND read = FALSE`, userID)
	if err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}

// ListUndispatched returns records awaiting push dispatch, oldest first.
func (p *PostgresStore) ListUndispatched(ctx context.Context, limit int) ([]domain.NotificationRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, type, title, body, data, read, read_at, dispatched, created_at
		FROM notifications WHERE dispatched = FALSE ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list undispatched: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// MarkDispatched flags records as handed off to the push transport.
func (p *PostgresStore) MarkDispatched(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	_, err := p.db.ExecContext(ctx, `UPDATE notifications SET dispatched = TRUE WHERE id = ANY($1::uuid[])`, strs)
	if err != nil {
		return fmt.Errorf("mark dispatched: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (domain.Booking, error) {
	var b domain.Booking
	var cancelledBy string
	err := row.Scan(&b.ID, &b.Number, &b.CustomerID, &b.ProviderID, &b.ServiceID,
		&b.DurationMin, &b.AmountCents, &b.ScheduledAt, &b.AddressText,
		&b.Location.Lat, &b.Location.Lng, &b.Notes, &b.Status, &b.Reason, &cancelledBy,
		&b.CreatedAt, &b.AcceptedAt, &b.RejectedAt, &b.StartedAt, &b.CompletedAt,
		&b.CancelledAt, &b.Version)
	if err != nil {
		return domain.Booking{}, err
	}
	b.CancelledBy = domain.Role(cancelledBy)
	b.ScheduledAt = b.ScheduledAt.UTC()
	return b, nil
}

func collectBookings(rows *sql.Rows) ([]domain.Booking, error) {
	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func collectNotifications(rows *sql.Rows) ([]domain.NotificationRecord, error) {
	var out []domain.NotificationRecord
	for rows.Next() {
		var n domain.NotificationRecord
		var data []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &data,
			&n.Read, &n.ReadAt, &n.Dispatched, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
