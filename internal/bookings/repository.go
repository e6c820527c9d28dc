package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Booking statuses.
const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

var (
	// ErrSlotTaken indicates another confirmed booking already holds the
	// service/time slot. The partial unique index on (service, scheduled_for)
	// where status='confirmed' makes the insert itself the arbiter, so two
	// concurrent confirmations can never both succeed.
	ErrSlotTaken = errors.New("bookings: slot already taken")

	// ErrBookingNotFound indicates no booking matches the lookup.
	ErrBookingNotFound = errors.New("bookings: booking not found")
)

// Booking is a confirmed (or later cancelled) appointment.
type Booking struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	ConversationID uuid.UUID
	CustomerName   string
	Contact        string
	Service        string
	ScheduledFor   time.Time
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides persistence helpers for bookings.
type Repository struct {
	db querier
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithQuerier(db querier) *Repository {
	return &Repository{db: db}
}

const bookingColumns = `id, user_id, conversation_id, customer_name, contact, service, scheduled_for, status, created_at, updated_at`

// HasConflict reports whether a confirmed booking already occupies the
// service/time slot. Advisory only: the insert in CreateConfirmed remains the
// authority under concurrency.
func (r *Repository) HasConflict(ctx context.Context, service string, scheduledFor time.Time) (bool, error) {
	var exists int
	err := r.db.QueryRow(ctx, `
		SELECT 1 FROM bookings
		WHERE service = $1 AND scheduled_for = $2 AND status = $3
		LIMIT 1
	`, service, scheduledFor, StatusConfirmed).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("bookings: check slot: %w", err)
	}
	return true, nil
}

// CreateConfirmed inserts a confirmed booking row, returning ErrSlotTaken when
// the slot was claimed first by a concurrent confirmation.
func (r *Repository) CreateConfirmed(ctx context.Context, b Booking) (*Booking, error) {
	b.ID = uuid.New()
	b.Status = StatusConfirmed
	row := r.db.QueryRow(ctx, `
		INSERT INTO bookings (id, user_id, conversation_id, customer_name, contact, service, scheduled_for, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+bookingColumns+`
	`, b.ID, b.UserID, b.ConversationID, b.CustomerName, b.Contact, b.Service, b.ScheduledFor, b.Status)

	created, err := scanBooking(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("bookings: insert confirmed: %w", err)
	}
	return created, nil
}

// GetByID fetches one booking.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE id = $1
	`, id)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("bookings: load booking: %w", err)
	}
	return b, nil
}

// Cancel moves a booking to cancelled, freeing its slot for rebooking.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE bookings SET status = $2, updated_at = now() WHERE id = $1 AND status = $3
	`, id, StatusCancelled, StatusConfirmed)
	if err != nil {
		return fmt.Errorf("bookings: cancel booking: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}

// ListUpcomingForUser returns the user's confirmed future bookings,
// soonest first.
func (r *Repository) ListUpcomingForUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]Booking, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE user_id = $1 AND status = $2 AND scheduled_for >= $3
		ORDER BY scheduled_for ASC
	`, userID, StatusConfirmed, now)
	if err != nil {
		return nil, fmt.Errorf("bookings: list upcoming: %w", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: scan booking: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.UserID, &b.ConversationID, &b.CustomerName, &b.Contact, &b.Service, &b.ScheduledFor, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
