package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUserNotFound indicates no user exists for the given handle or id.
var ErrUserNotFound = errors.New("identity: user not found")

// User is one end customer reachable over the messaging channel. Users are
// never hard-deleted; history depends on them.
type User struct {
	ID          uuid.UUID
	Handle      string
	DisplayName string
	Phone       string
	Email       string
	VIP         bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository resolves channel handles to users.
type Repository struct {
	pool querier
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("identity: pgx pool required")
	}
	return &Repository{pool: pool}
}

func newRepositoryWithQuerier(q querier) *Repository {
	if q == nil {
		panic("identity: querier required")
	}
	return &Repository{pool: q}
}

const userColumns = `id, wa_handle, display_name, phone, email, vip, created_at, updated_at`

// Resolve returns the user for a channel handle, creating one on first
// contact. Creation is insert-or-fetch under the unique handle constraint:
// two concurrent calls for the same new handle yield exactly one row. The
// loop retries the fetch when this process loses the insert race.
func (r *Repository) Resolve(ctx context.Context, handle, displayName string) (*User, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, fmt.Errorf("identity: empty handle")
	}

	for attempt := 0; attempt < 3; attempt++ {
		user, err := r.getByHandle(ctx, handle)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}

		ct, err := r.pool.Exec(ctx, `
			INSERT INTO users (id, wa_handle, display_name)
			VALUES ($1, $2, $3)
			ON CONFLICT (wa_handle) DO NOTHING
		`, uuid.New(), handle, displayName)
		if err != nil {
			return nil, fmt.Errorf("identity: insert user: %w", err)
		}
		if ct.RowsAffected() == 0 {
			// Lost the race; the next iteration fetches the winner's row.
			continue
		}
		return r.getByHandle(ctx, handle)
	}

	return nil, fmt.Errorf("identity: resolve %s: gave up after conflict retries", handle)
}

// GetByID fetches a user by internal id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *Repository) getByHandle(ctx context.Context, handle string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE wa_handle = $1`, handle)
	return scanUser(row)
}

// UpdateContact fills contact fields collected during the booking flow.
// Empty arguments leave the stored value untouched.
func (r *Repository) UpdateContact(ctx context.Context, id uuid.UUID, displayName, phone, email string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users
		SET display_name = COALESCE(NULLIF($2, ''), display_name),
			phone = COALESCE(NULLIF($3, ''), phone),
			email = COALESCE(NULLIF($4, ''), email),
			updated_at = now()
		WHERE id = $1
	`, id, displayName, phone, email)
	if err != nil {
		return fmt.Errorf("identity: update contact: %w", err)
	}
	return nil
}

// SetVIP toggles priority treatment for a user.
func (r *Repository) SetVIP(ctx context.Context, id uuid.UUID, vip bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET vip = $2, updated_at = now() WHERE id = $1
	`, id, vip)
	if err != nil {
		return fmt.Errorf("identity: set vip: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Handle, &u.DisplayName, &u.Phone, &u.Email, &u.VIP, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("identity: scan user: %w", err)
	}
	return &u, nil
}
