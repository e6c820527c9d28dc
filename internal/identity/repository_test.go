package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func userRows(id uuid.UUID, handle string) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows([]string{"id", "wa_handle", "display_name", "phone", "email", "vip", "created_at", "updated_at"}).
		AddRow(id, handle, "Jane Doe", "", "", false, now, now)
}

func TestResolveExistingUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newRepositoryWithQuerier(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE wa_handle").
		WithArgs("15551230001").
		WillReturnRows(userRows(id, "15551230001"))

	user, err := repo.Resolve(context.Background(), "15551230001", "Jane Doe")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if user.ID != id {
		t.Fatalf("expected user %s, got %s", id, user.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResolveCreatesMissingUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newRepositoryWithQuerier(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE wa_handle").
		WithArgs("15551230002").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO users").
		WithArgs(pgxmock.AnyArg(), "15551230002", "New Caller").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE wa_handle").
		WithArgs("15551230002").
		WillReturnRows(userRows(id, "15551230002"))

	user, err := repo.Resolve(context.Background(), "15551230002", "New Caller")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if user.ID != id {
		t.Fatalf("expected user %s, got %s", id, user.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResolveLosesInsertRace(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newRepositoryWithQuerier(mock)
	id := uuid.New()

	// First fetch misses, insert hits the unique constraint (a concurrent
	// Resolve won), second fetch returns the winner's row.
	mock.ExpectQuery("SELECT (.+) FROM users WHERE wa_handle").
		WithArgs("15551230003").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO users").
		WithArgs(pgxmock.AnyArg(), "15551230003", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE wa_handle").
		WithArgs("15551230003").
		WillReturnRows(userRows(id, "15551230003"))

	user, err := repo.Resolve(context.Background(), "15551230003", "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if user.ID != id {
		t.Fatalf("expected winner's row %s, got %s", id, user.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResolveRejectsEmptyHandle(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newRepositoryWithQuerier(mock)
	if _, err := repo.Resolve(context.Background(), "  ", ""); err == nil {
		t.Fatal("expected error for empty handle")
	}
}

func TestGetByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newRepositoryWithQuerier(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.GetByID(context.Background(), id)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUpdateContact(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newRepositoryWithQuerier(mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE users").
		WithArgs(id, "Jane Doe", "555-1234", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := repo.UpdateContact(context.Background(), id, "Jane Doe", "555-1234", ""); err != nil {
		t.Fatalf("UpdateContact returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
