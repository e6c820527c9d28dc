package bookings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/glowdesk/concierge/pkg/logging"
)

var bookingsTracer = otel.Tracer("concierge.internal.bookings")

// Service confirms bookings once the dialogue has collected every slot.
type Service struct {
	repo   *Repository
	logger *logging.Logger
}

// NewService constructs a bookings service.
func NewService(repo *Repository, logger *logging.Logger) *Service {
	if repo == nil {
		panic("bookings: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Confirm creates the confirmed booking row for a completed dialogue. On
// ErrSlotTaken the caller sends the customer back to pick another time.
func (s *Service) Confirm(ctx context.Context, b Booking) (*Booking, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.confirm")
	defer span.End()
	span.SetAttributes(
		attribute.String("concierge.user_id", b.UserID.String()),
		attribute.String("concierge.service", b.Service),
		attribute.String("concierge.scheduled_for", b.ScheduledFor.Format(time.RFC3339)),
	)

	created, err := s.repo.CreateConfirmed(ctx, b)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrSlotTaken) {
			s.logger.Info("booking slot conflict", "user_id", b.UserID, "service", b.Service, "scheduled_for", b.ScheduledFor)
		}
		return nil, err
	}
	s.logger.Info("booking confirmed", "user_id", b.UserID, "booking_id", created.ID, "service", created.Service, "scheduled_for", created.ScheduledFor)
	return created, nil
}

// SlotAvailable reports whether the service/time slot is currently free.
func (s *Service) SlotAvailable(ctx context.Context, service string, scheduledFor time.Time) (bool, error) {
	taken, err := s.repo.HasConflict(ctx, service, scheduledFor)
	if err != nil {
		return false, err
	}
	return !taken, nil
}

// Get fetches one booking.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.repo.GetByID(ctx, id)
}

// Cancel cancels a confirmed booking.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	ctx, span := bookingsTracer.Start(ctx, "bookings.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("concierge.booking_id", id.String()))

	if err := s.repo.Cancel(ctx, id); err != nil {
		span.RecordError(err)
		return err
	}
	s.logger.Info("booking cancelled", "booking_id", id)
	return nil
}

// Upcoming lists the user's confirmed future bookings.
func (s *Service) Upcoming(ctx context.Context, userID uuid.UUID) ([]Booking, error) {
	return s.repo.ListUpcomingForUser(ctx, userID, time.Now().UTC())
}
