package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/glowdesk/concierge/internal/identity"
	"github.com/glowdesk/concierge/pkg/logging"
)

type recordingMailer struct {
	subjects []string
	bodies   []string
	err      error
}

func (m *recordingMailer) Mail(_ context.Context, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.subjects = append(m.subjects, subject)
	m.bodies = append(m.bodies, body)
	return nil
}

func TestNotifyHandoff(t *testing.T) {
	mailer := &recordingMailer{}
	s := NewService(mailer, logging.New("error"))
	convID := uuid.New()

	err := s.NotifyHandoff(context.Background(), &identity.User{Handle: "15551234", DisplayName: "Jane Doe"}, convID, "complaint detected: want refund")
	if err != nil {
		t.Fatalf("NotifyHandoff returned error: %v", err)
	}
	if len(mailer.subjects) != 1 || !strings.Contains(mailer.subjects[0], "Jane Doe") {
		t.Fatalf("unexpected subject: %v", mailer.subjects)
	}
	body := mailer.bodies[0]
	for _, want := range []string{"15551234", convID.String(), "want refund"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestNotifyHandoffFallsBackToHandle(t *testing.T) {
	mailer := &recordingMailer{}
	s := NewService(mailer, logging.New("error"))

	if err := s.NotifyHandoff(context.Background(), &identity.User{Handle: "15551234"}, uuid.New(), "x"); err != nil {
		t.Fatalf("NotifyHandoff returned error: %v", err)
	}
	if !strings.Contains(mailer.subjects[0], "15551234") {
		t.Fatalf("expected handle in subject, got %q", mailer.subjects[0])
	}
}

func TestNotifyHandoffWithoutMailer(t *testing.T) {
	s := NewService(nil, logging.New("error"))
	if err := s.NotifyHandoff(context.Background(), &identity.User{Handle: "1"}, uuid.New(), "x"); err != nil {
		t.Fatalf("nil mailer should not error: %v", err)
	}
}

func TestNotifyHandoffPropagatesMailError(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("smtp down")}
	s := NewService(mailer, logging.New("error"))
	if err := s.NotifyHandoff(context.Background(), &identity.User{Handle: "1"}, uuid.New(), "x"); err == nil {
		t.Fatal("expected mail error to propagate")
	}
}
