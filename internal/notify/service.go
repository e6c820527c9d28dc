package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/glowdesk/concierge/internal/identity"
	"github.com/glowdesk/concierge/pkg/logging"
)

// Service notifies the operator when a conversation needs a human. It
// implements the engine's HandoffNotifier boundary.
type Service struct {
	mailer Mailer
	logger *logging.Logger
}

// NewService constructs a notifier. A nil mailer logs handoffs without
// emailing, which keeps local development quiet.
func NewService(mailer Mailer, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{mailer: mailer, logger: logger}
}

// NotifyHandoff emails the operator that a conversation is waiting for them.
func (s *Service) NotifyHandoff(ctx context.Context, user *identity.User, conversationID uuid.UUID, reason string) error {
	subject := fmt.Sprintf("Conversation needs attention: %s", displayName(user))
	body := fmt.Sprintf(
		"A customer conversation was handed off and is waiting for a human.\n\n"+
			"Customer: %s\nWhatsApp: %s\nConversation: %s\nReason: %s\n",
		displayName(user), user.Handle, conversationID, reason,
	)

	if s.mailer == nil {
		s.logger.Info("handoff notification (email disabled)", "conversation_id", conversationID, "reason", reason)
		return nil
	}
	if err := s.mailer.Mail(ctx, subject, body); err != nil {
		return err
	}
	s.logger.Info("handoff notification sent", "conversation_id", conversationID, "reason", reason)
	return nil
}

func displayName(user *identity.User) string {
	if user.DisplayName != "" {
		return user.DisplayName
	}
	return user.Handle
}
