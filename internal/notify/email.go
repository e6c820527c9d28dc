package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/glowdesk/concierge/pkg/logging"
)

// Mailer delivers operator emails. Implementations can be swapped (SendGrid,
// SMTP) without changing callers.
type Mailer interface {
	Mail(ctx context.Context, subject, body string) error
}

// SendGridMailer emails the operator address via the SendGrid API.
type SendGridMailer struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	toEmail   string
	logger    *logging.Logger
}

// SendGridConfig holds SendGrid credentials and addressing.
type SendGridConfig struct {
	APIKey        string
	FromEmail     string
	FromName      string
	OperatorEmail string
}

// NewSendGridMailer creates a mailer, or nil when no API key or operator
// address is configured. Callers treat a nil mailer as notifications off.
func NewSendGridMailer(cfg SendGridConfig, logger *logging.Logger) *SendGridMailer {
	if cfg.APIKey == "" || cfg.OperatorEmail == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Glowdesk Concierge"
	}
	return &SendGridMailer{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		toEmail:   cfg.OperatorEmail,
		logger:    logger,
	}
}

func (m *SendGridMailer) Mail(ctx context.Context, subject, body string) error {
	from := mail.NewEmail(m.fromName, m.fromEmail)
	to := mail.NewEmail("", m.toEmail)
	message := mail.NewSingleEmail(from, subject, to, body, body)

	response, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}
	m.logger.Info("operator email sent", "subject", subject, "status", response.StatusCode)
	return nil
}
