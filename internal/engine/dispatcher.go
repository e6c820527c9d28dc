package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glowdesk/concierge/internal/channels/whatsapp"
	"github.com/glowdesk/concierge/pkg/logging"
)

// ErrDeliveryFailed indicates every delivery attempt was exhausted. The
// outbound message is still persisted with its failed flag set.
var ErrDeliveryFailed = errors.New("engine: delivery failed")

// Sender delivers one message to a channel recipient; satisfied by
// *whatsapp.Client.
type Sender interface {
	Send(ctx context.Context, userHandle, text string) (string, error)
}

// DispatcherConfig tunes retry behavior.
type DispatcherConfig struct {
	Attempts       int
	BaseDelay      time.Duration
	AttemptTimeout time.Duration
}

// DefaultDispatcherConfig is three attempts with exponential backoff.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Attempts:       3,
		BaseDelay:      250 * time.Millisecond,
		AttemptTimeout: 5 * time.Second,
	}
}

// Dispatcher delivers outbound replies with bounded retries. Transient
// failures back off exponentially; permanent failures (bad recipient) abort
// immediately.
type Dispatcher struct {
	sender Sender
	logger *logging.Logger
	config DispatcherConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(sender Sender, logger *logging.Logger, config DispatcherConfig) *Dispatcher {
	if sender == nil {
		panic("engine: sender required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if config.Attempts <= 0 {
		config = DefaultDispatcherConfig()
	}
	return &Dispatcher{
		sender: sender,
		logger: logger,
		config: config,
		sleep:  sleepCtx,
	}
}

// Dispatch delivers text to the recipient, returning the channel message ID.
// Returns ErrDeliveryFailed once every attempt is spent.
func (d *Dispatcher) Dispatch(ctx context.Context, userHandle, text string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= d.config.Attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.config.AttemptTimeout)
		channelMsgID, err := d.sender.Send(attemptCtx, userHandle, text)
		cancel()
		if err == nil {
			return channelMsgID, nil
		}
		lastErr = err

		if errors.Is(err, whatsapp.ErrInvalidRecipient) {
			d.logger.Warn("dispatch aborted, recipient rejected", "user_handle", userHandle, "error", err)
			return "", fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
		}
		d.logger.Warn("dispatch attempt failed", "user_handle", userHandle, "attempt", attempt, "error", err)

		if attempt < d.config.Attempts {
			delay := d.config.BaseDelay << (attempt - 1)
			if err := d.sleep(ctx, delay); err != nil {
				return "", fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
			}
		}
	}
	return "", fmt.Errorf("%w: %w", ErrDeliveryFailed, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
