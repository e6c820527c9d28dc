package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/glowdesk/concierge/internal/flow"
)

// Conversation statuses. A closed conversation is history; active and
// awaiting_human are both "open" and a user has at most one open
// conversation at a time (enforced by a partial unique index).
const (
	StatusActive        = "active"
	StatusAwaitingHuman = "awaiting_human"
	StatusClosed        = "closed"
)

// ErrConversationNotFound indicates no conversation matches the lookup.
var ErrConversationNotFound = errors.New("store: conversation not found")

// Conversation is one user's open dialogue with the assistant.
type Conversation struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Status        string
	LastMessageAt *time.Time
	Flow          flow.State
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const conversationColumns = `id, user_id, status, last_message_at, flow_state, created_at, updated_at`

// EnsureOpen returns the user's open conversation, creating an active one if
// none exists. Reopening after inactivity reuses the existing open row; a new
// row only appears once the previous conversation was closed. The insert race
// between two concurrent calls is resolved by the partial unique index plus a
// fetch retry.
func (s *Store) EnsureOpen(ctx context.Context, userID uuid.UUID) (*Conversation, error) {
	for attempt := 0; attempt < 3; attempt++ {
		conv, err := s.openByUser(ctx, userID)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, ErrConversationNotFound) {
			return nil, err
		}

		idleState, err := flow.Idle().Marshal()
		if err != nil {
			return nil, err
		}
		ct, err := s.pool.Exec(ctx, `
			INSERT INTO conversations (id, user_id, status, flow_state)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING
		`, uuid.New(), userID, StatusActive, idleState)
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return nil, fmt.Errorf("store: insert conversation: %w", err)
		}
		if ct.RowsAffected() == 0 {
			continue
		}
		return s.openByUser(ctx, userID)
	}
	return nil, fmt.Errorf("store: ensure conversation for %s: gave up after conflict retries", userID)
}

func (s *Store) openByUser(ctx context.Context, userID uuid.UUID) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, StatusActive, StatusAwaitingHuman)
	return s.scanConversation(row)
}

// GetByID fetches one conversation.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE id = $1
	`, id)
	return s.scanConversation(row)
}

// SaveFlowState persists the dialogue state after a transition.
func (s *Store) SaveFlowState(ctx context.Context, id uuid.UUID, state flow.State) error {
	data, err := state.Marshal()
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE conversations SET flow_state = $2, updated_at = now() WHERE id = $1
	`, id, data)
	if err != nil {
		return fmt.Errorf("store: save flow state: %w", err)
	}
	return nil
}

// UpdateStatus moves a conversation between active/awaiting_human/closed.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("store: update conversation status: %w", err)
	}
	return nil
}

// Touch records message activity on the conversation.
func (s *Store) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations SET last_message_at = $2, updated_at = now() WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("store: touch conversation: %w", err)
	}
	return nil
}

func (s *Store) scanConversation(row pgx.Row) (*Conversation, error) {
	var (
		conv     Conversation
		lastMsg  *time.Time
		flowBlob []byte
	)
	err := row.Scan(&conv.ID, &conv.UserID, &conv.Status, &lastMsg, &flowBlob, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("store: scan conversation: %w", err)
	}
	conv.LastMessageAt = lastMsg

	state, err := flow.Unmarshal(flowBlob)
	if err != nil {
		// A blob this version cannot read must not wedge the user; fall
		// back to idle and let the dialogue restart.
		state = flow.Idle()
	}
	conv.Flow = state
	return &conv, nil
}
