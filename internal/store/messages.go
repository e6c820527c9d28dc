package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Message directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// ErrDuplicateMessage indicates the channel message ID was already recorded
// for the inbound direction. The unique index on (channel_message_id) where
// direction='in' makes the insert itself the dedup mechanism: the first
// delivery wins, retries are dropped.
var ErrDuplicateMessage = errors.New("store: duplicate channel message id")

// Message is one immutable inbound or outbound event.
type Message struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	ConversationID   uuid.UUID
	Direction        string
	ChannelMessageID string
	Type             string
	Content          string
	Raw              []byte
	Failed           bool
	CreatedAt        time.Time
}

// SeenInbound is a cheap pre-check so duplicate webhook deliveries are
// dropped before rate limiting and identity work. The authoritative
// backstop remains the unique-violation on InsertInbound.
func (s *Store) SeenInbound(ctx context.Context, channelMessageID string) (bool, error) {
	var exists int
	err := s.pool.QueryRow(ctx, `
		SELECT 1 FROM messages
		WHERE direction = $1 AND channel_message_id = $2
		LIMIT 1
	`, DirectionIn, channelMessageID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("store: check inbound message: %w", err)
	}
	return true, nil
}

// InsertInbound records an inbound message. Returns ErrDuplicateMessage when
// another delivery of the same channel message ID already won.
func (s *Store) InsertInbound(ctx context.Context, msg Message) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, user_id, conversation_id, direction, channel_message_id, type, content, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, msg.UserID, msg.ConversationID, DirectionIn, msg.ChannelMessageID, msg.Type, msg.Content, msg.Raw)
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, ErrDuplicateMessage
		}
		return uuid.Nil, fmt.Errorf("store: insert inbound message: %w", err)
	}
	return id, nil
}

// InsertOutbound records a reply, delivered or not. Failed deliveries are
// kept with the failed flag set so operators can see what was authored but
// never reached the user.
func (s *Store) InsertOutbound(ctx context.Context, msg Message) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, user_id, conversation_id, direction, channel_message_id, type, content, failed)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)
	`, id, msg.UserID, msg.ConversationID, DirectionOut, msg.ChannelMessageID, msg.Type, msg.Content, msg.Failed)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: insert outbound message: %w", err)
	}
	return id, nil
}

const messageColumns = `id, user_id, conversation_id, direction, COALESCE(channel_message_id, '') AS channel_message_id, type, content, failed, created_at`

// ListByConversation returns messages oldest-first. A positive limit keeps
// the newest messages, so generation history always holds the recent turns
// rather than the start of a long conversation.
func (s *Store) ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC`
	args := []any{conversationID}
	if limit > 0 {
		query = `
			SELECT * FROM (
				SELECT ` + messageColumns + `
				FROM messages
				WHERE conversation_id = $1
				ORDER BY created_at DESC
				LIMIT $2
			) recent
			ORDER BY created_at ASC
		`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.ConversationID, &m.Direction, &m.ChannelMessageID, &m.Type, &m.Content, &m.Failed, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
