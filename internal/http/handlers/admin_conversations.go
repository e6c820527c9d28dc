package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/glowdesk/concierge/internal/bookings"
	"github.com/glowdesk/concierge/internal/identity"
	"github.com/glowdesk/concierge/internal/store"
	"github.com/glowdesk/concierge/pkg/logging"
)

// ConversationReader is the store surface the admin endpoints need.
type ConversationReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*store.Conversation, error)
	ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]store.Message, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

// UserDirectory looks up users for conversation detail responses and lets
// operators flag priority customers.
type UserDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error)
	SetVIP(ctx context.Context, id uuid.UUID, vip bool) error
}

// BookingDirectory reads and cancels a user's bookings.
type BookingDirectory interface {
	Upcoming(ctx context.Context, userID uuid.UUID) ([]bookings.Booking, error)
	Get(ctx context.Context, id uuid.UUID) (*bookings.Booking, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// AdminConversationsHandler serves the operator's read-only view of
// conversations, plus the resume action that returns a parked conversation
// to the assistant.
type AdminConversationsHandler struct {
	conversations ConversationReader
	users         UserDirectory
	bookings      BookingDirectory
	logger        *logging.Logger
}

// NewAdminConversationsHandler creates the admin conversations handler.
func NewAdminConversationsHandler(conversations ConversationReader, users UserDirectory, bookingReader BookingDirectory, logger *logging.Logger) *AdminConversationsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminConversationsHandler{
		conversations: conversations,
		users:         users,
		bookings:      bookingReader,
		logger:        logger,
	}
}

// MessageResponse is one message in a conversation detail response.
type MessageResponse struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	Content   string `json:"content"`
	Failed    bool   `json:"failed,omitempty"`
	Timestamp string `json:"timestamp"`
}

// BookingResponse is one booking in a conversation detail response.
type BookingResponse struct {
	ID           string `json:"id"`
	Service      string `json:"service"`
	ScheduledFor string `json:"scheduled_for"`
	Status       string `json:"status"`
}

// ConversationDetailResponse is the operator view of one conversation.
type ConversationDetailResponse struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	FlowStep      string            `json:"flow_step"`
	CustomerName  string            `json:"customer_name"`
	CustomerPhone string            `json:"customer_phone"`
	VIP           bool              `json:"vip"`
	LastMessageAt *string           `json:"last_message_at,omitempty"`
	Messages      []MessageResponse `json:"messages"`
	Bookings      []BookingResponse `json:"bookings"`
}

// GetConversation handles GET /admin/conversations/{conversationID}.
func (h *AdminConversationsHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	convID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	conv, err := h.conversations.GetByID(ctx, convID)
	if err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("conversation lookup failed", "conversation_id", convID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	user, err := h.users.GetByID(ctx, conv.UserID)
	if err != nil {
		h.logger.Error("user lookup failed", "user_id", conv.UserID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	messages, err := h.conversations.ListByConversation(ctx, convID, 200)
	if err != nil {
		h.logger.Error("message list failed", "conversation_id", convID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := ConversationDetailResponse{
		ID:            conv.ID.String(),
		Status:        conv.Status,
		FlowStep:      string(conv.Flow.Step),
		CustomerName:  user.DisplayName,
		CustomerPhone: user.Handle,
		VIP:           user.VIP,
		Messages:      make([]MessageResponse, 0, len(messages)),
		Bookings:      []BookingResponse{},
	}
	if conv.LastMessageAt != nil {
		ts := conv.LastMessageAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		resp.LastMessageAt = &ts
	}
	for _, m := range messages {
		resp.Messages = append(resp.Messages, MessageResponse{
			ID:        m.ID.String(),
			Direction: m.Direction,
			Content:   m.Content,
			Failed:    m.Failed,
			Timestamp: m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	if h.bookings != nil {
		upcoming, err := h.bookings.Upcoming(ctx, conv.UserID)
		if err != nil {
			h.logger.Warn("booking list failed", "user_id", conv.UserID, "error", err)
		}
		for _, b := range upcoming {
			resp.Bookings = append(resp.Bookings, BookingResponse{
				ID:           b.ID.String(),
				Service:      b.Service,
				ScheduledFor: b.ScheduledFor.UTC().Format("2006-01-02T15:04:05Z07:00"),
				Status:       b.Status,
			})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ResumeConversation handles POST /admin/conversations/{conversationID}/resume,
// returning a parked conversation to the assistant after a human wraps up.
func (h *AdminConversationsHandler) ResumeConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	convID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	conv, err := h.conversations.GetByID(ctx, convID)
	if err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("conversation lookup failed", "conversation_id", convID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if conv.Status != store.StatusAwaitingHuman {
		http.Error(w, "conversation is not awaiting a human", http.StatusConflict)
		return
	}

	if err := h.conversations.UpdateStatus(ctx, convID, store.StatusActive); err != nil {
		h.logger.Error("conversation resume failed", "conversation_id", convID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.logger.Info("conversation resumed by admin", "conversation_id", convID)
	writeJSON(w, http.StatusOK, map[string]string{"status": store.StatusActive})
}

// SetUserVIP handles PUT /admin/users/{userID}/vip, toggling the priority
// flag that routes a customer to the escalated reply path.
func (h *AdminConversationsHandler) SetUserVIP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	var body struct {
		VIP bool `json:"vip"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if _, err := h.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		h.logger.Error("user lookup failed", "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := h.users.SetVIP(ctx, userID, body.VIP); err != nil {
		h.logger.Error("vip update failed", "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.logger.Info("vip flag updated by admin", "user_id", userID, "vip", body.VIP)
	writeJSON(w, http.StatusOK, map[string]bool{"vip": body.VIP})
}

// CancelBooking handles POST /admin/bookings/{bookingID}/cancel for
// appointments called off over the phone or in person.
func (h *AdminConversationsHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bookingID, err := uuid.Parse(chi.URLParam(r, "bookingID"))
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}
	if h.bookings == nil {
		http.Error(w, "booking not found", http.StatusNotFound)
		return
	}

	b, err := h.bookings.Get(ctx, bookingID)
	if err != nil {
		if errors.Is(err, bookings.ErrBookingNotFound) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		h.logger.Error("booking lookup failed", "booking_id", bookingID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if b.Status == bookings.StatusCancelled {
		http.Error(w, "booking already cancelled", http.StatusConflict)
		return
	}

	if err := h.bookings.Cancel(ctx, bookingID); err != nil {
		h.logger.Error("booking cancel failed", "booking_id", bookingID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.logger.Info("booking cancelled by admin", "booking_id", bookingID)
	writeJSON(w, http.StatusOK, map[string]string{"status": bookings.StatusCancelled})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
