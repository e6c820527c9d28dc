package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/glowdesk/concierge/pkg/logging"
)

// ErrBadSignature indicates the payload failed HMAC verification. The whole
// batch must be rejected, not individual events.
var ErrBadSignature = errors.New("whatsapp: invalid webhook signature")

// WebhookHandler verifies and parses Cloud API webhook requests.
type WebhookHandler struct {
	verifyToken string
	appSecret   string
	onEvent     func(evt InboundEvent)
	logger      *logging.Logger
}

// NewWebhookHandler creates a webhook handler. onEvent is invoked once per
// parsed inbound event.
func NewWebhookHandler(verifyToken, appSecret string, onEvent func(InboundEvent), logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		onEvent:     onEvent,
		logger:      logger,
	}
}

// HandleVerification answers Meta's GET subscription challenge.
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == h.verifyToken {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, challenge)
		return
	}

	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandleInbound verifies the signature, parses the batch and ACKs 200.
// Events are handed off before the response so Meta is answered quickly;
// processing continues asynchronously in the engine.
func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if err := Authenticate(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")); err != nil {
		h.logger.Warn("rejected webhook", "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	events, err := h.Parse(body)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)

	for _, evt := range events {
		if h.onEvent != nil {
			h.onEvent(evt)
		}
	}
}

// Parse decodes a verified payload into normalized events. Malformed entries
// are skipped with a warning; they never fail the batch.
func (h *WebhookHandler) Parse(body []byte) ([]InboundEvent, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("whatsapp: decode payload: %w", err)
	}

	var events []InboundEvent
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			names := contactNames(change.Value.Contacts)
			for _, msg := range change.Value.Messages {
				evt, ok := h.normalize(msg, names)
				if !ok {
					continue
				}
				events = append(events, evt)
			}
		}
	}
	return events, nil
}

func (h *WebhookHandler) normalize(msg Message, names map[string]string) (InboundEvent, bool) {
	if msg.ID == "" || msg.From == "" {
		h.logger.Warn("skipping malformed inbound message", "message_id", msg.ID, "from", msg.From)
		return InboundEvent{}, false
	}

	evt := InboundEvent{
		SenderHandle: msg.From,
		SenderName:   names[msg.From],
		MessageID:    msg.ID,
		Timestamp:    parseUnixTimestamp(msg.Timestamp),
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil || msg.Text.Body == "" {
			h.logger.Warn("skipping text message without body", "message_id", msg.ID)
			return InboundEvent{}, false
		}
		evt.Type = EventText
		evt.Text = msg.Text.Body
	case "interactive":
		evt.Type = EventInteractive
		if msg.Interactive != nil {
			if msg.Interactive.ButtonReply != nil {
				evt.Text = msg.Interactive.ButtonReply.Title
			} else if msg.Interactive.ListReply != nil {
				evt.Text = msg.Interactive.ListReply.Title
			}
		}
		if evt.Text == "" {
			h.logger.Warn("skipping interactive message without reply payload", "message_id", msg.ID)
			return InboundEvent{}, false
		}
	case "image", "video", "audio", "document", "sticker":
		evt.Type = EventMedia
	default:
		h.logger.Warn("skipping unsupported message type", "message_id", msg.ID, "type", msg.Type)
		return InboundEvent{}, false
	}

	if raw, err := json.Marshal(msg); err == nil {
		evt.Raw = raw
	}
	return evt, true
}

// Authenticate validates a raw payload against the shared app secret.
func Authenticate(appSecret string, body []byte, signature string) error {
	if !VerifySignature(appSecret, body, signature) {
		return ErrBadSignature
	}
	return nil
}

// VerifySignature checks the X-Hub-Signature-256 header against the payload.
func VerifySignature(appSecret string, body []byte, signature string) bool {
	if appSecret == "" || signature == "" {
		return false
	}

	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) || len(signature) == len(prefix) {
		return false
	}
	sigHex := signature[len(prefix):]

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(sigHex))
}

// maxWebhookBody caps inbound payload size at 1 MiB.
const maxWebhookBody = 1 << 20

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
}

func contactNames(contacts []Contact) map[string]string {
	names := make(map[string]string, len(contacts))
	for _, c := range contacts {
		if c.WaID != "" {
			names[c.WaID] = c.Profile.Name
		}
	}
	return names
}

func parseUnixTimestamp(value string) time.Time {
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}
