package whatsapp

import "time"

// WebhookPayload is the envelope the Cloud API posts to the webhook URL.
// One payload may batch events for several users.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups changes for one WhatsApp Business Account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change carries one field mutation, typically "messages".
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue holds inbound messages and sender contact info.
type ChangeValue struct {
	MessagingProduct string    `json:"messaging_product"`
	Contacts         []Contact `json:"contacts"`
	Messages         []Message `json:"messages"`
}

// Contact maps a wa_id to the sender's profile name.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Message is one raw inbound message from the Cloud API.
type Message struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
}

// EventType classifies a normalized inbound event.
type EventType string

const (
	EventText        EventType = "text"
	EventMedia       EventType = "media"
	EventInteractive EventType = "interactive"
)

// InboundEvent is the normalized form handed to the engine.
type InboundEvent struct {
	SenderHandle string
	SenderName   string
	MessageID    string
	Type         EventType
	Text         string
	Timestamp    time.Time
	Raw          []byte
}
