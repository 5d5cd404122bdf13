package bus

import (
	"time"
)

// EventType tags events on the bus. Subscribers register per type.
type EventType string

const (
	EventMessageIncoming  EventType = "message.incoming"
	EventMessageOutgoing  EventType = "message.outgoing"
	EventSchedulerTrigger EventType = "scheduler.trigger"
	EventWebhookReceived  EventType = "webhook.received"
)

// IncomingMessage represents a message received from a transport
// (Discord, Signal, etc.) or synthesized by the scheduler/webhook consumers.
type IncomingMessage struct {
	Platform    string       `json:"platform"`
	Channel     string       `json:"channel"`
	UserID      string       `json:"user_id"`
	UserName    string       `json:"user_name,omitempty"`
	MessageID   string       `json:"message_id,omitempty"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Attachment is a media file attached to an incoming message.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

// OutgoingMessage represents a reply to be delivered by a transport.
type OutgoingMessage struct {
	Platform string `json:"platform"`
	Channel  string `json:"channel"`
	Content  string `json:"content"`
	ReplyTo  string `json:"reply_to,omitempty"`
}

// SchedulerTrigger is published when a cron job fires.
type SchedulerTrigger struct {
	JobID    int64  `json:"job_id"`
	JobName  string `json:"job_name"`
	CronExpr string `json:"cron_expr,omitempty"`
	Action   string `json:"action"`
	Channel  string `json:"channel,omitempty"` // "platform:channel" delivery target
}

// WebhookEvent is a normalized external webhook payload.
type WebhookEvent struct {
	Source        string                 `json:"source"` // "github", "sentry", "generic"
	EventType     string                 `json:"event_type"`
	Summary       string                 `json:"summary"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	ChannelTarget string                 `json:"channel_target"` // "platform:channel"
}

// WebhookReceived pairs a normalized webhook event with the endpoint's
// prompt template for the webhook consumer.
type WebhookReceived struct {
	Event          WebhookEvent `json:"event"`
	PromptTemplate string       `json:"prompt_template,omitempty"`
}

// Event is the envelope carried on the bus. Exactly one payload pointer
// matching Type is non-nil.
type Event struct {
	Type      EventType
	ID        string
	Timestamp time.Time

	Message  *IncomingMessage
	Outgoing *OutgoingMessage
	Trigger  *SchedulerTrigger
	Webhook  *WebhookReceived
}

// NewIncoming wraps an IncomingMessage into a bus event.
func NewIncoming(msg IncomingMessage) Event {
	e := newEvent(EventMessageIncoming)
	e.Message = &msg
	return e
}

// NewOutgoing wraps an OutgoingMessage into a bus event.
func NewOutgoing(msg OutgoingMessage) Event {
	e := newEvent(EventMessageOutgoing)
	e.Outgoing = &msg
	return e
}

// NewTrigger wraps a SchedulerTrigger into a bus event.
func NewTrigger(t SchedulerTrigger) Event {
	e := newEvent(EventSchedulerTrigger)
	e.Trigger = &t
	return e
}

// NewWebhook wraps a WebhookReceived into a bus event.
func NewWebhook(w WebhookReceived) Event {
	e := newEvent(EventWebhookReceived)
	e.Webhook = &w
	return e
}

// Handler processes one event. Handlers for the same subscription run
// serially in publication order; errors are logged, not retried.
type Handler func(Event) error
