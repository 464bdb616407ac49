// ABOUTME: Inbound webhook envelope and message shapes with structural validation tags
// ABOUTME: Normalizes channel messages into conversation.Message entries

package webhook

import (
	"strconv"
	"strings"
	"time"

	"github.com/2389/reclama-gateway/internal/conversation"
)

// DefaultObject is the discriminator WhatsApp Cloud deliveries carry.
const DefaultObject = "whatsapp_business_account"

// Payload is the webhook envelope.
type Payload struct {
	Object string  `json:"object" validate:"required"`
	Entry  []Entry `json:"entry" validate:"required,min=1"`
}

// Entry groups change sets for one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one change set.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value carries the messages and delivery statuses of a change set.
type Value struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         ValueMetadata    `json:"metadata"`
	Contacts         []Contact        `json:"contacts,omitempty"`
	Messages         []InboundMessage `json:"messages,omitempty"`
	Statuses         []Status         `json:"statuses,omitempty"`
}

// ValueMetadata identifies the receiving business number.
type ValueMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is the sender profile the channel shares.
type Contact struct {
	WaID    string         `json:"wa_id"`
	Profile ContactProfile `json:"profile"`
}

// ContactProfile is the display part of a Contact.
type ContactProfile struct {
	Name string `json:"name"`
}

// InboundMessage is one message as delivered by the channel.
type InboundMessage struct {
	From      string       `json:"from" validate:"required"`
	ID        string       `json:"id" validate:"required"`
	Timestamp string       `json:"timestamp" validate:"omitempty,numeric"`
	Type      string       `json:"type" validate:"required"`
	Text      *TextBody    `json:"text,omitempty" validate:"required_if=Type text"`
	Audio     *MediaBody   `json:"audio,omitempty" validate:"required_if=Type audio"`
	Document  *MediaBody   `json:"document,omitempty" validate:"required_if=Type document"`
	System    *SystemBody  `json:"system,omitempty"`
	Reset     bool         `json:"reset,omitempty"`
	Context   *ContextInfo `json:"context,omitempty"`
}

// TextBody is the content of a text message.
type TextBody struct {
	Body string `json:"body" validate:"required"`
}

// MediaBody references media held by the channel.
type MediaBody struct {
	ID       string `json:"id" validate:"required"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Voice    bool   `json:"voice,omitempty"`
}

// SystemBody is a channel notification such as a number change.
type SystemBody struct {
	Body string `json:"body"`
	Type string `json:"type"`
}

// ContextInfo links a reply to the message it answers.
type ContextInfo struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

// Status is a delivery receipt for a message we sent.
type Status struct {
	ID          string `json:"id" validate:"required"`
	Status      string `json:"status" validate:"required"`
	RecipientID string `json:"recipient_id" validate:"required"`
	Timestamp   string `json:"timestamp"`
}

// Delivery status values the channel reports.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
	StatusDeleted   = "deleted"
)

// toMessage normalizes m into a conversation message.
func toMessage(m InboundMessage) conversation.Message {
	msg := conversation.Message{
		ID:        m.ID,
		Timestamp: parseUnix(m.Timestamp),
		Type:      conversation.MessageType(m.Type),
		Direction: conversation.DirectionInbound,
		Status:    conversation.StatusReceived,
	}
	switch {
	case m.Text != nil && m.Type == string(conversation.TypeText):
		msg.Content = strings.TrimSpace(m.Text.Body)
	case m.Audio != nil && m.Type == string(conversation.TypeAudio):
		msg.MediaID = m.Audio.ID
		msg.MimeType = m.Audio.MimeType
	case m.Document != nil && m.Type == string(conversation.TypeDocument):
		msg.MediaID = m.Document.ID
		msg.MimeType = m.Document.MimeType
		msg.Filename = m.Document.Filename
		msg.Content = m.Document.Caption
	case m.System != nil:
		msg.Type = conversation.TypeSystem
		msg.Content = m.System.Body
	}
	if m.Reset {
		msg.Control = conversation.ControlReset
	}
	return msg
}

// parseUnix reads a unix-seconds timestamp. Zero means "stamp on append".
func parseUnix(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// deliveryStatus maps a channel receipt onto our message status.
func deliveryStatus(s string) (conversation.DeliveryStatus, bool) {
	switch s {
	case StatusSent:
		return conversation.StatusSent, true
	case StatusDelivered, StatusRead:
		return conversation.StatusDelivered, true
	}
	return "", false
}
