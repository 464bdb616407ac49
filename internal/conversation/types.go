// ABOUTME: Message and metadata types carried by a conversation record
// ABOUTME: Metadata is a typed record with a tagged per-category details variant

package conversation

import (
	"time"

	"github.com/2389/reclama-gateway/internal/classifier"
)

// MessageType is the channel content type of a message.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeAudio    MessageType = "audio"
	TypeDocument MessageType = "document"
	TypeSystem   MessageType = "system"
)

// Direction says whether a message came from the user or was sent to them.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// DeliveryStatus tracks a message through the channel.
type DeliveryStatus string

const (
	StatusReceived  DeliveryStatus = "received"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
)

// Control marks inbound messages that are channel control events rather than content.
type Control string

const (
	ControlNone  Control = ""
	ControlReset Control = "reset"
)

// Message is one entry in a conversation's log.
type Message struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        MessageType    `json:"type"`
	Direction   Direction      `json:"direction"`
	Content     string         `json:"content"`
	Status      DeliveryStatus `json:"status"`
	Processed   bool           `json:"processed"`
	Attempts    int            `json:"attempts"`
	LastAttempt time.Time      `json:"lastAttempt,omitzero"`
	Error       string         `json:"error,omitempty"`

	// Apologized is set once the customer was told this message failed.
	Apologized bool `json:"apologized,omitempty"`

	// Media reference for audio and document messages.
	MediaID  string `json:"mediaId,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Filename string `json:"filename,omitempty"`

	Control Control `json:"control,omitempty"`
}

// Status is the lifecycle state of a conversation record.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Classification is one classifier verdict kept in metadata.
type Classification struct {
	Category   classifier.Category `json:"category"`
	Confidence float64             `json:"confidence"`
	MessageID  string              `json:"messageId"`
	Sticky     bool                `json:"sticky"`
	At         time.Time           `json:"at"`
}

// Transcription caches the speech-to-text result for an audio message.
type Transcription struct {
	MessageID string    `json:"messageId"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

// DocumentState records the last legal document drafted for the conversation.
type DocumentState struct {
	Generated   bool      `json:"generated"`
	GeneratedAt time.Time `json:"generatedAt"`
	Company     string    `json:"company,omitempty"`
	Reference   string    `json:"reference,omitempty"`
	Markdown    string    `json:"markdown,omitempty"`
}

// ProcessingError is one failed attempt, kept for diagnostics.
type ProcessingError struct {
	MessageID string    `json:"messageId"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

// HistoryKind classifies processing history entries.
type HistoryKind string

const (
	HistorySuccess  HistoryKind = "success"
	HistoryFailure  HistoryKind = "failure"
	HistoryReset    HistoryKind = "reset"
	HistoryDocument HistoryKind = "document"
)

// HistoryEntry is one line of the processing history log.
type HistoryEntry struct {
	Kind      HistoryKind `json:"kind"`
	MessageID string      `json:"messageId,omitempty"`
	Detail    string      `json:"detail,omitempty"`
	At        time.Time   `json:"at"`
}

// CustomerProfile holds what the channel tells us about the user.
type CustomerProfile struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// CategoryDetails is the per-category part of the metadata. Exactly one
// implementation matches each concrete category.
type CategoryDetails interface {
	Category() classifier.Category
}

// UtilityDetails describes a claim against a utility supplier.
type UtilityDetails struct {
	Company    string `json:"company,omitempty"`
	Reference  string `json:"reference,omitempty"`
	SupplyType string `json:"supplyType,omitempty"`
}

func (UtilityDetails) Category() classifier.Category { return classifier.CategoryUtilities }

// TelecomDetails describes a claim against a telecom operator.
type TelecomDetails struct {
	Company    string `json:"company,omitempty"`
	Reference  string `json:"reference,omitempty"`
	LineNumber string `json:"lineNumber,omitempty"`
}

func (TelecomDetails) Category() classifier.Category { return classifier.CategoryTelecom }

// AirTransportDetails describes a claim against an airline.
type AirTransportDetails struct {
	Company      string `json:"company,omitempty"`
	Reference    string `json:"reference,omitempty"`
	FlightNumber string `json:"flightNumber,omitempty"`
}

func (AirTransportDetails) Category() classifier.Category { return classifier.CategoryAirTransport }

// DetailsFor returns the empty details variant for category, or nil.
func DetailsFor(category classifier.Category) CategoryDetails {
	switch category {
	case classifier.CategoryUtilities:
		return UtilityDetails{}
	case classifier.CategoryTelecom:
		return TelecomDetails{}
	case classifier.CategoryAirTransport:
		return AirTransportDetails{}
	default:
		return nil
	}
}

// Metadata is the structured side state of a conversation.
type Metadata struct {
	Classifications     []Classification  `json:"classifications,omitempty"`
	AudioTranscriptions []Transcription   `json:"audioTranscriptions,omitempty"`
	Document            *DocumentState    `json:"document,omitempty"`
	LastTTSTime         time.Time         `json:"lastTTSTime,omitzero"`
	ProcessingErrors    []ProcessingError `json:"processingErrors,omitempty"`
	ProcessingHistory   []HistoryEntry    `json:"processingHistory,omitempty"`
	ReconnectAttempts   int               `json:"reconnectAttempts"`
	ExpectsHeartbeat    bool              `json:"expectsHeartbeat"`
	Welcomed            bool              `json:"welcomed"`
	Customer            CustomerProfile   `json:"customer"`
	Details             CategoryDetails   `json:"-"`
}

// Transcription returns the cached transcription for messageID.
func (m *Metadata) Transcription(messageID string) (string, bool) {
	for _, t := range m.AudioTranscriptions {
		if t.MessageID == messageID {
			return t.Text, true
		}
	}
	return "", false
}

func (m Metadata) clone() Metadata {
	out := m
	out.Classifications = append([]Classification(nil), m.Classifications...)
	out.AudioTranscriptions = append([]Transcription(nil), m.AudioTranscriptions...)
	out.ProcessingErrors = append([]ProcessingError(nil), m.ProcessingErrors...)
	out.ProcessingHistory = append([]HistoryEntry(nil), m.ProcessingHistory...)
	if m.Document != nil {
		doc := *m.Document
		out.Document = &doc
	}
	return out
}

// TaggedDetails is the wire form of CategoryDetails.
type TaggedDetails struct {
	Kind  classifier.Category `json:"kind"`
	Value CategoryDetails     `json:"value"`
}

// Snapshot is an immutable, serializable copy of a record.
type Snapshot struct {
	ConversationID string              `json:"conversationId"`
	UserAddress    string              `json:"userAddress"`
	Status         Status              `json:"status"`
	Category       classifier.Category `json:"category,omitempty"`
	Messages       []Message           `json:"messages"`
	Metadata       Metadata            `json:"metadata"`
	Details        *TaggedDetails      `json:"details,omitempty"`
	StartTime      time.Time           `json:"startTime"`
	LastUpdateTime time.Time           `json:"lastUpdateTime"`
	LastHeartbeat  time.Time           `json:"lastHeartbeat,omitzero"`
}

// WithClaim returns d with the company and reference of a drafted claim
// filled in. Unknown variants are returned unchanged.
func WithClaim(d CategoryDetails, company, reference string) CategoryDetails {
	switch v := d.(type) {
	case UtilityDetails:
		v.Company, v.Reference = company, reference
		return v
	case TelecomDetails:
		v.Company, v.Reference = company, reference
		return v
	case AirTransportDetails:
		v.Company, v.Reference = company, reference
		return v
	default:
		return d
	}
}
