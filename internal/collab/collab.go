// ABOUTME: Collaborator interfaces consumed by the message processor
// ABOUTME: Channel, Speech, Assistant, Drafter and Mailer plus their value types

package collab

import (
	"context"

	"github.com/2389/reclama-gateway/internal/classifier"
	"github.com/2389/reclama-gateway/internal/conversation"
)

// Channel is the messaging transport the user talks through.
type Channel interface {
	// SendText delivers text to address and returns the provider message id.
	SendText(ctx context.Context, address, text string) (string, error)
	// SendVoice delivers an audio clip and returns the provider message id.
	SendVoice(ctx context.Context, address string, audio []byte, mimeType string) (string, error)
	// FetchMedia downloads an inbound media object.
	FetchMedia(ctx context.Context, mediaID string) ([]byte, error)
	// MarkRead acknowledges an inbound message.
	MarkRead(ctx context.Context, address, messageID string) error
}

// Speech converts between audio and text.
type Speech interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Reply is the assistant's answer.
type Reply struct {
	Content string `json:"content"`
}

// Assistant is the conversational AI backend.
type Assistant interface {
	Respond(ctx context.Context, conversationID, text string, category classifier.Category) (Reply, error)
	ResetSession(ctx context.Context, conversationID string, category classifier.Category) error
}

// DraftRequest is everything the drafting service needs.
type DraftRequest struct {
	Category classifier.Category          `json:"category"`
	History  []conversation.Message       `json:"history"`
	Customer conversation.CustomerProfile `json:"customer"`
	Details  *conversation.TaggedDetails  `json:"details,omitempty"`
}

// Draft is a structured legal claim.
type Draft struct {
	CompanyName string   `json:"companyName"`
	Reference   string   `json:"reference"`
	Facts       []string `json:"facts"`
	Petition    string   `json:"petition"`
}

// Drafter produces a legal claim from a conversation.
type Drafter interface {
	Draft(ctx context.Context, req DraftRequest) (*Draft, error)
}

// Mailer delivers rendered documents by email.
type Mailer interface {
	SendDocument(ctx context.Context, to, subject, html string) error
}
