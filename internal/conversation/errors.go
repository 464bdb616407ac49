// ABOUTME: Error taxonomy shared by the ingestion and processing pipeline
// ABOUTME: Sentinels for permanent failures, CollaboratorError for retry-eligible ones

package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPayload rejects a whole webhook envelope.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrValidation rejects a single inbound message; siblings continue.
	ErrValidation = errors.New("validation failed")

	// ErrUnsupportedMessageType is permanent and never retried.
	ErrUnsupportedMessageType = errors.New("unsupported message type")

	// ErrDuplicateOrInvalidInput guards registry creation.
	ErrDuplicateOrInvalidInput = errors.New("duplicate or invalid input")

	// ErrNotFound is returned when a conversation is not in the registry.
	ErrNotFound = errors.New("conversation not found")

	// ErrMessageNotFound is returned when a message id is not in a record.
	ErrMessageNotFound = errors.New("message not found")
)

// FailureKind names the collaborator capability that failed.
type FailureKind string

const (
	FailureMediaFetch     FailureKind = "media_fetch"
	FailureTranscription  FailureKind = "transcription"
	FailureSynthesis      FailureKind = "synthesis"
	FailureClassification FailureKind = "classification"
	FailureDrafting       FailureKind = "drafting"
	FailureDelivery       FailureKind = "delivery"
	FailureAssistant      FailureKind = "assistant"
)

// CollaboratorError is a failure at an external collaborator boundary.
// These are transient unless Permanent is set (e.g. a 4xx the remote will
// keep returning).
type CollaboratorError struct {
	Kind      FailureKind
	Op        string
	Permanent bool
	Err       error
}

func (e *CollaboratorError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s failed: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Kind, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// NewCollaboratorError wraps err as a transient failure of kind.
func NewCollaboratorError(kind FailureKind, op string, err error) *CollaboratorError {
	return &CollaboratorError{Kind: kind, Op: op, Err: err}
}

// FailureKindOf returns the collaborator kind carried by err, if any.
func FailureKindOf(err error) (FailureKind, bool) {
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}
