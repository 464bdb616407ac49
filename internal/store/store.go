// ABOUTME: Archive interface and data types for closed conversation persistence
// ABOUTME: Defines ArchivedConversation, ArchiveSummary and the Archive interface

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/2389/reclama-gateway/internal/conversation"
)

// ErrNotFound is returned when a requested archive does not exist
var ErrNotFound = errors.New("not found")

// DefaultListLimit caps ListArchived when no limit is given.
const DefaultListLimit = 100

// ArchivedConversation is a closed conversation as it was when archived.
type ArchivedConversation struct {
	ArchiveID         string                       `json:"archiveId"`
	ConversationID    string                       `json:"conversationId"`
	UserAddress       string                       `json:"userAddress"`
	Category          string                       `json:"category,omitempty"`
	Reason            string                       `json:"reason"`
	Customer          conversation.CustomerProfile `json:"customer"`
	DocumentGenerated bool                         `json:"documentGenerated"`
	Metadata          json.RawMessage              `json:"metadata,omitempty"`
	Details           json.RawMessage              `json:"details,omitempty"`
	StartedAt         time.Time                    `json:"startedAt"`
	LastUpdateAt      time.Time                    `json:"lastUpdateAt"`
	ArchivedAt        time.Time                    `json:"archivedAt"`
	Messages          []conversation.Message       `json:"messages"`
	History           []conversation.HistoryEntry  `json:"history"`
}

// ArchiveSummary is one row of an archive listing.
type ArchiveSummary struct {
	ArchiveID      string    `json:"archiveId"`
	ConversationID string    `json:"conversationId"`
	Category       string    `json:"category,omitempty"`
	Reason         string    `json:"reason"`
	MessageCount   int       `json:"messageCount"`
	ArchivedAt     time.Time `json:"archivedAt"`
}

// Archive persists closed conversations. It satisfies conversation.Archiver.
type Archive interface {
	ArchiveConversation(ctx context.Context, snap *conversation.Snapshot, reason string) error

	// GetArchived returns one archive by id, or ErrNotFound.
	GetArchived(ctx context.Context, archiveID string) (*ArchivedConversation, error)

	// ListArchived returns the newest archives first. An empty
	// conversationID lists every conversation.
	ListArchived(ctx context.Context, conversationID string, limit int) ([]*ArchiveSummary, error)

	// CountArchived returns the number of archived conversations.
	CountArchived(ctx context.Context) (int, error)

	Close() error
}

var (
	_ Archive               = (*SQLiteStore)(nil)
	_ Archive               = (*MemoryStore)(nil)
	_ conversation.Archiver = (*SQLiteStore)(nil)
)

// fromSnapshot builds the archived form of snap.
func fromSnapshot(archiveID string, snap *conversation.Snapshot, reason string, now time.Time) (*ArchivedConversation, error) {
	meta, err := json.Marshal(snap.Metadata)
	if err != nil {
		return nil, err
	}
	var details json.RawMessage
	if snap.Details != nil {
		if details, err = json.Marshal(snap.Details); err != nil {
			return nil, err
		}
	}
	return &ArchivedConversation{
		ArchiveID:         archiveID,
		ConversationID:    snap.ConversationID,
		UserAddress:       snap.UserAddress,
		Category:          string(snap.Category),
		Reason:            reason,
		Customer:          snap.Metadata.Customer,
		DocumentGenerated: snap.Metadata.Document != nil && snap.Metadata.Document.Generated,
		Metadata:          meta,
		Details:           details,
		StartedAt:         snap.StartTime,
		LastUpdateAt:      snap.LastUpdateTime,
		ArchivedAt:        now,
		Messages:          append([]conversation.Message{}, snap.Messages...),
		History:           append([]conversation.HistoryEntry{}, snap.Metadata.ProcessingHistory...),
	}, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
