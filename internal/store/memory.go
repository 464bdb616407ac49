// ABOUTME: In-memory Archive implementation
// ABOUTME: Used when no database path is configured and by tests that skip SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/reclama-gateway/internal/conversation"
)

// MemoryStore is an in-memory Archive. Archives are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	archives map[string]*ArchivedConversation // keyed by archive ID
	order    []string                         // archive IDs, oldest first
	now      func() time.Time
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		archives: make(map[string]*ArchivedConversation),
		now:      time.Now,
	}
}

// ArchiveConversation stores a copy of snap.
func (m *MemoryStore) ArchiveConversation(ctx context.Context, snap *conversation.Snapshot, reason string) error {
	ac, err := fromSnapshot(uuid.New().String(), snap, reason, m.now().UTC())
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.archives[ac.ArchiveID] = ac
	m.order = append(m.order, ac.ArchiveID)
	return nil
}

// GetArchived retrieves an archive by ID.
func (m *MemoryStore) GetArchived(ctx context.Context, archiveID string) (*ArchivedConversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ac, ok := m.archives[archiveID]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	result := *ac
	result.Messages = append([]conversation.Message{}, ac.Messages...)
	result.History = append([]conversation.HistoryEntry{}, ac.History...)
	return &result, nil
}

// ListArchived returns archive summaries, newest first.
func (m *MemoryStore) ListArchived(ctx context.Context, conversationID string, limit int) ([]*ArchiveSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := []*ArchiveSummary{}
	for i := len(m.order) - 1; i >= 0; i-- {
		ac := m.archives[m.order[i]]
		if conversationID != "" && ac.ConversationID != conversationID {
			continue
		}
		summaries = append(summaries, &ArchiveSummary{
			ArchiveID:      ac.ArchiveID,
			ConversationID: ac.ConversationID,
			Category:       ac.Category,
			Reason:         ac.Reason,
			MessageCount:   len(ac.Messages),
			ArchivedAt:     ac.ArchivedAt,
		})
	}

	// Stable on ties so insertion order breaks them, matching SQLite's rowid order
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].ArchivedAt.After(summaries[j].ArchivedAt)
	})

	if limit = clampLimit(limit); len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// CountArchived returns the number of archives held.
func (m *MemoryStore) CountArchived(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.archives), nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
