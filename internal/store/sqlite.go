// ABOUTME: SQLite implementation of the Archive interface using modernc.org/sqlite
// ABOUTME: Stores closed conversations, their messages and processing history

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/2389/reclama-gateway/internal/conversation"
)

// SQLiteStore implements Archive using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			archive_id         TEXT PRIMARY KEY,
			conversation_id    TEXT NOT NULL,
			user_address       TEXT NOT NULL,
			category           TEXT,
			reason             TEXT NOT NULL,
			customer_name      TEXT,
			customer_phone     TEXT,
			customer_email     TEXT,
			document_generated INTEGER NOT NULL DEFAULT 0,
			metadata_json      TEXT NOT NULL,
			details_json       TEXT,
			started_at         TEXT NOT NULL,
			last_update_at     TEXT NOT NULL,
			archived_at        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_conversation_id
			ON conversations(conversation_id);

		CREATE INDEX IF NOT EXISTS idx_conversations_archived_at
			ON conversations(archived_at);

		CREATE TABLE IF NOT EXISTS messages (
			archive_id   TEXT NOT NULL,
			seq          INTEGER NOT NULL,
			id           TEXT NOT NULL,
			type         TEXT NOT NULL,
			direction    TEXT NOT NULL,
			content      TEXT NOT NULL,
			status       TEXT,
			processed    INTEGER NOT NULL DEFAULT 0,
			attempts     INTEGER NOT NULL DEFAULT 0,
			error        TEXT,
			media_id     TEXT,
			mime_type    TEXT,
			filename     TEXT,
			created_at   TEXT NOT NULL,
			PRIMARY KEY (archive_id, seq),
			FOREIGN KEY (archive_id) REFERENCES conversations(archive_id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS processing_history (
			archive_id TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			kind       TEXT NOT NULL,
			message_id TEXT,
			detail     TEXT,
			at         TEXT NOT NULL,
			PRIMARY KEY (archive_id, seq),
			FOREIGN KEY (archive_id) REFERENCES conversations(archive_id) ON DELETE CASCADE
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// ArchiveConversation writes snap with its messages and history in one
// transaction.
func (s *SQLiteStore) ArchiveConversation(ctx context.Context, snap *conversation.Snapshot, reason string) error {
	ac, err := fromSnapshot(uuid.New().String(), snap, reason, s.now().UTC())
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (
			archive_id, conversation_id, user_address, category, reason,
			customer_name, customer_phone, customer_email, document_generated,
			metadata_json, details_json, started_at, last_update_at, archived_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ac.ArchiveID,
		ac.ConversationID,
		ac.UserAddress,
		nullString(ac.Category),
		ac.Reason,
		nullString(ac.Customer.Name),
		nullString(ac.Customer.Phone),
		nullString(ac.Customer.Email),
		ac.DocumentGenerated,
		string(ac.Metadata),
		nullString(string(ac.Details)),
		formatTime(ac.StartedAt),
		formatTime(ac.LastUpdateAt),
		formatTime(ac.ArchivedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	for i, m := range ac.Messages {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (
				archive_id, seq, id, type, direction, content, status,
				processed, attempts, error, media_id, mime_type, filename, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			ac.ArchiveID, i, m.ID, string(m.Type), string(m.Direction), m.Content,
			nullString(string(m.Status)), m.Processed, m.Attempts, nullString(m.Error),
			nullString(m.MediaID), nullString(m.MimeType), nullString(m.Filename),
			formatTime(m.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("inserting message %s: %w", m.ID, err)
		}
	}

	for i, h := range ac.History {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO processing_history (archive_id, seq, kind, message_id, detail, at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, ac.ArchiveID, i, string(h.Kind), nullString(h.MessageID), nullString(h.Detail), formatTime(h.At))
		if err != nil {
			return fmt.Errorf("inserting history entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing archive: %w", err)
	}

	s.logger.Debug("archived conversation",
		"archive_id", ac.ArchiveID,
		"conversation_id", ac.ConversationID,
		"reason", reason,
		"messages", len(ac.Messages))
	return nil
}

// GetArchived retrieves an archive by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetArchived(ctx context.Context, archiveID string) (*ArchivedConversation, error) {
	var ac ArchivedConversation
	var category, name, phone, email, details sql.NullString
	var metadata, startedAt, lastUpdateAt, archivedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT archive_id, conversation_id, user_address, category, reason,
			customer_name, customer_phone, customer_email, document_generated,
			metadata_json, details_json, started_at, last_update_at, archived_at
		FROM conversations
		WHERE archive_id = ?
	`, archiveID).Scan(
		&ac.ArchiveID, &ac.ConversationID, &ac.UserAddress, &category, &ac.Reason,
		&name, &phone, &email, &ac.DocumentGenerated,
		&metadata, &details, &startedAt, &lastUpdateAt, &archivedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying archive: %w", err)
	}

	ac.Category = category.String
	ac.Customer = conversation.CustomerProfile{Name: name.String, Phone: phone.String, Email: email.String}
	ac.Metadata = []byte(metadata)
	if details.Valid {
		ac.Details = []byte(details.String)
	}
	if ac.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if ac.LastUpdateAt, err = parseTime(lastUpdateAt); err != nil {
		return nil, fmt.Errorf("parsing last_update_at: %w", err)
	}
	if ac.ArchivedAt, err = parseTime(archivedAt); err != nil {
		return nil, fmt.Errorf("parsing archived_at: %w", err)
	}

	if ac.Messages, err = s.archivedMessages(ctx, archiveID); err != nil {
		return nil, err
	}
	if ac.History, err = s.archivedHistory(ctx, archiveID); err != nil {
		return nil, err
	}
	return &ac, nil
}

func (s *SQLiteStore) archivedMessages(ctx context.Context, archiveID string) ([]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, direction, content, status, processed, attempts,
			error, media_id, mime_type, filename, created_at
		FROM messages
		WHERE archive_id = ?
		ORDER BY seq ASC
	`, archiveID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []conversation.Message{}
	for rows.Next() {
		var m conversation.Message
		var msgType, direction, createdAt string
		var status, msgErr, mediaID, mimeType, filename sql.NullString

		if err := rows.Scan(&m.ID, &msgType, &direction, &m.Content, &status, &m.Processed, &m.Attempts,
			&msgErr, &mediaID, &mimeType, &filename, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		m.Type = conversation.MessageType(msgType)
		m.Direction = conversation.Direction(direction)
		m.Status = conversation.DeliveryStatus(status.String)
		m.Error = msgErr.String
		m.MediaID = mediaID.String
		m.MimeType = mimeType.String
		m.Filename = filename.String
		if m.Timestamp, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

func (s *SQLiteStore) archivedHistory(ctx context.Context, archiveID string) ([]conversation.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, message_id, detail, at
		FROM processing_history
		WHERE archive_id = ?
		ORDER BY seq ASC
	`, archiveID)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	history := []conversation.HistoryEntry{}
	for rows.Next() {
		var h conversation.HistoryEntry
		var kind, at string
		var messageID, detail sql.NullString
		if err := rows.Scan(&kind, &messageID, &detail, &at); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		h.Kind = conversation.HistoryKind(kind)
		h.MessageID = messageID.String
		h.Detail = detail.String
		if h.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("parsing history at: %w", err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history rows: %w", err)
	}
	return history, nil
}

// ListArchived returns archive summaries, newest first.
func (s *SQLiteStore) ListArchived(ctx context.Context, conversationID string, limit int) ([]*ArchiveSummary, error) {
	query := `
		SELECT c.archive_id, c.conversation_id, c.category, c.reason, c.archived_at,
			(SELECT COUNT(*) FROM messages m WHERE m.archive_id = c.archive_id)
		FROM conversations c
	`
	args := []any{}
	if conversationID != "" {
		query += ` WHERE c.conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY c.archived_at DESC, c.rowid DESC LIMIT ?`
	args = append(args, clampLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying archives: %w", err)
	}
	defer rows.Close()

	summaries := []*ArchiveSummary{}
	for rows.Next() {
		var sum ArchiveSummary
		var category sql.NullString
		var archivedAt string
		if err := rows.Scan(&sum.ArchiveID, &sum.ConversationID, &category, &sum.Reason, &archivedAt, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning archive row: %w", err)
		}
		sum.Category = category.String
		if sum.ArchivedAt, err = parseTime(archivedAt); err != nil {
			return nil, fmt.Errorf("parsing archived_at: %w", err)
		}
		summaries = append(summaries, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating archive rows: %w", err)
	}
	return summaries, nil
}

// CountArchived returns the number of archived conversations.
func (s *SQLiteStore) CountArchived(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting archives: %w", err)
	}
	return n, nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// timeFormat is fixed-width so text ordering matches time ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
