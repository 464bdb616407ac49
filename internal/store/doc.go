// Package store archives closed conversations.
//
// # Architecture
//
// Archive is the single interface. Two implementations exist:
//
//   - SQLiteStore: durable, backed by modernc.org/sqlite
//   - MemoryStore: in-process, for deployments without a database path and for tests
//
// Both satisfy conversation.Archiver, so the conversation service writes to
// them when a record is closed by inactivity, heartbeat loss or an explicit
// close.
//
// # Data Model
//
// Each close produces one archive row identified by a fresh archive ID. A
// returning customer gets a new live conversation with the same
// conversation ID, so one conversation ID may have several archives.
//
//   - conversations: one row per archive with customer profile, category,
//     close reason and the typed metadata as JSON
//   - messages: the message log in original order
//   - processing_history: success, failure, reset and document entries
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as fixed-width RFC 3339 text with nanoseconds, in UTC.
//
// # Error Handling
//
// ErrNotFound is returned for unknown archive IDs. All methods accept a
// context.Context for cancellation.
package store
