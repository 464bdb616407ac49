// ABOUTME: Conversation record: one user's session state and message log
// ABOUTME: Guards data with a mutex and serializes processing turns with a second lock

package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/2389/reclama-gateway/internal/classifier"
)

// Record is a single user's live conversation. All accessors are safe for
// concurrent use. Processing turns for one record are serialized through
// LockTurn/UnlockTurn; data access takes a separate, short-lived lock.
type Record struct {
	turn sync.Mutex

	mu            sync.RWMutex
	id            string
	address       string
	messages      []Message
	status        Status
	category      classifier.Category
	metadata      Metadata
	startTime     time.Time
	lastUpdate    time.Time
	lastHeartbeat time.Time
	now           func() time.Time
}

func newRecord(id, address string, now func() time.Time) *Record {
	t := now()
	return &Record{
		id:            id,
		address:       address,
		status:        StatusActive,
		startTime:     t,
		lastUpdate:    t,
		lastHeartbeat: t,
		now:           now,
	}
}

// ID returns the conversation id. It never changes.
func (r *Record) ID() string { return r.id }

// Address returns the channel routing address.
func (r *Record) Address() string { return r.address }

// LockTurn blocks until no other turn is running for this conversation.
func (r *Record) LockTurn() { r.turn.Lock() }

// UnlockTurn releases the turn lock.
func (r *Record) UnlockTurn() { r.turn.Unlock() }

// touchLocked bumps lastUpdate without ever moving it backwards.
func (r *Record) touchLocked() {
	if t := r.now(); t.After(r.lastUpdate) {
		r.lastUpdate = t
	}
}

// AppendMessage adds m to the end of the log.
func (r *Record) AppendMessage(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.Timestamp.IsZero() {
		m.Timestamp = r.now()
	}
	r.messages = append(r.messages, m)
	r.touchLocked()
}

// HasMessage reports whether a message with id is already logged.
func (r *Record) HasMessage(id string) bool {
	_, ok := r.Message(id)
	return ok
}

// Message returns a copy of the message with id.
func (r *Record) Message(id string) (Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// IsFirstMessage reports whether id is the first inbound message of the
// conversation. Outbound greetings sent before it do not count.
func (r *Record) IsFirstMessage(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.messages {
		if m.Direction == DirectionInbound {
			return m.ID == id
		}
	}
	return false
}

// MessageUpdate is the subset of a message the pipeline may change in place.
type MessageUpdate struct {
	Processed   *bool
	Error       *string
	Attempts    *int
	LastAttempt *time.Time
	Status      *DeliveryStatus
	Apologized  *bool
}

// UpdateMessage applies u to the message with id.
func (r *Record) UpdateMessage(id string, u MessageUpdate) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		m := &r.messages[i]
		if m.ID != id {
			continue
		}
		if u.Processed != nil {
			m.Processed = *u.Processed
		}
		if u.Error != nil {
			m.Error = *u.Error
		}
		if u.Attempts != nil {
			m.Attempts = *u.Attempts
		}
		if u.LastAttempt != nil {
			m.LastAttempt = *u.LastAttempt
		}
		if u.Status != nil {
			m.Status = *u.Status
		}
		if u.Apologized != nil {
			m.Apologized = *u.Apologized
		}
		r.touchLocked()
		return *m, nil
	}
	return Message{}, ErrMessageNotFound
}

// BeginAttempt increments the attempt counter of id and stamps lastAttempt.
func (r *Record) BeginAttempt(id string) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		m := &r.messages[i]
		if m.ID == id {
			m.Attempts++
			m.LastAttempt = r.now()
			r.touchLocked()
			return *m, nil
		}
	}
	return Message{}, ErrMessageNotFound
}

// Messages returns a copy of the log.
func (r *Record) Messages() []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Message(nil), r.messages...)
}

// UnprocessedInbound returns the ids of inbound messages not yet processed.
func (r *Record) UnprocessedInbound() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for _, m := range r.messages {
		if m.Direction == DirectionInbound && !m.Processed && m.Control == ControlNone {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// InboundText joins every inbound text and audio transcription in order.
// It is the context the classifier sees.
func (r *Record) InboundText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	parts := make([]string, 0, len(r.messages))
	for _, m := range r.messages {
		if m.Direction != DirectionInbound {
			continue
		}
		switch m.Type {
		case TypeText:
			parts = append(parts, m.Content)
		case TypeAudio:
			if text, ok := r.metadata.Transcription(m.ID); ok {
				parts = append(parts, text)
			}
		}
	}
	return strings.Join(parts, " ")
}

// Category returns the sticky category, or "" if unset.
func (r *Record) Category() classifier.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.category
}

// SetCategoryIfUnset sets the category only when none is set yet. It
// returns true when the category changed.
func (r *Record) SetCategoryIfUnset(c classifier.Category) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.category.Known() || c == "" {
		return false
	}
	if r.category == c {
		return false
	}
	r.category = c
	if c.Known() && r.metadata.Details == nil {
		r.metadata.Details = DetailsFor(c)
	}
	r.touchLocked()
	return true
}

// ResetCategory clears the category, classification history and category
// details. It returns the category that was set before.
func (r *Record) ResetCategory() classifier.Category {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.category
	r.category = ""
	r.metadata.Classifications = nil
	r.metadata.Details = nil
	r.touchLocked()
	return prev
}

// Metadata returns a deep copy of the metadata.
func (r *Record) Metadata() Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metadata.clone()
}

// UpdateMetadata runs fn with exclusive access to the metadata.
func (r *Record) UpdateMetadata(fn func(*Metadata)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.metadata)
	r.touchLocked()
}

// Status returns the lifecycle status.
func (r *Record) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// MarkClosed flips the record to closed. It returns false if it already was.
func (r *Record) MarkClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusClosed {
		return false
	}
	r.status = StatusClosed
	r.touchLocked()
	return true
}

// StartTime returns when the record was created.
func (r *Record) StartTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.startTime
}

// LastUpdate returns the time of the last mutation.
func (r *Record) LastUpdate() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastUpdate
}

// LastHeartbeat returns the time of the last liveness ping.
func (r *Record) LastHeartbeat() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastHeartbeat
}

// RecordHeartbeat stamps a liveness ping, opts the record into heartbeat
// sweeps and clears the reconnect counter.
func (r *Record) RecordHeartbeat() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastHeartbeat = r.now()
	r.metadata.ExpectsHeartbeat = true
	r.metadata.ReconnectAttempts = 0
	r.touchLocked()
}

// Snapshot returns a deep, serializable copy of the record.
func (r *Record) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := &Snapshot{
		ConversationID: r.id,
		UserAddress:    r.address,
		Status:         r.status,
		Category:       r.category,
		Messages:       append([]Message{}, r.messages...),
		Metadata:       r.metadata.clone(),
		StartTime:      r.startTime,
		LastUpdateTime: r.lastUpdate,
		LastHeartbeat:  r.lastHeartbeat,
	}
	if d := r.metadata.Details; d != nil {
		s.Details = &TaggedDetails{Kind: d.Category(), Value: d}
	}
	return s
}
