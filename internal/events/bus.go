// ABOUTME: Bounded event queue between the processing pipeline and the broadcaster
// ABOUTME: Publish never blocks; a single Run loop drains the queue

package events

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind names an event type.
type Kind string

const (
	KindNewConversation    Kind = "newConversation"
	KindNewMessage         Kind = "newMessage"
	KindConversationUpdate Kind = "conversationUpdate"
	KindConversationClosed Kind = "conversationClosed"
	KindReconnectNeeded    Kind = "reconnectNeeded"
	KindWebhookSummary     Kind = "webhookSummary"
)

// DefaultQueueSize is used when NewBus gets a non-positive size.
const DefaultQueueSize = 256

// Event is one notification.
type Event struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	ConversationID string    `json:"conversationId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Payload        any       `json:"payload"`
}

// ReconnectNotice is the payload of a reconnectNeeded event.
type ReconnectNotice struct {
	ConversationID string    `json:"conversationId"`
	Attempts       int       `json:"attempts"`
	LastHeartbeat  time.Time `json:"lastHeartbeat"`
}

// Bus decouples publishers from the broadcaster through a bounded queue.
type Bus struct {
	queue       chan *Event
	broadcaster *Broadcaster
	logger      *slog.Logger
	running     atomic.Bool
	dropped     atomic.Int64
	published   atomic.Int64
}

// NewBus creates a bus that feeds broadcaster.
func NewBus(size int, broadcaster *Broadcaster, logger *slog.Logger) *Bus {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		queue:       make(chan *Event, size),
		broadcaster: broadcaster,
		logger:      logger.With("component", "event-bus"),
	}
}

// Publish enqueues an event. It never blocks; when the queue is full the
// event is dropped and counted.
func (b *Bus) Publish(kind Kind, conversationID string, payload any) {
	ev := &Event{
		ID:             uuid.New().String(),
		Kind:           kind,
		ConversationID: conversationID,
		Timestamp:      time.Now(),
		Payload:        payload,
	}
	select {
	case b.queue <- ev:
		b.published.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("event queue full, dropping event",
			"kind", kind,
			"conversation_id", conversationID)
	}
}

// Run drains the queue into the broadcaster until ctx is cancelled, then
// flushes whatever is still queued.
func (b *Bus) Run(ctx context.Context) {
	b.running.Store(true)
	defer b.running.Store(false)

	for {
		select {
		case ev := <-b.queue:
			b.broadcaster.Publish(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-b.queue:
					b.broadcaster.Publish(ev)
				default:
					return
				}
			}
		}
	}
}

// Running reports whether Run is active.
func (b *Bus) Running() bool { return b.running.Load() }

// Dropped returns how many events were lost to a full queue.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Published returns how many events were enqueued.
func (b *Bus) Published() int64 { return b.published.Load() }
