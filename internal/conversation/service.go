// ABOUTME: Conversation lifecycle service: create, look up, heartbeat and close records
// ABOUTME: Commits every mutation to the record before publishing the matching event

package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/reclama-gateway/internal/events"
)

// Publisher is what the service needs from the event bus.
type Publisher interface {
	Publish(kind events.Kind, conversationID string, payload any)
}

// Archiver persists closed conversations. Archival failures are logged and
// never block removal from the registry.
type Archiver interface {
	ArchiveConversation(ctx context.Context, snap *Snapshot, reason string) error
}

// CloseReason explains why a conversation was closed.
type CloseReason string

const (
	CloseInactive      CloseReason = "inactive"
	CloseHeartbeatLost CloseReason = "heartbeat_lost"
	CloseExplicit      CloseReason = "explicit"
)

// Service is the lifecycle layer over the registry. Every state change is
// committed to the record first and announced second.
type Service struct {
	registry  *Registry
	publisher Publisher
	archiver  Archiver
	logger    *slog.Logger
}

// NewService creates a Service. archiver may be nil.
func NewService(registry *Registry, publisher Publisher, archiver Archiver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry:  registry,
		publisher: publisher,
		archiver:  archiver,
		logger:    logger.With("component", "conversation"),
	}
}

// Registry exposes the underlying registry.
func (s *Service) Registry() *Registry { return s.registry }

// Ensure returns the record for id, creating it on first contact. The
// customer profile is filled in on creation and when fields are missing.
func (s *Service) Ensure(id, address string, profile CustomerProfile) (*Record, bool, error) {
	rec, created, err := s.registry.GetOrCreate(id, address)
	if err != nil {
		return nil, false, err
	}

	rec.UpdateMetadata(func(m *Metadata) {
		if m.Customer.Name == "" {
			m.Customer.Name = profile.Name
		}
		if m.Customer.Phone == "" {
			m.Customer.Phone = profile.Phone
		}
		if m.Customer.Email == "" {
			m.Customer.Email = profile.Email
		}
	})

	if created {
		s.logger.Info("conversation created", "conversation_id", id)
		s.publish(events.KindNewConversation, rec)
	}
	return rec, created, nil
}

// EnsureTurn is Ensure followed by LockTurn. A record closed while the
// caller waited for its turn is skipped and the lookup repeated, so the
// returned record is live and its turn is held. The caller must UnlockTurn.
func (s *Service) EnsureTurn(id, address string, profile CustomerProfile) (*Record, bool, error) {
	for {
		rec, created, err := s.Ensure(id, address, profile)
		if err != nil {
			return nil, false, err
		}
		rec.LockTurn()
		if rec.Status() != StatusClosed {
			return rec, created, nil
		}
		rec.UnlockTurn()
	}
}

// Get returns the live record for id.
func (s *Service) Get(id string) (*Record, bool) {
	return s.registry.Get(id)
}

// Snapshots returns a snapshot of every live record.
func (s *Service) Snapshots() []*Snapshot {
	recs := s.registry.All()
	out := make([]*Snapshot, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Snapshot())
	}
	return out
}

// Heartbeat records a liveness ping for id.
func (s *Service) Heartbeat(id string) error {
	rec, ok := s.registry.Get(id)
	if !ok {
		return ErrNotFound
	}
	rec.RecordHeartbeat()
	s.publish(events.KindConversationUpdate, rec)
	return nil
}

// Close closes and removes the record for id.
func (s *Service) Close(ctx context.Context, id string, reason CloseReason) error {
	rec, ok := s.registry.Get(id)
	if !ok {
		return ErrNotFound
	}
	s.CloseRecord(ctx, rec, reason)
	return nil
}

// CloseRecord marks rec closed, archives it, removes it from the registry
// and announces the closure. Closing an already closed record is a no-op.
func (s *Service) CloseRecord(ctx context.Context, rec *Record, reason CloseReason) {
	if !rec.MarkClosed() {
		return
	}
	snap := rec.Snapshot()

	if s.archiver != nil {
		archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := s.archiver.ArchiveConversation(archiveCtx, snap, string(reason)); err != nil {
			s.logger.Error("failed to archive conversation",
				"conversation_id", rec.ID(),
				"error", err)
		}
		cancel()
	}

	s.registry.Remove(rec)
	s.logger.Info("conversation closed",
		"conversation_id", rec.ID(),
		"reason", reason,
		"messages", len(snap.Messages))
	if s.publisher != nil {
		s.publisher.Publish(events.KindConversationClosed, rec.ID(), snap)
	}
}

// NotifyMessage announces that a message was appended to rec.
func (s *Service) NotifyMessage(rec *Record) {
	s.publish(events.KindNewMessage, rec)
}

// NotifyUpdate announces any other committed change to rec.
func (s *Service) NotifyUpdate(rec *Record) {
	s.publish(events.KindConversationUpdate, rec)
}

// NotifyReconnect asks observers to re-establish liveness for rec.
func (s *Service) NotifyReconnect(rec *Record) {
	if s.publisher == nil {
		return
	}
	md := rec.Metadata()
	s.publisher.Publish(events.KindReconnectNeeded, rec.ID(), events.ReconnectNotice{
		ConversationID: rec.ID(),
		Attempts:       md.ReconnectAttempts,
		LastHeartbeat:  rec.LastHeartbeat(),
	})
}

// PublishSummary forwards a non-conversation payload such as a webhook summary.
func (s *Service) PublishSummary(kind events.Kind, payload any) {
	if s.publisher != nil {
		s.publisher.Publish(kind, "", payload)
	}
}

func (s *Service) publish(kind events.Kind, rec *Record) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(kind, rec.ID(), rec.Snapshot())
}
