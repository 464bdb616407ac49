// ABOUTME: Matrix sync loop that feeds room messages into the Ingestor
// ABOUTME: Each room is one conversation; redactions reset the conversation

package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// MatrixConfig configures a MatrixSource.
type MatrixConfig struct {
	// AllowedRooms limits ingestion to these room ids. Empty allows all.
	AllowedRooms []string
}

// MatrixSource reads messages from a Matrix sync and ingests them.
type MatrixSource struct {
	client   *mautrix.Client
	ingestor *Ingestor
	cfg      MatrixConfig
	logger   *slog.Logger

	ctx context.Context
	wg  sync.WaitGroup

	mu     sync.Mutex
	queues map[string][]pendingEvent // pending events of rooms with a running drain
}

type pendingEvent struct {
	msg   InboundMessage
	names map[string]string
}

// NewMatrixSource creates a MatrixSource on an authenticated client.
func NewMatrixSource(client *mautrix.Client, ingestor *Ingestor, cfg MatrixConfig, logger *slog.Logger) *MatrixSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatrixSource{
		client:   client,
		ingestor: ingestor,
		cfg:      cfg,
		logger:   logger.With("component", "matrix-source"),
		queues:   make(map[string][]pendingEvent),
	}
}

// Run syncs until ctx is cancelled, then waits for in-flight turns.
func (s *MatrixSource) Run(ctx context.Context) error {
	syncer, ok := s.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", s.client.Syncer)
	}

	var cancel context.CancelFunc
	s.ctx, cancel = context.WithCancel(ctx)
	defer cancel()

	syncer.OnEventType(event.EventMessage, s.handleEvent)
	syncer.OnEventType(event.EventRedaction, s.handleEvent)

	s.logger.Info("starting matrix sync", "user_id", s.client.UserID.String())

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- s.client.SyncWithContext(s.ctx)
	}()

	var err error
	select {
	case <-ctx.Done():
		s.logger.Info("stopping matrix sync")
		cancel()
		<-syncErr
	case err = <-syncErr:
		if err != nil {
			err = fmt.Errorf("matrix sync failed: %w", err)
		}
	}
	s.wg.Wait()
	return err
}

func (s *MatrixSource) handleEvent(_ context.Context, evt *event.Event) {
	if evt.Sender == s.client.UserID {
		return
	}
	if len(s.cfg.AllowedRooms) > 0 && !slices.Contains(s.cfg.AllowedRooms, evt.RoomID.String()) {
		s.logger.Debug("ignoring event from non-allowed room", "room", evt.RoomID.String())
		return
	}

	msg, ok := inboundFromEvent(evt)
	if !ok {
		return
	}
	names := map[string]string{msg.From: senderName(evt.Sender)}
	s.enqueue(pendingEvent{msg: msg, names: names})
}

// enqueue hands ev to its room's drain, starting one if the room is idle.
// Rooms are ingested in parallel; events of one room strictly in sync order.
func (s *MatrixSource) enqueue(ev pendingEvent) {
	room := ev.msg.From
	s.mu.Lock()
	q, running := s.queues[room]
	s.queues[room] = append(q, ev)
	if !running {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if !running {
		go s.drain(room)
	}
}

func (s *MatrixSource) drain(room string) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		q := s.queues[room]
		if len(q) == 0 {
			delete(s.queues, room)
			s.mu.Unlock()
			return
		}
		ev := q[0]
		s.queues[room] = q[1:]
		s.mu.Unlock()

		sum := s.ingestor.IngestMessages(s.ctx, []InboundMessage{ev.msg}, ev.names)
		if sum.Errors > 0 {
			s.logger.Warn("matrix message failed",
				"room", room,
				"event_id", ev.msg.ID,
				"error", sum.Details[0].Error)
		}
	}
}

// inboundFromEvent maps a room event onto the inbound message shape.
func inboundFromEvent(evt *event.Event) (InboundMessage, bool) {
	msg := InboundMessage{
		From: evt.RoomID.String(),
		ID:   evt.ID.String(),
	}
	if evt.Timestamp > 0 {
		msg.Timestamp = strconv.FormatInt(evt.Timestamp/1000, 10)
	}

	if evt.Type == event.EventRedaction {
		msg.Type = "system"
		msg.System = &SystemBody{Type: "redaction", Body: "message deleted"}
		msg.Reset = true
		return msg, true
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return InboundMessage{}, false
	}

	var mimeType string
	if content.Info != nil {
		mimeType = content.Info.MimeType
	}

	switch content.MsgType {
	case event.MsgText, event.MsgNotice:
		msg.Type = "text"
		msg.Text = &TextBody{Body: content.Body}
	case event.MsgAudio:
		msg.Type = "audio"
		msg.Audio = &MediaBody{ID: string(content.URL), MimeType: mimeType, Voice: true}
	case event.MsgFile:
		name := content.FileName
		if name == "" {
			name = content.Body
		}
		msg.Type = "document"
		msg.Document = &MediaBody{ID: string(content.URL), MimeType: mimeType, Filename: name}
	default:
		msg.Type = strings.TrimPrefix(string(content.MsgType), "m.")
	}
	return msg, true
}

func senderName(u id.UserID) string {
	local, _, err := u.Parse()
	if err != nil {
		return u.String()
	}
	return local
}
