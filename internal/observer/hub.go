// ABOUTME: WebSocket endpoint bridging the event broadcaster to dashboard clients
// ABOUTME: Tracks live connections and handles heartbeat frames sent by clients

package observer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/reclama-gateway/internal/auth"
	"github.com/2389/reclama-gateway/internal/conversation"
	"github.com/2389/reclama-gateway/internal/events"
)

const (
	DefaultPingInterval   = 30 * time.Second
	DefaultMaxMissedPongs = 3
	DefaultSendBuffer     = 128

	maxFrameSize = 64 << 10
)

// Config tunes observer connections.
type Config struct {
	PingInterval   time.Duration
	MaxMissedPongs int
	SendBuffer     int
	// AllowedOrigins restricts browser origins; empty allows any.
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.MaxMissedPongs <= 0 {
		c.MaxMissedPongs = DefaultMaxMissedPongs
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	return c
}

// HeartbeatSink records client heartbeats. conversation.Service satisfies it.
type HeartbeatSink interface {
	Heartbeat(conversationID string) error
}

// Hub accepts observer connections.
type Hub struct {
	broadcaster *events.Broadcaster
	heartbeats  HeartbeatSink
	cfg         Config
	upgrader    websocket.Upgrader
	logger      *slog.Logger

	mu     sync.RWMutex
	conns  map[string]*Connection
	closed bool
}

// NewHub creates a Hub. Pass nil logger for default.
func NewHub(broadcaster *events.Broadcaster, heartbeats HeartbeatSink, cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	h := &Hub{
		broadcaster: broadcaster,
		heartbeats:  heartbeats,
		cfg:         cfg,
		logger:      logger.With("component", "observer"),
		conns:       make(map[string]*Connection),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

type inboundFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
}

type ackFrame struct {
	Type           string `json:"type"`
	ConnectionID   string `json:"connectionId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// ServeHTTP upgrades the request and pumps events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(maxFrameSize)

	subject := ""
	if ac := auth.FromContext(r.Context()); ac != nil {
		subject = ac.Subject
	}
	conn := newConnection(ws, subject, h.cfg)

	key := r.URL.Query().Get("conversation")
	if key == "" {
		key = events.AllConversations
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stream, _ := h.broadcaster.Subscribe(ctx, key)

	h.attach(conn)
	defer func() {
		h.detach(conn)
		conn.Close(websocket.CloseNormalClosure, "session closed")
	}()

	h.logger.Info("observer connected", "connection_id", conn.ID, "subject", subject, "key", key)

	go conn.writeLoop()
	go h.forward(conn, stream)

	h.reply(conn, ackFrame{Type: "connected", ConnectionID: conn.ID})
	h.readLoop(conn)

	h.logger.Info("observer disconnected", "connection_id", conn.ID)
}

func (h *Hub) forward(conn *Connection, stream <-chan *events.Event) {
	for {
		select {
		case <-conn.Done():
			return
		case ev, ok := <-stream:
			if !ok {
				conn.Close(websocket.CloseGoingAway, "server shutdown")
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("failed to encode event", "kind", ev.Kind, "error", err)
				continue
			}
			if err := conn.Send(payload); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(conn *Connection) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.logger.Debug("observer read ended", "connection_id", conn.ID, "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.reply(conn, errorFrame{Type: "error", Code: "bad_request", Error: "invalid frame"})
			continue
		}

		switch frame.Type {
		case "heartbeat":
			h.handleHeartbeat(conn, frame)
		default:
			h.reply(conn, errorFrame{Type: "error", Code: "unsupported_type", Error: "unknown frame type"})
		}
	}
}

func (h *Hub) handleHeartbeat(conn *Connection, frame inboundFrame) {
	if frame.ConversationID == "" {
		h.reply(conn, errorFrame{Type: "error", Code: "bad_request", Error: "conversationId is required"})
		return
	}
	if err := h.heartbeats.Heartbeat(frame.ConversationID); err != nil {
		code := "internal"
		if errors.Is(err, conversation.ErrNotFound) {
			code = "not_found"
		}
		h.reply(conn, errorFrame{Type: "error", Code: code, Error: err.Error()})
		return
	}
	h.reply(conn, ackFrame{Type: "heartbeatAck", ConversationID: frame.ConversationID})
}

func (h *Hub) reply(conn *Connection, frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(h.cfg.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, origin)
}

func (h *Hub) attach(conn *Connection) {
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.mu.Unlock()
}

func (h *Hub) detach(conn *Connection) {
	h.mu.Lock()
	delete(h.conns, conn.ID)
	h.mu.Unlock()
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutdown")
	}
}
