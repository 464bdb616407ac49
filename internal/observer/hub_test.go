// ABOUTME: Tests for the observer WebSocket hub against a real httptest server
// ABOUTME: Covers event forwarding, heartbeat frames, missed pongs and shutdown

package observer

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/reclama-gateway/internal/conversation"
	"github.com/2389/reclama-gateway/internal/events"
)

type fakeSink struct {
	mu    sync.Mutex
	known map[string]bool
	beats []string
}

func (f *fakeSink) Heartbeat(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[id] {
		return conversation.ErrNotFound
	}
	f.beats = append(f.beats, id)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.beats)
}

type hubHarness struct {
	hub         *Hub
	broadcaster *events.Broadcaster
	sink        *fakeSink
	url         string
}

func newHubHarness(t *testing.T, cfg Config) *hubHarness {
	t.Helper()
	b := events.NewBroadcaster(nil)
	sink := &fakeSink{known: map[string]bool{"u1": true}}
	hub := NewHub(b, sink, cfg, nil)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		b.Close()
	})
	return &hubHarness{
		hub:         hub,
		broadcaster: b,
		sink:        sink,
		url:         "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (h *hubHarness) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(h.url+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	var hello map[string]string
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&hello))
	assert.Equal(t, "connected", hello["type"])
	assert.NotEmpty(t, hello["connectionId"])
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, ws.ReadJSON(&frame))
	return frame
}

func TestHub_ForwardsEvents(t *testing.T) {
	h := newHubHarness(t, Config{})
	ws := h.dial(t, "")
	require.Equal(t, 1, h.hub.Count())

	h.broadcaster.Publish(&events.Event{
		ID:             "ev-1",
		Kind:           events.KindNewMessage,
		ConversationID: "u1",
		Timestamp:      time.Now(),
		Payload:        map[string]string{"content": "hola"},
	})

	frame := readFrame(t, ws)
	assert.Equal(t, "newMessage", frame["kind"])
	assert.Equal(t, "u1", frame["conversationId"])
	assert.Equal(t, "hola", frame["payload"].(map[string]any)["content"])
}

func TestHub_ConversationFilter(t *testing.T) {
	h := newHubHarness(t, Config{})
	ws := h.dial(t, "?conversation=u2")

	h.broadcaster.Publish(&events.Event{ID: "a", Kind: events.KindNewMessage, ConversationID: "u1"})
	h.broadcaster.Publish(&events.Event{ID: "b", Kind: events.KindNewMessage, ConversationID: "u2"})

	frame := readFrame(t, ws)
	assert.Equal(t, "b", frame["id"])
}

func TestHub_HeartbeatFrames(t *testing.T) {
	h := newHubHarness(t, Config{})
	ws := h.dial(t, "")

	tests := []struct {
		name     string
		frame    string
		wantType string
		wantCode string
	}{
		{name: "known conversation", frame: `{"type":"heartbeat","conversationId":"u1"}`, wantType: "heartbeatAck"},
		{name: "unknown conversation", frame: `{"type":"heartbeat","conversationId":"ghost"}`, wantType: "error", wantCode: "not_found"},
		{name: "missing id", frame: `{"type":"heartbeat"}`, wantType: "error", wantCode: "bad_request"},
		{name: "unknown type", frame: `{"type":"dance"}`, wantType: "error", wantCode: "unsupported_type"},
		{name: "not json", frame: `{{`, wantType: "error", wantCode: "bad_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(tt.frame)))
			frame := readFrame(t, ws)
			assert.Equal(t, tt.wantType, frame["type"])
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, frame["code"])
			}
		})
	}
	assert.Equal(t, 1, h.sink.count())
}

func TestHub_MissedPongsDisconnect(t *testing.T) {
	h := newHubHarness(t, Config{PingInterval: 50 * time.Millisecond, MaxMissedPongs: 2})
	ws := h.dial(t, "")
	ws.SetPingHandler(func(string) error { return nil })

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var err error
	for err == nil {
		_, _, err = ws.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, CloseMissedPongs), "got %v", err)
	assert.Eventually(t, func() bool { return h.hub.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_PongsKeepConnectionAlive(t *testing.T) {
	h := newHubHarness(t, Config{PingInterval: 20 * time.Millisecond, MaxMissedPongs: 2})
	ws := h.dial(t, "")

	// Reading lets the default ping handler answer with pongs.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, h.hub.Count())
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	h := newHubHarness(t, Config{})
	ws := h.dial(t, "")

	h.hub.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	_, resp, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestHub_ClientLeaveDetaches(t *testing.T) {
	h := newHubHarness(t, Config{})
	ws := h.dial(t, "")
	require.Equal(t, 1, h.hub.Count())

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	assert.Eventually(t, func() bool {
		return h.hub.Count() == 0 && h.broadcaster.SubscriberCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultPingInterval, cfg.PingInterval)
	assert.Equal(t, DefaultMaxMissedPongs, cfg.MaxMissedPongs)
	assert.Equal(t, DefaultSendBuffer, cfg.SendBuffer)
}

func TestEventJSONShape(t *testing.T) {
	raw, err := json.Marshal(&events.Event{ID: "x", Kind: events.KindConversationClosed, ConversationID: "u1"})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"kind":"conversationClosed"`)
}
