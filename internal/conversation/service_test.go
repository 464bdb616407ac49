// ABOUTME: Tests for the conversation lifecycle service
// ABOUTME: Verifies event ordering, archival on close and heartbeat bookkeeping

package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/reclama-gateway/internal/events"
)

type recordedEvent struct {
	kind           events.Kind
	conversationID string
	payload        any
}

type mockPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *mockPublisher) Publish(kind events.Kind, conversationID string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{kind: kind, conversationID: conversationID, payload: payload})
}

func (p *mockPublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Kind, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.kind
	}
	return out
}

type mockArchiver struct {
	mu       sync.Mutex
	archived []*Snapshot
	reasons  []string
	err      error
}

func (a *mockArchiver) ArchiveConversation(_ context.Context, snap *Snapshot, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, snap)
	a.reasons = append(a.reasons, reason)
	return a.err
}

func newTestService(archiver Archiver) (*Service, *mockPublisher) {
	pub := &mockPublisher{}
	return NewService(NewRegistry(nil), pub, archiver, nil), pub
}

func TestService_EnsureCreatesOnce(t *testing.T) {
	svc, pub := newTestService(nil)

	rec, created, err := svc.Ensure("34600111222", "34600111222", CustomerProfile{Name: "Lucía"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Lucía", rec.Metadata().Customer.Name)

	again, created, err := svc.Ensure("34600111222", "34600111222", CustomerProfile{Name: "Otro", Phone: "34600111222"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, rec, again)

	md := again.Metadata()
	assert.Equal(t, "Lucía", md.Customer.Name, "existing profile fields are kept")
	assert.Equal(t, "34600111222", md.Customer.Phone, "missing fields are filled in")

	assert.Equal(t, []events.Kind{events.KindNewConversation}, pub.kinds())
}

func TestService_EnsureRejectsEmptyID(t *testing.T) {
	svc, pub := newTestService(nil)
	_, _, err := svc.Ensure("", "addr", CustomerProfile{})
	assert.ErrorIs(t, err, ErrDuplicateOrInvalidInput)
	assert.Empty(t, pub.kinds())
}

func TestService_EnsureTurnHoldsLiveRecord(t *testing.T) {
	svc, _ := newTestService(nil)

	rec, created, err := svc.EnsureTurn("u1", "u1", CustomerProfile{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, rec.turn.TryLock(), "turn is held by the caller")
	rec.UnlockTurn()
}

func TestService_EnsureTurnSkipsRecordClosedWhileWaiting(t *testing.T) {
	archiver := &mockArchiver{}
	svc, _ := newTestService(archiver)

	first, _, err := svc.Ensure("u1", "u1", CustomerProfile{Name: "Lucía"})
	require.NoError(t, err)
	first.AppendMessage(Message{ID: "m1", Type: TypeText, Direction: DirectionInbound, Content: "hola"})

	// Hold the turn the way a closing caller does, then close underneath
	// a waiting EnsureTurn.
	first.LockTurn()
	type result struct {
		rec     *Record
		created bool
	}
	done := make(chan result, 1)
	go func() {
		rec, created, err := svc.EnsureTurn("u1", "u1", CustomerProfile{Name: "Lucía"})
		assert.NoError(t, err)
		done <- result{rec, created}
	}()

	time.Sleep(20 * time.Millisecond) // let the waiter block on the turn
	svc.CloseRecord(t.Context(), first, CloseExplicit)
	first.UnlockTurn()

	got := <-done
	defer got.rec.UnlockTurn()

	assert.NotSame(t, first, got.rec)
	assert.True(t, got.created)
	assert.Equal(t, StatusActive, got.rec.Status())
	live, ok := svc.Get("u1")
	require.True(t, ok)
	assert.Same(t, got.rec, live)
	assert.Empty(t, got.rec.Messages())
	require.Len(t, archiver.archived, 1)
	assert.Len(t, archiver.archived[0].Messages, 1)
}

func TestService_CloseArchivesRemovesAndPublishes(t *testing.T) {
	archiver := &mockArchiver{}
	svc, pub := newTestService(archiver)

	rec, _, err := svc.Ensure("u1", "u1", CustomerProfile{})
	require.NoError(t, err)
	rec.AppendMessage(Message{ID: "m1", Type: TypeText, Direction: DirectionInbound, Content: "hola"})

	require.NoError(t, svc.Close(t.Context(), "u1", CloseExplicit))

	_, ok := svc.Get("u1")
	assert.False(t, ok)

	require.Len(t, archiver.archived, 1)
	assert.Equal(t, StatusClosed, archiver.archived[0].Status)
	assert.Len(t, archiver.archived[0].Messages, 1)
	assert.Equal(t, []string{"explicit"}, archiver.reasons)

	assert.Equal(t, []events.Kind{events.KindNewConversation, events.KindConversationClosed}, pub.kinds())

	assert.ErrorIs(t, svc.Close(t.Context(), "u1", CloseExplicit), ErrNotFound)
}

func TestService_CloseSurvivesArchiveFailure(t *testing.T) {
	archiver := &mockArchiver{err: errors.New("disk full")}
	svc, pub := newTestService(archiver)

	rec, _, _ := svc.Ensure("u1", "u1", CustomerProfile{})
	svc.CloseRecord(t.Context(), rec, CloseInactive)
	svc.CloseRecord(t.Context(), rec, CloseInactive)

	assert.Zero(t, svc.Registry().Count())
	assert.Len(t, archiver.archived, 1, "second close is a no-op")
	assert.Equal(t, []events.Kind{events.KindNewConversation, events.KindConversationClosed}, pub.kinds())
}

func TestService_CloseWithCancelledContextStillArchives(t *testing.T) {
	archiver := &mockArchiver{}
	svc, _ := newTestService(archiver)
	rec, _, _ := svc.Ensure("u1", "u1", CustomerProfile{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.CloseRecord(ctx, rec, CloseHeartbeatLost)

	assert.Len(t, archiver.archived, 1)
}

func TestService_Heartbeat(t *testing.T) {
	svc, pub := newTestService(nil)

	assert.ErrorIs(t, svc.Heartbeat("nobody"), ErrNotFound)

	rec, _, _ := svc.Ensure("u1", "u1", CustomerProfile{})
	rec.UpdateMetadata(func(m *Metadata) { m.ReconnectAttempts = 2 })

	require.NoError(t, svc.Heartbeat("u1"))
	md := rec.Metadata()
	assert.True(t, md.ExpectsHeartbeat)
	assert.Zero(t, md.ReconnectAttempts)
	assert.Equal(t, []events.Kind{events.KindNewConversation, events.KindConversationUpdate}, pub.kinds())
}

func TestService_NotifyReconnectCarriesNotice(t *testing.T) {
	svc, pub := newTestService(nil)
	rec, _, _ := svc.Ensure("u1", "u1", CustomerProfile{})
	rec.UpdateMetadata(func(m *Metadata) { m.ReconnectAttempts = 3 })

	svc.NotifyReconnect(rec)

	require.Len(t, pub.events, 2)
	notice, ok := pub.events[1].payload.(events.ReconnectNotice)
	require.True(t, ok)
	assert.Equal(t, "u1", notice.ConversationID)
	assert.Equal(t, 3, notice.Attempts)
}

func TestService_NilPublisherIsTolerated(t *testing.T) {
	svc := NewService(NewRegistry(nil), nil, nil, nil)
	rec, _, err := svc.Ensure("u1", "u1", CustomerProfile{})
	require.NoError(t, err)

	svc.NotifyMessage(rec)
	svc.NotifyUpdate(rec)
	svc.NotifyReconnect(rec)
	svc.PublishSummary(events.KindWebhookSummary, nil)
	svc.CloseRecord(t.Context(), rec, CloseExplicit)
	assert.Zero(t, svc.Registry().Count())
}
