// ABOUTME: Hand-written collaborator fakes for processor tests
// ABOUTME: Record every call and return scripted results

package processor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/reclama-gateway/internal/classifier"
	"github.com/2389/reclama-gateway/internal/collab"
	"github.com/2389/reclama-gateway/internal/conversation"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type sentMessage struct {
	Address string
	Content string
}

type fakeChannel struct {
	mu       sync.Mutex
	texts    []sentMessage
	voices   []sentMessage
	read     []string
	media    map[string][]byte
	mediaErr error
	sendErr  error
	voiceErr error
	// failText makes sending exactly this text fail.
	failText string
	n        int
}

func (f *fakeChannel) SendText(_ context.Context, address, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	if f.failText != "" && text == f.failText {
		return "", conversation.NewCollaboratorError(conversation.FailureDelivery, "send_text", fmt.Errorf("rejected %q", text))
	}
	f.n++
	f.texts = append(f.texts, sentMessage{address, text})
	return fmt.Sprintf("out-%d", f.n), nil
}

func (f *fakeChannel) SendVoice(_ context.Context, address string, audio []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.voiceErr != nil {
		return "", f.voiceErr
	}
	f.n++
	f.voices = append(f.voices, sentMessage{address, string(audio)})
	return fmt.Sprintf("out-%d", f.n), nil
}

func (f *fakeChannel) FetchMedia(_ context.Context, mediaID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mediaErr != nil {
		return nil, f.mediaErr
	}
	return f.media[mediaID], nil
}

func (f *fakeChannel) MarkRead(_ context.Context, _ string, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, messageID)
	return nil
}

func (f *fakeChannel) textContents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	for i, m := range f.texts {
		out[i] = m.Content
	}
	return out
}

func (f *fakeChannel) voiceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.voices)
}

type fakeSpeech struct {
	mu              sync.Mutex
	transcript      string
	transcribeErr   error
	transcribeCalls int
	synthErr        error
	synthCalls      int
}

func (f *fakeSpeech) Transcribe(context.Context, []byte, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcribeCalls++
	if f.transcribeErr != nil {
		return "", f.transcribeErr
	}
	return f.transcript, nil
}

func (f *fakeSpeech) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synthCalls++
	if f.synthErr != nil {
		return nil, f.synthErr
	}
	return []byte("OggS" + text), nil
}

type assistantCall struct {
	ConversationID string
	Text           string
	Category       classifier.Category
}

type fakeAssistant struct {
	mu     sync.Mutex
	reply  string
	err    error
	calls  []assistantCall
	resets []classifier.Category
}

func (f *fakeAssistant) Respond(_ context.Context, conversationID, text string, category classifier.Category) (collab.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, assistantCall{conversationID, text, category})
	if f.err != nil {
		return collab.Reply{}, f.err
	}
	return collab.Reply{Content: f.reply}, nil
}

func (f *fakeAssistant) ResetSession(_ context.Context, _ string, category classifier.Category) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, category)
	return nil
}

type fakeDrafter struct {
	mu    sync.Mutex
	draft *collab.Draft
	err   error
	reqs  []collab.DraftRequest
}

func (f *fakeDrafter) Draft(_ context.Context, req collab.DraftRequest) (*collab.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.draft, nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeMailer) SendDocument(_ context.Context, to, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return nil
}

type harness struct {
	p         *Processor
	svc       *conversation.Service
	clock     *testClock
	channel   *fakeChannel
	speech    *fakeSpeech
	assistant *fakeAssistant
	drafter   *fakeDrafter
	mailer    *fakeMailer
	seq       int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	h := &harness{
		clock:     clock,
		channel:   &fakeChannel{media: map[string][]byte{}},
		speech:    &fakeSpeech{transcript: "se cayó el internet otra vez"},
		assistant: &fakeAssistant{reply: "Entiendo, vamos a preparar tu reclamación."},
		drafter: &fakeDrafter{draft: &collab.Draft{
			CompanyName: "Movistar",
			Reference:   "CLI-123",
			Facts:       []string{"Corte de fibra"},
			Petition:    "Compensación",
		}},
		mailer: &fakeMailer{},
	}
	h.svc = conversation.NewService(conversation.NewRegistry(clock.Now), nil, nil, nil)
	h.p = New(Deps{
		Service:   h.svc,
		Channel:   h.channel,
		Speech:    h.speech,
		Assistant: h.assistant,
		Drafter:   h.drafter,
		Mailer:    h.mailer,
		Now:       clock.Now,
	}, Config{})
	return h
}

func (h *harness) conversation(t *testing.T) *conversation.Record {
	t.Helper()
	rec, _, err := h.svc.Ensure("34600111222", "34600111222", conversation.CustomerProfile{Name: "Lucía"})
	require.NoError(t, err)
	return rec
}

// inbound appends an inbound message and returns its id.
func (h *harness) inbound(rec *conversation.Record, typ conversation.MessageType, content string) string {
	h.seq++
	id := fmt.Sprintf("wamid.%d", h.seq)
	rec.AppendMessage(conversation.Message{
		ID:        id,
		Type:      typ,
		Direction: conversation.DirectionInbound,
		Content:   content,
		Status:    conversation.StatusReceived,
		MediaID:   "media-" + id,
	})
	return id
}

// send appends a text message and processes it.
func (h *harness) send(t *testing.T, rec *conversation.Record, text string) bool {
	t.Helper()
	ok, err := h.p.Process(t.Context(), rec, h.inbound(rec, conversation.TypeText, text))
	require.NoError(t, err)
	return ok
}
