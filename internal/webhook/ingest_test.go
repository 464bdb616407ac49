// ABOUTME: Tests for webhook ingestion: envelope rejection, per-message isolation and retries
// ABOUTME: Uses a scripted processor so outcomes per message id are deterministic

package webhook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/reclama-gateway/internal/conversation"
	"github.com/2389/reclama-gateway/internal/dedupe"
	"github.com/2389/reclama-gateway/internal/events"
	"github.com/2389/reclama-gateway/internal/retry"
)

type fakeProcessor struct {
	mu        sync.Mutex
	processed []string
	welcomed  []string
	read      []string
	resets    []string
	gaveUp    []string
	// errs scripts the error of each successive attempt per message id.
	errs      map[string][]error
	unhandled map[string]bool
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{errs: map[string][]error{}, unhandled: map[string]bool{}}
}

func (f *fakeProcessor) Process(_ context.Context, rec *conversation.Record, msgID string) (bool, error) {
	if _, err := rec.BeginAttempt(msgID); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, msgID)

	if script := f.errs[msgID]; len(script) > 0 {
		err := script[0]
		f.errs[msgID] = script[1:]
		if err != nil {
			return false, err
		}
	}
	if f.unhandled[msgID] {
		return false, nil
	}
	done := true
	_, _ = rec.UpdateMessage(msgID, conversation.MessageUpdate{Processed: &done})
	return true, nil
}

func (f *fakeProcessor) Welcome(_ context.Context, rec *conversation.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.welcomed = append(f.welcomed, rec.ID())
	return nil
}

func (f *fakeProcessor) MarkRead(_ context.Context, _ *conversation.Record, msgID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, msgID)
}

func (f *fakeProcessor) Reset(_ context.Context, rec *conversation.Record) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, rec.ID())
	return true
}

func (f *fakeProcessor) GiveUp(_ context.Context, _ *conversation.Record, msgID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gaveUp = append(f.gaveUp, msgID)
}

type capturePublisher struct {
	mu        sync.Mutex
	summaries []Summary
	kinds     []events.Kind
}

func (p *capturePublisher) Publish(kind events.Kind, _ string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds = append(p.kinds, kind)
	if s, ok := payload.(Summary); ok {
		p.summaries = append(p.summaries, s)
	}
}

type ingestHarness struct {
	ingestor *Ingestor
	service  *conversation.Service
	proc     *fakeProcessor
	pub      *capturePublisher
	delays   []time.Duration
}

func newIngestHarness(t *testing.T) *ingestHarness {
	t.Helper()
	h := &ingestHarness{proc: newFakeProcessor(), pub: &capturePublisher{}}
	h.service = conversation.NewService(conversation.NewRegistry(nil), h.pub, nil, nil)

	coord := retry.New(3, time.Second, nil)
	coord.Sleep = func(_ context.Context, d time.Duration) error {
		h.delays = append(h.delays, d)
		return nil
	}
	seen := dedupe.New(10*time.Minute, dedupe.DefaultMaxSize)
	t.Cleanup(seen.Close)

	h.ingestor = NewIngestor(IngestorConfig{}, h.service, h.proc, coord, seen, nil)
	return h
}

func textMsg(from, id, body string) InboundMessage {
	return InboundMessage{
		From:      from,
		ID:        id,
		Timestamp: "1772445600",
		Type:      "text",
		Text:      &TextBody{Body: body},
	}
}

func envelope(value Value) *Payload {
	return &Payload{
		Object: DefaultObject,
		Entry: []Entry{{
			ID:      "waba-1",
			Changes: []Change{{Field: "messages", Value: value}},
		}},
	}
}

func batch(msgs ...InboundMessage) *Payload {
	return envelope(Value{MessagingProduct: "whatsapp", Messages: msgs})
}

func TestIngest_PartialBatchIsolation(t *testing.T) {
	h := newIngestHarness(t)

	invalid := textMsg("34600111222", "wamid.2", "")
	invalid.Text = nil

	sum, err := h.ingestor.Ingest(t.Context(), batch(
		textMsg("34600111222", "wamid.1", "hola"),
		invalid,
		textMsg("34600333444", "wamid.3", "mi factura de la luz"),
	))
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 1, sum.Errors)
	require.Len(t, sum.Details, 3)
	assert.Equal(t, OutcomeProcessed, sum.Details[0].Outcome)
	assert.Equal(t, OutcomeInvalid, sum.Details[1].Outcome)
	assert.Contains(t, sum.Details[1].Error, conversation.ErrValidation.Error())
	assert.Equal(t, OutcomeProcessed, sum.Details[2].Outcome)

	assert.Equal(t, []string{"wamid.1", "wamid.3"}, h.proc.processed)
	for _, id := range []string{"34600111222", "34600333444"} {
		rec, ok := h.service.Get(id)
		require.True(t, ok)
		msgs := rec.Messages()
		require.Len(t, msgs, 1)
		assert.True(t, msgs[0].Processed)
	}
}

func TestIngest_RejectsMalformedEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		payload *Payload
	}{
		{"nil", nil},
		{"missing object", &Payload{Entry: []Entry{{ID: "x"}}}},
		{"unknown object", &Payload{Object: "page", Entry: []Entry{{ID: "x"}}}},
		{"no entries", &Payload{Object: DefaultObject}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newIngestHarness(t)
			_, err := h.ingestor.Ingest(t.Context(), tt.payload)
			assert.ErrorIs(t, err, conversation.ErrInvalidPayload)
			assert.Empty(t, h.proc.processed)
			assert.Empty(t, h.pub.kinds)
		})
	}
}

func TestIngest_WelcomesOnFirstContactOnly(t *testing.T) {
	h := newIngestHarness(t)

	_, err := h.ingestor.Ingest(t.Context(), batch(textMsg("34600111222", "wamid.1", "hola")))
	require.NoError(t, err)
	_, err = h.ingestor.Ingest(t.Context(), batch(textMsg("34600111222", "wamid.2", "mi internet no va")))
	require.NoError(t, err)

	assert.Equal(t, []string{"34600111222"}, h.proc.welcomed)
	assert.Equal(t, []string{"wamid.1", "wamid.2"}, h.proc.read)
}

func TestIngest_ContactNameFillsProfile(t *testing.T) {
	h := newIngestHarness(t)

	p := envelope(Value{
		Contacts: []Contact{{WaID: "34600111222", Profile: ContactProfile{Name: "Lucía"}}},
		Messages: []InboundMessage{textMsg("34600111222", "wamid.1", "hola")},
	})
	_, err := h.ingestor.Ingest(t.Context(), p)
	require.NoError(t, err)

	rec, ok := h.service.Get("34600111222")
	require.True(t, ok)
	md := rec.Metadata()
	assert.Equal(t, "Lucía", md.Customer.Name)
	assert.Equal(t, "34600111222", md.Customer.Phone)
}

func TestIngest_DuplicateDeliveryIsSkipped(t *testing.T) {
	h := newIngestHarness(t)
	msg := textMsg("34600111222", "wamid.1", "hola")

	_, err := h.ingestor.Ingest(t.Context(), batch(msg))
	require.NoError(t, err)
	sum, err := h.ingestor.Ingest(t.Context(), batch(msg))
	require.NoError(t, err)

	assert.Equal(t, 0, sum.Processed)
	assert.Equal(t, 0, sum.Errors)
	assert.Equal(t, 1, sum.Duplicates)
	assert.Equal(t, OutcomeDuplicate, sum.Details[0].Outcome)

	rec, _ := h.service.Get("34600111222")
	assert.Len(t, rec.Messages(), 1)
	assert.Equal(t, []string{"wamid.1"}, h.proc.processed)
}

func TestIngest_MessageWaitingOnClosedConversationStartsANewOne(t *testing.T) {
	h := newIngestHarness(t)
	_, err := h.ingestor.Ingest(t.Context(), batch(textMsg("34600111222", "wamid.1", "hola")))
	require.NoError(t, err)
	first, ok := h.service.Get("34600111222")
	require.True(t, ok)

	first.LockTurn()
	done := make(chan Summary, 1)
	go func() {
		sum, _ := h.ingestor.Ingest(context.Background(), batch(textMsg("34600111222", "wamid.2", "sigo aquí")))
		done <- sum
	}()
	time.Sleep(20 * time.Millisecond) // wamid.2 queues behind the held turn
	h.service.CloseRecord(t.Context(), first, conversation.CloseExplicit)
	first.UnlockTurn()

	var sum Summary
	select {
	case sum = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ingest did not finish")
	}
	assert.Equal(t, 1, sum.Processed)

	live, ok := h.service.Get("34600111222")
	require.True(t, ok)
	assert.NotSame(t, first, live)
	assert.Equal(t, conversation.StatusActive, live.Status())
	msgs := live.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "wamid.2", msgs[0].ID)
	assert.True(t, msgs[0].Processed)
	assert.Len(t, first.Messages(), 1)
	assert.Equal(t, 1, h.service.Registry().Count())
}

func TestIngest_FailedMessageAcceptsRedelivery(t *testing.T) {
	h := newIngestHarness(t)
	h.proc.unhandled["wamid.1"] = true
	msg := textMsg("34600111222", "wamid.1", "hola")

	sum, err := h.ingestor.Ingest(t.Context(), batch(msg))
	require.NoError(t, err)
	require.Equal(t, 1, sum.Errors)

	h.proc.mu.Lock()
	h.proc.unhandled["wamid.1"] = false
	h.proc.mu.Unlock()

	sum, err = h.ingestor.Ingest(t.Context(), batch(msg))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Zero(t, sum.Duplicates)

	rec, _ := h.service.Get("34600111222")
	msgs := rec.Messages()
	require.Len(t, msgs, 1, "redelivery reuses the logged message")
	assert.True(t, msgs[0].Processed)
	assert.Equal(t, 2, msgs[0].Attempts)
	assert.Equal(t, []string{"wamid.1"}, h.proc.read)
}

func TestIngest_ProcessedMessageIsDuplicateWithoutCache(t *testing.T) {
	h := newIngestHarness(t)
	ingestor := NewIngestor(IngestorConfig{}, h.service, h.proc, retry.New(1, time.Second, nil), nil, nil)
	msg := textMsg("34600111222", "wamid.1", "hola")

	_, err := ingestor.Ingest(t.Context(), batch(msg))
	require.NoError(t, err)
	sum, err := ingestor.Ingest(t.Context(), batch(msg))
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Duplicates)
	assert.Equal(t, []string{"wamid.1"}, h.proc.processed)
}

func TestIngest_RetriesTransientFailures(t *testing.T) {
	h := newIngestHarness(t)
	h.proc.errs["wamid.1"] = []error{
		conversation.NewCollaboratorError(conversation.FailureTranscription, "transcribe", errors.New("timeout")),
		nil,
	}

	sum, err := h.ingestor.Ingest(t.Context(), batch(InboundMessage{
		From: "34600111222", ID: "wamid.1", Type: "audio",
		Audio: &MediaBody{ID: "media-1", MimeType: "audio/ogg", Voice: true},
	}))
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 2, sum.Details[0].Attempts)
	assert.Equal(t, []time.Duration{time.Second}, h.delays)
}

func TestIngest_GivesUpAfterMaxAttempts(t *testing.T) {
	h := newIngestHarness(t)
	transient := conversation.NewCollaboratorError(conversation.FailureMediaFetch, "fetch", errors.New("502"))
	h.proc.errs["wamid.1"] = []error{transient, transient, transient}

	sum, err := h.ingestor.Ingest(t.Context(), batch(InboundMessage{
		From: "34600111222", ID: "wamid.1", Type: "audio",
		Audio: &MediaBody{ID: "media-1"},
	}))
	require.NoError(t, err)

	assert.Equal(t, 0, sum.Processed)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 3, sum.Details[0].Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.delays)
}

func TestIngest_CancelledRetryGivesUp(t *testing.T) {
	h := newIngestHarness(t)
	h.ingestor.retry.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	transient := conversation.NewCollaboratorError(conversation.FailureTranscription, "transcribe", errors.New("timeout"))
	h.proc.errs["wamid.1"] = []error{transient}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	sum, err := h.ingestor.Ingest(ctx, batch(InboundMessage{
		From: "34600111222", ID: "wamid.1", Type: "audio",
		Audio: &MediaBody{ID: "media-1"},
	}))
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 1, sum.Details[0].Attempts)
	assert.Equal(t, []string{"wamid.1"}, h.proc.gaveUp)
}

func TestIngest_ExhaustedRetriesLeaveApologyToProcessor(t *testing.T) {
	h := newIngestHarness(t)
	transient := conversation.NewCollaboratorError(conversation.FailureMediaFetch, "fetch", errors.New("502"))
	h.proc.errs["wamid.1"] = []error{transient, transient, transient}

	_, err := h.ingestor.Ingest(t.Context(), batch(InboundMessage{
		From: "34600111222", ID: "wamid.1", Type: "audio",
		Audio: &MediaBody{ID: "media-1"},
	}))
	require.NoError(t, err)
	assert.Empty(t, h.proc.gaveUp)
}

func TestIngest_PermanentFailureIsNotRetried(t *testing.T) {
	h := newIngestHarness(t)
	h.proc.errs["wamid.1"] = []error{conversation.ErrUnsupportedMessageType}

	sum, err := h.ingestor.Ingest(t.Context(), batch(InboundMessage{
		From: "34600111222", ID: "wamid.1", Type: "sticker",
	}))
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 1, sum.Details[0].Attempts)
	assert.Empty(t, h.delays)
}

func TestIngest_UnhandledTextCountsAsError(t *testing.T) {
	h := newIngestHarness(t)
	h.proc.unhandled["wamid.1"] = true

	sum, err := h.ingestor.Ingest(t.Context(), batch(textMsg("34600111222", "wamid.1", "hola")))
	require.NoError(t, err)

	assert.Equal(t, 0, sum.Processed)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 1, sum.Details[0].Attempts, "text failures are not retried")
	assert.Equal(t, OutcomeFailed, sum.Details[0].Outcome)
}

func TestIngest_PublishesSummaryAfterBatch(t *testing.T) {
	h := newIngestHarness(t)

	_, err := h.ingestor.Ingest(t.Context(), batch(textMsg("34600111222", "wamid.1", "hola")))
	require.NoError(t, err)

	require.NotEmpty(t, h.pub.kinds)
	assert.Equal(t, events.KindWebhookSummary, h.pub.kinds[len(h.pub.kinds)-1])
	require.Len(t, h.pub.summaries, 1)
	assert.Equal(t, 1, h.pub.summaries[0].Processed)
	assert.Equal(t, events.KindNewConversation, h.pub.kinds[0])
}

func TestIngest_StatusesUpdateOutboundMessages(t *testing.T) {
	h := newIngestHarness(t)
	rec, _, err := h.service.Ensure("34600111222", "34600111222", conversation.CustomerProfile{})
	require.NoError(t, err)
	rec.AppendMessage(conversation.Message{
		ID: "out-1", Type: conversation.TypeText, Direction: conversation.DirectionOutbound,
		Status: conversation.StatusSent,
	})

	sum, err := h.ingestor.Ingest(t.Context(), envelope(Value{Statuses: []Status{
		{ID: "out-1", Status: StatusRead, RecipientID: "34600111222"},
		{ID: "unknown", Status: StatusDelivered, RecipientID: "34600111222"},
		{ID: "out-9", Status: StatusDelivered, RecipientID: "nobody"},
	}}))
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Statuses)
	assert.Zero(t, sum.Processed+sum.Errors)
	msg, ok := rec.Message("out-1")
	require.True(t, ok)
	assert.Equal(t, conversation.StatusDelivered, msg.Status)
}

func TestIngest_FailedStatusRecordsError(t *testing.T) {
	h := newIngestHarness(t)
	rec, _, _ := h.service.Ensure("34600111222", "34600111222", conversation.CustomerProfile{})
	rec.AppendMessage(conversation.Message{ID: "out-1", Direction: conversation.DirectionOutbound})

	_, err := h.ingestor.Ingest(t.Context(), envelope(Value{Statuses: []Status{
		{ID: "out-1", Status: StatusFailed, RecipientID: "34600111222"},
	}}))
	require.NoError(t, err)

	msg, _ := rec.Message("out-1")
	assert.Equal(t, "delivery failed", msg.Error)
}

func TestIngest_DeletedStatusResetsConversation(t *testing.T) {
	h := newIngestHarness(t)
	_, _, err := h.service.Ensure("34600111222", "34600111222", conversation.CustomerProfile{})
	require.NoError(t, err)

	_, err = h.ingestor.Ingest(t.Context(), envelope(Value{Statuses: []Status{
		{ID: "wamid.1", Status: StatusDeleted, RecipientID: "34600111222"},
	}}))
	require.NoError(t, err)

	assert.Equal(t, []string{"34600111222"}, h.proc.resets)
}

func TestIngestMessages_PublishesSummary(t *testing.T) {
	h := newIngestHarness(t)

	sum := h.ingestor.IngestMessages(t.Context(),
		[]InboundMessage{textMsg("!room:example.org", "$ev1", "hola")},
		map[string]string{"!room:example.org": "lucia"})

	assert.Equal(t, 1, sum.Processed)
	rec, ok := h.service.Get("!room:example.org")
	require.True(t, ok)
	assert.Equal(t, "lucia", rec.Metadata().Customer.Name)
	assert.Len(t, h.pub.summaries, 1)
}

func TestToMessage(t *testing.T) {
	tests := []struct {
		name string
		in   InboundMessage
		want conversation.Message
	}{
		{
			name: "text is trimmed",
			in:   textMsg("u", "m1", "  hola  "),
			want: conversation.Message{Type: conversation.TypeText, Content: "hola"},
		},
		{
			name: "audio carries media reference",
			in: InboundMessage{From: "u", ID: "m1", Type: "audio",
				Audio: &MediaBody{ID: "media-1", MimeType: "audio/ogg; codecs=opus"}},
			want: conversation.Message{Type: conversation.TypeAudio, MediaID: "media-1", MimeType: "audio/ogg; codecs=opus"},
		},
		{
			name: "document keeps filename and caption",
			in: InboundMessage{From: "u", ID: "m1", Type: "document",
				Document: &MediaBody{ID: "media-2", MimeType: "application/pdf", Filename: "factura.pdf", Caption: "mi factura"}},
			want: conversation.Message{Type: conversation.TypeDocument, MediaID: "media-2", MimeType: "application/pdf",
				Filename: "factura.pdf", Content: "mi factura"},
		},
		{
			name: "system notification",
			in: InboundMessage{From: "u", ID: "m1", Type: "system",
				System: &SystemBody{Body: "user changed number", Type: "user_changed_number"}},
			want: conversation.Message{Type: conversation.TypeSystem, Content: "user changed number"},
		},
		{
			name: "reset flag",
			in:   InboundMessage{From: "u", ID: "m1", Type: "text", Text: &TextBody{Body: "x"}, Reset: true},
			want: conversation.Message{Type: conversation.TypeText, Content: "x", Control: conversation.ControlReset},
		},
		{
			name: "unknown type passes through",
			in:   InboundMessage{From: "u", ID: "m1", Type: "sticker"},
			want: conversation.Message{Type: "sticker"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toMessage(tt.in)
			assert.Equal(t, "m1", got.ID)
			assert.Equal(t, conversation.DirectionInbound, got.Direction)
			assert.Equal(t, conversation.StatusReceived, got.Status)
			assert.Equal(t, tt.want.Type, got.Type)
			assert.Equal(t, tt.want.Content, got.Content)
			assert.Equal(t, tt.want.MediaID, got.MediaID)
			assert.Equal(t, tt.want.MimeType, got.MimeType)
			assert.Equal(t, tt.want.Filename, got.Filename)
			assert.Equal(t, tt.want.Control, got.Control)
		})
	}
}

func TestParseUnix(t *testing.T) {
	assert.Equal(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), parseUnix("1772445600"))
	assert.True(t, parseUnix("").IsZero())
	assert.True(t, parseUnix("abc").IsZero())
	assert.True(t, parseUnix("-5").IsZero())
}
