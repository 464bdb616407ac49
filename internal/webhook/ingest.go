// ABOUTME: Ingestor runs a validated delivery through dedupe, welcome, processing and retries
// ABOUTME: Per-message failures are counted in the summary and never abort sibling messages

package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/2389/reclama-gateway/internal/conversation"
	"github.com/2389/reclama-gateway/internal/dedupe"
	"github.com/2389/reclama-gateway/internal/events"
	"github.com/2389/reclama-gateway/internal/retry"
)

// Processor is what the ingestor needs from the message processor.
type Processor interface {
	Process(ctx context.Context, rec *conversation.Record, msgID string) (bool, error)
	Welcome(ctx context.Context, rec *conversation.Record) error
	MarkRead(ctx context.Context, rec *conversation.Record, msgID string)
	Reset(ctx context.Context, rec *conversation.Record) bool
	GiveUp(ctx context.Context, rec *conversation.Record, msgID string)
}

// Outcome labels a per-message detail line.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeFailed    Outcome = "failed"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeDuplicate Outcome = "duplicate"
)

// Detail is the result for one message of a delivery.
type Detail struct {
	MessageID      string  `json:"messageId,omitempty"`
	ConversationID string  `json:"conversationId,omitempty"`
	Outcome        Outcome `json:"outcome"`
	Attempts       int     `json:"attempts,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// Summary aggregates one delivery.
type Summary struct {
	Processed  int      `json:"processed"`
	Errors     int      `json:"errors"`
	Duplicates int      `json:"duplicates"`
	Statuses   int      `json:"statuses"`
	Details    []Detail `json:"details"`
}

func (s *Summary) add(d Detail) {
	switch d.Outcome {
	case OutcomeProcessed:
		s.Processed++
	case OutcomeDuplicate:
		s.Duplicates++
	default:
		s.Errors++
	}
	s.Details = append(s.Details, d)
}

// IngestorConfig configures an Ingestor.
type IngestorConfig struct {
	// Objects lists accepted envelope discriminators. Empty means DefaultObject.
	Objects []string
}

// Ingestor feeds deliveries into the processor.
type Ingestor struct {
	service   *conversation.Service
	processor Processor
	retry     *retry.Coordinator
	dedupe    *dedupe.Cache
	validate  *validator.Validate
	objects   []string
	logger    *slog.Logger
}

// NewIngestor creates an Ingestor. seen may be nil to disable idempotency.
func NewIngestor(cfg IngestorConfig, service *conversation.Service, proc Processor, coord *retry.Coordinator, seen *dedupe.Cache, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	if coord == nil {
		coord = retry.New(retry.DefaultMaxAttempts, retry.DefaultBaseDelay, logger)
	}
	objects := cfg.Objects
	if len(objects) == 0 {
		objects = []string{DefaultObject}
	}
	return &Ingestor{
		service:   service,
		processor: proc,
		retry:     coord,
		dedupe:    seen,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		objects:   objects,
		logger:    logger.With("component", "webhook"),
	}
}

// Ingest processes every message of p. An envelope that fails structural
// checks returns conversation.ErrInvalidPayload and nothing is processed.
func (i *Ingestor) Ingest(ctx context.Context, p *Payload) (Summary, error) {
	if err := i.checkEnvelope(p); err != nil {
		i.logger.Warn("rejected webhook payload", "error", err)
		return Summary{}, err
	}

	sum := Summary{Details: []Detail{}}
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			sum.Statuses += i.applyStatuses(ctx, change.Value.Statuses)
			profiles := contactNames(change.Value.Contacts)
			for _, m := range change.Value.Messages {
				sum.add(i.ingestMessage(ctx, m, profiles[m.From]))
			}
		}
	}

	i.logger.Info("webhook batch complete",
		"processed", sum.Processed,
		"errors", sum.Errors,
		"duplicates", sum.Duplicates,
		"statuses", sum.Statuses)
	i.service.PublishSummary(events.KindWebhookSummary, sum)
	return sum, nil
}

// IngestMessages runs messages that did not arrive in a webhook envelope,
// such as those read from a Matrix sync.
func (i *Ingestor) IngestMessages(ctx context.Context, msgs []InboundMessage, names map[string]string) Summary {
	sum := Summary{Details: []Detail{}}
	for _, m := range msgs {
		sum.add(i.ingestMessage(ctx, m, names[m.From]))
	}
	i.service.PublishSummary(events.KindWebhookSummary, sum)
	return sum
}

func (i *Ingestor) checkEnvelope(p *Payload) error {
	if p == nil {
		return fmt.Errorf("%w: empty body", conversation.ErrInvalidPayload)
	}
	if err := i.validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", conversation.ErrInvalidPayload, err)
	}
	if !slices.Contains(i.objects, p.Object) {
		return fmt.Errorf("%w: unrecognized object %q", conversation.ErrInvalidPayload, p.Object)
	}
	return nil
}

func (i *Ingestor) ingestMessage(ctx context.Context, m InboundMessage, name string) Detail {
	d := Detail{MessageID: m.ID, ConversationID: m.From}

	if err := i.validate.Struct(m); err != nil {
		err = fmt.Errorf("%w: %v", conversation.ErrValidation, err)
		i.logger.Warn("invalid inbound message",
			"conversation_id", m.From,
			"message_id", m.ID,
			"error", err)
		d.Outcome = OutcomeInvalid
		d.Error = err.Error()
		return d
	}

	if i.dedupe != nil && i.dedupe.Seen(m.From, m.ID) {
		i.logger.Info("duplicate delivery skipped",
			"conversation_id", m.From,
			"message_id", m.ID)
		d.Outcome = OutcomeDuplicate
		return d
	}

	rec, created, err := i.service.EnsureTurn(m.From, m.From, conversation.CustomerProfile{
		Name:  name,
		Phone: m.From,
	})
	if err != nil {
		i.release(m)
		d.Outcome = OutcomeFailed
		d.Error = err.Error()
		return d
	}
	defer rec.UnlockTurn()

	msg := toMessage(m)
	if prev, ok := rec.Message(msg.ID); ok {
		if prev.Processed {
			d.Outcome = OutcomeDuplicate
			return d
		}
		// A redelivery of a message that failed earlier runs again in place.
		i.logger.Info("retrying redelivered message",
			"conversation_id", rec.ID(),
			"message_id", msg.ID)
	} else {
		rec.AppendMessage(msg)
		i.service.NotifyMessage(rec)
		i.processor.MarkRead(ctx, rec, msg.ID)
	}

	if created {
		if err := i.processor.Welcome(ctx, rec); err != nil {
			i.logger.Warn("failed to send welcome",
				"conversation_id", rec.ID(),
				"error", err)
		}
	}

	var handled bool
	var tries int
	err = i.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		tries = attempt
		ok, perr := i.processor.Process(ctx, rec, msg.ID)
		handled = ok
		return perr
	})
	if retry.IsTransient(err) && tries < i.retry.MaxAttempts {
		// The wait before the next attempt was cut short.
		i.logger.Warn("retries stopped early",
			"conversation_id", rec.ID(),
			"message_id", msg.ID,
			"attempts", tries,
			"error", err)
		i.processor.GiveUp(ctx, rec, msg.ID)
	}
	if final, ok := rec.Message(msg.ID); ok {
		d.Attempts = final.Attempts
	}

	switch {
	case err != nil:
		d.Outcome = OutcomeFailed
		d.Error = err.Error()
	case !handled:
		d.Outcome = OutcomeFailed
		if final, ok := rec.Message(msg.ID); ok && final.Error != "" {
			d.Error = final.Error
		} else {
			d.Error = "message not handled"
		}
	default:
		d.Outcome = OutcomeProcessed
	}
	if d.Outcome != OutcomeProcessed {
		i.release(m)
	}
	return d
}

// release lets a later redelivery of m through the dedupe window.
func (i *Ingestor) release(m InboundMessage) {
	if i.dedupe != nil {
		i.dedupe.Release(m.From, m.ID)
	}
}

// applyStatuses records delivery receipts and returns how many matched a
// live conversation.
func (i *Ingestor) applyStatuses(ctx context.Context, statuses []Status) int {
	applied := 0
	for _, st := range statuses {
		if err := i.validate.Struct(st); err != nil {
			i.logger.Debug("ignoring malformed status", "error", err)
			continue
		}
		rec, ok := i.service.Get(st.RecipientID)
		if !ok {
			continue
		}
		if i.applyStatus(ctx, rec, st) {
			applied++
		}
	}
	return applied
}

func (i *Ingestor) applyStatus(ctx context.Context, rec *conversation.Record, st Status) bool {
	if st.Status == StatusDeleted {
		i.processor.Reset(ctx, rec)
		return true
	}

	update := conversation.MessageUpdate{}
	if status, ok := deliveryStatus(st.Status); ok {
		update.Status = &status
	} else if st.Status == StatusFailed {
		reason := "delivery failed"
		update.Error = &reason
	} else {
		return false
	}

	if _, err := rec.UpdateMessage(st.ID, update); err != nil {
		if !errors.Is(err, conversation.ErrMessageNotFound) {
			i.logger.Warn("failed to apply status", "conversation_id", rec.ID(), "error", err)
		}
		return false
	}
	i.service.NotifyUpdate(rec)
	return true
}

func contactNames(contacts []Contact) map[string]string {
	names := make(map[string]string, len(contacts))
	for _, c := range contacts {
		names[c.WaID] = c.Profile.Name
	}
	return names
}
