// ABOUTME: Message processor entry points: Process, Welcome, MarkRead and Reset
// ABOUTME: Dispatches by message type and records every outcome on the conversation

package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/reclama-gateway/internal/classifier"
	"github.com/2389/reclama-gateway/internal/collab"
	"github.com/2389/reclama-gateway/internal/conversation"
)

// Deps are the collaborators the processor drives. Mailer is optional.
type Deps struct {
	Service    *conversation.Service
	Classifier *classifier.Classifier
	Channel    collab.Channel
	Speech     collab.Speech
	Assistant  collab.Assistant
	Drafter    collab.Drafter
	Mailer     collab.Mailer
	Logger     *slog.Logger
	Now        func() time.Time
}

// Processor handles one inbound message at a time per conversation.
type Processor struct {
	service    *conversation.Service
	classifier *classifier.Classifier
	channel    collab.Channel
	speech     collab.Speech
	assistant  collab.Assistant
	drafter    collab.Drafter
	mailer     collab.Mailer
	cfg        Config
	now        func() time.Time
	logger     *slog.Logger
}

// New creates a processor.
func New(deps Deps, cfg Config) *Processor {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Classifier == nil {
		deps.Classifier = classifier.New(classifier.DefaultKeywords)
	}
	return &Processor{
		service:    deps.Service,
		classifier: deps.Classifier,
		channel:    deps.Channel,
		speech:     deps.Speech,
		assistant:  deps.Assistant,
		drafter:    deps.Drafter,
		mailer:     deps.Mailer,
		cfg:        cfg.withDefaults(),
		now:        deps.Now,
		logger:     deps.Logger.With("component", "processor"),
	}
}

// Process runs one attempt for the inbound message msgID. The caller holds
// the record's turn lock.
//
// It reports true when the message was handled. Text failures are reported
// as (false, nil); audio failures and unsupported types return the error.
func (p *Processor) Process(ctx context.Context, rec *conversation.Record, msgID string) (bool, error) {
	msg, err := rec.BeginAttempt(msgID)
	if err != nil {
		return false, err
	}
	logger := p.logger.With(
		"conversation_id", rec.ID(),
		"message_id", msg.ID,
		"attempt", msg.Attempts)

	if isResetEvent(msg) {
		p.reset(ctx, rec, logger)
		p.finish(rec, msg, nil, logger)
		return true, nil
	}

	switch msg.Type {
	case conversation.TypeText:
		err = p.handleText(ctx, rec, msg, logger)
	case conversation.TypeAudio:
		err = p.handleAudio(ctx, rec, msg, logger)
	case conversation.TypeDocument:
		err = p.handleDocument(ctx, rec, msg, logger)
	default:
		err = fmt.Errorf("%w: %q", conversation.ErrUnsupportedMessageType, msg.Type)
	}

	p.finish(rec, msg, err, logger)
	if err == nil {
		return true, nil
	}
	if msg.Type == conversation.TypeText {
		return false, nil
	}
	return false, err
}

// isResetEvent reports whether msg is a channel deletion/reset rather than content.
func isResetEvent(msg conversation.Message) bool {
	return msg.Control == conversation.ControlReset || msg.Type == conversation.TypeSystem
}

// finish records the outcome of an attempt on the message and in the
// processing history, then announces the change.
func (p *Processor) finish(rec *conversation.Record, msg conversation.Message, err error, logger *slog.Logger) {
	now := p.now()
	processed := err == nil
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	if _, uerr := rec.UpdateMessage(msg.ID, conversation.MessageUpdate{
		Processed: &processed,
		Error:     &errText,
	}); uerr != nil {
		logger.Error("failed to record message outcome", "error", uerr)
	}

	rec.UpdateMetadata(func(m *conversation.Metadata) {
		if err == nil {
			m.ProcessingHistory = append(m.ProcessingHistory, conversation.HistoryEntry{
				Kind:      conversation.HistorySuccess,
				MessageID: msg.ID,
				At:        now,
			})
			return
		}
		m.ProcessingErrors = append(m.ProcessingErrors, conversation.ProcessingError{
			MessageID: msg.ID,
			Attempt:   msg.Attempts,
			Error:     errText,
			At:        now,
		})
		m.ProcessingHistory = append(m.ProcessingHistory, conversation.HistoryEntry{
			Kind:      conversation.HistoryFailure,
			MessageID: msg.ID,
			Detail:    errText,
			At:        now,
		})
	})

	if err != nil {
		attrs := []any{"type", msg.Type, "error", err}
		if kind, ok := conversation.FailureKindOf(err); ok {
			attrs = append(attrs, "failure", kind)
		}
		logger.Error("message processing failed", attrs...)
	} else {
		logger.Debug("message processed", "type", msg.Type)
	}
	p.service.NotifyUpdate(rec)
}

// Welcome greets a new conversation once. The caller holds the turn lock.
func (p *Processor) Welcome(ctx context.Context, rec *conversation.Record) error {
	if rec.Metadata().Welcomed {
		return nil
	}
	if err := p.sendText(ctx, rec, p.cfg.Messages.Welcome); err != nil {
		return err
	}
	rec.UpdateMetadata(func(m *conversation.Metadata) { m.Welcomed = true })
	p.service.NotifyUpdate(rec)
	return nil
}

// MarkRead acknowledges an inbound message on the channel. Failures are
// logged only.
func (p *Processor) MarkRead(ctx context.Context, rec *conversation.Record, msgID string) {
	if err := p.channel.MarkRead(ctx, rec.Address(), msgID); err != nil {
		p.logger.Warn("failed to mark message read",
			"conversation_id", rec.ID(),
			"message_id", msgID,
			"error", err)
	}
}

// Reset performs a chat reset outside of message processing, e.g. from the
// dashboard. It reports whether there was anything to reset.
func (p *Processor) Reset(ctx context.Context, rec *conversation.Record) bool {
	rec.LockTurn()
	defer rec.UnlockTurn()
	return p.reset(ctx, rec, p.logger.With("conversation_id", rec.ID()))
}

// reset clears the category and classification history, resets the
// assistant session for the previous category and tells the user. With no
// prior category it does nothing at all.
func (p *Processor) reset(ctx context.Context, rec *conversation.Record, logger *slog.Logger) bool {
	prev := rec.Category()
	if prev == "" {
		logger.Debug("reset ignored, no category set")
		return false
	}

	rec.ResetCategory()
	if prev.Known() {
		if err := p.assistant.ResetSession(ctx, rec.ID(), prev); err != nil {
			logger.Warn("failed to reset assistant session", "category", prev, "error", err)
		}
	}
	rec.UpdateMetadata(func(m *conversation.Metadata) {
		m.ProcessingHistory = append(m.ProcessingHistory, conversation.HistoryEntry{
			Kind:   conversation.HistoryReset,
			Detail: string(prev),
			At:     p.now(),
		})
	})
	logger.Info("conversation reset", "previous_category", prev)
	p.service.NotifyUpdate(rec)

	if err := p.sendText(ctx, rec, p.cfg.Messages.ResetNotice); err != nil {
		logger.Warn("failed to send reset notice", "error", err)
	}
	return true
}

var errEmptyMedia = errors.New("empty media payload")
