// ABOUTME: Voice message pipeline: fetch, transcribe, echo, classify, forward
// ABOUTME: Transcriptions are cached so a retried attempt does not transcribe twice

package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gabriel-vasile/mimetype"

	"github.com/2389/reclama-gateway/internal/conversation"
	"github.com/2389/reclama-gateway/internal/retry"
)

func (p *Processor) handleAudio(ctx context.Context, rec *conversation.Record, msg conversation.Message, logger *slog.Logger) error {
	err := p.runAudio(ctx, rec, msg, logger)
	if err == nil {
		return nil
	}
	if !retry.IsTransient(err) || msg.Attempts >= p.cfg.MaxAttempts {
		p.voiceApology(ctx, rec, msg.ID, logger)
	}
	return err
}

// GiveUp tells the customer that msgID will not be handled after the caller
// stopped retrying it early, e.g. on shutdown or a last attempt before
// eviction. Only unprocessed voice messages get the apology, once per message.
// The caller holds the record's turn lock.
func (p *Processor) GiveUp(ctx context.Context, rec *conversation.Record, msgID string) {
	msg, ok := rec.Message(msgID)
	if !ok || msg.Processed || msg.Type != conversation.TypeAudio {
		return
	}
	p.voiceApology(ctx, rec, msgID, p.logger.With(
		"conversation_id", rec.ID(),
		"message_id", msgID,
		"attempt", msg.Attempts))
}

// voiceApology runs detached from ctx so a cancelled turn still reaches the
// customer; the channel bounds the call with its own timeout.
func (p *Processor) voiceApology(ctx context.Context, rec *conversation.Record, msgID string, logger *slog.Logger) {
	if msg, ok := rec.Message(msgID); !ok || msg.Apologized {
		return
	}
	p.apologize(context.WithoutCancel(ctx), rec, p.cfg.Messages.VoiceApology, logger)
	done := true
	if _, err := rec.UpdateMessage(msgID, conversation.MessageUpdate{Apologized: &done}); err != nil {
		logger.Error("failed to record apology", "error", err)
	}
}

func (p *Processor) runAudio(ctx context.Context, rec *conversation.Record, msg conversation.Message, logger *slog.Logger) error {
	if msg.Attempts == 1 {
		if err := p.sendText(ctx, rec, p.cfg.Messages.AudioReceived); err != nil {
			logger.Warn("failed to send processing notice", "error", err)
		}
	}

	md := rec.Metadata()
	text, cached := md.Transcription(msg.ID)
	if !cached {
		var err error
		if text, err = p.transcribe(ctx, msg); err != nil {
			return err
		}
		now := p.now()
		rec.UpdateMetadata(func(m *conversation.Metadata) {
			m.AudioTranscriptions = append(m.AudioTranscriptions, conversation.Transcription{
				MessageID: msg.ID,
				Text:      text,
				At:        now,
			})
		})
		p.service.NotifyUpdate(rec)
		logger.Info("audio transcribed", "length", len(text))

		if err := p.sendText(ctx, rec, fmt.Sprintf(p.cfg.Messages.TranscriptionEcho, text)); err != nil {
			logger.Warn("failed to echo transcription", "error", err)
		}
	}

	category := p.classify(rec, msg.ID)
	if !category.Known() {
		logger.Debug("category unknown, not forwarding")
		return nil
	}

	reply, err := p.assistant.Respond(ctx, rec.ID(), text, category)
	if err != nil {
		return err
	}
	return p.deliverReply(ctx, rec, reply.Content, logger)
}

func (p *Processor) transcribe(ctx context.Context, msg conversation.Message) (string, error) {
	audio, err := p.channel.FetchMedia(ctx, msg.MediaID)
	if err != nil {
		return "", err
	}
	if len(audio) == 0 {
		return "", conversation.NewCollaboratorError(conversation.FailureMediaFetch, "fetch_media", errEmptyMedia)
	}
	mimeType := msg.MimeType
	if mimeType == "" {
		mimeType = mimetype.Detect(audio).String()
	}
	return p.speech.Transcribe(ctx, audio, mimeType)
}
