// ABOUTME: Outbound delivery: text sends, voice replies and the TTS gate
// ABOUTME: Every delivered message is appended to the record before it is announced

package processor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/2389/reclama-gateway/internal/conversation"
)

// shouldSpeak reports whether text qualifies for a voice reply: it carries
// the confirmation phrase and no voice reply went out within the cooldown.
func (p *Processor) shouldSpeak(rec *conversation.Record, text string) bool {
	if !strings.Contains(strings.ToLower(text), strings.ToLower(p.cfg.VoiceTrigger)) {
		return false
	}
	last := rec.Metadata().LastTTSTime
	return last.IsZero() || p.now().Sub(last) >= p.cfg.TTSCooldown
}

// deliverReply sends an assistant reply as voice when the gate allows it,
// falling back to text if synthesis or voice delivery fails.
func (p *Processor) deliverReply(ctx context.Context, rec *conversation.Record, text string, logger *slog.Logger) error {
	if p.shouldSpeak(rec, text) {
		err := p.sendVoice(ctx, rec, text)
		if err == nil {
			return nil
		}
		logger.Warn("voice reply failed, falling back to text", "error", err)
	}
	return p.sendText(ctx, rec, text)
}

func (p *Processor) sendVoice(ctx context.Context, rec *conversation.Record, text string) error {
	audio, err := p.speech.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	id, err := p.channel.SendVoice(ctx, rec.Address(), audio, mimetype.Detect(audio).String())
	if err != nil {
		return err
	}
	now := p.now()
	rec.UpdateMetadata(func(m *conversation.Metadata) { m.LastTTSTime = now })
	p.appendOutbound(rec, id, conversation.TypeAudio, text)
	return nil
}

func (p *Processor) sendText(ctx context.Context, rec *conversation.Record, text string) error {
	id, err := p.channel.SendText(ctx, rec.Address(), text)
	if err != nil {
		return err
	}
	p.appendOutbound(rec, id, conversation.TypeText, text)
	return nil
}

// apologize sends a best-effort apology; its own failure is only logged.
func (p *Processor) apologize(ctx context.Context, rec *conversation.Record, text string, logger *slog.Logger) {
	if err := p.sendText(ctx, rec, text); err != nil {
		logger.Error("failed to send apology", "error", err)
	}
}

func (p *Processor) appendOutbound(rec *conversation.Record, id string, typ conversation.MessageType, content string) {
	if id == "" {
		id = uuid.New().String()
	}
	rec.AppendMessage(conversation.Message{
		ID:        id,
		Timestamp: p.now(),
		Type:      typ,
		Direction: conversation.DirectionOutbound,
		Content:   content,
		Status:    conversation.StatusSent,
		Processed: true,
	})
	p.service.NotifyMessage(rec)
}
