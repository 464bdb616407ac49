// ABOUTME: Text, document and document-request handling plus classification
// ABOUTME: Categories are sticky once concrete; drafts are only requested for categorized cases

package processor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/2389/reclama-gateway/internal/classifier"
	"github.com/2389/reclama-gateway/internal/collab"
	"github.com/2389/reclama-gateway/internal/conversation"
	"github.com/2389/reclama-gateway/internal/document"
)

func (p *Processor) handleText(ctx context.Context, rec *conversation.Record, msg conversation.Message, logger *slog.Logger) error {
	if rec.IsFirstMessage(msg.ID) {
		logger.Debug("welcome turn, not forwarding")
		return nil
	}

	if p.isDocumentRequest(msg.Content) {
		return p.handleDocumentRequest(ctx, rec, logger)
	}

	category := p.classify(rec, msg.ID)
	if !category.Known() {
		logger.Debug("category unknown, not forwarding")
		return nil
	}

	reply, err := p.assistant.Respond(ctx, rec.ID(), msg.Content, category)
	if err == nil {
		err = p.deliverReply(ctx, rec, reply.Content, logger)
	}
	if err != nil {
		p.apologize(ctx, rec, p.cfg.Messages.TextApology, logger)
		return err
	}
	return nil
}

// classify returns the conversation category, running the classifier over
// the inbound history only while no concrete category is set. Every
// verdict is kept in the classification history.
func (p *Processor) classify(rec *conversation.Record, msgID string) classifier.Category {
	now := p.now()
	if c := rec.Category(); c.Known() {
		rec.UpdateMetadata(func(m *conversation.Metadata) {
			confidence := classifier.Threshold
			for i := len(m.Classifications) - 1; i >= 0; i-- {
				if m.Classifications[i].Category == c {
					confidence = m.Classifications[i].Confidence
					break
				}
			}
			m.Classifications = append(m.Classifications, conversation.Classification{
				Category: c, Confidence: confidence, MessageID: msgID, Sticky: true, At: now,
			})
		})
		return c
	}

	res := p.classifier.Classify(rec.InboundText())
	rec.UpdateMetadata(func(m *conversation.Metadata) {
		m.Classifications = append(m.Classifications, conversation.Classification{
			Category: res.Category, Confidence: res.Confidence, MessageID: msgID, At: now,
		})
	})
	if rec.SetCategoryIfUnset(res.Category) {
		p.logger.Info("conversation categorized",
			"conversation_id", rec.ID(),
			"category", res.Category,
			"confidence", res.Confidence)
	}
	p.service.NotifyUpdate(rec)
	return rec.Category()
}

func (p *Processor) isDocumentRequest(text string) bool {
	lower := strings.ToLower(text)
	for _, trigger := range p.cfg.DocumentTriggers {
		if strings.Contains(lower, strings.ToLower(trigger)) {
			return true
		}
	}
	return false
}

// handleDocumentRequest drafts, formats and sends the claim. Metadata is
// only touched once the document was delivered.
func (p *Processor) handleDocumentRequest(ctx context.Context, rec *conversation.Record, logger *slog.Logger) error {
	category := rec.Category()
	if !category.Known() {
		logger.Info("document requested before the case was categorized")
		if err := p.sendText(ctx, rec, p.cfg.Messages.DescribeCaseFirst); err != nil {
			logger.Warn("failed to ask for the case description", "error", err)
			p.apologize(ctx, rec, p.cfg.Messages.DocumentApology, logger)
			return err
		}
		return nil
	}

	snap := rec.Snapshot()
	draft, err := p.drafter.Draft(ctx, collab.DraftRequest{
		Category: category,
		History:  snap.Messages,
		Customer: snap.Metadata.Customer,
		Details:  snap.Details,
	})
	if err == nil {
		err = p.sendText(ctx, rec, document.Text(draft))
	}
	if err != nil {
		p.apologize(ctx, rec, p.cfg.Messages.DocumentApology, logger)
		return err
	}

	markdown := document.Markdown(draft, category, snap.Metadata.Customer)
	now := p.now()
	rec.UpdateMetadata(func(m *conversation.Metadata) {
		m.Document = &conversation.DocumentState{
			Generated:   true,
			GeneratedAt: now,
			Company:     draft.CompanyName,
			Reference:   draft.Reference,
			Markdown:    markdown,
		}
		m.Details = conversation.WithClaim(m.Details, draft.CompanyName, draft.Reference)
		m.ProcessingHistory = append(m.ProcessingHistory, conversation.HistoryEntry{
			Kind:   conversation.HistoryDocument,
			Detail: draft.CompanyName,
			At:     now,
		})
	})
	logger.Info("document generated", "category", category, "company", draft.CompanyName)
	p.service.NotifyUpdate(rec)

	p.emailDocument(ctx, rec, markdown, logger)
	return nil
}

// emailDocument mails the HTML rendering when a mailer and an address exist.
func (p *Processor) emailDocument(ctx context.Context, rec *conversation.Record, markdown string, logger *slog.Logger) {
	to := rec.Metadata().Customer.Email
	if p.mailer == nil || to == "" {
		return
	}
	html, err := document.HTML(markdown)
	if err == nil {
		err = p.mailer.SendDocument(ctx, to, p.cfg.Messages.EmailSubject, html)
	}
	if err != nil {
		logger.Warn("failed to email document", "error", err)
	}
}

// handleDocument acknowledges an inbound file. Drafting is driven by
// document requests, not by uploads.
func (p *Processor) handleDocument(ctx context.Context, rec *conversation.Record, msg conversation.Message, logger *slog.Logger) error {
	logger.Info("document received", "filename", msg.Filename, "mime_type", msg.MimeType)
	if err := p.sendText(ctx, rec, p.cfg.Messages.DocumentReceived); err != nil {
		logger.Warn("failed to acknowledge document", "error", err)
	}
	return nil
}
