// ABOUTME: SMTP mailer for drafted documents built on go-mail
// ABOUTME: Sends the HTML rendering of a claim to the customer's address

package collab

import (
	"context"
	"fmt"

	mail "github.com/wneessen/go-mail"

	"github.com/2389/reclama-gateway/internal/conversation"
)

// SMTPConfig configures the mailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Security is one of "tls", "starttls" or "none".
	Security string
}

// SMTPMailer implements Mailer.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates a mailer. From defaults to Username.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPMailer{cfg: cfg}
}

func (s *SMTPMailer) buildMessage(to, subject, html string) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("set to: %w", err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextHTML, html)
	m.SetMessageID()
	return m, nil
}

func (s *SMTPMailer) clientOptions() []mail.Option {
	opts := []mail.Option{mail.WithPort(s.cfg.Port)}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password))
	}
	switch s.cfg.Security {
	case "tls":
		opts = append(opts, mail.WithSSLPort(false), mail.WithTLSPolicy(mail.TLSMandatory))
	case "starttls":
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	return opts
}

// SendDocument implements Mailer.
func (s *SMTPMailer) SendDocument(ctx context.Context, to, subject, html string) error {
	const op = "send_email"
	m, err := s.buildMessage(to, subject, html)
	if err != nil {
		return &conversation.CollaboratorError{Kind: conversation.FailureDelivery, Op: op, Permanent: true, Err: err}
	}
	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return &conversation.CollaboratorError{Kind: conversation.FailureDelivery, Op: op, Permanent: true, Err: fmt.Errorf("create smtp client: %w", err)}
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return conversation.NewCollaboratorError(conversation.FailureDelivery, op, err)
	}
	return nil
}
