// Package email delivers transcript summary mails. Two senders exist: an
// SMTP sender built on go-mail and a console sender that only logs, so the
// server runs without mail credentials in development.
package email

import (
	"context"
	"fmt"
	"log/slog"

	gomail "github.com/wneessen/go-mail"

	"github.com/MrWong99/echoscribe/internal/config"
)

// Message is one outgoing mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NewSender builds a Sender from configuration: a [ConsoleSender] in console
// mode, an [SMTPSender] otherwise.
func NewSender(cfg config.EmailConfig) (Sender, error) {
	if cfg.Mode == config.EmailConsole {
		return &ConsoleSender{}, nil
	}
	return NewSMTPSender(cfg)
}

// ConsoleSender logs outgoing mail instead of delivering it.
type ConsoleSender struct{}

var _ Sender = (*ConsoleSender)(nil)

// Send implements [Sender].
func (s *ConsoleSender) Send(ctx context.Context, msg Message) error {
	slog.InfoContext(ctx, "email (console mode, not delivered)",
		"to", msg.To,
		"subject", msg.Subject,
		"body_length", len(msg.Body))
	return nil
}

// SMTPSender delivers mail through an SMTP server.
type SMTPSender struct {
	client   *gomail.Client
	from     string
	fromName string
}

var _ Sender = (*SMTPSender)(nil)

// NewSMTPSender creates an SMTPSender from configuration.
func NewSMTPSender(cfg config.EmailConfig) (*SMTPSender, error) {
	opts := []gomail.Option{}
	if cfg.Port != 0 {
		opts = append(opts, gomail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("email: create smtp client: %w", err)
	}
	return &SMTPSender{client: client, from: cfg.From, fromName: cfg.FromName}, nil
}

// Send implements [Sender].
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m := gomail.NewMsg()
	if err := m.FromFormat(s.fromName, s.from); err != nil {
		return fmt.Errorf("email: set sender: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return fmt.Errorf("email: set recipient %q: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)

	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("email: send to %q: %w", msg.To, err)
	}
	return nil
}
