package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"

	"github.com/blacknout/nomada-backend-sub000/pkg/config"
)

// EmailSender dispatches a one-shot message to a contact address. The SOS
// escalation path uses it when a contact email is configured.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NewEmailSender returns the SMTP sender, or a logging no-op when email is
// disabled in config, so callers never need a nil check.
func NewEmailSender(cfg config.EmailConfig, logger *slog.Logger) EmailSender {
	if !cfg.Enabled {
		return &nopEmailSender{logger: logger.With(slog.String("component", "email"))}
	}
	return &SMTPSender{cfg: cfg, logger: logger.With(slog.String("component", "email"))}
}

type SMTPSender struct {
	cfg    config.EmailConfig
	logger *slog.Logger
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	msg := []byte("From: " + s.cfg.From + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" +
		body + "\r\n")

	auth := smtp.PlainAuth("", s.cfg.From, s.cfg.Password, s.cfg.Host)
	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	s.logger.Info("Email dispatched", slog.String("to", to), slog.String("subject", subject))
	return nil
}

type nopEmailSender struct {
	logger *slog.Logger
}

func (n *nopEmailSender) Send(_ context.Context, to, subject, _ string) error {
	n.logger.Info("Email disabled, dropping message", slog.String("to", to), slog.String("subject", subject))
	return nil
}
