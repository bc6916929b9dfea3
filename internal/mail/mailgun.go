package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/mailgun/mailgun-go/v4"
	"go.uber.org/zap"

	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/config"
)

const sendTimeout = 30 * time.Second

// MailgunSender delivers transactional email through Mailgun.
type MailgunSender struct {
	mg     mailgun.Mailgun
	sender string
	logger *zap.Logger
}

var _ Sender = (*MailgunSender)(nil)

// NewMailgunSender constructs a sender from config.
func NewMailgunSender(cfg config.MailgunConfig, logger *zap.Logger) (*MailgunSender, error) {
	if cfg.Domain == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("mailgun domain and api key are required")
	}
	return &MailgunSender{
		mg:     mailgun.NewMailgun(cfg.Domain, cfg.APIKey),
		sender: cfg.Sender,
		logger: logger,
	}, nil
}

// Send renders the template and queues the message with Mailgun.
func (s *MailgunSender) Send(ctx context.Context, to string, template Template, payload Payload) error {
	subject, body, err := render(template, payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	message := s.mg.NewMessage(s.sender, subject, body, to)
	_, id, err := s.mg.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}

	s.logger.Info("email queued",
		zap.String("template", string(template)),
		zap.String("message_id", id),
	)
	return nil
}

func render(template Template, payload Payload) (subject, body string, err error) {
	switch template {
	case TemplateVerifyEmail:
		subject = "Verify your echoSphere email"
		body = fmt.Sprintf("Hi %s,\n\nConfirm your email address by opening the link below:\n\n%s\n\nThe link expires in 24 hours.", payload.Name, payload.Link)
	case TemplatePasswordReset:
		subject = "Reset your echoSphere password"
		body = fmt.Sprintf("Hi %s,\n\nReset your password by opening the link below:\n\n%s\n\nThe link expires in 1 hour. If you did not request this, ignore this email.", payload.Name, payload.Link)
	default:
		return "", "", fmt.Errorf("unknown email template %q", template)
	}
	return subject, body, nil
}
