package mail

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes outgoing email to the log instead of delivering it.
// Used in development when Mailgun is not configured.
type LogSender struct {
	logger *zap.Logger
}

var _ Sender = (*LogSender)(nil)

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to string, template Template, payload Payload) error {
	s.logger.Info("email delivery skipped (no mailgun config)",
		zap.String("to", to),
		zap.String("template", string(template)),
		zap.String("link", payload.Link),
	)
	return nil
}
