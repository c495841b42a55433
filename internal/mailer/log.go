package mailer

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes messages to the log instead of sending them. Bodies carry
// one-time codes, so it is meant for local development only.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.log.Info("mail (log transport)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body))
	return nil
}
