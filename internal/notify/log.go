package notify

import (
	"context"

	"go.uber.org/zap"
)

// Log records the notification as a log entry. It never fails.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Present(_ context.Context, n Notification) error {
	l.logger.Info("reminder due",
		zap.String("delivery_id", n.ID),
		zap.String("title", n.Title),
		zap.String("body", n.Body),
		zap.Bool("repeat", n.Repeat))
	return nil
}
