package notify

import (
	"context"

	"github.com/skalibog/smcbot/pkg/logger"
	"go.uber.org/zap"
)

// LogNotifier пишет уведомления в лог
type LogNotifier struct{}

func (LogNotifier) Name() string  { return "log" }
func (LogNotifier) Enabled() bool { return true }

func (LogNotifier) Send(_ context.Context, msg Message) error {
	logger.Info(msg.Title,
		zap.String("symbol", msg.Symbol),
		zap.String("event", string(msg.Event)),
		zap.String("text", msg.Text))
	return nil
}
