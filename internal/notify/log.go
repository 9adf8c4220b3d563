package notify

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

func init() {
	Register("log", createLogSender)
}

// LogSender writes notifications to the application log. The link carries the
// plaintext token, so it is only emitted at debug level.
type LogSender struct{}

func createLogSender(args interface{}) (Sender, error) {
	return &LogSender{}, nil
}

func (s *LogSender) Deliver(ctx context.Context, msg *Message) error {
	logger := logutil.GetLogger(ctx)
	logger.Info("notification logged",
		zap.String("kind", msg.Kind),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	logger.Debug("notification link", zap.String("kind", msg.Kind), zap.String("link", msg.Link))
	return nil
}
