package notification

import (
	"context"
	"log/slog"
)

const (
	// KindWithdrawalCompleted indicates a withdrawal confirmed on-chain.
	KindWithdrawalCompleted = "withdrawal_completed"
	// KindWithdrawalFailed indicates a withdrawal failed and was refunded.
	KindWithdrawalFailed = "withdrawal_failed"
	// KindConsolidation indicates a maintenance consolidation was broadcast.
	KindConsolidation = "consolidation"
)

// Message describes a notification payload. Body is a human-readable reason,
// never a raw error.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the
// logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}
