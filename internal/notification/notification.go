package notification

import (
	"context"
	"log/slog"
)

// Notification kinds emitted on terminal ledger transitions. Each fires at
// most once per transition because services only notify when the transition
// was actually applied.
const (
	KindWalletFunded       = "wallet_funded"
	KindWithdrawalSettled  = "withdrawal_settled"
	KindWithdrawalReversed = "withdrawal_reversed"
	KindCardIssued         = "card_issued"
	KindCardFunded         = "card_funded"
	KindCardTerminated     = "card_terminated"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers domain events to the downstream notification/email
// collaborator.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the
// structured logger.
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
