package coordinator

import (
	"context"
	"log/slog"
)

// Notice is the single escalation sent when automatic sync gets suspended
type Notice struct {
	Reason              string
	ConsecutiveFailures int
	Message             string
	Remediation         string
}

// Notifier delivers escalation notices to the user
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, n Notice)

// Notify implements Notifier
func (f NotifierFunc) Notify(ctx context.Context, n Notice) {
	f(ctx, n)
}

// LogNotifier writes notices to the log
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier
func (l LogNotifier) Notify(_ context.Context, n Notice) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("Automatic sync suspended",
		"reason", n.Reason,
		"consecutive_failures", n.ConsecutiveFailures,
		"message", n.Message,
		"remediation", n.Remediation)
}
