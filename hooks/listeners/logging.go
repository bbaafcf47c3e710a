// Package listeners provides ready-made hook listeners.
package listeners

import (
	"context"
	"log/slog"

	"github.com/INLOpen/expirebin/hooks"
)

// LoggingListener logs every event it receives at debug level. Register
// it for the events you want visible.
type LoggingListener struct {
	logger *slog.Logger
}

var _ hooks.HookListener = (*LoggingListener)(nil)

func NewLoggingListener(logger *slog.Logger) *LoggingListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingListener{logger: logger.With("component", "HookLogger")}
}

func (l *LoggingListener) OnEvent(_ context.Context, event hooks.HookEvent) error {
	l.logger.Debug("Hook event.", "event", string(event.Type()), "payload", event.Payload())
	return nil
}

func (l *LoggingListener) Priority() int {
	return 100
}
