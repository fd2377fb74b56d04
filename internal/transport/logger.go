// ABOUTME: Adapter bridging whatsmeow's log interface onto slog
// ABOUTME: Keeps all process output on the single structured logger

package transport

import (
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// waLogger implements waLog.Logger on top of slog so whatsmeow's internal
// logging lands in the same structured stream as the rest of the bridge.
type waLogger struct {
	logger *slog.Logger
}

func newWALogger(logger *slog.Logger) waLog.Logger {
	return &waLogger{logger: logger}
}

func (l *waLogger) Errorf(msg string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(msg, args...))
}

func (l *waLogger) Warnf(msg string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(msg, args...))
}

func (l *waLogger) Infof(msg string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(msg, args...))
}

func (l *waLogger) Debugf(msg string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(msg, args...))
}

func (l *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{logger: l.logger.With("module", module)}
}
