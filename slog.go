package testcord

import (
	"fmt"
	"log"
)

// SLogger is the logging interface the runner and its fakes write to. Printf lines
// are always emitted while Debugf lines only show up when debug is enabled
type SLogger interface {
	Printf(format string, v ...interface{})

	Debugf(format string, v ...interface{})
}

type sLogger struct {
	logger *log.Logger
	debug  bool
}

// NewSLogger wraps a standard library logger with debug gating
func NewSLogger(log *log.Logger, debug bool) (l *sLogger) {
	return &sLogger{logger: log, debug: debug}
}

// Debugf logs a line only when debug is enabled
func (sl *sLogger) Debugf(format string, v ...interface{}) {
	if sl.debug {
		sl.Printf(fmt.Sprintf(format, v...))
	}
}

// Printf logs a line unconditionally
func (sl *sLogger) Printf(format string, v ...interface{}) {
	sl.logger.Output(2, fmt.Sprintf(format, v...))
}
