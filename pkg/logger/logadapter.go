package logger

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/pion/logging"
	"go.uber.org/zap/zapcore"
)

// logAdapter implements pion/logging.LeveledLogger (the same method set
// webrtc.LeveledLogger uses) over a logr.Logger.
type logAdapter struct {
	logger logr.Logger
	level  zapcore.Level
}

func (l *logAdapter) Trace(msg string) {}

func (l *logAdapter) Tracef(format string, args ...interface{}) {}

func (l *logAdapter) Debug(msg string) {
	if l.level > zapcore.DebugLevel {
		return
	}
	l.logger.V(1).Info(msg)
}

func (l *logAdapter) Debugf(format string, args ...interface{}) {
	if l.level > zapcore.DebugLevel {
		return
	}
	l.logger.V(1).Info(fmt.Sprintf(format, args...))
}

func (l *logAdapter) Info(msg string) {
	if l.level > zapcore.InfoLevel {
		return
	}
	l.logger.Info(msg)
}

func (l *logAdapter) Infof(format string, args ...interface{}) {
	if l.level > zapcore.InfoLevel {
		return
	}
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *logAdapter) Warn(msg string) {
	if l.level > zapcore.WarnLevel {
		return
	}
	l.logger.Info(msg)
}

func (l *logAdapter) Warnf(format string, args ...interface{}) {
	if l.level > zapcore.WarnLevel {
		return
	}
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *logAdapter) Error(msg string) {
	if l.level > zapcore.ErrorLevel {
		return
	}
	l.logger.Error(nil, msg)
}

func (l *logAdapter) Errorf(format string, args ...interface{}) {
	if l.level > zapcore.ErrorLevel {
		return
	}
	l.logger.Error(nil, fmt.Sprintf(format, args...))
}

// leveledLoggerFactory implements pion/logging.LoggerFactory, handing
// out a scoped logAdapter per component name pion asks for (e.g. "ice",
// "dtls").
type leveledLoggerFactory struct {
	base logr.Logger
}

func (f *leveledLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &logAdapter{logger: f.base.WithName(scope), level: zapcore.InfoLevel}
}
