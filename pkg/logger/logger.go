// Package logger wires the module's logr.Logger onto zap and exposes
// adapters for the third-party libraries (pion/webrtc, pion/turn) that
// expect their own logging interfaces.
package logger

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/pion/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// GetLogger returns the process-wide logr.Logger. Discarded until
// InitProduction/InitDevelopment is called.
var GetLogger logr.Logger = logr.Discard()

var pionFactory logging.LoggerFactory

// PionLoggerFactory returns a pion/logging.LoggerFactory backed by the
// current logr.Logger, for wiring into webrtc.SettingEngine.
func PionLoggerFactory() logging.LoggerFactory {
	if pionFactory == nil {
		pionFactory = &leveledLoggerFactory{base: GetLogger}
	}
	return pionFactory
}

// InitProduction configures a JSON zap backend at level.
func InitProduction(logLevel string) {
	initLogger(zap.NewProductionConfig(), logLevel)
}

// InitDevelopment configures a human-readable console zap backend at
// level.
func InitDevelopment(logLevel string) {
	initLogger(zap.NewDevelopmentConfig(), logLevel)
}

// valid levels: debug, info, warn, error, fatal, panic
func initLogger(config zap.Config, level string) {
	if level != "" {
		lvl := zapcore.Level(0)
		if err := lvl.UnmarshalText([]byte(level)); err == nil {
			config.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	l, err := config.Build()
	if err != nil {
		return
	}
	GetLogger = zapr.NewLogger(l).WithName("rtp")
	pionFactory = &leveledLoggerFactory{base: GetLogger}
}
