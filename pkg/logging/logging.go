// Package logging holds the process-wide structured logger.
package logging

import (
	"go.uber.org/zap"
)

// Logger is a no-op until InitLogger is called, so library code and tests can
// log unconditionally.
var Logger = zap.NewNop().Sugar()

// InitLogger configures Logger. Debug mode logs everything with the
// development config; otherwise only warnings and errors are shown.
func InitLogger(debug bool) error {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	Logger = logger.Sugar()
	return nil
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Logger.Sync()
}
