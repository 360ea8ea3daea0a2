// Package logger constructs the shared zap logger for conveyor and
// declares the field-name constants used across the repository.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global logger instance
	Logger *zap.SugaredLogger
	// Flag to track if JSON output is enabled
	JSONOutput bool
)

func init() {
	// Initialize with a safe no-op logger at package load time.
	// This prevents nil pointer panics if the logger is used before
	// Initialize() is called.
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger based on the JSON output preference.
func Initialize(jsonOutput bool) error {
	log, err := New(jsonOutput)
	if err != nil {
		return err
	}
	JSONOutput = jsonOutput
	Logger = log
	return nil
}

// New builds a SugaredLogger without touching the global.
// JSON output is structured for machine consumption; console output is
// human-readable development logging.
func New(jsonOutput bool) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if jsonOutput {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return log.Sugar(), nil
}

// Nop returns a discard-everything logger for tests and silent components.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
