// Package logging builds the structured zap loggers used by the CLI.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// ParseLevel maps a level name to a zap level. The empty string is info.
func ParseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", level)
}

// New creates a logger writing to stderr.
//
// format is "json" (production encoder, ISO8601 timestamps) or "console"
// (development encoder). serviceName and the host name are attached to
// every entry.
func New(level, format, serviceName string) (*zap.Logger, error) {
	zapLevel, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var config zap.Config
	switch format {
	case FormatConsole:
		config = zap.NewDevelopmentConfig()
	case "", FormatJSON:
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q (want json or console)", format)
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	// stdout carries command output.
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return withIdentity(logger, serviceName), nil
}

// NewForCore wraps an existing core with the same identity fields as New.
// Tests use it with zaptest/observer.
func NewForCore(core zapcore.Core, serviceName string) *zap.Logger {
	return withIdentity(zap.New(core), serviceName)
}

func withIdentity(logger *zap.Logger, serviceName string) *zap.Logger {
	if serviceName != "" {
		logger = logger.With(zap.String("service_name", serviceName))
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		logger = logger.With(zap.String("hostname", hostname))
	}
	return logger
}
