// Package logging configures the process-wide slog logger.
package logging

import (
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// New builds a structured logger for the named service, backed by zap's
// production JSON encoder, and installs it as the slog default.
// The returned sync func flushes buffered entries and should be deferred.
func New(service, level string) (*slog.Logger, func(), error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := cfg.Build()
	if err != nil {
		return nil, func() {}, err
	}

	logger := slog.New(zapslog.NewHandler(zl.Core())).With("service", service)
	slog.SetDefault(logger)
	return logger, func() { _ = zl.Sync() }, nil
}

func parseLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}
