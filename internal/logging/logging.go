// Package logging constructs the Engine's structured logger. It replaces the
// teacher's log/slog text handler (cmd/factory/main.go) with go.uber.org/zap,
// the logging library the rest of the retrieved corpus converges on for
// services of this shape (SPEC_FULL.md §10).
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-style zap logger, or a development logger with
// human-readable console output when dev is true (mirroring the teacher's
// verbose flag).
func New(dev bool) (*zap.Logger, error) {
	if dev {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Ticket returns a child logger scoped to a single ticket id, so every log
// line written through it can be grepped by id.
func Ticket(base *zap.Logger, ticketID string) *zap.Logger {
	return base.With(zap.String("ticket_id", ticketID))
}
