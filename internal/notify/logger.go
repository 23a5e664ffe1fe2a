package notify

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
)

var _ watermill.LoggerAdapter = zapAdapter{}

// zapAdapter routes watermill logs into zap.
type zapAdapter struct {
	lg *zap.Logger
}

// NewLogger wraps lg as a watermill.LoggerAdapter.
func NewLogger(lg *zap.Logger) watermill.LoggerAdapter {
	return zapAdapter{lg: lg.Named("watermill")}
}

func (a zapAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.lg.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (a zapAdapter) Info(msg string, fields watermill.LogFields) {
	a.lg.Info(msg, zapFields(fields)...)
}

func (a zapAdapter) Debug(msg string, fields watermill.LogFields) {
	a.lg.Debug(msg, zapFields(fields)...)
}

// Trace is noisy enough to keep below debug.
func (a zapAdapter) Trace(msg string, fields watermill.LogFields) {
	if ce := a.lg.Check(zap.DebugLevel-1, msg); ce != nil {
		ce.Write(zapFields(fields)...)
	}
}

func (a zapAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return zapAdapter{lg: a.lg.With(zapFields(fields)...)}
}

func zapFields(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}
