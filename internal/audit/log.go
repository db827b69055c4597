package audit

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink that logs through logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.With(zap.String("type", "audit"))}
}

func (s *LogSink) Record(_ context.Context, event Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("guard", event.GuardName),
		zap.String("decision", string(event.Decision)),
		zap.String("severity", string(event.Severity)),
		zap.String("org_id", event.OrgID),
		zap.String("user_id", event.UserID),
		zap.Time("occurred_at", event.OccurredAt),
	}
	if event.RequestID != "" {
		fields = append(fields, zap.String("request_id", event.RequestID))
	}
	attrs := event.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	fields = append(fields, zap.Any("fields", attrs))
	s.logger.Info("audit", fields...)
	return nil
}
