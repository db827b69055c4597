package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"peoplegate.org/internal/ids"
	"peoplegate.org/internal/obs"
)

// Sink accepts audit events.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Record(ctx context.Context, event Event) error { return f(ctx, event) }

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, event Event) error {
	var errs []error
	for i, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })

// Record fills in defaults and delivers the event. Sink errors are logged and
// counted, never returned.
func Record(ctx context.Context, sink Sink, logger *zap.Logger, event Event) {
	if sink == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if event.ID == "" {
		event.ID = ids.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}
	if err := sink.Record(ctx, event); err != nil {
		obs.AuditFailures.WithLabelValues(event.GuardName).Inc()
		logger.Warn("audit sink failed",
			zap.String("guard", event.GuardName),
			zap.String("decision", string(event.Decision)),
			zap.String("org_id", event.OrgID),
			zap.Error(err),
		)
	}
}
