// Package audit delivers guard decisions and break-glass transitions to
// audit sinks. Delivery is best-effort: a failing sink never changes the
// outcome of the decision being reported.
package audit

import (
	"context"
	"strings"
	"time"
)

// Decision is the outcome recorded for an event.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionError Decision = "error"

	DecisionRequested Decision = "requested"
	DecisionApproved  Decision = "approved"
	DecisionRejected  Decision = "rejected"
	DecisionConsumed  Decision = "consumed"
)

// Severity grades security events; guard decisions default to info.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event is a single audit record.
type Event struct {
	ID         string
	GuardName  string
	Decision   Decision
	Severity   Severity
	OrgID      string
	UserID     string
	RequestID  string
	OccurredAt time.Time
	Attributes map[string]any
}

// Attr returns the attribute value stored under key, or nil.
func (e Event) Attr(key string) any {
	if e.Attributes == nil {
		return nil
	}
	return e.Attributes[key]
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
