package pg

import (
	"context"
	"database/sql"
	"fmt"

	"peoplegate.org/internal/audit"
)

// AuditSink appends events to the audit_log table.
type AuditSink struct {
	db *sql.DB
}

var _ audit.Sink = (*AuditSink)(nil)

// AuditSink returns a sink sharing s's connection pool.
func (s *Store) AuditSink() *AuditSink { return &AuditSink{db: s.db} }

func (a *AuditSink) Record(ctx context.Context, e audit.Event) error {
	attrs := e.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	raw, err := encodeJSON(attrs, "audit attributes")
	if err != nil {
		return err
	}
	if _, err := a.db.ExecContext(ctx, `
		insert into audit_log (id, guard_name, decision, severity, org_id, user_id, request_id, occurred_at, attributes)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.GuardName, string(e.Decision), string(e.Severity),
		nullString(e.OrgID), nullString(e.UserID), nullString(e.RequestID), e.OccurredAt, raw); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
