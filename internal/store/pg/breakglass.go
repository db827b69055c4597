package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"peoplegate.org/internal/authz"
	"peoplegate.org/internal/breakglass"
)

// BreakGlassStore persists approvals with optimistic concurrency on the
// version column.
type BreakGlassStore struct {
	db *sql.DB
}

var _ breakglass.Store = (*BreakGlassStore)(nil)

// BreakGlass returns the approval store sharing s's connection pool.
func (s *Store) BreakGlass() *BreakGlassStore { return &BreakGlassStore{db: s.db} }

const approvalColumns = `id, org_id, scope, action, resource_id, reason, status, version,
	requested_by, requested_at, expires_at,
	approved_by, approved_at, rejected_by, rejected_at, consumed_by, consumed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (breakglass.Approval, error) {
	var (
		a                                breakglass.Approval
		resourceID                       sql.NullString
		approvedBy, rejectedBy, consumed sql.NullString
		approvedAt, rejectedAt, usedAt   sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.OrgID, &a.Scope, &a.Action, &resourceID, &a.Reason, &a.Status, &a.Version,
		&a.RequestedBy, &a.RequestedAt, &a.ExpiresAt,
		&approvedBy, &approvedAt, &rejectedBy, &rejectedAt, &consumed, &usedAt); err != nil {
		return breakglass.Approval{}, err
	}
	a.ResourceID = resourceID.String
	a.ApprovedBy = approvedBy.String
	a.RejectedBy = rejectedBy.String
	a.ConsumedBy = consumed.String
	a.ApprovedAt = timePtr(approvedAt)
	a.RejectedAt = timePtr(rejectedAt)
	a.ConsumedAt = timePtr(usedAt)
	return a, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *BreakGlassStore) Create(ctx context.Context, a breakglass.Approval) error {
	_, err := s.db.ExecContext(ctx, `
		insert into break_glass_approvals (`+approvalColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, a.ID, a.OrgID, a.Scope, a.Action, nullString(a.ResourceID), a.Reason, string(a.Status), a.Version,
		a.RequestedBy, a.RequestedAt, a.ExpiresAt,
		nullString(a.ApprovedBy), nullTime(a.ApprovedAt), nullString(a.RejectedBy), nullTime(a.RejectedAt),
		nullString(a.ConsumedBy), nullTime(a.ConsumedAt))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return &breakglass.ConflictError{ApprovalID: a.ID, ExpectedVersion: a.Version}
		}
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (s *BreakGlassStore) Get(ctx context.Context, id string) (breakglass.Approval, error) {
	a, err := scanApproval(s.db.QueryRowContext(ctx,
		`select `+approvalColumns+` from break_glass_approvals where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return breakglass.Approval{}, authz.ErrNotFound
	}
	if err != nil {
		return breakglass.Approval{}, fmt.Errorf("query approval: %w", err)
	}
	return a, nil
}

func (s *BreakGlassStore) List(ctx context.Context, orgID string) ([]breakglass.Approval, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+approvalColumns+` from break_glass_approvals where org_id = $1 order by requested_at desc`, orgID)
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	defer rows.Close()
	var out []breakglass.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateIfVersion writes next only while the stored version equals expected.
// A zero-row update is resolved into CommitConflict or authz.ErrNotFound by
// re-reading the row.
func (s *BreakGlassStore) UpdateIfVersion(ctx context.Context, next breakglass.Approval, expected int) (breakglass.CommitResult, error) {
	updated, err := scanApproval(s.db.QueryRowContext(ctx, `
		update break_glass_approvals
		set status = $3, version = version + 1,
		    approved_by = $4, approved_at = $5,
		    rejected_by = $6, rejected_at = $7,
		    consumed_by = $8, consumed_at = $9
		where id = $1 and version = $2
		returning `+approvalColumns,
		next.ID, expected, string(next.Status),
		nullString(next.ApprovedBy), nullTime(next.ApprovedAt),
		nullString(next.RejectedBy), nullTime(next.RejectedAt),
		nullString(next.ConsumedBy), nullTime(next.ConsumedAt)))
	switch {
	case err == nil:
		return breakglass.CommitResult{Outcome: breakglass.CommitApplied, Approval: updated}, nil
	case errors.Is(err, sql.ErrNoRows):
	default:
		return breakglass.CommitResult{}, fmt.Errorf("update approval: %w", err)
	}

	current, err := s.Get(ctx, next.ID)
	if err != nil {
		return breakglass.CommitResult{}, err
	}
	return breakglass.CommitResult{Outcome: breakglass.CommitConflict, Approval: current}, nil
}
