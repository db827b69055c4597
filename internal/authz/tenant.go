package authz

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"peoplegate.org/internal/audit"
	"peoplegate.org/internal/obs"
)

// TenantGuardName identifies tenant record violations in the audit trail.
const TenantGuardName = "tenant-record-guard"

// TenantOwned is implemented by every persisted tenant-owned record.
type TenantOwned interface {
	OwningOrgID() string
}

// AssertTenantRecord returns record when it exists and belongs to the
// context's org. A nil record yields *EntityNotFoundError and a foreign one
// *CrossTenantError; both carry the same public message.
func AssertTenantRecord[T TenantOwned](record *T, ac *AuthorizationContext, resourceType string) (*T, error) {
	if record == nil {
		return nil, &EntityNotFoundError{Resource: resourceType}
	}
	if ac == nil {
		return nil, &CrossTenantError{Resource: resourceType, RecordOrgID: (*record).OwningOrgID()}
	}
	if got := (*record).OwningOrgID(); got == "" || got != ac.OrgID() {
		return nil, &CrossTenantError{Resource: resourceType, ContextOrgID: ac.OrgID(), RecordOrgID: got}
	}
	return record, nil
}

// TenantGuard applies AssertTenantRecord and reports cross-tenant attempts
// as critical security events.
type TenantGuard struct {
	sink   audit.Sink
	logger *zap.Logger
}

// NewTenantGuard builds a guard reporting to sink.
func NewTenantGuard(sink audit.Sink, logger *zap.Logger) *TenantGuard {
	if sink == nil {
		sink = audit.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TenantGuard{sink: sink, logger: logger}
}

// Observe reports err if it is a tenant violation and returns it unchanged.
func (g *TenantGuard) Observe(ctx context.Context, ac *AuthorizationContext, resourceType string, err error) error {
	if err == nil || g == nil {
		return err
	}
	var cross *CrossTenantError
	if !errors.As(err, &cross) {
		return err
	}
	obs.TenantViolations.WithLabelValues(resourceType, "cross_tenant").Inc()
	event := audit.Event{
		GuardName: TenantGuardName,
		Decision:  audit.DecisionDeny,
		Severity:  audit.SeverityCritical,
		OrgID:     cross.ContextOrgID,
		Attributes: map[string]any{
			"resourceType":    resourceType,
			"attemptedOrgId":  cross.RecordOrgID,
			"authorizedOrgId": cross.ContextOrgID,
		},
	}
	if ac != nil {
		event.UserID = ac.UserID()
		event.Attributes["roleKey"] = ac.RoleKey()
		event.Attributes["correlationId"] = ac.CorrelationID()
	}
	g.logger.Error("cross-tenant record access blocked",
		zap.String("resource_type", resourceType),
		zap.String("context_org_id", cross.ContextOrgID),
		zap.String("record_org_id", cross.RecordOrgID),
	)
	audit.Record(ctx, g.sink, g.logger, event)
	return err
}

// Scoped is AssertTenantRecord plus reporting through g.
func Scoped[T TenantOwned](ctx context.Context, g *TenantGuard, record *T, ac *AuthorizationContext, resourceType string) (*T, error) {
	out, err := AssertTenantRecord(record, ac, resourceType)
	if err != nil {
		return nil, g.Observe(ctx, ac, resourceType, err)
	}
	return out, nil
}
