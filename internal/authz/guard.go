package authz

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"peoplegate.org/internal/audit"
	"peoplegate.org/internal/ids"
	"peoplegate.org/internal/obs"
)

const (
	// GuardName identifies org guard decisions in the audit trail.
	GuardName          = "org-guard"
	defaultAuditSource = "org-guard"

	metadataAuditBatchID      = "auditBatchId"
	metadataSubjectAttributes = "abacSubjectAttributes"
)

// Request describes one access check.
type Request struct {
	OrgID  string
	UserID string

	// RequiredPermissions must be fully satisfied when set.
	RequiredPermissions Permissions
	// RequiredAnyPermissions is satisfied when any one alternative is.
	RequiredAnyPermissions []Permissions

	ExpectedClassification Classification
	ExpectedResidency      Residency

	Action             string
	ResourceType       string
	ResourceAttributes map[string]any

	AuditSource   string
	CorrelationID string
}

func (r Request) hasRBACRequirements() bool {
	return len(r.RequiredPermissions) > 0 || len(r.RequiredAnyPermissions) > 0
}

// Guard turns a request into a verified AuthorizationContext.
type Guard struct {
	memberships *MembershipResolver
	resolver    *PermissionResolver
	policies    PolicyStore
	catalog     RoleCatalog
	sink        audit.Sink
	logger      *zap.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithAuditSink sets the sink every decision is reported to.
func WithAuditSink(s audit.Sink) GuardOption {
	return func(g *Guard) { g.sink = s }
}

// WithLogger sets the guard logger.
func WithLogger(l *zap.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithRoleCatalog overrides the well-known role statements.
func WithRoleCatalog(c RoleCatalog) GuardOption {
	return func(g *Guard) {
		if c != nil {
			g.catalog = c
		}
	}
}

// NewGuard wires the guard to its collaborators. policies may be nil when
// ABAC is not configured.
func NewGuard(memberships *MembershipResolver, resolver *PermissionResolver, policies PolicyStore, opts ...GuardOption) (*Guard, error) {
	if memberships == nil {
		return nil, errors.New("authz: membership resolver is required")
	}
	if resolver == nil {
		return nil, errors.New("authz: permission resolver is required")
	}
	g := &Guard{
		memberships: memberships,
		resolver:    resolver,
		policies:    policies,
		catalog:     DefaultRoleCatalog(),
		sink:        audit.Discard,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// AssertOrgAccess runs the access checks in order and stops at the first
// failure. It returns either a fully built context or an error, never both.
func (g *Guard) AssertOrgAccess(ctx context.Context, req Request) (*AuthorizationContext, error) {
	req.OrgID = strings.TrimSpace(req.OrgID)
	req.UserID = strings.TrimSpace(req.UserID)

	ac, err := g.evaluate(ctx, req)
	g.report(ctx, req, ac, err)
	if err != nil {
		return nil, err
	}
	return ac, nil
}

func (g *Guard) evaluate(ctx context.Context, req Request) (*AuthorizationContext, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	membership, err := g.memberships.Resolve(ctx, req.OrgID, req.UserID)
	if err != nil {
		return nil, err
	}

	role := ParseRoleRef(membership.RoleName)

	granted, err := g.effectivePermissions(ctx, membership, role)
	if err != nil {
		return nil, err
	}

	if req.hasRBACRequirements() {
		if !Satisfies(granted, req.RequiredPermissions) || !SatisfiesAny(granted, req.RequiredAnyPermissions) {
			return nil, deny(ReasonPermissionDenied, "role %q lacks required permissions", role.Name())
		}
		classification := membership.Organization.DataClassification
		if role.IsCustom() && (classification == ClassificationSecret || classification == ClassificationTopSecret) {
			return nil, deny(ReasonCustomRoleRestricted, "custom roles cannot act on %s data", classification)
		}
	}

	subject := subjectAttributes(req, membership, role)

	// Policies run even when Action or ResourceType is empty so that
	// wildcard denies still apply; exact and prefix selectors never match "".
	if g.policies != nil {
		policies, err := g.policies.ListPolicies(ctx, req.OrgID)
		if err != nil {
			return nil, &AuthorizationError{Reason: ReasonLookupFailed, Detail: "policy lookup failed", Err: err}
		}
		decision := EvaluatePolicies(policies, req.OrgID, req.Action, req.ResourceType, subject, resourceAttributes(req, membership))
		if decision.Denied {
			return nil, deny(ReasonAbacDeny, "policy %s denies %s on %s", decision.DenyPolicyID, req.Action, req.ResourceType)
		}
	}

	if req.ExpectedClassification != "" && req.ExpectedClassification != membership.Organization.DataClassification {
		return nil, deny(ReasonClassificationMismatch, "expected %s, organization is %s",
			req.ExpectedClassification, membership.Organization.DataClassification)
	}
	if req.ExpectedResidency != "" && req.ExpectedResidency != membership.Organization.DataResidency {
		return nil, deny(ReasonResidencyMismatch, "expected %s, organization is %s",
			req.ExpectedResidency, membership.Organization.DataResidency)
	}

	return g.buildContext(req, membership, role, granted, subject), nil
}

func validateRequest(req Request) error {
	if req.OrgID == "" {
		return &ValidationError{Field: "orgId", Message: "is required"}
	}
	if req.UserID == "" {
		return &ValidationError{Field: "userId", Message: "is required"}
	}
	if err := validateRequirement("requiredPermissions", req.RequiredPermissions); err != nil {
		return err
	}
	for _, alt := range req.RequiredAnyPermissions {
		if len(alt) == 0 {
			return &ValidationError{Field: "requiredAnyPermissions", Message: "contains an empty requirement set"}
		}
		if err := validateRequirement("requiredAnyPermissions", alt); err != nil {
			return err
		}
	}
	if req.ExpectedClassification != "" && !req.ExpectedClassification.Valid() {
		return &ValidationError{Field: "expectedClassification", Message: "unknown classification " + string(req.ExpectedClassification)}
	}
	if req.ExpectedResidency != "" && !req.ExpectedResidency.Valid() {
		return &ValidationError{Field: "expectedResidency", Message: "unknown residency " + string(req.ExpectedResidency)}
	}
	return nil
}

// effectivePermissions unions the well-known role statements, the snapshot
// embedded in the membership, and the resolved role graph.
func (g *Guard) effectivePermissions(ctx context.Context, m Membership, role RoleRef) (Permissions, error) {
	sets := []Permissions{m.RolePermissions}
	if k, ok := role.Known(); ok {
		sets = append(sets, g.catalog.Statements(k))
	}
	if strings.TrimSpace(m.RoleID) != "" {
		resolved, err := g.resolver.ResolveByID(ctx, m.RoleID)
		switch {
		case err == nil:
			sets = append(sets, resolved)
		case errors.Is(err, ErrNotFound):
			g.logger.Warn("membership role not found, using embedded permissions",
				zap.String("org_id", m.OrgID), zap.String("role_id", m.RoleID))
		case errors.Is(err, ErrRoleCycle), errors.Is(err, ErrRoleNotFound):
			return nil, &AuthorizationError{Reason: ReasonRoleConfiguration, Detail: "role inheritance is misconfigured", Err: err}
		default:
			return nil, &AuthorizationError{Reason: ReasonLookupFailed, Detail: "role lookup failed", Err: err}
		}
	}
	return MergePermissions(sets...), nil
}

func subjectAttributes(req Request, m Membership, role RoleRef) map[string]any {
	roles := []string{role.Key()}
	if role.Name() != role.Key() {
		roles = append(roles, role.Name())
	}
	attrs := map[string]any{}
	if extra, ok := m.Metadata[metadataSubjectAttributes].(map[string]any); ok {
		for k, v := range extra {
			if strings.TrimSpace(k) == "" || !isPlainAttribute(v) {
				continue
			}
			attrs[k] = v
		}
	}
	attrs["userId"] = req.UserID
	attrs["orgId"] = req.OrgID
	attrs["roles"] = roles
	attrs["roleKey"] = role.Key()
	attrs["roleName"] = role.Name()
	attrs["residency"] = string(m.Organization.DataResidency)
	attrs["classification"] = string(m.Organization.DataClassification)
	if m.DepartmentID != "" {
		attrs["departmentId"] = m.DepartmentID
	}
	return attrs
}

func resourceAttributes(req Request, m Membership) map[string]any {
	attrs := map[string]any{
		"residency":      string(m.Organization.DataResidency),
		"classification": string(m.Organization.DataClassification),
	}
	for k, v := range req.ResourceAttributes {
		attrs[k] = v
	}
	return attrs
}

func isPlainAttribute(v any) bool {
	switch t := v.(type) {
	case nil, string, bool, float64, float32, int, int64, int32:
		return true
	case []any:
		for _, item := range t {
			if !isPlainAttribute(item) {
				return false
			}
		}
		return true
	case []string:
		return true
	}
	return false
}

func (g *Guard) buildContext(req Request, m Membership, role RoleRef, granted Permissions, subject map[string]any) *AuthorizationContext {
	source := strings.TrimSpace(req.AuditSource)
	if source == "" {
		source = defaultAuditSource
	}
	correlationID := strings.TrimSpace(req.CorrelationID)
	if correlationID == "" {
		correlationID = ids.NewCorrelationID()
	}
	batchID, _ := m.Metadata[metadataAuditBatchID].(string)
	return &AuthorizationContext{
		orgID:              m.OrgID,
		userID:             m.UserID,
		role:               role,
		dataResidency:      m.Organization.DataResidency,
		dataClassification: m.Organization.DataClassification,
		auditSource:        source,
		correlationID:      correlationID,
		auditBatchID:       batchID,
		permissions:        granted,
		devAdminOverride:   IsDevAdminOverride(m.Metadata),
		subjectAttributes:  subject,
	}
}

func (g *Guard) report(ctx context.Context, req Request, ac *AuthorizationContext, err error) {
	decision := audit.DecisionAllow
	reason := "granted"
	attrs := map[string]any{
		"action":       req.Action,
		"resourceType": req.ResourceType,
		"auditSource":  req.AuditSource,
	}
	switch {
	case err == nil:
		attrs["roleKey"] = ac.RoleKey()
		attrs["roleName"] = ac.RoleName()
		attrs["correlationId"] = ac.CorrelationID()
		if ac.DevAdminOverride() {
			attrs[MetadataDevAdminOverride] = true
		}
	case errors.Is(err, ErrInvalidInput):
		decision = audit.DecisionDeny
		reason = "invalid_input"
	default:
		decision = audit.DecisionDeny
		if r, ok := ReasonOf(err); ok {
			reason = string(r)
		} else {
			decision = audit.DecisionError
			reason = "error"
		}
	}
	attrs["reason"] = reason
	if req.CorrelationID != "" && attrs["correlationId"] == nil {
		attrs["correlationId"] = req.CorrelationID
	}

	obs.GuardDecisions.WithLabelValues(GuardName, string(decision), reason).Inc()
	if err != nil {
		g.logger.Info("org access denied",
			zap.String("org_id", req.OrgID),
			zap.String("user_id", req.UserID),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
	audit.Record(ctx, g.sink, g.logger, audit.Event{
		GuardName:  GuardName,
		Decision:   decision,
		OrgID:      req.OrgID,
		UserID:     req.UserID,
		Attributes: attrs,
	})
}

// WithOrgContext runs fn with a verified context, or returns the denial.
func WithOrgContext[T any](ctx context.Context, g *Guard, req Request, fn func(context.Context, *AuthorizationContext) (T, error)) (T, error) {
	ac, err := g.AssertOrgAccess(ctx, req)
	if err != nil {
		var zero T
		return zero, err
	}
	return fn(ContextWithAuthorization(ctx, ac), ac)
}
