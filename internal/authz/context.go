package authz

import (
	"context"
	"maps"
)

// AuthorizationContext is the verified capability produced by the guard and
// handed to use-cases. It is immutable; accessors return copies.
type AuthorizationContext struct {
	orgID              string
	userID             string
	role               RoleRef
	dataResidency      Residency
	dataClassification Classification
	auditSource        string
	correlationID      string
	auditBatchID       string
	permissions        Permissions
	devAdminOverride   bool
	subjectAttributes  map[string]any
}

func (c *AuthorizationContext) OrgID() string  { return c.orgID }
func (c *AuthorizationContext) UserID() string { return c.userID }

// Role returns the tagged role reference.
func (c *AuthorizationContext) Role() RoleRef { return c.role }

// RoleKey returns the well-known key or "custom".
func (c *AuthorizationContext) RoleKey() string { return c.role.Key() }

// RoleName returns the membership's role name verbatim.
func (c *AuthorizationContext) RoleName() string { return c.role.Name() }

func (c *AuthorizationContext) DataResidency() Residency { return c.dataResidency }

func (c *AuthorizationContext) DataClassification() Classification { return c.dataClassification }

func (c *AuthorizationContext) AuditSource() string { return c.auditSource }

func (c *AuthorizationContext) CorrelationID() string { return c.correlationID }

// AuditBatchID returns the batch id from membership metadata, if any.
func (c *AuthorizationContext) AuditBatchID() (string, bool) {
	return c.auditBatchID, c.auditBatchID != ""
}

// Permissions returns a copy of the effective permission map.
func (c *AuthorizationContext) Permissions() Permissions { return c.permissions.Clone() }

// Can reports whether the effective permissions include verb on resource.
func (c *AuthorizationContext) Can(resource, verb string) bool {
	return c.permissions.Has(resource, verb)
}

// DevAdminOverride reports whether access came from the operator bypass.
func (c *AuthorizationContext) DevAdminOverride() bool { return c.devAdminOverride }

// SubjectAttributes returns a copy of the ABAC subject attributes.
func (c *AuthorizationContext) SubjectAttributes() map[string]any {
	return maps.Clone(c.subjectAttributes)
}

type authzContextKey struct{}

// ContextWithAuthorization stores ac in ctx.
func ContextWithAuthorization(ctx context.Context, ac *AuthorizationContext) context.Context {
	return context.WithValue(ctx, authzContextKey{}, ac)
}

// AuthorizationFromContext extracts the authorization context stored by
// ContextWithAuthorization.
func AuthorizationFromContext(ctx context.Context) (*AuthorizationContext, bool) {
	if ctx == nil {
		return nil, false
	}
	ac, ok := ctx.Value(authzContextKey{}).(*AuthorizationContext)
	return ac, ok && ac != nil
}
