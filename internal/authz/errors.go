package authz

import (
	"errors"
	"fmt"
)

// Public messages. Every authorization failure is shown to end users as
// PublicDenied, and a missing record looks exactly like a record owned by
// another tenant.
const (
	PublicDenied   = "access denied"
	PublicNotFound = "not found"
)

var (
	// ErrAccessDenied matches every *AuthorizationError via errors.Is.
	ErrAccessDenied = errors.New("authz: access denied")
	// ErrNotFound is returned by repositories when a lookup finds nothing.
	ErrNotFound = errors.New("authz: not found")
	// ErrCrossTenant matches *CrossTenantError via errors.Is.
	ErrCrossTenant = errors.New("authz: cross-tenant access")
	// ErrInvalidInput matches *ValidationError via errors.Is.
	ErrInvalidInput = errors.New("authz: invalid input")
	// ErrRoleCycle marks a role inheritance graph that is not a DAG.
	ErrRoleCycle = errors.New("authz: role inheritance cycle")
	// ErrRoleNotFound marks an inherited role that does not exist.
	ErrRoleNotFound = errors.New("authz: role not found")
)

// Reason is the machine-readable cause carried by an AuthorizationError.
type Reason string

const (
	ReasonNoMembership           Reason = "no_membership"
	ReasonMembershipInactive     Reason = "membership_inactive"
	ReasonPermissionDenied       Reason = "permission_denied"
	ReasonAbacDeny               Reason = "abac_deny"
	ReasonClassificationMismatch Reason = "classification_mismatch"
	ReasonResidencyMismatch      Reason = "residency_mismatch"
	ReasonCustomRoleRestricted   Reason = "custom_role_restricted"
	ReasonRoleConfiguration      Reason = "role_configuration"
	ReasonLookupFailed           Reason = "lookup_failed"
)

// AuthorizationError is the only error the guard returns for a denied request.
type AuthorizationError struct {
	Reason Reason
	Detail string
	Err    error
}

func (e *AuthorizationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("authz: access denied (%s)", e.Reason)
	}
	return fmt.Sprintf("authz: access denied (%s): %s", e.Reason, e.Detail)
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrAccessDenied }

func (e *AuthorizationError) Unwrap() error { return e.Err }

// PublicMessage is what callers may show to end users.
func (e *AuthorizationError) PublicMessage() string { return PublicDenied }

func deny(reason Reason, format string, args ...any) *AuthorizationError {
	return &AuthorizationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the denial reason from err, if any.
func ReasonOf(err error) (Reason, bool) {
	var ae *AuthorizationError
	if errors.As(err, &ae) {
		return ae.Reason, true
	}
	return "", false
}

// ValidationError reports malformed guard input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "authz: invalid input: " + e.Message
	}
	return fmt.Sprintf("authz: invalid input: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// EntityNotFoundError reports a record that is absent.
type EntityNotFoundError struct {
	Resource string
	ID       string
}

func (e *EntityNotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("authz: %s not found", e.Resource)
	}
	return fmt.Sprintf("authz: %s %s not found", e.Resource, e.ID)
}

func (e *EntityNotFoundError) Is(target error) bool { return target == ErrNotFound }

// PublicMessage is identical to CrossTenantError's.
func (e *EntityNotFoundError) PublicMessage() string { return PublicNotFound }

// CrossTenantError reports a record whose org differs from the caller's.
type CrossTenantError struct {
	Resource     string
	ContextOrgID string
	RecordOrgID  string
}

func (e *CrossTenantError) Error() string {
	return fmt.Sprintf("authz: cross-tenant %s access: record org %q, context org %q",
		e.Resource, e.RecordOrgID, e.ContextOrgID)
}

func (e *CrossTenantError) Is(target error) bool { return target == ErrCrossTenant }

// PublicMessage is identical to EntityNotFoundError's so that the response
// never reveals whether the record exists in another tenant.
func (e *CrossTenantError) PublicMessage() string { return PublicNotFound }
