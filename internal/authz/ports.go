package authz

import "context"

// MembershipRepository looks up the membership of a user in an org.
// Implementations return ErrNotFound when there is none.
type MembershipRepository interface {
	FindMembership(ctx context.Context, orgID, userID string) (Membership, error)
}

// RoleStore loads roles by id. Implementations return ErrNotFound when the
// role does not exist.
type RoleStore interface {
	FindRole(ctx context.Context, roleID string) (Role, error)
}

// PolicyStore lists the ABAC policies owned by an org.
type PolicyStore interface {
	ListPolicies(ctx context.Context, orgID string) ([]AbacPolicy, error)
}

// OrganizationRepository loads organization snapshots.
type OrganizationRepository interface {
	FindOrganization(ctx context.Context, orgID string) (OrganizationSnapshot, error)
}

// UserDirectory resolves user e-mail addresses from the identity provider.
type UserDirectory interface {
	UserEmail(ctx context.Context, userID string) (string, error)
}

// PolicyWriter replaces the whole ABAC policy set of an org atomically.
type PolicyWriter interface {
	ReplacePolicies(ctx context.Context, orgID string, policies []AbacPolicy) error
}
