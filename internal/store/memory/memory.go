// Package memory provides in-process implementations of the authz ports for
// local runs and tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"peoplegate.org/internal/authz"
)

var (
	_ authz.MembershipRepository   = (*Store)(nil)
	_ authz.RoleStore              = (*Store)(nil)
	_ authz.PolicyStore            = (*Store)(nil)
	_ authz.OrganizationRepository = (*Store)(nil)
	_ authz.UserDirectory          = (*Store)(nil)
	_ authz.PolicyWriter           = (*Store)(nil)
)

type membershipKey struct{ orgID, userID string }

// Store keeps organizations, users, memberships, roles and ABAC policies in maps.
type Store struct {
	mu          sync.RWMutex
	orgs        map[string]authz.OrganizationSnapshot
	emails      map[string]string
	memberships map[membershipKey]authz.Membership
	roles       map[string]authz.Role
	policies    map[string][]authz.AbacPolicy
}

func New() *Store {
	return &Store{
		orgs:        map[string]authz.OrganizationSnapshot{},
		emails:      map[string]string{},
		memberships: map[membershipKey]authz.Membership{},
		roles:       map[string]authz.Role{},
		policies:    map[string][]authz.AbacPolicy{},
	}
}

func (s *Store) PutOrganization(org authz.OrganizationSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[org.ID] = org
}

func (s *Store) PutUser(userID, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails[userID] = email
}

// PutMembership stores m; its organization snapshot is filled in from the
// stored organization on read.
func (s *Store) PutMembership(m authz.Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.RolePermissions = m.RolePermissions.Clone()
	m.Metadata = maps.Clone(m.Metadata)
	s.memberships[membershipKey{m.OrgID, m.UserID}] = m
}

func (s *Store) PutRole(r authz.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Permissions = r.Permissions.Clone()
	r.InheritsRoleIDs = slices.Clone(r.InheritsRoleIDs)
	s.roles[r.ID] = r
}

func (s *Store) SetPolicies(orgID string, policies []authz.AbacPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]authz.AbacPolicy, len(policies))
	for i, p := range policies {
		p.OrgID = orgID
		cp[i] = p
	}
	s.policies[orgID] = cp
}

// ReplacePolicies validates policies and swaps them in for orgID.
func (s *Store) ReplacePolicies(_ context.Context, orgID string, policies []authz.AbacPolicy) error {
	seen := make(map[string]bool, len(policies))
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.ID] {
			return &authz.ValidationError{Field: "policy.id", Message: "duplicate policy id " + p.ID}
		}
		seen[p.ID] = true
	}
	s.SetPolicies(orgID, policies)
	return nil
}

func (s *Store) FindMembership(_ context.Context, orgID, userID string) (authz.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[membershipKey{orgID, userID}]
	if !ok {
		return authz.Membership{}, authz.ErrNotFound
	}
	if org, ok := s.orgs[orgID]; ok {
		m.Organization = org
	}
	m.RolePermissions = m.RolePermissions.Clone()
	m.Metadata = maps.Clone(m.Metadata)
	return m, nil
}

func (s *Store) FindRole(_ context.Context, roleID string) (authz.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[roleID]
	if !ok {
		return authz.Role{}, authz.ErrNotFound
	}
	r.Permissions = r.Permissions.Clone()
	r.InheritsRoleIDs = slices.Clone(r.InheritsRoleIDs)
	return r, nil
}

func (s *Store) ListPolicies(_ context.Context, orgID string) ([]authz.AbacPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.policies[orgID]), nil
}

func (s *Store) FindOrganization(_ context.Context, orgID string) (authz.OrganizationSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[orgID]
	if !ok {
		return authz.OrganizationSnapshot{}, authz.ErrNotFound
	}
	return org, nil
}

func (s *Store) UserEmail(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email, ok := s.emails[userID]
	if !ok {
		return "", authz.ErrNotFound
	}
	return email, nil
}
