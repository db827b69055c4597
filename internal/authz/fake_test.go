package authz

import (
	"context"
	"sync"
)

type fakeStore struct {
	mu          sync.Mutex
	orgs        map[string]OrganizationSnapshot
	emails      map[string]string
	memberships map[string]Membership
	roles       map[string]Role
	policies    map[string][]AbacPolicy

	membershipErr error
	emailErr      error
	roleLookups   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orgs:        map[string]OrganizationSnapshot{},
		emails:      map[string]string{},
		memberships: map[string]Membership{},
		roles:       map[string]Role{},
		policies:    map[string][]AbacPolicy{},
	}
}

func (f *fakeStore) FindMembership(_ context.Context, orgID, userID string) (Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.membershipErr != nil {
		return Membership{}, f.membershipErr
	}
	m, ok := f.memberships[orgID+"/"+userID]
	if !ok {
		return Membership{}, ErrNotFound
	}
	m.Organization = f.orgs[orgID]
	return m, nil
}

func (f *fakeStore) FindRole(_ context.Context, id string) (Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roleLookups++
	r, ok := f.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) ListPolicies(_ context.Context, orgID string) ([]AbacPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.policies[orgID], nil
}

func (f *fakeStore) FindOrganization(_ context.Context, orgID string) (OrganizationSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	org, ok := f.orgs[orgID]
	if !ok {
		return OrganizationSnapshot{}, ErrNotFound
	}
	return org, nil
}

func (f *fakeStore) UserEmail(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emailErr != nil {
		return "", f.emailErr
	}
	e, ok := f.emails[userID]
	if !ok {
		return "", ErrNotFound
	}
	return e, nil
}

func (f *fakeStore) addOrg(id string, cls Classification, res Residency) {
	f.orgs[id] = OrganizationSnapshot{ID: id, Name: id, DataClassification: cls, DataResidency: res}
}

func (f *fakeStore) addMember(orgID, userID, roleName string, perms Permissions) {
	f.memberships[orgID+"/"+userID] = Membership{
		OrgID:           orgID,
		UserID:          userID,
		Status:          MembershipActive,
		RoleName:        roleName,
		RoleScope:       RoleScopeOrg,
		RolePermissions: perms,
	}
}

func newTestGuard(t interface{ Fatalf(string, ...any) }, f *fakeStore, opts ...GuardOption) *Guard {
	resolver := NewMembershipResolver(f, nil)
	g, err := NewGuard(resolver, NewPermissionResolver(f, nil), f, opts...)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	return g
}
