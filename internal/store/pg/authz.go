package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (s *Store) FindMembership(ctx context.Context, orgID, userID string) (authz.Membership, error) {
	var (
		m         authz.Membership
		roleID    sql.NullString
		dept      sql.NullString
		scope     sql.NullString
		rawPerms  []byte
		rawMeta   []byte
		orgName   string
		orgClass  string
		orgRegion string
	)
	err := s.db.QueryRowContext(ctx, `
		select m.org_id, m.user_id, m.status, m.role_id, m.role_name, m.department_id,
		       m.metadata, m.created_at, m.updated_at,
		       r.scope, coalesce(r.permissions, '{}'::jsonb),
		       o.name, o.data_classification, o.data_residency
		from memberships m
		join organizations o on o.id = m.org_id
		left join roles r on r.id = m.role_id
		where m.org_id = $1 and m.user_id = $2
	`, orgID, userID).Scan(
		&m.OrgID, &m.UserID, &m.Status, &roleID, &m.RoleName, &dept,
		&rawMeta, &m.CreatedAt, &m.UpdatedAt,
		&scope, &rawPerms,
		&orgName, &orgClass, &orgRegion,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Membership{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Membership{}, fmt.Errorf("query membership: %w", err)
	}
	m.RoleID = roleID.String
	m.DepartmentID = dept.String
	m.RoleScope = authz.RoleScopeOrg
	if scope.Valid {
		m.RoleScope = authz.RoleScope(scope.String)
	}
	if err := decodeJSON(rawPerms, &m.RolePermissions, "role permissions"); err != nil {
		return authz.Membership{}, err
	}
	if err := decodeJSON(rawMeta, &m.Metadata, "membership metadata"); err != nil {
		return authz.Membership{}, err
	}
	m.Organization = authz.OrganizationSnapshot{
		ID:                 m.OrgID,
		Name:               orgName,
		DataClassification: authz.Classification(orgClass),
		DataResidency:      authz.Residency(orgRegion),
	}
	return m, nil
}

func (s *Store) FindRole(ctx context.Context, roleID string) (authz.Role, error) {
	var (
		r           authz.Role
		orgID       sql.NullString
		rawPerms    []byte
		rawInherits []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, org_id, name, scope, permissions, inherits_role_ids
		from roles
		where id = $1
	`, roleID).Scan(&r.ID, &orgID, &r.Name, &r.Scope, &rawPerms, &rawInherits)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Role{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Role{}, fmt.Errorf("query role: %w", err)
	}
	r.OrgID = orgID.String
	if err := decodeJSON(rawPerms, &r.Permissions, "role permissions"); err != nil {
		return authz.Role{}, err
	}
	if err := decodeJSON(rawInherits, &r.InheritsRoleIDs, "role inheritance"); err != nil {
		return authz.Role{}, err
	}
	return r, nil
}

func (s *Store) ListPolicies(ctx context.Context, orgID string) ([]authz.AbacPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, org_id, description, effect, actions, resources,
		       subject_conditions, resource_conditions, priority
		from abac_policies
		where org_id = $1
		order by priority desc, id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	defer rows.Close()

	var out []authz.AbacPolicy
	for rows.Next() {
		var (
			p                                        authz.AbacPolicy
			desc                                     sql.NullString
			rawActions, rawResources, rawSub, rawRes []byte
		)
		if err := rows.Scan(&p.ID, &p.OrgID, &desc, &p.Effect, &rawActions, &rawResources,
			&rawSub, &rawRes, &p.Priority); err != nil {
			return nil, err
		}
		p.Description = desc.String
		for _, f := range []struct {
			raw  []byte
			dst  any
			what string
		}{
			{rawActions, &p.Actions, "policy actions"},
			{rawResources, &p.Resources, "policy resources"},
			{rawSub, &p.SubjectConditions, "subject conditions"},
			{rawRes, &p.ResourceConditions, "resource conditions"},
		} {
			if err := decodeJSON(f.raw, f.dst, f.what); err != nil {
				return nil, fmt.Errorf("policy %s: %w", p.ID, err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReplacePolicies swaps an org's policy set in one transaction.
func (s *Store) ReplacePolicies(ctx context.Context, orgID string, policies []authz.AbacPolicy) error {
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from abac_policies where org_id = $1`, orgID); err != nil {
		return fmt.Errorf("delete policies: %w", err)
	}
	for _, p := range policies {
		actions, err := encodeJSON(p.Actions, "policy actions")
		if err != nil {
			return err
		}
		resources, err := encodeJSON(p.Resources, "policy resources")
		if err != nil {
			return err
		}
		subject, err := encodeJSON(p.SubjectConditions, "subject conditions")
		if err != nil {
			return err
		}
		resource, err := encodeJSON(p.ResourceConditions, "resource conditions")
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into abac_policies (id, org_id, description, effect, actions, resources,
			                           subject_conditions, resource_conditions, priority)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, p.ID, orgID, p.Description, string(p.Effect), actions, resources, subject, resource, p.Priority); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return &authz.ValidationError{Field: "policy.id", Message: "duplicate policy id " + p.ID}
			}
			return fmt.Errorf("insert policy %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) FindOrganization(ctx context.Context, orgID string) (authz.OrganizationSnapshot, error) {
	var org authz.OrganizationSnapshot
	err := s.db.QueryRowContext(ctx, `
		select id, name, data_classification, data_residency
		from organizations
		where id = $1
	`, orgID).Scan(&org.ID, &org.Name, &org.DataClassification, &org.DataResidency)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.OrganizationSnapshot{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.OrganizationSnapshot{}, fmt.Errorf("query organization: %w", err)
	}
	return org, nil
}

func (s *Store) UserEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := s.db.QueryRowContext(ctx, `select email from users where id = $1`, userID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", authz.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query user: %w", err)
	}
	return email, nil
}
