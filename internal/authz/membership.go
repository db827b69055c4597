package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// MetadataDevAdminOverride marks memberships synthesised by DevOverride.
const MetadataDevAdminOverride = "devAdminOverride"

// DevOverrideConfig controls the operator bypass.
type DevOverrideConfig struct {
	// Enabled must be computed by the caller from the environment and the
	// explicit production opt-in; the resolver never guesses.
	Enabled        bool
	PlatformOrgID  string
	OperatorEmails []string
}

// DevOverride substitutes a platform-admin membership for known operators
// when no real membership exists. It is inert unless enabled.
type DevOverride struct {
	enabled       bool
	platformOrgID string
	operators     map[string]struct{}

	memberships MembershipRepository
	orgs        OrganizationRepository
	users       UserDirectory
	catalog     RoleCatalog
	logger      *zap.Logger
}

// NewDevOverride builds the override resolver. users may be nil, in which
// case only the platform-membership path can qualify an identity.
func NewDevOverride(cfg DevOverrideConfig, memberships MembershipRepository, orgs OrganizationRepository, users UserDirectory, catalog RoleCatalog, logger *zap.Logger) *DevOverride {
	if logger == nil {
		logger = zap.NewNop()
	}
	if catalog == nil {
		catalog = DefaultRoleCatalog()
	}
	ops := make(map[string]struct{}, len(cfg.OperatorEmails))
	for _, e := range cfg.OperatorEmails {
		if e = normalizeEmail(e); e != "" {
			ops[e] = struct{}{}
		}
	}
	return &DevOverride{
		enabled:       cfg.Enabled,
		platformOrgID: strings.TrimSpace(cfg.PlatformOrgID),
		operators:     ops,
		memberships:   memberships,
		orgs:          orgs,
		users:         users,
		catalog:       catalog,
		logger:        logger,
	}
}

// Enabled reports whether the override can ever apply.
func (d *DevOverride) Enabled() bool { return d != nil && d.enabled }

// Resolve returns a synthetic membership and true when the identity
// qualifies. Every lookup failure means "not applicable".
func (d *DevOverride) Resolve(ctx context.Context, orgID, userID string) (Membership, bool) {
	if !d.Enabled() {
		return Membership{}, false
	}

	via, ok := d.qualifies(ctx, userID)
	if !ok {
		return Membership{}, false
	}

	org, err := d.orgs.FindOrganization(ctx, orgID)
	if err != nil {
		d.logger.Warn("dev override: target organization lookup failed",
			zap.String("org_id", orgID), zap.Error(err))
		return Membership{}, false
	}

	d.logger.Warn("dev override: granting synthetic platform admin membership",
		zap.String("org_id", orgID),
		zap.String("user_id", userID),
		zap.String("via", via),
	)
	return Membership{
		OrgID:           orgID,
		UserID:          userID,
		Status:          MembershipActive,
		RoleName:        string(RoleGlobalAdmin),
		RoleScope:       RoleScopeGlobal,
		RolePermissions: d.catalog.Statements(RoleGlobalAdmin),
		Metadata: map[string]any{
			MetadataDevAdminOverride: true,
			"devAdminOverrideVia":    via,
		},
		Organization: org,
	}, true
}

func (d *DevOverride) qualifies(ctx context.Context, userID string) (string, bool) {
	if d.platformOrgID != "" && d.memberships != nil {
		m, err := d.memberships.FindMembership(ctx, d.platformOrgID, userID)
		switch {
		case err == nil:
			if m.Status == MembershipActive && m.RoleName == string(RoleGlobalAdmin) {
				return "platform-membership", true
			}
		case errors.Is(err, ErrNotFound):
		default:
			d.logger.Warn("dev override: platform membership lookup failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	if len(d.operators) > 0 && d.users != nil {
		email, err := d.users.UserEmail(ctx, userID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				d.logger.Warn("dev override: user e-mail lookup failed",
					zap.String("user_id", userID), zap.Error(err))
			}
			return "", false
		}
		if _, ok := d.operators[normalizeEmail(email)]; ok {
			return "operator-allowlist", true
		}
	}
	return "", false
}

// MembershipResolver finds the caller's membership, falling back to the
// development override only when no membership exists.
type MembershipResolver struct {
	repo     MembershipRepository
	override *DevOverride
}

// NewMembershipResolver builds a resolver; override may be nil.
func NewMembershipResolver(repo MembershipRepository, override *DevOverride) *MembershipResolver {
	return &MembershipResolver{repo: repo, override: override}
}

// Resolve returns an ACTIVE membership or an *AuthorizationError.
func (r *MembershipResolver) Resolve(ctx context.Context, orgID, userID string) (Membership, error) {
	m, err := r.repo.FindMembership(ctx, orgID, userID)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		override, ok := r.override.Resolve(ctx, orgID, userID)
		if !ok {
			return Membership{}, deny(ReasonNoMembership, "no membership for user in organization")
		}
		m = override
	default:
		return Membership{}, &AuthorizationError{
			Reason: ReasonLookupFailed,
			Detail: "membership lookup failed",
			Err:    fmt.Errorf("find membership: %w", err),
		}
	}

	if m.Status != MembershipActive {
		return Membership{}, deny(ReasonMembershipInactive, "membership status is %s", m.Status)
	}
	if m.OrgID == "" {
		m.OrgID = orgID
	}
	if m.OrgID != orgID {
		return Membership{}, deny(ReasonNoMembership, "membership belongs to another organization")
	}
	if m.UserID == "" {
		m.UserID = userID
	}
	return m, nil
}

// IsDevAdminOverride reports whether metadata carries the override marker.
func IsDevAdminOverride(metadata map[string]any) bool {
	v, ok := metadata[MetadataDevAdminOverride].(bool)
	return ok && v
}
