package authz

// WellKnownRole is one of the built-in role keys.
type WellKnownRole string

const (
	RoleOwner       WellKnownRole = "owner"
	RoleOrgAdmin    WellKnownRole = "orgAdmin"
	RoleHRAdmin     WellKnownRole = "hrAdmin"
	RoleMember      WellKnownRole = "member"
	RoleGlobalAdmin WellKnownRole = "globalAdmin"
)

// RoleKeyCustom is reported by RoleRef.Key for tenant-defined roles.
const RoleKeyCustom = "custom"

// WellKnownRoles lists the built-in keys in a stable order.
var WellKnownRoles = []WellKnownRole{RoleOwner, RoleOrgAdmin, RoleHRAdmin, RoleMember, RoleGlobalAdmin}

// RoleRef is either a well-known role or a custom role name, never both.
// The zero value is a custom role with an empty name.
type RoleRef struct {
	known  WellKnownRole
	custom string
}

// ParseRoleRef maps a stored role name onto a RoleRef. Only exact matches of
// a well-known key become known roles; anything else, including names that
// merely start with a known key, stays custom and keeps its spelling.
func ParseRoleRef(name string) RoleRef {
	for _, k := range WellKnownRoles {
		if name == string(k) {
			return RoleRef{known: k}
		}
	}
	return RoleRef{custom: name}
}

// KnownRole builds a RoleRef for a well-known key.
func KnownRole(k WellKnownRole) RoleRef { return RoleRef{known: k} }

// Known returns the well-known key and true, or "" and false for custom roles.
func (r RoleRef) Known() (WellKnownRole, bool) {
	return r.known, r.known != ""
}

// IsCustom reports whether the role is tenant-defined.
func (r RoleRef) IsCustom() bool { return r.known == "" }

// Key returns the well-known key, or "custom".
func (r RoleRef) Key() string {
	if r.known != "" {
		return string(r.known)
	}
	return RoleKeyCustom
}

// Name returns the role name exactly as stored.
func (r RoleRef) Name() string {
	if r.known != "" {
		return string(r.known)
	}
	return r.custom
}

// RoleCatalog holds the permission statements of the well-known roles.
type RoleCatalog map[WellKnownRole]Permissions

// Statements returns the normalized statements for k.
func (c RoleCatalog) Statements(k WellKnownRole) Permissions {
	return c[k].Normalize()
}

// DefaultRoleCatalog returns the built-in statements used when no catalog
// file is configured.
func DefaultRoleCatalog() RoleCatalog {
	member := Permissions{
		"organization": {"read"},
		"member":       {"read"},
		"employee":     {"read"},
		"absence":      {"read", "create"},
		"timeEntry":    {"read", "create"},
		"policy":       {"read", "acknowledge"},
	}
	hrAdmin := MergePermissions(member, Permissions{
		"employee":  {"create", "update", "delete"},
		"absence":   {"update", "approve", "delete"},
		"timeEntry": {"update", "approve", "delete"},
		"policy":    {"create", "update", "delete"},
		"document":  {"read", "create", "update", "delete"},
		"pii":       {"read"},
	})
	orgAdmin := MergePermissions(hrAdmin, Permissions{
		"organization": {"update"},
		"member":       {"invite", "update", "suspend"},
		"role":         {"read", "create", "update", "delete"},
		"abacPolicy":   {"read", "update"},
		"invitation":   {"read", "create", "revoke"},
		"auditLog":     {"read"},
	})
	owner := MergePermissions(orgAdmin, Permissions{
		"organization": {"delete", "transfer"},
		"billing":      {"read", "update"},
	})
	globalAdmin := MergePermissions(owner, Permissions{
		"platform.tenant":     {"read", "update", "suspend"},
		"platform.breakGlass": {"request", "approve", "read"},
		"pii":                 {"write", "delete", "process"},
	})
	return RoleCatalog{
		RoleMember:      member,
		RoleHRAdmin:     hrAdmin,
		RoleOrgAdmin:    orgAdmin,
		RoleOwner:       owner,
		RoleGlobalAdmin: globalAdmin,
	}
}
