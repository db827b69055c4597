// Package cachetag namespaces cached reads by tenant, classification and
// residency so that invalidating one tenant's data never touches another's.
package cachetag

import (
	"strings"

	"peoplegate.org/internal/authz"
)

// Scope names a family of cached reads.
type Scope string

// Cache scopes used by the HR domain.
const (
	ScopeMembers      Scope = "members"
	ScopeRoles        Scope = "roles"
	ScopeAbacPolicies Scope = "abac-policies"
	ScopeOrganization Scope = "organization"
	ScopeEmployees    Scope = "employees"
	ScopeAbsences     Scope = "absences"
	ScopeTimeEntries  Scope = "time-entries"
	ScopePolicies     Scope = "policies"
)

var escaper = strings.NewReplacer("%", "%25", ":", "%3A")

// BuildTag returns org:{orgId}:{classification}:{residency}:{scope}. Components
// are escaped, so distinct inputs always produce distinct tags.
func BuildTag(orgID string, scope Scope, classification authz.Classification, residency authz.Residency) string {
	var b strings.Builder
	b.WriteString("org:")
	b.WriteString(escaper.Replace(orgID))
	b.WriteByte(':')
	b.WriteString(escaper.Replace(string(classification)))
	b.WriteByte(':')
	b.WriteString(escaper.Replace(string(residency)))
	b.WriteByte(':')
	b.WriteString(escaper.Replace(string(scope)))
	return b.String()
}

// TagFor builds the tag for the org, classification and residency of ac.
func TagFor(ac *authz.AuthorizationContext, scope Scope) string {
	return BuildTag(ac.OrgID(), scope, ac.DataClassification(), ac.DataResidency())
}

// Cacheable reports whether data of this classification may be cached at
// all. Only OFFICIAL data is.
func Cacheable(c authz.Classification) bool {
	return c == authz.ClassificationOfficial
}

func entryKey(tag, key string) string {
	return tag + ":key:" + escaper.Replace(key)
}
