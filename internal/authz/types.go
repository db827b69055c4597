package authz

import (
	"strings"
	"time"
)

// Classification is the sensitivity tier of an organization's data.
type Classification string

const (
	ClassificationOfficial          Classification = "OFFICIAL"
	ClassificationOfficialSensitive Classification = "OFFICIAL_SENSITIVE"
	ClassificationSecret            Classification = "SECRET"
	ClassificationTopSecret         Classification = "TOP_SECRET"
)

// Valid reports whether c is a known tier.
func (c Classification) Valid() bool {
	switch c {
	case ClassificationOfficial, ClassificationOfficialSensitive, ClassificationSecret, ClassificationTopSecret:
		return true
	}
	return false
}

// Elevated reports whether c is above OFFICIAL.
func (c Classification) Elevated() bool {
	return c != ClassificationOfficial
}

// Residency is the region zone an organization's data must stay in.
type Residency string

const (
	ResidencyUKOnly           Residency = "UK_ONLY"
	ResidencyUKAndEEA         Residency = "UK_AND_EEA"
	ResidencyGlobalRestricted Residency = "GLOBAL_RESTRICTED"
)

// Valid reports whether r is a known zone.
func (r Residency) Valid() bool {
	switch r {
	case ResidencyUKOnly, ResidencyUKAndEEA, ResidencyGlobalRestricted:
		return true
	}
	return false
}

// MembershipStatus is the lifecycle state of a membership. Memberships are
// never deleted; they move to a terminal status instead.
type MembershipStatus string

const (
	MembershipActive      MembershipStatus = "ACTIVE"
	MembershipInvited     MembershipStatus = "INVITED"
	MembershipSuspended   MembershipStatus = "SUSPENDED"
	MembershipDeactivated MembershipStatus = "DEACTIVATED"
)

// RoleScope tells whether a role is defined platform-wide or by one org.
type RoleScope string

const (
	RoleScopeGlobal RoleScope = "GLOBAL"
	RoleScopeOrg    RoleScope = "ORG"
)

// OrganizationSnapshot is the slice of an organization embedded in a membership.
type OrganizationSnapshot struct {
	ID                 string
	Name               string
	DataResidency      Residency
	DataClassification Classification
}

// Membership binds one user to one organization with one role.
type Membership struct {
	OrgID           string
	UserID          string
	Status          MembershipStatus
	RoleID          string
	RoleName        string
	RoleScope       RoleScope
	RolePermissions Permissions
	DepartmentID    string
	Metadata        map[string]any
	Organization    OrganizationSnapshot
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Role is a named permission statement that may inherit other roles.
// OrgID is empty for global roles.
type Role struct {
	ID              string
	OrgID           string
	Name            string
	Scope           RoleScope
	Permissions     Permissions
	InheritsRoleIDs []string
}

// Effect is the outcome an ABAC policy applies when it matches.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Operator is one of the fixed condition matchers.
type Operator string

const (
	OpEquals    Operator = "eq"
	OpNotEquals Operator = "neq"
	OpIn        Operator = "in"
	OpNotIn     Operator = "not_in"
	OpContains  Operator = "contains"
	OpExists    Operator = "exists"
)

// Condition matches one attribute. When SubjectRef is set the expected value
// is read from the subject attribute of that name instead of Value, which is
// how ownership rules ("resource.ownerId eq subject.userId") are written.
type Condition struct {
	Attribute  string   `yaml:"attribute" json:"attribute"`
	Operator   Operator `yaml:"op" json:"op"`
	Value      any      `yaml:"value,omitempty" json:"value,omitempty"`
	SubjectRef string   `yaml:"subjectRef,omitempty" json:"subjectRef,omitempty"`
}

// AbacPolicy applies Effect to requests whose action and resource type match
// the selectors and whose attributes satisfy every condition. Policies only
// apply to the organization that owns them.
type AbacPolicy struct {
	ID                 string      `yaml:"id" json:"id"`
	OrgID              string      `yaml:"-" json:"orgId,omitempty"`
	Description        string      `yaml:"description,omitempty" json:"description,omitempty"`
	Effect             Effect      `yaml:"effect" json:"effect"`
	Actions            []string    `yaml:"actions" json:"actions"`
	Resources          []string    `yaml:"resources" json:"resources"`
	SubjectConditions  []Condition `yaml:"subject,omitempty" json:"subject,omitempty"`
	ResourceConditions []Condition `yaml:"resource,omitempty" json:"resource,omitempty"`
	Priority           int         `yaml:"priority,omitempty" json:"priority,omitempty"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
