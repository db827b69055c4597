package policies

import (
	"strings"

	"peoplegate.org/internal/authz"
	"peoplegate.org/internal/breakglass"
)

// engineResources are resource types checked by the engine itself rather
// than granted through role statements.
var engineResources = []string{breakglass.ResourceType}

type allowlist struct {
	actions   map[string]struct{}
	resources map[string]struct{}
}

// newAllowlist derives the selectors a policy may name from the role
// catalog: every resource in any statement, and resource.verb actions.
func newAllowlist(catalog authz.RoleCatalog) allowlist {
	al := allowlist{actions: map[string]struct{}{}, resources: map[string]struct{}{}}
	for _, perms := range catalog {
		for resource, verbs := range perms {
			al.resources[resource] = struct{}{}
			for _, verb := range verbs {
				al.actions[resource+"."+verb] = struct{}{}
			}
		}
	}
	for _, r := range engineResources {
		al.resources[r] = struct{}{}
	}
	return al
}

// check rejects selectors that could never match anything the engine
// evaluates, which is almost always a typo.
func (al allowlist) check(p authz.AbacPolicy) error {
	for _, a := range p.Actions {
		if !known(a, al.actions) {
			return &authz.ValidationError{Field: "policy.actions", Message: "policy " + p.ID + " names unknown action selector " + a}
		}
	}
	for _, r := range p.Resources {
		if !known(r, al.resources) {
			return &authz.ValidationError{Field: "policy.resources", Message: "policy " + p.ID + " names unknown resource selector " + r}
		}
	}
	return nil
}

func known(selector string, set map[string]struct{}) bool {
	selector = strings.TrimSpace(selector)
	if selector == "*" {
		return true
	}
	if _, ok := set[selector]; ok {
		return true
	}
	if prefix, ok := strings.CutSuffix(selector, "*"); ok && strings.HasSuffix(prefix, ".") {
		for v := range set {
			if strings.HasPrefix(v, prefix) {
				return true
			}
		}
	}
	return false
}
