package authz

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Permissions maps a resource type to the verbs granted on it.
type Permissions map[string][]string

// Normalize returns a copy with trimmed names, deduplicated and sorted verbs,
// and resources without verbs removed. The result of merging the same inputs
// is therefore identical regardless of map iteration order.
func (p Permissions) Normalize() Permissions {
	out := make(Permissions, len(p))
	for resource, verbs := range p {
		resource = strings.TrimSpace(resource)
		if resource == "" {
			continue
		}
		set := make(map[string]struct{}, len(verbs)+len(out[resource]))
		for _, v := range out[resource] {
			set[v] = struct{}{}
		}
		for _, v := range verbs {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			set[v] = struct{}{}
		}
		if len(set) == 0 {
			continue
		}
		list := make([]string, 0, len(set))
		for v := range set {
			list = append(list, v)
		}
		sort.Strings(list)
		out[resource] = list
	}
	return out
}

// Clone returns a deep copy.
func (p Permissions) Clone() Permissions {
	if p == nil {
		return nil
	}
	out := make(Permissions, len(p))
	for k, v := range p {
		out[k] = slices.Clone(v)
	}
	return out
}

// Has reports whether verb is granted on resource.
func (p Permissions) Has(resource, verb string) bool {
	return slices.Contains(p[resource], verb)
}

// Resources returns the resource names in sorted order.
func (p Permissions) Resources() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MergePermissions unions verb sets per resource.
func MergePermissions(sets ...Permissions) Permissions {
	merged := Permissions{}
	for _, set := range sets {
		for resource, verbs := range set {
			merged[resource] = append(merged[resource], verbs...)
		}
	}
	return merged.Normalize()
}

// Satisfies reports whether granted covers every verb listed for every
// resource in required. An empty requirement is trivially satisfied.
func Satisfies(granted, required Permissions) bool {
	for resource, verbs := range required {
		have := granted[strings.TrimSpace(resource)]
		for _, verb := range verbs {
			verb = strings.TrimSpace(verb)
			if verb == "" {
				continue
			}
			if !slices.Contains(have, verb) {
				return false
			}
		}
	}
	return true
}

// SatisfiesAny reports whether granted satisfies at least one alternative.
// An empty list of alternatives is trivially satisfied.
func SatisfiesAny(granted Permissions, alternatives []Permissions) bool {
	if len(alternatives) == 0 {
		return true
	}
	for _, alt := range alternatives {
		if Satisfies(granted, alt) {
			return true
		}
	}
	return false
}

func validateRequirement(field string, req Permissions) error {
	for resource, verbs := range req {
		if strings.TrimSpace(resource) == "" {
			return &ValidationError{Field: field, Message: "resource name is empty"}
		}
		hasVerb := false
		for _, v := range verbs {
			if strings.TrimSpace(v) != "" {
				hasVerb = true
				break
			}
		}
		if !hasVerb {
			return &ValidationError{Field: field, Message: fmt.Sprintf("resource %q lists no verbs", resource)}
		}
	}
	return nil
}
