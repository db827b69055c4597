package authz

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// AbacDecision is the outcome of evaluating an org's policies for one request.
type AbacDecision struct {
	// Denied is true when at least one deny policy matched.
	Denied       bool
	DenyPolicyID string
	// AllowPolicyIDs lists the matching allow policies. Allows are neutral:
	// they never grant what RBAC refused.
	AllowPolicyIDs []string
}

// Matched reports whether any policy applied.
func (d AbacDecision) Matched() bool {
	return d.Denied || len(d.AllowPolicyIDs) > 0
}

// EvaluatePolicies applies the deny-overrides rule: any matching deny wins,
// any number of matching allows is recorded, and no match is neutral.
// Policies owned by a different org are ignored.
func EvaluatePolicies(policies []AbacPolicy, orgID, action, resourceType string, subject, resource map[string]any) AbacDecision {
	ordered := make([]AbacPolicy, len(policies))
	copy(ordered, policies)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	var decision AbacDecision
	for _, p := range ordered {
		if p.OrgID != "" && p.OrgID != orgID {
			continue
		}
		if !policyMatches(p, action, resourceType, subject, resource) {
			continue
		}
		switch p.Effect {
		case EffectDeny:
			if !decision.Denied {
				decision.Denied = true
				decision.DenyPolicyID = p.ID
			}
		case EffectAllow:
			decision.AllowPolicyIDs = append(decision.AllowPolicyIDs, p.ID)
		}
	}
	return decision
}

func policyMatches(p AbacPolicy, action, resourceType string, subject, resource map[string]any) bool {
	if !anySelectorMatches(p.Actions, action) || !anySelectorMatches(p.Resources, resourceType) {
		return false
	}
	for _, c := range p.SubjectConditions {
		if !conditionHolds(c, subject, subject) {
			return false
		}
	}
	for _, c := range p.ResourceConditions {
		if !conditionHolds(c, resource, subject) {
			return false
		}
	}
	return true
}

func anySelectorMatches(selectors []string, value string) bool {
	for _, s := range selectors {
		if selectorMatches(s, value) {
			return true
		}
	}
	return false
}

// selectorMatches supports exact names, "*" and "prefix.*".
func selectorMatches(selector, value string) bool {
	selector = strings.TrimSpace(selector)
	switch {
	case selector == "":
		return false
	case selector == "*":
		return true
	case strings.HasSuffix(selector, ".*"):
		return strings.HasPrefix(value, strings.TrimSuffix(selector, "*"))
	default:
		return selector == value
	}
}

func conditionHolds(c Condition, attrs, subject map[string]any) bool {
	actual, present := attrs[c.Attribute]
	if c.Operator == OpExists {
		want := true
		if b, ok := c.Value.(bool); ok {
			want = b
		}
		return present == want
	}
	if !present {
		return false
	}

	expected := c.Value
	if c.SubjectRef != "" {
		ref, ok := subject[c.SubjectRef]
		if !ok {
			return false
		}
		expected = ref
	}

	switch c.Operator {
	case OpEquals:
		return valuesEqual(actual, expected)
	case OpNotEquals:
		return !valuesEqual(actual, expected)
	case OpIn:
		return anyIn(actual, expected)
	case OpNotIn:
		return !anyIn(actual, expected)
	case OpContains:
		for _, item := range asList(actual) {
			if scalarEqual(item, expected) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// valuesEqual compares scalars directly; a list on the left side matches
// when it contains the expected value, so role lists can be tested with eq.
func valuesEqual(actual, expected any) bool {
	if isList(actual) {
		for _, item := range asList(actual) {
			if scalarEqual(item, expected) {
				return true
			}
		}
		return false
	}
	return scalarEqual(actual, expected)
}

func anyIn(actual, expected any) bool {
	candidates := asList(expected)
	for _, a := range asList(actual) {
		for _, e := range candidates {
			if scalarEqual(a, e) {
				return true
			}
		}
	}
	return false
}

func scalarEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func isList(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func asList(v any) []any {
	if !isList(v) {
		return []any{v}
	}
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// Validate checks that p can be evaluated.
func (p AbacPolicy) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return &ValidationError{Field: "policy.id", Message: "is required"}
	}
	if p.Effect != EffectAllow && p.Effect != EffectDeny {
		return &ValidationError{Field: "policy.effect", Message: fmt.Sprintf("policy %s: unknown effect %q", p.ID, p.Effect)}
	}
	if len(p.Actions) == 0 || len(p.Resources) == 0 {
		return &ValidationError{Field: "policy.selectors", Message: fmt.Sprintf("policy %s: actions and resources are required", p.ID)}
	}
	for _, c := range append(append([]Condition{}, p.SubjectConditions...), p.ResourceConditions...) {
		if strings.TrimSpace(c.Attribute) == "" {
			return &ValidationError{Field: "policy.condition", Message: fmt.Sprintf("policy %s: attribute is required", p.ID)}
		}
		switch c.Operator {
		case OpEquals, OpNotEquals, OpIn, OpNotIn, OpContains, OpExists:
		default:
			return &ValidationError{Field: "policy.condition", Message: fmt.Sprintf("policy %s: unknown operator %q", p.ID, c.Operator)}
		}
	}
	return nil
}
