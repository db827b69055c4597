package authz

import (
	"errors"
	"testing"
)

func TestEvaluatePolicies(t *testing.T) {
	subject := map[string]any{
		"userId":       "u1",
		"roles":        []string{"custom", "payrollClerk"},
		"departmentId": "d1",
		"clearance":    float64(3),
	}
	resource := map[string]any{
		"departmentId": "d1",
		"tags":         []any{"payroll", "pii"},
		"level":        2,
	}
	cases := []struct {
		name    string
		policy  AbacPolicy
		action  string
		matched bool
	}{
		{"wildcard", AbacPolicy{Actions: []string{"*"}, Resources: []string{"*"}}, "employee.read", true},
		{"prefix", AbacPolicy{Actions: []string{"employee.*"}, Resources: []string{"employee"}}, "employee.update", true},
		{"prefix miss", AbacPolicy{Actions: []string{"document.*"}, Resources: []string{"employee"}}, "employee.update", false},
		{"empty selectors", AbacPolicy{}, "employee.read", false},
		{"subject ref", AbacPolicy{Actions: []string{"*"}, Resources: []string{"*"},
			ResourceConditions: []Condition{{Attribute: "departmentId", Operator: OpEquals, SubjectRef: "departmentId"}}}, "x", true},
		{"role list eq", AbacPolicy{Actions: []string{"*"}, Resources: []string{"*"},
			SubjectConditions: []Condition{{Attribute: "roles", Operator: OpEquals, Value: "payrollClerk"}}}, "x", true},
		{"in", AbacPolicy{Actions: []string{"*"}, Resources: []string{"*"},
			SubjectConditions: []Condition{{Attribute: "departmentId", Operator: OpIn, Value: []any{"d1", "d2"}}}}, "x", true},
		{"not_in", AbacPolicy{Actions: []string{"*"}, Resources: []string{"*"},
			SubjectConditions: []Condition{{Attribute: "departmentId", Operator: OpNotIn, Value: []any{"d1"}}}}, "x", false},
		{"contains", AbacPolicy{Actions: []string{"*"}, Resources: []string{"*"},
			ResourceConditions: []Condition{{Attribute: "tags", Operator: OpContains, Value: "pii"}}}, "x", true},
		{"numeric eq", AbacPolicy{Actions: []string{"*"}, Resources: []string{"*"},
			ResourceConditions: []Condition{{Attribute: "level", Operator: OpEquals, Value: 2.0}}}, "x", true},
		{"exists false", AbacPolicy{Actions: []string{"*"}, Resources: []string{"*"},
			SubjectConditions: []Condition{{Attribute: "manager", Operator: OpExists, Value: false}}}, "x", true},
		{"missing attribute", AbacPolicy{Actions: []string{"*"}, Resources: []string{"*"},
			SubjectConditions: []Condition{{Attribute: "manager", Operator: OpNotEquals, Value: "x"}}}, "x", false},
	}
	for _, tc := range cases {
		tc.policy.ID = tc.name
		tc.policy.Effect = EffectAllow
		d := EvaluatePolicies([]AbacPolicy{tc.policy}, orgA, tc.action, "employee", subject, resource)
		if d.Matched() != tc.matched {
			t.Fatalf("%s: matched=%v, want %v", tc.name, d.Matched(), tc.matched)
		}
	}
}

func TestEvaluatePoliciesDenyWinsAndForeignOrgIgnored(t *testing.T) {
	policies := []AbacPolicy{
		{ID: "b-allow", Effect: EffectAllow, Actions: []string{"*"}, Resources: []string{"*"}, Priority: 10},
		{ID: "a-deny", Effect: EffectDeny, Actions: []string{"*"}, Resources: []string{"*"}},
		{ID: "foreign", OrgID: orgB, Effect: EffectDeny, Actions: []string{"*"}, Resources: []string{"*"}, Priority: 99},
	}
	d := EvaluatePolicies(policies, orgA, "employee.read", "employee", nil, nil)
	if !d.Denied || d.DenyPolicyID != "a-deny" {
		t.Fatalf("expected a-deny to win, got %+v", d)
	}
	if len(d.AllowPolicyIDs) != 1 || d.AllowPolicyIDs[0] != "b-allow" {
		t.Fatalf("allow ids %v", d.AllowPolicyIDs)
	}

	none := EvaluatePolicies(nil, orgA, "employee.read", "employee", nil, nil)
	if none.Matched() {
		t.Fatalf("no policies must be neutral")
	}
}

func TestAbacPolicyValidate(t *testing.T) {
	valid := AbacPolicy{ID: "p", Effect: EffectDeny, Actions: []string{"*"}, Resources: []string{"*"},
		SubjectConditions: []Condition{{Attribute: "roles", Operator: OpContains, Value: "x"}}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	bad := []AbacPolicy{
		{Effect: EffectDeny, Actions: []string{"*"}, Resources: []string{"*"}},
		{ID: "p", Effect: "maybe", Actions: []string{"*"}, Resources: []string{"*"}},
		{ID: "p", Effect: EffectAllow, Resources: []string{"*"}},
		{ID: "p", Effect: EffectAllow, Actions: []string{"*"}, Resources: []string{"*"},
			ResourceConditions: []Condition{{Attribute: "x", Operator: "regex"}}},
	}
	for i, p := range bad {
		if err := p.Validate(); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}
