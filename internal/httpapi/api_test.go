package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"peoplegate.org/internal/authz"
	"peoplegate.org/internal/breakglass"
	"peoplegate.org/internal/cachetag"
	"peoplegate.org/internal/policies"
	"peoplegate.org/internal/session"
	"peoplegate.org/internal/store/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type apiClient struct {
	baseURL  string
	client   *http.Client
	verifier *session.Verifier
	t        *testing.T
}

func newTestAPI(t *testing.T, opts ...Option) *apiClient {
	t.Helper()

	st := memory.New()
	for _, org := range []string{"org-a", "org-b"} {
		st.PutOrganization(authz.OrganizationSnapshot{
			ID:                 org,
			Name:               strings.ToUpper(org),
			DataClassification: authz.ClassificationOfficial,
			DataResidency:      authz.ResidencyUKOnly,
		})
	}
	for _, m := range []struct{ org, user, role string }{
		{"org-a", "alice", "globalAdmin"},
		{"org-a", "bob", "globalAdmin"},
		{"org-a", "carol", "member"},
		{"org-b", "dave", "globalAdmin"},
	} {
		st.PutMembership(authz.Membership{OrgID: m.org, UserID: m.user, Status: authz.MembershipActive, RoleName: m.role})
	}
	guard, err := authz.NewGuard(authz.NewMembershipResolver(st, nil), authz.NewPermissionResolver(st, nil), st)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	bg, err := breakglass.NewService(guard, breakglass.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	pol, err := policies.NewService(guard, st, policies.WithCache(cachetag.New(cachetag.NewMemoryBackend(), time.Minute, nil)))
	if err != nil {
		t.Fatalf("policies.NewService: %v", err)
	}
	verifier, err := session.NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	api := New(guard, bg, verifier, append([]Option{WithRateLimit(1000, 1000), WithVersion("test"), WithPolicies(pol)}, opts...)...)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), verifier: verifier, t: t}
}

func (c *apiClient) token(user, org string) string {
	c.t.Helper()
	tok, _, err := c.verifier.Issue(user, org, time.Hour)
	if err != nil {
		c.t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (c *apiClient) do(method, path, token string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

func TestHealthzIsPublic(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodGet, "/healthz", "", nil, nil)
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusOK || body["version"] != "test" {
		t.Fatalf("healthz = %d %v", resp.StatusCode, body)
	}
}

func TestReadyzReflectsProbe(t *testing.T) {
	c := newTestAPI(t, WithReadiness(ReadyFunc(func(context.Context) error { return errors.New("db down") })))
	resp := c.do(http.MethodGet, "/readyz", "", nil, nil)
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusServiceUnavailable || body["status"] != "not_ready" {
		t.Fatalf("readyz = %d %v", resp.StatusCode, body)
	}
	if _, leaked := body["error"]; leaked {
		t.Fatalf("readiness must not expose internal errors: %v", body)
	}
}

func TestCheckRequiresSession(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodPost, "/v1/authz/check", "", map[string]any{}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/authz/check", "not-a-jwt", map[string]any{}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCheckAllowed(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodPost, "/v1/authz/check", c.token("carol", "org-a"), map[string]any{
		"requiredPermissions": map[string][]string{"employee": {"read"}},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decode[checkResponse](t, resp)
	if !body.Allowed || body.OrgID != "org-a" || body.UserID != "carol" || body.RoleKey != "member" {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.CorrelationID == "" {
		t.Fatalf("correlation id missing")
	}
}

func TestCheckDeniedHidesReason(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodPost, "/v1/authz/check", c.token("carol", "org-a"), map[string]any{
		"requiredPermissions": map[string][]string{"employee": {"delete"}},
	}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	body := decode[errorBody](t, resp)
	if body.Error != authz.PublicDenied || body.RequestID == "" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestCheckIgnoresOrgHeaderHint(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodPost, "/v1/authz/check", c.token("carol", "org-a"), map[string]any{}, map[string]string{
		"X-Org-Id": "org-b",
	})
	body := decode[checkResponse](t, resp)
	if resp.StatusCode != http.StatusOK || body.OrgID != "org-a" {
		t.Fatalf("session org must win over header hint: %d %+v", resp.StatusCode, body)
	}
}

func TestCheckRejectsMalformedBody(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodPost, "/v1/authz/check", c.token("carol", "org-a"), map[string]any{"unknown": true}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestBreakGlassFlow(t *testing.T) {
	c := newTestAPI(t)
	alice := c.token("alice", "org-a")
	bob := c.token("bob", "org-a")

	resp := c.do(http.MethodPost, "/v1/break-glass", alice, map[string]any{
		"scope": "employee-records", "action": "read", "resourceId": "emp-1", "reason": "payroll incident",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("request status %d", resp.StatusCode)
	}
	created := decode[breakglass.Approval](t, resp)
	if created.Status != breakglass.StatusPending || resp.Header.Get("Location") != "/v1/break-glass/"+created.ID {
		t.Fatalf("unexpected approval %+v", created)
	}

	resp = c.do(http.MethodPost, "/v1/break-glass/"+created.ID+"/approve", alice, map[string]any{"version": 0}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("self approval must be refused, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/break-glass/"+created.ID+"/approve", bob, map[string]any{}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing version must be rejected, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/break-glass/"+created.ID+"/approve", bob, map[string]any{"version": 0}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d", resp.StatusCode)
	}
	approved := decode[breakglass.Approval](t, resp)
	if approved.Status != breakglass.StatusApproved || approved.Version != 1 || approved.ApprovedBy != "bob" {
		t.Fatalf("unexpected approval %+v", approved)
	}

	resp = c.do(http.MethodPost, "/v1/break-glass/"+created.ID+"/reject", bob, map[string]any{"version": 0}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stale version must conflict, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/break-glass/"+created.ID+"/consume", alice, map[string]any{"version": 1}, nil)
	consumed := decode[breakglass.Approval](t, resp)
	if resp.StatusCode != http.StatusOK || consumed.Status != breakglass.StatusConsumed {
		t.Fatalf("consume = %d %+v", resp.StatusCode, consumed)
	}

	resp = c.do(http.MethodGet, "/v1/break-glass?status=CONSUMED", alice, nil, nil)
	list := decode[struct {
		Approvals []breakglass.Approval `json:"approvals"`
	}](t, resp)
	if len(list.Approvals) != 1 || list.Approvals[0].ID != created.ID {
		t.Fatalf("list = %+v", list)
	}
}

func TestBreakGlassCrossTenantLooksMissing(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodPost, "/v1/break-glass", c.token("alice", "org-a"), map[string]any{
		"scope": "employee-records", "action": "read", "reason": "incident",
	}, nil)
	created := decode[breakglass.Approval](t, resp)

	dave := c.token("dave", "org-b")
	foreign := c.do(http.MethodGet, "/v1/break-glass/"+created.ID, dave, nil, nil)
	missing := c.do(http.MethodGet, "/v1/break-glass/does-not-exist", dave, nil, nil)
	if foreign.StatusCode != http.StatusNotFound || missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404s, got %d and %d", foreign.StatusCode, missing.StatusCode)
	}
	fb := decode[errorBody](t, foreign)
	mb := decode[errorBody](t, missing)
	if fb.Error != authz.PublicNotFound || fb.Error != mb.Error {
		t.Fatalf("bodies differ: %+v vs %+v", fb, mb)
	}
}

func TestBreakGlassRequiresPermission(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodPost, "/v1/break-glass", c.token("carol", "org-a"), map[string]any{
		"scope": "employee-records", "action": "read", "reason": "incident",
	}, nil)
	body := decode[errorBody](t, resp)
	if resp.StatusCode != http.StatusForbidden || body.Error != authz.PublicDenied {
		t.Fatalf("expected 403 access denied, got %d %+v", resp.StatusCode, body)
	}
}

func TestPolicyAdministration(t *testing.T) {
	c := newTestAPI(t)
	alice := c.token("alice", "org-a")

	resp := c.do(http.MethodPut, "/v1/abac-policies", alice, map[string]any{
		"policies": []map[string]any{{
			"id": "deny-contractor-pii", "effect": "deny", "actions": []string{"pii.*"}, "resources": []string{"employee"},
			"subject": []map[string]any{{"attribute": "roleName", "op": "eq", "value": "contractor"}},
		}},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replace status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/abac-policies", alice, nil, nil)
	got := decode[struct {
		Policies []authz.AbacPolicy `json:"policies"`
	}](t, resp)
	if len(got.Policies) != 1 || got.Policies[0].OrgID != "org-a" || got.Policies[0].Effect != authz.EffectDeny {
		t.Fatalf("policies = %+v", got.Policies)
	}

	resp = c.do(http.MethodPut, "/v1/abac-policies", alice, map[string]any{
		"policies": []map[string]any{{"id": "bad", "effect": "maybe"}},
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid policy must be 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/abac-policies", c.token("carol", "org-a"), nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member must get 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestBreakGlassTTLIsCapped(t *testing.T) {
	c := newTestAPI(t)
	alice := c.token("alice", "org-a")

	for _, ttl := range []int64{1 << 62, int64(breakglass.DefaultTTL/time.Second) + 1, -5} {
		resp := c.do(http.MethodPost, "/v1/break-glass", alice, map[string]any{
			"scope": "employee-records", "action": "read", "reason": "incident", "ttlSeconds": ttl,
		}, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("ttlSeconds=%d: status %d, want 400", ttl, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := c.do(http.MethodPost, "/v1/break-glass", alice, map[string]any{
		"scope": "employee-records", "action": "read", "reason": "incident", "ttlSeconds": 600,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d, want 201", resp.StatusCode)
	}
	created := decode[breakglass.Approval](t, resp)
	if got := created.ExpiresAt.Sub(created.RequestedAt); got != 10*time.Minute {
		t.Fatalf("window=%s, want 10m", got)
	}
}
