package httpapi

import (
	"net/http"

	"peoplegate.org/internal/authz"
	"peoplegate.org/internal/policies"
	"peoplegate.org/internal/session"
)

type replacePoliciesRequest struct {
	Policies []authz.AbacPolicy `json:"policies"`
}

func (a *API) policyActor(w http.ResponseWriter, r *http.Request) (policies.Actor, bool) {
	s, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing session")
		return policies.Actor{}, false
	}
	if a.policies == nil {
		writeError(w, r, http.StatusServiceUnavailable, "policy administration unavailable")
		return policies.Actor{}, false
	}
	return policies.Actor{OrgID: s.OrgID, UserID: s.UserID, CorrelationID: requestIDFrom(r.Context())}, true
}

func (a *API) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.policyActor(w, r)
	if !ok {
		return
	}
	list, err := a.policies.List(r.Context(), actor)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	if list == nil {
		list = []authz.AbacPolicy{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": list})
}

func (a *API) handleReplacePolicies(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.policyActor(w, r)
	if !ok {
		return
	}
	var req replacePoliciesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	saved, err := a.policies.Replace(r.Context(), actor, req.Policies)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": saved})
}
