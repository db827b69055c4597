package httpapi

import (
	"net/http"

	"peoplegate.org/internal/authz"
	"peoplegate.org/internal/session"
)

type checkRequest struct {
	RequiredPermissions    authz.Permissions    `json:"requiredPermissions"`
	RequiredAnyPermissions []authz.Permissions  `json:"requiredAnyPermissions"`
	ExpectedClassification authz.Classification `json:"expectedClassification"`
	ExpectedResidency      authz.Residency      `json:"expectedResidency"`
	Action                 string               `json:"action"`
	ResourceType           string               `json:"resourceType"`
	ResourceAttributes     map[string]any       `json:"resourceAttributes"`
}

type checkResponse struct {
	Allowed            bool                 `json:"allowed"`
	OrgID              string               `json:"orgId"`
	UserID             string               `json:"userId"`
	RoleKey            string               `json:"roleKey"`
	RoleName           string               `json:"roleName"`
	Permissions        authz.Permissions    `json:"permissions"`
	DataClassification authz.Classification `json:"dataClassification"`
	DataResidency      authz.Residency      `json:"dataResidency"`
	DevAdminOverride   bool                 `json:"devAdminOverride,omitempty"`
	CorrelationID      string               `json:"correlationId"`
}

// handleCheck runs the org guard for the session's user and active org.
func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	s, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing session")
		return
	}
	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	ac, err := a.guard.AssertOrgAccess(r.Context(), authz.Request{
		OrgID:                  s.OrgID,
		UserID:                 s.UserID,
		RequiredPermissions:    req.RequiredPermissions,
		RequiredAnyPermissions: req.RequiredAnyPermissions,
		ExpectedClassification: req.ExpectedClassification,
		ExpectedResidency:      req.ExpectedResidency,
		Action:                 req.Action,
		ResourceType:           req.ResourceType,
		ResourceAttributes:     req.ResourceAttributes,
		AuditSource:            "http.authz-check",
		CorrelationID:          requestIDFrom(r.Context()),
	})
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{
		Allowed:            true,
		OrgID:              ac.OrgID(),
		UserID:             ac.UserID(),
		RoleKey:            ac.RoleKey(),
		RoleName:           ac.RoleName(),
		Permissions:        ac.Permissions(),
		DataClassification: ac.DataClassification(),
		DataResidency:      ac.DataResidency(),
		DevAdminOverride:   ac.DevAdminOverride(),
		CorrelationID:      ac.CorrelationID(),
	})
}
