package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"peoplegate.org/internal/breakglass"
	"peoplegate.org/internal/session"
)

type breakGlassRequest struct {
	Scope      string `json:"scope"`
	Action     string `json:"action"`
	ResourceID string `json:"resourceId"`
	Reason     string `json:"reason"`
	TTLSeconds int64  `json:"ttlSeconds"`
}

// transitionRequest carries the version the caller last read.
type transitionRequest struct {
	Version *int `json:"version"`
}

func (a *API) actor(w http.ResponseWriter, r *http.Request) (breakglass.Actor, bool) {
	s, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing session")
		return breakglass.Actor{}, false
	}
	if a.breakGlass == nil {
		writeError(w, r, http.StatusServiceUnavailable, "break-glass unavailable")
		return breakglass.Actor{}, false
	}
	return breakglass.Actor{
		OrgID:         s.OrgID,
		UserID:        s.UserID,
		CorrelationID: requestIDFrom(r.Context()),
	}, true
}

func (a *API) handleRequestBreakGlass(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}
	var req breakGlassRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	maxSeconds := int64(a.breakGlass.MaxTTL() / time.Second)
	if req.TTLSeconds < 0 || req.TTLSeconds > maxSeconds {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("ttlSeconds must be between 0 and %d", maxSeconds))
		return
	}
	approval, err := a.breakGlass.Request(r.Context(), actor, breakglass.RequestInput{
		Scope:      req.Scope,
		Action:     req.Action,
		ResourceID: req.ResourceID,
		Reason:     req.Reason,
		TTL:        time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/break-glass/"+approval.ID)
	writeJSON(w, http.StatusCreated, approval)
}

func (a *API) handleListBreakGlass(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	list, err := a.breakGlass.List(r.Context(), actor, breakglass.Filter{
		Scope:  q.Get("scope"),
		Status: breakglass.Status(q.Get("status")),
	})
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": list})
}

func (a *API) handleGetBreakGlass(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}
	approval, err := a.breakGlass.Get(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

type transitionFunc func(ctx context.Context, actor breakglass.Actor, id string, version int) (breakglass.Approval, error)

func (a *API) breakGlassApprove(ctx context.Context, actor breakglass.Actor, id string, version int) (breakglass.Approval, error) {
	return a.breakGlass.Approve(ctx, actor, id, version)
}

func (a *API) breakGlassReject(ctx context.Context, actor breakglass.Actor, id string, version int) (breakglass.Approval, error) {
	return a.breakGlass.Reject(ctx, actor, id, version)
}

func (a *API) breakGlassConsume(ctx context.Context, actor breakglass.Actor, id string, version int) (breakglass.Approval, error) {
	return a.breakGlass.Consume(ctx, actor, id, version)
}

func (a *API) handleTransition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := a.actor(w, r)
		if !ok {
			return
		}
		var req transitionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Version == nil {
			writeError(w, r, http.StatusBadRequest, "version is required")
			return
		}
		approval, err := fn(r.Context(), actor, r.PathValue("id"), *req.Version)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, approval)
	}
}
