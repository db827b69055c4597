// Package breakglass implements time-boxed, dual-control approvals for
// platform operators who need emergency access to a tenant's data.
package breakglass

import "time"

// Status is the lifecycle state of an approval.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusConsumed Status = "CONSUMED"
	// StatusExpired is never stored; it is derived from ExpiresAt on read.
	StatusExpired Status = "EXPIRED"
)

// Approval is one break-glass request and its decision.
type Approval struct {
	ID         string `json:"id"`
	OrgID      string `json:"orgId"`
	Scope      string `json:"scope"`
	Action     string `json:"action"`
	ResourceID string `json:"resourceId,omitempty"`
	Reason     string `json:"reason"`
	Status     Status `json:"status"`
	Version    int    `json:"version"`

	RequestedBy string    `json:"requestedBy"`
	RequestedAt time.Time `json:"requestedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`

	ApprovedBy string     `json:"approvedBy,omitempty"`
	ApprovedAt *time.Time `json:"approvedAt,omitempty"`
	RejectedBy string     `json:"rejectedBy,omitempty"`
	RejectedAt *time.Time `json:"rejectedAt,omitempty"`
	ConsumedBy string     `json:"consumedBy,omitempty"`
	ConsumedAt *time.Time `json:"consumedAt,omitempty"`
}

// OwningOrgID makes approvals tenant-scoped records.
func (a Approval) OwningOrgID() string { return a.OrgID }

// EffectiveStatus returns StatusExpired once now is past ExpiresAt for any
// approval that has not reached a terminal state.
func (a Approval) EffectiveStatus(now time.Time) Status {
	switch a.Status {
	case StatusRejected, StatusConsumed:
		return a.Status
	}
	if !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt) {
		return StatusExpired
	}
	return a.Status
}

// WithEffectiveStatus returns a copy whose Status is the effective one.
func (a Approval) WithEffectiveStatus(now time.Time) Approval {
	a.Status = a.EffectiveStatus(now)
	return a
}
