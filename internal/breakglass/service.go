package breakglass

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"peoplegate.org/internal/audit"
	"peoplegate.org/internal/authz"
	"peoplegate.org/internal/ids"
	"peoplegate.org/internal/obs"
	"peoplegate.org/internal/ratelimit"
)

const (
	// GuardName identifies break-glass events in the audit trail.
	GuardName = "break-glass"
	// Resource is the permission resource guarding every operation.
	Resource     = "platform.breakGlass"
	ResourceType = "breakGlassApproval"

	DefaultTTL = 30 * time.Minute
)

// Actor identifies the caller from a verified session.
type Actor struct {
	OrgID         string
	UserID        string
	CorrelationID string
}

// RequestInput describes a new approval.
type RequestInput struct {
	Scope      string
	Action     string
	ResourceID string
	Reason     string
	// TTL shortens the configured expiry when positive. It may not exceed it.
	TTL time.Duration
}

// Filter narrows List results. Status compares against the effective status.
type Filter struct {
	Scope  string
	Status Status
}

// Limiter throttles approval attempts per caller.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Result, error)
}

// Service runs the approval workflow.
type Service struct {
	guard   *authz.Guard
	tenants *authz.TenantGuard
	store   Store
	limiter Limiter
	sink    audit.Sink
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLimiter(l Limiter) Option { return func(s *Service) { s.limiter = l } }

func WithAuditSink(sink audit.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithTTL sets how long a new approval stays usable.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService wires the workflow. Without WithLimiter approvals are not
// throttled.
func NewService(guard *authz.Guard, store Store, opts ...Option) (*Service, error) {
	if guard == nil {
		return nil, errors.New("breakglass: guard is required")
	}
	if store == nil {
		return nil, errors.New("breakglass: store is required")
	}
	s := &Service{
		guard:  guard,
		store:  store,
		sink:   audit.Discard,
		ttl:    DefaultTTL,
		now:    func() time.Time { return time.Now().UTC() },
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tenants = authz.NewTenantGuard(s.sink, s.logger)
	return s, nil
}

// MaxTTL is the configured approval expiry; requested TTLs are capped at it.
func (s *Service) MaxTTL() time.Duration { return s.ttl }

func (s *Service) authorize(ctx context.Context, actor Actor, verb string) (*authz.AuthorizationContext, error) {
	return s.guard.AssertOrgAccess(ctx, authz.Request{
		OrgID:               actor.OrgID,
		UserID:              actor.UserID,
		RequiredPermissions: authz.Permissions{Resource: {verb}},
		Action:              Resource + "." + verb,
		ResourceType:        ResourceType,
		AuditSource:         GuardName,
		CorrelationID:       actor.CorrelationID,
	})
}

// Request creates a PENDING approval at version 0 for the caller's org.
func (s *Service) Request(ctx context.Context, actor Actor, in RequestInput) (Approval, error) {
	ac, err := s.authorize(ctx, actor, "request")
	if err != nil {
		return Approval{}, err
	}
	if err := validateInput(in); err != nil {
		return Approval{}, err
	}
	if in.TTL > s.ttl {
		return Approval{}, &authz.ValidationError{
			Field:   "ttl",
			Message: fmt.Sprintf("must not exceed %s", s.ttl),
		}
	}
	ttl := s.ttl
	if in.TTL > 0 {
		ttl = in.TTL
	}
	now := s.now()
	a := Approval{
		ID:          ids.New(),
		OrgID:       ac.OrgID(),
		Scope:       strings.TrimSpace(in.Scope),
		Action:      strings.TrimSpace(in.Action),
		ResourceID:  strings.TrimSpace(in.ResourceID),
		Reason:      strings.TrimSpace(in.Reason),
		Status:      StatusPending,
		Version:     0,
		RequestedBy: ac.UserID(),
		RequestedAt: now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := s.store.Create(ctx, a); err != nil {
		return Approval{}, fmt.Errorf("create approval: %w", err)
	}
	s.transition(ctx, ac, a, audit.DecisionRequested, "requested")
	return a, nil
}

func validateInput(in RequestInput) error {
	switch {
	case strings.TrimSpace(in.Scope) == "":
		return &authz.ValidationError{Field: "scope", Message: "is required"}
	case strings.TrimSpace(in.Action) == "":
		return &authz.ValidationError{Field: "action", Message: "is required"}
	case strings.TrimSpace(in.Reason) == "":
		return &authz.ValidationError{Field: "reason", Message: "is required"}
	case in.TTL < 0:
		return &authz.ValidationError{Field: "ttl", Message: "must not be negative"}
	}
	return nil
}

// Get returns an approval of the caller's org with its effective status.
func (s *Service) Get(ctx context.Context, actor Actor, id string) (Approval, error) {
	ac, err := s.authorize(ctx, actor, "read")
	if err != nil {
		return Approval{}, err
	}
	a, err := s.load(ctx, ac, id)
	if err != nil {
		return Approval{}, err
	}
	return a.WithEffectiveStatus(s.now()), nil
}

// List returns the caller org's approvals, newest first.
func (s *Service) List(ctx context.Context, actor Actor, f Filter) ([]Approval, error) {
	ac, err := s.authorize(ctx, actor, "read")
	if err != nil {
		return nil, err
	}
	all, err := s.store.List(ctx, ac.OrgID())
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	now := s.now()
	out := make([]Approval, 0, len(all))
	for _, a := range all {
		a = a.WithEffectiveStatus(now)
		if f.Scope != "" && a.Scope != f.Scope {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Approve moves a PENDING approval to APPROVED. expectedVersion is the
// version the caller last read; a mismatch or a lost race yields
// *ConflictError and is never retried here.
func (s *Service) Approve(ctx context.Context, actor Actor, id string, expectedVersion int) (Approval, error) {
	ac, err := s.authorize(ctx, actor, "approve")
	if err != nil {
		return Approval{}, err
	}
	if err := s.throttle(ctx, ac); err != nil {
		return Approval{}, err
	}
	cur, err := s.load(ctx, ac, id)
	if err != nil {
		return Approval{}, err
	}
	if err := s.checkPending(ctx, ac, cur, expectedVersion); err != nil {
		return Approval{}, err
	}
	if cur.RequestedBy == ac.UserID() {
		s.refuse(ctx, ac, cur, "self_approval")
		return Approval{}, ErrSelfApproval
	}

	now := s.now()
	next := cur
	next.Status = StatusApproved
	next.ApprovedBy = ac.UserID()
	next.ApprovedAt = &now
	return s.commit(ctx, ac, next, expectedVersion, audit.DecisionApproved, "approved")
}

// Reject moves a PENDING approval to REJECTED. It needs the approve
// permission; requesters may withdraw their own request this way.
func (s *Service) Reject(ctx context.Context, actor Actor, id string, expectedVersion int) (Approval, error) {
	ac, err := s.authorize(ctx, actor, "approve")
	if err != nil {
		return Approval{}, err
	}
	cur, err := s.load(ctx, ac, id)
	if err != nil {
		return Approval{}, err
	}
	if err := s.checkPending(ctx, ac, cur, expectedVersion); err != nil {
		return Approval{}, err
	}

	now := s.now()
	next := cur
	next.Status = StatusRejected
	next.RejectedBy = ac.UserID()
	next.RejectedAt = &now
	return s.commit(ctx, ac, next, expectedVersion, audit.DecisionRejected, "rejected")
}

// Consume marks an APPROVED approval as used by its requester. An approval
// can be consumed once.
func (s *Service) Consume(ctx context.Context, actor Actor, id string, expectedVersion int) (Approval, error) {
	ac, err := s.authorize(ctx, actor, "request")
	if err != nil {
		return Approval{}, err
	}
	cur, err := s.load(ctx, ac, id)
	if err != nil {
		return Approval{}, err
	}
	if cur.Version != expectedVersion {
		s.refuse(ctx, ac, cur, "stale_version")
		return Approval{}, &ConflictError{ApprovalID: cur.ID, ExpectedVersion: expectedVersion, ActualVersion: cur.Version}
	}
	switch cur.EffectiveStatus(s.now()) {
	case StatusApproved:
	case StatusExpired:
		s.refuse(ctx, ac, cur, "expired")
		return Approval{}, ErrExpired
	default:
		s.refuse(ctx, ac, cur, "not_approved")
		return Approval{}, ErrNotApproved
	}
	if cur.RequestedBy != ac.UserID() {
		s.refuse(ctx, ac, cur, "not_requester")
		return Approval{}, ErrNotRequester
	}

	now := s.now()
	next := cur
	next.Status = StatusConsumed
	next.ConsumedBy = ac.UserID()
	next.ConsumedAt = &now
	return s.commit(ctx, ac, next, expectedVersion, audit.DecisionConsumed, "consumed")
}

func (s *Service) throttle(ctx context.Context, ac *authz.AuthorizationContext) error {
	if s.limiter == nil {
		return nil
	}
	res, err := s.limiter.Allow(ctx, "breakglass:approve:"+ac.UserID())
	if err != nil {
		return fmt.Errorf("approval rate limit: %w", err)
	}
	if !res.Allowed {
		obs.BreakGlassTransitions.WithLabelValues("rate_limited").Inc()
		s.logger.Warn("break-glass approval throttled",
			zap.String("org_id", ac.OrgID()),
			zap.String("user_id", ac.UserID()),
			zap.Duration("retry_after", res.RetryAfter),
		)
		return &RateLimitError{RetryAfter: res.RetryAfter}
	}
	return nil
}

// load fetches id and rejects records of other orgs as not found.
func (s *Service) load(ctx context.Context, ac *authz.AuthorizationContext, id string) (Approval, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Approval{}, &authz.ValidationError{Field: "approvalId", Message: "is required"}
	}
	a, err := s.store.Get(ctx, id)
	var record *Approval
	switch {
	case err == nil:
		record = &a
	case errors.Is(err, authz.ErrNotFound):
	default:
		return Approval{}, fmt.Errorf("load approval %s: %w", id, err)
	}
	scoped, err := authz.Scoped(ctx, s.tenants, record, ac, ResourceType)
	if err != nil {
		return Approval{}, err
	}
	return *scoped, nil
}

func (s *Service) checkPending(ctx context.Context, ac *authz.AuthorizationContext, cur Approval, expectedVersion int) error {
	if cur.Version != expectedVersion {
		s.refuse(ctx, ac, cur, "stale_version")
		return &ConflictError{ApprovalID: cur.ID, ExpectedVersion: expectedVersion, ActualVersion: cur.Version}
	}
	switch cur.EffectiveStatus(s.now()) {
	case StatusPending:
		return nil
	case StatusExpired:
		s.refuse(ctx, ac, cur, "expired")
		return ErrExpired
	default:
		s.refuse(ctx, ac, cur, "not_pending")
		return ErrNotPending
	}
}

func (s *Service) commit(ctx context.Context, ac *authz.AuthorizationContext, next Approval, expected int, decision audit.Decision, outcome string) (Approval, error) {
	res, err := s.store.UpdateIfVersion(ctx, next, expected)
	if err != nil {
		return Approval{}, fmt.Errorf("update approval %s: %w", next.ID, err)
	}
	switch res.Outcome {
	case CommitApplied:
		s.transition(ctx, ac, res.Approval, decision, outcome)
		return res.Approval, nil
	case CommitConflict:
		s.refuse(ctx, ac, res.Approval, "conflict")
		return Approval{}, &ConflictError{ApprovalID: next.ID, ExpectedVersion: expected, ActualVersion: res.Approval.Version}
	default:
		return Approval{}, fmt.Errorf("update approval %s: unexpected outcome %v", next.ID, res.Outcome)
	}
}

func (s *Service) transition(ctx context.Context, ac *authz.AuthorizationContext, a Approval, decision audit.Decision, outcome string) {
	obs.BreakGlassTransitions.WithLabelValues(outcome).Inc()
	s.logger.Info("break-glass transition",
		zap.String("approval_id", a.ID),
		zap.String("org_id", a.OrgID),
		zap.String("status", string(a.Status)),
		zap.Int("version", a.Version),
	)
	audit.Record(ctx, s.sink, s.logger, audit.Event{
		GuardName:  GuardName,
		Decision:   decision,
		Severity:   audit.SeverityHigh,
		OrgID:      a.OrgID,
		UserID:     ac.UserID(),
		Attributes: approvalAttributes(ac, a, outcome),
	})
}

func (s *Service) refuse(ctx context.Context, ac *authz.AuthorizationContext, a Approval, reason string) {
	obs.BreakGlassTransitions.WithLabelValues(reason).Inc()
	attrs := approvalAttributes(ac, a, "refused")
	attrs["reason"] = reason
	audit.Record(ctx, s.sink, s.logger, audit.Event{
		GuardName:  GuardName,
		Decision:   audit.DecisionDeny,
		Severity:   audit.SeverityHigh,
		OrgID:      a.OrgID,
		UserID:     ac.UserID(),
		Attributes: attrs,
	})
}

func approvalAttributes(ac *authz.AuthorizationContext, a Approval, outcome string) map[string]any {
	return map[string]any{
		"approvalId":    a.ID,
		"scope":         a.Scope,
		"targetOrgId":   a.OrgID,
		"action":        a.Action,
		"resourceId":    a.ResourceID,
		"version":       a.Version,
		"status":        string(a.Status),
		"outcome":       outcome,
		"requestedBy":   a.RequestedBy,
		"correlationId": ac.CorrelationID(),
	}
}
