// Package policies administers the ABAC policy set of an organization.
package policies

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"peoplegate.org/internal/audit"
	"peoplegate.org/internal/authz"
	"peoplegate.org/internal/cachetag"
)

const (
	GuardName = "abac-policies"
	Resource  = "abacPolicy"
)

// Store reads and replaces org policy sets.
type Store interface {
	authz.PolicyStore
	authz.PolicyWriter
}

// Actor identifies the caller from a verified session.
type Actor struct {
	OrgID         string
	UserID        string
	CorrelationID string
}

type Service struct {
	guard  *authz.Guard
	store  Store
	cache  *cachetag.Cache
	known  allowlist
	sink   audit.Sink
	logger *zap.Logger
}

type Option func(*Service)

func WithCache(c *cachetag.Cache) Option { return func(s *Service) { s.cache = c } }

// WithRoleCatalog sets the catalog used to validate policy selectors.
func WithRoleCatalog(c authz.RoleCatalog) Option {
	return func(s *Service) {
		if c != nil {
			s.known = newAllowlist(c)
		}
	}
}

func WithAuditSink(sink audit.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
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

func NewService(guard *authz.Guard, store Store, opts ...Option) (*Service, error) {
	if guard == nil || store == nil {
		return nil, fmt.Errorf("policies: guard and store are required")
	}
	s := &Service{
		guard:  guard,
		store:  store,
		known:  newAllowlist(authz.DefaultRoleCatalog()),
		sink:   audit.Discard,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) authorize(ctx context.Context, actor Actor, verb string) (*authz.AuthorizationContext, error) {
	return s.guard.AssertOrgAccess(ctx, authz.Request{
		OrgID:               actor.OrgID,
		UserID:              actor.UserID,
		RequiredPermissions: authz.Permissions{Resource: {verb}},
		Action:              Resource + "." + verb,
		ResourceType:        Resource,
		AuditSource:         GuardName,
		CorrelationID:       actor.CorrelationID,
	})
}

// List returns the caller org's policies, highest priority first. Reads go
// through the tenant cache.
func (s *Service) List(ctx context.Context, actor Actor) ([]authz.AbacPolicy, error) {
	ac, err := s.authorize(ctx, actor, "read")
	if err != nil {
		return nil, err
	}
	list, err := cachetag.Read(ctx, s.cache, ac, cachetag.ScopeAbacPolicies, "all", func(ctx context.Context) ([]authz.AbacPolicy, error) {
		return s.store.ListPolicies(ctx, ac.OrgID())
	})
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	sortByPriority(list)
	return list, nil
}

// Replace swaps the caller org's policy set and drops cached reads of it.
func (s *Service) Replace(ctx context.Context, actor Actor, policies []authz.AbacPolicy) ([]authz.AbacPolicy, error) {
	ac, err := s.authorize(ctx, actor, "update")
	if err != nil {
		return nil, err
	}
	next := make([]authz.AbacPolicy, len(policies))
	for i, p := range policies {
		p.OrgID = ac.OrgID()
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if err := s.known.check(p); err != nil {
			return nil, err
		}
		next[i] = p
	}
	if err := s.store.ReplacePolicies(ctx, ac.OrgID(), next); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, ac, cachetag.ScopeAbacPolicies)

	ids := make([]string, len(next))
	for i, p := range next {
		ids[i] = p.ID
	}
	audit.Record(ctx, s.sink, s.logger, audit.Event{
		GuardName: GuardName,
		Decision:  audit.DecisionAllow,
		Severity:  audit.SeverityHigh,
		OrgID:     ac.OrgID(),
		UserID:    ac.UserID(),
		Attributes: map[string]any{
			"action":        "abacPolicy.replace",
			"policyIds":     ids,
			"correlationId": ac.CorrelationID(),
		},
	})
	sortByPriority(next)
	return next, nil
}

func sortByPriority(list []authz.AbacPolicy) {
	slices.SortStableFunc(list, func(a, b authz.AbacPolicy) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
