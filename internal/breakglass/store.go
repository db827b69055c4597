package breakglass

import (
	"context"
	"sort"
	"sync"

	"peoplegate.org/internal/authz"
)

// CommitOutcome is the result of a conditional write.
type CommitOutcome int

const (
	CommitApplied CommitOutcome = iota + 1
	CommitConflict
)

func (o CommitOutcome) String() string {
	switch o {
	case CommitApplied:
		return "applied"
	case CommitConflict:
		return "conflict"
	}
	return "unknown"
}

// CommitResult carries the stored approval after a conditional write. On
// CommitConflict, Approval is the current stored record.
type CommitResult struct {
	Outcome  CommitOutcome
	Approval Approval
}

// Store persists approvals. Get returns authz.ErrNotFound for unknown ids.
type Store interface {
	Create(ctx context.Context, a Approval) error
	Get(ctx context.Context, id string) (Approval, error)
	List(ctx context.Context, orgID string) ([]Approval, error)
	// UpdateIfVersion stores next with Version expected+1 only while the
	// stored version equals expected.
	UpdateIfVersion(ctx context.Context, next Approval, expected int) (CommitResult, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Approval
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string]Approval{}}
}

func (s *MemoryStore) Create(_ context.Context, a Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[a.ID]; ok {
		return &ConflictError{ApprovalID: a.ID, ExpectedVersion: a.Version, ActualVersion: s.items[a.ID].Version}
	}
	s.items[a.ID] = a
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return Approval{}, authz.ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) List(_ context.Context, orgID string) ([]Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Approval
	for _, a := range s.items {
		if a.OrgID == orgID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateIfVersion(_ context.Context, next Approval, expected int) (CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[next.ID]
	if !ok {
		return CommitResult{}, authz.ErrNotFound
	}
	if cur.Version != expected {
		return CommitResult{Outcome: CommitConflict, Approval: cur}, nil
	}
	next.Version = expected + 1
	s.items[next.ID] = next
	return CommitResult{Outcome: CommitApplied, Approval: next}, nil
}
