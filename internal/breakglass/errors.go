package breakglass

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotPending   = errors.New("breakglass: approval is not pending")
	ErrNotApproved  = errors.New("breakglass: approval is not approved")
	ErrExpired      = errors.New("breakglass: approval has expired")
	ErrSelfApproval = errors.New("breakglass: requester cannot approve their own request")
	ErrNotRequester = errors.New("breakglass: only the requester can consume an approval")
	// ErrConflict matches *ConflictError.
	ErrConflict = errors.New("breakglass: concurrent modification")
	// ErrRateLimited matches *RateLimitError.
	ErrRateLimited = errors.New("breakglass: rate limited")
)

// ConflictError reports a lost compare-and-swap. Callers must re-read the
// approval before deciding again.
type ConflictError struct {
	ApprovalID      string
	ExpectedVersion int
	ActualVersion   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("breakglass: approval %s changed (expected version %d, found %d)",
		e.ApprovalID, e.ExpectedVersion, e.ActualVersion)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// RateLimitError is returned when the caller exhausted the approval window.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("breakglass: too many approval attempts, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }
