// Package kanban defines the polymorphic capability set the
// Coordinator consumes to talk to an external kanban board (spec
// §4.1). Concrete wire-protocol backends (Planka, GitHub Issues,
// Linear) live outside this core; this package ships only the
// interface and an in-memory reference implementation used for tests
// and local/dev runs.
package kanban

import (
	"context"
	"errors"

	"github.com/CLIAIMONITOR/internal/domain"
)

// ErrorKind classifies provider failures per spec §4.1's failure
// semantics table.
type ErrorKind string

const (
	ErrKindConnection ErrorKind = "connection"
	ErrKindAuth       ErrorKind = "auth"
	ErrKindRateLimit  ErrorKind = "rate_limited"
	ErrKindNotFound   ErrorKind = "not_found"
	ErrKindConflict   ErrorKind = "conflict"
	ErrKindBackend    ErrorKind = "backend"
)

// ProviderError is the typed error every Provider call returns on
// failure. The Coordinator switches on Kind to decide whether to
// retry, surface retry-able, or fail fast.
type ProviderError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Op + ": " + string(e.Kind) + ": " + e.Err.Error()
	}
	return e.Op + ": " + string(e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is lets callers match with errors.Is(err, kanban.ErrConflict) and
// similar kind-only sentinels without caring about Op/Err.
func (e *ProviderError) Is(target error) bool {
	var pe *ProviderError
	if errors.As(target, &pe) {
		return e.Kind == pe.Kind
	}
	return false
}

// Kind-only sentinels for errors.Is matching.
var (
	ErrConflict   = &ProviderError{Kind: ErrKindConflict}
	ErrNotFound   = &ProviderError{Kind: ErrKindNotFound}
	ErrConnection = &ProviderError{Kind: ErrKindConnection}
	ErrRateLimit  = &ProviderError{Kind: ErrKindRateLimit}
	ErrAuth       = &ProviderError{Kind: ErrKindAuth}
	ErrBackend    = &ProviderError{Kind: ErrKindBackend}
)

// IsRetryable reports whether the coordinator should treat err as a
// transient condition worth retrying per spec §7.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Kind {
	case ErrKindConnection, ErrKindRateLimit:
		return true
	default:
		return false
	}
}

// Provider is the contract consumed by the Coordinator (spec §4.1).
// Every method is idempotent under retry unless noted otherwise.
type Provider interface {
	// Connect establishes or refreshes credentials. Idempotent.
	Connect(ctx context.Context) error

	// ListAvailableTasks returns tasks with status TODO and no
	// assignee. Must reflect out-of-band board changes.
	ListAvailableTasks(ctx context.Context) ([]*domain.Task, error)

	// GetTask fetches a single task by id.
	GetTask(ctx context.Context, id string) (*domain.Task, error)

	// ClaimTask atomically (or optimistically) transitions a TODO
	// task to IN_PROGRESS with the given assignee. Returns a
	// ProviderError{Kind: conflict} if the task is no longer
	// claimable.
	ClaimTask(ctx context.Context, id, agentID string) error

	// UpdateTaskStatus transitions a task to the given status.
	UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus) error

	// SetProgress records a progress percentage on the task.
	SetProgress(ctx context.Context, id string, percent int) error

	// AddComment posts a comment to the task's activity feed.
	AddComment(ctx context.Context, id, text string) error

	// CompleteTask transitions a task to DONE.
	CompleteTask(ctx context.Context, id string) error
}
