package kanban

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CLIAIMONITOR/internal/domain"
)

// MemoryProvider is an in-memory Provider used by tests and by
// marcusd (`provider: memory` in its config file) for local
// development, since the three
// named concrete backends (Planka, GitHub Issues, Linear) are
// explicitly out-of-core (spec §1). It still implements the
// optimistic claim-check ClaimTask semantics described in §4.1, so it
// exercises the Coordinator's anti-race line of defense faithfully.
type MemoryProvider struct {
	mu     sync.Mutex
	tasks  map[string]*domain.Task
	online bool
}

// NewMemoryProvider creates a provider pre-seeded with the given tasks.
func NewMemoryProvider(seed []*domain.Task) *MemoryProvider {
	tasks := make(map[string]*domain.Task, len(seed))
	for _, t := range seed {
		tasks[t.ID] = t.Clone()
	}
	return &MemoryProvider{tasks: tasks}
}

// Connect marks the provider online. Idempotent.
func (p *MemoryProvider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = true
	return nil
}

// AddTask inserts or replaces a task directly, bypassing the board
// protocol — used by tests to seed state and by the memory backend's
// admin surface to simulate out-of-band board edits.
func (p *MemoryProvider) AddTask(t *domain.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks[t.ID] = t.Clone()
}

func (p *MemoryProvider) ListAvailableTasks(ctx context.Context) ([]*domain.Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*domain.Task
	for _, t := range p.tasks {
		if t.Status == domain.StatusTODO && t.AssignedTo == "" {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (p *MemoryProvider) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.tasks[id]
	if !ok {
		return nil, &ProviderError{Kind: ErrKindNotFound, Op: "GetTask", Err: fmt.Errorf("task %s not found", id)}
	}
	return t.Clone(), nil
}

// ClaimTask is the sole anti-race line of defense called out in spec
// §4.1: read current state, fail with conflict if it already has an
// assignee or is not TODO, otherwise transition atomically under the
// provider's own lock.
func (p *MemoryProvider) ClaimTask(ctx context.Context, id, agentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.tasks[id]
	if !ok {
		return &ProviderError{Kind: ErrKindNotFound, Op: "ClaimTask", Err: fmt.Errorf("task %s not found", id)}
	}
	if t.Status != domain.StatusTODO || t.AssignedTo != "" {
		return &ProviderError{Kind: ErrKindConflict, Op: "ClaimTask", Err: fmt.Errorf("task %s already claimed", id)}
	}
	t.Status = domain.StatusInProgress
	t.AssignedTo = agentID
	t.UpdatedAt = time.Now()
	return nil
}

func (p *MemoryProvider) UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.tasks[id]
	if !ok {
		return &ProviderError{Kind: ErrKindNotFound, Op: "UpdateTaskStatus", Err: fmt.Errorf("task %s not found", id)}
	}
	t.Status = status
	if status == domain.StatusTODO {
		t.AssignedTo = ""
	}
	t.UpdatedAt = time.Now()
	return nil
}

func (p *MemoryProvider) SetProgress(ctx context.Context, id string, percent int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.tasks[id]; !ok {
		return &ProviderError{Kind: ErrKindNotFound, Op: "SetProgress", Err: fmt.Errorf("task %s not found", id)}
	}
	// Progress isn't stored on domain.Task (it lives on the
	// Assignment); the memory provider just validates the call.
	return nil
}

func (p *MemoryProvider) AddComment(ctx context.Context, id, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.tasks[id]; !ok {
		return &ProviderError{Kind: ErrKindNotFound, Op: "AddComment", Err: fmt.Errorf("task %s not found", id)}
	}
	return nil
}

func (p *MemoryProvider) CompleteTask(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.tasks[id]
	if !ok {
		return &ProviderError{Kind: ErrKindNotFound, Op: "CompleteTask", Err: fmt.Errorf("task %s not found", id)}
	}
	t.Status = domain.StatusDone
	t.UpdatedAt = time.Now()
	return nil
}

var _ Provider = (*MemoryProvider)(nil)
