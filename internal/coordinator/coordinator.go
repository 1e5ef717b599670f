// Package coordinator implements the Assignment Coordinator and the
// Blocker & Progress Handler from spec §4.4/§4.5 — the serialization
// point of the system. Every mutation of agent/task/assignment state
// flows through a Coordinator value's single mutex; there is no
// module-level global state (spec §9 Design Notes: "replace [global
// mutable singleton state] with an explicit Coordinator value passed
// into the dispatcher"). Grounded on the teacher's internal/captain
// package: one struct holding a sync.RWMutex plus collaborator
// interfaces and orchestration state.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CLIAIMONITOR/internal/ai"
	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/kanban"
	"github.com/CLIAIMONITOR/internal/persistence"
	"github.com/CLIAIMONITOR/internal/selection"
)

// maxClaimRetries bounds the re-selection loop in request_next_task
// when a candidate is claimed out from under us (spec §4.4 step 5).
const maxClaimRetries = 3

// EventSink receives fire-and-forget notifications of state
// transitions for the visualization UI's read-only event stream
// (spec §1 Out of scope). Nil-safe: a Coordinator with no sink simply
// skips publishing.
type EventSink interface {
	Publish(eventType string, payload interface{})
}

// Ledger is the optional assignment-history audit trail
// ([EXPANSION], see internal/ledger). Nil-safe.
type Ledger interface {
	Record(taskID, agentID, event, detail string) error
}

// Coordinator is the single serialization point for all agent/task/
// assignment mutations.
type Coordinator struct {
	mu sync.Mutex

	provider kanban.Provider
	store    persistence.Store
	aiAdapter ai.Adapter
	events   EventSink
	ledger   Ledger

	agents   map[string]*domain.Agent
	tasks    map[string]*domain.Task // cached view, refreshed from provider
	blockers map[string][]*domain.Blocker
}

// New builds a Coordinator. events and ledger may be nil.
func New(provider kanban.Provider, store persistence.Store, aiAdapter ai.Adapter, events EventSink, ledger Ledger) *Coordinator {
	return &Coordinator{
		provider:  provider,
		store:     store,
		aiAdapter: aiAdapter,
		events:    events,
		ledger:    ledger,
		agents:    make(map[string]*domain.Agent),
		tasks:     make(map[string]*domain.Task),
		blockers:  make(map[string][]*domain.Blocker),
	}
}

// Restore reconciles a freshly loaded persisted assignment set against
// in-memory agent state on startup. It does not re-register agents
// (agents are in-memory only per spec §9) — any assignment whose agent
// isn't re-registered is left for the health monitor's orphan rule to
// clear on its first tick (spec §8 scenario 5).
func (c *Coordinator) Restore(assignments []*domain.Assignment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, a := range assignments {
		if agent, ok := c.agents[a.AgentID]; ok {
			agent.CurrentTaskID = a.TaskID
		}
	}
}

func (c *Coordinator) publish(eventType string, payload interface{}) {
	if c.events != nil {
		c.events.Publish(eventType, payload)
	}
}

func (c *Coordinator) record(taskID, agentID, event, detail string) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.Record(taskID, agentID, event, detail); err != nil {
		log.Printf("[COORDINATOR] ledger record failed for task %s: %v", taskID, err)
	}
}

// RegisterAgent adds a new agent to the in-memory registry (spec §4.4).
func (c *Coordinator) RegisterAgent(id, name, role string, skills []string) (*domain.Agent, error) {
	if id == "" || name == "" {
		return nil, fmt.Errorf("%w: agent id and name are required", domain.ErrInvalidInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.agents[id]; exists {
		return nil, domain.ErrAlreadyRegistered
	}

	agent := domain.NewAgent(id, name, role, skills)
	c.agents[id] = agent
	c.publish("agent_registered", map[string]string{"agent_id": id, "name": name})
	return agent.Clone(), nil
}

// TaskInstructions is the successful result of RequestNextTask.
type TaskInstructions struct {
	Task         *domain.Task
	Instructions string
	Source       ai.Source
}

// RequestNextTask runs the algorithm from spec §4.4: refresh the
// snapshot, select a candidate, claim it on the provider, generate
// instructions, persist, and return. Returns (nil,
// domain.ErrNoTaskAvailable) when there is nothing to assign.
func (c *Coordinator) RequestNextTask(ctx context.Context, agentID string) (*TaskInstructions, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, ok := c.agents[agentID]
	if !ok {
		return nil, domain.ErrNotRegistered
	}
	if !agent.IsAvailable() {
		return nil, domain.ErrAlreadyAssigned
	}

	excluded := make(map[string]struct{})

	for attempt := 0; attempt < maxClaimRetries; attempt++ {
		available, err := c.provider.ListAvailableTasks(ctx)
		if err != nil {
			return nil, fmt.Errorf("coordinator: refresh snapshot: %w", err)
		}

		c.refreshTaskCacheLocked(available)

		candidates := make([]*domain.Task, 0, len(available))
		for _, t := range available {
			if _, skip := excluded[t.ID]; !skip {
				candidates = append(candidates, t)
			}
		}

		result := selection.Select(agent, candidates, c.tasks)
		if result == nil {
			return nil, domain.ErrNoTaskAvailable
		}

		task := result.Task
		if err := c.provider.ClaimTask(ctx, task.ID, agentID); err != nil {
			if kanban.IsRetryable(err) {
				return nil, fmt.Errorf("coordinator: claim task: %w", err)
			}
			// conflict or not_found: drop this candidate and retry
			// selection per spec §4.4 step 5.
			excluded[task.ID] = struct{}{}
			continue
		}

		return c.finishAssignment(ctx, agent, task)
	}

	return nil, domain.ErrNoTaskAvailable
}

// finishAssignment generates instructions, persists the assignment,
// and updates in-memory state, compensating on persistence failure
// per spec §4.4 step 7.
func (c *Coordinator) finishAssignment(ctx context.Context, agent *domain.Agent, task *domain.Task) (*TaskInstructions, error) {
	instructions, source := c.aiAdapter.GenerateInstructions(ctx, task, agent)

	now := time.Now()
	assignment := &domain.Assignment{
		TaskID:          task.ID,
		AgentID:         agent.ID,
		AssignedAt:      now,
		Instructions:    instructions,
		ProgressPercent: 0,
		LastUpdateAt:    now,
	}

	if err := c.store.Record(assignment); err != nil {
		// Compensate: best-effort revert the claim.
		if compErr := c.provider.UpdateTaskStatus(ctx, task.ID, domain.StatusTODO); compErr != nil {
			log.Printf("[COORDINATOR] compensation failed for task %s: %v", task.ID, compErr)
		}
		return nil, fmt.Errorf("coordinator: persist assignment: %w", err)
	}

	agent.CurrentTaskID = task.ID
	task.Status = domain.StatusInProgress
	task.AssignedTo = agent.ID
	c.tasks[task.ID] = task

	c.record(task.ID, agent.ID, "claimed", fmt.Sprintf("instructions_source=%s", source))
	c.publish("task_assigned", map[string]string{"task_id": task.ID, "agent_id": agent.ID})

	return &TaskInstructions{Task: task.Clone(), Instructions: instructions, Source: source}, nil
}

func (c *Coordinator) refreshTaskCacheLocked(tasks []*domain.Task) {
	for _, t := range tasks {
		c.tasks[t.ID] = t
	}
}

// GetAgentStatus returns a copy of the agent's current state.
func (c *Coordinator) GetAgentStatus(agentID string) (*domain.Agent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, ok := c.agents[agentID]
	if !ok {
		return nil, false
	}
	return agent.Clone(), true
}

// ListAgents returns a copy of every registered agent.
func (c *Coordinator) ListAgents() []*domain.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*domain.Agent, 0, len(c.agents))
	for _, a := range c.agents {
		out = append(out, a.Clone())
	}
	return out
}

// ListBlockers returns a copy of every blocker ever reported against
// taskID, most recent last.
func (c *Coordinator) ListBlockers(taskID string) []*domain.Blocker {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing := c.blockers[taskID]
	out := make([]*domain.Blocker, len(existing))
	for i, b := range existing {
		clone := *b
		out[i] = &clone
	}
	return out
}

// GetProjectStatus derives an aggregate snapshot from the cached task
// view and agent registry (spec §3 ProjectSnapshot — never persisted).
func (c *Coordinator) GetProjectStatus() domain.ProjectSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := domain.ProjectSnapshot{RefreshedAt: time.Now()}
	now := time.Now()
	for _, t := range c.tasks {
		snap.TotalTasks++
		switch t.Status {
		case domain.StatusTODO:
			snap.TODOCount++
		case domain.StatusInProgress:
			snap.InProgressCount++
		case domain.StatusDone:
			snap.DoneCount++
		case domain.StatusBlocked:
			snap.BlockedCount++
		}
		if t.DueDate != nil && t.DueDate.Before(now) && t.Status != domain.StatusDone {
			snap.OverdueTaskIDs = append(snap.OverdueTaskIDs, t.ID)
		}
	}
	for _, a := range c.agents {
		snap.TotalAgents++
		if a.IsAvailable() {
			snap.AvailableAgents++
		} else {
			snap.ActiveAgents++
		}
	}
	if snap.TotalTasks > 0 {
		snap.CompletionPercent = 100 * float64(snap.DoneCount) / float64(snap.TotalTasks)
	}
	return snap
}

// agentSnapshot is a read-only accessor used by health monitor tests
// and reconciliation; it intentionally does not lock so callers that
// already hold the lock (internal use) or accept racy reads (the
// monitor's lock-free snapshot, spec §5) can use it.
func (c *Coordinator) agentSnapshot() map[string]*domain.Agent {
	out := make(map[string]*domain.Agent, len(c.agents))
	for id, a := range c.agents {
		out[id] = a
	}
	return out
}

// ForceClearAssignment is the reconciliation primitive the health
// monitor uses to clear an orphaned slot without going through the
// normal progress/completion path (spec §4.7). It always acquires the
// coordinator lock itself.
func (c *Coordinator) ForceClearAssignment(taskID, agentID string, incrementCompleted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Clear(taskID); err != nil {
		return fmt.Errorf("coordinator: clear persisted assignment: %w", err)
	}
	if agent, ok := c.agents[agentID]; ok && agent.CurrentTaskID == taskID {
		agent.CurrentTaskID = ""
		if incrementCompleted {
			agent.CompletedCount++
		}
	}
	return nil
}

// Snapshot returns the coordinator's current cached task view keyed by
// ID, for use by the health monitor's reconciliation pass. The map is
// a shallow copy; callers must not rely on it staying fresh.
func (c *Coordinator) Snapshot() map[string]*domain.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]*domain.Task, len(c.tasks))
	for id, t := range c.tasks {
		out[id] = t
	}
	return out
}

// Agents returns a lock-free snapshot copy of registered agents for
// the health monitor's read-only inspection pass (spec §4.7 step 3,
// §5 "the assignment monitor reads under a lock-free snapshot copy").
func (c *Coordinator) Agents() map[string]*domain.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentSnapshot()
}

// NewAssignmentID generates a fresh random identifier (a UUID string).
// Nothing in this module calls it.
func NewAssignmentID() string {
	return uuid.NewString()
}
