// Package health implements the Assignment Health Monitor from spec
// §4.7: a periodic reconciliation pass that catches drift between the
// coordinator's in-memory view and the external kanban board without
// ever mutating state outside the Coordinator's own operations.
// Grounded on the teacher's internal/server/cleanup.go stale-agent
// sweep: a ticker-driven goroutine that snapshots state, classifies
// each entry, and acts through the owning component rather than
// poking internal fields directly.
package health

import (
	"context"
	"log"
	"time"

	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/kanban"
)

// DefaultInterval is the spec's documented reconciliation cadence.
const DefaultInterval = 60 * time.Second

// StaleThreshold flags an assignment as worth surfacing, even if the
// board still shows it active (spec §4.7 "stale assignment"), when the
// UpdatedAt of the coordinator's cached copy of its task is older than
// this. Progress reports do not move that timestamp, so the age is not
// measured from the assignment's last progress update; a task with a
// zero UpdatedAt is never flagged.
const StaleThreshold = 24 * time.Hour

// CoordinatorView is the narrow read/reconcile surface the monitor
// needs from the coordinator, so this package never depends on
// coordinator's full API (or creates an import cycle with it).
type CoordinatorView interface {
	Snapshot() map[string]*domain.Task
	Agents() map[string]*domain.Agent
	ForceClearAssignment(taskID, agentID string, incrementCompleted bool) error
}

// AssignmentSource is the narrow persistence read the monitor needs:
// the durable active set is the primary driver of reconciliation (spec
// §4.7 step 2), not the in-memory agent registry, because a restarted
// process has persisted assignments whose agents were never
// re-registered (spec §8 scenario 5 — agents are in-memory only).
type AssignmentSource interface {
	ListActive() []*domain.Assignment
}

// EventSink is the same narrow publish surface the coordinator uses.
type EventSink interface {
	Publish(eventType string, payload interface{})
}

// Ledger records reconciliation outcomes for later audit.
type Ledger interface {
	Record(taskID, agentID, event, detail string) error
}

// Monitor runs the periodic reconciliation loop.
type Monitor struct {
	coordinator CoordinatorView
	provider    kanban.Provider
	assignments AssignmentSource
	events      EventSink
	ledger      Ledger
	interval    time.Duration
	staleAfter  time.Duration
}

// New builds a Monitor with the spec's default interval and stale
// threshold. assignments, events and ledger may be nil; a nil
// assignments source degrades reconciliation to agent-driven checks
// only (no crash-recovery orphan detection).
func New(coordinator CoordinatorView, provider kanban.Provider, assignments AssignmentSource, events EventSink, ledger Ledger) *Monitor {
	return &Monitor{
		coordinator: coordinator,
		provider:    provider,
		assignments: assignments,
		events:      events,
		ledger:      ledger,
		interval:    DefaultInterval,
		staleAfter:  StaleThreshold,
	}
}

// WithInterval overrides the reconciliation cadence (tests use a
// short interval; production wiring takes config's
// monitor_interval_seconds).
func (m *Monitor) WithInterval(d time.Duration) *Monitor {
	m.interval = d
	return m
}

// WithStaleThreshold overrides the stale-assignment threshold.
func (m *Monitor) WithStaleThreshold(d time.Duration) *Monitor {
	m.staleAfter = d
	return m
}

// Run blocks, ticking every m.interval until done is closed or ctx is
// canceled. Intended to run in its own goroutine from cmd/marcusd.
func (m *Monitor) Run(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.ReconcileOnce(ctx)
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Report summarizes the outcome of a reconciliation pass, returned to
// callers that need to know what happened (e.g. the
// check_assignment_health tool) rather than just seeing it logged.
type Report struct {
	Checked   int      `json:"checked"`
	Completed []string `json:"completed_task_ids"`
	Orphaned  []string `json:"orphaned_task_ids"`
	Stale     []string `json:"stale_task_ids"`
	RanAt     time.Time
}

// ReconcileOnce runs a single reconciliation pass (spec §4.7 steps
// 1-4). The persisted active set is the primary driver (step 2): it
// survives a process restart even when the in-memory agent registry
// does not, which is exactly the crash-recovery case in spec §8
// scenario 5. A second pass (step 3) catches the opposite drift — an
// agent slot with no backing persisted assignment. All mutations go
// through the coordinator's own operations, never by touching
// agent/task fields directly.
func (m *Monitor) ReconcileOnce(ctx context.Context) Report {
	agents := m.coordinator.Agents()
	tasks := m.coordinator.Snapshot()

	report := Report{RanAt: time.Now()}

	seenTasks := make(map[string]struct{})
	if m.assignments != nil {
		for _, a := range m.assignments.ListActive() {
			seenTasks[a.TaskID] = struct{}{}
			report.Checked++

			_, registered := agents[a.AgentID]
			if !registered {
				// The agent that owns this persisted assignment no
				// longer exists in memory — a restart wiped the
				// in-memory registry but the durable assignment (and
				// the kanban board, unless something else moved it)
				// survived. There is no agent slot to clear, but the
				// board may still show the task claimed; restore it.
				m.reconcileUnregisteredAgent(ctx, a.TaskID, a.AgentID, &report)
				continue
			}
			m.reconcileAssignment(ctx, a.TaskID, a.AgentID, tasks[a.TaskID], &report)
		}
	}

	for agentID, agent := range agents {
		if agent.CurrentTaskID == "" {
			continue
		}
		if _, ok := seenTasks[agent.CurrentTaskID]; ok {
			continue
		}
		// Step 3: the agent believes it holds a task, but no persisted
		// assignment backs it (or no assignment source is wired).
		// Either way the slot is stale; free it without crediting a
		// completion.
		if err := m.coordinator.ForceClearAssignment(agent.CurrentTaskID, agentID, false); err != nil {
			log.Printf("[HEALTH] failed to clear unbacked assignment for agent %s: %v", agentID, err)
			continue
		}
		report.Orphaned = append(report.Orphaned, agent.CurrentTaskID)
		m.record(agent.CurrentTaskID, agentID, "reconciled_unbacked", "")
		m.publish("health_issue", map[string]string{"task_id": agent.CurrentTaskID, "agent_id": agentID, "reason": "no_persisted_assignment"})
	}

	return report
}

// reconcileUnregisteredAgent handles spec §8 scenario 5: a persisted
// assignment whose agent was never re-registered after restart. If
// the board still shows the task claimed by that agent, the claim is
// reverted to TODO; any other board state falls through to the normal
// drift classification.
func (m *Monitor) reconcileUnregisteredAgent(ctx context.Context, taskID, agentID string, report *Report) {
	remote, err := m.provider.GetTask(ctx, taskID)
	if err != nil {
		if kanban.IsRetryable(err) {
			log.Printf("[HEALTH] transient error fetching task %s, will retry next tick: %v", taskID, err)
			return
		}
		m.clearOrphan(taskID, "", report, "not_found")
		return
	}

	if (remote.Status == domain.StatusInProgress || remote.Status == domain.StatusBlocked) && remote.AssignedTo == agentID {
		if err := m.provider.UpdateTaskStatus(ctx, taskID, domain.StatusTODO); err != nil {
			log.Printf("[HEALTH] failed to revert orphaned claim for task %s: %v", taskID, err)
			return
		}
	}
	m.clearOrphan(taskID, agentID, report, "agent_not_registered")
}

// clearOrphan clears the persisted assignment for a task whose owning
// agent no longer has a registry slot to free (ForceClearAssignment is
// a no-op on the agent side when agentID isn't found).
func (m *Monitor) clearOrphan(taskID, agentID string, report *Report, reason string) {
	if err := m.coordinator.ForceClearAssignment(taskID, agentID, false); err != nil {
		log.Printf("[HEALTH] failed to clear orphaned assignment %s: %v", taskID, err)
		return
	}
	report.Orphaned = append(report.Orphaned, taskID)
	m.record(taskID, agentID, "reconciled_orphaned", reason)
	m.publish("assignment_orphaned", map[string]string{"task_id": taskID, "agent_id": agentID, "reason": reason})
}

func (m *Monitor) reconcileAssignment(ctx context.Context, taskID, agentID string, cached *domain.Task, report *Report) {
	remote, err := m.provider.GetTask(ctx, taskID)
	if err != nil {
		if kanban.IsRetryable(err) {
			log.Printf("[HEALTH] transient error fetching task %s, will retry next tick: %v", taskID, err)
			return
		}
		// not_found, or any other non-retryable condition: the board
		// no longer knows this task. Reclaim the agent's slot.
		m.reconcileNotFound(taskID, agentID)
		report.Orphaned = append(report.Orphaned, taskID)
		return
	}

	switch {
	case remote.Status == domain.StatusDone:
		m.reconcileDone(taskID, agentID)
		report.Completed = append(report.Completed, taskID)
	case remote.Status == domain.StatusTODO || remote.AssignedTo != agentID:
		m.reconcileOrphaned(taskID, agentID)
		report.Orphaned = append(report.Orphaned, taskID)
	case cached != nil && isStale(cached, m.staleAfter):
		m.flagStale(taskID, agentID)
		report.Stale = append(report.Stale, taskID)
	}
}

func isStale(t *domain.Task, threshold time.Duration) bool {
	if t.UpdatedAt.IsZero() {
		return false
	}
	return time.Since(t.UpdatedAt) > threshold
}

// reconcileDone handles a task the board shows DONE that the
// coordinator still thinks is active: clear the slot and credit the
// agent, matching what a normal 100% progress report would have done.
func (m *Monitor) reconcileDone(taskID, agentID string) {
	if err := m.coordinator.ForceClearAssignment(taskID, agentID, true); err != nil {
		log.Printf("[HEALTH] failed to reconcile completed task %s: %v", taskID, err)
		return
	}
	m.record(taskID, agentID, "reconciled_done", "")
	m.publish("health_issue", map[string]string{"task_id": taskID, "agent_id": agentID, "reason": "completed_externally"})
}

// reconcileOrphaned handles a task moved back to TODO or reassigned to
// someone else out of band: the agent's slot is stale and must be
// cleared without crediting a completion.
func (m *Monitor) reconcileOrphaned(taskID, agentID string) {
	if err := m.coordinator.ForceClearAssignment(taskID, agentID, false); err != nil {
		log.Printf("[HEALTH] failed to reconcile orphaned task %s: %v", taskID, err)
		return
	}
	m.record(taskID, agentID, "reconciled_orphaned", "")
	m.publish("assignment_orphaned", map[string]string{"task_id": taskID, "agent_id": agentID})
}

// reconcileNotFound handles a task id the board no longer recognizes
// at all (deleted, or moved to an unreachable project).
func (m *Monitor) reconcileNotFound(taskID, agentID string) {
	if err := m.coordinator.ForceClearAssignment(taskID, agentID, false); err != nil {
		log.Printf("[HEALTH] failed to reconcile missing task %s: %v", taskID, err)
		return
	}
	m.record(taskID, agentID, "reconciled_not_found", "")
	m.publish("assignment_orphaned", map[string]string{"task_id": taskID, "agent_id": agentID, "reason": "not_found"})
}

// flagStale surfaces a still-valid but long-untouched assignment. It
// does not clear anything — a human or the agent itself decides what
// to do next.
func (m *Monitor) flagStale(taskID, agentID string) {
	m.publish("health_issue", map[string]string{"task_id": taskID, "agent_id": agentID, "reason": "stale_assignment"})
}

func (m *Monitor) record(taskID, agentID, event, detail string) {
	if m.ledger == nil {
		return
	}
	if err := m.ledger.Record(taskID, agentID, event, detail); err != nil {
		log.Printf("[HEALTH] ledger record failed for task %s: %v", taskID, err)
	}
}

func (m *Monitor) publish(eventType string, payload interface{}) {
	if m.events != nil {
		m.events.Publish(eventType, payload)
	}
}
