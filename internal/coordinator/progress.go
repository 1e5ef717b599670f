package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/CLIAIMONITOR/internal/ai"
	"github.com/CLIAIMONITOR/internal/domain"
)

// ProgressStatus is the status argument to ReportProgress (spec §6
// report_task_progress: status ∈ {in_progress, completed, blocked}).
// The source exposed both this status-driven path and the dedicated
// report_blocker flow for reaching BLOCKED (spec §9 Open Questions);
// this implementation keeps both and treats status=blocked here as a
// plain transition with no AI analysis, reserving ReportBlocker for
// the full suggestions flow.
type ProgressStatus string

const (
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressBlocked    ProgressStatus = "blocked"
)

// Valid reports whether s is a known progress status. Empty defaults
// to in_progress at the call site, not here, so validation still
// rejects genuinely unknown values.
func (s ProgressStatus) Valid() bool {
	switch s {
	case ProgressInProgress, ProgressCompleted, ProgressBlocked:
		return true
	}
	return false
}

// ReportProgress implements spec §4.5: clamp the percent, dedupe
// identical repeated reports, and transition the task according to
// status. Returns domain.ErrNotAssignedToAgent if the task isn't
// currently assigned to agentID, domain.ErrInvalidStatus for an
// unrecognized status.
func (c *Coordinator) ReportProgress(ctx context.Context, agentID, taskID string, status ProgressStatus, percent int, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, ok := c.agents[agentID]
	if !ok {
		return domain.ErrNotRegistered
	}
	if agent.CurrentTaskID != taskID {
		return domain.ErrNotAssignedToAgent
	}
	if status == "" {
		status = ProgressInProgress
	}
	if !status.Valid() {
		return domain.ErrInvalidStatus
	}

	if status == ProgressCompleted {
		percent = 100
	}
	clamped := domain.ClampProgress(percent)

	current := c.activeAssignmentLocked(taskID)
	if current == nil {
		return fmt.Errorf("coordinator: no active assignment for task %s", taskID)
	}

	// progress_percent is monotonic non-decreasing within an assignment
	// lifetime (spec §8 I5): a stale or out-of-order report can never
	// move it backwards, it just repeats the last known value.
	if clamped < current.ProgressPercent {
		clamped = current.ProgressPercent
	}

	// Dedupe identical repeated reports keyed on (task_id, percent,
	// message) (spec §9 R2): resending the exact same percent/message
	// pair is a no-op beyond refreshing LastUpdateAt, so it still
	// persists but skips the provider side-effect and event twice.
	isDuplicate := current.ProgressPercent == clamped && message == current.LastMessage && status != ProgressBlocked

	current.ProgressPercent = clamped
	current.LastUpdateAt = time.Now()

	if status == ProgressBlocked {
		return c.transitionBlockedLocked(ctx, agent, taskID, message)
	}

	if !isDuplicate {
		if err := c.provider.SetProgress(ctx, taskID, clamped); err != nil {
			return fmt.Errorf("coordinator: set progress: %w", err)
		}
		if message != "" {
			if err := c.provider.AddComment(ctx, taskID, message); err != nil {
				return fmt.Errorf("coordinator: add comment: %w", err)
			}
		}
		current.LastMessage = message
	}

	if status == ProgressCompleted {
		if err := c.completeLocked(ctx, agent, taskID); err != nil {
			return err
		}
	} else if err := c.store.Update(current); err != nil {
		return fmt.Errorf("coordinator: update assignment: %w", err)
	}

	if !isDuplicate {
		c.record(taskID, agentID, "progress", fmt.Sprintf("percent=%d", clamped))
		c.publish("task_progress", map[string]interface{}{"task_id": taskID, "agent_id": agentID, "percent": clamped})
	}
	return nil
}

// transitionBlockedLocked moves the task to BLOCKED as a plain status
// transition, with no AI analysis and without releasing the
// assignment (spec §9: blockers never auto-clear an assignment).
// Caller must hold c.mu.
func (c *Coordinator) transitionBlockedLocked(ctx context.Context, agent *domain.Agent, taskID, message string) error {
	if message != "" {
		if err := c.provider.AddComment(ctx, taskID, message); err != nil {
			return fmt.Errorf("coordinator: add comment: %w", err)
		}
	}
	if err := c.provider.UpdateTaskStatus(ctx, taskID, domain.StatusBlocked); err != nil {
		return fmt.Errorf("coordinator: update task status: %w", err)
	}
	if t, ok := c.tasks[taskID]; ok {
		t.Status = domain.StatusBlocked
	}
	if current := c.activeAssignmentLocked(taskID); current != nil {
		if err := c.store.Update(current); err != nil {
			return fmt.Errorf("coordinator: update assignment: %w", err)
		}
	}

	c.record(taskID, agent.ID, "blocked_status", "")
	c.publish("task_blocked", map[string]string{"task_id": taskID, "agent_id": agent.ID})
	return nil
}

// activeAssignmentLocked finds the active assignment for taskID.
// Caller must hold c.mu.
func (c *Coordinator) activeAssignmentLocked(taskID string) *domain.Assignment {
	for _, a := range c.store.ListActive() {
		if a.TaskID == taskID {
			return a
		}
	}
	return nil
}

// completeLocked transitions a task to DONE: provider, persistence,
// and in-memory agent/task state all move together. Caller must hold
// c.mu.
func (c *Coordinator) completeLocked(ctx context.Context, agent *domain.Agent, taskID string) error {
	if err := c.provider.CompleteTask(ctx, taskID); err != nil {
		return fmt.Errorf("coordinator: complete task: %w", err)
	}
	if err := c.store.Clear(taskID); err != nil {
		return fmt.Errorf("coordinator: clear assignment: %w", err)
	}

	agent.CurrentTaskID = ""
	agent.CompletedCount++
	if t, ok := c.tasks[taskID]; ok {
		t.Status = domain.StatusDone
	}

	c.record(taskID, agent.ID, "completed", "")
	c.publish("task_completed", map[string]string{"task_id": taskID, "agent_id": agent.ID})
	return nil
}

// ReportBlocker implements spec §4.5: record the blocker, ask the AI
// adapter for suggestions, post them as a comment, and transition the
// task to BLOCKED. The assignment is NOT released — the agent keeps
// the task until it resumes progress or the task is reassigned through
// the health monitor.
func (c *Coordinator) ReportBlocker(ctx context.Context, agentID, taskID, description string, severity domain.BlockerSeverity) (string, ai.Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, ok := c.agents[agentID]
	if !ok {
		return "", "", domain.ErrNotRegistered
	}
	if agent.CurrentTaskID != taskID {
		return "", "", domain.ErrNotAssignedToAgent
	}

	// task may be nil if the cache has no entry for taskID; AnalyzeBlocker
	// tolerates a nil task.
	task := c.tasks[taskID]
	suggestions, source := c.aiAdapter.AnalyzeBlocker(ctx, description, task, severity)

	comment := fmt.Sprintf("BLOCKER[%s]: %s\n\n%s", severity, description, suggestions)
	if err := c.provider.AddComment(ctx, taskID, comment); err != nil {
		return "", "", fmt.Errorf("coordinator: post blocker comment: %w", err)
	}
	if err := c.provider.UpdateTaskStatus(ctx, taskID, domain.StatusBlocked); err != nil {
		return "", "", fmt.Errorf("coordinator: update task status: %w", err)
	}

	if task != nil {
		task.Status = domain.StatusBlocked
	}

	c.blockers[taskID] = append(c.blockers[taskID], &domain.Blocker{
		TaskID:      taskID,
		AgentID:     agentID,
		Description: description,
		Severity:    severity,
		ReportedAt:  time.Now(),
		Suggestions: suggestions,
	})

	c.record(taskID, agentID, "blocked", fmt.Sprintf("severity=%s suggestions_source=%s", severity, source))
	c.publish("task_blocked", map[string]string{"task_id": taskID, "agent_id": agentID, "severity": string(severity)})

	return suggestions, source, nil
}
