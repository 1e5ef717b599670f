package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CLIAIMONITOR/internal/coordinator"
	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/health"
)

// toolTimeout bounds every tool call handed to the coordinator so a
// slow provider round-trip can't wedge the dispatcher (spec §7
// "tool_call_timeout_seconds").
const toolTimeout = 30 * time.Second

// RegisterMarcusTools wires the nine tools from spec §4.8 to the
// Coordinator. Adapted from the teacher's RegisterDefaultTools, which
// bound a fixed tool list to Captain-specific callbacks; here each
// tool binds directly to a Coordinator method instead of an
// intermediate callback struct, since there is exactly one real
// implementation (no dashboard-specific variants to swap in).
// monitor may be nil, in which case check_assignment_health reports an
// error rather than panicking — a daemon started without the health
// monitor wired (e.g. a lightweight test harness) still exposes every
// other tool.
func RegisterMarcusTools(s *Server, c *coordinator.Coordinator, monitor *health.Monitor) {
	s.RegisterTool(ToolDefinition{
		Name:        "register_agent",
		Description: "Register a worker agent with the coordinator before requesting tasks.",
		Parameters: map[string]ParameterDef{
			"agent_id": {Type: "string", Description: "Unique agent identifier", Required: true},
			"name":     {Type: "string", Description: "Human-readable agent name", Required: true},
			"role":     {Type: "string", Description: "Agent role, e.g. backend, frontend", Required: false},
			"skills":   {Type: "array", Description: "Skill labels this agent can match against task labels", Required: false},
		},
		Handler: func(agentID string, params map[string]interface{}) (interface{}, error) {
			id, _ := params["agent_id"].(string)
			name, _ := params["name"].(string)
			role, _ := params["role"].(string)
			skills := stringSlice(params["skills"])

			agent, err := c.RegisterAgent(id, name, role, skills)
			if err != nil {
				return errorResult(err), nil
			}
			return map[string]interface{}{
				"success":  true,
				"agent_id": agent.ID,
				"name":     agent.Name,
			}, nil
		},
	})

	s.RegisterTool(ToolDefinition{
		Name:        "request_next_task",
		Description: "Request the next best-fit task for this agent, claiming it on the kanban board.",
		Parameters: map[string]ParameterDef{
			"agent_id": {Type: "string", Description: "Registered agent identifier", Required: true},
		},
		Handler: func(agentID string, params map[string]interface{}) (interface{}, error) {
			id := stringOr(params["agent_id"], agentID)

			ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
			defer cancel()

			result, err := c.RequestNextTask(ctx, id)
			if errors.Is(err, domain.ErrNoTaskAvailable) {
				return map[string]interface{}{"success": true, "message": "no tasks"}, nil
			}
			if err != nil {
				return errorResult(err), nil
			}
			return map[string]interface{}{
				"success":      true,
				"task_id":      result.Task.ID,
				"task_name":    result.Task.Name,
				"instructions": result.Instructions,
				"source":       string(result.Source),
			}, nil
		},
	})

	s.RegisterTool(ToolDefinition{
		Name:        "report_task_progress",
		Description: "Report progress on the agent's currently assigned task. status=completed finishes it, status=blocked marks it blocked without releasing it.",
		Parameters: map[string]ParameterDef{
			"agent_id": {Type: "string", Description: "Registered agent identifier", Required: true},
			"task_id":  {Type: "string", Description: "Task being worked on", Required: true},
			"status":   {Type: "string", Description: "in_progress, completed, or blocked", Required: true},
			"progress": {Type: "number", Description: "Progress percentage, 0-100", Required: false},
			"message":  {Type: "string", Description: "Optional status comment for the board", Required: false},
		},
		Handler: func(agentID string, params map[string]interface{}) (interface{}, error) {
			id := stringOr(params["agent_id"], agentID)
			taskID, _ := params["task_id"].(string)
			message, _ := params["message"].(string)
			status := coordinator.ProgressStatus(stringOr(params["status"], string(coordinator.ProgressInProgress)))
			percent := intFrom(params["progress"])

			ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
			defer cancel()

			if err := c.ReportProgress(ctx, id, taskID, status, percent, message); err != nil {
				return errorResult(err), nil
			}
			return map[string]interface{}{"success": true}, nil
		},
	})

	s.RegisterTool(ToolDefinition{
		Name:        "report_blocker",
		Description: "Report a blocker on the agent's currently assigned task without releasing it.",
		Parameters: map[string]ParameterDef{
			"agent_id":    {Type: "string", Description: "Registered agent identifier", Required: true},
			"task_id":     {Type: "string", Description: "Blocked task", Required: true},
			"description": {Type: "string", Description: "What is blocking progress", Required: true},
			"severity":    {Type: "string", Description: "LOW, MEDIUM, or HIGH", Required: false},
		},
		Handler: func(agentID string, params map[string]interface{}) (interface{}, error) {
			id := stringOr(params["agent_id"], agentID)
			taskID, _ := params["task_id"].(string)
			description, _ := params["description"].(string)
			severity := domain.ParseSeverity(stringOr(params["severity"], ""))

			ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
			defer cancel()

			suggestions, source, err := c.ReportBlocker(ctx, id, taskID, description, severity)
			if err != nil {
				return errorResult(err), nil
			}
			return map[string]interface{}{
				"success":     true,
				"suggestions": suggestions,
				"source":      string(source),
			}, nil
		},
	})

	s.RegisterTool(ToolDefinition{
		Name:        "get_project_status",
		Description: "Get an aggregate snapshot of tasks and agents across the project.",
		Parameters:  map[string]ParameterDef{},
		Handler: func(agentID string, params map[string]interface{}) (interface{}, error) {
			snap := c.GetProjectStatus()
			return map[string]interface{}{
				"success":            true,
				"total_tasks":        snap.TotalTasks,
				"todo_count":         snap.TODOCount,
				"in_progress_count":  snap.InProgressCount,
				"done_count":         snap.DoneCount,
				"blocked_count":      snap.BlockedCount,
				"overdue_task_ids":   snap.OverdueTaskIDs,
				"total_agents":       snap.TotalAgents,
				"active_agents":      snap.ActiveAgents,
				"available_agents":   snap.AvailableAgents,
				"completion_percent": snap.CompletionPercent,
				"refreshed_at":       snap.RefreshedAt.Format(time.RFC3339),
			}, nil
		},
	})

	s.RegisterTool(ToolDefinition{
		Name:        "get_agent_status",
		Description: "Get the current status of a single registered agent.",
		Parameters: map[string]ParameterDef{
			"agent_id": {Type: "string", Description: "Registered agent identifier", Required: true},
		},
		Handler: func(agentID string, params map[string]interface{}) (interface{}, error) {
			id := stringOr(params["agent_id"], agentID)
			agent, ok := c.GetAgentStatus(id)
			if !ok {
				return errorResult(domain.ErrNotRegistered), nil
			}
			return map[string]interface{}{
				"success":         true,
				"agent_id":        agent.ID,
				"name":            agent.Name,
				"role":            agent.Role,
				"current_task_id": agent.CurrentTaskID,
				"completed_count": agent.CompletedCount,
				"available":       agent.IsAvailable(),
			}, nil
		},
	})

	s.RegisterTool(ToolDefinition{
		Name:        "list_registered_agents",
		Description: "List every agent currently registered with the coordinator.",
		Parameters:  map[string]ParameterDef{},
		Handler: func(agentID string, params map[string]interface{}) (interface{}, error) {
			agents := c.ListAgents()
			out := make([]map[string]interface{}, 0, len(agents))
			for _, a := range agents {
				out = append(out, map[string]interface{}{
					"agent_id":        a.ID,
					"name":            a.Name,
					"current_task_id": a.CurrentTaskID,
					"available":       a.IsAvailable(),
				})
			}
			return map[string]interface{}{"success": true, "agents": out, "count": len(out)}, nil
		},
	})

	s.RegisterTool(ToolDefinition{
		Name:        "check_assignment_health",
		Description: "Run an on-demand reconciliation pass against the kanban board and report drift (spec §4.7).",
		Parameters:  map[string]ParameterDef{},
		Handler: func(agentID string, params map[string]interface{}) (interface{}, error) {
			if monitor == nil {
				return errorResult(fmt.Errorf("health monitor not configured")), nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
			defer cancel()

			report := monitor.ReconcileOnce(ctx)

			issues := make([]string, 0, len(report.Orphaned)+len(report.Stale))
			for _, id := range report.Orphaned {
				issues = append(issues, fmt.Sprintf("assignment for task %s is orphaned", id))
			}
			for _, id := range report.Stale {
				issues = append(issues, fmt.Sprintf("task %s has been stalled past the stall threshold", id))
			}

			healthStatus := "healthy"
			if len(issues) > 0 {
				healthStatus = "degraded"
			}

			successRate := 1.0
			if report.Checked > 0 {
				successRate = float64(report.Checked-len(report.Orphaned)-len(report.Stale)) / float64(report.Checked)
			}

			_, openConnections := s.ConnectionStats()

			return map[string]interface{}{
				"success":       true,
				"health_status": healthStatus,
				"checks": map[string]interface{}{
					"assignments_checked":  report.Checked,
					"completed_task_ids":   report.Completed,
					"orphaned_task_ids":    report.Orphaned,
					"stale_task_ids":       report.Stale,
					"open_sse_connections": openConnections,
					"ran_at":               report.RanAt.Format(time.RFC3339),
				},
				"metrics": map[string]interface{}{
					"success_rate": successRate,
				},
				"issues": issues,
			}, nil
		},
	})

	s.RegisterTool(ToolDefinition{
		Name:        "ping",
		Description: "Liveness check for the coordination daemon.",
		Parameters: map[string]ParameterDef{
			"echo": {Type: "string", Description: "Arbitrary value echoed back verbatim", Required: false},
		},
		Handler: func(agentID string, params map[string]interface{}) (interface{}, error) {
			echo, _ := params["echo"].(string)
			return map[string]interface{}{
				"success":   true,
				"status":    "online",
				"echo":      echo,
				"timestamp": time.Now().Format(time.RFC3339),
			}, nil
		},
	})
}

// errorResult builds the application-error shape spec §7 documents:
// {success: false, error, error_code?}. error_code is set when err
// carries one of the domain sentinel errors mapped by errorCode;
// otherwise (including kanban provider errors) it is omitted rather
// than sent empty.
func errorResult(err error) map[string]interface{} {
	result := map[string]interface{}{"success": false, "error": err.Error()}
	if code := errorCode(err); code != "" {
		result["error_code"] = code
	}
	return result
}

// errorCode maps known sentinel errors to a stable machine-readable
// code a calling agent can branch on without string-matching error
// text.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, domain.ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, domain.ErrAlreadyAssigned):
		return "already_assigned"
	case errors.Is(err, domain.ErrNotAssignedToAgent):
		return "not_assigned_to_agent"
	case errors.Is(err, domain.ErrNoTaskAvailable):
		return "no_task_available"
	case errors.Is(err, domain.ErrInvalidStatus):
		return "invalid_status"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	default:
		return ""
	}
}

func stringOr(v interface{}, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func intFrom(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
