// Package selection implements the pure task-selection algorithm from
// spec §4.3: given an agent and the available tasks, score and pick
// one. No I/O, no side effects — called under the coordinator's lock
// so it must stay fast and deterministic.
package selection

import (
	"sort"

	"github.com/CLIAIMONITOR/internal/domain"
)

// Result is the outcome of a selection pass.
type Result struct {
	Task  *domain.Task
	Score float64
}

// scored pairs a task with its composite score for sorting.
type scored struct {
	task  *domain.Task
	score float64
}

// Select runs the five-step algorithm from spec §4.3 against the
// given candidate tasks for agent a, using deps to resolve readiness
// (a dependency is ready when its task is DONE in the latest
// snapshot; a dependency id absent from deps is treated as not ready,
// since it cannot be confirmed DONE).
func Select(a *domain.Agent, candidates []*domain.Task, deps map[string]*domain.Task) *Result {
	ready := filterReady(candidates, deps)
	if len(ready) == 0 {
		return nil
	}

	scoredTasks := make([]scored, 0, len(ready))
	for _, t := range ready {
		scoredTasks = append(scoredTasks, scored{
			task:  t,
			score: compositeScore(t, a),
		})
	}

	sort.SliceStable(scoredTasks, func(i, j int) bool {
		si, sj := scoredTasks[i], scoredTasks[j]
		if si.score != sj.score {
			return si.score > sj.score
		}
		// Tie-break: earlier created_at, then lexicographic task id.
		if !si.task.CreatedAt.Equal(sj.task.CreatedAt) {
			return si.task.CreatedAt.Before(sj.task.CreatedAt)
		}
		return si.task.ID < sj.task.ID
	})

	best := scoredTasks[0]
	return &Result{Task: best.task, Score: best.score}
}

// filterReady drops any task with an unmet dependency (spec §4.3
// step 1).
func filterReady(candidates []*domain.Task, deps map[string]*domain.Task) []*domain.Task {
	var ready []*domain.Task
	for _, t := range candidates {
		if isReady(t, deps) {
			ready = append(ready, t)
		}
	}
	return ready
}

func isReady(t *domain.Task, deps map[string]*domain.Task) bool {
	for depID := range t.Dependencies {
		dep, ok := deps[depID]
		if !ok || dep.Status != domain.StatusDone {
			return false
		}
	}
	return true
}

// compositeScore implements spec §4.3 step 4:
// priority_weight * (1 + skill_score).
func compositeScore(t *domain.Task, a *domain.Agent) float64 {
	weight := float64(t.Priority.Weight())
	skill := a.SkillScore(t)
	return weight * (1 + skill)
}
