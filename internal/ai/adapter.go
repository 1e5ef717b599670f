// Package ai is the narrow enrichment adapter from spec §4.6: the
// only place in the core that talks to an external LLM. It never
// throws into the Coordinator — every outcome is a (string, source)
// pair, falling back to a deterministic template on timeout, error,
// or when no API key is configured. Grounded on the teacher's
// internal/notifications/external adapters (timeout + fallback-on-
// error outbound HTTP idiom).
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CLIAIMONITOR/internal/domain"
)

// Source identifies whether a result came from the model or the
// deterministic fallback template.
type Source string

const (
	SourceAI       Source = "ai"
	SourceFallback Source = "fallback"
)

// Config controls adapter timeouts and retry behavior (spec §4.6, §7).
type Config struct {
	APIKey     string // empty disables AI; all calls take the fallback path
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultConfig returns the spec's documented defaults: 10s timeout,
// two retries with exponential backoff at base 500ms, factor 2.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:     apiKey,
		Timeout:    10 * time.Second,
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
	}
}

// Completer is the minimal capability the adapter needs from an LLM
// backend. A real backend implements this over HTTP; tests can supply
// a stub. Kept separate from Adapter so retry/timeout/fallback logic
// lives in one place regardless of backend.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Adapter is the interface the Coordinator and Blocker handler consume.
type Adapter interface {
	GenerateInstructions(ctx context.Context, task *domain.Task, agent *domain.Agent) (string, Source)
	AnalyzeBlocker(ctx context.Context, description string, task *domain.Task, severity domain.BlockerSeverity) (string, Source)
}

// LLMAdapter implements Adapter with retry/timeout/fallback discipline
// around a Completer. If Config.APIKey is empty, Completer is never
// called and every result is the deterministic fallback.
type LLMAdapter struct {
	cfg       Config
	completer Completer
}

// NewLLMAdapter builds an adapter. completer may be nil when APIKey is
// empty (the fallback-only configuration).
func NewLLMAdapter(cfg Config, completer Completer) *LLMAdapter {
	return &LLMAdapter{cfg: cfg, completer: completer}
}

// GenerateInstructions produces per-assignment instructions for a
// newly claimed task (spec §4.6).
func (a *LLMAdapter) GenerateInstructions(ctx context.Context, task *domain.Task, agent *domain.Agent) (string, Source) {
	if a.cfg.APIKey == "" || a.completer == nil {
		return fallbackInstructions(task, agent), SourceFallback
	}

	prompt := fmt.Sprintf(
		"Generate step-by-step instructions for agent %s (skills: %v) to complete task %q: %s",
		agent.Name, agent.Skills, task.Name, task.Description,
	)
	result, err := a.callWithRetry(ctx, prompt)
	if err != nil {
		return fallbackInstructions(task, agent), SourceFallback
	}
	return result, SourceAI
}

// AnalyzeBlocker produces suggestions for resolving a reported
// blocker (spec §4.6). task may be nil if the coordinator's task
// cache has no entry for the assignment's task id; a placeholder
// keeps the prompt and fallback template from dereferencing nil.
func (a *LLMAdapter) AnalyzeBlocker(ctx context.Context, description string, task *domain.Task, severity domain.BlockerSeverity) (string, Source) {
	if task == nil {
		task = &domain.Task{Name: "unknown task"}
	}
	if a.cfg.APIKey == "" || a.completer == nil {
		return fallbackBlockerSuggestions(description, task, severity), SourceFallback
	}

	prompt := fmt.Sprintf(
		"A worker reported a %s severity blocker on task %q: %s. Suggest concrete next steps.",
		severity, task.Name, description,
	)
	result, err := a.callWithRetry(ctx, prompt)
	if err != nil {
		return fallbackBlockerSuggestions(description, task, severity), SourceFallback
	}
	return result, SourceAI
}

// callWithRetry applies the hard timeout and the two-retry
// exponential backoff from spec §4.6/§7.
func (a *LLMAdapter) callWithRetry(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	var lastErr error
	delay := a.cfg.BaseDelay
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			delay *= 2
		}

		result, err := a.completer.Complete(ctx, prompt)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return "", lastErr
}

// fallbackInstructions builds the deterministic template from spec
// §4.6: task name, description, labels, estimated hours, organized
// into Setup/Implementation/Testing phases (spec §8 scenario 6).
func fallbackInstructions(task *domain.Task, agent *domain.Agent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Name)
	if task.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", task.Description)
	}
	if labels := task.LabelSet(); len(labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(labels, ", "))
	}
	fmt.Fprintf(&b, "Estimated hours: %.1f\n\n", task.EstimatedHours)
	b.WriteString("Setup: review the task description and confirm you have the skills/environment needed.\n")
	b.WriteString("Implementation: complete the work described above, keeping changes scoped to this task.\n")
	b.WriteString("Testing: verify your change behaves as expected before reporting completion.\n")
	return b.String()
}

// fallbackBlockerSuggestions builds a bulleted checklist derived from
// severity and labels (spec §4.6).
func fallbackBlockerSuggestions(description string, task *domain.Task, severity domain.BlockerSeverity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Blocker on %s (severity %s): %s\n\n", task.Name, severity, description)
	b.WriteString("Suggested next steps:\n")
	b.WriteString("- Re-confirm the blocking condition is still present before escalating further.\n")
	b.WriteString("- Check recent changes to dependencies or shared infrastructure.\n")
	if severity == domain.SeverityHigh {
		b.WriteString("- Flag this to a human operator; high-severity blockers may need external intervention.\n")
	}
	for label := range task.Labels {
		fmt.Fprintf(&b, "- Review %s-specific documentation or tooling for known issues.\n", label)
	}
	return b.String()
}

var _ Adapter = (*LLMAdapter)(nil)
