package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "marcus.yaml")
	if err := os.WriteFile(path, []byte("provider: memory\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MonitorIntervalSeconds != 60 {
		t.Errorf("expected default monitor_interval_seconds=60, got %d", cfg.MonitorIntervalSeconds)
	}
	if cfg.StallThresholdHours != 24 {
		t.Errorf("expected default stall_threshold_hours=24, got %d", cfg.StallThresholdHours)
	}
	if cfg.AITimeoutSeconds != 10 {
		t.Errorf("expected default ai_timeout_seconds=10, got %d", cfg.AITimeoutSeconds)
	}
	if cfg.ToolCallTimeoutSeconds != 30 {
		t.Errorf("expected default tool_call_timeout_seconds=30, got %d", cfg.ToolCallTimeoutSeconds)
	}
	if cfg.PersistencePath != "data/assignments.json" {
		t.Errorf("expected default persistence_path, got %q", cfg.PersistencePath)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/marcus.yaml")
	if err == nil {
		t.Error("expected error for non-existent file")
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "marcus.yaml")
	if err := os.WriteFile(path, []byte("provider: trello\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestLoadRejectsIncompletePlankaCredentials(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "marcus.yaml")
	yaml := "provider: planka\nplanka:\n  base_url: https://planka.example.com\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for incomplete planka credentials")
	}
}

func TestLoadAcceptsCompleteGitHubCredentials(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "marcus.yaml")
	yaml := "provider: github\ngithub:\n  token: abc123\n  owner: acme\n  repo: widgets\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GitHub.Repo != "widgets" {
		t.Errorf("expected repo 'widgets', got %q", cfg.GitHub.Repo)
	}
}

func TestDurationHelpersConvertUnits(t *testing.T) {
	cfg := &Config{
		MonitorIntervalSeconds: 60,
		StallThresholdHours:    24,
		AITimeoutSeconds:       10,
		ToolCallTimeoutSeconds: 30,
	}
	if cfg.MonitorInterval().Seconds() != 60 {
		t.Errorf("expected 60s, got %v", cfg.MonitorInterval())
	}
	if cfg.StallThreshold().Hours() != 24 {
		t.Errorf("expected 24h, got %v", cfg.StallThreshold())
	}
	if cfg.AITimeout().Seconds() != 10 {
		t.Errorf("expected 10s, got %v", cfg.AITimeout())
	}
	if cfg.ToolCallTimeout().Seconds() != 30 {
		t.Errorf("expected 30s, got %v", cfg.ToolCallTimeout())
	}
}
