package domain

import "testing"

func TestAgentSkillScore(t *testing.T) {
	a := NewAgent("a1", "Agent One", "Backend", []string{"python", "api"})

	t1 := &Task{ID: "t1", Labels: map[string]struct{}{"python": {}, "api": {}}}
	if got := a.SkillScore(t1); got != 1.0 {
		t.Errorf("full match score = %v, want 1.0", got)
	}

	t2 := &Task{ID: "t2", Labels: map[string]struct{}{"python": {}, "rust": {}}}
	if got := a.SkillScore(t2); got != 0.5 {
		t.Errorf("partial match score = %v, want 0.5", got)
	}

	t3 := &Task{ID: "t3"}
	if got := a.SkillScore(t3); got != 0 {
		t.Errorf("empty labels score = %v, want 0", got)
	}
}

func TestAgentIsAvailable(t *testing.T) {
	a := NewAgent("a1", "Agent One", "Backend", nil)
	if !a.IsAvailable() {
		t.Fatal("new agent should be available")
	}
	a.CurrentTaskID = "t1"
	if a.IsAvailable() {
		t.Fatal("agent with a current task should not be available")
	}
}

func TestAgentCloneIndependence(t *testing.T) {
	a := NewAgent("a1", "Agent One", "Backend", []string{"python"})
	clone := a.Clone()
	clone.Skills["rust"] = struct{}{}
	if _, ok := a.Skills["rust"]; ok {
		t.Fatal("mutating clone skills should not affect original")
	}
}
