package kanban

import (
	"context"
	"errors"
	"testing"

	"github.com/CLIAIMONITOR/internal/domain"
)

func seedTask(id string, status domain.TaskStatus) *domain.Task {
	return &domain.Task{ID: id, Name: id, Status: status, Priority: domain.PriorityMedium}
}

func TestMemoryProviderClaimTaskConflict(t *testing.T) {
	p := NewMemoryProvider([]*domain.Task{seedTask("t1", domain.StatusTODO)})
	ctx := context.Background()

	if err := p.ClaimTask(ctx, "t1", "a1"); err != nil {
		t.Fatalf("first claim should succeed: %v", err)
	}
	err := p.ClaimTask(ctx, "t1", "a2")
	if err == nil {
		t.Fatal("second claim should fail")
	}
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestMemoryProviderClaimTaskNotFound(t *testing.T) {
	p := NewMemoryProvider(nil)
	err := p.ClaimTask(context.Background(), "missing", "a1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestMemoryProviderListAvailableTasks(t *testing.T) {
	p := NewMemoryProvider([]*domain.Task{
		seedTask("t1", domain.StatusTODO),
		seedTask("t2", domain.StatusInProgress),
	})
	p.tasks["t2"].AssignedTo = "a1"

	tasks, err := p.ListAvailableTasks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Fatalf("expected only t1 available, got %+v", tasks)
	}
}

func TestMemoryProviderCompleteTask(t *testing.T) {
	p := NewMemoryProvider([]*domain.Task{seedTask("t1", domain.StatusTODO)})
	ctx := context.Background()
	_ = p.ClaimTask(ctx, "t1", "a1")

	if err := p.CompleteTask(ctx, "t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := p.GetTask(ctx, "t1")
	if got.Status != domain.StatusDone {
		t.Fatalf("expected task DONE, got %s", got.Status)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&ProviderError{Kind: ErrKindConnection}) {
		t.Error("connection error should be retryable")
	}
	if !IsRetryable(&ProviderError{Kind: ErrKindRateLimit}) {
		t.Error("rate limit error should be retryable")
	}
	if IsRetryable(&ProviderError{Kind: ErrKindNotFound}) {
		t.Error("not found error should not be retryable")
	}
	if IsRetryable(errors.New("plain error")) {
		t.Error("plain error should not be retryable")
	}
}
