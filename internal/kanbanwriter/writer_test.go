package kanbanwriter

import (
	"context"
	"testing"
	"time"

	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/kanban"
)

func startTestBus(t *testing.T) *EmbeddedServer {
	t.Helper()
	srv, err := NewEmbeddedServer(EmbeddedServerConfig{})
	if err != nil {
		t.Fatalf("NewEmbeddedServer: %v", err)
	}
	if err := srv.Start(EmbeddedServerConfig{Port: -1}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestWriterSerializesProviderCalls(t *testing.T) {
	srv := startTestBus(t)

	provider := kanban.NewMemoryProvider([]*domain.Task{
		{ID: "t1", Name: "t1", Status: domain.StatusTODO, Priority: domain.PriorityMedium},
	})
	ctx := context.Background()
	if err := provider.ClaimTask(ctx, "t1", "a1"); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}

	w, err := NewWriter(srv.URL(), provider)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	err = w.Publish(ctx, WriteRequest{Op: OpSetProgress, TaskID: "t1", Percent: 50})
	if err != nil {
		t.Fatalf("Publish set_progress: %v", err)
	}

	err = w.Publish(ctx, WriteRequest{Op: OpAddComment, TaskID: "t1", Text: "halfway there"})
	if err != nil {
		t.Fatalf("Publish add_comment: %v", err)
	}
}

func TestWriterSurfacesProviderError(t *testing.T) {
	srv := startTestBus(t)
	provider := kanban.NewMemoryProvider(nil)

	w, err := NewWriter(srv.URL(), provider)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = w.Publish(ctx, WriteRequest{Op: OpSetProgress, TaskID: "missing", Percent: 10})
	if err == nil {
		t.Fatal("expected error for unknown task")
	}
}
