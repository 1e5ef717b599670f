package kanbanwriter

import (
	"context"
	"fmt"

	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/kanban"
)

// SerializingProvider wraps a kanban.Provider so that the three
// side-effecting calls the coordinator makes outside the claim path
// (UpdateTaskStatus, SetProgress, AddComment) go through the embedded
// NATS write bus instead of calling the underlying provider directly.
// Reads and ClaimTask pass straight through — ClaimTask's conflict
// result has to reach the coordinator synchronously within its own
// lock, so it gains nothing from the bus.
type SerializingProvider struct {
	kanban.Provider
	writer *Writer
}

// NewSerializingProvider wraps provider so its write-side calls route
// through writer's single per-task dispatcher goroutine.
func NewSerializingProvider(provider kanban.Provider, writer *Writer) *SerializingProvider {
	return &SerializingProvider{Provider: provider, writer: writer}
}

// UpdateTaskStatus publishes the status change to the writer bus.
func (p *SerializingProvider) UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus) error {
	if err := p.writer.Publish(ctx, WriteRequest{Op: OpUpdateStatus, TaskID: id, Status: string(status)}); err != nil {
		return fmt.Errorf("kanbanwriter: update task status: %w", err)
	}
	return nil
}

// SetProgress publishes the progress update to the writer bus.
func (p *SerializingProvider) SetProgress(ctx context.Context, id string, percent int) error {
	if err := p.writer.Publish(ctx, WriteRequest{Op: OpSetProgress, TaskID: id, Percent: percent}); err != nil {
		return fmt.Errorf("kanbanwriter: set progress: %w", err)
	}
	return nil
}

// AddComment publishes the comment to the writer bus.
func (p *SerializingProvider) AddComment(ctx context.Context, id, text string) error {
	if err := p.writer.Publish(ctx, WriteRequest{Op: OpAddComment, TaskID: id, Text: text}); err != nil {
		return fmt.Errorf("kanbanwriter: add comment: %w", err)
	}
	return nil
}
