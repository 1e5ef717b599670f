package kanbanwriter

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	nc "github.com/nats-io/nats.go"

	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/kanban"
)

func statusFromString(s string) domain.TaskStatus {
	return domain.TaskStatus(s)
}

const (
	// subjectPrefix namespaces every kanban write request so the
	// writer's single subscription (subjectPrefix + ".>") catches
	// all tasks.
	subjectPrefix = "marcus.kanban.write"
	requestTimeout = 5 * time.Second
)

// Op identifies which provider call a write request performs.
type Op string

const (
	OpUpdateStatus Op = "update_status"
	OpSetProgress  Op = "set_progress"
	OpAddComment   Op = "add_comment"
)

// WriteRequest is published by a tool handler and consumed by the
// single writer goroutine.
type WriteRequest struct {
	Op      Op     `json:"op"`
	TaskID  string `json:"task_id"`
	Status  string `json:"status,omitempty"`
	Percent int    `json:"percent,omitempty"`
	Text    string `json:"text,omitempty"`
}

// writeReply is returned to the publisher over the request's reply
// subject.
type writeReply struct {
	Error string `json:"error,omitempty"`
}

func subject(taskID string) string {
	return subjectPrefix + "." + taskID
}

// Writer publishes write requests and owns the single subscriber
// goroutine that performs them against the provider, one at a time
// per task.
type Writer struct {
	conn     *nc.Conn
	provider kanban.Provider
	sub      *nc.Subscription
}

// NewWriter connects to the embedded server's URL and starts the
// single writer subscription.
func NewWriter(url string, provider kanban.Provider) (*Writer, error) {
	conn, err := nc.Connect(url,
		nc.ReconnectWait(time.Second),
		nc.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("kanbanwriter: connect: %w", err)
	}

	w := &Writer{conn: conn, provider: provider}

	sub, err := conn.Subscribe(subjectPrefix+".>", w.handle)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("kanbanwriter: subscribe: %w", err)
	}
	w.sub = sub

	return w, nil
}

// Close stops the subscription and disconnects.
func (w *Writer) Close() {
	if w.sub != nil {
		w.sub.Unsubscribe()
	}
	w.conn.Close()
}

// handle runs on the single NATS dispatcher goroutine for this
// subscription, so writes across all tasks are serialized through
// this one function — exactly the "single writer goroutine" the spec
// describes, using NATS's per-subscription ordering instead of a
// hand-rolled channel loop.
func (w *Writer) handle(msg *nc.Msg) {
	var req WriteRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		w.reply(msg, fmt.Errorf("decode write request: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var err error
	switch req.Op {
	case OpUpdateStatus:
		err = w.provider.UpdateTaskStatus(ctx, req.TaskID, statusFromString(req.Status))
	case OpSetProgress:
		err = w.provider.SetProgress(ctx, req.TaskID, req.Percent)
	case OpAddComment:
		err = w.provider.AddComment(ctx, req.TaskID, req.Text)
	default:
		err = fmt.Errorf("unknown write op %q", req.Op)
	}

	if err != nil {
		log.Printf("[KANBANWRITER] %s on task %s failed: %v", req.Op, req.TaskID, err)
	}
	w.reply(msg, err)
}

func (w *Writer) reply(msg *nc.Msg, err error) {
	if msg.Reply == "" {
		return
	}
	r := writeReply{}
	if err != nil {
		r.Error = err.Error()
	}
	data, _ := json.Marshal(r)
	if pubErr := w.conn.Publish(msg.Reply, data); pubErr != nil {
		log.Printf("[KANBANWRITER] failed to send reply: %v", pubErr)
	}
}

// Publish sends req to the writer goroutine for taskID and blocks for
// the provider call's acknowledgment, surfacing any error it hit.
func (w *Writer) Publish(ctx context.Context, req WriteRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("kanbanwriter: encode request: %w", err)
	}

	deadline := requestTimeout
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining > 0 && remaining < deadline {
			deadline = remaining
		}
	}

	msg, err := w.conn.Request(subject(req.TaskID), data, deadline)
	if err != nil {
		return fmt.Errorf("kanbanwriter: request: %w", err)
	}

	var reply writeReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("kanbanwriter: decode reply: %w", err)
	}
	if reply.Error != "" {
		return fmt.Errorf("kanbanwriter: %s", reply.Error)
	}
	return nil
}
