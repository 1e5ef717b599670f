// Package kanbanwriter implements the message-passing pattern called
// out in spec §9 Design Notes: "model as a message-passing channel
// where progress events are produced by tool handlers and consumed by
// a single writer goroutine that serializes kanban updates per task."
//
// Marcus embeds an in-process NATS server and routes provider side-
// effect calls (update_task_status, set_progress, add_comment) through
// it: tool handlers publish a write request on the task's subject and
// await the reply; a single subscriber goroutine drains all subjects
// and performs the actual (idempotent) provider calls one at a time.
// This decouples tool-handler latency from provider round-trips
// without introducing a second source of truth — the coordinator lock
// still owns all in-memory state and the ClaimTask call itself (spec
// §5). Adapted from the teacher's internal/nats/server.go embedded
// server lifecycle.
package kanbanwriter

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServerConfig configures the in-process NATS server.
type EmbeddedServerConfig struct {
	Port int // 0 lets the OS pick a free port
}

// EmbeddedServer wraps an in-process NATS server used purely as the
// internal kanban-write bus — it is never exposed outside this
// process.
type EmbeddedServer struct {
	srv     *server.Server
	mu      sync.RWMutex
	running bool
}

// NewEmbeddedServer creates (but does not start) an embedded server.
func NewEmbeddedServer(cfg EmbeddedServerConfig) (*EmbeddedServer, error) {
	return &EmbeddedServer{}, nil
}

// Start brings the embedded server up and blocks until it is ready
// for connections.
func (e *EmbeddedServer) Start(cfg EmbeddedServerConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("kanbanwriter: server already running")
	}

	port := cfg.Port
	if port == 0 {
		port = server.RANDOM_PORT
	}
	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       port,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("kanbanwriter: create embedded nats server: %w", err)
	}

	e.srv = ns
	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("kanbanwriter: embedded nats server not ready")
	}

	e.running = true
	return nil
}

// Shutdown stops the embedded server.
func (e *EmbeddedServer) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running || e.srv == nil {
		return
	}
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
	e.running = false
	e.srv = nil
}

// URL returns the connection URL for the embedded server.
func (e *EmbeddedServer) URL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.srv == nil {
		return ""
	}
	return e.srv.ClientURL()
}

// IsRunning reports whether the embedded server is up.
func (e *EmbeddedServer) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}
