// Package ledger is an additive, out-of-spec enrichment: a durable,
// append-only audit trail of what happened to assignments over time
// (claimed, completed, reconciled away as orphaned). It is never
// consulted to decide coordinator behavior — only to answer "what
// happened to task X" for an operator. Grounded on the teacher's
// internal/memory/db.go embedded-schema + schema_version pattern,
// retargeted from agent-control tables to a single history table.
package ledger

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Event names recorded to the ledger.
const (
	EventClaimed            = "claimed"
	EventProgress           = "progress"
	EventBlocked            = "blocked"
	EventCompleted          = "completed"
	EventReconciledDone     = "reconciled_done"
	EventReconciledOrphaned = "reconciled_orphaned"
	EventReconciledNotFound = "reconciled_not_found"
)

// Ledger appends assignment lifecycle events to a SQLite database.
type Ledger struct {
	db *sql.DB
}

// Open creates (or opens) the ledger database at path, running the
// embedded schema against it.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline, matches single-process coordinator

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record appends one history row. Failures are non-fatal to the
// caller's primary operation — the ledger is a diagnostics aid, not
// part of the coordinator's correctness contract — so callers should
// log rather than fail the assignment flow on a Record error.
func (l *Ledger) Record(taskID, agentID, event, detail string) error {
	_, err := l.db.Exec(
		`INSERT INTO assignment_history (task_id, agent_id, event, detail, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		taskID, agentID, event, detail, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("ledger: record %s for task %s: %w", event, taskID, err)
	}
	return nil
}

// HistoryEntry is one row of the assignment_history table.
type HistoryEntry struct {
	TaskID     string
	AgentID    string
	Event      string
	Detail     string
	RecordedAt time.Time
}

// History returns the recorded events for a task, oldest first.
func (l *Ledger) History(taskID string) ([]HistoryEntry, error) {
	rows, err := l.db.Query(
		`SELECT task_id, agent_id, event, detail, recorded_at FROM assignment_history WHERE task_id = ? ORDER BY id ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: query history for %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var detail sql.NullString
		if err := rows.Scan(&e.TaskID, &e.AgentID, &e.Event, &detail, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan history row: %w", err)
		}
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}
