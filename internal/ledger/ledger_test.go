package ledger

import (
	"path/filepath"
	"testing"
)

func TestLedgerRecordAndHistory(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if err := l.Record("t1", "a1", EventClaimed, ""); err != nil {
		t.Fatalf("Record claimed: %v", err)
	}
	if err := l.Record("t1", "a1", EventCompleted, "done early"); err != nil {
		t.Fatalf("Record completed: %v", err)
	}

	history, err := l.History("t1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].Event != EventClaimed || history[1].Event != EventCompleted {
		t.Fatalf("unexpected event order: %+v", history)
	}
	if history[1].Detail != "done early" {
		t.Fatalf("expected detail to survive round trip, got %q", history[1].Detail)
	}
}

func TestLedgerHistoryEmptyForUnknownTask(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	history, err := l.History("missing")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no history, got %+v", history)
	}
}
