package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"dlqwatch/pkg/protocol"
	"dlqwatch/pkg/store"
)

func seedDB(t *testing.T) (string, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "dlqwatch.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return dbPath, st
}

func seedActive(t *testing.T, st *store.Store, queueID string) *protocol.Investigation {
	t.Helper()
	now := time.Now()
	inv := &protocol.Investigation{
		ID:                  protocol.NewInvestigationID(queueID, now),
		QueueID:             queueID,
		PendingCountAtStart: 4,
		Status:              protocol.StatusInitiated,
		StartedAt:           now,
	}
	if err := st.BeginInvestigation(context.Background(), inv); err != nil {
		t.Fatalf("begin: %v", err)
	}
	return inv
}

func TestFetchSnapshot(t *testing.T) {
	dbPath, st := seedDB(t)
	inv := seedActive(t, st, "orders-dlq")

	snap, err := fetchSnapshot(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(snap.Active) != 1 || snap.Active[0].ID != inv.ID {
		t.Errorf("active %+v", snap.Active)
	}
	if snap.Metrics == nil || snap.Metrics.Active != 1 {
		t.Errorf("metrics %+v", snap.Metrics)
	}
}

func TestFetchSnapshotMissingDB(t *testing.T) {
	if _, err := fetchSnapshot(context.Background(), filepath.Join(t.TempDir(), "absent.db")); err == nil {
		t.Error("expected error for missing database")
	}
}

func TestModelShowsLoadingThenData(t *testing.T) {
	dbPath, st := seedDB(t)
	inv := seedActive(t, st, "orders-dlq")

	m := newModel()
	m.dbPath = dbPath

	if !strings.Contains(m.View(), "loading") {
		t.Error("initial view should show loading state")
	}

	snap, err := fetchSnapshot(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	updated, _ := m.Update(snapshotMsg{snapshot: snap})
	view := updated.View()
	if !strings.Contains(view, inv.ID) || !strings.Contains(view, "orders-dlq") {
		t.Errorf("view missing investigation: %s", view)
	}
}

func TestModelShowsErrorWhenDBMissing(t *testing.T) {
	m := newModel()
	updated, _ := m.Update(snapshotMsg{err: context.DeadlineExceeded})
	if !strings.Contains(updated.View(), "no runtime database") {
		t.Errorf("view missing error state: %s", updated.View())
	}
}

func TestModelQuitsOnQ(t *testing.T) {
	m := newModel()
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.Quit")
	}
}

func TestInvestigationRows(t *testing.T) {
	now := time.Now()
	rows := investigationRows([]*protocol.Investigation{{
		ID: "inv_x", QueueID: "orders-dlq", Status: protocol.StatusAnalyzing,
		ProgressPercent: 25, StartedAt: now,
	}})
	if len(rows) != 1 {
		t.Fatalf("rows %v", rows)
	}
	if rows[0][2] != "analyzing" || rows[0][3] != "25%" {
		t.Errorf("row %v", rows[0])
	}
}
