package monitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"dlqwatch/pkg/protocol"
	"dlqwatch/pkg/store"
)

// seedHandle approves an investigation and persists a handle for it, as if a
// previous monitor process had spawned an agent and then died.
func seedHandle(t *testing.T, g *Gate, st *store.Store, pid int, deadline time.Time) (*protocol.Investigation, protocol.AgentHandle) {
	t.Helper()
	ctx := context.Background()
	inv, err := g.TryApprove(ctx, alertFor("orders-dlq", 7))
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	h := protocol.AgentHandle{
		Token:           "tok-" + inv.ID,
		InvestigationID: inv.ID,
		QueueID:         inv.QueueID,
		PID:             pid,
		SpawnedAt:       time.Now(),
		Deadline:        deadline,
	}
	if err := st.PutHandle(ctx, &h); err != nil {
		t.Fatalf("put handle: %v", err)
	}
	return inv, h
}

func TestReconcileOrphanedDeadProcess(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	g, _ := NewGate(ctx, st, time.Hour)
	inv, _ := seedHandle(t, g, st, 4242, time.Now().Add(time.Hour))

	r := NewReconciler(st, g, quietHub(), nil, discardLogf)
	r.alive = func(int) bool { return false }

	if err := r.Run(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	final, _ := st.GetInvestigation(ctx, inv.ID)
	if final.Status != protocol.StatusFailed {
		t.Errorf("status = %s", final.Status)
	}
	if handles, _ := st.ListHandles(ctx); len(handles) != 0 {
		t.Errorf("handle not removed: %+v", handles)
	}
	if g.Holding("orders-dlq") {
		t.Error("run-slot not released")
	}
}

func TestReconcileReadoptsLiveProcessThatExits(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	g, _ := NewGate(ctx, st, time.Hour)
	inv, _ := seedHandle(t, g, st, 4242, time.Now().Add(time.Hour))

	r := NewReconciler(st, g, quietHub(), nil, discardLogf)
	r.alive = func(int) bool { return true }
	// The re-adopted process "exits" immediately.
	r.wait = func(context.Context, int, time.Duration) error { return nil }

	if err := r.Run(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	waitFor(t, func() bool {
		final, err := st.GetInvestigation(ctx, inv.ID)
		return err == nil && final.Status == protocol.StatusFailed
	}, 5*time.Second)

	if handles, _ := st.ListHandles(ctx); len(handles) != 0 {
		t.Errorf("handle not removed: %+v", handles)
	}
	waitFor(t, func() bool { return !g.Holding("orders-dlq") }, 5*time.Second)
}

func TestReconcileKillsReadoptedProcessAtDeadline(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	g, _ := NewGate(ctx, st, time.Hour)
	// Deadline already imminent: the liveness poll hits it right away.
	inv, _ := seedHandle(t, g, st, 4242, time.Now().Add(50*time.Millisecond))

	var killed atomic.Bool
	r := NewReconciler(st, g, quietHub(), nil, discardLogf)
	r.alive = func(int) bool { return true }
	r.wait = func(ctx context.Context, _ int, _ time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	}
	r.kill = func(int) error { killed.Store(true); return nil }

	if err := r.Run(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	waitFor(t, func() bool {
		final, err := st.GetInvestigation(ctx, inv.ID)
		return err == nil && final.Status == protocol.StatusTimeout
	}, 5*time.Second)

	if !killed.Load() {
		t.Error("re-adopted process was not killed at its deadline")
	}
}

func TestReconcileHandleForTerminalInvestigation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	g, _ := NewGate(ctx, st, time.Hour)
	inv, h := seedHandle(t, g, st, 4242, time.Now().Add(time.Hour))

	// Crash landed between the terminal transition and the handle delete.
	if _, err := st.ApplyTransition(ctx, inv.ID, terminalCompleted()); err != nil {
		t.Fatalf("complete: %v", err)
	}

	r := NewReconciler(st, g, quietHub(), nil, discardLogf)
	r.alive = func(int) bool { return false }

	if err := r.Run(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	final, _ := st.GetInvestigation(ctx, inv.ID)
	if final.Status != protocol.StatusCompleted {
		t.Errorf("terminal investigation was rewritten: %s", final.Status)
	}
	if handles, _ := st.ListHandles(ctx); len(handles) != 0 {
		t.Errorf("stale handle %s not removed", h.Token)
	}
}

func TestReconcileEmptyStoreIsNoop(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	g, _ := NewGate(ctx, st, time.Hour)
	r := NewReconciler(st, g, quietHub(), nil, discardLogf)
	if err := r.Run(ctx); err != nil {
		t.Errorf("reconcile on empty store: %v", err)
	}
}
