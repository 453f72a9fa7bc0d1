package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"dlqwatch/pkg/config"
	"dlqwatch/pkg/protocol"
	"dlqwatch/pkg/queue"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.PollInterval = config.Duration{Duration: 20 * time.Millisecond}
	cfg.SnapshotTimeout = config.Duration{Duration: time.Second}
	return cfg
}

func newTestMonitor(t *testing.T, cfg config.Config, src queue.Source, script string) *Monitor {
	t.Helper()
	st := newTestStore(t)
	hub := quietHub()
	m, err := New(context.Background(), cfg, st, src, hub)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	m.SetLogf(discardLogf)
	sup := NewSupervisor(st, scriptSpawner(script), hub, cfg.AgentTimeout.Duration, nil)
	sup.SetLogf(discardLogf)
	m.SetSupervisor(sup)
	return m
}

func TestMonitorBacklogTriggersInvestigation(t *testing.T) {
	src := queue.NewStaticSource(map[string]int{"orders-dlq": 7})
	m := newTestMonitor(t, testConfig(), src, `exit 0`)
	ctx := context.Background()

	m.pollOnce(ctx)
	m.supervisor.Wait()

	history, err := m.store.GetHistory(ctx, "orders-dlq", 0)
	if err != nil || len(history) != 1 {
		t.Fatalf("history %v, %v", history, err)
	}
	if history[0].Status != protocol.StatusCompleted {
		t.Errorf("status = %s", history[0].Status)
	}
	if history[0].PendingCountAtStart != 7 {
		t.Errorf("pending count = %d", history[0].PendingCountAtStart)
	}
}

func TestMonitorEmptyQueueDoesNothing(t *testing.T) {
	src := queue.NewStaticSource(map[string]int{"orders-dlq": 0})
	m := newTestMonitor(t, testConfig(), src, `exit 0`)
	ctx := context.Background()

	m.pollOnce(ctx)
	m.supervisor.Wait()

	if history, _ := m.store.GetHistory(ctx, "orders-dlq", 0); len(history) != 0 {
		t.Errorf("investigation started for empty queue: %+v", history)
	}
}

func TestMonitorCooldownBlocksSecondInvestigation(t *testing.T) {
	src := queue.NewStaticSource(map[string]int{"orders-dlq": 7})
	cfg := testConfig()
	cfg.RealertWindow = config.Duration{Duration: time.Nanosecond} // alerts never suppressed
	m := newTestMonitor(t, cfg, src, `exit 0`)
	ctx := context.Background()

	m.pollOnce(ctx)
	m.supervisor.Wait()
	m.pollOnce(ctx)
	m.supervisor.Wait()

	history, _ := m.store.GetHistory(ctx, "orders-dlq", 0)
	if len(history) != 1 {
		t.Errorf("cooldown should limit to one investigation, got %d", len(history))
	}
}

func TestMonitorDedupSuppressesAlerts(t *testing.T) {
	src := queue.NewStaticSource(map[string]int{"orders-dlq": 7})
	m := newTestMonitor(t, testConfig(), src, `sleep 0.5`)
	ctx := context.Background()

	// First poll alerts and launches; subsequent polls inside the window
	// must not even reach the gate.
	m.pollOnce(ctx)
	waitFor(t, func() bool { return m.gate.Holding("orders-dlq") }, 5*time.Second)

	var gateHits int
	m.logf = func(format string, args ...any) { gateHits++ }
	m.pollOnce(ctx)
	if gateHits != 0 {
		t.Error("suppressed alert still reached the gate")
	}
	m.supervisor.Wait()
}

func TestMonitorWatchListFiltersQueues(t *testing.T) {
	src := queue.NewStaticSource(map[string]int{"orders-dlq": 7, "payments-dlq": 5})
	cfg := testConfig()
	cfg.WatchedQueues = []string{"payments-dlq"}
	m := newTestMonitor(t, cfg, src, `exit 0`)
	ctx := context.Background()

	m.pollOnce(ctx)
	m.supervisor.Wait()

	if history, _ := m.store.GetHistory(ctx, "orders-dlq", 0); len(history) != 0 {
		t.Error("unwatched queue was investigated")
	}
	if history, _ := m.store.GetHistory(ctx, "payments-dlq", 0); len(history) != 1 {
		t.Error("watched queue was not investigated")
	}
}

func TestMonitorNonCriticalQueueIsReportOnly(t *testing.T) {
	src := queue.NewStaticSource(map[string]int{"orders-dlq": 7, "payments-dlq": 5})
	cfg := testConfig()
	cfg.CriticalQueues = []string{"payments-dlq"}
	m := newTestMonitor(t, cfg, src, `exit 0`)
	ctx := context.Background()

	m.pollOnce(ctx)
	m.supervisor.Wait()

	if history, _ := m.store.GetHistory(ctx, "orders-dlq", 0); len(history) != 0 {
		t.Errorf("report-only queue was auto-investigated: %+v", history)
	}
	if history, _ := m.store.GetHistory(ctx, "payments-dlq", 0); len(history) != 1 {
		t.Error("critical queue was not investigated")
	}

	// Report-only limits the poll loop, not the operator.
	if _, err := m.Investigate(ctx, "orders-dlq"); err != nil {
		t.Errorf("manual investigation of report-only queue: %v", err)
	}
	m.supervisor.Wait()
}

func TestMonitorEmptyCriticalListInvestigatesAll(t *testing.T) {
	src := queue.NewStaticSource(map[string]int{"orders-dlq": 7})
	m := newTestMonitor(t, testConfig(), src, `exit 0`)
	ctx := context.Background()

	m.pollOnce(ctx)
	m.supervisor.Wait()

	if history, _ := m.store.GetHistory(ctx, "orders-dlq", 0); len(history) != 1 {
		t.Error("queue not investigated with an empty critical list")
	}
}

func TestMonitorInvestigateOnDemand(t *testing.T) {
	src := queue.NewStaticSource(map[string]int{"orders-dlq": 3})
	m := newTestMonitor(t, testConfig(), src, `exit 0`)
	ctx := context.Background()

	inv, err := m.Investigate(ctx, "orders-dlq")
	if err != nil {
		t.Fatalf("investigate: %v", err)
	}
	if inv.PendingCountAtStart != 3 {
		t.Errorf("pending count = %d", inv.PendingCountAtStart)
	}
	m.supervisor.Wait()

	// A second request during cooldown is rejected with the typed error.
	_, err = m.Investigate(ctx, "orders-dlq")
	var cooldown *protocol.CooldownError
	if !errors.As(err, &cooldown) {
		t.Errorf("expected CooldownError, got %v", err)
	}
}

func TestMonitorInvestigateWhileRunning(t *testing.T) {
	src := queue.NewStaticSource(map[string]int{"orders-dlq": 3})
	m := newTestMonitor(t, testConfig(), src, `sleep 0.5`)
	ctx := context.Background()

	if _, err := m.Investigate(ctx, "orders-dlq"); err != nil {
		t.Fatalf("investigate: %v", err)
	}
	_, err := m.Investigate(ctx, "orders-dlq")
	if !errors.Is(err, protocol.ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	m.supervisor.Wait()
}

func TestMonitorRunStopsOnCancel(t *testing.T) {
	src := queue.NewStaticSource(map[string]int{})
	m := newTestMonitor(t, testConfig(), src, `exit 0`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop on cancel")
	}
}
