// Package monitor is the orchestration core: it polls queue backlogs, raises
// deduplicated alerts, gates them into investigations, and supervises the
// external agents that run them. All durable state lives in the store; the
// in-memory pieces (dedup windows, run-slots) are rebuilt on startup.
package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"dlqwatch/pkg/agent"
	"dlqwatch/pkg/config"
	"dlqwatch/pkg/notify"
	"dlqwatch/pkg/protocol"
	"dlqwatch/pkg/queue"
	"dlqwatch/pkg/store"
)

// Monitor ties the pipeline together and runs the poll loop.
type Monitor struct {
	store      *store.Store
	source     queue.Source
	dedup      *Deduplicator
	gate       *Gate
	supervisor *Supervisor
	hub        *notify.Hub
	logf       func(format string, args ...any)

	// configPath, when set, is watched for changes and hot-reloaded.
	configPath string

	mu  sync.RWMutex
	cfg config.Config
}

// New assembles a Monitor from its parts, rebuilding gate state from the
// store.
func New(ctx context.Context, cfg config.Config, st *store.Store, src queue.Source, hub *notify.Hub) (*Monitor, error) {
	gate, err := NewGate(ctx, st, cfg.CooldownPeriod.Duration)
	if err != nil {
		return nil, fmt.Errorf("build gate: %w", err)
	}

	m := &Monitor{
		store:  st,
		source: src,
		dedup:  NewDeduplicator(cfg.RealertWindow.Duration),
		gate:   gate,
		hub:    hub,
		logf:   log.Printf,
		cfg:    cfg,
	}
	m.supervisor = NewSupervisor(st, agent.NewSpawner(cfg.AgentCommand, cfg.AgentWorkdir), hub,
		cfg.AgentTimeout.Duration, m.isCritical)
	return m, nil
}

// SetLogf replaces the logger; used by tests.
func (m *Monitor) SetLogf(f func(format string, args ...any)) {
	m.logf = f
	m.supervisor.SetLogf(f)
}

// SetSupervisor replaces the supervisor; used by tests to inject a stub
// spawner.
func (m *Monitor) SetSupervisor(s *Supervisor) { m.supervisor = s }

// WatchConfig enables hot-reloading of the config file at path.
func (m *Monitor) WatchConfig(path string) { m.configPath = path }

func (m *Monitor) isCritical(queueID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.IsCritical(queueID)
}

func (m *Monitor) snapshot() config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Run reconciles leftover state, then polls until the context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	rec := NewReconciler(m.store, m.gate, m.hub, m.isCritical, m.logf)
	if err := rec.Run(ctx); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}

	if m.configPath != "" {
		stop, err := m.watchConfigFile(ctx)
		if err != nil {
			m.logf("monitor: config watch disabled: %v", err)
		} else {
			defer stop()
		}
	}

	m.pollOnce(ctx)
	for {
		interval := m.snapshot().PollInterval.Duration
		select {
		case <-ctx.Done():
			m.supervisor.Wait()
			m.hub.Wait()
			return ctx.Err()
		case <-time.After(interval):
			m.pollOnce(ctx)
		}
	}
}

// watchConfigFile reloads the configuration when the file changes. Only the
// values the loop reads per cycle take effect; the cooldown period and agent
// timeout of in-flight work are not retroactively changed.
func (m *Monitor) watchConfigFile(ctx context.Context) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(m.configPath); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", m.configPath, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := config.LoadFile(m.configPath)
				if err != nil {
					m.logf("monitor: reload config: %v", err)
					continue
				}
				m.mu.Lock()
				m.cfg = cfg
				m.mu.Unlock()
				m.logf("monitor: config reloaded from %s", m.configPath)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logf("monitor: config watcher: %v", err)
			}
		}
	}()
	return func() { _ = watcher.Close() }, nil
}

// pollOnce runs one full polling cycle over every watched queue.
func (m *Monitor) pollOnce(ctx context.Context) {
	cfg := m.snapshot()

	names, err := m.source.ListQueues(ctx)
	if err != nil {
		m.logf("monitor: list queues: %v", err)
		return
	}

	for _, name := range names {
		if !cfg.Watches(name) {
			continue
		}
		snapCtx, cancel := context.WithTimeout(ctx, cfg.SnapshotTimeout.Duration)
		count, err := m.source.PendingCount(snapCtx, name)
		cancel()
		if err != nil {
			// One slow or broken queue must not stall the cycle.
			m.logf("monitor: snapshot %s: %v", name, err)
			continue
		}
		m.observe(ctx, protocol.QueueSnapshot{QueueID: name, PendingCount: count, ObservedAt: time.Now()})
	}
}

// observe feeds one snapshot through dedup and the gate, launching an
// investigation when both let it pass.
func (m *Monitor) observe(ctx context.Context, snap protocol.QueueSnapshot) {
	alert, ok := m.dedup.Observe(snap)
	if !ok {
		return
	}
	m.hub.Publish(notify.Alert(alert.QueueID, alert.PendingCount, m.isCritical(alert.QueueID)))

	cfg := m.snapshot()
	if !cfg.AutoInvestigates(alert.QueueID) {
		// Report-only queue: the alert stands, but dispatching an agent
		// takes a manual investigate request.
		m.logf("monitor: %s alerted, report-only queue", alert.QueueID)
		return
	}

	inv, err := m.gate.TryApprove(ctx, *alert)
	if err != nil {
		// Rejections are routine: the queue is either being worked on or
		// recently was.
		m.logf("monitor: %s not investigated: %v", alert.QueueID, err)
		return
	}

	m.hub.Publish(notify.Started(inv.QueueID, inv.ID, m.isCritical(inv.QueueID)))
	if err := m.supervisor.Launch(ctx, inv, func() { m.gate.Release(inv.QueueID) }); err != nil {
		m.logf("monitor: launch for %s: %v", inv.QueueID, err)
	}
}

// WaitForAgents blocks until every supervised agent has finished. Used by
// the foreground investigate command and on shutdown.
func (m *Monitor) WaitForAgents() { m.supervisor.Wait() }

// Investigate starts an investigation for a queue on demand. It reads the
// queue's current backlog and goes through the same gate as the poll loop:
// a held run-slot or an unexpired cooldown rejects the request.
func (m *Monitor) Investigate(ctx context.Context, queueID string) (*protocol.Investigation, error) {
	cfg := m.snapshot()

	snapCtx, cancel := context.WithTimeout(ctx, cfg.SnapshotTimeout.Duration)
	count, err := m.source.PendingCount(snapCtx, queueID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("read backlog for %s: %w", queueID, err)
	}

	inv, err := m.gate.TryApprove(ctx, protocol.Alert{
		QueueID:      queueID,
		PendingCount: count,
		RaisedAt:     time.Now(),
	})
	if err != nil {
		return nil, err
	}

	m.hub.Publish(notify.Started(inv.QueueID, inv.ID, m.isCritical(inv.QueueID)))
	if err := m.supervisor.Launch(ctx, inv, func() { m.gate.Release(inv.QueueID) }); err != nil {
		return nil, err
	}
	return inv, nil
}
