package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dlqwatch/pkg/protocol"
	"dlqwatch/pkg/store"
)

// Gate decides whether an alert may become an investigation. It enforces two
// invariants per queue: at most one non-terminal investigation (the run-slot)
// and a minimum gap between starts (the cooldown). Approval is atomic: the
// investigation record, its first timeline event, and the cooldown stamp are
// committed in one transaction while the run-slot is held, so concurrent
// approval attempts for the same queue cannot both succeed.
type Gate struct {
	store    *store.Store
	cooldown time.Duration
	now      func() time.Time

	mu        sync.Mutex
	slots     map[string]bool      // queue -> run-slot held
	cooldowns map[string]time.Time // queue -> last approved start
}

// NewGate builds a Gate and rebuilds its in-memory view from the store:
// cooldown stamps from the cooldowns table, run-slots from non-terminal
// investigations.
func NewGate(ctx context.Context, st *store.Store, cooldown time.Duration) (*Gate, error) {
	g := &Gate{
		store:     st,
		cooldown:  cooldown,
		now:       time.Now,
		slots:     make(map[string]bool),
		cooldowns: make(map[string]time.Time),
	}

	records, err := st.ListCooldowns(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cooldowns: %w", err)
	}
	for _, rec := range records {
		g.cooldowns[rec.QueueID] = rec.LastStartedAt
	}

	active, err := st.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active investigations: %w", err)
	}
	for _, inv := range active {
		g.slots[inv.QueueID] = true
	}
	return g, nil
}

// SetNow replaces the clock; used by tests.
func (g *Gate) SetNow(now func() time.Time) { g.now = now }

// TryApprove attempts to turn an alert into an investigation. On success the
// caller owns the queue's run-slot and must call Release when the
// investigation reaches a terminal state. Rejections are typed:
// ErrAlreadyRunning when the slot is held, CooldownError when the queue's
// cooldown has not elapsed.
func (g *Gate) TryApprove(ctx context.Context, alert protocol.Alert) (*protocol.Investigation, error) {
	g.mu.Lock()

	if g.slots[alert.QueueID] {
		g.mu.Unlock()
		return nil, fmt.Errorf("approve %s: %w", alert.QueueID, protocol.ErrAlreadyRunning)
	}

	now := g.now()
	if last, ok := g.cooldowns[alert.QueueID]; ok {
		if elapsed := now.Sub(last); elapsed < g.cooldown {
			g.mu.Unlock()
			return nil, &protocol.CooldownError{QueueID: alert.QueueID, Remaining: g.cooldown - elapsed}
		}
	}

	// Reserve the slot and stamp the cooldown, then commit outside the lock:
	// a concurrent approval for the same queue fails fast on the reserved
	// slot, and a slow SQLite commit does not stall unrelated queues.
	g.slots[alert.QueueID] = true
	prev, hadPrev := g.cooldowns[alert.QueueID]
	g.cooldowns[alert.QueueID] = now
	g.mu.Unlock()

	inv := &protocol.Investigation{
		ID:                  protocol.NewInvestigationID(alert.QueueID, now),
		QueueID:             alert.QueueID,
		PendingCountAtStart: alert.PendingCount,
		Status:              protocol.StatusInitiated,
		StartedAt:           now,
	}

	if err := g.store.BeginInvestigation(ctx, inv); err != nil {
		g.mu.Lock()
		delete(g.slots, alert.QueueID)
		if hadPrev {
			g.cooldowns[alert.QueueID] = prev
		} else {
			delete(g.cooldowns, alert.QueueID)
		}
		g.mu.Unlock()
		return nil, fmt.Errorf("record investigation for %s: %w", alert.QueueID, err)
	}
	return inv, nil
}

// Release frees a queue's run-slot. The cooldown stamp is left in place:
// it marks the start, not the finish.
func (g *Gate) Release(queueID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.slots, queueID)
}

// Holding reports whether the queue's run-slot is currently held.
func (g *Gate) Holding(queueID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.slots[queueID]
}
