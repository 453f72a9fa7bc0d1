package monitor

import (
	"sync"
	"time"

	"dlqwatch/pkg/protocol"
)

// Deduplicator suppresses repeat alerts for a queue whose backlog condition
// has already been announced within the re-alert window. The last-alert time
// is stamped only when an alert is actually emitted, so suppression windows
// do not slide forward on every poll.
type Deduplicator struct {
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	lastAlert map[string]time.Time
}

// NewDeduplicator creates a Deduplicator with the given re-alert window.
func NewDeduplicator(window time.Duration) *Deduplicator {
	return &Deduplicator{
		window:    window,
		now:       time.Now,
		lastAlert: make(map[string]time.Time),
	}
}

// SetNow replaces the clock; used by tests.
func (d *Deduplicator) SetNow(now func() time.Time) { d.now = now }

// Observe considers one queue snapshot. It returns an Alert and true when the
// queue has backlog and is outside its suppression window; a zero backlog
// clears the queue's window so a fresh backlog alerts immediately.
func (d *Deduplicator) Observe(snap protocol.QueueSnapshot) (*protocol.Alert, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if snap.PendingCount <= 0 {
		delete(d.lastAlert, snap.QueueID)
		return nil, false
	}

	now := d.now()
	if last, ok := d.lastAlert[snap.QueueID]; ok && now.Sub(last) < d.window {
		return nil, false
	}

	d.lastAlert[snap.QueueID] = now
	return &protocol.Alert{
		QueueID:      snap.QueueID,
		PendingCount: snap.PendingCount,
		RaisedAt:     now,
	}, true
}
