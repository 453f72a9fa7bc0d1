package monitor

import (
	"testing"
	"time"

	"dlqwatch/pkg/protocol"
)

func snap(queueID string, pending int) protocol.QueueSnapshot {
	return protocol.QueueSnapshot{QueueID: queueID, PendingCount: pending, ObservedAt: time.Now()}
}

func TestDedupEmitsFirstAlert(t *testing.T) {
	d := NewDeduplicator(5 * time.Minute)
	alert, ok := d.Observe(snap("orders-dlq", 7))
	if !ok {
		t.Fatal("expected alert on first backlog observation")
	}
	if alert.QueueID != "orders-dlq" || alert.PendingCount != 7 {
		t.Errorf("unexpected alert %+v", alert)
	}
}

func TestDedupSuppressesWithinWindow(t *testing.T) {
	now := time.Now()
	d := NewDeduplicator(5 * time.Minute)
	d.SetNow(func() time.Time { return now })

	if _, ok := d.Observe(snap("orders-dlq", 7)); !ok {
		t.Fatal("first observation should alert")
	}

	now = now.Add(4 * time.Minute)
	if _, ok := d.Observe(snap("orders-dlq", 9)); ok {
		t.Error("observation inside the window should be suppressed")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := d.Observe(snap("orders-dlq", 9)); !ok {
		t.Error("observation after the window should alert again")
	}
}

func TestDedupWindowDoesNotSlide(t *testing.T) {
	now := time.Now()
	d := NewDeduplicator(5 * time.Minute)
	d.SetNow(func() time.Time { return now })

	d.Observe(snap("orders-dlq", 1))
	// Repeated suppressed observations must not push the window forward.
	for i := 0; i < 4; i++ {
		now = now.Add(time.Minute)
		if _, ok := d.Observe(snap("orders-dlq", 1)); ok {
			t.Fatalf("alert at +%dm should be suppressed", i+1)
		}
	}
	now = now.Add(90 * time.Second)
	if _, ok := d.Observe(snap("orders-dlq", 1)); !ok {
		t.Error("expected alert once the original window elapsed")
	}
}

func TestDedupZeroBacklogClearsWindow(t *testing.T) {
	now := time.Now()
	d := NewDeduplicator(5 * time.Minute)
	d.SetNow(func() time.Time { return now })

	d.Observe(snap("orders-dlq", 7))
	now = now.Add(time.Minute)
	if _, ok := d.Observe(snap("orders-dlq", 0)); ok {
		t.Error("zero backlog must not alert")
	}
	// A fresh backlog after a drain alerts immediately.
	now = now.Add(time.Second)
	if _, ok := d.Observe(snap("orders-dlq", 3)); !ok {
		t.Error("fresh backlog after drain should alert immediately")
	}
}

func TestDedupTracksQueuesIndependently(t *testing.T) {
	d := NewDeduplicator(5 * time.Minute)
	d.Observe(snap("orders-dlq", 1))
	if _, ok := d.Observe(snap("payments-dlq", 1)); !ok {
		t.Error("a different queue should alert independently")
	}
}
