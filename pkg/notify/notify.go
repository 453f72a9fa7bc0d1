// Package notify fans investigation lifecycle events out to side channels:
// desktop notifications, spoken announcements, and the log. Delivery is
// fire-and-forget; a broken or slow notifier never blocks the monitor loop
// and never fails an investigation.
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Kind classifies a notification.
type Kind string

// Notification kinds, in lifecycle order.
const (
	KindAlert     Kind = "alert"
	KindStarted   Kind = "investigation_started"
	KindCompleted Kind = "investigation_completed"
	KindFailed    Kind = "investigation_failed"
	KindTimedOut  Kind = "investigation_timed_out"
)

// Notification is one event pushed to the configured notifiers.
type Notification struct {
	Kind            Kind
	QueueID         string
	InvestigationID string
	Title           string
	Message         string
	// Critical marks queues the operator flagged for louder delivery
	// (spoken announcements in addition to desktop banners).
	Critical bool
}

// Notifier delivers a single notification to one channel.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Hub fans notifications out to its notifiers. Each delivery runs in its own
// goroutine with a bounded deadline, so Publish returns immediately.
type Hub struct {
	notifiers []Notifier
	timeout   time.Duration
	logf      func(format string, args ...any)

	wg sync.WaitGroup
}

// NewHub creates a Hub over the given notifiers.
func NewHub(notifiers ...Notifier) *Hub {
	return &Hub{
		notifiers: notifiers,
		timeout:   10 * time.Second,
		logf:      log.Printf,
	}
}

// SetLogf replaces the delivery-failure logger; used by tests.
func (h *Hub) SetLogf(f func(format string, args ...any)) { h.logf = f }

// Publish delivers the notification to every notifier asynchronously.
// Failures and panics are logged and swallowed.
func (h *Hub) Publish(n Notification) {
	for _, nt := range h.notifiers {
		h.wg.Add(1)
		go func(nt Notifier) {
			defer h.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					h.logf("notify: %T panicked delivering %s: %v", nt, n.Kind, r)
				}
			}()
			ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
			defer cancel()
			if err := nt.Send(ctx, n); err != nil {
				h.logf("notify: %T failed delivering %s for %s: %v", nt, n.Kind, n.QueueID, err)
			}
		}(nt)
	}
}

// Wait blocks until all in-flight deliveries have finished. Used on shutdown
// and in tests; the monitor loop never calls it.
func (h *Hub) Wait() { h.wg.Wait() }

// Alert builds the notification for a fresh backlog alert.
func Alert(queueID string, pending int, critical bool) Notification {
	return Notification{
		Kind:     KindAlert,
		QueueID:  queueID,
		Title:    fmt.Sprintf("DLQ alert: %s", queueID),
		Message:  fmt.Sprintf("%d messages pending on %s", pending, queueID),
		Critical: critical,
	}
}

// Started builds the notification for an approved investigation launch.
func Started(queueID, invID string, critical bool) Notification {
	return Notification{
		Kind:            KindStarted,
		QueueID:         queueID,
		InvestigationID: invID,
		Title:           fmt.Sprintf("Investigating %s", queueID),
		Message:         fmt.Sprintf("Investigation %s started", invID),
		Critical:        critical,
	}
}

// Finished builds the notification for a terminal investigation outcome.
func Finished(queueID, invID string, kind Kind, detail string, critical bool) Notification {
	title := fmt.Sprintf("Investigation finished: %s", queueID)
	switch kind {
	case KindFailed:
		title = fmt.Sprintf("Investigation failed: %s", queueID)
	case KindTimedOut:
		title = fmt.Sprintf("Investigation timed out: %s", queueID)
	}
	return Notification{
		Kind:            kind,
		QueueID:         queueID,
		InvestigationID: invID,
		Title:           title,
		Message:         detail,
		Critical:        critical,
	}
}
