// Package queue abstracts the queue backend behind a narrow snapshot
// interface: list the watched dead-letter queues and read their approximate
// backlog. The orchestrator never inspects queue payloads.
package queue

import (
	"context"
	"strings"
)

// Source provides on-demand backlog snapshots for watched queues.
type Source interface {
	// ListQueues returns the identifiers of all watched dead-letter queues.
	ListQueues(ctx context.Context) ([]string, error)
	// PendingCount returns the approximate number of pending items on one
	// queue. A failed read is skipped for the cycle, never fatal.
	PendingCount(ctx context.Context, queueID string) (int, error)
}

// DefaultDLQPatterns are the name fragments that identify a dead-letter
// queue when no explicit watch list is configured.
var DefaultDLQPatterns = []string{"-dlq", "-dead-letter", "-deadletter", "_dlq", "-dl"}

// IsDLQ reports whether a queue name matches any of the given patterns.
// An empty pattern list falls back to DefaultDLQPatterns.
func IsDLQ(name string, patterns []string) bool {
	if len(patterns) == 0 {
		patterns = DefaultDLQPatterns
	}
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
