// Package protocol defines the shared data model of the dlqwatch runtime:
// queue snapshots, alerts, investigations, timeline events, agent handles,
// the investigation status graph, and the SQLite schema that persists them.
package protocol

import (
	"fmt"
	"strings"
	"time"
)

// QueueSnapshot is one observation of a watched queue's backlog.
// Snapshots are produced every poll cycle and never persisted.
type QueueSnapshot struct {
	QueueID      string    `json:"queue_id"`
	PendingCount int       `json:"pending_count"`
	ObservedAt   time.Time `json:"observed_at"`
}

// Alert is raised when a queue has backlog and is outside its re-alert
// suppression window. Alerts are consumed immediately by the gate; the
// investigation record is the durable trace of an alert that led anywhere.
type Alert struct {
	QueueID      string    `json:"queue_id"`
	PendingCount int       `json:"pending_count"`
	RaisedAt     time.Time `json:"raised_at"`
}

// Status is the lifecycle state of an investigation.
type Status string

// Investigation status constants. The success path is
// initiated → analyzing → debugging → reviewing → awaiting_review → completed.
// Failed and timeout are terminal and reachable from any non-terminal state.
const (
	StatusInitiated      Status = "initiated"
	StatusAnalyzing      Status = "analyzing"
	StatusDebugging      Status = "debugging"
	StatusReviewing      Status = "reviewing"
	StatusAwaitingReview Status = "awaiting_review"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusTimeout        Status = "timeout"
)

// rank orders the success-path states. Terminal failure states carry no rank.
var rank = map[Status]int{
	StatusInitiated:      0,
	StatusAnalyzing:      1,
	StatusDebugging:      2,
	StatusReviewing:      3,
	StatusAwaitingReview: 4,
	StatusCompleted:      5,
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusInitiated, StatusAnalyzing, StatusDebugging, StatusReviewing,
		StatusAwaitingReview, StatusCompleted, StatusFailed, StatusTimeout:
		return true
	default:
		return false
	}
}

// Terminal reports whether s permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimeout
}

// CanTransition reports whether moving from one status to another is legal.
// Forward skips along the success path are allowed (an agent may finish
// without ever reporting intermediate progress); terminal failure states are
// reachable from any non-terminal state; nothing leaves a terminal state.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if to == StatusFailed || to == StatusTimeout {
		return true
	}
	if to == StatusInitiated {
		return false // entry state only
	}
	return rank[to] > rank[from]
}

// DefaultProgress returns the progress percentage conventionally reported
// at each status when the agent does not supply its own figure.
func DefaultProgress(s Status) int {
	switch s {
	case StatusInitiated:
		return 0
	case StatusAnalyzing:
		return 25
	case StatusDebugging:
		return 50
	case StatusReviewing:
		return 75
	case StatusAwaitingReview:
		return 90
	case StatusCompleted, StatusFailed, StatusTimeout:
		return 100
	default:
		return 0
	}
}

// Investigation is one end-to-end attempt by an external reasoning agent to
// diagnose a queue's backlog. At most one non-terminal investigation may
// exist per queue at any time; terminal investigations are kept for audit.
type Investigation struct {
	ID                  string     `json:"id"`
	QueueID             string     `json:"queue_id"`
	PendingCountAtStart int        `json:"pending_count_at_start"`
	Status              Status     `json:"status"`
	ProgressPercent     int        `json:"progress_percent"`
	RootCause           string     `json:"root_cause,omitempty"`
	ProposedFix         string     `json:"proposed_fix,omitempty"`
	ExternalRef         string     `json:"external_ref,omitempty"` // e.g. a PR URL; opaque
	StartedAt           time.Time  `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	DurationSeconds     float64    `json:"duration_seconds,omitempty"`
}

// Active reports whether the investigation is still in a non-terminal state.
func (inv *Investigation) Active() bool { return !inv.Status.Terminal() }

// NewInvestigationID derives an investigation ID from the queue identity and
// start time: inv_20060102_150405_<queue>. The queue component is truncated
// so IDs stay readable in logs and CLI output.
func NewInvestigationID(queueID string, startedAt time.Time) string {
	q := queueID
	if len(q) > 20 {
		q = q[:20]
	}
	q = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, q)
	return fmt.Sprintf("inv_%s_%s", startedAt.UTC().Format("20060102_150405"), q)
}

// TimelineEvent is one append-only entry in an investigation's audit trail.
type TimelineEvent struct {
	ID              int64     `json:"id"`
	InvestigationID string    `json:"investigation_id"`
	Type            string    `json:"event_type"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
}

// Timeline event type constants. EventDetected is always first;
// EventCompleted, EventFailed or EventTimeout is always last.
const (
	EventDetected    = "detected"
	EventAnalyzing   = "analyzing"
	EventFoundCause  = "found_cause"
	EventProposedFix = "proposed_fix"
	EventPRCreated   = "pr_created"
	EventCompleted   = "completed"
	EventFailed      = "failed"
	EventTimeout     = "timeout"
)

// AgentHandle tracks a live external agent process. A handle exists only
// while its investigation is non-terminal and must be removed on every exit
// path, including supervisor restart recovery.
type AgentHandle struct {
	Token           string    `json:"token"` // uuid, unique per spawn
	InvestigationID string    `json:"investigation_id"`
	QueueID         string    `json:"queue_id"`
	PID             int       `json:"pid"`
	SpawnedAt       time.Time `json:"spawned_at"`
	Deadline        time.Time `json:"deadline"`
}

// CooldownRecord holds the last approved investigation start per queue.
// It is updated when an investigation is approved, never when it finishes,
// so elapsed-time comparisons are monotonic regardless of duration.
type CooldownRecord struct {
	QueueID       string    `json:"queue_id"`
	LastStartedAt time.Time `json:"last_started_at"`
}
