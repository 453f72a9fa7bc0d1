package protocol

import (
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyRunning is returned by the gate when a queue already has a
// non-terminal investigation holding its run-slot.
var ErrAlreadyRunning = errors.New("investigation already running for queue")

// CooldownError rejects an approval request made before the queue's cooldown
// period has elapsed. It enables typed discrimination via errors.As and
// carries the remaining wait so callers can report it.
type CooldownError struct {
	QueueID   string
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("queue %s in cooldown: %s remaining", e.QueueID, e.Remaining.Round(time.Second))
}

// InvalidTransitionError reports an illegal state-machine transition request.
// These are integration errors: logged at high severity, rejected, and never
// applied to the persisted investigation.
type InvalidTransitionError struct {
	InvestigationID string
	From            Status
	To              Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s → %s", e.InvestigationID, e.From, e.To)
}

// InvestigationNotFoundError reports a lookup for an unknown investigation.
type InvestigationNotFoundError struct {
	InvestigationID string
}

func (e *InvestigationNotFoundError) Error() string {
	return fmt.Sprintf("investigation %s not found", e.InvestigationID)
}
