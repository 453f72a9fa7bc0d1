package protocol

import (
	"encoding/json"
	"strings"
)

// ProgressEvent is one structured progress line emitted by the external
// reasoning agent on stdout, in the form:
//
//	[DLQW] {"event":"found_cause","title":"...","description":"...","progress":50}
//
// The orchestrator consumes these directly instead of scraping free-text log
// output. Agents that emit nothing are still classified by exit code.
type ProgressEvent struct {
	Event       string `json:"event"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Progress    int    `json:"progress,omitempty"`
	RootCause   string `json:"root_cause,omitempty"`
	ProposedFix string `json:"proposed_fix,omitempty"`
	ExternalRef string `json:"external_ref,omitempty"` // e.g. PR URL
}

// ProgressPrefix marks a structured progress line on the agent's stdout.
const ProgressPrefix = "[DLQW] "

// ParseProgressLine parses a single stdout line. It returns the event and
// true when the line carries the progress prefix and valid JSON; everything
// else is ordinary agent output and is ignored.
func ParseProgressLine(line string) (*ProgressEvent, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, ProgressPrefix) {
		return nil, false
	}
	payload := strings.TrimPrefix(trimmed, ProgressPrefix)
	var ev ProgressEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, false
	}
	if ev.Event == "" {
		return nil, false
	}
	return &ev, true
}

// StatusForEvent maps a progress event type onto the investigation status it
// drives. Unknown event types return ("", false) and update reported fields
// only, without a status transition.
func StatusForEvent(event string) (Status, bool) {
	switch event {
	case EventAnalyzing:
		return StatusAnalyzing, true
	case EventFoundCause:
		return StatusDebugging, true
	case EventProposedFix:
		return StatusReviewing, true
	case EventPRCreated:
		return StatusAwaitingReview, true
	default:
		return "", false
	}
}
