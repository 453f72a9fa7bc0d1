package agent

import (
	"fmt"
	"strings"

	"dlqwatch/pkg/protocol"
)

// BuildPrompt renders the investigation brief handed to the reasoning agent.
// It asks for structured progress lines so the orchestrator can track the
// investigation without scraping free-text output; an agent that ignores the
// request is still classified by exit code.
func BuildPrompt(inv Invocation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Investigate the dead-letter queue %q (%d messages pending).\n\n", inv.QueueID, inv.PendingCount)
	b.WriteString("Analyze the failed messages, identify the root cause, and propose a fix.\n")
	b.WriteString("If a code change is warranted, open a pull request and report its URL.\n\n")

	b.WriteString("Report progress as single lines on stdout in this exact form:\n")
	fmt.Fprintf(&b, "  %s{\"event\":\"analyzing\",\"title\":\"...\"}\n", protocol.ProgressPrefix)
	fmt.Fprintf(&b, "  %s{\"event\":\"found_cause\",\"title\":\"...\",\"root_cause\":\"...\"}\n", protocol.ProgressPrefix)
	fmt.Fprintf(&b, "  %s{\"event\":\"proposed_fix\",\"title\":\"...\",\"proposed_fix\":\"...\"}\n", protocol.ProgressPrefix)
	fmt.Fprintf(&b, "  %s{\"event\":\"pr_created\",\"title\":\"...\",\"external_ref\":\"<PR URL>\"}\n", protocol.ProgressPrefix)
	b.WriteString("Exit 0 when the investigation succeeded, non-zero otherwise.\n")

	if inv.Context != "" {
		b.WriteString("\nAdditional context:\n")
		b.WriteString(inv.Context)
		b.WriteString("\n")
	}
	return b.String()
}
