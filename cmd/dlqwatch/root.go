package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dlqwatch/internal/version"
)

// newRootCmd creates the root dlqwatch command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dlqwatch",
		Short:         "Dead-letter queue investigation orchestrator",
		Long:          "dlqwatch watches dead-letter queue backlogs and dispatches an external\nreasoning agent to investigate them, recording every step durably.",
		Version:       fmt.Sprintf("dlqwatch %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newMonitorCmd(),
		newStopCmd(),
		newStatusCmd(),
		newInvestigateCmd(),
		newHistoryCmd(),
		newTimelineCmd(),
		newMetricsCmd(),
		newDashCmd(),
	)

	return cmd
}
