package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dlqwatch/pkg/config"
	"dlqwatch/pkg/store"
)

// newHistoryCmd creates the "dlqwatch history" subcommand.
func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <queue>",
		Short: "Show investigation history for a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueID := args[0]
			out := cmd.OutOrStdout()

			dbPath, err := config.DBPath()
			if err != nil {
				return err
			}
			reader, err := store.NewReader(dbPath)
			if err != nil {
				return fmt.Errorf("open history database: %w", err)
			}
			defer reader.Close()

			history, err := reader.GetHistory(cmd.Context(), queueID, limit)
			if err != nil {
				return err
			}
			if len(history) == 0 {
				fmt.Fprintf(out, "no investigations recorded for %s\n", queueID)
				return nil
			}

			for _, inv := range history {
				line := fmt.Sprintf("%s  %s %3d%%  %d pending at start",
					inv.ID,
					colorize(statusStyle(inv.Status), fmt.Sprintf("%-15s", inv.Status)),
					inv.ProgressPercent, inv.PendingCountAtStart)
				if inv.CompletedAt != nil {
					line += fmt.Sprintf("  took %.0fs", inv.DurationSeconds)
				}
				fmt.Fprintln(out, line)
				if inv.RootCause != "" {
					fmt.Fprintf(out, "    cause: %s\n", inv.RootCause)
				}
				if inv.ExternalRef != "" {
					fmt.Fprintf(out, "    ref:   %s\n", inv.ExternalRef)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum investigations to show (0 = all)")
	return cmd
}
