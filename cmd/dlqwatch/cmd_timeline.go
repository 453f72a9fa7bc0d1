package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dlqwatch/pkg/config"
	"dlqwatch/pkg/store"
)

// newTimelineCmd creates the "dlqwatch timeline" subcommand.
func newTimelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "timeline <investigation-id>",
		Short: "Show the full event timeline of an investigation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			invID := args[0]
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

			inv, err := reader.GetInvestigation(cmd.Context(), invID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s  queue=%s  status=%s\n\n", inv.ID, inv.QueueID,
				colorize(statusStyle(inv.Status), string(inv.Status)))

			events, err := reader.Timeline(cmd.Context(), invID)
			if err != nil {
				return err
			}
			for _, ev := range events {
				fmt.Fprintf(out, "%s  %-14s %s\n",
					ev.OccurredAt.Local().Format("15:04:05"), ev.Type, ev.Title)
				if ev.Description != "" {
					fmt.Fprintf(out, "%19s%s\n", "", ev.Description)
				}
			}
			return nil
		},
	}
}
