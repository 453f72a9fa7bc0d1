package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dlqwatch/pkg/config"
	"dlqwatch/pkg/store"
)

// newMetricsCmd creates the "dlqwatch metrics" subcommand.
func newMetricsCmd() *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Summarize investigation outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			m, err := reader.Metrics(cmd.Context(), time.Now().Add(-since))
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "window:       last %s\n", since)
			fmt.Fprintf(out, "active:       %d\n", m.Active)
			fmt.Fprintf(out, "started:      %d\n", m.Total)
			fmt.Fprintf(out, "completed:    %d\n", m.Completed)
			fmt.Fprintf(out, "failed:       %d\n", m.Failed)
			fmt.Fprintf(out, "timed out:    %d\n", m.TimedOut)
			fmt.Fprintf(out, "success rate: %.1f%%\n", m.SuccessRate)
			fmt.Fprintf(out, "avg duration: %.0fs\n", m.AvgDuration)
			return nil
		},
	}

	cmd.Flags().DurationVar(&since, "since", 7*24*time.Hour, "reporting window")
	return cmd
}
