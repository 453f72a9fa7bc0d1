package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dlqwatch/pkg/config"
	"dlqwatch/pkg/monitor"
	"dlqwatch/pkg/notify"
	"dlqwatch/pkg/queue"
	"dlqwatch/pkg/store"
)

// newInvestigateCmd creates the "dlqwatch investigate" subcommand: a manual,
// foreground investigation. It goes through the same gate as the poll loop,
// so a queue under cooldown or already being investigated is rejected, not
// double-dispatched.
func newInvestigateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "investigate <queue>",
		Short: "Investigate a queue now",
		Long:  "Reads the queue's current backlog and launches an agent investigation\nin the foreground, subject to the normal cooldown and concurrency rules.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueID := args[0]
			out := cmd.OutOrStdout()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dbPath, err := config.DBPath()
			if err != nil {
				return err
			}
			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			src := queue.NewSQSSource(cfg.AWSProfile, cfg.AWSRegion, cfg.DLQPatterns)
			hub := notify.NewHub(&notify.Log{Logf: func(format string, a ...any) {
				fmt.Fprintf(out, format+"\n", a...)
			}})

			m, err := monitor.New(cmd.Context(), cfg, st, src, hub)
			if err != nil {
				return err
			}

			inv, err := m.Investigate(cmd.Context(), queueID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "investigation %s started for %s (%d pending)\n",
				inv.ID, inv.QueueID, inv.PendingCountAtStart)
			fmt.Fprintln(out, "waiting for the agent to finish...")

			m.WaitForAgents()
			hub.Wait()

			final, err := st.GetInvestigation(cmd.Context(), inv.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "investigation %s finished: %s\n", final.ID,
				colorize(statusStyle(final.Status), string(final.Status)))
			if final.RootCause != "" {
				fmt.Fprintf(out, "  cause: %s\n", final.RootCause)
			}
			if final.ProposedFix != "" {
				fmt.Fprintf(out, "  fix:   %s\n", final.ProposedFix)
			}
			if final.ExternalRef != "" {
				fmt.Fprintf(out, "  ref:   %s\n", final.ExternalRef)
			}
			return nil
		},
	}
	return cmd
}
