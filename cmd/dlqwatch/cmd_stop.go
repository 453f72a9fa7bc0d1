package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dlqwatch/pkg/config"
)

// newStopCmd creates the "dlqwatch stop" subcommand.
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running monitor",
		Long:  "Sends SIGTERM to the monitor daemon. In-flight agent processes are\nre-adopted or cleaned up on the next monitor start.",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath, err := config.PIDPath()
			if err != nil {
				return err
			}

			status, pid, err := DaemonStatus(pidPath)
			if err != nil {
				return err
			}

			switch status {
			case StatusStopped:
				fmt.Fprintln(cmd.OutOrStdout(), "monitor is not running")
				return nil
			case StatusStale:
				fmt.Fprintln(cmd.OutOrStdout(), "removing stale PID file (process already dead)")
				return RemovePIDFile(pidPath)
			case StatusRunning:
				fmt.Fprintf(cmd.OutOrStdout(), "sending SIGTERM to monitor (PID %d)\n", pid)
				if err := StopDaemon(pidPath); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "stop signal sent")
				return nil
			}

			return nil
		},
	}
}
