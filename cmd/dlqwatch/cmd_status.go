package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"dlqwatch/pkg/config"
	"dlqwatch/pkg/protocol"
	"dlqwatch/pkg/store"
)

var (
	styleHealthy  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleDegraded = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleBroken   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// colorize applies a style only when stdout is a terminal.
func colorize(style lipgloss.Style, s string) string {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return s
	}
	return style.Render(s)
}

func statusStyle(s protocol.Status) lipgloss.Style {
	switch s {
	case protocol.StatusCompleted:
		return styleHealthy
	case protocol.StatusFailed, protocol.StatusTimeout:
		return styleBroken
	default:
		return styleDegraded
	}
}

// newStatusCmd creates the "dlqwatch status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show monitor and investigation state",
		Long:  "Displays the monitor daemon status, active investigations, and a\nsummary of recent outcomes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			pidPath, err := config.PIDPath()
			if err != nil {
				return err
			}
			status, pid, err := DaemonStatus(pidPath)
			if err != nil {
				return err
			}
			switch status {
			case StatusRunning:
				fmt.Fprintf(out, "monitor: %s (PID %d)\n", colorize(styleHealthy, "running"), pid)
			case StatusStale:
				fmt.Fprintf(out, "monitor: %s (stale PID file, PID %d)\n", colorize(styleBroken, "dead"), pid)
			case StatusStopped:
				fmt.Fprintf(out, "monitor: %s\n", colorize(styleDegraded, "stopped"))
			}

			dbPath, err := config.DBPath()
			if err != nil {
				return err
			}
			reader, err := store.NewReader(dbPath)
			if err != nil {
				fmt.Fprintln(out, "no investigation history yet")
				return nil //nolint:nilerr // a missing database just means nothing has run
			}
			defer reader.Close()

			active, err := reader.GetActive(cmd.Context())
			if err != nil {
				return err
			}
			if len(active) == 0 {
				fmt.Fprintln(out, "no active investigations")
			} else {
				fmt.Fprintf(out, "\nactive investigations (%d):\n", len(active))
				for _, inv := range active {
					fmt.Fprintf(out, "  %s  %-30s %s %3d%%  started %s\n",
						inv.ID, inv.QueueID,
						colorize(statusStyle(inv.Status), fmt.Sprintf("%-15s", inv.Status)),
						inv.ProgressPercent,
						inv.StartedAt.Local().Format("15:04:05"))
				}
			}

			m, err := reader.Metrics(cmd.Context(), time.Now().Add(-24*time.Hour))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nlast 24h: %d started, %d completed, %d failed, %d timed out\n",
				m.Total, m.Completed, m.Failed, m.TimedOut)
			return nil
		},
	}
}
