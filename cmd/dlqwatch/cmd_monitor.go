package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"dlqwatch/pkg/config"
	"dlqwatch/pkg/monitor"
	"dlqwatch/pkg/notify"
	"dlqwatch/pkg/queue"
	"dlqwatch/pkg/store"
)

// newMonitorCmd creates the "dlqwatch monitor" subcommand: the long-running
// polling daemon.
func newMonitorCmd() *cobra.Command {
	var logPath string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the DLQ monitor in the foreground",
		Long:  "Polls dead-letter queue backlogs, raises alerts, and dispatches agent\ninvestigations. Runs until SIGTERM or SIGINT.",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.Home()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(home, 0o755); err != nil {
				return fmt.Errorf("create home dir %s: %w", home, err)
			}

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
				return fmt.Errorf("monitor already running (PID %d)", pid)
			case StatusStale:
				fmt.Fprintln(cmd.OutOrStdout(), "removing stale PID file")
				if err := RemovePIDFile(pidPath); err != nil {
					return err
				}
			case StatusStopped:
			}

			if logPath == "" {
				logPath = filepath.Join(home, "dlqwatch.log")
			}
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // path from config
			if err != nil {
				return fmt.Errorf("open log file %s: %w", logPath, err)
			}
			defer logFile.Close()
			log.SetOutput(logFile)
			log.SetFlags(log.LstdFlags | log.Lmicroseconds)

			m, st, err := buildMonitor(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			if err := WritePIDFile(pidPath, os.Getpid()); err != nil {
				return err
			}
			ctx, cleanup := SetupSignalHandler(cmd.Context(), pidPath)
			defer cleanup()

			fmt.Fprintf(cmd.OutOrStdout(), "monitor running (PID %d), logging to %s\n", os.Getpid(), logPath)
			log.Printf("monitor started (PID %d)", os.Getpid())

			err = m.Run(ctx)
			if errors.Is(err, context.Canceled) {
				log.Printf("monitor stopped")
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&logPath, "log", "", "log file path (default: <home>/dlqwatch.log)")
	return cmd
}

// buildMonitor assembles the monitor from configuration: store, queue
// source, notification hub.
func buildMonitor(ctx context.Context) (*monitor.Monitor, *store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	dbPath, err := config.DBPath()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}

	src := queue.NewSQSSource(cfg.AWSProfile, cfg.AWSRegion, cfg.DLQPatterns)

	notifiers := []notify.Notifier{&notify.Log{Logf: log.Printf}}
	if cfg.NotifyDesktop {
		notifiers = append(notifiers, notify.NewDesktop())
	}
	if cfg.NotifySpeech {
		notifiers = append(notifiers, notify.NewSpeech(cfg.Voice))
	}

	m, err := monitor.New(ctx, cfg, st, src, notify.NewHub(notifiers...))
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	if path, err := config.ConfigPath(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			m.WatchConfig(path)
		}
	}
	return m, st, nil
}
