package store

import (
	"context"
	"fmt"
	"os"
	"time"
)

// MetricsSummary aggregates investigation outcomes over a window, for the
// status command and the dashboard header.
type MetricsSummary struct {
	Active      int
	Total       int // investigations started in the window
	Completed   int
	Failed      int
	TimedOut    int
	SuccessRate float64 // percent of finished investigations that completed
	AvgDuration float64 // seconds, over finished investigations
}

// Metrics computes a summary over investigations started since the given
// time. Active counts all non-terminal investigations regardless of window.
func (s *Store) Metrics(ctx context.Context, since time.Time) (*MetricsSummary, error) {
	var m MetricsSummary

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM investigations WHERE status NOT IN ('completed','failed','timeout')",
	).Scan(&m.Active)
	if err != nil {
		return nil, fmt.Errorf("count active: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'timeout' THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(duration_seconds), 0)
		 FROM investigations WHERE started_at >= ?`,
		formatTime(since),
	).Scan(&m.Total, &m.Completed, &m.Failed, &m.TimedOut, &m.AvgDuration)
	if err != nil {
		return nil, fmt.Errorf("aggregate investigations: %w", err)
	}

	finished := m.Completed + m.Failed + m.TimedOut
	if finished > 0 {
		m.SuccessRate = float64(m.Completed) / float64(finished) * 100
	}
	return &m, nil
}

// NewReader opens the runtime database in read-only mode with WAL so
// dashboards never block the monitor's writes. Returns an error if the
// database does not exist yet.
func NewReader(dbPath string) (*Store, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", dbPath)
	s, err := openDSN(dsn)
	if err != nil {
		return nil, err
	}
	return s, nil
}
