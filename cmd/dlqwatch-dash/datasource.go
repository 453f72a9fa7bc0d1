package main

import (
	"context"
	"time"

	"dlqwatch/pkg/config"
	"dlqwatch/pkg/protocol"
	"dlqwatch/pkg/store"
)

// Snapshot is one read of the runtime database for rendering.
type Snapshot struct {
	Active  []*protocol.Investigation
	Metrics *store.MetricsSummary
}

// fetchSnapshot opens the database read-only and loads everything the
// dashboard renders. A fresh reader per refresh keeps the dashboard from
// holding the database open while the monitor writes.
func fetchSnapshot(ctx context.Context, dbPath string) (*Snapshot, error) {
	reader, err := store.NewReader(dbPath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	active, err := reader.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	metrics, err := reader.Metrics(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	return &Snapshot{Active: active, Metrics: metrics}, nil
}

// defaultDBPath resolves the runtime database location.
func defaultDBPath() string {
	path, err := config.DBPath()
	if err != nil {
		return ""
	}
	return path
}
