// Package store persists dlqwatch runtime state in SQLite: investigations,
// their append-only timelines, per-queue cooldowns, and live agent handles.
// Every transition is committed before the caller proceeds, so the
// supervisor can recover the last known state after a crash.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dlqwatch/pkg/protocol"

	_ "modernc.org/sqlite" // SQLite driver
)

// Store is the single writer for the dlqwatch runtime database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the runtime database at path with production-safe
// defaults: WAL journal mode and a 5-second busy timeout. The schema is
// initialized idempotently.
func Open(path string) (*Store, error) {
	s, err := openDSN(path)
	if err != nil {
		return nil, err
	}
	db := s.db

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, protocol.SchemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

// openDSN opens a connection and verifies it is usable.
func openDSN(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", dsn, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection. Safe to call multiple times.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying connection for white-box tests.
func (s *Store) DB() *sql.DB { return s.db }

// timeFormat pads the fractional second to nine digits so stored UTC
// timestamps are fixed-width and ORDER BY on the text column sorts
// chronologically. RFC3339Nano trims trailing zeros, which breaks that.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) (time.Time, error) {
	// RFC3339Nano parsing accepts padded, trimmed, and absent fractions,
	// so rows written before the padded format still load.
	return time.Parse(time.RFC3339Nano, s)
}

// BeginInvestigation durably records a newly approved investigation: the
// investigation row, its initial "detected" timeline event, and the queue's
// cooldown record, all in one transaction. The gate calls this while holding
// the queue's run-slot so the at-most-one-per-queue invariant holds even
// under concurrent poll cycles.
func (s *Store) BeginInvestigation(ctx context.Context, inv *protocol.Investigation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO investigations (id, queue_id, pending_count_at_start, status, progress_percent, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.QueueID, inv.PendingCountAtStart, string(inv.Status), inv.ProgressPercent, formatTime(inv.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert investigation %s: %w", inv.ID, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO timeline_events (investigation_id, event_type, title, description, occurred_at)
		 VALUES (?, ?, ?, ?, ?)`,
		inv.ID, protocol.EventDetected,
		fmt.Sprintf("Backlog detected on %s", inv.QueueID),
		fmt.Sprintf("%d messages pending", inv.PendingCountAtStart),
		formatTime(inv.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert detected event for %s: %w", inv.ID, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cooldowns (queue_id, last_started_at) VALUES (?, ?)
		 ON CONFLICT(queue_id) DO UPDATE SET last_started_at = excluded.last_started_at`,
		inv.QueueID, formatTime(inv.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert cooldown for %s: %w", inv.QueueID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit investigation %s: %w", inv.ID, err)
	}
	return nil
}

// Transition describes one state-machine step to apply to an investigation.
// Zero-valued report fields leave the persisted fields untouched.
type Transition struct {
	To          protocol.Status
	EventType   string
	Title       string
	Description string
	Progress    int // 0 means "use the status default"
	RootCause   string
	ProposedFix string
	ExternalRef string
	At          time.Time // zero means time.Now()
}

// ApplyTransition atomically moves an investigation to a new status,
// updates its reported fields, and appends the corresponding timeline
// event. On a terminal transition it also stamps completed_at and computes
// duration_seconds. Illegal transitions return InvalidTransitionError and
// leave the record untouched.
func (s *Store) ApplyTransition(ctx context.Context, invID string, tr Transition) (*protocol.Investigation, error) {
	at := tr.At
	if at.IsZero() {
		at = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inv, err := scanInvestigation(tx.QueryRowContext(ctx, selectInvestigation+" WHERE id = ?", invID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &protocol.InvestigationNotFoundError{InvestigationID: invID}
	}
	if err != nil {
		return nil, fmt.Errorf("load investigation %s: %w", invID, err)
	}

	if !protocol.CanTransition(inv.Status, tr.To) {
		return nil, &protocol.InvalidTransitionError{InvestigationID: invID, From: inv.Status, To: tr.To}
	}

	inv.Status = tr.To
	inv.ProgressPercent = tr.Progress
	if inv.ProgressPercent == 0 {
		inv.ProgressPercent = protocol.DefaultProgress(tr.To)
	}
	if tr.RootCause != "" {
		inv.RootCause = tr.RootCause
	}
	if tr.ProposedFix != "" {
		inv.ProposedFix = tr.ProposedFix
	}
	if tr.ExternalRef != "" {
		inv.ExternalRef = tr.ExternalRef
	}

	var completedAt sql.NullString
	var duration sql.NullFloat64
	if tr.To.Terminal() {
		done := at
		inv.CompletedAt = &done
		inv.DurationSeconds = done.Sub(inv.StartedAt).Seconds()
		completedAt = sql.NullString{String: formatTime(done), Valid: true}
		duration = sql.NullFloat64{Float64: inv.DurationSeconds, Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE investigations SET status = ?, progress_percent = ?, root_cause = ?, proposed_fix = ?,
		 external_ref = ?, completed_at = COALESCE(?, completed_at), duration_seconds = COALESCE(?, duration_seconds)
		 WHERE id = ?`,
		string(inv.Status), inv.ProgressPercent,
		nullable(inv.RootCause), nullable(inv.ProposedFix), nullable(inv.ExternalRef),
		completedAt, duration, invID,
	)
	if err != nil {
		return nil, fmt.Errorf("update investigation %s: %w", invID, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO timeline_events (investigation_id, event_type, title, description, occurred_at, duration_seconds)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		invID, tr.EventType, tr.Title, nullable(tr.Description), formatTime(at), duration,
	)
	if err != nil {
		return nil, fmt.Errorf("append timeline event for %s: %w", invID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition for %s: %w", invID, err)
	}
	return inv, nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

const selectInvestigation = `SELECT id, queue_id, pending_count_at_start, status, progress_percent,
	root_cause, proposed_fix, external_ref, started_at, completed_at, duration_seconds
	FROM investigations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvestigation(row rowScanner) (*protocol.Investigation, error) {
	var (
		inv         protocol.Investigation
		status      string
		rootCause   sql.NullString
		proposedFix sql.NullString
		externalRef sql.NullString
		startedAt   string
		completedAt sql.NullString
		duration    sql.NullFloat64
	)
	err := row.Scan(&inv.ID, &inv.QueueID, &inv.PendingCountAtStart, &status, &inv.ProgressPercent,
		&rootCause, &proposedFix, &externalRef, &startedAt, &completedAt, &duration)
	if err != nil {
		return nil, err
	}
	inv.Status = protocol.Status(status)
	inv.RootCause = rootCause.String
	inv.ProposedFix = proposedFix.String
	inv.ExternalRef = externalRef.String
	if inv.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if completedAt.Valid {
		done, err := parseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		inv.CompletedAt = &done
	}
	inv.DurationSeconds = duration.Float64
	return &inv, nil
}

// GetInvestigation returns a single investigation by ID.
func (s *Store) GetInvestigation(ctx context.Context, id string) (*protocol.Investigation, error) {
	inv, err := scanInvestigation(s.db.QueryRowContext(ctx, selectInvestigation+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &protocol.InvestigationNotFoundError{InvestigationID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get investigation %s: %w", id, err)
	}
	return inv, nil
}

// GetActive returns all non-terminal investigations, newest first.
func (s *Store) GetActive(ctx context.Context) ([]*protocol.Investigation, error) {
	return s.queryInvestigations(ctx,
		selectInvestigation+" WHERE status NOT IN ('completed','failed','timeout') ORDER BY started_at DESC")
}

// GetHistory returns investigations for a queue, newest first. limit <= 0
// means no limit.
func (s *Store) GetHistory(ctx context.Context, queueID string, limit int) ([]*protocol.Investigation, error) {
	q := selectInvestigation + " WHERE queue_id = ? ORDER BY started_at DESC"
	args := []any{queueID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryInvestigations(ctx, q, args...)
}

func (s *Store) queryInvestigations(ctx context.Context, query string, args ...any) ([]*protocol.Investigation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query investigations: %w", err)
	}
	defer rows.Close()

	var out []*protocol.Investigation
	for rows.Next() {
		inv, err := scanInvestigation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan investigation: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate investigations: %w", err)
	}
	return out, nil
}

// Timeline returns an investigation's events ordered by occurrence.
func (s *Store) Timeline(ctx context.Context, invID string) ([]protocol.TimelineEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, investigation_id, event_type, title, description, occurred_at, duration_seconds
		 FROM timeline_events WHERE investigation_id = ? ORDER BY occurred_at ASC, id ASC`, invID)
	if err != nil {
		return nil, fmt.Errorf("query timeline for %s: %w", invID, err)
	}
	defer rows.Close()

	var out []protocol.TimelineEvent
	for rows.Next() {
		var (
			ev         protocol.TimelineEvent
			desc       sql.NullString
			occurredAt string
			duration   sql.NullFloat64
		)
		if err := rows.Scan(&ev.ID, &ev.InvestigationID, &ev.Type, &ev.Title, &desc, &occurredAt, &duration); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		ev.Description = desc.String
		ev.DurationSeconds = duration.Float64
		if ev.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, fmt.Errorf("parse occurred_at: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline: %w", err)
	}
	return out, nil
}

// ListCooldowns loads every cooldown record; the gate uses this to rebuild
// its in-memory view at startup.
func (s *Store) ListCooldowns(ctx context.Context) ([]protocol.CooldownRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT queue_id, last_started_at FROM cooldowns")
	if err != nil {
		return nil, fmt.Errorf("query cooldowns: %w", err)
	}
	defer rows.Close()

	var out []protocol.CooldownRecord
	for rows.Next() {
		var rec protocol.CooldownRecord
		var at string
		if err := rows.Scan(&rec.QueueID, &at); err != nil {
			return nil, fmt.Errorf("scan cooldown: %w", err)
		}
		if rec.LastStartedAt, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("parse last_started_at: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cooldowns: %w", err)
	}
	return out, nil
}

// PutHandle records a live agent process. The queue_id UNIQUE constraint is
// a second line of defense for the one-investigation-per-queue invariant.
func (s *Store) PutHandle(ctx context.Context, h *protocol.AgentHandle) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_handles (token, investigation_id, queue_id, pid, spawned_at, deadline)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		h.Token, h.InvestigationID, h.QueueID, h.PID, formatTime(h.SpawnedAt), formatTime(h.Deadline),
	)
	if err != nil {
		return fmt.Errorf("put agent handle for %s: %w", h.InvestigationID, err)
	}
	return nil
}

// DeleteHandle removes a handle. Idempotent: deleting an absent token is not
// an error, so every exit path can call it unconditionally.
func (s *Store) DeleteHandle(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM agent_handles WHERE token = ?", token); err != nil {
		return fmt.Errorf("delete agent handle %s: %w", token, err)
	}
	return nil
}

// ListHandles returns all persisted agent handles. Startup reconciliation
// uses this to find processes left over from a previous run.
func (s *Store) ListHandles(ctx context.Context) ([]protocol.AgentHandle, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT token, investigation_id, queue_id, pid, spawned_at, deadline FROM agent_handles")
	if err != nil {
		return nil, fmt.Errorf("query agent handles: %w", err)
	}
	defer rows.Close()

	var out []protocol.AgentHandle
	for rows.Next() {
		var h protocol.AgentHandle
		var spawnedAt, deadline string
		if err := rows.Scan(&h.Token, &h.InvestigationID, &h.QueueID, &h.PID, &spawnedAt, &deadline); err != nil {
			return nil, fmt.Errorf("scan agent handle: %w", err)
		}
		if h.SpawnedAt, err = parseTime(spawnedAt); err != nil {
			return nil, fmt.Errorf("parse spawned_at: %w", err)
		}
		if h.Deadline, err = parseTime(deadline); err != nil {
			return nil, fmt.Errorf("parse deadline: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent handles: %w", err)
	}
	return out, nil
}
