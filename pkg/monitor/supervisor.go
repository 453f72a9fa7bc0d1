package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dlqwatch/pkg/agent"
	"dlqwatch/pkg/notify"
	"dlqwatch/pkg/protocol"
	"dlqwatch/pkg/store"
)

// Supervisor owns the lifetime of external agent processes. For each approved
// investigation it spawns the agent, persists a handle for crash recovery,
// drives the investigation's state machine from the agent's progress stream,
// enforces the wall-clock timeout, and classifies the exit. Every exit path
// removes the handle and releases the queue's run-slot.
type Supervisor struct {
	store    *store.Store
	spawner  *agent.Spawner
	hub      *notify.Hub
	timeout  time.Duration
	critical func(queueID string) bool
	logf     func(format string, args ...any)

	wg sync.WaitGroup
}

// NewSupervisor creates a Supervisor. critical flags queues for loud
// notifications; nil means none are critical.
func NewSupervisor(st *store.Store, sp *agent.Spawner, hub *notify.Hub, timeout time.Duration, critical func(string) bool) *Supervisor {
	if critical == nil {
		critical = func(string) bool { return false }
	}
	return &Supervisor{
		store:    st,
		spawner:  sp,
		hub:      hub,
		timeout:  timeout,
		critical: critical,
		logf:     log.Printf,
	}
}

// SetLogf replaces the logger; used by tests.
func (s *Supervisor) SetLogf(f func(format string, args ...any)) { s.logf = f }

// Launch starts the agent for an approved investigation and supervises it in
// the background. release must free the queue's run-slot; it is called
// exactly once, on every exit path. Launch itself returns once the process
// is spawned and its handle persisted.
func (s *Supervisor) Launch(ctx context.Context, inv *protocol.Investigation, release func()) error {
	// Work on a private copy: the supervising goroutine keeps updating it
	// while the caller may still be reading the struct it passed in. Callers
	// wanting the final state re-read the store.
	tracked := *inv
	inv = &tracked

	proc, err := s.spawner.Spawn(ctx, agent.Invocation{
		InvestigationID: inv.ID,
		QueueID:         inv.QueueID,
		PendingCount:    inv.PendingCountAtStart,
	})
	if err != nil {
		s.finish(inv, notify.KindFailed, store.Transition{
			To:          protocol.StatusFailed,
			EventType:   protocol.EventFailed,
			Title:       "Agent failed to start",
			Description: err.Error(),
		})
		release()
		return fmt.Errorf("launch agent for %s: %w", inv.ID, err)
	}

	now := time.Now()
	handle := &protocol.AgentHandle{
		Token:           uuid.NewString(),
		InvestigationID: inv.ID,
		QueueID:         inv.QueueID,
		PID:             proc.PID(),
		SpawnedAt:       now,
		Deadline:        now.Add(s.timeout),
	}
	if err := s.store.PutHandle(ctx, handle); err != nil {
		// Without a durable handle a crash would orphan the process
		// invisibly, so kill it rather than run untracked.
		_ = proc.Kill()
		go drain(proc)
		s.finish(inv, notify.KindFailed, store.Transition{
			To:          protocol.StatusFailed,
			EventType:   protocol.EventFailed,
			Title:       "Agent handle could not be persisted",
			Description: err.Error(),
		})
		release()
		return fmt.Errorf("persist handle for %s: %w", inv.ID, err)
	}

	s.wg.Add(1)
	go s.supervise(inv, proc, handle, release)
	return nil
}

// Wait blocks until all supervised agents have finished. Used on shutdown
// and in tests.
func (s *Supervisor) Wait() { s.wg.Wait() }

// supervise runs until the agent exits or times out. It must keep draining
// the progress stream on every path, including after a kill: the stdout
// scanner blocks on a full channel and the process would never be reaped.
func (s *Supervisor) supervise(inv *protocol.Investigation, proc agent.Process, handle *protocol.AgentHandle, release func()) {
	defer s.wg.Done()
	defer release()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.store.DeleteHandle(ctx, handle.Token); err != nil {
			s.logf("monitor: delete handle for %s: %v", inv.ID, err)
		}
	}()

	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()

	// When the agent reports nothing structured, progress is inferred from
	// elapsed time so the dashboard still moves.
	fallback := time.NewTicker(s.timeout / 4)
	defer fallback.Stop()

	spawnedAt := handle.SpawnedAt
	sawProgress := false
	timedOut := false
	events := proc.Events()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			sawProgress = true
			s.applyProgress(inv, ev)

		case <-fallback.C:
			if sawProgress || timedOut {
				continue
			}
			s.applyElapsedFallback(inv, time.Since(spawnedAt))

		case <-deadline.C:
			timedOut = true
			if err := proc.Kill(); err != nil {
				s.logf("monitor: kill timed-out agent for %s: %v", inv.ID, err)
			}
			// Keep looping: the exit result still arrives on Done.

		case res := <-proc.Done():
			if events != nil {
				for ev := range events {
					s.applyProgress(inv, ev)
				}
			}
			s.classify(inv, res, timedOut)
			return
		}
	}
}

// applyProgress drives the state machine from one structured progress event.
// Events that do not advance the status (stale, repeated, unknown) are logged
// and dropped; the persisted record is never moved backwards.
func (s *Supervisor) applyProgress(inv *protocol.Investigation, ev protocol.ProgressEvent) {
	status, ok := protocol.StatusForEvent(ev.Event)
	if !ok {
		s.logf("monitor: %s: ignoring unknown progress event %q", inv.ID, ev.Event)
		return
	}

	title := ev.Title
	if title == "" {
		title = ev.Event
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	updated, err := s.store.ApplyTransition(ctx, inv.ID, store.Transition{
		To:          status,
		EventType:   ev.Event,
		Title:       title,
		Description: ev.Description,
		Progress:    ev.Progress,
		RootCause:   ev.RootCause,
		ProposedFix: ev.ProposedFix,
		ExternalRef: ev.ExternalRef,
	})
	var invalid *protocol.InvalidTransitionError
	if errors.As(err, &invalid) {
		s.logf("monitor: %s: dropping stale progress event %q (%s)", inv.ID, ev.Event, invalid)
		return
	}
	if err != nil {
		s.logf("monitor: %s: apply progress %q: %v", inv.ID, ev.Event, err)
		return
	}
	*inv = *updated
}

// applyElapsedFallback advances a silent investigation by elapsed fraction of
// the timeout: a quarter in, it is presumed analyzing; half, debugging;
// three quarters, reviewing.
func (s *Supervisor) applyElapsedFallback(inv *protocol.Investigation, elapsed time.Duration) {
	fraction := float64(elapsed) / float64(s.timeout)
	var status protocol.Status
	switch {
	case fraction >= 0.75:
		status = protocol.StatusReviewing
	case fraction >= 0.5:
		status = protocol.StatusDebugging
	case fraction >= 0.25:
		status = protocol.StatusAnalyzing
	default:
		return
	}
	if !protocol.CanTransition(inv.Status, status) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	updated, err := s.store.ApplyTransition(ctx, inv.ID, store.Transition{
		To:        status,
		EventType: string(status),
		Title:     fmt.Sprintf("Presumed %s after %s", status, elapsed.Round(time.Second)),
	})
	if err != nil {
		s.logf("monitor: %s: elapsed fallback to %s: %v", inv.ID, status, err)
		return
	}
	*inv = *updated
}

// classify records the terminal outcome of an agent process.
func (s *Supervisor) classify(inv *protocol.Investigation, res agent.ExitResult, timedOut bool) {
	switch {
	case timedOut:
		s.finish(inv, notify.KindTimedOut, store.Transition{
			To:          protocol.StatusTimeout,
			EventType:   protocol.EventTimeout,
			Title:       fmt.Sprintf("Investigation timed out after %s", s.timeout),
			Description: tail(res.StdoutTail),
		})
	case res.Code == 0:
		s.finish(inv, notify.KindCompleted, store.Transition{
			To:        protocol.StatusCompleted,
			EventType: protocol.EventCompleted,
			Title:     "Investigation completed",
		})
	default:
		s.finish(inv, notify.KindFailed, store.Transition{
			To:          protocol.StatusFailed,
			EventType:   protocol.EventFailed,
			Title:       fmt.Sprintf("Agent exited with status %d", res.Code),
			Description: tail(res.StderrTail),
		})
	}
}

// finish applies a terminal transition and publishes the outcome.
func (s *Supervisor) finish(inv *protocol.Investigation, kind notify.Kind, tr store.Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	updated, err := s.store.ApplyTransition(ctx, inv.ID, tr)
	if err != nil {
		s.logf("monitor: %s: record terminal state %s: %v", inv.ID, tr.To, err)
	} else {
		*inv = *updated
	}
	s.hub.Publish(notify.Finished(inv.QueueID, inv.ID, kind, tr.Title, s.critical(inv.QueueID)))
}

// drain consumes a process's streams so its pipe readers can finish.
func drain(proc agent.Process) {
	for range proc.Events() {
	}
	<-proc.Done()
}

// tail trims captured output for timeline descriptions.
func tail(s string) string {
	s = strings.TrimSpace(s)
	const max = 1024
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}
