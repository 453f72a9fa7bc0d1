package monitor

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"dlqwatch/pkg/agent"
	"dlqwatch/pkg/notify"
	"dlqwatch/pkg/protocol"
	"dlqwatch/pkg/store"
)

// Reconciler cleans up after a previous monitor process. Agent handles left
// in the store belong to investigations whose supervisor died: if the agent
// process is gone too, the investigation is failed as orphaned; if it is
// still running, it is re-adopted by PID liveness polling, since the stdout
// pipe died with the old supervisor.
type Reconciler struct {
	store    *store.Store
	gate     *Gate
	hub      *notify.Hub
	critical func(queueID string) bool
	logf     func(format string, args ...any)

	alive func(pid int) bool
	kill  func(pid int) error
	wait  func(ctx context.Context, pid int, interval time.Duration) error
}

// NewReconciler creates a Reconciler over the store and gate.
func NewReconciler(st *store.Store, gate *Gate, hub *notify.Hub, critical func(string) bool, logf func(string, ...any)) *Reconciler {
	if critical == nil {
		critical = func(string) bool { return false }
	}
	return &Reconciler{
		store:    st,
		gate:     gate,
		hub:      hub,
		critical: critical,
		logf:     logf,
		alive:    agent.IsProcessAlive,
		kill:     killProcessGroup,
		wait:     agent.WaitForDeath,
	}
}

// killProcessGroup terminates a process group by PID, falling back to the
// single process when the group is already gone.
func killProcessGroup(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		return syscall.Kill(pid, syscall.SIGKILL)
	}
	return nil
}

// Run examines every persisted agent handle and resolves it. Dead processes
// are failed immediately; live ones are re-adopted in the background, bound
// by their original deadline. Run returns once dead handles are resolved.
func (r *Reconciler) Run(ctx context.Context) error {
	handles, err := r.store.ListHandles(ctx)
	if err != nil {
		return fmt.Errorf("list agent handles: %w", err)
	}

	for _, h := range handles {
		if r.alive(h.PID) {
			r.logf("monitor: re-adopting agent pid %d for %s (deadline %s)", h.PID, h.InvestigationID, h.Deadline.Format(time.RFC3339))
			go r.readopt(h)
			continue
		}
		r.logf("monitor: agent pid %d for %s is gone, marking orphaned", h.PID, h.InvestigationID)
		r.resolve(ctx, h, notify.KindFailed, store.Transition{
			To:          protocol.StatusFailed,
			EventType:   protocol.EventFailed,
			Title:       "Orphaned investigation",
			Description: fmt.Sprintf("agent process %d was not running after monitor restart", h.PID),
		})
	}
	return nil
}

// readopt supervises a surviving agent by liveness polling. Its structured
// output is unrecoverable, so the outcome is either timeout (killed at the
// original deadline) or failed (exited, but with an unobservable status).
func (r *Reconciler) readopt(h protocol.AgentHandle) {
	ctx, cancel := context.WithDeadline(context.Background(), h.Deadline)
	defer cancel()

	err := r.wait(ctx, h.PID, 2*time.Second)
	switch {
	case err == nil:
		r.resolve(context.Background(), h, notify.KindFailed, store.Transition{
			To:          protocol.StatusFailed,
			EventType:   protocol.EventFailed,
			Title:       "Agent finished unsupervised",
			Description: fmt.Sprintf("agent process %d exited after monitor restart; exit status unobserved", h.PID),
		})
	case errors.Is(err, context.DeadlineExceeded):
		if killErr := r.kill(h.PID); killErr != nil {
			r.logf("monitor: kill re-adopted agent pid %d: %v", h.PID, killErr)
		}
		r.resolve(context.Background(), h, notify.KindTimedOut, store.Transition{
			To:          protocol.StatusTimeout,
			EventType:   protocol.EventTimeout,
			Title:       "Investigation timed out",
			Description: fmt.Sprintf("re-adopted agent process %d killed at original deadline", h.PID),
		})
	default:
		r.logf("monitor: liveness poll for pid %d: %v", h.PID, err)
	}
}

// resolve applies a terminal transition for a reconciled handle and cleans
// up the handle and run-slot. A handle whose investigation is already
// terminal (crash between transition and handle delete) is cleaned up
// silently.
func (r *Reconciler) resolve(ctx context.Context, h protocol.AgentHandle, kind notify.Kind, tr store.Transition) {
	_, err := r.store.ApplyTransition(ctx, h.InvestigationID, tr)
	var invalid *protocol.InvalidTransitionError
	switch {
	case errors.As(err, &invalid):
		r.logf("monitor: %s already terminal, cleaning up handle only", h.InvestigationID)
	case err != nil:
		r.logf("monitor: resolve %s: %v", h.InvestigationID, err)
	default:
		r.hub.Publish(notify.Finished(h.QueueID, h.InvestigationID, kind, tr.Title, r.critical(h.QueueID)))
	}

	if err := r.store.DeleteHandle(ctx, h.Token); err != nil {
		r.logf("monitor: delete handle %s: %v", h.Token, err)
	}
	r.gate.Release(h.QueueID)
}
