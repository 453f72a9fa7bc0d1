// Package agent spawns and supervises the external reasoning-agent process
// for one investigation. The agent binary is a black box: this package hands
// it the queue identity and an opaque context payload, streams back any
// structured progress lines it emits, and reports the exit outcome. It never
// interprets what the agent actually did.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"dlqwatch/pkg/protocol"
)

// Invocation carries everything the external agent is told about an
// investigation. Context is an opaque payload appended to the prompt.
type Invocation struct {
	InvestigationID string
	QueueID         string
	PendingCount    int
	Context         string
}

// ExitResult is the classified outcome of an agent process.
type ExitResult struct {
	Code       int
	StdoutTail string
	StderrTail string
}

// Process is a running external agent.
type Process interface {
	// PID returns the operating-system process ID, for handle persistence
	// and restart reconciliation.
	PID() int
	// Events streams structured progress lines from the agent's stdout.
	// The channel is closed when the agent's stdout reaches EOF.
	Events() <-chan protocol.ProgressEvent
	// Done yields exactly one ExitResult when the process has been reaped,
	// then is closed.
	Done() <-chan ExitResult
	// Kill terminates the agent's entire process group.
	Kill() error
}

// Spawner starts agent processes. The production implementation execs the
// claude CLI; tests substitute a command factory.
type Spawner struct {
	// Command is the agent binary (default "claude").
	Command string
	// Workdir is the working directory for spawned agents (default: process cwd).
	Workdir string

	// cmdFactory builds the exec.Cmd for an invocation. Tests override this
	// to spawn a controllable subprocess.
	cmdFactory func(ctx context.Context, inv Invocation) *exec.Cmd
}

// NewSpawner creates a Spawner that runs `claude -p <prompt>`.
func NewSpawner(command, workdir string) *Spawner {
	if command == "" {
		command = "claude"
	}
	s := &Spawner{Command: command, Workdir: workdir}
	s.cmdFactory = func(ctx context.Context, inv Invocation) *exec.Cmd {
		//nolint:gosec // intentionally spawning the configured agent binary
		cmd := exec.CommandContext(ctx, s.Command, "-p", BuildPrompt(inv))
		cmd.Dir = s.Workdir
		return cmd
	}
	return s
}

// SetCmdFactory replaces the command factory; used by tests.
func (s *Spawner) SetCmdFactory(f func(ctx context.Context, inv Invocation) *exec.Cmd) {
	s.cmdFactory = f
}

// Spawn starts the agent for an invocation. The agent gets its own process
// group so Kill terminates the whole tree (agent plus any descendants).
func (s *Spawner) Spawn(ctx context.Context, inv Invocation) (Process, error) {
	cmd := s.cmdFactory(ctx, inv)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn agent for %s: %w", inv.QueueID, err)
	}

	p := &agentProcess{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		events: make(chan protocol.ProgressEvent, 16),
		done:   make(chan ExitResult, 1),
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer close(p.events)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			p.stdoutTail.write(line + "\n")
			if ev, ok := protocol.ParseProgressLine(line); ok {
				p.events <- *ev
			}
		}
	}()

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			p.stderrTail.write(scanner.Text() + "\n")
		}
	}()

	// Reap the process once both pipes are drained, then publish the result.
	go func() {
		wg.Wait()
		err := cmd.Wait()
		code := 0
		if err != nil {
			code = -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			}
		}
		p.done <- ExitResult{
			Code:       code,
			StdoutTail: p.stdoutTail.String(),
			StderrTail: p.stderrTail.String(),
		}
		close(p.done)
	}()

	return p, nil
}

// agentProcess wraps exec.Cmd to implement Process.
type agentProcess struct {
	cmd        *exec.Cmd
	pid        int
	events     chan protocol.ProgressEvent
	done       chan ExitResult
	stdoutTail tailBuffer
	stderrTail tailBuffer
	killOnce   sync.Once
}

func (p *agentProcess) PID() int                              { return p.pid }
func (p *agentProcess) Events() <-chan protocol.ProgressEvent { return p.events }
func (p *agentProcess) Done() <-chan ExitResult               { return p.done }

// Kill sends SIGKILL to the agent's process group (negative PID) so that
// descendant processes are terminated with it.
func (p *agentProcess) Kill() error {
	var err error
	p.killOnce.Do(func() {
		if killErr := syscall.Kill(-p.pid, syscall.SIGKILL); killErr != nil {
			// Process group already gone; fall back to the single process.
			err = p.cmd.Process.Kill()
		}
	})
	return err
}

// tailBuffer keeps the last maxTail bytes written, so diagnostics from a
// chatty agent stay bounded.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

const maxTail = 4096

func (t *tailBuffer) write(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, s...)
	if len(t.buf) > maxTail {
		t.buf = t.buf[len(t.buf)-maxTail:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// IsProcessAlive checks whether a process with the given PID is running.
// On Unix, sending signal 0 checks for existence without actually signaling.
// Startup reconciliation uses this to classify leftover agent handles.
func IsProcessAlive(pid int) bool {
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

// WaitForDeath polls a PID until it disappears or the context expires.
// Used when re-adopting an agent that survived a supervisor restart: the
// pipes are gone, so liveness polling is all that remains.
func WaitForDeath(ctx context.Context, pid int, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if !IsProcessAlive(pid) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
