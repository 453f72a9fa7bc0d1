package monitor

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"dlqwatch/pkg/agent"
	"dlqwatch/pkg/notify"
	"dlqwatch/pkg/protocol"
	"dlqwatch/pkg/store"
)

func terminalCompleted() store.Transition {
	return store.Transition{
		To:        protocol.StatusCompleted,
		EventType: protocol.EventCompleted,
		Title:     "Investigation completed",
	}
}

func waitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("waitFor: condition not met within %v", timeout)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "dlqwatch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// scriptSpawner returns a Spawner that runs a shell script in place of the
// agent binary.
func scriptSpawner(script string) *agent.Spawner {
	s := agent.NewSpawner("claude", "")
	s.SetCmdFactory(func(ctx context.Context, _ agent.Invocation) *exec.Cmd {
		return exec.CommandContext(ctx, "/bin/sh", "-c", script)
	})
	return s
}

func quietHub() *notify.Hub {
	h := notify.NewHub()
	h.SetLogf(func(string, ...any) {})
	return h
}

func discardLogf(string, ...any) {}
