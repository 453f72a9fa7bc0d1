package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// runner executes an external command; tests substitute a recorder.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Desktop posts banners through macOS osascript.
type Desktop struct {
	run runner
}

// NewDesktop creates the osascript-backed desktop notifier.
func NewDesktop() *Desktop { return &Desktop{run: execRunner} }

// SetRunner replaces the command runner; used by tests.
func (d *Desktop) SetRunner(r runner) { d.run = r }

// Send posts a desktop banner with the default sound.
func (d *Desktop) Send(ctx context.Context, n Notification) error {
	script := fmt.Sprintf(
		`display notification %q with title %q sound name "default"`,
		escapeAppleScript(n.Message), escapeAppleScript(n.Title),
	)
	if out, err := d.run(ctx, "osascript", "-e", script); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// Speech announces critical notifications aloud via the macOS say command.
// Non-critical notifications are dropped silently.
type Speech struct {
	Voice string
	run   runner
}

// NewSpeech creates the say-backed speech notifier.
func NewSpeech(voice string) *Speech { return &Speech{Voice: voice, run: execRunner} }

// SetRunner replaces the command runner; used by tests.
func (s *Speech) SetRunner(r runner) { s.run = r }

// Send speaks the notification title for critical queues.
func (s *Speech) Send(ctx context.Context, n Notification) error {
	if !n.Critical {
		return nil
	}
	args := []string{}
	if s.Voice != "" {
		args = append(args, "-v", s.Voice)
	}
	args = append(args, n.Title)
	if out, err := s.run(ctx, "say", args...); err != nil {
		return fmt.Errorf("say: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Log writes every notification to the process log. It is always configured,
// so a headless deployment still records what would have been announced.
type Log struct {
	Logf func(format string, args ...any)
}

// Send logs the notification.
func (l *Log) Send(_ context.Context, n Notification) error {
	l.Logf("notify [%s] %s: %s", n.Kind, n.Title, n.Message)
	return nil
}

var (
	_ Notifier = (*Desktop)(nil)
	_ Notifier = (*Speech)(nil)
	_ Notifier = (*Log)(nil)
)
