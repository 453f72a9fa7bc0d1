package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recordingNotifier) Send(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type panickyNotifier struct{}

func (panickyNotifier) Send(context.Context, Notification) error { panic("bad notifier") }

func TestHubFansOutToAllNotifiers(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	h := NewHub(a, b)
	h.SetLogf(func(string, ...any) {})

	h.Publish(Alert("orders-dlq", 7, false))
	h.Wait()

	if a.count() != 1 || b.count() != 1 {
		t.Errorf("expected both notifiers to receive, got %d and %d", a.count(), b.count())
	}
	if a.sent[0].QueueID != "orders-dlq" {
		t.Errorf("unexpected notification %+v", a.sent[0])
	}
}

func TestHubSurvivesFailuresAndPanics(t *testing.T) {
	good := &recordingNotifier{}
	bad := &recordingNotifier{err: errors.New("no display")}
	var mu sync.Mutex
	var logged []string
	h := NewHub(bad, panickyNotifier{}, good)
	h.SetLogf(func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		logged = append(logged, fmt.Sprintf(format, args...))
	})

	h.Publish(Started("orders-dlq", "inv_x", true))
	h.Wait()

	if good.count() != 1 {
		t.Error("healthy notifier should still receive after siblings fail")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(logged) != 2 {
		t.Errorf("expected 2 delivery failures logged, got %v", logged)
	}
}

func TestDesktopBuildsAppleScript(t *testing.T) {
	var gotArgs []string
	d := NewDesktop()
	d.SetRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		return nil, nil
	})

	n := Alert(`orders"dlq`, 3, false)
	if err := d.Send(context.Background(), n); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotArgs[0] != "osascript" || gotArgs[1] != "-e" {
		t.Fatalf("unexpected command %v", gotArgs)
	}
	if !strings.Contains(gotArgs[2], `orders\"dlq`) {
		t.Errorf("quotes not escaped in script: %s", gotArgs[2])
	}
}

func TestSpeechOnlySpeaksCritical(t *testing.T) {
	var calls int
	s := NewSpeech("Samantha")
	s.SetRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
		calls++
		if name != "say" || args[0] != "-v" || args[1] != "Samantha" {
			t.Errorf("unexpected command %s %v", name, args)
		}
		return nil, nil
	})

	if err := s.Send(context.Background(), Alert("orders-dlq", 1, false)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if calls != 0 {
		t.Error("non-critical notification should not be spoken")
	}
	if err := s.Send(context.Background(), Alert("orders-dlq", 1, true)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if calls != 1 {
		t.Error("critical notification should be spoken")
	}
}

func TestEscapeAppleScript(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", "hello"},
		{`say "hello"`, `say \"hello\"`},
		{`path\to\file`, `path\\to\\file`},
		{"", ""},
	}
	for _, tt := range tests {
		if got := escapeAppleScript(tt.input); got != tt.want {
			t.Errorf("escapeAppleScript(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFinishedTitles(t *testing.T) {
	if n := Finished("q", "inv", KindTimedOut, "killed after 30m", true); !strings.Contains(n.Title, "timed out") {
		t.Errorf("unexpected title %q", n.Title)
	}
	if n := Finished("q", "inv", KindFailed, "exit 3", false); !strings.Contains(n.Title, "failed") {
		t.Errorf("unexpected title %q", n.Title)
	}
}
