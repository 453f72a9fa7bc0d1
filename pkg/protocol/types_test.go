package protocol

import (
	"strings"
	"testing"
	"time"
)

func TestCanTransitionSuccessPath(t *testing.T) {
	path := []Status{StatusInitiated, StatusAnalyzing, StatusDebugging, StatusReviewing, StatusAwaitingReview, StatusCompleted}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Errorf("expected %s → %s to be legal", path[i], path[i+1])
		}
	}
}

func TestCanTransitionForwardSkips(t *testing.T) {
	cases := []struct{ from, to Status }{
		{StatusInitiated, StatusCompleted},
		{StatusInitiated, StatusReviewing},
		{StatusAnalyzing, StatusAwaitingReview},
		{StatusDebugging, StatusCompleted},
	}
	for _, c := range cases {
		if !CanTransition(c.from, c.to) {
			t.Errorf("expected forward skip %s → %s to be legal", c.from, c.to)
		}
	}
}

func TestCanTransitionRejectsBackward(t *testing.T) {
	cases := []struct{ from, to Status }{
		{StatusDebugging, StatusAnalyzing},
		{StatusReviewing, StatusInitiated},
		{StatusAnalyzing, StatusAnalyzing},
	}
	for _, c := range cases {
		if CanTransition(c.from, c.to) {
			t.Errorf("expected %s → %s to be illegal", c.from, c.to)
		}
	}
}

func TestCanTransitionTerminalIsFinal(t *testing.T) {
	for _, from := range []Status{StatusCompleted, StatusFailed, StatusTimeout} {
		for _, to := range []Status{StatusAnalyzing, StatusCompleted, StatusFailed, StatusTimeout} {
			if CanTransition(from, to) {
				t.Errorf("expected no transition out of terminal %s (tried %s)", from, to)
			}
		}
	}
}

func TestCanTransitionFailureFromAnyNonTerminal(t *testing.T) {
	nonTerminal := []Status{StatusInitiated, StatusAnalyzing, StatusDebugging, StatusReviewing, StatusAwaitingReview}
	for _, from := range nonTerminal {
		if !CanTransition(from, StatusFailed) {
			t.Errorf("expected %s → failed to be legal", from)
		}
		if !CanTransition(from, StatusTimeout) {
			t.Errorf("expected %s → timeout to be legal", from)
		}
	}
}

func TestCanTransitionUnknownStatus(t *testing.T) {
	if CanTransition(Status("bogus"), StatusFailed) {
		t.Error("expected unknown from-status to be illegal")
	}
	if CanTransition(StatusInitiated, Status("bogus")) {
		t.Error("expected unknown to-status to be illegal")
	}
}

func TestNewInvestigationID(t *testing.T) {
	at := time.Date(2026, 8, 29, 15, 4, 5, 0, time.UTC)
	id := NewInvestigationID("orders-dlq", at)
	if id != "inv_20260829_150405_orders-dlq" {
		t.Errorf("unexpected id %q", id)
	}
}

func TestNewInvestigationIDTruncatesAndSanitizes(t *testing.T) {
	at := time.Date(2026, 8, 29, 15, 4, 5, 0, time.UTC)
	id := NewInvestigationID("fm-digitalguru-api-update-dlq-prod", at)
	if len(id) > len("inv_20260829_150405_")+20 {
		t.Errorf("queue component not truncated: %q", id)
	}
	id = NewInvestigationID("a/b queue", at)
	if strings.ContainsAny(id, "/ ") {
		t.Errorf("queue component not sanitized: %q", id)
	}
}

func TestDefaultProgressMonotonic(t *testing.T) {
	path := []Status{StatusInitiated, StatusAnalyzing, StatusDebugging, StatusReviewing, StatusAwaitingReview, StatusCompleted}
	prev := -1
	for _, s := range path {
		p := DefaultProgress(s)
		if p <= prev {
			t.Errorf("progress not increasing at %s: %d <= %d", s, p, prev)
		}
		prev = p
	}
	if DefaultProgress(StatusFailed) != 100 || DefaultProgress(StatusTimeout) != 100 {
		t.Error("terminal failure states should report 100")
	}
}
