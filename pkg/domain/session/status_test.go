package session

import (
	"errors"
	"strings"
	"testing"
)

func TestIsValidTransition_Table(t *testing.T) {
	allowed := map[TaskStatus][]TaskStatus{
		StatusInProgress: {StatusBlocked, StatusPaused, StatusCompleted, StatusCancelled},
		StatusBlocked:    {StatusInProgress, StatusPaused, StatusCancelled},
		StatusPaused:     {StatusInProgress, StatusCancelled},
		StatusCompleted:  {},
		StatusCancelled:  {},
	}

	for _, from := range AllStatuses() {
		for _, to := range AllStatuses() {
			want := from == to
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			if got := IsValidTransition(from, to); got != want {
				t.Errorf("IsValidTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestIsValidTransition_SelfAlwaysAllowed(t *testing.T) {
	for _, s := range AllStatuses() {
		if !IsValidTransition(s, s) {
			t.Errorf("self transition on %s rejected", s)
		}
		if err := ValidateTransition(s, s); err != nil {
			t.Errorf("ValidateTransition(%s, %s) = %v", s, s, err)
		}
	}
}

func TestIsTerminalStatus(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		terminal bool
	}{
		{StatusInProgress, false},
		{StatusBlocked, false},
		{StatusPaused, false},
		{StatusCompleted, true},
		{StatusCancelled, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := IsTerminalStatus(tt.status); got != tt.terminal {
				t.Errorf("IsTerminalStatus() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestValidateTransition_ErrorListsAllowed(t *testing.T) {
	err := ValidateTransition(StatusPaused, StatusBlocked)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransitionError, got %T", err)
	}
	if te.From != StatusPaused || te.To != StatusBlocked {
		t.Errorf("unexpected from/to: %s -> %s", te.From, te.To)
	}
	if len(te.Allowed) != 2 {
		t.Errorf("expected 2 allowed destinations, got %v", te.Allowed)
	}
	if !strings.Contains(err.Error(), "in_progress, cancelled") {
		t.Errorf("message should enumerate allowed destinations: %s", err)
	}
}

func TestValidateTransition_TerminalListsNothing(t *testing.T) {
	err := ValidateTransition(StatusCompleted, StatusInProgress)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "allowed: []") {
		t.Errorf("expected empty allowed list in message: %s", err)
	}
}

func TestAllowedTransitions_PanicsOnUnmapped(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unmapped status")
		}
	}()
	AllowedTransitions(TaskStatus("archived"))
}

func TestParseTaskStatus(t *testing.T) {
	if _, err := ParseTaskStatus("blocked"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := ParseTaskStatus("done"); err == nil {
		t.Error("expected error for unknown status")
	}
}
