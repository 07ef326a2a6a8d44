package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
	"github.com/felixgeelhaar/taskstream/pkg/storage"
)

func TestCLIError(t *testing.T) {
	t.Run("Error with cause", func(t *testing.T) {
		cause := errors.New("root cause")
		e := NewCLIError("something failed", "try this", cause)
		if e.Error() != "something failed: root cause" {
			t.Fatalf("unexpected: %s", e.Error())
		}
		if e.ExitCode != 1 {
			t.Fatalf("expected exit code 1, got %d", e.ExitCode)
		}
	})

	t.Run("Error without cause", func(t *testing.T) {
		e := NewCLIError("something failed", "try this", nil)
		if e.Error() != "something failed" {
			t.Fatalf("unexpected: %s", e.Error())
		}
	})

	t.Run("Unwrap returns cause", func(t *testing.T) {
		cause := errors.New("root")
		e := NewCLIError("msg", "", cause)
		if !errors.Is(e, cause) {
			t.Fatal("errors.Is should match wrapped cause")
		}
	})
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantHint string
		wantCLI  bool
	}{
		{
			name: "nil returns nil",
			err:  nil,
		},
		{
			name:     "ErrStreamNotFound",
			err:      fmt.Errorf("%w: s1", session.ErrStreamNotFound),
			wantHint: "Run 'taskstream list' to see sessions, or 'taskstream start' to open one",
			wantCLI:  true,
		},
		{
			name:     "ErrAlreadyStarted",
			err:      session.ErrAlreadyStarted,
			wantHint: "Use 'taskstream progress' to report on an existing session",
			wantCLI:  true,
		},
		{
			name:     "ErrBlockNotFound",
			err:      session.ErrBlockNotFound,
			wantHint: "Run 'taskstream blocks <session>' to list unresolved blocks",
			wantCLI:  true,
		},
		{
			name:     "ErrInvalidStreamID",
			err:      fmt.Errorf("%w: %q", storage.ErrInvalidStreamID, "../x"),
			wantHint: "Session ids may contain letters, digits, '.', '_' and '-'",
			wantCLI:  true,
		},
		{
			name:     "ConcurrencyError",
			err:      &events.ConcurrencyError{StreamID: "s1", Expected: 1, Actual: 2},
			wantHint: "Run 'taskstream show s1' and retry",
			wantCLI:  true,
		},
		{
			name:     "storage failure",
			err:      events.StorageError("append", errors.New("disk full")),
			wantHint: "Check the store settings in .taskstream/config.yaml",
			wantCLI:  true,
		},
		{
			name: "TransitionError from paused",
			err: &session.TransitionError{
				From:    session.StatusPaused,
				To:      session.StatusBlocked,
				Allowed: session.AllowedTransitions(session.StatusPaused),
			},
			wantHint: "From 'paused' the session can move to [in_progress cancelled]",
			wantCLI:  true,
		},
		{
			name: "TransitionError from terminal",
			err: &session.TransitionError{
				From: session.StatusCompleted,
				To:   session.StatusInProgress,
			},
			wantHint: "The session is closed and accepts no further commands",
			wantCLI:  true,
		},
		{
			name: "unmapped error passes through",
			err:  errors.New("something else"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MapError(tt.err)
			if tt.err == nil {
				if result != nil {
					t.Fatal("expected nil")
				}
				return
			}
			if !tt.wantCLI {
				if result != tt.err {
					t.Fatal("unmapped error should pass through unchanged")
				}
				return
			}
			var cliErr *CLIError
			if !errors.As(result, &cliErr) {
				t.Fatalf("expected CLIError, got %T", result)
			}
			if cliErr.Hint != tt.wantHint {
				t.Fatalf("hint = %q, want %q", cliErr.Hint, tt.wantHint)
			}
			if !errors.Is(cliErr, tt.err) {
				t.Fatal("CLIError should wrap original error")
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Errorf("nil: got %d", got)
	}
	if got := ExitCode(errors.New("plain")); got != 1 {
		t.Errorf("plain: got %d", got)
	}
	e := NewCLIError("verify failed", "", nil)
	e.ExitCode = 2
	if got := ExitCode(fmt.Errorf("wrapped: %w", e)); got != 2 {
		t.Errorf("CLIError: got %d", got)
	}
}
