package cli

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
	"github.com/felixgeelhaar/taskstream/pkg/storage"
)

// CLIError wraps domain errors with user-facing messages and actionable hints.
type CLIError struct {
	Message  string
	Hint     string
	Err      error
	ExitCode int
}

func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a CLIError with a default exit code of 1.
func NewCLIError(msg, hint string, err error) *CLIError {
	return &CLIError{
		Message:  msg,
		Hint:     hint,
		Err:      err,
		ExitCode: 1,
	}
}

// MapError converts known domain errors into CLIErrors with actionable hints.
// Unmapped errors are returned as-is.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	var transErr *session.TransitionError
	if errors.As(err, &transErr) {
		hint := "The session is closed and accepts no further commands"
		if len(transErr.Allowed) > 0 {
			hint = fmt.Sprintf("From '%s' the session can move to %v", transErr.From, transErr.Allowed)
		}
		return NewCLIError(transErr.Error(), hint, err)
	}

	var conflict *events.ConcurrencyError
	if errors.As(err, &conflict) {
		return NewCLIError(
			"session changed concurrently",
			fmt.Sprintf("Run 'taskstream show %s' and retry", conflict.StreamID),
			err,
		)
	}

	switch {
	case errors.Is(err, session.ErrStreamNotFound):
		return NewCLIError("session not found", "Run 'taskstream list' to see sessions, or 'taskstream start' to open one", err)
	case errors.Is(err, session.ErrAlreadyStarted):
		return NewCLIError("session already started", "Use 'taskstream progress' to report on an existing session", err)
	case errors.Is(err, session.ErrBlockNotFound):
		return NewCLIError("block not found", "Run 'taskstream blocks <session>' to list unresolved blocks", err)
	case errors.Is(err, storage.ErrInvalidStreamID):
		return NewCLIError("invalid session id", "Session ids may contain letters, digits, '.', '_' and '-'", err)
	case errors.Is(err, events.ErrConcurrencyConflict):
		return NewCLIError("session changed concurrently", "Retry the command", err)
	case errors.Is(err, events.ErrStorage):
		return NewCLIError("storage failure", "Check the store settings in .taskstream/config.yaml", err)
	}

	return err
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) && cliErr.ExitCode != 0 {
		return cliErr.ExitCode
	}
	return 1
}
