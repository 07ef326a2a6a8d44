package session

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors returned by Decide. Callers map these to user-facing messages;
// they never indicate an infrastructure failure.
var (
	// ErrInvalidTransition indicates the command would make an illegal status change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyStarted indicates a StartTask command on an existing stream.
	ErrAlreadyStarted = errors.New("task session already started")

	// ErrStreamNotFound indicates a command other than StartTask on a stream with no history.
	ErrStreamNotFound = errors.New("task session not found")

	// ErrBlockNotFound indicates ResolveBlock referenced a block that is not unresolved.
	ErrBlockNotFound = errors.New("block not found")

	// ErrUnknownCommand indicates a command variant the decider does not handle.
	ErrUnknownCommand = errors.New("unknown command")
)

// TransitionError provides details about an invalid transition.
type TransitionError struct {
	From    TaskStatus
	To      TaskStatus
	Allowed []TaskStatus
}

func (e *TransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("cannot transition task from %s to %s (allowed: [%s])",
		e.From, e.To, strings.Join(allowed, ", "))
}

// Is allows errors.Is to work with TransitionError.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// IsDomainError reports whether err is an expected validation failure from the
// decider rather than an infrastructure or concurrency error.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAlreadyStarted) ||
		errors.Is(err, ErrStreamNotFound) ||
		errors.Is(err, ErrBlockNotFound)
}
