package session

import (
	"fmt"
	"time"
)

// Decider turns commands into events. It performs no I/O; ids come from IDs
// and time from the caller.
type Decider struct {
	IDs IDGenerator
}

// NewDecider creates a decider with the given id generator.
// A nil generator falls back to UUIDv7.
func NewDecider(ids IDGenerator) Decider {
	if ids == nil {
		ids = UUIDv7{}
	}
	return Decider{IDs: ids}
}

// Decide runs cmd against state using time-ordered UUIDs.
func Decide(state TaskState, cmd Command, now time.Time) ([]Event, error) {
	return NewDecider(nil).Decide(state, cmd, now)
}

// Decide validates cmd against state and returns the events it produces.
// It either returns a complete event list or an error, never both.
func (d Decider) Decide(state TaskState, cmd Command, now time.Time) ([]Event, error) {
	if start, ok := cmd.(StartTask); ok {
		if state.Exists() {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyStarted, state.StreamID)
		}
		return []Event{TaskStarted{
			Issue:          start.Issue,
			InitialSummary: start.InitialSummary,
			WorkspaceID:    start.WorkspaceID,
			UserID:         start.UserID,
			At:             now,
		}}, nil
	}

	if !state.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, state.StreamID)
	}

	switch c := cmd.(type) {
	case AddProgress:
		if err := checkTransition(state.Status, StatusInProgress); err != nil {
			return nil, err
		}
		return []Event{TaskUpdated{Summary: c.Summary, At: now}}, nil

	case ReportBlock:
		if err := checkTransition(state.Status, StatusBlocked); err != nil {
			return nil, err
		}
		id, err := d.newID()
		if err != nil {
			return nil, err
		}
		return []Event{TaskBlocked{BlockID: id, Reason: c.Reason, At: now}}, nil

	case ResolveBlock:
		block, ok := state.FindBlock(c.BlockID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, c.BlockID)
		}
		target := statusAfterResolve(withoutBlock(state.UnresolvedBlocks, c.BlockID))
		if err := checkTransition(state.Status, target); err != nil {
			return nil, err
		}
		return []Event{BlockResolved{BlockID: block.ID, Reason: block.Reason, At: now}}, nil

	case PauseTask:
		if err := checkTransition(state.Status, StatusPaused); err != nil {
			return nil, err
		}
		id, err := d.newID()
		if err != nil {
			return nil, err
		}
		return []Event{TaskPaused{PauseID: id, Reason: c.Reason, At: now}}, nil

	case ResumeTask:
		if err := checkTransition(state.Status, StatusInProgress); err != nil {
			return nil, err
		}
		return []Event{TaskResumed{
			Summary:            c.Summary,
			ResumedFromPauseID: state.LastPausedID,
			At:                 now,
		}}, nil

	case CompleteTask:
		if err := checkTransition(state.Status, StatusCompleted); err != nil {
			return nil, err
		}
		return []Event{TaskCompleted{Summary: c.Summary, At: now}}, nil

	case CancelTask:
		if err := checkTransition(state.Status, StatusCancelled); err != nil {
			return nil, err
		}
		return []Event{TaskCancelled{Reason: c.Reason, At: now}}, nil

	case LinkSlackThread:
		if err := checkTransition(state.Status, state.Status); err != nil {
			return nil, err
		}
		return []Event{SlackThreadLinked{Channel: c.Channel, ThreadTS: c.ThreadTS, At: now}}, nil
	}

	return nil, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
}

// checkTransition is ValidateTransition plus the rule that a terminal session
// accepts no further commands, including ones that keep its status.
func checkTransition(from, to TaskStatus) error {
	if IsTerminalStatus(from) {
		return &TransitionError{From: from, To: to, Allowed: AllowedTransitions(from)}
	}
	return ValidateTransition(from, to)
}

func (d Decider) newID() (string, error) {
	ids := d.IDs
	if ids == nil {
		ids = UUIDv7{}
	}
	id, err := ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id, nil
}
