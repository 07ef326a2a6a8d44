package session

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
)

// auditContext carries the stream being audited through the machine.
type auditContext struct {
	StreamID string
}

// StatusMachine is a statekit interpreter built from the transition table.
// Machine events are named after their target status.
type StatusMachine struct {
	interpreter *statekit.Interpreter[auditContext]
}

// NewStatusMachine builds a machine positioned at initial.
func NewStatusMachine(streamID string, initial TaskStatus) (*StatusMachine, error) {
	if !initial.IsValid() {
		return nil, fmt.Errorf("invalid initial status: %q", initial)
	}

	builder := statekit.NewMachine[auditContext]("task-session").
		WithInitial(statekit.StateID(initial)).
		WithContext(auditContext{StreamID: streamID})

	builder.State(statekit.StateID(StatusInProgress)).
		On(statekit.EventType(StatusBlocked)).Target(statekit.StateID(StatusBlocked)).
		On(statekit.EventType(StatusPaused)).Target(statekit.StateID(StatusPaused)).
		On(statekit.EventType(StatusCompleted)).Target(statekit.StateID(StatusCompleted)).
		On(statekit.EventType(StatusCancelled)).Target(statekit.StateID(StatusCancelled)).
		Done()

	builder.State(statekit.StateID(StatusBlocked)).
		On(statekit.EventType(StatusInProgress)).Target(statekit.StateID(StatusInProgress)).
		On(statekit.EventType(StatusPaused)).Target(statekit.StateID(StatusPaused)).
		On(statekit.EventType(StatusCancelled)).Target(statekit.StateID(StatusCancelled)).
		Done()

	builder.State(statekit.StateID(StatusPaused)).
		On(statekit.EventType(StatusInProgress)).Target(statekit.StateID(StatusInProgress)).
		On(statekit.EventType(StatusCancelled)).Target(statekit.StateID(StatusCancelled)).
		Done()

	// Terminal states.
	builder.State(statekit.StateID(StatusCompleted)).Done()
	builder.State(statekit.StateID(StatusCancelled)).Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build status machine: %w", err)
	}

	interpreter := statekit.NewInterpreter(machine)
	interpreter.Start()

	return &StatusMachine{interpreter: interpreter}, nil
}

// Current returns the machine's status.
func (m *StatusMachine) Current() TaskStatus {
	return TaskStatus(m.interpreter.State().Value)
}

// Transition moves the machine to target. Staying put is always accepted.
func (m *StatusMachine) Transition(target TaskStatus) error {
	before := m.Current()
	if before == target {
		return nil
	}
	m.interpreter.Send(statekit.Event{Type: statekit.EventType(target)})
	if m.Current() == target {
		return nil
	}
	return &TransitionError{From: before, To: target, Allowed: AllowedTransitions(before)}
}

// Violation describes an event that could not have been produced by Decide.
type Violation struct {
	Version int
	Type    EventType
	Reason  string
}

func (v Violation) String() string {
	return fmt.Sprintf("event %d (%s): %s", v.Version, v.Type, v.Reason)
}

// AuditStream checks a stored history against the decider's rules: the stream
// starts exactly once, every status change is legal, references point at
// open blocks and pauses, and nothing follows a terminal status.
func AuditStream(streamID string, events []Event) ([]Violation, error) {
	var violations []Violation
	if len(events) == 0 {
		return nil, nil
	}

	machine, err := NewStatusMachine(streamID, StatusInProgress)
	if err != nil {
		return nil, err
	}

	state := InitialState(streamID)
	for i, ev := range events {
		report := func(format string, args ...any) {
			violations = append(violations, Violation{Version: i, Type: ev.EventType(), Reason: fmt.Sprintf(format, args...)})
		}

		_, isStart := ev.(TaskStarted)
		switch {
		case isStart && state.Exists():
			report("stream already started")
		case !isStart && !state.Exists():
			report("event before TaskStarted")
		case state.Exists() && IsTerminalStatus(state.Status):
			report("event after terminal status %s", state.Status)
		}

		switch e := ev.(type) {
		case BlockResolved:
			if _, ok := state.FindBlock(e.BlockID); !ok {
				report("block %s is not unresolved", e.BlockID)
			}
		case TaskResumed:
			if e.ResumedFromPauseID != state.LastPausedID {
				report("resumed from pause %q, last pause was %q", e.ResumedFromPauseID, state.LastPausedID)
			}
		}

		next := Evolve(state, ev)
		if state.Exists() {
			if err := machine.Transition(next.Status); err != nil {
				report("%v", err)
				// Re-seat the machine so later steps are judged on their own.
				if machine, err = NewStatusMachine(streamID, next.Status); err != nil {
					return nil, err
				}
			}
		}
		state = next
	}

	return violations, nil
}
