// Package session is the task-session decider: the status state machine,
// commands, events, and the pure decide/evolve/replay functions over them.
package session

import (
	"encoding/json"
	"fmt"
)

// TaskStatus is the lifecycle status of a task session.
type TaskStatus string

const (
	StatusInProgress TaskStatus = "in_progress"
	StatusBlocked    TaskStatus = "blocked"
	StatusPaused     TaskStatus = "paused"
	StatusCompleted  TaskStatus = "completed"
	StatusCancelled  TaskStatus = "cancelled"
)

// AllStatuses returns every task status in declaration order.
func AllStatuses() []TaskStatus {
	return []TaskStatus{
		StatusInProgress,
		StatusBlocked,
		StatusPaused,
		StatusCompleted,
		StatusCancelled,
	}
}

// AllowedTransitions returns the statuses reachable from s, excluding s itself.
// It panics for a status outside the enum: that is a programming error, not input.
func AllowedTransitions(s TaskStatus) []TaskStatus {
	switch s {
	case StatusInProgress:
		return []TaskStatus{StatusBlocked, StatusPaused, StatusCompleted, StatusCancelled}
	case StatusBlocked:
		return []TaskStatus{StatusInProgress, StatusPaused, StatusCancelled}
	case StatusPaused:
		return []TaskStatus{StatusInProgress, StatusCancelled}
	case StatusCompleted, StatusCancelled:
		return []TaskStatus{}
	}
	panic(fmt.Sprintf("session: unmapped task status %q", string(s)))
}

// IsValidTransition reports whether a session may move from one status to another.
// Staying in the same status is always valid.
func IsValidTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	for _, t := range AllowedTransitions(from) {
		if t == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a *TransitionError when IsValidTransition is false.
func ValidateTransition(from, to TaskStatus) error {
	if IsValidTransition(from, to) {
		return nil
	}
	return &TransitionError{From: from, To: to, Allowed: AllowedTransitions(from)}
}

// IsTerminalStatus reports whether no transitions leave s.
func IsTerminalStatus(s TaskStatus) bool {
	return len(AllowedTransitions(s)) == 0
}

// IsValid returns true if the status is part of the enum.
func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusInProgress, StatusBlocked, StatusPaused, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s TaskStatus) String() string {
	return string(s)
}

// DisplayName returns a human-readable display name for the status.
func (s TaskStatus) DisplayName() string {
	switch s {
	case StatusInProgress:
		return "In Progress"
	case StatusBlocked:
		return "Blocked"
	case StatusPaused:
		return "Paused"
	case StatusCompleted:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}

// ParseTaskStatus parses a string into a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	status := TaskStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid task status: %s", s)
	}
	return status, nil
}

// UnmarshalJSON rejects statuses outside the enum.
func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status, err := ParseTaskStatus(str)
	if err != nil {
		return err
	}
	*s = status
	return nil
}
