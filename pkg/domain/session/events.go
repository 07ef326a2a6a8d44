package session

import "time"

// EventType is the storage tag of an event variant.
type EventType string

const (
	EventTaskStarted       EventType = "started"
	EventTaskUpdated       EventType = "updated"
	EventTaskBlocked       EventType = "blocked"
	EventBlockResolved     EventType = "block_resolved"
	EventTaskPaused        EventType = "paused"
	EventTaskResumed       EventType = "resumed"
	EventTaskCompleted     EventType = "completed"
	EventTaskCancelled     EventType = "cancelled"
	EventSlackThreadLinked EventType = "slack_thread_linked"
)

// AllEventTypes returns every event type in declaration order.
func AllEventTypes() []EventType {
	return []EventType{
		EventTaskStarted,
		EventTaskUpdated,
		EventTaskBlocked,
		EventBlockResolved,
		EventTaskPaused,
		EventTaskResumed,
		EventTaskCompleted,
		EventTaskCancelled,
		EventSlackThreadLinked,
	}
}

// IsInternal reports whether the event type is bookkeeping that user-facing
// timelines hide by default.
func (t EventType) IsInternal() bool {
	return t == EventSlackThreadLinked
}

// Event is an immutable fact appended to a task session stream.
// The set of variants is closed; every variant lives in this file.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	isEvent()
}

// Issue identifies the work item a task session is about.
type Issue struct {
	Provider   string         `json:"provider"`
	ID         string         `json:"id,omitempty"`
	Title      string         `json:"title"`
	URL        string         `json:"url,omitempty"`
	RawContext map[string]any `json:"raw_context,omitempty"`
}

// SlackThread locates the chat thread that mirrors a session.
type SlackThread struct {
	Channel  string `json:"channel"`
	ThreadTS string `json:"thread_ts"`
}

// TaskStarted opens a stream.
type TaskStarted struct {
	Issue          Issue     `json:"issue"`
	InitialSummary string    `json:"initial_summary"`
	WorkspaceID    string    `json:"workspace_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	At             time.Time `json:"occurred_at"`
}

// TaskUpdated records progress.
type TaskUpdated struct {
	Summary string    `json:"summary"`
	At      time.Time `json:"occurred_at"`
}

// TaskBlocked records a new unresolved block. BlockID is referenced by BlockResolved.
type TaskBlocked struct {
	BlockID string    `json:"block_id"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"occurred_at"`
}

// BlockResolved closes the block with BlockID.
type BlockResolved struct {
	BlockID string    `json:"block_id"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"occurred_at"`
}

// TaskPaused records a pause. PauseID is referenced by TaskResumed.
type TaskPaused struct {
	PauseID string    `json:"pause_id"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"occurred_at"`
}

// TaskResumed ends a pause.
type TaskResumed struct {
	Summary            string    `json:"summary"`
	ResumedFromPauseID string    `json:"resumed_from_pause_id,omitempty"`
	At                 time.Time `json:"occurred_at"`
}

// TaskCompleted is terminal.
type TaskCompleted struct {
	Summary string    `json:"summary"`
	At      time.Time `json:"occurred_at"`
}

// TaskCancelled is terminal.
type TaskCancelled struct {
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"occurred_at"`
}

// SlackThreadLinked attaches a chat thread without changing status.
type SlackThreadLinked struct {
	Channel  string    `json:"channel"`
	ThreadTS string    `json:"thread_ts"`
	At       time.Time `json:"occurred_at"`
}

func (TaskStarted) EventType() EventType       { return EventTaskStarted }
func (TaskUpdated) EventType() EventType       { return EventTaskUpdated }
func (TaskBlocked) EventType() EventType       { return EventTaskBlocked }
func (BlockResolved) EventType() EventType     { return EventBlockResolved }
func (TaskPaused) EventType() EventType        { return EventTaskPaused }
func (TaskResumed) EventType() EventType       { return EventTaskResumed }
func (TaskCompleted) EventType() EventType     { return EventTaskCompleted }
func (TaskCancelled) EventType() EventType     { return EventTaskCancelled }
func (SlackThreadLinked) EventType() EventType { return EventSlackThreadLinked }

func (e TaskStarted) OccurredAt() time.Time       { return e.At }
func (e TaskUpdated) OccurredAt() time.Time       { return e.At }
func (e TaskBlocked) OccurredAt() time.Time       { return e.At }
func (e BlockResolved) OccurredAt() time.Time     { return e.At }
func (e TaskPaused) OccurredAt() time.Time        { return e.At }
func (e TaskResumed) OccurredAt() time.Time       { return e.At }
func (e TaskCompleted) OccurredAt() time.Time     { return e.At }
func (e TaskCancelled) OccurredAt() time.Time     { return e.At }
func (e SlackThreadLinked) OccurredAt() time.Time { return e.At }

func (TaskStarted) isEvent()       {}
func (TaskUpdated) isEvent()       {}
func (TaskBlocked) isEvent()       {}
func (BlockResolved) isEvent()     {}
func (TaskPaused) isEvent()        {}
func (TaskResumed) isEvent()       {}
func (TaskCompleted) isEvent()     {}
func (TaskCancelled) isEvent()     {}
func (SlackThreadLinked) isEvent() {}

// Summary returns the human-readable text carried by an event: the summary
// for progress-like events and the reason for block, pause and cancel events.
func Summary(ev Event) string {
	switch e := ev.(type) {
	case TaskStarted:
		return e.InitialSummary
	case TaskUpdated:
		return e.Summary
	case TaskBlocked:
		return e.Reason
	case BlockResolved:
		return e.Reason
	case TaskPaused:
		return e.Reason
	case TaskResumed:
		return e.Summary
	case TaskCompleted:
		return e.Summary
	case TaskCancelled:
		return e.Reason
	case SlackThreadLinked:
		return ""
	}
	return ""
}
