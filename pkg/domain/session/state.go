package session

import "time"

// Block is an unresolved block on a session.
type Block struct {
	ID        string    `json:"id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskState is the current state of a session, derived by folding its events.
// It is never persisted.
type TaskState struct {
	StreamID       string
	Status         TaskStatus
	Issue          *Issue
	InitialSummary string
	WorkspaceID    string
	UserID         string
	SlackThread    *SlackThread
	// UnresolvedBlocks is ordered most recent first and is non-empty only
	// while Status is blocked.
	UnresolvedBlocks []Block
	LastPausedID     string
	CreatedAt        *time.Time
	UpdatedAt        *time.Time
}

// InitialState returns the state of a stream with no events.
func InitialState(streamID string) TaskState {
	return TaskState{
		StreamID: streamID,
		Status:   StatusInProgress,
	}
}

// Exists reports whether the stream has been started.
func (s TaskState) Exists() bool {
	return s.CreatedAt != nil
}

// FindBlock returns the unresolved block with the given id.
func (s TaskState) FindBlock(id string) (Block, bool) {
	for _, b := range s.UnresolvedBlocks {
		if b.ID == id {
			return b, true
		}
	}
	return Block{}, false
}

// Evolve applies one event to a state and returns the next state.
// The input state is not modified.
func Evolve(state TaskState, ev Event) TaskState {
	next := state
	at := ev.OccurredAt()

	switch e := ev.(type) {
	case TaskStarted:
		issue := e.Issue
		next.Status = StatusInProgress
		next.Issue = &issue
		next.InitialSummary = e.InitialSummary
		next.WorkspaceID = e.WorkspaceID
		next.UserID = e.UserID
		next.CreatedAt = &at
		next.UpdatedAt = &at

	case TaskUpdated:
		next.Status = StatusInProgress
		next.UpdatedAt = &at

	case TaskBlocked:
		blocks := make([]Block, 0, len(state.UnresolvedBlocks)+1)
		blocks = append(blocks, Block{ID: e.BlockID, Reason: e.Reason, CreatedAt: at})
		blocks = append(blocks, state.UnresolvedBlocks...)
		next.Status = StatusBlocked
		next.UnresolvedBlocks = blocks
		next.UpdatedAt = &at

	case BlockResolved:
		next.UnresolvedBlocks = withoutBlock(state.UnresolvedBlocks, e.BlockID)
		next.Status = statusAfterResolve(next.UnresolvedBlocks)
		next.UpdatedAt = &at

	case TaskPaused:
		next.Status = StatusPaused
		next.LastPausedID = e.PauseID
		next.UpdatedAt = &at

	case TaskResumed:
		next.Status = StatusInProgress
		next.UpdatedAt = &at

	case TaskCompleted:
		next.Status = StatusCompleted
		next.UpdatedAt = &at

	case TaskCancelled:
		next.Status = StatusCancelled
		next.UpdatedAt = &at

	case SlackThreadLinked:
		next.SlackThread = &SlackThread{Channel: e.Channel, ThreadTS: e.ThreadTS}
	}

	return next
}

// Fold applies events to state in order.
func Fold(state TaskState, events []Event) TaskState {
	for _, ev := range events {
		state = Evolve(state, ev)
	}
	return state
}

// Replay rebuilds the state of a stream from its full history.
func Replay(streamID string, events []Event) TaskState {
	return Fold(InitialState(streamID), events)
}

func withoutBlock(blocks []Block, id string) []Block {
	var out []Block
	for _, b := range blocks {
		if b.ID != id {
			out = append(out, b)
		}
	}
	return out
}

func statusAfterResolve(remaining []Block) TaskStatus {
	if len(remaining) > 0 {
		return StatusBlocked
	}
	return StatusInProgress
}
