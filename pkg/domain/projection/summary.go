// Package projection holds the read side of task sessions: the mirrored
// session summary, the query contract and pure helpers that derive query
// answers from stored records.
package projection

import (
	"context"
	"time"

	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
)

// SessionSummary is the mirrored session row kept for fast listing.
// The event log stays authoritative; a summary can always be rebuilt.
type SessionSummary struct {
	ID            string             `json:"id"`
	WorkspaceID   string             `json:"workspace_id,omitempty"`
	UserID        string             `json:"user_id,omitempty"`
	Status        session.TaskStatus `json:"status"`
	Title         string             `json:"title"`
	Provider      string             `json:"provider"`
	LastSummary   string             `json:"last_summary,omitempty"`
	SlackChannel  string             `json:"slack_channel,omitempty"`
	SlackThreadTS string             `json:"slack_thread_ts,omitempty"`
	Version       int64              `json:"version"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
}

// SummaryStore persists session summaries.
type SummaryStore interface {
	SaveSummary(ctx context.Context, s SessionSummary) error
	// GetSummary returns false when the session has no summary.
	GetSummary(ctx context.Context, id string) (SessionSummary, bool, error)
	ListSummaries(ctx context.Context) ([]SessionSummary, error)
}

// Apply folds one committed event into a summary. state is the stream state
// right after the event.
func Apply(sum SessionSummary, version int64, ev session.Event, state session.TaskState) SessionSummary {
	sum.ID = state.StreamID
	sum.WorkspaceID = state.WorkspaceID
	sum.UserID = state.UserID
	sum.Status = state.Status
	sum.Version = version

	if state.Issue != nil {
		sum.Title = state.Issue.Title
		sum.Provider = state.Issue.Provider
	}
	if state.SlackThread != nil {
		sum.SlackChannel = state.SlackThread.Channel
		sum.SlackThreadTS = state.SlackThread.ThreadTS
	}
	if state.CreatedAt != nil {
		sum.CreatedAt = *state.CreatedAt
		sum.UpdatedAt = *state.CreatedAt
	}
	if state.UpdatedAt != nil {
		sum.UpdatedAt = *state.UpdatedAt
	}

	if !ev.EventType().IsInternal() {
		if text := session.Summary(ev); text != "" {
			sum.LastSummary = text
		}
	}
	if _, ok := ev.(session.TaskCompleted); ok {
		at := ev.OccurredAt()
		sum.CompletedAt = &at
	}
	return sum
}

// Summarize derives the summary of a whole stream. It returns false for a
// stream without events.
func Summarize(streamID string, evts []session.Event) (SessionSummary, bool) {
	if len(evts) == 0 {
		return SessionSummary{}, false
	}
	var sum SessionSummary
	state := session.InitialState(streamID)
	for i, ev := range evts {
		state = session.Evolve(state, ev)
		sum = Apply(sum, int64(i), ev, state)
	}
	return sum, true
}
