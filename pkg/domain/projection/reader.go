package projection

import (
	"context"
	"slices"
	"time"

	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
)

// BlockRecord is an unresolved block as seen by the read side.
type BlockRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionFilter narrows ListSessions. Empty fields match everything.
type SessionFilter struct {
	WorkspaceID string
	UserID      string
	Statuses    []session.TaskStatus
	Limit       int
}

// Matches reports whether s passes the filter.
func (f SessionFilter) Matches(s SessionSummary) bool {
	if f.WorkspaceID != "" && s.WorkspaceID != f.WorkspaceID {
		return false
	}
	if f.UserID != "" && s.UserID != f.UserID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, s.Status) {
		return false
	}
	return true
}

// EventFilter narrows ListEvents. Internal bookkeeping events are excluded
// unless IncludeInternal is set or their type is named in Types.
type EventFilter struct {
	Types           []session.EventType
	Limit           int
	IncludeInternal bool
}

// Matches reports whether r passes the filter.
func (f EventFilter) Matches(r events.Record) bool {
	if len(f.Types) > 0 {
		return slices.Contains(f.Types, r.Type)
	}
	return f.IncludeInternal || !r.Type.IsInternal()
}

// Reader answers read-only questions about task sessions.
// Not found is an empty result; storage failures wrap events.ErrStorage.
type Reader interface {
	// FindSession returns the session only when it belongs to both the
	// workspace and the user.
	FindSession(ctx context.Context, id, workspaceID, userID string) (SessionSummary, bool, error)

	// ListSessions returns matching sessions, most recently updated first.
	ListSessions(ctx context.Context, filter SessionFilter) ([]SessionSummary, error)

	// ListEvents returns a session's records newest first.
	ListEvents(ctx context.Context, sessionID string, filter EventFilter) ([]events.Record, error)

	// UnresolvedBlocks returns the open blocks of each session, newest first.
	// Sessions without open blocks are absent from the map.
	UnresolvedBlocks(ctx context.Context, sessionIDs ...string) (map[string][]BlockRecord, error)

	// CompletionDuration is the time from start to completion. It returns
	// false when the session has not been completed.
	CompletionDuration(ctx context.Context, sessionID string) (time.Duration, bool, error)

	// LatestEvents returns up to n records of eventType per session, newest
	// first. n <= 0 yields an empty map.
	LatestEvents(ctx context.Context, sessionIDs []string, eventType session.EventType, n int) (map[string][]events.Record, error)

	// CompletedSessions returns the workspace's sessions completed within
	// [from, to), most recent completion first.
	CompletedSessions(ctx context.Context, workspaceID string, from, to time.Time) ([]SessionSummary, error)
}
