package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/projection"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
	"github.com/felixgeelhaar/taskstream/pkg/storage/driver"
)

const summaryColumns = "id, workspace_id, user_id, status, title, provider, last_summary, " +
	"slack_channel, slack_thread_ts, version, created_at, updated_at, completed_at"

// FindSession returns the session only when it belongs to workspaceID and userID.
func (s *SQLStore) FindSession(ctx context.Context, id, workspaceID, userID string) (projection.SessionSummary, bool, error) {
	return s.querySummary(ctx,
		"SELECT "+summaryColumns+" FROM task_sessions WHERE id = ? AND workspace_id = ? AND user_id = ?",
		id, workspaceID, userID)
}

// ListSessions returns matching sessions, most recently updated first.
func (s *SQLStore) ListSessions(ctx context.Context, filter projection.SessionFilter) ([]projection.SessionSummary, error) {
	var (
		where []string
		args  []any
	)
	if filter.WorkspaceID != "" {
		where = append(where, "workspace_id = ?")
		args = append(args, filter.WorkspaceID)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN "+driver.InClause(len(filter.Statuses)))
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}

	q := "SELECT " + summaryColumns + " FROM task_sessions"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY updated_at DESC, id ASC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return s.querySummaries(ctx, q, args...)
}

// ListEvents returns a session's records newest first.
func (s *SQLStore) ListEvents(ctx context.Context, sessionID string, filter projection.EventFilter) ([]events.Record, error) {
	q := "SELECT " + recordColumns + " FROM task_events WHERE stream_id = ?"
	args := []any{sessionID}

	switch {
	case len(filter.Types) > 0:
		q += " AND type IN " + driver.InClause(len(filter.Types))
		for _, t := range filter.Types {
			args = append(args, string(t))
		}
	case !filter.IncludeInternal:
		var internal []any
		for _, t := range session.AllEventTypes() {
			if t.IsInternal() {
				internal = append(internal, string(t))
			}
		}
		if len(internal) > 0 {
			q += " AND type NOT IN " + driver.InClause(len(internal))
			args = append(args, internal...)
		}
	}

	q += " ORDER BY created_at DESC, version DESC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.drv.Query(ctx, q, args...)
	if err != nil {
		return nil, events.StorageError("list events", err)
	}
	return scanRecords(rows)
}

// UnresolvedBlocks returns open blocks per session: blocked rows that no
// block_resolved row of the same stream references.
func (s *SQLStore) UnresolvedBlocks(ctx context.Context, sessionIDs ...string) (map[string][]projection.BlockRecord, error) {
	out := make(map[string][]projection.BlockRecord)
	if len(sessionIDs) == 0 {
		return out, nil
	}

	args := []any{string(session.EventTaskBlocked)}
	for _, id := range sessionIDs {
		args = append(args, id)
	}
	args = append(args, string(session.EventBlockResolved))

	rows, err := s.drv.Query(ctx, `
		SELECT b.id, b.stream_id, b.summary, b.created_at
		FROM task_events b
		WHERE b.type = ? AND b.stream_id IN `+driver.InClause(len(sessionIDs))+`
		AND NOT EXISTS (
			SELECT 1 FROM task_events r
			WHERE r.stream_id = b.stream_id AND r.type = ? AND r.related_id = b.id
		)
		ORDER BY b.stream_id ASC, b.created_at DESC, b.version DESC`, args...)
	if err != nil {
		return nil, events.StorageError("query unresolved blocks", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			b         projection.BlockRecord
			createdAt int64
		)
		if err := rows.Scan(&b.ID, &b.SessionID, &b.Reason, &createdAt); err != nil {
			return nil, events.StorageError("scan block", err)
		}
		b.CreatedAt = fromNanos(createdAt)
		out[b.SessionID] = append(out[b.SessionID], b)
	}
	if err := rows.Err(); err != nil {
		return nil, events.StorageError("iterate blocks", err)
	}
	s.logger.Debug("queried unresolved blocks", "sessions", describe(sessionIDs), "open", len(out))
	return out, nil
}

// CompletionDuration is the time between the first started and completed rows.
func (s *SQLStore) CompletionDuration(ctx context.Context, sessionID string) (time.Duration, bool, error) {
	var startedAt, completedAt sql.NullInt64
	err := s.drv.QueryRow(ctx, `
		SELECT
			(SELECT created_at FROM task_events WHERE stream_id = ? AND type = ? ORDER BY version ASC LIMIT 1),
			(SELECT created_at FROM task_events WHERE stream_id = ? AND type = ? ORDER BY version ASC LIMIT 1)`,
		sessionID, string(session.EventTaskStarted),
		sessionID, string(session.EventTaskCompleted),
	).Scan(&startedAt, &completedAt)
	if err != nil {
		return 0, false, events.StorageError("query completion", err)
	}
	if !startedAt.Valid || !completedAt.Valid {
		return 0, false, nil
	}
	return time.Duration(completedAt.Int64 - startedAt.Int64), true, nil
}

// LatestEvents returns up to n records of eventType per session, newest first.
func (s *SQLStore) LatestEvents(ctx context.Context, sessionIDs []string, eventType session.EventType, n int) (map[string][]events.Record, error) {
	out := make(map[string][]events.Record)
	if len(sessionIDs) == 0 || n <= 0 {
		return out, nil
	}

	args := []any{string(eventType)}
	for _, id := range sessionIDs {
		args = append(args, id)
	}
	args = append(args, n)

	rows, err := s.drv.Query(ctx, `
		SELECT `+recordColumns+` FROM (
			SELECT `+recordColumns+`,
				ROW_NUMBER() OVER (PARTITION BY stream_id ORDER BY created_at DESC, version DESC) AS rn
			FROM task_events
			WHERE type = ? AND stream_id IN `+driver.InClause(len(sessionIDs))+`
		) ranked
		WHERE rn <= ?
		ORDER BY stream_id ASC, created_at DESC, version DESC`, args...)
	if err != nil {
		return nil, events.StorageError("query latest events", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		out[r.StreamID] = append(out[r.StreamID], r)
	}
	return out, nil
}

// CompletedSessions returns the workspace's sessions completed in [from, to).
func (s *SQLStore) CompletedSessions(ctx context.Context, workspaceID string, from, to time.Time) ([]projection.SessionSummary, error) {
	return s.querySummaries(ctx,
		"SELECT "+summaryColumns+" FROM task_sessions"+
			" WHERE workspace_id = ? AND completed_at IS NOT NULL AND completed_at >= ? AND completed_at < ?"+
			" ORDER BY completed_at DESC, id ASC",
		workspaceID, from.UnixNano(), to.UnixNano())
}

func (s *SQLStore) querySummary(ctx context.Context, q string, args ...any) (projection.SessionSummary, bool, error) {
	sum, err := scanSummary(s.drv.QueryRow(ctx, q, args...))
	if isNoRows(err) {
		return projection.SessionSummary{}, false, nil
	}
	if err != nil {
		return projection.SessionSummary{}, false, events.StorageError("query session", err)
	}
	return sum, true, nil
}

func (s *SQLStore) querySummaries(ctx context.Context, q string, args ...any) ([]projection.SessionSummary, error) {
	rows, err := s.drv.Query(ctx, q, args...)
	if err != nil {
		return nil, events.StorageError("query sessions", err)
	}
	defer func() { _ = rows.Close() }()

	var out []projection.SessionSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, events.StorageError("scan session", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, events.StorageError("iterate sessions", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (projection.SessionSummary, error) {
	var (
		sum                  projection.SessionSummary
		status               string
		createdAt, updatedAt int64
		completedAt          sql.NullInt64
	)
	if err := row.Scan(&sum.ID, &sum.WorkspaceID, &sum.UserID, &status, &sum.Title, &sum.Provider,
		&sum.LastSummary, &sum.SlackChannel, &sum.SlackThreadTS, &sum.Version,
		&createdAt, &updatedAt, &completedAt); err != nil {
		return projection.SessionSummary{}, err
	}
	sum.Status = session.TaskStatus(status)
	sum.CreatedAt = fromNanos(createdAt)
	sum.UpdatedAt = fromNanos(updatedAt)
	if completedAt.Valid {
		t := fromNanos(completedAt.Int64)
		sum.CompletedAt = &t
	}
	return sum, nil
}
