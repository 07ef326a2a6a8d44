package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/projection"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
	"github.com/felixgeelhaar/taskstream/pkg/storage/driver"
)

//go:embed schema/*.sql schema/postgres/*.sql
var schemaFS embed.FS

// schemaType names the migration set applied by SQLStore.
const schemaType = "events"

const recordColumns = "id, stream_id, version, type, summary, related_id, payload, created_at"

// SQLStore is an event store and query service on SQLite or PostgreSQL.
//
// Append reads the stream's max version and inserts inside one transaction
// under a per-stream lock. The UNIQUE(stream_id, version) constraint backs
// that up: a rejected insert is reported as a conflict when the stream moved.
type SQLStore struct {
	drv    driver.Driver
	ids    session.IDGenerator
	logger *slog.Logger
}

var (
	_ events.Store            = (*SQLStore)(nil)
	_ events.RecordReader     = (*SQLStore)(nil)
	_ projection.SummaryStore = (*SQLStore)(nil)
	_ projection.Reader       = (*SQLStore)(nil)
)

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithSQLIDs sets the row id generator.
func WithSQLIDs(ids session.IDGenerator) SQLOption {
	return func(s *SQLStore) { s.ids = ids }
}

// WithSQLLogger sets the logger.
func WithSQLLogger(l *slog.Logger) SQLOption {
	return func(s *SQLStore) { s.logger = l }
}

// NewSQLStore wraps an open driver and applies pending migrations.
func NewSQLStore(ctx context.Context, drv driver.Driver, opts ...SQLOption) (*SQLStore, error) {
	s := &SQLStore{drv: drv, ids: session.UUIDv7{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if err := drv.Migrate(ctx, driver.FromFS(schemaFS), schemaType); err != nil {
		return nil, events.StorageError("migrate", err)
	}
	return s, nil
}

// OpenSQLStore opens a database and returns a migrated store.
func OpenSQLStore(ctx context.Context, cfg driver.Config, opts ...SQLOption) (*SQLStore, error) {
	drv, err := driver.Open(cfg)
	if err != nil {
		return nil, events.StorageError("open database", err)
	}
	s, err := NewSQLStore(ctx, drv, opts...)
	if err != nil {
		_ = drv.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.drv.Close()
}

// Dialect returns the database dialect.
func (s *SQLStore) Dialect() driver.Dialect {
	return s.drv.Dialect()
}

// Load returns the stream's events in version order.
func (s *SQLStore) Load(ctx context.Context, streamID string) ([]session.Event, error) {
	records, err := s.LoadRecords(ctx, streamID)
	if err != nil {
		return nil, err
	}
	evts, err := events.FromRecords(records)
	if err != nil {
		return nil, events.StorageError("decode events", err)
	}
	return evts, nil
}

// LoadRecords returns the stream's records in version order.
func (s *SQLStore) LoadRecords(ctx context.Context, streamID string) ([]events.Record, error) {
	rows, err := s.drv.Query(ctx,
		"SELECT "+recordColumns+" FROM task_events WHERE stream_id = ? ORDER BY version ASC", streamID)
	if err != nil {
		return nil, events.StorageError("load records", err)
	}
	return scanRecords(rows)
}

// Streams lists every stream id.
func (s *SQLStore) Streams(ctx context.Context) ([]string, error) {
	rows, err := s.drv.Query(ctx, "SELECT DISTINCT stream_id FROM task_events ORDER BY stream_id")
	if err != nil {
		return nil, events.StorageError("list streams", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, events.StorageError("scan stream id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, events.StorageError("iterate streams", err)
	}
	return ids, nil
}

// Append writes evts if the stream is at expectedVersion.
func (s *SQLStore) Append(ctx context.Context, streamID string, expectedVersion int64, evts []session.Event) (events.AppendResult, error) {
	records, err := events.ToRecords(streamID, expectedVersion, evts, s.ids)
	if err != nil {
		return events.AppendResult{}, events.StorageError("encode events", err)
	}

	tx, err := s.drv.BeginTx(ctx, nil)
	if err != nil {
		return events.AppendResult{}, events.StorageError("begin append", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.drv.LockStream(ctx, tx, streamID); err != nil {
		return events.AppendResult{}, events.StorageError("lock stream", err)
	}

	var current int64
	if err := tx.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), -1) FROM task_events WHERE stream_id = ?", streamID,
	).Scan(&current); err != nil {
		return events.AppendResult{}, events.StorageError("read stream version", err)
	}
	if err := events.CheckVersion(streamID, expectedVersion, current); err != nil {
		return events.AppendResult{}, err
	}

	for _, r := range records {
		if _, err := tx.Exec(ctx,
			"INSERT INTO task_events ("+recordColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			r.ID, r.StreamID, r.Version, string(r.Type), r.Summary, nullString(r.RelatedID), string(r.Payload), r.CreatedAt.UnixNano(),
		); err != nil {
			_ = tx.Rollback()
			return events.AppendResult{}, s.insertFailure(ctx, streamID, expectedVersion, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return events.AppendResult{}, s.insertFailure(ctx, streamID, expectedVersion, err)
	}

	newVersion := expectedVersion + int64(len(records))
	s.logger.Debug("appended events", "stream", streamID, "count", len(records), "version", newVersion)
	return events.AppendResult{NewVersion: newVersion}, nil
}

// insertFailure reports a conflict when the stream moved past expected,
// otherwise a storage error.
func (s *SQLStore) insertFailure(ctx context.Context, streamID string, expected int64, cause error) error {
	var current int64
	if err := s.drv.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), -1) FROM task_events WHERE stream_id = ?", streamID,
	).Scan(&current); err == nil && current != expected {
		return &events.ConcurrencyError{StreamID: streamID, Expected: expected, Actual: current}
	}
	return events.StorageError("insert events", cause)
}

// SaveSummary upserts the mirrored session row.
func (s *SQLStore) SaveSummary(ctx context.Context, sum projection.SessionSummary) error {
	_, err := s.drv.Exec(ctx, `
		INSERT INTO task_sessions (`+summaryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			workspace_id = excluded.workspace_id,
			user_id = excluded.user_id,
			status = excluded.status,
			title = excluded.title,
			provider = excluded.provider,
			last_summary = excluded.last_summary,
			slack_channel = excluded.slack_channel,
			slack_thread_ts = excluded.slack_thread_ts,
			version = excluded.version,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at`,
		sum.ID, sum.WorkspaceID, sum.UserID, string(sum.Status), sum.Title, sum.Provider,
		sum.LastSummary, sum.SlackChannel, sum.SlackThreadTS, sum.Version,
		sum.CreatedAt.UnixNano(), sum.UpdatedAt.UnixNano(), nullTime(sum.CompletedAt),
	)
	if err != nil {
		return events.StorageError("save summary", err)
	}
	return nil
}

// GetSummary returns the mirrored session row.
func (s *SQLStore) GetSummary(ctx context.Context, id string) (projection.SessionSummary, bool, error) {
	return s.querySummary(ctx, "SELECT "+summaryColumns+" FROM task_sessions WHERE id = ?", id)
}

// ListSummaries returns every mirrored session row.
func (s *SQLStore) ListSummaries(ctx context.Context) ([]projection.SessionSummary, error) {
	return s.querySummaries(ctx, "SELECT "+summaryColumns+" FROM task_sessions ORDER BY updated_at DESC, id ASC")
}

// Truncate removes every summary row. Used before a rebuild.
func (s *SQLStore) Truncate(ctx context.Context) error {
	if _, err := s.drv.Exec(ctx, "DELETE FROM task_sessions"); err != nil {
		return events.StorageError("truncate summaries", err)
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]events.Record, error) {
	defer func() { _ = rows.Close() }()

	var out []events.Record
	for rows.Next() {
		var (
			r         events.Record
			typ       string
			related   sql.NullString
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.StreamID, &r.Version, &typ, &r.Summary, &related, &payload, &createdAt); err != nil {
			return nil, events.StorageError("scan record", err)
		}
		r.Type = session.EventType(typ)
		r.RelatedID = related.String
		r.Payload = []byte(payload)
		r.CreatedAt = fromNanos(createdAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, events.StorageError("iterate records", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// isNoRows reports the empty single-row result.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// describe formats ids for log lines.
func describe(ids []string) string {
	if len(ids) == 1 {
		return ids[0]
	}
	return fmt.Sprintf("%d sessions", len(ids))
}
