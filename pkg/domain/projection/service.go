package projection

import (
	"context"
	"time"

	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
)

// Service implements Reader over any record reader and summary store.
type Service struct {
	records   events.RecordReader
	summaries SummaryStore
}

var _ Reader = (*Service)(nil)

// NewService creates a query service.
func NewService(records events.RecordReader, summaries SummaryStore) *Service {
	return &Service{records: records, summaries: summaries}
}

func (s *Service) FindSession(ctx context.Context, id, workspaceID, userID string) (SessionSummary, bool, error) {
	sum, ok, err := s.summaries.GetSummary(ctx, id)
	if err != nil {
		return SessionSummary{}, false, events.StorageError("find session", err)
	}
	if !ok || sum.WorkspaceID != workspaceID || sum.UserID != userID {
		return SessionSummary{}, false, nil
	}
	return sum, true, nil
}

func (s *Service) ListSessions(ctx context.Context, filter SessionFilter) ([]SessionSummary, error) {
	all, err := s.summaries.ListSummaries(ctx)
	if err != nil {
		return nil, events.StorageError("list sessions", err)
	}

	out := make([]SessionSummary, 0, len(all))
	for _, sum := range all {
		if filter.Matches(sum) {
			out = append(out, sum)
		}
	}
	SortSummaries(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Service) ListEvents(ctx context.Context, sessionID string, filter EventFilter) ([]events.Record, error) {
	records, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return FilterEvents(records, filter), nil
}

func (s *Service) UnresolvedBlocks(ctx context.Context, sessionIDs ...string) (map[string][]BlockRecord, error) {
	out := make(map[string][]BlockRecord, len(sessionIDs))
	for _, id := range sessionIDs {
		records, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if blocks := UnresolvedFromRecords(records); len(blocks) > 0 {
			out[id] = blocks
		}
	}
	return out, nil
}

func (s *Service) CompletionDuration(ctx context.Context, sessionID string) (time.Duration, bool, error) {
	records, err := s.load(ctx, sessionID)
	if err != nil {
		return 0, false, err
	}
	d, ok := CompletionFromRecords(records)
	return d, ok, nil
}

func (s *Service) LatestEvents(ctx context.Context, sessionIDs []string, eventType session.EventType, n int) (map[string][]events.Record, error) {
	out := make(map[string][]events.Record, len(sessionIDs))
	if n <= 0 {
		return out, nil
	}
	filter := EventFilter{Types: []session.EventType{eventType}, Limit: n}
	for _, id := range sessionIDs {
		records, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if latest := FilterEvents(records, filter); len(latest) > 0 {
			out[id] = latest
		}
	}
	return out, nil
}

func (s *Service) CompletedSessions(ctx context.Context, workspaceID string, from, to time.Time) ([]SessionSummary, error) {
	all, err := s.summaries.ListSummaries(ctx)
	if err != nil {
		return nil, events.StorageError("list completed sessions", err)
	}

	var out []SessionSummary
	for _, sum := range all {
		if sum.WorkspaceID != workspaceID || sum.CompletedAt == nil {
			continue
		}
		if sum.CompletedAt.Before(from) || !sum.CompletedAt.Before(to) {
			continue
		}
		out = append(out, sum)
	}
	SortByCompletion(out)
	return out, nil
}

func (s *Service) load(ctx context.Context, sessionID string) ([]events.Record, error) {
	records, err := s.records.LoadRecords(ctx, sessionID)
	if err != nil {
		return nil, events.StorageError("load records", err)
	}
	return records, nil
}
