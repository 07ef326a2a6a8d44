package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/projection"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
)

// MemoryStore keeps streams and summaries in process memory.
// Events pass through the record codec so loads behave like durable backends.
type MemoryStore struct {
	mu        sync.RWMutex
	streams   map[string][]events.Record
	summaries map[string]projection.SessionSummary
	ids       session.IDGenerator
}

var (
	_ events.Store            = (*MemoryStore)(nil)
	_ events.RecordReader     = (*MemoryStore)(nil)
	_ projection.SummaryStore = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store. A nil ids uses UUIDv7.
func NewMemoryStore(ids session.IDGenerator) *MemoryStore {
	if ids == nil {
		ids = session.UUIDv7{}
	}
	return &MemoryStore{
		streams:   make(map[string][]events.Record),
		summaries: make(map[string]projection.SessionSummary),
		ids:       ids,
	}
}

func (s *MemoryStore) Load(ctx context.Context, streamID string) ([]session.Event, error) {
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

func (s *MemoryStore) LoadRecords(_ context.Context, streamID string) ([]events.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.streams[streamID]), nil
}

func (s *MemoryStore) Streams(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *MemoryStore) Append(_ context.Context, streamID string, expectedVersion int64, evts []session.Event) (events.AppendResult, error) {
	records, err := events.ToRecords(streamID, expectedVersion, evts, s.ids)
	if err != nil {
		return events.AppendResult{}, events.StorageError("encode events", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := int64(len(s.streams[streamID])) - 1
	if err := events.CheckVersion(streamID, expectedVersion, current); err != nil {
		return events.AppendResult{}, err
	}
	if len(records) == 0 {
		return events.AppendResult{NewVersion: expectedVersion}, nil
	}
	s.streams[streamID] = append(s.streams[streamID], records...)
	return events.AppendResult{NewVersion: expectedVersion + int64(len(records))}, nil
}

func (s *MemoryStore) SaveSummary(_ context.Context, sum projection.SessionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[sum.ID] = sum
	return nil
}

func (s *MemoryStore) GetSummary(_ context.Context, id string) (projection.SessionSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[id]
	return sum, ok, nil
}

func (s *MemoryStore) ListSummaries(context.Context) ([]projection.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]projection.SessionSummary, 0, len(s.summaries))
	for _, sum := range s.summaries {
		out = append(out, sum)
	}
	projection.SortSummaries(out)
	return out, nil
}
