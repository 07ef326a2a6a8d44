package projection

import (
	"cmp"
	"slices"
	"time"

	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
)

// SortNewestFirst orders records by creation time descending. Ties break by
// stream id, then by version descending.
func SortNewestFirst(records []events.Record) {
	slices.SortStableFunc(records, func(a, b events.Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if c := cmp.Compare(a.StreamID, b.StreamID); c != 0 {
			return c
		}
		return cmp.Compare(b.Version, a.Version)
	})
}

// FilterEvents returns the records passing filter, newest first, truncated
// to filter.Limit when it is positive. The input is not modified.
func FilterEvents(records []events.Record, filter EventFilter) []events.Record {
	out := make([]events.Record, 0, len(records))
	for _, r := range records {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	SortNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// UnresolvedFromRecords computes the open blocks of one stream: every blocked
// record whose id no block_resolved record references. Newest first.
func UnresolvedFromRecords(records []events.Record) []BlockRecord {
	resolved := make(map[string]struct{})
	for _, r := range records {
		if r.Type == session.EventBlockResolved {
			resolved[r.RelatedID] = struct{}{}
		}
	}

	var open []events.Record
	for _, r := range records {
		if r.Type != session.EventTaskBlocked {
			continue
		}
		if _, ok := resolved[r.ID]; ok {
			continue
		}
		open = append(open, r)
	}
	SortNewestFirst(open)

	blocks := make([]BlockRecord, 0, len(open))
	for _, r := range open {
		blocks = append(blocks, BlockRecord{
			ID:        r.ID,
			SessionID: r.StreamID,
			Reason:    r.Summary,
			CreatedAt: r.CreatedAt,
		})
	}
	return blocks
}

// CompletionFromRecords returns the time between the started and the first
// completed record of a stream.
func CompletionFromRecords(records []events.Record) (time.Duration, bool) {
	var (
		started   *time.Time
		completed *time.Time
	)
	for i := range records {
		switch records[i].Type {
		case session.EventTaskStarted:
			if started == nil {
				started = &records[i].CreatedAt
			}
		case session.EventTaskCompleted:
			if completed == nil {
				completed = &records[i].CreatedAt
			}
		}
	}
	if started == nil || completed == nil {
		return 0, false
	}
	return completed.Sub(*started), true
}

// SortSummaries orders summaries by UpdatedAt descending, then by id.
func SortSummaries(sums []SessionSummary) {
	slices.SortStableFunc(sums, func(a, b SessionSummary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// SortByCompletion orders completed summaries by CompletedAt descending.
func SortByCompletion(sums []SessionSummary) {
	slices.SortStableFunc(sums, func(a, b SessionSummary) int {
		var at, bt time.Time
		if a.CompletedAt != nil {
			at = *a.CompletedAt
		}
		if b.CompletedAt != nil {
			bt = *b.CompletedAt
		}
		if c := bt.Compare(at); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
