package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/projection"
)

// Invalidator drops cached read-side entries for a session.
type Invalidator interface {
	Invalidate(ctx context.Context, sessionID string) error
}

// Projector keeps the session summary mirror in step with committed events.
type Projector struct {
	summaries   projection.SummaryStore
	invalidator Invalidator
	logger      *slog.Logger
}

// NewProjector creates a projector. invalidator may be nil.
func NewProjector(summaries projection.SummaryStore, invalidator Invalidator, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{summaries: summaries, invalidator: invalidator, logger: logger}
}

// Register subscribes the projector to every event type.
func (p *Projector) Register(d *events.Dispatcher) {
	d.RegisterWildcard("summary-projector", p.Handle)
}

// Handle applies one committed event. Events at or below the stored summary
// version are skipped, so redelivery is harmless.
func (p *Projector) Handle(ctx context.Context, c events.Committed) error {
	sum, ok, err := p.summaries.GetSummary(ctx, c.StreamID)
	if err != nil {
		return fmt.Errorf("load summary %s: %w", c.StreamID, err)
	}
	if ok && c.Version <= sum.Version {
		return nil
	}
	sum = projection.Apply(sum, c.Version, c.Event, c.State)
	if err := p.summaries.SaveSummary(ctx, sum); err != nil {
		return fmt.Errorf("save summary %s: %w", c.StreamID, err)
	}
	p.invalidate(ctx, c.StreamID)
	return nil
}

// Rebuild recomputes every summary from the event log and returns how many
// sessions were written.
func (p *Projector) Rebuild(ctx context.Context, reader events.RecordReader) (int, error) {
	streams, err := reader.Streams(ctx)
	if err != nil {
		return 0, fmt.Errorf("list streams: %w", err)
	}

	n := 0
	for _, id := range streams {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		records, err := reader.LoadRecords(ctx, id)
		if err != nil {
			return n, fmt.Errorf("load stream %s: %w", id, err)
		}
		evts, err := events.FromRecords(records)
		if err != nil {
			return n, fmt.Errorf("decode stream %s: %w", id, err)
		}
		sum, ok := projection.Summarize(id, evts)
		if !ok {
			continue
		}
		if err := p.summaries.SaveSummary(ctx, sum); err != nil {
			return n, fmt.Errorf("save summary %s: %w", id, err)
		}
		p.invalidate(ctx, id)
		n++
	}
	p.logger.Info("summaries rebuilt", "sessions", n)
	return n, nil
}

func (p *Projector) invalidate(ctx context.Context, id string) {
	if p.invalidator == nil {
		return
	}
	if err := p.invalidator.Invalidate(ctx, id); err != nil {
		p.logger.Warn("cache invalidation failed", "session", id, "error", err)
	}
}
