package application

import (
	"context"
	"log/slog"
	"sync"

	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
)

// Delivery is the outcome of sending one committed event to one adapter.
type Delivery struct {
	Adapter   string
	EventType session.EventType
	Version   int64
	Err       error
}

// Notifier delivers committed events to external systems. Notify must not
// block on delivery; outcomes arrive on the returned channel, which is closed
// once every adapter has finished.
type Notifier interface {
	Notify(ctx context.Context, c events.Committed) <-chan Delivery
}

// NotificationRelay forwards committed events to a Notifier. Failed
// deliveries are logged and never reach the command caller.
type NotificationRelay struct {
	notifier Notifier
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewNotificationRelay creates a relay for n.
func NewNotificationRelay(n Notifier, logger *slog.Logger) *NotificationRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationRelay{notifier: n, logger: logger}
}

// Register subscribes the relay to every event type.
func (r *NotificationRelay) Register(d *events.Dispatcher) {
	d.RegisterWildcard("notifier", r.Handle)
}

// Handle starts delivery of c and returns without waiting for it.
// Internal bookkeeping events are not sent.
func (r *NotificationRelay) Handle(ctx context.Context, c events.Committed) error {
	if c.Event.EventType().IsInternal() {
		return nil
	}
	results := r.notifier.Notify(context.WithoutCancel(ctx), c)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for d := range results {
			if d.Err != nil {
				r.logger.Warn("notification failed",
					"adapter", d.Adapter, "stream", c.StreamID,
					"event", d.EventType, "version", d.Version, "error", d.Err)
				continue
			}
			r.logger.Debug("notification delivered",
				"adapter", d.Adapter, "stream", c.StreamID, "event", d.EventType)
		}
	}()
	return nil
}

// Wait blocks until every started delivery has reported.
func (r *NotificationRelay) Wait() {
	r.wg.Wait()
}
