package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/fortify/timeout"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/taskstream/pkg/application"
	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	defaultTimeout    = 10 * time.Second
)

// Dispatcher fans committed events out to every matching route.
type Dispatcher struct {
	routes      []Route
	deadLetters *DeadLetterStore
	logger      *slog.Logger
	now         func() time.Time
}

var _ application.Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher. deadLetters may be nil.
func NewDispatcher(routes []Route, deadLetters *DeadLetterStore, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		routes:      routes,
		deadLetters: deadLetters,
		logger:      logger,
		now:         time.Now,
	}
}

// Routes returns the configured routes.
func (d *Dispatcher) Routes() []Route { return d.routes }

// Notify starts delivery and returns at once. The channel receives one
// Delivery per matching route and is closed when all of them finish.
func (d *Dispatcher) Notify(ctx context.Context, c events.Committed) <-chan application.Delivery {
	var matched []Route
	for _, r := range d.routes {
		if r.Config.Matches(c.Event.EventType()) {
			matched = append(matched, r)
		}
	}

	out := make(chan application.Delivery, len(matched))
	if len(matched) == 0 {
		close(out)
		return out
	}

	msg := NewMessage(c)
	go func() {
		defer close(out)
		var g errgroup.Group
		for _, r := range matched {
			g.Go(func() error {
				err := d.deliver(ctx, r, msg)
				out <- application.Delivery{
					Adapter:   r.Adapter.Name(),
					EventType: msg.EventType,
					Version:   msg.Version,
					Err:       err,
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, r Route, msg Message) error {
	attempts := r.Config.MaxRetries
	if attempts <= 0 {
		attempts = defaultMaxRetries
	}
	delay := r.Config.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	limit := r.Config.Timeout
	if limit <= 0 {
		limit = defaultTimeout
	}

	rt := retry.New[struct{}](retry.Config{
		MaxAttempts:   attempts,
		InitialDelay:  delay,
		BackoffPolicy: retry.BackoffExponential,
	})
	tm := timeout.New[struct{}](timeout.Config{DefaultTimeout: limit})

	_, err := rt.Do(ctx, func(ctx context.Context) (struct{}, error) {
		return tm.Execute(ctx, limit, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, r.Adapter.Send(ctx, msg)
		})
	})
	if err == nil {
		return nil
	}

	d.logger.Warn("delivery exhausted retries",
		"adapter", r.Adapter.Name(), "stream", msg.StreamID, "event", msg.EventType, "error", err)
	d.deadLetter(r, msg, attempts, err)
	return err
}

func (d *Dispatcher) deadLetter(r Route, msg Message, attempts int, cause error) {
	if d.deadLetters == nil {
		return
	}
	body, err := json.Marshal(msg)
	if err != nil {
		d.logger.Error("marshal dead letter", "error", err)
		return
	}
	dl := DeadLetter{
		Timestamp: d.now(),
		Adapter:   r.Adapter.Name(),
		URL:       r.Config.URL,
		StreamID:  msg.StreamID,
		Version:   msg.Version,
		EventType: string(msg.EventType),
		Payload:   string(body),
		Error:     cause.Error(),
		Attempts:  attempts,
	}
	if err := d.deadLetters.Append(dl); err != nil {
		d.logger.Error("write dead letter", "path", d.deadLetters.Path(), "error", err)
	}
}
