package application

import (
	"log/slog"
	"time"

	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
)

type options struct {
	clock        func() time.Time
	ids          session.IDGenerator
	dispatcher   *events.Dispatcher
	logger       *slog.Logger
	observer     Observer
	maxAttempts  int
	initialDelay time.Duration
}

func defaultOptions() options {
	return options{
		clock:        time.Now,
		ids:          session.UUIDv7{},
		logger:       slog.Default(),
		observer:     nopObserver{},
		maxAttempts:  5,
		initialDelay: 5 * time.Millisecond,
	}
}

// Option configures the session service.
type Option func(*options)

// WithClock sets the time source passed to the decider.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithIDs sets the generator for stream, block and pause ids.
func WithIDs(ids session.IDGenerator) Option {
	return func(o *options) { o.ids = ids }
}

// WithDispatcher sets the dispatcher that receives committed events.
func WithDispatcher(d *events.Dispatcher) Option {
	return func(o *options) { o.dispatcher = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver sets the receiver of command outcomes.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithRetry configures conflict retry behaviour.
func WithRetry(maxAttempts int, initialDelay time.Duration) Option {
	return func(o *options) {
		o.maxAttempts = maxAttempts
		o.initialDelay = initialDelay
	}
}

// Observer receives command outcomes, typically for metrics.
type Observer interface {
	CommandHandled(command string, outcome string, elapsed time.Duration)
	ConflictRetried(command string)
}

type nopObserver struct{}

func (nopObserver) CommandHandled(string, string, time.Duration) {}
func (nopObserver) ConflictRetried(string)                       {}
