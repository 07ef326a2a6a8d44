// Package application runs task session commands against an event store and
// keeps the read side in step with committed events.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
)

// Command outcomes reported to the Observer.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// Result is the outcome of a successful command.
type Result struct {
	StreamID string
	Version  int64
	Events   []session.Event
	State    session.TaskState
}

// SessionService executes commands: load, replay, decide, append.
// An append that loses an optimistic concurrency race is retried from the
// load step; every other failure returns at once.
type SessionService struct {
	store      events.Store
	decider    session.Decider
	ids        session.IDGenerator
	clock      func() time.Time
	dispatcher *events.Dispatcher
	logger     *slog.Logger
	observer   Observer
	retryCfg   retry.Config
}

// NewSessionService creates a session service over store.
func NewSessionService(store events.Store, opts ...Option) *SessionService {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &SessionService{
		store:      store,
		decider:    session.NewDecider(o.ids),
		ids:        o.ids,
		clock:      o.clock,
		dispatcher: o.dispatcher,
		logger:     o.logger,
		observer:   o.observer,
		retryCfg: retry.Config{
			MaxAttempts:   o.maxAttempts,
			InitialDelay:  o.initialDelay,
			BackoffPolicy: retry.BackoffExponential,
		},
	}
}

// Start opens a new stream with a fresh id.
func (s *SessionService) Start(ctx context.Context, cmd session.StartTask) (*Result, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("allocate stream id: %w", err)
	}
	return s.Execute(ctx, id, cmd)
}

// Execute runs cmd against the stream. Committed events are dispatched after
// the append succeeds; dispatch failures are logged and do not fail the command.
func (s *SessionService) Execute(ctx context.Context, streamID string, cmd session.Command) (*Result, error) {
	start := time.Now()
	name := cmd.CommandName()

	var (
		permanent    error
		lastConflict error
		batch        []events.Committed
	)
	r := retry.New[*Result](s.retryCfg)
	res, err := r.Do(ctx, func(ctx context.Context) (*Result, error) {
		res, committed, err := s.attempt(ctx, streamID, cmd)
		switch {
		case err == nil:
			batch = committed
			return res, nil
		case errors.Is(err, events.ErrConcurrencyConflict):
			lastConflict = err
			s.observer.ConflictRetried(name)
			s.logger.Debug("append conflict, retrying", "stream", streamID, "command", name, "error", err)
			return nil, err
		default:
			permanent = err
			return nil, nil
		}
	})

	switch {
	case permanent != nil:
		outcome := OutcomeError
		if session.IsDomainError(permanent) {
			outcome = OutcomeRejected
		}
		s.observer.CommandHandled(name, outcome, time.Since(start))
		return nil, permanent
	case err != nil && lastConflict != nil:
		s.observer.CommandHandled(name, OutcomeConflict, time.Since(start))
		if errors.Is(err, events.ErrConcurrencyConflict) {
			return nil, fmt.Errorf("%s on stream %s: %w", name, streamID, err)
		}
		return nil, fmt.Errorf("%s on stream %s: %w: %w", name, streamID, lastConflict, err)
	case err != nil:
		s.observer.CommandHandled(name, OutcomeError, time.Since(start))
		return nil, fmt.Errorf("%s on stream %s: %w", name, streamID, err)
	case res == nil:
		return nil, fmt.Errorf("%s on stream %s: no result", name, streamID)
	}

	s.observer.CommandHandled(name, OutcomeOK, time.Since(start))
	s.logger.Info("command executed",
		"stream", streamID, "command", name, "events", len(res.Events), "version", res.Version)

	if s.dispatcher != nil {
		if err := s.dispatcher.DispatchAll(ctx, batch); err != nil {
			s.logger.Warn("post-commit dispatch failed", "stream", streamID, "command", name, "error", err)
		}
	}
	return res, nil
}

func (s *SessionService) attempt(ctx context.Context, streamID string, cmd session.Command) (*Result, []events.Committed, error) {
	history, err := s.store.Load(ctx, streamID)
	if err != nil {
		return nil, nil, err
	}
	state := session.Replay(streamID, history)

	evts, err := s.decider.Decide(state, cmd, s.clock())
	if err != nil {
		return nil, nil, err
	}

	expected := int64(len(history)) - 1
	appended, err := s.store.Append(ctx, streamID, expected, evts)
	if err != nil {
		return nil, nil, err
	}

	batch := events.CommitBatch(state, expected+1, evts)
	return &Result{
		StreamID: streamID,
		Version:  appended.NewVersion,
		Events:   evts,
		State:    batch[len(batch)-1].State,
	}, batch, nil
}

// State replays a stream and returns its state and version.
// A stream without events returns session.ErrStreamNotFound.
func (s *SessionService) State(ctx context.Context, streamID string) (session.TaskState, int64, error) {
	history, err := s.store.Load(ctx, streamID)
	if err != nil {
		return session.TaskState{}, events.NoStream, err
	}
	if len(history) == 0 {
		return session.TaskState{}, events.NoStream, fmt.Errorf("%w: %s", session.ErrStreamNotFound, streamID)
	}
	return session.Replay(streamID, history), int64(len(history)) - 1, nil
}

// Audit checks a stored stream against the status machine.
func (s *SessionService) Audit(ctx context.Context, streamID string) ([]session.Violation, error) {
	history, err := s.store.Load(ctx, streamID)
	if err != nil {
		return nil, err
	}
	return session.AuditStream(streamID, history)
}
