package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felixgeelhaar/taskstream/pkg/application"
	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
	"github.com/felixgeelhaar/taskstream/pkg/storage"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	now := t0
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Minute)
		return now
	}
}

func sequentialIDs() session.IDGenerator {
	var n atomic.Int64
	return session.IDGeneratorFunc(func() (string, error) {
		return fmt.Sprintf("id-%03d", n.Add(1)), nil
	})
}

func startCmd() session.StartTask {
	return session.StartTask{
		Issue:          session.Issue{Provider: "jira", ID: "ENG-7", Title: "Fix login"},
		InitialSummary: "looking into it",
		WorkspaceID:    "ws-1",
		UserID:         "u-1",
	}
}

// racingStore appends a competing event before the first n appends it sees.
type racingStore struct {
	*storage.MemoryStore
	races   int
	appends int
}

func (s *racingStore) Append(ctx context.Context, streamID string, expected int64, evts []session.Event) (events.AppendResult, error) {
	s.appends++
	if s.races > 0 {
		s.races--
		competing := session.TaskUpdated{Summary: "from another writer", At: t0}
		if _, err := s.MemoryStore.Append(ctx, streamID, expected, []session.Event{competing}); err != nil {
			return events.AppendResult{}, err
		}
	}
	return s.MemoryStore.Append(ctx, streamID, expected, evts)
}

type failingStore struct {
	*storage.MemoryStore
	err error
}

func (s *failingStore) Append(context.Context, string, int64, []session.Event) (events.AppendResult, error) {
	return events.AppendResult{}, s.err
}

type recordingObserver struct {
	mu        sync.Mutex
	outcomes  []string
	conflicts int
}

func (o *recordingObserver) CommandHandled(command, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, command+":"+outcome)
}

func (o *recordingObserver) ConflictRetried(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conflicts++
}

func TestSessionService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(nil)
	svc := application.NewSessionService(store,
		application.WithClock(fixedClock()),
		application.WithIDs(sequentialIDs()),
	)

	res, err := svc.Start(ctx, startCmd())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Version != 0 {
		t.Errorf("start version = %d, want 0", res.Version)
	}
	id := res.StreamID

	res, err = svc.Execute(ctx, id, session.ReportBlock{Reason: "waiting on API"})
	if err != nil {
		t.Fatalf("ReportBlock: %v", err)
	}
	if res.State.Status != session.StatusBlocked {
		t.Errorf("status = %s, want blocked", res.State.Status)
	}
	blockID := res.State.UnresolvedBlocks[0].ID

	if _, err := svc.Execute(ctx, id, session.ResolveBlock{BlockID: blockID}); err != nil {
		t.Fatalf("ResolveBlock: %v", err)
	}
	res, err = svc.Execute(ctx, id, session.CompleteTask{Summary: "shipped"})
	if err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if res.Version != 3 {
		t.Errorf("version = %d, want 3", res.Version)
	}

	state, version, err := svc.State(ctx, id)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.Status != session.StatusCompleted || version != 3 {
		t.Errorf("State = %s@%d, want completed@3", state.Status, version)
	}

	violations, err := svc.Audit(ctx, id)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if len(violations) != 0 {
		t.Errorf("unexpected violations: %v", violations)
	}
}

func TestSessionService_DomainErrorsReturnImmediately(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{MemoryStore: storage.NewMemoryStore(nil)}
	obs := &recordingObserver{}
	svc := application.NewSessionService(store, application.WithObserver(obs))

	_, err := svc.Execute(ctx, "missing", session.AddProgress{Summary: "x"})
	if !errors.Is(err, session.ErrStreamNotFound) {
		t.Fatalf("err = %v, want ErrStreamNotFound", err)
	}

	res, err := svc.Start(ctx, startCmd())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Execute(ctx, res.StreamID, session.CancelTask{Reason: "dup"}); err != nil {
		t.Fatal(err)
	}
	_, err = svc.Execute(ctx, res.StreamID, session.ResumeTask{Summary: "back"})
	if !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if store.appends != 2 {
		t.Errorf("appends = %d, want 2", store.appends)
	}
	if got := obs.outcomes[len(obs.outcomes)-1]; got != "resume_task:rejected" {
		t.Errorf("last outcome = %q", got)
	}
}

func TestSessionService_RetriesConflicts(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewMemoryStore(nil)
	obs := &recordingObserver{}
	svc := application.NewSessionService(inner, application.WithRetry(3, time.Millisecond))

	res, err := svc.Start(ctx, startCmd())
	if err != nil {
		t.Fatal(err)
	}

	racing := &racingStore{MemoryStore: inner, races: 2}
	svc = application.NewSessionService(racing,
		application.WithRetry(5, time.Millisecond),
		application.WithObserver(obs),
	)
	out, err := svc.Execute(ctx, res.StreamID, session.PauseTask{Reason: "lunch"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// Two competing updates landed first.
	if out.Version != 3 {
		t.Errorf("version = %d, want 3", out.Version)
	}
	if obs.conflicts != 2 {
		t.Errorf("conflicts = %d, want 2", obs.conflicts)
	}

	history, err := inner.Load(ctx, res.StreamID)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := history[len(history)-1].(session.TaskPaused); !ok {
		t.Errorf("last event = %T, want TaskPaused", history[len(history)-1])
	}
}

func TestSessionService_ConflictRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewMemoryStore(nil)
	res, err := application.NewSessionService(inner).Start(ctx, startCmd())
	if err != nil {
		t.Fatal(err)
	}

	obs := &recordingObserver{}
	racing := &racingStore{MemoryStore: inner, races: 10}
	svc := application.NewSessionService(racing,
		application.WithRetry(2, time.Millisecond),
		application.WithObserver(obs),
	)
	_, err = svc.Execute(ctx, res.StreamID, session.AddProgress{Summary: "mine"})
	if !errors.Is(err, events.ErrConcurrencyConflict) {
		t.Fatalf("err = %v, want ErrConcurrencyConflict", err)
	}
	if got := obs.outcomes[len(obs.outcomes)-1]; got != "add_progress:conflict" {
		t.Errorf("outcome = %q", got)
	}
}

func TestSessionService_StorageErrorsAreNotRetried(t *testing.T) {
	ctx := context.Background()
	boom := events.StorageError("append", errors.New("disk full"))
	obs := &recordingObserver{}
	svc := application.NewSessionService(
		&failingStore{MemoryStore: storage.NewMemoryStore(nil), err: boom},
		application.WithObserver(obs),
	)

	_, err := svc.Start(ctx, startCmd())
	if !errors.Is(err, events.ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
	if obs.conflicts != 0 {
		t.Errorf("conflicts = %d, want 0", obs.conflicts)
	}
	if got := obs.outcomes[0]; got != "start_task:error" {
		t.Errorf("outcome = %q", got)
	}
}

func TestSessionService_StateOfMissingStream(t *testing.T) {
	svc := application.NewSessionService(storage.NewMemoryStore(nil))
	_, version, err := svc.State(context.Background(), "nope")
	if !errors.Is(err, session.ErrStreamNotFound) {
		t.Fatalf("err = %v", err)
	}
	if version != events.NoStream {
		t.Errorf("version = %d, want NoStream", version)
	}
}

func TestSessionService_DispatchesCommittedEvents(t *testing.T) {
	ctx := context.Background()
	d := events.NewDispatcher()
	var got []events.Committed
	d.RegisterWildcard("recorder", func(_ context.Context, c events.Committed) error {
		got = append(got, c)
		return nil
	})
	d.RegisterHandler("broken", func(context.Context, events.Committed) error {
		return errors.New("handler failed")
	}, session.EventTaskStarted)

	svc := application.NewSessionService(storage.NewMemoryStore(nil), application.WithDispatcher(d))
	res, err := svc.Start(ctx, startCmd())
	if err != nil {
		t.Fatalf("dispatch failure leaked into Start: %v", err)
	}
	if _, err := svc.Execute(ctx, res.StreamID, session.ReportBlock{Reason: "x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Execute(ctx, res.StreamID, session.PauseTask{Reason: "bad"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Execute(ctx, res.StreamID, session.CompleteTask{}); err == nil {
		t.Fatal("expected paused session to reject completion")
	}

	if len(got) != 3 {
		t.Fatalf("dispatched %d events, want 3", len(got))
	}
	for i, c := range got {
		if c.Version != int64(i) {
			t.Errorf("event %d version = %d", i, c.Version)
		}
		if c.StreamID != res.StreamID {
			t.Errorf("event %d stream = %s", i, c.StreamID)
		}
	}
	if got[1].State.Status != session.StatusBlocked {
		t.Errorf("post-event state = %s, want blocked", got[1].State.Status)
	}
}
