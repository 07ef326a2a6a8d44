package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func committed(ev session.Event) Committed {
	return Committed{StreamID: "s-1", Version: 0, Event: ev}
}

func TestDispatcher_Register(t *testing.T) {
	d := NewDispatcher()

	called := false
	d.RegisterHandler("test-handler", func(ctx context.Context, c Committed) error {
		called = true
		return nil
	}, session.EventTaskUpdated)

	err := d.Dispatch(context.Background(), committed(session.TaskUpdated{Summary: "x", At: t0}))
	if err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
	if !called {
		t.Error("Handler was not called")
	}
}

func TestDispatcher_RegisterMultipleEventTypes(t *testing.T) {
	d := NewDispatcher()

	callCount := 0
	d.Register(HandlerRegistration{
		Name: "multi-handler",
		Handler: func(ctx context.Context, c Committed) error {
			callCount++
			return nil
		},
		EventTypes: []session.EventType{session.EventTaskPaused, session.EventTaskResumed},
	})

	_ = d.Dispatch(context.Background(), committed(session.TaskPaused{PauseID: "p", At: t0}))
	_ = d.Dispatch(context.Background(), committed(session.TaskResumed{ResumedFromPauseID: "p", At: t0}))
	_ = d.Dispatch(context.Background(), committed(session.TaskUpdated{Summary: "ignored", At: t0}))

	if callCount != 2 {
		t.Errorf("Expected 2 calls, got %d", callCount)
	}
}

func TestDispatcher_WildcardRunsAfterSpecific(t *testing.T) {
	d := NewDispatcher()

	var order []string
	d.RegisterWildcard("wildcard", func(ctx context.Context, c Committed) error {
		order = append(order, "wildcard")
		return nil
	})
	d.RegisterHandler("specific", func(ctx context.Context, c Committed) error {
		order = append(order, "specific")
		return nil
	}, session.EventTaskCompleted)

	_ = d.Dispatch(context.Background(), committed(session.TaskCompleted{Summary: "done", At: t0}))

	if len(order) != 2 || order[0] != "specific" || order[1] != "wildcard" {
		t.Errorf("unexpected handler order: %v", order)
	}
}

func TestDispatcher_FailingHandlerDoesNotStopOthers(t *testing.T) {
	d := NewDispatcher()
	testErr := errors.New("handler error")

	var ran []string
	d.RegisterHandler("failing-handler", func(ctx context.Context, c Committed) error {
		ran = append(ran, "failing")
		return testErr
	}, session.EventTaskUpdated)
	d.RegisterHandler("second", func(ctx context.Context, c Committed) error {
		ran = append(ran, "second")
		return nil
	}, session.EventTaskUpdated)
	d.RegisterWildcard("projector", func(ctx context.Context, c Committed) error {
		ran = append(ran, "projector")
		return nil
	})

	err := d.Dispatch(context.Background(), committed(session.TaskUpdated{At: t0}))

	if !errors.Is(err, testErr) {
		t.Errorf("Expected wrapped handler error, got %v", err)
	}
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) || len(dispatchErr.Errors) != 1 {
		t.Fatalf("Expected one collected error, got %v", err)
	}
	if len(ran) != 3 || ran[1] != "second" || ran[2] != "projector" {
		t.Errorf("handlers after the failure did not run: %v", ran)
	}
}

func TestDispatcher_ConcurrentDispatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := NewDispatcher()
	var mu sync.Mutex
	seen := 0
	d.RegisterWildcard("counter", func(ctx context.Context, c Committed) error {
		mu.Lock()
		seen++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Dispatch(context.Background(), committed(session.TaskUpdated{At: t0}))
		}()
	}
	wg.Wait()

	if seen != 8 {
		t.Errorf("seen = %d, want 8", seen)
	}
}

func TestCommitBatch(t *testing.T) {
	before := session.InitialState("s-1")
	evts := []session.Event{
		session.TaskStarted{Issue: session.Issue{Provider: "linear", ID: "ENG-1"}, InitialSummary: "go", At: t0},
		session.TaskBlocked{BlockID: "b1", Reason: "waiting", At: t0.Add(time.Minute)},
	}

	batch := CommitBatch(before, 0, evts)

	if len(batch) != 2 {
		t.Fatalf("Expected 2 committed events, got %d", len(batch))
	}
	if batch[0].Version != 0 || batch[1].Version != 1 {
		t.Errorf("unexpected versions %d, %d", batch[0].Version, batch[1].Version)
	}
	if batch[0].State.Status != session.StatusInProgress {
		t.Errorf("Expected in_progress after start, got %s", batch[0].State.Status)
	}
	if batch[1].State.Status != session.StatusBlocked || len(batch[1].State.UnresolvedBlocks) != 1 {
		t.Errorf("Expected blocked with one block, got %+v", batch[1].State)
	}
}

func TestDispatchAll_CollectsEveryFailure(t *testing.T) {
	d := NewDispatcher()
	d.RegisterWildcard("always-fails", func(ctx context.Context, c Committed) error {
		return errors.New("boom")
	})

	batch := CommitBatch(session.InitialState("s-1"), 0, []session.Event{
		session.TaskStarted{At: t0},
		session.TaskUpdated{Summary: "u", At: t0},
	})
	err := d.DispatchAll(context.Background(), batch)

	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) || len(dispatchErr.Errors) != 2 {
		t.Fatalf("Expected two collected errors, got %v", err)
	}
}

func TestDispatchError_Error(t *testing.T) {
	singleErr := &DispatchError{Errors: []error{errors.New("single error")}}
	if singleErr.Error() != "single error" {
		t.Errorf("Expected single error message, got: %s", singleErr.Error())
	}

	multiErr := &DispatchError{Errors: []error{errors.New("error 1"), errors.New("error 2")}}
	if multiErr.Error() != "multiple dispatch errors (2)" {
		t.Errorf("unexpected message %q", multiErr.Error())
	}
}
