package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
	"github.com/felixgeelhaar/taskstream/pkg/storage"
)

func TestFSWatcher_BatchesMatchingFiles(t *testing.T) {
	dir := t.TempDir()

	var (
		mu  sync.Mutex
		got [][]string
	)
	w, err := NewFSWatcher(50*time.Millisecond, isStreamFile, func(paths []string) {
		mu.Lock()
		got = append(got, paths)
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Add(dir); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	for _, name := range []string{"a.jsonl", "b.jsonl", "ignored.lock"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(250 * time.Millisecond)
	cancel()

	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 {
		t.Fatal("expected a change batch")
	}
	seen := map[string]bool{}
	for _, batch := range got {
		for _, p := range batch {
			seen[filepath.Base(p)] = true
		}
	}
	if !seen["a.jsonl"] || !seen["b.jsonl"] {
		t.Errorf("missing stream files in %v", got)
	}
	if seen["ignored.lock"] {
		t.Error("lock file should be filtered")
	}
}

func TestFSWatcher_ContextCancellation(t *testing.T) {
	w, err := NewFSWatcher(50*time.Millisecond, nil, func([]string) {})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Add(t.TempDir()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("watcher did not stop after context cancellation")
	}
}

func TestTail_ReportsOnlyNewRecords(t *testing.T) {
	ctx := context.Background()
	store := storage.NewFileEventStore(t.TempDir(), nil)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := store.Append(ctx, "s1", events.NoStream, []session.Event{session.TaskStarted{At: at}}); err != nil {
		t.Fatal(err)
	}

	var (
		mu  sync.Mutex
		got []events.Record
	)
	tail := NewTail(store.Dir(), store, 30*time.Millisecond, func(r events.Record) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	}, nil)
	if err := tail.Skip(ctx); err != nil {
		t.Fatal(err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = tail.Run(runCtx) }()
	time.Sleep(50 * time.Millisecond)

	if _, err := store.Append(ctx, "s1", 0, []session.Event{session.TaskUpdated{Summary: "half way", At: at}}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Append(ctx, "s2", events.NoStream, []session.Event{session.TaskStarted{At: at}}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(got), got)
	}
	byStream := map[string]events.Record{}
	for _, r := range got {
		byStream[r.StreamID] = r
	}
	if r := byStream["s1"]; r.Version != 1 || r.Summary != "half way" {
		t.Errorf("s1 record = %+v", r)
	}
	if r := byStream["s2"]; r.Version != 0 {
		t.Errorf("s2 record = %+v", r)
	}
}
