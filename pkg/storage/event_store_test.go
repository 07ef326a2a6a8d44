package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
)

func TestFileEventStore_HashChain(t *testing.T) {
	store := NewFileEventStore(t.TempDir(), nil)
	ctx := context.Background()

	_, err := store.Append(ctx, "task-1", events.NoStream, []session.Event{startedEvent(t0)})
	require.NoError(t, err)
	_, err = store.Append(ctx, "task-1", 0, []session.Event{
		session.TaskUpdated{Summary: "one", At: t0.Add(time.Minute)},
		session.TaskUpdated{Summary: "two", At: t0.Add(2 * time.Minute)},
	})
	require.NoError(t, err)

	lines, err := store.readStream("task-1")
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Empty(t, lines[0].PrevHash, "first record should have empty PrevHash")
	assert.Equal(t, lines[0].Hash, lines[1].PrevHash)
	assert.Equal(t, lines[1].Hash, lines[2].PrevHash)

	violations, err := store.VerifyIntegrity("task-1")
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestFileEventStore_DetectsTampering(t *testing.T) {
	store := NewFileEventStore(t.TempDir(), nil)
	ctx := context.Background()

	_, err := store.Append(ctx, "task-1", events.NoStream, []session.Event{
		startedEvent(t0),
		session.TaskUpdated{Summary: "honest", At: t0.Add(time.Minute)},
	})
	require.NoError(t, err)

	path := filepath.Join(store.Dir(), "task-1.jsonl")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(data), "honest", "forged", -1)), 0600))

	violations, err := store.VerifyIntegrity("task-1")
	require.NoError(t, err)
	require.NotEmpty(t, violations)
	assert.Contains(t, violations[0], "Hash mismatch")
}

func TestFileEventStore_RejectsUnsafeStreamIDs(t *testing.T) {
	store := NewFileEventStore(t.TempDir(), nil)
	ctx := context.Background()

	for _, id := range []string{"", "../escape", "a/b", ".hidden", "with space"} {
		_, err := store.Append(ctx, id, events.NoStream, []session.Event{startedEvent(t0)})
		assert.ErrorIs(t, err, ErrInvalidStreamID, "id %q", id)
	}
}

func TestFileEventStore_LeavesNoTemporaryFiles(t *testing.T) {
	store := NewFileEventStore(t.TempDir(), nil)
	ctx := context.Background()

	_, err := store.Append(ctx, "task-1", events.NoStream, []session.Event{startedEvent(t0)})
	require.NoError(t, err)
	_, err = store.Append(ctx, "task-1", events.NoStream, []session.Event{startedEvent(t0)})
	require.ErrorIs(t, err, events.ErrConcurrencyConflict)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"task-1.jsonl"}, names)

	ids, err := store.Streams(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1"}, ids)
}

func TestFilesystemRepository_Summaries(t *testing.T) {
	repo := NewFilesystemRepository(t.TempDir())
	ctx := context.Background()
	assert.False(t, repo.IsInitialized())

	list, err := repo.ListSummaries(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	for i, id := range []string{"older", "newer"} {
		at := t0.Add(time.Duration(i) * time.Hour)
		require.NoError(t, repo.SaveSummary(ctx, projectionSummary(id, at)))
	}
	assert.True(t, repo.IsInitialized())

	list, err = repo.ListSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[0].ID)

	require.NoError(t, repo.ResetSummaries())
	_, found, err := repo.GetSummary(ctx, "older")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFilesystemRepository_ResolvePath(t *testing.T) {
	repo := NewFilesystemRepository(t.TempDir())

	path, err := repo.ResolvePath(SessionsFile)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(repo.Dir(), SessionsFile), path)

	for _, bad := range []string{"", "../outside.json", "nested/file.json"} {
		_, err := repo.ResolvePath(bad)
		assert.Error(t, err, "path %q", bad)
	}
}

func TestFileEventStore_ReclaimsStaleLock(t *testing.T) {
	ctx := context.Background()
	crashed := time.Now().Add(-time.Hour)

	tests := []struct {
		name  string
		write func(t *testing.T, path string)
	}{
		{"owner recorded", func(t *testing.T, path string) {
			data, err := json.Marshal(lockOwner{PID: 999999, Created: crashed})
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, data, 0600))
		}},
		{"empty lock file", func(t *testing.T, path string) {
			require.NoError(t, os.WriteFile(path, nil, 0600))
			require.NoError(t, os.Chtimes(path, crashed, crashed))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewFileEventStore(t.TempDir(), nil)
			require.NoError(t, os.MkdirAll(store.Dir(), 0750))
			lock := filepath.Join(store.Dir(), "s1.jsonl.lock")
			tt.write(t, lock)

			_, err := store.Append(ctx, "s1", events.NoStream, []session.Event{startedEvent(t0)})
			require.NoError(t, err)

			loaded, err := store.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Len(t, loaded, 1)
			assert.NoFileExists(t, lock)
		})
	}
}

func TestFileEventStore_FreshLockBlocksAppend(t *testing.T) {
	ctx := context.Background()
	store := NewFileEventStore(t.TempDir(), nil)
	store.retryConfig.MaxAttempts = 2
	require.NoError(t, os.MkdirAll(store.Dir(), 0750))
	lock := filepath.Join(store.Dir(), "s1.jsonl.lock")
	require.NoError(t, createLock(lock))

	_, err := store.Append(ctx, "s1", events.NoStream, []session.Event{startedEvent(t0)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, events.ErrStorage))
	assert.FileExists(t, lock, "a live lock must not be reclaimed")

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestFileEventStore_CleanupStale(t *testing.T) {
	ctx := context.Background()
	store := NewFileEventStore(t.TempDir(), nil)
	_, err := store.Append(ctx, "kept", events.NoStream, []session.Event{startedEvent(t0)})
	require.NoError(t, err)

	old := time.Now().Add(-time.Hour)
	staleTmp := filepath.Join(store.Dir(), "kept.jsonl.tmp-123")
	require.NoError(t, os.WriteFile(staleTmp, []byte("partial"), 0600))
	require.NoError(t, os.Chtimes(staleTmp, old, old))
	staleLock := filepath.Join(store.Dir(), "gone.jsonl.lock")
	require.NoError(t, os.WriteFile(staleLock, nil, 0600))
	require.NoError(t, os.Chtimes(staleLock, old, old))
	liveLock := filepath.Join(store.Dir(), "busy.jsonl.lock")
	require.NoError(t, createLock(liveLock))

	n, err := store.CleanupStale(StaleArtifactAge)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoFileExists(t, staleTmp)
	assert.NoFileExists(t, staleLock)
	assert.FileExists(t, liveLock)
	assert.FileExists(t, filepath.Join(store.Dir(), "kept.jsonl"))
}
