package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/projection"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
)

const TaskstreamDir = ".taskstream"
const ConfigFile = "config.yaml"
const SessionsFile = "sessions.json"
const DeadLetterFile = "deadletters.jsonl"
const DatabaseFile = "taskstream.db"
const BadgerDir = "badger"

// FilesystemRepository is the workspace directory of a taskstream project.
// It stores session summaries as JSON and hands out the JSONL event store
// that lives beside them.
type FilesystemRepository struct {
	root        string
	retryConfig retry.Config
	mu          sync.Mutex
}

var _ projection.SummaryStore = (*FilesystemRepository)(nil)

func NewFilesystemRepository(root string) *FilesystemRepository {
	return &FilesystemRepository{
		root: root,
		retryConfig: retry.Config{
			MaxAttempts:   3,
			InitialDelay:  10 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
	}
}

// Root returns the workspace root directory.
func (r *FilesystemRepository) Root() string {
	return r.root
}

// Dir returns the .taskstream directory.
func (r *FilesystemRepository) Dir() string {
	return filepath.Join(r.root, TaskstreamDir)
}

// ResolvePath ensures the path is within the .taskstream directory and prevents traversal.
func (r *FilesystemRepository) ResolvePath(filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("filename cannot be empty")
	}

	baseDir := r.Dir()
	cleanPath := filepath.Clean(filepath.Join(baseDir, filename))

	if !strings.HasPrefix(cleanPath, baseDir) || filepath.Dir(cleanPath) != baseDir {
		return "", fmt.Errorf("invalid file path: %s", filename)
	}

	return cleanPath, nil
}

func (r *FilesystemRepository) Initialize() error {
	// G301: Use 0700 for directories
	if err := os.MkdirAll(r.Dir(), 0700); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", TaskstreamDir, err)
	}
	return nil
}

func (r *FilesystemRepository) IsInitialized() bool {
	_, err := os.Stat(r.Dir())
	return err == nil
}

// EventStore returns the JSONL event store of this workspace.
func (r *FilesystemRepository) EventStore(ids session.IDGenerator) *FileEventStore {
	return NewFileEventStore(r.Dir(), ids)
}

func (r *FilesystemRepository) SaveSummary(ctx context.Context, sum projection.SessionSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.loadSummaries(ctx)
	if err != nil {
		return err
	}
	all[sum.ID] = sum
	return r.writeSummaries(all)
}

func (r *FilesystemRepository) GetSummary(ctx context.Context, id string) (projection.SessionSummary, bool, error) {
	all, err := r.loadSummaries(ctx)
	if err != nil {
		return projection.SessionSummary{}, false, err
	}
	sum, ok := all[id]
	return sum, ok, nil
}

func (r *FilesystemRepository) ListSummaries(ctx context.Context) ([]projection.SessionSummary, error) {
	all, err := r.loadSummaries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]projection.SessionSummary, 0, len(all))
	for _, sum := range all {
		out = append(out, sum)
	}
	projection.SortSummaries(out)
	return out, nil
}

// ResetSummaries removes the summary file. Used before a rebuild.
func (r *FilesystemRepository) ResetSummaries() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path, err := r.ResolvePath(SessionsFile)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return events.StorageError("remove summaries", err)
	}
	return nil
}

func (r *FilesystemRepository) loadSummaries(ctx context.Context) (map[string]projection.SessionSummary, error) {
	retryer := retry.New[map[string]projection.SessionSummary](r.retryConfig)

	return retryer.Do(ctx, func(ctx context.Context) (map[string]projection.SessionSummary, error) {
		path, err := r.ResolvePath(SessionsFile)
		if err != nil {
			return nil, err
		}

		// #nosec G304 -- Path is resolved and validated via ResolvePath
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return make(map[string]projection.SessionSummary), nil
		}
		if err != nil {
			return nil, events.StorageError("read summaries", err)
		}

		all := make(map[string]projection.SessionSummary)
		if err := json.Unmarshal(data, &all); err != nil {
			return nil, events.StorageError("unmarshal summaries", err)
		}
		return all, nil
	})
}

func (r *FilesystemRepository) writeSummaries(all map[string]projection.SessionSummary) error {
	if err := r.Initialize(); err != nil {
		return events.StorageError("initialize workspace", err)
	}
	path, err := r.ResolvePath(SessionsFile)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return events.StorageError("marshal summaries", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return events.StorageError("write summaries", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return events.StorageError("replace summaries", err)
	}
	return nil
}
