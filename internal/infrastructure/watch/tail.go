package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
)

const streamSuffix = ".jsonl"

// Tail reports records appended to the stream files in a directory.
type Tail struct {
	dir      string
	reader   events.RecordReader
	debounce time.Duration
	onRecord func(events.Record)
	logger   *slog.Logger

	mu      sync.Mutex
	offsets map[string]int64
}

// NewTail follows the stream files in dir, reading new records through reader.
func NewTail(dir string, reader events.RecordReader, debounce time.Duration, onRecord func(events.Record), logger *slog.Logger) *Tail {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tail{
		dir:      dir,
		reader:   reader,
		debounce: debounce,
		onRecord: onRecord,
		logger:   logger,
		offsets:  make(map[string]int64),
	}
}

// Skip marks every existing record as seen so Run reports only new appends.
func (t *Tail) Skip(ctx context.Context) error {
	ids, err := t.reader.Streams(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		records, err := t.reader.LoadRecords(ctx, id)
		if err != nil {
			return err
		}
		t.mu.Lock()
		t.offsets[id] = int64(len(records))
		t.mu.Unlock()
	}
	return nil
}

// Run watches until ctx is cancelled.
func (t *Tail) Run(ctx context.Context) error {
	if err := os.MkdirAll(t.dir, 0700); err != nil {
		return fmt.Errorf("create %s: %w", t.dir, err)
	}
	w, err := NewFSWatcher(t.debounce, isStreamFile, func(paths []string) {
		for _, p := range paths {
			t.sync(ctx, streamID(p))
		}
	})
	if err != nil {
		return err
	}
	if err := w.Add(t.dir); err != nil {
		return err
	}
	return w.Run(ctx)
}

func (t *Tail) sync(ctx context.Context, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	records, err := t.reader.LoadRecords(ctx, id)
	if err != nil {
		t.logger.Warn("tail read failed", "stream", id, "error", err)
		return
	}
	for _, r := range records[min(t.offsets[id], int64(len(records))):] {
		t.onRecord(r)
	}
	t.offsets[id] = int64(len(records))
}

func isStreamFile(path string) bool {
	return strings.HasSuffix(path, streamSuffix)
}

func streamID(path string) string {
	return strings.TrimSuffix(filepath.Base(path), streamSuffix)
}
