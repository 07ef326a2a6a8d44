package storage

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
)

const (
	// StreamsDir holds one JSON Lines file per stream.
	StreamsDir = "streams"

	// StaleArtifactAge is how old a lock or temp file must be before it is
	// treated as left behind by a crashed writer. Appends hold a lock for
	// milliseconds.
	StaleArtifactAge = 30 * time.Second
)

var (
	streamIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

	// ErrInvalidStreamID rejects ids that cannot be used as file names.
	ErrInvalidStreamID = errors.New("invalid stream id")

	errLockHeld = errors.New("stream lock held")
)

// FileEventStore implements events.Store with one JSON Lines file per stream.
//
// Each line is a record chained to its predecessor by hash. An append writes
// the whole stream to a temporary file and renames it into place, so a batch
// lands completely or not at all. Appends to one stream are serialized by an
// in-process mutex and a lock file shared with other processes. A lock file
// older than StaleArtifactAge is reclaimed.
type FileEventStore struct {
	dir         string
	ids         session.IDGenerator
	locks       sync.Map // stream id -> *sync.Mutex
	retryConfig retry.Config
	staleAfter  time.Duration
}

var (
	_ events.Store        = (*FileEventStore)(nil)
	_ events.RecordReader = (*FileEventStore)(nil)
)

// lockOwner is the content of a stream lock file.
type lockOwner struct {
	PID     int       `json:"pid"`
	Created time.Time `json:"created"`
}

// fileRecord is one line of a stream file.
type fileRecord struct {
	events.Record
	PrevHash string `json:"prev_hash,omitempty"`
	Hash     string `json:"hash"`
}

// NewFileEventStore creates a file-based event store under basePath.
// The directory is created on first write. A nil ids uses UUIDv7.
func NewFileEventStore(basePath string, ids session.IDGenerator) *FileEventStore {
	if ids == nil {
		ids = session.UUIDv7{}
	}
	return &FileEventStore{
		dir: filepath.Join(basePath, StreamsDir),
		ids: ids,
		retryConfig: retry.Config{
			MaxAttempts:   8,
			InitialDelay:  5 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
		staleAfter: StaleArtifactAge,
	}
}

// Dir returns the directory holding stream files.
func (s *FileEventStore) Dir() string {
	return s.dir
}

// Load returns the stream's events in version order.
func (s *FileEventStore) Load(ctx context.Context, streamID string) ([]session.Event, error) {
	records, err := s.LoadRecords(ctx, streamID)
	if err != nil {
		return nil, err
	}
	evts, err := events.FromRecords(records)
	if err != nil {
		return nil, events.StorageError("decode events", err)
	}
	return evts, nil
}

// LoadRecords returns the stream's records in version order.
func (s *FileEventStore) LoadRecords(_ context.Context, streamID string) ([]events.Record, error) {
	lines, err := s.readStream(streamID)
	if err != nil {
		return nil, err
	}
	records := make([]events.Record, len(lines))
	for i, l := range lines {
		records[i] = l.Record
	}
	return records, nil
}

// Streams lists the streams that have a file.
func (s *FileEventStore) Streams(context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, events.StorageError("list streams", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".jsonl"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Append writes evts if the stream is at expectedVersion.
func (s *FileEventStore) Append(ctx context.Context, streamID string, expectedVersion int64, evts []session.Event) (events.AppendResult, error) {
	path, err := s.streamPath(streamID)
	if err != nil {
		return events.AppendResult{}, err
	}

	records, err := events.ToRecords(streamID, expectedVersion, evts, s.ids)
	if err != nil {
		return events.AppendResult{}, events.StorageError("encode events", err)
	}

	mu := s.streamMutex(streamID)
	mu.Lock()
	defer mu.Unlock()

	// Ensure directory exists on first write
	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return events.AppendResult{}, events.StorageError("create directory", err)
	}

	unlock, err := s.lockFile(ctx, path+".lock")
	if err != nil {
		return events.AppendResult{}, err
	}
	defer unlock()

	existing, err := s.readStream(streamID)
	if err != nil {
		return events.AppendResult{}, err
	}
	if err := events.CheckVersion(streamID, expectedVersion, int64(len(existing))-1); err != nil {
		return events.AppendResult{}, err
	}
	if len(records) == 0 {
		return events.AppendResult{NewVersion: expectedVersion}, nil
	}

	// Chain to previous record
	lastHash := ""
	if len(existing) > 0 {
		lastHash = existing[len(existing)-1].Hash
	}
	lines := existing
	for _, r := range records {
		line := fileRecord{Record: r, PrevHash: lastHash}
		line.Hash = line.calculateHash()
		lastHash = line.Hash
		lines = append(lines, line)
	}

	if err := writeLines(path, lines); err != nil {
		return events.AppendResult{}, err
	}
	return events.AppendResult{NewVersion: expectedVersion + int64(len(records))}, nil
}

// VerifyIntegrity checks a stream's hash chain and version sequence for tampering.
func (s *FileEventStore) VerifyIntegrity(streamID string) ([]string, error) {
	lines, err := s.readStream(streamID)
	if err != nil {
		return nil, err
	}

	var violations []string
	lastHash := ""
	for i, l := range lines {
		if l.Version != int64(i) {
			violations = append(violations, fmt.Sprintf("Record %d (%s): version %d out of sequence", i, l.ID, l.Version))
		}
		if l.PrevHash != lastHash {
			violations = append(violations, fmt.Sprintf("Record %d (%s): PrevHash mismatch", i, l.ID))
		}
		if l.Hash != l.calculateHash() {
			violations = append(violations, fmt.Sprintf("Record %d (%s): Hash mismatch - possible tampering", i, l.ID))
		}
		lastHash = l.Hash
	}
	return violations, nil
}

func (r fileRecord) calculateHash() string {
	h := sha256.New()
	h.Write([]byte(r.PrevHash))
	h.Write([]byte(r.ID))
	h.Write([]byte(r.StreamID))
	h.Write([]byte(strconv.FormatInt(r.Version, 10)))
	h.Write([]byte(r.Type))
	h.Write([]byte(r.Summary))
	h.Write([]byte(r.RelatedID))
	h.Write(r.Payload)
	h.Write([]byte(r.CreatedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *FileEventStore) streamPath(streamID string) (string, error) {
	id, err := validStreamID(streamID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, id+".jsonl"), nil
}

// validStreamID rejects ids that are unsafe as file names or key segments.
func validStreamID(streamID string) (string, error) {
	if !streamIDPattern.MatchString(streamID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidStreamID, streamID)
	}
	return streamID, nil
}

func (s *FileEventStore) streamMutex(streamID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(streamID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// lockFile creates path exclusively, retrying while another process holds it.
func (s *FileEventStore) lockFile(ctx context.Context, path string) (func(), error) {
	r := retry.New[struct{}](s.retryConfig)
	_, err := r.Do(ctx, func(ctx context.Context) (struct{}, error) {
		err := createLock(path)
		if os.IsExist(err) && s.breakStaleLock(path) {
			err = createLock(path)
		}
		if os.IsExist(err) {
			return struct{}{}, errLockHeld
		}
		return struct{}{}, err
	})
	if err != nil {
		return nil, events.StorageError("lock stream", err)
	}
	return func() { _ = os.Remove(path) }, nil
}

func createLock(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	owner, err := json.Marshal(lockOwner{PID: os.Getpid(), Created: time.Now().UTC()})
	if err == nil {
		_, err = f.Write(owner)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// breakStaleLock removes the lock at path when its owner took it more than
// staleAfter ago.
func (s *FileEventStore) breakStaleLock(path string) bool {
	created, ok := lockCreated(path)
	if !ok || time.Since(created) < s.staleAfter {
		return false
	}
	return os.Remove(path) == nil
}

// lockCreated reads the creation time recorded in a lock file, falling back
// to its modification time when the content is missing or unreadable.
func lockCreated(path string) (time.Time, bool) {
	// #nosec G304 -- lock path derived from a validated stream id
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, false
	}
	var owner lockOwner
	if json.Unmarshal(data, &owner) == nil && !owner.Created.IsZero() {
		return owner.Created, true
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// CleanupStale removes lock and temp files older than maxAge left behind by
// crashed writers. It returns the number of files removed.
func (s *FileEventStore) CleanupStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, events.StorageError("list streams", err)
	}

	count := 0
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(s.dir, name)
		switch {
		case strings.HasSuffix(name, ".lock"):
			if created, ok := lockCreated(path); ok && time.Since(created) > maxAge {
				if os.Remove(path) == nil {
					count++
				}
			}
		case strings.Contains(name, ".jsonl.tmp-"):
			if info, err := e.Info(); err == nil && time.Since(info.ModTime()) > maxAge {
				if os.Remove(path) == nil {
					count++
				}
			}
		}
	}
	return count, nil
}

// readStream reads every line of a stream file. A missing file is an empty stream.
func (s *FileEventStore) readStream(streamID string) ([]fileRecord, error) {
	path, err := s.streamPath(streamID)
	if err != nil {
		return nil, err
	}

	// #nosec G304 -- stream id validated by streamPath
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, events.StorageError("open stream file", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	var result []fileRecord
	scanner := bufio.NewScanner(f)

	// Increase buffer size for large events
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r fileRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, events.StorageError("unmarshal record", err)
		}
		result = append(result, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, events.StorageError("scan stream file", err)
	}
	return result, nil
}

// writeLines replaces path with lines via a temporary file and rename.
func writeLines(path string, lines []fileRecord) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return events.StorageError("create temp file", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, l := range lines {
		data, err := json.Marshal(l)
		if err != nil {
			_ = tmp.Close()
			return events.StorageError("marshal record", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			_ = tmp.Close()
			return events.StorageError("write record", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return events.StorageError("flush stream file", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return events.StorageError("sync stream file", err)
	}
	if err := tmp.Close(); err != nil {
		return events.StorageError("close stream file", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return events.StorageError("replace stream file", err)
	}
	return nil
}
