// Package events defines how task session events are stored: the append-only
// store contract, the storage record codec, and in-process dispatch of
// committed events.
package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
)

// NoStream is the expected version of a stream that has no events yet.
const NoStream int64 = -1

var (
	// ErrConcurrencyConflict indicates the stream moved past the expected version.
	// It is always retryable by reloading and deciding again.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrStorage marks infrastructure failures of the backing store.
	ErrStorage = errors.New("event storage failure")
)

// ConcurrencyError provides details about a rejected append.
type ConcurrencyError struct {
	StreamID string
	Expected int64
	Actual   int64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency conflict on stream %s: expected version %d, actual %d",
		e.StreamID, e.Expected, e.Actual)
}

// Is allows errors.Is to work with ConcurrencyError.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// StorageError wraps err as an ErrStorage failure of op. It returns nil for a nil err.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// AppendResult reports the stream version after a successful append.
type AppendResult struct {
	NewVersion int64
}

// Store is the append-only event store for task session streams.
type Store interface {
	// Load returns every event of the stream in ascending version order.
	// An unknown stream yields an empty slice, not an error.
	Load(ctx context.Context, streamID string) ([]session.Event, error)

	// Append writes evts at versions expectedVersion+1... if and only if the
	// stream is currently at expectedVersion. It is all-or-nothing; a
	// mismatch returns *ConcurrencyError and writes nothing.
	Append(ctx context.Context, streamID string, expectedVersion int64, evts []session.Event) (AppendResult, error)
}

// RecordReader exposes stored records for the read side.
type RecordReader interface {
	// LoadRecords returns the stream's records in ascending version order.
	LoadRecords(ctx context.Context, streamID string) ([]Record, error)

	// Streams lists every stream id in the store.
	Streams(ctx context.Context) ([]string, error)
}

// CheckVersion returns a *ConcurrencyError when actual differs from expected.
func CheckVersion(streamID string, expected, actual int64) error {
	if expected != actual {
		return &ConcurrencyError{StreamID: streamID, Expected: expected, Actual: actual}
	}
	return nil
}
