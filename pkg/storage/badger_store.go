package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/projection"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
)

// BadgerStore keeps streams in an embedded badger database:
//   - meta:<stream> holds the stream's current version
//   - evt:<stream>:<version> holds one JSON record, zero padded for ordering
//   - sess:<id> holds the session summary (JSON)
//
// Appends run in one badger transaction that reads the meta key; badger
// rejects the commit with ErrConflict when another append got there first.
type BadgerStore struct {
	db  *badger.DB
	ids session.IDGenerator
}

var (
	_ events.Store            = (*BadgerStore)(nil)
	_ events.RecordReader     = (*BadgerStore)(nil)
	_ projection.SummaryStore = (*BadgerStore)(nil)
)

// OpenBadgerStore opens a badger database at path. An empty path opens an
// in-memory database.
func OpenBadgerStore(path string, ids session.IDGenerator) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, events.StorageError("open badger", err)
	}
	if ids == nil {
		ids = session.UUIDv7{}
	}
	return &BadgerStore{db: db, ids: ids}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func metaKey(streamID string) []byte { return []byte("meta:" + streamID) }

func eventPrefix(streamID string) []byte { return []byte("evt:" + streamID + ":") }

func eventKey(streamID string, version int64) []byte {
	return []byte(fmt.Sprintf("evt:%s:%020d", streamID, version))
}

func summaryKey(id string) []byte { return []byte("sess:" + id) }

func (s *BadgerStore) Load(ctx context.Context, streamID string) ([]session.Event, error) {
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

func (s *BadgerStore) LoadRecords(_ context.Context, streamID string) ([]events.Record, error) {
	if _, err := validStreamID(streamID); err != nil {
		return nil, err
	}

	var out []events.Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := eventPrefix(streamID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r events.Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, events.StorageError("load records", err)
	}
	return out, nil
}

func (s *BadgerStore) Streams(context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte("meta:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, events.StorageError("list streams", err)
	}
	return ids, nil
}

func (s *BadgerStore) Append(_ context.Context, streamID string, expectedVersion int64, evts []session.Event) (events.AppendResult, error) {
	if _, err := validStreamID(streamID); err != nil {
		return events.AppendResult{}, err
	}
	records, err := events.ToRecords(streamID, expectedVersion, evts, s.ids)
	if err != nil {
		return events.AppendResult{}, events.StorageError("encode events", err)
	}
	newVersion := expectedVersion + int64(len(records))

	err = s.db.Update(func(txn *badger.Txn) error {
		current, err := readVersion(txn, streamID)
		if err != nil {
			return err
		}
		if err := events.CheckVersion(streamID, expectedVersion, current); err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		for _, r := range records {
			buf, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := txn.Set(eventKey(streamID, r.Version), buf); err != nil {
				return err
			}
		}
		return txn.Set(metaKey(streamID), []byte(strconv.FormatInt(newVersion, 10)))
	})

	switch {
	case err == nil:
		return events.AppendResult{NewVersion: newVersion}, nil
	case errors.Is(err, events.ErrConcurrencyConflict):
		return events.AppendResult{}, err
	case errors.Is(err, badger.ErrConflict):
		actual := expectedVersion
		_ = s.db.View(func(txn *badger.Txn) error {
			v, verr := readVersion(txn, streamID)
			if verr == nil {
				actual = v
			}
			return verr
		})
		return events.AppendResult{}, &events.ConcurrencyError{StreamID: streamID, Expected: expectedVersion, Actual: actual}
	default:
		return events.AppendResult{}, events.StorageError("append events", err)
	}
}

// readVersion returns the stream's version, NoStream when it has none.
func readVersion(txn *badger.Txn, streamID string) (int64, error) {
	item, err := txn.Get(metaKey(streamID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return events.NoStream, nil
	}
	if err != nil {
		return 0, err
	}
	var v int64
	err = item.Value(func(val []byte) error {
		var perr error
		v, perr = strconv.ParseInt(string(val), 10, 64)
		return perr
	})
	return v, err
}

func (s *BadgerStore) SaveSummary(_ context.Context, sum projection.SessionSummary) error {
	buf, err := json.Marshal(sum)
	if err != nil {
		return events.StorageError("marshal summary", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(summaryKey(sum.ID), buf)
	}); err != nil {
		return events.StorageError("save summary", err)
	}
	return nil
}

func (s *BadgerStore) GetSummary(_ context.Context, id string) (projection.SessionSummary, bool, error) {
	var out projection.SessionSummary
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(summaryKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return projection.SessionSummary{}, false, nil
	}
	if err != nil {
		return projection.SessionSummary{}, false, events.StorageError("get summary", err)
	}
	return out, true, nil
}

func (s *BadgerStore) ListSummaries(context.Context) ([]projection.SessionSummary, error) {
	var list []projection.SessionSummary
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte("sess:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var sum projection.SessionSummary
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sum)
			}); err != nil {
				return err
			}
			list = append(list, sum)
		}
		return nil
	})
	if err != nil {
		return nil, events.StorageError("list summaries", err)
	}
	projection.SortSummaries(list)
	return list, nil
}
