package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
)

// Record is the storage form of one event.
//
// ID is the row's primary key: the block or pause id for TaskBlocked and
// TaskPaused, a fresh id otherwise. RelatedID holds the id a later event
// references (BlockResolved → block, TaskResumed → pause). Payload is the full
// JSON event; Summary duplicates its text for queries.
type Record struct {
	ID        string            `json:"id"`
	StreamID  string            `json:"stream_id"`
	Version   int64             `json:"version"`
	Type      session.EventType `json:"type"`
	Summary   string            `json:"summary,omitempty"`
	RelatedID string            `json:"related_id,omitempty"`
	Payload   json.RawMessage   `json:"payload"`
	CreatedAt time.Time         `json:"created_at"`
}

// ToRecords maps events to records at versions expectedVersion+1 onward.
func ToRecords(streamID string, expectedVersion int64, evts []session.Event, ids session.IDGenerator) ([]Record, error) {
	if ids == nil {
		ids = session.UUIDv7{}
	}

	records := make([]Record, 0, len(evts))
	for i, ev := range evts {
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("marshal %s event: %w", ev.EventType(), err)
		}

		id, err := rowID(ev, ids)
		if err != nil {
			return nil, err
		}

		records = append(records, Record{
			ID:        id,
			StreamID:  streamID,
			Version:   expectedVersion + 1 + int64(i),
			Type:      ev.EventType(),
			Summary:   session.Summary(ev),
			RelatedID: RelatedID(ev),
			Payload:   payload,
			CreatedAt: ev.OccurredAt(),
		})
	}
	return records, nil
}

// rowID applies the identifier policy: events that introduce a referenceable
// id use it as their primary key.
func rowID(ev session.Event, ids session.IDGenerator) (string, error) {
	switch e := ev.(type) {
	case session.TaskBlocked:
		if e.BlockID != "" {
			return e.BlockID, nil
		}
	case session.TaskPaused:
		if e.PauseID != "" {
			return e.PauseID, nil
		}
	}
	id, err := ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate record id: %w", err)
	}
	return id, nil
}

// RelatedID returns the id an event references, if any.
func RelatedID(ev session.Event) string {
	switch e := ev.(type) {
	case session.BlockResolved:
		return e.BlockID
	case session.TaskResumed:
		return e.ResumedFromPauseID
	}
	return ""
}

// FromRecord decodes the domain event stored in r.
func FromRecord(r Record) (session.Event, error) {
	var (
		ev  session.Event
		err error
	)
	switch r.Type {
	case session.EventTaskStarted:
		ev, err = decode[session.TaskStarted](r.Payload)
	case session.EventTaskUpdated:
		ev, err = decode[session.TaskUpdated](r.Payload)
	case session.EventTaskBlocked:
		ev, err = decode[session.TaskBlocked](r.Payload)
	case session.EventBlockResolved:
		ev, err = decode[session.BlockResolved](r.Payload)
	case session.EventTaskPaused:
		ev, err = decode[session.TaskPaused](r.Payload)
	case session.EventTaskResumed:
		ev, err = decode[session.TaskResumed](r.Payload)
	case session.EventTaskCompleted:
		ev, err = decode[session.TaskCompleted](r.Payload)
	case session.EventTaskCancelled:
		ev, err = decode[session.TaskCancelled](r.Payload)
	case session.EventSlackThreadLinked:
		ev, err = decode[session.SlackThreadLinked](r.Payload)
	default:
		return nil, fmt.Errorf("unknown event type %q at %s@%d", r.Type, r.StreamID, r.Version)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event at %s@%d: %w", r.Type, r.StreamID, r.Version, err)
	}
	return ev, nil
}

// FromRecords decodes records in order.
func FromRecords(records []Record) ([]session.Event, error) {
	evts := make([]session.Event, 0, len(records))
	for _, r := range records {
		ev, err := FromRecord(r)
		if err != nil {
			return nil, err
		}
		evts = append(evts, ev)
	}
	return evts, nil
}

func decode[T session.Event](payload []byte) (session.Event, error) {
	var ev T
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}
