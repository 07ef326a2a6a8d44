// Package messaging delivers committed task session events to chat and
// webhook endpoints.
package messaging

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
)

// AdapterConfig configures one delivery endpoint.
type AdapterConfig struct {
	Name         string        `yaml:"name" mapstructure:"name" validate:"required"`
	Type         string        `yaml:"type" mapstructure:"type" validate:"required,oneof=slack webhook"`
	URL          string        `yaml:"url" mapstructure:"url" validate:"required,url"`
	Secret       string        `yaml:"secret,omitempty" mapstructure:"secret"`
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	EventFilters []string      `yaml:"event_filters,omitempty" mapstructure:"event_filters"`
	MaxRetries   int           `yaml:"max_retries,omitempty" mapstructure:"max_retries" validate:"gte=0"`
	RetryDelay   time.Duration `yaml:"retry_delay,omitempty" mapstructure:"retry_delay"`
	Timeout      time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout"`
}

// Matches reports whether the adapter wants events of type t.
func (c AdapterConfig) Matches(t session.EventType) bool {
	return len(c.EventFilters) == 0 || slices.Contains(c.EventFilters, string(t))
}

// Adapter sends one message to an external system.
type Adapter interface {
	Name() string
	Type() string
	Send(ctx context.Context, msg Message) error
}

// Message is the adapter-neutral form of a committed event.
type Message struct {
	StreamID    string             `json:"stream_id"`
	Version     int64              `json:"version"`
	EventType   session.EventType  `json:"event_type"`
	Text        string             `json:"text"`
	Status      session.TaskStatus `json:"status"`
	Title       string             `json:"title,omitempty"`
	WorkspaceID string             `json:"workspace_id,omitempty"`
	Channel     string             `json:"-"`
	ThreadTS    string             `json:"-"`
	OccurredAt  time.Time          `json:"occurred_at"`
	Event       session.Event      `json:"data"`
}

// NewMessage builds the message for a committed event.
func NewMessage(c events.Committed) Message {
	msg := Message{
		StreamID:    c.StreamID,
		Version:     c.Version,
		EventType:   c.Event.EventType(),
		Status:      c.State.Status,
		WorkspaceID: c.State.WorkspaceID,
		OccurredAt:  c.Event.OccurredAt(),
		Event:       c.Event,
	}
	if c.State.Issue != nil {
		msg.Title = c.State.Issue.Title
	}
	if c.State.SlackThread != nil {
		msg.Channel = c.State.SlackThread.Channel
		msg.ThreadTS = c.State.SlackThread.ThreadTS
	}
	msg.Text = formatText(msg, c.Event)
	return msg
}

func formatText(msg Message, ev session.Event) string {
	title := msg.Title
	if title == "" {
		title = msg.StreamID
	}
	detail := session.Summary(ev)
	switch ev.(type) {
	case session.TaskStarted:
		return fmt.Sprintf(":arrow_forward: Started *%s*", title)
	case session.TaskUpdated:
		return fmt.Sprintf(":memo: Progress on *%s*: %s", title, detail)
	case session.TaskBlocked:
		return fmt.Sprintf(":no_entry: *%s* is blocked: %s", title, detail)
	case session.BlockResolved:
		return fmt.Sprintf(":unlock: Block resolved on *%s*: %s", title, detail)
	case session.TaskPaused:
		return fmt.Sprintf(":double_vertical_bar: Paused *%s*: %s", title, detail)
	case session.TaskResumed:
		return fmt.Sprintf(":arrow_forward: Resumed *%s*: %s", title, detail)
	case session.TaskCompleted:
		return fmt.Sprintf(":white_check_mark: Completed *%s*: %s", title, detail)
	case session.TaskCancelled:
		return fmt.Sprintf(":x: Cancelled *%s*: %s", title, detail)
	default:
		return fmt.Sprintf("Task %s: %s", msg.EventType, title)
	}
}
