package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	EventTaskCreated = "task.created"
	EventTaskUpdated = "task.updated"
	EventTaskDeleted = "task.deleted"
)

// ErrMalformedEvent marks a push message that is not a JSON object with a
// string "type". Such messages are dropped.
var ErrMalformedEvent = errors.New("malformed realtime event")

type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func ParseEvent(text string) (Event, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	var ev Event
	if err := json.Unmarshal(raw["type"], &ev.Type); err != nil {
		return Event{}, fmt.Errorf("%w: type: %v", ErrMalformedEvent, err)
	}
	ev.Type = strings.TrimSpace(ev.Type)
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: empty type", ErrMalformedEvent)
	}
	ev.Payload = raw["payload"]
	return ev, nil
}

// IsTaskMutation reports whether an event type invalidates the task cache.
// Unknown types are reserved and ignored.
func IsTaskMutation(eventType string) bool {
	switch eventType {
	case EventTaskCreated, EventTaskUpdated, EventTaskDeleted:
		return true
	default:
		return false
	}
}
