package model

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/google/uuid"
)

// MaxEvents bounds the per-deployment event log.
const MaxEvents = 50

// Event types emitted by the store.
const (
	EventCreated            = "created"
	EventStateChanged       = "state_changed"
	EventOperationStarted   = "operation_started"
	EventOperationCompleted = "operation_completed"
	EventOperationFailed    = "operation_failed"
	EventPortsAllocated     = "ports_allocated"
	EventHealthChanged      = "health_changed"
	EventPushReceived       = "push_received"
)

// Event is one entry of a deployment's history.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent stamps a new event with an ID and the given time.
func NewEvent(at time.Time, eventType, message string, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: at,
		Type:      eventType,
		Message:   message,
		Data:      data,
	}
}

// EventLog is a fixed-capacity ring of the most recent MaxEvents events.
// Appending to a full log overwrites the oldest entry.
// The zero value is an empty log ready to use.
type EventLog struct {
	buf   [MaxEvents]Event
	start int
	n     int
}

// Append adds e, evicting the oldest entry when full.
func (l *EventLog) Append(e Event) {
	if l.n < MaxEvents {
		l.buf[(l.start+l.n)%MaxEvents] = e
		l.n++
		return
	}
	l.buf[l.start] = e
	l.start = (l.start + 1) % MaxEvents
}

// Len returns the number of retained events.
func (l *EventLog) Len() int {
	return l.n
}

// Events returns the retained events oldest first. The slice is a copy.
func (l *EventLog) Events() []Event {
	out := make([]Event, 0, l.n)
	for i := 0; i < l.n; i++ {
		e := l.buf[(l.start+i)%MaxEvents]
		e.Data = maps.Clone(e.Data)
		out = append(out, e)
	}
	return out
}

// Last returns the newest event, if any.
func (l *EventLog) Last() (Event, bool) {
	if l.n == 0 {
		return Event{}, false
	}
	return l.buf[(l.start+l.n-1)%MaxEvents], true
}

// MarshalJSON encodes the log as a chronological array.
func (l EventLog) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Events())
}

// UnmarshalJSON decodes a chronological array, keeping only the newest
// MaxEvents entries.
func (l *EventLog) UnmarshalJSON(data []byte) error {
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return err
	}
	*l = EventLog{}
	for _, e := range events {
		l.Append(e)
	}
	return nil
}
