// Package progress implements the Progress & Event Bus (C10): a per-job
// pub/sub channel carrying JSON event envelopes, plus a heartbeat so a
// subscribed client can tell a quiet job from a dead one. Grounded on
// coordinator/messages.go's WSMessage envelope and coordinator.go's
// ticker-based pingLoop, generalized from a single WebSocket connection
// to internal/queue.Broker's channel-based pub/sub.
package progress

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event on a job's channel.
type EventType string

const (
	EventTypeStatus    EventType = "status"
	EventTypeStep      EventType = "step_update"
	EventTypeHeartbeat EventType = "heartbeat"
)

// Event is the envelope published to a job's progress channel. JobID
// doubles as the channel name (see Channel).
type Event struct {
	JobID           string                 `json:"job_id"`
	Type            EventType              `json:"type"`
	Status          string                 `json:"status,omitempty"`
	ProgressPercent float64                `json:"progress_percent,omitempty"`
	Message         string                 `json:"message,omitempty"`
	Step            string                 `json:"step,omitempty"`
	Steps           map[string]interface{} `json:"steps,omitempty"`
	Timestamp       time.Time              `json:"ts"`
}

// Channel returns the pub/sub channel name for jobID's event stream.
func Channel(jobID string) string {
	return "codestory:job:" + jobID + ":events"
}

// JSON serializes the event, matching WSMessage.JSON's json.Marshal
// pass-through.
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEvent deserializes a published event, matching coordinator's
// ParseMessage.
func ParseEvent(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}
