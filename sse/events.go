package sse

import (
	"encoding/json"
	"time"
)

// Event types.
const (
	EventConnected         = "connected"
	EventStarvation        = "starvation"
	EventCallbackError     = "callback_error"
	EventProtocolViolation = "protocol_violation"
	EventDropped           = "dropped"
	EventCaptureStarted    = "capture_started"
	EventCaptureDone       = "capture_done"
	EventCaptureFailed     = "capture_failed"
	EventPipelineRecovered = "pipeline_recovered"
)

// Event is one notification sent to subscribers.
type Event struct {
	Type    string            `json:"type"`
	Topic   string            `json:"topic"`
	Session string            `json:"session,omitempty"`
	Message string            `json:"message,omitempty"`
	Data    map[string]string `json:"data,omitempty"`
	Time    time.Time         `json:"time"`
}

// Publisher accepts events. Publish never blocks the caller.
type Publisher interface {
	Publish(ev Event)
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

func (e Event) encode() []byte {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	data, _ := json.Marshal(e)
	return data
}
