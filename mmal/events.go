package mmal

import (
	"context"
	"time"

	"github.com/kbukum/mmalkit/logger"
	"github.com/kbukum/mmalkit/observability"
)

// EventKind classifies an Event.
type EventKind int

const (
	// EventStarvation is raised when a pool has no free buffer to resend.
	EventStarvation EventKind = iota + 1
	// EventCallbackError is raised when a consumer, producer or interceptor
	// fails while handling a completion.
	EventCallbackError
	// EventFormatRollback is raised when a rejected format was replaced by
	// the previous one.
	EventFormatRollback
	// EventProtocolViolation is raised when a buffer ownership rule breaks.
	EventProtocolViolation
	// EventDropped is raised when a completion arrived with nowhere to go.
	EventDropped
)

func (k EventKind) String() string {
	switch k {
	case EventStarvation:
		return "starvation"
	case EventCallbackError:
		return "callback_error"
	case EventFormatRollback:
		return "format_rollback"
	case EventProtocolViolation:
		return "protocol_violation"
	case EventDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Event is a non-blocking notification about something that happened on
// a port or connection.
type Event struct {
	Kind      EventKind
	Component string
	Port      string
	Err       error
	Time      time.Time
}

// EventHandler receives events. It runs on dispatcher goroutines and must
// not block.
type EventHandler func(Event)

// Option configures a Component.
type Option func(*options)

type options struct {
	log     *logger.Logger
	metrics *observability.PipelineMetrics
	onEvent EventHandler
}

// WithLogger sets the logger used by the component and its ports.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics records buffer circulation on m.
func WithMetrics(m *observability.PipelineMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithEventHandler installs fn as the event hook.
func WithEventHandler(fn EventHandler) Option {
	return func(o *options) { o.onEvent = fn }
}

// emit stamps ev and hands it to the component's event hook.
func (c *Component) emit(ev Event) {
	if c.opts.onEvent == nil {
		return
	}
	ev.Component = c.name
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	c.opts.onEvent(ev)
}

func (c *Component) metrics() *observability.PipelineMetrics {
	return c.opts.metrics
}

var bg = context.Background()
