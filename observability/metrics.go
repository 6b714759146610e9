package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the pipeline instruments.
const MeterName = "github.com/kbukum/mmalkit"

// Metric attribute keys.
const (
	AttrPort      = "mmal.port"
	AttrComponent = "mmal.component"
	AttrKind      = "capture.kind"
	AttrStatus    = "status"
)

// PipelineMetrics holds the instruments recorded by the buffer circulation
// and the capture session. A nil *PipelineMetrics is valid and records
// nothing.
type PipelineMetrics struct {
	buffersSent     metric.Int64Counter
	buffersReleased metric.Int64Counter
	completions     metric.Int64Counter
	starvation      metric.Int64Counter
	callbackErrors  metric.Int64Counter
	captureDuration metric.Float64Histogram
}

// NewPipelineMetrics creates the pipeline instruments on meter.
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	buffersSent, err := meter.Int64Counter("mmal.buffers.sent",
		metric.WithDescription("Buffers handed to the native engine"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating mmal.buffers.sent counter: %w", err)
	}

	buffersReleased, err := meter.Int64Counter("mmal.buffers.released",
		metric.WithDescription("Buffers returned to their pool"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating mmal.buffers.released counter: %w", err)
	}

	completions, err := meter.Int64Counter("mmal.completions.total",
		metric.WithDescription("Buffer completions dispatched"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating mmal.completions.total counter: %w", err)
	}

	starvation, err := meter.Int64Counter("mmal.starvation.total",
		metric.WithDescription("Completions that found the pool empty"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating mmal.starvation.total counter: %w", err)
	}

	callbackErrors, err := meter.Int64Counter("mmal.callback.errors",
		metric.WithDescription("Consumer or producer failures recovered by the dispatcher"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating mmal.callback.errors counter: %w", err)
	}

	captureDuration, err := meter.Float64Histogram("camera.capture.duration",
		metric.WithDescription("Duration of captures in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating camera.capture.duration histogram: %w", err)
	}

	return &PipelineMetrics{
		buffersSent:     buffersSent,
		buffersReleased: buffersReleased,
		completions:     completions,
		starvation:      starvation,
		callbackErrors:  callbackErrors,
		captureDuration: captureDuration,
	}, nil
}

// DefaultPipelineMetrics creates the instruments on the global provider.
// With no provider installed they are no-ops.
func DefaultPipelineMetrics() *PipelineMetrics {
	m, err := NewPipelineMetrics(Meter(MeterName))
	if err != nil {
		return nil
	}
	return m
}

func portAttr(port string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String(AttrPort, port))
}

// BufferSent records n buffers sent on port.
func (m *PipelineMetrics) BufferSent(ctx context.Context, port string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.buffersSent.Add(ctx, int64(n), portAttr(port))
}

// BufferReleased records a buffer returned to port's pool.
func (m *PipelineMetrics) BufferReleased(ctx context.Context, port string) {
	if m == nil {
		return
	}
	m.buffersReleased.Add(ctx, 1, portAttr(port))
}

// Completion records a dispatched completion on port.
func (m *PipelineMetrics) Completion(ctx context.Context, port string) {
	if m == nil {
		return
	}
	m.completions.Add(ctx, 1, portAttr(port))
}

// Starvation records an empty pool on port.
func (m *PipelineMetrics) Starvation(ctx context.Context, port string) {
	if m == nil {
		return
	}
	m.starvation.Add(ctx, 1, portAttr(port))
}

// CallbackError records a recovered consumer or producer failure.
func (m *PipelineMetrics) CallbackError(ctx context.Context, port string) {
	if m == nil {
		return
	}
	m.callbackErrors.Add(ctx, 1, portAttr(port))
}

// CaptureDuration records a finished capture of the given kind.
func (m *PipelineMetrics) CaptureDuration(ctx context.Context, kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.captureDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String(AttrKind, kind),
		attribute.String(AttrStatus, status),
	))
}
