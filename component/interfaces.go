package component

import "context"

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusDegraded  HealthStatus = "degraded"
)

// Health holds health information for a component.
type Health struct {
	Name    string            `json:"name"`
	Status  HealthStatus      `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Component is a lifecycle-managed part of a running pipeline: a media
// component stage, the status server or the capture session itself.
type Component interface {
	// Name returns the unique name of the component for registration.
	Name() string

	// Start brings the component up. For pipeline stages this enables them.
	Start(ctx context.Context) error

	// Stop shuts the component down. For pipeline stages this disables them.
	Stop(ctx context.Context) error

	// Health returns the current health status of the component.
	Health(ctx context.Context) Health
}

// Func adapts plain functions to Component. Nil functions are no-ops and a
// nil HealthFn reports healthy.
type Func struct {
	ID       string
	StartFn  func(ctx context.Context) error
	StopFn   func(ctx context.Context) error
	HealthFn func(ctx context.Context) Health
}

func (f *Func) Name() string { return f.ID }

func (f *Func) Start(ctx context.Context) error {
	if f.StartFn == nil {
		return nil
	}
	return f.StartFn(ctx)
}

func (f *Func) Stop(ctx context.Context) error {
	if f.StopFn == nil {
		return nil
	}
	return f.StopFn(ctx)
}

func (f *Func) Health(ctx context.Context) Health {
	if f.HealthFn == nil {
		return Health{Name: f.ID, Status: StatusHealthy}
	}
	return f.HealthFn(ctx)
}
