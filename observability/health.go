package observability

import "github.com/kbukum/mmalkit/component"

// HealthStatus is the reported state of a service or one of its parts.
type HealthStatus string

const (
	HealthStatusUp       HealthStatus = "up"
	HealthStatusDown     HealthStatus = "down"
	HealthStatusDegraded HealthStatus = "degraded"
)

var componentStatus = map[component.HealthStatus]HealthStatus{
	component.StatusHealthy:   HealthStatusUp,
	component.StatusDegraded:  HealthStatusDegraded,
	component.StatusUnhealthy: HealthStatusDown,
}

// Health is the reported health of one component.
type Health struct {
	Name    string            `json:"name"`
	Status  HealthStatus      `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// ServiceHealth aggregates component health. The service status is the
// worst component status.
type ServiceHealth struct {
	Service    string       `json:"service"`
	Status     HealthStatus `json:"status"`
	Version    string       `json:"version,omitempty"`
	Components []Health     `json:"components,omitempty"`
}

func NewServiceHealth(service, version string) *ServiceHealth {
	return &ServiceHealth{Service: service, Status: HealthStatusUp, Version: version}
}

// FromComponents builds the service health from registry results. An
// unknown component status counts as down.
func FromComponents(service, version string, results []component.Health) *ServiceHealth {
	sh := NewServiceHealth(service, version)
	for _, h := range results {
		status, ok := componentStatus[h.Status]
		if !ok {
			status = HealthStatusDown
		}
		sh.AddComponent(Health{Name: h.Name, Status: status, Message: h.Message, Details: h.Details})
	}
	return sh
}

// AddComponent records ch and lowers the service status to match it.
func (sh *ServiceHealth) AddComponent(ch Health) {
	sh.Components = append(sh.Components, ch)
	switch {
	case ch.Status == HealthStatusDown:
		sh.Status = HealthStatusDown
	case ch.Status == HealthStatusDegraded && sh.Status == HealthStatusUp:
		sh.Status = HealthStatusDegraded
	}
}

// Healthy reports whether no component is down.
func (sh *ServiceHealth) Healthy() bool { return sh.Status != HealthStatusDown }

// Ready reports whether every component is up.
func (sh *ServiceHealth) Ready() bool { return sh.Status == HealthStatusUp }

// NotUp lists the components that are degraded or down.
func (sh *ServiceHealth) NotUp() []string {
	var names []string
	for _, c := range sh.Components {
		if c.Status != HealthStatusUp {
			names = append(names, c.Name)
		}
	}
	return names
}
