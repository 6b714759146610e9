package server

import (
	"context"
	"strconv"

	"github.com/kbukum/mmalkit/component"
)

const componentName = "http-server"

var _ component.Component = (*Component)(nil)

// Component runs a Server under the component registry.
type Component struct {
	server *Server
}

func NewComponent(s *Server) *Component {
	return &Component{server: s}
}

func (c *Component) Name() string { return componentName }

func (c *Component) Start(ctx context.Context) error { return c.server.Start(ctx) }

func (c *Component) Stop(ctx context.Context) error { return c.server.Stop(ctx) }

func (c *Component) Health(ctx context.Context) component.Health {
	h := component.Health{Name: componentName, Details: map[string]string{
		"addr": c.server.Addr(),
		"tls":  strconv.FormatBool(c.server.config.TLS.Enabled()),
	}}
	if !c.server.Started() {
		h.Status, h.Message = component.StatusUnhealthy, "not listening"
		return h
	}
	h.Status = component.StatusHealthy
	return h
}
