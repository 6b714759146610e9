package sse

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/kbukum/mmalkit/component"
	"github.com/kbukum/mmalkit/logger"
)

// Component runs a Hub under the component registry.
type Component struct {
	hub     *Hub
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

var _ component.Component = (*Component)(nil)

func NewComponent(log *logger.Logger) *Component {
	return &Component{hub: NewHub(log)}
}

func (c *Component) Hub() *Hub { return c.hub }

func (c *Component) Name() string { return "events" }

func (c *Component) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	c.started = true
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.hub.Run()
	}()
	return nil
}

func (c *Component) Stop(context.Context) error {
	c.hub.Stop()
	c.wg.Wait()
	return nil
}

func (c *Component) Health(context.Context) component.Health {
	s := c.hub.Stats()
	status := component.StatusHealthy
	if s.Dropped > 0 {
		status = component.StatusDegraded
	}
	return component.Health{
		Name:    c.Name(),
		Status:  status,
		Message: fmt.Sprintf("%d clients connected", s.Clients),
		Details: map[string]string{
			"published": strconv.FormatUint(s.Published, 10),
			"dropped":   strconv.FormatUint(s.Dropped, 10),
		},
	}
}
