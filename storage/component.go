package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/mmalkit/component"
	"github.com/kbukum/mmalkit/logger"
)

// Component manages a Storage backend through the component registry.
type Component struct {
	cfg Config
	log *logger.Logger

	mu      sync.RWMutex
	storage Storage
}

var _ component.Component = (*Component)(nil)

// NewComponent creates a storage component.
func NewComponent(cfg Config, log *logger.Logger) *Component {
	return &Component{cfg: cfg, log: log.WithComponent("storage")}
}

// Storage returns the backend, or nil when the component is disabled or
// not started.
func (c *Component) Storage() Storage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.storage
}

func (c *Component) Name() string { return "storage" }

// Start creates the backend.
func (c *Component) Start(_ context.Context) error {
	if !c.cfg.Enabled {
		c.log.Info("storage component is disabled")
		return nil
	}
	s, err := New(c.cfg, c.log)
	if err != nil {
		return fmt.Errorf("storage start: %w", err)
	}
	c.mu.Lock()
	c.storage = s
	c.mu.Unlock()
	return nil
}

func (c *Component) Stop(_ context.Context) error {
	c.mu.Lock()
	c.storage = nil
	c.mu.Unlock()
	return nil
}

// Health probes the backend by resolving a URL.
func (c *Component) Health(ctx context.Context) component.Health {
	h := component.Health{Name: c.Name(), Details: map[string]string{"provider": c.cfg.Provider}}
	if !c.cfg.Enabled {
		h.Status, h.Message = component.StatusHealthy, "disabled"
		return h
	}
	s := c.Storage()
	if s == nil {
		h.Status, h.Message = component.StatusUnhealthy, "storage not initialized"
		return h
	}
	if _, err := s.URL(ctx, ".health"); err != nil {
		h.Status, h.Message = component.StatusUnhealthy, fmt.Sprintf("health probe failed: %v", err)
		return h
	}
	h.Status = component.StatusHealthy
	return h
}
