package component

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/mmalkit/logger"
)

// DefaultStopTimeout bounds each component's Stop call.
const DefaultStopTimeout = 10 * time.Second

// componentEntry holds a component and its started state.
type componentEntry struct {
	component Component
	started   bool
}

// Registry manages component lifecycle with deterministic ordering.
// Components are started in registration order and stopped in reverse order.
type Registry struct {
	entries     []*componentEntry
	lookup      map[string]*componentEntry
	mu          sync.RWMutex
	log         *logger.Logger
	stopTimeout time.Duration
}

// NewRegistry creates a new component registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:     make([]*componentEntry, 0),
		lookup:      make(map[string]*componentEntry),
		log:         logger.WithComponent("lifecycle"),
		stopTimeout: DefaultStopTimeout,
	}
}

// WithLogger replaces the registry logger.
func (r *Registry) WithLogger(l *logger.Logger) *Registry {
	r.log = l
	return r
}

// Register adds a component to the registry. Components are started in
// the order they are registered, so register dependencies first.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, exists := r.lookup[name]; exists {
		return fmt.Errorf("component %s already registered", name)
	}

	entry := &componentEntry{component: c}
	r.entries = append(r.entries, entry)
	r.lookup[name] = entry

	r.log.Debug("Component registered", map[string]interface{}{
		logger.FieldComponent: name,
	})
	return nil
}

// StartAll starts all components in registration order. Components that are
// already started are skipped. If a component fails, the components started
// by this call are stopped again in reverse order and the start error is
// returned.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.log.Debug("Starting all components", map[string]interface{}{
		"count": len(r.entries),
	})

	var startedNow []*componentEntry
	for _, entry := range r.entries {
		if entry.started {
			continue
		}
		name := entry.component.Name()

		if err := entry.component.Start(ctx); err != nil {
			r.log.Error("Component start failed", map[string]interface{}{
				logger.FieldComponent: name,
				logger.FieldError:     err.Error(),
			})
			for i := len(startedNow) - 1; i >= 0; i-- {
				r.stopEntry(ctx, startedNow[i])
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}

		entry.started = true
		startedNow = append(startedNow, entry)
		r.log.Debug("Component started", map[string]interface{}{logger.FieldComponent: name})
	}

	return nil
}

// StopAll stops all started components in reverse registration order.
// Every component is attempted; the errors are joined.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for i := len(r.entries) - 1; i >= 0; i-- {
		if err := r.stopEntry(ctx, r.entries[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (r *Registry) stopEntry(ctx context.Context, entry *componentEntry) error {
	if !entry.started {
		return nil
	}
	name := entry.component.Name()

	stopCtx, cancel := context.WithTimeout(ctx, r.stopTimeout)
	defer cancel()

	entry.started = false
	if err := entry.component.Stop(stopCtx); err != nil {
		r.log.Error("Component stop failed", map[string]interface{}{
			logger.FieldComponent: name,
			logger.FieldError:     err.Error(),
		})
		return fmt.Errorf("failed to stop %s: %w", name, err)
	}
	r.log.Debug("Component stopped", map[string]interface{}{logger.FieldComponent: name})
	return nil
}

// Started reports whether the named component is started.
func (r *Registry) Started(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.lookup[name]
	return ok && entry.started
}

// HealthAll returns health status for all registered components.
func (r *Registry) HealthAll(ctx context.Context) []Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]Health, 0, len(r.entries))
	for _, entry := range r.entries {
		results = append(results, entry.component.Health(ctx))
	}
	return results
}

// Get returns a registered component by name, or nil if not found.
func (r *Registry) Get(name string) Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, exists := r.lookup[name]; exists {
		return entry.component
	}
	return nil
}

// All returns all registered components in registration order.
func (r *Registry) All() []Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Component, 0, len(r.entries))
	for _, entry := range r.entries {
		result = append(result, entry.component)
	}
	return result
}
