package mmal

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/kbukum/mmalkit/errors"
	"github.com/kbukum/mmalkit/hal"
	"github.com/kbukum/mmalkit/logger"
)

// State is the lifecycle state of a Component.
type State int

const (
	StateCreated State = iota
	StateConfigured
	StateEnabled
	StateDisabled
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfigured:
		return "configured"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Component is a processing stage with a fixed set of ports.
type Component struct {
	host   hal.Host
	native hal.ComponentHandle
	name   string
	opts   options
	log    *logger.Logger

	control *Port
	inputs  []*Port
	outputs []*Port
	clocks  []*Port

	mu    sync.Mutex
	state State
}

// NewComponent creates the named engine component and wraps its ports.
func NewComponent(host hal.Host, name string, opts ...Option) (*Component, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get("mmal")
	}

	native, err := host.CreateComponent(name)
	if err != nil {
		return nil, errors.ComponentState(name, "create", err)
	}
	c := &Component{
		host:   host,
		native: native,
		name:   name,
		opts:   o,
		log:    o.log.WithFields(logger.Fields(logger.FieldComponent, name)),
	}
	c.control = newPort(c, native.Control())
	for _, h := range native.Inputs() {
		c.inputs = append(c.inputs, newPort(c, h))
	}
	for _, h := range native.Outputs() {
		c.outputs = append(c.outputs, newPort(c, h))
	}
	for _, h := range native.Clocks() {
		c.clocks = append(c.clocks, newPort(c, h))
	}
	c.log.Debug("component created", logger.Fields(
		"inputs", len(c.inputs), "outputs", len(c.outputs), "clocks", len(c.clocks)))
	return c, nil
}

func (c *Component) Name() string { return c.name }

// Native returns the engine handle.
func (c *Component) Native() hal.ComponentHandle { return c.native }

// Host returns the engine the component was created on.
func (c *Component) Host() hal.Host { return c.host }

func (c *Component) Control() *Port { return c.control }

func (c *Component) Inputs() []*Port { return c.inputs }

func (c *Component) Outputs() []*Port { return c.outputs }

func (c *Component) Clocks() []*Port { return c.clocks }

// Input returns input port i, or nil when out of range.
func (c *Component) Input(i int) *Port {
	if i < 0 || i >= len(c.inputs) {
		return nil
	}
	return c.inputs[i]
}

// Output returns output port i, or nil when out of range.
func (c *Component) Output(i int) *Port {
	if i < 0 || i >= len(c.outputs) {
		return nil
	}
	return c.outputs[i]
}

func (c *Component) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Enabled reports whether the component is enabled.
func (c *Component) Enabled() bool { return c.State() == StateEnabled }

func (c *Component) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.log.Debug("component state changed", logger.Fields(logger.FieldState, s.String()))
}

// Configure runs fn, which sets up port formats and handlers, while the
// component is not enabled.
func (c *Component) Configure(fn func(c *Component) error) error {
	switch st := c.State(); st {
	case StateEnabled:
		return errors.Conflict(fmt.Sprintf("%s: configure requires the component disabled", c.name))
	case StateDestroyed:
		return errors.ComponentState(c.name, "configure", hal.ErrDestroyed)
	}
	if fn != nil {
		if err := fn(c); err != nil {
			return err
		}
	}
	c.setState(StateConfigured)
	return nil
}

// handlerPorts returns the input and output ports with a registered
// handler, inputs first.
func (c *Component) handlerPorts() []*Port {
	var ports []*Port
	for _, p := range append(append([]*Port{}, c.inputs...), c.outputs...) {
		if p.HasHandler() {
			ports = append(ports, p)
		}
	}
	return ports
}

// Enable enables the engine component, then the control port, then every
// port with a handler. On failure everything enabled so far is disabled
// again. Enabling an enabled component is a no-op.
func (c *Component) Enable() error {
	switch st := c.State(); st {
	case StateEnabled:
		return nil
	case StateCreated, StateDestroyed:
		return errors.ComponentState(c.name, "enable", fmt.Errorf("component is %s", st))
	}

	if err := c.native.Enable(); err != nil {
		return errors.ComponentState(c.name, "enable", err)
	}
	if err := c.control.Enable(); err != nil {
		_ = c.native.Disable()
		return err
	}
	var enabled []*Port
	for _, p := range c.handlerPorts() {
		if err := p.Enable(); err != nil {
			for i := len(enabled) - 1; i >= 0; i-- {
				_ = enabled[i].Disable()
			}
			_ = c.control.Disable()
			_ = c.native.Disable()
			c.log.Error("enable failed", logger.ErrorFields("enable", err))
			return err
		}
		enabled = append(enabled, p)
	}
	c.setState(StateEnabled)
	return nil
}

// Disable disables every enabled port, then the control port, then the
// engine component. Disabling a component that is not enabled is a no-op.
func (c *Component) Disable() error {
	if c.State() != StateEnabled {
		return nil
	}
	var errs []error
	ports := append(append([]*Port{}, c.outputs...), c.inputs...)
	for i := len(ports) - 1; i >= 0; i-- {
		if ports[i].Enabled() {
			if err := ports[i].Disable(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := c.control.Disable(); err != nil {
		errs = append(errs, err)
	}
	if err := c.native.Disable(); err != nil {
		errs = append(errs, err)
	}
	c.setState(StateDisabled)
	if len(errs) > 0 {
		return errors.ComponentState(c.name, "disable", stderrors.Join(errs...))
	}
	return nil
}

// Destroy disables the component, destroys the connections attached to
// its ports and releases the engine component. Destroying twice is a
// no-op.
func (c *Component) Destroy() error {
	if c.State() == StateDestroyed {
		return nil
	}
	errs := []error{c.Disable()}
	for _, p := range c.allPorts() {
		if conn := p.Connection(); conn != nil {
			errs = append(errs, conn.Destroy())
		}
		if pool := p.Pool(); pool != nil {
			errs = append(errs, pool.Destroy())
		}
	}
	errs = append(errs, c.native.Destroy())
	c.setState(StateDestroyed)
	if err := stderrors.Join(errs...); err != nil {
		return errors.ComponentState(c.name, "destroy", err)
	}
	return nil
}

func (c *Component) allPorts() []*Port {
	ports := []*Port{c.control}
	ports = append(ports, c.inputs...)
	ports = append(ports, c.outputs...)
	return append(ports, c.clocks...)
}

// ComponentStats is a snapshot of a component and its ports.
type ComponentStats struct {
	Name  string      `json:"name"`
	State string      `json:"state"`
	Ports []PortStats `json:"ports"`
}

// Stats returns a snapshot of the component's input and output ports.
func (c *Component) Stats() ComponentStats {
	s := ComponentStats{Name: c.name, State: c.State().String()}
	for _, p := range append(append([]*Port{}, c.inputs...), c.outputs...) {
		s.Ports = append(s.Ports, p.Stats())
	}
	return s
}
