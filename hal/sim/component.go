package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/mmalkit/hal"
	"github.com/kbukum/mmalkit/logger"
)

// Frame is a unit of media moving through the engine.
type Frame struct {
	Data  []byte
	Flags hal.Flags
	PTS   time.Duration
}

// Behaviour is the processing logic of a component.
type Behaviour interface {
	// Validate checks a format before it is committed on p.
	Validate(p *Port, f hal.Format) error
	// Input receives a frame arriving on input port p.
	Input(p *Port, fr Frame)
	// SetParameter reacts to a parameter change. Returning an error
	// rejects the change.
	SetParameter(p *Port, id hal.ParameterID, value any) error
	// PortDisabled is called after p is disabled.
	PortDisabled(p *Port)
	// Close stops background work. Called once on destroy.
	Close()
}

// Passive is a Behaviour that accepts everything and does nothing.
type Passive struct{}

func (Passive) Validate(*Port, hal.Format) error               { return nil }
func (Passive) Input(*Port, Frame)                             {}
func (Passive) SetParameter(*Port, hal.ParameterID, any) error { return nil }
func (Passive) PortDisabled(*Port)                             {}
func (Passive) Close()                                         {}

type passthrough struct{ Passive }

func (passthrough) Input(p *Port, fr Frame) {
	_ = p.comp.outputs[0].Emit(fr)
}

// Component is a simulated engine component.
type Component struct {
	host      *Host
	name      string
	behaviour Behaviour

	control *Port
	inputs  []*Port
	outputs []*Port
	clocks  []*Port

	mu         sync.Mutex
	enabled    bool
	destroyed  bool
	failEnable error
}

var _ hal.ComponentHandle = (*Component)(nil)

func newComponent(h *Host, name string, t Template) *Component {
	c := &Component{host: h, name: name}
	c.control = newPort(c, hal.PortInfo{Type: hal.PortControl})
	for i, info := range t.Inputs {
		info.Index = i
		c.inputs = append(c.inputs, newPort(c, info))
	}
	for i, info := range t.Outputs {
		info.Index = i
		c.outputs = append(c.outputs, newPort(c, info))
	}
	for i := 0; i < t.Clocks; i++ {
		c.clocks = append(c.clocks, newPort(c, hal.PortInfo{Type: hal.PortClock, Index: i}))
	}
	if t.New != nil {
		c.behaviour = t.New(c)
	}
	if c.behaviour == nil {
		c.behaviour = Passive{}
	}
	return c
}

func (c *Component) Name() string { return c.name }

func (c *Component) Control() hal.PortHandle { return c.control }

func (c *Component) Inputs() []hal.PortHandle  { return handles(c.inputs) }
func (c *Component) Outputs() []hal.PortHandle { return handles(c.outputs) }
func (c *Component) Clocks() []hal.PortHandle  { return handles(c.clocks) }

// Input returns input port i.
func (c *Component) Input(i int) *Port { return c.inputs[i] }

// Output returns output port i.
func (c *Component) Output(i int) *Port { return c.outputs[i] }

func handles(ports []*Port) []hal.PortHandle {
	out := make([]hal.PortHandle, len(ports))
	for i, p := range ports {
		out[i] = p
	}
	return out
}

// FailEnable makes the next Enable fail with err.
func (c *Component) FailEnable(err error) {
	c.mu.Lock()
	c.failEnable = err
	c.mu.Unlock()
}

func (c *Component) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return hal.ErrDestroyed
	}
	if err := c.failEnable; err != nil {
		c.failEnable = nil
		return fmt.Errorf("%w: %s: %v", hal.ErrEnableFailed, c.name, err)
	}
	c.enabled = true
	return nil
}

func (c *Component) Disable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return hal.ErrDestroyed
	}
	c.enabled = false
	return nil
}

func (c *Component) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *Component) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// Destroy disables every port, stops background work and releases the
// component. Destroying twice is a no-op.
func (c *Component) Destroy() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.enabled = false
	c.mu.Unlock()

	for _, p := range c.allPorts() {
		p.forceDisable()
	}
	c.behaviour.Close()

	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()
	c.host.remove(c)
	c.host.log.Debug("component destroyed", logger.Fields(logger.FieldComponent, c.name))
	return nil
}

func (c *Component) allPorts() []*Port {
	ports := []*Port{c.control}
	ports = append(ports, c.inputs...)
	ports = append(ports, c.outputs...)
	return append(ports, c.clocks...)
}
