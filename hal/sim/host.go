package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/mmalkit/hal"
	"github.com/kbukum/mmalkit/logger"
)

const (
	defaultBufferWait = 500 * time.Millisecond

	// Sensor limits of the simulated camera.
	MaxWidth  = 3280
	MaxHeight = 2464

	// MaxBitrate is the highest bitrate the video encoder accepts.
	MaxBitrate = 25_000_000
)

// Names of the generic test components.
const (
	TestSource      = "test.source"
	TestSink        = "test.sink"
	TestPassthrough = "test.passthrough"
)

// Template describes how to build a component.
type Template struct {
	Inputs  []hal.PortInfo
	Outputs []hal.PortInfo
	Clocks  int
	New     func(c *Component) Behaviour
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the host logger.
func WithLogger(l *logger.Logger) Option {
	return func(h *Host) { h.log = l.WithComponent("hal-sim") }
}

// WithFrameInterval fixes the delay between video frames, overriding the
// frame rate of the port format.
func WithFrameInterval(d time.Duration) Option {
	return func(h *Host) { h.frameInterval = d }
}

// WithBufferWait sets how long a producing component waits for a buffer
// header before dropping the frame.
func WithBufferWait(d time.Duration) Option {
	return func(h *Host) { h.bufferWait = d }
}

// WithTemplate registers an additional component template.
func WithTemplate(name string, t Template) Option {
	return func(h *Host) { h.templates[name] = t }
}

// Host is the simulated engine session.
type Host struct {
	log           *logger.Logger
	frameInterval time.Duration
	bufferWait    time.Duration
	templates     map[string]Template

	mu         sync.Mutex
	open       bool
	components map[*Component]struct{}
}

var _ hal.Host = (*Host)(nil)

// NewHost creates a host with the built-in templates.
func NewHost(opts ...Option) *Host {
	h := &Host{
		log:        logger.Nop(),
		bufferWait: defaultBufferWait,
		templates:  builtinTemplates(),
		components: make(map[*Component]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Host) Name() string { return "sim" }

// Init opens the session.
func (h *Host) Init() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.open {
		return hal.ErrAlreadyOpen
	}
	h.open = true
	h.log.Debug("engine session opened")
	return nil
}

// Deinit closes the session. Every component must be destroyed first.
func (h *Host) Deinit() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.open {
		return hal.ErrNotInitialized
	}
	if n := len(h.components); n > 0 {
		return fmt.Errorf("%w: %d components still alive", hal.ErrBusy, n)
	}
	h.open = false
	h.log.Debug("engine session closed")
	return nil
}

// Open reports whether the session is open.
func (h *Host) Open() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

// Components returns the number of live components.
func (h *Host) Components() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.components)
}

// CreateComponent instantiates the named template.
func (h *Host) CreateComponent(name string) (hal.ComponentHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.open {
		return nil, hal.ErrNotInitialized
	}
	t, ok := h.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", hal.ErrUnknown, name)
	}
	c := newComponent(h, name, t)
	h.components[c] = struct{}{}
	h.log.Debug("component created", logger.Fields(logger.FieldComponent, name))
	return c, nil
}

func (h *Host) remove(c *Component) {
	h.mu.Lock()
	delete(h.components, c)
	h.mu.Unlock()
}

// Connect creates a tunnel between an output and an input port.
func (h *Host) Connect(out, in hal.PortHandle) (hal.ConnectionHandle, error) {
	op, ok1 := out.(*Port)
	ip, ok2 := in.(*Port)
	if !ok1 || !ok2 || op.comp.host != h || ip.comp.host != h {
		return nil, fmt.Errorf("%w: ports belong to another engine", hal.ErrNotConnectable)
	}
	if op.info.Type != hal.PortOutput || ip.info.Type != hal.PortInput {
		return nil, fmt.Errorf("%w: %s -> %s", hal.ErrNotConnectable, op.info.Name, ip.info.Name)
	}
	c := &Connection{out: op, in: ip}
	if err := op.attach(c); err != nil {
		return nil, err
	}
	if err := ip.attach(c); err != nil {
		op.detach(c)
		return nil, err
	}
	h.log.Debug("tunnel created", logger.Fields(logger.FieldConnection, op.info.Name+"->"+ip.info.Name))
	return c, nil
}

func builtinTemplates() map[string]Template {
	video := func(name string, idx int) hal.PortInfo {
		return hal.PortInfo{
			Name: name, Type: hal.PortOutput, Index: idx,
			BufferNumMin: 1, BufferNumRecommended: 3,
			BufferSizeMin: 1024, BufferSizeRecommended: 65536,
		}
	}
	codecIn := hal.PortInfo{
		Type: hal.PortInput, BufferNumMin: 1, BufferNumRecommended: 1,
		BufferSizeMin: 2048, BufferSizeRecommended: 81920,
	}
	codecOut := hal.PortInfo{
		Type: hal.PortOutput, BufferNumMin: 1, BufferNumRecommended: 3,
		BufferSizeMin: 2048, BufferSizeRecommended: 81920,
	}
	generic := func(t hal.PortType) hal.PortInfo {
		return hal.PortInfo{
			Type: t, BufferNumMin: 1, BufferNumRecommended: 3,
			BufferSizeMin: 64, BufferSizeRecommended: 1024,
		}
	}

	return map[string]Template{
		hal.ComponentCamera: {
			Outputs: []hal.PortInfo{
				video("preview", hal.CameraPreviewPort),
				video("video", hal.CameraVideoPort),
				video("still", hal.CameraStillPort),
			},
			Clocks: 1,
			New:    newCamera,
		},
		hal.ComponentImageEncode: {
			Inputs:  []hal.PortInfo{codecIn},
			Outputs: []hal.PortInfo{codecOut},
			New:     newImageEncoder,
		},
		hal.ComponentVideoEncode: {
			Inputs:  []hal.PortInfo{codecIn},
			Outputs: []hal.PortInfo{codecOut},
			New:     newVideoEncoder,
		},
		hal.ComponentNullSink: {
			Inputs: []hal.PortInfo{{
				Type: hal.PortInput, BufferNumMin: 1, BufferNumRecommended: 2,
				BufferSizeMin: 1024, BufferSizeRecommended: 65536,
			}},
			New: func(*Component) Behaviour { return Passive{} },
		},
		TestSource: {
			Outputs: []hal.PortInfo{generic(hal.PortOutput)},
			New:     func(*Component) Behaviour { return Passive{} },
		},
		TestSink: {
			Inputs: []hal.PortInfo{generic(hal.PortInput)},
			New:    func(*Component) Behaviour { return Passive{} },
		},
		TestPassthrough: {
			Inputs:  []hal.PortInfo{generic(hal.PortInput)},
			Outputs: []hal.PortInfo{generic(hal.PortOutput)},
			New:     func(*Component) Behaviour { return passthrough{} },
		},
	}
}
