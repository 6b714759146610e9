package hal

import "errors"

// Engine errors. Implementations wrap these so callers can use errors.Is.
var (
	ErrNotInitialized = errors.New("hal: engine not initialized")
	ErrAlreadyOpen    = errors.New("hal: engine session already open")
	ErrUnknown        = errors.New("hal: unknown component")
	ErrNotEnabled     = errors.New("hal: port not enabled")
	ErrAlreadyEnabled = errors.New("hal: port already enabled")
	ErrNoBuffer       = errors.New("hal: no buffer available")
	ErrInvalidFormat  = errors.New("hal: format rejected")
	ErrInvalidParam   = errors.New("hal: invalid parameter")
	ErrDestroyed      = errors.New("hal: object destroyed")
	ErrBusy           = errors.New("hal: resource busy")
	ErrNotConnectable = errors.New("hal: ports cannot be connected")
	ErrEnableFailed   = errors.New("hal: enable failed")
)

// Callback receives buffer headers returned by the engine. It is invoked on
// an engine goroutine; per port, headers arrive in the order the engine
// produced them.
type Callback func(port PortHandle, hdr *BufferHeader)

// Host is the process-wide engine session. Exactly one session may be open
// at a time; Init must precede CreateComponent and Deinit must follow the
// destruction of every component, connection and pool.
type Host interface {
	// Name identifies the engine implementation, e.g. "sim".
	Name() string
	Init() error
	Deinit() error
	CreateComponent(name string) (ComponentHandle, error)
	// Connect creates a native tunnel from an output port to an input port.
	Connect(out, in PortHandle) (ConnectionHandle, error)
}

// ComponentHandle is a native component.
type ComponentHandle interface {
	Name() string
	Control() PortHandle
	Inputs() []PortHandle
	Outputs() []PortHandle
	Clocks() []PortHandle
	Enable() error
	Disable() error
	Enabled() bool
	Destroy() error
}

// PortInfo is the read-only description of a port.
type PortInfo struct {
	Name                  string
	Type                  PortType
	Index                 int
	BufferNumMin          int
	BufferNumRecommended  int
	BufferSizeMin         int
	BufferSizeRecommended int
}

// PortHandle is a native port. Format and buffer sizing changes are staged
// with SetFormat and SetBuffers and take effect on Commit.
type PortHandle interface {
	Info() PortInfo
	Format() Format
	SetFormat(f Format)
	BufferNum() int
	BufferSize() int
	SetBuffers(num, size int)
	Commit() error

	// Enable starts the port. cb may be nil for ports driven by a tunnel.
	Enable(cb Callback) error
	Disable() error
	Enabled() bool
	// Send hands a buffer header to the engine. The header is returned
	// through the callback once processed.
	Send(hdr *BufferHeader) error
	// Flush returns every header held by the engine through the callback.
	Flush() error

	SetParameter(id ParameterID, value any) error
	Parameter(id ParameterID) (any, error)
}

// ConnectionHandle is a native tunnel between two ports.
type ConnectionHandle interface {
	Enable() error
	Disable() error
	Destroy() error
}
