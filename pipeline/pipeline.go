package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/mmalkit/component"
	"github.com/kbukum/mmalkit/errors"
	"github.com/kbukum/mmalkit/logger"
	"github.com/kbukum/mmalkit/mmal"
	"github.com/kbukum/mmalkit/observability"
)

// Link connects output port Output of stage From to input port Input of
// stage To.
type Link struct {
	From   string
	Output int
	To     string
	Input  int
	Mode   mmal.Mode
	// Interceptor is used by intercepted links and may be nil.
	Interceptor mmal.Interceptor
}

// Trigger starts the work a Run waits for, typically by setting the
// capture parameter on a camera port.
type Trigger func(ctx context.Context) error

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// Pipeline owns a set of stages and the connections between them.
type Pipeline struct {
	id   uuid.UUID
	name string
	log  *logger.Logger

	mu       sync.Mutex
	stages   map[string]*mmal.Component
	links    []Link
	order    []string
	conns    []*mmal.Connection
	registry *component.Registry
	built    bool
	closed   bool

	runMu sync.Mutex
	armed *mmal.Port // completion port of the last run
}

// New creates an empty pipeline.
func New(name string, opts ...Option) *Pipeline {
	p := &Pipeline{
		id:     uuid.New(),
		name:   name,
		log:    logger.Get("pipeline"),
		stages: make(map[string]*mmal.Component),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithFields(logger.Fields(logger.FieldPipeline, name, "pipeline_id", p.id.String()))
	p.registry = component.NewRegistry().WithLogger(p.log)
	return p
}

// ID returns the pipeline's unique identifier.
func (p *Pipeline) ID() string { return p.id.String() }

func (p *Pipeline) Name() string { return p.name }

// AddStage adds c under name. Stages can only be added before Build.
func (p *Pipeline) AddStage(name string, c *mmal.Component) error {
	if c == nil {
		return errors.InvalidInput("stage", "component is nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.mutableLocked(); err != nil {
		return err
	}
	if _, ok := p.stages[name]; ok {
		return errors.Conflict(fmt.Sprintf("stage %s already added", name))
	}
	p.stages[name] = c
	return nil
}

// Connect declares a link. Connections are created by Build.
func (p *Pipeline) Connect(l Link) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.mutableLocked(); err != nil {
		return err
	}
	for _, name := range []string{l.From, l.To} {
		if _, ok := p.stages[name]; !ok {
			return errors.NotFound("stage", name)
		}
	}
	p.links = append(p.links, l)
	return nil
}

func (p *Pipeline) mutableLocked() error {
	switch {
	case p.closed:
		return errors.Conflict(fmt.Sprintf("pipeline %s is closed", p.name))
	case p.built:
		return errors.Conflict(fmt.Sprintf("pipeline %s is already built", p.name))
	}
	return nil
}

// Stage returns the component added under name, or nil.
func (p *Pipeline) Stage(name string) *mmal.Component {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stages[name]
}

// Order returns the stage names sources first. It is empty before Build.
func (p *Pipeline) Order() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

// Build orders the stages, creates every connection and registers the
// lifecycle of stages and connections. Building twice is a no-op.
func (p *Pipeline) Build() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.Conflict(fmt.Sprintf("pipeline %s is closed", p.name))
	}
	if p.built {
		return nil
	}

	g := &Graph{Nodes: make(map[string]struct{}, len(p.stages))}
	for name := range p.stages {
		g.Nodes[name] = struct{}{}
	}
	for _, l := range p.links {
		g.Edges = append(g.Edges, Edge{From: l.From, To: l.To})
	}
	levels, err := BuildLevels(g)
	if err != nil {
		return errors.InvalidInput("links", err.Error())
	}
	order := flatten(levels)
	rank := make(map[string]int, len(order))
	for i, name := range order {
		rank[name] = i
	}

	links := append([]Link(nil), p.links...)
	sort.SliceStable(links, func(i, j int) bool { return rank[links[i].From] < rank[links[j].From] })

	var conns []*mmal.Connection
	for _, l := range links {
		conn, err := p.connect(l)
		if err != nil {
			for i := len(conns) - 1; i >= 0; i-- {
				_ = conns[i].Destroy()
			}
			p.log.Error("build failed", logger.ErrorFields("build", err))
			return err
		}
		conns = append(conns, conn)
	}

	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		c := p.stages[name]
		_ = p.registry.Register(&component.Func{
			ID:       "stage:" + name,
			StartFn:  func(context.Context) error { return c.Enable() },
			StopFn:   func(context.Context) error { return c.Disable() },
			HealthFn: func(context.Context) component.Health { return stageHealth(name, c) },
		})
	}
	for _, conn := range conns {
		_ = p.registry.Register(&component.Func{
			ID:       "link:" + conn.Name(),
			StartFn:  func(context.Context) error { return conn.Enable() },
			StopFn:   func(context.Context) error { return conn.Disable() },
			HealthFn: func(context.Context) component.Health { return linkHealth(conn) },
		})
	}

	p.order, p.conns, p.built = order, conns, true
	p.log.Info("pipeline built", logger.Fields("stages", order, "links", len(conns)))
	return nil
}

func (p *Pipeline) connect(l Link) (*mmal.Connection, error) {
	out := p.stages[l.From].Output(l.Output)
	if out == nil {
		return nil, errors.InvalidInput("link", fmt.Sprintf("stage %s has no output %d", l.From, l.Output))
	}
	in := p.stages[l.To].Input(l.Input)
	if in == nil {
		return nil, errors.InvalidInput("link", fmt.Sprintf("stage %s has no input %d", l.To, l.Input))
	}
	var opts []mmal.ConnectOption
	if l.Mode == mmal.Intercepted {
		opts = append(opts, mmal.Intercept(l.Interceptor))
	}
	if _, err := mmal.Connect(out, in, opts...); err != nil {
		return nil, err
	}
	return out.Connection(), nil
}

// Enable enables every stage, sinks first, then every connection. If any
// of them fails, whatever this call enabled is disabled again.
func (p *Pipeline) Enable(ctx context.Context) (err error) {
	if err := p.ready(); err != nil {
		return err
	}
	ctx, span := observability.StartSpan(ctx, observability.SpanEnable)
	defer func() { observability.EndSpan(span, err) }()

	if err := p.registry.StartAll(ctx); err != nil {
		return err
	}
	p.log.Debug("pipeline enabled")
	return nil
}

// Disable disables every connection, then every stage from the sources
// down. Disabling a disabled pipeline is a no-op.
func (p *Pipeline) Disable(ctx context.Context) error {
	if err := p.registry.StopAll(ctx); err != nil {
		return err
	}
	p.log.Debug("pipeline disabled")
	return nil
}

// Enabled reports whether every stage and connection is enabled.
func (p *Pipeline) Enabled() bool {
	all := p.registry.All()
	if len(all) == 0 {
		return false
	}
	for _, c := range all {
		if !p.registry.Started(c.Name()) {
			return false
		}
	}
	return true
}

func (p *Pipeline) ready() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return errors.Conflict(fmt.Sprintf("pipeline %s is closed", p.name))
	case !p.built:
		return errors.Conflict(fmt.Sprintf("pipeline %s is not built", p.name))
	}
	return nil
}

// owns reports whether port belongs to one of the stages.
func (p *Pipeline) owns(port *mmal.Port) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.stages {
		if c == port.Component() {
			return true
		}
	}
	return false
}

// Run arms a fresh completion countdown on port for expected terminal
// buffers, calls trigger and blocks until the countdown completes or ctx is
// done. Runs are serialized and the previous run's port is disarmed first,
// so late buffers on it never count towards this run. On failure the pipeline is disabled and a single
// PIPELINE_FAILED error carrying every observed failure is returned.
func (p *Pipeline) Run(ctx context.Context, port *mmal.Port, expected int, trigger Trigger) (err error) {
	if err := p.ready(); err != nil {
		return err
	}
	if port == nil || !p.owns(port) {
		return errors.InvalidInput("port", "completion port is not part of the pipeline")
	}

	ctx, span := observability.StartSpan(ctx, observability.SpanPipelineRun, trace.WithAttributes(
		attribute.String(observability.AttrPort, port.Name()),
		attribute.Int(observability.AttrExpected, expected),
	))
	defer func() { observability.EndSpan(span, err) }()

	p.runMu.Lock()
	defer p.runMu.Unlock()

	if !p.Enabled() {
		return errors.ComponentState(p.name, "run", fmt.Errorf("pipeline is not enabled"))
	}
	if p.armed != nil {
		p.armed.Disarm()
		p.armed = nil
	}
	cd := mmal.NewCountdown()
	if err := port.Arm(cd, expected); err != nil {
		return err
	}
	p.armed = port

	start := time.Now()
	log := p.log.WithFields(logger.Fields(logger.FieldPort, port.Name(), logger.FieldExpected, expected))
	log.Debug("run started")

	if trigger != nil {
		if err := trigger(ctx); err != nil {
			cd.Disarm()
			return p.abort(ctx, err)
		}
	}
	if err := cd.Wait(ctx); err != nil {
		cd.Disarm()
		return p.abort(ctx, err)
	}
	log.Debug("run completed", logger.DurationFields("run", time.Since(start)))
	return nil
}

// abort disables the pipeline and aggregates cause with every port error.
func (p *Pipeline) abort(ctx context.Context, cause error) error {
	errs := []error{cause}
	for _, c := range p.components() {
		for _, port := range append(append([]*mmal.Port{}, c.Inputs()...), c.Outputs()...) {
			if perr := port.Err(); perr != nil && !stderrors.Is(cause, perr) {
				errs = append(errs, perr)
			}
		}
	}
	if err := p.Disable(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, err)
	}
	err := errors.PipelineFailed(errs...)
	p.log.Error("run failed, pipeline disabled", logger.ErrorFields("run", err))
	return err
}

// components returns the stages sources first.
func (p *Pipeline) components() []*mmal.Component {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*mmal.Component, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.stages[name])
	}
	return out
}

// Close disables the pipeline, destroys the connections and then the
// stages. Closing twice is a no-op.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := p.conns
	order := p.order
	if !p.built {
		order = order[:0]
		for name := range p.stages {
			order = append(order, name)
		}
		sort.Strings(order)
	}
	p.mu.Unlock()

	errs := []error{p.registry.StopAll(ctx)}
	for _, conn := range conns {
		errs = append(errs, conn.Destroy())
	}
	for _, name := range order {
		errs = append(errs, p.stages[name].Destroy())
	}
	p.log.Info("pipeline closed")
	return stderrors.Join(errs...)
}

// Health reports the health of every stage and connection.
func (p *Pipeline) Health(ctx context.Context) []component.Health {
	return p.registry.HealthAll(ctx)
}

func stageHealth(name string, c *mmal.Component) component.Health {
	h := component.Health{
		Name:    "stage:" + name,
		Status:  component.StatusHealthy,
		Details: map[string]string{"state": c.State().String(), "component": c.Name()},
	}
	if c.State() == mmal.StateDestroyed {
		h.Status = component.StatusUnhealthy
		h.Message = "component destroyed"
		return h
	}
	for _, port := range append(append([]*mmal.Port{}, c.Inputs()...), c.Outputs()...) {
		if err := port.Err(); err != nil {
			h.Status = component.StatusDegraded
			h.Message = err.Error()
			h.Details["port"] = port.Name()
			break
		}
	}
	return h
}

func linkHealth(conn *mmal.Connection) component.Health {
	h := component.Health{
		Name:    "link:" + conn.Name(),
		Status:  component.StatusHealthy,
		Details: map[string]string{"state": conn.State().String(), "mode": conn.Mode().String()},
	}
	if conn.State() == mmal.ConnDestroyed {
		h.Status = component.StatusUnhealthy
		h.Message = "connection destroyed"
	}
	return h
}

// LinkStats is a snapshot of one connection.
type LinkStats struct {
	Name      string `json:"name"`
	Mode      string `json:"mode"`
	State     string `json:"state"`
	Forwarded uint64 `json:"forwarded"`
}

// Stats is a snapshot of the pipeline for status reporting.
type Stats struct {
	ID      string                `json:"id"`
	Name    string                `json:"name"`
	Enabled bool                  `json:"enabled"`
	Stages  []mmal.ComponentStats `json:"stages"`
	Links   []LinkStats           `json:"links"`
}

// Stats returns a snapshot of every stage and connection.
func (p *Pipeline) Stats() Stats {
	s := Stats{ID: p.ID(), Name: p.name, Enabled: p.Enabled()}
	for _, c := range p.components() {
		s.Stages = append(s.Stages, c.Stats())
	}
	p.mu.Lock()
	conns := p.conns
	p.mu.Unlock()
	for _, conn := range conns {
		s.Links = append(s.Links, LinkStats{
			Name:      conn.Name(),
			Mode:      conn.Mode().String(),
			State:     conn.State().String(),
			Forwarded: conn.Forwarded(),
		})
	}
	return s
}
