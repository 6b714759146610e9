package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/mmalkit/component"
	"github.com/kbukum/mmalkit/errors"
	"github.com/kbukum/mmalkit/hal"
	"github.com/kbukum/mmalkit/hal/sim"
	"github.com/kbukum/mmalkit/logger"
	"github.com/kbukum/mmalkit/mmal"
)

type collector struct {
	mu   sync.Mutex
	data []string
	err  error
}

func (c *collector) Consume(b *mmal.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b.Len() > 0 {
		c.data = append(c.data, string(b.Bytes()))
	}
	return c.err
}

func (c *collector) payloads() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.data...)
}

type fixture struct {
	host *sim.Host
	p    *Pipeline
	src  *mmal.Component
	pt   *mmal.Component
	snk  *mmal.Component
	got  *collector
}

func newComponent(t *testing.T, h hal.Host, name string) *mmal.Component {
	t.Helper()
	c, err := mmal.NewComponent(h, name, mmal.WithLogger(logger.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Destroy() })
	return c
}

// newFixture builds source -> passthrough -> sink, all tunnelled, with the
// sink input in slot mode.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := sim.NewHost(sim.WithLogger(logger.Nop()))
	require.NoError(t, h.Init())

	f := &fixture{host: h, got: &collector{}}
	f.src = newComponent(t, h, sim.TestSource)
	f.pt = newComponent(t, h, sim.TestPassthrough)
	f.snk = newComponent(t, h, sim.TestSink)
	require.NoError(t, f.src.Configure(nil))
	require.NoError(t, f.pt.Configure(nil))
	require.NoError(t, f.snk.Configure(func(c *mmal.Component) error {
		return c.Input(0).SetSlots(f.got)
	}))

	f.p = New("test", WithLogger(logger.Nop()))
	t.Cleanup(func() { _ = f.p.Close(context.Background()) })
	require.NoError(t, f.p.AddStage("sink", f.snk))
	require.NoError(t, f.p.AddStage("source", f.src))
	require.NoError(t, f.p.AddStage("relay", f.pt))
	require.NoError(t, f.p.Connect(Link{From: "relay", To: "sink"}))
	require.NoError(t, f.p.Connect(Link{From: "source", To: "relay"}))
	require.NoError(t, f.p.Build())
	return f
}

func (f *fixture) emit(data string, flags hal.Flags) Trigger {
	return func(context.Context) error {
		return f.src.Output(0).Native().(*sim.Port).Emit(sim.Frame{Data: []byte(data), Flags: flags})
	}
}

func TestBuildOrdersStages(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{"source", "relay", "sink"}, f.p.Order())
	require.NotNil(t, f.src.Output(0).Connection())
	require.NotNil(t, f.pt.Output(0).Connection())
	assert.Same(t, f.snk, f.p.Stage("sink"))
	require.NoError(t, f.p.Build())
	assert.True(t, errors.HasCode(f.p.AddStage("late", f.src), errors.ErrCodeConflict))
}

func TestBuildRejectsCycle(t *testing.T) {
	h := sim.NewHost(sim.WithLogger(logger.Nop()))
	require.NoError(t, h.Init())
	a := newComponent(t, h, sim.TestPassthrough)
	b := newComponent(t, h, sim.TestPassthrough)

	p := New("cycle", WithLogger(logger.Nop()))
	require.NoError(t, p.AddStage("a", a))
	require.NoError(t, p.AddStage("b", b))
	require.NoError(t, p.Connect(Link{From: "a", To: "b"}))
	require.NoError(t, p.Connect(Link{From: "b", To: "a"}))
	assert.True(t, errors.HasCode(p.Build(), errors.ErrCodeInvalidInput))
	assert.Nil(t, a.Output(0).Connection())

	assert.True(t, errors.HasCode(p.Connect(Link{From: "a", To: "missing"}), errors.ErrCodeNotFound))
}

func TestBuildRejectsMissingPort(t *testing.T) {
	h := sim.NewHost(sim.WithLogger(logger.Nop()))
	require.NoError(t, h.Init())
	src := newComponent(t, h, sim.TestSource)
	snk := newComponent(t, h, sim.TestSink)

	p := New("ports", WithLogger(logger.Nop()))
	require.NoError(t, p.AddStage("source", src))
	require.NoError(t, p.AddStage("sink", snk))
	require.NoError(t, p.Connect(Link{From: "source", Output: 3, To: "sink"}))
	assert.True(t, errors.HasCode(p.Build(), errors.ErrCodeInvalidInput))
}

func TestEnableDisable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.p.Enable(ctx))
	require.NoError(t, f.p.Enable(ctx))
	assert.True(t, f.p.Enabled())
	for _, c := range []*mmal.Component{f.src, f.pt, f.snk} {
		assert.Equal(t, mmal.StateEnabled, c.State())
	}
	assert.Equal(t, mmal.ConnEnabled, f.src.Output(0).Connection().State())

	require.NoError(t, f.p.Disable(ctx))
	require.NoError(t, f.p.Disable(ctx))
	assert.False(t, f.p.Enabled())
	for _, c := range []*mmal.Component{f.src, f.pt, f.snk} {
		assert.Equal(t, mmal.StateDisabled, c.State())
	}
	pool := f.snk.Input(0).Pool()
	assert.Equal(t, pool.Size(), pool.FreeCount())
}

func TestEnableRollsBack(t *testing.T) {
	f := newFixture(t)
	f.src.Native().(*sim.Component).FailEnable(fmt.Errorf("camera busy"))

	err := f.p.Enable(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeComponentState))
	assert.False(t, f.p.Enabled())
	assert.Equal(t, mmal.StateDisabled, f.snk.State())
	assert.Equal(t, mmal.StateConfigured, f.src.State())

	require.NoError(t, f.p.Enable(context.Background()))
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.p.Enable(ctx))

	in := f.snk.Input(0)
	require.NoError(t, f.p.Run(ctx, in, 1, f.emit("first", hal.FlagFrameEnd|hal.FlagEOS)))
	require.NoError(t, f.p.Run(ctx, in, 1, f.emit("second", hal.FlagFrameEnd|hal.FlagEOS)))
	assert.Equal(t, []string{"first", "second"}, f.got.payloads())
	assert.True(t, f.p.Enabled())
}

func TestRunDisarmsPreviousPort(t *testing.T) {
	h := sim.NewHost(sim.WithLogger(logger.Nop()))
	require.NoError(t, h.Init())
	gotA, gotB := &collector{}, &collector{}
	a := newComponent(t, h, sim.TestSource)
	b := newComponent(t, h, sim.TestSource)
	require.NoError(t, a.Configure(func(c *mmal.Component) error { return c.Output(0).SetConsumer(gotA) }))
	require.NoError(t, b.Configure(func(c *mmal.Component) error { return c.Output(0).SetConsumer(gotB) }))

	p := New("pair", WithLogger(logger.Nop()))
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	require.NoError(t, p.AddStage("a", a))
	require.NoError(t, p.AddStage("b", b))
	require.NoError(t, p.Build())
	require.NoError(t, p.Enable(context.Background()))

	deliver := func(c *mmal.Component, data string) Trigger {
		return func(context.Context) error {
			return c.Output(0).Native().(*sim.Port).Deliver([]byte(data), hal.FlagFrameEnd)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx, a.Output(0), 1, deliver(a, "a1")))

	short, cancelShort := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelShort()
	err := p.Run(short, b.Output(0), 1, deliver(a, "late-a"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeTimeout))
	assert.Empty(t, gotB.payloads())
	assert.Equal(t, []string{"a1", "late-a"}, gotA.payloads())
}

func TestRunTimeout(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.p.Enable(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := f.p.Run(ctx, f.snk.Input(0), 1, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePipelineFailed))
	assert.True(t, errors.HasCode(err, errors.ErrCodeTimeout))
	assert.False(t, f.p.Enabled())
	assert.Equal(t, mmal.StateDisabled, f.snk.State())

	require.NoError(t, f.p.Enable(context.Background()))
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	require.NoError(t, f.p.Run(ctx2, f.snk.Input(0), 1, f.emit("late", hal.FlagEOS)))
}

func TestRunTriggerFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.p.Enable(context.Background()))

	err := f.p.Run(context.Background(), f.snk.Input(0), 1, func(context.Context) error {
		return fmt.Errorf("shutter jammed")
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodePipelineFailed))
	assert.ErrorContains(t, err, "shutter jammed")
	assert.False(t, f.p.Enabled())
}

func TestRunHandlerFailure(t *testing.T) {
	f := newFixture(t)
	f.got.err = fmt.Errorf("disk full")
	require.NoError(t, f.p.Enable(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := f.p.Run(ctx, f.snk.Input(0), 1, f.emit("frame", hal.FlagFrameEnd))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePipelineFailed))
	assert.ErrorContains(t, err, "disk full")
	assert.False(t, errors.HasCode(err, errors.ErrCodeTimeout))

	var degraded bool
	for _, h := range f.p.Health(context.Background()) {
		if h.Name == "stage:sink" {
			degraded = h.Status == component.StatusDegraded
		}
	}
	assert.True(t, degraded)
}

func TestRunPreconditions(t *testing.T) {
	f := newFixture(t)
	err := f.p.Run(context.Background(), f.snk.Input(0), 1, nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodeComponentState))

	other := newComponent(t, f.host, sim.TestSink)
	err = f.p.Run(context.Background(), other.Input(0), 1, nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))

	require.NoError(t, f.p.Enable(context.Background()))
	err = f.p.Run(context.Background(), f.snk.Input(0), 0, nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.p.Enable(context.Background()))
	conn := f.src.Output(0).Connection()

	require.NoError(t, f.p.Close(context.Background()))
	require.NoError(t, f.p.Close(context.Background()))
	assert.Equal(t, mmal.ConnDestroyed, conn.State())
	for _, c := range []*mmal.Component{f.src, f.pt, f.snk} {
		assert.Equal(t, mmal.StateDestroyed, c.State())
	}
	assert.Zero(t, f.host.Components())
	assert.True(t, errors.HasCode(f.p.Enable(context.Background()), errors.ErrCodeConflict))
	require.NoError(t, f.host.Deinit())
}

func TestStatsAndHealth(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.p.Enable(context.Background()))

	s := f.p.Stats()
	assert.Equal(t, f.p.ID(), s.ID)
	assert.True(t, s.Enabled)
	require.Len(t, s.Stages, 3)
	assert.Equal(t, sim.TestSource, s.Stages[0].Name)
	require.Len(t, s.Links, 2)
	assert.Equal(t, "tunnelled", s.Links[0].Mode)
	assert.Equal(t, "enabled", s.Links[0].State)

	health := f.p.Health(context.Background())
	require.Len(t, health, 5)
	for _, h := range health {
		assert.Equal(t, component.StatusHealthy, h.Status, h.Name)
	}
}
