package mmal

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/mmalkit/errors"
	"github.com/kbukum/mmalkit/hal"
	"github.com/kbukum/mmalkit/hal/sim"
)

func TestConnectIsIdempotent(t *testing.T) {
	h := openHost(t)
	src := newComponent(t, h, sim.TestSource)
	snk := newComponent(t, h, sim.TestSink)
	other := newComponent(t, h, sim.TestSink)

	in, err := Connect(src.Output(0), snk.Input(0))
	require.NoError(t, err)
	assert.Same(t, snk.Input(0), in)
	conn := src.Output(0).Connection()
	require.NotNil(t, conn)
	assert.Equal(t, Tunnelled, conn.Mode())

	in, err = Connect(src.Output(0), other.Input(0))
	require.NoError(t, err)
	assert.Same(t, snk.Input(0), in)
	assert.Same(t, conn, src.Output(0).Connection())
	assert.Nil(t, other.Input(0).Connection())
}

func TestConnectRules(t *testing.T) {
	h := openHost(t)
	a := newComponent(t, h, sim.TestSource)
	b := newComponent(t, h, sim.TestSource)
	snk := newComponent(t, h, sim.TestSink)

	_, err := Connect(snk.Input(0), a.Output(0))
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))

	_, err = Connect(a.Output(0), snk.Input(0))
	require.NoError(t, err)
	_, err = Connect(b.Output(0), snk.Input(0))
	assert.True(t, errors.HasCode(err, errors.ErrCodeConflict))

	require.NoError(t, b.Output(0).SetConsumer(&sink{}))
	pt := newComponent(t, h, sim.TestPassthrough)
	_, err = Connect(b.Output(0), pt.Input(0), Intercept(nil))
	assert.True(t, errors.HasCode(err, errors.ErrCodeConflict))
	_, err = Connect(b.Output(0), pt.Input(0))
	assert.True(t, errors.HasCode(err, errors.ErrCodeConflict))
	assert.Nil(t, b.Output(0).Connection())
	assert.Nil(t, pt.Input(0).Connection())

	fed := newComponent(t, h, sim.TestSink)
	c := newComponent(t, h, sim.TestSource)
	require.NoError(t, fed.Input(0).SetProducer(ProducerFunc(func(*Buffer) (bool, error) { return true, nil })))
	_, err = Connect(c.Output(0), fed.Input(0))
	assert.True(t, errors.HasCode(err, errors.ErrCodeConflict))

	slotted := newComponent(t, h, sim.TestSink)
	require.NoError(t, slotted.Input(0).SetSlots(nil))
	_, err = Connect(c.Output(0), slotted.Input(0))
	require.NoError(t, err)
	assert.True(t, errors.HasCode(c.Output(0).SetConsumer(&sink{}), errors.ErrCodeConflict))
}

func TestConnectionEnableRequiresComponents(t *testing.T) {
	h := openHost(t)
	src := newComponent(t, h, sim.TestSource)
	snk := newComponent(t, h, sim.TestSink)
	_, err := Connect(src.Output(0), snk.Input(0))
	require.NoError(t, err)

	err = src.Output(0).Connection().Enable()
	assert.True(t, errors.HasCode(err, errors.ErrCodeComponentState))
}

func TestTunnelEndToEnd(t *testing.T) {
	h := openHost(t)
	src := newComponent(t, h, sim.TestSource)
	snk := newComponent(t, h, sim.TestSink)
	got := &sink{}

	require.NoError(t, src.Configure(nil))
	require.NoError(t, snk.Configure(func(c *Component) error {
		return c.Input(0).SetSlots(got)
	}))
	_, err := Connect(src.Output(0), snk.Input(0))
	require.NoError(t, err)

	require.NoError(t, src.Enable())
	require.NoError(t, snk.Enable())
	conn := src.Output(0).Connection()
	require.NoError(t, conn.Enable())
	assert.Equal(t, ConnEnabled, conn.State())

	in := snk.Input(0)
	cd := NewCountdown()
	require.NoError(t, in.Arm(cd, 1))

	native := simPort(src.Output(0))
	require.NoError(t, native.Emit(sim.Frame{Data: []byte("hello"), Flags: hal.FlagFrameEnd}))
	require.NoError(t, native.Emit(sim.Frame{Flags: hal.FlagEOS}))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, cd.Wait(ctx))
	require.Eventually(t, func() bool { return in.Pool().FreeCount() == in.Pool().Size()-2 }, waitFor, time.Millisecond)
	assert.Equal(t, 2, got.len())
	assert.Equal(t, "hello", string(got.payload(0)))

	require.NoError(t, conn.Disable())
	require.NoError(t, conn.Destroy())
	require.NoError(t, conn.Destroy())
	assert.Nil(t, src.Output(0).Connection())
	assert.Nil(t, in.Connection())
}

func TestInterceptedConnection(t *testing.T) {
	h := openHost(t)
	src := newComponent(t, h, sim.TestSource)
	pt := newComponent(t, h, sim.TestPassthrough)
	got := &sink{}

	require.NoError(t, src.Configure(nil))
	require.NoError(t, pt.Configure(func(c *Component) error {
		return c.Output(0).SetConsumer(got)
	}))
	_, err := Connect(src.Output(0), pt.Input(0), Intercept(func(b *Buffer) error {
		copy(b.Bytes(), bytes.ToUpper(b.Bytes()))
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, src.Enable())
	require.NoError(t, pt.Enable())
	conn := src.Output(0).Connection()
	require.NoError(t, conn.Enable())
	assert.Equal(t, Intercepted, conn.Mode())
	assert.True(t, src.Output(0).Enabled())
	assert.True(t, pt.Input(0).Enabled())

	native := simPort(src.Output(0))
	assert.Equal(t, 3, native.Pending())
	for i := 0; i < 4; i++ {
		require.Eventually(t, func() bool { return native.Pending() > 0 }, waitFor, time.Millisecond)
		require.NoError(t, native.Deliver([]byte(fmt.Sprintf("frame %d", i)), hal.FlagFrameEnd))
	}
	require.Eventually(t, func() bool { return got.len() == 4 }, waitFor, time.Millisecond)
	assert.Equal(t, "FRAME 3", string(got.payload(3)))
	require.Eventually(t, func() bool { return conn.Forwarded() == 4 }, waitFor, time.Millisecond)

	require.Eventually(t, func() bool { return native.Pending() == 3 }, waitFor, time.Millisecond)
	pool := conn.Pool()
	require.NoError(t, pt.Input(0).Disable())
	assert.Equal(t, ConnDisabled, conn.State())
	assert.False(t, src.Output(0).Enabled())
	assert.Equal(t, pool.Size(), pool.FreeCount())
	assert.True(t, pool.Destroyed())
}

func TestInterceptedCountdownStopsResend(t *testing.T) {
	h := openHost(t)
	src := newComponent(t, h, sim.TestSource)
	pt := newComponent(t, h, sim.TestPassthrough)
	got := &sink{}

	require.NoError(t, src.Configure(nil))
	require.NoError(t, pt.Configure(func(c *Component) error {
		return c.Output(0).SetConsumer(got)
	}))
	_, err := Connect(src.Output(0), pt.Input(0), Intercept(nil))
	require.NoError(t, err)
	require.NoError(t, src.Enable())
	require.NoError(t, pt.Enable())
	require.NoError(t, src.Output(0).Connection().Enable())

	out, in := src.Output(0), pt.Input(0)
	native := simPort(out)
	require.Equal(t, 3, native.Pending())

	cd := NewCountdown()
	assert.True(t, errors.HasCode(out.Arm(cd, 1), errors.ErrCodeConflict))
	require.NoError(t, in.Arm(cd, 1))
	assert.Zero(t, simPort(in).Sent())
	assert.Equal(t, uint64(3), out.Stats().Sent)

	require.NoError(t, native.Deliver([]byte("one"), hal.FlagFrameEnd))
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, cd.Wait(ctx))
	require.Eventually(t, func() bool { return in.Stats().Completed == 1 }, waitFor, time.Millisecond)

	require.NoError(t, native.Deliver([]byte("two"), hal.FlagFrameEnd))
	require.Eventually(t, func() bool { return in.Stats().Completed == 2 }, waitFor, time.Millisecond)
	require.Eventually(t, func() bool { return got.len() == 2 }, waitFor, time.Millisecond)
	assert.Equal(t, uint64(3), out.Stats().Sent)
	assert.Equal(t, 1, native.Pending())
	assert.Equal(t, 2, simPort(in).Sent())

	require.NoError(t, in.Arm(cd, 1))
	assert.Equal(t, 3, native.Pending())
	assert.Equal(t, uint64(5), out.Stats().Sent)
}

func TestInterceptorErrorIsReported(t *testing.T) {
	h := openHost(t)
	events := &eventLog{}
	src := newComponent(t, h, sim.TestSource, WithEventHandler(events.handle))
	snk := newComponent(t, h, sim.TestSink)
	require.NoError(t, src.Configure(nil))
	require.NoError(t, snk.Configure(nil))
	_, err := Connect(src.Output(0), snk.Input(0), Intercept(func(b *Buffer) error {
		return fmt.Errorf("corrupt")
	}))
	require.NoError(t, err)
	require.NoError(t, src.Enable())
	require.NoError(t, snk.Enable())
	conn := src.Output(0).Connection()
	require.NoError(t, conn.Enable())

	native := simPort(src.Output(0))
	require.NoError(t, native.Deliver([]byte("x"), hal.FlagFrameEnd))
	require.Eventually(t, func() bool { return events.count(EventCallbackError) == 1 }, waitFor, time.Millisecond)
	assert.ErrorContains(t, src.Output(0).Err(), "corrupt")
	require.Eventually(t, func() bool { return native.Pending() == 3 }, waitFor, time.Millisecond)
	assert.Zero(t, conn.Forwarded())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("intercepted")
	require.NoError(t, err)
	assert.Equal(t, Intercepted, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Tunnelled, m)
	_, err = ParseMode("bridge")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
}
