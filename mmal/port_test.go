package mmal

import (
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

// sourceWith creates a test source whose output has consumer c and the
// given buffer count.
func sourceWith(t *testing.T, h hal.Host, c Consumer, num int, opts ...Option) *Component {
	t.Helper()
	src := newComponent(t, h, sim.TestSource, opts...)
	require.NoError(t, src.Configure(func(comp *Component) error {
		out := comp.Output(0)
		if err := out.ConfigureFormat(FormatRequest{Encoding: hal.EncodingI420, Width: 64, Height: 48, BufferNum: num}); err != nil {
			return err
		}
		return out.SetConsumer(c)
	}))
	return src
}

func TestPortEnableSendsWholePool(t *testing.T) {
	h := openHost(t)
	src := sourceWith(t, h, &sink{}, 3)
	require.NoError(t, src.Enable())

	out := src.Output(0)
	native := simPort(out)
	assert.True(t, out.Enabled())
	assert.Equal(t, 3, native.Sent())
	assert.Equal(t, 3, native.Pending())
	assert.Equal(t, 3, out.Pool().InFlight())
	assert.Zero(t, out.Pool().FreeCount())
}

func TestPortDisableReclaims(t *testing.T) {
	h := openHost(t)
	src := sourceWith(t, h, &sink{}, 3)
	require.NoError(t, src.Enable())
	out := src.Output(0)
	pool := out.Pool()

	require.NoError(t, out.Disable())
	require.NoError(t, out.Disable())
	assert.False(t, out.Enabled())
	assert.Equal(t, pool.Size(), pool.FreeCount())
	assert.True(t, pool.Destroyed())
	assert.False(t, simPort(out).Enabled())

	require.NoError(t, out.Enable())
	assert.NotSame(t, pool, out.Pool())
	assert.Equal(t, 3, out.Pool().InFlight())
}

func TestPortEnableRequiresHandler(t *testing.T) {
	h := openHost(t)
	src := newComponent(t, h, sim.TestSource)
	require.NoError(t, src.Configure(nil))
	err := src.Output(0).Enable()
	assert.True(t, errors.HasCode(err, errors.ErrCodeConflict))
}

func TestPortEnableBeforeConfigure(t *testing.T) {
	h := openHost(t)
	src := newComponent(t, h, sim.TestSource)
	require.NoError(t, src.Output(0).SetConsumer(&sink{}))
	err := src.Output(0).Enable()
	assert.True(t, errors.HasCode(err, errors.ErrCodeComponentState))
}

func TestPortHandlerRules(t *testing.T) {
	h := openHost(t)
	pt := newComponent(t, h, sim.TestPassthrough)

	assert.True(t, errors.HasCode(pt.Input(0).SetConsumer(&sink{}), errors.ErrCodeInvalidInput))
	assert.True(t, errors.HasCode(pt.Output(0).SetProducer(ProducerFunc(func(*Buffer) (bool, error) { return true, nil })), errors.ErrCodeInvalidInput))

	require.NoError(t, pt.Configure(func(c *Component) error { return c.Output(0).SetConsumer(&sink{}) }))
	require.NoError(t, pt.Enable())
	assert.True(t, errors.HasCode(pt.Output(0).SetConsumer(&sink{}), errors.ErrCodeConflict))
}

func TestDeliveredBuffersCirculate(t *testing.T) {
	h := openHost(t)
	s := &sink{}
	src := sourceWith(t, h, s, 2)
	require.NoError(t, src.Enable())
	out := src.Output(0)
	native := simPort(out)

	for i := 0; i < 5; i++ {
		require.Eventually(t, func() bool { return native.Pending() > 0 }, waitFor, time.Millisecond)
		require.NoError(t, native.Deliver([]byte(fmt.Sprintf("frame-%d", i)), hal.FlagFrameEnd))
	}
	require.Eventually(t, func() bool { return s.len() == 5 }, waitFor, time.Millisecond)
	assert.Equal(t, "frame-4", string(s.payload(4)))
	require.Eventually(t, func() bool { return out.Pool().InFlight() == 2 }, waitFor, time.Millisecond)
	assert.NoError(t, out.Err())

	st := out.Stats()
	assert.Equal(t, uint64(7), st.Sent)
	assert.Equal(t, uint64(5), st.Completed)
	assert.Equal(t, uint64(5), st.Released)
}

func TestEmptyBuffersAreNotConsumed(t *testing.T) {
	h := openHost(t)
	s := &sink{}
	src := sourceWith(t, h, s, 2)
	require.NoError(t, src.Enable())
	native := simPort(src.Output(0))

	require.NoError(t, native.Deliver(nil, 0))
	require.Eventually(t, func() bool { return src.Output(0).Stats().Completed == 1 }, waitFor, time.Millisecond)
	require.Eventually(t, func() bool { return native.Pending() == 2 }, waitFor, time.Millisecond)
	assert.Zero(t, s.len())
}

func TestStarvationIsNotFatal(t *testing.T) {
	h := openHost(t)
	events := &eventLog{}
	held := make(chan *Buffer, 4)
	keep := ConsumerFunc(func(b *Buffer) error {
		b.Retain()
		held <- b
		return nil
	})
	src := sourceWith(t, h, keep, 2, WithEventHandler(events.handle))
	require.NoError(t, src.Enable())
	out := src.Output(0)
	native := simPort(out)

	require.NoError(t, native.Deliver([]byte("a"), hal.FlagFrameEnd))
	require.NoError(t, native.Deliver([]byte("b"), hal.FlagFrameEnd))
	first := <-held
	<-held
	require.Eventually(t, func() bool { return events.count(EventStarvation) == 2 }, waitFor, time.Millisecond)
	assert.ErrorIs(t, native.Deliver([]byte("c"), hal.FlagFrameEnd), hal.ErrNoBuffer)
	assert.NoError(t, out.Err())
	assert.Equal(t, 2, out.Pool().Held())

	require.NoError(t, out.ReleaseBuffer(first))
	require.Eventually(t, func() bool { return native.Pending() == 1 }, waitFor, time.Millisecond)
	require.NoError(t, native.Deliver([]byte("d"), hal.FlagFrameEnd))
	select {
	case b := <-held:
		assert.Equal(t, "d", string(b.Bytes()))
	case <-time.After(waitFor):
		t.Fatal("delivery did not resume")
	}
}

func TestReleaseAfterDisableIsNoop(t *testing.T) {
	h := openHost(t)
	held := make(chan *Buffer, 1)
	src := sourceWith(t, h, ConsumerFunc(func(b *Buffer) error {
		b.Retain()
		held <- b
		return nil
	}), 1)
	require.NoError(t, src.Enable())
	require.NoError(t, simPort(src.Output(0)).Deliver([]byte("x"), hal.FlagFrameEnd))
	b := <-held

	require.NoError(t, src.Disable())
	assert.NoError(t, src.Output(0).ReleaseBuffer(b))
	assert.Equal(t, BufferFree, b.State())
}

func TestConsumerPanicFailsCountdown(t *testing.T) {
	h := openHost(t)
	events := &eventLog{}
	src := sourceWith(t, h, ConsumerFunc(func(b *Buffer) error {
		panic("bad frame")
	}), 2, WithEventHandler(events.handle))
	require.NoError(t, src.Enable())
	out := src.Output(0)

	cd := NewCountdown()
	require.NoError(t, out.Arm(cd, 1))
	require.NoError(t, simPort(out).Deliver([]byte("x"), hal.FlagFrameEnd))

	err := cd.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consumer panic")
	assert.Equal(t, err, out.Err())
	assert.Equal(t, 1, events.count(EventCallbackError))
	require.Eventually(t, func() bool { return out.Pool().FreeCount() == 1 }, waitFor, time.Millisecond)
}

func TestCountdownStopsResend(t *testing.T) {
	h := openHost(t)
	src := sourceWith(t, h, &sink{}, 2)
	require.NoError(t, src.Enable())
	out := src.Output(0)
	native := simPort(out)

	cd := NewCountdown()
	require.NoError(t, out.Arm(cd, 1))
	require.NoError(t, native.Deliver([]byte("still"), hal.FlagFrameEnd|hal.FlagEOS))
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, cd.Wait(ctx))

	require.Eventually(t, func() bool { return out.Pool().FreeCount() == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, 1, native.Pending())

	require.NoError(t, out.Arm(cd, 1))
	assert.Equal(t, 2, native.Pending())
}

func TestProducerFeedsInput(t *testing.T) {
	h := openHost(t)
	snk := newComponent(t, h, sim.TestSink)
	chunks := []string{"one", "two", "three"}
	next, calls := 0, 0
	require.NoError(t, snk.Configure(func(c *Component) error {
		return c.Input(0).SetProducer(ProducerFunc(func(b *Buffer) (bool, error) {
			calls++
			if next >= len(chunks) {
				return true, nil
			}
			b.Fill([]byte(chunks[next]), false)
			next++
			return next == len(chunks), nil
		}))
	}))
	in := snk.Input(0)
	cd := NewCountdown()
	require.NoError(t, in.Arm(cd, 1))
	require.NoError(t, snk.Enable())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, cd.Wait(ctx))
	require.Eventually(t, func() bool { return in.Stats().Completed == 3 }, waitFor, time.Millisecond)
	require.Eventually(t, func() bool { return in.Pool().FreeCount() == in.Pool().Size() }, waitFor, time.Millisecond)
	assert.Equal(t, 3, simPort(in).Sent())
	assert.Equal(t, 3, calls)

	last := simPort(in).Last()
	assert.Equal(t, "three", string(last.Data))
	assert.True(t, last.Flags.Has(hal.FlagEOS))
}

func TestProducerErrorFailsPort(t *testing.T) {
	h := openHost(t)
	snk := newComponent(t, h, sim.TestSink)
	require.NoError(t, snk.Configure(func(c *Component) error {
		return c.Input(0).SetProducer(ProducerFunc(func(b *Buffer) (bool, error) {
			return false, fmt.Errorf("disk gone")
		}))
	}))
	err := snk.Enable()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
	assert.Equal(t, StateConfigured, snk.State())
	assert.False(t, snk.Input(0).Enabled())
}

func TestFormatRollback(t *testing.T) {
	h := openHost(t)
	events := &eventLog{}
	src := newComponent(t, h, sim.TestSource, WithEventHandler(events.handle))
	out := src.Output(0)
	require.NoError(t, out.ConfigureFormat(FormatRequest{Encoding: hal.EncodingI420, Width: 100, Height: 50}))

	before := out.Format()
	assert.Equal(t, 128, before.Width)
	assert.Equal(t, 64, before.Height)
	assert.Equal(t, hal.Rect{Width: 100, Height: 50}, before.Crop)

	simPort(out).Reject(func(f hal.Format) error {
		if f.Encoding == hal.EncodingRGB24 {
			return fmt.Errorf("rgb not supported")
		}
		return nil
	})
	require.NoError(t, out.ConfigureFormat(FormatRequest{Encoding: hal.EncodingRGB24, BufferNum: 5}))
	assert.True(t, before.Equal(out.Format()))
	assert.True(t, before.Equal(simPort(out).Committed()))
	assert.Equal(t, 1, events.count(EventFormatRollback))
	assert.Equal(t, 3, out.BufferNum())

	simPort(out).FailCommit(2)
	err := out.ConfigureFormat(FormatRequest{Encoding: hal.EncodingBGR24})
	assert.True(t, errors.HasCode(err, errors.ErrCodeFormatCommit))
}

func TestFormatBufferFloor(t *testing.T) {
	h := openHost(t)
	src := newComponent(t, h, sim.TestSource)
	out := src.Output(0)
	require.NoError(t, out.ConfigureFormat(FormatRequest{Encoding: hal.EncodingI420}))

	err := out.ConfigureFormat(FormatRequest{Encoding: hal.EncodingRGB24, BufferSize: 10})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeFormatCommit))
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
	assert.Equal(t, hal.EncodingI420, out.Format().Encoding)
}

func TestFormatRequiresDisabledPort(t *testing.T) {
	h := openHost(t)
	src := sourceWith(t, h, &sink{}, 1)
	require.NoError(t, src.Enable())
	err := src.Output(0).ConfigureFormat(FormatRequest{Encoding: hal.EncodingRGB24})
	assert.True(t, errors.HasCode(err, errors.ErrCodeConflict))
}

func TestFullCopyFromKeepsExtraData(t *testing.T) {
	h := openHost(t)
	a := newComponent(t, h, sim.TestSource)
	b := newComponent(t, h, sim.TestSource)
	f := a.Output(0).Native().Format()
	f.Encoding = hal.EncodingH264
	f.ExtraData = []byte{0, 0, 0, 1, 0x67}
	a.Output(0).Native().SetFormat(f)

	require.NoError(t, b.Output(0).FullCopyFrom(a.Output(0)))
	assert.Equal(t, f.ExtraData, b.Output(0).Format().ExtraData)

	require.NoError(t, b.Output(0).ConfigureFormat(FormatRequest{From: a.Output(0), Encoding: hal.EncodingMJPEG}))
	assert.Equal(t, hal.EncodingMJPEG, b.Output(0).Format().Encoding)
}

func TestParameters(t *testing.T) {
	h := openHost(t)
	cam := newComponent(t, h, hal.ComponentCamera)
	ctrl := cam.Control()

	require.NoError(t, ctrl.SetParameter(hal.ParamBrightness, 70))
	v, err := ctrl.Parameter(hal.ParamBrightness)
	require.NoError(t, err)
	assert.Equal(t, 70, v)

	err = ctrl.SetParameter(hal.ParamBrightness, 170)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
}
