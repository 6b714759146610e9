package mmal

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/mmalkit/errors"
	"github.com/kbukum/mmalkit/hal"
	"github.com/kbukum/mmalkit/hal/sim"
)

func TestComponentLifecycle(t *testing.T) {
	h := openHost(t)
	src := sourceWith(t, h, &sink{}, 2)
	assert.Equal(t, StateConfigured, src.State())

	require.NoError(t, src.Enable())
	require.NoError(t, src.Enable())
	assert.Equal(t, StateEnabled, src.State())
	assert.True(t, src.Control().Enabled())
	assert.True(t, src.Native().Enabled())

	assert.True(t, errors.HasCode(src.Configure(nil), errors.ErrCodeConflict))

	require.NoError(t, src.Disable())
	require.NoError(t, src.Disable())
	assert.Equal(t, StateDisabled, src.State())
	assert.False(t, src.Control().Enabled())
	assert.False(t, src.Output(0).Enabled())

	require.NoError(t, src.Destroy())
	require.NoError(t, src.Destroy())
	assert.Equal(t, StateDestroyed, src.State())
	assert.True(t, errors.HasCode(src.Enable(), errors.ErrCodeComponentState))
}

func TestComponentEnableRequiresConfigure(t *testing.T) {
	h := openHost(t)
	src := newComponent(t, h, sim.TestSource)
	assert.True(t, errors.HasCode(src.Enable(), errors.ErrCodeComponentState))
}

func TestComponentEnableRollsBack(t *testing.T) {
	h := openHost(t)
	pt := newComponent(t, h, sim.TestPassthrough)
	require.NoError(t, pt.Configure(func(c *Component) error {
		if err := c.Input(0).SetSlots(&sink{}); err != nil {
			return err
		}
		return c.Output(0).SetConsumer(&sink{})
	}))
	simPort(pt.Output(0)).FailEnable(fmt.Errorf("no memory"))

	err := pt.Enable()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeComponentState))
	assert.Equal(t, StateConfigured, pt.State())
	assert.False(t, pt.Input(0).Enabled())
	assert.False(t, pt.Control().Enabled())
	assert.False(t, pt.Native().Enabled())
	assert.True(t, pt.Input(0).Pool().Destroyed())

	require.NoError(t, pt.Enable())
	assert.True(t, pt.Output(0).Enabled())
}

func TestNativeEnableFailure(t *testing.T) {
	h := openHost(t)
	src := sourceWith(t, h, &sink{}, 1)
	src.Native().(*sim.Component).FailEnable(fmt.Errorf("busy"))
	assert.True(t, errors.HasCode(src.Enable(), errors.ErrCodeComponentState))
	assert.False(t, src.Output(0).Enabled())
}

func TestUnknownComponent(t *testing.T) {
	h := openHost(t)
	_, err := NewComponent(h, "vc.ril.nothing")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeComponentState))
	assert.ErrorIs(t, err, hal.ErrUnknown)
}

func TestComponentStats(t *testing.T) {
	h := openHost(t)
	src := sourceWith(t, h, &sink{}, 2)
	require.NoError(t, src.Enable())

	st := src.Stats()
	assert.Equal(t, sim.TestSource, st.Name)
	assert.Equal(t, "enabled", st.State)
	require.Len(t, st.Ports, 1)
	assert.Equal(t, 2, st.Ports[0].PoolSize)
	assert.Equal(t, 2, st.Ports[0].InFlight)
	assert.True(t, st.Ports[0].Enabled)
	assert.Equal(t, src.Output(0).Name(), st.Ports[0].Name)
}
