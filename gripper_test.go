package sdhx_hand

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
)

type handFixture struct {
	gripper  *handGripper
	registry *BridgeRegistry
	factory  *fakeBridgeFactory
	bridge   *Bridge
}

// newHandFixture builds a hand on a fake link and brings the finger to ready.
func newHandFixture(t *testing.T) *handFixture {
	t.Helper()
	factory := newFakeBridgeFactory()
	registry := NewBridgeRegistry(factory.build)
	g, err := newHandGripperWithRegistry(gripper.Named("hand"), testHandConfig(), registry, logging.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		g.Close(context.Background())
	})

	b := g.bridge
	b.pollOnce(context.Background())
	out, err := g.DoCommand(context.Background(), map[string]interface{}{"command": "init"})
	require.NoError(t, err)
	require.Equal(t, true, out["success"])
	step(b, factory.mock)
	require.True(t, b.IsReady())

	return &handFixture{gripper: g, registry: registry, factory: factory, bridge: b}
}

func (f *handFixture) link() *fakeLink {
	return f.factory.links.last()
}

// settle waits for the goal started by the caller, then moves the finger to
// the given positions and lets it come to rest.
func (f *handFixture) settle(t *testing.T, p0, p1 int16) {
	t.Helper()
	require.Eventually(t, func() bool { return f.bridge.ActiveGoal() != nil }, testWait, testTick)
	f.link().setPositions(p0, p1)
	step(f.bridge, f.factory.mock)
	step(f.bridge, f.factory.mock)
}

func TestHandGripper(t *testing.T) {
	ctx := context.Background()

	t.Run("open", func(t *testing.T) {
		f := newHandFixture(t)
		f.link().setPositions(4000, 4000)
		step(f.bridge, f.factory.mock)
		step(f.bridge, f.factory.mock)

		done := make(chan error, 1)
		go func() { done <- f.gripper.Open(ctx, nil) }()
		f.settle(t, 0, 0)
		require.NoError(t, <-done)
		assert.Equal(t, [NumJoints]int16{0, 0}, f.link().lastMove().PositionCdeg)
	})

	t.Run("grab blocked by an object", func(t *testing.T) {
		f := newHandFixture(t)
		type grabResult struct {
			grabbed bool
			err     error
		}
		done := make(chan grabResult, 1)
		go func() {
			grabbed, err := f.gripper.Grab(ctx, nil)
			done <- grabResult{grabbed, err}
		}()
		f.settle(t, 4000, 4000)
		res := <-done
		require.NoError(t, res.err)
		assert.True(t, res.grabbed)
		assert.Equal(t, [NumJoints]int16{9000, 9000}, f.link().lastMove().PositionCdeg)
	})

	t.Run("grab closes fully", func(t *testing.T) {
		f := newHandFixture(t)
		done := make(chan bool, 1)
		go func() {
			grabbed, err := f.gripper.Grab(ctx, nil)
			assert.NoError(t, err)
			done <- grabbed
		}()
		f.settle(t, 9000, 9000)
		assert.False(t, <-done)
	})

	t.Run("stop cancels the goal", func(t *testing.T) {
		f := newHandFixture(t)
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- f.gripper.Open(cctx, nil) }()

		require.Eventually(t, func() bool { return f.bridge.ActiveGoal() != nil }, testWait, testTick)
		moving, err := f.gripper.IsMoving(ctx)
		require.NoError(t, err)
		assert.True(t, moving)

		require.NoError(t, f.gripper.Stop(ctx, nil))
		assert.ErrorContains(t, <-done, "preempted")
		assert.Equal(t, 1, f.link().haltCount())

		require.NoError(t, f.gripper.Stop(ctx, nil))
		assert.Equal(t, 2, f.link().haltCount())
	})

	t.Run("inputs", func(t *testing.T) {
		f := newHandFixture(t)
		f.link().setPositions(9000, 0)
		step(f.bridge, f.factory.mock)

		inputs, err := f.gripper.CurrentInputs(ctx)
		require.NoError(t, err)
		require.Len(t, inputs, 2)
		assert.InDelta(t, CdegToRad(9000), inputs[0], 1e-9)

		err = f.gripper.GoToInputs(ctx, []referenceframe.Input{0})
		assert.Error(t, err)

		done := make(chan error, 1)
		go func() { done <- f.gripper.GoToInputs(ctx, []referenceframe.Input{0.1, 0.1}) }()
		f.settle(t, 573, 573)
		require.NoError(t, <-done)
	})

	t.Run("geometries and unsupported calls", func(t *testing.T) {
		f := newHandFixture(t)
		geoms, err := f.gripper.Geometries(ctx, nil)
		require.NoError(t, err)
		require.Len(t, geoms, 1)
		assert.Equal(t, "finger", geoms[0].Label())

		_, err = f.gripper.Kinematics(ctx)
		assert.True(t, errors.Is(err, errors.ErrUnsupported))
		_, err = f.gripper.IsHoldingSomething(ctx, nil)
		assert.True(t, errors.Is(err, errors.ErrUnsupported))
	})

	t.Run("do command", func(t *testing.T) {
		f := newHandFixture(t)
		out, err := f.gripper.DoCommand(ctx, map[string]interface{}{"command": "bridge_status"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), out["ref_count"])
		assert.Equal(t, true, out["has_bridge"])

		_, err = f.gripper.DoCommand(ctx, map[string]interface{}{"command": "dance"})
		assert.ErrorContains(t, err, "unknown command")
	})
}

func TestDiagnosticsSensorSharesBridge(t *testing.T) {
	ctx := context.Background()
	f := newHandFixture(t)

	s, err := newDiagnosticsSensorWithRegistry(sensor.Named("diag"), testHandConfig(), f.registry, logging.NewTestLogger(t))
	require.NoError(t, err)
	assert.Same(t, f.bridge, s.bridge)

	refs, _, _ := f.registry.Status("/dev/ttyTEST0")
	assert.Equal(t, int64(2), refs)

	readings, err := s.Readings(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "OK", readings["level"])
	diag, ok := readings["diagnostics"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, diag, "bridge")
	assert.Contains(t, readings, "joint_states")

	out, err := s.DoCommand(ctx, map[string]any{"command": "status"})
	require.NoError(t, err)
	assert.Equal(t, "ready", out["lifecycle"])

	require.NoError(t, s.Close(ctx))
	refs, _, _ = f.registry.Status("/dev/ttyTEST0")
	assert.Equal(t, int64(1), refs)
}

func TestModelsRegistered(t *testing.T) {
	_, ok := resource.LookupRegistration(gripper.API, HandModel)
	assert.True(t, ok)
	_, ok = resource.LookupRegistration(sensor.API, DiagnosticsSensorModel)
	assert.True(t, ok)
}
