package sdhx_hand

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

func TestNewBridge(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("rejects invalid config", func(t *testing.T) {
		_, err := NewBridge(&HandConfig{Port: "/dev/ttyTEST0"}, logger)
		assert.Error(t, err)
	})

	t.Run("picks link by driver", func(t *testing.T) {
		cfg := testHandConfig()
		cfg.Driver = DriverFeetech
		b, err := NewBridge(cfg, logger)
		require.NoError(t, err)
		_, ok := b.newLink(logger).(*feetechLink)
		assert.True(t, ok)
	})

	t.Run("starts disconnected", func(t *testing.T) {
		b, _, _ := newTestBridge(t, nil)
		snap := b.Snapshot()
		assert.Equal(t, StateDisconnected, snap.Lifecycle)
		assert.Equal(t, LinkAbsent, snap.Link)
		assert.Nil(t, snap.Status)
		assert.False(t, b.IsMoving())
		_, ok := b.JointStates()
		assert.False(t, ok)
	})
}

func TestStatusCycle(t *testing.T) {
	t.Run("publishes joint states only when ready", func(t *testing.T) {
		b, mock, links := newTestBridge(t, nil)
		b.pollOnce(context.Background())
		_, ok := b.JointStates()
		assert.False(t, ok)

		require.True(t, b.InitRequest(context.Background()).Success)
		links.last().setPositions(9000, -4500)
		step(b, mock)

		js, ok := b.JointStates()
		require.True(t, ok)
		assert.Equal(t, []string{"j1", "j2"}, js.Names)
		assert.InDeltaSlice(t, []float64{CdegToRad(9000), CdegToRad(-4500)}, js.Position, 1e-9)
		assert.Equal(t, mock.Now(), js.Stamp)
	})

	t.Run("velocity from successive samples", func(t *testing.T) {
		b, mock, link := readyBridge(t)
		link.setPositions(100, -100)
		step(b, mock)

		js, ok := b.JointStates()
		require.True(t, ok)
		assert.InDelta(t, CdegToRad(100)/0.05, js.Velocity[0], 1e-9)
		assert.InDelta(t, CdegToRad(-100)/0.05, js.Velocity[1], 1e-9)

		snap := b.Snapshot()
		assert.False(t, snap.MotionStopped)
		assert.True(t, snap.MotorsMoved)
		assert.True(t, b.IsMoving())

		step(b, mock)
		snap = b.Snapshot()
		assert.True(t, snap.MotionStopped)
		assert.True(t, snap.MotorsMoved, "moved stays set until the next goal")
	})

	t.Run("current above threshold means control is active", func(t *testing.T) {
		b, mock, link := readyBridge(t)
		link.setCurrents(101, 0)
		step(b, mock)
		assert.False(t, b.Snapshot().ControlStopped)

		link.setCurrents(-100, 100)
		step(b, mock)
		assert.True(t, b.Snapshot().ControlStopped)
	})

	t.Run("subscribers receive samples", func(t *testing.T) {
		b, mock, link := readyBridge(t)
		states, cancel := b.SubscribeJointStates(4)

		link.setPositions(1000, 2000)
		step(b, mock)
		select {
		case js := <-states:
			assert.InDelta(t, CdegToRad(1000), js.Position[0], 1e-9)
		case <-time.After(testWait):
			t.Fatal("no joint state delivered")
		}

		cancel()
		_, open := <-states
		assert.False(t, open)
		cancel()
	})

	t.Run("close ends subscriptions", func(t *testing.T) {
		b, _, _ := readyBridge(t)
		states, cancel := b.SubscribeJointStates(1)
		defer cancel()
		require.NoError(t, b.Close(context.Background()))
		_, open := <-states
		assert.False(t, open)
	})

	t.Run("snapshot map", func(t *testing.T) {
		b, _, _ := readyBridge(t)
		m := b.Snapshot().AsMap()
		assert.Equal(t, "ready", m["lifecycle"])
		assert.Equal(t, "finger_ready", m["flag"])
		assert.Equal(t, []any{0, 0}, m["position_cdeg"])
	})
}

func TestBridgeWorkers(t *testing.T) {
	cfg := testHandConfig()
	cfg.AutoInit = true
	links := &linkHarness{}
	b, err := NewBridge(cfg, logging.NewTestLogger(t), WithLinkFactory(links.factory))
	require.NoError(t, err)

	b.Start()
	b.Start()
	require.Eventually(t, b.IsReady, testWait, testTick)
	require.Eventually(t, func() bool {
		return len(b.Diagnostics()) == 2
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Close(context.Background()))
	assert.Equal(t, 1, links.count())
	assert.Equal(t, 1, links.last().closeCount())

	b.Start()
	assert.Equal(t, LinkAbsent, b.Snapshot().Link)
}
