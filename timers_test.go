package sdhx_hand

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadlineSupervisor(t *testing.T) {
	t.Run("fires once with its generation", func(t *testing.T) {
		mock := clock.NewMock()
		var fired atomic.Uint64
		d := newDeadlineSupervisor(mock, func(gen uint64) { fired.Store(gen) })

		d.arm(time.Second)
		assert.True(t, d.armed())
		mock.Add(999 * time.Millisecond)
		assert.Zero(t, fired.Load())

		mock.Add(time.Millisecond)
		require.Eventually(t, func() bool { return fired.Load() != 0 }, testWait, testTick)
		assert.True(t, d.current(fired.Load()))
	})

	t.Run("re-arm makes the old generation stale", func(t *testing.T) {
		mock := clock.NewMock()
		d := newDeadlineSupervisor(mock, func(uint64) {})
		d.arm(time.Second)
		d.mu.Lock()
		old := d.gen
		d.mu.Unlock()

		d.arm(2 * time.Second)
		assert.False(t, d.current(old))
	})

	t.Run("stop cancels", func(t *testing.T) {
		mock := clock.NewMock()
		var fired atomic.Bool
		d := newDeadlineSupervisor(mock, func(uint64) { fired.Store(true) })
		d.arm(time.Second)
		d.stop()
		assert.False(t, d.armed())
		mock.Add(2 * time.Second)
		assert.False(t, fired.Load())
	})
}

func TestCommandWatchdog(t *testing.T) {
	t.Run("ticks on period until stopped", func(t *testing.T) {
		mock := clock.NewMock()
		var ticks atomic.Int32
		w := newCommandWatchdog(mock, 100*time.Millisecond, func(context.Context) { ticks.Add(1) })

		w.start()
		w.start()
		assert.True(t, w.running())

		mock.Add(100 * time.Millisecond)
		require.Eventually(t, func() bool { return ticks.Load() == 1 }, testWait, testTick)
		mock.Add(100 * time.Millisecond)
		require.Eventually(t, func() bool { return ticks.Load() == 2 }, testWait, testTick)

		w.stop()
		assert.False(t, w.running())
		mock.Add(time.Second)
		assert.Equal(t, int32(2), ticks.Load())
	})

	t.Run("non-positive period never starts", func(t *testing.T) {
		w := newCommandWatchdog(clock.NewMock(), 0, func(context.Context) {})
		w.start()
		assert.False(t, w.running())
	})
}
