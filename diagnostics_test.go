package sdhx_hand

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeDiagnostics(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		b, _, _ := newTestBridge(t, nil)
		d := b.bridgeDiagnostics()
		assert.Equal(t, DiagError, d.Level)
		assert.Equal(t, "not connected", d.Message)
		assert.Equal(t, "none", d.HardwareID)
	})

	t.Run("not initialized", func(t *testing.T) {
		b, _, _ := newTestBridge(t, nil)
		b.pollOnce(context.Background())
		d := b.bridgeDiagnostics()
		assert.Equal(t, DiagWarn, d.Level)
		assert.Equal(t, "not initialized", d.Message)
		assert.Equal(t, false, d.Values["sdhx_ready"])
	})

	t.Run("running", func(t *testing.T) {
		b, _, _ := readyBridge(t)
		d := b.bridgeDiagnostics()
		assert.Equal(t, DiagOK, d.Level)
		assert.Equal(t, "connected and running", d.Message)
		assert.Equal(t, true, d.Values["sdhx_ready"])
		assert.Equal(t, 0, d.Values["sdhx_rc"])
		assert.Equal(t, true, d.Values["sdhx_motion_stopped"])
	})

	t.Run("hardware error code", func(t *testing.T) {
		b, mock, link := readyBridge(t)
		link.setRC(9)
		step(b, mock)
		d := b.bridgeDiagnostics()
		assert.Equal(t, DiagError, d.Level)
		assert.Equal(t, "SDHx has error", d.Message)
		assert.Equal(t, 9, d.Values["sdhx_rc"])
	})

	t.Run("dropped bytes of a framed link", func(t *testing.T) {
		b, _, link := readyBridge(t)
		d := b.bridgeDiagnostics()
		assert.NotContains(t, d.Values, "sdhx_dropped_bytes")

		b.state.mu.Lock()
		b.state.link = &framedFakeLink{fakeLink: link, dropped: 7}
		b.state.mu.Unlock()
		d = b.bridgeDiagnostics()
		assert.Equal(t, 7, d.Values["sdhx_dropped_bytes"])
	})

	t.Run("telemetry failure", func(t *testing.T) {
		b, mock, link := readyBridge(t)
		link.setTelemetryErr(errFake)
		step(b, mock)
		d := b.bridgeDiagnostics()
		assert.Equal(t, DiagError, d.Level)
		assert.Equal(t, "bridge has error", d.Message)
	})

	t.Run("update caches the connection report", func(t *testing.T) {
		b, mock, _ := readyBridge(t)
		step(b, mock)
		reports := b.updateDiagnostics()
		require.Len(t, reports, 2)
		assert.Equal(t, "connection", reports[1].Name)
		assert.Equal(t, DiagOK, reports[1].Level)

		all := b.Diagnostics()
		require.Len(t, all, 2)
		assert.Equal(t, "bridge", all[0].Name)
		assert.Equal(t, "connection", all[1].Name)

		m := all[0].AsMap()
		assert.Equal(t, "OK", m["level"])
	})
}

func TestDiagnosticStatusMerge(t *testing.T) {
	s := newDiagnosticStatus("x", "hw")
	s.summary(DiagOK, "fine")
	s.mergeSummary(DiagWarn, "a")
	assert.Equal(t, DiagWarn, s.Level)
	assert.Equal(t, "a", s.Message)

	s.mergeSummary(DiagError, "b")
	assert.Equal(t, DiagError, s.Level)
	assert.Equal(t, "a; b", s.Message)
}

func TestTimestampMonitor(t *testing.T) {
	mock := clock.NewMock()
	mock.Add(time.Hour)
	m := newTimestampMonitor(mock, -time.Second, 100*time.Millisecond)

	t.Run("no data", func(t *testing.T) {
		r := m.report("hw")
		assert.Equal(t, DiagWarn, r.Level)
		assert.Equal(t, "no data since last update", r.Message)
		assert.Equal(t, 0, r.Values["samples"])
	})

	t.Run("fresh samples", func(t *testing.T) {
		m.tick(mock.Now())
		m.tick(mock.Now().Add(-50 * time.Millisecond))
		r := m.report("hw")
		assert.Equal(t, DiagOK, r.Level)
		assert.Equal(t, 2, r.Values["samples"])
		assert.InDelta(t, 0.05, r.Values["latest_timestamp_delay_sec"], 1e-9)
	})

	t.Run("stale sample", func(t *testing.T) {
		m.tick(mock.Now().Add(-time.Second))
		r := m.report("hw")
		assert.Equal(t, DiagError, r.Level)
		assert.Contains(t, r.Message, "too far in the past")
	})

	t.Run("future sample", func(t *testing.T) {
		m.tick(mock.Now().Add(2 * time.Second))
		r := m.report("hw")
		assert.Equal(t, DiagError, r.Level)
		assert.Contains(t, r.Message, "too far in the future")
	})

	t.Run("zero stamp", func(t *testing.T) {
		m.tick(time.Time{})
		r := m.report("hw")
		assert.Equal(t, DiagError, r.Level)
		assert.Contains(t, r.Message, "zero timestamp")
	})

	t.Run("window resets after a report", func(t *testing.T) {
		m.tick(mock.Now())
		m.report("hw")
		r := m.report("hw")
		assert.Equal(t, DiagWarn, r.Level)
	})
}

type framedFakeLink struct {
	*fakeLink
	dropped int
}

func (l *framedFakeLink) DroppedBytes() int {
	return l.dropped
}
