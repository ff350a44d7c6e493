package sdhx_hand

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DiagnosticLevel is the severity of a diagnostic summary.
type DiagnosticLevel int

const (
	DiagOK DiagnosticLevel = iota
	DiagWarn
	DiagError
)

func (l DiagnosticLevel) String() string {
	switch l {
	case DiagOK:
		return "OK"
	case DiagWarn:
		return "WARN"
	case DiagError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// DiagnosticStatus is one named diagnostic report.
type DiagnosticStatus struct {
	Name       string
	HardwareID string
	Level      DiagnosticLevel
	Message    string
	Values     map[string]any
}

func newDiagnosticStatus(name, hardwareID string) DiagnosticStatus {
	return DiagnosticStatus{Name: name, HardwareID: hardwareID, Values: map[string]any{}}
}

func (s *DiagnosticStatus) summary(level DiagnosticLevel, msg string) {
	s.Level = level
	s.Message = msg
}

// mergeSummary folds another finding into the summary, keeping the worst level.
func (s *DiagnosticStatus) mergeSummary(level DiagnosticLevel, msg string) {
	switch {
	case level > DiagOK && s.Level > DiagOK:
		if s.Message != "" {
			s.Message += "; "
		}
		s.Message += msg
	case level > s.Level:
		s.Message = msg
	}
	if level > s.Level {
		s.Level = level
	}
}

// AsMap renders the status for sensor readings and DoCommand replies.
func (s DiagnosticStatus) AsMap() map[string]any {
	values := make(map[string]any, len(s.Values))
	for k, v := range s.Values {
		values[k] = v
	}
	return map[string]any{
		"name":        s.Name,
		"hardware_id": s.HardwareID,
		"level":       s.Level.String(),
		"message":     s.Message,
		"values":      values,
	}
}

// bridgeDiagnostics summarizes the controller condition. It never mutates state.
func (b *Bridge) bridgeDiagnostics() DiagnosticStatus {
	stat := newDiagnosticStatus("bridge", b.cfg.HardwareID)

	b.state.mu.Lock()
	defer b.state.mu.Unlock()

	st := b.state.status
	if st == nil {
		stat.summary(DiagError, "not connected")
		return stat
	}

	switch st.Flag {
	case FlagNotInitialized:
		stat.summary(DiagWarn, "not initialized")
	case FlagError:
		stat.summary(DiagError, "bridge has error")
	default:
		stat.summary(DiagOK, "connected and running")
	}
	stat.Values["sdhx_ready"] = st.Flag == FlagFingerReady
	stat.Values["sdhx_rc"] = int(st.RC)
	stat.Values["sdhx_motion_stopped"] = b.state.motionStopped
	stat.Values["sdhx_control_stopped"] = b.state.controlStopped
	if fs, ok := b.state.link.(framingStats); ok {
		stat.Values["sdhx_dropped_bytes"] = fs.DroppedBytes()
	}

	if st.RC > 0 {
		stat.mergeSummary(DiagError, "SDHx has error")
	}
	return stat
}

// timestampMonitor checks that status samples keep arriving on time. Between
// two reports it records how many samples arrived and the spread of their
// delays.
type timestampMonitor struct {
	clock    clock.Clock
	minDelay time.Duration
	maxDelay time.Duration

	mu        sync.Mutex
	count     int
	zeroSeen  bool
	earliest  time.Duration
	latest    time.Duration
	tooOld    bool
	tooRecent bool
}

func newTimestampMonitor(clk clock.Clock, minDelay, maxDelay time.Duration) *timestampMonitor {
	return &timestampMonitor{clock: clk, minDelay: minDelay, maxDelay: maxDelay}
}

func (m *timestampMonitor) tick(stamp time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stamp.IsZero() {
		m.zeroSeen = true
		m.count++
		return
	}
	delay := m.clock.Now().Sub(stamp)
	if m.count == 0 || delay < m.earliest {
		m.earliest = delay
	}
	if m.count == 0 || delay > m.latest {
		m.latest = delay
	}
	if delay > m.maxDelay {
		m.tooOld = true
	}
	if delay < m.minDelay {
		m.tooRecent = true
	}
	m.count++
}

// report summarizes and resets the window.
func (m *timestampMonitor) report(hardwareID string) DiagnosticStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	stat := newDiagnosticStatus("connection", hardwareID)
	stat.summary(DiagOK, "timestamps are reasonable")
	if m.count == 0 {
		stat.summary(DiagWarn, "no data since last update")
	} else {
		if m.tooOld {
			stat.mergeSummary(DiagError, "timestamps too far in the past seen")
		}
		if m.tooRecent {
			stat.mergeSummary(DiagError, "timestamps too far in the future seen")
		}
		if m.zeroSeen {
			stat.mergeSummary(DiagError, "zero timestamp seen")
		}
		stat.Values["earliest_timestamp_delay_sec"] = m.earliest.Seconds()
		stat.Values["latest_timestamp_delay_sec"] = m.latest.Seconds()
	}
	stat.Values["samples"] = m.count
	stat.Values["earliest_acceptable_sec"] = m.minDelay.Seconds()
	stat.Values["latest_acceptable_sec"] = m.maxDelay.Seconds()

	m.count = 0
	m.zeroSeen = false
	m.tooOld = false
	m.tooRecent = false
	m.earliest = 0
	m.latest = 0
	return stat
}
