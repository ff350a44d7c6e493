package sdhx_hand

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

var errFake = errors.New("fake failure")

const (
	testWait = 2 * time.Second
	testTick = 5 * time.Millisecond
)

// fakeLink is an in-memory motor link. Telemetry returns whatever joints the
// test put there.
type fakeLink struct {
	mu sync.Mutex

	initErr      error
	telemetryErr error
	haltErr      error
	haltGate     chan struct{}
	initGate     chan struct{}

	initCalls   int
	initialized bool
	closed      int
	halts       int
	params      LinkParams

	joints JointValues
	rc     uint16
	moves  []JointValues
}

func (f *fakeLink) Init(ctx context.Context, params LinkParams) error {
	f.mu.Lock()
	f.initCalls++
	f.params = params
	gate := f.initGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return f.initErr
	}
	f.initialized = true
	return nil
}

func (f *fakeLink) IsInitialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}

func (f *fakeLink) Move(cmd JointValues) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.initialized {
		return ErrLinkNotReady
	}
	f.moves = append(f.moves, cmd)
	return nil
}

func (f *fakeLink) Poll() error {
	return nil
}

func (f *fakeLink) Telemetry(timeout time.Duration) (JointValues, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joints, f.telemetryErr
}

func (f *fakeLink) ErrorCode() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rc
}

// Halt blocks on haltGate when one is set.
func (f *fakeLink) Halt() error {
	f.mu.Lock()
	f.halts++
	gate, err := f.haltGate, f.haltErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeLink) blockHalts() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.haltGate = make(chan struct{})
	return f.haltGate
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.initialized = false
	return nil
}

func (f *fakeLink) setPositions(p0, p1 int16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joints.PositionCdeg = [NumJoints]int16{p0, p1}
}

func (f *fakeLink) setCurrents(c0, c1 int16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joints.Current100uA = [NumJoints]int16{c0, c1}
}

func (f *fakeLink) setTelemetryErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.telemetryErr = err
}

func (f *fakeLink) setRC(rc uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rc = rc
}

func (f *fakeLink) moveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.moves)
}

func (f *fakeLink) lastMove() JointValues {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.moves[len(f.moves)-1]
}

func (f *fakeLink) haltCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.halts
}

func (f *fakeLink) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// linkHarness hands out fake links and remembers each one.
type linkHarness struct {
	mu       sync.Mutex
	links    []*fakeLink
	initErr  error
	initGate chan struct{}
}

func (h *linkHarness) factory(logging.Logger) MotorLink {
	h.mu.Lock()
	defer h.mu.Unlock()
	l := &fakeLink{initErr: h.initErr, initGate: h.initGate}
	h.links = append(h.links, l)
	return l
}

func (h *linkHarness) setInitErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initErr = err
}

// blockInits makes links built from now on wait in Init until the returned
// channel is closed.
func (h *linkHarness) blockInits() chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initGate = make(chan struct{})
	return h.initGate
}

func (h *linkHarness) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.links)
}

func (h *linkHarness) last() *fakeLink {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.links[len(h.links)-1]
}

func testHandConfig() *HandConfig {
	return &HandConfig{
		Port:       "/dev/ttyTEST0",
		JointNames: []string{"j1", "j2"},
	}
}

// newTestBridge builds an unstarted bridge on a mock clock. Tests drive the
// status cycle with pollOnce.
func newTestBridge(t *testing.T, cfg *HandConfig) (*Bridge, *clock.Mock, *linkHarness) {
	t.Helper()
	if cfg == nil {
		cfg = testHandConfig()
	}
	mock := clock.NewMock()
	links := &linkHarness{}
	b, err := NewBridge(cfg, logging.NewTestLogger(t), WithClock(mock), WithLinkFactory(links.factory))
	require.NoError(t, err)
	t.Cleanup(func() {
		b.Close(context.Background())
	})
	return b, mock, links
}

// step advances the mock clock by one status period and runs a status cycle.
func step(b *Bridge, mock *clock.Mock) {
	mock.Add(50 * time.Millisecond)
	b.pollOnce(context.Background())
}

// readyBridge returns a bridge whose finger is initialized and ready.
func readyBridge(t *testing.T) (*Bridge, *clock.Mock, *fakeLink) {
	t.Helper()
	b, mock, links := newTestBridge(t, nil)
	b.pollOnce(context.Background())
	res := b.InitRequest(context.Background())
	require.True(t, res.Success, res.Message)
	step(b, mock)
	require.True(t, b.IsReady())
	return b, mock, links.last()
}

func floatPtr(v float64) *float64 {
	return &v
}

func singlePointGoal(names []string, positions []float64, after time.Duration) TrajectoryGoal {
	return TrajectoryGoal{
		JointNames: names,
		Points:     []TrajectoryPoint{{Positions: positions, TimeFromStart: after}},
	}
}
