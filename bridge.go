package sdhx_hand

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

// Bridge turns trajectory goals into setpoints for one finger controller and
// keeps the controller supervised.
type Bridge struct {
	logger  logging.Logger
	cfg     *HandConfig
	clock   clock.Clock
	newLink LinkFactory

	// thresholds in rad/s and controller current units
	stoppedVelocity float64
	stoppedCurrent  float64
	defaultCommand  JointValues

	state      handState
	deadline   *deadlineSupervisor
	watchdog   *commandWatchdog
	connection *timestampMonitor
	feed       *jointStateFeed
	goals      *goalBook

	diagMu     sync.Mutex
	lastDiag   []DiagnosticStatus
	lastLevels map[string]DiagnosticLevel

	workersMu sync.Mutex
	workers   *goutils.StoppableWorkers
	closed    bool
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clk clock.Clock) Option {
	return func(b *Bridge) {
		b.clock = clk
	}
}

// WithLinkFactory replaces the motor link named by the config driver.
func WithLinkFactory(factory LinkFactory) Option {
	return func(b *Bridge) {
		b.newLink = factory
	}
}

// NewBridge validates cfg and builds a bridge. Background tasks run after Start.
func NewBridge(cfg *HandConfig, logger logging.Logger, opts ...Option) (*Bridge, error) {
	if _, _, err := cfg.Validate("hand"); err != nil {
		return nil, err
	}

	b := &Bridge{
		logger:     logger,
		cfg:        cfg,
		clock:      clock.New(),
		lastLevels: map[string]DiagnosticLevel{},
		feed:       newJointStateFeed(),
		goals:      newGoalBook(32),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.newLink == nil {
		factory, err := linkFactoryForDriver(cfg.Driver)
		if err != nil {
			return nil, err
		}
		b.newLink = factory
	}

	b.stoppedVelocity = *cfg.StoppedVelocity
	b.stoppedCurrent = AmpsToCurrentUnits(*cfg.StoppedCurrent)
	b.defaultCommand = cfg.defaultCommand()

	b.state.command = b.defaultCommand
	b.state.motionStopped = true
	b.state.controlStopped = true

	b.deadline = newDeadlineSupervisor(b.clock, b.handleDeadline)
	b.watchdog = newCommandWatchdog(b.clock, cfg.resendPeriod(), b.resendCommand)
	b.connection = newTimestampMonitor(b.clock,
		secondsToDuration(*cfg.StatusMinDelaySec),
		secondsToDuration(*cfg.StatusMaxDelaySec))

	return b, nil
}

// Start launches the status poller and the diagnostics reporter.
func (b *Bridge) Start() {
	b.workersMu.Lock()
	defer b.workersMu.Unlock()
	if b.workers != nil || b.closed {
		return
	}
	b.workers = goutils.NewBackgroundStoppableWorkers(b.statusLoop, b.diagnosticsLoop)
	b.logger.Debugf("bridge started: status every %s, resend every %s",
		b.cfg.statusPeriod(), b.cfg.resendPeriod())
}

func (b *Bridge) isClosed() bool {
	b.workersMu.Lock()
	defer b.workersMu.Unlock()
	return b.closed
}

// Close stops every task, aborts a goal in flight and releases the link.
func (b *Bridge) Close(ctx context.Context) error {
	b.workersMu.Lock()
	workers := b.workers
	b.workers = nil
	b.closed = true
	b.workersMu.Unlock()

	if workers != nil {
		workers.Stop()
	}

	b.state.mu.Lock()
	b.watchdog.stop()
	b.deadline.stop()
	goal := b.state.goal
	b.state.goal = nil
	link := b.state.link
	b.state.link = nil
	b.state.mu.Unlock()

	if goal != nil {
		goal.handle.finish(GoalAborted, ResultSuccessful, "bridge closed")
	}
	b.feed.close()

	if link == nil {
		return nil
	}
	var err error
	if link.IsInitialized() {
		err = multierr.Combine(err, link.Halt())
	}
	return multierr.Combine(err, link.Close())
}

func (b *Bridge) statusLoop(ctx context.Context) {
	ticker := b.clock.Ticker(b.cfg.statusPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			b.pollOnce(ctx)
		}
	}
}

func (b *Bridge) diagnosticsLoop(ctx context.Context) {
	ticker := b.clock.Ticker(b.cfg.diagnosticsPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.updateDiagnostics()
		}
	}
}

// updateDiagnostics refreshes the cached reports and logs level changes.
func (b *Bridge) updateDiagnostics() []DiagnosticStatus {
	reports := []DiagnosticStatus{
		b.bridgeDiagnostics(),
		b.connection.report(b.cfg.HardwareID),
	}

	b.diagMu.Lock()
	defer b.diagMu.Unlock()
	for _, r := range reports {
		prev, seen := b.lastLevels[r.Name]
		if (seen && prev == r.Level) || (!seen && r.Level == DiagOK) {
			b.lastLevels[r.Name] = r.Level
			continue
		}
		switch r.Level {
		case DiagOK:
			b.logger.Infof("%s diagnostics recovered: %s", r.Name, r.Message)
		case DiagWarn:
			b.logger.Warnf("%s diagnostics: %s", r.Name, r.Message)
		default:
			b.logger.Errorf("%s diagnostics: %s", r.Name, r.Message)
		}
		b.lastLevels[r.Name] = r.Level
	}
	b.lastDiag = reports
	return reports
}

// Diagnostics returns a fresh bridge report and the last connection report.
func (b *Bridge) Diagnostics() []DiagnosticStatus {
	reports := []DiagnosticStatus{b.bridgeDiagnostics()}

	b.diagMu.Lock()
	defer b.diagMu.Unlock()
	for _, r := range b.lastDiag {
		if r.Name != "bridge" {
			reports = append(reports, r)
		}
	}
	return reports
}

// Snapshot is a consistent copy of the shared state.
type Snapshot struct {
	Lifecycle      LifecycleState
	Link           LinkState
	Status         *Status
	Command        JointValues
	MotionStopped  bool
	ControlStopped bool
	MotorsMoved    bool
	Initialized    bool
	GoalIntake     bool
	ActiveGoalID   string
}

func (b *Bridge) Snapshot() Snapshot {
	b.state.mu.Lock()
	defer b.state.mu.Unlock()

	snap := Snapshot{
		Lifecycle:      b.state.lifecycleLocked(),
		Link:           b.state.linkStateLocked(),
		Command:        b.state.command,
		MotionStopped:  b.state.motionStopped,
		ControlStopped: b.state.controlStopped,
		MotorsMoved:    b.state.motorsMoved,
		Initialized:    b.state.initialized,
		GoalIntake:     b.state.goalIntake,
	}
	if b.state.status != nil {
		st := *b.state.status
		snap.Status = &st
	}
	if b.state.goal != nil {
		snap.ActiveGoalID = b.state.goal.handle.ID()
	}
	return snap
}

func (s Snapshot) AsMap() map[string]any {
	out := map[string]any{
		"lifecycle":       s.Lifecycle.String(),
		"link":            s.Link.String(),
		"motion_stopped":  s.MotionStopped,
		"control_stopped": s.ControlStopped,
		"motors_moved":    s.MotorsMoved,
		"initialized":     s.Initialized,
		"goal_intake":     s.GoalIntake,
		"active_goal_id":  s.ActiveGoalID,
		"command_cdeg":    int16Values(s.Command.PositionCdeg),
	}
	if s.Status != nil {
		out["flag"] = s.Status.Flag.String()
		out["rc"] = int(s.Status.RC)
		out["position_cdeg"] = int16Values(s.Status.Joints.PositionCdeg)
		out["velocity_cdeg_s"] = int16Values(s.Status.Joints.VelocityCdegS)
		out["current_100ua"] = int16Values(s.Status.Joints.Current100uA)
		out["stamp"] = s.Status.Stamp.Format(time.RFC3339Nano)
	}
	return out
}

// IsReady reports whether the controller currently accepts moves.
func (b *Bridge) IsReady() bool {
	b.state.mu.Lock()
	defer b.state.mu.Unlock()
	return b.state.isFingerReadyLocked()
}

// IsMoving reports whether a goal is in flight or the joints still move.
func (b *Bridge) IsMoving() bool {
	b.state.mu.Lock()
	defer b.state.mu.Unlock()
	return b.state.goal != nil || (b.state.status != nil && !b.state.motionStopped)
}

// ActiveGoal returns the goal in flight, if any.
func (b *Bridge) ActiveGoal() *GoalHandle {
	b.state.mu.Lock()
	defer b.state.mu.Unlock()
	if b.state.goal == nil {
		return nil
	}
	return b.state.goal.handle
}

// JointNames returns the configured joint names in controller order.
func (b *Bridge) JointNames() []string {
	return append([]string(nil), b.cfg.JointNames...)
}

// JointStates returns the last published joint state.
func (b *Bridge) JointStates() (JointState, bool) {
	return b.feed.latest()
}

// SubscribeJointStates delivers every published joint state until cancel is
// called. Slow subscribers miss samples rather than block the poller.
func (b *Bridge) SubscribeJointStates(buffer int) (<-chan JointState, func()) {
	return b.feed.subscribe(buffer)
}

// JointState is the outward joint telemetry, radians and rad/s.
type JointState struct {
	Names    []string
	Position []float64
	Velocity []float64
	Stamp    time.Time
}

func (js JointState) AsMap() map[string]any {
	return map[string]any{
		"names":    toAnySlice(js.Names),
		"position": toAnySlice(js.Position),
		"velocity": toAnySlice(js.Velocity),
		"stamp":    js.Stamp.Format(time.RFC3339Nano),
	}
}

type jointStateFeed struct {
	mu     sync.Mutex
	last   *JointState
	subs   map[int]chan JointState
	nextID int
	closed bool
}

func newJointStateFeed() *jointStateFeed {
	return &jointStateFeed{subs: map[int]chan JointState{}}
}

func (f *jointStateFeed) publish(js JointState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.last = &js
	for _, ch := range f.subs {
		select {
		case ch <- js:
		default:
		}
	}
}

func (f *jointStateFeed) latest() (JointState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return JointState{}, false
	}
	return *f.last, true
}

func (f *jointStateFeed) subscribe(buffer int) (<-chan JointState, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan JointState, max(buffer, 1))
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if sub, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(sub)
			}
		})
	}
}

func (f *jointStateFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}

// int16Values widens controller values, which protobuf structs cannot carry.
func int16Values(in [NumJoints]int16) []any {
	out := make([]any, NumJoints)
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}

func toAnySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
