package sdhx_hand

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ResultCode mirrors the follow-joint-trajectory result codes.
type ResultCode int

const (
	ResultSuccessful            ResultCode = 0
	ResultInvalidGoal           ResultCode = -1
	ResultInvalidJoints         ResultCode = -2
	ResultOldHeaderTimestamp    ResultCode = -3
	ResultPathToleranceViolated ResultCode = -4
	ResultGoalToleranceViolated ResultCode = -5
)

func (c ResultCode) String() string {
	switch c {
	case ResultSuccessful:
		return "SUCCESSFUL"
	case ResultInvalidGoal:
		return "INVALID_GOAL"
	case ResultInvalidJoints:
		return "INVALID_JOINTS"
	case ResultOldHeaderTimestamp:
		return "OLD_HEADER_TIMESTAMP"
	case ResultPathToleranceViolated:
		return "PATH_TOLERANCE_VIOLATED"
	case ResultGoalToleranceViolated:
		return "GOAL_TOLERANCE_VIOLATED"
	default:
		return fmt.Sprintf("ResultCode(%d)", int(c))
	}
}

// GoalState is the lifecycle of a single goal.
type GoalState int

const (
	GoalPending GoalState = iota
	GoalActive
	GoalSucceeded
	GoalAborted
	GoalPreempted
	GoalRejected
)

func (s GoalState) String() string {
	switch s {
	case GoalPending:
		return "pending"
	case GoalActive:
		return "active"
	case GoalSucceeded:
		return "succeeded"
	case GoalAborted:
		return "aborted"
	case GoalPreempted:
		return "preempted"
	case GoalRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s GoalState) Terminal() bool {
	return s >= GoalSucceeded
}

// TrajectoryPoint is one waypoint. Positions are radians, effort is amps.
type TrajectoryPoint struct {
	Positions     []float64
	Effort        []float64
	TimeFromStart time.Duration
}

// JointTolerance overrides the goal tolerance of one joint, in radians.
type JointTolerance struct {
	Name     string
	Position float64
}

// TrajectoryGoal asks the finger to reach the last point of the trajectory.
type TrajectoryGoal struct {
	// Stamp is the trajectory start. Zero means now.
	Stamp             time.Time
	JointNames        []string
	Points            []TrajectoryPoint
	GoalTolerance     []JointTolerance
	GoalTimeTolerance time.Duration
}

// GoalResult is the outcome of a goal.
type GoalResult struct {
	State   GoalState
	Code    ResultCode
	Message string
}

// GoalHandle tracks one submitted goal.
type GoalHandle struct {
	id   string
	done chan struct{}

	mu     sync.Mutex
	result GoalResult
}

func newGoalHandle() *GoalHandle {
	return &GoalHandle{
		id:     uuid.NewString(),
		done:   make(chan struct{}),
		result: GoalResult{State: GoalPending},
	}
}

func (h *GoalHandle) ID() string {
	return h.id
}

// Done is closed once the goal reaches a terminal state.
func (h *GoalHandle) Done() <-chan struct{} {
	return h.done
}

func (h *GoalHandle) Result() GoalResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Wait blocks until the goal finishes or ctx is done.
func (h *GoalHandle) Wait(ctx context.Context) (GoalResult, error) {
	select {
	case <-h.done:
		return h.Result(), nil
	case <-ctx.Done():
		return h.Result(), ctx.Err()
	}
}

func (h *GoalHandle) activate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.result.State == GoalPending {
		h.result.State = GoalActive
	}
}

// finish records a terminal result. Only the first call has an effect.
func (h *GoalHandle) finish(state GoalState, code ResultCode, msg string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.result.State.Terminal() {
		return false
	}
	h.result = GoalResult{State: state, Code: code, Message: msg}
	close(h.done)
	return true
}

// goalPlan is a validated goal translated into controller units.
type goalPlan struct {
	command   JointValues
	tolerance [NumJoints]float64
	deadline  time.Time
}

type goalRejection struct {
	code ResultCode
	msg  string
}

func (r *goalRejection) Error() string {
	return fmt.Sprintf("%s: %s", r.code, r.msg)
}

func reject(code ResultCode, format string, args ...any) *goalRejection {
	return &goalRejection{code: code, msg: fmt.Sprintf(format, args...)}
}

// planGoal validates goal against the configured joints and computes the
// setpoint, tolerances and deadline. It touches no shared state.
func planGoal(goal TrajectoryGoal, cfg *HandConfig, base JointValues, now time.Time) (goalPlan, *goalRejection) {
	var plan goalPlan

	points := goal.Points
	if len(points) != 1 && (len(points) != 2 || points[0].TimeFromStart != 0) {
		return plan, reject(ResultInvalidGoal, "goal is not valid: expected one point or two points starting at zero")
	}
	for i, p := range points {
		if len(p.Positions) != len(goal.JointNames) {
			return plan, reject(ResultInvalidGoal, "point %d has %d positions for %d joints", i, len(p.Positions), len(goal.JointNames))
		}
	}
	target := points[len(points)-1]

	if len(target.Effort) > 0 && len(target.Effort) != NumJoints {
		return plan, reject(ResultInvalidGoal, "number of effort values mismatch: got %d, want %d", len(target.Effort), NumJoints)
	}

	plan.command = base
	seen := [NumJoints]bool{}
	for j, name := range goal.JointNames {
		i := jointIndex(cfg.JointNames, name)
		if i < 0 {
			return plan, reject(ResultInvalidJoints, "joint names mismatch: unknown joint %q", name)
		}
		if seen[i] {
			return plan, reject(ResultInvalidJoints, "joint %q given twice", name)
		}
		seen[i] = true

		position := RadToCdeg(target.Positions[j])
		if !fitsInt16(position) {
			return plan, reject(ResultInvalidGoal, "position %v rad of joint %q is out of range", target.Positions[j], name)
		}
		plan.command.PositionCdeg[i] = toInt16(position)
		if len(target.Effort) > 0 {
			current := AmpsToCurrentUnits(target.Effort[j])
			if !fitsInt16(current) {
				return plan, reject(ResultInvalidGoal, "effort %v A of joint %q is out of range", target.Effort[j], name)
			}
			plan.command.Current100uA[i] = toInt16(current)
		}
	}

	// one second of motion at the stopped threshold
	defaultTolerance := RadToCdeg(*cfg.StoppedVelocity)
	for i := range plan.tolerance {
		plan.tolerance[i] = defaultTolerance
	}
	for _, tol := range goal.GoalTolerance {
		i := jointIndex(cfg.JointNames, tol.Name)
		if i < 0 {
			return plan, reject(ResultInvalidGoal, "goal tolerance invalid: unknown joint %q", tol.Name)
		}
		if tol.Position > 0 {
			plan.tolerance[i] = RadToCdeg(tol.Position)
		}
	}

	start := goal.Stamp
	if start.IsZero() {
		start = now
	}
	plan.deadline = start.Add(target.TimeFromStart).Add(goal.GoalTimeTolerance)
	if !plan.deadline.After(now) {
		return plan, reject(ResultOldHeaderTimestamp, "goal is not valid: deadline %s already passed", plan.deadline.Format(time.RFC3339Nano))
	}

	return plan, nil
}

// withinTolerance reports whether every joint of status is within tolerance of cmd.
func withinTolerance(status, cmd JointValues, tolerance [NumJoints]float64) bool {
	for i := 0; i < NumJoints; i++ {
		if math.Abs(float64(status.PositionCdeg[i])-float64(cmd.PositionCdeg[i])) > tolerance[i] {
			return false
		}
	}
	return true
}

func jointIndex(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// goalBook remembers recent goals so their outcome can be queried by id.
type goalBook struct {
	mu    sync.Mutex
	limit int
	order []string
	byID  map[string]*GoalHandle
}

func newGoalBook(limit int) *goalBook {
	return &goalBook{limit: limit, byID: map[string]*GoalHandle{}}
}

func (g *goalBook) add(h *GoalHandle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byID[h.ID()] = h
	g.order = append(g.order, h.ID())
	for len(g.order) > g.limit {
		delete(g.byID, g.order[0])
		g.order = g.order[1:]
	}
}

func (g *goalBook) get(id string) (*GoalHandle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.byID[id]
	return h, ok
}

func (g *goalBook) latest() (*GoalHandle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.order) == 0 {
		return nil, false
	}
	return g.byID[g.order[len(g.order)-1]], true
}
