package sdhx_hand

import (
	"context"
)

// SubmitGoal accepts or rejects goal and returns its handle. A goal already in
// flight is preempted first, whether or not the new one is valid.
func (b *Bridge) SubmitGoal(goal TrajectoryGoal) *GoalHandle {
	handle := newGoalHandle()
	b.goals.add(handle)

	b.cancelActive(nil, "preempted by a newer goal")

	plan, rejection := planGoal(goal, b.cfg, b.defaultCommand, b.clock.Now())
	if rejection != nil {
		b.rejectGoal(handle, rejection)
		return handle
	}

	b.state.mu.Lock()
	defer b.state.mu.Unlock()

	// another submit may have committed while the old goal was halting
	b.preemptLocked("preempted by a newer goal")

	if !b.state.goalIntake {
		b.rejectGoal(handle, reject(ResultInvalidGoal, "goal intake is closed, send an init request first"))
		return handle
	}
	if !b.state.isFingerReadyLocked() {
		b.rejectGoal(handle, reject(ResultInvalidGoal, "hand is not ready for commands"))
		return handle
	}

	b.state.command = plan.command
	b.state.goal = &goalContext{handle: handle, tolerance: plan.tolerance, deadline: plan.deadline}
	b.state.motorsMoved = false
	b.watchdog.stop()

	if err := b.moveLocked(); err != nil {
		b.logger.Warnf("initial move of goal %s failed: %v", handle.ID(), err)
	}

	handle.activate()
	b.deadline.arm(plan.deadline.Sub(b.clock.Now()))
	b.watchdog.start()
	b.logger.Debugf("goal %s accepted: command %v, tolerance %v cdeg, deadline %s",
		handle.ID(), plan.command.PositionCdeg, plan.tolerance, plan.deadline)
	return handle
}

func (b *Bridge) rejectGoal(handle *GoalHandle, rejection *goalRejection) {
	b.logger.Infof("goal %s rejected: %v", handle.ID(), rejection)
	handle.finish(GoalRejected, rejection.code, rejection.msg)
}

// Goal looks up a recent goal by id.
func (b *Bridge) Goal(id string) (*GoalHandle, bool) {
	return b.goals.get(id)
}

// CancelGoal preempts the goal in flight. An empty id matches any goal. It
// reports whether a goal was cancelled.
func (b *Bridge) CancelGoal(id string) bool {
	return b.cancelActive(func(h *GoalHandle) bool {
		return id == "" || h.ID() == id
	}, "cancelled")
}

// cancelActive freezes the command at the current position, halts the
// controller and reports the goal as preempted.
func (b *Bridge) cancelActive(match func(*GoalHandle) bool, msg string) bool {
	b.state.mu.Lock()
	goal := b.state.goal
	if goal == nil || (match != nil && !match(goal.handle)) {
		b.state.mu.Unlock()
		return false
	}
	b.state.goal = nil
	b.state.freezeCommandLocked()
	b.deadline.stop()
	b.state.mu.Unlock()

	if err := b.Halt(); err != nil {
		b.logger.Warnf("halt after cancelling goal %s failed: %v", goal.handle.ID(), err)
	}
	goal.handle.finish(GoalPreempted, ResultSuccessful, msg)
	b.logger.Debugf("goal %s %s", goal.handle.ID(), msg)
	return true
}

// preemptLocked ends the goal in flight without halting and freezes the
// command until the caller commits a new one.
func (b *Bridge) preemptLocked(msg string) {
	if b.state.goal == nil {
		return
	}
	b.state.freezeCommandLocked()
	b.finishGoalLocked(GoalPreempted, ResultSuccessful, msg)
}

// checkGoalLocked decides whether the goal in flight is done. It returns false
// when the goal was aborted at its deadline and the caller must halt.
//
// A goal whose joints moved and then stopped counts as reached even outside
// tolerance. Controllers that settle off target after an overshoot would
// otherwise always time out. Such a success carries
// ResultGoalToleranceViolated so callers can tell the two apart.
func (b *Bridge) checkGoalLocked(deadlineExceeded bool) bool {
	goal := b.state.goal
	if goal == nil || b.state.status == nil {
		return true
	}

	reached := false
	code := ResultSuccessful
	if b.state.motionStopped {
		reached = withinTolerance(b.state.status.Joints, b.state.command, goal.tolerance)
		if !reached {
			code = ResultGoalToleranceViolated
		}
	}

	switch {
	case !b.state.isFingerReadyLocked():
		b.finishGoalLocked(GoalAborted, ResultSuccessful, "hand is not ready")
	case b.state.motionStopped && (reached || b.state.motorsMoved):
		b.finishGoalLocked(GoalSucceeded, code, "")
	case deadlineExceeded:
		b.finishGoalLocked(GoalAborted, ResultGoalToleranceViolated, "goal not reached in time")
		return false
	}
	return true
}

func (b *Bridge) finishGoalLocked(state GoalState, code ResultCode, msg string) {
	goal := b.state.goal
	b.state.goal = nil
	b.deadline.stop()
	goal.handle.finish(state, code, msg)
	b.logger.Debugf("goal %s %s (%s) %s", goal.handle.ID(), state, code, msg)
}

// handleDeadline runs when the deadline timer of generation gen fires.
func (b *Bridge) handleDeadline(gen uint64) {
	b.state.mu.Lock()
	if b.state.goal == nil || !b.deadline.current(gen) {
		b.state.mu.Unlock()
		return
	}
	if b.checkGoalLocked(true) {
		b.state.mu.Unlock()
		return
	}
	b.state.freezeCommandLocked()
	b.state.mu.Unlock()

	if err := b.Halt(); err != nil {
		b.logger.Warnf("halt after missed deadline failed: %v", err)
	}
}

// resendCommand is the watchdog tick. The controller keeps no setpoint
// between frames, so the command is repeated until the finger settles.
func (b *Bridge) resendCommand(ctx context.Context) {
	b.state.mu.Lock()
	if ctx.Err() != nil {
		b.state.mu.Unlock()
		return
	}
	if !b.state.isFingerReadyLocked() {
		b.watchdog.stop()
		b.state.mu.Unlock()
		if err := b.Halt(); err != nil {
			b.logger.Debugf("halt from watchdog failed: %v", err)
		}
		b.logger.Warnf("finger is not ready, stopped resend timer")
		return
	}
	if !b.state.controlStopped || !b.state.motionStopped {
		if err := b.moveLocked(); err != nil {
			b.logger.Debugf("resend failed: %v", err)
		}
	}
	b.state.mu.Unlock()
}

func (b *Bridge) moveLocked() error {
	if b.state.link == nil {
		return ErrNoLink
	}
	return b.state.link.Move(b.state.command)
}
