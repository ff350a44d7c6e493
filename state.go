package sdhx_hand

import (
	"sync"
	"time"
)

// StatusFlag is the controller condition reported by the last status cycle.
type StatusFlag int

const (
	FlagNotInitialized StatusFlag = iota
	FlagFingerReady
	FlagError
)

func (f StatusFlag) String() string {
	switch f {
	case FlagNotInitialized:
		return "not_initialized"
	case FlagFingerReady:
		return "finger_ready"
	case FlagError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is the latest hardware sample. It exists from the first status cycle on.
type Status struct {
	Stamp  time.Time
	Flag   StatusFlag
	RC     uint16
	Joints JointValues
}

// LinkState describes whether the motor link exists and is usable.
type LinkState int

const (
	LinkAbsent LinkState = iota
	LinkUninitialized
	LinkInitialized
)

func (s LinkState) String() string {
	switch s {
	case LinkAbsent:
		return "absent"
	case LinkUninitialized:
		return "uninitialized"
	case LinkInitialized:
		return "initialized"
	default:
		return "unknown"
	}
}

// LifecycleState is the externally visible lifecycle of the bridge.
type LifecycleState int

const (
	StateDisconnected LifecycleState = iota
	StateNotInitialized
	StateInitializing
	StateReady
	StateError
)

func (s LifecycleState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateNotInitialized:
		return "not_initialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// goalContext is the bookkeeping of the one goal in flight.
type goalContext struct {
	handle    *GoalHandle
	tolerance [NumJoints]float64
	deadline  time.Time
}

// publishedJoints is the joint state last sent to subscribers.
type publishedJoints struct {
	position [NumJoints]float64
	velocity [NumJoints]float64
	stamp    time.Time
	valid    bool
}

// handState holds everything the periodic tasks and requests share.
// All fields are guarded by mu.
type handState struct {
	mu sync.Mutex

	status  *Status
	command JointValues
	goal    *goalContext
	joints  publishedJoints

	link         MotorLink
	initializing bool

	motionStopped  bool
	controlStopped bool
	motorsMoved    bool

	// initialized is set by a successful init request and cleared when it fails.
	initialized bool
	// goalIntake gates goal acceptance until the first init request.
	goalIntake bool
}

func (s *handState) isFingerReadyLocked() bool {
	return s.status != nil && s.status.Flag == FlagFingerReady && s.status.RC == 0
}

func (s *handState) hasErrorLocked() bool {
	return s.status != nil && (s.status.Flag == FlagError || s.status.RC != 0)
}

func (s *handState) linkStateLocked() LinkState {
	switch {
	case s.link == nil:
		return LinkAbsent
	case !s.link.IsInitialized():
		return LinkUninitialized
	default:
		return LinkInitialized
	}
}

func (s *handState) lifecycleLocked() LifecycleState {
	switch {
	case s.status == nil:
		return StateDisconnected
	case s.initializing:
		return StateInitializing
	case s.hasErrorLocked():
		return StateError
	case s.status.Flag == FlagFingerReady:
		return StateReady
	default:
		return StateNotInitialized
	}
}

// freezeCommandLocked pins the command to the last measured position.
func (s *handState) freezeCommandLocked() {
	if s.status != nil {
		s.command.PositionCdeg = s.status.Joints.PositionCdeg
	}
}
