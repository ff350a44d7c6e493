package sdhx_hand

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

const (
	// STS3215 resolution and the raw position of the joint zero.
	ticksPerRev      = 4096
	centerTicks      = 2048
	maxTicks         = ticksPerRev - 1
	feetechIOTimeout = 500 * time.Millisecond
)

// jointServo is the subset of feetech.Servo used to drive one joint.
type jointServo interface {
	Ping(ctx context.Context) (int, error)
	Position(ctx context.Context) (int, error)
	Load(ctx context.Context) (int, error)
	SetPosition(ctx context.Context, position int) error
	SetPositionWithSpeed(ctx context.Context, position int, speed int) error
	Enable(ctx context.Context) error
}

type servoOpener func(params LinkParams) (io.Closer, [NumJoints]jointServo, error)

func openFeetechServos(params LinkParams) (io.Closer, [NumJoints]jointServo, error) {
	var servos [NumJoints]jointServo

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     params.Port,
		BaudRate: params.BaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  feetechIOTimeout,
	})
	if err != nil {
		return nil, servos, fmt.Errorf("failed to create feetech servo bus: %w", err)
	}
	for i, id := range params.ServoIDs {
		servos[i] = feetech.NewServo(bus, id, &feetech.ModelSTS3215)
	}
	return bus, servos, nil
}

// feetechLink drives the two finger joints with STS3215 bus servos. Velocity
// is derived from successive samples and the servo load stands in for current.
// The servos report no controller error code, so ErrorCode stays 0.
type feetechLink struct {
	logger logging.Logger
	open   servoOpener

	mu          sync.Mutex
	bus         io.Closer
	servos      [NumJoints]jointServo
	initialized bool
	last        JointValues
	lastSample  time.Time
}

func newFeetechLink(logger logging.Logger) *feetechLink {
	return &feetechLink{logger: logger, open: openFeetechServos}
}

func (l *feetechLink) Init(ctx context.Context, params LinkParams) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.bus != nil {
		return ErrLinkExists
	}

	bus, servos, err := l.open(params)
	if err != nil {
		return err
	}
	for i, servo := range servos {
		if _, err := servo.Ping(ctx); err != nil {
			bus.Close()
			return errors.Wrapf(err, "servo %d did not answer ping", params.ServoIDs[i])
		}
		if err := servo.Enable(ctx); err != nil {
			bus.Close()
			return errors.Wrapf(err, "failed to enable servo %d", params.ServoIDs[i])
		}
	}

	l.bus = bus
	l.servos = servos
	l.initialized = true
	l.lastSample = time.Time{}
	l.logger.Infof("feetech finger initialized on %s with servo IDs %v", params.Port, params.ServoIDs)
	return nil
}

func (l *feetechLink) IsInitialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialized
}

func (l *feetechLink) Move(cmd JointValues) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.initialized {
		return ErrLinkNotReady
	}
	ctx, cancel := context.WithTimeout(context.Background(), feetechIOTimeout)
	defer cancel()

	for i, servo := range l.servos {
		target := cdegToTicks(cmd.PositionCdeg[i])
		speed := cdegPerSecToTicks(cmd.VelocityCdegS[i])
		if err := servo.SetPositionWithSpeed(ctx, target, speed); err != nil {
			return fmt.Errorf("failed to move joint %d: %w", i, err)
		}
	}
	return nil
}

// Poll is a no-op, the servo bus is strictly request and reply.
func (l *feetechLink) Poll() error {
	return nil
}

func (l *feetechLink) Telemetry(timeout time.Duration) (JointValues, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.initialized {
		return l.last, ErrLinkNotReady
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	sample := l.last
	now := time.Now()
	for i, servo := range l.servos {
		raw, err := servo.Position(ctx)
		if err != nil {
			return l.last, errors.Wrapf(err, "reading position of joint %d", i)
		}
		load, err := servo.Load(ctx)
		if err != nil {
			return l.last, errors.Wrapf(err, "reading load of joint %d", i)
		}
		pos := ticksToCdeg(raw)
		if !l.lastSample.IsZero() {
			if dt := now.Sub(l.lastSample).Seconds(); dt > 0 {
				sample.VelocityCdegS[i] = toInt16((float64(pos) - float64(l.last.PositionCdeg[i])) / dt)
			}
		}
		sample.PositionCdeg[i] = pos
		sample.Current100uA[i] = toInt16(float64(load))
	}
	l.last = sample
	l.lastSample = now
	return sample, nil
}

func (l *feetechLink) ErrorCode() uint16 {
	return 0
}

// Halt holds each joint at its present position.
func (l *feetechLink) Halt() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.bus == nil {
		return ErrNoLink
	}
	if !l.initialized {
		return ErrLinkNotReady
	}
	ctx, cancel := context.WithTimeout(context.Background(), feetechIOTimeout)
	defer cancel()

	for i, servo := range l.servos {
		raw, err := servo.Position(ctx)
		if err != nil {
			return errors.Wrapf(err, "reading position of joint %d", i)
		}
		if err := servo.SetPosition(ctx, raw); err != nil {
			return errors.Wrapf(err, "holding joint %d", i)
		}
	}
	return nil
}

func (l *feetechLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.initialized = false
	if l.bus == nil {
		return nil
	}
	err := l.bus.Close()
	l.bus = nil
	return err
}

func cdegToTicks(cdeg int16) int {
	ticks := centerTicks + int(math.Round(float64(cdeg)/36000.0*ticksPerRev))
	return max(0, min(maxTicks, ticks))
}

func ticksToCdeg(ticks int) int16 {
	return toInt16(float64(ticks-centerTicks) * 36000.0 / ticksPerRev)
}

func cdegPerSecToTicks(cdegPerSec int16) int {
	return int(math.Round(absInt16(cdegPerSec) / 36000.0 * ticksPerRev))
}
