package sdhx_hand

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

const (
	DriverSDHx    = "sdhx"
	DriverFeetech = "feetech"

	// telemetryTimeout bounds every telemetry read of the status cycle.
	telemetryTimeout = time.Second
)

var (
	ErrNotConnected      = errors.New("hand is not yet connected")
	ErrNoLink            = errors.New("motor link does not exist")
	ErrLinkNotReady      = errors.New("motor link is not initialized")
	ErrInitInProgress    = errors.New("motor link initialization already in progress")
	ErrLinkExists        = errors.New("motor link already exists")
	ErrTelemetryTimeout  = errors.New("telemetry timed out")
	ErrControllerRefused = errors.New("controller refused request")
	ErrBridgeClosed      = errors.New("bridge is closed")
)

// LinkParams are the parameters a motor link is opened with.
type LinkParams struct {
	Port     string
	BaudRate int
	ServoIDs [NumJoints]int
	MinPWM   [NumJoints]uint16
	MaxPWM   [NumJoints]uint16
}

// framingStats is implemented by links that resynchronize on a byte stream.
type framingStats interface {
	DroppedBytes() int
}

// MotorLink is the command and telemetry channel to one finger controller.
// Implementations serialize their own I/O.
type MotorLink interface {
	// Init opens the port and configures the controller.
	Init(ctx context.Context, params LinkParams) error
	IsInitialized() bool
	// Move sends a setpoint. It does not wait for a reply.
	Move(cmd JointValues) error
	// Poll drains pending protocol input without blocking.
	Poll() error
	// Telemetry requests a sample and waits up to timeout for it. On failure the
	// last known values are returned along with the error.
	Telemetry(timeout time.Duration) (JointValues, error)
	// ErrorCode is the last hardware error code, 0 when healthy.
	ErrorCode() uint16
	Halt() error
	Close() error
}

// LinkFactory builds an unopened motor link.
type LinkFactory func(logger logging.Logger) MotorLink

// linkFactoryForDriver picks the link implementation named by the config.
func linkFactoryForDriver(driver string) (LinkFactory, error) {
	switch driver {
	case "", DriverSDHx:
		return func(logger logging.Logger) MotorLink {
			return newSDHxLink(logger)
		}, nil
	case DriverFeetech:
		return func(logger logging.Logger) MotorLink {
			return newFeetechLink(logger)
		}, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", driver)
	}
}
