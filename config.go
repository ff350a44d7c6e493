package sdhx_hand

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPort is the port tools fall back to.
	DefaultPort              = "/dev/ttyACM0"
	defaultBaudrate          = 57600
	defaultStoppedVelocity   = 0.05 // rad/s
	defaultStoppedCurrent    = 0.1  // A
	defaultResendPeriod      = 0.1
	defaultStatusPeriod      = 0.05
	defaultDiagnosticsPeriod = 1.0
	defaultStatusMinDelay    = -1.0
	defaultStatusMaxDelay    = 0.1
	defaultPresetDuration    = 2.0
	defaultPresetTolerance   = 0.5
	defaultHardwareID        = "none"
)

var (
	// 2120 and 1400 in controller current units.
	defaultCurrents = []float64{2.12, 1.40}
	// 1000 cdeg/s for each joint.
	defaultVelocities = []float64{CdegToRad(1000), CdegToRad(1000)}
	defaultServoIDs   = []int{1, 2}
)

// HandConfig configures one finger controller and the services bridged to it.
type HandConfig struct {
	// Serial port path, optionally suffixed with @baud.
	Port     string `json:"port"`
	Baudrate int    `json:"baudrate,omitempty"`

	// "sdhx" (default) or "feetech".
	Driver   string `json:"driver,omitempty"`
	ServoIDs []int  `json:"servo_ids,omitempty"`

	MinPWM []int `json:"min_pwm,omitempty"`
	MaxPWM []int `json:"max_pwm,omitempty"`

	JointNames []string `json:"joint_names"`

	// Thresholds below which a joint counts as stopped, rad/s and A.
	StoppedVelocity *float64 `json:"stopped_velocity,omitempty"`
	StoppedCurrent  *float64 `json:"stopped_current,omitempty"`

	// Setpoint defaults for joints a goal does not name, A and rad/s.
	DefaultCurrents   []float64 `json:"default_currents,omitempty"`
	DefaultVelocities []float64 `json:"default_velocities,omitempty"`

	// Zero or negative disables command resending.
	ResendPeriodSec      *float64 `json:"resend_period_sec,omitempty"`
	StatusPeriodSec      float64  `json:"status_period_sec,omitempty"`
	DiagnosticsPeriodSec float64  `json:"diagnostics_period_sec,omitempty"`
	StatusMinDelaySec    *float64 `json:"status_min_delay_sec,omitempty"`
	StatusMaxDelaySec    *float64 `json:"status_max_delay_sec,omitempty"`
	HardwareID           string   `json:"hardware_id,omitempty"`

	// AutoInit initializes the controller once the first status is in.
	AutoInit bool `json:"auto_init,omitempty"`

	// Gripper presets in radians.
	OpenPositions          []float64 `json:"open_positions,omitempty"`
	ClosedPositions        []float64 `json:"closed_positions,omitempty"`
	PresetDurationSec      float64   `json:"preset_duration_sec,omitempty"`
	PresetTimeToleranceSec float64   `json:"preset_time_tolerance_sec,omitempty"`
}

// Validate ensures all parts of the config are valid and fills in defaults.
func (cfg *HandConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Port == "" {
		return nil, nil, fmt.Errorf("%s: must specify port for serial communication", path)
	}
	portPath, baud, err := ParsePortSpec(cfg.Port)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Port = portPath
	if baud != 0 {
		cfg.Baudrate = baud
	}
	if cfg.Baudrate == 0 {
		cfg.Baudrate = defaultBaudrate
	}
	if cfg.Baudrate < 0 {
		return nil, nil, fmt.Errorf("%s: baudrate must be positive, got %d", path, cfg.Baudrate)
	}

	switch cfg.Driver {
	case "":
		cfg.Driver = DriverSDHx
	case DriverSDHx, DriverFeetech:
	default:
		return nil, nil, fmt.Errorf("%s: driver must be %q or %q, got %q", path, DriverSDHx, DriverFeetech, cfg.Driver)
	}

	if len(cfg.ServoIDs) == 0 {
		cfg.ServoIDs = append([]int(nil), defaultServoIDs...)
	}
	if len(cfg.ServoIDs) != NumJoints {
		return nil, nil, fmt.Errorf("%s: expected %d servo IDs, got %d", path, NumJoints, len(cfg.ServoIDs))
	}
	for _, id := range cfg.ServoIDs {
		if id < 1 || id > 253 {
			return nil, nil, fmt.Errorf("%s: servo IDs must be 1-253, got %d", path, id)
		}
	}

	if cfg.MinPWM, err = pwmPair(cfg.MinPWM, "min_pwm"); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.MaxPWM, err = pwmPair(cfg.MaxPWM, "max_pwm"); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	if len(cfg.JointNames) == 0 {
		return nil, nil, fmt.Errorf("%s: must specify joint_names", path)
	}
	if len(cfg.JointNames) != NumJoints {
		return nil, nil, fmt.Errorf("%s: number of joints does not match %d, got %d", path, NumJoints, len(cfg.JointNames))
	}
	if cfg.JointNames[0] == "" || cfg.JointNames[1] == "" || cfg.JointNames[0] == cfg.JointNames[1] {
		return nil, nil, fmt.Errorf("%s: joint_names must be distinct and non-empty, got %v", path, cfg.JointNames)
	}

	if cfg.StoppedVelocity == nil {
		v := defaultStoppedVelocity
		cfg.StoppedVelocity = &v
	}
	if !(*cfg.StoppedVelocity > 0) {
		return nil, nil, fmt.Errorf("%s: stopped_velocity must be a positive number", path)
	}
	if cfg.StoppedCurrent == nil {
		v := defaultStoppedCurrent
		cfg.StoppedCurrent = &v
	}
	if !(*cfg.StoppedCurrent > 0) {
		return nil, nil, fmt.Errorf("%s: stopped_current must be a positive number", path)
	}

	if len(cfg.DefaultCurrents) == 0 {
		cfg.DefaultCurrents = append([]float64(nil), defaultCurrents...)
	}
	if len(cfg.DefaultCurrents) != NumJoints {
		return nil, nil, fmt.Errorf("%s: number of current values does not match number of joints", path)
	}
	if len(cfg.DefaultVelocities) == 0 {
		cfg.DefaultVelocities = append([]float64(nil), defaultVelocities...)
	}
	if len(cfg.DefaultVelocities) != NumJoints {
		return nil, nil, fmt.Errorf("%s: number of velocity values does not match number of joints", path)
	}

	if cfg.ResendPeriodSec == nil {
		v := defaultResendPeriod
		cfg.ResendPeriodSec = &v
	}
	if cfg.StatusPeriodSec == 0 {
		cfg.StatusPeriodSec = defaultStatusPeriod
	}
	if cfg.StatusPeriodSec < 0 {
		return nil, nil, fmt.Errorf("%s: status_period_sec must be positive", path)
	}
	if cfg.DiagnosticsPeriodSec == 0 {
		cfg.DiagnosticsPeriodSec = defaultDiagnosticsPeriod
	}
	if cfg.DiagnosticsPeriodSec < 0 {
		return nil, nil, fmt.Errorf("%s: diagnostics_period_sec must be positive", path)
	}
	if cfg.StatusMinDelaySec == nil {
		v := defaultStatusMinDelay
		cfg.StatusMinDelaySec = &v
	}
	if cfg.StatusMaxDelaySec == nil {
		v := defaultStatusMaxDelay
		cfg.StatusMaxDelaySec = &v
	}
	if *cfg.StatusMinDelaySec > *cfg.StatusMaxDelaySec {
		return nil, nil, fmt.Errorf("%s: status_min_delay_sec must not exceed status_max_delay_sec", path)
	}
	if cfg.HardwareID == "" {
		cfg.HardwareID = defaultHardwareID
	}

	if len(cfg.OpenPositions) == 0 {
		cfg.OpenPositions = make([]float64, NumJoints)
	}
	if len(cfg.OpenPositions) != NumJoints {
		return nil, nil, fmt.Errorf("%s: expected %d open_positions, got %d", path, NumJoints, len(cfg.OpenPositions))
	}
	if len(cfg.ClosedPositions) == 0 {
		cfg.ClosedPositions = []float64{math.Pi / 2, math.Pi / 2}
	}
	if len(cfg.ClosedPositions) != NumJoints {
		return nil, nil, fmt.Errorf("%s: expected %d closed_positions, got %d", path, NumJoints, len(cfg.ClosedPositions))
	}
	if cfg.PresetDurationSec == 0 {
		cfg.PresetDurationSec = defaultPresetDuration
	}
	if cfg.PresetTimeToleranceSec == 0 {
		cfg.PresetTimeToleranceSec = defaultPresetTolerance
	}
	if cfg.PresetDurationSec < 0 || cfg.PresetTimeToleranceSec < 0 {
		return nil, nil, fmt.Errorf("%s: preset durations must be positive", path)
	}

	return nil, nil, nil
}

// ParsePortSpec splits "path@baud" into its parts. A missing baud yields 0.
func ParsePortSpec(spec string) (string, int, error) {
	path, baudText, found := strings.Cut(spec, "@")
	if !found {
		return spec, 0, nil
	}
	if path == "" {
		return "", 0, fmt.Errorf("port %q has no path", spec)
	}
	baud, err := strconv.Atoi(baudText)
	if err != nil || baud <= 0 {
		return "", 0, fmt.Errorf("port %q has invalid baud rate %q", spec, baudText)
	}
	return path, baud, nil
}

func pwmPair(values []int, name string) ([]int, error) {
	if len(values) == 0 {
		return make([]int, NumJoints), nil
	}
	if len(values) != NumJoints {
		return nil, fmt.Errorf("expected %d %s values, got %d", NumJoints, name, len(values))
	}
	for _, v := range values {
		if v < 0 || v > math.MaxUint16 {
			return nil, fmt.Errorf("%s values must be 0-%d, got %d", name, math.MaxUint16, v)
		}
	}
	return values, nil
}

func (cfg *HandConfig) linkParams() LinkParams {
	params := LinkParams{Port: cfg.Port, BaudRate: cfg.Baudrate}
	for i := 0; i < NumJoints; i++ {
		params.ServoIDs[i] = cfg.ServoIDs[i]
		params.MinPWM[i] = uint16(cfg.MinPWM[i])
		params.MaxPWM[i] = uint16(cfg.MaxPWM[i])
	}
	return params
}

// defaultCommand is the setpoint joints keep when a goal does not name them.
func (cfg *HandConfig) defaultCommand() JointValues {
	var cmd JointValues
	for i := 0; i < NumJoints; i++ {
		cmd.VelocityCdegS[i] = toInt16(RadToCdeg(cfg.DefaultVelocities[i]))
		cmd.Current100uA[i] = toInt16(AmpsToCurrentUnits(cfg.DefaultCurrents[i]))
	}
	return cmd
}

func (cfg *HandConfig) resendPeriod() time.Duration {
	if cfg.ResendPeriodSec == nil {
		return secondsToDuration(defaultResendPeriod)
	}
	return secondsToDuration(*cfg.ResendPeriodSec)
}

func (cfg *HandConfig) statusPeriod() time.Duration {
	return secondsToDuration(cfg.StatusPeriodSec)
}

func (cfg *HandConfig) diagnosticsPeriod() time.Duration {
	return secondsToDuration(cfg.DiagnosticsPeriodSec)
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
