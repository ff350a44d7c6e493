package sdhx_hand

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
)

var (
	HandModel = resource.NewModel("devrel", "sdhx", "hand")
)

func init() {
	resource.RegisterComponent(
		gripper.API,
		HandModel,
		resource.Registration[gripper.Gripper, *HandConfig]{
			Constructor: newHandGripper,
		},
	)
}

// handGripper exposes the finger as a gripper. Open and Grab drive it to the
// configured presets through the same goal path as trajectory commands.
type handGripper struct {
	resource.AlwaysRebuild

	name       resource.Name
	logger     logging.Logger
	registry   *BridgeRegistry
	bridge     *Bridge
	port       string
	geometries []spatialmath.Geometry

	openPositions   []float64
	closedPositions []float64
}

func newHandGripper(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (gripper.Gripper, error) {
	cfg, err := resource.NativeConfig[*HandConfig](conf)
	if err != nil {
		return nil, err
	}
	return newHandGripperWithRegistry(conf.ResourceName(), cfg, globalRegistry, logger)
}

func newHandGripperWithRegistry(name resource.Name, cfg *HandConfig, registry *BridgeRegistry, logger logging.Logger) (*handGripper, error) {
	bridge, err := registry.Acquire(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get bridge for hand: %w", err)
	}

	fingerSize := r3.Vector{X: 30, Y: 30, Z: 180}
	finger, err := spatialmath.NewBox(spatialmath.NewPoseFromPoint(r3.Vector{X: 0, Y: 0, Z: fingerSize.Z / 2}), fingerSize, "finger")
	if err != nil {
		return nil, errors.Join(err, registry.Release(context.Background(), cfg.Port))
	}

	g := &handGripper{
		name:            name,
		logger:          logger,
		registry:        registry,
		bridge:          bridge,
		port:            cfg.Port,
		geometries:      []spatialmath.Geometry{finger},
		openPositions:   cfg.OpenPositions,
		closedPositions: cfg.ClosedPositions,
	}
	logger.Debugf("hand gripper on %s, joints %v, open=%v closed=%v",
		cfg.Port, cfg.JointNames, cfg.OpenPositions, cfg.ClosedPositions)
	return g, nil
}

func (g *handGripper) Name() resource.Name {
	return g.name
}

func (g *handGripper) Open(ctx context.Context, extra map[string]interface{}) error {
	g.logger.Debug("opening finger")
	res, err := g.bridge.RunGoal(ctx, g.bridge.PresetGoal(g.openPositions))
	if err != nil {
		return fmt.Errorf("failed to open finger: %w", err)
	}
	if res.State != GoalSucceeded {
		return fmt.Errorf("failed to open finger: goal %s (%s) %s", res.State, res.Code, res.Message)
	}
	return nil
}

// Grab closes the finger. It reports true when the finger stopped short of
// the closed preset, which means something is in the way.
func (g *handGripper) Grab(ctx context.Context, extra map[string]interface{}) (bool, error) {
	g.logger.Debug("closing finger")
	res, err := g.bridge.RunGoal(ctx, g.bridge.PresetGoal(g.closedPositions))
	if err != nil {
		return false, fmt.Errorf("failed to close finger: %w", err)
	}
	switch {
	case res.State == GoalSucceeded:
		return res.Code == ResultGoalToleranceViolated, nil
	case res.State == GoalAborted && res.Code == ResultGoalToleranceViolated:
		// blocked before the deadline and never settled
		return true, nil
	default:
		return false, fmt.Errorf("failed to close finger: goal %s (%s) %s", res.State, res.Code, res.Message)
	}
}

func (g *handGripper) Stop(ctx context.Context, extra map[string]interface{}) error {
	if g.bridge.CancelGoal("") {
		return nil
	}
	return g.bridge.Halt()
}

func (g *handGripper) IsMoving(ctx context.Context) (bool, error) {
	return g.bridge.IsMoving(), nil
}

func (g *handGripper) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return g.geometries, nil
}

func (g *handGripper) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	if out, handled, err := g.bridge.DoCommand(ctx, cmd); handled {
		return out, err
	}

	switch cmd["command"] {
	case "bridge_status":
		refCount, exists, summary := g.registry.Status(g.port)
		return map[string]interface{}{
			"ref_count":  refCount,
			"has_bridge": exists,
			"config":     summary,
		}, nil
	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func (g *handGripper) Close(ctx context.Context) error {
	return g.registry.Release(ctx, g.port)
}

// CurrentInputs returns the joint positions in radians.
func (g *handGripper) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	js, ok := g.bridge.JointStates()
	if !ok {
		return nil, ErrNotConnected
	}
	inputs := make([]referenceframe.Input, len(js.Position))
	for i, p := range js.Position {
		inputs[i] = referenceframe.Input(p)
	}
	return inputs, nil
}

// GoToInputs runs one preset-timed goal per step.
func (g *handGripper) GoToInputs(ctx context.Context, inputSteps ...[]referenceframe.Input) error {
	for _, step := range inputSteps {
		if len(step) != NumJoints {
			return fmt.Errorf("expected %d inputs, got %d", NumJoints, len(step))
		}
		positions := make([]float64, len(step))
		for i, in := range step {
			positions[i] = in
		}
		res, err := g.bridge.RunGoal(ctx, g.bridge.PresetGoal(positions))
		if err != nil {
			return err
		}
		if res.State != GoalSucceeded {
			return fmt.Errorf("goal %s (%s) %s", res.State, res.Code, res.Message)
		}
	}
	return nil
}

func (g *handGripper) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return nil, errors.ErrUnsupported
}

func (g *handGripper) IsHoldingSomething(ctx context.Context, extra map[string]interface{}) (gripper.HoldingStatus, error) {
	return gripper.HoldingStatus{}, errors.ErrUnsupported
}
