package sdhx_hand

import (
	"context"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// trajectoryGoalRequest is the DoCommand payload of follow_joint_trajectory.
type trajectoryGoalRequest struct {
	// RFC 3339 start time, empty for now.
	Stamp                string                   `json:"stamp"`
	JointNames           []string                 `json:"joint_names"`
	Points               []trajectoryPointRequest `json:"points"`
	GoalTolerance        []jointToleranceRequest  `json:"goal_tolerance"`
	GoalTimeToleranceSec float64                  `json:"goal_time_tolerance_sec"`
}

type trajectoryPointRequest struct {
	Positions        []float64 `json:"positions"`
	Effort           []float64 `json:"effort"`
	TimeFromStartSec float64   `json:"time_from_start_sec"`
}

type jointToleranceRequest struct {
	Name     string  `json:"name"`
	Position float64 `json:"position"`
}

// DecodeTrajectoryGoal converts a loosely typed payload, as it arrives through
// DoCommand, into a TrajectoryGoal.
func DecodeTrajectoryGoal(raw any) (TrajectoryGoal, error) {
	var req trajectoryGoalRequest
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &req,
	})
	if err != nil {
		return TrajectoryGoal{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return TrajectoryGoal{}, errors.Wrap(err, "decoding trajectory goal")
	}

	goal := TrajectoryGoal{
		JointNames:        req.JointNames,
		GoalTimeTolerance: secondsToDuration(req.GoalTimeToleranceSec),
	}
	if req.Stamp != "" {
		goal.Stamp, err = time.Parse(time.RFC3339Nano, req.Stamp)
		if err != nil {
			return TrajectoryGoal{}, errors.Wrapf(err, "invalid stamp %q", req.Stamp)
		}
	}
	for _, p := range req.Points {
		goal.Points = append(goal.Points, TrajectoryPoint{
			Positions:     p.Positions,
			Effort:        p.Effort,
			TimeFromStart: secondsToDuration(p.TimeFromStartSec),
		})
	}
	for _, tol := range req.GoalTolerance {
		goal.GoalTolerance = append(goal.GoalTolerance, JointTolerance(tol))
	}
	return goal, nil
}

// PresetGoal builds a single point goal towards positions using the
// configured preset timing.
func (b *Bridge) PresetGoal(positions []float64) TrajectoryGoal {
	return TrajectoryGoal{
		JointNames: b.JointNames(),
		Points: []TrajectoryPoint{{
			Positions:     append([]float64(nil), positions...),
			TimeFromStart: secondsToDuration(b.cfg.PresetDurationSec),
		}},
		GoalTimeTolerance: secondsToDuration(b.cfg.PresetTimeToleranceSec),
	}
}

// RunGoal submits goal and waits for its result. A goal still running when
// ctx ends is cancelled.
func (b *Bridge) RunGoal(ctx context.Context, goal TrajectoryGoal) (GoalResult, error) {
	handle := b.SubmitGoal(goal)
	res, err := handle.Wait(ctx)
	if err != nil {
		b.CancelGoal(handle.ID())
		return handle.Result(), err
	}
	return res, nil
}

func goalResultMap(h *GoalHandle) map[string]any {
	res := h.Result()
	return map[string]any{
		"goal_id":     h.ID(),
		"state":       res.State.String(),
		"result_code": int(res.Code),
		"result":      res.Code.String(),
		"message":     res.Message,
	}
}

// DoCommand serves the bridge commands shared by every resource bound to it.
// It returns false for commands it does not know.
func (b *Bridge) DoCommand(ctx context.Context, cmd map[string]any) (map[string]any, bool, error) {
	switch cmd["command"] {
	case "init":
		return b.InitRequest(ctx).AsMap(), true, nil

	case "halt":
		return b.HaltRequest().AsMap(), true, nil

	case "recover":
		return b.RecoverRequest(ctx).AsMap(), true, nil

	case "follow_joint_trajectory":
		raw, ok := cmd["goal"]
		if !ok {
			return nil, true, fmt.Errorf("follow_joint_trajectory requires a 'goal' parameter")
		}
		goal, err := DecodeTrajectoryGoal(raw)
		if err != nil {
			return nil, true, err
		}
		handle := b.SubmitGoal(goal)
		if wait, _ := cmd["wait"].(bool); wait {
			if _, err := handle.Wait(ctx); err != nil {
				b.CancelGoal(handle.ID())
				return goalResultMap(handle), true, err
			}
		}
		return goalResultMap(handle), true, nil

	case "cancel_goal":
		id, _ := cmd["goal_id"].(string)
		return map[string]any{"cancelled": b.CancelGoal(id)}, true, nil

	case "goal_status":
		id, _ := cmd["goal_id"].(string)
		var (
			handle *GoalHandle
			ok     bool
		)
		if id == "" {
			handle, ok = b.goals.latest()
		} else {
			handle, ok = b.Goal(id)
		}
		if !ok {
			return nil, true, fmt.Errorf("no goal %q", id)
		}
		return goalResultMap(handle), true, nil

	case "joint_states":
		js, ok := b.JointStates()
		if !ok {
			return nil, true, errors.New("no joint state published yet")
		}
		return js.AsMap(), true, nil

	case "diagnostics":
		reports := b.Diagnostics()
		out := make([]any, 0, len(reports))
		for _, r := range reports {
			out = append(out, r.AsMap())
		}
		return map[string]any{"diagnostics": out}, true, nil

	case "status":
		return b.Snapshot().AsMap(), true, nil

	default:
		return nil, false, nil
	}
}
