package sdhx_hand

import (
	"context"
	"math"

	goutils "go.viam.com/utils"
)

// pollOnce runs one status cycle: sample the controller, derive the stopped
// flags, publish joint state and check the goal in flight.
func (b *Bridge) pollOnce(ctx context.Context) {
	now := b.clock.Now()

	b.state.mu.Lock()
	first := b.state.status == nil
	if first {
		b.state.status = &Status{}
	}
	st := b.state.status
	js := &b.state.joints

	dt := now.Sub(js.stamp).Seconds()
	calcVel := js.valid && dt != 0

	st.Stamp = now
	st.Flag = FlagNotInitialized

	link := b.state.link
	if link != nil && link.IsInitialized() {
		joints, err := link.Telemetry(telemetryTimeout)
		if err != nil {
			st.Flag = FlagError
			b.logger.Debugf("telemetry failed: %v", err)
		} else {
			st.Flag = FlagFingerReady
		}
		st.Joints = joints
		st.RC = link.ErrorCode()
	}

	b.connection.tick(st.Stamp)

	b.state.motionStopped = true
	b.state.controlStopped = true

	var published *JointState
	if st.Flag == FlagFingerReady {
		for i := 0; i < NumJoints; i++ {
			newPos := CdegToRad(float64(st.Joints.PositionCdeg[i]))
			if calcVel {
				js.velocity[i] = (newPos - js.position[i]) / dt
			}
			if math.Abs(js.velocity[i]) > b.stoppedVelocity {
				b.state.motionStopped = false
				b.state.motorsMoved = true
			}
			if absInt16(st.Joints.Current100uA[i]) > b.stoppedCurrent {
				b.state.controlStopped = false
			}
			js.position[i] = newPos
		}
		js.stamp = now
		js.valid = true
		published = &JointState{
			Names:    b.JointNames(),
			Position: append([]float64(nil), js.position[:]...),
			Velocity: append([]float64(nil), js.velocity[:]...),
			Stamp:    now,
		}
	}

	// the deadline check never asks for a halt
	b.checkGoalLocked(false)

	if link != nil {
		if err := link.Poll(); err != nil {
			b.logger.Debugf("link poll failed: %v", err)
		}
	}
	b.state.mu.Unlock()

	if published != nil {
		b.feed.publish(*published)
	}
	if first {
		b.logger.Infof("first status received, init requests are accepted")
		if b.cfg.AutoInit {
			goutils.PanicCapturingGo(func() {
				res := b.InitRequest(ctx)
				b.logger.Infof("automatic init: success=%v %s", res.Success, res.Message)
			})
		}
	}
}
