package sdhx_hand

import (
	"math"
)

// NumJoints is the fixed number of joints driven by one finger controller.
const NumJoints = 2

// currentScale converts amps into the controller's current unit.
const currentScale = 1000.0

// JointValues is the raw per-joint record exchanged with the controller.
type JointValues struct {
	PositionCdeg  [NumJoints]int16 `json:"position_cdeg"`
	VelocityCdegS [NumJoints]int16 `json:"velocity_cdeg_s"`
	Current100uA  [NumJoints]int16 `json:"current_100uA"`
}

// CdegToRad converts centidegrees to radians.
func CdegToRad(cdeg float64) float64 {
	return cdeg / 100.0 * math.Pi / 180.0
}

// RadToCdeg converts radians to centidegrees.
func RadToCdeg(rad float64) float64 {
	return rad * 180.0 / math.Pi * 100.0
}

// AmpsToCurrentUnits converts amps to controller current units.
func AmpsToCurrentUnits(amps float64) float64 {
	return amps * currentScale
}

// CurrentUnitsToAmps converts controller current units to amps.
func CurrentUnitsToAmps(units float64) float64 {
	return units / currentScale
}

// fitsInt16 reports whether v rounds to a value int16 can hold.
func fitsInt16(v float64) bool {
	r := math.Round(v)
	return r >= math.MinInt16 && r <= math.MaxInt16
}

// toInt16 rounds v and saturates it to the int16 range.
func toInt16(v float64) int16 {
	r := math.Round(v)
	if r > math.MaxInt16 {
		return math.MaxInt16
	}
	if r < math.MinInt16 {
		return math.MinInt16
	}
	return int16(r)
}

func absInt16(v int16) float64 {
	return math.Abs(float64(v))
}
