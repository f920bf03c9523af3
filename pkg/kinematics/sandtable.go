package kinematics

import (
	"github.com/chewxy/math32"

	"github.com/cgreening/RBotFirmware/pkg/axes"
)

// NewSandTable returns polar kinematics for a rotary sand table: axis 0 is
// the continuous-rotation arm angle in degrees, axis 1 the radial carriage
// in mm. The angle is unwrapped against the current position so the arm
// takes the short way round; step counters are folded back each move.
func NewSandTable() Kinematics {
	return Kinematics{
		Shape:               ShapeSandTable,
		PtToActuator:        sandTablePtToActuator,
		ActuatorToPt:        sandTableActuatorToPt,
		CorrectStepOverflow: foldContinuousRotation,
	}
}

func sandTablePtToActuator(targetPt axes.Floats, curPos *axes.Position, params *axes.Params, allowOutOfBounds bool) (axes.Floats, bool) {
	x := targetPt.ValNoCheck(0)
	y := targetPt.ValNoCheck(1)

	radius := math32.Hypot(x, y)
	angle := math32.Atan2(y, x) * 180 / math32.Pi

	// Unwrap relative to the current arm angle so the move never commands
	// more than half a turn.
	cur := curPos.MM[0]
	for angle-cur > 180 {
		angle -= 360
	}
	for angle-cur < -180 {
		angle += 360
	}

	var actuator axes.Floats
	actuator.SetVal(0, angle)
	actuator.SetVal(1, radius)

	inBounds := true
	if prm := &params.Axes[1]; prm.MaxValValid && radius > prm.MaxVal {
		inBounds = false
		if !allowOutOfBounds {
			actuator.SetVal(1, prm.MaxVal)
		}
	}
	return actuator, inBounds
}

func sandTableActuatorToPt(actuator axes.Floats, curPos *axes.Position, params *axes.Params) axes.Floats {
	angle := actuator.ValNoCheck(0) * math32.Pi / 180
	radius := actuator.ValNoCheck(1)

	var pt axes.Floats
	pt.SetVal(0, radius*math32.Cos(angle))
	pt.SetVal(1, radius*math32.Sin(angle))
	return pt
}
