package kinematics

import (
	"github.com/cgreening/RBotFirmware/pkg/axes"
)

// NewHBot returns CoreXY/H-Bot kinematics: two motors drive a shared belt so
// actuator A moves by x+y and actuator B by x-y. Bounds are the cartesian
// soft limits, checked before mixing. A third axis passes through.
func NewHBot() Kinematics {
	return Kinematics{
		Shape:               ShapeHBot,
		PtToActuator:        hBotPtToActuator,
		ActuatorToPt:        hBotActuatorToPt,
		CorrectStepOverflow: noStepOverflow,
	}
}

func hBotPtToActuator(targetPt axes.Floats, curPos *axes.Position, params *axes.Params, allowOutOfBounds bool) (axes.Floats, bool) {
	pt := targetPt
	inBounds := params.ApplyBounds(&pt, !allowOutOfBounds)

	var actuator axes.Floats
	x := pt.ValNoCheck(0)
	y := pt.ValNoCheck(1)
	actuator.SetVal(0, x+y)
	actuator.SetVal(1, x-y)
	if axes.MaxAxes > 2 {
		actuator.SetVal(2, pt.ValNoCheck(2))
	}
	return actuator, inBounds
}

func hBotActuatorToPt(actuator axes.Floats, curPos *axes.Position, params *axes.Params) axes.Floats {
	var pt axes.Floats
	a := actuator.ValNoCheck(0)
	b := actuator.ValNoCheck(1)
	pt.SetVal(0, (a+b)/2)
	pt.SetVal(1, (a-b)/2)
	if axes.MaxAxes > 2 {
		pt.SetVal(2, actuator.ValNoCheck(2))
	}
	return pt
}
