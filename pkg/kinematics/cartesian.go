package kinematics

import (
	"github.com/cgreening/RBotFirmware/pkg/axes"
)

// NewCartesian returns the identity kinematics of an XY bot or gantry:
// actuator coordinates are the point coordinates, bounds are checked
// per-axis against the soft limits.
func NewCartesian() Kinematics {
	return Kinematics{
		Shape:               ShapeCartesian,
		PtToActuator:        cartesianPtToActuator,
		ActuatorToPt:        cartesianActuatorToPt,
		CorrectStepOverflow: noStepOverflow,
	}
}

func cartesianPtToActuator(targetPt axes.Floats, curPos *axes.Position, params *axes.Params, allowOutOfBounds bool) (axes.Floats, bool) {
	actuator := targetPt
	inBounds := params.ApplyBounds(&actuator, !allowOutOfBounds)
	return actuator, inBounds
}

func cartesianActuatorToPt(actuator axes.Floats, curPos *axes.Position, params *axes.Params) axes.Floats {
	return actuator
}
