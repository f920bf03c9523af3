// Package kinematics supplies the geometry plug-ins the motion planner is
// parameterised over. A robot shape is a small record of pure functions, not
// a type hierarchy: point-to-actuator, actuator-to-point and the
// step-overflow correction for continuous-rotation axes.
package kinematics

import (
	"github.com/cgreening/RBotFirmware/pkg/axes"
)

type Shape string

const (
	ShapeCartesian Shape = "cartesian"
	ShapeHBot      Shape = "hbot"
	ShapeSandTable Shape = "sandtable"
)

// PtToActuatorFn converts a target point (axis units, all axes valid) to
// actuator coordinates. The returned bool reports whether the target lies
// within the soft limits; the caller decides whether out-of-bounds is fatal.
type PtToActuatorFn func(targetPt axes.Floats, curPos *axes.Position, params *axes.Params, allowOutOfBounds bool) (axes.Floats, bool)

// ActuatorToPtFn converts actuator coordinates back to a point.
type ActuatorToPtFn func(actuator axes.Floats, curPos *axes.Position, params *axes.Params) axes.Floats

// CorrectStepOverflowFn folds wrapped step counters on continuous-rotation
// axes. Called by the planner after every enqueued block.
type CorrectStepOverflowFn func(curPos *axes.Position, params *axes.Params)

// Kinematics is the plug-in record handed to the motion planner. The
// functions are treated as pure.
type Kinematics struct {
	Shape               Shape
	PtToActuator        PtToActuatorFn
	ActuatorToPt        ActuatorToPtFn
	CorrectStepOverflow CorrectStepOverflowFn
}

// ForShape returns the kinematics for a named robot shape.
func ForShape(shape Shape) (Kinematics, bool) {
	switch shape {
	case ShapeCartesian:
		return NewCartesian(), true
	case ShapeHBot:
		return NewHBot(), true
	case ShapeSandTable:
		return NewSandTable(), true
	}
	return Kinematics{}, false
}

// noStepOverflow is the correction for robots without wrapping axes.
func noStepOverflow(*axes.Position, *axes.Params) {}

// foldContinuousRotation pulls the step counter of every continuous-rotation
// axis back into one rotation. The unwrapped value in MM is left alone.
func foldContinuousRotation(curPos *axes.Position, params *axes.Params) {
	for axisIdx := 0; axisIdx < params.NumAxes; axisIdx++ {
		prm := &params.Axes[axisIdx]
		if !prm.ContinuousRotation || prm.UnitsPerRot <= 0 {
			continue
		}
		stepsPerRot := int32(prm.UnitsPerRot*prm.StepsPerMM + 0.5)
		if stepsPerRot <= 0 {
			continue
		}
		for curPos.Steps[axisIdx] > stepsPerRot {
			curPos.Steps[axisIdx] -= stepsPerRot
		}
		for curPos.Steps[axisIdx] < -stepsPerRot {
			curPos.Steps[axisIdx] += stepsPerRot
		}
	}
}
