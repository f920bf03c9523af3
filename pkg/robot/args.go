// Package robot defines the command envelope handed to the motion
// controller by a command interpreter (G-code parser, pattern evaluator,
// sequencer). The JSON form is used for diagnostics and mirrors the
// firmware's wire keys.
package robot

import (
	"encoding/json"

	"github.com/cgreening/RBotFirmware/pkg/axes"
)

// MoveType selects absolute or relative target interpretation.
type MoveType uint8

const (
	MoveTypeNone MoveType = iota
	MoveTypeAbsolute
	MoveTypeRelative
)

func (t MoveType) String() string {
	if t == MoveTypeRelative {
		return "rel"
	}
	return "abs"
}

// CommandArgs is one motion command: target point, feedrate, end-stop test
// map and the flags steering how the planner treats the move.
type CommandArgs struct {
	PtMM    axes.Floats
	PtSteps axes.Int32s

	MoveType MoveType
	EndStops axes.MinMaxBools

	FeedrateValue float32
	FeedrateValid bool

	// Extrude is passed through opaquely for robots with an extruder.
	ExtrudeValue float32
	ExtrudeValid bool

	UnitsAreSteps    bool
	DontSplitMove    bool
	MoveClockwise    bool
	MoveRapid        bool
	AllowOutOfBounds bool
	MoreMovesComing  bool
	Pause            bool

	NumberedCommandIndex int
	QueuedCommands       int
}

// NewCommandArgs returns a cleared command envelope.
func NewCommandArgs() *CommandArgs {
	a := &CommandArgs{}
	a.Clear()
	return a
}

func (a *CommandArgs) Clear() {
	*a = CommandArgs{
		MoveType:             MoveTypeNone,
		NumberedCommandIndex: axes.NumberedCommandNone,
	}
}

// SetAxisValMM sets one axis target in axis units.
func (a *CommandArgs) SetAxisValMM(axisIdx int, value float32, isValid bool) {
	a.PtMM.SetVal(axisIdx, value)
	a.PtMM.SetValid(axisIdx, isValid)
	a.UnitsAreSteps = false
}

// SetAxisSteps sets one axis target in raw actuator steps.
func (a *CommandArgs) SetAxisSteps(axisIdx int, value int32, isValid bool) {
	a.PtSteps.SetVal(axisIdx, value)
	a.PtMM.SetValid(axisIdx, isValid)
	a.UnitsAreSteps = true
}

// SetAllAxesNeedHoming targets the origin on every axis.
func (a *CommandArgs) SetAllAxesNeedHoming() {
	for axisIdx := 0; axisIdx < axes.MaxAxes; axisIdx++ {
		a.SetAxisValMM(axisIdx, 0, true)
	}
}

func (a *CommandArgs) SetFeedrate(feedrate float32) {
	a.FeedrateValue = feedrate
	a.FeedrateValid = true
}

func (a *CommandArgs) SetExtrude(extrude float32) {
	a.ExtrudeValue = extrude
	a.ExtrudeValid = true
}

func (a *CommandArgs) SetTestAllEndStops() {
	a.EndStops.All()
}

func (a *CommandArgs) SetTestNoEndStops() {
	a.EndStops.None()
}

func (a *CommandArgs) SetTestEndStop(axisIdx, endStopIdx int, cond axes.EndStopCondition) {
	a.EndStops.Set(axisIdx, endStopIdx, cond)
}

// jsonArgs is the diagnostic wire form. Feedrate and extrude are optional
// keys; presence implies validity.
type jsonArgs struct {
	XYZ      axes.Floats      `json:"XYZ"`
	ABC      axes.Int32s      `json:"ABC"`
	Feedrate *float32         `json:"F,omitempty"`
	Extrude  *float32         `json:"E,omitempty"`
	MoveType string           `json:"mv"`
	EndStops axes.MinMaxBools `json:"end"`
	OoB      string           `json:"OoB"`
	Num      int              `json:"num"`
	Qd       int              `json:"Qd"`
	Pause    int              `json:"pause"`
}

func (a CommandArgs) MarshalJSON() ([]byte, error) {
	out := jsonArgs{
		XYZ:      a.PtMM,
		ABC:      a.PtSteps,
		MoveType: a.MoveType.String(),
		EndStops: a.EndStops,
		OoB:      "N",
		Num:      a.NumberedCommandIndex,
		Qd:       a.QueuedCommands,
	}
	if a.FeedrateValid {
		out.Feedrate = &a.FeedrateValue
	}
	if a.ExtrudeValid {
		out.Extrude = &a.ExtrudeValue
	}
	if a.AllowOutOfBounds {
		out.OoB = "Y"
	}
	if a.Pause {
		out.Pause = 1
	}
	return json.Marshal(out)
}

func (a *CommandArgs) UnmarshalJSON(data []byte) error {
	var in jsonArgs
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	a.Clear()
	a.PtMM = in.XYZ
	a.PtSteps = in.ABC
	if in.Feedrate != nil {
		a.SetFeedrate(*in.Feedrate)
	}
	if in.Extrude != nil {
		a.SetExtrude(*in.Extrude)
	}
	a.MoveType = MoveTypeAbsolute
	if in.MoveType == "rel" {
		a.MoveType = MoveTypeRelative
	}
	a.EndStops = in.EndStops
	a.AllowOutOfBounds = in.OoB == "Y"
	a.NumberedCommandIndex = in.Num
	a.QueuedCommands = in.Qd
	a.Pause = in.Pause != 0
	return nil
}
