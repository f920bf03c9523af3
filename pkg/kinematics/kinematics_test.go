package kinematics

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgreening/RBotFirmware/pkg/axes"
)

func cartesianParams() *axes.Params {
	return axes.NewParams(
		axes.Param{MaxSpeedMMps: 50, MaxAccMMps2: 100, StepsPerMM: 80, IsPrimary: true,
			MinVal: 0, MinValValid: true, MaxVal: 200, MaxValValid: true},
		axes.Param{MaxSpeedMMps: 50, MaxAccMMps2: 100, StepsPerMM: 80, IsPrimary: true,
			MinVal: 0, MinValValid: true, MaxVal: 200, MaxValValid: true},
	)
}

func TestForShape(t *testing.T) {
	for _, shape := range []Shape{ShapeCartesian, ShapeHBot, ShapeSandTable} {
		kin, ok := ForShape(shape)
		require.True(t, ok, string(shape))
		assert.Equal(t, shape, kin.Shape)
		assert.NotNil(t, kin.PtToActuator)
		assert.NotNil(t, kin.ActuatorToPt)
		assert.NotNil(t, kin.CorrectStepOverflow)
	}

	_, ok := ForShape("polargraph")
	assert.False(t, ok)
}

func TestCartesianRoundTrip(t *testing.T) {
	kin := NewCartesian()
	params := cartesianParams()
	var pos axes.Position

	tests := []struct {
		name string
		x, y float32
	}{
		{"origin", 0, 0},
		{"inside", 10, 20},
		{"edge", 200, 200},
		{"fractional", 12.3456, 99.875},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pt axes.Floats
			pt.SetVal(0, tt.x)
			pt.SetVal(1, tt.y)

			actuator, inBounds := kin.PtToActuator(pt, &pos, params, false)
			require.True(t, inBounds)

			back := kin.ActuatorToPt(actuator, &pos, params)
			// Within one step for every axis.
			assert.InDelta(t, tt.x, back.ValNoCheck(0), 1.0/80)
			assert.InDelta(t, tt.y, back.ValNoCheck(1), 1.0/80)
		})
	}
}

func TestCartesianBounds(t *testing.T) {
	kin := NewCartesian()
	params := cartesianParams()
	var pos axes.Position

	var pt axes.Floats
	pt.SetVal(0, 250)
	pt.SetVal(1, 10)

	actuator, inBounds := kin.PtToActuator(pt, &pos, params, false)
	assert.False(t, inBounds)
	assert.InDelta(t, 200, actuator.ValNoCheck(0), 1e-4, "clamped when not allowed out of bounds")

	actuator, inBounds = kin.PtToActuator(pt, &pos, params, true)
	assert.False(t, inBounds)
	assert.InDelta(t, 250, actuator.ValNoCheck(0), 1e-4, "passed through when allowed")
}

func TestHBotRoundTrip(t *testing.T) {
	kin := NewHBot()
	params := cartesianParams()
	var pos axes.Position

	var pt axes.Floats
	pt.SetVal(0, 30)
	pt.SetVal(1, 10)

	actuator, inBounds := kin.PtToActuator(pt, &pos, params, false)
	require.True(t, inBounds)
	assert.InDelta(t, 40, actuator.ValNoCheck(0), 1e-4, "A = x+y")
	assert.InDelta(t, 20, actuator.ValNoCheck(1), 1e-4, "B = x-y")

	back := kin.ActuatorToPt(actuator, &pos, params)
	assert.InDelta(t, 30, back.ValNoCheck(0), 1e-4)
	assert.InDelta(t, 10, back.ValNoCheck(1), 1e-4)
}

func sandTableParams() *axes.Params {
	return axes.NewParams(
		axes.Param{MaxSpeedMMps: 360, MaxAccMMps2: 360, StepsPerMM: 10, IsPrimary: true,
			ContinuousRotation: true, UnitsPerRot: 360},
		axes.Param{MaxSpeedMMps: 50, MaxAccMMps2: 100, StepsPerMM: 80, IsPrimary: true,
			MinVal: 0, MinValValid: true, MaxVal: 150, MaxValValid: true},
	)
}

func TestSandTableRoundTrip(t *testing.T) {
	kin := NewSandTable()
	params := sandTableParams()
	var pos axes.Position

	var pt axes.Floats
	pt.SetVal(0, 50)
	pt.SetVal(1, 50)

	actuator, inBounds := kin.PtToActuator(pt, &pos, params, false)
	require.True(t, inBounds)
	assert.InDelta(t, 45, actuator.ValNoCheck(0), 1e-3, "angle degrees")
	assert.InDelta(t, 50*math32.Sqrt2, actuator.ValNoCheck(1), 1e-3, "radius")

	back := kin.ActuatorToPt(actuator, &pos, params)
	assert.InDelta(t, 50, back.ValNoCheck(0), 1e-3)
	assert.InDelta(t, 50, back.ValNoCheck(1), 1e-3)
}

func TestSandTableUnwrapShortWay(t *testing.T) {
	kin := NewSandTable()
	params := sandTableParams()

	// Arm currently at 350 degrees; a target at atan2 angle 10 degrees
	// should unwrap to 370, not swing back through zero.
	var pos axes.Position
	pos.MM[0] = 350
	pos.MM[1] = 100

	radius := float32(100)
	angle := float32(10 * math32.Pi / 180)
	var pt axes.Floats
	pt.SetVal(0, radius*math32.Cos(angle))
	pt.SetVal(1, radius*math32.Sin(angle))

	actuator, inBounds := kin.PtToActuator(pt, &pos, params, false)
	require.True(t, inBounds)
	assert.InDelta(t, 370, actuator.ValNoCheck(0), 1e-2)
}

func TestSandTableRadiusBound(t *testing.T) {
	kin := NewSandTable()
	params := sandTableParams()
	var pos axes.Position

	var pt axes.Floats
	pt.SetVal(0, 200)
	pt.SetVal(1, 0)

	actuator, inBounds := kin.PtToActuator(pt, &pos, params, false)
	assert.False(t, inBounds)
	assert.InDelta(t, 150, actuator.ValNoCheck(1), 1e-3, "radius clamped")
}

func TestFoldContinuousRotation(t *testing.T) {
	params := sandTableParams()

	pos := axes.Position{}
	pos.Steps[0] = 3600 + 1234 // one full rotation plus a bit
	pos.MM[0] = 483.4
	pos.Steps[1] = 4000

	foldContinuousRotation(&pos, params)
	assert.Equal(t, int32(1234), pos.Steps[0], "folded by stepsPerRot")
	assert.InDelta(t, 483.4, pos.MM[0], 1e-3, "unwrapped angle untouched")
	assert.Equal(t, int32(4000), pos.Steps[1], "linear axis untouched")

	pos.Steps[0] = -3600 - 100
	foldContinuousRotation(&pos, params)
	assert.Equal(t, int32(-100), pos.Steps[0])
}
