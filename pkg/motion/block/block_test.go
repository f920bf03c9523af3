package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgreening/RBotFirmware/pkg/axes"
)

func testParams() *axes.Params {
	return axes.NewParams(
		axes.Param{MaxSpeedMMps: 50, MaxAccMMps2: 100, StepsPerMM: 80, IsPrimary: true},
		axes.Param{MaxSpeedMMps: 50, MaxAccMMps2: 100, StepsPerMM: 80, IsPrimary: true},
	)
}

func TestClear(t *testing.T) {
	var b Block
	b.SetStepsToTarget(0, 800)
	b.SetCanExecute(true)
	b.Clear()

	assert.Zero(t, b.StepsToTarget(0))
	assert.False(t, b.CanExecute())
	assert.False(t, b.IsExecuting())
	assert.Equal(t, axes.NumberedCommandNone, b.NumberedCommandIndex)
}

func TestSetStepsToTargetTracksMaster(t *testing.T) {
	var b Block
	b.Clear()
	b.SetStepsToTarget(0, 100)
	b.SetStepsToTarget(1, -800)

	assert.Equal(t, 1, b.AxisIdxWithMaxSteps)
	assert.Equal(t, uint32(800), b.AbsStepsToTarget(1))
	assert.Equal(t, int32(-800), b.StepsToTarget(1))
}

func TestMaxAchievableSpeed(t *testing.T) {
	// v^2 = v0^2 + 2*a*d
	assert.InDelta(t, 44.72, MaxAchievableSpeed(100, 0, 10), 0.01)
	assert.InDelta(t, 45.82, MaxAchievableSpeed(100, 10, 10), 0.01)
}

func TestPrepareForSteppingTrapezoid(t *testing.T) {
	params := testParams()

	var b Block
	b.Clear()
	b.SetStepsToTarget(0, 800)
	b.FeedrateMMps = 20
	b.MoveDistPrimaryAxesMM = 10
	b.EntrySpeedMMps = 0
	b.ExitSpeedMMps = 0

	require.True(t, b.PrepareForStepping(params))

	// 20mm/s at 80 steps/mm is 1600 steps/s.
	assert.Equal(t, RatePerSecToTTicks(1600), b.MaxStepRatePerTTicks)
	assert.Equal(t, uint32(MinStepRatePerTTicks), b.InitialStepRatePerTTicks)
	assert.Equal(t, uint32(MinStepRatePerTTicks), b.FinalStepRatePerTTicks)

	// accel 100mm/s^2 -> 8000 steps/s^2 -> 160 steps to reach peak.
	assert.Equal(t, uint32(640), b.StepsBeforeDecel)
	assert.Equal(t, uint32(160000), b.AccStepsPerTTicksPerMS)
}

func TestPrepareForSteppingTriangle(t *testing.T) {
	params := testParams()

	var b Block
	b.Clear()
	b.SetStepsToTarget(0, 160) // 2mm
	b.FeedrateMMps = 50
	b.MoveDistPrimaryAxesMM = 2
	b.EntrySpeedMMps = 0
	b.ExitSpeedMMps = 0

	require.True(t, b.PrepareForStepping(params))

	// 50mm/s would be 4000 steps/s but the distance cannot reach it.
	assert.Less(t, b.MaxStepRatePerTTicks, RatePerSecToTTicks(4000))
	assert.Less(t, b.StepsBeforeDecel, uint32(160/2+1))
	assert.Greater(t, b.StepsBeforeDecel, uint32(0))
}

func TestPrepareForSteppingRespectsEntryExit(t *testing.T) {
	params := testParams()

	var b Block
	b.Clear()
	b.SetStepsToTarget(0, 800)
	b.FeedrateMMps = 20
	b.MoveDistPrimaryAxesMM = 10
	b.EntrySpeedMMps = 5
	b.ExitSpeedMMps = 10

	require.True(t, b.PrepareForStepping(params))

	assert.Equal(t, RatePerSecToTTicks(5*80), b.InitialStepRatePerTTicks)
	assert.Equal(t, RatePerSecToTTicks(10*80), b.FinalStepRatePerTTicks)
	assert.GreaterOrEqual(t, b.MaxStepRatePerTTicks, b.InitialStepRatePerTTicks)
	assert.GreaterOrEqual(t, b.MaxStepRatePerTTicks, b.FinalStepRatePerTTicks)
}

func TestPrepareForSteppingRefusedWhileExecuting(t *testing.T) {
	var b Block
	b.Clear()
	b.SetStepsToTarget(0, 100)
	b.SetIsExecuting(true)
	assert.False(t, b.PrepareForStepping(testParams()))
}

func TestRateBoundsClamped(t *testing.T) {
	params := testParams()

	var b Block
	b.Clear()
	b.SetStepsToTarget(0, 10)
	b.FeedrateMMps = 10000 // absurd feedrate
	b.MoveDistPrimaryAxesMM = 0.125
	b.EntrySpeedMMps = 0
	b.ExitSpeedMMps = 0

	require.True(t, b.PrepareForStepping(params))
	assert.LessOrEqual(t, b.MaxStepRatePerTTicks, uint32(TTicksValue))
	assert.GreaterOrEqual(t, b.InitialStepRatePerTTicks, uint32(MinStepRatePerTTicks))
}
