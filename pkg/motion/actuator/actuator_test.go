package actuator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgreening/RBotFirmware/pkg/axes"
	"github.com/cgreening/RBotFirmware/pkg/devices"
	"github.com/cgreening/RBotFirmware/pkg/kinematics"
	"github.com/cgreening/RBotFirmware/pkg/motion/block"
	"github.com/cgreening/RBotFirmware/pkg/motion/pipeline"
	"github.com/cgreening/RBotFirmware/pkg/motion/planner"
	"github.com/cgreening/RBotFirmware/pkg/options"
	"github.com/cgreening/RBotFirmware/pkg/robot"
)

type rig struct {
	params   *axes.Params
	pipe     *pipeline.Pipeline
	planner  *planner.Planner
	actuator *Actuator

	stepPins [axes.MaxAxes]*devices.MemPin
	dirnPins [axes.MaxAxes]*devices.MemPin
	minPins  [axes.MaxAxes]*devices.MemPin
}

func newRig(t *testing.T, opts ...options.Option) *rig {
	t.Helper()

	params := axes.NewParams(
		axes.Param{MaxSpeedMMps: 50, MaxAccMMps2: 100, StepsPerMM: 80, IsPrimary: true},
		axes.Param{MaxSpeedMMps: 50, MaxAccMMps2: 100, StepsPerMM: 80, IsPrimary: true},
	)

	r := &rig{params: params}
	r.pipe = pipeline.New(8)
	r.planner = planner.New(params, kinematics.NewCartesian(), r.pipe)

	var pins [axes.MaxAxes]AxisPins
	for axisIdx := 0; axisIdx < 2; axisIdx++ {
		r.stepPins[axisIdx] = devices.NewMemPin()
		r.dirnPins[axisIdx] = devices.NewMemPin()
		r.minPins[axisIdx] = devices.NewMemPin()
		pins[axisIdx] = AxisPins{
			Step:                  r.stepPins[axisIdx],
			Dirn:                  r.dirnPins[axisIdx],
			EndStopMin:            r.minPins[axisIdx],
			EndStopMinActiveLevel: true,
		}
	}
	r.actuator = New(r.pipe, params, pins, opts...)
	return r
}

func (r *rig) move(t *testing.T, args *robot.CommandArgs) {
	t.Helper()
	require.NoError(t, r.planner.MoveTo(args))
}

func moveArgs(x, y, feedrate float32) *robot.CommandArgs {
	args := robot.NewCommandArgs()
	args.MoveType = robot.MoveTypeAbsolute
	args.SetAxisValMM(0, x, true)
	args.SetAxisValMM(1, y, true)
	args.SetFeedrate(feedrate)
	return args
}

// runUntil ticks the actuator until cond holds, with a generous cap so a
// broken state machine cannot hang the test.
func (r *rig) runUntil(t *testing.T, maxTicks int, cond func() bool) int {
	t.Helper()
	for tick := 0; tick < maxTicks; tick++ {
		if cond() {
			return tick
		}
		r.actuator.Tick()
	}
	require.True(t, cond(), "condition not reached in %d ticks", maxTicks)
	return maxTicks
}

func TestSingleMoveExactPulseCount(t *testing.T) {
	r := newRig(t)
	r.move(t, moveArgs(10, 0, 20))

	r.runUntil(t, 2_000_000, r.actuator.IsIdle)

	assert.Equal(t, uint32(800), r.stepPins[0].Rises())
	assert.Zero(t, r.stepPins[1].Rises())
	assert.Zero(t, r.pipe.Count())
}

func TestPulseWidthOneTick(t *testing.T) {
	r := newRig(t)
	r.move(t, moveArgs(1, 0, 20))

	highTicks := 0
	for tick := 0; tick < 200_000 && !r.actuator.IsIdle(); tick++ {
		r.actuator.Tick()
		if r.stepPins[0].Get() {
			highTicks++
			require.LessOrEqual(t, highTicks, 1, "step pin held high past one tick interval")
		} else {
			highTicks = 0
		}
	}
	assert.Equal(t, uint32(80), r.stepPins[0].Rises())
}

func TestDirectionStableWhileStepping(t *testing.T) {
	r := newRig(t)
	r.move(t, moveArgs(2, 0, 20))

	var dirnAtFirstStep bool
	seenStep := false
	for tick := 0; tick < 500_000 && !r.actuator.IsIdle(); tick++ {
		r.actuator.Tick()
		if r.stepPins[0].Get() {
			if !seenStep {
				dirnAtFirstStep = r.dirnPins[0].Get()
				seenStep = true
			}
			assert.Equal(t, dirnAtFirstStep, r.dirnPins[0].Get(),
				"direction changed while step pin asserted")
		}
	}
	require.True(t, seenStep)
	assert.True(t, dirnAtFirstStep, "positive move drives direction high")
}

func TestDirectionReversedFlag(t *testing.T) {
	r := newRig(t)
	r.params.Axes[0].DirnReversed = true
	r.move(t, moveArgs(1, 0, 20))

	// Bootstrap tick drives the direction pins.
	r.actuator.Tick()
	r.actuator.Tick()
	assert.False(t, r.dirnPins[0].Get(), "reversed axis drives direction low for positive steps")
}

func TestRateRampMonotonicity(t *testing.T) {
	r := newRig(t)
	r.move(t, moveArgs(10, 0, 20))

	// Bootstrap.
	r.runUntil(t, 10, func() bool { return r.actuator.CurStepCount(0) > 0 || r.actuator.CurStepRatePerTTicks() > 0 })

	b := r.pipe.PeekHead()
	require.NotNil(t, b)
	stepsBeforeDecel := b.StepsBeforeDecel

	lastRate := r.actuator.CurStepRatePerTTicks()
	for tick := 0; tick < 2_000_000 && !r.actuator.IsIdle(); tick++ {
		r.actuator.Tick()
		rate := r.actuator.CurStepRatePerTTicks()
		count := r.actuator.CurStepCount(0)

		require.GreaterOrEqual(t, rate, uint32(block.MinStepRatePerTTicks))
		require.LessOrEqual(t, rate, uint32(block.TTicksValue))

		if count > 0 && count <= stepsBeforeDecel {
			require.GreaterOrEqual(t, rate, lastRate, "rate dipped during acceleration at step %d", count)
		} else if count > stepsBeforeDecel && r.pipe.Count() > 0 {
			require.LessOrEqual(t, rate, lastRate, "rate rose during deceleration at step %d", count)
		}
		lastRate = rate
	}
}

func TestPauseMidBlock(t *testing.T) {
	r := newRig(t)
	r.move(t, moveArgs(10, 0, 20))

	r.runUntil(t, 2_000_000, func() bool { return r.stepPins[0].Rises() >= 400 })

	r.actuator.Pause(true)
	// One tick may still perform the pending step-end, but no new pulses.
	r.actuator.Tick()
	paused := r.stepPins[0].Rises()
	for tick := 0; tick < 10_000; tick++ {
		r.actuator.Tick()
	}
	assert.Equal(t, paused, r.stepPins[0].Rises(), "pulses emitted while paused")
	assert.False(t, r.stepPins[0].Get(), "step line left asserted while paused")

	r.actuator.Pause(false)
	r.runUntil(t, 2_000_000, r.actuator.IsIdle)
	assert.Equal(t, uint32(800), r.stepPins[0].Rises())
	assert.InDelta(t, 10, r.planner.Position().MM[0], 1e-4)
}

func TestEndStopTowardsAbort(t *testing.T) {
	r := newRig(t)

	args := moveArgs(-5, 0, 10)
	args.SetTestEndStop(0, axes.MinValIdx, axes.EndStopTowards)
	args.NumberedCommandIndex = 42
	r.move(t, args)

	r.runUntil(t, 2_000_000, func() bool { return r.stepPins[0].Rises() >= 100 })
	require.False(t, r.actuator.EndStopReached())

	r.minPins[0].High()
	// Allow the pending step-end plus the end-stop sample.
	r.actuator.Tick()
	r.actuator.Tick()

	assert.True(t, r.actuator.EndStopReached())
	assert.Zero(t, r.pipe.Count(), "block removed on end-stop")
	assert.Equal(t, 42, r.actuator.LastCompletedNumberedCommand())

	pulses := r.stepPins[0].Rises()
	for tick := 0; tick < 10_000; tick++ {
		r.actuator.Tick()
	}
	assert.Equal(t, pulses, r.stepPins[0].Rises(), "no pulses after abort")

	r.actuator.AckEndStopReached()
	assert.False(t, r.actuator.EndStopReached())
}

func TestEndStopAwayNotArmed(t *testing.T) {
	r := newRig(t)

	// Min end-stop asserted, but the move heads towards max: TOWARDS must
	// not arm the check.
	r.minPins[0].High()
	args := moveArgs(1, 0, 10)
	args.SetTestEndStop(0, axes.MinValIdx, axes.EndStopTowards)
	r.move(t, args)

	r.runUntil(t, 500_000, r.actuator.IsIdle)
	assert.False(t, r.actuator.EndStopReached())
	assert.Equal(t, uint32(80), r.stepPins[0].Rises())
}

func TestDiagonalBresenham(t *testing.T) {
	r := newRig(t)
	r.move(t, moveArgs(10, 5, 20))

	r.runUntil(t, 4_000_000, r.actuator.IsIdle)
	assert.Equal(t, uint32(800), r.stepPins[0].Rises())
	assert.Equal(t, uint32(400), r.stepPins[1].Rises())
}

func TestChainedBlocksCarrySpeed(t *testing.T) {
	r := newRig(t, WithTrace(4096))

	args := moveArgs(10, 0, 30)
	args.MoreMovesComing = true
	r.move(t, args)
	r.move(t, moveArgs(10, 10, 30))

	first := r.pipe.PeekHead()
	require.NotNil(t, first)
	assert.Greater(t, first.ExitSpeedMMps, float32(0), "speed carried across the junction")
	assert.Greater(t, first.FinalStepRatePerTTicks, uint32(block.MinStepRatePerTTicks))

	r.runUntil(t, 4_000_000, r.actuator.IsIdle)
	assert.Equal(t, uint32(800), r.stepPins[0].Rises())
	assert.Equal(t, uint32(800), r.stepPins[1].Rises())

	trace := r.actuator.Trace()
	require.NotNil(t, trace)
	assert.Greater(t, trace.Total(), 1600, "block starts, dirn and step events recorded")
}

func TestCompletedBlockStepCounts(t *testing.T) {
	r := newRig(t)
	r.move(t, moveArgs(3, 1, 25))

	b := r.pipe.PeekHead()
	require.NotNil(t, b)
	wantX := b.AbsStepsToTarget(0)
	wantY := b.AbsStepsToTarget(1)

	r.runUntil(t, 2_000_000, r.actuator.IsIdle)
	assert.Equal(t, wantX, r.stepPins[0].Rises())
	assert.Equal(t, wantY, r.stepPins[1].Rises())
}

func TestIdleTicksAreHarmless(t *testing.T) {
	r := newRig(t)
	for tick := 0; tick < 1000; tick++ {
		r.actuator.Tick()
	}
	assert.True(t, r.actuator.IsIdle())
	assert.Zero(t, r.stepPins[0].Rises())
}
