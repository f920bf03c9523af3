// Package block defines the motion block, the record exchanged between the
// motion planner and the step actuator: one planned straight-line move with
// its per-axis step counts and a fixed-point acceleration profile.
package block

import (
	"sync/atomic"

	"github.com/chewxy/math32"

	"github.com/cgreening/RBotFirmware/pkg/axes"
)

const (
	// TickIntervalNs is the actuator tick period. 20000ns caps stepping at
	// 25k steps/s per axis since a step needs two ticks (pulse + step-end).
	TickIntervalNs = 20000

	// TicksPerSec is the actuator tick rate derived from TickIntervalNs.
	TicksPerSec = 1e9 / TickIntervalNs

	// TTicksValue is the fixed-point denominator for step rates: a rate of
	// TTicksValue accumulates one step every tick.
	TTicksValue = 1000000000

	// NsInAMs is used by the actuator's millisecond accumulator.
	NsInAMs = 1000000

	// MinimumMoveDistMM is the smallest planar distance planned as a move.
	MinimumMoveDistMM = 0.0001

	// MinStepRatePerSec is the slowest stepping allowed, about one step
	// every 50ms.
	MinStepRatePerSec = 20

	// MinStepRatePerTTicks is MinStepRatePerSec in fixed-point rate units.
	MinStepRatePerTTicks = MinStepRatePerSec * (TTicksValue / TicksPerSec)
)

// RatePerSecToTTicks converts a step rate in steps/s to the fixed-point
// per-tick accumulator increment.
func RatePerSecToTTicks(stepsPerSec float32) uint32 {
	return uint32(stepsPerSec * (TTicksValue / TicksPerSec))
}

// Block is one planned move. The planner fills every field and then
// publishes the block with SetCanExecute. Until the actuator sets
// IsExecuting, a later planning pass may still rewrite the entry/exit
// speeds and the stepping profile of a published block; once it executes,
// only the two atomic flags are written again.
type Block struct {
	// Target speed for the move, possibly below the commanded feedrate.
	FeedrateMMps float32
	// Euclidean distance over the primary axes.
	MoveDistPrimaryAxesMM float32
	// Junction-deviation cap on the entry speed.
	MaxEntrySpeedMMps float32
	// Planned speeds at the block boundaries.
	EntrySpeedMMps float32
	ExitSpeedMMps  float32

	// End-stops to test while the block executes.
	EndStopsToCheck axes.MinMaxBools

	// Correlator for tracking command completion from other contexts, for
	// example homing. axes.NumberedCommandNone when untracked.
	NumberedCommandIndex int

	// Signed step deltas per axis and the Bresenham master axis.
	StepsTotalSigned    [axes.MaxAxes]int32
	AxisIdxWithMaxSteps int

	// Along the master axis, the step count after which deceleration begins.
	StepsBeforeDecel uint32

	// Fixed-point stepping profile.
	InitialStepRatePerTTicks uint32
	MaxStepRatePerTTicks     uint32
	FinalStepRatePerTTicks   uint32
	AccStepsPerTTicksPerMS   uint32

	// BlockIsFollowed is set on a pending tail block when a successor is
	// appended behind it. Planner context only.
	BlockIsFollowed bool

	// isExecuting is flipped false->true by the actuator on first touch;
	// canExecute is release-stored by the planner once the profile is final.
	isExecuting uint32
	canExecute  uint32
}

func (b *Block) Clear() {
	*b = Block{NumberedCommandIndex: axes.NumberedCommandNone}
}

func (b *Block) IsExecuting() bool {
	return atomic.LoadUint32(&b.isExecuting) != 0
}

func (b *Block) SetIsExecuting(executing bool) {
	if executing {
		atomic.StoreUint32(&b.isExecuting, 1)
	} else {
		atomic.StoreUint32(&b.isExecuting, 0)
	}
}

func (b *Block) CanExecute() bool {
	return atomic.LoadUint32(&b.canExecute) != 0
}

// SetCanExecute publishes the block to the actuator. Field writes made
// before this store happen-before any actuator read that observes it true.
func (b *Block) SetCanExecute(canExecute bool) {
	if canExecute {
		atomic.StoreUint32(&b.canExecute, 1)
	} else {
		atomic.StoreUint32(&b.canExecute, 0)
	}
}

func (b *Block) StepsToTarget(axisIdx int) int32 {
	if axisIdx < 0 || axisIdx >= axes.MaxAxes {
		return 0
	}
	return b.StepsTotalSigned[axisIdx]
}

func (b *Block) AbsStepsToTarget(axisIdx int) uint32 {
	steps := b.StepsToTarget(axisIdx)
	if steps < 0 {
		return uint32(-steps)
	}
	return uint32(steps)
}

// SetStepsToTarget records the signed step delta for an axis and keeps the
// master-axis selection up to date.
func (b *Block) SetStepsToTarget(axisIdx int, steps int32) {
	if axisIdx < 0 || axisIdx >= axes.MaxAxes {
		return
	}
	b.StepsTotalSigned[axisIdx] = steps
	if b.AbsStepsToTarget(axisIdx) > b.AbsStepsToTarget(b.AxisIdxWithMaxSteps) {
		b.AxisIdxWithMaxSteps = axisIdx
	}
}

// MaxAchievableSpeed is the fastest speed reachable over distance when
// starting at targetVelocity and accelerating the whole way.
func MaxAchievableSpeed(acceleration, targetVelocity, distance float32) float32 {
	return math32.Sqrt(targetVelocity*targetVelocity + 2*acceleration*distance)
}

func forceInBounds(val, lowBound, highBound float32) float32 {
	if val < lowBound {
		return lowBound
	}
	if val > highBound {
		return highBound
	}
	return val
}

// PrepareForStepping converts the planned entry/exit speeds into the
// fixed-point stepping profile: a trapezoid when the feedrate can be
// reached, degenerating to a triangle when the move is too short. Returns
// false if the block already started executing and must not be touched.
func (b *Block) PrepareForStepping(params *axes.Params) bool {
	if b.IsExecuting() {
		return false
	}

	masterSteps := b.AbsStepsToTarget(b.AxisIdxWithMaxSteps)
	if masterSteps == 0 {
		b.InitialStepRatePerTTicks = MinStepRatePerTTicks
		b.MaxStepRatePerTTicks = MinStepRatePerTTicks
		b.FinalStepRatePerTTicks = MinStepRatePerTTicks
		b.AccStepsPerTTicksPerMS = 0
		b.StepsBeforeDecel = 0
		return true
	}

	// Distance of one master-axis step. Falls back to the step length of
	// the master axis when no primary axis moved.
	stepDistMM := b.MoveDistPrimaryAxesMM / float32(masterSteps)
	if stepDistMM <= 0 {
		stepDistMM = 1 / params.StepsPerUnit(b.AxisIdxWithMaxSteps)
	}

	initialStepRatePerSec := b.EntrySpeedMMps / stepDistMM
	finalStepRatePerSec := b.ExitSpeedMMps / stepDistMM
	maxStepRatePerSec := b.FeedrateMMps / stepDistMM
	accStepsPerSec2 := params.MaxAcc(b.AxisIdxWithMaxSteps) / stepDistMM
	if accStepsPerSec2 <= 0 {
		accStepsPerSec2 = 1
	}

	// Steps spent accelerating to, and decelerating from, the peak rate.
	stepsAccelerating := (maxStepRatePerSec*maxStepRatePerSec - initialStepRatePerSec*initialStepRatePerSec) / (2 * accStepsPerSec2)
	if stepsAccelerating < 0 {
		stepsAccelerating = 0
	}
	stepsDecelerating := (maxStepRatePerSec*maxStepRatePerSec - finalStepRatePerSec*finalStepRatePerSec) / (2 * accStepsPerSec2)
	if stepsDecelerating < 0 {
		stepsDecelerating = 0
	}

	if stepsAccelerating+stepsDecelerating > float32(masterSteps) {
		// Triangle profile: solve for the peak the distance allows.
		peakSq := accStepsPerSec2*float32(masterSteps) +
			(initialStepRatePerSec*initialStepRatePerSec+finalStepRatePerSec*finalStepRatePerSec)/2
		peak := math32.Sqrt(peakSq)
		if peak < initialStepRatePerSec {
			peak = initialStepRatePerSec
		}
		if peak < finalStepRatePerSec {
			peak = finalStepRatePerSec
		}
		maxStepRatePerSec = peak
		stepsDecelerating = (peak*peak - finalStepRatePerSec*finalStepRatePerSec) / (2 * accStepsPerSec2)
	}

	stepsBeforeDecel := float32(masterSteps) - stepsDecelerating
	if stepsBeforeDecel < 0 {
		stepsBeforeDecel = 0
	}
	b.StepsBeforeDecel = uint32(stepsBeforeDecel)

	const tticksPerStepPerSec = TTicksValue / TicksPerSec
	b.InitialStepRatePerTTicks = uint32(forceInBounds(initialStepRatePerSec*tticksPerStepPerSec,
		MinStepRatePerTTicks, TTicksValue))
	b.MaxStepRatePerTTicks = uint32(forceInBounds(maxStepRatePerSec*tticksPerStepPerSec,
		MinStepRatePerTTicks, TTicksValue))
	b.FinalStepRatePerTTicks = uint32(forceInBounds(finalStepRatePerSec*tticksPerStepPerSec,
		MinStepRatePerTTicks, TTicksValue))

	accPerTTicksPerMS := accStepsPerSec2 * (TTicksValue / TicksPerSec) / 1000
	if accPerTTicksPerMS < 1 {
		accPerTTicksPerMS = 1
	}
	b.AccStepsPerTTicksPerMS = uint32(accPerTTicksPerMS)
	return true
}
