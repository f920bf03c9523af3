// Package actuator is the consumer side of the motion pipeline: a
// tick-driven state machine that turns planned blocks into step and
// direction pulses. The tick must stay within a few microseconds: it never
// allocates, never blocks and never logs. Bresenham accumulators spread the
// non-master axes over the master axis steps; a fixed-point millisecond
// accumulator ramps the step rate for acceleration and deceleration.
package actuator

import (
	"sync/atomic"

	"github.com/cgreening/RBotFirmware/pkg/axes"
	"github.com/cgreening/RBotFirmware/pkg/motion/block"
	"github.com/cgreening/RBotFirmware/pkg/motion/pipeline"
	"github.com/cgreening/RBotFirmware/pkg/options"
)

// Config tunes the actuator.
type Config struct {
	// TraceLen enables the instrumentation trace when positive.
	TraceLen int
}

// WithTrace enables the ring-buffered event trace.
func WithTrace(capacity int) options.Option {
	return func(cfg interface{}) {
		cfg.(*Config).TraceLen = capacity
	}
}

// Actuator executes blocks from the head of the pipeline. All state below
// the atomic flags is owned exclusively by the tick context.
type Actuator struct {
	pipe   *pipeline.Pipeline
	params *axes.Params
	pins   [axes.MaxAxes]AxisPins

	// Execution counters for the current block.
	stepsTotalAbs          [axes.MaxAxes]uint32
	curStepCount           [axes.MaxAxes]uint32
	curAccumulatorRelative [axes.MaxAxes]uint32
	stepPinLevel           [axes.MaxAxes]bool

	curStepRatePerTTicks uint32
	curAccumulatorStep   uint32
	curAccumulatorNS     uint32

	endStopChecks   [axes.MaxAxes * axes.EndStopsPerAxis]endStopCheck
	endStopCheckNum int

	tickCount uint32
	trace     *Trace

	isPaused               atomic.Bool
	endStopReached         atomic.Bool
	pulsePending           atomic.Bool
	lastDoneNumberedCmdIdx atomic.Int32
}

func New(pipe *pipeline.Pipeline, params *axes.Params, pins [axes.MaxAxes]AxisPins, opts ...options.Option) *Actuator {
	cfg := Config{}
	options.ApplyOptions(&cfg, opts...)

	a := &Actuator{
		pipe:   pipe,
		params: params,
		pins:   pins,
	}
	a.lastDoneNumberedCmdIdx.Store(axes.NumberedCommandNone)
	if cfg.TraceLen > 0 {
		a.trace = NewTrace(cfg.TraceLen)
	}
	return a
}

// Pause freezes stepping at the next tick. A pending step-end still runs so
// no step line is left asserted.
func (a *Actuator) Pause(pause bool) {
	a.isPaused.Store(pause)
}

func (a *Actuator) IsPaused() bool {
	return a.isPaused.Load()
}

// EndStopReached reports the sticky end-stop interlock flag.
func (a *Actuator) EndStopReached() bool {
	return a.endStopReached.Load()
}

// AckEndStopReached clears the interlock after the caller has re-homed or
// otherwise recovered.
func (a *Actuator) AckEndStopReached() {
	a.endStopReached.Store(false)
}

// LastCompletedNumberedCommand returns the numbered index of the most
// recently finished tracked block.
func (a *Actuator) LastCompletedNumberedCommand() int {
	return int(a.lastDoneNumberedCmdIdx.Load())
}

// IsIdle reports whether nothing is buffered and no step pulse is pending.
func (a *Actuator) IsIdle() bool {
	return a.pipe.Count() == 0 && !a.pulsePending.Load()
}

// Trace returns the instrumentation buffer, or nil when disabled.
func (a *Actuator) Trace() *Trace {
	return a.trace
}

// CurStepCount returns the executed step count on an axis for the block in
// flight. Diagnostic; only stable between ticks.
func (a *Actuator) CurStepCount(axisIdx int) uint32 {
	if axisIdx < 0 || axisIdx >= axes.MaxAxes {
		return 0
	}
	return a.curStepCount[axisIdx]
}

// CurStepRatePerTTicks returns the instantaneous fixed-point step rate.
// Diagnostic; only stable between ticks.
func (a *Actuator) CurStepRatePerTTicks() uint32 {
	return a.curStepRatePerTTicks
}

// Tick advances the state machine by one tick interval. It must be called
// from exactly one context and only after the previous call returned.
func (a *Actuator) Tick() {
	a.tickCount++

	// Finish any pulse begun last tick before anything else, so every step
	// line is high for at least one full tick.
	if a.handleStepEnd() {
		return
	}

	if a.isPaused.Load() {
		return
	}

	blk := a.pipe.PeekHead()
	if blk == nil || !blk.CanExecute() {
		return
	}

	if !blk.IsExecuting() {
		blk.SetIsExecuting(true)
		a.setupNewBlock(blk)
		// Return here to bound the worst-case tick.
		return
	}

	for i := 0; i < a.endStopCheckNum; i++ {
		check := &a.endStopChecks[i]
		if check.pin.Get() == check.level {
			a.endStopReached.Store(true)
			if a.trace != nil {
				a.trace.record(a.tickCount, TraceEndStop, -1, a.curStepRatePerTTicks)
			}
			a.endMotion(blk)
			return
		}
	}

	a.updateMSAccumulator(blk)

	a.curAccumulatorStep += a.curStepRatePerTTicks
	if a.curAccumulatorStep >= block.TTicksValue {
		if !a.handleStepMotion(blk) {
			a.endMotion(blk)
		}
	}
}

// handleStepEnd de-asserts every step pin raised on the previous tick.
func (a *Actuator) handleStepEnd() bool {
	anyPinReset := false
	for axisIdx := 0; axisIdx < axes.MaxAxes; axisIdx++ {
		if !a.stepPinLevel[axisIdx] {
			continue
		}
		if pin := a.pins[axisIdx].Step; pin != nil {
			pin.Low()
		}
		a.stepPinLevel[axisIdx] = false
		anyPinReset = true
	}
	if anyPinReset {
		a.pulsePending.Store(false)
	}
	return anyPinReset
}

// setupNewBlock caches the block's execution state, drives the direction
// pins and arms the end-stop samples.
func (a *Actuator) setupNewBlock(blk *block.Block) {
	a.endStopCheckNum = 0
	for axisIdx := 0; axisIdx < axes.MaxAxes; axisIdx++ {
		stepsTotal := blk.StepsToTarget(axisIdx)
		a.stepsTotalAbs[axisIdx] = blk.AbsStepsToTarget(axisIdx)
		a.curStepCount[axisIdx] = 0
		a.curAccumulatorRelative[axisIdx] = 0

		if pin := a.pins[axisIdx].Dirn; pin != nil {
			reversed := axisIdx < a.params.NumAxes && a.params.Axes[axisIdx].DirnReversed
			pin.Set((stepsTotal >= 0) != reversed)
			if a.trace != nil {
				a.trace.record(a.tickCount, TraceStepDirn, int8(axisIdx), 0)
			}
		}

		if !blk.EndStopsToCheck.Any() {
			continue
		}
		for endStopIdx := 0; endStopIdx < axes.EndStopsPerAxis; endStopIdx++ {
			cond := blk.EndStopsToCheck.Get(axisIdx, endStopIdx)
			if cond == axes.EndStopNone {
				continue
			}
			// TOWARDS only arms the stop on the side the axis moves to.
			if cond == axes.EndStopTowards {
				towardsMax := endStopIdx == axes.MaxValIdx && stepsTotal > 0
				towardsMin := endStopIdx == axes.MinValIdx && stepsTotal < 0
				if !towardsMax && !towardsMin {
					continue
				}
			}

			var pin = a.pins[axisIdx].EndStopMin
			var activeLevel = a.pins[axisIdx].EndStopMinActiveLevel
			if endStopIdx == axes.MaxValIdx {
				pin = a.pins[axisIdx].EndStopMax
				activeLevel = a.pins[axisIdx].EndStopMaxActiveLevel
			}
			if pin == nil {
				continue
			}

			level := activeLevel
			if cond == axes.EndStopNotHit {
				level = !activeLevel
			}
			a.endStopChecks[a.endStopCheckNum] = endStopCheck{pin: pin, level: level}
			a.endStopCheckNum++
		}
	}

	a.curAccumulatorStep = 0
	a.curAccumulatorNS = 0
	a.curStepRatePerTTicks = blk.InitialStepRatePerTTicks

	if a.trace != nil {
		a.trace.record(a.tickCount, TraceBlockStart, int8(blk.AxisIdxWithMaxSteps), a.curStepRatePerTTicks)
	}
}

// updateMSAccumulator ramps the step rate once per elapsed millisecond:
// down once past the deceleration point, up towards the peak otherwise.
func (a *Actuator) updateMSAccumulator(blk *block.Block) {
	a.curAccumulatorNS += block.TickIntervalNs
	if a.curAccumulatorNS < block.NsInAMs {
		return
	}
	// Leave the remainder so rounding does not drift.
	a.curAccumulatorNS -= block.NsInAMs

	if a.curStepCount[blk.AxisIdxWithMaxSteps] > blk.StepsBeforeDecel {
		floor := uint32(block.MinStepRatePerTTicks) + blk.AccStepsPerTTicksPerMS
		if f := blk.FinalStepRatePerTTicks + blk.AccStepsPerTTicksPerMS; f > floor {
			floor = f
		}
		if a.curStepRatePerTTicks > floor {
			a.curStepRatePerTTicks -= blk.AccStepsPerTTicksPerMS
		}
	} else if a.curStepRatePerTTicks < blk.MaxStepRatePerTTicks {
		if a.curStepRatePerTTicks+blk.AccStepsPerTTicksPerMS < block.TTicksValue {
			a.curStepRatePerTTicks += blk.AccStepsPerTTicksPerMS
		}
	}
}

// handleStepMotion asserts step pulses for this tick: the master axis when
// it still has steps to go, the others when their Bresenham accumulator
// rolls over. Returns whether any axis still has steps remaining.
func (a *Actuator) handleStepMotion(blk *block.Block) bool {
	anyAxisMoving := false
	masterAxisIdx := blk.AxisIdxWithMaxSteps

	a.curAccumulatorStep -= block.TTicksValue

	if a.curStepCount[masterAxisIdx] < a.stepsTotalAbs[masterAxisIdx] {
		a.stepAxis(masterAxisIdx)
		if a.curStepCount[masterAxisIdx] < a.stepsTotalAbs[masterAxisIdx] {
			anyAxisMoving = true
		}
	}

	for axisIdx := 0; axisIdx < axes.MaxAxes; axisIdx++ {
		if axisIdx == masterAxisIdx || a.curStepCount[axisIdx] == a.stepsTotalAbs[axisIdx] {
			continue
		}
		a.curAccumulatorRelative[axisIdx] += a.stepsTotalAbs[axisIdx]
		if a.curAccumulatorRelative[axisIdx] >= a.stepsTotalAbs[masterAxisIdx] {
			a.curAccumulatorRelative[axisIdx] -= a.stepsTotalAbs[masterAxisIdx]
			a.stepAxis(axisIdx)
			if a.curStepCount[axisIdx] < a.stepsTotalAbs[axisIdx] {
				anyAxisMoving = true
			}
		}
	}

	return anyAxisMoving
}

func (a *Actuator) stepAxis(axisIdx int) {
	if pin := a.pins[axisIdx].Step; pin != nil {
		pin.High()
	}
	a.stepPinLevel[axisIdx] = true
	a.pulsePending.Store(true)
	a.curStepCount[axisIdx]++
	if a.trace != nil {
		a.trace.record(a.tickCount, TraceStepStart, int8(axisIdx), a.curStepRatePerTTicks)
	}
}

// endMotion records completion of a tracked block and removes it.
func (a *Actuator) endMotion(blk *block.Block) {
	if blk.NumberedCommandIndex != axes.NumberedCommandNone {
		a.lastDoneNumberedCmdIdx.Store(int32(blk.NumberedCommandIndex))
	}
	a.pipe.RemoveHead()
}
