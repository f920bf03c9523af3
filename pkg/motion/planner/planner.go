// Package planner turns motion commands into planned blocks: it resolves
// targets through the robot kinematics, splits long moves, derives junction
// cornering speeds and re-flows entry/exit speeds across the buffered tail
// of the pipeline before publishing blocks to the step actuator.
package planner

import (
	"errors"

	"github.com/chewxy/math32"

	"github.com/cgreening/RBotFirmware/pkg/axes"
	"github.com/cgreening/RBotFirmware/pkg/kinematics"
	. "github.com/cgreening/RBotFirmware/pkg/logger"
	"github.com/cgreening/RBotFirmware/pkg/motion/block"
	"github.com/cgreening/RBotFirmware/pkg/motion/pipeline"
	"github.com/cgreening/RBotFirmware/pkg/options"
	"github.com/cgreening/RBotFirmware/pkg/robot"
)

var (
	// ErrBusy means the pipeline has no room; retry after a block drains.
	ErrBusy = errors.New("motion pipeline full")
	// ErrOutOfBounds means the target violates soft limits and the command
	// did not allow that.
	ErrOutOfBounds = errors.New("target out of bounds")
	// ErrMoveTooSmall means no block was emitted because the move is below
	// the minimum distance. Feedrate-only updates still took effect.
	ErrMoveTooSmall = errors.New("move below minimum distance")
	// ErrInvalidArgs means the command flags contradict each other.
	ErrInvalidArgs = errors.New("invalid command arguments")
)

// Config tunes the planner.
type Config struct {
	// BlockDistMM is the curve-linearisation granularity: moves longer than
	// this are split into sub-blocks. Zero disables splitting.
	BlockDistMM float32
	// JunctionDeviationMM converts corner angles into cornering speeds.
	JunctionDeviationMM float32
}

func DefaultConfig() Config {
	return Config{
		BlockDistMM:         0,
		JunctionDeviationMM: 0.05,
	}
}

func WithBlockDist(distMM float32) options.Option {
	return func(cfg interface{}) {
		cfg.(*Config).BlockDistMM = distMM
	}
}

func WithJunctionDeviation(deviationMM float32) options.Option {
	return func(cfg interface{}) {
		cfg.(*Config).JunctionDeviationMM = deviationMM
	}
}

// Planner owns the current commanded position and the producer side of the
// pipeline. It never blocks: a full pipeline surfaces as ErrBusy.
type Planner struct {
	cfg    Config
	params *axes.Params
	kin    kinematics.Kinematics
	pipe   *pipeline.Pipeline

	pos axes.Position

	// Last commanded feedrate; feedrate-only commands update this even when
	// no block is emitted.
	curFeedrate float32

	// Direction and speed of the newest planned block, for junction
	// deviation against the next one.
	prevUnitVec  [axes.MaxAxes]float32
	prevFeedrate float32
	prevValid    bool
}

func New(params *axes.Params, kin kinematics.Kinematics, pipe *pipeline.Pipeline, opts ...options.Option) *Planner {
	cfg := DefaultConfig()
	options.ApplyOptions(&cfg, opts...)
	return &Planner{
		cfg:    cfg,
		params: params,
		kin:    kin,
		pipe:   pipe,
	}
}

// Position returns the commanded position. Planner context only.
func (p *Planner) Position() *axes.Position {
	return &p.pos
}

// SetPosition overrides the commanded position (homing). Must only be
// called while the pipeline is empty.
func (p *Planner) SetPosition(actuatorMM axes.Floats) {
	for axisIdx := 0; axisIdx < p.params.NumAxes; axisIdx++ {
		mm := actuatorMM.ValNoCheck(axisIdx)
		p.pos.MM[axisIdx] = mm
		p.pos.Steps[axisIdx] = roundSteps(mm * p.params.StepsPerUnit(axisIdx))
	}
	p.prevValid = false
}

func roundSteps(v float32) int32 {
	return int32(math32.Round(v))
}

// MoveTo plans one command into zero or more blocks. On success the
// commanded position has advanced to the target and every publishable block
// is marked executable.
func (p *Planner) MoveTo(args *robot.CommandArgs) error {
	if args.MoveType == robot.MoveTypeNone && args.PtMM.AnyValid() {
		return ErrInvalidArgs
	}
	feedrate := p.resolveFeedrate(args)

	if args.UnitsAreSteps {
		return p.moveToSteps(args, feedrate)
	}

	curPt := p.kin.ActuatorToPt(p.positionFloats(), &p.pos, p.params)
	targetPt := p.resolveTarget(args, curPt)

	actuatorTarget, inBounds := p.kin.PtToActuator(targetPt, &p.pos, p.params, args.AllowOutOfBounds)
	if !inBounds && !args.AllowOutOfBounds {
		Log.Debug().Str("shape", string(p.kin.Shape)).Msg("move rejected out of bounds")
		return ErrOutOfBounds
	}

	moveDist := p.primaryDistance(curPt, targetPt)
	if moveDist < block.MinimumMoveDistMM && !p.anyStepDelta(actuatorTarget) {
		return ErrMoveTooSmall
	}

	numBlocks := 1
	if !args.DontSplitMove && p.cfg.BlockDistMM > 0 && moveDist > p.cfg.BlockDistMM {
		numBlocks = int(math32.Ceil(moveDist / p.cfg.BlockDistMM))
	}
	if p.pipe.SlotsFree() < numBlocks {
		return ErrBusy
	}

	prevPt := curPt
	for i := 1; i <= numBlocks; i++ {
		var subPt axes.Floats
		if i == numBlocks {
			subPt = targetPt
		} else {
			frac := float32(i) / float32(numBlocks)
			for axisIdx := 0; axisIdx < p.params.NumAxes; axisIdx++ {
				from := curPt.ValNoCheck(axisIdx)
				to := targetPt.ValNoCheck(axisIdx)
				subPt.SetVal(axisIdx, from+(to-from)*frac)
			}
		}
		p.addBlock(args, prevPt, subPt, feedrate)
		prevPt = subPt
	}

	p.recalculate(args.MoreMovesComing)
	return nil
}

// Flush makes a pending tail block executable with a stop at its end. Call
// when no further moves are coming for a while.
func (p *Planner) Flush() {
	tail := p.pipe.PeekNthFromTail(0)
	if tail != nil && !tail.CanExecute() {
		p.recalculate(false)
	}
}

func (p *Planner) resolveFeedrate(args *robot.CommandArgs) float32 {
	if args.FeedrateValid {
		p.curFeedrate = args.FeedrateValue
	}
	feedrate := p.curFeedrate
	if feedrate <= 0 {
		// Default to the slowest primary axis limit.
		for axisIdx := 0; axisIdx < p.params.NumAxes; axisIdx++ {
			if !p.params.IsPrimary(axisIdx) {
				continue
			}
			maxSpeed := p.params.MaxSpeed(axisIdx)
			if feedrate == 0 || maxSpeed < feedrate {
				feedrate = maxSpeed
			}
		}
		if feedrate <= 0 {
			feedrate = axes.DefaultMaxSpeedMMps
		}
	}
	return feedrate
}

func (p *Planner) positionFloats() axes.Floats {
	var f axes.Floats
	for axisIdx := 0; axisIdx < p.params.NumAxes; axisIdx++ {
		f.SetVal(axisIdx, p.pos.MM[axisIdx])
	}
	return f
}

func (p *Planner) resolveTarget(args *robot.CommandArgs, curPt axes.Floats) axes.Floats {
	var target axes.Floats
	for axisIdx := 0; axisIdx < p.params.NumAxes; axisIdx++ {
		cur := curPt.ValNoCheck(axisIdx)
		if !args.PtMM.Valid(axisIdx) {
			target.SetVal(axisIdx, cur)
			continue
		}
		val := args.PtMM.ValNoCheck(axisIdx)
		if args.MoveType == robot.MoveTypeRelative {
			val += cur
		}
		target.SetVal(axisIdx, val)
	}
	return target
}

func (p *Planner) primaryDistance(fromPt, toPt axes.Floats) float32 {
	var distSq float32
	for axisIdx := 0; axisIdx < p.params.NumAxes; axisIdx++ {
		if !p.params.IsPrimary(axisIdx) {
			continue
		}
		d := toPt.ValNoCheck(axisIdx) - fromPt.ValNoCheck(axisIdx)
		distSq += d * d
	}
	return math32.Sqrt(distSq)
}

func (p *Planner) anyStepDelta(actuatorTarget axes.Floats) bool {
	for axisIdx := 0; axisIdx < p.params.NumAxes; axisIdx++ {
		spu := p.params.StepsPerUnit(axisIdx)
		target := roundSteps(actuatorTarget.ValNoCheck(axisIdx) * spu)
		cur := roundSteps(p.pos.MM[axisIdx] * spu)
		if target != cur {
			return true
		}
	}
	return false
}

// addBlock fills one block for the segment prevPt->subPt and appends it.
// The commanded position advances by exactly the emitted steps.
func (p *Planner) addBlock(args *robot.CommandArgs, prevPt, subPt axes.Floats, feedrate float32) {
	actuator, _ := p.kin.PtToActuator(subPt, &p.pos, p.params, true)

	var blk block.Block
	blk.Clear()

	for axisIdx := 0; axisIdx < p.params.NumAxes; axisIdx++ {
		spu := p.params.StepsPerUnit(axisIdx)
		target := roundSteps(actuator.ValNoCheck(axisIdx) * spu)
		cur := roundSteps(p.pos.MM[axisIdx] * spu)
		blk.SetStepsToTarget(axisIdx, target-cur)
	}

	moveDist := p.primaryDistance(prevPt, subPt)
	var unitVec [axes.MaxAxes]float32
	if moveDist > 0 {
		for axisIdx := 0; axisIdx < p.params.NumAxes; axisIdx++ {
			if p.params.IsPrimary(axisIdx) {
				unitVec[axisIdx] = (subPt.ValNoCheck(axisIdx) - prevPt.ValNoCheck(axisIdx)) / moveDist
			}
		}
	}

	blk.FeedrateMMps = p.capFeedrate(feedrate, moveDist, unitVec, &blk)
	blk.MoveDistPrimaryAxesMM = moveDist
	blk.MaxEntrySpeedMMps = p.junctionSpeed(unitVec, blk.FeedrateMMps, blk.AxisIdxWithMaxSteps)
	blk.EndStopsToCheck = args.EndStops
	blk.NumberedCommandIndex = args.NumberedCommandIndex

	if tail := p.pipe.PeekNthFromTail(0); tail != nil && !tail.IsExecuting() {
		tail.BlockIsFollowed = true
	}
	p.pipe.Append(&blk)

	for axisIdx := 0; axisIdx < p.params.NumAxes; axisIdx++ {
		p.pos.Steps[axisIdx] += blk.StepsToTarget(axisIdx)
		p.pos.MM[axisIdx] = actuator.ValNoCheck(axisIdx)
	}
	p.kin.CorrectStepOverflow(&p.pos, p.params)

	p.prevUnitVec = unitVec
	p.prevFeedrate = blk.FeedrateMMps
	p.prevValid = true
}

// capFeedrate limits the planar feedrate so no axis exceeds its own speed
// limit for this direction of travel.
func (p *Planner) capFeedrate(feedrate, moveDist float32, unitVec [axes.MaxAxes]float32, blk *block.Block) float32 {
	if moveDist <= 0 {
		// Non-planar move (rotation only, or stepwise): cap by the master
		// axis limit directly.
		maxSpeed := p.params.MaxSpeed(blk.AxisIdxWithMaxSteps)
		if feedrate > maxSpeed {
			return maxSpeed
		}
		return feedrate
	}
	for axisIdx := 0; axisIdx < p.params.NumAxes; axisIdx++ {
		component := math32.Abs(unitVec[axisIdx])
		if component <= 0 {
			continue
		}
		axisSpeed := feedrate * component
		if maxSpeed := p.params.MaxSpeed(axisIdx); axisSpeed > maxSpeed {
			feedrate = maxSpeed / component
		}
	}
	return feedrate
}

// junctionSpeed derives the maximum entry speed for a block from the angle
// between the previous direction of travel and the new one. The tighter the
// corner, the lower the speed the junction deviation allows.
func (p *Planner) junctionSpeed(unitVec [axes.MaxAxes]float32, feedrate float32, masterAxisIdx int) float32 {
	if !p.prevValid || p.pipe.Count() == 0 {
		return 0
	}

	var cosTheta float32
	for axisIdx := 0; axisIdx < p.params.NumAxes; axisIdx++ {
		cosTheta -= p.prevUnitVec[axisIdx] * unitVec[axisIdx]
	}

	// Near reversal: come to a stop at the junction.
	if cosTheta >= 0.95 {
		return 0
	}

	vmax := feedrate
	if p.prevFeedrate < vmax {
		vmax = p.prevFeedrate
	}
	if cosTheta > -0.95 {
		sinThetaD2 := math32.Sqrt(0.5 * (1 - cosTheta))
		denom := 1 - sinThetaD2
		if denom > 1e-6 {
			accel := p.params.MaxAcc(masterAxisIdx)
			vJunction := math32.Sqrt(accel * p.cfg.JunctionDeviationMM * sinThetaD2 / denom)
			if vJunction < vmax {
				vmax = vJunction
			}
		}
	}
	return vmax
}

// moveToSteps plans a stepwise move: the target is raw actuator steps and
// bypasses kinematics and splitting. Used for homing-style motion.
func (p *Planner) moveToSteps(args *robot.CommandArgs, feedrate float32) error {
	if !p.pipe.CanAccept() {
		return ErrBusy
	}

	var blk block.Block
	blk.Clear()

	anySteps := false
	var distSq float32
	for axisIdx := 0; axisIdx < p.params.NumAxes; axisIdx++ {
		if !args.PtMM.Valid(axisIdx) {
			continue
		}
		target := args.PtSteps.Val(axisIdx)
		delta := target
		if args.MoveType != robot.MoveTypeRelative {
			delta = target - p.pos.Steps[axisIdx]
		}
		if delta == 0 {
			continue
		}
		anySteps = true
		blk.SetStepsToTarget(axisIdx, delta)
		if p.params.IsPrimary(axisIdx) {
			d := float32(delta) / p.params.StepsPerUnit(axisIdx)
			distSq += d * d
		}
	}
	if !anySteps {
		return ErrMoveTooSmall
	}

	blk.MoveDistPrimaryAxesMM = math32.Sqrt(distSq)
	var unitVec [axes.MaxAxes]float32
	blk.FeedrateMMps = p.capFeedrate(feedrate, 0, unitVec, &blk)
	blk.MaxEntrySpeedMMps = 0
	blk.EndStopsToCheck = args.EndStops
	blk.NumberedCommandIndex = args.NumberedCommandIndex

	if tail := p.pipe.PeekNthFromTail(0); tail != nil && !tail.IsExecuting() {
		tail.BlockIsFollowed = true
	}
	p.pipe.Append(&blk)

	for axisIdx := 0; axisIdx < p.params.NumAxes; axisIdx++ {
		delta := blk.StepsToTarget(axisIdx)
		p.pos.Steps[axisIdx] += delta
		p.pos.MM[axisIdx] += float32(delta) / p.params.StepsPerUnit(axisIdx)
	}
	p.kin.CorrectStepOverflow(&p.pos, p.params)

	// Stepwise moves break the junction chain.
	p.prevValid = false

	p.recalculate(args.MoreMovesComing)
	return nil
}

// recalculate runs the backward/forward speed passes over the non-executing
// tail of the pipeline and publishes every block whose profile is final.
func (p *Planner) recalculate(moreMovesComing bool) {
	count := p.pipe.Count()
	if count == 0 {
		return
	}

	// Newest-first scan, stopping at the first executing block.
	tail := make([]*block.Block, 0, count)
	for i := 0; i < count; i++ {
		b := p.pipe.PeekNthFromTail(i)
		if b == nil || b.IsExecuting() {
			break
		}
		tail = append(tail, b)
	}
	if len(tail) == 0 {
		return
	}
	// Reverse to oldest-first.
	for i, j := 0, len(tail)-1; i < j; i, j = i+1, j-1 {
		tail[i], tail[j] = tail[j], tail[i]
	}

	// Speed entering the oldest re-plannable block: the exit speed of the
	// block before it (it may be executing, its profile is frozen).
	var entryFloor float32
	if prev := p.pipe.PeekNthFromTail(len(tail)); prev != nil {
		entryFloor = prev.ExitSpeedMMps
	}

	// Backward pass: cap entry speeds so every block can still brake to a
	// stop at the end of the chain.
	var exitCap float32
	for i := len(tail) - 1; i >= 0; i-- {
		b := tail[i]
		accel := p.params.MaxAcc(b.AxisIdxWithMaxSteps)
		entry := block.MaxAchievableSpeed(accel, exitCap, b.MoveDistPrimaryAxesMM)
		if b.MaxEntrySpeedMMps < entry {
			entry = b.MaxEntrySpeedMMps
		}
		if b.FeedrateMMps < entry {
			entry = b.FeedrateMMps
		}
		b.EntrySpeedMMps = entry
		exitCap = entry
	}

	// Forward pass: cap exit speeds by what acceleration can reach.
	entry := entryFloor
	for i, b := range tail {
		if entry < b.EntrySpeedMMps {
			b.EntrySpeedMMps = entry
		}
		accel := p.params.MaxAcc(b.AxisIdxWithMaxSteps)

		var exitTarget float32
		if i+1 < len(tail) {
			exitTarget = tail[i+1].EntrySpeedMMps
		}
		exit := block.MaxAchievableSpeed(accel, b.EntrySpeedMMps, b.MoveDistPrimaryAxesMM)
		if exitTarget < exit {
			exit = exitTarget
		}
		if b.FeedrateMMps < exit {
			exit = b.FeedrateMMps
		}
		b.ExitSpeedMMps = exit
		entry = exit
	}

	// Publish. The newest block stays pending while more moves are coming
	// so the next command can still raise its exit speed.
	for i, b := range tail {
		if i == len(tail)-1 && moreMovesComing {
			break
		}
		if b.PrepareForStepping(p.params) {
			b.SetCanExecute(true)
		}
	}
}
