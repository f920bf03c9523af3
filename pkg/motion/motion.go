// Package motion assembles the motion core: the planner producing blocks,
// the pipeline buffering them and the actuator stepping them out. The
// Controller is the narrow surface a command interpreter drives.
package motion

import (
	"errors"
	"sync"

	"github.com/cgreening/RBotFirmware/pkg/axes"
	"github.com/cgreening/RBotFirmware/pkg/kinematics"
	. "github.com/cgreening/RBotFirmware/pkg/logger"
	"github.com/cgreening/RBotFirmware/pkg/motion/actuator"
	"github.com/cgreening/RBotFirmware/pkg/motion/pipeline"
	"github.com/cgreening/RBotFirmware/pkg/motion/planner"
	"github.com/cgreening/RBotFirmware/pkg/options"
	"github.com/cgreening/RBotFirmware/pkg/robot"
)

// ErrEndStopReached is returned for moves without an end-stop test while
// the end-stop interlock is pending acknowledgement.
var ErrEndStopReached = errors.New("end-stop reached, awaiting acknowledge")

// Config tunes the assembled motion core.
type Config struct {
	PipelineLen         int
	BlockDistMM         float32
	JunctionDeviationMM float32
	TraceLen            int
}

func DefaultConfig() Config {
	return Config{
		PipelineLen:         pipeline.DefaultLen,
		JunctionDeviationMM: planner.DefaultConfig().JunctionDeviationMM,
	}
}

func WithPipelineLen(n int) options.Option {
	return func(cfg interface{}) {
		cfg.(*Config).PipelineLen = n
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

func WithTrace(capacity int) options.Option {
	return func(cfg interface{}) {
		cfg.(*Config).TraceLen = capacity
	}
}

// Controller owns the full pipeline. Planner-side calls (MoveTo, Stop,
// Flush, SetPosition) are serialised by an internal mutex; the actuator
// tick runs unsynchronised against them as per the pipeline contract.
type Controller struct {
	mu       sync.Mutex
	params   *axes.Params
	pipe     *pipeline.Pipeline
	planner  *planner.Planner
	actuator *actuator.Actuator
}

func New(params *axes.Params, kin kinematics.Kinematics, pins [axes.MaxAxes]actuator.AxisPins, opts ...options.Option) *Controller {
	cfg := DefaultConfig()
	options.ApplyOptions(&cfg, opts...)
	if cfg.PipelineLen <= 0 {
		cfg.PipelineLen = pipeline.DefaultLen
	}

	pipe := pipeline.New(cfg.PipelineLen)
	var actOpts []options.Option
	if cfg.TraceLen > 0 {
		actOpts = append(actOpts, actuator.WithTrace(cfg.TraceLen))
	}
	return &Controller{
		params: params,
		pipe:   pipe,
		planner: planner.New(params, kin, pipe,
			planner.WithBlockDist(cfg.BlockDistMM),
			planner.WithJunctionDeviation(cfg.JunctionDeviationMM)),
		actuator: actuator.New(pipe, params, pins, actOpts...),
	}
}

// MoveTo plans one command. The command's pause flag is honoured before
// planning; the end-stop interlock refuses untested moves until
// acknowledged.
func (c *Controller) MoveTo(args *robot.CommandArgs) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if args.Pause {
		c.actuator.Pause(true)
	}

	if c.actuator.EndStopReached() && !args.EndStops.Any() {
		return ErrEndStopReached
	}

	err := c.planner.MoveTo(args)
	if err != nil && !errors.Is(err, planner.ErrMoveTooSmall) {
		Log.Debug().Err(err).Int("num", args.NumberedCommandIndex).Msg("move rejected")
	}
	return err
}

// CanAcceptCommand reports whether a single-block command would fit now.
func (c *Controller) CanAcceptCommand() bool {
	return c.pipe.CanAccept()
}

// IsIdle reports whether the pipeline is empty and the actuator is not
// executing.
func (c *Controller) IsIdle() bool {
	return c.actuator.IsIdle()
}

func (c *Controller) LastCompletedNumberedCommand() int {
	return c.actuator.LastCompletedNumberedCommand()
}

func (c *Controller) EndStopReached() bool {
	return c.actuator.EndStopReached()
}

func (c *Controller) AckEndStopReached() {
	c.actuator.AckEndStopReached()
}

func (c *Controller) Pause(pause bool) {
	c.actuator.Pause(pause)
}

// Stop drops every pending block. The block in flight finishes; a hard
// abort is Pause followed by Stop and a re-home.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pipe.Clear()
}

// Flush publishes a pending tail block with a stop at its end. Call from
// the owner's idle loop when no further moves are expected.
func (c *Controller) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.planner.Flush()
}

// SetPosition overrides the commanded position (homing). The pipeline must
// be idle.
func (c *Controller) SetPosition(actuatorMM axes.Floats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.planner.SetPosition(actuatorMM)
}

// Position returns the commanded position. Planner context only.
func (c *Controller) Position() *axes.Position {
	return c.planner.Position()
}

// Tick advances the actuator by one tick interval. Bind it to a timer with
// a Ticker, or call directly in tests and cooperative loops.
func (c *Controller) Tick() {
	c.actuator.Tick()
}

// Actuator exposes the consumer side for diagnostics.
func (c *Controller) Actuator() *actuator.Actuator {
	return c.actuator
}
