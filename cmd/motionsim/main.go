// motionsim runs the motion core against in-memory pins: it loads a robot
// configuration, executes a scripted square pattern and reports the step
// totals and trace statistics. Useful for checking planner tuning without
// hardware.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cgreening/RBotFirmware/pkg/axes"
	"github.com/cgreening/RBotFirmware/pkg/config"
	"github.com/cgreening/RBotFirmware/pkg/devices"
	. "github.com/cgreening/RBotFirmware/pkg/logger"
	"github.com/cgreening/RBotFirmware/pkg/motion"
	"github.com/cgreening/RBotFirmware/pkg/motion/actuator"
	"github.com/cgreening/RBotFirmware/pkg/motion/planner"
	"github.com/cgreening/RBotFirmware/pkg/robot"
)

var (
	configPath = flag.String("config", "", "Robot configuration file (yaml)")
	sideMM     = flag.Float64("side", 20, "Side length of the square pattern in mm")
	feedrate   = flag.Float64("feedrate", 25, "Feedrate in mm/s")
	traceLen   = flag.Int("trace", 1024, "Instrumentation trace length (0 disables)")
)

func main() {
	flag.Parse()

	cfg := defaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			Log.Fatal().Err(err).Str("path", *configPath).Msg("load robot config")
		}
		cfg = loaded
	}

	kin, err := cfg.Kinematics()
	if err != nil {
		Log.Fatal().Err(err).Msg("resolve kinematics")
	}
	params := cfg.Params()

	var pins [axes.MaxAxes]actuator.AxisPins
	stepPins := make([]*devices.MemPin, len(cfg.Axes))
	for i := range cfg.Axes {
		stepPins[i] = devices.NewMemPin()
		pins[i] = actuator.AxisPins{
			Step: stepPins[i],
			Dirn: devices.NewMemPin(),
		}
	}

	ctrl := motion.New(params, kin, pins,
		motion.WithBlockDist(cfg.BlockDistMM),
		motion.WithJunctionDeviation(cfg.JunctionDeviationMM),
		motion.WithPipelineLen(cfg.PipelineLen),
		motion.WithTrace(*traceLen),
	)

	ticker := motion.NewTicker(clock.New(), ctrl.Tick)
	ticker.Start()
	defer ticker.Stop()

	side := float32(*sideMM)
	corners := [][2]float32{
		{side, 0},
		{side, side},
		{0, side},
		{0, 0},
	}

	start := time.Now()
	for i, corner := range corners {
		args := robot.NewCommandArgs()
		args.MoveType = robot.MoveTypeAbsolute
		args.SetAxisValMM(0, corner[0], true)
		args.SetAxisValMM(1, corner[1], true)
		args.SetFeedrate(float32(*feedrate))
		args.MoreMovesComing = i < len(corners)-1
		args.NumberedCommandIndex = i + 1

		for {
			err := ctrl.MoveTo(args)
			if err == nil {
				break
			}
			if !errors.Is(err, planner.ErrBusy) {
				Log.Fatal().Err(err).Int("corner", i).Msg("move rejected")
			}
			time.Sleep(10 * time.Millisecond)
		}
		if data, err := json.Marshal(args); err == nil {
			Log.Info().Str("args", string(data)).Msg("queued")
		}
	}

	for !ctrl.IsIdle() {
		time.Sleep(20 * time.Millisecond)
	}
	elapsed := time.Since(start)

	for i := range cfg.Axes {
		Log.Info().
			Int("axis", i).
			Uint32("pulses", stepPins[i].Rises()).
			Float32("posMM", ctrl.Position().MM[i]).
			Msg("axis done")
	}
	if trace := ctrl.Actuator().Trace(); trace != nil {
		Log.Info().Int("events", trace.Total()).Msg("trace")
	}
	Log.Info().
		Dur("elapsed", elapsed).
		Int("lastCompleted", ctrl.LastCompletedNumberedCommand()).
		Msg("pattern complete")
}

func defaultConfig() *config.RobotConfig {
	return &config.RobotConfig{
		Name:  "sim-xybot",
		Shape: "cartesian",
		Axes: []config.AxisConfig{
			{
				Param: axes.Param{
					MaxSpeedMMps: 100,
					MaxAccMMps2:  100,
					StepsPerMM:   80,
					IsPrimary:    true,
				},
				Pins: config.PinConfig{Step: 2, Dirn: 3, EndStopMin: -1, EndStopMax: -1},
			},
			{
				Param: axes.Param{
					MaxSpeedMMps: 100,
					MaxAccMMps2:  100,
					StepsPerMM:   80,
					IsPrimary:    true,
				},
				Pins: config.PinConfig{Step: 4, Dirn: 5, EndStopMin: -1, EndStopMax: -1},
			},
		},
	}
}
