// Package config loads robot configuration files: the robot shape, planner
// tuning and the per-axis physical limits and pin assignments.
package config

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/cgreening/RBotFirmware/pkg/axes"
	"github.com/cgreening/RBotFirmware/pkg/devices"
	"github.com/cgreening/RBotFirmware/pkg/kinematics"
)

// PinConfig maps one axis to its driver pins. -1 means not connected.
type PinConfig struct {
	Step int `yaml:"step" json:"step"`
	Dirn int `yaml:"dirn" json:"dirn"`

	EndStopMin      int  `yaml:"endStopMin" json:"endStopMin"`
	EndStopMinLevel bool `yaml:"endStopMinLevel" json:"endStopMinLevel"`
	EndStopMax      int  `yaml:"endStopMax" json:"endStopMax"`
	EndStopMaxLevel bool `yaml:"endStopMaxLevel" json:"endStopMaxLevel"`
}

// AxisConfig is the limits plus wiring of one axis.
type AxisConfig struct {
	axes.Param `yaml:",inline"`
	Pins       PinConfig `yaml:"pins" json:"pins"`
}

// RobotConfig is a robot description file.
type RobotConfig struct {
	Name  string           `yaml:"name" json:"name"`
	Shape kinematics.Shape `yaml:"shape" json:"shape"`

	BlockDistMM         float32 `yaml:"blockDistMM" json:"blockDistMM"`
	JunctionDeviationMM float32 `yaml:"junctionDeviation" json:"junctionDeviation"`
	PipelineLen         int     `yaml:"pipelineLen" json:"pipelineLen"`

	Axes []AxisConfig `yaml:"axes" json:"axes"`
}

// Load reads and validates a robot configuration file.
func Load(path string) (*RobotConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read robot config")
	}
	return Parse(data)
}

// Parse decodes and validates a robot configuration document.
func Parse(data []byte) (*RobotConfig, error) {
	var cfg RobotConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse robot config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem with the configuration, not just the
// first.
func (c *RobotConfig) Validate() error {
	var err error
	if _, ok := kinematics.ForShape(c.Shape); !ok {
		err = multierr.Append(err, errors.Errorf("unknown robot shape %q", c.Shape))
	}
	if len(c.Axes) < 1 || len(c.Axes) > axes.MaxAxes {
		err = multierr.Append(err, errors.Errorf("axis count %d out of range 1..%d", len(c.Axes), axes.MaxAxes))
	}
	for i, axis := range c.Axes {
		if axis.Pins.Step < 0 {
			err = multierr.Append(err, errors.Wrapf(devices.ErrInvalidPin, "axis %d: step pin %d", i, axis.Pins.Step))
		}
		if axis.Pins.Dirn < 0 {
			err = multierr.Append(err, errors.Wrapf(devices.ErrInvalidPin, "axis %d: dirn pin %d", i, axis.Pins.Dirn))
		}
	}
	err = multierr.Append(err, c.Params().Validate())
	return err
}

// Params builds the planner's axis limit set, with defaults filled in.
func (c *RobotConfig) Params() *axes.Params {
	params := make([]axes.Param, 0, len(c.Axes))
	for _, axis := range c.Axes {
		params = append(params, axis.Param)
	}
	return axes.NewParams(params...)
}

// Kinematics resolves the configured robot shape.
func (c *RobotConfig) Kinematics() (kinematics.Kinematics, error) {
	kin, ok := kinematics.ForShape(c.Shape)
	if !ok {
		return kinematics.Kinematics{}, errors.Errorf("unknown robot shape %q", c.Shape)
	}
	return kin, nil
}
