package axes

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Default limits applied when an axis config leaves a field at zero.
const (
	DefaultMaxSpeedMMps = 100
	DefaultMaxAccMMps2  = 100
	DefaultStepsPerMM   = 80
)

// Param holds the static physical limits of one axis. Units are mm except on
// rotational axes, where "mm" reads as the axis unit (typically degrees) and
// UnitsPerRot gives the span of one full rotation.
type Param struct {
	MaxSpeedMMps float32 `yaml:"maxSpeed" json:"maxSpeed"`
	MaxAccMMps2  float32 `yaml:"maxAcc" json:"maxAcc"`
	StepsPerMM   float32 `yaml:"stepsPerMM" json:"stepsPerMM"`
	MinVal       float32 `yaml:"minVal" json:"minVal"`
	MaxVal       float32 `yaml:"maxVal" json:"maxVal"`
	MinValValid  bool    `yaml:"minValValid" json:"minValValid"`
	MaxValValid  bool    `yaml:"maxValValid" json:"maxValValid"`

	// IsPrimary marks axes that contribute to the euclidean move distance
	// used for feedrate and acceleration planning.
	IsPrimary bool `yaml:"isPrimary" json:"isPrimary"`

	// ContinuousRotation marks axes that may wrap (sand table rotation).
	// Step counters on such axes are folded back by UnitsPerRot after each
	// enqueued move.
	ContinuousRotation bool    `yaml:"continuousRotation" json:"continuousRotation"`
	UnitsPerRot        float32 `yaml:"unitsPerRot" json:"unitsPerRot"`

	// DirnReversed flips the direction pin sense for the axis.
	DirnReversed bool `yaml:"dirnReversed" json:"dirnReversed"`
}

// Params is the full set of axis limits for a robot.
type Params struct {
	NumAxes int
	Axes    [MaxAxes]Param
}

// NewParams fills a Params from the given per-axis limits, applying defaults
// for fields left at zero.
func NewParams(params ...Param) *Params {
	p := &Params{}
	for i, prm := range params {
		if i >= MaxAxes {
			break
		}
		if prm.MaxSpeedMMps == 0 {
			prm.MaxSpeedMMps = DefaultMaxSpeedMMps
		}
		if prm.MaxAccMMps2 == 0 {
			prm.MaxAccMMps2 = DefaultMaxAccMMps2
		}
		if prm.StepsPerMM == 0 {
			prm.StepsPerMM = DefaultStepsPerMM
		}
		p.Axes[i] = prm
		p.NumAxes = i + 1
	}
	return p
}

func (p *Params) MaxSpeed(axisIdx int) float32 {
	if axisIdx < 0 || axisIdx >= p.NumAxes {
		return DefaultMaxSpeedMMps
	}
	return p.Axes[axisIdx].MaxSpeedMMps
}

func (p *Params) MaxAcc(axisIdx int) float32 {
	if axisIdx < 0 || axisIdx >= p.NumAxes {
		return DefaultMaxAccMMps2
	}
	return p.Axes[axisIdx].MaxAccMMps2
}

func (p *Params) StepsPerUnit(axisIdx int) float32 {
	if axisIdx < 0 || axisIdx >= p.NumAxes {
		return DefaultStepsPerMM
	}
	return p.Axes[axisIdx].StepsPerMM
}

func (p *Params) IsPrimary(axisIdx int) bool {
	if axisIdx < 0 || axisIdx >= p.NumAxes {
		return false
	}
	return p.Axes[axisIdx].IsPrimary
}

// ApplyBounds checks every valid axis of pt against the soft limits. When
// clamp is set, out-of-bounds values are pulled back to the limit; the
// return value still reports the original violation.
func (p *Params) ApplyBounds(pt *Floats, clamp bool) bool {
	inBounds := true
	for axisIdx := 0; axisIdx < p.NumAxes; axisIdx++ {
		if !pt.Valid(axisIdx) {
			continue
		}
		prm := &p.Axes[axisIdx]
		val := pt.ValNoCheck(axisIdx)
		if prm.MinValValid && val < prm.MinVal {
			inBounds = false
			if clamp {
				pt.SetVal(axisIdx, prm.MinVal)
			}
		}
		if prm.MaxValValid && val > prm.MaxVal {
			inBounds = false
			if clamp {
				pt.SetVal(axisIdx, prm.MaxVal)
			}
		}
	}
	return inBounds
}

// Validate checks the limits are usable for motion planning. All problems
// are reported, not just the first.
func (p *Params) Validate() error {
	var err error
	if p.NumAxes < 1 || p.NumAxes > MaxAxes {
		err = multierr.Append(err, errors.Errorf("numAxes %d out of range 1..%d", p.NumAxes, MaxAxes))
	}
	for axisIdx := 0; axisIdx < p.NumAxes && axisIdx < MaxAxes; axisIdx++ {
		prm := &p.Axes[axisIdx]
		if prm.MaxSpeedMMps <= 0 {
			err = multierr.Append(err, errors.Errorf("axis %d: maxSpeed must be positive", axisIdx))
		}
		if prm.MaxAccMMps2 <= 0 {
			err = multierr.Append(err, errors.Errorf("axis %d: maxAcc must be positive", axisIdx))
		}
		if prm.StepsPerMM <= 0 {
			err = multierr.Append(err, errors.Errorf("axis %d: stepsPerMM must be positive", axisIdx))
		}
		if prm.MinValValid && prm.MaxValValid && prm.MinVal >= prm.MaxVal {
			err = multierr.Append(err, errors.Errorf("axis %d: minVal %v not below maxVal %v", axisIdx, prm.MinVal, prm.MaxVal))
		}
		if prm.ContinuousRotation && prm.UnitsPerRot <= 0 {
			err = multierr.Append(err, errors.Errorf("axis %d: continuous rotation needs unitsPerRot", axisIdx))
		}
	}
	return err
}
